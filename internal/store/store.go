package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/certifychain/server/internal/model"
)

// IdentityStore persists identities, wallet nonces and sessions.
//
// Unique keys: wallet address, email. Violations return apperr.ErrConflict.
type IdentityStore interface {
	CreateIdentity(ctx context.Context, identity model.Identity) (model.Identity, error)
	GetIdentity(ctx context.Context, id uuid.UUID) (model.Identity, error)
	GetIdentityByEmail(ctx context.Context, email string) (model.Identity, error)
	GetIdentityByWallet(ctx context.Context, wallet string) (model.Identity, error)
	// UpdateIdentity applies fn to the current record and persists the result atomically.
	UpdateIdentity(ctx context.Context, id uuid.UUID, fn func(*model.Identity) error) (model.Identity, error)
	DeleteIdentity(ctx context.Context, id uuid.UUID) error

	// SetNonce stores nonce on the identity owning wallet, creating a
	// placeholder identity (given role) when none exists. Any previous nonce is replaced.
	SetNonce(ctx context.Context, wallet, nonce string, role model.Role, now time.Time) (model.Identity, error)
	// ConsumeNonce clears the nonce and sets the last login time if and only if
	// the stored nonce equals nonce and was issued after issuedAfter. It is a
	// single atomic compare-and-clear; otherwise apperr.ErrUnauthorized.
	ConsumeNonce(ctx context.Context, wallet, nonce string, issuedAfter, now time.Time) (model.Identity, error)

	CreateSession(ctx context.Context, session model.Session) error
	GetSession(ctx context.Context, id uuid.UUID) (model.Session, error)
	RevokeSession(ctx context.Context, id uuid.UUID, at time.Time) error
}

// InstitutionFilter narrows institution listings. Zero values match everything.
type InstitutionFilter struct {
	Status     model.InstitutionStatus
	Country    string
	Type       model.InstitutionType
	ActiveOnly bool
}

// InstitutionStore persists institutions.
//
// Unique keys: wallet address, registration number.
type InstitutionStore interface {
	CreateInstitution(ctx context.Context, inst model.Institution) (model.Institution, error)
	GetInstitution(ctx context.Context, id uuid.UUID) (model.Institution, error)
	GetInstitutionByWallet(ctx context.Context, wallet string) (model.Institution, error)
	UpdateInstitution(ctx context.Context, id uuid.UUID, fn func(*model.Institution) error) (model.Institution, error)
	// ListInstitutions returns matches ordered by name.
	ListInstitutions(ctx context.Context, filter InstitutionFilter, page model.Page) ([]model.Institution, int, error)
	IncrementCredentialsIssued(ctx context.Context, id uuid.UUID) error
}

// CredentialFilter narrows credential listings. Zero values match everything.
type CredentialFilter struct {
	StudentWallet     string
	InstitutionWallet string
	Statuses          []model.CredentialStatus
}

// CreateOptions controls credential creation.
type CreateOptions struct {
	// AssignTokenID allocates the next token id in the same atomic step as the insert.
	AssignTokenID bool
}

// CredentialStore persists credentials.
//
// Unique keys: token id, document hash, metadata hash.
type CredentialStore interface {
	CreateCredential(ctx context.Context, cred model.Credential, opts CreateOptions) (model.Credential, error)
	GetCredential(ctx context.Context, id uuid.UUID) (model.Credential, error)
	GetCredentialByTokenID(ctx context.Context, tokenID int64) (model.Credential, error)
	// GetCredentialByHash matches the document hash or the metadata hash.
	GetCredentialByHash(ctx context.Context, hash string) (model.Credential, error)
	UpdateCredential(ctx context.Context, id uuid.UUID, fn func(*model.Credential) error) (model.Credential, error)
	// ListCredentials returns matches newest first by issue date when
	// filtering by student, otherwise newest first by creation time.
	ListCredentials(ctx context.Context, filter CredentialFilter, page model.Page) ([]model.Credential, int, error)
	// AllCredentials returns every match without paging (for statistics).
	AllCredentials(ctx context.Context, filter CredentialFilter) ([]model.Credential, error)
	// RecordVerification increments the verification counter and sets the last verified time.
	RecordVerification(ctx context.Context, id uuid.UUID, at time.Time) (model.Credential, error)
	DeleteCredential(ctx context.Context, id uuid.UUID) error
}

// VerificationLog is the append-only verification audit trail.
type VerificationLog interface {
	AppendVerification(ctx context.Context, entry model.VerificationLogEntry) (model.VerificationLogEntry, error)
	// ListVerifications returns entries for a token id, newest first.
	ListVerifications(ctx context.Context, tokenID int64, page model.Page) ([]model.VerificationLogEntry, int, error)
	// CountVerifications counts entries created at or after since (zero time counts all).
	CountVerifications(ctx context.Context, since time.Time) (int, error)
	// DailyVerificationStats groups entries created at or after since by
	// calendar day in loc, oldest day first.
	DailyVerificationStats(ctx context.Context, since time.Time, loc *time.Location) ([]model.DailyVerificationStat, error)
}

// Store is the full storage capability implemented by every backend.
type Store interface {
	IdentityStore
	InstitutionStore
	CredentialStore
	VerificationLog
	Close() error
}
