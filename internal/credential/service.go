// Package credential implements the credential lifecycle: creation by a
// verified institution, on-chain confirmation, revocation and read projections.
//
// States move forward only:
//
//	draft -> pending -> issued -> revoked
//	draft ----------->  issued
//
// Expired is never stored. It is derived from the expiry date whenever a
// status is reported.
package credential

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/certifychain/server/internal/apperr"
	"github.com/certifychain/server/internal/log"
	"github.com/certifychain/server/internal/model"
	"github.com/certifychain/server/internal/store"
)

const maxDescriptionLength = 500

// Gate decides whether a principal may create credentials.
type Gate interface {
	RequireIssuer(ctx context.Context, p model.Principal) (model.Institution, error)
}

// IssuanceCounter tracks how many credentials an institution has issued.
type IssuanceCounter interface {
	RecordIssued(ctx context.Context, institutionID uuid.UUID) error
}

// StudentDirectory resolves student identities for linking.
type StudentDirectory interface {
	FindByWallet(ctx context.Context, wallet string) (model.Identity, error)
	FindByEmail(ctx context.Context, email string) (model.Identity, error)
}

// Options configures a Service.
type Options struct {
	// AssignTokenID allocates a token id when the credential is created
	// instead of waiting for the chain to report one.
	AssignTokenID bool
	Now           func() time.Time
}

// Service owns credential writes.
type Service struct {
	store         store.CredentialStore
	gate          Gate
	counter       IssuanceCounter
	students      StudentDirectory
	assignTokenID bool
	now           func() time.Time
	logger        *logrus.Entry
}

// NewService creates a new credential service
func NewService(st store.CredentialStore, gate Gate, counter IssuanceCounter, students StudentDirectory, opts Options) *Service {
	s := &Service{
		store:         st,
		gate:          gate,
		counter:       counter,
		students:      students,
		assignTokenID: opts.AssignTokenID,
		now:           opts.Now,
		logger:        log.Logger("credential"),
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// CreateParams is the credential payload supplied by an institution.
type CreateParams struct {
	StudentWallet  string
	StudentEmail   string
	StudentName    string
	StudentID      string
	CredentialType model.CredentialType
	CourseName     string
	Grade          string
	Description    string
	IssueDate      time.Time
	ExpiryDate     *time.Time
	DocumentHash   string
	MetadataHash   string
	MetadataURL    string
}

// IssuanceParams carries the on-chain confirmation of a credential.
type IssuanceParams struct {
	TokenID         int64
	TransactionHash string
	BlockNumber     *int64
}

func (p *CreateParams) trim() {
	p.StudentWallet = strings.TrimSpace(p.StudentWallet)
	p.StudentEmail = model.NormalizeEmail(p.StudentEmail)
	p.StudentName = strings.TrimSpace(p.StudentName)
	p.StudentID = strings.TrimSpace(p.StudentID)
	p.CourseName = strings.TrimSpace(p.CourseName)
	p.Grade = strings.TrimSpace(p.Grade)
	p.DocumentHash = strings.TrimSpace(p.DocumentHash)
	p.MetadataHash = strings.TrimSpace(p.MetadataHash)
}

func (p CreateParams) validate() error {
	var v apperr.Collector
	if p.StudentWallet == "" && p.StudentEmail == "" {
		v.Add("studentWallet", "student wallet or email is required")
	}
	if p.StudentWallet != "" && !model.ValidWallet(p.StudentWallet) {
		v.Add("studentWallet", "must be a 0x-prefixed 20-byte hex address")
	}
	if p.StudentEmail != "" {
		if _, err := mail.ParseAddress(p.StudentEmail); err != nil {
			v.Add("studentEmail", "must be a valid email address")
		}
	}
	v.Require("studentName", p.StudentName)
	v.Require("studentId", p.StudentID)
	v.Require("courseName", p.CourseName)
	if !p.CredentialType.Valid() {
		v.Add("credentialType", "must be one of degree, masters, phd, diploma, certificate, transcript, course, professional")
	}
	if p.IssueDate.IsZero() {
		v.Add("issueDate", "is required")
	}
	if p.ExpiryDate != nil && !p.IssueDate.IsZero() && !p.ExpiryDate.After(p.IssueDate) {
		v.Add("expiryDate", "must be after the issue date")
	}
	if len(p.Description) > maxDescriptionLength {
		v.Add("description", "must be at most 500 characters")
	}
	return v.Err()
}

// Create validates p and stores a draft credential for the principal's
// institution, which must pass the issuer gate.
func (s *Service) Create(ctx context.Context, actor model.Principal, p CreateParams) (model.Credential, error) {
	inst, err := s.gate.RequireIssuer(ctx, actor)
	if err != nil {
		return model.Credential{}, err
	}
	p.trim()
	if err := p.validate(); err != nil {
		return model.Credential{}, err
	}

	cred := model.Credential{
		InstitutionID:     inst.ID,
		InstitutionWallet: inst.WalletAddress,
		StudentWallet:     model.NormalizeWallet(p.StudentWallet),
		StudentEmail:      p.StudentEmail,
		CredentialType:    p.CredentialType,
		CourseName:        p.CourseName,
		StudentName:       p.StudentName,
		StudentID:         p.StudentID,
		Grade:             p.Grade,
		Description:       p.Description,
		IssueDate:         p.IssueDate.UTC(),
		DocumentHash:      p.DocumentHash,
		MetadataHash:      p.MetadataHash,
		MetadataURL:       p.MetadataURL,
		Status:            model.StatusDraft,
	}
	if p.ExpiryDate != nil {
		expiry := p.ExpiryDate.UTC()
		cred.ExpiryDate = &expiry
	}
	if err := s.linkStudent(ctx, &cred); err != nil {
		return model.Credential{}, err
	}

	created, err := s.store.CreateCredential(ctx, cred, store.CreateOptions{AssignTokenID: s.assignTokenID})
	if err != nil {
		return model.Credential{}, err
	}
	fields := logrus.Fields{
		"credential_id":  created.ID,
		"institution_id": inst.ID,
		"type":           created.CredentialType,
	}
	if created.TokenID != nil {
		fields["token_id"] = *created.TokenID
	}
	s.logger.WithFields(fields).Info("Credential created")
	return s.present(created), nil
}

// linkStudent attaches a matching student identity. When only an email was
// given and the identity has a wallet, that wallet is used.
func (s *Service) linkStudent(ctx context.Context, cred *model.Credential) error {
	var (
		student model.Identity
		err     error
	)
	switch {
	case cred.StudentWallet != "":
		student, err = s.students.FindByWallet(ctx, cred.StudentWallet)
	default:
		student, err = s.students.FindByEmail(ctx, cred.StudentEmail)
	}
	if apperr.HasCode(err, apperr.CodeNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	id := student.ID
	cred.StudentIdentityID = &id
	if cred.StudentWallet == "" {
		cred.StudentWallet = student.WalletAddress
	}
	return nil
}

func requireOwner(actor model.Principal, c *model.Credential) error {
	if actor.WalletAddress == "" || model.NormalizeWallet(actor.WalletAddress) != c.InstitutionWallet {
		return apperr.New(apperr.CodeForbidden, "only the issuing institution may modify this credential")
	}
	return nil
}

// Submit marks a draft as sent to the chain and awaiting confirmation.
func (s *Service) Submit(ctx context.Context, actor model.Principal, id uuid.UUID) (model.Credential, error) {
	updated, err := s.store.UpdateCredential(ctx, id, func(c *model.Credential) error {
		if err := requireOwner(actor, c); err != nil {
			return err
		}
		if c.Status != model.StatusDraft {
			return apperr.Newf(apperr.CodeConflict, "cannot submit a %s credential", c.Status)
		}
		c.Status = model.StatusPending
		return nil
	})
	if err != nil {
		return model.Credential{}, err
	}
	s.logger.WithField("credential_id", id).Info("Credential submitted")
	return s.present(updated), nil
}

// RecordIssuance applies the issued transition with the chain confirmation
// data and bumps the institution's issued counter.
func (s *Service) RecordIssuance(ctx context.Context, actor model.Principal, id uuid.UUID, p IssuanceParams) (model.Credential, error) {
	p.TransactionHash = strings.TrimSpace(p.TransactionHash)
	var v apperr.Collector
	if p.TokenID <= 0 {
		v.Add("tokenId", "must be a positive integer")
	}
	v.Require("transactionHash", p.TransactionHash)
	if p.BlockNumber != nil && *p.BlockNumber < 0 {
		v.Add("blockNumber", "must not be negative")
	}
	if err := v.Err(); err != nil {
		return model.Credential{}, err
	}

	updated, err := s.store.UpdateCredential(ctx, id, func(c *model.Credential) error {
		if err := requireOwner(actor, c); err != nil {
			return err
		}
		switch c.Status {
		case model.StatusIssued:
			return apperr.New(apperr.CodeConflict, "credential is already issued")
		case model.StatusRevoked:
			return apperr.New(apperr.CodeConflict, "credential is revoked")
		}
		if c.TokenID != nil && *c.TokenID != p.TokenID {
			return apperr.Newf(apperr.CodeConflict, "credential was allocated token id %d", *c.TokenID)
		}
		tokenID := p.TokenID
		c.TokenID = &tokenID
		c.TransactionHash = p.TransactionHash
		c.BlockNumber = p.BlockNumber
		c.Status = model.StatusIssued
		return nil
	})
	if err != nil {
		return model.Credential{}, err
	}
	if err := s.counter.RecordIssued(ctx, updated.InstitutionID); err != nil {
		// the credential is issued; a lost counter bump only skews statistics
		s.logger.WithError(err).WithField("institution_id", updated.InstitutionID).Error("Failed to bump issued counter")
	}
	s.logger.WithFields(logrus.Fields{
		"credential_id": id,
		"token_id":      p.TokenID,
		"tx_hash":       p.TransactionHash,
	}).Info("Credential issued")
	return s.present(updated), nil
}

// Revoke applies the revoked transition. Revocation is terminal.
func (s *Service) Revoke(ctx context.Context, actor model.Principal, id uuid.UUID, reason string) (model.Credential, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return model.Credential{}, apperr.Validation(apperr.Field("reason", "is required"))
	}
	now := s.now()
	updated, err := s.store.UpdateCredential(ctx, id, func(c *model.Credential) error {
		if err := requireOwner(actor, c); err != nil {
			return err
		}
		switch c.Status {
		case model.StatusRevoked:
			return apperr.New(apperr.CodeConflict, "credential is already revoked")
		case model.StatusIssued:
		default:
			return apperr.Newf(apperr.CodeConflict, "cannot revoke a %s credential", c.Status)
		}
		c.Status = model.StatusRevoked
		c.RevocationReason = reason
		c.RevokedAt = &now
		return nil
	})
	if err != nil {
		return model.Credential{}, err
	}
	s.logger.WithFields(logrus.Fields{"credential_id": id, "actor": actor.IdentityID}).Warn("Credential revoked")
	return s.present(updated), nil
}

// Delete hard-deletes a credential. Only administrators may do this.
func (s *Service) Delete(ctx context.Context, actor model.Principal, id uuid.UUID) error {
	if !actor.IsAdmin() {
		return apperr.New(apperr.CodeForbidden, "admin role required")
	}
	if err := s.store.DeleteCredential(ctx, id); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{"credential_id": id, "actor": actor.IdentityID}).Warn("Credential deleted")
	return nil
}

// GetByID returns a credential with its derived status.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (model.Credential, error) {
	c, err := s.store.GetCredential(ctx, id)
	if err != nil {
		return model.Credential{}, err
	}
	return s.present(c), nil
}

// GetByToken returns the credential holding tokenID.
func (s *Service) GetByToken(ctx context.Context, tokenID int64) (model.Credential, error) {
	if tokenID <= 0 {
		return model.Credential{}, apperr.Validation(apperr.Field("tokenId", "must be a positive integer"))
	}
	c, err := s.store.GetCredentialByTokenID(ctx, tokenID)
	if err != nil {
		return model.Credential{}, err
	}
	return s.present(c), nil
}

// present reports the derived status.
func (s *Service) present(c model.Credential) model.Credential {
	c.Status = c.EffectiveStatus(s.now())
	return c
}

func (s *Service) presentAll(items []model.Credential) []model.Credential {
	out := make([]model.Credential, len(items))
	for i, c := range items {
		out[i] = s.present(c)
	}
	return out
}
