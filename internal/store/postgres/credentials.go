package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/certifychain/server/internal/apperr"
	"github.com/certifychain/server/internal/model"
	"github.com/certifychain/server/internal/store"
)

const credentialColumns = `id, institution_id, institution_wallet, student_identity_id, student_wallet,
	student_email, credential_type, course_name, student_name, student_number, grade, description,
	issue_date, expiry_date, document_hash, metadata_hash, metadata_url, status, revocation_reason,
	revoked_at, verification_count, last_verified_at, token_id, transaction_hash, block_number,
	created_at, updated_at`

const credentialNotFound = "credential not found"

// maxTokenAttempts bounds how many sequence values are skipped when they
// collide with externally recorded token ids.
const maxTokenAttempts = 16

func scanCredential(row scanner) (model.Credential, error) {
	var (
		c                         model.Credential
		student                   uuid.NullUUID
		credType, status          string
		expiry, revoked, verified sql.NullTime
		docHash, metaHash         sql.NullString
		tokenID, block            sql.NullInt64
	)
	err := row.Scan(&c.ID, &c.InstitutionID, &c.InstitutionWallet, &student, &c.StudentWallet,
		&c.StudentEmail, &credType, &c.CourseName, &c.StudentName, &c.StudentID, &c.Grade, &c.Description,
		&c.IssueDate, &expiry, &docHash, &metaHash, &c.MetadataURL, &status, &c.RevocationReason,
		&revoked, &c.VerificationCount, &verified, &tokenID, &c.TransactionHash, &block,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return model.Credential{}, err
	}
	if student.Valid {
		id := student.UUID
		c.StudentIdentityID = &id
	}
	c.CredentialType = model.CredentialType(credType)
	c.Status = model.CredentialStatus(status)
	c.IssueDate = c.IssueDate.UTC()
	c.ExpiryDate = timePtr(expiry)
	c.DocumentHash = docHash.String
	c.MetadataHash = metaHash.String
	c.RevokedAt = timePtr(revoked)
	c.LastVerifiedAt = timePtr(verified)
	c.TokenID = int64Ptr(tokenID)
	c.BlockNumber = int64Ptr(block)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func normalizeCredential(c *model.Credential) {
	c.InstitutionWallet = model.NormalizeWallet(c.InstitutionWallet)
	c.StudentWallet = model.NormalizeWallet(c.StudentWallet)
	c.StudentEmail = model.NormalizeEmail(c.StudentEmail)
}

// CreateCredential implements store.CredentialStore. With AssignTokenID the
// id comes from credential_token_seq, which is atomic across connections.
func (s *Store) CreateCredential(ctx context.Context, cred model.Credential, opts store.CreateOptions) (model.Credential, error) {
	normalizeCredential(&cred)
	if cred.ID == uuid.Nil {
		cred.ID = uuid.New()
	}
	now := s.now()
	cred.CreatedAt = now
	cred.UpdatedAt = now

	for attempt := 1; ; attempt++ {
		if opts.AssignTokenID {
			var next int64
			if err := s.db.QueryRowContext(ctx, `SELECT nextval('credential_token_seq')`).Scan(&next); err != nil {
				return model.Credential{}, translate(err, credentialNotFound)
			}
			cred.TokenID = &next
		}
		created, err := s.insertCredential(ctx, cred)
		if err == nil {
			return created, nil
		}
		if opts.AssignTokenID && attempt < maxTokenAttempts && isUniqueViolation(err, "credentials_token_id_key") {
			continue
		}
		return model.Credential{}, translate(err, credentialNotFound)
	}
}

func (s *Store) insertCredential(ctx context.Context, c model.Credential) (model.Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO credentials (`+credentialColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19,
			$20, $21, $22, $23, $24, $25, $26, $27)
		RETURNING `+credentialColumns,
		c.ID, c.InstitutionID, c.InstitutionWallet, nullUUID(c.StudentIdentityID), c.StudentWallet,
		c.StudentEmail, string(c.CredentialType), c.CourseName, c.StudentName, c.StudentID, c.Grade,
		c.Description, c.IssueDate, c.ExpiryDate, nullIfEmpty(c.DocumentHash), nullIfEmpty(c.MetadataHash),
		c.MetadataURL, string(c.Status), c.RevocationReason, c.RevokedAt, c.VerificationCount,
		c.LastVerifiedAt, c.TokenID, c.TransactionHash, c.BlockNumber, c.CreatedAt, c.UpdatedAt,
	)
	return scanCredential(row)
}

func (s *Store) getCredentialWhere(ctx context.Context, where string, args ...any) (model.Credential, error) {
	c, err := scanCredential(s.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE `+where+` LIMIT 1`, args...))
	if err != nil {
		return model.Credential{}, translate(err, credentialNotFound)
	}
	return c, nil
}

// GetCredential implements store.CredentialStore
func (s *Store) GetCredential(ctx context.Context, id uuid.UUID) (model.Credential, error) {
	return s.getCredentialWhere(ctx, "id = $1", id)
}

// GetCredentialByTokenID implements store.CredentialStore
func (s *Store) GetCredentialByTokenID(ctx context.Context, tokenID int64) (model.Credential, error) {
	return s.getCredentialWhere(ctx, "token_id = $1", tokenID)
}

// GetCredentialByHash implements store.CredentialStore
func (s *Store) GetCredentialByHash(ctx context.Context, hash string) (model.Credential, error) {
	if hash == "" {
		return model.Credential{}, apperr.New(apperr.CodeNotFound, credentialNotFound)
	}
	return s.getCredentialWhere(ctx, "document_hash = $1 OR metadata_hash = $1", hash)
}

// UpdateCredential implements store.CredentialStore
func (s *Store) UpdateCredential(ctx context.Context, id uuid.UUID, fn func(*model.Credential) error) (model.Credential, error) {
	var updated model.Credential
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := scanCredential(tx.QueryRowContext(ctx,
			`SELECT `+credentialColumns+` FROM credentials WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return translate(err, credentialNotFound)
		}
		if err := fn(&current); err != nil {
			return err
		}
		normalizeCredential(&current)
		c := current
		row := tx.QueryRowContext(ctx, `
			UPDATE credentials SET
				institution_id = $2, institution_wallet = $3, student_identity_id = $4, student_wallet = $5,
				student_email = $6, credential_type = $7, course_name = $8, student_name = $9,
				student_number = $10, grade = $11, description = $12, issue_date = $13, expiry_date = $14,
				document_hash = $15, metadata_hash = $16, metadata_url = $17, status = $18,
				revocation_reason = $19, revoked_at = $20, verification_count = $21, last_verified_at = $22,
				token_id = $23, transaction_hash = $24, block_number = $25, updated_at = $26
			WHERE id = $1
			RETURNING `+credentialColumns,
			id, c.InstitutionID, c.InstitutionWallet, nullUUID(c.StudentIdentityID), c.StudentWallet,
			c.StudentEmail, string(c.CredentialType), c.CourseName, c.StudentName,
			c.StudentID, c.Grade, c.Description, c.IssueDate, c.ExpiryDate,
			nullIfEmpty(c.DocumentHash), nullIfEmpty(c.MetadataHash), c.MetadataURL, string(c.Status),
			c.RevocationReason, c.RevokedAt, c.VerificationCount, c.LastVerifiedAt,
			c.TokenID, c.TransactionHash, c.BlockNumber, s.now(),
		)
		updated, err = scanCredential(row)
		return translate(err, credentialNotFound)
	})
	if err != nil {
		return model.Credential{}, err
	}
	return updated, nil
}

func credentialWhere(filter store.CredentialFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if filter.StudentWallet != "" {
		args = append(args, model.NormalizeWallet(filter.StudentWallet))
		conds = append(conds, fmt.Sprintf("student_wallet = $%d", len(args)))
	}
	if filter.InstitutionWallet != "" {
		args = append(args, model.NormalizeWallet(filter.InstitutionWallet))
		conds = append(conds, fmt.Sprintf("institution_wallet = $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, pq.Array(statuses))
		conds = append(conds, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *Store) queryCredentials(ctx context.Context, query string, args ...any) ([]model.Credential, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translate(err, credentialNotFound)
	}
	defer rows.Close()

	out := make([]model.Credential, 0)
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, translate(err, credentialNotFound)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err, credentialNotFound)
	}
	return out, nil
}

// AllCredentials implements store.CredentialStore
func (s *Store) AllCredentials(ctx context.Context, filter store.CredentialFilter) ([]model.Credential, error) {
	where, args := credentialWhere(filter)
	return s.queryCredentials(ctx, `SELECT `+credentialColumns+` FROM credentials`+where+` ORDER BY created_at`, args...)
}

// ListCredentials implements store.CredentialStore
func (s *Store) ListCredentials(ctx context.Context, filter store.CredentialFilter, page model.Page) ([]model.Credential, int, error) {
	page = page.Normalize()
	where, args := credentialWhere(filter)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM credentials`+where, args...).Scan(&total); err != nil {
		return nil, 0, translate(err, credentialNotFound)
	}

	order := "created_at DESC"
	if filter.StudentWallet != "" {
		order = "issue_date DESC, created_at DESC"
	}
	query := fmt.Sprintf(`SELECT %s FROM credentials%s ORDER BY %s LIMIT $%d OFFSET $%d`,
		credentialColumns, where, order, len(args)+1, len(args)+2)
	out, err := s.queryCredentials(ctx, query, append(args, page.Limit, page.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// RecordVerification implements store.CredentialStore as one increment statement.
func (s *Store) RecordVerification(ctx context.Context, id uuid.UUID, at time.Time) (model.Credential, error) {
	c, err := scanCredential(s.db.QueryRowContext(ctx, `
		UPDATE credentials SET verification_count = verification_count + 1, last_verified_at = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+credentialColumns, id, at, s.now()))
	if err != nil {
		return model.Credential{}, translate(err, credentialNotFound)
	}
	return c, nil
}

// DeleteCredential implements store.CredentialStore. Audit entries keep their
// token id; the credential reference is cleared by the foreign key.
func (s *Store) DeleteCredential(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = $1`, id)
	if err != nil {
		return translate(err, credentialNotFound)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.CodeNotFound, credentialNotFound)
	}
	return nil
}
