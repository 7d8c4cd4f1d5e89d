// Package postgres is the relational-document storage backend. Uniqueness is
// enforced by the database's unique indexes; violations surface as conflicts.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/certifychain/server/internal/apperr"
	"github.com/certifychain/server/internal/store"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
	pqCheckViolation      = "23514"
)

// constraintMessages maps unique index names to caller-facing conflict messages.
var constraintMessages = map[string]string{
	"identities_wallet_address_key":        "wallet address already registered",
	"identities_email_key":                 "email already registered",
	"institutions_wallet_address_key":      "institution already registered with this wallet",
	"institutions_registration_number_key": "institution already registered with this registration number",
	"credentials_token_id_key":             "token id already assigned",
	"credentials_document_hash_key":        "document hash already registered",
	"credentials_metadata_hash_key":        "metadata hash already registered",
	"credentials_hash_key":                 "credential hash already registered",
	"sessions_pkey":                        "session already exists",
}

// Store implements store.Store on PostgreSQL.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New creates a Store over an open, migrated database.
func New(db *sql.DB) *Store {
	return &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Close implements store.Store
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

// translate maps database errors onto the error taxonomy.
func translate(err error, notFound string) error {
	if err == nil {
		return nil
	}
	if apperr.CodeOf(err) != "" {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.New(apperr.CodeNotFound, notFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			msg, ok := constraintMessages[pqErr.Constraint]
			if !ok {
				msg = "duplicate value"
			}
			return &apperr.Error{Code: apperr.CodeConflict, Message: msg, Err: err}
		case pqForeignKeyViolation:
			return &apperr.Error{Code: apperr.CodeConflict, Message: "referenced record is missing or still in use", Err: err}
		case pqCheckViolation:
			return &apperr.Error{Code: apperr.CodeValidation, Message: "value rejected by store constraint", Err: err}
		}
	}
	return apperr.Unavailable(err, "database operation failed")
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation && pqErr.Constraint == constraint
	}
	return false
}

// withTx runs fn in a transaction, committing only when fn succeeds.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Unavailable(err, "begin transaction")
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return translate(err, "")
	}
	return nil
}

// nullIfEmpty stores "" as NULL so partial unique indexes ignore it.
func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
