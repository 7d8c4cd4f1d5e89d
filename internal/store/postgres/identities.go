package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/certifychain/server/internal/apperr"
	"github.com/certifychain/server/internal/model"
)

const identityColumns = `id, wallet_address, email, password_hash, name, role, is_active,
	nonce, nonce_issued_at, last_login_at, created_at, updated_at`

const identityNotFound = "identity not found"

func scanIdentity(row scanner) (model.Identity, error) {
	var (
		i                       model.Identity
		wallet, email, hash     sql.NullString
		nonce                   sql.NullString
		nonceIssuedAt, lastSeen sql.NullTime
		role                    string
	)
	err := row.Scan(&i.ID, &wallet, &email, &hash, &i.Name, &role, &i.IsActive,
		&nonce, &nonceIssuedAt, &lastSeen, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return model.Identity{}, err
	}
	i.WalletAddress = wallet.String
	i.Email = email.String
	i.PasswordHash = hash.String
	i.Role = model.Role(role)
	i.Nonce = nonce.String
	i.NonceIssuedAt = timePtr(nonceIssuedAt)
	i.LastLoginAt = timePtr(lastSeen)
	i.CreatedAt = i.CreatedAt.UTC()
	i.UpdatedAt = i.UpdatedAt.UTC()
	return i, nil
}

// CreateIdentity implements store.IdentityStore
func (s *Store) CreateIdentity(ctx context.Context, identity model.Identity) (model.Identity, error) {
	identity.Email = model.NormalizeEmail(identity.Email)
	identity.WalletAddress = model.NormalizeWallet(identity.WalletAddress)
	if identity.ID == uuid.Nil {
		identity.ID = uuid.New()
	}
	now := s.now()
	identity.CreatedAt = now
	identity.UpdatedAt = now

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO identities (`+identityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+identityColumns,
		identity.ID, nullIfEmpty(identity.WalletAddress), nullIfEmpty(identity.Email),
		nullIfEmpty(identity.PasswordHash), identity.Name, string(identity.Role), identity.IsActive,
		nullIfEmpty(identity.Nonce), identity.NonceIssuedAt, identity.LastLoginAt,
		identity.CreatedAt, identity.UpdatedAt,
	)
	created, err := scanIdentity(row)
	if err != nil {
		return model.Identity{}, translate(err, identityNotFound)
	}
	return created, nil
}

func (s *Store) getIdentityWhere(ctx context.Context, where string, arg any) (model.Identity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE `+where, arg)
	identity, err := scanIdentity(row)
	if err != nil {
		return model.Identity{}, translate(err, identityNotFound)
	}
	return identity, nil
}

// GetIdentity implements store.IdentityStore
func (s *Store) GetIdentity(ctx context.Context, id uuid.UUID) (model.Identity, error) {
	return s.getIdentityWhere(ctx, "id = $1", id)
}

// GetIdentityByEmail implements store.IdentityStore
func (s *Store) GetIdentityByEmail(ctx context.Context, email string) (model.Identity, error) {
	email = model.NormalizeEmail(email)
	if email == "" {
		return model.Identity{}, apperr.New(apperr.CodeNotFound, identityNotFound)
	}
	return s.getIdentityWhere(ctx, "email = $1", email)
}

// GetIdentityByWallet implements store.IdentityStore
func (s *Store) GetIdentityByWallet(ctx context.Context, wallet string) (model.Identity, error) {
	wallet = model.NormalizeWallet(wallet)
	if wallet == "" {
		return model.Identity{}, apperr.New(apperr.CodeNotFound, identityNotFound)
	}
	return s.getIdentityWhere(ctx, "wallet_address = $1", wallet)
}

// UpdateIdentity implements store.IdentityStore. The row is locked for the
// duration of fn.
func (s *Store) UpdateIdentity(ctx context.Context, id uuid.UUID, fn func(*model.Identity) error) (model.Identity, error) {
	var updated model.Identity
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := scanIdentity(tx.QueryRowContext(ctx,
			`SELECT `+identityColumns+` FROM identities WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return translate(err, identityNotFound)
		}
		if err := fn(&current); err != nil {
			return err
		}
		current.Email = model.NormalizeEmail(current.Email)
		current.WalletAddress = model.NormalizeWallet(current.WalletAddress)

		row := tx.QueryRowContext(ctx, `
			UPDATE identities SET
				wallet_address = $2, email = $3, password_hash = $4, name = $5, role = $6,
				is_active = $7, nonce = $8, nonce_issued_at = $9, last_login_at = $10, updated_at = $11
			WHERE id = $1
			RETURNING `+identityColumns,
			id, nullIfEmpty(current.WalletAddress), nullIfEmpty(current.Email),
			nullIfEmpty(current.PasswordHash), current.Name, string(current.Role),
			current.IsActive, nullIfEmpty(current.Nonce), current.NonceIssuedAt,
			current.LastLoginAt, s.now(),
		)
		updated, err = scanIdentity(row)
		return translate(err, identityNotFound)
	})
	if err != nil {
		return model.Identity{}, err
	}
	return updated, nil
}

// DeleteIdentity implements store.IdentityStore. Sessions cascade.
func (s *Store) DeleteIdentity(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM identities WHERE id = $1`, id)
	if err != nil {
		return translate(err, identityNotFound)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.CodeNotFound, identityNotFound)
	}
	return nil
}

// SetNonce implements store.IdentityStore as a single upsert on the wallet index.
func (s *Store) SetNonce(ctx context.Context, wallet, nonce string, role model.Role, now time.Time) (model.Identity, error) {
	wallet = model.NormalizeWallet(wallet)
	ts := s.now()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO identities (id, wallet_address, name, role, is_active, nonce, nonce_issued_at, created_at, updated_at)
		VALUES ($1, $2, '', $3, TRUE, $4, $5, $6, $6)
		ON CONFLICT (wallet_address) WHERE wallet_address IS NOT NULL
		DO UPDATE SET nonce = EXCLUDED.nonce, nonce_issued_at = EXCLUDED.nonce_issued_at, updated_at = EXCLUDED.updated_at
		RETURNING `+identityColumns,
		uuid.New(), wallet, string(role), nonce, now, ts,
	)
	identity, err := scanIdentity(row)
	if err != nil {
		return model.Identity{}, translate(err, identityNotFound)
	}
	return identity, nil
}

// ConsumeNonce implements store.IdentityStore. The conditional UPDATE is the
// compare-and-clear: a concurrent second caller re-evaluates the predicate
// after the first commits and matches nothing.
func (s *Store) ConsumeNonce(ctx context.Context, wallet, nonce string, issuedAfter, now time.Time) (model.Identity, error) {
	wallet = model.NormalizeWallet(wallet)
	if wallet == "" || nonce == "" {
		return model.Identity{}, apperr.New(apperr.CodeUnauthorized, "invalid or expired nonce")
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE identities SET nonce = NULL, nonce_issued_at = NULL, last_login_at = $4, updated_at = $5
		WHERE wallet_address = $1 AND nonce = $2 AND nonce_issued_at > $3
		RETURNING `+identityColumns,
		wallet, nonce, issuedAfter, now, s.now(),
	)
	identity, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Identity{}, apperr.New(apperr.CodeUnauthorized, "invalid or expired nonce")
	}
	if err != nil {
		return model.Identity{}, translate(err, identityNotFound)
	}
	return identity, nil
}

// CreateSession implements store.IdentityStore
func (s *Store) CreateSession(ctx context.Context, session model.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, identity_id, created_at, expires_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5)`,
		session.ID, session.IdentityID, session.CreatedAt, session.ExpiresAt, session.RevokedAt,
	)
	return translate(err, "session not found")
}

// GetSession implements store.IdentityStore
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (model.Session, error) {
	var (
		sess    model.Session
		revoked sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, identity_id, created_at, expires_at, revoked_at FROM sessions WHERE id = $1`, id,
	).Scan(&sess.ID, &sess.IdentityID, &sess.CreatedAt, &sess.ExpiresAt, &revoked)
	if err != nil {
		return model.Session{}, translate(err, "session not found")
	}
	sess.CreatedAt = sess.CreatedAt.UTC()
	sess.ExpiresAt = sess.ExpiresAt.UTC()
	sess.RevokedAt = timePtr(revoked)
	return sess, nil
}

// RevokeSession implements store.IdentityStore. Revoking twice keeps the first revocation time.
func (s *Store) RevokeSession(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = COALESCE(revoked_at, $2) WHERE id = $1`, id, at)
	if err != nil {
		return translate(err, "session not found")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.CodeNotFound, "session not found")
	}
	return nil
}
