package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/certifychain/server/internal/model"
)

const verificationColumns = `id, credential_id, token_id, identifier, verifier_id, verifier_wallet,
	organization, purpose, result, ip_address, user_agent, created_at`

func scanVerification(row scanner) (model.VerificationLogEntry, error) {
	var (
		e                  model.VerificationLogEntry
		credID, verifierID uuid.NullUUID
		tokenID            sql.NullInt64
		result             string
	)
	err := row.Scan(&e.ID, &credID, &tokenID, &e.Identifier, &verifierID, &e.VerifierWallet,
		&e.Organization, &e.Purpose, &result, &e.IPAddress, &e.UserAgent, &e.CreatedAt)
	if err != nil {
		return model.VerificationLogEntry{}, err
	}
	if credID.Valid {
		id := credID.UUID
		e.CredentialID = &id
	}
	if verifierID.Valid {
		id := verifierID.UUID
		e.VerifierID = &id
	}
	e.TokenID = int64Ptr(tokenID)
	e.Result = model.VerificationResult(result)
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

// AppendVerification implements store.VerificationLog
func (s *Store) AppendVerification(ctx context.Context, entry model.VerificationLogEntry) (model.VerificationLogEntry, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	entry.VerifierWallet = model.NormalizeWallet(entry.VerifierWallet)

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO verification_logs (`+verificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+verificationColumns,
		entry.ID, nullUUID(entry.CredentialID), entry.TokenID, entry.Identifier, nullUUID(entry.VerifierID),
		entry.VerifierWallet, entry.Organization, entry.Purpose, string(entry.Result),
		entry.IPAddress, entry.UserAgent, entry.CreatedAt,
	)
	saved, err := scanVerification(row)
	if err != nil {
		return model.VerificationLogEntry{}, translate(err, "verification entry not found")
	}
	return saved, nil
}

// ListVerifications implements store.VerificationLog
func (s *Store) ListVerifications(ctx context.Context, tokenID int64, page model.Page) ([]model.VerificationLogEntry, int, error) {
	page = page.Normalize()

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM verification_logs WHERE token_id = $1`, tokenID).Scan(&total); err != nil {
		return nil, 0, translate(err, "")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+verificationColumns+` FROM verification_logs
		WHERE token_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, tokenID, page.Normalize().Limit, page.Offset())
	if err != nil {
		return nil, 0, translate(err, "")
	}
	defer rows.Close()

	out := make([]model.VerificationLogEntry, 0)
	for rows.Next() {
		e, err := scanVerification(rows)
		if err != nil {
			return nil, 0, translate(err, "")
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, translate(err, "")
	}
	return out, total, nil
}

// CountVerifications implements store.VerificationLog
func (s *Store) CountVerifications(ctx context.Context, since time.Time) (int, error) {
	var n int
	var err error
	if since.IsZero() {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM verification_logs`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM verification_logs WHERE created_at >= $1`, since).Scan(&n)
	}
	if err != nil {
		return 0, translate(err, "")
	}
	return n, nil
}

// DailyVerificationStats implements store.VerificationLog
func (s *Store) DailyVerificationStats(ctx context.Context, since time.Time, loc *time.Location) ([]model.DailyVerificationStat, error) {
	if loc == nil {
		loc = time.UTC
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT to_char(created_at AT TIME ZONE $2, 'YYYY-MM-DD') AS day,
			COUNT(*),
			COUNT(*) FILTER (WHERE result = 'valid')
		FROM verification_logs
		WHERE created_at >= $1
		GROUP BY day
		ORDER BY day`, since, loc.String())
	if err != nil {
		return nil, translate(err, "")
	}
	defer rows.Close()

	stats := make([]model.DailyVerificationStat, 0)
	for rows.Next() {
		var st model.DailyVerificationStat
		if err := rows.Scan(&st.Date, &st.Count, &st.ValidCount); err != nil {
			return nil, translate(err, "")
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err, "")
	}
	return stats, nil
}
