package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/certifychain/server/internal/apperr"
	"github.com/certifychain/server/internal/model"
	"github.com/certifychain/server/internal/store"
)

const institutionColumns = `id, identity_id, wallet_address, name, registration_number, institution_type,
	country, email, website, logo, description, verification_status, verification_documents,
	rejection_reason, verified_at, is_active, credentials_issued, created_at, updated_at`

const institutionNotFound = "institution not found"

func scanInstitution(row scanner) (model.Institution, error) {
	var (
		inst           model.Institution
		instType, stat string
		docs           []byte
		verifiedAt     sql.NullTime
	)
	err := row.Scan(&inst.ID, &inst.IdentityID, &inst.WalletAddress, &inst.Name, &inst.RegistrationNumber,
		&instType, &inst.Country, &inst.Email, &inst.Website, &inst.Logo, &inst.Description, &stat,
		&docs, &inst.RejectionReason, &verifiedAt, &inst.IsActive, &inst.CredentialsIssued,
		&inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return model.Institution{}, err
	}
	inst.Type = model.InstitutionType(instType)
	inst.VerificationStatus = model.InstitutionStatus(stat)
	inst.VerifiedAt = timePtr(verifiedAt)
	inst.CreatedAt = inst.CreatedAt.UTC()
	inst.UpdatedAt = inst.UpdatedAt.UTC()
	if len(docs) > 0 {
		if err := json.Unmarshal(docs, &inst.VerificationDocuments); err != nil {
			return model.Institution{}, fmt.Errorf("decode verification documents: %w", err)
		}
	}
	if len(inst.VerificationDocuments) == 0 {
		inst.VerificationDocuments = nil
	}
	return inst, nil
}

func encodeDocuments(docs []model.VerificationDocument) ([]byte, error) {
	if docs == nil {
		docs = []model.VerificationDocument{}
	}
	return json.Marshal(docs)
}

// CreateInstitution implements store.InstitutionStore
func (s *Store) CreateInstitution(ctx context.Context, inst model.Institution) (model.Institution, error) {
	inst.WalletAddress = model.NormalizeWallet(inst.WalletAddress)
	inst.RegistrationNumber = strings.TrimSpace(inst.RegistrationNumber)
	if inst.ID == uuid.Nil {
		inst.ID = uuid.New()
	}
	now := s.now()
	inst.CreatedAt = now
	inst.UpdatedAt = now

	docs, err := encodeDocuments(inst.VerificationDocuments)
	if err != nil {
		return model.Institution{}, apperr.Wrap(err, apperr.CodeValidation, "invalid verification documents")
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO institutions (`+institutionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING `+institutionColumns,
		inst.ID, inst.IdentityID, inst.WalletAddress, inst.Name, inst.RegistrationNumber, string(inst.Type),
		inst.Country, inst.Email, inst.Website, inst.Logo, inst.Description, string(inst.VerificationStatus),
		docs, inst.RejectionReason, inst.VerifiedAt, inst.IsActive, inst.CredentialsIssued,
		inst.CreatedAt, inst.UpdatedAt,
	)
	created, err := scanInstitution(row)
	if err != nil {
		return model.Institution{}, translate(err, institutionNotFound)
	}
	return created, nil
}

// GetInstitution implements store.InstitutionStore
func (s *Store) GetInstitution(ctx context.Context, id uuid.UUID) (model.Institution, error) {
	inst, err := scanInstitution(s.db.QueryRowContext(ctx,
		`SELECT `+institutionColumns+` FROM institutions WHERE id = $1`, id))
	if err != nil {
		return model.Institution{}, translate(err, institutionNotFound)
	}
	return inst, nil
}

// GetInstitutionByWallet implements store.InstitutionStore
func (s *Store) GetInstitutionByWallet(ctx context.Context, wallet string) (model.Institution, error) {
	inst, err := scanInstitution(s.db.QueryRowContext(ctx,
		`SELECT `+institutionColumns+` FROM institutions WHERE wallet_address = $1`, model.NormalizeWallet(wallet)))
	if err != nil {
		return model.Institution{}, translate(err, institutionNotFound)
	}
	return inst, nil
}

// UpdateInstitution implements store.InstitutionStore
func (s *Store) UpdateInstitution(ctx context.Context, id uuid.UUID, fn func(*model.Institution) error) (model.Institution, error) {
	var updated model.Institution
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := scanInstitution(tx.QueryRowContext(ctx,
			`SELECT `+institutionColumns+` FROM institutions WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return translate(err, institutionNotFound)
		}
		if err := fn(&current); err != nil {
			return err
		}
		current.WalletAddress = model.NormalizeWallet(current.WalletAddress)
		docs, err := encodeDocuments(current.VerificationDocuments)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeValidation, "invalid verification documents")
		}
		row := tx.QueryRowContext(ctx, `
			UPDATE institutions SET
				wallet_address = $2, name = $3, registration_number = $4, institution_type = $5,
				country = $6, email = $7, website = $8, logo = $9, description = $10,
				verification_status = $11, verification_documents = $12, rejection_reason = $13,
				verified_at = $14, is_active = $15, credentials_issued = $16, updated_at = $17
			WHERE id = $1
			RETURNING `+institutionColumns,
			id, current.WalletAddress, current.Name, current.RegistrationNumber, string(current.Type),
			current.Country, current.Email, current.Website, current.Logo, current.Description,
			string(current.VerificationStatus), docs, current.RejectionReason,
			current.VerifiedAt, current.IsActive, current.CredentialsIssued, s.now(),
		)
		updated, err = scanInstitution(row)
		return translate(err, institutionNotFound)
	})
	if err != nil {
		return model.Institution{}, err
	}
	return updated, nil
}

// ListInstitutions implements store.InstitutionStore. Names sort bytewise to
// match the file backend.
func (s *Store) ListInstitutions(ctx context.Context, filter store.InstitutionFilter, page model.Page) ([]model.Institution, int, error) {
	page = page.Normalize()

	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Status != "" {
		add("verification_status = $%d", string(filter.Status))
	}
	if filter.Country != "" {
		add("country = $%d", filter.Country)
	}
	if filter.Type != "" {
		add("institution_type = $%d", string(filter.Type))
	}
	if filter.ActiveOnly {
		conds = append(conds, "is_active")
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM institutions`+where, args...).Scan(&total); err != nil {
		return nil, 0, translate(err, institutionNotFound)
	}

	query := fmt.Sprintf(`SELECT %s FROM institutions%s ORDER BY name COLLATE "C", created_at LIMIT $%d OFFSET $%d`,
		institutionColumns, where, len(args)+1, len(args)+2)
	rows, err := s.db.QueryContext(ctx, query, append(args, page.Normalize().Limit, page.Offset())...)
	if err != nil {
		return nil, 0, translate(err, institutionNotFound)
	}
	defer rows.Close()

	out := make([]model.Institution, 0)
	for rows.Next() {
		inst, err := scanInstitution(rows)
		if err != nil {
			return nil, 0, translate(err, institutionNotFound)
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, translate(err, institutionNotFound)
	}
	return out, total, nil
}

// IncrementCredentialsIssued implements store.InstitutionStore
func (s *Store) IncrementCredentialsIssued(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE institutions SET credentials_issued = credentials_issued + 1, updated_at = $2 WHERE id = $1`,
		id, s.now())
	if err != nil {
		return translate(err, institutionNotFound)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.CodeNotFound, institutionNotFound)
	}
	return nil
}
