package filestore

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/certifychain/server/internal/apperr"
	"github.com/certifychain/server/internal/model"
	"github.com/certifychain/server/internal/store"
)

func errInstitutionNotFound() error {
	return apperr.New(apperr.CodeNotFound, "institution not found")
}

func institutionConflict(all []model.Institution, candidate model.Institution) error {
	for _, inst := range all {
		if inst.ID == candidate.ID {
			continue
		}
		if inst.WalletAddress == candidate.WalletAddress {
			return apperr.New(apperr.CodeConflict, "institution already registered with this wallet")
		}
		if inst.RegistrationNumber == candidate.RegistrationNumber {
			return apperr.New(apperr.CodeConflict, "institution already registered with this registration number")
		}
	}
	return nil
}

// CreateInstitution implements store.InstitutionStore
func (s *Store) CreateInstitution(_ context.Context, inst model.Institution) (model.Institution, error) {
	inst.WalletAddress = model.NormalizeWallet(inst.WalletAddress)
	inst.RegistrationNumber = strings.TrimSpace(inst.RegistrationNumber)
	if inst.ID == uuid.Nil {
		inst.ID = uuid.New()
	}
	now := s.now()
	inst.CreatedAt = now
	inst.UpdatedAt = now

	err := s.mutateInstitutions(func(doc *institutionsDoc) error {
		if err := institutionConflict(doc.Institutions, inst); err != nil {
			return err
		}
		doc.Institutions = append(doc.Institutions, inst)
		return nil
	})
	if err != nil {
		return model.Institution{}, err
	}
	return inst, nil
}

func (s *Store) findInstitution(match func(model.Institution) bool) (model.Institution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inst := range s.institutions.Institutions {
		if match(inst) {
			return inst, nil
		}
	}
	return model.Institution{}, errInstitutionNotFound()
}

// GetInstitution implements store.InstitutionStore
func (s *Store) GetInstitution(_ context.Context, id uuid.UUID) (model.Institution, error) {
	return s.findInstitution(func(i model.Institution) bool { return i.ID == id })
}

// GetInstitutionByWallet implements store.InstitutionStore
func (s *Store) GetInstitutionByWallet(_ context.Context, wallet string) (model.Institution, error) {
	wallet = model.NormalizeWallet(wallet)
	return s.findInstitution(func(i model.Institution) bool { return i.WalletAddress == wallet })
}

// UpdateInstitution implements store.InstitutionStore
func (s *Store) UpdateInstitution(_ context.Context, id uuid.UUID, fn func(*model.Institution) error) (model.Institution, error) {
	var updated model.Institution
	err := s.mutateInstitutions(func(doc *institutionsDoc) error {
		for i := range doc.Institutions {
			if doc.Institutions[i].ID != id {
				continue
			}
			candidate := doc.Institutions[i]
			if err := fn(&candidate); err != nil {
				return err
			}
			candidate.ID = id
			candidate.WalletAddress = model.NormalizeWallet(candidate.WalletAddress)
			if err := institutionConflict(doc.Institutions, candidate); err != nil {
				return err
			}
			candidate.UpdatedAt = s.now()
			doc.Institutions[i] = candidate
			updated = candidate
			return nil
		}
		return errInstitutionNotFound()
	})
	return updated, err
}

// ListInstitutions implements store.InstitutionStore
func (s *Store) ListInstitutions(_ context.Context, filter store.InstitutionFilter, page model.Page) ([]model.Institution, int, error) {
	s.mu.RLock()
	matches := make([]model.Institution, 0)
	for _, inst := range s.institutions.Institutions {
		if filter.Status != "" && inst.VerificationStatus != filter.Status {
			continue
		}
		if filter.Country != "" && inst.Country != filter.Country {
			continue
		}
		if filter.Type != "" && inst.Type != filter.Type {
			continue
		}
		if filter.ActiveOnly && !inst.IsActive {
			continue
		}
		matches = append(matches, inst)
	}
	s.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Name < matches[j].Name })
	return model.Paginate(matches, page), len(matches), nil
}

// IncrementCredentialsIssued implements store.InstitutionStore
func (s *Store) IncrementCredentialsIssued(_ context.Context, id uuid.UUID) error {
	return s.mutateInstitutions(func(doc *institutionsDoc) error {
		for i := range doc.Institutions {
			if doc.Institutions[i].ID == id {
				doc.Institutions[i].CredentialsIssued++
				doc.Institutions[i].UpdatedAt = s.now()
				return nil
			}
		}
		return errInstitutionNotFound()
	})
}
