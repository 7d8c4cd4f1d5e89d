package filestore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/certifychain/server/internal/apperr"
	"github.com/certifychain/server/internal/model"
	"github.com/certifychain/server/internal/store"
)

func errCredentialNotFound() error {
	return apperr.New(apperr.CodeNotFound, "credential not found")
}

func credentialConflict(all []model.Credential, candidate model.Credential) error {
	for _, c := range all {
		if c.ID == candidate.ID {
			continue
		}
		if candidate.TokenID != nil && c.TokenID != nil && *c.TokenID == *candidate.TokenID {
			return apperr.New(apperr.CodeConflict, "token id already assigned")
		}
		// hash lookups search both columns, so a hash may appear once across both
		if hashTaken(c, candidate.DocumentHash) {
			return apperr.New(apperr.CodeConflict, "document hash already registered")
		}
		if hashTaken(c, candidate.MetadataHash) {
			return apperr.New(apperr.CodeConflict, "metadata hash already registered")
		}
	}
	return nil
}

func hashTaken(c model.Credential, hash string) bool {
	return hash != "" && (c.DocumentHash == hash || c.MetadataHash == hash)
}

func normalizeCredential(c *model.Credential) {
	c.InstitutionWallet = model.NormalizeWallet(c.InstitutionWallet)
	c.StudentWallet = model.NormalizeWallet(c.StudentWallet)
	c.StudentEmail = model.NormalizeEmail(c.StudentEmail)
}

// CreateCredential implements store.CredentialStore. With AssignTokenID the
// counter read, record append and counter bump happen under one lock.
func (s *Store) CreateCredential(_ context.Context, cred model.Credential, opts store.CreateOptions) (model.Credential, error) {
	normalizeCredential(&cred)
	if cred.ID == uuid.Nil {
		cred.ID = uuid.New()
	}
	now := s.now()
	cred.CreatedAt = now
	cred.UpdatedAt = now

	err := s.mutateCredentials(func(doc *credentialsDoc) error {
		if opts.AssignTokenID {
			next := doc.NextTokenID
			// skip ids already taken by externally recorded issuances
			for tokenTaken(doc.Credentials, next) {
				next++
			}
			cred.TokenID = &next
			doc.NextTokenID = next + 1
		}
		if err := credentialConflict(doc.Credentials, cred); err != nil {
			return err
		}
		doc.Credentials = append(doc.Credentials, cred)
		return nil
	})
	if err != nil {
		return model.Credential{}, err
	}
	return cred, nil
}

func tokenTaken(all []model.Credential, id int64) bool {
	for _, c := range all {
		if c.TokenID != nil && *c.TokenID == id {
			return true
		}
	}
	return false
}

func (s *Store) findCredential(match func(model.Credential) bool) (model.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.credentials.Credentials {
		if match(c) {
			return c, nil
		}
	}
	return model.Credential{}, errCredentialNotFound()
}

// GetCredential implements store.CredentialStore
func (s *Store) GetCredential(_ context.Context, id uuid.UUID) (model.Credential, error) {
	return s.findCredential(func(c model.Credential) bool { return c.ID == id })
}

// GetCredentialByTokenID implements store.CredentialStore
func (s *Store) GetCredentialByTokenID(_ context.Context, tokenID int64) (model.Credential, error) {
	return s.findCredential(func(c model.Credential) bool { return c.TokenID != nil && *c.TokenID == tokenID })
}

// GetCredentialByHash implements store.CredentialStore
func (s *Store) GetCredentialByHash(_ context.Context, hash string) (model.Credential, error) {
	if hash == "" {
		return model.Credential{}, errCredentialNotFound()
	}
	return s.findCredential(func(c model.Credential) bool {
		return c.DocumentHash == hash || c.MetadataHash == hash
	})
}

// UpdateCredential implements store.CredentialStore
func (s *Store) UpdateCredential(_ context.Context, id uuid.UUID, fn func(*model.Credential) error) (model.Credential, error) {
	var updated model.Credential
	err := s.mutateCredentials(func(doc *credentialsDoc) error {
		for i := range doc.Credentials {
			if doc.Credentials[i].ID != id {
				continue
			}
			candidate := doc.Credentials[i]
			if err := fn(&candidate); err != nil {
				return err
			}
			candidate.ID = id
			normalizeCredential(&candidate)
			if err := credentialConflict(doc.Credentials, candidate); err != nil {
				return err
			}
			candidate.UpdatedAt = s.now()
			doc.Credentials[i] = candidate
			updated = candidate
			return nil
		}
		return errCredentialNotFound()
	})
	return updated, err
}

func matchCredential(c model.Credential, filter store.CredentialFilter) bool {
	if filter.StudentWallet != "" && c.StudentWallet != model.NormalizeWallet(filter.StudentWallet) {
		return false
	}
	if filter.InstitutionWallet != "" && c.InstitutionWallet != model.NormalizeWallet(filter.InstitutionWallet) {
		return false
	}
	if len(filter.Statuses) > 0 {
		ok := false
		for _, st := range filter.Statuses {
			if c.Status == st {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// AllCredentials implements store.CredentialStore
func (s *Store) AllCredentials(_ context.Context, filter store.CredentialFilter) ([]model.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matches := make([]model.Credential, 0)
	for _, c := range s.credentials.Credentials {
		if matchCredential(c, filter) {
			matches = append(matches, c)
		}
	}
	return matches, nil
}

// ListCredentials implements store.CredentialStore
func (s *Store) ListCredentials(ctx context.Context, filter store.CredentialFilter, page model.Page) ([]model.Credential, int, error) {
	matches, err := s.AllCredentials(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	byIssueDate := filter.StudentWallet != ""
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if byIssueDate && !a.IssueDate.Equal(b.IssueDate) {
			return a.IssueDate.After(b.IssueDate)
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return model.Paginate(matches, page), len(matches), nil
}

// RecordVerification implements store.CredentialStore
func (s *Store) RecordVerification(ctx context.Context, id uuid.UUID, at time.Time) (model.Credential, error) {
	return s.UpdateCredential(ctx, id, func(c *model.Credential) error {
		verifiedAt := at
		c.VerificationCount++
		c.LastVerifiedAt = &verifiedAt
		return nil
	})
}

// DeleteCredential implements store.CredentialStore
func (s *Store) DeleteCredential(_ context.Context, id uuid.UUID) error {
	return s.mutateCredentials(func(doc *credentialsDoc) error {
		for i := range doc.Credentials {
			if doc.Credentials[i].ID == id {
				doc.Credentials = append(doc.Credentials[:i], doc.Credentials[i+1:]...)
				return nil
			}
		}
		return errCredentialNotFound()
	})
}
