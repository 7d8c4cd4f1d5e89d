package filestore

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/google/uuid"

	"github.com/certifychain/server/internal/apperr"
	"github.com/certifychain/server/internal/model"
)

func errIdentityNotFound() error {
	return apperr.New(apperr.CodeNotFound, "identity not found")
}

// identityConflict checks the unique keys of candidate against every other identity.
func identityConflict(users []model.Identity, candidate model.Identity) error {
	for _, u := range users {
		if u.ID == candidate.ID {
			continue
		}
		if candidate.Email != "" && u.Email == candidate.Email {
			return apperr.New(apperr.CodeConflict, "email already registered")
		}
		if candidate.WalletAddress != "" && u.WalletAddress == candidate.WalletAddress {
			return apperr.New(apperr.CodeConflict, "wallet address already registered")
		}
	}
	return nil
}

func normalizeIdentity(i *model.Identity) {
	i.Email = model.NormalizeEmail(i.Email)
	i.WalletAddress = model.NormalizeWallet(i.WalletAddress)
}

// CreateIdentity implements store.IdentityStore
func (s *Store) CreateIdentity(_ context.Context, identity model.Identity) (model.Identity, error) {
	normalizeIdentity(&identity)
	if identity.ID == uuid.Nil {
		identity.ID = uuid.New()
	}
	now := s.now()
	identity.CreatedAt = now
	identity.UpdatedAt = now

	err := s.mutateUsers(func(doc *usersDoc) error {
		if err := identityConflict(doc.Users, identity); err != nil {
			return err
		}
		doc.Users = append(doc.Users, identity)
		return nil
	})
	if err != nil {
		return model.Identity{}, err
	}
	return identity, nil
}

func (s *Store) findIdentity(match func(model.Identity) bool) (model.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users.Users {
		if match(u) {
			return u, nil
		}
	}
	return model.Identity{}, errIdentityNotFound()
}

// GetIdentity implements store.IdentityStore
func (s *Store) GetIdentity(_ context.Context, id uuid.UUID) (model.Identity, error) {
	return s.findIdentity(func(u model.Identity) bool { return u.ID == id })
}

// GetIdentityByEmail implements store.IdentityStore
func (s *Store) GetIdentityByEmail(_ context.Context, email string) (model.Identity, error) {
	email = model.NormalizeEmail(email)
	if email == "" {
		return model.Identity{}, errIdentityNotFound()
	}
	return s.findIdentity(func(u model.Identity) bool { return u.Email == email })
}

// GetIdentityByWallet implements store.IdentityStore
func (s *Store) GetIdentityByWallet(_ context.Context, wallet string) (model.Identity, error) {
	wallet = model.NormalizeWallet(wallet)
	if wallet == "" {
		return model.Identity{}, errIdentityNotFound()
	}
	return s.findIdentity(func(u model.Identity) bool { return u.WalletAddress == wallet })
}

// UpdateIdentity implements store.IdentityStore
func (s *Store) UpdateIdentity(_ context.Context, id uuid.UUID, fn func(*model.Identity) error) (model.Identity, error) {
	var updated model.Identity
	err := s.mutateUsers(func(doc *usersDoc) error {
		for i := range doc.Users {
			if doc.Users[i].ID != id {
				continue
			}
			candidate := doc.Users[i]
			if err := fn(&candidate); err != nil {
				return err
			}
			candidate.ID = id
			normalizeIdentity(&candidate)
			if err := identityConflict(doc.Users, candidate); err != nil {
				return err
			}
			candidate.UpdatedAt = s.now()
			doc.Users[i] = candidate
			updated = candidate
			return nil
		}
		return errIdentityNotFound()
	})
	return updated, err
}

// DeleteIdentity implements store.IdentityStore. Sessions of the identity are removed too.
func (s *Store) DeleteIdentity(_ context.Context, id uuid.UUID) error {
	return s.mutateUsers(func(doc *usersDoc) error {
		idx := -1
		for i, u := range doc.Users {
			if u.ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return errIdentityNotFound()
		}
		doc.Users = append(doc.Users[:idx], doc.Users[idx+1:]...)
		sessions := doc.Sessions[:0]
		for _, sess := range doc.Sessions {
			if sess.IdentityID != id {
				sessions = append(sessions, sess)
			}
		}
		doc.Sessions = sessions
		return nil
	})
}

// SetNonce implements store.IdentityStore
func (s *Store) SetNonce(_ context.Context, wallet, nonce string, role model.Role, now time.Time) (model.Identity, error) {
	wallet = model.NormalizeWallet(wallet)
	issuedAt := now
	var result model.Identity
	err := s.mutateUsers(func(doc *usersDoc) error {
		for i := range doc.Users {
			if doc.Users[i].WalletAddress == wallet {
				doc.Users[i].Nonce = nonce
				doc.Users[i].NonceIssuedAt = &issuedAt
				doc.Users[i].UpdatedAt = s.now()
				result = doc.Users[i]
				return nil
			}
		}
		created := s.now()
		result = model.Identity{
			ID:            uuid.New(),
			WalletAddress: wallet,
			Role:          role,
			IsActive:      true,
			Nonce:         nonce,
			NonceIssuedAt: &issuedAt,
			CreatedAt:     created,
			UpdatedAt:     created,
		}
		doc.Users = append(doc.Users, result)
		return nil
	})
	if err != nil {
		return model.Identity{}, err
	}
	return result, nil
}

// ConsumeNonce implements store.IdentityStore
func (s *Store) ConsumeNonce(_ context.Context, wallet, nonce string, issuedAfter, now time.Time) (model.Identity, error) {
	wallet = model.NormalizeWallet(wallet)
	loginAt := now
	var result model.Identity
	err := s.mutateUsers(func(doc *usersDoc) error {
		for i := range doc.Users {
			u := &doc.Users[i]
			if u.WalletAddress != wallet {
				continue
			}
			if u.Nonce == "" || nonce == "" ||
				subtle.ConstantTimeCompare([]byte(u.Nonce), []byte(nonce)) != 1 ||
				u.NonceIssuedAt == nil || !u.NonceIssuedAt.After(issuedAfter) {
				return apperr.New(apperr.CodeUnauthorized, "invalid or expired nonce")
			}
			u.Nonce = ""
			u.NonceIssuedAt = nil
			u.LastLoginAt = &loginAt
			u.UpdatedAt = s.now()
			result = *u
			return nil
		}
		return apperr.New(apperr.CodeUnauthorized, "invalid or expired nonce")
	})
	if err != nil {
		return model.Identity{}, err
	}
	return result, nil
}

// CreateSession implements store.IdentityStore
func (s *Store) CreateSession(_ context.Context, session model.Session) error {
	return s.mutateUsers(func(doc *usersDoc) error {
		for _, existing := range doc.Sessions {
			if existing.ID == session.ID {
				return apperr.New(apperr.CodeConflict, "session already exists")
			}
		}
		doc.Sessions = append(doc.Sessions, session)
		return nil
	})
}

// GetSession implements store.IdentityStore
func (s *Store) GetSession(_ context.Context, id uuid.UUID) (model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.users.Sessions {
		if sess.ID == id {
			return sess, nil
		}
	}
	return model.Session{}, apperr.New(apperr.CodeNotFound, "session not found")
}

// RevokeSession implements store.IdentityStore. Revoking twice keeps the first revocation time.
func (s *Store) RevokeSession(_ context.Context, id uuid.UUID, at time.Time) error {
	return s.mutateUsers(func(doc *usersDoc) error {
		for i := range doc.Sessions {
			if doc.Sessions[i].ID == id {
				if doc.Sessions[i].RevokedAt == nil {
					revokedAt := at
					doc.Sessions[i].RevokedAt = &revokedAt
				}
				return nil
			}
		}
		return apperr.New(apperr.CodeNotFound, "session not found")
	})
}
