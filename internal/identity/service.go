// Package identity owns identity records: creation with hashed passwords,
// lookups, wallet nonces and administrative changes.
package identity

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/certifychain/server/internal/apperr"
	"github.com/certifychain/server/internal/log"
	"github.com/certifychain/server/internal/model"
	"github.com/certifychain/server/internal/store"
)

const defaultNonceTTL = 15 * time.Minute

// Options configures a Service. Zero values fall back to defaults.
type Options struct {
	BcryptCost int
	NonceTTL   time.Duration
	Now        func() time.Time
}

// Service is the Identity Store.
type Service struct {
	store      store.IdentityStore
	bcryptCost int
	nonceTTL   time.Duration
	now        func() time.Time
	logger     *logrus.Entry
}

// NewService creates a new identity service
func NewService(st store.IdentityStore, opts Options) *Service {
	s := &Service{
		store:      st,
		bcryptCost: opts.BcryptCost,
		nonceTTL:   opts.NonceTTL,
		now:        opts.Now,
		logger:     log.Logger("identity"),
	}
	if s.bcryptCost == 0 {
		s.bcryptCost = bcrypt.DefaultCost
	}
	if s.nonceTTL <= 0 {
		s.nonceTTL = defaultNonceTTL
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// CreateParams is the input of CreateIdentity. Password and WalletAddress are optional
// but at least one of Email and WalletAddress is required.
type CreateParams struct {
	Email         string
	Password      string
	WalletAddress string
	Name          string
	Role          model.Role
}

// ValidEmail reports whether email is a bare address with a dotted domain.
func ValidEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email && strings.Contains(email[strings.LastIndex(email, "@"):], ".")
}

// CreateIdentity validates p, hashes the password and persists a new identity.
func (s *Service) CreateIdentity(ctx context.Context, p CreateParams) (model.Identity, error) {
	p.Email = model.NormalizeEmail(p.Email)
	p.WalletAddress = strings.TrimSpace(p.WalletAddress)
	p.Name = strings.TrimSpace(p.Name)
	if p.Role == "" {
		p.Role = model.RoleStudent
	}

	var v apperr.Collector
	v.Require("name", p.Name)
	if p.Email == "" && p.WalletAddress == "" {
		v.Add("email", "email or wallet address is required")
	}
	if p.Email != "" && !ValidEmail(p.Email) {
		v.Add("email", "must be a valid email address")
	}
	if p.WalletAddress != "" && !model.ValidWallet(p.WalletAddress) {
		v.Add("walletAddress", "must be a 0x-prefixed 20-byte hex address")
	}
	if !p.Role.Valid() {
		v.Add("role", "must be one of student, institution, verifier, admin")
	}
	if err := v.Err(); err != nil {
		return model.Identity{}, err
	}

	identity := model.Identity{
		WalletAddress: p.WalletAddress,
		Email:         p.Email,
		Name:          p.Name,
		Role:          p.Role,
		IsActive:      true,
	}
	if p.Password != "" {
		hash, err := HashPassword(p.Password, s.bcryptCost)
		if err != nil {
			return model.Identity{}, err
		}
		identity.PasswordHash = hash
	}

	created, err := s.store.CreateIdentity(ctx, identity)
	if err != nil {
		return model.Identity{}, err
	}
	s.logger.WithFields(logrus.Fields{
		"identity_id": created.ID,
		"email":       log.MaskEmail(created.Email),
		"wallet":      created.WalletAddress,
		"role":        created.Role,
	}).Info("Identity created")
	return created, nil
}

// FindByID returns the identity with the given id.
func (s *Service) FindByID(ctx context.Context, id uuid.UUID) (model.Identity, error) {
	return s.store.GetIdentity(ctx, id)
}

// FindByEmail returns the identity registered with email.
func (s *Service) FindByEmail(ctx context.Context, email string) (model.Identity, error) {
	return s.store.GetIdentityByEmail(ctx, email)
}

// FindByWallet returns the identity owning wallet.
func (s *Service) FindByWallet(ctx context.Context, wallet string) (model.Identity, error) {
	return s.store.GetIdentityByWallet(ctx, wallet)
}

// IssueNonce stores a fresh nonce for wallet and returns it. Unknown wallets get a
// placeholder student identity. Any earlier nonce stops being consumable.
func (s *Service) IssueNonce(ctx context.Context, wallet string) (string, error) {
	if !model.ValidWallet(wallet) {
		return "", apperr.Validation(apperr.Field("walletAddress", "must be a 0x-prefixed 20-byte hex address"))
	}
	nonce, err := NewNonce()
	if err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	identity, err := s.store.SetNonce(ctx, wallet, nonce, model.RoleStudent, s.now())
	if err != nil {
		return "", err
	}
	s.logger.WithFields(logrus.Fields{
		"identity_id": identity.ID,
		"wallet":      identity.WalletAddress,
		"placeholder": identity.IsPlaceholder(),
	}).Debug("Nonce issued")
	return nonce, nil
}

// ConsumeNonce clears the wallet's nonce if it equals nonce and has not expired,
// recording the login time. Fails Unauthorized otherwise.
func (s *Service) ConsumeNonce(ctx context.Context, wallet, nonce string) (model.Identity, error) {
	now := s.now()
	return s.store.ConsumeNonce(ctx, wallet, strings.TrimSpace(nonce), now.Add(-s.nonceTTL), now)
}

// VerifyPassword reports whether candidate matches the identity's stored hash.
func (s *Service) VerifyPassword(identity model.Identity, candidate string) bool {
	return CheckPassword(identity.PasswordHash, candidate)
}

// RecordLogin sets the last login time.
func (s *Service) RecordLogin(ctx context.Context, id uuid.UUID) (model.Identity, error) {
	now := s.now()
	return s.store.UpdateIdentity(ctx, id, func(i *model.Identity) error {
		i.LastLoginAt = &now
		return nil
	})
}

// CompleteProfile fills name and email on a placeholder identity created by a
// wallet challenge.
func (s *Service) CompleteProfile(ctx context.Context, id uuid.UUID, name, email string) (model.Identity, error) {
	name = strings.TrimSpace(name)
	email = model.NormalizeEmail(email)

	var v apperr.Collector
	v.Require("name", name)
	v.Require("email", email)
	if email != "" && !ValidEmail(email) {
		v.Add("email", "must be a valid email address")
	}
	if err := v.Err(); err != nil {
		return model.Identity{}, err
	}
	return s.store.UpdateIdentity(ctx, id, func(i *model.Identity) error {
		if !i.IsPlaceholder() {
			return apperr.New(apperr.CodeConflict, "profile already completed")
		}
		i.Name = name
		i.Email = email
		return nil
	})
}

// SetRole changes the role of an identity.
func (s *Service) SetRole(ctx context.Context, id uuid.UUID, role model.Role) (model.Identity, error) {
	if !role.Valid() {
		return model.Identity{}, apperr.Validation(apperr.Field("role", "unknown role"))
	}
	return s.store.UpdateIdentity(ctx, id, func(i *model.Identity) error {
		i.Role = role
		return nil
	})
}

// SetActive activates or deactivates an identity. Only administrators may do this.
func (s *Service) SetActive(ctx context.Context, actor model.Principal, id uuid.UUID, active bool) (model.Identity, error) {
	if !actor.IsAdmin() {
		return model.Identity{}, apperr.New(apperr.CodeForbidden, "admin role required")
	}
	updated, err := s.store.UpdateIdentity(ctx, id, func(i *model.Identity) error {
		i.IsActive = active
		return nil
	})
	if err != nil {
		return model.Identity{}, err
	}
	s.logger.WithFields(logrus.Fields{"identity_id": id, "active": active, "actor": actor.IdentityID}).Info("Identity activation changed")
	return updated, nil
}

// Delete hard-deletes an identity. Only administrators may do this.
func (s *Service) Delete(ctx context.Context, actor model.Principal, id uuid.UUID) error {
	if !actor.IsAdmin() {
		return apperr.New(apperr.CodeForbidden, "admin role required")
	}
	if err := s.store.DeleteIdentity(ctx, id); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{"identity_id": id, "actor": actor.IdentityID}).Warn("Identity deleted")
	return nil
}
