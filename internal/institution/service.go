// Package institution handles institution registration and the administrator
// verification workflow that decides which institutions may issue credentials.
package institution

import (
	"context"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/certifychain/server/internal/apperr"
	"github.com/certifychain/server/internal/log"
	"github.com/certifychain/server/internal/model"
	"github.com/certifychain/server/internal/store"
)

const maxDescriptionLength = 1000

// RoleSetter promotes the identity that registers an institution.
type RoleSetter interface {
	SetRole(ctx context.Context, id uuid.UUID, role model.Role) (model.Identity, error)
}

// Service manages institutions.
type Service struct {
	store      store.InstitutionStore
	identities RoleSetter
	now        func() time.Time
	logger     *logrus.Entry
}

// NewService creates a new institution service
func NewService(st store.InstitutionStore, identities RoleSetter) *Service {
	return &Service{
		store:      st,
		identities: identities,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     log.Logger("institution"),
	}
}

// RegisterParams is the input of Register.
type RegisterParams struct {
	Name               string
	RegistrationNumber string
	Type               model.InstitutionType
	Country            string
	Email              string
	Website            string
	Logo               string
	Description        string
}

// DetailsUpdate changes contact and presentation fields. Nil fields are left as is.
type DetailsUpdate struct {
	Email       *string
	Website     *string
	Logo        *string
	Description *string
}

// Document is a verification document reference supplied by an institution.
type Document struct {
	Name string
	Hash string
}

// Filter narrows public listings.
type Filter struct {
	Country string
	Type    model.InstitutionType
}

func requireAdmin(actor model.Principal) error {
	if !actor.IsAdmin() {
		return apperr.New(apperr.CodeForbidden, "admin role required")
	}
	return nil
}

func validateDetails(v *apperr.Collector, email, website, description string) {
	if _, err := mail.ParseAddress(email); email != "" && err != nil {
		v.Add("email", "must be a valid email address")
	}
	if website != "" {
		if u, err := url.Parse(website); err != nil || u.Scheme == "" || u.Host == "" {
			v.Add("website", "must be an absolute URL")
		}
	}
	if len(description) > maxDescriptionLength {
		v.Add("description", "must be at most 1000 characters")
	}
}

// Register creates a pending institution owned by the actor's wallet and
// promotes the actor to the institution role.
func (s *Service) Register(ctx context.Context, actor model.Principal, p RegisterParams) (model.Institution, error) {
	if actor.WalletAddress == "" {
		return model.Institution{}, apperr.New(apperr.CodeForbidden, "a wallet-linked account is required to register an institution")
	}
	p.Name = strings.TrimSpace(p.Name)
	p.RegistrationNumber = strings.TrimSpace(p.RegistrationNumber)
	p.Country = strings.TrimSpace(p.Country)
	if p.Type == "" {
		p.Type = model.InstitutionUniversity
	}

	var v apperr.Collector
	v.Require("name", p.Name)
	v.Require("registrationNumber", p.RegistrationNumber)
	v.Require("country", p.Country)
	if !p.Type.Valid() {
		v.Add("institutionType", "must be one of university, college, training_center, online_platform, other")
	}
	validateDetails(&v, p.Email, p.Website, p.Description)
	if err := v.Err(); err != nil {
		return model.Institution{}, err
	}

	inst, err := s.store.CreateInstitution(ctx, model.Institution{
		IdentityID:         actor.IdentityID,
		WalletAddress:      actor.WalletAddress,
		Name:               p.Name,
		RegistrationNumber: p.RegistrationNumber,
		Type:               p.Type,
		Country:            p.Country,
		Email:              model.NormalizeEmail(p.Email),
		Website:            p.Website,
		Logo:               p.Logo,
		Description:        p.Description,
		VerificationStatus: model.InstitutionPending,
		IsActive:           true,
	})
	if err != nil {
		return model.Institution{}, err
	}

	if actor.Role != model.RoleAdmin && actor.Role != model.RoleInstitution {
		if _, err := s.identities.SetRole(ctx, actor.IdentityID, model.RoleInstitution); err != nil {
			return model.Institution{}, err
		}
	}
	s.logger.WithFields(logrus.Fields{
		"institution_id": inst.ID,
		"wallet":         inst.WalletAddress,
	}).Info("Institution registered")
	return inst, nil
}

// Get returns an institution by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (model.Institution, error) {
	return s.store.GetInstitution(ctx, id)
}

// GetByWallet returns the institution owning wallet.
func (s *Service) GetByWallet(ctx context.Context, wallet string) (model.Institution, error) {
	return s.store.GetInstitutionByWallet(ctx, wallet)
}

// ListVerified returns verified, active institutions ordered by name.
func (s *Service) ListVerified(ctx context.Context, f Filter, page model.Page) ([]model.Institution, model.PageInfo, error) {
	if f.Type != "" && !f.Type.Valid() {
		return nil, model.PageInfo{}, apperr.Validation(apperr.Field("type", "unknown institution type"))
	}
	items, total, err := s.store.ListInstitutions(ctx, store.InstitutionFilter{
		Status:     model.InstitutionVerified,
		Country:    f.Country,
		Type:       f.Type,
		ActiveOnly: true,
	}, page)
	if err != nil {
		return nil, model.PageInfo{}, err
	}
	return items, model.NewPageInfo(page, total), nil
}

// ListPending returns institutions awaiting review. Admin only.
func (s *Service) ListPending(ctx context.Context, actor model.Principal, page model.Page) ([]model.Institution, model.PageInfo, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, model.PageInfo{}, err
	}
	items, total, err := s.store.ListInstitutions(ctx, store.InstitutionFilter{Status: model.InstitutionUnderReview}, page)
	if err != nil {
		return nil, model.PageInfo{}, err
	}
	return items, model.NewPageInfo(page, total), nil
}

func (s *Service) requireOwner(ctx context.Context, actor model.Principal, id uuid.UUID) error {
	inst, err := s.store.GetInstitution(ctx, id)
	if err != nil {
		return err
	}
	if actor.WalletAddress == "" || inst.WalletAddress != model.NormalizeWallet(actor.WalletAddress) {
		return apperr.New(apperr.CodeForbidden, "only the institution owner may do this")
	}
	return nil
}

// UpdateDetails changes contact and presentation fields. Owner only.
func (s *Service) UpdateDetails(ctx context.Context, actor model.Principal, id uuid.UUID, u DetailsUpdate) (model.Institution, error) {
	if err := s.requireOwner(ctx, actor, id); err != nil {
		return model.Institution{}, err
	}
	deref := func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	}
	var v apperr.Collector
	validateDetails(&v, deref(u.Email), deref(u.Website), deref(u.Description))
	if err := v.Err(); err != nil {
		return model.Institution{}, err
	}
	return s.store.UpdateInstitution(ctx, id, func(inst *model.Institution) error {
		if u.Email != nil {
			inst.Email = model.NormalizeEmail(*u.Email)
		}
		if u.Website != nil {
			inst.Website = *u.Website
		}
		if u.Logo != nil {
			inst.Logo = *u.Logo
		}
		if u.Description != nil {
			inst.Description = *u.Description
		}
		return nil
	})
}

// RequestVerification submits documents and moves a pending or rejected
// institution to under_review. Owner only.
func (s *Service) RequestVerification(ctx context.Context, actor model.Principal, id uuid.UUID, docs []Document) (model.Institution, error) {
	if err := s.requireOwner(ctx, actor, id); err != nil {
		return model.Institution{}, err
	}
	var v apperr.Collector
	if len(docs) == 0 {
		v.Add("documents", "at least one verification document is required")
	}
	for _, d := range docs {
		if strings.TrimSpace(d.Name) == "" || strings.TrimSpace(d.Hash) == "" {
			v.Add("documents", "every document needs a name and a hash")
			break
		}
	}
	if err := v.Err(); err != nil {
		return model.Institution{}, err
	}

	now := s.now()
	updated, err := s.store.UpdateInstitution(ctx, id, func(inst *model.Institution) error {
		switch inst.VerificationStatus {
		case model.InstitutionVerified:
			return apperr.New(apperr.CodeConflict, "institution is already verified")
		case model.InstitutionUnderReview:
			return apperr.New(apperr.CodeConflict, "verification request is already under review")
		}
		for _, d := range docs {
			inst.VerificationDocuments = append(inst.VerificationDocuments, model.VerificationDocument{
				Name:       strings.TrimSpace(d.Name),
				Hash:       strings.TrimSpace(d.Hash),
				UploadedAt: now,
			})
		}
		inst.VerificationStatus = model.InstitutionUnderReview
		inst.RejectionReason = ""
		return nil
	})
	if err != nil {
		return model.Institution{}, err
	}
	s.logger.WithField("institution_id", id).Info("Verification requested")
	return updated, nil
}

// Approve marks an institution verified. Admin only.
func (s *Service) Approve(ctx context.Context, actor model.Principal, id uuid.UUID) (model.Institution, error) {
	if err := requireAdmin(actor); err != nil {
		return model.Institution{}, err
	}
	now := s.now()
	updated, err := s.store.UpdateInstitution(ctx, id, func(inst *model.Institution) error {
		if inst.VerificationStatus == model.InstitutionVerified {
			return apperr.New(apperr.CodeConflict, "institution is already verified")
		}
		inst.VerificationStatus = model.InstitutionVerified
		inst.VerifiedAt = &now
		inst.RejectionReason = ""
		return nil
	})
	if err != nil {
		return model.Institution{}, err
	}
	s.logger.WithFields(logrus.Fields{"institution_id": id, "actor": actor.IdentityID}).Info("Institution verified")
	return updated, nil
}

// Reject marks an institution rejected with a reason. Admin only.
func (s *Service) Reject(ctx context.Context, actor model.Principal, id uuid.UUID, reason string) (model.Institution, error) {
	if err := requireAdmin(actor); err != nil {
		return model.Institution{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return model.Institution{}, apperr.Validation(apperr.Field("reason", "is required"))
	}
	updated, err := s.store.UpdateInstitution(ctx, id, func(inst *model.Institution) error {
		if inst.VerificationStatus == model.InstitutionRejected {
			return apperr.New(apperr.CodeConflict, "institution is already rejected")
		}
		inst.VerificationStatus = model.InstitutionRejected
		inst.RejectionReason = reason
		inst.VerifiedAt = nil
		return nil
	})
	if err != nil {
		return model.Institution{}, err
	}
	s.logger.WithFields(logrus.Fields{"institution_id": id, "actor": actor.IdentityID}).Info("Institution rejected")
	return updated, nil
}

// SetActive deactivates or reactivates an institution without touching its
// verification status. Admin only.
func (s *Service) SetActive(ctx context.Context, actor model.Principal, id uuid.UUID, active bool) (model.Institution, error) {
	if err := requireAdmin(actor); err != nil {
		return model.Institution{}, err
	}
	return s.store.UpdateInstitution(ctx, id, func(inst *model.Institution) error {
		inst.IsActive = active
		return nil
	})
}

// RecordIssued bumps the issued-credential counter.
func (s *Service) RecordIssued(ctx context.Context, id uuid.UUID) error {
	return s.store.IncrementCredentialsIssued(ctx, id)
}
