package institution

import (
	"context"

	"github.com/certifychain/server/internal/apperr"
	"github.com/certifychain/server/internal/model"
	"github.com/certifychain/server/internal/store"
)

// Gate admits only principals whose wallet owns a verified, active institution.
type Gate struct {
	store store.InstitutionStore
}

// NewGate creates a Gate over st.
func NewGate(st store.InstitutionStore) *Gate {
	return &Gate{store: st}
}

// RequireIssuer returns the principal's institution if it may currently issue
// credentials, otherwise Forbidden.
func (g *Gate) RequireIssuer(ctx context.Context, p model.Principal) (model.Institution, error) {
	if p.WalletAddress == "" {
		return model.Institution{}, apperr.New(apperr.CodeForbidden, "no institution is linked to this account")
	}
	inst, err := g.store.GetInstitutionByWallet(ctx, p.WalletAddress)
	if apperr.HasCode(err, apperr.CodeNotFound) {
		return model.Institution{}, apperr.New(apperr.CodeForbidden, "no institution is linked to this account")
	}
	if err != nil {
		return model.Institution{}, err
	}
	if inst.VerificationStatus != model.InstitutionVerified {
		return model.Institution{}, apperr.New(apperr.CodeForbidden, "institution is not verified")
	}
	if !inst.IsActive {
		return model.Institution{}, apperr.New(apperr.CodeForbidden, "institution is deactivated")
	}
	return inst, nil
}
