package credential

import (
	"context"
	"sort"

	"github.com/certifychain/server/internal/apperr"
	"github.com/certifychain/server/internal/model"
	"github.com/certifychain/server/internal/store"
)

// ListForStudent returns the issued and revoked credentials held by wallet,
// newest issue date first. Drafts stay private to the institution.
func (s *Service) ListForStudent(ctx context.Context, wallet string, page model.Page) ([]model.Credential, model.PageInfo, error) {
	if !model.ValidWallet(wallet) {
		return nil, model.PageInfo{}, apperr.Validation(apperr.Field("address", "must be a 0x-prefixed 20-byte hex address"))
	}
	items, total, err := s.store.ListCredentials(ctx, store.CredentialFilter{
		StudentWallet: wallet,
		Statuses:      []model.CredentialStatus{model.StatusIssued, model.StatusRevoked},
	}, page)
	if err != nil {
		return nil, model.PageInfo{}, err
	}
	return s.presentAll(items), model.NewPageInfo(page, total), nil
}

// ListForInstitution returns the credentials of the institution at wallet,
// newest first. The actor must own that wallet or be an administrator.
// Filtering by expired selects issued credentials past their expiry date;
// filtering by issued leaves those out.
func (s *Service) ListForInstitution(ctx context.Context, actor model.Principal, wallet string, status model.CredentialStatus, page model.Page) ([]model.Credential, model.PageInfo, error) {
	if !model.ValidWallet(wallet) {
		return nil, model.PageInfo{}, apperr.Validation(apperr.Field("address", "must be a 0x-prefixed 20-byte hex address"))
	}
	if status != "" && !status.Valid() {
		return nil, model.PageInfo{}, apperr.Validation(apperr.Field("status", "unknown credential status"))
	}
	if !actor.IsAdmin() && model.NormalizeWallet(actor.WalletAddress) != model.NormalizeWallet(wallet) {
		return nil, model.PageInfo{}, apperr.New(apperr.CodeForbidden, "not allowed to list credentials of another institution")
	}

	filter := store.CredentialFilter{InstitutionWallet: wallet}
	if status == model.StatusExpired || status == model.StatusIssued {
		// expiry is derived state: split stored issued records in memory
		filter.Statuses = []model.CredentialStatus{model.StatusIssued}
		all, err := s.store.AllCredentials(ctx, filter)
		if err != nil {
			return nil, model.PageInfo{}, err
		}
		now := s.now()
		matched := make([]model.Credential, 0, len(all))
		for _, c := range all {
			if c.EffectiveStatus(now) == status {
				matched = append(matched, c)
			}
		}
		sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
		return s.presentAll(model.Paginate(matched, page)), model.NewPageInfo(page, len(matched)), nil
	}
	if status != "" {
		filter.Statuses = []model.CredentialStatus{status}
	}
	items, total, err := s.store.ListCredentials(ctx, filter, page)
	if err != nil {
		return nil, model.PageInfo{}, err
	}
	return s.presentAll(items), model.NewPageInfo(page, total), nil
}

// Stats summarizes credentials by derived status and type. Non-administrators
// only see their own institution; administrators see everything unless they
// name an institution wallet.
func (s *Service) Stats(ctx context.Context, actor model.Principal, institutionWallet string) (model.CredentialStats, error) {
	if !actor.IsAdmin() {
		own := model.NormalizeWallet(actor.WalletAddress)
		if own == "" {
			return model.CredentialStats{}, apperr.New(apperr.CodeForbidden, "no institution is linked to this account")
		}
		if institutionWallet != "" && model.NormalizeWallet(institutionWallet) != own {
			return model.CredentialStats{}, apperr.New(apperr.CodeForbidden, "not allowed to read statistics of another institution")
		}
		institutionWallet = own
	}

	all, err := s.store.AllCredentials(ctx, store.CredentialFilter{InstitutionWallet: institutionWallet})
	if err != nil {
		return model.CredentialStats{}, err
	}
	now := s.now()
	stats := model.CredentialStats{Total: len(all), ByType: map[model.CredentialType]int{}}
	for _, c := range all {
		stats.ByType[c.CredentialType]++
		switch c.EffectiveStatus(now) {
		case model.StatusDraft:
			stats.Draft++
		case model.StatusPending:
			stats.Pending++
		case model.StatusIssued:
			stats.Issued++
		case model.StatusRevoked:
			stats.Revoked++
		case model.StatusExpired:
			stats.Expired++
		}
	}
	return stats, nil
}
