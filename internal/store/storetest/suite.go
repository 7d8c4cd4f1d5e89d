// Package storetest is the behavioral suite every store.Store backend must pass.
package storetest

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certifychain/server/internal/apperr"
	"github.com/certifychain/server/internal/model"
	"github.com/certifychain/server/internal/store"
)

// Factory returns an empty store. Cleanup is registered on t by the factory.
type Factory func(t *testing.T) store.Store

// Run executes every conformance test against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("Identities", func(t *testing.T) { testIdentities(t, newStore(t)) })
	t.Run("Nonces", func(t *testing.T) { testNonces(t, newStore(t)) })
	t.Run("NonceSingleUseUnderConcurrency", func(t *testing.T) { testConcurrentNonce(t, newStore(t)) })
	t.Run("Sessions", func(t *testing.T) { testSessions(t, newStore(t)) })
	t.Run("Institutions", func(t *testing.T) { testInstitutions(t, newStore(t)) })
	t.Run("CredentialTokenAllocation", func(t *testing.T) { testTokenAllocation(t, newStore(t)) })
	t.Run("ConcurrentCreatesGetDistinctTokens", func(t *testing.T) { testConcurrentCreates(t, newStore(t)) })
	t.Run("CredentialLookups", func(t *testing.T) { testCredentialLookups(t, newStore(t)) })
	t.Run("CredentialHashesUniqueAcrossColumns", func(t *testing.T) { testCrossColumnHashes(t, newStore(t)) })
	t.Run("CredentialListing", func(t *testing.T) { testCredentialListing(t, newStore(t)) })
	t.Run("VerificationLog", func(t *testing.T) { testVerificationLog(t, newStore(t)) })
}

// Wallet returns a deterministic, well-formed lowercase wallet address for n.
func Wallet(n int) string {
	return fmt.Sprintf("0x%040x", n)
}

var base = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func seedInstitution(t *testing.T, s store.Store, n int) model.Institution {
	t.Helper()
	ctx := context.Background()
	owner, err := s.CreateIdentity(ctx, model.Identity{
		WalletAddress: Wallet(1000 + n),
		Name:          fmt.Sprintf("Registrar %d", n),
		Role:          model.RoleInstitution,
		IsActive:      true,
	})
	require.NoError(t, err)
	inst, err := s.CreateInstitution(ctx, model.Institution{
		IdentityID:         owner.ID,
		WalletAddress:      owner.WalletAddress,
		Name:               fmt.Sprintf("Institute %d", n),
		RegistrationNumber: fmt.Sprintf("REG-%d", n),
		Type:               model.InstitutionUniversity,
		Country:            "NG",
		VerificationStatus: model.InstitutionVerified,
		IsActive:           true,
	})
	require.NoError(t, err)
	return inst
}

func newCredential(inst model.Institution, student string, issued time.Time) model.Credential {
	return model.Credential{
		InstitutionID:     inst.ID,
		InstitutionWallet: inst.WalletAddress,
		StudentWallet:     student,
		CredentialType:    model.TypeDegree,
		CourseName:        "Computer Science",
		StudentName:       "Ada Obi",
		StudentID:         "CS/2020/001",
		IssueDate:         issued,
		Status:            model.StatusDraft,
	}
}

func testIdentities(t *testing.T, s store.Store) {
	ctx := context.Background()

	created, err := s.CreateIdentity(ctx, model.Identity{
		Email:        "  Ada@Example.COM ",
		PasswordHash: "$2a$10$hash",
		Name:         "Ada",
		Role:         model.RoleStudent,
		IsActive:     true,
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, "ada@example.com", created.Email)

	byEmail, err := s.GetIdentityByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)
	assert.Equal(t, "$2a$10$hash", byEmail.PasswordHash)

	_, err = s.CreateIdentity(ctx, model.Identity{Email: "ada@example.com", Name: "Other", Role: model.RoleStudent})
	assert.True(t, apperr.HasCode(err, apperr.CodeConflict), "duplicate email: %v", err)

	walletOwner, err := s.CreateIdentity(ctx, model.Identity{WalletAddress: Wallet(1), Name: "W", Role: model.RoleVerifier})
	require.NoError(t, err)
	_, err = s.CreateIdentity(ctx, model.Identity{WalletAddress: Wallet(1), Name: "W2", Role: model.RoleVerifier})
	assert.True(t, apperr.HasCode(err, apperr.CodeConflict), "duplicate wallet: %v", err)

	// identities without email or wallet do not collide with each other
	_, err = s.CreateIdentity(ctx, model.Identity{Name: "Nobody", Role: model.RoleStudent})
	require.NoError(t, err)
	_, err = s.CreateIdentity(ctx, model.Identity{Name: "Nobody 2", Role: model.RoleStudent})
	require.NoError(t, err)

	_, err = s.UpdateIdentity(ctx, walletOwner.ID, func(i *model.Identity) error {
		i.Email = "ada@example.com"
		return nil
	})
	assert.True(t, apperr.HasCode(err, apperr.CodeConflict), "update into taken email: %v", err)

	updated, err := s.UpdateIdentity(ctx, walletOwner.ID, func(i *model.Identity) error {
		i.Name = "Renamed"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, Wallet(1), updated.WalletAddress)

	_, err = s.UpdateIdentity(ctx, walletOwner.ID, func(i *model.Identity) error {
		return apperr.New(apperr.CodeValidation, "rejected")
	})
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))
	unchanged, err := s.GetIdentity(ctx, walletOwner.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", unchanged.Name)

	_, err = s.GetIdentity(ctx, uuid.New())
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))
	_, err = s.GetIdentityByWallet(ctx, Wallet(999))
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))

	require.NoError(t, s.DeleteIdentity(ctx, walletOwner.ID))
	_, err = s.GetIdentityByWallet(ctx, Wallet(1))
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))
	assert.True(t, apperr.HasCode(s.DeleteIdentity(ctx, walletOwner.ID), apperr.CodeNotFound))
}

func testNonces(t *testing.T, s store.Store) {
	ctx := context.Background()
	wallet := Wallet(7)

	placeholder, err := s.SetNonce(ctx, "0x"+fmt.Sprintf("%040X", 7), "111111", model.RoleStudent, base)
	require.NoError(t, err)
	assert.Equal(t, wallet, placeholder.WalletAddress)
	assert.True(t, placeholder.IsPlaceholder())
	assert.Equal(t, model.RoleStudent, placeholder.Role)
	assert.True(t, placeholder.IsActive)

	// reissuing replaces the nonce on the same identity
	again, err := s.SetNonce(ctx, wallet, "222222", model.RoleVerifier, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, placeholder.ID, again.ID)
	assert.Equal(t, model.RoleStudent, again.Role)
	assert.Equal(t, "222222", again.Nonce)

	_, err = s.ConsumeNonce(ctx, wallet, "111111", base.Add(-time.Hour), base.Add(2*time.Minute))
	assert.True(t, apperr.HasCode(err, apperr.CodeUnauthorized), "stale nonce: %v", err)

	// issued before the cutoff counts as expired
	_, err = s.ConsumeNonce(ctx, wallet, "222222", base.Add(time.Hour), base.Add(2*time.Minute))
	assert.True(t, apperr.HasCode(err, apperr.CodeUnauthorized), "expired nonce: %v", err)

	consumed, err := s.ConsumeNonce(ctx, wallet, "222222", base.Add(-time.Hour), base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, placeholder.ID, consumed.ID)
	assert.Empty(t, consumed.Nonce)
	require.NotNil(t, consumed.LastLoginAt)
	assert.WithinDuration(t, base.Add(2*time.Minute), *consumed.LastLoginAt, time.Millisecond)

	_, err = s.ConsumeNonce(ctx, wallet, "222222", base.Add(-time.Hour), base.Add(3*time.Minute))
	assert.True(t, apperr.HasCode(err, apperr.CodeUnauthorized), "replayed nonce: %v", err)

	_, err = s.ConsumeNonce(ctx, Wallet(8), "222222", base.Add(-time.Hour), base)
	assert.True(t, apperr.HasCode(err, apperr.CodeUnauthorized), "unknown wallet: %v", err)
}

func testConcurrentNonce(t *testing.T, s store.Store) {
	ctx := context.Background()
	wallet := Wallet(9)
	_, err := s.SetNonce(ctx, wallet, "424242", model.RoleStudent, base)
	require.NoError(t, err)

	const callers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		denied    int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ConsumeNonce(ctx, wallet, "424242", base.Add(-time.Hour), base.Add(time.Second))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case apperr.HasCode(err, apperr.CodeUnauthorized):
				denied++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, denied)
}

func testSessions(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner, err := s.CreateIdentity(ctx, model.Identity{Email: "s@example.com", Name: "S", Role: model.RoleStudent})
	require.NoError(t, err)

	sess := model.Session{ID: uuid.New(), IdentityID: owner.ID, CreatedAt: base, ExpiresAt: base.Add(time.Hour)}
	require.NoError(t, s.CreateSession(ctx, sess))
	assert.True(t, apperr.HasCode(s.CreateSession(ctx, sess), apperr.CodeConflict))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, owner.ID, got.IdentityID)
	assert.True(t, got.Active(base.Add(time.Minute)))
	assert.False(t, got.Active(base.Add(2*time.Hour)))

	require.NoError(t, s.RevokeSession(ctx, sess.ID, base.Add(time.Minute)))
	require.NoError(t, s.RevokeSession(ctx, sess.ID, base.Add(5*time.Minute)))
	got, err = s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RevokedAt)
	assert.WithinDuration(t, base.Add(time.Minute), *got.RevokedAt, time.Millisecond)
	assert.False(t, got.Active(base.Add(2*time.Minute)))

	assert.True(t, apperr.HasCode(s.RevokeSession(ctx, uuid.New(), base), apperr.CodeNotFound))
	_, err = s.GetSession(ctx, uuid.New())
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))
}

func testInstitutions(t *testing.T, s store.Store) {
	ctx := context.Background()
	zeta := seedInstitution(t, s, 3)
	alpha := seedInstitution(t, s, 1)
	mid := seedInstitution(t, s, 2)

	_, err := s.CreateInstitution(ctx, model.Institution{
		IdentityID:         alpha.IdentityID,
		WalletAddress:      alpha.WalletAddress,
		Name:               "Copy",
		RegistrationNumber: "REG-NEW",
		Type:               model.InstitutionCollege,
		Country:            "NG",
		VerificationStatus: model.InstitutionPending,
		IsActive:           true,
	})
	assert.True(t, apperr.HasCode(err, apperr.CodeConflict), "duplicate wallet: %v", err)

	other, err := s.CreateIdentity(ctx, model.Identity{WalletAddress: Wallet(55), Name: "Other", Role: model.RoleInstitution})
	require.NoError(t, err)
	_, err = s.CreateInstitution(ctx, model.Institution{
		IdentityID:         other.ID,
		WalletAddress:      other.WalletAddress,
		Name:               "Copy",
		RegistrationNumber: "REG-1",
		Type:               model.InstitutionCollege,
		Country:            "NG",
		VerificationStatus: model.InstitutionPending,
		IsActive:           true,
	})
	assert.True(t, apperr.HasCode(err, apperr.CodeConflict), "duplicate registration number: %v", err)

	byWallet, err := s.GetInstitutionByWallet(ctx, alpha.WalletAddress)
	require.NoError(t, err)
	assert.Equal(t, alpha.ID, byWallet.ID)

	updated, err := s.UpdateInstitution(ctx, mid.ID, func(i *model.Institution) error {
		i.VerificationStatus = model.InstitutionUnderReview
		i.VerificationDocuments = []model.VerificationDocument{{Name: "charter.pdf", Hash: "Qm123", UploadedAt: base}}
		i.Country = "GH"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, model.InstitutionUnderReview, updated.VerificationStatus)
	require.Len(t, updated.VerificationDocuments, 1)
	assert.Equal(t, "Qm123", updated.VerificationDocuments[0].Hash)

	_, err = s.UpdateInstitution(ctx, zeta.ID, func(i *model.Institution) error {
		i.IsActive = false
		return nil
	})
	require.NoError(t, err)

	all, total, err := s.ListInstitutions(ctx, store.InstitutionFilter{}, model.Page{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"Institute 1", "Institute 2", "Institute 3"}, []string{all[0].Name, all[1].Name, all[2].Name})

	verified, total, err := s.ListInstitutions(ctx, store.InstitutionFilter{Status: model.InstitutionVerified, ActiveOnly: true}, model.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, verified, 1)
	assert.Equal(t, alpha.ID, verified[0].ID)

	ghana, total, err := s.ListInstitutions(ctx, store.InstitutionFilter{Country: "GH"}, model.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, mid.ID, ghana[0].ID)

	second, total, err := s.ListInstitutions(ctx, store.InstitutionFilter{}, model.Page{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, second, 1)
	assert.Equal(t, "Institute 3", second[0].Name)

	require.NoError(t, s.IncrementCredentialsIssued(ctx, alpha.ID))
	require.NoError(t, s.IncrementCredentialsIssued(ctx, alpha.ID))
	got, err := s.GetInstitution(ctx, alpha.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.CredentialsIssued)
	assert.True(t, apperr.HasCode(s.IncrementCredentialsIssued(ctx, uuid.New()), apperr.CodeNotFound))
}

func testTokenAllocation(t *testing.T, s store.Store) {
	ctx := context.Background()
	inst := seedInstitution(t, s, 1)

	first, err := s.CreateCredential(ctx, newCredential(inst, Wallet(2), base), store.CreateOptions{AssignTokenID: true})
	require.NoError(t, err)
	require.NotNil(t, first.TokenID)
	assert.EqualValues(t, 1, *first.TokenID)

	// an externally recorded id the allocator has not reached yet
	external := newCredential(inst, Wallet(2), base)
	ext := int64(2)
	external.TokenID = &ext
	_, err = s.CreateCredential(ctx, external, store.CreateOptions{})
	require.NoError(t, err)

	next, err := s.CreateCredential(ctx, newCredential(inst, Wallet(2), base), store.CreateOptions{AssignTokenID: true})
	require.NoError(t, err)
	require.NotNil(t, next.TokenID)
	assert.EqualValues(t, 3, *next.TokenID, "allocator skips ids already taken")

	unassigned, err := s.CreateCredential(ctx, newCredential(inst, Wallet(2), base), store.CreateOptions{})
	require.NoError(t, err)
	assert.Nil(t, unassigned.TokenID)

	dup := newCredential(inst, Wallet(2), base)
	dup.TokenID = first.TokenID
	_, err = s.CreateCredential(ctx, dup, store.CreateOptions{})
	assert.True(t, apperr.HasCode(err, apperr.CodeConflict), "duplicate token id: %v", err)

	_, err = s.UpdateCredential(ctx, unassigned.ID, func(c *model.Credential) error {
		c.TokenID = next.TokenID
		return nil
	})
	assert.True(t, apperr.HasCode(err, apperr.CodeConflict), "update into taken token id: %v", err)
}

func testConcurrentCreates(t *testing.T, s store.Store) {
	ctx := context.Background()
	inst := seedInstitution(t, s, 1)

	const creators = 60
	ids := make([]int64, creators)
	errs := make([]error, creators)
	var wg sync.WaitGroup
	for i := range creators {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := s.CreateCredential(ctx, newCredential(inst, Wallet(3), base), store.CreateOptions{AssignTokenID: true})
			errs[i] = err
			if err == nil && c.TokenID != nil {
				ids[i] = *c.TokenID
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, creators)
	for i := range creators {
		require.NoError(t, errs[i])
		require.Positive(t, ids[i])
		assert.False(t, seen[ids[i]], "token id %d allocated twice", ids[i])
		seen[ids[i]] = true
	}

	all, err := s.AllCredentials(ctx, store.CredentialFilter{InstitutionWallet: inst.WalletAddress})
	require.NoError(t, err)
	assert.Len(t, all, creators)
}

func testCredentialLookups(t *testing.T, s store.Store) {
	ctx := context.Background()
	inst := seedInstitution(t, s, 1)

	c := newCredential(inst, "0x"+fmt.Sprintf("%040X", 4), base)
	c.DocumentHash = "0xabc"
	c.MetadataHash = "QmMeta"
	expiry := base.AddDate(2, 0, 0)
	c.ExpiryDate = &expiry
	created, err := s.CreateCredential(ctx, c, store.CreateOptions{AssignTokenID: true})
	require.NoError(t, err)
	assert.Equal(t, Wallet(4), created.StudentWallet)

	byToken, err := s.GetCredentialByTokenID(ctx, *created.TokenID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, byToken.ID)
	require.NotNil(t, byToken.ExpiryDate)
	assert.WithinDuration(t, expiry, *byToken.ExpiryDate, time.Millisecond)

	byDoc, err := s.GetCredentialByHash(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byDoc.ID)
	byMeta, err := s.GetCredentialByHash(ctx, "QmMeta")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byMeta.ID)

	_, err = s.GetCredentialByHash(ctx, "0xdef")
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))
	_, err = s.GetCredentialByHash(ctx, "")
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))
	_, err = s.GetCredentialByTokenID(ctx, 9999)
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))

	dup := newCredential(inst, Wallet(5), base)
	dup.DocumentHash = "0xabc"
	_, err = s.CreateCredential(ctx, dup, store.CreateOptions{})
	assert.True(t, apperr.HasCode(err, apperr.CodeConflict), "duplicate document hash: %v", err)

	// empty hashes never collide
	_, err = s.CreateCredential(ctx, newCredential(inst, Wallet(5), base), store.CreateOptions{})
	require.NoError(t, err)
	_, err = s.CreateCredential(ctx, newCredential(inst, Wallet(5), base), store.CreateOptions{})
	require.NoError(t, err)

	revokedAt := base.Add(time.Hour)
	updated, err := s.UpdateCredential(ctx, created.ID, func(c *model.Credential) error {
		c.Status = model.StatusRevoked
		c.RevocationReason = "issued in error"
		c.RevokedAt = &revokedAt
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusRevoked, updated.Status)
	require.NotNil(t, updated.RevokedAt)

	at := base.Add(2 * time.Hour)
	counted, err := s.RecordVerification(ctx, created.ID, at)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counted.VerificationCount)
	counted, err = s.RecordVerification(ctx, created.ID, at.Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 2, counted.VerificationCount)
	require.NotNil(t, counted.LastVerifiedAt)
	assert.WithinDuration(t, at.Add(time.Minute), *counted.LastVerifiedAt, time.Millisecond)
	assert.Equal(t, model.StatusRevoked, counted.Status)

	_, err = s.RecordVerification(ctx, uuid.New(), at)
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))

	require.NoError(t, s.DeleteCredential(ctx, created.ID))
	_, err = s.GetCredential(ctx, created.ID)
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))
	assert.True(t, apperr.HasCode(s.DeleteCredential(ctx, created.ID), apperr.CodeNotFound))
}

func testCrossColumnHashes(t *testing.T, s store.Store) {
	ctx := context.Background()
	inst := seedInstitution(t, s, 1)

	first := newCredential(inst, Wallet(6), base)
	first.DocumentHash = "QmShared"
	first.MetadataHash = "QmFirstMeta"
	created, err := s.CreateCredential(ctx, first, store.CreateOptions{AssignTokenID: true})
	require.NoError(t, err)

	asMeta := newCredential(inst, Wallet(7), base)
	asMeta.MetadataHash = "QmShared"
	_, err = s.CreateCredential(ctx, asMeta, store.CreateOptions{})
	assert.True(t, apperr.HasCode(err, apperr.CodeConflict), "metadata hash equal to another document hash: %v", err)

	asDoc := newCredential(inst, Wallet(7), base)
	asDoc.DocumentHash = "QmFirstMeta"
	_, err = s.CreateCredential(ctx, asDoc, store.CreateOptions{})
	assert.True(t, apperr.HasCode(err, apperr.CodeConflict), "document hash equal to another metadata hash: %v", err)

	other, err := s.CreateCredential(ctx, newCredential(inst, Wallet(7), base), store.CreateOptions{})
	require.NoError(t, err)
	_, err = s.UpdateCredential(ctx, other.ID, func(c *model.Credential) error {
		c.MetadataHash = "QmShared"
		return nil
	})
	assert.True(t, apperr.HasCode(err, apperr.CodeConflict), "update onto a taken hash: %v", err)

	// a record may reuse its own hash in both columns
	_, err = s.UpdateCredential(ctx, created.ID, func(c *model.Credential) error {
		c.MetadataHash = c.DocumentHash
		return nil
	})
	require.NoError(t, err)

	found, err := s.GetCredentialByHash(ctx, "QmShared")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
}

func testCredentialListing(t *testing.T, s store.Store) {
	ctx := context.Background()
	instA := seedInstitution(t, s, 1)
	instB := seedInstitution(t, s, 2)
	student := Wallet(6)

	older := newCredential(instA, student, base.AddDate(-2, 0, 0))
	older.Status = model.StatusIssued
	newest := newCredential(instB, student, base)
	newest.Status = model.StatusRevoked
	middle := newCredential(instA, student, base.AddDate(-1, 0, 0))
	middle.Status = model.StatusIssued
	draft := newCredential(instA, student, base.AddDate(1, 0, 0))
	for _, c := range []model.Credential{older, newest, middle, draft} {
		_, err := s.CreateCredential(ctx, c, store.CreateOptions{})
		require.NoError(t, err)
	}
	_, err := s.CreateCredential(ctx, newCredential(instA, Wallet(77), base), store.CreateOptions{})
	require.NoError(t, err)

	visible, total, err := s.ListCredentials(ctx, store.CredentialFilter{
		StudentWallet: student,
		Statuses:      []model.CredentialStatus{model.StatusIssued, model.StatusRevoked},
	}, model.Page{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, visible, 3)
	assert.True(t, visible[0].IssueDate.Equal(base))
	assert.True(t, visible[1].IssueDate.Equal(base.AddDate(-1, 0, 0)))
	assert.True(t, visible[2].IssueDate.Equal(base.AddDate(-2, 0, 0)))

	fromA, total, err := s.ListCredentials(ctx, store.CredentialFilter{InstitutionWallet: instA.WalletAddress}, model.Page{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, fromA, 2)

	rest, _, err := s.ListCredentials(ctx, store.CredentialFilter{InstitutionWallet: instA.WalletAddress}, model.Page{Page: 3, Limit: 2})
	require.NoError(t, err)
	assert.Empty(t, rest)

	far, total, err := s.ListCredentials(ctx, store.CredentialFilter{}, model.Page{Page: math.MaxInt64, Limit: 20})
	require.NoError(t, err, "an out-of-range page is empty, not an error")
	assert.Empty(t, far)
	assert.Positive(t, total)

	all, err := s.AllCredentials(ctx, store.CredentialFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func testVerificationLog(t *testing.T, s store.Store) {
	ctx := context.Background()
	loc := time.FixedZone("UTC+1", 3600)
	token := int64(7)
	other := int64(8)

	entries := []model.VerificationLogEntry{
		{TokenID: &token, Identifier: "7", Result: model.ResultValid, CreatedAt: base.Add(-48 * time.Hour)},
		{TokenID: &token, Identifier: "7", Result: model.ResultRevoked, CreatedAt: base.Add(-time.Hour)},
		{TokenID: &other, Identifier: "8", Result: model.ResultValid, CreatedAt: base},
		// 23:30 UTC is already the next day one hour east
		{TokenID: &token, Identifier: "7", Result: model.ResultValid, IPAddress: "10.0.0.1", CreatedAt: time.Date(2024, 3, 10, 23, 30, 0, 0, time.UTC)},
		{Identifier: "0xnothing", Result: model.ResultNotFound, VerifierWallet: "0x" + fmt.Sprintf("%040X", 12), CreatedAt: base.Add(time.Minute)},
	}
	for _, e := range entries {
		saved, err := s.AppendVerification(ctx, e)
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, saved.ID)
	}

	history, total, err := s.ListVerifications(ctx, token, model.Page{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, history, 3)
	assert.True(t, history[0].CreatedAt.After(history[1].CreatedAt))
	assert.True(t, history[1].CreatedAt.After(history[2].CreatedAt))
	assert.Equal(t, "10.0.0.1", history[0].IPAddress)

	page2, _, err := s.ListVerifications(ctx, token, model.Page{Page: 2, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Equal(t, model.ResultValid, page2[0].Result)

	n, err := s.CountVerifications(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	n, err = s.CountVerifications(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	stats, err := s.DailyVerificationStats(ctx, base.Add(-72*time.Hour), loc)
	require.NoError(t, err)
	assert.Equal(t, []model.DailyVerificationStat{
		{Date: "2024-03-08", Count: 1, ValidCount: 1},
		{Date: "2024-03-10", Count: 3, ValidCount: 1},
		{Date: "2024-03-11", Count: 1, ValidCount: 1},
	}, stats)
}
