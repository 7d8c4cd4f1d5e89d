package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certifychain/server/internal/apperr"
	"github.com/certifychain/server/internal/model"
	"github.com/certifychain/server/internal/store"
	"github.com/certifychain/server/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := Open(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestOpenCreatesDocuments(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	_, err := Open(dir)
	require.NoError(t, err)

	for _, name := range []string{usersFile, credentialsFile, institutionsFile, verificationsFile} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

func TestReopenKeepsStateAndTokenCounter(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir)
	require.NoError(t, err)
	owner, err := s.CreateIdentity(ctx, model.Identity{
		WalletAddress: storetest.Wallet(1),
		Email:         "registrar@uni.edu",
		PasswordHash:  "$2a$10$hash",
		Name:          "Registrar",
		Role:          model.RoleInstitution,
		IsActive:      true,
	})
	require.NoError(t, err)
	inst, err := s.CreateInstitution(ctx, model.Institution{
		IdentityID:         owner.ID,
		WalletAddress:      owner.WalletAddress,
		Name:               "Uni",
		RegistrationNumber: "R-1",
		Type:               model.InstitutionUniversity,
		Country:            "KE",
		VerificationStatus: model.InstitutionVerified,
		IsActive:           true,
	})
	require.NoError(t, err)
	first, err := s.CreateCredential(ctx, model.Credential{
		InstitutionID:     inst.ID,
		InstitutionWallet: inst.WalletAddress,
		StudentWallet:     storetest.Wallet(2),
		CredentialType:    model.TypeDiploma,
		CourseName:        "Nursing",
		StudentName:       "Wanjiru",
		StudentID:         "N-1",
		IssueDate:         time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
		Status:            model.StatusDraft,
	}, store.CreateOptions{AssignTokenID: true})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)

	got, err := reopened.GetIdentityByEmail(ctx, "registrar@uni.edu")
	require.NoError(t, err)
	assert.Equal(t, owner.ID, got.ID)
	assert.Equal(t, "$2a$10$hash", got.PasswordHash)

	byToken, err := reopened.GetCredentialByTokenID(ctx, *first.TokenID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, byToken.ID)

	second, err := reopened.CreateCredential(ctx, model.Credential{
		InstitutionID:     inst.ID,
		InstitutionWallet: inst.WalletAddress,
		CredentialType:    model.TypeDiploma,
		CourseName:        "Nursing",
		StudentName:       "Achieng",
		StudentID:         "N-2",
		IssueDate:         time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
		Status:            model.StatusDraft,
	}, store.CreateOptions{AssignTokenID: true})
	require.NoError(t, err)
	assert.Equal(t, *first.TokenID+1, *second.TokenID)
}

func TestFailedMutationLeavesStateUntouched(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s, err := Open(dir)
	require.NoError(t, err)

	_, err = s.CreateIdentity(ctx, model.Identity{Email: "a@b.co", Name: "A", Role: model.RoleStudent})
	require.NoError(t, err)
	_, err = s.CreateIdentity(ctx, model.Identity{Email: "a@b.co", Name: "B", Role: model.RoleStudent})
	require.True(t, apperr.HasCode(err, apperr.CodeConflict))

	reopened, err := Open(dir)
	require.NoError(t, err)
	assert.Len(t, reopened.users.Users, 1)
	assert.Len(t, s.users.Users, 1)
}

func TestCorruptDocumentIsUnavailable(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, credentialsFile), []byte("{not json"), 0o600))

	_, err := Open(dir)
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeStoreUnavailable))
}
