package identity

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/certifychain/server/internal/apperr"
	"github.com/certifychain/server/internal/model"
	"github.com/certifychain/server/internal/store/filestore"
)

const wallet = "0x00000000000000000000000000000000000000aa"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newService(t *testing.T) (*Service, *clock) {
	t.Helper()
	st, err := filestore.Open(t.TempDir())
	require.NoError(t, err)
	c := &clock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	return NewService(st, Options{BcryptCost: bcrypt.MinCost, NonceTTL: 10 * time.Minute, Now: c.Now}), c
}

func TestCreateIdentityHashesPassword(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	created, err := svc.CreateIdentity(ctx, CreateParams{
		Email:    "Grace@Example.com",
		Password: "s3cret!",
		Name:     "Grace",
	})
	require.NoError(t, err)
	assert.Equal(t, "grace@example.com", created.Email)
	assert.Equal(t, model.RoleStudent, created.Role)
	assert.True(t, created.IsActive)
	assert.NotEqual(t, "s3cret!", created.PasswordHash)
	assert.True(t, strings.HasPrefix(created.PasswordHash, "$2"))

	assert.True(t, svc.VerifyPassword(created, "s3cret!"))
	assert.False(t, svc.VerifyPassword(created, "wrong"))

	_, err = svc.CreateIdentity(ctx, CreateParams{Email: "grace@example.com", Password: "another", Name: "G2"})
	assert.True(t, apperr.HasCode(err, apperr.CodeConflict))
}

func TestCreateIdentityValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		params CreateParams
		field  string
	}{
		{"missing name", CreateParams{Email: "a@b.co"}, "name"},
		{"no email or wallet", CreateParams{Name: "A"}, "email"},
		{"bad email", CreateParams{Email: "not-an-email", Name: "A"}, "email"},
		{"bad wallet", CreateParams{WalletAddress: "0x123", Name: "A"}, "walletAddress"},
		{"bad role", CreateParams{Email: "a@b.co", Name: "A", Role: "root"}, "role"},
		{"short password", CreateParams{Email: "a@b.co", Name: "A", Password: "123"}, "password"},
		{"long password", CreateParams{Email: "a@b.co", Name: "A", Password: strings.Repeat("x", 73)}, "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateIdentity(ctx, tt.params)
			require.Error(t, err)
			assert.True(t, apperr.HasCode(err, apperr.CodeValidation))
			fields := apperr.FieldsOf(err)
			require.NotEmpty(t, fields)
			assert.Equal(t, tt.field, fields[0].Field)
		})
	}
}

func TestWalletOnlyIdentityHasNoPassword(t *testing.T) {
	svc, _ := newService(t)
	created, err := svc.CreateIdentity(context.Background(), CreateParams{WalletAddress: wallet, Name: "Wally", Role: model.RoleVerifier})
	require.NoError(t, err)
	assert.Empty(t, created.PasswordHash)
	assert.False(t, svc.VerifyPassword(created, ""))
}

func TestNonceLifecycle(t *testing.T) {
	svc, clk := newService(t)
	ctx := context.Background()

	first, err := svc.IssueNonce(ctx, wallet)
	require.NoError(t, err)
	assert.Len(t, first, nonceDigits)

	placeholder, err := svc.FindByWallet(ctx, wallet)
	require.NoError(t, err)
	assert.True(t, placeholder.IsPlaceholder())

	second, err := svc.IssueNonce(ctx, wallet)
	require.NoError(t, err)

	if first != second {
		_, err = svc.ConsumeNonce(ctx, wallet, first)
		assert.True(t, apperr.HasCode(err, apperr.CodeUnauthorized), "rotated nonce must be rejected")
	}

	clk.Advance(time.Minute)
	consumed, err := svc.ConsumeNonce(ctx, wallet, second)
	require.NoError(t, err)
	require.NotNil(t, consumed.LastLoginAt)
	assert.Equal(t, clk.Now(), *consumed.LastLoginAt)

	_, err = svc.ConsumeNonce(ctx, wallet, second)
	assert.True(t, apperr.HasCode(err, apperr.CodeUnauthorized), "nonce is single use")
}

func TestNonceExpires(t *testing.T) {
	svc, clk := newService(t)
	ctx := context.Background()

	nonce, err := svc.IssueNonce(ctx, wallet)
	require.NoError(t, err)
	clk.Advance(11 * time.Minute)

	_, err = svc.ConsumeNonce(ctx, wallet, nonce)
	assert.True(t, apperr.HasCode(err, apperr.CodeUnauthorized))
}

func TestIssueNonceRejectsMalformedWallet(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.IssueNonce(context.Background(), "not-a-wallet")
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))
}

func TestCompleteProfile(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.IssueNonce(ctx, wallet)
	require.NoError(t, err)
	placeholder, err := svc.FindByWallet(ctx, wallet)
	require.NoError(t, err)

	_, err = svc.CompleteProfile(ctx, placeholder.ID, "", "")
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))

	completed, err := svc.CompleteProfile(ctx, placeholder.ID, "Wale", "wale@example.com")
	require.NoError(t, err)
	assert.False(t, completed.IsPlaceholder())

	_, err = svc.CompleteProfile(ctx, placeholder.ID, "Again", "again@example.com")
	assert.True(t, apperr.HasCode(err, apperr.CodeConflict))
}

func TestAdminOnlyOperations(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	target, err := svc.CreateIdentity(ctx, CreateParams{Email: "t@example.com", Name: "T"})
	require.NoError(t, err)

	student := model.Principal{IdentityID: uuid.New(), Role: model.RoleStudent}
	admin := model.Principal{IdentityID: uuid.New(), Role: model.RoleAdmin}

	_, err = svc.SetActive(ctx, student, target.ID, false)
	assert.True(t, apperr.HasCode(err, apperr.CodeForbidden))
	assert.True(t, apperr.HasCode(svc.Delete(ctx, student, target.ID), apperr.CodeForbidden))

	deactivated, err := svc.SetActive(ctx, admin, target.ID, false)
	require.NoError(t, err)
	assert.False(t, deactivated.IsActive)

	promoted, err := svc.SetRole(ctx, target.ID, model.RoleInstitution)
	require.NoError(t, err)
	assert.Equal(t, model.RoleInstitution, promoted.Role)

	require.NoError(t, svc.Delete(ctx, admin, target.ID))
	_, err = svc.FindByID(ctx, target.ID)
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))
}

func TestNewNonceIsNumeric(t *testing.T) {
	for range 20 {
		n, err := NewNonce()
		require.NoError(t, err)
		assert.Len(t, n, nonceDigits)
		for _, r := range n {
			assert.True(t, r >= '0' && r <= '9')
		}
	}
}
