package auth

import (
	"context"
	"crypto/ecdsa"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/certifychain/server/internal/apperr"
	"github.com/certifychain/server/internal/identity"
	"github.com/certifychain/server/internal/model"
	"github.com/certifychain/server/internal/store/filestore"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc        *AuthService
	identities *identity.Service
	metrics    *Metrics
	clock      *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := filestore.Open(t.TempDir())
	require.NoError(t, err)
	// JWT expiry is checked against the wall clock, so start there
	clk := &testClock{now: time.Now().UTC()}
	ids := identity.NewService(st, identity.Options{BcryptCost: bcrypt.MinCost, NonceTTL: 15 * time.Minute, Now: clk.Now})
	m := NewMetrics(prometheus.NewRegistry())
	svc := NewAuthService(ids, st, NewJWTService("test-secret", 0), Options{AppName: "CertifyChain", Metrics: m, Now: clk.Now})
	return &fixture{svc: svc, identities: ids, metrics: m, clock: clk}
}

type signer struct {
	key     *ecdsa.PrivateKey
	address string
}

func newSigner(t *testing.T) signer {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return signer{key: key, address: strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())}
}

// sign produces a personal_sign signature with a 27/28 recovery id, as wallets do.
func (s signer) sign(t *testing.T, message string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), s.key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

func TestChallengeMessage(t *testing.T) {
	assert.Equal(t,
		"Sign this message to authenticate with CertifyChain.\n\nNonce: 123456",
		ChallengeMessage("CertifyChain", "123456"))
}

func TestRecoverAddress(t *testing.T) {
	s := newSigner(t)
	msg := ChallengeMessage("CertifyChain", "42")

	got, err := RecoverAddress(msg, s.sign(t, msg))
	require.NoError(t, err)
	assert.Equal(t, s.address, got)

	raw, err := crypto.Sign(accounts.TextHash([]byte(msg)), s.key)
	require.NoError(t, err)
	got, err = RecoverAddress(msg, hexutil.Encode(raw))
	require.NoError(t, err)
	assert.Equal(t, s.address, got, "0/1 recovery ids are accepted too")

	other, err := RecoverAddress(ChallengeMessage("CertifyChain", "43"), s.sign(t, msg))
	require.NoError(t, err)
	assert.NotEqual(t, s.address, other)

	_, err = RecoverAddress(msg, "0x1234")
	assert.Error(t, err)
	_, err = RecoverAddress(msg, "not hex")
	assert.Error(t, err)
}

func TestWalletLoginFirstTimeRequiresProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := newSigner(t)

	ch, err := f.svc.RequestWalletChallenge(ctx, s.address)
	require.NoError(t, err)
	assert.Equal(t, ChallengeMessage("CertifyChain", ch.Nonce), ch.Message)

	login := WalletLogin{WalletAddress: s.address, Signature: s.sign(t, ch.Message), Nonce: ch.Nonce}
	_, err = f.svc.VerifyWalletSignature(ctx, login)
	require.True(t, apperr.HasCode(err, apperr.CodeValidation), "got %v", err)

	// the nonce survives a rejected profile
	login.Name = "Chidi"
	login.Email = "chidi@example.com"
	session, err := f.svc.VerifyWalletSignature(ctx, login)
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, s.address, session.Identity.WalletAddress)
	assert.Equal(t, "Chidi", session.Identity.Name)
	assert.Equal(t, model.RoleStudent, session.Identity.Role)
	require.NotNil(t, session.Identity.LastLoginAt)
	assert.WithinDuration(t, f.clock.Now().Add(DefaultTokenExpiry), session.ExpiresAt, time.Second)
}

func TestWalletLoginMalformedEmailKeepsNonce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := newSigner(t)

	ch, err := f.svc.RequestWalletChallenge(ctx, s.address)
	require.NoError(t, err)
	login := WalletLogin{
		WalletAddress: s.address,
		Signature:     s.sign(t, ch.Message),
		Nonce:         ch.Nonce,
		Name:          "Ngozi",
		Email:         "not-an-email",
	}
	_, err = f.svc.VerifyWalletSignature(ctx, login)
	require.True(t, apperr.HasCode(err, apperr.CodeValidation), "got %v", err)
	fields := apperr.FieldsOf(err)
	require.Len(t, fields, 1)
	assert.Equal(t, "email", fields[0].Field)

	login.Email = "ngozi@example.com"
	session, err := f.svc.VerifyWalletSignature(ctx, login)
	require.NoError(t, err, "the same signed challenge is still usable")
	assert.Equal(t, "ngozi@example.com", session.Identity.Email)
}

func TestWalletSignatureIsSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := newSigner(t)

	ch, err := f.svc.RequestWalletChallenge(ctx, s.address)
	require.NoError(t, err)
	login := WalletLogin{
		WalletAddress: s.address,
		Signature:     s.sign(t, ch.Message),
		Nonce:         ch.Nonce,
		Name:          "Amaka",
		Email:         "amaka@example.com",
	}
	_, err = f.svc.VerifyWalletSignature(ctx, login)
	require.NoError(t, err)

	_, err = f.svc.VerifyWalletSignature(ctx, login)
	assert.True(t, apperr.HasCode(err, apperr.CodeUnauthorized), "replay must fail, got %v", err)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Logins.WithLabelValues(methodWallet)))
}

func TestConcurrentWalletVerificationSucceedsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := newSigner(t)

	// a returning wallet user
	_, err := f.identities.CreateIdentity(ctx, identity.CreateParams{WalletAddress: s.address, Name: "Tunde", Email: "tunde@example.com"})
	require.NoError(t, err)
	ch, err := f.svc.RequestWalletChallenge(ctx, s.address)
	require.NoError(t, err)
	login := WalletLogin{WalletAddress: s.address, Signature: s.sign(t, ch.Message), Nonce: ch.Nonce}

	const attempts = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.VerifyWalletSignature(ctx, login)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.True(t, apperr.HasCode(err, apperr.CodeUnauthorized), "got %v", err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
}

func TestWalletSignatureFromAnotherKeyIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner, attacker := newSigner(t), newSigner(t)

	ch, err := f.svc.RequestWalletChallenge(ctx, owner.address)
	require.NoError(t, err)
	_, err = f.svc.VerifyWalletSignature(ctx, WalletLogin{
		WalletAddress: owner.address,
		Signature:     attacker.sign(t, ch.Message),
		Nonce:         ch.Nonce,
		Name:          "Eve",
		Email:         "eve@example.com",
	})
	assert.True(t, apperr.HasCode(err, apperr.CodeUnauthorized))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AuthFailures.WithLabelValues(methodWallet)))

	// signature over a different nonce
	_, err = f.svc.VerifyWalletSignature(ctx, WalletLogin{
		WalletAddress: owner.address,
		Signature:     owner.sign(t, ChallengeMessage("CertifyChain", "000000")),
		Nonce:         ch.Nonce,
		Name:          "Owner",
		Email:         "owner@example.com",
	})
	assert.True(t, apperr.HasCode(err, apperr.CodeUnauthorized))
}

func TestWalletSignatureWithoutChallenge(t *testing.T) {
	f := newFixture(t)
	s := newSigner(t)
	msg := ChallengeMessage("CertifyChain", "777777")
	_, err := f.svc.VerifyWalletSignature(context.Background(), WalletLogin{
		WalletAddress: s.address, Signature: s.sign(t, msg), Nonce: "777777",
	})
	assert.True(t, apperr.HasCode(err, apperr.CodeUnauthorized))
}

func TestWalletNonceExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := newSigner(t)
	_, err := f.identities.CreateIdentity(ctx, identity.CreateParams{WalletAddress: s.address, Name: "Late", Email: "late@example.com"})
	require.NoError(t, err)

	ch, err := f.svc.RequestWalletChallenge(ctx, s.address)
	require.NoError(t, err)
	f.clock.Advance(16 * time.Minute)
	_, err = f.svc.VerifyWalletSignature(ctx, WalletLogin{WalletAddress: s.address, Signature: s.sign(t, ch.Message), Nonce: ch.Nonce})
	assert.True(t, apperr.HasCode(err, apperr.CodeUnauthorized))
}

func TestPasswordRegisterAndLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, err := f.svc.Register(ctx, RegisterParams{Email: "ngozi@example.com", Password: "hunter22", Name: "Ngozi", Role: model.RoleVerifier})
	require.NoError(t, err)
	assert.NotEmpty(t, reg.Token)
	assert.Equal(t, model.RoleVerifier, reg.Identity.Role)

	_, err = f.svc.Register(ctx, RegisterParams{Email: "x@example.com", Password: "hunter22", Name: "X", Role: model.RoleAdmin})
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation), "admin cannot self-register")

	login, err := f.svc.LoginPassword(ctx, "NGOZI@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, reg.Identity.ID, login.Identity.ID)
	assert.NotEqual(t, reg.Token, login.Token)

	_, err = f.svc.LoginPassword(ctx, "ngozi@example.com", "wrong-password")
	assert.True(t, apperr.HasCode(err, apperr.CodeUnauthorized))
	_, err = f.svc.LoginPassword(ctx, "nobody@example.com", "hunter22")
	assert.True(t, apperr.HasCode(err, apperr.CodeUnauthorized))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.AuthFailures.WithLabelValues(methodPassword)))

	admin := model.Principal{Role: model.RoleAdmin}
	_, err = f.identities.SetActive(ctx, admin, reg.Identity.ID, false)
	require.NoError(t, err)
	_, err = f.svc.LoginPassword(ctx, "ngozi@example.com", "hunter22")
	assert.True(t, apperr.HasCode(err, apperr.CodeUnauthorized), "inactive identity cannot log in")
}

func TestAuthenticateAndLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, err := f.svc.Register(ctx, RegisterParams{Email: "bola@example.com", Password: "secret1", Name: "Bola"})
	require.NoError(t, err)

	principal, err := f.svc.Authenticate(ctx, reg.Token)
	require.NoError(t, err)
	assert.Equal(t, reg.Identity.ID, principal.IdentityID)
	assert.Equal(t, model.RoleStudent, principal.Role)

	me, err := f.svc.Me(ctx, principal)
	require.NoError(t, err)
	assert.Equal(t, "bola@example.com", me.Email)

	_, err = f.svc.Authenticate(ctx, reg.Token+"x")
	assert.True(t, apperr.HasCode(err, apperr.CodeUnauthorized))
	_, err = f.svc.Authenticate(ctx, "")
	assert.True(t, apperr.HasCode(err, apperr.CodeUnauthorized))

	require.NoError(t, f.svc.Logout(ctx, principal))
	_, err = f.svc.Authenticate(ctx, reg.Token)
	assert.True(t, apperr.HasCode(err, apperr.CodeUnauthorized), "revoked session")
}

func TestAuthenticateRejectsExpiredSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg, err := f.svc.Register(ctx, RegisterParams{Email: "old@example.com", Password: "secret1", Name: "Old"})
	require.NoError(t, err)

	f.clock.Advance(DefaultTokenExpiry + time.Minute)
	_, err = f.svc.Authenticate(ctx, reg.Token)
	assert.True(t, apperr.HasCode(err, apperr.CodeUnauthorized))
}

func TestAuthenticateRejectsTokenFromAnotherSecret(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg, err := f.svc.Register(ctx, RegisterParams{Email: "k@example.com", Password: "secret1", Name: "K"})
	require.NoError(t, err)

	foreign := NewJWTService("other-secret", 0)
	forged, err := foreign.SignSessionToken(reg.Identity, model.Session{
		ID:         reg.Identity.ID,
		IdentityID: reg.Identity.ID,
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = f.svc.Authenticate(ctx, forged)
	assert.True(t, apperr.HasCode(err, apperr.CodeUnauthorized))
}
