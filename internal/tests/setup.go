package tests

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/certifychain/server/internal/app"
	"github.com/certifychain/server/internal/config"
	"github.com/certifychain/server/internal/db"
	"github.com/certifychain/server/internal/http/handlers"
	"github.com/certifychain/server/internal/identity"
	"github.com/certifychain/server/internal/model"
	"github.com/certifychain/server/internal/store"
	"github.com/certifychain/server/internal/store/filestore"
	"github.com/certifychain/server/internal/store/postgres"
)

const testJWTSecret = "test-jwt-secret-at-least-32-characters-long"

// testServer is a fully wired API behind httptest.
type testServer struct {
	App    *app.App
	Server *httptest.Server
}

func testConfig(backend string) *config.Config {
	return &config.Config{
		StorageBackend: backend,
		JWTSecret:      testJWTSecret,
		JWTExpiresIn:   7 * 24 * time.Hour,
		AppName:        "CertifyChain",
		NonceTTL:       15 * time.Minute,
		StatsLocation:  time.UTC,
		BcryptCost:     bcrypt.MinCost,
	}
}

// backends lists the storage backends the end-to-end suite runs against.
// Postgres is included when DATABASE_URL is set.
func backends() []string {
	out := []string{config.BackendFile}
	if os.Getenv("DATABASE_URL") != "" {
		out = append(out, config.BackendPostgres)
	}
	return out
}

func newTestServer(t *testing.T, backend string) *testServer {
	t.Helper()
	cfg := testConfig(backend)

	var (
		st   store.Store
		ping handlers.Pinger
	)
	switch backend {
	case config.BackendFile:
		fs, err := filestore.Open(t.TempDir())
		require.NoError(t, err)
		st = fs
	case config.BackendPostgres:
		database, err := db.Open(context.Background(), os.Getenv("DATABASE_URL"))
		require.NoError(t, err, "database open must succeed; check DATABASE_URL and that test DB exists")
		require.NoError(t, db.Migrate(database), "migrations must run successfully")
		require.NoError(t, db.Reset(database))
		st = postgres.New(database)
		ping = database
	}

	a := app.New(cfg, st, ping)
	server := httptest.NewServer(a.Handler)
	t.Cleanup(func() {
		server.Close()
		_ = a.Close()
	})
	return &testServer{App: a, Server: server}
}

// envelope mirrors the API response body.
type envelope[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// call performs a request and returns the status and raw body.
func (s *testServer) call(t *testing.T, method, path, token string, body any, headers ...string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.Server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := s.Server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

// decode unmarshals an envelope body.
func decode[T any](t *testing.T, raw []byte) envelope[T] {
	t.Helper()
	var env envelope[T]
	require.NoError(t, json.Unmarshal(raw, &env), "body: %s", raw)
	return env
}

// wallet is an Ethereum account that signs login challenges.
type wallet struct {
	key     *ecdsa.PrivateKey
	address string
}

func newWallet(t *testing.T) wallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return wallet{key: key, address: strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())}
}

// sign produces a personal_sign signature the way browser wallets do.
func (w wallet) sign(t *testing.T, message string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), w.key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

type challengeData struct {
	Nonce   string `json:"nonce"`
	Message string `json:"message"`
}

type sessionData struct {
	Token     string `json:"token"`
	TokenType string `json:"tokenType"`
	User      struct {
		ID            string     `json:"id"`
		WalletAddress string     `json:"walletAddress"`
		Name          string     `json:"name"`
		Role          model.Role `json:"role"`
	} `json:"user"`
}

// walletLogin runs the challenge flow and returns the session token.
func (s *testServer) walletLogin(t *testing.T, w wallet, name, email string) string {
	t.Helper()
	status, raw := s.call(t, http.MethodPost, "/api/auth/wallet/nonce", "", map[string]string{"walletAddress": w.address})
	require.Equal(t, http.StatusOK, status, "body: %s", raw)
	ch := decode[challengeData](t, raw).Data

	status, raw = s.call(t, http.MethodPost, "/api/auth/wallet/verify", "", map[string]string{
		"walletAddress": w.address,
		"signature":     w.sign(t, ch.Message),
		"nonce":         ch.Nonce,
		"name":          name,
		"email":         email,
	})
	require.Equal(t, http.StatusOK, status, "body: %s", raw)
	return decode[sessionData](t, raw).Data.Token
}

// adminToken creates an administrator directly in the store and logs in.
func (s *testServer) adminToken(t *testing.T) string {
	t.Helper()
	_, err := s.App.Identities.CreateIdentity(context.Background(), identity.CreateParams{
		Email:    "admin@certifychain.test",
		Password: "admin-password-1",
		Name:     "Registrar",
		Role:     model.RoleAdmin,
	})
	require.NoError(t, err)

	status, raw := s.call(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "admin@certifychain.test",
		"password": "admin-password-1",
	})
	require.Equal(t, http.StatusOK, status, "body: %s", raw)
	return decode[sessionData](t, raw).Data.Token
}
