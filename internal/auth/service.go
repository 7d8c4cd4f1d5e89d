package auth

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/certifychain/server/internal/apperr"
	"github.com/certifychain/server/internal/identity"
	"github.com/certifychain/server/internal/log"
	"github.com/certifychain/server/internal/model"
)

const (
	methodPassword = "password"
	methodWallet   = "wallet"
	methodToken    = "token"
)

// SessionStore persists login sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, session model.Session) error
	GetSession(ctx context.Context, id uuid.UUID) (model.Session, error)
	RevokeSession(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Options configures an AuthService.
type Options struct {
	AppName string
	Metrics *Metrics
	Now     func() time.Time
}

// AuthService orchestrates authentication operations
type AuthService struct {
	identities *identity.Service
	sessions   SessionStore
	jwtService *JWTService
	appName    string
	metrics    *Metrics
	now        func() time.Time
	logger     *logrus.Entry
}

// NewAuthService creates a new auth service
func NewAuthService(identities *identity.Service, sessions SessionStore, jwtService *JWTService, opts Options) *AuthService {
	s := &AuthService{
		identities: identities,
		sessions:   sessions,
		jwtService: jwtService,
		appName:    opts.AppName,
		metrics:    opts.Metrics,
		now:        opts.Now,
		logger:     log.Logger("auth"),
	}
	if s.appName == "" {
		s.appName = "CertifyChain"
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(prometheus.NewRegistry())
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Session is the result of a successful login.
type Session struct {
	Identity  model.Identity
	Token     string
	ExpiresAt time.Time
}

// Challenge is what a wallet must sign.
type Challenge struct {
	Nonce   string
	Message string
}

// RegisterParams is the input of Register.
type RegisterParams struct {
	Email         string
	Password      string
	Name          string
	WalletAddress string
	Role          model.Role
}

// WalletLogin is the input of VerifyWalletSignature. Name and Email are only
// used (and then required) the first time a wallet authenticates.
type WalletLogin struct {
	WalletAddress string
	Signature     string
	Nonce         string
	Name          string
	Email         string
}

func unauthorized(msg string) error {
	return apperr.New(apperr.CodeUnauthorized, msg)
}

// Register creates a password identity and logs it in.
func (s *AuthService) Register(ctx context.Context, p RegisterParams) (Session, error) {
	if p.Role == "" {
		p.Role = model.RoleStudent
	}
	var v apperr.Collector
	v.Require("email", p.Email)
	v.Require("password", p.Password)
	if p.Role == model.RoleAdmin || !p.Role.Valid() {
		v.Add("role", "must be one of student, institution, verifier")
	}
	if err := v.Err(); err != nil {
		return Session{}, err
	}

	created, err := s.identities.CreateIdentity(ctx, identity.CreateParams{
		Email:         p.Email,
		Password:      p.Password,
		WalletAddress: p.WalletAddress,
		Name:          p.Name,
		Role:          p.Role,
	})
	if err != nil {
		return Session{}, err
	}
	created, err = s.identities.RecordLogin(ctx, created.ID)
	if err != nil {
		return Session{}, err
	}
	return s.startSession(ctx, created, methodPassword)
}

// LoginPassword authenticates an active identity by email and password.
func (s *AuthService) LoginPassword(ctx context.Context, email, password string) (Session, error) {
	logger := s.logger.WithField("email", log.MaskEmail(model.NormalizeEmail(email)))

	found, err := s.identities.FindByEmail(ctx, email)
	if apperr.HasCode(err, apperr.CodeNotFound) {
		s.metrics.AuthFailures.WithLabelValues(methodPassword).Inc()
		logger.Debug("Login rejected: unknown email")
		return Session{}, unauthorized("invalid credentials")
	}
	if err != nil {
		return Session{}, err
	}
	if !s.identities.VerifyPassword(found, password) {
		s.metrics.AuthFailures.WithLabelValues(methodPassword).Inc()
		logger.Debug("Login rejected: password mismatch")
		return Session{}, unauthorized("invalid credentials")
	}
	if !found.IsActive {
		s.metrics.AuthFailures.WithLabelValues(methodPassword).Inc()
		return Session{}, unauthorized("account is deactivated")
	}

	found, err = s.identities.RecordLogin(ctx, found.ID)
	if err != nil {
		return Session{}, err
	}
	return s.startSession(ctx, found, methodPassword)
}

// RequestWalletChallenge issues a nonce for wallet and returns the message to sign.
func (s *AuthService) RequestWalletChallenge(ctx context.Context, wallet string) (Challenge, error) {
	nonce, err := s.identities.IssueNonce(ctx, wallet)
	if err != nil {
		return Challenge{}, err
	}
	s.metrics.Challenges.Inc()
	return Challenge{Nonce: nonce, Message: ChallengeMessage(s.appName, nonce)}, nil
}

// VerifyWalletSignature checks that in.Signature was produced by in.WalletAddress
// over the challenge for in.Nonce, consumes the nonce and logs the wallet in.
// A wallet that only has a placeholder identity must supply a name and email.
func (s *AuthService) VerifyWalletSignature(ctx context.Context, in WalletLogin) (Session, error) {
	var v apperr.Collector
	v.Require("signature", in.Signature)
	v.Require("nonce", in.Nonce)
	if !model.ValidWallet(in.WalletAddress) {
		v.Add("walletAddress", "must be a 0x-prefixed 20-byte hex address")
	}
	if err := v.Err(); err != nil {
		return Session{}, err
	}
	wallet := model.NormalizeWallet(in.WalletAddress)
	logger := s.logger.WithField("wallet", wallet)

	recovered, err := RecoverAddress(ChallengeMessage(s.appName, strings.TrimSpace(in.Nonce)), in.Signature)
	if err != nil || recovered != wallet {
		s.metrics.AuthFailures.WithLabelValues(methodWallet).Inc()
		logger.Debug("Wallet signature rejected")
		return Session{}, unauthorized("invalid signature")
	}

	existing, err := s.identities.FindByWallet(ctx, wallet)
	if apperr.HasCode(err, apperr.CodeNotFound) {
		s.metrics.AuthFailures.WithLabelValues(methodWallet).Inc()
		return Session{}, unauthorized("invalid or expired nonce")
	}
	if err != nil {
		return Session{}, err
	}

	firstLogin := existing.IsPlaceholder()
	if firstLogin {
		if err := s.checkNewProfile(ctx, in); err != nil {
			return Session{}, err
		}
	}
	if !existing.IsActive {
		s.metrics.AuthFailures.WithLabelValues(methodWallet).Inc()
		return Session{}, unauthorized("account is deactivated")
	}

	consumed, err := s.identities.ConsumeNonce(ctx, wallet, in.Nonce)
	if err != nil {
		if apperr.HasCode(err, apperr.CodeUnauthorized) {
			s.metrics.AuthFailures.WithLabelValues(methodWallet).Inc()
			logger.Debug("Wallet nonce rejected")
		}
		return Session{}, err
	}
	if firstLogin {
		consumed, err = s.identities.CompleteProfile(ctx, consumed.ID, in.Name, in.Email)
		if err != nil {
			return Session{}, err
		}
		logger.WithField("identity_id", consumed.ID).Info("Wallet identity registered")
	}
	return s.startSession(ctx, consumed, methodWallet)
}

// checkNewProfile validates first-login profile fields before the nonce is spent.
func (s *AuthService) checkNewProfile(ctx context.Context, in WalletLogin) error {
	email := model.NormalizeEmail(in.Email)
	var v apperr.Collector
	v.Require("name", in.Name)
	v.Require("email", email)
	if err := v.Err(); err != nil {
		return apperr.Wrap(err, apperr.CodeValidation, "name and email are required for first-time wallet login")
	}
	if !identity.ValidEmail(email) {
		return apperr.Validation(apperr.Field("email", "must be a valid email address"))
	}
	_, err := s.identities.FindByEmail(ctx, email)
	switch {
	case err == nil:
		return apperr.New(apperr.CodeConflict, "email already registered")
	case apperr.HasCode(err, apperr.CodeNotFound):
		return nil
	default:
		return err
	}
}

func (s *AuthService) startSession(ctx context.Context, who model.Identity, method string) (Session, error) {
	now := s.now()
	session := model.Session{
		ID:         uuid.New(),
		IdentityID: who.ID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.jwtService.Expiry()),
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return Session{}, err
	}
	token, err := s.jwtService.SignSessionToken(who, session)
	if err != nil {
		return Session{}, err
	}

	s.metrics.Logins.WithLabelValues(method).Inc()
	s.metrics.SessionsIssued.Inc()
	s.logger.WithFields(logrus.Fields{
		"identity_id": who.ID,
		"session_id":  session.ID,
		"method":      method,
	}).Info("Session started")
	return Session{Identity: who, Token: token, ExpiresAt: session.ExpiresAt}, nil
}

// Authenticate resolves a bearer token into a Principal. The session must be
// live and the identity active; role and wallet come from the current record.
func (s *AuthService) Authenticate(ctx context.Context, token string) (model.Principal, error) {
	claims, err := s.jwtService.VerifyToken(token)
	if err != nil {
		s.metrics.AuthFailures.WithLabelValues(methodToken).Inc()
		return model.Principal{}, unauthorized("invalid or expired token")
	}

	session, err := s.sessions.GetSession(ctx, claims.SessionID)
	if apperr.HasCode(err, apperr.CodeNotFound) {
		return model.Principal{}, unauthorized("session not found")
	}
	if err != nil {
		return model.Principal{}, err
	}
	if session.IdentityID != claims.IdentityID || !session.Active(s.now()) {
		return model.Principal{}, unauthorized("session expired or revoked")
	}

	who, err := s.identities.FindByID(ctx, claims.IdentityID)
	if apperr.HasCode(err, apperr.CodeNotFound) {
		return model.Principal{}, unauthorized("identity not found")
	}
	if err != nil {
		return model.Principal{}, err
	}
	if !who.IsActive {
		return model.Principal{}, unauthorized("account is deactivated")
	}

	return model.Principal{
		IdentityID:    who.ID,
		SessionID:     session.ID,
		WalletAddress: who.WalletAddress,
		Role:          who.Role,
	}, nil
}

// Me returns the profile of the authenticated identity.
func (s *AuthService) Me(ctx context.Context, p model.Principal) (model.Identity, error) {
	return s.identities.FindByID(ctx, p.IdentityID)
}

// Logout revokes the principal's session.
func (s *AuthService) Logout(ctx context.Context, p model.Principal) error {
	if err := s.sessions.RevokeSession(ctx, p.SessionID, s.now()); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{"identity_id": p.IdentityID, "session_id": p.SessionID}).Info("Session revoked")
	return nil
}
