package handlers

import (
	"net/http"
	"time"

	"github.com/certifychain/server/internal/auth"
	"github.com/certifychain/server/internal/middleware"
	"github.com/certifychain/server/internal/model"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService      *auth.AuthService
	ipLimiter        *middleware.RateLimiter
	challengeLimiter *middleware.RateLimiter
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *auth.AuthService) *AuthHandler {
	// 20 auth attempts per IP and 10 challenges per wallet, both per 10 minutes
	return &AuthHandler{
		authService:      authService,
		ipLimiter:        middleware.NewRateLimiter(10*time.Minute, 20),
		challengeLimiter: middleware.NewRateLimiter(10*time.Minute, 10),
	}
}

// Close stops the handler's rate limiters.
func (h *AuthHandler) Close() {
	h.ipLimiter.Stop()
	h.challengeLimiter.Stop()
}

// identityResponse is the identity object in API responses. It never carries
// the password hash or the pending nonce.
type identityResponse struct {
	ID            string     `json:"id"`
	WalletAddress string     `json:"walletAddress,omitempty"`
	Email         string     `json:"email,omitempty"`
	Name          string     `json:"name,omitempty"`
	Role          model.Role `json:"role"`
	IsActive      bool       `json:"isActive"`
	LastLoginAt   *time.Time `json:"lastLogin,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

func newIdentityResponse(i model.Identity) identityResponse {
	return identityResponse{
		ID:            i.ID.String(),
		WalletAddress: i.WalletAddress,
		Email:         i.Email,
		Name:          i.Name,
		Role:          i.Role,
		IsActive:      i.IsActive,
		LastLoginAt:   i.LastLoginAt,
		CreatedAt:     i.CreatedAt,
	}
}

// sessionResponse is the data of every successful login
type sessionResponse struct {
	User      identityResponse `json:"user"`
	Token     string           `json:"token"`
	TokenType string           `json:"tokenType"`
	ExpiresAt time.Time        `json:"expiresAt"`
}

func newSessionResponse(s auth.Session) sessionResponse {
	return sessionResponse{
		User:      newIdentityResponse(s.Identity),
		Token:     s.Token,
		TokenType: "bearer",
		ExpiresAt: s.ExpiresAt,
	}
}

// registerRequest is the request body for POST /api/auth/register
type registerRequest struct {
	Email         string     `json:"email"`
	Password      string     `json:"password"`
	Name          string     `json:"name"`
	WalletAddress string     `json:"walletAddress"`
	Role          model.Role `json:"role"`
}

// loginRequest is the request body for POST /api/auth/login
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// nonceRequest is the request body for POST /api/auth/wallet/nonce
type nonceRequest struct {
	WalletAddress string `json:"walletAddress"`
}

// walletVerifyRequest is the request body for POST /api/auth/wallet/verify
type walletVerifyRequest struct {
	WalletAddress string `json:"walletAddress"`
	Signature     string `json:"signature"`
	Nonce         string `json:"nonce"`
	Name          string `json:"name"`
	Email         string `json:"email"`
}

func (h *AuthHandler) limited(w http.ResponseWriter, r *http.Request) bool {
	if !h.ipLimiter.Allow(middleware.GetIPKey(r)) {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return true
	}
	return false
}

// HandleRegister handles POST /api/auth/register
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if h.limited(w, r) {
		return
	}
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	session, err := h.authService.Register(r.Context(), auth.RegisterParams{
		Email:         req.Email,
		Password:      req.Password,
		Name:          req.Name,
		WalletAddress: req.WalletAddress,
		Role:          req.Role,
	})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusCreated, newSessionResponse(session))
}

// HandleLogin handles POST /api/auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if h.limited(w, r) {
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	if req.Email == "" || req.Password == "" {
		respondWithError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	session, err := h.authService.LoginPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, newSessionResponse(session))
}

// HandleWalletNonce handles POST /api/auth/wallet/nonce
func (h *AuthHandler) HandleWalletNonce(w http.ResponseWriter, r *http.Request) {
	var req nonceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	if !model.ValidWallet(req.WalletAddress) {
		respondWithError(w, http.StatusBadRequest, "walletAddress must be a 0x-prefixed 20-byte hex address")
		return
	}
	if !h.challengeLimiter.Allow(middleware.GetWalletKey(req.WalletAddress)) {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	challenge, err := h.authService.RequestWalletChallenge(r.Context(), req.WalletAddress)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, map[string]string{
		"nonce":   challenge.Nonce,
		"message": challenge.Message,
	})
}

// HandleWalletVerify handles POST /api/auth/wallet/verify
func (h *AuthHandler) HandleWalletVerify(w http.ResponseWriter, r *http.Request) {
	if h.limited(w, r) {
		return
	}
	var req walletVerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	session, err := h.authService.VerifyWalletSignature(r.Context(), auth.WalletLogin{
		WalletAddress: req.WalletAddress,
		Signature:     req.Signature,
		Nonce:         req.Nonce,
		Name:          req.Name,
		Email:         req.Email,
	})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, newSessionResponse(session))
}

// HandleMe handles GET /api/auth/me (protected). Returns the authenticated identity.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	who, err := h.authService.Me(r.Context(), p)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, newIdentityResponse(who))
}

// HandleLogout handles POST /api/auth/logout (protected). Revokes the current session.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if err := h.authService.Logout(r.Context(), p); err != nil {
		respondErr(w, r, err)
		return
	}
	respondMessage(w, http.StatusOK, "logged out")
}
