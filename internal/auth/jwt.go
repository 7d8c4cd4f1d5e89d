package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/certifychain/server/internal/model"
)

// DefaultTokenExpiry is the session token lifetime when none is configured.
const DefaultTokenExpiry = 7 * 24 * time.Hour

// JWTClaims represents the session token claims
type JWTClaims struct {
	IdentityID uuid.UUID  `json:"sub"`
	SessionID  uuid.UUID  `json:"sid"`
	Role       model.Role `json:"role"`
	Wallet     string     `json:"wallet,omitempty"`
	jwt.RegisteredClaims
}

// JWTService handles JWT token operations
type JWTService struct {
	secret []byte
	expiry time.Duration
}

// NewJWTService creates a new JWT service. A non-positive expiry means DefaultTokenExpiry.
func NewJWTService(secret string, expiry time.Duration) *JWTService {
	if expiry <= 0 {
		expiry = DefaultTokenExpiry
	}
	return &JWTService{
		secret: []byte(secret),
		expiry: expiry,
	}
}

// Expiry returns the configured token lifetime.
func (s *JWTService) Expiry() time.Duration {
	return s.expiry
}

// SignSessionToken creates a token bound to identity and session, expiring with the session.
func (s *JWTService) SignSessionToken(identity model.Identity, session model.Session) (string, error) {
	claims := &JWTClaims{
		IdentityID: identity.ID,
		SessionID:  session.ID,
		Role:       identity.Role,
		Wallet:     identity.WalletAddress,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        session.ID.String(),
			IssuedAt:  jwt.NewNumericDate(session.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// VerifyToken verifies and parses a JWT token
func (s *JWTService) VerifyToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithExpirationRequired())

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.IdentityID == uuid.Nil || claims.SessionID == uuid.Nil {
		return nil, fmt.Errorf("token is missing subject or session")
	}

	return claims, nil
}
