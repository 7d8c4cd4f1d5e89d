package model

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Role is the access role of an identity
type Role string

const (
	RoleStudent     Role = "student"
	RoleInstitution Role = "institution"
	RoleVerifier    Role = "verifier"
	RoleAdmin       Role = "admin"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleInstitution, RoleVerifier, RoleAdmin:
		return true
	}
	return false
}

// Identity represents a user account, reachable by email and/or wallet
type Identity struct {
	ID            uuid.UUID  `json:"id"`
	WalletAddress string     `json:"walletAddress,omitempty"`
	Email         string     `json:"email,omitempty"`
	PasswordHash  string     `json:"passwordHash,omitempty"`
	Name          string     `json:"name,omitempty"`
	Role          Role       `json:"role"`
	IsActive      bool       `json:"isActive"`
	Nonce         string     `json:"nonce,omitempty"`
	NonceIssuedAt *time.Time `json:"nonceIssuedAt,omitempty"`
	LastLoginAt   *time.Time `json:"lastLogin,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// IsPlaceholder reports whether the identity was only created to hold a
// wallet challenge and has no profile yet.
func (i Identity) IsPlaceholder() bool {
	return i.Email == "" && i.Name == ""
}

// Session is a login session referenced by the bearer token
type Session struct {
	ID         uuid.UUID  `json:"id"`
	IdentityID uuid.UUID  `json:"userId"`
	CreatedAt  time.Time  `json:"createdAt"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty"`
}

// Active reports whether the session can still authenticate requests
func (s Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// Principal is the authenticated caller, passed explicitly into service calls.
type Principal struct {
	IdentityID    uuid.UUID
	SessionID     uuid.UUID
	WalletAddress string
	Role          Role
}

// IsAdmin reports whether the principal holds the admin role
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// NormalizeWallet lower-cases and trims a wallet address.
func NormalizeWallet(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// ValidWallet reports whether addr is a 20-byte hex address (0x-prefixed).
func ValidWallet(addr string) bool {
	addr = strings.TrimSpace(addr)
	return strings.HasPrefix(addr, "0x") && common.IsHexAddress(addr)
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
