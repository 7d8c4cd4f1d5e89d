package identity

import (
	"crypto/rand"
	"errors"
	"math/big"

	"golang.org/x/crypto/bcrypt"

	"github.com/certifychain/server/internal/apperr"
)

const (
	minPasswordLength = 6
	// bcrypt ignores everything past 72 bytes
	maxPasswordLength = 72
	nonceDigits       = 12
)

// HashPassword returns the bcrypt hash of password at the given cost.
func HashPassword(password string, cost int) (string, error) {
	if len(password) < minPasswordLength {
		return "", apperr.Validation(apperr.Field("password", "must be at least 6 characters"))
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", apperr.Validation(apperr.Field("password", "must be at most 72 bytes"))
		}
		return "", apperr.Wrap(err, apperr.CodeValidation, "could not hash password")
	}
	return string(hashed), nil
}

// CheckPassword reports whether candidate matches hash. An empty hash never matches.
func CheckPassword(hash, candidate string) bool {
	if hash == "" || candidate == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate)) == nil
}

// NewNonce returns a random numeric string.
func NewNonce() (string, error) {
	buf := make([]byte, nonceDigits)
	ten := big.NewInt(10)
	for i := range buf {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		buf[i] = byte('0' + d.Int64())
	}
	return string(buf), nil
}
