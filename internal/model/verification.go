package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// VerificationResult is the outcome of one verification attempt
type VerificationResult string

const (
	ResultValid    VerificationResult = "valid"
	ResultInvalid  VerificationResult = "invalid"
	ResultRevoked  VerificationResult = "revoked"
	ResultExpired  VerificationResult = "expired"
	ResultNotFound VerificationResult = "not_found"
)

// VerifierContext describes who asked for a verification and why
type VerifierContext struct {
	VerifierID     *uuid.UUID
	VerifierWallet string
	Organization   string
	Purpose        string
	IPAddress      string
	UserAgent      string
}

// VerificationLogEntry is one append-only audit record
type VerificationLogEntry struct {
	ID             uuid.UUID          `json:"id"`
	CredentialID   *uuid.UUID         `json:"credential,omitempty"`
	TokenID        *int64             `json:"tokenId,omitempty"`
	Identifier     string             `json:"identifier"`
	VerifierID     *uuid.UUID         `json:"verifier,omitempty"`
	VerifierWallet string             `json:"verifierWallet,omitempty"`
	Organization   string             `json:"organization,omitempty"`
	Purpose        string             `json:"purpose,omitempty"`
	Result         VerificationResult `json:"result"`
	IPAddress      string             `json:"ipAddress,omitempty"`
	UserAgent      string             `json:"userAgent,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
}

// DailyVerificationStat is one bucket of the daily histogram
type DailyVerificationStat struct {
	Date       string `json:"date"`
	Count      int64  `json:"count"`
	ValidCount int64  `json:"validCount"`
}

// IdentifierKind tags how an identifier is resolved
type IdentifierKind string

const (
	KindTokenID IdentifierKind = "tokenId"
	KindHash    IdentifierKind = "hash"
)

// Identifier is an explicitly tagged credential reference. JSON accepts a
// number (token id), a string (content hash) or {"kind", "value"}.
type Identifier struct {
	Kind  IdentifierKind `json:"kind"`
	Value string         `json:"value"`
}

// TokenIdentifier builds a token id identifier.
func TokenIdentifier(id int64) Identifier {
	return Identifier{Kind: KindTokenID, Value: strconv.FormatInt(id, 10)}
}

// HashIdentifier builds a content hash identifier.
func HashIdentifier(hash string) Identifier {
	return Identifier{Kind: KindHash, Value: hash}
}

// TokenID parses the value of a token id identifier.
func (i Identifier) TokenID() (int64, error) {
	if i.Kind != KindTokenID {
		return 0, fmt.Errorf("identifier is not a token id")
	}
	id, err := strconv.ParseInt(strings.TrimSpace(i.Value), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("token id must be a positive integer")
	}
	return id, nil
}

// Validate checks the kind and value.
func (i Identifier) Validate() error {
	switch i.Kind {
	case KindTokenID:
		_, err := i.TokenID()
		return err
	case KindHash:
		if strings.TrimSpace(i.Value) == "" {
			return fmt.Errorf("hash must not be empty")
		}
		return nil
	}
	return fmt.Errorf("unknown identifier kind %q", i.Kind)
}

func (i Identifier) String() string {
	return i.Value
}

// UnmarshalJSON implements json.Unmarshaler
func (i *Identifier) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty identifier")
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*i = HashIdentifier(s)
		return nil
	case '{':
		type tagged Identifier
		var t tagged
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}
		*i = Identifier(t)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("identifier must be a number, string or object")
		}
		*i = Identifier{Kind: KindTokenID, Value: n.String()}
		return nil
	}
}
