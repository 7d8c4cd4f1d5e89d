package model

import (
	"time"

	"github.com/google/uuid"
)

// CredentialStatus is the lifecycle state of a credential. StatusExpired is
// never stored; it is derived at read time from the expiry date.
type CredentialStatus string

const (
	StatusDraft   CredentialStatus = "draft"
	StatusPending CredentialStatus = "pending"
	StatusIssued  CredentialStatus = "issued"
	StatusRevoked CredentialStatus = "revoked"
	StatusExpired CredentialStatus = "expired"
)

// Valid reports whether s is a known status, including the derived one
func (s CredentialStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusIssued, StatusRevoked, StatusExpired:
		return true
	}
	return false
}

// CredentialType is the kind of academic credential
type CredentialType string

const (
	TypeDegree       CredentialType = "degree"
	TypeMasters      CredentialType = "masters"
	TypePhD          CredentialType = "phd"
	TypeDiploma      CredentialType = "diploma"
	TypeCertificate  CredentialType = "certificate"
	TypeTranscript   CredentialType = "transcript"
	TypeCourse       CredentialType = "course"
	TypeProfessional CredentialType = "professional"
)

// Valid reports whether t is a known credential type
func (t CredentialType) Valid() bool {
	switch t {
	case TypeDegree, TypeMasters, TypePhD, TypeDiploma, TypeCertificate, TypeTranscript, TypeCourse, TypeProfessional:
		return true
	}
	return false
}

// Credential is an academic credential issued by an institution to a student
type Credential struct {
	ID                uuid.UUID        `json:"id"`
	InstitutionID     uuid.UUID        `json:"institution"`
	InstitutionWallet string           `json:"institutionWallet"`
	StudentIdentityID *uuid.UUID       `json:"student,omitempty"`
	StudentWallet     string           `json:"studentWallet,omitempty"`
	StudentEmail      string           `json:"studentEmail,omitempty"`
	CredentialType    CredentialType   `json:"credentialType"`
	CourseName        string           `json:"courseName"`
	StudentName       string           `json:"studentName"`
	StudentID         string           `json:"studentId"`
	Grade             string           `json:"grade,omitempty"`
	Description       string           `json:"description,omitempty"`
	IssueDate         time.Time        `json:"issueDate"`
	ExpiryDate        *time.Time       `json:"expiryDate,omitempty"`
	DocumentHash      string           `json:"documentHash,omitempty"`
	MetadataHash      string           `json:"metadataHash,omitempty"`
	MetadataURL       string           `json:"metadataUrl,omitempty"`
	Status            CredentialStatus `json:"status"`
	RevocationReason  string           `json:"revocationReason,omitempty"`
	RevokedAt         *time.Time       `json:"revokedAt,omitempty"`
	VerificationCount int64            `json:"verificationCount"`
	LastVerifiedAt    *time.Time       `json:"lastVerifiedAt,omitempty"`
	TokenID           *int64           `json:"tokenId,omitempty"`
	TransactionHash   string           `json:"transactionHash,omitempty"`
	BlockNumber       *int64           `json:"blockNumber,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

// IsExpired reports whether the expiry date lies before now.
func (c Credential) IsExpired(now time.Time) bool {
	return c.ExpiryDate != nil && c.ExpiryDate.Before(now)
}

// EffectiveStatus is the status reported to callers: an issued credential
// past its expiry date reads as expired.
func (c Credential) EffectiveStatus(now time.Time) CredentialStatus {
	if c.Status == StatusIssued && c.IsExpired(now) {
		return StatusExpired
	}
	return c.Status
}

// CredentialStats summarizes credentials of one institution or the whole store
type CredentialStats struct {
	Total   int                    `json:"total"`
	Draft   int                    `json:"draft"`
	Pending int                    `json:"pending"`
	Issued  int                    `json:"issued"`
	Revoked int                    `json:"revoked"`
	Expired int                    `json:"expired"`
	ByType  map[CredentialType]int `json:"byType"`
}
