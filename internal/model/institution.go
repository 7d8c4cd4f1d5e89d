package model

import (
	"time"

	"github.com/google/uuid"
)

// InstitutionStatus is the verification status of an institution
type InstitutionStatus string

const (
	InstitutionPending     InstitutionStatus = "pending"
	InstitutionUnderReview InstitutionStatus = "under_review"
	InstitutionVerified    InstitutionStatus = "verified"
	InstitutionRejected    InstitutionStatus = "rejected"
)

// InstitutionType classifies an issuing institution
type InstitutionType string

const (
	InstitutionUniversity     InstitutionType = "university"
	InstitutionCollege        InstitutionType = "college"
	InstitutionTrainingCenter InstitutionType = "training_center"
	InstitutionOnlinePlatform InstitutionType = "online_platform"
	InstitutionOther          InstitutionType = "other"
)

// Valid reports whether t is a known institution type
func (t InstitutionType) Valid() bool {
	switch t {
	case InstitutionUniversity, InstitutionCollege, InstitutionTrainingCenter, InstitutionOnlinePlatform, InstitutionOther:
		return true
	}
	return false
}

// VerificationDocument is a supporting document submitted for institution review
type VerificationDocument struct {
	Name       string    `json:"name"`
	Hash       string    `json:"ipfsHash"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Institution is a credential issuer linked to an identity and wallet
type Institution struct {
	ID                    uuid.UUID              `json:"id"`
	IdentityID            uuid.UUID              `json:"user"`
	WalletAddress         string                 `json:"walletAddress"`
	Name                  string                 `json:"name"`
	RegistrationNumber    string                 `json:"registrationNumber"`
	Type                  InstitutionType        `json:"institutionType"`
	Country               string                 `json:"country"`
	Email                 string                 `json:"email,omitempty"`
	Website               string                 `json:"website,omitempty"`
	Logo                  string                 `json:"logo,omitempty"`
	Description           string                 `json:"description,omitempty"`
	VerificationStatus    InstitutionStatus      `json:"verificationStatus"`
	VerificationDocuments []VerificationDocument `json:"verificationDocuments,omitempty"`
	RejectionReason       string                 `json:"rejectionReason,omitempty"`
	VerifiedAt            *time.Time             `json:"verifiedAt,omitempty"`
	IsActive              bool                   `json:"isActive"`
	CredentialsIssued     int64                  `json:"credentialsIssued"`
	CreatedAt             time.Time              `json:"createdAt"`
	UpdatedAt             time.Time              `json:"updatedAt"`
}

// CanIssue reports whether the institution currently passes the issuer gate.
func (i Institution) CanIssue() bool {
	return i.VerificationStatus == InstitutionVerified && i.IsActive
}
