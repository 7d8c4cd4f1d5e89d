package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/certifychain/server/internal/middleware"
	"github.com/certifychain/server/internal/model"
	"github.com/certifychain/server/internal/verification"
)

// VerificationHandler handles the public verification endpoints
type VerificationHandler struct {
	engine *verification.Engine
}

// NewVerificationHandler creates a new verification handler
func NewVerificationHandler(engine *verification.Engine) *VerificationHandler {
	return &VerificationHandler{engine: engine}
}

// verifiedCredential is the public projection of a verified credential.
// Student contact details are not part of it.
type verifiedCredential struct {
	TokenID         *int64                 `json:"tokenId,omitempty"`
	StudentName     string                 `json:"studentName"`
	StudentID       string                 `json:"studentId"`
	StudentWallet   string                 `json:"studentWallet,omitempty"`
	CredentialType  model.CredentialType   `json:"credentialType"`
	CourseName      string                 `json:"courseName"`
	Grade           string                 `json:"grade,omitempty"`
	IssueDate       time.Time              `json:"issueDate"`
	ExpiryDate      *time.Time             `json:"expiryDate,omitempty"`
	Status          model.CredentialStatus `json:"status"`
	DocumentHash    string                 `json:"documentHash,omitempty"`
	TransactionHash string                 `json:"transactionHash,omitempty"`
	RevokedAt       *time.Time             `json:"revokedAt,omitempty"`
	RevokeReason    string                 `json:"revocationReason,omitempty"`
}

type verifiedInstitution struct {
	Name               string `json:"name"`
	Logo               string `json:"logo,omitempty"`
	IsVerified         bool   `json:"isVerified"`
	RegistrationNumber string `json:"registrationNumber"`
	WalletAddress      string `json:"walletAddress"`
}

type verificationMeta struct {
	VerifiedAt        time.Time `json:"verifiedAt"`
	VerificationCount int64     `json:"verificationCount"`
}

type verifyData struct {
	Credential   verifiedCredential   `json:"credential"`
	Institution  *verifiedInstitution `json:"institution"`
	Verification verificationMeta     `json:"verification"`
}

// verifyResponse is the body of single verification responses. Data is null
// when nothing matched.
type verifyResponse struct {
	Success  bool                     `json:"success"`
	Verified bool                     `json:"verified"`
	Result   model.VerificationResult `json:"result"`
	Message  string                   `json:"message,omitempty"`
	Data     *verifyData              `json:"data"`
}

// batchRequest is the request body for POST /api/verify/batch
type batchRequest struct {
	Identifiers []model.Identifier `json:"identifiers"`
}

type batchItem struct {
	Identifier      string                   `json:"identifier"`
	Verified        bool                     `json:"verified"`
	Result          model.VerificationResult `json:"result"`
	TokenID         *int64                   `json:"tokenId,omitempty"`
	StudentName     string                   `json:"studentName,omitempty"`
	CourseName      string                   `json:"courseName,omitempty"`
	InstitutionName string                   `json:"institutionName,omitempty"`
}

type batchResponse struct {
	Results []batchItem          `json:"results"`
	Summary verification.Summary `json:"summary"`
}

// verifierContext describes the caller of a verification request.
func verifierContext(r *http.Request) model.VerifierContext {
	q := r.URL.Query()
	vc := model.VerifierContext{
		Organization: strings.TrimSpace(q.Get("organization")),
		Purpose:      strings.TrimSpace(q.Get("purpose")),
		IPAddress:    middleware.ClientIP(r),
		UserAgent:    r.UserAgent(),
	}
	if p, ok := middleware.GetPrincipal(r.Context()); ok {
		id := p.IdentityID
		vc.VerifierID = &id
		vc.VerifierWallet = p.WalletAddress
	}
	return vc
}

func (h *VerificationHandler) verify(w http.ResponseWriter, r *http.Request, id model.Identifier) {
	out, err := h.engine.Verify(r.Context(), id, verifierContext(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if out.Credential == nil {
		respondJSON(w, http.StatusNotFound, verifyResponse{
			Result:  out.Result,
			Message: "Credential not found",
		})
		return
	}

	c := out.Credential
	data := &verifyData{
		Credential: verifiedCredential{
			TokenID:         c.TokenID,
			StudentName:     c.StudentName,
			StudentID:       c.StudentID,
			StudentWallet:   c.StudentWallet,
			CredentialType:  c.CredentialType,
			CourseName:      c.CourseName,
			Grade:           c.Grade,
			IssueDate:       c.IssueDate,
			ExpiryDate:      c.ExpiryDate,
			Status:          c.Status,
			DocumentHash:    c.DocumentHash,
			TransactionHash: c.TransactionHash,
			RevokedAt:       c.RevokedAt,
			RevokeReason:    c.RevocationReason,
		},
		Verification: verificationMeta{
			VerificationCount: c.VerificationCount,
		},
	}
	if c.LastVerifiedAt != nil {
		data.Verification.VerifiedAt = *c.LastVerifiedAt
	}
	if inst := out.Institution; inst != nil {
		data.Institution = &verifiedInstitution{
			Name:               inst.Name,
			Logo:               inst.Logo,
			IsVerified:         inst.VerificationStatus == model.InstitutionVerified,
			RegistrationNumber: inst.RegistrationNumber,
			WalletAddress:      inst.WalletAddress,
		}
	}
	respondJSON(w, http.StatusOK, verifyResponse{
		Success:  true,
		Verified: out.Verified(),
		Result:   out.Result,
		Data:     data,
	})
}

// HandleVerifyToken handles GET /api/verify/token/{tokenId}
func (h *VerificationHandler) HandleVerifyToken(w http.ResponseWriter, r *http.Request) {
	tokenID, err := parseTokenID(chi.URLParam(r, "tokenId"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	h.verify(w, r, model.TokenIdentifier(tokenID))
}

// HandleVerifyHash handles GET /api/verify/hash/{hash}
func (h *VerificationHandler) HandleVerifyHash(w http.ResponseWriter, r *http.Request) {
	h.verify(w, r, model.HashIdentifier(chi.URLParam(r, "hash")))
}

// HandleBatch handles POST /api/verify/batch
func (h *VerificationHandler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	res, err := h.engine.VerifyBatch(r.Context(), req.Identifiers)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	items := make([]batchItem, len(res.Results))
	for i, out := range res.Results {
		item := batchItem{
			Identifier: out.Identifier.String(),
			Verified:   out.Verified(),
			Result:     out.Result,
		}
		if c := out.Credential; c != nil {
			item.TokenID = c.TokenID
			item.StudentName = c.StudentName
			item.CourseName = c.CourseName
		}
		if out.Institution != nil {
			item.InstitutionName = out.Institution.Name
		}
		items[i] = item
	}
	respondData(w, http.StatusOK, batchResponse{Results: items, Summary: res.Summary})
}

// HandleHistory handles GET /api/verify/history/{tokenId}
func (h *VerificationHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	tokenID, err := parseTokenID(chi.URLParam(r, "tokenId"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	items, info, err := h.engine.History(r.Context(), tokenID, parsePage(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, paged[verification.HistoryEntry]{Items: items, Pagination: info})
}

// HandleStatsOverview handles GET /api/verify/stats/overview
func (h *VerificationHandler) HandleStatsOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.engine.StatsOverview(r.Context())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, overview)
}
