package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/certifychain/server/internal/apperr"
	"github.com/certifychain/server/internal/credential"
	"github.com/certifychain/server/internal/model"
)

// CredentialHandler handles credential lifecycle endpoints
type CredentialHandler struct {
	credentials *credential.Service
}

// NewCredentialHandler creates a new credential handler
func NewCredentialHandler(credentials *credential.Service) *CredentialHandler {
	return &CredentialHandler{credentials: credentials}
}

// createCredentialRequest is the request body for POST /api/credentials.
// Dates are YYYY-MM-DD or RFC 3339.
type createCredentialRequest struct {
	StudentWallet  string               `json:"studentWallet"`
	StudentEmail   string               `json:"studentEmail"`
	StudentName    string               `json:"studentName"`
	StudentID      string               `json:"studentId"`
	CredentialType model.CredentialType `json:"credentialType"`
	CourseName     string               `json:"courseName"`
	Grade          string               `json:"grade"`
	Description    string               `json:"description"`
	IssueDate      string               `json:"issueDate"`
	ExpiryDate     string               `json:"expiryDate"`
	DocumentHash   string               `json:"documentHash"`
	MetadataHash   string               `json:"metadataHash"`
	MetadataURL    string               `json:"metadataUrl"`
}

// issueRequest is the request body for PUT /api/credentials/{id}/issue
type issueRequest struct {
	TokenID         int64  `json:"tokenId"`
	TransactionHash string `json:"transactionHash"`
	BlockNumber     *int64 `json:"blockNumber"`
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

func parseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (req createCredentialRequest) params() (credential.CreateParams, error) {
	p := credential.CreateParams{
		StudentWallet:  req.StudentWallet,
		StudentEmail:   req.StudentEmail,
		StudentName:    req.StudentName,
		StudentID:      req.StudentID,
		CredentialType: req.CredentialType,
		CourseName:     req.CourseName,
		Grade:          req.Grade,
		Description:    req.Description,
		DocumentHash:   req.DocumentHash,
		MetadataHash:   req.MetadataHash,
		MetadataURL:    req.MetadataURL,
	}
	var v apperr.Collector
	if req.IssueDate != "" {
		if t, ok := parseDate(req.IssueDate); ok {
			p.IssueDate = t
		} else {
			v.Add("issueDate", "must be a date (YYYY-MM-DD)")
		}
	}
	if req.ExpiryDate != "" {
		if t, ok := parseDate(req.ExpiryDate); ok {
			p.ExpiryDate = &t
		} else {
			v.Add("expiryDate", "must be a date (YYYY-MM-DD)")
		}
	}
	return p, v.Err()
}

// HandleCreate handles POST /api/credentials
func (h *CredentialHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req createCredentialRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	params, err := req.params()
	if err != nil {
		respondErr(w, r, err)
		return
	}
	created, err := h.credentials.Create(r.Context(), p, params)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusCreated, created)
}

// HandleSubmit handles PUT /api/credentials/{id}/submit
func (h *CredentialHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	updated, err := h.credentials.Submit(r.Context(), p, id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, updated)
}

// HandleIssue handles PUT /api/credentials/{id}/issue
func (h *CredentialHandler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req issueRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	updated, err := h.credentials.RecordIssuance(r.Context(), p, id, credential.IssuanceParams{
		TokenID:         req.TokenID,
		TransactionHash: req.TransactionHash,
		BlockNumber:     req.BlockNumber,
	})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, updated)
}

// HandleRevoke handles PUT /api/credentials/{id}/revoke
func (h *CredentialHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req revokeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	updated, err := h.credentials.Revoke(r.Context(), p, id, req.Reason)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, updated)
}

// HandleDelete handles DELETE /api/credentials/{id} (admin)
func (h *CredentialHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.credentials.Delete(r.Context(), p, id); err != nil {
		respondErr(w, r, err)
		return
	}
	respondMessage(w, http.StatusOK, "credential deleted")
}

// HandleListForStudent handles GET /api/credentials/student/{address}
func (h *CredentialHandler) HandleListForStudent(w http.ResponseWriter, r *http.Request) {
	items, info, err := h.credentials.ListForStudent(r.Context(), chi.URLParam(r, "address"), parsePage(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, paged[model.Credential]{Items: items, Pagination: info})
}

// HandleListForInstitution handles GET /api/credentials/institution/{address}
func (h *CredentialHandler) HandleListForInstitution(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	status := model.CredentialStatus(r.URL.Query().Get("status"))
	items, info, err := h.credentials.ListForInstitution(r.Context(), p, chi.URLParam(r, "address"), status, parsePage(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, paged[model.Credential]{Items: items, Pagination: info})
}

// HandleStats handles GET /api/credentials/stats
func (h *CredentialHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	stats, err := h.credentials.Stats(r.Context(), p, r.URL.Query().Get("institution"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, stats)
}

// HandleGetByToken handles GET /api/credentials/token/{tokenId}
func (h *CredentialHandler) HandleGetByToken(w http.ResponseWriter, r *http.Request) {
	tokenID, err := parseTokenID(chi.URLParam(r, "tokenId"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	c, err := h.credentials.GetByToken(r.Context(), tokenID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, c)
}

// HandleGet handles GET /api/credentials/{id}
func (h *CredentialHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := h.credentials.GetByID(r.Context(), id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, c)
}
