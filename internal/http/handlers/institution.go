package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/certifychain/server/internal/institution"
	"github.com/certifychain/server/internal/model"
)

// InstitutionHandler handles institution registration and review endpoints
type InstitutionHandler struct {
	institutions *institution.Service
}

// NewInstitutionHandler creates a new institution handler
func NewInstitutionHandler(institutions *institution.Service) *InstitutionHandler {
	return &InstitutionHandler{institutions: institutions}
}

// registerInstitutionRequest is the request body for POST /api/institutions/register
type registerInstitutionRequest struct {
	Name               string                `json:"name"`
	RegistrationNumber string                `json:"registrationNumber"`
	InstitutionType    model.InstitutionType `json:"institutionType"`
	Country            string                `json:"country"`
	Email              string                `json:"email"`
	Website            string                `json:"website"`
	Logo               string                `json:"logo"`
	Description        string                `json:"description"`
}

// updateInstitutionRequest is the request body for PUT /api/institutions/{id}
type updateInstitutionRequest struct {
	Email       *string `json:"email"`
	Website     *string `json:"website"`
	Logo        *string `json:"logo"`
	Description *string `json:"description"`
}

// requestVerificationRequest is the request body for POST /api/institutions/{id}/request-verification
type requestVerificationRequest struct {
	Documents []struct {
		Name     string `json:"name"`
		IPFSHash string `json:"ipfsHash"`
	} `json:"documents"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

type activeRequest struct {
	Active *bool `json:"active"`
}

// HandleRegister handles POST /api/institutions/register
func (h *InstitutionHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req registerInstitutionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	inst, err := h.institutions.Register(r.Context(), p, institution.RegisterParams{
		Name:               req.Name,
		RegistrationNumber: req.RegistrationNumber,
		Type:               req.InstitutionType,
		Country:            req.Country,
		Email:              req.Email,
		Website:            req.Website,
		Logo:               req.Logo,
		Description:        req.Description,
	})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusCreated, inst)
}

// HandleList handles GET /api/institutions
func (h *InstitutionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := parsePage(r)
	items, info, err := h.institutions.ListVerified(r.Context(), institution.Filter{
		Country: strings.TrimSpace(q.Get("country")),
		Type:    model.InstitutionType(q.Get("type")),
	}, page)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, paged[model.Institution]{Items: items, Pagination: info})
}

// HandleListPending handles GET /api/institutions/pending/list (admin)
func (h *InstitutionHandler) HandleListPending(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	items, info, err := h.institutions.ListPending(r.Context(), p, parsePage(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, paged[model.Institution]{Items: items, Pagination: info})
}

// HandleGetByWallet handles GET /api/institutions/wallet/{address}
func (h *InstitutionHandler) HandleGetByWallet(w http.ResponseWriter, r *http.Request) {
	inst, err := h.institutions.GetByWallet(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, inst)
}

// HandleGet handles GET /api/institutions/{id}
func (h *InstitutionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	inst, err := h.institutions.Get(r.Context(), id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, inst)
}

// HandleUpdate handles PUT /api/institutions/{id}
func (h *InstitutionHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateInstitutionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	inst, err := h.institutions.UpdateDetails(r.Context(), p, id, institution.DetailsUpdate{
		Email:       req.Email,
		Website:     req.Website,
		Logo:        req.Logo,
		Description: req.Description,
	})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, inst)
}

// HandleRequestVerification handles POST /api/institutions/{id}/request-verification
func (h *InstitutionHandler) HandleRequestVerification(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req requestVerificationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	docs := make([]institution.Document, len(req.Documents))
	for i, d := range req.Documents {
		docs[i] = institution.Document{Name: d.Name, Hash: d.IPFSHash}
	}
	inst, err := h.institutions.RequestVerification(r.Context(), p, id, docs)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, inst)
}

// HandleApprove handles POST /api/institutions/{id}/verify (admin)
func (h *InstitutionHandler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	inst, err := h.institutions.Approve(r.Context(), p, id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, inst)
}

// HandleReject handles POST /api/institutions/{id}/reject (admin)
func (h *InstitutionHandler) HandleReject(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req rejectRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	inst, err := h.institutions.Reject(r.Context(), p, id, req.Reason)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, inst)
}

// HandleSetActive handles POST /api/institutions/{id}/active (admin)
func (h *InstitutionHandler) HandleSetActive(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req activeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	if req.Active == nil {
		respondWithError(w, http.StatusBadRequest, "active is required")
		return
	}
	inst, err := h.institutions.SetActive(r.Context(), p, id, *req.Active)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, inst)
}
