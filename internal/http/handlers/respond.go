package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/certifychain/server/internal/apperr"
	"github.com/certifychain/server/internal/log"
	"github.com/certifychain/server/internal/middleware"
	"github.com/certifychain/server/internal/model"
)

const maxBodyBytes = 1 << 20

var logger = log.Logger("http")

// envelope is the body of every JSON response.
type envelope struct {
	Success bool                `json:"success"`
	Message string              `json:"message,omitempty"`
	Data    any                 `json:"data,omitempty"`
	Errors  []apperr.FieldError `json:"errors,omitempty"`
}

func respondJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WithError(err).Warn("Failed to encode response")
	}
}

func respondData(w http.ResponseWriter, statusCode int, data any) {
	respondJSON(w, statusCode, envelope{Success: true, Data: data})
}

func respondMessage(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, envelope{Success: true, Message: message})
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, envelope{Success: false, Message: message})
}

func statusFor(code apperr.Code) int {
	switch code {
	case apperr.CodeValidation:
		return http.StatusBadRequest
	case apperr.CodeUnauthorized:
		return http.StatusUnauthorized
	case apperr.CodeForbidden:
		return http.StatusForbidden
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeConflict:
		return http.StatusConflict
	case apperr.CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondErr maps a service error onto a status code and envelope. Messages of
// untyped and store errors are not exposed.
func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		logger.WithError(err).WithField("path", r.URL.Path).Error("Unhandled error")
		respondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	status := statusFor(appErr.Code)
	msg := appErr.Message
	switch {
	case appErr.Code == apperr.CodeStoreUnavailable:
		logger.WithError(err).WithField("path", r.URL.Path).Error("Store unavailable")
		msg = "service temporarily unavailable"
	case msg == "":
		msg = string(appErr.Code)
	}
	respondJSON(w, status, envelope{Success: false, Message: msg, Errors: apperr.FieldsOf(err)})
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.New(apperr.CodeValidation, "invalid request body")
	}
	return nil
}

func parseUUID(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.Validation(apperr.Field(field, "must be a valid id"))
	}
	return id, nil
}

func parseTokenID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation(apperr.Field("tokenId", "must be a positive integer"))
	}
	return id, nil
}

// parsePage reads page and limit query parameters. Bad values fall back to defaults.
func parsePage(r *http.Request) model.Page {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	return model.Page{Page: page, Limit: limit}.Normalize()
}

// paged is the data of list responses.
type paged[T any] struct {
	Items      []T            `json:"items"`
	Pagination model.PageInfo `json:"pagination"`
}

// principal returns the authenticated caller or writes 401.
func principal(w http.ResponseWriter, r *http.Request) (model.Principal, bool) {
	p, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
	}
	return p, ok
}

// pathID parses the {id} URL parameter or writes 400.
func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := parseUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		respondErr(w, r, err)
		return uuid.Nil, false
	}
	return id, true
}
