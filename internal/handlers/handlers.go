package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"bizledger/internal/api"
	"bizledger/internal/db"
	"bizledger/internal/middleware"
	"bizledger/internal/reminder"
	"bizledger/internal/services"
	"bizledger/internal/validator"
)

const maxBodyBytes = 1 << 20

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, api.ErrorResponse{Error: message, Code: code})
}

// respondServiceError maps domain errors onto status codes. Anything
// unrecognised is logged and reported as a 500 with a generic message.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var verr *validator.Error
	switch {
	case errors.As(err, &verr):
		respondJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: verr.Error(), Code: api.CodeValidation, Fields: verr.Fields})
	case errors.Is(err, services.ErrValidation):
		respondError(w, http.StatusBadRequest, api.CodeValidation, err.Error())
	case errors.Is(err, services.ErrNotFound):
		respondError(w, http.StatusNotFound, api.CodeNotFound, "not found")
	case errors.Is(err, services.ErrPartialDelete):
		respondError(w, http.StatusConflict, api.CodePartialFailure, err.Error())
	case errors.Is(err, reminder.ErrNoPhone), errors.Is(err, reminder.ErrNothingDue):
		respondError(w, http.StatusUnprocessableEntity, api.CodeValidation, err.Error())
	case errors.Is(err, db.ErrRetryLimit):
		respondError(w, http.StatusServiceUnavailable, api.CodeUnavailable, "ledger busy, retry")
	case errors.Is(err, context.Canceled):
		// The client went away; nobody reads the body.
		w.WriteHeader(499)
	default:
		slog.Error(fallback, "method", r.Method, "path", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, api.CodeInternal, fallback)
	}
}

// decodeJSON reads a bounded body into dst and runs struct validation.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, api.CodeValidation, "invalid payload")
		return false
	}
	if err := validator.Struct(dst); err != nil {
		respondServiceError(w, r, err, "invalid payload")
		return false
	}
	return true
}

func ownerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, api.CodeUnauthorized, "unauthorized")
		return "", false
	}
	return userID, true
}

func parseInt(raw string, fallback int) int {
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
