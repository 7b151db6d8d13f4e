package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"bizledger/internal/api"
	"bizledger/internal/models"
	"bizledger/internal/money"
	"bizledger/internal/services"
)

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	txns, err := h.ledger.ListTransactions(r.Context(), owner, chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err, "unable to load transactions")
		return
	}
	respondJSON(w, http.StatusOK, api.FromTransactions(txns))
}

// RecordTransaction answers 201 for a new entry and 200 when the
// client_request_id matched an earlier one.
func (h *Handler) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	var req api.RecordTransactionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		respondServiceError(w, r, err, "invalid amount")
		return
	}
	result, err := h.ledger.RecordTransaction(r.Context(), services.RecordTransactionInput{
		OwnerID:         owner,
		PartyID:         chi.URLParam(r, "id"),
		Amount:          amount,
		Direction:       models.Direction(req.Direction),
		Description:     req.Description,
		Date:            req.Date,
		ClientRequestID: req.ClientRequestID,
	})
	if err != nil {
		respondServiceError(w, r, err, "unable to record transaction")
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	respondJSON(w, status, api.RecordTransactionResponse{
		Transaction: api.FromTransaction(result.Transaction),
		Balance:     money.FormatMinor(result.Balance),
		Replayed:    result.Replayed,
	})
}
