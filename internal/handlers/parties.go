package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"bizledger/internal/api"
	"bizledger/internal/models"
	"bizledger/internal/money"
	"bizledger/internal/services"
)

func (h *Handler) ListParties(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	filter := models.PartyFilter{
		Kind:   models.PartyKind(query.Get("kind")),
		Status: models.PartyStatus(query.Get("status")),
		Search: strings.TrimSpace(query.Get("search")),
		Sort:   query.Get("sort"),
	}
	parties, err := h.ledger.ListParties(r.Context(), owner, filter)
	if err != nil {
		respondServiceError(w, r, err, "unable to load parties")
		return
	}
	respondJSON(w, http.StatusOK, api.FromParties(parties))
}

func (h *Handler) CreateParty(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	var req api.CreatePartyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := parseAmount("initial_amount", req.InitialAmount)
	if err != nil {
		respondServiceError(w, r, err, "invalid amount")
		return
	}
	party, err := h.ledger.CreateParty(r.Context(), services.CreatePartyInput{
		OwnerID:          owner,
		Name:             req.Name,
		Kind:             models.PartyKind(req.Kind),
		Phone:            req.Phone,
		InitialAmount:    amount,
		InitialDirection: models.OpeningDirection(req.InitialDirection),
	})
	if err != nil {
		respondServiceError(w, r, err, "unable to create party")
		return
	}
	respondJSON(w, http.StatusCreated, api.FromParty(party))
}

func (h *Handler) ToggleStatus(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	party, err := h.ledger.ToggleStatus(r.Context(), owner, chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err, "unable to update party")
		return
	}
	respondJSON(w, http.StatusOK, api.FromParty(party))
}

func (h *Handler) DeleteParty(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	result, err := h.ledger.DeleteParty(r.Context(), owner, chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err, "unable to delete party")
		return
	}
	respondJSON(w, http.StatusOK, api.DeletePartyResponse{
		PartyID:             result.PartyID,
		TransactionsDeleted: result.TransactionsDeleted,
	})
}

func (h *Handler) SelfCheck(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	report, err := h.ledger.SelfCheck(r.Context(), owner)
	if err != nil {
		respondServiceError(w, r, err, "unable to check balances")
		return
	}
	out := api.SelfCheckResponse{Checked: report.Checked, Drifted: make([]api.DriftRow, 0, len(report.Drifted))}
	for _, row := range report.Drifted {
		out.Drifted = append(out.Drifted, api.DriftRow{
			PartyID:       row.ID,
			Name:          row.Name,
			Balance:       money.FormatMinor(row.Balance),
			LedgerBalance: money.FormatMinor(row.LedgerBalance),
			Difference:    money.FormatMinor(row.Difference),
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	sum, err := h.ledger.Summary(r.Context(), owner)
	if err != nil {
		respondServiceError(w, r, err, "unable to summarise ledger")
		return
	}
	respondJSON(w, http.StatusOK, api.FromSummary(sum))
}

func (h *Handler) Reminder(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	link, err := h.ledger.Reminder(r.Context(), owner, chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err, "unable to build reminder")
		return
	}
	respondJSON(w, http.StatusOK, api.ReminderResponse{Phone: link.Phone, Message: link.Message, URI: link.URI})
}
