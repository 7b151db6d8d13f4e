package handlers

import (
	"net/http"

	"bizledger/internal/api"
	"bizledger/internal/money"
	"bizledger/internal/store"
)

func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := parseInt(query.Get("limit"), 50)
	if limit > 500 {
		limit = 500
	}
	page := parseInt(query.Get("page"), 1)
	rows, err := h.audit.List(r.Context(), store.AuditFilter{
		ActorUserID: query.Get("actor"),
		EntityID:    query.Get("entity_id"),
		Limit:       limit,
		Offset:      (page - 1) * limit,
	})
	if err != nil {
		respondServiceError(w, r, err, "unable to load audit logs")
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

// Reconcile runs one repair pass across all owners.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciler.ReconcileOnce(r.Context())
	if err != nil {
		respondServiceError(w, r, err, "unable to reconcile balances")
		return
	}
	out := api.ReconcileResponse{Found: report.Found, Repaired: make([]api.RepairRow, 0, len(report.Repaired))}
	for _, row := range report.Repaired {
		out.Repaired = append(out.Repaired, api.RepairRow{
			PartyID: row.PartyID,
			OwnerID: row.OwnerID,
			Before:  money.FormatMinor(row.Before),
			After:   money.FormatMinor(row.After),
		})
	}
	respondJSON(w, http.StatusOK, out)
}
