package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"bizledger/internal/api"
	"bizledger/internal/models"
	"bizledger/internal/money"
	"bizledger/internal/websocket"
)

// fakeLedger is an in-memory stand-in for the HTTP API. Tokens are
// "tok-<owner>".
type fakeLedger struct {
	t   *testing.T
	hub *websocket.Hub

	mu       sync.Mutex
	parties  map[string]models.Party
	txns     map[string][]models.Transaction
	byKey    map[string]api.RecordTransactionResponse
	requests map[string]int
	seq      int

	// hooks run before the default behaviour; returning true means the hook
	// already wrote the response.
	hooks map[string]func(w http.ResponseWriter, r *http.Request) bool
}

func newFakeLedger(t *testing.T) (*fakeLedger, *httptest.Server) {
	t.Helper()
	f := &fakeLedger{
		t:        t,
		hub:      websocket.NewHub(),
		parties:  make(map[string]models.Party),
		txns:     make(map[string][]models.Transaction),
		byKey:    make(map[string]api.RecordTransactionResponse),
		requests: make(map[string]int),
		hooks:    make(map[string]func(http.ResponseWriter, *http.Request) bool),
	}
	r := chi.NewRouter()
	r.Post("/auth/login", f.login)
	r.Group(func(r chi.Router) {
		r.Use(f.auth)
		r.Get("/auth/me", f.me)
		r.Get("/parties", f.listParties)
		r.Post("/parties", f.createParty)
		r.Delete("/parties/{id}", f.deleteParty)
		r.Post("/parties/{id}/toggle-status", f.toggle)
		r.Get("/parties/{id}/transactions", f.listTxns)
		r.Post("/parties/{id}/transactions", f.record)
		r.Get("/ws/changes", func(w http.ResponseWriter, r *http.Request) {
			if f.hit(w, r, "ws") {
				return
			}
			websocket.ServeWS(w, r, f.hub, ownerFrom(r))
		})
	})
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return f, server
}

type ownerKey struct{}

func ownerFrom(r *http.Request) string {
	owner, _ := r.Context().Value(ownerKey{}).(string)
	return owner
}

func (f *fakeLedger) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		owner, ok := strings.CutPrefix(token, "tok-")
		if !ok || owner == "" {
			writeJSON(w, http.StatusUnauthorized, api.ErrorResponse{Error: "unauthorized", Code: api.CodeUnauthorized})
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithOwner(r, owner)))
	})
}

func (f *fakeLedger) hit(w http.ResponseWriter, r *http.Request, name string) bool {
	f.mu.Lock()
	f.requests[name]++
	hook := f.hooks[name]
	f.mu.Unlock()
	return hook != nil && hook(w, r)
}

func (f *fakeLedger) setHook(name string, hook func(http.ResponseWriter, *http.Request) bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks[name] = hook
}

func (f *fakeLedger) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[name]
}

func (f *fakeLedger) addParty(p models.Party) models.Party {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	if p.ID == "" {
		p.ID = fmt.Sprintf("p%d", f.seq)
	}
	if p.Status == "" {
		p.Status = models.StatusActive
	}
	if p.Kind == "" {
		p.Kind = models.KindCustomer
	}
	p.CreatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(f.seq) * time.Minute)
	f.parties[p.ID] = p
	return p
}

func (f *fakeLedger) login(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	owner, _, _ := strings.Cut(req.Email, "@")
	if req.Password != "pass1234" {
		writeJSON(w, http.StatusUnauthorized, api.ErrorResponse{Error: "invalid credentials", Code: api.CodeUnauthorized})
		return
	}
	writeJSON(w, http.StatusOK, api.TokenResponse{Token: "tok-" + owner, User: api.User{ID: owner, Email: req.Email}})
}

func (f *fakeLedger) me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.User{ID: ownerFrom(r)})
}

func (f *fakeLedger) listParties(w http.ResponseWriter, r *http.Request) {
	if f.hit(w, r, "list") {
		return
	}
	q := r.URL.Query()
	filter := models.PartyFilter{
		Kind:   models.PartyKind(q.Get("kind")),
		Status: models.PartyStatus(q.Get("status")),
		Search: q.Get("search"),
	}
	owner := ownerFrom(r)
	f.mu.Lock()
	out := []models.Party{}
	for _, p := range f.parties {
		if p.OwnerID == owner && filter.Matches(p) {
			out = append(out, p)
		}
	}
	f.mu.Unlock()
	sortParties(out)
	writeJSON(w, http.StatusOK, api.FromParties(out))
}

func sortParties(list []models.Party) {
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
}

func (f *fakeLedger) createParty(w http.ResponseWriter, r *http.Request) {
	if f.hit(w, r, "create") {
		return
	}
	var req api.CreatePartyRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	amount, _ := money.ParseMinor(req.InitialAmount)
	if req.InitialAmount == "" {
		amount = 0
	}
	opening := models.OpeningBalance(amount, models.OpeningDirection(req.InitialDirection))
	p := f.addParty(models.Party{
		OwnerID: ownerFrom(r), Name: req.Name, Kind: models.PartyKind(req.Kind), Phone: req.Phone,
		OpeningBalance: opening, Balance: opening,
	})
	f.hub.Broadcast(models.ChangeEvent{Event: models.EventInsert, Table: models.TableParties, OwnerID: p.OwnerID, RowID: p.ID, PartyID: p.ID})
	writeJSON(w, http.StatusCreated, api.FromParty(p))
}

func (f *fakeLedger) ownedParty(w http.ResponseWriter, r *http.Request) (models.Party, bool) {
	f.mu.Lock()
	p, ok := f.parties[chi.URLParam(r, "id")]
	f.mu.Unlock()
	if !ok || p.OwnerID != ownerFrom(r) {
		writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: "not found", Code: api.CodeNotFound})
		return models.Party{}, false
	}
	return p, true
}

func (f *fakeLedger) deleteParty(w http.ResponseWriter, r *http.Request) {
	if f.hit(w, r, "delete") {
		return
	}
	p, ok := f.ownedParty(w, r)
	if !ok {
		return
	}
	f.mu.Lock()
	n := len(f.txns[p.ID])
	delete(f.parties, p.ID)
	delete(f.txns, p.ID)
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, api.DeletePartyResponse{PartyID: p.ID, TransactionsDeleted: int64(n)})
}

func (f *fakeLedger) toggle(w http.ResponseWriter, r *http.Request) {
	if f.hit(w, r, "toggle") {
		return
	}
	p, ok := f.ownedParty(w, r)
	if !ok {
		return
	}
	p.Status = p.Status.Toggled()
	f.mu.Lock()
	f.parties[p.ID] = p
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, api.FromParty(p))
}

func (f *fakeLedger) listTxns(w http.ResponseWriter, r *http.Request) {
	if f.hit(w, r, "txns") {
		return
	}
	p, ok := f.ownedParty(w, r)
	if !ok {
		return
	}
	f.mu.Lock()
	out := append([]models.Transaction{}, f.txns[p.ID]...)
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, api.FromTransactions(out))
}

func (f *fakeLedger) record(w http.ResponseWriter, r *http.Request) {
	if f.hit(w, r, "record") {
		return
	}
	p, ok := f.ownedParty(w, r)
	if !ok {
		return
	}
	var req api.RecordTransactionRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.ClientRequestID != nil {
		if prev, ok := f.byKey[*req.ClientRequestID]; ok {
			prev.Replayed = true
			writeJSON(w, http.StatusOK, prev)
			return
		}
	}
	amount, _ := money.ParseMinor(req.Amount)
	f.seq++
	txn := models.Transaction{
		ID: fmt.Sprintf("t%d", f.seq), OwnerID: p.OwnerID, PartyID: p.ID, Amount: amount,
		Direction: models.Direction(req.Direction), ClientRequestID: req.ClientRequestID,
		Date: time.Now().UTC(), CreatedAt: time.Now().UTC(),
	}
	p.Balance += txn.Effect()
	f.parties[p.ID] = p
	f.txns[p.ID] = append([]models.Transaction{txn}, f.txns[p.ID]...)
	resp := api.RecordTransactionResponse{Transaction: api.FromTransaction(txn), Balance: money.FormatMinor(p.Balance)}
	if req.ClientRequestID != nil {
		f.byKey[*req.ClientRequestID] = resp
	}
	writeJSON(w, http.StatusCreated, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func newSignedInClient(t *testing.T, server *httptest.Server, owner string) *Client {
	t.Helper()
	c, err := New(server.URL, WithRetry(fastRetry()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(c.Close)
	c.SetSession(owner, "tok-"+owner)
	return c
}

func contextWithOwner(r *http.Request, owner string) context.Context {
	return context.WithValue(r.Context(), ownerKey{}, owner)
}
