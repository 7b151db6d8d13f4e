package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"bizledger/internal/auth"
	"bizledger/internal/config"
	"bizledger/internal/db"
	"bizledger/internal/metrics"
	"bizledger/internal/models"
	"bizledger/internal/reminder"
	"bizledger/internal/services"
	"bizledger/internal/store"
	"bizledger/internal/summary"
	"bizledger/internal/websocket"
)

const testSecret = "secret"

type fakeTxRunner struct {
	withTxFn func(ctx context.Context, fn func(*sqlx.Tx) error) error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.withTxFn != nil {
		return f.withTxFn(ctx, fn)
	}
	return fn(nil)
}

type stubUserStore struct {
	createFn     func(ctx context.Context, tx store.Execer, u models.User) error
	getByEmailFn func(ctx context.Context, email string) (models.User, error)
	getByIDFn    func(ctx context.Context, userID string) (models.User, error)
}

func (s stubUserStore) Create(ctx context.Context, tx store.Execer, u models.User) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, u)
}

func (s stubUserStore) GetByEmail(ctx context.Context, email string) (models.User, error) {
	if s.getByEmailFn == nil {
		return models.User{}, sql.ErrNoRows
	}
	return s.getByEmailFn(ctx, email)
}

func (s stubUserStore) GetByID(ctx context.Context, userID string) (models.User, error) {
	if s.getByIDFn == nil {
		return models.User{}, sql.ErrNoRows
	}
	return s.getByIDFn(ctx, userID)
}

type stubAdminStore struct {
	roleFn        func(ctx context.Context, userID string) (string, bool, error)
	createAdminFn func(ctx context.Context, tx store.Execer, userID, role string, createdBy *string) error
	hasAnyAdminFn func(ctx context.Context, q store.Getter) (bool, error)
}

func (s stubAdminStore) Role(ctx context.Context, userID string) (string, bool, error) {
	if s.roleFn == nil {
		return "", false, nil
	}
	return s.roleFn(ctx, userID)
}

func (s stubAdminStore) CreateAdmin(ctx context.Context, tx store.Execer, userID, role string, createdBy *string) error {
	if s.createAdminFn == nil {
		return nil
	}
	return s.createAdminFn(ctx, tx, userID, role, createdBy)
}

func (s stubAdminStore) HasAnyAdmin(ctx context.Context, q store.Getter) (bool, error) {
	if s.hasAnyAdminFn == nil {
		return true, nil
	}
	return s.hasAnyAdminFn(ctx, q)
}

type stubAuditStore struct {
	logFn  func(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID string, data any) error
	listFn func(ctx context.Context, filter store.AuditFilter) ([]store.AuditEntry, error)
}

func (s stubAuditStore) Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID string, data any) error {
	if s.logFn == nil {
		return nil
	}
	return s.logFn(ctx, tx, actorID, action, entityType, entityID, data)
}

func (s stubAuditStore) List(ctx context.Context, filter store.AuditFilter) ([]store.AuditEntry, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, filter)
}

type stubLedgerService struct {
	createPartyFn       func(ctx context.Context, in services.CreatePartyInput) (models.Party, error)
	recordTransactionFn func(ctx context.Context, in services.RecordTransactionInput) (services.RecordResult, error)
	toggleStatusFn      func(ctx context.Context, ownerID, partyID string) (models.Party, error)
	deletePartyFn       func(ctx context.Context, ownerID, partyID string) (services.DeleteResult, error)
	listPartiesFn       func(ctx context.Context, ownerID string, filter models.PartyFilter) ([]models.Party, error)
	listTransactionsFn  func(ctx context.Context, ownerID, partyID string) ([]models.Transaction, error)
	summaryFn           func(ctx context.Context, ownerID string) (summary.Summary, error)
	reminderFn          func(ctx context.Context, ownerID, partyID string) (reminder.Link, error)
	selfCheckFn         func(ctx context.Context, ownerID string) (services.SelfCheckReport, error)
}

func (s stubLedgerService) CreateParty(ctx context.Context, in services.CreatePartyInput) (models.Party, error) {
	if s.createPartyFn == nil {
		return models.Party{}, nil
	}
	return s.createPartyFn(ctx, in)
}

func (s stubLedgerService) RecordTransaction(ctx context.Context, in services.RecordTransactionInput) (services.RecordResult, error) {
	if s.recordTransactionFn == nil {
		return services.RecordResult{}, nil
	}
	return s.recordTransactionFn(ctx, in)
}

func (s stubLedgerService) ToggleStatus(ctx context.Context, ownerID, partyID string) (models.Party, error) {
	if s.toggleStatusFn == nil {
		return models.Party{}, nil
	}
	return s.toggleStatusFn(ctx, ownerID, partyID)
}

func (s stubLedgerService) DeleteParty(ctx context.Context, ownerID, partyID string) (services.DeleteResult, error) {
	if s.deletePartyFn == nil {
		return services.DeleteResult{}, nil
	}
	return s.deletePartyFn(ctx, ownerID, partyID)
}

func (s stubLedgerService) ListParties(ctx context.Context, ownerID string, filter models.PartyFilter) ([]models.Party, error) {
	if s.listPartiesFn == nil {
		return nil, nil
	}
	return s.listPartiesFn(ctx, ownerID, filter)
}

func (s stubLedgerService) ListTransactions(ctx context.Context, ownerID, partyID string) ([]models.Transaction, error) {
	if s.listTransactionsFn == nil {
		return nil, nil
	}
	return s.listTransactionsFn(ctx, ownerID, partyID)
}

func (s stubLedgerService) Summary(ctx context.Context, ownerID string) (summary.Summary, error) {
	if s.summaryFn == nil {
		return summary.Summary{}, nil
	}
	return s.summaryFn(ctx, ownerID)
}

func (s stubLedgerService) Reminder(ctx context.Context, ownerID, partyID string) (reminder.Link, error) {
	if s.reminderFn == nil {
		return reminder.Link{}, nil
	}
	return s.reminderFn(ctx, ownerID, partyID)
}

func (s stubLedgerService) SelfCheck(ctx context.Context, ownerID string) (services.SelfCheckReport, error) {
	if s.selfCheckFn == nil {
		return services.SelfCheckReport{}, nil
	}
	return s.selfCheckFn(ctx, ownerID)
}

type stubReconciler struct {
	reconcileFn func(ctx context.Context) (services.ReconcileReport, error)
}

func (s stubReconciler) ReconcileOnce(ctx context.Context) (services.ReconcileReport, error) {
	if s.reconcileFn == nil {
		return services.ReconcileReport{}, nil
	}
	return s.reconcileFn(ctx)
}

// testDeps collects the collaborators of a Handler; zero values fall back to
// permissive stubs.
type testDeps struct {
	txRunner   db.TxRunner
	users      UserStore
	admin      AdminStore
	audit      AuditStore
	ledger     LedgerService
	reconciler Reconciler
	hub        *websocket.Hub
	metrics    *metrics.Metrics
}

func newTestHandler(d testDeps) *Handler {
	cfg := config.Config{
		AppEnv:         "test",
		Port:           "0",
		JWTSecret:      testSecret,
		TokenTTL:       time.Minute,
		AllowedOrigins: []string{"*"},
	}
	if d.txRunner == nil {
		d.txRunner = fakeTxRunner{}
	}
	if d.users == nil {
		d.users = stubUserStore{}
	}
	if d.admin == nil {
		d.admin = stubAdminStore{}
	}
	if d.audit == nil {
		d.audit = stubAuditStore{}
	}
	if d.ledger == nil {
		d.ledger = stubLedgerService{}
	}
	if d.reconciler == nil {
		d.reconciler = stubReconciler{}
	}
	if d.hub == nil {
		d.hub = websocket.NewHub()
	}
	return New(cfg, d.txRunner, d.users, d.admin, d.audit, d.ledger, d.reconciler, d.hub, d.metrics)
}

// serve runs a request through the full router. An empty userID sends no
// token.
func serve(t *testing.T, h *Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		token, err := auth.GenerateToken(testSecret, userID, time.Minute)
		if err != nil {
			t.Fatalf("failed to generate token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

func stringPtr(value string) *string {
	return &value
}
