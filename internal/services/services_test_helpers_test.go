package services

import (
	"context"
	"database/sql"
	"sort"
	"sync"

	"github.com/jmoiron/sqlx"

	"bizledger/internal/models"
	"bizledger/internal/store"
)

type fakeTxRunner struct {
	err error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.err != nil {
		return f.err
	}
	return fn(nil)
}

type stubPartyStore struct {
	createFn         func(ctx context.Context, tx store.Execer, p models.Party) error
	listFn           func(ctx context.Context, ownerID string, filter models.PartyFilter) ([]models.Party, error)
	getByIDFn        func(ctx context.Context, ownerID, partyID string) (models.Party, error)
	getForUpdateFn   func(ctx context.Context, tx store.Getter, ownerID, partyID string) (models.Party, error)
	updateBalanceFn  func(ctx context.Context, tx store.Execer, partyID string, balance int64) error
	setStatusFn      func(ctx context.Context, tx store.Execer, partyID string, status models.PartyStatus) error
	deleteFn         func(ctx context.Context, tx store.Execer, ownerID, partyID string) (int64, error)
	listWithLedgerFn func(ctx context.Context, ownerID string) ([]store.PartyWithLedger, error)
}

func (s stubPartyStore) Create(ctx context.Context, tx store.Execer, p models.Party) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, p)
}

func (s stubPartyStore) List(ctx context.Context, ownerID string, filter models.PartyFilter) ([]models.Party, error) {
	return s.listFn(ctx, ownerID, filter)
}

func (s stubPartyStore) GetByID(ctx context.Context, ownerID, partyID string) (models.Party, error) {
	return s.getByIDFn(ctx, ownerID, partyID)
}

func (s stubPartyStore) GetForUpdate(ctx context.Context, tx store.Getter, ownerID, partyID string) (models.Party, error) {
	return s.getForUpdateFn(ctx, tx, ownerID, partyID)
}

func (s stubPartyStore) UpdateBalance(ctx context.Context, tx store.Execer, partyID string, balance int64) error {
	if s.updateBalanceFn == nil {
		return nil
	}
	return s.updateBalanceFn(ctx, tx, partyID, balance)
}

func (s stubPartyStore) SetStatus(ctx context.Context, tx store.Execer, partyID string, status models.PartyStatus) error {
	if s.setStatusFn == nil {
		return nil
	}
	return s.setStatusFn(ctx, tx, partyID, status)
}

func (s stubPartyStore) Delete(ctx context.Context, tx store.Execer, ownerID, partyID string) (int64, error) {
	if s.deleteFn == nil {
		return 1, nil
	}
	return s.deleteFn(ctx, tx, ownerID, partyID)
}

func (s stubPartyStore) ListWithLedger(ctx context.Context, ownerID string) ([]store.PartyWithLedger, error) {
	return s.listWithLedgerFn(ctx, ownerID)
}

type stubTransactionStore struct {
	createFn         func(ctx context.Context, tx store.Execer, t models.Transaction) error
	getByRequestIDFn func(ctx context.Context, q store.Getter, ownerID, key string) (models.Transaction, error)
	listByPartyFn    func(ctx context.Context, ownerID, partyID string) ([]models.Transaction, error)
	deleteByPartyFn  func(ctx context.Context, tx store.Execer, ownerID, partyID string) (int64, error)
}

func (s stubTransactionStore) Create(ctx context.Context, tx store.Execer, t models.Transaction) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, t)
}

func (s stubTransactionStore) GetByClientRequestID(ctx context.Context, q store.Getter, ownerID, key string) (models.Transaction, error) {
	if s.getByRequestIDFn == nil {
		return models.Transaction{}, sql.ErrNoRows
	}
	return s.getByRequestIDFn(ctx, q, ownerID, key)
}

func (s stubTransactionStore) ListByParty(ctx context.Context, ownerID, partyID string) ([]models.Transaction, error) {
	return s.listByPartyFn(ctx, ownerID, partyID)
}

func (s stubTransactionStore) DeleteByParty(ctx context.Context, tx store.Execer, ownerID, partyID string) (int64, error) {
	if s.deleteByPartyFn == nil {
		return 0, nil
	}
	return s.deleteByPartyFn(ctx, tx, ownerID, partyID)
}

type stubAuditStore struct {
	logFn func(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID string, data any) error
}

func (s stubAuditStore) Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID string, data any) error {
	if s.logFn == nil {
		return nil
	}
	return s.logFn(ctx, tx, actorID, action, entityType, entityID, data)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.ChangeEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event models.ChangeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) tables() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Event+" "+e.Table)
	}
	return out
}

// memLedger is an in-memory stand-in for the Postgres stores. memTxRunner
// restores a snapshot when the unit of work fails, which gives the tests
// the same all-or-nothing behaviour as a real transaction.
type memLedger struct {
	mu      sync.Mutex
	parties map[string]models.Party
	txns    []models.Transaction
	audits  []string

	// partyDeleteMisses makes Delete report zero rows.
	partyDeleteMisses bool
}

func newMemLedger() *memLedger {
	return &memLedger{parties: map[string]models.Party{}}
}

type memSnapshot struct {
	parties map[string]models.Party
	txns    []models.Transaction
	audits  []string
}

func (m *memLedger) snapshot() memSnapshot {
	parties := make(map[string]models.Party, len(m.parties))
	for k, v := range m.parties {
		parties[k] = v
	}
	return memSnapshot{
		parties: parties,
		txns:    append([]models.Transaction(nil), m.txns...),
		audits:  append([]string(nil), m.audits...),
	}
}

func (m *memLedger) restore(s memSnapshot) {
	m.parties, m.txns, m.audits = s.parties, s.txns, s.audits
}

type memTxRunner struct {
	m *memLedger
}

func (r memTxRunner) WithTx(_ context.Context, fn func(*sqlx.Tx) error) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	snap := r.m.snapshot()
	if err := fn(nil); err != nil {
		r.m.restore(snap)
		return err
	}
	return nil
}

// The mem stores assume the caller holds m.mu through memTxRunner, or take
// it themselves for reads outside a transaction.
type memParties struct{ m *memLedger }

func (p memParties) Create(_ context.Context, _ store.Execer, party models.Party) error {
	p.m.parties[party.ID] = party
	return nil
}

func (p memParties) List(_ context.Context, ownerID string, filter models.PartyFilter) ([]models.Party, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	out := []models.Party{}
	for _, party := range p.m.parties {
		if party.OwnerID == ownerID && filter.Matches(party) {
			out = append(out, party)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (p memParties) GetByID(_ context.Context, ownerID, partyID string) (models.Party, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	party, ok := p.m.parties[partyID]
	if !ok || party.OwnerID != ownerID {
		return models.Party{}, sql.ErrNoRows
	}
	return party, nil
}

func (p memParties) GetForUpdate(_ context.Context, _ store.Getter, ownerID, partyID string) (models.Party, error) {
	party, ok := p.m.parties[partyID]
	if !ok || party.OwnerID != ownerID {
		return models.Party{}, sql.ErrNoRows
	}
	return party, nil
}

func (p memParties) UpdateBalance(_ context.Context, _ store.Execer, partyID string, balance int64) error {
	party := p.m.parties[partyID]
	party.Balance = balance
	p.m.parties[partyID] = party
	return nil
}

func (p memParties) SetStatus(_ context.Context, _ store.Execer, partyID string, status models.PartyStatus) error {
	party := p.m.parties[partyID]
	party.Status = status
	p.m.parties[partyID] = party
	return nil
}

func (p memParties) Delete(_ context.Context, _ store.Execer, ownerID, partyID string) (int64, error) {
	party, ok := p.m.parties[partyID]
	if !ok || party.OwnerID != ownerID || p.m.partyDeleteMisses {
		return 0, nil
	}
	delete(p.m.parties, partyID)
	return 1, nil
}

func (p memParties) ListWithLedger(_ context.Context, ownerID string) ([]store.PartyWithLedger, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	out := []store.PartyWithLedger{}
	for _, party := range p.m.parties {
		if party.OwnerID != ownerID {
			continue
		}
		ledger := models.ExpectedBalance(party.OpeningBalance, p.m.partyTxns(party.ID))
		out = append(out, store.PartyWithLedger{Party: party, LedgerBalance: ledger, Difference: party.Balance - ledger})
	}
	return out, nil
}

func (p memParties) ListDrift(_ context.Context, limit int) ([]store.PartyWithLedger, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	out := []store.PartyWithLedger{}
	for _, party := range p.m.parties {
		ledger := models.ExpectedBalance(party.OpeningBalance, p.m.partyTxns(party.ID))
		if ledger != party.Balance && len(out) < limit {
			out = append(out, store.PartyWithLedger{Party: party, LedgerBalance: ledger, Difference: party.Balance - ledger})
		}
	}
	return out, nil
}

func (m *memLedger) partyTxns(partyID string) []models.Transaction {
	var out []models.Transaction
	for _, t := range m.txns {
		if t.PartyID == partyID {
			out = append(out, t)
		}
	}
	return out
}

type memTxns struct{ m *memLedger }

func (s memTxns) Create(_ context.Context, _ store.Execer, t models.Transaction) error {
	s.m.txns = append(s.m.txns, t)
	return nil
}

func (s memTxns) GetByClientRequestID(_ context.Context, _ store.Getter, ownerID, key string) (models.Transaction, error) {
	for _, t := range s.m.txns {
		if t.OwnerID == ownerID && t.ClientRequestID != nil && *t.ClientRequestID == key {
			return t, nil
		}
	}
	return models.Transaction{}, sql.ErrNoRows
}

func (s memTxns) ListByParty(_ context.Context, ownerID, partyID string) ([]models.Transaction, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	out := []models.Transaction{}
	for _, t := range s.m.txns {
		if t.OwnerID == ownerID && t.PartyID == partyID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s memTxns) DeleteByParty(_ context.Context, _ store.Execer, ownerID, partyID string) (int64, error) {
	kept := s.m.txns[:0:0]
	var removed int64
	for _, t := range s.m.txns {
		if t.OwnerID == ownerID && t.PartyID == partyID {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	s.m.txns = kept
	return removed, nil
}

func (s memTxns) SignedSum(_ context.Context, _ store.Getter, partyID string) (int64, error) {
	return models.ExpectedBalance(0, s.m.partyTxns(partyID)), nil
}

type memAudit struct{ m *memLedger }

func (a memAudit) Log(_ context.Context, _ store.Execer, _, action, _, _ string, _ any) error {
	a.m.audits = append(a.m.audits, action)
	return nil
}

func newMemService(m *memLedger, pub ChangePublisher) *LedgerService {
	return NewLedgerService(memTxRunner{m: m}, memParties{m: m}, memTxns{m: m}, memAudit{m: m}, nil, pub)
}

func stringPtr(s string) *string {
	return &s
}
