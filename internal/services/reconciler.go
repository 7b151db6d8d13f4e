package services

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"bizledger/internal/db"
	"bizledger/internal/models"
	"bizledger/internal/store"
)

const defaultReconcileBatch = 500

type DriftStore interface {
	ListDrift(ctx context.Context, limit int) ([]store.PartyWithLedger, error)
	GetForUpdate(ctx context.Context, tx store.Getter, ownerID, partyID string) (models.Party, error)
	UpdateBalance(ctx context.Context, tx store.Execer, partyID string, balance int64) error
}

type LedgerSummer interface {
	SignedSum(ctx context.Context, q store.Getter, partyID string) (int64, error)
}

type DriftRecorder interface {
	Drift(found, repaired int)
}

type nopDrift struct{}

func (nopDrift) Drift(int, int) {}

// Reconciler rewrites cached balances that disagree with the transaction log.
type Reconciler struct {
	txRunner  db.TxRunner
	parties   DriftStore
	txns      LedgerSummer
	audit     AuditStore
	publisher ChangePublisher
	recorder  DriftRecorder
	batch     int
}

type RepairedParty struct {
	PartyID string `json:"party_id"`
	OwnerID string `json:"owner_id"`
	Before  int64  `json:"before"`
	After   int64  `json:"after"`
}

type ReconcileReport struct {
	Found    int             `json:"found"`
	Repaired []RepairedParty `json:"repaired"`
}

func NewReconciler(txRunner db.TxRunner, parties DriftStore, txns LedgerSummer, audit AuditStore, publisher ChangePublisher, recorder DriftRecorder) *Reconciler {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if recorder == nil {
		recorder = nopDrift{}
	}
	return &Reconciler{
		txRunner:  txRunner,
		parties:   parties,
		txns:      txns,
		audit:     audit,
		publisher: publisher,
		recorder:  recorder,
		batch:     defaultReconcileBatch,
	}
}

// Run reconciles every interval until ctx is done. A non-positive interval
// disables the loop.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := r.ReconcileOnce(ctx)
			if err != nil {
				slog.Error("balance reconcile failed", "error", err)
				continue
			}
			if report.Found > 0 {
				slog.Warn("balance drift repaired", "found", report.Found, "repaired", len(report.Repaired))
			}
		}
	}
}

// ReconcileOnce repairs one batch of drifted parties. Each party is fixed in
// its own transaction under the party row lock, recomputing from the log
// inside the lock so concurrent writers are never overwritten.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (ReconcileReport, error) {
	drifted, err := r.parties.ListDrift(ctx, r.batch)
	if err != nil {
		return ReconcileReport{}, err
	}
	report := ReconcileReport{Found: len(drifted), Repaired: []RepairedParty{}}
	for _, row := range drifted {
		repaired, changed, err := r.repair(ctx, row.OwnerID, row.ID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			r.recorder.Drift(report.Found, len(report.Repaired))
			return report, err
		}
		if !changed {
			continue
		}
		report.Repaired = append(report.Repaired, repaired)
		r.publisher.Publish(ctx, models.ChangeEvent{
			Event:   models.EventUpdate,
			Table:   models.TableParties,
			OwnerID: repaired.OwnerID,
			RowID:   repaired.PartyID,
			PartyID: repaired.PartyID,
			At:      time.Now().UTC(),
		})
	}
	r.recorder.Drift(report.Found, len(report.Repaired))
	return report, nil
}

func (r *Reconciler) repair(ctx context.Context, ownerID, partyID string) (RepairedParty, bool, error) {
	var out RepairedParty
	var changed bool
	err := r.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		changed = false
		party, err := r.parties.GetForUpdate(ctx, tx, ownerID, partyID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		sum, err := r.txns.SignedSum(ctx, tx, party.ID)
		if err != nil {
			return err
		}
		expected := party.OpeningBalance + sum
		if expected == party.Balance {
			return nil
		}
		if err := r.parties.UpdateBalance(ctx, tx, party.ID, expected); err != nil {
			return err
		}
		if err := r.audit.Log(ctx, tx, "", "party.reconcile", "party", party.ID, map[string]any{
			"before": party.Balance,
			"after":  expected,
		}); err != nil {
			return err
		}
		out = RepairedParty{PartyID: party.ID, OwnerID: party.OwnerID, Before: party.Balance, After: expected}
		changed = true
		return nil
	})
	return out, changed, err
}
