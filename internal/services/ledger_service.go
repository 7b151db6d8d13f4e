package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"bizledger/internal/db"
	"bizledger/internal/models"
	"bizledger/internal/money"
	"bizledger/internal/reminder"
	"bizledger/internal/store"
	"bizledger/internal/summary"
)

const maxNameLength = 120

type PartyStore interface {
	Create(ctx context.Context, tx store.Execer, p models.Party) error
	List(ctx context.Context, ownerID string, filter models.PartyFilter) ([]models.Party, error)
	GetByID(ctx context.Context, ownerID, partyID string) (models.Party, error)
	GetForUpdate(ctx context.Context, tx store.Getter, ownerID, partyID string) (models.Party, error)
	UpdateBalance(ctx context.Context, tx store.Execer, partyID string, balance int64) error
	SetStatus(ctx context.Context, tx store.Execer, partyID string, status models.PartyStatus) error
	Delete(ctx context.Context, tx store.Execer, ownerID, partyID string) (int64, error)
	ListWithLedger(ctx context.Context, ownerID string) ([]store.PartyWithLedger, error)
}

type TransactionStore interface {
	Create(ctx context.Context, tx store.Execer, t models.Transaction) error
	GetByClientRequestID(ctx context.Context, q store.Getter, ownerID, clientRequestID string) (models.Transaction, error)
	ListByParty(ctx context.Context, ownerID, partyID string) ([]models.Transaction, error)
	DeleteByParty(ctx context.Context, tx store.Execer, ownerID, partyID string) (int64, error)
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID string, data any) error
}

type UserStore interface {
	GetByID(ctx context.Context, userID string) (models.User, error)
}

// ChangePublisher receives committed changes. websocket.Hub implements it.
type ChangePublisher interface {
	Publish(ctx context.Context, event models.ChangeEvent)
}

type MutationRecorder interface {
	Mutation(op string, err error)
}

type nopRecorder struct{}

func (nopRecorder) Mutation(string, error) {}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, models.ChangeEvent) {}

type LedgerService struct {
	txRunner  db.TxRunner
	parties   PartyStore
	txns      TransactionStore
	audit     AuditStore
	users     UserStore
	publisher ChangePublisher
	recorder  MutationRecorder
	reminders reminder.Builder
	now       func() time.Time
}

type LedgerOption func(*LedgerService)

func WithRecorder(r MutationRecorder) LedgerOption {
	return func(s *LedgerService) {
		if r != nil {
			s.recorder = r
		}
	}
}

func WithReminderBuilder(b reminder.Builder) LedgerOption {
	return func(s *LedgerService) { s.reminders = b }
}

func WithClock(now func() time.Time) LedgerOption {
	return func(s *LedgerService) { s.now = now }
}

func NewLedgerService(txRunner db.TxRunner, parties PartyStore, txns TransactionStore, audit AuditStore, users UserStore, publisher ChangePublisher, opts ...LedgerOption) *LedgerService {
	s := &LedgerService{
		txRunner:  txRunner,
		parties:   parties,
		txns:      txns,
		audit:     audit,
		users:     users,
		publisher: publisher,
		recorder:  nopRecorder{},
		reminders: reminder.NewBuilder(reminder.DefaultScheme, "91"),
		now:       time.Now,
	}
	if s.publisher == nil {
		s.publisher = nopPublisher{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreatePartyInput struct {
	OwnerID          string
	Name             string
	Kind             models.PartyKind
	Phone            *string
	InitialAmount    int64
	InitialDirection models.OpeningDirection
}

func (s *LedgerService) CreateParty(ctx context.Context, in CreatePartyInput) (party models.Party, err error) {
	defer func() { s.recorder.Mutation("create_party", err) }()

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return models.Party{}, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if len(name) > maxNameLength {
		return models.Party{}, fmt.Errorf("%w: name is too long", ErrValidation)
	}
	if !in.Kind.Valid() {
		return models.Party{}, fmt.Errorf("%w: kind must be customer or supplier", ErrValidation)
	}
	if !money.InRange(in.InitialAmount) {
		return models.Party{}, fmt.Errorf("%w: opening amount out of range", ErrValidation)
	}
	dir := in.InitialDirection
	if dir == "" {
		dir = models.ToReceive
	}
	if !dir.Valid() {
		return models.Party{}, fmt.Errorf("%w: opening direction must be to_receive or to_pay", ErrValidation)
	}

	now := s.now().UTC()
	opening := models.OpeningBalance(in.InitialAmount, dir)
	party = models.Party{
		ID:             uuid.NewString(),
		OwnerID:        in.OwnerID,
		Name:           name,
		Phone:          trimmedOrNil(in.Phone),
		Kind:           in.Kind,
		OpeningBalance: opening,
		Balance:        opening,
		Status:         models.StatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.parties.Create(ctx, tx, party); err != nil {
			return err
		}
		return s.audit.Log(ctx, tx, in.OwnerID, "party.create", "party", party.ID, map[string]any{
			"name":            party.Name,
			"kind":            party.Kind,
			"opening_balance": party.OpeningBalance,
		})
	})
	if err != nil {
		return models.Party{}, err
	}
	s.publish(ctx, models.EventInsert, models.TableParties, party.OwnerID, party.ID, party.ID)
	return party, nil
}

type RecordTransactionInput struct {
	OwnerID         string
	PartyID         string
	Amount          int64
	Direction       models.Direction
	Description     *string
	Date            *time.Time
	ClientRequestID *string
}

type RecordResult struct {
	Transaction models.Transaction `json:"transaction"`
	Balance     int64              `json:"balance"`
	// Replayed is set when the idempotency key matched an earlier write.
	Replayed bool `json:"replayed"`
}

// RecordTransaction appends to the party's log and moves its balance in the
// same serializable transaction, holding the party row lock throughout.
func (s *LedgerService) RecordTransaction(ctx context.Context, in RecordTransactionInput) (result RecordResult, err error) {
	defer func() { s.recorder.Mutation("record_transaction", err) }()

	if in.Amount <= 0 {
		return RecordResult{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if in.Amount > money.MaxMinor {
		return RecordResult{}, fmt.Errorf("%w: amount out of range", ErrValidation)
	}
	if !in.Direction.Valid() {
		return RecordResult{}, fmt.Errorf("%w: direction must be gave or got", ErrValidation)
	}
	key := trimmedOrNil(in.ClientRequestID)

	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		result = RecordResult{}
		if key != nil {
			existing, err := s.txns.GetByClientRequestID(ctx, tx, in.OwnerID, *key)
			switch {
			case err == nil:
				return s.replay(ctx, tx, in, existing, &result)
			case !errors.Is(err, sql.ErrNoRows):
				return err
			}
		}

		party, err := s.parties.GetForUpdate(ctx, tx, in.OwnerID, in.PartyID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: party %s", ErrNotFound, in.PartyID)
			}
			return err
		}

		now := s.now().UTC()
		date := now
		if in.Date != nil && !in.Date.IsZero() {
			date = in.Date.UTC()
		}
		txn := models.Transaction{
			ID:              uuid.NewString(),
			OwnerID:         in.OwnerID,
			PartyID:         party.ID,
			Amount:          in.Amount,
			Direction:       in.Direction,
			Date:            date,
			Description:     trimmedOrNil(in.Description),
			ClientRequestID: key,
			CreatedAt:       now,
		}
		if err := s.txns.Create(ctx, tx, txn); err != nil {
			return err
		}
		balance := party.Balance + txn.Effect()
		if err := s.parties.UpdateBalance(ctx, tx, party.ID, balance); err != nil {
			return err
		}
		if err := s.audit.Log(ctx, tx, in.OwnerID, "transaction.record", "transaction", txn.ID, map[string]any{
			"party_id":       party.ID,
			"amount":         txn.Amount,
			"direction":      txn.Direction,
			"balance_before": party.Balance,
			"balance_after":  balance,
		}); err != nil {
			return err
		}
		result = RecordResult{Transaction: txn, Balance: balance}
		return nil
	})
	if err != nil && key != nil && db.IsUniqueViolation(err) {
		// A concurrent request with the same key won the insert.
		err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
			existing, err := s.txns.GetByClientRequestID(ctx, tx, in.OwnerID, *key)
			if err != nil {
				return err
			}
			return s.replay(ctx, tx, in, existing, &result)
		})
	}
	if err != nil {
		return RecordResult{}, err
	}
	if result.Replayed {
		slog.Debug("replayed transaction", "owner_id", in.OwnerID, "transaction_id", result.Transaction.ID)
		return result, nil
	}
	s.publish(ctx, models.EventInsert, models.TableTransactions, in.OwnerID, result.Transaction.ID, result.Transaction.PartyID)
	s.publish(ctx, models.EventUpdate, models.TableParties, in.OwnerID, result.Transaction.PartyID, result.Transaction.PartyID)
	return result, nil
}

// replay answers a repeated idempotency key with the original write. A key
// reused for a different entry is rejected rather than silently replayed.
func (s *LedgerService) replay(ctx context.Context, tx store.Getter, in RecordTransactionInput, existing models.Transaction, result *RecordResult) error {
	if existing.PartyID != in.PartyID || existing.Amount != in.Amount || existing.Direction != in.Direction {
		return fmt.Errorf("%w: already recorded as transaction %s", ErrKeyReused, existing.ID)
	}
	party, err := s.parties.GetForUpdate(ctx, tx, existing.OwnerID, existing.PartyID)
	if err != nil {
		return err
	}
	*result = RecordResult{Transaction: existing, Balance: party.Balance, Replayed: true}
	return nil
}

// ToggleStatus flips active and settled. The balance is untouched.
func (s *LedgerService) ToggleStatus(ctx context.Context, ownerID, partyID string) (party models.Party, err error) {
	defer func() { s.recorder.Mutation("toggle_status", err) }()

	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		current, err := s.parties.GetForUpdate(ctx, tx, ownerID, partyID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: party %s", ErrNotFound, partyID)
			}
			return err
		}
		next := current.Status.Toggled()
		if err := s.parties.SetStatus(ctx, tx, current.ID, next); err != nil {
			return err
		}
		if err := s.audit.Log(ctx, tx, ownerID, "party.toggle_status", "party", current.ID, map[string]any{
			"from": current.Status,
			"to":   next,
		}); err != nil {
			return err
		}
		current.Status = next
		current.UpdatedAt = s.now().UTC()
		party = current
		return nil
	})
	if err != nil {
		return models.Party{}, err
	}
	s.publish(ctx, models.EventUpdate, models.TableParties, ownerID, party.ID, party.ID)
	return party, nil
}

type DeleteResult struct {
	PartyID             string `json:"party_id"`
	TransactionsDeleted int64  `json:"transactions_deleted"`
}

// DeleteParty removes the party and its whole log as one unit. If the party
// row survives the transaction purge nothing is committed.
func (s *LedgerService) DeleteParty(ctx context.Context, ownerID, partyID string) (result DeleteResult, err error) {
	defer func() { s.recorder.Mutation("delete_party", err) }()

	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		party, err := s.parties.GetForUpdate(ctx, tx, ownerID, partyID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: party %s", ErrNotFound, partyID)
			}
			return err
		}
		removed, err := s.txns.DeleteByParty(ctx, tx, ownerID, party.ID)
		if err != nil {
			return err
		}
		n, err := s.parties.Delete(ctx, tx, ownerID, party.ID)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: party %s still present after removing %d transactions", ErrPartialDelete, party.ID, removed)
		}
		if err := s.audit.Log(ctx, tx, ownerID, "party.delete", "party", party.ID, map[string]any{
			"name":                 party.Name,
			"balance":              party.Balance,
			"transactions_deleted": removed,
		}); err != nil {
			return err
		}
		result = DeleteResult{PartyID: party.ID, TransactionsDeleted: removed}
		return nil
	})
	if err != nil {
		return DeleteResult{}, err
	}
	s.publish(ctx, models.EventDelete, models.TableParties, ownerID, partyID, partyID)
	if result.TransactionsDeleted > 0 {
		s.publish(ctx, models.EventDelete, models.TableTransactions, ownerID, partyID, partyID)
	}
	return result, nil
}

func (s *LedgerService) ListParties(ctx context.Context, ownerID string, filter models.PartyFilter) ([]models.Party, error) {
	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrValidation, filter.Kind)
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, filter.Status)
	}
	if !store.ValidSort(filter.Sort) {
		return nil, fmt.Errorf("%w: unknown sort %q", ErrValidation, filter.Sort)
	}
	return s.parties.List(ctx, ownerID, filter)
}

func (s *LedgerService) GetParty(ctx context.Context, ownerID, partyID string) (models.Party, error) {
	party, err := s.parties.GetByID(ctx, ownerID, partyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Party{}, fmt.Errorf("%w: party %s", ErrNotFound, partyID)
		}
		return models.Party{}, err
	}
	return party, nil
}

// ListTransactions returns the party's log, newest first. A party that is
// not the owner's reads as not found rather than empty.
func (s *LedgerService) ListTransactions(ctx context.Context, ownerID, partyID string) ([]models.Transaction, error) {
	if _, err := s.GetParty(ctx, ownerID, partyID); err != nil {
		return nil, err
	}
	return s.txns.ListByParty(ctx, ownerID, partyID)
}

func (s *LedgerService) Summary(ctx context.Context, ownerID string) (summary.Summary, error) {
	parties, err := s.parties.List(ctx, ownerID, models.PartyFilter{Status: models.StatusActive})
	if err != nil {
		return summary.Summary{}, err
	}
	return summary.Compute(parties), nil
}

// Reminder builds the payment reminder link for one party.
func (s *LedgerService) Reminder(ctx context.Context, ownerID, partyID string) (reminder.Link, error) {
	party, err := s.GetParty(ctx, ownerID, partyID)
	if err != nil {
		return reminder.Link{}, err
	}
	var ownerName string
	if s.users != nil {
		user, err := s.users.GetByID(ctx, ownerID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return reminder.Link{}, err
		}
		ownerName = user.DisplayName
	}
	var phone string
	if party.Phone != nil {
		phone = *party.Phone
	}
	return s.reminders.Build(reminder.Request{
		PartyName: party.Name,
		Phone:     phone,
		Amount:    party.Balance,
		OwnerName: ownerName,
	})
}

type SelfCheckReport struct {
	Checked int                     `json:"checked"`
	Drifted []store.PartyWithLedger `json:"drifted"`
}

// SelfCheck compares every cached balance of the owner with its log.
func (s *LedgerService) SelfCheck(ctx context.Context, ownerID string) (SelfCheckReport, error) {
	rows, err := s.parties.ListWithLedger(ctx, ownerID)
	if err != nil {
		return SelfCheckReport{}, err
	}
	report := SelfCheckReport{Checked: len(rows), Drifted: []store.PartyWithLedger{}}
	for _, row := range rows {
		if row.Difference != 0 {
			report.Drifted = append(report.Drifted, row)
		}
	}
	return report, nil
}

func (s *LedgerService) publish(ctx context.Context, event, table, ownerID, rowID, partyID string) {
	s.publisher.Publish(ctx, models.ChangeEvent{
		Event:   event,
		Table:   table,
		OwnerID: ownerID,
		RowID:   rowID,
		PartyID: partyID,
		At:      s.now().UTC(),
	})
}

func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
