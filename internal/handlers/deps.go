package handlers

import (
	"context"

	"bizledger/internal/models"
	"bizledger/internal/reminder"
	"bizledger/internal/services"
	"bizledger/internal/store"
	"bizledger/internal/summary"
)

type UserStore interface {
	Create(ctx context.Context, tx store.Execer, u models.User) error
	GetByEmail(ctx context.Context, email string) (models.User, error)
	GetByID(ctx context.Context, userID string) (models.User, error)
}

type AdminStore interface {
	Role(ctx context.Context, userID string) (string, bool, error)
	CreateAdmin(ctx context.Context, tx store.Execer, userID, role string, createdBy *string) error
	HasAnyAdmin(ctx context.Context, q store.Getter) (bool, error)
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID string, data any) error
	List(ctx context.Context, filter store.AuditFilter) ([]store.AuditEntry, error)
}

type LedgerService interface {
	CreateParty(ctx context.Context, in services.CreatePartyInput) (models.Party, error)
	RecordTransaction(ctx context.Context, in services.RecordTransactionInput) (services.RecordResult, error)
	ToggleStatus(ctx context.Context, ownerID, partyID string) (models.Party, error)
	DeleteParty(ctx context.Context, ownerID, partyID string) (services.DeleteResult, error)
	ListParties(ctx context.Context, ownerID string, filter models.PartyFilter) ([]models.Party, error)
	ListTransactions(ctx context.Context, ownerID, partyID string) ([]models.Transaction, error)
	Summary(ctx context.Context, ownerID string) (summary.Summary, error)
	Reminder(ctx context.Context, ownerID, partyID string) (reminder.Link, error)
	SelfCheck(ctx context.Context, ownerID string) (services.SelfCheckReport, error)
}

type Reconciler interface {
	ReconcileOnce(ctx context.Context) (services.ReconcileReport, error)
}
