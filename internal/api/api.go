// Package api holds the JSON shapes exchanged between the server and the Go
// client. Amounts travel as decimal rupee strings such as "-1500.00".
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"bizledger/internal/models"
	"bizledger/internal/money"
	"bizledger/internal/summary"
)

// Error codes carried in ErrorResponse.Code.
const (
	CodeValidation     = "validation"
	CodeNotFound       = "not_found"
	CodeUnauthorized   = "unauthorized"
	CodeForbidden      = "forbidden"
	CodeConflict       = "conflict"
	CodePartialFailure = "partial_failure"
	CodeUnavailable    = "unavailable"
	CodeInternal       = "internal"
)

type ErrorResponse struct {
	Error  string            `json:"error"`
	Code   string            `json:"code,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

type RegisterRequest struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	DisplayName string `json:"display_name" validate:"notblank,max=80"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

type TokenResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type CreatePartyRequest struct {
	Name             string  `json:"name" validate:"notblank,max=120"`
	Kind             string  `json:"kind" validate:"party_kind"`
	Phone            *string `json:"phone,omitempty" validate:"omitempty,phone"`
	InitialAmount    string  `json:"initial_amount,omitempty"`
	InitialDirection string  `json:"initial_direction,omitempty" validate:"omitempty,opening_direction"`
}

type RecordTransactionRequest struct {
	Amount          string     `json:"amount" validate:"required"`
	Direction       string     `json:"direction" validate:"direction"`
	Description     *string    `json:"description,omitempty" validate:"omitempty,max=280"`
	Date            *time.Time `json:"date,omitempty"`
	ClientRequestID *string    `json:"client_request_id,omitempty" validate:"omitempty,max=64"`
}

type Party struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	Name           string    `json:"name"`
	Phone          *string   `json:"phone,omitempty"`
	Kind           string    `json:"kind"`
	OpeningBalance string    `json:"opening_balance"`
	Balance        string    `json:"balance"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func FromParty(p models.Party) Party {
	return Party{
		ID:             p.ID,
		OwnerID:        p.OwnerID,
		Name:           p.Name,
		Phone:          p.Phone,
		Kind:           string(p.Kind),
		OpeningBalance: money.FormatMinor(p.OpeningBalance),
		Balance:        money.FormatMinor(p.Balance),
		Status:         string(p.Status),
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func FromParties(parties []models.Party) []Party {
	out := make([]Party, 0, len(parties))
	for _, p := range parties {
		out = append(out, FromParty(p))
	}
	return out
}

// Model parses the wire form back into minor units.
func (p Party) Model() (models.Party, error) {
	opening, err := money.ParseMinor(p.OpeningBalance)
	if err != nil {
		return models.Party{}, fmt.Errorf("party %s opening balance: %w", p.ID, err)
	}
	balance, err := money.ParseMinor(p.Balance)
	if err != nil {
		return models.Party{}, fmt.Errorf("party %s balance: %w", p.ID, err)
	}
	return models.Party{
		ID:             p.ID,
		OwnerID:        p.OwnerID,
		Name:           p.Name,
		Phone:          p.Phone,
		Kind:           models.PartyKind(p.Kind),
		OpeningBalance: opening,
		Balance:        balance,
		Status:         models.PartyStatus(p.Status),
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}, nil
}

type Transaction struct {
	ID              string    `json:"id"`
	PartyID         string    `json:"party_id"`
	Amount          string    `json:"amount"`
	Direction       string    `json:"direction"`
	Date            time.Time `json:"date"`
	Description     *string   `json:"description,omitempty"`
	ClientRequestID *string   `json:"client_request_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func FromTransaction(t models.Transaction) Transaction {
	return Transaction{
		ID:              t.ID,
		PartyID:         t.PartyID,
		Amount:          money.FormatMinor(t.Amount),
		Direction:       string(t.Direction),
		Date:            t.Date,
		Description:     t.Description,
		ClientRequestID: t.ClientRequestID,
		CreatedAt:       t.CreatedAt,
	}
}

func FromTransactions(txns []models.Transaction) []Transaction {
	out := make([]Transaction, 0, len(txns))
	for _, t := range txns {
		out = append(out, FromTransaction(t))
	}
	return out
}

func (t Transaction) Model(ownerID string) (models.Transaction, error) {
	amount, err := money.ParseMinor(t.Amount)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("transaction %s amount: %w", t.ID, err)
	}
	return models.Transaction{
		ID:              t.ID,
		OwnerID:         ownerID,
		PartyID:         t.PartyID,
		Amount:          amount,
		Direction:       models.Direction(t.Direction),
		Date:            t.Date,
		Description:     t.Description,
		ClientRequestID: t.ClientRequestID,
		CreatedAt:       t.CreatedAt,
	}, nil
}

type RecordTransactionResponse struct {
	Transaction Transaction `json:"transaction"`
	Balance     string      `json:"balance"`
	Replayed    bool        `json:"replayed"`
}

type DeletePartyResponse struct {
	PartyID             string `json:"party_id"`
	TransactionsDeleted int64  `json:"transactions_deleted"`
}

type Segment struct {
	Kind    string          `json:"kind"`
	PartyID string          `json:"party_id,omitempty"`
	Label   string          `json:"label"`
	Amount  string          `json:"amount"`
	Width   decimal.Decimal `json:"width"`
	Share   decimal.Decimal `json:"share"`
	Count   int             `json:"count"`
}

type Summary struct {
	TotalReceivable string    `json:"total_receivable"`
	TotalPayable    string    `json:"total_payable"`
	Net             string    `json:"net"`
	ReceivableCount int       `json:"receivable_count"`
	PayableCount    int       `json:"payable_count"`
	Segments        []Segment `json:"segments"`
	Empty           bool      `json:"empty"`
}

func FromSummary(s summary.Summary) Summary {
	out := Summary{
		TotalReceivable: money.FormatMinor(s.TotalReceivable),
		TotalPayable:    money.FormatMinor(s.TotalPayable),
		Net:             money.FormatMinor(s.Net),
		ReceivableCount: s.ReceivableCount,
		PayableCount:    s.PayableCount,
		Segments:        make([]Segment, 0, len(s.Segments)),
		Empty:           s.Empty,
	}
	for _, seg := range s.Segments {
		out.Segments = append(out.Segments, Segment{
			Kind:    string(seg.Kind),
			PartyID: seg.PartyID,
			Label:   seg.Label,
			Amount:  money.FormatMinor(seg.Amount),
			Width:   seg.Width,
			Share:   seg.Share,
			Count:   seg.Count,
		})
	}
	return out
}

type ReminderResponse struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
	URI     string `json:"uri"`
}

type DriftRow struct {
	PartyID       string `json:"party_id"`
	Name          string `json:"name"`
	Balance       string `json:"balance"`
	LedgerBalance string `json:"ledger_balance"`
	Difference    string `json:"difference"`
}

type SelfCheckResponse struct {
	Checked int        `json:"checked"`
	Drifted []DriftRow `json:"drifted"`
}

type RepairRow struct {
	PartyID string `json:"party_id"`
	OwnerID string `json:"owner_id"`
	Before  string `json:"before"`
	After   string `json:"after"`
}

type ReconcileResponse struct {
	Found    int         `json:"found"`
	Repaired []RepairRow `json:"repaired"`
}
