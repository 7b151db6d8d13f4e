package models

import (
	"math"
	"strings"
	"time"
)

type PartyKind string

const (
	KindCustomer PartyKind = "customer"
	KindSupplier PartyKind = "supplier"
)

func (k PartyKind) Valid() bool {
	return k == KindCustomer || k == KindSupplier
}

type PartyStatus string

const (
	StatusActive  PartyStatus = "active"
	StatusSettled PartyStatus = "settled"
)

func (s PartyStatus) Valid() bool {
	return s == StatusActive || s == StatusSettled
}

// Toggled returns the opposite status. Balance never factors in.
func (s PartyStatus) Toggled() PartyStatus {
	if s == StatusSettled {
		return StatusActive
	}
	return StatusSettled
}

type Direction string

const (
	DirectionGave Direction = "gave"
	DirectionGot  Direction = "got"
)

func (d Direction) Valid() bool {
	return d == DirectionGave || d == DirectionGot
}

// Signed applies the direction rule: gave raises the balance, got lowers it.
func (d Direction) Signed(amount int64) int64 {
	if d == DirectionGot {
		return -amount
	}
	return amount
}

type OpeningDirection string

const (
	ToReceive OpeningDirection = "to_receive"
	ToPay     OpeningDirection = "to_pay"
)

func (d OpeningDirection) Valid() bool {
	return d == ToReceive || d == ToPay
}

// OpeningBalance turns a user-entered magnitude into a signed balance.
func OpeningBalance(amount int64, dir OpeningDirection) int64 {
	if amount == math.MinInt64 {
		amount = math.MaxInt64
	} else if amount < 0 {
		amount = -amount
	}
	if dir == ToPay {
		return -amount
	}
	return amount
}

type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	DisplayName  string    `db:"display_name" json:"display_name"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

type Party struct {
	ID             string      `db:"id" json:"id"`
	OwnerID        string      `db:"owner_id" json:"owner_id"`
	Name           string      `db:"name" json:"name"`
	Phone          *string     `db:"phone" json:"phone,omitempty"`
	Kind           PartyKind   `db:"kind" json:"kind"`
	OpeningBalance int64       `db:"opening_balance" json:"opening_balance"`
	Balance        int64       `db:"balance" json:"balance"`
	Status         PartyStatus `db:"status" json:"status"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at" json:"updated_at"`
}

func (p Party) Receivable() bool {
	return p.Balance > 0
}

func (p Party) Payable() bool {
	return p.Balance < 0
}

type Transaction struct {
	ID              string    `db:"id" json:"id"`
	OwnerID         string    `db:"owner_id" json:"owner_id"`
	PartyID         string    `db:"party_id" json:"party_id"`
	Amount          int64     `db:"amount" json:"amount"`
	Direction       Direction `db:"direction" json:"direction"`
	Date            time.Time `db:"date" json:"date"`
	Description     *string   `db:"description" json:"description,omitempty"`
	ClientRequestID *string   `db:"client_request_id" json:"client_request_id,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// Effect is the signed change this transaction made to its party's balance.
func (t Transaction) Effect() int64 {
	return t.Direction.Signed(t.Amount)
}

// ExpectedBalance recomputes a balance from the opening amount and the log.
func ExpectedBalance(opening int64, txns []Transaction) int64 {
	balance := opening
	for _, txn := range txns {
		balance += txn.Effect()
	}
	return balance
}

// PartyFilter narrows a party listing. Empty fields match everything.
type PartyFilter struct {
	Kind   PartyKind   `json:"kind,omitempty"`
	Status PartyStatus `json:"status,omitempty"`
	Search string      `json:"search,omitempty"`
	Sort   string      `json:"sort,omitempty"`
}

// Matches reports whether p satisfies every set field of the filter.
func (f PartyFilter) Matches(p Party) bool {
	if f.Kind != "" && p.Kind != f.Kind {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	search := strings.ToLower(strings.TrimSpace(f.Search))
	if search == "" {
		return true
	}
	if strings.Contains(strings.ToLower(p.Name), search) {
		return true
	}
	return p.Phone != nil && strings.Contains(strings.ToLower(*p.Phone), search)
}

const (
	TableParties      = "parties"
	TableTransactions = "transactions"
)

const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

// ChangeEvent is pushed to subscribers after a committed write.
type ChangeEvent struct {
	Event   string    `json:"event"`
	Table   string    `json:"table"`
	OwnerID string    `json:"owner_id"`
	RowID   string    `json:"row_id"`
	PartyID string    `json:"party_id,omitempty"`
	At      time.Time `json:"at"`
}
