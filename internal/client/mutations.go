package client

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"bizledger/internal/api"
	"bizledger/internal/models"
	"bizledger/internal/money"
	"bizledger/internal/validator"
)

const pendingPrefix = "pending-"

type CreatePartyParams struct {
	Name      string
	Kind      models.PartyKind
	Phone     *string
	Amount    int64
	Direction models.OpeningDirection
}

type RecordParams struct {
	PartyID     string
	Amount      int64
	Direction   models.Direction
	Description *string
	Date        *time.Time
}

type RecordResult struct {
	Transaction models.Transaction
	Balance     int64
	Replayed    bool
}

// localValidation runs the request struct through the same rules the server
// applies so bad input never reaches the network.
func localValidation(req any) error {
	err := validator.Struct(req)
	if err == nil {
		return nil
	}
	var verr *validator.Error
	if errors.As(err, &verr) {
		return &ValidationError{Message: "invalid input", Fields: verr.Fields}
	}
	return &ValidationError{Message: err.Error()}
}

// settle resolves an optimistic overlay on the call's terminal outcome: a
// failure drops it, a success swaps in confirm and hands the entries to a
// background refetch.
func settle[V any](c *Client, cache *Cache[V], tag uint64, err error, confirm func(Key, V) V, fetch func(context.Context, Key) (V, error)) {
	if err != nil {
		cache.Rollback(tag)
		return
	}
	for _, key := range cache.Settle(tag, confirm) {
		revalidate(c, cache, key, fetch)
	}
}

func (c *Client) CreateParty(ctx context.Context, p CreatePartyParams) (models.Party, error) {
	owner, err := c.requireOwner()
	if err != nil {
		return models.Party{}, err
	}
	if p.Direction == "" {
		p.Direction = models.ToReceive
	}
	if p.Amount < 0 {
		return models.Party{}, &ValidationError{Message: "opening amount must not be negative", Fields: map[string]string{"initial_amount": "must not be negative"}}
	}
	if p.Amount > money.MaxMinor {
		return models.Party{}, &ValidationError{Message: "opening amount out of range", Fields: map[string]string{"initial_amount": "out of range"}}
	}
	req := api.CreatePartyRequest{
		Name:             strings.TrimSpace(p.Name),
		Kind:             string(p.Kind),
		Phone:            p.Phone,
		InitialDirection: string(p.Direction),
	}
	if p.Amount != 0 {
		req.InitialAmount = money.FormatMinor(p.Amount)
	}
	if err := localValidation(req); err != nil {
		return models.Party{}, err
	}

	now := time.Now().UTC()
	opening := models.OpeningBalance(p.Amount, p.Direction)
	pending := models.Party{
		ID:             pendingPrefix + uuid.NewString(),
		OwnerID:        owner,
		Name:           req.Name,
		Phone:          p.Phone,
		Kind:           p.Kind,
		OpeningBalance: opening,
		Balance:        opening,
		Status:         models.StatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	tag := c.parties.AddOverlay(c.parties.Keys(owner, KindParties), func(key Key, list []models.Party) []models.Party {
		if !parseFilterKey(key.ID).Matches(pending) {
			return list
		}
		return append([]models.Party{pending}, list...)
	})

	var wire api.Party
	_, err = c.do(ctx, request{method: http.MethodPost, path: "/parties", body: req}, &wire)
	var party models.Party
	if err == nil {
		party, err = wire.Model()
	}
	settle(c, c.parties, tag, err, func(key Key, list []models.Party) []models.Party {
		if !parseFilterKey(key.ID).Matches(party) || containsParty(list, party.ID) {
			return list
		}
		return append([]models.Party{party}, list...)
	}, c.fetchParties)
	return party, err
}

// RecordTransaction writes one ledger entry. Transient failures are retried
// with the same client_request_id so the server applies it at most once.
func (c *Client) RecordTransaction(ctx context.Context, p RecordParams) (RecordResult, error) {
	owner, err := c.requireOwner()
	if err != nil {
		return RecordResult{}, err
	}
	if p.Amount <= 0 {
		return RecordResult{}, &ValidationError{Message: "amount must be positive", Fields: map[string]string{"amount": "must be positive"}}
	}
	if p.Amount > money.MaxMinor {
		return RecordResult{}, &ValidationError{Message: "amount out of range", Fields: map[string]string{"amount": "out of range"}}
	}
	requestID := uuid.NewString()
	req := api.RecordTransactionRequest{
		Amount:          money.FormatMinor(p.Amount),
		Direction:       string(p.Direction),
		Description:     p.Description,
		Date:            p.Date,
		ClientRequestID: &requestID,
	}
	if err := localValidation(req); err != nil {
		return RecordResult{}, err
	}

	now := time.Now().UTC()
	date := now
	if p.Date != nil {
		date = *p.Date
	}
	pending := models.Transaction{
		ID:              pendingPrefix + requestID,
		OwnerID:         owner,
		PartyID:         p.PartyID,
		Amount:          p.Amount,
		Direction:       p.Direction,
		Date:            date,
		Description:     p.Description,
		ClientRequestID: &requestID,
		CreatedAt:       now,
	}
	effect := pending.Effect()
	partyTag := c.parties.AddOverlay(c.parties.Keys(owner, KindParties), func(_ Key, list []models.Party) []models.Party {
		return mapParty(list, p.PartyID, func(party models.Party) models.Party {
			party.Balance += effect
			return party
		})
	})
	txnTag := c.txns.AddOverlay([]Key{{Owner: owner, Kind: KindTransactions, ID: p.PartyID}}, func(_ Key, list []models.Transaction) []models.Transaction {
		return append([]models.Transaction{pending}, list...)
	})

	var wire api.RecordTransactionResponse
	path := "/parties/" + url.PathEscape(p.PartyID) + "/transactions"
	_, err = c.doRetry(ctx, request{method: http.MethodPost, path: path, body: req}, &wire)
	var result RecordResult
	if err == nil {
		result.Replayed = wire.Replayed
		result.Transaction, err = wire.Transaction.Model(owner)
	}
	if err == nil {
		result.Balance, err = money.ParseMinor(wire.Balance)
	}
	settle(c, c.parties, partyTag, err, func(_ Key, list []models.Party) []models.Party {
		return mapParty(list, p.PartyID, func(party models.Party) models.Party {
			party.Balance = result.Balance
			return party
		})
	}, c.fetchParties)
	settle(c, c.txns, txnTag, err, func(_ Key, list []models.Transaction) []models.Transaction {
		for _, txn := range list {
			if txn.ID == result.Transaction.ID {
				return list
			}
		}
		return append([]models.Transaction{result.Transaction}, list...)
	}, c.fetchTransactions)
	return result, err
}

func (c *Client) ToggleStatus(ctx context.Context, partyID string) (models.Party, error) {
	owner, err := c.requireOwner()
	if err != nil {
		return models.Party{}, err
	}
	tag := c.parties.AddOverlay(c.parties.Keys(owner, KindParties), func(key Key, list []models.Party) []models.Party {
		filter := parseFilterKey(key.ID)
		out := make([]models.Party, 0, len(list))
		for _, party := range list {
			if party.ID == partyID {
				party.Status = party.Status.Toggled()
				if !filter.Matches(party) {
					continue
				}
			}
			out = append(out, party)
		}
		return out
	})

	var wire api.Party
	_, err = c.do(ctx, request{method: http.MethodPost, path: "/parties/" + url.PathEscape(partyID) + "/toggle-status"}, &wire)
	var party models.Party
	if err == nil {
		party, err = wire.Model()
	}
	settle(c, c.parties, tag, err, func(key Key, list []models.Party) []models.Party {
		filter := parseFilterKey(key.ID)
		out := make([]models.Party, 0, len(list))
		for _, existing := range list {
			if existing.ID == party.ID {
				if !filter.Matches(party) {
					continue
				}
				existing = party
			}
			out = append(out, existing)
		}
		return out
	}, c.fetchParties)
	return party, err
}

// DeleteParty removes the party and its whole transaction log. On a
// PartialFailureError the server rolled back and the party is still there.
func (c *Client) DeleteParty(ctx context.Context, partyID string) (api.DeletePartyResponse, error) {
	owner, err := c.requireOwner()
	if err != nil {
		return api.DeletePartyResponse{}, err
	}
	tag := c.parties.AddOverlay(c.parties.Keys(owner, KindParties), func(_ Key, list []models.Party) []models.Party {
		out := make([]models.Party, 0, len(list))
		for _, party := range list {
			if party.ID != partyID {
				out = append(out, party)
			}
		}
		return out
	})

	var out api.DeletePartyResponse
	_, err = c.do(ctx, request{method: http.MethodDelete, path: "/parties/" + url.PathEscape(partyID)}, &out)
	settle(c, c.parties, tag, err, nil, c.fetchParties)
	if err == nil {
		c.txns.Remove(Key{Owner: owner, Kind: KindTransactions, ID: partyID})
	}
	return out, err
}

func containsParty(list []models.Party, partyID string) bool {
	for _, party := range list {
		if party.ID == partyID {
			return true
		}
	}
	return false
}

func mapParty(list []models.Party, partyID string, fn func(models.Party) models.Party) []models.Party {
	out := make([]models.Party, len(list))
	for i, party := range list {
		if party.ID == partyID {
			party = fn(party)
		}
		out[i] = party
	}
	return out
}
