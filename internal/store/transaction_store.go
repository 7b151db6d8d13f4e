package store

import (
	"context"

	"bizledger/internal/models"
)

const transactionColumns = `id, owner_id, party_id, amount, direction, date, description, client_request_id, created_at`

type TransactionStore struct {
	db DB
}

func NewTransactionStore(db DB) *TransactionStore {
	return &TransactionStore{db: db}
}

func (s *TransactionStore) Create(ctx context.Context, tx Execer, t models.Transaction) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (id, owner_id, party_id, amount, direction, date, description, client_request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, t.ID, t.OwnerID, t.PartyID, t.Amount, string(t.Direction), t.Date, t.Description, t.ClientRequestID, t.CreatedAt)
	return err
}

// GetByClientRequestID finds a previously recorded transaction by its
// idempotency key.
func (s *TransactionStore) GetByClientRequestID(ctx context.Context, q Getter, ownerID, clientRequestID string) (models.Transaction, error) {
	var row models.Transaction
	err := q.GetContext(ctx, &row, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE owner_id = $1 AND client_request_id = $2
	`, ownerID, clientRequestID)
	if err != nil {
		return models.Transaction{}, err
	}
	return row, nil
}

func (s *TransactionStore) ListByParty(ctx context.Context, ownerID, partyID string) ([]models.Transaction, error) {
	rows := []models.Transaction{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE owner_id = $1 AND party_id = $2
		ORDER BY date DESC, created_at DESC
	`, ownerID, partyID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *TransactionStore) DeleteByParty(ctx context.Context, tx Execer, ownerID, partyID string) (int64, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE owner_id = $1 AND party_id = $2`, ownerID, partyID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SignedSum totals the balance effect of every transaction on the party.
func (s *TransactionStore) SignedSum(ctx context.Context, q Getter, partyID string) (int64, error) {
	var sum int64
	err := q.GetContext(ctx, &sum, `
		SELECT COALESCE(SUM(CASE WHEN direction = 'gave' THEN amount ELSE -amount END), 0)
		FROM transactions
		WHERE party_id = $1
	`, partyID)
	return sum, err
}
