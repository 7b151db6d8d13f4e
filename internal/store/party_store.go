package store

import (
	"context"
	"strings"

	"bizledger/internal/models"
)

const partyColumns = `id, owner_id, name, phone, kind, opening_balance, balance, status, created_at, updated_at`

type PartyStore struct {
	db DB
}

// PartyWithLedger pairs the cached balance with the one recomputed from
// the transaction log.
type PartyWithLedger struct {
	models.Party
	LedgerBalance int64 `db:"ledger_balance"`
	Difference    int64 `db:"difference"`
}

func NewPartyStore(db DB) *PartyStore {
	return &PartyStore{db: db}
}

func (s *PartyStore) Create(ctx context.Context, tx Execer, p models.Party) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO parties (id, owner_id, name, phone, kind, opening_balance, balance, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, p.ID, p.OwnerID, p.Name, p.Phone, string(p.Kind), p.OpeningBalance, p.Balance, string(p.Status), p.CreatedAt)
	return err
}

var partyOrderings = map[string]string{
	"":                "created_at DESC, id",
	"created_at_desc": "created_at DESC, id",
	"created_at_asc":  "created_at ASC, id",
	"name_asc":        "lower(name) ASC, id",
	"name_desc":       "lower(name) DESC, id",
	"balance_desc":    "balance DESC, id",
	"balance_asc":     "balance ASC, id",
}

// ValidSort reports whether List understands the requested ordering.
func ValidSort(sort string) bool {
	_, ok := partyOrderings[sort]
	return ok
}

func (s *PartyStore) List(ctx context.Context, ownerID string, filter models.PartyFilter) ([]models.Party, error) {
	query := `SELECT ` + partyColumns + ` FROM parties WHERE owner_id = $1`
	args := []any{ownerID}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		query += ` AND kind = ` + placeholder(len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = ` + placeholder(len(args))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, containsPattern(search))
		p := placeholder(len(args))
		query += ` AND (name ILIKE ` + p + ` OR COALESCE(phone, '') ILIKE ` + p + `)`
	}
	order, ok := partyOrderings[filter.Sort]
	if !ok {
		order = partyOrderings[""]
	}
	query += ` ORDER BY ` + order

	parties := []models.Party{}
	if err := s.db.SelectContext(ctx, &parties, query, args...); err != nil {
		return nil, err
	}
	return parties, nil
}

func (s *PartyStore) GetByID(ctx context.Context, ownerID, partyID string) (models.Party, error) {
	var row models.Party
	err := s.db.GetContext(ctx, &row, `
		SELECT `+partyColumns+`
		FROM parties
		WHERE id = $1 AND owner_id = $2
	`, partyID, ownerID)
	if err != nil {
		return models.Party{}, err
	}
	return row, nil
}

func (s *PartyStore) GetForUpdate(ctx context.Context, tx Getter, ownerID, partyID string) (models.Party, error) {
	var row models.Party
	err := tx.GetContext(ctx, &row, `
		SELECT `+partyColumns+`
		FROM parties
		WHERE id = $1 AND owner_id = $2
		FOR UPDATE
	`, partyID, ownerID)
	if err != nil {
		return models.Party{}, err
	}
	return row, nil
}

func (s *PartyStore) UpdateBalance(ctx context.Context, tx Execer, partyID string, balance int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE parties
		SET balance = $1, updated_at = NOW()
		WHERE id = $2
	`, balance, partyID)
	return err
}

func (s *PartyStore) SetStatus(ctx context.Context, tx Execer, partyID string, status models.PartyStatus) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE parties
		SET status = $1, updated_at = NOW()
		WHERE id = $2
	`, string(status), partyID)
	return err
}

func (s *PartyStore) Delete(ctx context.Context, tx Execer, ownerID, partyID string) (int64, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM parties WHERE id = $1 AND owner_id = $2`, partyID, ownerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const ledgerJoin = `
		SELECT p.id, p.owner_id, p.name, p.phone, p.kind, p.opening_balance, p.balance, p.status, p.created_at, p.updated_at,
		       p.opening_balance + COALESCE(SUM(CASE WHEN t.direction = 'gave' THEN t.amount ELSE -t.amount END), 0) AS ledger_balance,
		       p.balance - p.opening_balance - COALESCE(SUM(CASE WHEN t.direction = 'gave' THEN t.amount ELSE -t.amount END), 0) AS difference
		FROM parties p
		LEFT JOIN transactions t ON t.party_id = p.id
`

// ListWithLedger returns every party of the owner alongside its recomputed balance.
func (s *PartyStore) ListWithLedger(ctx context.Context, ownerID string) ([]PartyWithLedger, error) {
	rows := []PartyWithLedger{}
	err := s.db.SelectContext(ctx, &rows, ledgerJoin+`
		WHERE p.owner_id = $1
		GROUP BY p.id
		ORDER BY p.created_at DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ListDrift returns parties across all owners whose cached balance disagrees
// with the transaction log.
func (s *PartyStore) ListDrift(ctx context.Context, limit int) ([]PartyWithLedger, error) {
	rows := []PartyWithLedger{}
	err := s.db.SelectContext(ctx, &rows, ledgerJoin+`
		GROUP BY p.id
		HAVING p.balance <> p.opening_balance + COALESCE(SUM(CASE WHEN t.direction = 'gave' THEN t.amount ELSE -t.amount END), 0)
		ORDER BY p.updated_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
