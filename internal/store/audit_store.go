package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx/types"
)

type AuditStore struct {
	db DB
}

type AuditEntry struct {
	ID          string         `db:"id" json:"id"`
	ActorUserID *string        `db:"actor_user_id" json:"actor_user_id,omitempty"`
	Action      string         `db:"action" json:"action"`
	EntityType  string         `db:"entity_type" json:"entity_type"`
	EntityID    string         `db:"entity_id" json:"entity_id"`
	Data        types.JSONText `db:"data" json:"data"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
}

type AuditFilter struct {
	ActorUserID string
	EntityID    string
	Limit       int
	Offset      int
}

func NewAuditStore(db DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) Log(ctx context.Context, tx Execer, actorID, action, entityType, entityID string, data any) error {
	if data == nil {
		data = struct{}{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var actor *string
	if actorID != "" {
		actor = &actorID
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_user_id, action, entity_type, entity_id, data)
		VALUES (gen_random_uuid()::text, $1, $2, $3, $4, $5)
	`, actor, action, entityType, entityID, string(payload))
	return err
}

func (s *AuditStore) List(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	query := `SELECT id, actor_user_id, action, entity_type, entity_id, data, created_at FROM audit_logs WHERE TRUE`
	var args []any
	if filter.ActorUserID != "" {
		args = append(args, filter.ActorUserID)
		query += ` AND actor_user_id = ` + placeholder(len(args))
	}
	if filter.EntityID != "" {
		args = append(args, filter.EntityID)
		query += ` AND entity_id = ` + placeholder(len(args))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit, filter.Offset)
	query += ` ORDER BY created_at DESC LIMIT ` + placeholder(len(args)-1) + ` OFFSET ` + placeholder(len(args))

	rows := []AuditEntry{}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
