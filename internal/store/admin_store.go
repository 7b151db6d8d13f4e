package store

import (
	"context"
	"database/sql"
	"errors"
)

const (
	RoleSuper   = "super"
	RoleAuditor = "auditor"
)

type AdminStore struct {
	db DB
}

func NewAdminStore(db DB) *AdminStore {
	return &AdminStore{db: db}
}

// Role returns the admin role of the user, if any.
func (s *AdminStore) Role(ctx context.Context, userID string) (string, bool, error) {
	var role string
	err := s.db.GetContext(ctx, &role, `SELECT role FROM admins WHERE user_id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return role, true, nil
}

func (s *AdminStore) CreateAdmin(ctx context.Context, tx Execer, userID, role string, createdBy *string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO admins (user_id, role, created_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET role = EXCLUDED.role
	`, userID, role, createdBy)
	return err
}

func (s *AdminStore) HasAnyAdmin(ctx context.Context, q Getter) (bool, error) {
	var exists bool
	err := q.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM admins)`)
	return exists, err
}
