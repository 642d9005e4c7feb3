package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/eventbooker/ticketing/internal/entity"
)

type accessRepository struct {
	db *sql.DB
}

func NewAccessRepository(db *sql.DB) AccessRepository {
	return &accessRepository{db: db}
}

// RoleFor returns the staff role granted to the user on the event
func (r *accessRepository) RoleFor(ctx context.Context, eventID, userID int64) (entity.EventRole, error) {
	query := `SELECT role FROM event_staff WHERE event_id = $1 AND user_id = $2`

	var role entity.EventRole
	err := r.db.QueryRowContext(ctx, query, eventID, userID).Scan(&role)

	if err == sql.ErrNoRows {
		return "", entity.ErrForbidden
	}
	if err != nil {
		return "", fmt.Errorf("failed to get staff role: %w", err)
	}

	return role, nil
}
