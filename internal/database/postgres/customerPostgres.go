package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/eventbooker/ticketing/internal/entity"
)

type customerRepository struct {
	db *sql.DB
}

func NewCustomerRepository(db *sql.DB) CustomerRepository {
	return &customerRepository{db: db}
}

// Upsert inserts the customer keyed by email, refreshing name and phone on
// repeat purchases
func (r *customerRepository) Upsert(ctx context.Context, customer *entity.Customer) error {
	query := `
		INSERT INTO customers (email, name, phone, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name, phone = EXCLUDED.phone
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(ctx, query,
		customer.Email,
		customer.Name,
		customer.Phone,
		time.Now(),
	).Scan(&customer.ID, &customer.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert customer: %w", err)
	}
	return nil
}

// GetByID retrieves a customer by its ID
func (r *customerRepository) GetByID(ctx context.Context, id int64) (*entity.Customer, error) {
	query := `SELECT id, email, name, phone, created_at FROM customers WHERE id = $1`

	var customer entity.Customer
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&customer.ID,
		&customer.Email,
		&customer.Name,
		&customer.Phone,
		&customer.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, entity.ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}

	return &customer, nil
}
