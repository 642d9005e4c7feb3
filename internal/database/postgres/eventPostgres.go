package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/eventbooker/ticketing/internal/entity"
)

type eventRepository struct {
	db *sql.DB
}

func NewEventRepository(db *sql.DB) EventRepository {
	return &eventRepository{db: db}
}

// GetByID retrieves an event by its ID
func (r *eventRepository) GetByID(ctx context.Context, id int64) (*entity.Event, error) {
	query := `
		SELECT id, name, description, venue, status, start_date, end_date,
		       handling_fee, handling_fee_percent, currency, created_at, updated_at
		FROM events
		WHERE id = $1
	`

	var event entity.Event
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&event.ID,
		&event.Name,
		&event.Description,
		&event.Venue,
		&event.Status,
		&event.StartDate,
		&event.EndDate,
		&event.HandlingFee,
		&event.HandlingFeePercent,
		&event.Currency,
		&event.CreatedAt,
		&event.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, entity.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	return &event, nil
}

// GetPackage retrieves a ticket package by its ID
func (r *eventRepository) GetPackage(ctx context.Context, id int64) (*entity.TicketPackage, error) {
	query := `
		SELECT id, event_id, name, price, total_tickets, aval_tickets, reserved_seats,
		       max_tickets_per_buyer, seat_selectable, active, sold_out, created_at, updated_at
		FROM ticket_packages
		WHERE id = $1
	`

	var pkg entity.TicketPackage
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&pkg.ID,
		&pkg.EventID,
		&pkg.Name,
		&pkg.Price,
		&pkg.TotalTickets,
		&pkg.AvailTickets,
		&pkg.ReservedSeats,
		&pkg.MaxTicketsPerBuyer,
		&pkg.SeatSelectable,
		&pkg.Active,
		&pkg.SoldOut,
		&pkg.CreatedAt,
		&pkg.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, entity.ErrPackageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get package: %w", err)
	}

	return &pkg, nil
}

// PackagesByEvent retrieves all ticket packages of an event
func (r *eventRepository) PackagesByEvent(ctx context.Context, eventID int64) ([]*entity.TicketPackage, error) {
	query := `
		SELECT id, event_id, name, price, total_tickets, aval_tickets, reserved_seats,
		       max_tickets_per_buyer, seat_selectable, active, sold_out, created_at, updated_at
		FROM ticket_packages
		WHERE event_id = $1
		ORDER BY id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query packages: %w", err)
	}
	defer rows.Close()

	var packages []*entity.TicketPackage
	for rows.Next() {
		var pkg entity.TicketPackage
		err := rows.Scan(
			&pkg.ID,
			&pkg.EventID,
			&pkg.Name,
			&pkg.Price,
			&pkg.TotalTickets,
			&pkg.AvailTickets,
			&pkg.ReservedSeats,
			&pkg.MaxTicketsPerBuyer,
			&pkg.SeatSelectable,
			&pkg.Active,
			&pkg.SoldOut,
			&pkg.CreatedAt,
			&pkg.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan package: %w", err)
		}
		packages = append(packages, &pkg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating packages: %w", err)
	}

	return packages, nil
}
