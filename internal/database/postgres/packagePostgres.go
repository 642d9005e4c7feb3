package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/eventbooker/ticketing/internal/entity"
)

// pqLockNotAvailable is raised by FOR UPDATE NOWAIT when another transaction
// holds the row lock.
const pqLockNotAvailable = "55P03"

func isLockNotAvailable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqLockNotAvailable
}

// lockPackageTx loads a package row under FOR UPDATE NOWAIT. Lock contention
// surfaces as entity.ErrContention so callers can retry with backoff instead
// of queueing behind a long transaction.
func lockPackageTx(ctx context.Context, tx *sql.Tx, id int64) (*entity.TicketPackage, error) {
	query := `
		SELECT id, event_id, name, price, total_tickets, aval_tickets,
		       reserved_seats, max_tickets_per_buyer, seat_selectable, active, sold_out
		FROM ticket_packages
		WHERE id = $1
		FOR UPDATE NOWAIT
	`

	var pkg entity.TicketPackage
	err := tx.QueryRowContext(ctx, query, id).Scan(
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
	)

	if err == sql.ErrNoRows {
		return nil, entity.ErrPackageNotFound
	}
	if isLockNotAvailable(err) {
		return nil, entity.ErrContention
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock package: %w", err)
	}

	return &pkg, nil
}

// reservePackageTx takes count tickets and the requested seats from a locked
// package. The caller must already hold the row lock via lockPackageTx.
func reservePackageTx(ctx context.Context, tx *sql.Tx, pkg *entity.TicketPackage, count int, seats entity.SeatSet) error {
	if !pkg.OnSale() {
		return fmt.Errorf("%w: package %d", entity.ErrPackageNotOnSale, pkg.ID)
	}
	if pkg.AvailTickets < count {
		return &entity.InsufficientInventoryError{
			PackageID: pkg.ID,
			Requested: count,
			Available: pkg.AvailTickets,
		}
	}

	if len(seats) > 0 {
		if taken := pkg.ReservedSeats.Intersect(seats); len(taken) > 0 {
			return &entity.SeatConflictError{PackageID: pkg.ID, Seats: taken.Sorted()}
		}
	}

	query := `
		UPDATE ticket_packages
		SET aval_tickets = aval_tickets - $1, reserved_seats = $2, updated_at = $3
		WHERE id = $4
	`
	_, err := tx.ExecContext(ctx, query, count, pkg.ReservedSeats.Add(seats), time.Now(), pkg.ID)
	if err != nil {
		return fmt.Errorf("failed to reserve package tickets: %w", err)
	}

	pkg.AvailTickets -= count
	pkg.ReservedSeats = pkg.ReservedSeats.Add(seats)
	return nil
}

// releasePackageTx returns count tickets and the given seats to a locked
// package. Releasing more than was ever taken breaks the inventory equation
// and is reported instead of silently clamped.
func releasePackageTx(ctx context.Context, tx *sql.Tx, pkg *entity.TicketPackage, count int, seats entity.SeatSet) error {
	if pkg.AvailTickets+count > pkg.TotalTickets {
		return fmt.Errorf("%w: package %d would hold %d of %d tickets",
			entity.ErrInvariantViolation, pkg.ID, pkg.AvailTickets+count, pkg.TotalTickets)
	}

	query := `
		UPDATE ticket_packages
		SET aval_tickets = aval_tickets + $1, reserved_seats = $2, updated_at = $3
		WHERE id = $4
	`
	_, err := tx.ExecContext(ctx, query, count, pkg.ReservedSeats.Remove(seats), time.Now(), pkg.ID)
	if err != nil {
		return fmt.Errorf("failed to release package tickets: %w", err)
	}

	pkg.AvailTickets += count
	pkg.ReservedSeats = pkg.ReservedSeats.Remove(seats)
	return nil
}

// buyerHeldTicketsTx counts tickets the customer already holds in the
// package over paid and verified sales.
func buyerHeldTicketsTx(ctx context.Context, tx *sql.Tx, packageID, customerID int64) (int, error) {
	query := `
		SELECT COALESCE(SUM(sp.ticket_count), 0)
		FROM ticket_sale_packages sp
		JOIN ticket_sales s ON sp.sale_id = s.id
		WHERE sp.package_id = $1 AND s.customer_id = $2
		  AND s.status IN ('complete', 'partially_verified', 'verified')
	`

	var held int
	if err := tx.QueryRowContext(ctx, query, packageID, customerID).Scan(&held); err != nil {
		return 0, fmt.Errorf("failed to count buyer tickets: %w", err)
	}
	return held, nil
}
