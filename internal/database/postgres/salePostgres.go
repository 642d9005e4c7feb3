package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"

	"github.com/eventbooker/ticketing/internal/entity"
)

type saleRepository struct {
	db         *sql.DB
	subOrderID SubOrderIDFunc
}

func NewSaleRepository(db *sql.DB, subOrderID SubOrderIDFunc) SaleRepository {
	return &saleRepository{db: db, subOrderID: subOrderID}
}

const saleColumns = `
	id, order_id, event_id, customer_id, status, subtotal, discount,
	handling_fee, total, currency, promotion_id, promo_code, payment_ref,
	eticket_url, total_tickets, verified_tickets, verified_by, verified_at,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSale(row rowScanner) (*entity.TicketSale, error) {
	var sale entity.TicketSale
	var promotionID sql.NullInt64
	var verifiedBy sql.NullInt64
	var verifiedAt sql.NullTime

	err := row.Scan(
		&sale.ID,
		&sale.OrderID,
		&sale.EventID,
		&sale.CustomerID,
		&sale.Status,
		&sale.Subtotal,
		&sale.Discount,
		&sale.HandlingFee,
		&sale.Total,
		&sale.Currency,
		&promotionID,
		&sale.PromoCode,
		&sale.PaymentRef,
		&sale.ETicketURL,
		&sale.TotalTickets,
		&sale.VerifiedTickets,
		&verifiedBy,
		&verifiedAt,
		&sale.CreatedAt,
		&sale.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if promotionID.Valid {
		sale.PromotionID = &promotionID.Int64
	}
	if verifiedBy.Valid {
		sale.VerifiedBy = &verifiedBy.Int64
	}
	if verifiedAt.Valid {
		sale.VerifiedAt = &verifiedAt.Time
	}
	return &sale, nil
}

// Create opens a pending sale in one transaction, see SaleRepository
func (r *saleRepository) Create(ctx context.Context, sale *entity.TicketSale) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if sale.PromotionID != nil {
		if err := checkRedemptionLimitTx(ctx, tx, *sale.PromotionID); err != nil {
			return err
		}
	}

	// Packages are locked in ascending ID order so that concurrent orders
	// over overlapping packages never deadlock against each other.
	lines := make([]*entity.SalePackage, len(sale.Lines))
	for i := range sale.Lines {
		lines[i] = &sale.Lines[i]
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].PackageID < lines[j].PackageID })

	for _, line := range lines {
		pkg, err := lockPackageTx(ctx, tx, line.PackageID)
		if err != nil {
			return err
		}
		if pkg.EventID != sale.EventID {
			return fmt.Errorf("%w: package %d does not belong to event %d",
				entity.ErrInvalidInput, line.PackageID, sale.EventID)
		}

		held, err := buyerHeldTicketsTx(ctx, tx, line.PackageID, sale.CustomerID)
		if err != nil {
			return err
		}
		if cap := pkg.BuyerCap(); cap > 0 && held+line.TicketCount > cap {
			return &entity.PerUserCapError{
				PackageID: line.PackageID,
				Cap:       cap,
				Held:      held,
				Requested: line.TicketCount,
			}
		}

		if err := reservePackageTx(ctx, tx, pkg, line.TicketCount, line.SeatNos); err != nil {
			return err
		}
	}

	now := time.Now()
	query := `
		INSERT INTO ticket_sales (
			order_id, event_id, customer_id, status, subtotal, discount,
			handling_fee, total, currency, promotion_id, promo_code,
			total_tickets, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`

	var promotionID sql.NullInt64
	if sale.PromotionID != nil {
		promotionID = sql.NullInt64{Int64: *sale.PromotionID, Valid: true}
	}

	err = tx.QueryRowContext(ctx, query,
		sale.OrderID,
		sale.EventID,
		sale.CustomerID,
		entity.SaleStatusPending,
		sale.Subtotal,
		sale.Discount,
		sale.HandlingFee,
		sale.Total,
		sale.Currency,
		promotionID,
		sale.PromoCode,
		sale.TotalTickets,
		now,
		now,
	).Scan(&sale.ID)
	if err != nil {
		return fmt.Errorf("failed to create sale: %w", err)
	}

	for i := range sale.Lines {
		line := &sale.Lines[i]
		line.SaleID = sale.ID

		query = `
			INSERT INTO ticket_sale_packages (sale_id, package_id, ticket_count, seat_nos, unit_price, line_total)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`
		err = tx.QueryRowContext(ctx, query,
			line.SaleID,
			line.PackageID,
			line.TicketCount,
			line.SeatNos,
			line.UnitPrice,
			line.LineTotal,
		).Scan(&line.ID)
		if err != nil {
			return fmt.Errorf("failed to create sale line: %w", err)
		}
	}

	details := entity.HistoryDetails{"total_tickets": sale.TotalTickets, "total": sale.Total.String()}
	if err := insertHistoryTx(ctx, tx, sale.ID, entity.HistoryActionCreated, details, 0); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	sale.Status = entity.SaleStatusPending
	sale.CreatedAt = now
	sale.UpdatedAt = now
	return nil
}

// checkRedemptionLimitTx locks the promotion row and rejects the order once
// the live redemption count has reached the cap.
func checkRedemptionLimitTx(ctx context.Context, tx *sql.Tx, promotionID int64) error {
	var limit int
	query := `SELECT max_redemptions FROM promotions WHERE id = $1 FOR UPDATE`
	if err := tx.QueryRowContext(ctx, query, promotionID).Scan(&limit); err != nil {
		if err == sql.ErrNoRows {
			return entity.ErrInvalidPromoCode
		}
		return fmt.Errorf("failed to lock promotion: %w", err)
	}
	if limit == 0 {
		return nil
	}

	var redeemed int
	query = `
		SELECT COUNT(*) FROM ticket_sales
		WHERE promotion_id = $1
		  AND status IN ('pending', 'complete', 'partially_verified', 'verified')
	`
	if err := tx.QueryRowContext(ctx, query, promotionID).Scan(&redeemed); err != nil {
		return fmt.Errorf("failed to count redemptions: %w", err)
	}

	if redeemed >= limit {
		return entity.ErrRedemptionLimitExceeded
	}
	return nil
}

func insertHistoryTx(ctx context.Context, tx *sql.Tx, saleID int64, action string, details entity.HistoryDetails, actorID int64) error {
	query := `
		INSERT INTO booking_history (sale_id, action, details, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := tx.ExecContext(ctx, query, saleID, action, details, actorID, time.Now()); err != nil {
		return fmt.Errorf("failed to record history: %w", err)
	}
	return nil
}

// GetByOrderID retrieves a sale with its lines and sub tickets
func (r *saleRepository) GetByOrderID(ctx context.Context, orderID string) (*entity.TicketSale, error) {
	query := `SELECT ` + saleColumns + ` FROM ticket_sales WHERE order_id = $1`

	sale, err := scanSale(r.db.QueryRowContext(ctx, query, orderID))
	if err == sql.ErrNoRows {
		return nil, entity.ErrSaleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sale: %w", err)
	}

	if sale.Lines, err = r.loadLines(ctx, sale.ID); err != nil {
		return nil, err
	}
	if sale.SubTickets, err = r.loadSubTickets(ctx, sale.ID); err != nil {
		return nil, err
	}
	return sale, nil
}

func (r *saleRepository) loadLines(ctx context.Context, saleID int64) ([]entity.SalePackage, error) {
	query := `
		SELECT id, sale_id, package_id, ticket_count, seat_nos, unit_price, line_total
		FROM ticket_sale_packages
		WHERE sale_id = $1
		ORDER BY id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, saleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sale lines: %w", err)
	}
	defer rows.Close()

	return scanLines(rows)
}

func loadLinesTx(ctx context.Context, tx *sql.Tx, saleID int64) ([]entity.SalePackage, error) {
	query := `
		SELECT id, sale_id, package_id, ticket_count, seat_nos, unit_price, line_total
		FROM ticket_sale_packages
		WHERE sale_id = $1
		ORDER BY package_id ASC
	`

	rows, err := tx.QueryContext(ctx, query, saleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sale lines: %w", err)
	}
	defer rows.Close()

	return scanLines(rows)
}

func scanLines(rows *sql.Rows) ([]entity.SalePackage, error) {
	var lines []entity.SalePackage
	for rows.Next() {
		var line entity.SalePackage
		err := rows.Scan(
			&line.ID,
			&line.SaleID,
			&line.PackageID,
			&line.TicketCount,
			&line.SeatNos,
			&line.UnitPrice,
			&line.LineTotal,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sale line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sale lines: %w", err)
	}
	return lines, nil
}

func (r *saleRepository) loadSubTickets(ctx context.Context, saleID int64) ([]entity.SubTicket, error) {
	query := `
		SELECT id, sale_id, package_id, sub_order_id, COALESCE(seat_no, ''),
		       status, verified_by, verified_at, created_at
		FROM sub_tickets
		WHERE sale_id = $1
		ORDER BY id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, saleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sub tickets: %w", err)
	}
	defer rows.Close()

	return scanSubTickets(rows)
}

func scanSubTickets(rows *sql.Rows) ([]entity.SubTicket, error) {
	var tickets []entity.SubTicket
	for rows.Next() {
		var t entity.SubTicket
		var verifiedBy sql.NullInt64
		var verifiedAt sql.NullTime
		err := rows.Scan(
			&t.ID,
			&t.SaleID,
			&t.PackageID,
			&t.SubOrderID,
			&t.SeatNo,
			&t.Status,
			&verifiedBy,
			&verifiedAt,
			&t.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sub ticket: %w", err)
		}
		if verifiedBy.Valid {
			t.VerifiedBy = &verifiedBy.Int64
		}
		if verifiedAt.Valid {
			t.VerifiedAt = &verifiedAt.Time
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sub tickets: %w", err)
	}
	return tickets, nil
}

// lockSaleTx loads a sale row under FOR UPDATE. Payment callbacks and gate
// check-ins queue behind each other here rather than failing fast.
func lockSaleTx(ctx context.Context, tx *sql.Tx, orderID string) (*entity.TicketSale, error) {
	query := `SELECT ` + saleColumns + ` FROM ticket_sales WHERE order_id = $1 FOR UPDATE`

	sale, err := scanSale(tx.QueryRowContext(ctx, query, orderID))
	if err == sql.ErrNoRows {
		return nil, entity.ErrSaleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock sale: %w", err)
	}
	return sale, nil
}

// Confirm settles a payment callback, see SaleRepository
func (r *saleRepository) Confirm(ctx context.Context, orderID, paymentRef string, succeeded bool) (*entity.TicketSale, bool, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sale, err := lockSaleTx(ctx, tx, orderID)
	if err != nil {
		return nil, false, err
	}

	// Duplicate callbacks for an already settled order are a no-op.
	if sale.Status != entity.SaleStatusPending {
		return sale, false, nil
	}

	lines, err := loadLinesTx(ctx, tx, sale.ID)
	if err != nil {
		return nil, false, err
	}
	sale.Lines = lines

	now := time.Now()
	if succeeded {
		if err := r.issueSubTicketsTx(ctx, tx, sale); err != nil {
			return nil, false, err
		}

		query := `UPDATE ticket_sales SET status = $1, payment_ref = $2, updated_at = $3 WHERE id = $4`
		if _, err := tx.ExecContext(ctx, query, entity.SaleStatusComplete, paymentRef, now, sale.ID); err != nil {
			return nil, false, fmt.Errorf("failed to complete sale: %w", err)
		}
		sale.Status = entity.SaleStatusComplete
		sale.PaymentRef = paymentRef

		details := entity.HistoryDetails{"payment_ref": paymentRef}
		if err := insertHistoryTx(ctx, tx, sale.ID, entity.HistoryActionPaid, details, 0); err != nil {
			return nil, false, err
		}
	} else {
		if err := releaseSaleInventoryTx(ctx, tx, sale); err != nil {
			return nil, false, err
		}

		query := `UPDATE ticket_sales SET status = $1, payment_ref = $2, updated_at = $3 WHERE id = $4`
		if _, err := tx.ExecContext(ctx, query, entity.SaleStatusFailed, paymentRef, now, sale.ID); err != nil {
			return nil, false, fmt.Errorf("failed to mark sale failed: %w", err)
		}
		sale.Status = entity.SaleStatusFailed
		sale.PaymentRef = paymentRef

		details := entity.HistoryDetails{"payment_ref": paymentRef}
		if err := insertHistoryTx(ctx, tx, sale.ID, entity.HistoryActionFailed, details, 0); err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	sale.UpdatedAt = now
	return sale, true, nil
}

// issueSubTicketsTx creates one sub ticket per paid seat, numbered across
// the whole order. Lines with explicit seats pin them position by position.
func (r *saleRepository) issueSubTicketsTx(ctx context.Context, tx *sql.Tx, sale *entity.TicketSale) error {
	query := `
		INSERT INTO sub_tickets (sale_id, package_id, sub_order_id, seat_no, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	now := time.Now()
	seq := 0
	for _, line := range sale.Lines {
		for i := 0; i < line.TicketCount; i++ {
			seq++

			var seatNo sql.NullString
			if i < len(line.SeatNos) {
				seatNo = sql.NullString{String: line.SeatNos[i], Valid: true}
			}

			ticket := entity.SubTicket{
				SaleID:     sale.ID,
				PackageID:  line.PackageID,
				SubOrderID: r.subOrderID(sale.OrderID, seq),
				SeatNo:     seatNo.String,
				Status:     entity.SubTicketStatusIssued,
				CreatedAt:  now,
			}

			err := tx.QueryRowContext(ctx, query,
				ticket.SaleID,
				ticket.PackageID,
				ticket.SubOrderID,
				seatNo,
				ticket.Status,
				now,
			).Scan(&ticket.ID)
			if err != nil {
				return fmt.Errorf("failed to issue sub ticket: %w", err)
			}

			sale.SubTickets = append(sale.SubTickets, ticket)
		}
	}
	return nil
}

// releaseSaleInventoryTx returns every line's tickets and seats to their
// packages. Lines arrive ordered by package ID from loadLinesTx.
func releaseSaleInventoryTx(ctx context.Context, tx *sql.Tx, sale *entity.TicketSale) error {
	for _, line := range sale.Lines {
		pkg, err := lockPackageTx(ctx, tx, line.PackageID)
		if err != nil {
			return err
		}
		if err := releasePackageTx(ctx, tx, pkg, line.TicketCount, line.SeatNos); err != nil {
			return err
		}
	}
	return nil
}

func reserveSaleInventoryTx(ctx context.Context, tx *sql.Tx, sale *entity.TicketSale) error {
	for _, line := range sale.Lines {
		pkg, err := lockPackageTx(ctx, tx, line.PackageID)
		if err != nil {
			return err
		}
		if err := reservePackageTx(ctx, tx, pkg, line.TicketCount, line.SeatNos); err != nil {
			return err
		}
	}
	return nil
}

// Correct applies a manual status transition, see SaleRepository
func (r *saleRepository) Correct(ctx context.Context, orderID string, to entity.SaleStatus, actorID int64, admin bool) (*entity.TicketSale, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sale, err := lockSaleTx(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}

	if !sale.Status.CanTransition(to, admin) {
		return nil, fmt.Errorf("%w: %s to %s", entity.ErrInvalidStatus, sale.Status, to)
	}

	sale.Lines, err = loadLinesTx(ctx, tx, sale.ID)
	if err != nil {
		return nil, err
	}

	from := sale.Status
	now := time.Now()

	switch {
	case from.HoldsInventory() && !to.HoldsInventory():
		if err := releaseSaleInventoryTx(ctx, tx, sale); err != nil {
			return nil, err
		}
		if err := voidSubTicketsTx(ctx, tx, sale.ID); err != nil {
			return nil, err
		}
	case !from.HoldsInventory() && to.HoldsInventory():
		// Re-opening a failed order competes for inventory like a fresh
		// purchase, so availability and seats are checked again.
		if err := reserveSaleInventoryTx(ctx, tx, sale); err != nil {
			return nil, err
		}
		if err := r.restoreSubTicketsTx(ctx, tx, sale); err != nil {
			return nil, err
		}
	}

	query := `UPDATE ticket_sales SET status = $1, updated_at = $2 WHERE id = $3`
	if _, err := tx.ExecContext(ctx, query, to, now, sale.ID); err != nil {
		return nil, fmt.Errorf("failed to update sale status: %w", err)
	}

	details := entity.HistoryDetails{"from": string(from), "to": string(to)}
	if err := insertHistoryTx(ctx, tx, sale.ID, entity.HistoryActionCorrection, details, actorID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	sale.Status = to
	sale.UpdatedAt = now
	return sale, nil
}

func voidSubTicketsTx(ctx context.Context, tx *sql.Tx, saleID int64) error {
	query := `UPDATE sub_tickets SET status = $1 WHERE sale_id = $2 AND status != $1`
	if _, err := tx.ExecContext(ctx, query, entity.SubTicketStatusVoided, saleID); err != nil {
		return fmt.Errorf("failed to void sub tickets: %w", err)
	}
	return nil
}

// restoreSubTicketsTx re-issues the tickets of a re-opened order. Voided
// tickets come back as issued, orders that never reached complete get a
// fresh set.
func (r *saleRepository) restoreSubTicketsTx(ctx context.Context, tx *sql.Tx, sale *entity.TicketSale) error {
	query := `UPDATE sub_tickets SET status = $1, verified_by = NULL, verified_at = NULL WHERE sale_id = $2`
	res, err := tx.ExecContext(ctx, query, entity.SubTicketStatusIssued, sale.ID)
	if err != nil {
		return fmt.Errorf("failed to restore sub tickets: %w", err)
	}

	restored, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if restored > 0 {
		return nil
	}
	return r.issueSubTicketsTx(ctx, tx, sale)
}

// Verify checks in sub tickets at the gate, see SaleRepository
func (r *saleRepository) Verify(ctx context.Context, orderID string, subOrderIDs []string, verifierID int64, at time.Time) (*entity.VerificationResult, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sale, err := lockSaleTx(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}

	result := &entity.VerificationResult{
		OrderID:         sale.OrderID,
		Status:          sale.Status,
		VerifiedTickets: sale.VerifiedTickets,
		TotalTickets:    sale.TotalTickets,
		VerifiedBy:      verifierID,
		VerifiedAt:      at,
	}

	// Scanning an already fully verified order reports success without a
	// new history entry.
	if sale.Status == entity.SaleStatusVerified {
		result.AlreadyVerified = true
		return result, nil
	}
	if sale.Status != entity.SaleStatusComplete && sale.Status != entity.SaleStatusPartiallyVerified {
		return nil, fmt.Errorf("%w: sale is %s", entity.ErrNotVerifiable, sale.Status)
	}

	subTickets, err := lockSubTicketsTx(ctx, tx, sale.ID)
	if err != nil {
		return nil, err
	}

	targets, err := selectVerifiable(subTickets, subOrderIDs)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		// All listed tickets were checked in earlier.
		result.AlreadyVerified = true
		return result, nil
	}

	ids := make([]int64, 0, len(targets))
	verifiedSubOrders := make([]string, 0, len(targets))
	perPackage := make(map[int64]int)
	for _, t := range targets {
		ids = append(ids, t.ID)
		verifiedSubOrders = append(verifiedSubOrders, t.SubOrderID)
		perPackage[t.PackageID]++
	}

	query := `
		UPDATE sub_tickets
		SET status = $1, verified_by = $2, verified_at = $3
		WHERE id = ANY($4)
	`
	if _, err := tx.ExecContext(ctx, query, entity.SubTicketStatusVerified, verifierID, at, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("failed to verify sub tickets: %w", err)
	}

	newVerified := sale.VerifiedTickets + len(targets)
	newStatus := entity.SaleStatusPartiallyVerified
	if newVerified >= sale.TotalTickets {
		newStatus = entity.SaleStatusVerified
	}

	query = `
		UPDATE ticket_sales
		SET status = $1, verified_tickets = $2, verified_by = $3, verified_at = $4, updated_at = $5
		WHERE id = $6
	`
	if _, err := tx.ExecContext(ctx, query, newStatus, newVerified, verifierID, at, at, sale.ID); err != nil {
		return nil, fmt.Errorf("failed to update sale verification: %w", err)
	}

	details := entity.HistoryDetails{
		"sub_order_ids": verifiedSubOrders,
		"count":         len(targets),
	}
	if err := insertHistoryTx(ctx, tx, sale.ID, entity.HistoryActionVerified, details, verifierID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	result.Status = newStatus
	result.VerifiedNow = len(targets)
	result.VerifiedTickets = newVerified
	for pkgID, n := range perPackage {
		result.Packages = append(result.Packages, entity.VerifiedPackageCount{PackageID: pkgID, Verified: n})
	}
	sort.Slice(result.Packages, func(i, j int) bool { return result.Packages[i].PackageID < result.Packages[j].PackageID })

	return result, nil
}

func lockSubTicketsTx(ctx context.Context, tx *sql.Tx, saleID int64) ([]entity.SubTicket, error) {
	query := `
		SELECT id, sale_id, package_id, sub_order_id, COALESCE(seat_no, ''),
		       status, verified_by, verified_at, created_at
		FROM sub_tickets
		WHERE sale_id = $1
		ORDER BY id ASC
		FOR UPDATE
	`

	rows, err := tx.QueryContext(ctx, query, saleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sub tickets: %w", err)
	}
	defer rows.Close()

	return scanSubTickets(rows)
}

// selectVerifiable picks the sub tickets to check in. An empty request means
// the whole order, tickets verified earlier are skipped, unknown or voided
// IDs are rejected.
func selectVerifiable(subTickets []entity.SubTicket, subOrderIDs []string) ([]entity.SubTicket, error) {
	byID := make(map[string]entity.SubTicket, len(subTickets))
	for _, t := range subTickets {
		byID[t.SubOrderID] = t
	}

	var targets []entity.SubTicket
	if len(subOrderIDs) == 0 {
		for _, t := range subTickets {
			if t.Status == entity.SubTicketStatusIssued {
				targets = append(targets, t)
			}
		}
		return targets, nil
	}

	seen := make(map[string]struct{}, len(subOrderIDs))
	for _, id := range subOrderIDs {
		t, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: unknown sub ticket %s", entity.ErrInvalidInput, id)
		}
		if t.Status == entity.SubTicketStatusVoided {
			return nil, fmt.Errorf("%w: sub ticket %s is voided", entity.ErrInvalidInput, id)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if t.Status == entity.SubTicketStatusIssued {
			targets = append(targets, t)
		}
	}
	return targets, nil
}

// StalePending lists pending orders created before the cutoff, oldest first
func (r *saleRepository) StalePending(ctx context.Context, before time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT order_id FROM ticket_sales
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale sales: %w", err)
	}
	defer rows.Close()

	var orderIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan stale sale: %w", err)
		}
		orderIDs = append(orderIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stale sales: %w", err)
	}

	return orderIDs, nil
}

// Reclaim cancels one stale pending sale, see SaleRepository
func (r *saleRepository) Reclaim(ctx context.Context, orderID string, before time.Time) (bool, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	})
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sale, err := lockSaleTx(ctx, tx, orderID)
	if err != nil {
		return false, err
	}

	// The sale may have been paid between listing and locking.
	if sale.Status != entity.SaleStatusPending || !sale.CreatedAt.Before(before) {
		return false, nil
	}

	sale.Lines, err = loadLinesTx(ctx, tx, sale.ID)
	if err != nil {
		return false, err
	}

	if err := releaseSaleInventoryTx(ctx, tx, sale); err != nil {
		return false, err
	}

	now := time.Now()
	query := `UPDATE ticket_sales SET status = $1, updated_at = $2 WHERE id = $3`
	if _, err := tx.ExecContext(ctx, query, entity.SaleStatusCancelled, now, sale.ID); err != nil {
		return false, fmt.Errorf("failed to cancel stale sale: %w", err)
	}

	details := entity.HistoryDetails{"pending_since": sale.CreatedAt.Format(time.RFC3339)}
	if err := insertHistoryTx(ctx, tx, sale.ID, entity.HistoryActionReclaimed, details, 0); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return true, nil
}

// SetETicketURL stores the rendered e-ticket location on the sale
func (r *saleRepository) SetETicketURL(ctx context.Context, orderID, url string) error {
	query := `UPDATE ticket_sales SET eticket_url = $1, updated_at = $2 WHERE order_id = $3`

	result, err := r.db.ExecContext(ctx, query, url, time.Now(), orderID)
	if err != nil {
		return fmt.Errorf("failed to set eticket url: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return entity.ErrSaleNotFound
	}
	return nil
}

// History retrieves the audit trail of a sale, oldest first
func (r *saleRepository) History(ctx context.Context, saleID int64) ([]*entity.HistoryEntry, error) {
	query := `
		SELECT id, sale_id, action, details, actor_id, created_at
		FROM booking_history
		WHERE sale_id = $1
		ORDER BY id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, saleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []*entity.HistoryEntry
	for rows.Next() {
		var e entity.HistoryEntry
		err := rows.Scan(
			&e.ID,
			&e.SaleID,
			&e.Action,
			&e.Details,
			&e.ActorID,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}

	return entries, nil
}
