package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/eventbooker/ticketing/internal/entity"
)

type promotionRepository struct {
	db *sql.DB
}

func NewPromotionRepository(db *sql.DB) PromotionRepository {
	return &promotionRepository{db: db}
}

// GetByCode retrieves an active promotion by event and coupon code. Codes
// are matched case-insensitively.
func (r *promotionRepository) GetByCode(ctx context.Context, eventID int64, code string) (*entity.Promotion, error) {
	query := `
		SELECT id, event_id, package_id, coupon_code, discount_amount, percentage, per_ticket,
		       max_redemptions, min_tickets, max_tickets, active, created_at, updated_at
		FROM promotions
		WHERE event_id = $1 AND LOWER(coupon_code) = $2 AND active = true
	`

	var promo entity.Promotion
	var packageID sql.NullInt64
	err := r.db.QueryRowContext(ctx, query, eventID, strings.ToLower(code)).Scan(
		&promo.ID,
		&promo.EventID,
		&packageID,
		&promo.CouponCode,
		&promo.Amount,
		&promo.Percentage,
		&promo.PerTicket,
		&promo.MaxRedemptions,
		&promo.MinTickets,
		&promo.MaxTickets,
		&promo.Active,
		&promo.CreatedAt,
		&promo.UpdatedAt,
	)
	if packageID.Valid {
		promo.PackageID = &packageID.Int64
	}

	if err == sql.ErrNoRows {
		return nil, entity.ErrInvalidPromoCode
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get promotion: %w", err)
	}

	return &promo, nil
}

// RedeemedCount counts live sales carrying the promotion
func (r *promotionRepository) RedeemedCount(ctx context.Context, promotionID int64) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM ticket_sales
		WHERE promotion_id = $1
		  AND status IN ('pending', 'complete', 'partially_verified', 'verified')
	`

	var count int
	if err := r.db.QueryRowContext(ctx, query, promotionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count redemptions: %w", err)
	}
	return count, nil
}
