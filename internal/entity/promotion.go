package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type Promotion struct {
	ID         int64  `json:"id" db:"id"`
	EventID    int64  `json:"event_id" db:"event_id"`
	CouponCode string `json:"coupon_code" db:"coupon_code"`
	// PackageID restricts the code to a single package. Nil applies
	// event-wide.
	PackageID *int64          `json:"package_id,omitempty" db:"package_id"`
	Amount    decimal.Decimal `json:"discount_amount" db:"discount_amount"`
	// Percentage and PerTicket select how Amount is applied, see DiscountFor.
	Percentage bool `json:"percentage" db:"percentage"`
	PerTicket  bool `json:"per_ticket" db:"per_ticket"`
	// MaxRedemptions of zero means unlimited.
	MaxRedemptions int `json:"max_redemptions" db:"max_redemptions"`
	// MinTickets and MaxTickets bound the order size, zero means unbounded.
	MinTickets int       `json:"min_tickets" db:"min_tickets"`
	MaxTickets int       `json:"max_tickets" db:"max_tickets"`
	Active     bool      `json:"active" db:"active"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// Unlimited reports whether the promotion has no redemption cap.
func (p *Promotion) Unlimited() bool {
	return p.MaxRedemptions == 0
}

// AppliesTo reports whether the promotion covers the package.
func (p *Promotion) AppliesTo(packageID int64) bool {
	return p.PackageID == nil || *p.PackageID == packageID
}

// DiscountFor computes the discount over the given order lines. PerTicket
// discounts multiply per unit, percentage amounts are taken from the unit
// price per ticket or from the line subtotal once. A flat non-per-ticket
// amount is applied a single time. The result is never negative and never
// exceeds the lines' subtotal.
func (p *Promotion) DiscountFor(lines []SalePackage) decimal.Decimal {
	subtotal := decimal.Zero
	tickets := 0
	for _, l := range lines {
		subtotal = subtotal.Add(l.LineTotal)
		tickets += l.TicketCount
	}

	var d decimal.Decimal
	switch {
	case p.PerTicket && p.Percentage:
		for _, l := range lines {
			perTicket := l.UnitPrice.Mul(p.Amount).Div(decimal.NewFromInt(100))
			d = d.Add(perTicket.Mul(decimal.NewFromInt(int64(l.TicketCount))))
		}
		d = d.Round(2)
	case p.PerTicket:
		d = p.Amount.Mul(decimal.NewFromInt(int64(tickets)))
	case p.Percentage:
		d = subtotal.Mul(p.Amount).Div(decimal.NewFromInt(100)).Round(2)
	default:
		d = p.Amount
	}

	if d.IsNegative() {
		return decimal.Zero
	}
	if d.GreaterThan(subtotal) {
		return subtotal
	}
	return d
}

// PromoApplication captures an applied promotion on a candidate order.
type PromoApplication struct {
	PromotionID int64           `json:"promotion_id"`
	CouponCode  string          `json:"coupon_code"`
	Percentage  bool            `json:"percentage"`
	PerTicket   bool            `json:"per_ticket"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Discount    decimal.Decimal `json:"discount"`
	AmountDue   decimal.Decimal `json:"amount_due"`
}
