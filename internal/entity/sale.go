package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TicketSale is a single order: one buyer, one event, one or more package
// lines. Monetary fields are fixed at creation time and never recomputed.
type TicketSale struct {
	ID          int64      `json:"id" db:"id"`
	OrderID     string     `json:"order_id" db:"order_id"`
	EventID     int64      `json:"event_id" db:"event_id"`
	CustomerID  int64      `json:"customer_id" db:"customer_id"`
	Status      SaleStatus `json:"status" db:"status"`
	Subtotal    decimal.Decimal `json:"subtotal" db:"subtotal"`
	Discount    decimal.Decimal `json:"discount" db:"discount"`
	HandlingFee decimal.Decimal `json:"handling_fee" db:"handling_fee"`
	Total       decimal.Decimal `json:"total" db:"total"`
	Currency    string          `json:"currency" db:"currency"`
	PromotionID *int64          `json:"promotion_id,omitempty" db:"promotion_id"`
	PromoCode   string          `json:"promo_code,omitempty" db:"promo_code"`
	PaymentRef  string          `json:"payment_ref,omitempty" db:"payment_ref"`
	ETicketURL  string          `json:"eticket_url,omitempty" db:"eticket_url"`

	TotalTickets    int `json:"total_tickets" db:"total_tickets"`
	VerifiedTickets int `json:"verified_tickets" db:"verified_tickets"`

	// VerifiedBy and VerifiedAt record the most recent check-in batch.
	VerifiedBy *int64     `json:"verified_by,omitempty" db:"verified_by"`
	VerifiedAt *time.Time `json:"verified_at,omitempty" db:"verified_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	Lines      []SalePackage `json:"lines,omitempty" db:"-"`
	SubTickets []SubTicket   `json:"sub_tickets,omitempty" db:"-"`
}

// FullyVerified reports whether every sub ticket of the sale is checked in.
func (s *TicketSale) FullyVerified() bool {
	return s.TotalTickets > 0 && s.VerifiedTickets == s.TotalTickets
}

// SalePackage is one line of an order: N tickets from a single package,
// optionally pinned to specific seats.
type SalePackage struct {
	ID          int64           `json:"id" db:"id"`
	SaleID      int64           `json:"sale_id" db:"sale_id"`
	PackageID   int64           `json:"package_id" db:"package_id"`
	TicketCount int             `json:"ticket_count" db:"ticket_count"`
	SeatNos     SeatSet         `json:"seat_nos" db:"seat_nos"`
	UnitPrice   decimal.Decimal `json:"unit_price" db:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total" db:"line_total"`
}

// SubTicket is the per-attendee ticket issued once a sale is paid. Each one
// is verifiable independently at the gate.
type SubTicket struct {
	ID         int64           `json:"id" db:"id"`
	SaleID     int64           `json:"sale_id" db:"sale_id"`
	PackageID  int64           `json:"package_id" db:"package_id"`
	SubOrderID string          `json:"sub_order_id" db:"sub_order_id"`
	SeatNo     string          `json:"seat_no,omitempty" db:"seat_no"`
	Status     SubTicketStatus `json:"status" db:"status"`
	VerifiedBy *int64          `json:"verified_by,omitempty" db:"verified_by"`
	VerifiedAt *time.Time      `json:"verified_at,omitempty" db:"verified_at"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// History actions recorded per sale.
const (
	HistoryActionCreated    = "created"
	HistoryActionPaid       = "paid"
	HistoryActionFailed     = "payment_failed"
	HistoryActionVerified   = "verified"
	HistoryActionReclaimed  = "reclaimed"
	HistoryActionCorrection = "correction"
)

// HistoryDetails is a free-form JSON payload attached to a history entry.
type HistoryDetails map[string]interface{}

func (d HistoryDetails) Value() (driver.Value, error) {
	if d == nil {
		return "{}", nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal history details: %w", err)
	}
	return string(b), nil
}

func (d *HistoryDetails) Scan(value interface{}) error {
	if value == nil {
		*d = nil
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("cannot scan type %T into HistoryDetails", value)
	}
	return json.Unmarshal(b, (*map[string]interface{})(d))
}

// HistoryEntry is one audit record in a sale's append-only history.
// ActorID of zero marks a system action.
type HistoryEntry struct {
	ID        int64          `json:"id" db:"id"`
	SaleID    int64          `json:"sale_id" db:"sale_id"`
	Action    string         `json:"action" db:"action"`
	Details   HistoryDetails `json:"details" db:"details"`
	ActorID   int64          `json:"actor_id" db:"actor_id"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// LineItem is one requested package line of a new booking.
type LineItem struct {
	PackageID   int64   `json:"package_id" binding:"required"`
	TicketCount int     `json:"ticket_count" binding:"required,min=1"`
	SeatNos     SeatSet `json:"seat_nos,omitempty"`
}

// CreateBookingRequest opens a new pending sale.
type CreateBookingRequest struct {
	EventID   int64      `json:"event_id" binding:"required"`
	Customer  Customer   `json:"customer" binding:"required"`
	Items     []LineItem `json:"items" binding:"required,min=1,dive"`
	PromoCode string     `json:"promo_code,omitempty"`
}

// TotalTickets sums the ticket counts over all requested lines.
func (r *CreateBookingRequest) TotalTickets() int {
	n := 0
	for _, it := range r.Items {
		n += it.TicketCount
	}
	return n
}

// BookingConfirmation is returned when a pending sale has been created.
type BookingConfirmation struct {
	OrderID     string          `json:"order_id"`
	SaleID      int64           `json:"sale_id"`
	Status      SaleStatus      `json:"status"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Discount    decimal.Decimal `json:"discount"`
	HandlingFee decimal.Decimal `json:"handling_fee"`
	Total       decimal.Decimal `json:"total"`
	Currency    string          `json:"currency"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

// PaymentResult reports the outcome of a payment callback.
type PaymentResult struct {
	OrderID string     `json:"order_id"`
	Status  SaleStatus `json:"status"`
	// AlreadySettled is set when the callback arrived for a sale that had
	// left the pending state before, making the call a no-op.
	AlreadySettled bool `json:"already_settled,omitempty"`
}

// VerifiedPackageCount reports how many tickets of one package were checked
// in by a single verification batch.
type VerifiedPackageCount struct {
	PackageID int64 `json:"package_id"`
	Verified  int   `json:"verified"`
}

// VerificationResult reports the outcome of a gate check-in.
type VerificationResult struct {
	OrderID         string                 `json:"order_id"`
	Status          SaleStatus             `json:"status"`
	VerifiedNow     int                    `json:"verified_now"`
	VerifiedTickets int                    `json:"verified_tickets"`
	TotalTickets    int                    `json:"total_tickets"`
	VerifiedBy      int64                  `json:"verified_by"`
	VerifiedAt      time.Time              `json:"verified_at"`
	AlreadyVerified bool                   `json:"already_verified,omitempty"`
	Packages        []VerifiedPackageCount `json:"packages,omitempty"`
}
