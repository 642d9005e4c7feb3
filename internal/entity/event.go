package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventStatus string

const (
	EventStatusDraft    EventStatus = "draft"
	EventStatusOnSale   EventStatus = "on_sale"
	EventStatusClosed   EventStatus = "closed"
	EventStatusArchived EventStatus = "archived"
)

type Event struct {
	ID          int64       `json:"id" db:"id"`
	Name        string      `json:"name" db:"name"`
	Description string      `json:"description" db:"description"`
	Venue       string      `json:"venue" db:"venue"`
	Status      EventStatus `json:"status" db:"status"`
	StartDate   time.Time   `json:"start_date" db:"start_date"`
	EndDate     time.Time   `json:"end_date" db:"end_date"`
	// Handling fee is either a flat amount or a percentage of the subtotal.
	HandlingFee        decimal.Decimal `json:"handling_fee" db:"handling_fee"`
	HandlingFeePercent bool            `json:"handling_fee_percent" db:"handling_fee_percent"`
	Currency           string          `json:"currency" db:"currency"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}

// RunsOn reports whether the event's date window covers the given day.
// Comparison is by calendar day in the supplied location.
func (e *Event) RunsOn(t time.Time, loc *time.Location) bool {
	y, m, d := t.In(loc).Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, loc)
	dayEnd := dayStart.Add(24 * time.Hour)

	return e.StartDate.In(loc).Before(dayEnd) && !e.EndDate.In(loc).Before(dayStart)
}

// HandlingFeeFor computes the fee for a subtotal, flat or percentage based.
func (e *Event) HandlingFeeFor(subtotal decimal.Decimal) decimal.Decimal {
	if e.HandlingFeePercent {
		return subtotal.Mul(e.HandlingFee).Div(decimal.NewFromInt(100)).Round(2)
	}
	return e.HandlingFee
}

// MaxTicketsPerOrderLine bounds how many tickets of one package a single
// order may carry.
const MaxTicketsPerOrderLine = 20

type TicketPackage struct {
	ID           int64           `json:"id" db:"id"`
	EventID      int64           `json:"event_id" db:"event_id"`
	Name         string          `json:"name" db:"name"`
	Price        decimal.Decimal `json:"price" db:"price"`
	TotalTickets int             `json:"total_tickets" db:"total_tickets"`
	AvailTickets int             `json:"aval_tickets" db:"aval_tickets"`
	// ReservedSeats holds the union of seat labels taken by live orders.
	ReservedSeats SeatSet `json:"reserved_seats" db:"reserved_seats"`
	// MaxTicketsPerBuyer of zero means unlimited.
	MaxTicketsPerBuyer int  `json:"max_tickets_per_buyer" db:"max_tickets_per_buyer"`
	SeatSelectable     bool `json:"seat_selectable" db:"seat_selectable"`
	Active             bool `json:"active" db:"active"`
	// SoldOut is a manual override that stops sales while tickets remain.
	SoldOut   bool      `json:"sold_out" db:"sold_out"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// BuyerCap returns the per-buyer ticket limit for the package, zero meaning
// unlimited.
func (p *TicketPackage) BuyerCap() int {
	return p.MaxTicketsPerBuyer
}

// OnSale reports whether the package accepts new reservations.
func (p *TicketPackage) OnSale() bool {
	return p.Active && !p.SoldOut
}
