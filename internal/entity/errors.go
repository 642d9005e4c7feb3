package entity

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Lookup errors
	ErrEventNotFound    = errors.New("event not found")
	ErrPackageNotFound  = errors.New("ticket package not found")
	ErrSaleNotFound     = errors.New("sale not found")
	ErrCustomerNotFound = errors.New("customer not found")

	// Booking errors
	ErrEventNotOnSale   = errors.New("event is not on sale")
	ErrPackageNotOnSale = errors.New("package is not on sale")
	ErrInvalidStatus    = errors.New("invalid status transition")

	// Promotion errors
	ErrInvalidPromoCode        = errors.New("invalid promo code")
	ErrPromoNotApplicable      = errors.New("promo code does not apply to the requested packages")
	ErrRedemptionLimitExceeded = errors.New("promo code redemption limit exceeded")

	// Verification errors
	ErrNotVerifiable = errors.New("sale is not verifiable")
	ErrEventNotToday = errors.New("event is not running today")
	ErrForbidden     = errors.New("forbidden operation")

	// General errors
	ErrInvalidInput       = errors.New("invalid input")
	ErrContention         = errors.New("concurrent update detected, retry")
	ErrInvariantViolation = errors.New("inventory invariant violated")
)

// InsufficientInventoryError is returned when a package cannot cover the
// requested ticket count. Available carries the remaining count so callers
// can surface it to the buyer.
type InsufficientInventoryError struct {
	PackageID int64
	Requested int
	Available int
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("package %d has %d tickets available, %d requested", e.PackageID, e.Available, e.Requested)
}

// SeatConflictError is returned when requested seats are already reserved.
// Seats lists the exact conflicting labels.
type SeatConflictError struct {
	PackageID int64
	Seats     SeatSet
}

func (e *SeatConflictError) Error() string {
	return fmt.Sprintf("seats already reserved in package %d: %s", e.PackageID, strings.Join(e.Seats, ", "))
}

// PromoMinTicketsError is returned when the order carries fewer tickets than
// the promotion requires.
type PromoMinTicketsError struct {
	Min int
}

func (e *PromoMinTicketsError) Error() string {
	return fmt.Sprintf("promo code requires at least %d tickets", e.Min)
}

// PromoMaxTicketsError is returned when the order carries more tickets than
// the promotion allows.
type PromoMaxTicketsError struct {
	Max int
}

func (e *PromoMaxTicketsError) Error() string {
	return fmt.Sprintf("promo code allows at most %d tickets", e.Max)
}

// PerUserCapError is returned when an order would push a buyer past the
// per-package purchase limit.
type PerUserCapError struct {
	PackageID int64
	Cap       int
	Held      int
	Requested int
}

func (e *PerUserCapError) Error() string {
	return fmt.Sprintf("package %d limit is %d tickets per buyer, already holding %d, %d requested", e.PackageID, e.Cap, e.Held, e.Requested)
}
