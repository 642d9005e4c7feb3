package entity

// SaleStatus is the single lifecycle status of a ticket sale. It covers
// both the payment phase and the verification phase of an order.
type SaleStatus string

const (
	SaleStatusPending           SaleStatus = "pending"
	SaleStatusComplete          SaleStatus = "complete"
	SaleStatusFailed            SaleStatus = "failed"
	SaleStatusCancelled         SaleStatus = "cancelled"
	SaleStatusRefunded          SaleStatus = "refunded"
	SaleStatusPartiallyVerified SaleStatus = "partially_verified"
	SaleStatusVerified          SaleStatus = "verified"
)

// saleTransitions holds the allowed forward transitions for regular flows.
// Admin corrections are checked separately in CanTransition.
var saleTransitions = map[SaleStatus][]SaleStatus{
	SaleStatusPending:           {SaleStatusComplete, SaleStatusFailed, SaleStatusCancelled},
	SaleStatusComplete:          {SaleStatusPartiallyVerified, SaleStatusVerified, SaleStatusCancelled, SaleStatusRefunded},
	SaleStatusPartiallyVerified: {SaleStatusPartiallyVerified, SaleStatusVerified},
	SaleStatusFailed:            {},
	SaleStatusCancelled:         {},
	SaleStatusRefunded:          {},
	SaleStatusVerified:          {},
}

// adminTransitions lists the extra corrections available to administrators:
// flipping a settled order between complete and failed, and cancelling an
// order that already saw check-ins.
var adminTransitions = map[SaleStatus][]SaleStatus{
	SaleStatusComplete:          {SaleStatusFailed},
	SaleStatusFailed:            {SaleStatusComplete},
	SaleStatusPartiallyVerified: {SaleStatusCancelled, SaleStatusRefunded},
	SaleStatusVerified:          {SaleStatusCancelled, SaleStatusRefunded},
}

// CanTransition reports whether a sale may move from its current status to
// the target. When admin is true the correction transitions are also allowed.
func (s SaleStatus) CanTransition(to SaleStatus, admin bool) bool {
	for _, t := range saleTransitions[s] {
		if t == to {
			return true
		}
	}
	if admin {
		for _, t := range adminTransitions[s] {
			if t == to {
				return true
			}
		}
	}
	return false
}

// HoldsInventory reports whether a sale in this status is counted against
// package availability. Pending holds seats until paid, reclaimed or failed.
func (s SaleStatus) HoldsInventory() bool {
	switch s {
	case SaleStatusPending, SaleStatusComplete, SaleStatusPartiallyVerified, SaleStatusVerified:
		return true
	}
	return false
}

// IsFinal reports whether regular, non-admin flows are done with this
// status. Admin corrections may still leave it.
func (s SaleStatus) IsFinal() bool {
	switch s {
	case SaleStatusFailed, SaleStatusCancelled, SaleStatusRefunded, SaleStatusVerified:
		return true
	}
	return false
}

// CountsTowardCap reports whether orders in this status count against the
// per-user ticket limit for a package.
func (s SaleStatus) CountsTowardCap() bool {
	switch s {
	case SaleStatusComplete, SaleStatusPartiallyVerified, SaleStatusVerified:
		return true
	}
	return false
}

// PaymentStatus derives the payment-phase view used by reporting exports.
func (s SaleStatus) PaymentStatus() string {
	switch s {
	case SaleStatusPending:
		return "pending"
	case SaleStatusFailed:
		return "failed"
	case SaleStatusCancelled:
		return "cancelled"
	case SaleStatusRefunded:
		return "refunded"
	default:
		return "paid"
	}
}

// BookingStatus derives the fulfilment-phase view used by reporting exports.
func (s SaleStatus) BookingStatus() string {
	switch s {
	case SaleStatusVerified:
		return "verified"
	case SaleStatusPartiallyVerified:
		return "partially_verified"
	case SaleStatusComplete:
		return "confirmed"
	default:
		return "inactive"
	}
}

// SubTicketStatus is the per-attendee status of a single sub ticket.
type SubTicketStatus string

const (
	SubTicketStatusIssued   SubTicketStatus = "issued"
	SubTicketStatusVerified SubTicketStatus = "verified"
	SubTicketStatusVoided   SubTicketStatus = "voided"
)
