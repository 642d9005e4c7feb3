package service

import (
	"context"
	"time"

	"github.com/eventbooker/ticketing/internal/entity"
)

// BookingService drives the order lifecycle from reservation to settlement.
type BookingService interface {
	// CreateBooking reserves inventory and opens a pending sale.
	CreateBooking(ctx context.Context, req *entity.CreateBookingRequest) (*entity.BookingConfirmation, error)

	// ConfirmPayment settles the payment callback for an order. Duplicate
	// callbacks are no-ops reported through the result.
	ConfirmPayment(ctx context.Context, orderID, paymentRef string, succeeded bool) (*entity.PaymentResult, error)

	// CancelOrCorrect applies a manual transition: buyer cancellation,
	// refund, or an administrative correction between complete and failed.
	CancelOrCorrect(ctx context.Context, orderID string, to entity.SaleStatus, actorID int64, admin bool) (*entity.TicketSale, error)

	// ReclaimExpired cancels stale pending orders and returns how many
	// were reclaimed.
	ReclaimExpired(ctx context.Context) (int, error)

	GetBooking(ctx context.Context, orderID string) (*entity.TicketSale, error)

	// History returns the audit trail of an order, oldest entry first.
	History(ctx context.Context, orderID string) ([]*entity.HistoryEntry, error)

	// AttachETicket stores the rendered e-ticket location on a paid order.
	AttachETicket(ctx context.Context, orderID, url string) error
}

// PromotionService evaluates coupon codes against an order.
type PromotionService interface {
	// Evaluate validates the code for the event and the requested lines and
	// computes the discount over the lines the code applies to. The
	// redemption limit is re-checked inside the sale transaction, this is
	// the fast pre-check.
	Evaluate(ctx context.Context, eventID int64, code string, items []entity.LineItem) (*entity.PromoApplication, error)
}

// VerifyRequest is a gate check-in: the whole order when SubOrderIDs is
// empty, otherwise just the listed sub tickets.
type VerifyRequest struct {
	OrderID     string   `json:"order_id" binding:"required"`
	SubOrderIDs []string `json:"sub_order_ids,omitempty"`
	VerifierID  int64    `json:"verifier_id" binding:"required"`
}

// VerificationService checks tickets in at the venue gate.
type VerificationService interface {
	VerifyTickets(ctx context.Context, req *VerifyRequest) (*entity.VerificationResult, error)
}

// TaskPublisher publishes background tasks to the queue.
type TaskPublisher interface {
	Publish(ctx context.Context, task *Task) error
}

// Task is a queued background job.
type Task struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Data       map[string]interface{} `json:"data"`
	ExecuteAt  time.Time              `json:"execute_at"`
	MaxRetries int                    `json:"max_retries"`
	Attempts   int                    `json:"attempts"`
}

// Task types handled by the queue workers.
const (
	TaskTypeSendNotification = "send_notification"
	TaskTypeRenderETicket    = "render_eticket"
)
