package queue

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/eventbooker/ticketing/internal/entity"
)

// Notifier delivers a text message to a buyer.
type Notifier interface {
	Send(phone, message string) error
}

// Renderer produces the e-ticket document for a paid sale and returns its
// location.
type Renderer interface {
	Render(ctx context.Context, sale *entity.TicketSale) (string, error)
}

// BookingReader is the slice of the booking service the handlers need.
type BookingReader interface {
	GetBooking(ctx context.Context, orderID string) (*entity.TicketSale, error)
	AttachETicket(ctx context.Context, orderID, url string) error
}

// CustomerReader resolves a buyer's contact details.
type CustomerReader interface {
	GetByID(ctx context.Context, id int64) (*entity.Customer, error)
}

// TaskHandler executes queued background jobs.
type TaskHandler struct {
	bookingService BookingReader
	customerRepo   CustomerReader
	notifier       Notifier
	renderer       Renderer
	log            *logrus.Logger
}

func NewTaskHandler(
	bookingService BookingReader,
	customerRepo CustomerReader,
	notifier Notifier,
	renderer Renderer,
	log *logrus.Logger,
) *TaskHandler {
	return &TaskHandler{
		bookingService: bookingService,
		customerRepo:   customerRepo,
		notifier:       notifier,
		renderer:       renderer,
		log:            log,
	}
}

// HandleTask dispatches a task to its handler
func (h *TaskHandler) HandleTask(task *Task) error {
	h.log.WithFields(logrus.Fields{
		"task_id": task.ID,
		"type":    task.Type,
		"attempt": task.Attempts,
	}).Debug("handling task")

	switch task.Type {
	case TaskTypeSendNotification:
		return h.handleSendNotification(task)
	case TaskTypeRenderETicket:
		return h.handleRenderETicket(task)
	default:
		return fmt.Errorf("unknown task type: %s", task.Type)
	}
}

func (h *TaskHandler) handleSendNotification(task *Task) error {
	ctx := context.Background()

	if h.notifier == nil {
		h.log.Debug("notifier disabled, skipping notification task")
		return nil
	}

	orderID := task.GetString("order_id")
	if orderID == "" {
		return fmt.Errorf("invalid notification task: order_id missing")
	}
	kind := task.GetString("kind")

	sale, err := h.bookingService.GetBooking(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to load booking %s: %w", orderID, err)
	}

	phone := task.GetString("phone")
	if phone == "" {
		customer, err := h.customerRepo.GetByID(ctx, sale.CustomerID)
		if err != nil {
			return fmt.Errorf("failed to load customer for %s: %w", orderID, err)
		}
		phone = customer.Phone
	}
	if phone == "" {
		h.log.WithField("order_id", orderID).Warn("customer has no phone, skipping notification")
		return nil
	}

	message := notificationMessage(kind, sale)
	if message == "" {
		return fmt.Errorf("invalid notification kind: %s", kind)
	}

	if err := h.notifier.Send(phone, message); err != nil {
		return fmt.Errorf("failed to send notification for %s: %w", orderID, err)
	}

	h.log.WithFields(logrus.Fields{"order_id": orderID, "kind": kind}).Info("notification sent")
	return nil
}

func notificationMessage(kind string, sale *entity.TicketSale) string {
	switch kind {
	case "payment_complete":
		return fmt.Sprintf("Payment received for order %s. Your %d ticket(s) are confirmed.",
			sale.OrderID, sale.TotalTickets)
	case "payment_failed":
		return fmt.Sprintf("Payment for order %s failed. The reserved tickets have been released.", sale.OrderID)
	case "booking_expired":
		return fmt.Sprintf("Order %s expired before payment and has been cancelled.", sale.OrderID)
	case "booking_cancelled":
		return fmt.Sprintf("Order %s has been cancelled.", sale.OrderID)
	case "booking_refunded":
		return fmt.Sprintf("Order %s has been refunded.", sale.OrderID)
	default:
		return ""
	}
}

func (h *TaskHandler) handleRenderETicket(task *Task) error {
	ctx := context.Background()

	if h.renderer == nil {
		h.log.Debug("renderer disabled, skipping eticket task")
		return nil
	}

	orderID := task.GetString("order_id")
	if orderID == "" {
		return fmt.Errorf("invalid render task: order_id missing")
	}

	sale, err := h.bookingService.GetBooking(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to load booking %s: %w", orderID, err)
	}

	// The order may have been corrected or refunded since the render was
	// queued.
	if sale.Status != entity.SaleStatusComplete &&
		sale.Status != entity.SaleStatusPartiallyVerified &&
		sale.Status != entity.SaleStatusVerified {
		h.log.WithFields(logrus.Fields{
			"order_id": orderID,
			"status":   sale.Status,
		}).Info("skipping eticket render for settled-away order")
		return nil
	}

	url, err := h.renderer.Render(ctx, sale)
	if err != nil {
		return fmt.Errorf("failed to render eticket for %s: %w", orderID, err)
	}

	if err := h.bookingService.AttachETicket(ctx, orderID, url); err != nil {
		return fmt.Errorf("failed to attach eticket for %s: %w", orderID, err)
	}
	return nil
}
