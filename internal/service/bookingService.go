package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	repository "github.com/eventbooker/ticketing/internal/database/postgres"
	"github.com/eventbooker/ticketing/internal/entity"
	"github.com/eventbooker/ticketing/pkg/orderid"
)

// BookingConfig tunes the order lifecycle.
type BookingConfig struct {
	// PendingTTL is how long a pending order holds its inventory before
	// the reclaim worker may cancel it.
	PendingTTL time.Duration
	// CreateRetries bounds how often a reservation is retried after losing
	// a package lock to a concurrent order.
	CreateRetries int
	RetryBackoff  time.Duration
	ReclaimBatch  int
}

func (c *BookingConfig) withDefaults() BookingConfig {
	cfg := *c
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 15 * time.Minute
	}
	if cfg.CreateRetries <= 0 {
		cfg.CreateRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 50 * time.Millisecond
	}
	if cfg.ReclaimBatch <= 0 {
		cfg.ReclaimBatch = 100
	}
	return cfg
}

type bookingService struct {
	eventRepo    repository.EventRepository
	customerRepo repository.CustomerRepository
	saleRepo     repository.SaleRepository
	promotions   PromotionService
	queue        TaskPublisher
	cfg          BookingConfig
	log          *logrus.Logger
}

func NewBookingService(
	eventRepo repository.EventRepository,
	customerRepo repository.CustomerRepository,
	saleRepo repository.SaleRepository,
	promotions PromotionService,
	queue TaskPublisher,
	cfg BookingConfig,
	log *logrus.Logger,
) BookingService {
	return &bookingService{
		eventRepo:    eventRepo,
		customerRepo: customerRepo,
		saleRepo:     saleRepo,
		promotions:   promotions,
		queue:        queue,
		cfg:          cfg.withDefaults(),
		log:          log,
	}
}

// CreateBooking reserves inventory and opens a pending sale
func (s *bookingService) CreateBooking(ctx context.Context, req *entity.CreateBookingRequest) (*entity.BookingConfirmation, error) {
	if err := validateBookingRequest(req); err != nil {
		return nil, err
	}

	event, err := s.eventRepo.GetByID(ctx, req.EventID)
	if err != nil {
		return nil, err
	}
	if event.Status != entity.EventStatusOnSale {
		return nil, entity.ErrEventNotOnSale
	}

	customer := req.Customer
	if err := s.customerRepo.Upsert(ctx, &customer); err != nil {
		return nil, err
	}

	lines, subtotal, err := s.priceLines(ctx, event, req.Items)
	if err != nil {
		return nil, err
	}

	sale := &entity.TicketSale{
		OrderID:      orderid.New(event.Name),
		EventID:      event.ID,
		CustomerID:   customer.ID,
		Subtotal:     subtotal,
		Currency:     event.Currency,
		TotalTickets: req.TotalTickets(),
		Lines:        lines,
	}

	if req.PromoCode != "" {
		applied, err := s.promotions.Evaluate(ctx, event.ID, req.PromoCode, req.Items)
		if err != nil {
			return nil, err
		}
		sale.PromotionID = &applied.PromotionID
		sale.PromoCode = applied.CouponCode
		sale.Discount = applied.Discount
	}

	sale.HandlingFee = event.HandlingFeeFor(subtotal.Sub(sale.Discount))
	sale.Total = subtotal.Sub(sale.Discount).Add(sale.HandlingFee)

	if err := s.createWithRetry(ctx, sale); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"order_id": sale.OrderID,
		"event_id": event.ID,
		"tickets":  sale.TotalTickets,
		"total":    sale.Total.String(),
	}).Info("booking created")

	return &entity.BookingConfirmation{
		OrderID:     sale.OrderID,
		SaleID:      sale.ID,
		Status:      sale.Status,
		Subtotal:    sale.Subtotal,
		Discount:    sale.Discount,
		HandlingFee: sale.HandlingFee,
		Total:       sale.Total,
		Currency:    sale.Currency,
		ExpiresAt:   sale.CreatedAt.Add(s.cfg.PendingTTL),
	}, nil
}

func validateBookingRequest(req *entity.CreateBookingRequest) error {
	if len(req.Items) == 0 {
		return fmt.Errorf("%w: order has no items", entity.ErrInvalidInput)
	}
	if req.Customer.Email == "" {
		return fmt.Errorf("%w: customer email is required", entity.ErrInvalidInput)
	}

	for _, item := range req.Items {
		if item.TicketCount <= 0 {
			return fmt.Errorf("%w: ticket count must be positive", entity.ErrInvalidInput)
		}
		if item.TicketCount > entity.MaxTicketsPerOrderLine {
			return fmt.Errorf("%w: at most %d tickets of one package per order",
				entity.ErrInvalidInput, entity.MaxTicketsPerOrderLine)
		}
		if len(item.SeatNos) > 0 {
			if len(item.SeatNos) != item.TicketCount {
				return fmt.Errorf("%w: %d seats given for %d tickets",
					entity.ErrInvalidInput, len(item.SeatNos), item.TicketCount)
			}
			if item.SeatNos.HasDuplicates() {
				return fmt.Errorf("%w: duplicate seats in request", entity.ErrInvalidInput)
			}
		}
	}
	return nil
}

func (s *bookingService) priceLines(ctx context.Context, event *entity.Event, items []entity.LineItem) ([]entity.SalePackage, decimal.Decimal, error) {
	lines := make([]entity.SalePackage, 0, len(items))
	subtotal := decimal.Zero

	for _, item := range items {
		pkg, err := s.eventRepo.GetPackage(ctx, item.PackageID)
		if err != nil {
			return nil, decimal.Zero, err
		}
		if pkg.EventID != event.ID {
			return nil, decimal.Zero, fmt.Errorf("%w: package %d does not belong to event %d",
				entity.ErrInvalidInput, item.PackageID, event.ID)
		}
		if !pkg.OnSale() {
			return nil, decimal.Zero, fmt.Errorf("%w: package %d", entity.ErrPackageNotOnSale, item.PackageID)
		}
		if len(item.SeatNos) > 0 && !pkg.SeatSelectable {
			return nil, decimal.Zero, fmt.Errorf("%w: package %d has no seat selection",
				entity.ErrInvalidInput, item.PackageID)
		}

		lineTotal := pkg.Price.Mul(decimal.NewFromInt(int64(item.TicketCount)))
		lines = append(lines, entity.SalePackage{
			PackageID:   item.PackageID,
			TicketCount: item.TicketCount,
			SeatNos:     item.SeatNos,
			UnitPrice:   pkg.Price,
			LineTotal:   lineTotal,
		})
		subtotal = subtotal.Add(lineTotal)
	}

	return lines, subtotal, nil
}

// createWithRetry retries the reservation after lock contention, with a
// small jittered backoff between attempts.
func (s *bookingService) createWithRetry(ctx context.Context, sale *entity.TicketSale) error {
	var err error
	for attempt := 1; attempt <= s.cfg.CreateRetries; attempt++ {
		err = s.saleRepo.Create(ctx, sale)
		if !errors.Is(err, entity.ErrContention) {
			return err
		}

		s.log.WithFields(logrus.Fields{
			"order_id": sale.OrderID,
			"attempt":  attempt,
		}).Warn("reservation lost package lock, retrying")

		backoff := time.Duration(attempt)*s.cfg.RetryBackoff + time.Duration(rand.Int63n(int64(s.cfg.RetryBackoff)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}

// ConfirmPayment settles a payment callback
func (s *bookingService) ConfirmPayment(ctx context.Context, orderID, paymentRef string, succeeded bool) (*entity.PaymentResult, error) {
	sale, settled, err := s.saleRepo.Confirm(ctx, orderID, paymentRef, succeeded)
	if err != nil {
		return nil, err
	}

	if !settled {
		s.log.WithFields(logrus.Fields{
			"order_id": orderID,
			"status":   sale.Status,
		}).Info("duplicate payment callback ignored")
		return &entity.PaymentResult{
			OrderID:        sale.OrderID,
			Status:         sale.Status,
			AlreadySettled: true,
		}, nil
	}

	s.log.WithFields(logrus.Fields{
		"order_id":    orderID,
		"status":      sale.Status,
		"payment_ref": paymentRef,
	}).Info("payment settled")

	if succeeded {
		s.publish(ctx, TaskTypeRenderETicket, map[string]interface{}{
			"order_id": sale.OrderID,
		})
		s.publish(ctx, TaskTypeSendNotification, map[string]interface{}{
			"order_id": sale.OrderID,
			"kind":     "payment_complete",
		})
	} else {
		s.publish(ctx, TaskTypeSendNotification, map[string]interface{}{
			"order_id": sale.OrderID,
			"kind":     "payment_failed",
		})
	}

	return &entity.PaymentResult{OrderID: sale.OrderID, Status: sale.Status}, nil
}

// CancelOrCorrect applies a manual status transition
func (s *bookingService) CancelOrCorrect(ctx context.Context, orderID string, to entity.SaleStatus, actorID int64, admin bool) (*entity.TicketSale, error) {
	switch to {
	case entity.SaleStatusCancelled, entity.SaleStatusRefunded, entity.SaleStatusComplete, entity.SaleStatusFailed:
	default:
		return nil, fmt.Errorf("%w: %s is not a correction target", entity.ErrInvalidStatus, to)
	}

	sale, err := s.saleRepo.Correct(ctx, orderID, to, actorID, admin)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"order_id": orderID,
		"status":   sale.Status,
		"actor_id": actorID,
	}).Info("sale corrected")

	if to == entity.SaleStatusCancelled || to == entity.SaleStatusRefunded {
		s.publish(ctx, TaskTypeSendNotification, map[string]interface{}{
			"order_id": sale.OrderID,
			"kind":     "booking_" + string(to),
		})
	}

	return sale, nil
}

// ReclaimExpired cancels stale pending orders in one sweep
func (s *bookingService) ReclaimExpired(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.cfg.PendingTTL)

	orderIDs, err := s.saleRepo.StalePending(ctx, cutoff, s.cfg.ReclaimBatch)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, orderID := range orderIDs {
		ok, err := s.saleRepo.Reclaim(ctx, orderID, cutoff)
		if err != nil {
			s.log.WithError(err).WithField("order_id", orderID).Error("failed to reclaim stale booking")
			continue
		}
		if !ok {
			continue
		}
		reclaimed++

		s.publish(ctx, TaskTypeSendNotification, map[string]interface{}{
			"order_id": orderID,
			"kind":     "booking_expired",
		})
	}

	if reclaimed > 0 {
		s.log.WithField("count", reclaimed).Info("stale bookings reclaimed")
	}
	return reclaimed, nil
}

// GetBooking retrieves a sale by its order ID
func (s *bookingService) GetBooking(ctx context.Context, orderID string) (*entity.TicketSale, error) {
	return s.saleRepo.GetByOrderID(ctx, orderID)
}

// History returns the audit trail of an order, oldest entry first
func (s *bookingService) History(ctx context.Context, orderID string) ([]*entity.HistoryEntry, error) {
	sale, err := s.saleRepo.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.saleRepo.History(ctx, sale.ID)
}

// AttachETicket stores the rendered e-ticket location on a paid order
func (s *bookingService) AttachETicket(ctx context.Context, orderID, url string) error {
	if err := s.saleRepo.SetETicketURL(ctx, orderID, url); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"order_id": orderID, "url": url}).Info("eticket attached")
	return nil
}

func (s *bookingService) publish(ctx context.Context, taskType string, data map[string]interface{}) {
	if s.queue == nil {
		return
	}

	task := &Task{
		ID:         uuid.NewString(),
		Type:       taskType,
		Data:       data,
		ExecuteAt:  time.Now(),
		MaxRetries: 3,
	}
	if err := s.queue.Publish(ctx, task); err != nil {
		s.log.WithError(err).WithField("type", taskType).Error("failed to publish task")
	}
}
