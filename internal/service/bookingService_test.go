package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventbooker/ticketing/internal/database/memory"
	"github.com/eventbooker/ticketing/internal/entity"
	"github.com/eventbooker/ticketing/pkg/orderid"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// taskRecorder captures published background tasks for assertions.
type taskRecorder struct {
	mutex sync.Mutex
	tasks []*Task
}

func (r *taskRecorder) Publish(ctx context.Context, task *Task) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.tasks = append(r.tasks, task)
	return nil
}

func (r *taskRecorder) ofType(taskType string) []*Task {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	var out []*Task
	for _, t := range r.tasks {
		if t.Type == taskType {
			out = append(out, t)
		}
	}
	return out
}

type bookingEnv struct {
	store    *memory.Store
	booking  BookingService
	tasks    *taskRecorder
	event    *entity.Event
	standard *entity.TicketPackage
	seated   *entity.TicketPackage
}

func newBookingEnv(t *testing.T, cfg BookingConfig) *bookingEnv {
	t.Helper()

	store := memory.NewStore(orderid.NewSub)
	repos := store.Repositories()

	event := store.AddEvent(&entity.Event{
		Name:        "Tomorrow Island Festival",
		Status:      entity.EventStatusOnSale,
		StartDate:   time.Now().Add(-time.Hour),
		EndDate:     time.Now().Add(24 * time.Hour),
		HandlingFee: dec("5"),
		Currency:    "USD",
	})
	standard := store.AddPackage(&entity.TicketPackage{
		EventID:      event.ID,
		Name:         "Standard",
		Price:        dec("100"),
		TotalTickets: 10,
		Active:       true,
	})
	seated := store.AddPackage(&entity.TicketPackage{
		EventID:        event.ID,
		Name:           "Front Row",
		Price:          dec("250"),
		TotalTickets:   4,
		SeatSelectable: true,
		Active:         true,
	})

	tasks := &taskRecorder{}
	promos := NewPromotionService(repos.Promotion, repos.Event)
	booking := NewBookingService(repos.Event, repos.Customer, repos.Sale, promos, tasks, cfg, testLogger())

	return &bookingEnv{
		store:    store,
		booking:  booking,
		tasks:    tasks,
		event:    event,
		standard: standard,
		seated:   seated,
	}
}

func (e *bookingEnv) request(items ...entity.LineItem) *entity.CreateBookingRequest {
	return &entity.CreateBookingRequest{
		EventID: e.event.ID,
		Customer: entity.Customer{
			Email: "alice@example.com",
			Name:  "Alice",
			Phone: "+15550100",
		},
		Items: items,
	}
}

func TestCreateBooking(t *testing.T) {
	env := newBookingEnv(t, BookingConfig{PendingTTL: 15 * time.Minute})

	conf, err := env.booking.CreateBooking(context.Background(),
		env.request(entity.LineItem{PackageID: env.standard.ID, TicketCount: 2}))
	require.NoError(t, err)

	assert.NotEmpty(t, conf.OrderID)
	assert.Equal(t, entity.SaleStatusPending, conf.Status)
	assert.True(t, dec("200").Equal(conf.Subtotal))
	assert.True(t, conf.Discount.IsZero())
	assert.True(t, dec("5").Equal(conf.HandlingFee))
	assert.True(t, dec("205").Equal(conf.Total))
	assert.Equal(t, "USD", conf.Currency)
	assert.False(t, conf.ExpiresAt.IsZero())

	pkg, ok := env.store.Package(env.standard.ID)
	require.True(t, ok)
	assert.Equal(t, 8, pkg.AvailTickets)

	// Creation has no external side effect, notifications start with payment.
	assert.Empty(t, env.tasks.ofType(TaskTypeSendNotification))
}

func TestCreateBookingPercentageHandlingFee(t *testing.T) {
	env := newBookingEnv(t, BookingConfig{})
	env.event.HandlingFee = dec("10")
	env.event.HandlingFeePercent = true

	conf, err := env.booking.CreateBooking(context.Background(),
		env.request(entity.LineItem{PackageID: env.standard.ID, TicketCount: 2}))
	require.NoError(t, err)

	assert.True(t, dec("20").Equal(conf.HandlingFee))
	assert.True(t, dec("220").Equal(conf.Total))
}

func TestCreateBookingInsufficientInventory(t *testing.T) {
	env := newBookingEnv(t, BookingConfig{})

	_, err := env.booking.CreateBooking(context.Background(),
		env.request(entity.LineItem{PackageID: env.standard.ID, TicketCount: 11}))

	var invErr *entity.InsufficientInventoryError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, env.standard.ID, invErr.PackageID)
	assert.Equal(t, 11, invErr.Requested)
	assert.Equal(t, 10, invErr.Available)

	// Nothing was reserved by the failed order.
	pkg, _ := env.store.Package(env.standard.ID)
	assert.Equal(t, 10, pkg.AvailTickets)
}

func TestCreateBookingSeatConflict(t *testing.T) {
	env := newBookingEnv(t, BookingConfig{})
	ctx := context.Background()

	_, err := env.booking.CreateBooking(ctx,
		env.request(entity.LineItem{PackageID: env.seated.ID, TicketCount: 2, SeatNos: entity.SeatSet{"A1", "A2"}}))
	require.NoError(t, err)

	req := env.request(entity.LineItem{PackageID: env.seated.ID, TicketCount: 2, SeatNos: entity.SeatSet{"A2", "A3"}})
	req.Customer.Email = "bob@example.com"
	_, err = env.booking.CreateBooking(ctx, req)

	var seatErr *entity.SeatConflictError
	require.ErrorAs(t, err, &seatErr)
	assert.Equal(t, entity.SeatSet{"A2"}, seatErr.Seats)
}

func TestCreateBookingSeatsOnUnseatedPackage(t *testing.T) {
	env := newBookingEnv(t, BookingConfig{})

	_, err := env.booking.CreateBooking(context.Background(),
		env.request(entity.LineItem{PackageID: env.standard.ID, TicketCount: 1, SeatNos: entity.SeatSet{"A1"}}))
	assert.ErrorIs(t, err, entity.ErrInvalidInput)
}

func TestCreateBookingValidation(t *testing.T) {
	env := newBookingEnv(t, BookingConfig{})
	ctx := context.Background()

	tests := []struct {
		name string
		req  *entity.CreateBookingRequest
	}{
		{"no items", env.request()},
		{"missing email", func() *entity.CreateBookingRequest {
			r := env.request(entity.LineItem{PackageID: env.standard.ID, TicketCount: 1})
			r.Customer.Email = ""
			return r
		}()},
		{"zero tickets", env.request(entity.LineItem{PackageID: env.standard.ID, TicketCount: 0})},
		{"seat count mismatch", env.request(entity.LineItem{
			PackageID: env.seated.ID, TicketCount: 2, SeatNos: entity.SeatSet{"A1"},
		})},
		{"duplicate seats", env.request(entity.LineItem{
			PackageID: env.seated.ID, TicketCount: 2, SeatNos: entity.SeatSet{"A1", "A1"},
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.booking.CreateBooking(ctx, tt.req)
			assert.ErrorIs(t, err, entity.ErrInvalidInput)
		})
	}
}

func TestCreateBookingEventNotOnSale(t *testing.T) {
	env := newBookingEnv(t, BookingConfig{})
	env.event.Status = entity.EventStatusClosed

	_, err := env.booking.CreateBooking(context.Background(),
		env.request(entity.LineItem{PackageID: env.standard.ID, TicketCount: 1}))
	assert.ErrorIs(t, err, entity.ErrEventNotOnSale)
}

func TestCreateBookingPerBuyerCap(t *testing.T) {
	env := newBookingEnv(t, BookingConfig{})
	env.standard.MaxTicketsPerBuyer = 3
	ctx := context.Background()

	conf, err := env.booking.CreateBooking(ctx,
		env.request(entity.LineItem{PackageID: env.standard.ID, TicketCount: 2}))
	require.NoError(t, err)

	// Pending orders do not count toward the cap, paid ones do.
	_, err = env.booking.ConfirmPayment(ctx, conf.OrderID, "pay-1", true)
	require.NoError(t, err)

	_, err = env.booking.CreateBooking(ctx,
		env.request(entity.LineItem{PackageID: env.standard.ID, TicketCount: 2}))

	var capErr *entity.PerUserCapError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 3, capErr.Cap)
	assert.Equal(t, 2, capErr.Held)
	assert.Equal(t, 2, capErr.Requested)

	// A different buyer is unaffected.
	req := env.request(entity.LineItem{PackageID: env.standard.ID, TicketCount: 2})
	req.Customer.Email = "bob@example.com"
	_, err = env.booking.CreateBooking(ctx, req)
	assert.NoError(t, err)
}

func TestCreateBookingWithPromoCode(t *testing.T) {
	env := newBookingEnv(t, BookingConfig{})
	env.store.AddPromotion(&entity.Promotion{
		EventID:    env.event.ID,
		CouponCode: "SUMMER10",
		Percentage: true,
		Amount:     dec("10"),
		Active:     true,
	})

	req := env.request(entity.LineItem{PackageID: env.standard.ID, TicketCount: 3})
	req.PromoCode = "summer10"

	conf, err := env.booking.CreateBooking(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, dec("300").Equal(conf.Subtotal))
	assert.True(t, dec("30").Equal(conf.Discount))
	// Handling fee applies after the discount.
	assert.True(t, dec("275").Equal(conf.Total))

	sale, err := env.booking.GetBooking(context.Background(), conf.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "SUMMER10", sale.PromoCode)
	require.NotNil(t, sale.PromotionID)
}

func TestCreateBookingWithFlatPromoCode(t *testing.T) {
	env := newBookingEnv(t, BookingConfig{})
	env.store.AddPromotion(&entity.Promotion{
		EventID:    env.event.ID,
		CouponCode: "TAKE50",
		Amount:     dec("50"),
		Active:     true,
	})

	req := env.request(entity.LineItem{PackageID: env.standard.ID, TicketCount: 3})
	req.PromoCode = "TAKE50"

	conf, err := env.booking.CreateBooking(context.Background(), req)
	require.NoError(t, err)

	// A flat amount comes off once, not per ticket and not zero.
	assert.True(t, dec("300").Equal(conf.Subtotal))
	assert.True(t, dec("50").Equal(conf.Discount))
	assert.True(t, dec("255").Equal(conf.Total))
}

func TestCreateBookingPackageNotOnSale(t *testing.T) {
	env := newBookingEnv(t, BookingConfig{})
	ctx := context.Background()

	env.standard.Active = false
	_, err := env.booking.CreateBooking(ctx,
		env.request(entity.LineItem{PackageID: env.standard.ID, TicketCount: 1}))
	assert.ErrorIs(t, err, entity.ErrPackageNotOnSale)

	// A manual sold-out override blocks sales even with tickets left.
	env.standard.Active = true
	env.standard.SoldOut = true
	_, err = env.booking.CreateBooking(ctx,
		env.request(entity.LineItem{PackageID: env.standard.ID, TicketCount: 1}))
	assert.ErrorIs(t, err, entity.ErrPackageNotOnSale)

	pkg, _ := env.store.Package(env.standard.ID)
	assert.Equal(t, 10, pkg.AvailTickets)
}

func TestCreateBookingNoCapMeansUnlimited(t *testing.T) {
	env := newBookingEnv(t, BookingConfig{})
	env.standard.TotalTickets = 60
	env.standard.AvailTickets = 60
	ctx := context.Background()

	// With MaxTicketsPerBuyer zero a buyer may keep purchasing.
	for i := 0; i < 3; i++ {
		conf, err := env.booking.CreateBooking(ctx,
			env.request(entity.LineItem{PackageID: env.standard.ID, TicketCount: 15}))
		require.NoError(t, err)
		_, err = env.booking.ConfirmPayment(ctx, conf.OrderID, "pay", true)
		require.NoError(t, err)
	}

	pkg, _ := env.store.Package(env.standard.ID)
	assert.Equal(t, 15, pkg.AvailTickets)
}

func TestCreateBookingLineSizeLimit(t *testing.T) {
	env := newBookingEnv(t, BookingConfig{})
	env.standard.TotalTickets = 100
	env.standard.AvailTickets = 100

	_, err := env.booking.CreateBooking(context.Background(),
		env.request(entity.LineItem{PackageID: env.standard.ID, TicketCount: entity.MaxTicketsPerOrderLine + 1}))
	assert.ErrorIs(t, err, entity.ErrInvalidInput)
}

func TestCreateBookingRedemptionLimit(t *testing.T) {
	env := newBookingEnv(t, BookingConfig{})
	env.store.AddPromotion(&entity.Promotion{
		EventID:        env.event.ID,
		CouponCode:     "ONCE",
		PerTicket:      true,
		Amount:         dec("10"),
		MaxRedemptions: 1,
		Active:         true,
	})
	ctx := context.Background()

	req := env.request(entity.LineItem{PackageID: env.standard.ID, TicketCount: 1})
	req.PromoCode = "ONCE"
	_, err := env.booking.CreateBooking(ctx, req)
	require.NoError(t, err)

	req2 := env.request(entity.LineItem{PackageID: env.standard.ID, TicketCount: 1})
	req2.Customer.Email = "bob@example.com"
	req2.PromoCode = "ONCE"
	_, err = env.booking.CreateBooking(ctx, req2)
	assert.ErrorIs(t, err, entity.ErrRedemptionLimitExceeded)
}

func TestConfirmPaymentSuccess(t *testing.T) {
	env := newBookingEnv(t, BookingConfig{})
	ctx := context.Background()

	conf, err := env.booking.CreateBooking(ctx,
		env.request(entity.LineItem{PackageID: env.standard.ID, TicketCount: 3}))
	require.NoError(t, err)

	result, err := env.booking.ConfirmPayment(ctx, conf.OrderID, "pay-123", true)
	require.NoError(t, err)
	assert.Equal(t, entity.SaleStatusComplete, result.Status)
	assert.False(t, result.AlreadySettled)

	sale, err := env.booking.GetBooking(ctx, conf.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "pay-123", sale.PaymentRef)
	require.Len(t, sale.SubTickets, 3)
	for _, st := range sale.SubTickets {
		assert.Equal(t, entity.SubTicketStatusIssued, st.Status)
		assert.Contains(t, st.SubOrderID, conf.OrderID+"-sub-")
	}

	// Paid orders keep their inventory.
	pkg, _ := env.store.Package(env.standard.ID)
	assert.Equal(t, 7, pkg.AvailTickets)

	assert.Len(t, env.tasks.ofType(TaskTypeRenderETicket), 1)
}

func TestConfirmPaymentIdempotent(t *testing.T) {
	env := newBookingEnv(t, BookingConfig{})
	ctx := context.Background()

	conf, err := env.booking.CreateBooking(ctx,
		env.request(entity.LineItem{PackageID: env.standard.ID, TicketCount: 2}))
	require.NoError(t, err)

	_, err = env.booking.ConfirmPayment(ctx, conf.OrderID, "pay-1", true)
	require.NoError(t, err)

	result, err := env.booking.ConfirmPayment(ctx, conf.OrderID, "pay-1-retry", true)
	require.NoError(t, err)
	assert.True(t, result.AlreadySettled)
	assert.Equal(t, entity.SaleStatusComplete, result.Status)

	// The duplicate callback issued no extra sub tickets.
	sale, err := env.booking.GetBooking(ctx, conf.OrderID)
	require.NoError(t, err)
	assert.Len(t, sale.SubTickets, 2)
	assert.Equal(t, "pay-1", sale.PaymentRef)
}

func TestConfirmPaymentFailureReleasesInventory(t *testing.T) {
	env := newBookingEnv(t, BookingConfig{})
	ctx := context.Background()

	conf, err := env.booking.CreateBooking(ctx,
		env.request(entity.LineItem{PackageID: env.seated.ID, TicketCount: 2, SeatNos: entity.SeatSet{"A1", "A2"}}))
	require.NoError(t, err)

	result, err := env.booking.ConfirmPayment(ctx, conf.OrderID, "pay-err", false)
	require.NoError(t, err)
	assert.Equal(t, entity.SaleStatusFailed, result.Status)

	pkg, _ := env.store.Package(env.seated.ID)
	assert.Equal(t, 4, pkg.AvailTickets)
	assert.False(t, pkg.ReservedSeats.Contains("A1"))
	assert.False(t, pkg.ReservedSeats.Contains("A2"))
}

func TestCancelPendingBooking(t *testing.T) {
	env := newBookingEnv(t, BookingConfig{})
	ctx := context.Background()

	conf, err := env.booking.CreateBooking(ctx,
		env.request(entity.LineItem{PackageID: env.standard.ID, TicketCount: 4}))
	require.NoError(t, err)

	sale, err := env.booking.CancelOrCorrect(ctx, conf.OrderID, entity.SaleStatusCancelled, 0, false)
	require.NoError(t, err)
	assert.Equal(t, entity.SaleStatusCancelled, sale.Status)

	pkg, _ := env.store.Package(env.standard.ID)
	assert.Equal(t, 10, pkg.AvailTickets)
}

func TestCorrectRejectsInvalidTargets(t *testing.T) {
	env := newBookingEnv(t, BookingConfig{})
	ctx := context.Background()

	conf, err := env.booking.CreateBooking(ctx,
		env.request(entity.LineItem{PackageID: env.standard.ID, TicketCount: 1}))
	require.NoError(t, err)

	_, err = env.booking.CancelOrCorrect(ctx, conf.OrderID, entity.SaleStatusPending, 0, false)
	assert.ErrorIs(t, err, entity.ErrInvalidStatus)

	// Refunding a pending order is not a valid transition.
	_, err = env.booking.CancelOrCorrect(ctx, conf.OrderID, entity.SaleStatusRefunded, 0, false)
	assert.ErrorIs(t, err, entity.ErrInvalidStatus)
}

func TestAdminCorrection(t *testing.T) {
	env := newBookingEnv(t, BookingConfig{})
	ctx := context.Background()

	conf, err := env.booking.CreateBooking(ctx,
		env.request(entity.LineItem{PackageID: env.standard.ID, TicketCount: 2}))
	require.NoError(t, err)
	_, err = env.booking.ConfirmPayment(ctx, conf.OrderID, "pay-1", true)
	require.NoError(t, err)

	// Only admins may move complete to failed.
	_, err = env.booking.CancelOrCorrect(ctx, conf.OrderID, entity.SaleStatusFailed, 7, false)
	assert.ErrorIs(t, err, entity.ErrInvalidStatus)

	sale, err := env.booking.CancelOrCorrect(ctx, conf.OrderID, entity.SaleStatusFailed, 7, true)
	require.NoError(t, err)
	assert.Equal(t, entity.SaleStatusFailed, sale.Status)
	for _, st := range sale.SubTickets {
		assert.Equal(t, entity.SubTicketStatusVoided, st.Status)
	}

	pkg, _ := env.store.Package(env.standard.ID)
	assert.Equal(t, 10, pkg.AvailTickets)

	// And back again: inventory is re-reserved and tickets re-issued.
	sale, err = env.booking.CancelOrCorrect(ctx, conf.OrderID, entity.SaleStatusComplete, 7, true)
	require.NoError(t, err)
	assert.Equal(t, entity.SaleStatusComplete, sale.Status)
	for _, st := range sale.SubTickets {
		assert.Equal(t, entity.SubTicketStatusIssued, st.Status)
	}

	pkg, _ = env.store.Package(env.standard.ID)
	assert.Equal(t, 8, pkg.AvailTickets)
}

func TestReclaimExpired(t *testing.T) {
	env := newBookingEnv(t, BookingConfig{PendingTTL: time.Nanosecond})
	ctx := context.Background()

	conf, err := env.booking.CreateBooking(ctx,
		env.request(entity.LineItem{PackageID: env.standard.ID, TicketCount: 3}))
	require.NoError(t, err)

	paid, err := env.booking.CreateBooking(ctx,
		env.request(entity.LineItem{PackageID: env.standard.ID, TicketCount: 2}))
	require.NoError(t, err)
	_, err = env.booking.ConfirmPayment(ctx, paid.OrderID, "pay-1", true)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	reclaimed, err := env.booking.ReclaimExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	sale, err := env.booking.GetBooking(ctx, conf.OrderID)
	require.NoError(t, err)
	assert.Equal(t, entity.SaleStatusCancelled, sale.Status)

	// Only the stale pending order released its tickets.
	pkg, _ := env.store.Package(env.standard.ID)
	assert.Equal(t, 8, pkg.AvailTickets)

	entries, err := env.booking.History(ctx, conf.OrderID)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, entity.HistoryActionReclaimed, entries[len(entries)-1].Action)

	// A second sweep finds nothing.
	reclaimed, err = env.booking.ReclaimExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, reclaimed)
}

func TestConcurrentBookingLastTicket(t *testing.T) {
	env := newBookingEnv(t, BookingConfig{})
	env.standard.TotalTickets = 1
	env.standard.AvailTickets = 1
	ctx := context.Background()

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			req := env.request(entity.LineItem{PackageID: env.standard.ID, TicketCount: 1})
			req.Customer.Email = string(rune('a'+n)) + "@example.com"
			_, err := env.booking.CreateBooking(ctx, req)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		} else {
			var invErr *entity.InsufficientInventoryError
			assert.ErrorAs(t, err, &invErr)
		}
	}
	assert.Equal(t, 1, succeeded)

	pkg, _ := env.store.Package(env.standard.ID)
	assert.Equal(t, 0, pkg.AvailTickets)
}

func TestAttachETicket(t *testing.T) {
	env := newBookingEnv(t, BookingConfig{})
	ctx := context.Background()

	conf, err := env.booking.CreateBooking(ctx,
		env.request(entity.LineItem{PackageID: env.standard.ID, TicketCount: 1}))
	require.NoError(t, err)

	require.NoError(t, env.booking.AttachETicket(ctx, conf.OrderID, "https://cdn.example.com/t/abc.pdf"))

	sale, err := env.booking.GetBooking(ctx, conf.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/t/abc.pdf", sale.ETicketURL)

	assert.ErrorIs(t, env.booking.AttachETicket(ctx, "missing-order", "u"), entity.ErrSaleNotFound)
}
