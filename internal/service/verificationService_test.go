package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventbooker/ticketing/internal/database/memory"
	"github.com/eventbooker/ticketing/internal/entity"
	"github.com/eventbooker/ticketing/pkg/orderid"
)

const verifierID = int64(42)

type verifyEnv struct {
	store   *memory.Store
	booking BookingService
	verify  *verificationService
	event   *entity.Event
	orderID string
	subIDs  []string
}

// newVerifyEnv seeds a paid three-ticket order on an event running today,
// with a coordinator role granted to the verifier.
func newVerifyEnv(t *testing.T) *verifyEnv {
	t.Helper()

	store := memory.NewStore(orderid.NewSub)
	repos := store.Repositories()

	event := store.AddEvent(&entity.Event{
		Name:      "Tomorrow Island Festival",
		Status:    entity.EventStatusOnSale,
		StartDate: time.Now().Add(-2 * time.Hour),
		EndDate:   time.Now().Add(26 * time.Hour),
		Currency:  "USD",
	})
	pkg := store.AddPackage(&entity.TicketPackage{
		EventID:      event.ID,
		Name:         "Standard",
		Price:        dec("100"),
		TotalTickets: 10,
		Active:       true,
	})
	store.GrantRole(event.ID, verifierID, entity.RoleCoordinator)

	booking := NewBookingService(repos.Event, repos.Customer, repos.Sale,
		NewPromotionService(repos.Promotion, repos.Event), nil, BookingConfig{}, testLogger())

	ctx := context.Background()
	conf, err := booking.CreateBooking(ctx, &entity.CreateBookingRequest{
		EventID:  event.ID,
		Customer: entity.Customer{Email: "alice@example.com", Name: "Alice"},
		Items:    []entity.LineItem{{PackageID: pkg.ID, TicketCount: 3}},
	})
	require.NoError(t, err)
	_, err = booking.ConfirmPayment(ctx, conf.OrderID, "pay-1", true)
	require.NoError(t, err)

	sale, err := booking.GetBooking(ctx, conf.OrderID)
	require.NoError(t, err)
	subIDs := make([]string, 0, len(sale.SubTickets))
	for _, st := range sale.SubTickets {
		subIDs = append(subIDs, st.SubOrderID)
	}

	verify := NewVerificationService(repos.Sale, repos.Event, repos.Access, time.UTC, testLogger()).(*verificationService)

	return &verifyEnv{
		store:   store,
		booking: booking,
		verify:  verify,
		event:   event,
		orderID: conf.OrderID,
		subIDs:  subIDs,
	}
}

func TestVerifyPartialThenFull(t *testing.T) {
	env := newVerifyEnv(t)
	ctx := context.Background()

	result, err := env.verify.VerifyTickets(ctx, &VerifyRequest{
		OrderID:     env.orderID,
		SubOrderIDs: env.subIDs[:1],
		VerifierID:  verifierID,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.VerifiedNow)
	assert.Equal(t, 1, result.VerifiedTickets)
	assert.Equal(t, 3, result.TotalTickets)
	assert.Equal(t, entity.SaleStatusPartiallyVerified, result.Status)
	assert.False(t, result.AlreadyVerified)

	// Verified plus unverified always equals the order size, and the sale
	// records who ran the latest check-in batch.
	sale, err := env.booking.GetBooking(ctx, env.orderID)
	require.NoError(t, err)
	require.NotNil(t, sale.VerifiedBy)
	assert.Equal(t, verifierID, *sale.VerifiedBy)
	require.NotNil(t, sale.VerifiedAt)
	unverified := 0
	for _, st := range sale.SubTickets {
		if st.Status == entity.SubTicketStatusIssued {
			unverified++
		}
	}
	assert.Equal(t, sale.TotalTickets, sale.VerifiedTickets+unverified)

	// An empty list checks in the remainder of the order.
	result, err = env.verify.VerifyTickets(ctx, &VerifyRequest{
		OrderID:    env.orderID,
		VerifierID: verifierID,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.VerifiedNow)
	assert.Equal(t, 3, result.VerifiedTickets)
	assert.Equal(t, entity.SaleStatusVerified, result.Status)
}

func TestVerifyWholeOrderIdempotent(t *testing.T) {
	env := newVerifyEnv(t)
	ctx := context.Background()

	_, err := env.verify.VerifyTickets(ctx, &VerifyRequest{OrderID: env.orderID, VerifierID: verifierID})
	require.NoError(t, err)

	result, err := env.verify.VerifyTickets(ctx, &VerifyRequest{OrderID: env.orderID, VerifierID: verifierID})
	require.NoError(t, err)
	assert.True(t, result.AlreadyVerified)
	assert.Zero(t, result.VerifiedNow)
	assert.Equal(t, 3, result.VerifiedTickets)

	// The repeated scan left no extra history entry.
	entries, err := env.booking.History(ctx, env.orderID)
	require.NoError(t, err)
	verifiedEntries := 0
	for _, e := range entries {
		if e.Action == entity.HistoryActionVerified {
			verifiedEntries++
		}
	}
	assert.Equal(t, 1, verifiedEntries)
}

func TestVerifyAlreadyVerifiedSubset(t *testing.T) {
	env := newVerifyEnv(t)
	ctx := context.Background()

	_, err := env.verify.VerifyTickets(ctx, &VerifyRequest{
		OrderID:     env.orderID,
		SubOrderIDs: env.subIDs[:2],
		VerifierID:  verifierID,
	})
	require.NoError(t, err)

	// Re-scanning the same two tickets is a no-op, not an error.
	result, err := env.verify.VerifyTickets(ctx, &VerifyRequest{
		OrderID:     env.orderID,
		SubOrderIDs: env.subIDs[:2],
		VerifierID:  verifierID,
	})
	require.NoError(t, err)
	assert.True(t, result.AlreadyVerified)
	assert.Equal(t, 2, result.VerifiedTickets)
	assert.Equal(t, entity.SaleStatusPartiallyVerified, result.Status)
}

func TestVerifyPerPackageCounts(t *testing.T) {
	env := newVerifyEnv(t)
	ctx := context.Background()

	result, err := env.verify.VerifyTickets(ctx, &VerifyRequest{
		OrderID:     env.orderID,
		SubOrderIDs: env.subIDs[:2],
		VerifierID:  verifierID,
	})
	require.NoError(t, err)
	require.Len(t, result.Packages, 1)
	assert.Equal(t, 2, result.Packages[0].Verified)
}

func TestVerifyUnknownSubTicket(t *testing.T) {
	env := newVerifyEnv(t)

	_, err := env.verify.VerifyTickets(context.Background(), &VerifyRequest{
		OrderID:     env.orderID,
		SubOrderIDs: []string{"no-such-ticket"},
		VerifierID:  verifierID,
	})
	assert.ErrorIs(t, err, entity.ErrInvalidInput)
}

func TestVerifyForbidden(t *testing.T) {
	env := newVerifyEnv(t)

	_, err := env.verify.VerifyTickets(context.Background(), &VerifyRequest{
		OrderID:    env.orderID,
		VerifierID: 999,
	})
	assert.ErrorIs(t, err, entity.ErrForbidden)
}

func TestVerifyEventNotToday(t *testing.T) {
	env := newVerifyEnv(t)

	// Scan a week after the event ended.
	env.verify.now = func() time.Time { return time.Now().Add(8 * 24 * time.Hour) }

	_, err := env.verify.VerifyTickets(context.Background(), &VerifyRequest{
		OrderID:    env.orderID,
		VerifierID: verifierID,
	})
	assert.ErrorIs(t, err, entity.ErrEventNotToday)
}

func TestVerifyPendingOrderRejected(t *testing.T) {
	env := newVerifyEnv(t)
	ctx := context.Background()

	conf, err := env.booking.CreateBooking(ctx, &entity.CreateBookingRequest{
		EventID:  env.event.ID,
		Customer: entity.Customer{Email: "bob@example.com", Name: "Bob"},
		Items:    []entity.LineItem{{PackageID: env.subPackageID(t), TicketCount: 1}},
	})
	require.NoError(t, err)

	_, err = env.verify.VerifyTickets(ctx, &VerifyRequest{OrderID: conf.OrderID, VerifierID: verifierID})
	assert.ErrorIs(t, err, entity.ErrNotVerifiable)
}

func (e *verifyEnv) subPackageID(t *testing.T) int64 {
	t.Helper()
	sale, err := e.booking.GetBooking(context.Background(), e.orderID)
	require.NoError(t, err)
	require.NotEmpty(t, sale.Lines)
	return sale.Lines[0].PackageID
}
