package queue_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventbooker/ticketing/internal/database/memory"
	"github.com/eventbooker/ticketing/internal/entity"
	"github.com/eventbooker/ticketing/internal/service"
	"github.com/eventbooker/ticketing/pkg/orderid"
	"github.com/eventbooker/ticketing/pkg/queue"
)

type fakeNotifier struct {
	sent []string
	err  error
}

func (f *fakeNotifier) Send(phone, message string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, phone+": "+message)
	return nil
}

type fakeRenderer struct {
	url string
	err error
}

func (f *fakeRenderer) Render(ctx context.Context, sale *entity.TicketSale) (string, error) {
	return f.url, f.err
}

type handlerEnv struct {
	store    *memory.Store
	booking  service.BookingService
	notifier *fakeNotifier
	renderer *fakeRenderer
	handler  *queue.TaskHandler
	orderID  string
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := memory.NewStore(orderid.NewSub)
	repos := store.Repositories()

	event := store.AddEvent(&entity.Event{
		Name:      "Jazz Night",
		Status:    entity.EventStatusOnSale,
		StartDate: time.Now(),
		EndDate:   time.Now().Add(time.Hour),
		Currency:  "USD",
	})
	pkg := store.AddPackage(&entity.TicketPackage{
		EventID:      event.ID,
		Name:         "Standard",
		Price:        decimal.RequireFromString("50"),
		TotalTickets: 10,
		Active:       true,
	})

	booking := service.NewBookingService(
		repos.Event, repos.Customer, repos.Sale,
		service.NewPromotionService(repos.Promotion, repos.Event),
		nil, service.BookingConfig{}, logger,
	)

	conf, err := booking.CreateBooking(context.Background(), &entity.CreateBookingRequest{
		EventID:  event.ID,
		Customer: entity.Customer{Email: "alice@example.com", Name: "Alice", Phone: "+15550100"},
		Items:    []entity.LineItem{{PackageID: pkg.ID, TicketCount: 2}},
	})
	require.NoError(t, err)

	notifier := &fakeNotifier{}
	renderer := &fakeRenderer{url: "https://cdn.example.com/t/abc.pdf"}
	handler := queue.NewTaskHandler(booking, repos.Customer, notifier, renderer, logger)

	return &handlerEnv{
		store:    store,
		booking:  booking,
		notifier: notifier,
		renderer: renderer,
		handler:  handler,
		orderID:  conf.OrderID,
	}
}

func TestHandleSendNotification(t *testing.T) {
	env := newHandlerEnv(t)

	task := &queue.Task{
		ID:   "t1",
		Type: queue.TaskTypeSendNotification,
		Data: map[string]interface{}{"order_id": env.orderID, "kind": "payment_complete"},
	}
	require.NoError(t, env.handler.HandleTask(task))

	require.Len(t, env.notifier.sent, 1)
	assert.Contains(t, env.notifier.sent[0], "+15550100")
	assert.Contains(t, env.notifier.sent[0], env.orderID)
}

func TestHandleSendNotificationUnknownKind(t *testing.T) {
	env := newHandlerEnv(t)

	task := &queue.Task{
		ID:   "t1",
		Type: queue.TaskTypeSendNotification,
		Data: map[string]interface{}{"order_id": env.orderID, "kind": "bogus"},
	}
	err := env.handler.HandleTask(task)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid notification kind")
	assert.Empty(t, env.notifier.sent)
}

func TestHandleSendNotificationMissingOrder(t *testing.T) {
	env := newHandlerEnv(t)

	assert.Error(t, env.handler.HandleTask(&queue.Task{
		ID:   "t1",
		Type: queue.TaskTypeSendNotification,
		Data: map[string]interface{}{"kind": "payment_complete"},
	}))
}

func TestHandleRenderETicket(t *testing.T) {
	env := newHandlerEnv(t)
	ctx := context.Background()

	_, err := env.booking.ConfirmPayment(ctx, env.orderID, "pay-1", true)
	require.NoError(t, err)

	task := &queue.Task{
		ID:   "t2",
		Type: queue.TaskTypeRenderETicket,
		Data: map[string]interface{}{"order_id": env.orderID},
	}
	require.NoError(t, env.handler.HandleTask(task))

	sale, err := env.booking.GetBooking(ctx, env.orderID)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/t/abc.pdf", sale.ETicketURL)
}

func TestHandleRenderETicketSkipsUnpaidOrder(t *testing.T) {
	env := newHandlerEnv(t)

	// The order is still pending, nothing to render.
	task := &queue.Task{
		ID:   "t2",
		Type: queue.TaskTypeRenderETicket,
		Data: map[string]interface{}{"order_id": env.orderID},
	}
	require.NoError(t, env.handler.HandleTask(task))

	sale, err := env.booking.GetBooking(context.Background(), env.orderID)
	require.NoError(t, err)
	assert.Empty(t, sale.ETicketURL)
}

func TestHandleRenderETicketFailure(t *testing.T) {
	env := newHandlerEnv(t)
	ctx := context.Background()

	_, err := env.booking.ConfirmPayment(ctx, env.orderID, "pay-1", true)
	require.NoError(t, err)

	env.renderer.err = errors.New("render service unavailable")
	err = env.handler.HandleTask(&queue.Task{
		ID:   "t2",
		Type: queue.TaskTypeRenderETicket,
		Data: map[string]interface{}{"order_id": env.orderID},
	})
	assert.Error(t, err)
}

func TestHandleUnknownTaskType(t *testing.T) {
	env := newHandlerEnv(t)
	assert.Error(t, env.handler.HandleTask(&queue.Task{ID: "t3", Type: "reindex"}))
}
