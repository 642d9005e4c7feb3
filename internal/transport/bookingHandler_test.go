package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventbooker/ticketing/internal/database/memory"
	"github.com/eventbooker/ticketing/internal/entity"
	"github.com/eventbooker/ticketing/internal/service"
	"github.com/eventbooker/ticketing/pkg/orderid"
)

type apiEnv struct {
	router *gin.Engine
	store  *memory.Store
	event  *entity.Event
	pkg    *entity.TicketPackage
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := memory.NewStore(orderid.NewSub)
	repos := store.Repositories()

	event := store.AddEvent(&entity.Event{
		Name:        "Tomorrow Island Festival",
		Status:      entity.EventStatusOnSale,
		StartDate:   time.Now().Add(-time.Hour),
		EndDate:     time.Now().Add(24 * time.Hour),
		HandlingFee: decimal.RequireFromString("5"),
		Currency:    "USD",
	})
	pkg := store.AddPackage(&entity.TicketPackage{
		EventID:      event.ID,
		Name:         "Standard",
		Price:        decimal.RequireFromString("100"),
		TotalTickets: 10,
		Active:       true,
	})
	store.GrantRole(event.ID, 42, entity.RoleManager)

	promotionService := service.NewPromotionService(repos.Promotion, repos.Event)
	bookingService := service.NewBookingService(
		repos.Event, repos.Customer, repos.Sale,
		promotionService, nil, service.BookingConfig{}, logger,
	)
	verificationService := service.NewVerificationService(repos.Sale, repos.Event, repos.Access, time.UTC, logger)

	router := InitRoutes(
		NewBookingHandler(bookingService, promotionService),
		NewVerificationHandler(verificationService),
		30*time.Second,
	)

	return &apiEnv{router: router, store: store, event: event, pkg: pkg}
}

func (e *apiEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *apiEnv) createBooking(t *testing.T, tickets int) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/bookings", gin.H{
		"event_id": e.event.ID,
		"customer": gin.H{"email": "alice@example.com", "name": "Alice", "phone": "+15550100"},
		"items":    []gin.H{{"package_id": e.pkg.ID, "ticket_count": tickets}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Data entity.BookingConfirmation `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.OrderID)
	return resp.Data.OrderID
}

func TestCreateBookingEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/bookings", gin.H{
		"event_id": env.event.ID,
		"customer": gin.H{"email": "alice@example.com", "name": "Alice"},
		"items":    []gin.H{{"package_id": env.pkg.ID, "ticket_count": 2}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Success bool                       `json:"success"`
		Data    entity.BookingConfirmation `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, entity.SaleStatusPending, resp.Data.Status)
	assert.True(t, decimal.RequireFromString("205").Equal(resp.Data.Total))
}

func TestCreateBookingEndpointBadRequest(t *testing.T) {
	env := newAPIEnv(t)

	// Binding failure: no items.
	w := env.do(t, http.MethodPost, "/api/v1/bookings", gin.H{
		"event_id": env.event.ID,
		"customer": gin.H{"email": "alice@example.com"},
		"items":    []gin.H{},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateBookingEndpointConflict(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/bookings", gin.H{
		"event_id": env.event.ID,
		"customer": gin.H{"email": "alice@example.com", "name": "Alice"},
		"items":    []gin.H{{"package_id": env.pkg.ID, "ticket_count": 11}},
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "tickets available")
}

func TestGetBookingEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	orderID := env.createBooking(t, 1)

	w := env.do(t, http.MethodGet, "/api/v1/bookings/"+orderID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/bookings/NOPE-000-000000000000", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPaymentEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	orderID := env.createBooking(t, 2)

	w := env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%s/payment", orderID), gin.H{
		"payment_ref": "pay-123",
		"succeeded":   true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Data entity.PaymentResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, entity.SaleStatusComplete, resp.Data.Status)

	// Duplicate callback is accepted and flagged.
	w = env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%s/payment", orderID), gin.H{
		"payment_ref": "pay-123",
		"succeeded":   true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Data.AlreadySettled)

	// Missing payment_ref fails binding.
	w = env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%s/payment", orderID), gin.H{
		"succeeded": true,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	orderID := env.createBooking(t, 2)

	w := env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%s/cancel", orderID), gin.H{})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	pkg, _ := env.store.Package(env.pkg.ID)
	assert.Equal(t, 10, pkg.AvailTickets)

	// Cancelling again is an invalid transition.
	w = env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%s/cancel", orderID), gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCorrectEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	orderID := env.createBooking(t, 1)

	env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%s/payment", orderID), gin.H{
		"payment_ref": "pay-1",
		"succeeded":   true,
	})

	w := env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/bookings/%s/correct", orderID), gin.H{
		"status":   "failed",
		"actor_id": 7,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/bookings/%s/correct", orderID), gin.H{
		"status":   "pending",
		"actor_id": 7,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVerifyEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	orderID := env.createBooking(t, 2)
	env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%s/payment", orderID), gin.H{
		"payment_ref": "pay-1",
		"succeeded":   true,
	})

	w := env.do(t, http.MethodPost, "/api/v1/verify", gin.H{
		"order_id":    orderID,
		"verifier_id": 42,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Data entity.VerificationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, entity.SaleStatusVerified, resp.Data.Status)
	assert.Equal(t, 2, resp.Data.VerifiedNow)

	// A verifier without a staff role is rejected.
	w = env.do(t, http.MethodPost, "/api/v1/verify", gin.H{
		"order_id":    orderID,
		"verifier_id": 999,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestEvaluatePromoEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	env.store.AddPromotion(&entity.Promotion{
		EventID:    env.event.ID,
		CouponCode: "SUMMER10",
		Percentage: true,
		Amount:     decimal.RequireFromString("10"),
		Active:     true,
	})

	items := []gin.H{{"package_id": env.pkg.ID, "ticket_count": 3}}
	w := env.do(t, http.MethodPost, "/api/v1/promotions/evaluate", gin.H{
		"event_id": env.event.ID,
		"code":     "SUMMER10",
		"items":    items,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Data entity.PromoApplication `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, decimal.RequireFromString("300").Equal(resp.Data.Subtotal))
	assert.True(t, decimal.RequireFromString("30").Equal(resp.Data.Discount))
	assert.True(t, decimal.RequireFromString("270").Equal(resp.Data.AmountDue))

	w = env.do(t, http.MethodPost, "/api/v1/promotions/evaluate", gin.H{
		"event_id": env.event.ID,
		"code":     "UNKNOWN",
		"items":    items,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEvaluatePromoEndpointScoped(t *testing.T) {
	env := newAPIEnv(t)
	other := env.store.AddPackage(&entity.TicketPackage{
		EventID:      env.event.ID,
		Name:         "VIP",
		Price:        decimal.RequireFromString("250"),
		TotalTickets: 5,
		Active:       true,
	})
	env.store.AddPromotion(&entity.Promotion{
		EventID:    env.event.ID,
		CouponCode: "VIPONLY",
		PackageID:  &other.ID,
		Amount:     decimal.RequireFromString("25"),
		PerTicket:  true,
		Active:     true,
	})

	// An order without the scoped package cannot use the code.
	w := env.do(t, http.MethodPost, "/api/v1/promotions/evaluate", gin.H{
		"event_id": env.event.ID,
		"code":     "VIPONLY",
		"items":    []gin.H{{"package_id": env.pkg.ID, "ticket_count": 2}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	w := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
