package transport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eventbooker/ticketing/internal/entity"
	"github.com/eventbooker/ticketing/internal/service"
)

type BookingHandler struct {
	bookingService   service.BookingService
	promotionService service.PromotionService
}

func NewBookingHandler(bookingService service.BookingService, promotionService service.PromotionService) *BookingHandler {
	return &BookingHandler{
		bookingService:   bookingService,
		promotionService: promotionService,
	}
}

type SuccessResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// PaymentCallbackRequest mirrors the payment provider webhook payload.
// Succeeded is a pointer so that an explicit false still binds.
type PaymentCallbackRequest struct {
	PaymentRef string `json:"payment_ref" binding:"required"`
	Succeeded  *bool  `json:"succeeded" binding:"required"`
}

type CancelBookingRequest struct {
	ActorID int64  `json:"actor_id"`
	Refund  bool   `json:"refund"`
	Reason  string `json:"reason,omitempty"`
}

type CorrectBookingRequest struct {
	Status  string `json:"status" binding:"required"`
	ActorID int64  `json:"actor_id" binding:"required"`
}

type EvaluatePromoRequest struct {
	EventID int64             `json:"event_id" binding:"required"`
	Code    string            `json:"code" binding:"required"`
	Items   []entity.LineItem `json:"items" binding:"required,min=1,dive"`
}

func (h *BookingHandler) CreateBooking(c *gin.Context) {
	var req entity.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Success: false, Error: err.Error()})
		return
	}

	confirmation, err := h.bookingService.CreateBooking(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, SuccessResponse{
		Success: true,
		Message: "Booking created",
		Data:    confirmation,
	})
}

func (h *BookingHandler) GetBooking(c *gin.Context) {
	sale, err := h.bookingService.GetBooking(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: sale})
}

func (h *BookingHandler) GetHistory(c *gin.Context) {
	entries, err := h.bookingService.History(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: entries})
}

func (h *BookingHandler) ConfirmPayment(c *gin.Context) {
	var req PaymentCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Success: false, Error: err.Error()})
		return
	}

	result, err := h.bookingService.ConfirmPayment(c.Request.Context(), c.Param("order_id"), req.PaymentRef, *req.Succeeded)
	if err != nil {
		respondError(c, err)
		return
	}

	message := "Payment settled"
	if result.AlreadySettled {
		message = "Payment already settled"
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Message: message,
		Data:    result,
	})
}

func (h *BookingHandler) CancelBooking(c *gin.Context) {
	var req CancelBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Success: false, Error: err.Error()})
		return
	}

	target := entity.SaleStatusCancelled
	if req.Refund {
		target = entity.SaleStatusRefunded
	}

	sale, err := h.bookingService.CancelOrCorrect(c.Request.Context(), c.Param("order_id"), target, req.ActorID, false)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Message: "Booking " + string(sale.Status),
		Data:    sale,
	})
}

// CorrectBooking is the administrative override between settled states.
func (h *BookingHandler) CorrectBooking(c *gin.Context) {
	var req CorrectBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Success: false, Error: err.Error()})
		return
	}

	target, err := parseSaleStatus(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Success: false, Error: err.Error()})
		return
	}

	sale, err := h.bookingService.CancelOrCorrect(c.Request.Context(), c.Param("order_id"), target, req.ActorID, true)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Message: "Booking corrected",
		Data:    sale,
	})
}

func (h *BookingHandler) EvaluatePromo(c *gin.Context) {
	var req EvaluatePromoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Success: false, Error: err.Error()})
		return
	}

	applied, err := h.promotionService.Evaluate(c.Request.Context(), req.EventID, req.Code, req.Items)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: applied})
}

func parseSaleStatus(s string) (entity.SaleStatus, error) {
	switch entity.SaleStatus(s) {
	case entity.SaleStatusComplete, entity.SaleStatusFailed,
		entity.SaleStatusCancelled, entity.SaleStatusRefunded:
		return entity.SaleStatus(s), nil
	default:
		return "", errors.New("invalid target status: " + s)
	}
}

// respondError maps domain errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	var (
		inventoryErr *entity.InsufficientInventoryError
		seatErr      *entity.SeatConflictError
		capErr       *entity.PerUserCapError
		minErr       *entity.PromoMinTicketsError
		maxErr       *entity.PromoMaxTicketsError
	)

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, entity.ErrEventNotFound),
		errors.Is(err, entity.ErrPackageNotFound),
		errors.Is(err, entity.ErrSaleNotFound),
		errors.Is(err, entity.ErrCustomerNotFound),
		errors.Is(err, entity.ErrInvalidPromoCode):
		status = http.StatusNotFound
	case errors.Is(err, entity.ErrInvalidInput),
		errors.Is(err, entity.ErrInvalidStatus),
		errors.Is(err, entity.ErrPromoNotApplicable),
		errors.As(err, &minErr),
		errors.As(err, &maxErr):
		status = http.StatusBadRequest
	case errors.Is(err, entity.ErrForbidden):
		status = http.StatusForbidden
	case errors.As(err, &inventoryErr),
		errors.As(err, &seatErr),
		errors.As(err, &capErr),
		errors.Is(err, entity.ErrRedemptionLimitExceeded),
		errors.Is(err, entity.ErrPackageNotOnSale),
		errors.Is(err, entity.ErrEventNotOnSale),
		errors.Is(err, entity.ErrEventNotToday),
		errors.Is(err, entity.ErrNotVerifiable):
		status = http.StatusConflict
	case errors.Is(err, entity.ErrContention):
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, ErrorResponse{Success: false, Error: err.Error()})
}
