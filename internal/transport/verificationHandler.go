package transport

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eventbooker/ticketing/internal/service"
)

type VerificationHandler struct {
	verificationService service.VerificationService
}

func NewVerificationHandler(verificationService service.VerificationService) *VerificationHandler {
	return &VerificationHandler{verificationService: verificationService}
}

// Verify checks an order in at the gate. An empty sub_order_ids list means
// the whole order.
func (h *VerificationHandler) Verify(c *gin.Context) {
	var req service.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Success: false, Error: err.Error()})
		return
	}

	result, err := h.verificationService.VerifyTickets(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	message := "Tickets verified"
	if result.AlreadyVerified {
		message = "Tickets already verified"
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Message: message,
		Data:    result,
	})
}
