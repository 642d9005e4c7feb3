package transport

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eventbooker/ticketing/internal/transport/middleware"
)

func InitRoutes(bookingHandler *BookingHandler, verificationHandler *VerificationHandler, requestTimeout time.Duration) *gin.Engine {

	router := gin.New()

	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Middleware
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.Timeout(requestTimeout))

	// API routes
	api := router.Group("/api/v1")
	{
		// Booking routes
		bookings := api.Group("/bookings")
		{
			bookings.POST("", bookingHandler.CreateBooking)
			bookings.GET("/:order_id", bookingHandler.GetBooking)
			bookings.GET("/:order_id/history", bookingHandler.GetHistory)
			bookings.POST("/:order_id/payment", bookingHandler.ConfirmPayment)
			bookings.POST("/:order_id/cancel", bookingHandler.CancelBooking)
		}

		// Promotion routes
		api.POST("/promotions/evaluate", bookingHandler.EvaluatePromo)

		// Gate verification routes
		api.POST("/verify", verificationHandler.Verify)

		// Admin routes
		admin := api.Group("/admin")
		{
			admin.POST("/bookings/:order_id/correct", bookingHandler.CorrectBooking)
		}
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})

	return router
}
