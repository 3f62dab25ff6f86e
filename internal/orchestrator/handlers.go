package orchestrator

import (
	"github.com/gin-gonic/gin"
	"github.com/ksred/ledger-api/internal/auth"
	"github.com/ksred/ledger-api/internal/types"
	"github.com/ksred/ledger-api/pkg/response"
)

// GinHandlers contains HTTP handlers for order workflow endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for order workflows
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// PlaceOrderHandler handles POST requests to place orders
// Requires a valid JWT token and idempotency key in headers
func (h *GinHandlers) PlaceOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		idempotencyKey := c.GetHeader("Idempotency-Key")
		if idempotencyKey == "" {
			response.BadRequest(c, "Idempotency-Key header is required")
			return
		}

		var intent types.OrderIntent
		if err := c.ShouldBindJSON(&intent); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		claims, exists := c.Get("claims")
		if !exists {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}
		clientID := auth.GetClientID(claims)
		if clientID == "" {
			response.Unauthorized(c, "Invalid client ID in token")
			return
		}
		intent.ClientID = clientID

		result, err := h.service.PlaceOrder(c.Request.Context(), &intent, idempotencyKey)
		response.Handle(c, result, err)
	}
}

// RecordExecutionHandler handles POST requests to record broker fills
// Requires internal authentication
// URL parameter: order_id
func (h *GinHandlers) RecordExecutionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")

		var fill types.Fill
		if err := c.ShouldBindJSON(&fill); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		event, err := h.service.RecordExecution(c.Request.Context(), orderID, &fill)
		response.Handle(c, event, err)
	}
}

// CancelOrderHandler handles POST requests to cancel live orders
// URL parameter: order_id
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")

		var req struct {
			Reason string `json:"reason"`
		}
		// Body is optional for cancels
		_ = c.ShouldBindJSON(&req)
		if req.Reason == "" {
			req.Reason = "client requested cancellation"
		}

		event, err := h.service.CancelOrder(c.Request.Context(), orderID, req.Reason)
		response.Handle(c, event, err)
	}
}
