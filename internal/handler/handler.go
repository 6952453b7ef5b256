package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nathanyu/order-saga/internal/domain"
	"github.com/nathanyu/order-saga/internal/queue"
	"github.com/nathanyu/order-saga/internal/saga"
)

// Handler contains all HTTP handlers
type Handler struct {
	natsClient *queue.NATSClient
	store      saga.Store
	timeout    time.Duration
}

// NewHandler creates a new handler
func NewHandler(natsClient *queue.NATSClient, store saga.Store) *Handler {
	return &Handler{
		natsClient: natsClient,
		store:      store,
		timeout:    5 * time.Second,
	}
}

// SubmitOrderRequest is the request body for order submission
type SubmitOrderRequest struct {
	OrderID    string           `json:"order_id"` // Optional, will be generated if not provided
	UserID     string           `json:"user_id" binding:"required"`
	CurrencyID string           `json:"currency_id" binding:"required"`
	Price      int64            `json:"price" binding:"required,gt=0"`
	OrderType  domain.OrderType `json:"order_type" binding:"required,oneof=buy sell"`
	Quantity   int64            `json:"quantity" binding:"required,gt=0"`
}

// OrderEventRequest is the request body for lifecycle events on an order
type OrderEventRequest struct {
	EventType  string           `json:"event_type" binding:"required,oneof=OrderPlaced OrderFilled OrderCancelled OrderExpired OrderFailed"`
	UserID     string           `json:"user_id" binding:"required"`
	CurrencyID string           `json:"currency_id"`
	Price      int64            `json:"price"`
	OrderType  domain.OrderType `json:"order_type"`
	Quantity   int64            `json:"quantity"`
	Reason     string           `json:"reason"`
}

// OrderEventResponse is the response body for event endpoints
type OrderEventResponse struct {
	OrderID string `json:"order_id"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// SubmitOrder handles POST /v1/orders
func (h *Handler) SubmitOrder(c *gin.Context) {
	var req SubmitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	orderID := req.OrderID
	if orderID == "" {
		orderID = uuid.Must(uuid.NewV7()).String()
	}

	event := domain.OrderSubmitted{
		OrderID:     orderID,
		UserID:      req.UserID,
		CurrencyID:  req.CurrencyID,
		Price:       req.Price,
		OrderType:   req.OrderType,
		Quantity:    req.Quantity,
		SubmittedAt: time.Now().UTC(),
	}

	h.publish(c, orderID, event)
}

// PostOrderEvent handles POST /v1/orders/:order_id/events
func (h *Handler) PostOrderEvent(c *gin.Context) {
	orderID := c.Param("order_id")

	var req OrderEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	now := time.Now().UTC()
	var event domain.Event
	switch req.EventType {
	case domain.EventTypeOrderPlaced:
		event = domain.OrderPlaced{
			OrderID: orderID, UserID: req.UserID, CurrencyID: req.CurrencyID,
			Price: req.Price, OrderType: req.OrderType, Quantity: req.Quantity,
			PlacedAt: now,
		}
	case domain.EventTypeOrderFilled:
		event = domain.OrderFilled{
			OrderID: orderID, UserID: req.UserID, CurrencyID: req.CurrencyID,
			Price: req.Price, OrderType: req.OrderType, Quantity: req.Quantity,
			FilledAt: now,
		}
	case domain.EventTypeOrderCancelled:
		event = domain.OrderCancelled{
			OrderID: orderID, UserID: req.UserID, CurrencyID: req.CurrencyID,
			Price: req.Price, OrderType: req.OrderType, Quantity: req.Quantity,
			CancelledAt: now,
		}
	case domain.EventTypeOrderExpired:
		event = domain.OrderExpired{
			OrderID: orderID, UserID: req.UserID, CurrencyID: req.CurrencyID,
			Price: req.Price, OrderType: req.OrderType, Quantity: req.Quantity,
			ExpiredAt: now,
		}
	case domain.EventTypeOrderFailed:
		event = domain.OrderFailed{
			OrderID: orderID, UserID: req.UserID, Reason: req.Reason,
			FailedAt: now,
		}
	}

	h.publish(c, orderID, event)
}

// publish sends the event through NATS and maps the coordinator's reply to
// an HTTP status
func (h *Handler) publish(c *gin.Context, orderID string, event domain.Event) {
	resp, err := h.natsClient.PublishEvent(event, h.timeout)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":    "failed to process event",
			"order_id": orderID,
		})
		return
	}

	switch {
	case resp.Success:
		c.JSON(http.StatusAccepted, OrderEventResponse{
			OrderID: orderID,
			Success: true,
		})
	case resp.Retryable:
		c.JSON(http.StatusServiceUnavailable, OrderEventResponse{
			OrderID: orderID,
			Message: resp.Error,
		})
	default:
		c.JSON(http.StatusConflict, OrderEventResponse{
			OrderID: orderID,
			Message: resp.Error,
		})
	}
}

// GetOrder handles GET /v1/orders/:order_id
func (h *Handler) GetOrder(c *gin.Context) {
	orderID := c.Param("order_id")

	state, revision, found, err := h.store.Load(c.Request.Context(), orderID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "saga store unavailable",
		})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{
			"error":    "order not found",
			"order_id": orderID,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"saga":     state,
		"revision": revision,
		"terminal": state.CurrentState.IsTerminal(),
	})
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().UTC(),
	})
}

// SetupRoutes configures all routes
func SetupRoutes(router *gin.Engine, h *Handler) {
	router.GET("/health", h.Health)

	v1 := router.Group("/v1")
	{
		v1.POST("/orders", h.SubmitOrder)
		v1.POST("/orders/:order_id/events", h.PostOrderEvent)
		v1.GET("/orders/:order_id", h.GetOrder)
	}
}
