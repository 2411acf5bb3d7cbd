package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cogivn/daisy-flower-sub000/internal/models"
	"github.com/cogivn/daisy-flower-sub000/internal/pricing"
	"github.com/cogivn/daisy-flower-sub000/internal/service"
	"github.com/cogivn/daisy-flower-sub000/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// AuthSettings configures bearer token validation.
type AuthSettings struct {
	Secret string
	Issuer string
}

// Handler contains HTTP handlers
type Handler struct {
	carts  *service.CartService
	orders *service.OrderService
	auth   AuthSettings
	deps   map[string]Pinger
	logger *zap.Logger
}

// NewHandler creates a new HTTP handler. deps are pinged by /ready.
func NewHandler(
	carts *service.CartService,
	orders *service.OrderService,
	auth AuthSettings,
	deps map[string]Pinger,
) *Handler {
	return &Handler{
		carts:  carts,
		orders: orders,
		auth:   auth,
		deps:   deps,
		logger: util.Component("http"),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(authMiddleware(h.auth.Secret, h.auth.Issuer))
	{
		v1.POST("/cart/voucher", h.applyVoucher)
		v1.DELETE("/cart/voucher", h.removeVoucher)
		v1.POST("/cart/validate-payment", h.validatePayment)
		v1.POST("/vouchers/validate", h.previewVoucher)

		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.PATCH("/orders/:id/status", h.updateOrderStatus)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	ready := true
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}
	c.JSON(status, gin.H{
		"status": state,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

type applyVoucherRequest struct {
	Code string `json:"code" binding:"required"`
}

func (h *Handler) applyVoucher(c *gin.Context) {
	var req applyVoucherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	cart, err := h.carts.ApplyVoucher(c.Request.Context(), userIDFrom(c), req.Code)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"cart_id":        cart.ID,
		"voucher_code":   cart.VoucherCode,
		"reserved_until": cart.ReservedVoucherExpiresAt,
		"breakdown":      service.BreakdownOf(cart),
	})
}

func (h *Handler) removeVoucher(c *gin.Context) {
	cart, err := h.carts.RemoveVoucher(c.Request.Context(), userIDFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"cart_id":   cart.ID,
		"breakdown": service.BreakdownOf(cart),
	})
}

func (h *Handler) previewVoucher(c *gin.Context) {
	var req service.PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	preview, err := h.carts.PreviewVoucher(c.Request.Context(), userIDFrom(c), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

func (h *Handler) validatePayment(c *gin.Context) {
	check, err := h.carts.ValidateForPayment(c.Request.Context(), userIDFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	status := http.StatusOK
	if !check.Valid {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, check)
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	details, err := h.orders.CreateFromCart(c.Request.Context(), userIDFrom(c), c.GetHeader("Idempotency-Key"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, details)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid order ID",
		})
		return
	}

	owner := userIDFrom(c)
	if isAdmin(c) {
		owner = 0
	}

	details, err := h.orders.GetOrder(c.Request.Context(), owner, orderID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid order ID",
		})
		return
	}

	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	if !isAdmin(c) {
		// customers may only cancel their own orders
		if _, err := h.orders.GetOrder(ctx, userIDFrom(c), orderID); err != nil {
			h.respondError(c, err)
			return
		}
		if req.Status != models.OrderStatusCancelled {
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "only admins may move an order to " + req.Status,
			})
			return
		}
	}

	order, err := h.orders.TransitionStatus(ctx, orderID, req.Status, service.WriteOptions{})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"details": err.Error(),
	})
}

// respondError maps service errors onto HTTP statuses
func (h *Handler) respondError(c *gin.Context, err error) {
	if rej, ok := pricing.AsRejection(err); ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   rej.Reason,
			"message": rej.Message(),
		})
		return
	}

	switch {
	case errors.Is(err, service.ErrAuthenticationRequired):
		abortUnauthenticated(c)
	case errors.Is(err, service.ErrVoucherRejected):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "voucher_rejected", "message": "Voucher cannot be applied"})
	case errors.Is(err, service.ErrCartNotFound),
		errors.Is(err, service.ErrVoucherNotFound),
		errors.Is(err, service.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	case errors.Is(err, service.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition", "message": err.Error()})
	case errors.Is(err, service.ErrDuplicateRequest):
		c.JSON(http.StatusConflict, gin.H{"error": "duplicate_request", "message": err.Error()})
	default:
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
