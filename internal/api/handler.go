package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"marketplace-orders/internal/models"
	"marketplace-orders/internal/service"
	"marketplace-orders/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Services groups the domain services the handlers call.
type Services struct {
	Carts       *service.CartService
	Orders      *service.OrderService
	Payments    *service.PaymentService
	Reconciler  *service.Reconciler
	Fulfillment *service.FulfillmentService
}

// AuthConfig holds the shared secrets. Empty values disable the checks.
type AuthConfig struct {
	JWTSecret     string
	WebhookSecret string
}

// ReadinessCheck reports whether a dependency can serve requests.
type ReadinessCheck func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	svc    Services
	auth   AuthConfig
	checks map[string]ReadinessCheck
}

// NewHandler creates a new HTTP handler
func NewHandler(svc Services, auth AuthConfig, checks map[string]ReadinessCheck) *Handler {
	return &Handler{svc: svc, auth: auth, checks: checks}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/api/v1/payments/webhook", webhookAuth(h.auth.WebhookSecret), h.paymentWebhook)

	v1 := router.Group("/api/v1", authenticate(h.auth.JWTSecret))
	{
		v1.GET("/carts/:buyerId", h.getCart)
		v1.POST("/carts/:buyerId/items", h.addCartItem)
		v1.PUT("/carts/:buyerId/items/:productId", h.setCartItem)
		v1.DELETE("/carts/:buyerId/items/:productId", h.removeCartItem)
		v1.DELETE("/carts/:buyerId", h.clearCart)

		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.GET("/orders/:id/history", h.getOrderHistory)
		v1.PATCH("/orders/:id/checkout", h.checkout)
		v1.POST("/orders/:id/payment-check", h.paymentCheck)
		v1.PATCH("/orders/:id/cancel", h.cancelOrder)

		v1.PATCH("/product-orders/:id/status", h.updateProductOrderStatus)
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

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// cartItemRequest takes a pointer so a missing quantity is rejected while zero
// removes the line.
type cartItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  *int   `json:"quantity" binding:"required"`
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) getCart(c *gin.Context) {
	buyerID := c.Param("buyerId")
	if err := requireSelf(c, buyerID); err != nil {
		respondError(c, err)
		return
	}

	cart, err := h.svc.Carts.GetCart(c.Request.Context(), buyerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) addCartItem(c *gin.Context) {
	buyerID := c.Param("buyerId")
	if err := requireSelf(c, buyerID); err != nil {
		respondError(c, err)
		return
	}

	var req cartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cart, err := h.svc.Carts.AddItem(c.Request.Context(), buyerID, req.ProductID, *req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) setCartItem(c *gin.Context) {
	buyerID := c.Param("buyerId")
	if err := requireSelf(c, buyerID); err != nil {
		respondError(c, err)
		return
	}

	var req quantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	cart, err := h.svc.Carts.SetQuantity(c.Request.Context(), buyerID, c.Param("productId"), req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) removeCartItem(c *gin.Context) {
	buyerID := c.Param("buyerId")
	if err := requireSelf(c, buyerID); err != nil {
		respondError(c, err)
		return
	}

	cart, err := h.svc.Carts.RemoveItem(c.Request.Context(), buyerID, c.Param("productId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) clearCart(c *gin.Context) {
	buyerID := c.Param("buyerId")
	if err := requireSelf(c, buyerID); err != nil {
		respondError(c, err)
		return
	}

	cart, err := h.svc.Carts.Clear(c.Request.Context(), buyerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}
	if req.BuyerID == "" {
		req.BuyerID = c.GetString(ctxUserID)
	}
	if err := requireSelf(c, req.BuyerID); err != nil {
		respondError(c, err)
		return
	}

	order, err := h.svc.Orders.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	order, ok := h.loadVisibleOrder(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) getOrderHistory(c *gin.Context) {
	order, ok := h.loadVisibleOrder(c)
	if !ok {
		return
	}

	history, err := h.svc.Orders.GetOrderHistory(c.Request.Context(), order.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": order.ID, "history": history})
}

func (h *Handler) loadVisibleOrder(c *gin.Context) (*models.Order, bool) {
	order, err := h.svc.Orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if err := canView(c, order); err != nil {
		respondError(c, err)
		return nil, false
	}
	return order, true
}

type actorRequest struct {
	ActorID   string `json:"actor_id"`
	ActorRole string `json:"actor_role"`
	Reason    string `json:"reason" binding:"max=500"`
}

func (h *Handler) checkout(c *gin.Context) {
	var req actorRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, err)
		return
	}

	actor, err := resolveActor(c, req.ActorID, "", models.RoleBuyer)
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.svc.Payments.MarkForCheckout(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) paymentCheck(c *gin.Context) {
	if _, ok := h.loadVisibleOrder(c); !ok {
		return
	}

	order, err := h.svc.Payments.CheckPaymentStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) cancelOrder(c *gin.Context) {
	var req actorRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, err)
		return
	}

	actor, err := resolveActor(c, req.ActorID, req.ActorRole, models.RoleBuyer)
	if err != nil {
		respondError(c, err)
		return
	}

	order, err := h.svc.Reconciler.CancelOrder(c.Request.Context(), c.Param("id"), actor, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type productOrderStatusRequest struct {
	Status   string `json:"status" binding:"required"`
	SellerID string `json:"seller_id"`
}

func (h *Handler) updateProductOrderStatus(c *gin.Context) {
	var req productOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	actor, err := resolveActor(c, req.SellerID, models.RoleSeller, models.RoleSeller)
	if err != nil {
		respondError(c, err)
		return
	}

	po, err := h.svc.Fulfillment.UpdateProductOrderStatus(c.Request.Context(), c.Param("id"), actor.ID, models.OrderStatus(req.Status))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, po)
}

func (h *Handler) paymentWebhook(c *gin.Context) {
	var req service.PaymentResult
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.svc.Payments.RecordPaymentResult(c.Request.Context(), req); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// bindOptionalJSON binds a body when one was sent.
func bindOptionalJSON(c *gin.Context, obj interface{}) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	return c.ShouldBindJSON(obj)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
