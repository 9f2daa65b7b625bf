package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"marketplace-service/internal/apierror"
	"marketplace-service/internal/service"
	"marketplace-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger is a dependency checked by the readiness check
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services bundles the services behind the HTTP API
type Services struct {
	Shops       *service.ShopService
	Catalog     *service.CatalogService
	Products    *service.ProductService
	Checkout    *service.CheckoutService
	Instore     *service.InstoreOrderService
	Experiences *service.ExperienceService
	Bookings    *service.ExperienceCheckoutService
	Payments    *service.PaymentService
}

// Handler contains HTTP handlers
type Handler struct {
	Services
	auth         *Authenticator
	dependencies map[string]Pinger
	logger       *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(services Services, auth *Authenticator, dependencies map[string]Pinger) *Handler {
	return &Handler{
		Services:     services,
		auth:         auth,
		dependencies: dependencies,
		logger:       util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	public := router.Group("/api/v1", h.auth.OptionalAuth())
	{
		public.GET("/categories", h.listCategories)
		public.GET("/categories/:id", h.getCategory)
		public.POST("/newsletter/subscribe", h.subscribe)
		public.POST("/newsletter/unsubscribe", h.unsubscribe)
		public.POST("/email-opt-outs", h.createOptOut)
		public.DELETE("/email-opt-outs", h.deleteOptOut)

		public.GET("/shops/:id", h.getShop)
		public.GET("/shops/:id/products", h.listShopProducts)
		public.GET("/shops/:id/experiences", h.listShopExperiences)
		public.GET("/products/:id", h.getProduct)
		public.GET("/experiences/:id", h.getExperience)
	}

	v1 := router.Group("/api/v1", h.auth.RequireAuth())
	{
		v1.POST("/categories", RequireAdmin(), h.createCategory)

		v1.POST("/shops", h.createShop)
		v1.PUT("/shops/:id", h.updateShop)

		v1.POST("/products", h.createProduct)
		v1.PUT("/products/:id", h.updateProduct)
		v1.DELETE("/products/:id", h.deleteProduct)
		v1.POST("/products/:id/publish", h.publishProduct)
		v1.POST("/products/:id/unpublish", h.unpublishProduct)
		v1.POST("/products/:id/clone", h.cloneProduct)
		v1.PUT("/products/:id/variants", h.replaceVariants)
		v1.PUT("/products/:id/stock", h.updateStock)
		v1.POST("/products/:id/availability-notifications", h.registerAvailabilityNotification)

		v1.POST("/checkout/validate", h.validateCart)
		v1.POST("/checkout/lock", h.lockCart)
		v1.DELETE("/checkout/:id", h.releaseCart)
		v1.POST("/checkout", h.checkout)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/cancel", h.cancelOrder)

		v1.POST("/shops/:id/instore-orders", h.createInstoreOrder)
		v1.GET("/instore-orders/:id", h.getInstoreOrder)
		v1.POST("/instore-orders/:id/items", h.addInstoreItem)
		v1.PUT("/instore-orders/:id/items/:detailId", h.updateInstoreItem)
		v1.DELETE("/instore-orders/:id/items/:detailId", h.removeInstoreItem)
		v1.POST("/instore-orders/:id/checkout", h.checkoutInstoreOrder)
		v1.POST("/instore-orders/:id/complete", h.completeInstoreOrder)
		v1.POST("/instore-orders/:id/cancel", h.cancelInstoreOrder)

		v1.POST("/experiences", h.createExperience)
		v1.PUT("/experiences/:id", h.updateExperience)
		v1.POST("/experiences/:id/publish", h.publishExperience)
		v1.POST("/experiences/:id/unpublish", h.unpublishExperience)
		v1.POST("/experiences/:id/tickets", h.addTicket)
		v1.POST("/experiences/:id/sessions", h.addSession)

		v1.POST("/sessions/:id/reservations", h.reserveTickets)
		v1.DELETE("/sessions/:id/reservations", h.releaseReservations)
		v1.POST("/experience-orders", h.createExperienceOrder)
		v1.GET("/experience-orders/:id", h.getExperienceOrder)
		v1.GET("/me/tickets", h.listMyTickets)
		v1.POST("/tickets/:code/transfer", h.transferTicket)
		v1.POST("/tickets/:code/check-in", h.checkInTicket)

		v1.GET("/payments/:id", h.getPayment)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when every dependency answers
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	ready := true
	for name, dep := range h.dependencies {
		if err := dep.Ping(ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

func abortWithError(c *gin.Context, err *apierror.Error) {
	c.AbortWithStatusJSON(err.StatusCode, err.Body())
}

// respondError writes err in the public error shape. Unexpected errors are
// logged and reported as 500 without their cause.
func (h *Handler) respondError(c *gin.Context, err error) {
	ae := apierror.From(err)
	if ae.StatusCode >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(ae.StatusCode, ae.Body())
}

// bind decodes the JSON body into req, answering 400 on failure
func (h *Handler) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.respondError(c, apierror.BadRequest(fmt.Sprintf("Invalid request body: %v", err)))
		return false
	}
	return true
}

// paramID parses a positive integer path parameter, answering 400 on failure
func (h *Handler) paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		h.respondError(c, apierror.BadRequest(fmt.Sprintf("Invalid %s", name)))
		return 0, false
	}
	return id, true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Inc()
	}
}
