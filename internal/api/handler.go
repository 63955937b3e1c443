package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/vincibusa/bibigin-admin-sub000/internal/service"
	"github.com/vincibusa/bibigin-admin-sub000/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	processor *service.OrderProcessor
	orders    *service.OrderAdminService
	catalog   *service.CatalogService
	customers *service.CustomerService
	jwtSecret string
}

// NewHandler creates a new HTTP handler
func NewHandler(
	processor *service.OrderProcessor,
	orders *service.OrderAdminService,
	catalog *service.CatalogService,
	customers *service.CustomerService,
	jwtSecret string,
) *Handler {
	return &Handler{
		processor: processor,
		orders:    orders,
		catalog:   catalog,
		customers: customers,
		jwtSecret: jwtSecret,
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

	v1 := router.Group("/api/v1")
	v1.Use(AuthRequired(h.jwtSecret))
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.PATCH("/orders/:id", h.patchOrder)
		v1.DELETE("/orders/:id", AdminRequired(), h.deleteOrder)

		v1.GET("/products", h.listProducts)
		v1.GET("/products/:id", h.getProduct)
		v1.POST("/products", AdminRequired(), h.createProduct)
		v1.PUT("/products/:id", AdminRequired(), h.updateProduct)
		v1.DELETE("/products/:id", AdminRequired(), h.deleteProduct)
		v1.POST("/products/:id/restock", AdminRequired(), h.restockProduct)

		v1.GET("/customers", h.listCustomers)
		v1.GET("/customers/:key", h.getCustomer)
		v1.POST("/customers", h.createCustomer)
		v1.PUT("/customers/:key", h.updateCustomer)
		v1.DELETE("/customers/:key", AdminRequired(), h.deleteCustomer)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// respondError maps the service error taxonomy onto HTTP statuses. Staff
// need the specific reason, so messages pass through verbatim.
func respondError(c *gin.Context, err error) {
	var (
		validationErr *service.ValidationError
		notFoundErr   *service.NotFoundError
		stockErr      *service.OutOfStockError
	)
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &stockErr):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrConflictRetryExhausted):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "order could not be committed due to contention, please retry"})
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable", "details": err.Error()})
	}
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	resp, err := h.processor.PlaceOrder(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	if resp.Duplicate {
		c.JSON(http.StatusOK, resp)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	order, items, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order, "items": items})
}

// listOrders handles filtered order listing
func (h *Handler) listOrders(c *gin.Context) {
	filter := store.OrderFilter{
		CustomerID:    c.Query("customer_id"),
		Status:        c.Query("status"),
		PaymentStatus: c.Query("payment_status"),
		Limit:         intQuery(c, "limit", 50),
		Offset:        intQuery(c, "offset", 0),
	}

	orders, err := h.orders.ListOrders(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// patchOrder handles partial order updates (status, payment status)
func (h *Handler) patchOrder(c *gin.Context) {
	var patch service.OrderPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	order, err := h.orders.UpdateOrder(c.Request.Context(), c.Param("id"), &patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// deleteOrder handles irreversible admin deletion
func (h *Handler) deleteOrder(c *gin.Context) {
	deletedBy := c.GetString("caller_email")
	if err := h.orders.DeleteOrder(c.Request.Context(), c.Param("id"), deletedBy); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// listProducts handles filtered catalog listing
func (h *Handler) listProducts(c *gin.Context) {
	filter := store.ProductFilter{
		Status:   c.Query("status"),
		Category: c.Query("category"),
		Search:   c.Query("search"),
		Limit:    intQuery(c, "limit", 50),
		Offset:   intQuery(c, "offset", 0),
	}
	if v, ok := c.GetQuery("featured"); ok {
		featured := v == "true" || v == "1"
		filter.Featured = &featured
	}
	if v, ok := c.GetQuery("min_price"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			filter.MinPrice = &n
		}
	}
	if v, ok := c.GetQuery("max_price"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			filter.MaxPrice = &n
		}
	}

	products, err := h.catalog.ListProducts(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

// getProduct handles get product by ID
func (h *Handler) getProduct(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	product, err := h.catalog.GetProduct(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// createProduct handles product creation
func (h *Handler) createProduct(c *gin.Context) {
	var in service.ProductInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	product, err := h.catalog.CreateProduct(c.Request.Context(), &in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

// updateProduct handles full product updates
func (h *Handler) updateProduct(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	var in service.ProductInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	product, err := h.catalog.UpdateProduct(c.Request.Context(), id, &in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// deleteProduct handles product deletion
func (h *Handler) deleteProduct(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	if err := h.catalog.DeleteProduct(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// restockProduct handles manual stock increments
func (h *Handler) restockProduct(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	var body struct {
		Quantity int `json:"quantity" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	product, err := h.catalog.Restock(c.Request.Context(), id, body.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// listCustomers handles customer listing
func (h *Handler) listCustomers(c *gin.Context) {
	customers, err := h.customers.ListCustomers(c.Request.Context(),
		intQuery(c, "limit", 50), intQuery(c, "offset", 0))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"customers": customers})
}

// getCustomer handles lookup by id or email
func (h *Handler) getCustomer(c *gin.Context) {
	customer, err := h.customers.GetCustomer(c.Request.Context(), c.Param("key"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, customer)
}

// createCustomer handles customer registration
func (h *Handler) createCustomer(c *gin.Context) {
	var in service.CustomerInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	customer, err := h.customers.CreateCustomer(c.Request.Context(), &in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, customer)
}

// updateCustomer handles contact updates
func (h *Handler) updateCustomer(c *gin.Context) {
	var in service.CustomerInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	customer, err := h.customers.UpdateCustomer(c.Request.Context(), c.Param("key"), &in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, customer)
}

// deleteCustomer handles hard ledger deletion
func (h *Handler) deleteCustomer(c *gin.Context) {
	if err := h.customers.DeleteCustomer(c.Request.Context(), c.Param("key")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func intQuery(c *gin.Context, name string, fallback int) int {
	v := c.Query(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
