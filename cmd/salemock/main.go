package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Payment is a single entry in a sale's payment split.
type Payment struct {
	Method string  `json:"method"`
	Amount float64 `json:"amount"`
}

// Sale mirrors the wire shape the ledger's sales client expects.
type Sale struct {
	ID       string    `json:"id"`
	Payments []Payment `json:"payments"`
	IsPaid   bool      `json:"is_paid"`
}

// UpdatePaymentsRequest rewrites a sale's payment split.
type UpdatePaymentsRequest struct {
	Payments []Payment `json:"payments" binding:"required"`
	IsPaid   bool      `json:"is_paid"`
}

// CreateSaleRequest seeds a sale for test scenarios.
type CreateSaleRequest struct {
	ID       string    `json:"id"`
	Payments []Payment `json:"payments" binding:"required"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status      string    `json:"status"`
	InstanceID  string    `json:"instance_id"`
	Timestamp   time.Time `json:"timestamp"`
	FailureRate float64   `json:"failure_rate"`
	Sales       int       `json:"sales"`
}

// MockSaleService simulates the sales service the ledger syncs splits into.
type MockSaleService struct {
	mu          sync.RWMutex
	sales       map[string]*Sale
	failureRate float64
	minDelay    time.Duration
	maxDelay    time.Duration
	instanceID  string
	rng         *rand.Rand
}

func NewMockSaleService(failureRate float64, minDelay, maxDelay time.Duration) *MockSaleService {
	return &MockSaleService{
		sales:       make(map[string]*Sale),
		failureRate: failureRate,
		minDelay:    minDelay,
		maxDelay:    maxDelay,
		instanceID:  "MOCK_SALES_" + uuid.New().String()[:8],
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *MockSaleService) randomDelay() time.Duration {
	if m.maxDelay <= m.minDelay {
		return m.minDelay
	}
	delta := m.maxDelay - m.minDelay
	return m.minDelay + time.Duration(m.rng.Int63n(int64(delta)))
}

func (m *MockSaleService) shouldFail() bool {
	return m.rng.Float64() < m.failureRate
}

func (m *MockSaleService) get(id string) (*Sale, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sales[id]
	if !ok {
		return nil, false
	}
	cp := &Sale{ID: s.ID, IsPaid: s.IsPaid, Payments: append([]Payment(nil), s.Payments...)}
	return cp, true
}

func (m *MockSaleService) put(s *Sale) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sales[s.ID] = s
}

func (m *MockSaleService) setPayments(id string, payments []Payment, isPaid bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sales[id]
	if !ok {
		return false
	}
	s.Payments = append([]Payment(nil), payments...)
	s.IsPaid = isPaid
	return true
}

func (m *MockSaleService) count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sales)
}

// Handler struct holds the mock service and routes
type Handler struct {
	svc *MockSaleService
}

func NewHandler(svc *MockSaleService) *Handler {
	return &Handler{svc: svc}
}

// GetSale returns a sale by id
func (h *Handler) GetSale(c *gin.Context) {
	saleID := c.Param("sale_id")

	time.Sleep(h.svc.randomDelay())

	if h.svc.shouldFail() {
		log.Warn().Str("sale_id", saleID).Msg("Simulated failure on sale fetch")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sales service temporarily unavailable"})
		return
	}

	sale, ok := h.svc.get(saleID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "sale not found"})
		return
	}

	c.JSON(http.StatusOK, sale)
}

// UpdatePayments rewrites a sale's payment split
func (h *Handler) UpdatePayments(c *gin.Context) {
	saleID := c.Param("sale_id")

	var req UpdatePaymentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	time.Sleep(h.svc.randomDelay())

	if h.svc.shouldFail() {
		log.Warn().Str("sale_id", saleID).Msg("Simulated failure on payments update")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sales service temporarily unavailable"})
		return
	}

	if !h.svc.setPayments(saleID, req.Payments, req.IsPaid) {
		c.JSON(http.StatusNotFound, gin.H{"error": "sale not found"})
		return
	}

	log.Info().
		Str("sale_id", saleID).
		Bool("is_paid", req.IsPaid).
		Int("entries", len(req.Payments)).
		Msg("Payment split updated")

	c.Status(http.StatusNoContent)
}

// CreateSale seeds a sale so a test scenario can run against it
func (h *Handler) CreateSale(c *gin.Context) {
	var req CreateSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	h.svc.put(&Sale{ID: req.ID, Payments: req.Payments})

	log.Info().Str("sale_id", req.ID).Int("entries", len(req.Payments)).Msg("Sale created")
	c.JSON(http.StatusCreated, gin.H{"id": req.ID})
}

// HealthCheck handles health check requests
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:      "healthy",
		InstanceID:  h.svc.instanceID,
		Timestamp:   time.Now(),
		FailureRate: h.svc.failureRate,
		Sales:       h.svc.count(),
	})
}

// UpdateConfig allows changing failure simulation at runtime
func (h *Handler) UpdateConfig(c *gin.Context) {
	var config struct {
		FailureRate *float64 `json:"failure_rate"`
	}

	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	if config.FailureRate != nil {
		if *config.FailureRate >= 0 && *config.FailureRate <= 1.0 {
			h.svc.failureRate = *config.FailureRate
			log.Info().Float64("rate", *config.FailureRate).Msg("Updated failure rate")
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "Configuration updated",
		"failure_rate": h.svc.failureRate,
	})
}

// SetupRouter configures all routes
func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.Default()

	// Add request logging middleware
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Msg("Request processed")
	})

	// API routes
	v1 := router.Group("/api/v1")
	{
		v1.POST("/sales", handler.CreateSale)
		v1.GET("/sales/:sale_id", handler.GetSale)
		v1.PUT("/sales/:sale_id/payments", handler.UpdatePayments)
		v1.GET("/health", handler.HealthCheck)
		v1.PUT("/config", handler.UpdateConfig)
	}

	// Root health check
	router.GET("/health", handler.HealthCheck)

	return router
}

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Get configuration from environment
	port := getEnv("PORT", "8081")
	failureRate := getEnvFloat("FAILURE_RATE", 0)
	minDelay := getEnvDuration("MIN_DELAY", 10*time.Millisecond)
	maxDelay := getEnvDuration("MAX_DELAY", 100*time.Millisecond)

	log.Info().
		Str("port", port).
		Float64("failure_rate", failureRate).
		Dur("min_delay", minDelay).
		Dur("max_delay", maxDelay).
		Msg("Starting Mock Sales Service")

	svc := NewMockSaleService(failureRate, minDelay, maxDelay)
	handler := NewHandler(svc)
	router := SetupRouter(handler)

	// Setup HTTP server
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
