package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mercavio/retail_backend/config"
	"bitbucket.org/mercavio/retail_backend/middlewares"
	"bitbucket.org/mercavio/retail_backend/models"
	"bitbucket.org/mercavio/retail_backend/utils"
	"bitbucket.org/mercavio/retail_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server before the DB is up; app endpoints return 503
	// until dependencies are ready.
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = utils.SplitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(config.GetRedisDB(), limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(middlewares.AuthMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	api := r.Group("/api")
	{
		api.POST("/sessions/open", openSessionHandler)
		api.POST("/sessions/close", closeSessionHandler)
		api.GET("/sessions/state", sessionStateHandler)
		api.GET("/sessions/:id/movements", sessionMovementsHandler)
		api.POST("/cash-movements", cashMovementHandler)

		api.GET("/payment-methods", listPaymentMethodsHandler)
		api.GET("/units/:id", getUnitHandler)

		api.GET("/stock/:unitId", stockItemHandler)
		api.GET("/stock/:unitId/movements", unitMovementsHandler)
		api.POST("/stock/adjustments", stockAdjustmentHandler)
		api.GET("/availability", availabilityHandler)

		api.POST("/sales", createSaleHandler)
		api.GET("/sales/:id", getSaleHandler)
		api.POST("/sales/:id/void", voidSaleHandler)

		api.POST("/purchase-receipts", createPurchaseReceiptHandler)
		api.GET("/purchase-receipts/:id", getPurchaseReceiptHandler)
		api.POST("/purchase-receipts/:id/void", voidPurchaseReceiptHandler)

		api.POST("/returns", createReturnHandler)
		api.GET("/returns/:id", getReturnHandler)
		api.POST("/returns/:id/void", voidReturnHandler)

		api.POST("/orders", createOrderHandler)
		api.GET("/orders/:id", getOrderHandler)
		api.PUT("/orders/:id/lines", updateOrderLinesHandler)
		api.POST("/orders/:id/state", changeOrderStateHandler)
		api.POST("/orders/:id/payments", addOrderPaymentHandler)
		api.POST("/orders/:id/refunds", addOrderRefundHandler)
	}
	r.POST("/internal/ops/reconcile", reconcileHandler)
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	go func() {
		logger.WithFields(logrus.Fields{"field": "http", "port": port}).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Panic(err.Error())
		}
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()
	logger.WithFields(logrus.Fields{"field": "startup"}).Info("dependencies ready")

	<-sigCtx.Done()
	logger.WithFields(logrus.Fields{"field": "http"}).Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

/* error mapping */

// respondError translates the layered error surface to HTTP: business
// conflicts are 409 with the structured payload, missing records 404,
// everything else 422 (the transaction rolled back; the request was
// understood but refused).
func respondError(c *gin.Context, err error) {
	if conflict, ok := utils.AsConflict(err); ok {
		c.JSON(http.StatusConflict, gin.H{"error": conflict.Error(), "conflict": conflict})
		return
	}
	if errors.Is(err, utils.ErrorRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
		return
	}
	if errors.Is(err, workflow.ErrReconciliationInFlight) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
}

func pathId(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

/* register sessions */

func openSessionHandler(c *gin.Context) {
	var input models.NewRegisterSession
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	session, err := models.OpenRegisterSession(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func closeSessionHandler(c *gin.Context) {
	var input models.CloseRegisterSessionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	session, err := models.CloseRegisterSession(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func sessionStateHandler(c *gin.Context) {
	state, err := models.SessionState(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func sessionMovementsHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	movements, err := models.SessionMovements(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, movements)
}

func cashMovementHandler(c *gin.Context) {
	var input models.NewCashMovement
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	movement, err := models.RecordCashMovement(c.Request.Context(), nil, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, movement)
}

/* catalog */

func listPaymentMethodsHandler(c *gin.Context) {
	methods, err := models.ListPaymentMethods(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, methods)
}

func getUnitHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	unit, err := models.GetUnit(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, unit)
}

/* stock */

func stockItemHandler(c *gin.Context) {
	unitId, ok := pathId(c, "unitId")
	if !ok {
		return
	}
	item, err := models.GetStockItem(c.Request.Context(), unitId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func unitMovementsHandler(c *gin.Context) {
	unitId, ok := pathId(c, "unitId")
	if !ok {
		return
	}
	movements, err := models.UnitMovements(c.Request.Context(), unitId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, movements)
}

func stockAdjustmentHandler(c *gin.Context) {
	var input workflow.StockAdjustmentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	movement, err := workflow.AdjustStock(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, movement)
}

func availabilityHandler(c *gin.Context) {
	raw := utils.SplitAndTrim(c.Query("unit_ids"))
	if len(raw) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unit_ids is required"})
		return
	}
	unitIds := make([]int, 0, len(raw))
	for _, s := range raw {
		id, err := strconv.Atoi(s)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid unit id: " + s})
			return
		}
		unitIds = append(unitIds, id)
	}
	availability, err := models.AvailableQuantities(c.Request.Context(), unitIds)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, availability)
}

/* sales */

func createSaleHandler(c *gin.Context) {
	var input models.NewSale
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sale, err := workflow.CreateSale(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sale)
}

func getSaleHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	sale, err := models.GetSale(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sale)
}

type voidInput struct {
	Reason string `json:"reason"`
}

func voidSaleHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var input voidInput
	_ = c.ShouldBindJSON(&input)
	sale, err := workflow.VoidSale(c.Request.Context(), id, input.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sale)
}

/* purchase receipts */

func createPurchaseReceiptHandler(c *gin.Context) {
	var input models.NewPurchaseReceipt
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	receipt, err := workflow.CreatePurchaseReceipt(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, receipt)
}

func getPurchaseReceiptHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	receipt, err := models.GetPurchaseReceipt(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func voidPurchaseReceiptHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var input voidInput
	_ = c.ShouldBindJSON(&input)
	receipt, err := workflow.VoidPurchaseReceipt(c.Request.Context(), id, input.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

/* returns */

func createReturnHandler(c *gin.Context) {
	var input models.NewReturn
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ret, err := workflow.CreateReturn(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ret)
}

func getReturnHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	ret, err := models.GetReturn(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ret)
}

func voidReturnHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var input voidInput
	_ = c.ShouldBindJSON(&input)
	ret, err := workflow.VoidReturn(c.Request.Context(), id, input.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ret)
}

/* orders */

func createOrderHandler(c *gin.Context) {
	var input models.NewCustomerOrder
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	order, err := models.CreateCustomerOrder(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func getOrderHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	order, err := models.GetCustomerOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	netPaid, err := models.OrderNetPaid(c.Request.Context(), order.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order, "net_paid": netPaid})
}

func updateOrderLinesHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var input models.NewCustomerOrder
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	order, err := models.UpdateCustomerOrderLines(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type orderStateInput struct {
	State models.OrderState `json:"state" binding:"required"`
}

func changeOrderStateHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var input orderStateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	order, err := workflow.ChangeOrderState(c.Request.Context(), id, input.State)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func addOrderPaymentHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var input workflow.OrderPaymentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	payment, err := workflow.AddOrderPayment(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, payment)
}

func addOrderRefundHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var input workflow.OrderRefundInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	refund, err := workflow.AddOrderRefund(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, refund)
}

/* ops */

func reconcileHandler(c *gin.Context) {
	mismatches, err := workflow.RunReconciliationChecks(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mismatches": mismatches})
}

/* infra middleware */

func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// RateLimitMiddleware throttles by client IP with a fixed redis window.
// Disabled transparently when redis is not configured.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	if rl.client == nil {
		c.Next()
		return
	}
	key := "ratelimit:" + c.ClientIP()

	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	if exists == 0 {
		if err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err(); err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": "rate limit exceeded",
		})
		return
	}
	c.Next()
}
