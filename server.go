package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/openshelf/library_backend/config"
	"github.com/openshelf/library_backend/middlewares"
	"github.com/openshelf/library_backend/models"
	"github.com/openshelf/library_backend/utils"
	"github.com/openshelf/library_backend/workflow"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const defaultPort = "8080"

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

// statusForError maps circulation sentinels to HTTP statuses. Conflicts are
// 409, policy denials 422, unknown resources 404.
func statusForError(err error) int {
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrAlreadyBorrowed),
		errors.Is(err, models.ErrAlreadyResolved),
		errors.Is(err, models.ErrDuplicateReservation),
		errors.Is(err, models.ErrNotActive),
		errors.Is(err, models.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, models.ErrRenewalDenied), errors.Is(err, models.ErrReservationNotAllowed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrStaffRequired):
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(statusForError(err), gin.H{"error": err.Error()})
}

// requireUser pulls the session user id from the request context.
func requireUser(c *gin.Context) (int, bool) {
	userId, ok := utils.GetUserIdFromContext(c.Request.Context())
	if !ok || userId <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return 0, false
	}
	return userId, true
}

func requireStaff(c *gin.Context) (int, bool) {
	userId, ok := requireUser(c)
	if !ok {
		return 0, false
	}
	if !utils.GetIsStaffFromContext(c.Request.Context()) {
		c.JSON(http.StatusForbidden, gin.H{"error": models.ErrStaffRequired.Error()})
		return 0, false
	}
	return userId, true
}

func pathId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

type borrowRequestInput struct {
	BookId int `json:"book_id" binding:"required,gt=0"`
}

type loanRequestInput struct {
	LoanId int `json:"loan_id" binding:"required,gt=0"`
}

func submitBorrowHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := requireUser(c); !ok {
			return
		}
		var input borrowRequestInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		entry, err := models.SubmitBorrowRequest(c.Request.Context(), input.BookId)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, entry)
	}
}

func submitLoanRequestHandler(submit func(ctx context.Context, loanId int) (*models.RequestMailboxEntry, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := requireUser(c); !ok {
			return
		}
		var input loanRequestInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		entry, err := submit(c.Request.Context(), input.LoanId)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, entry)
	}
}

func listRequestsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, ok := requireUser(c)
		if !ok {
			return
		}
		var filter models.MailboxFilter
		if err := c.ShouldBindQuery(&filter); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filter"})
			return
		}
		// Non-staff callers only see their own requests.
		if !utils.GetIsStaffFromContext(c.Request.Context()) {
			filter.RequesterId = userId
		}
		entries, err := models.ListMailbox(c.Request.Context(), filter)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}

func approveRequestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		staffId, ok := requireStaff(c)
		if !ok {
			return
		}
		entryId, ok := pathId(c)
		if !ok {
			return
		}
		entry, err := workflow.Approve(c.Request.Context(), entryId, staffId)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, entry)
	}
}

type rejectRequestInput struct {
	Reason string `json:"reason"`
}

func rejectRequestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		staffId, ok := requireStaff(c)
		if !ok {
			return
		}
		entryId, ok := pathId(c)
		if !ok {
			return
		}
		// The reason body is optional; an empty reason gets a default downstream.
		var input rejectRequestInput
		_ = c.ShouldBindJSON(&input)
		entry, err := workflow.Reject(c.Request.Context(), entryId, staffId, input.Reason)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, entry)
	}
}

func reserveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, ok := requireUser(c)
		if !ok {
			return
		}
		var input borrowRequestInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		reservation, err := models.Reserve(c.Request.Context(), input.BookId, userId)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, reservation)
	}
}

func cancelReservationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, ok := requireUser(c)
		if !ok {
			return
		}
		reservationId, ok := pathId(c)
		if !ok {
			return
		}
		reservation, err := models.CancelReservation(c.Request.Context(), reservationId, userId)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, reservation)
	}
}

func listReservationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, ok := requireUser(c)
		if !ok {
			return
		}
		// Staff may inspect another user's reservations.
		if raw := c.Query("user_id"); raw != "" && utils.GetIsStaffFromContext(c.Request.Context()) {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				userId = parsed
			}
		}
		reservations, err := models.ListReservations(c.Request.Context(), userId)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, reservations)
	}
}

func bookQueueHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := requireStaff(c); !ok {
			return
		}
		bookId, ok := pathId(c)
		if !ok {
			return
		}
		queue, err := models.ListQueueForBook(c.Request.Context(), bookId)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, queue)
	}
}

func listLoansHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, ok := requireUser(c)
		if !ok {
			return
		}
		if raw := c.Query("user_id"); raw != "" && utils.GetIsStaffFromContext(c.Request.Context()) {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				userId = parsed
			}
		}
		loans, err := models.ListActiveLoansForUser(c.Request.Context(), userId)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, loans)
	}
}

func listOverdueHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := requireStaff(c); !ok {
			return
		}
		overdue, err := models.ListOverdue(c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, overdue)
	}
}

func loanFineHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := requireUser(c); !ok {
			return
		}
		loanId, ok := pathId(c)
		if !ok {
			return
		}
		fine, err := models.ComputeFineForLoan(c.Request.Context(), loanId)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"loan_id": loanId, "fine": fine})
	}
}

func loanFinePaidHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := requireStaff(c); !ok {
			return
		}
		loanId, ok := pathId(c)
		if !ok {
			return
		}
		if err := models.MarkLoanFinePaid(c.Request.Context(), loanId); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"loan_id": loanId, "fine_paid": true})
	}
}

func listHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, ok := requireUser(c)
		if !ok {
			return
		}
		if raw := c.Query("user_id"); raw != "" && utils.GetIsStaffFromContext(c.Request.Context()) {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				userId = parsed
			}
		}
		entries, err := models.ListHistoryForUser(c.Request.Context(), userId)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}

func historyFineHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := requireUser(c); !ok {
			return
		}
		historyId, ok := pathId(c)
		if !ok {
			return
		}
		fine, err := models.ComputeFineForHistory(c.Request.Context(), historyId)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"history_id": historyId, "fine": fine})
	}
}

func historyFinePaidHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := requireStaff(c); !ok {
			return
		}
		historyId, ok := pathId(c)
		if !ok {
			return
		}
		if err := models.MarkHistoryFinePaid(c.Request.Context(), historyId); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"history_id": historyId, "fine_paid": true})
	}
}

func listBooksHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		books, err := models.ListBooks(c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, books)
	}
}

func getBookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		bookId, ok := pathId(c)
		if !ok {
			return
		}
		book, err := models.GetBook(c.Request.Context(), bookId)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, book)
	}
}

func createBookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := requireStaff(c); !ok {
			return
		}
		var input models.NewBook
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		book, err := models.CreateBook(c.Request.Context(), &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, book)
	}
}

func createUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewUser
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		user, err := models.CreateUser(c.Request.Context(), &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, user)
	}
}

func getUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := requireUser(c); !ok {
			return
		}
		userId, ok := pathId(c)
		if !ok {
			return
		}
		user, err := models.GetUser(c.Request.Context(), userId)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

func listNotificationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, ok := requireUser(c)
		if !ok {
			return
		}
		notifications, err := models.ListNotifications(c.Request.Context(), userId)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, notifications)
	}
}

// Ops tooling: trigger a reconciliation sweep on demand and return the
// repairs it recorded.
func adminReconcileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := requireStaff(c); !ok {
			return
		}
		cid, err := workflow.RunReconciliation(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		reports, err := models.ListReconciliationReports(c.Request.Context(), cid)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"correlation_id": cid,
			"repairs":        len(reports),
			"reports":        reports,
		})
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func registerRoutes(r *gin.Engine) {
	api := r.Group("/api")

	api.POST("/requests/borrow", submitBorrowHandler())
	api.POST("/requests/return", submitLoanRequestHandler(models.SubmitReturnRequest))
	api.POST("/requests/renew", submitLoanRequestHandler(models.SubmitRenewRequest))
	api.GET("/requests", listRequestsHandler())
	api.POST("/requests/:id/approve", approveRequestHandler())
	api.POST("/requests/:id/reject", rejectRequestHandler())

	api.POST("/reservations", reserveHandler())
	api.DELETE("/reservations/:id", cancelReservationHandler())
	api.GET("/reservations", listReservationsHandler())

	api.GET("/loans", listLoansHandler())
	api.GET("/loans/overdue", listOverdueHandler())
	api.GET("/loans/:id/fine", loanFineHandler())
	api.POST("/loans/:id/fine/paid", loanFinePaidHandler())

	api.GET("/history", listHistoryHandler())
	api.GET("/history/:id/fine", historyFineHandler())
	api.POST("/history/:id/fine/paid", historyFinePaidHandler())

	api.GET("/books", listBooksHandler())
	api.GET("/books/:id", getBookHandler())
	api.GET("/books/:id/queue", bookQueueHandler())
	api.POST("/books", createBookHandler())

	api.POST("/users", createUserHandler())
	api.GET("/users/:id", getUserHandler())

	api.GET("/notifications", listNotificationsHandler())

	api.POST("/admin/reconcile", adminReconcileHandler())
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so the platform considers the revision
	// healthy. Until DB/Redis are ready, app endpoints return 503.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow the startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate app endpoints on dependency readiness.
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("x-user-id", "x-correlation-id", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
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
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(middlewares.SessionMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())
	registerRoutes(r)
	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow disabling migrations
	// on startup and running them as a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Background reconciler (leader-locked, idempotent repairs).
	reconcilerCtx, cancelReconciler := context.WithCancel(context.Background())
	defer cancelReconciler()
	go workflow.StartReconciler(reconcilerCtx)

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port, "/")
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop the reconciler first so it doesn't start new sweeps while we drain.
	cancelReconciler()

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	// Get the IP address or user identifier from the request.
	key := c.ClientIP() // Assuming IP-based rate limiting

	// Check if the key exists in Redis.
	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the key doesn't exist, create it and set expiry.
	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	// If the key exists, get the current count.
	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the count exceeds the limit, return an error response.
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
