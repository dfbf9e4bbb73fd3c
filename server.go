package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/dressforpleasure/stylereview_backend/config"
	"bitbucket.org/dressforpleasure/stylereview_backend/middlewares"
	"bitbucket.org/dressforpleasure/stylereview_backend/models"
	"bitbucket.org/dressforpleasure/stylereview_backend/models/reports"
	"bitbucket.org/dressforpleasure/stylereview_backend/utils"
	"bitbucket.org/dressforpleasure/stylereview_backend/workflow"
	"github.com/bsm/redislock"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

// engine is set once dependencies are ready; the readiness gate returns 503
// until then.
var engine *workflow.Engine

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

type PubSubMessage struct {
	Message struct {
		Data []byte `json:"data,omitempty"`
		ID   string `json:"id"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// intakeMessage is the payload the style pipeline pushes when a generation
// job finishes. One message may carry several outputs.
type intakeMessage struct {
	RequestId     string                `json:"request_id"`
	CorrelationId string                `json:"correlation_id"`
	SubmitterId   string                `json:"submitter_id"`
	Items         []workflow.BatchItem  `json:"items"`
	Settings      models.ReviewSettings `json:"settings"`
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

// errorStatus maps workflow errors onto HTTP codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		return http.StatusNotFound
	case utils.IsInvalidStateError(err):
		return http.StatusConflict
	case utils.IsValidationError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(errorStatus(err), gin.H{"error": err.Error()})
}

func intakePubSubHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var msg PubSubMessage
		logger := config.GetLogger()

		// Redis lock is a best-effort optimization.
		// Correctness does not depend on it: per-review mutual exclusion is
		// handled inside the workflow store.
		redisLock := config.GetRedisLock()

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "server.go", "intakePubSubHandler", "io.ReadAll", nil, err)
			// Malformed request body: ack/drop to avoid infinite retries.
			c.Status(http.StatusNoContent)
			return
		}

		// byte slice unmarshalling handles base64 decoding.
		if err := json.Unmarshal(body, &msg); err != nil {
			config.LogError(logger, "server.go", "intakePubSubHandler", "Unmarshal body", body, err)
			c.Status(http.StatusNoContent)
			return
		}

		var m intakeMessage
		if err := json.Unmarshal(msg.Message.Data, &m); err != nil {
			config.LogError(logger, "server.go", "intakePubSubHandler", "Unmarshal intake message", msg.Message.Data, err)
			c.Status(http.StatusNoContent)
			return
		}

		// Basic validation to avoid retry loops on poisoned messages.
		if m.SubmitterId == "" || len(m.Items) == 0 {
			config.LogError(logger, "server.go", "intakePubSubHandler", "Invalid intake message (missing required fields)", m, fmt.Errorf("submitter_id/items required"))
			c.Status(http.StatusNoContent)
			return
		}

		// Correlation ID propagation: prefer payload correlation_id; fall back to Pub/Sub message ID.
		correlationID := m.CorrelationId
		if correlationID == "" {
			correlationID = msg.Message.ID
		}

		var lock *redislock.Lock
		if redisLock != nil {
			lock, err = redisLock.Obtain(c.Request.Context(), "lock:intake:"+m.SubmitterId, 30*time.Second, nil)
			if err != nil {
				logger.WithFields(logrus.Fields{
					"field":        "intakePubSubHandler",
					"submitter_id": m.SubmitterId,
					"message_id":   msg.Message.ID,
				}).Warn("could not obtain redis lock; proceeding without redis lock")
				lock = nil
			}
		}
		defer func() {
			if lock == nil {
				return
			}
			if releaseErr := lock.Release(c.Request.Context()); releaseErr != nil {
				logger.WithFields(logrus.Fields{
					"field":        "intakePubSubHandler",
					"submitter_id": m.SubmitterId,
					"message_id":   msg.Message.ID,
				}).Warn("failed to release redis lock: " + releaseErr.Error())
			}
		}()

		ctx := utils.SetUserNameInContext(c.Request.Context(), "System")
		ctx = utils.SetCorrelationIdInContext(ctx, correlationID)

		requestId := m.RequestId
		if requestId == "" {
			requestId = msg.Message.ID
		}
		batch, err := submitBatchIdempotent(ctx, "pubsub_intake", requestId, &workflow.NewBatch{
			SubmitterId: m.SubmitterId,
			Items:       m.Items,
			Settings:    m.Settings,
		})
		if err != nil {
			if utils.IsValidationError(err) {
				// Poisoned message: ack/drop.
				config.LogError(logger, "server.go", "intakePubSubHandler", "invalid intake payload", m, err)
				c.Status(http.StatusNoContent)
				return
			}
			logger.WithFields(logrus.Fields{
				"field":          "intakePubSubHandler",
				"submitter_id":   m.SubmitterId,
				"message_id":     msg.Message.ID,
				"correlation_id": correlationID,
			}).Error("intake processing failed: " + err.Error())
			// Non-2xx tells Pub/Sub to retry (and potentially route to DLQ).
			c.Status(http.StatusInternalServerError)
			return
		}

		logger.WithFields(logrus.Fields{
			"field":          "intakePubSubHandler",
			"batch_id":       batch.ID,
			"correlation_id": correlationID,
		}).Info("intake batch processed")
		c.Status(http.StatusNoContent)
	}
}

// submitBatchIdempotent guards batch submission behind a durable idempotency
// key so Pub/Sub redeliveries and client retries reuse the first result.
func submitBatchIdempotent(ctx context.Context, handlerName, requestId string, input *workflow.NewBatch) (*models.BatchJob, error) {
	if requestId == "" {
		return engine.SubmitBatch(ctx, input)
	}

	db := config.GetDB()
	skip, resultRef, err := workflow.BeginIdempotency(db.WithContext(ctx), handlerName, requestId)
	if err != nil {
		return nil, err
	}
	if skip {
		return engine.GetBatch(ctx, resultRef)
	}

	batch, err := engine.SubmitBatch(ctx, input)
	if err != nil {
		_ = workflow.MarkIdempotencyFailed(db.WithContext(ctx), handlerName, requestId, err)
		return nil, err
	}
	if err := workflow.MarkIdempotencySucceeded(db.WithContext(ctx), handlerName, requestId, batch.ID); err != nil {
		return nil, err
	}
	return batch, nil
}

func loginHandler() gin.HandlerFunc {
	type loginRequest struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		info, err := models.Login(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

func logoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := models.Logout(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": ok})
	}
}

func requireSession(c *gin.Context) bool {
	if _, ok := utils.GetUsernameFromContext(c.Request.Context()); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return false
	}
	return true
}

func requireAdmin(c *gin.Context) bool {
	if !requireSession(c) {
		return false
	}
	if isAdmin, ok := utils.GetIsAdminFromContext(c.Request.Context()); !ok || !isAdmin {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return false
	}
	return true
}

func createReviewHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewReview
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		review, err := engine.CreateReview(c.Request.Context(), &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, review)
	}
}

func listReviewsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		limit, _ := strconv.Atoi(c.Query("limit"))
		filter := models.ReviewFilter{
			State:       models.ReviewState(c.Query("state")),
			Kind:        models.ReviewKind(c.Query("kind")),
			SubmitterId: c.Query("submitter_id"),
			BatchId:     c.Query("batch_id"),
			Limit:       limit,
		}
		reviews, err := engine.ListReviews(c.Request.Context(), filter)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, reviews)
	}
}

func getReviewHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		review, err := engine.GetReview(c.Request.Context(), c.Param("id"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, review)
	}
}

func listEventsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		events, err := engine.ListEvents(c.Request.Context(), c.Param("id"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, events)
	}
}

func comparisonHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		view, err := engine.BuildComparisonView(c.Request.Context(), c.Param("id"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

func approveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		var input workflow.ApproveInput
		if err := c.ShouldBindJSON(&input); err != nil && err != io.EOF {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		review, err := engine.Approve(c.Request.Context(), c.Param("id"), &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, review)
	}
}

func rejectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		var input workflow.RejectInput
		if err := c.ShouldBindJSON(&input); err != nil && err != io.EOF {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		review, err := engine.Reject(c.Request.Context(), c.Param("id"), &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, review)
	}
}

func requestRevisionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		var input workflow.RevisionInput
		if err := c.ShouldBindJSON(&input); err != nil && err != io.EOF {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		review, err := engine.RequestRevision(c.Request.Context(), c.Param("id"), &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, review)
	}
}

func resubmitHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input workflow.ResubmitInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		review, err := engine.Resubmit(c.Request.Context(), c.Param("id"), &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, review)
	}
}

func overrideHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireAdmin(c) {
			return
		}
		var input workflow.OverrideInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		review, err := engine.OverrideDecision(c.Request.Context(), c.Param("id"), &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, review)
	}
}

func archiveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		review, err := engine.Archive(c.Request.Context(), c.Param("id"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, review)
	}
}

func submitBatchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input workflow.NewBatch
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		batch, err := submitBatchIdempotent(c.Request.Context(), "batch_submit", c.GetHeader("x-request-id"), &input)
		if err != nil {
			if errors.Is(err, workflow.ErrIdempotencyInProgress) {
				c.JSON(http.StatusConflict, gin.H{"error": "request is already being processed"})
				return
			}
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, batch)
	}
}

func getBatchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		batch, err := engine.GetBatch(c.Request.Context(), c.Param("id"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, batch)
	}
}

func listNotificationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		limit, _ := strconv.Atoi(c.Query("limit"))
		notifications, err := engine.ListNotifications(c.Request.Context(), limit)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, notifications)
	}
}

func markNotificationReadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification id"})
			return
		}
		if err := engine.MarkNotificationRead(c.Request.Context(), id); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func statsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		stats, err := engine.Stats(c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

// Ops tooling (admin only): replay catalog publishes that went DEAD.
func publishReplayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireAdmin(c) {
			return
		}
		n, err := engine.Store().ReplayDeadPublishes(c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"replayed": n})
	}
}

func reportDateRange(c *gin.Context) (time.Time, time.Time, error) {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)
	if v := c.Query("from"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			return from, to, fmt.Errorf("invalid from date: %v", err)
		}
		from = parsed
	}
	if v := c.Query("to"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			return from, to, fmt.Errorf("invalid to date: %v", err)
		}
		to = parsed.AddDate(0, 0, 1)
	}
	return from, to, nil
}

func reviewSummaryReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireAdmin(c) {
			return
		}
		from, to, err := reportDateRange(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		records, err := reports.GetReviewSummaryReport(c.Request.Context(), from, to)
		if err != nil {
			abortWithError(c, err)
			return
		}
		if c.Query("format") != "xlsx" {
			c.JSON(http.StatusOK, records)
			return
		}
		exporters := make([]reports.ExcelExporter, 0, len(records))
		for _, r := range records {
			exporters = append(exporters, r)
		}
		if err := reports.WriteExcel(c.Writer, "reviewSummary.xlsx", exporters,
			"Day", "Kind", "Submitted", "Auto Approved", "Auto Rejected",
			"Manual Approved", "Manual Rejected", "Revisions Asked", "Avg Quality Score",
		); err != nil {
			abortWithError(c, err)
		}
	}
}

func reviewerActivityReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireAdmin(c) {
			return
		}
		from, to, err := reportDateRange(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		records, err := reports.GetReviewerActivityReport(c.Request.Context(), from, to)
		if err != nil {
			abortWithError(c, err)
			return
		}
		if c.Query("format") != "xlsx" {
			c.JSON(http.StatusOK, records)
			return
		}
		exporters := make([]reports.ExcelExporter, 0, len(records))
		for _, r := range records {
			exporters = append(exporters, r)
		}
		if err := reports.WriteExcel(c.Writer, "reviewerActivity.xlsx", exporters,
			"Reviewer Id", "Reviewer Name", "Approved", "Rejected", "Revisions Requested", "Overrides", "Total",
		); err != nil {
			abortWithError(c, err)
		}
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
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

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
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
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil || config.GetRedisDB() == nil || engine == nil {
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
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "x-request-id", "x-correlation-id")
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

	r.Use(middlewares.AuthMiddleware())
	r.Use(middlewares.SessionMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/auth/login", loginHandler())
	r.POST("/auth/logout", logoutHandler())

	r.POST("/reviews", createReviewHandler())
	r.GET("/reviews", listReviewsHandler())
	r.GET("/reviews/:id", getReviewHandler())
	r.GET("/reviews/:id/events", listEventsHandler())
	r.GET("/reviews/:id/comparison", comparisonHandler())
	r.POST("/reviews/:id/approve", approveHandler())
	r.POST("/reviews/:id/reject", rejectHandler())
	r.POST("/reviews/:id/request-revision", requestRevisionHandler())
	r.POST("/reviews/:id/resubmit", resubmitHandler())
	r.POST("/reviews/:id/override", overrideHandler())
	r.POST("/reviews/:id/archive", archiveHandler())

	r.POST("/uploads/sign", signUploadHandler())
	r.POST("/uploads/complete", completeUploadHandler())
	r.GET("/uploads/object", uploadObjectHandler())

	r.POST("/batches", submitBatchHandler())
	r.GET("/batches/:id", getBatchHandler())

	r.GET("/notifications", listNotificationsHandler())
	r.POST("/notifications/:id/read", markNotificationReadHandler())
	r.GET("/stats", statsHandler())

	// Pub/Sub push endpoint for the style generation pipeline.
	r.POST("/pubsub/intake", intakePubSubHandler())

	r.POST("/internal/ops/publish/replay", publishReplayHandler())
	r.GET("/internal/reports/review-summary", reviewSummaryReportHandler())
	r.GET("/internal/reports/reviewer-activity", reviewerActivityReportHandler())

	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
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
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	store := workflow.NewGormStore(db)
	engine = workflow.NewEngine(store, logger)

	// Start the catalog publish dispatcher (publishes AFTER commit).
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	go workflow.NewPublishDispatcher(store, workflow.NewCatalogPublisher(), logger).Run(dispatcherCtx)

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
	}).Info("review workflow API listening on http://localhost:", port, "/")
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

	// Stop background workers first so they don't start new work while we're draining.
	cancelDispatcher()

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
