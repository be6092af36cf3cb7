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
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/tourdesk/backoffice/admin"
	"github.com/tourdesk/backoffice/adspend"
	"github.com/tourdesk/backoffice/booking"
	"github.com/tourdesk/backoffice/config"
	"github.com/tourdesk/backoffice/events"
	"github.com/tourdesk/backoffice/inbox"
	"github.com/tourdesk/backoffice/mailer"
	"github.com/tourdesk/backoffice/middlewares"
	"github.com/tourdesk/backoffice/models"
	"github.com/tourdesk/backoffice/notify"
	"github.com/tourdesk/backoffice/orders"
	"github.com/tourdesk/backoffice/utils"
	"github.com/tourdesk/backoffice/woosync"
)

const defaultPort = "8080"

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

// services are the collaborators the routes need. Any of them may be nil when
// its credentials are not configured; the matching routes then answer 503.
type services struct {
	syncer   *woosync.Syncer
	bookings *booking.Service
	searcher inbox.Searcher
	limiter  *RateLimiter
	// pubsubPush mounts the woo-sync push endpoint on this service as well.
	pubsubPush bool
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func unavailable(what string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": what + " is not configured"})
	}
}

func corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	// Production requires an explicit allowlist; everything else allows all origins.
	if config.IsProduction() {
		cfg.AllowOrigins = utils.SplitAndTrim(os.Getenv("CORS_ALLOWED_ORIGINS"))
		if len(cfg.AllowOrigins) == 0 {
			// deny all when the allowlist is not configured
			cfg.AllowOriginFunc = func(string) bool { return false }
		}
	} else {
		cfg.AllowAllOrigins = true
	}
	cfg.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	cfg.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "Idempotency-Key", middlewares.HeaderCorrelationId)
	cfg.AddExposeHeaders("Content-Length", "Content-Disposition", middlewares.HeaderCorrelationId)
	cfg.AllowCredentials = !cfg.AllowAllOrigins
	return cfg
}

// newRouter mounts every route. It is separate from main so tests can serve it.
func newRouter(logger *logrus.Logger, svc services) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.CorrelationId())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.Use(cors.New(corsConfig()))
	if svc.limiter != nil {
		r.Use(svc.limiter.RateLimitMiddleware)
	}
	r.Use(middlewares.SessionMiddleware())
	r.Use(middlewares.LoaderMiddleware())
	r.Use(middlewares.RequestLogger(logger))
	r.Use(gin.Recovery())

	// Public surfaces: storefront webhooks, landing pages, login.
	r.POST("/auth/login", admin.LoginHandler())
	r.POST("/webhooks/ad-spend", adspend.WebhookHandler(adspend.WebhookSecret))
	if svc.syncer != nil {
		r.POST("/webhooks/woocommerce", woosync.WooCommerceWebhookHandler(svc.syncer))
		if svc.pubsubPush {
			r.POST("/pubsub/woo-sync", woosync.PubSubPushHandler(svc.syncer))
		}
	}
	if svc.bookings != nil {
		r.POST("/api/bookings", booking.BookingHandler(svc.bookings))
		r.GET("/api/tours/:slug", booking.TourHandler(svc.bookings))
	} else {
		r.POST("/api/bookings", unavailable("payments"))
		r.GET("/api/tours/:slug", unavailable("payments"))
	}

	staff := r.Group("/", middlewares.RequireAuth())
	staff.POST("/auth/logout", admin.LogoutHandler())
	staff.GET("/auth/me", admin.MeHandler())
	staff.GET("/api/orders", orders.ListOrdersHandler())
	staff.GET("/api/orders/:id", orders.GetOrderHandler())
	staff.GET("/api/orders/:id/outbox", mailer.ListOrderEmailsHandler())
	staff.GET("/api/orders/:id/emails", orders.CustomerEmailsHandler(svc.searcher))

	adm := r.Group("/api", middlewares.RequireAdmin())
	adm.GET("/orders/export.xlsx", orders.ExportHandler())
	adm.POST("/orders/dedupe", orders.DedupeHandler())
	adm.PUT("/orders/:id/tags", orders.UpdateTagsHandler())
	adm.POST("/orders/:id/recompute-profit", orders.RecomputeProfitHandler())
	adm.POST("/orders/:id/email", mailer.EnqueueOrderEmailHandler())
	adm.POST("/emails/:id/replay", mailer.ReplayEmailHandler())
	adm.POST("/attachments", mailer.UploadAttachmentHandler())
	adm.GET("/ad-spend", adspend.ListHandler())
	adm.GET("/credentials", admin.ListCredentialsHandler())
	adm.PUT("/credentials/:site", admin.UpsertCredentialHandler())
	adm.GET("/sync/sites", woosync.SitesHandler())
	adm.GET("/sync/runs", woosync.SyncHistoryHandler())
	adm.GET("/sync/runs/:id", woosync.SyncRunDetailHandler())
	if svc.syncer != nil {
		adm.POST("/sync", woosync.TriggerSyncHandler(svc.syncer))
		adm.POST("/sync/import", woosync.ImportOrdersHandler(svc.syncer))
		adm.POST("/sync/runs/:id/retry", woosync.RetrySyncRunHandler(svc.syncer))
	}

	r.NoRoute(customNotFoundHandler)
	return r
}

// bootRouter answers while the database and redis are still connecting.
func bootRouter() *gin.Engine {
	r := gin.New()
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "starting up"})
	})
	return r
}

// buildServices wires the optional integrations. Missing credentials are
// logged and leave the dependent routes answering 503.
func buildServices(ctx context.Context, logger *logrus.Logger) services {
	publisher, err := events.NewPublisherFromEnv()
	if err != nil {
		logger.WithField("field", "events").Warn(err.Error() + "; order events disabled")
		publisher = events.Noop{}
	}
	notifier := notify.NewSlackNotifierFromEnv()

	svc := services{
		syncer:     woosync.NewSyncer(publisher, notifier),
		pubsubPush: config.EnvBool("ENABLE_WOO_PUBSUB_PUSH_ENDPOINT", false),
	}

	if gateway, err := booking.NewStripeGatewayFromEnv(); err != nil {
		logger.WithField("field", "stripe").Warn(err.Error() + "; direct bookings disabled")
	} else {
		svc.bookings = booking.NewService(gateway, publisher, notifier)
	}

	if client, err := inbox.NewClientFromEnv(ctx); err != nil {
		logger.WithField("field", "gmail").Warn(err.Error() + "; mailbox lookup disabled")
	} else {
		svc.searcher = client
	}

	if config.EnvBool("RATE_LIMIT_ENABLED", false) && config.GetRedisDB() != nil {
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
		svc.limiter = NewRateLimiter(config.GetRedisDB(), limit, time.Duration(windowSec)*time.Second)
	}
	return svc
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()
	if config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready every app endpoint returns 503.
	var handler atomic.Pointer[gin.Engine]
	handler.Store(bootRouter())
	srv := &http.Server{
		Addr: ":" + port,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler.Load().ServeHTTP(w, r)
		}),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can hold table locks; large deployments run it as a separate job.
	if !config.SkipMigrations() {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	svc := buildServices(sigCtx, logger)

	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	if config.EnvBool("EMAIL_DISPATCHER_ENABLED", false) {
		sender, err := mailer.NewSendGridSenderFromEnv()
		if err != nil {
			logger.WithField("field", "mailer").Error(err.Error() + "; email dispatcher not started")
		} else {
			go mailer.NewDispatcher(db, logger, sender).Run(dispatcherCtx)
		}
	}

	handler.Store(newRouter(logger, svc))
	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on :", port)
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelDispatcher()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
	_ = config.CloseRabbitMQ()
	_ = config.ClosePubSub()
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// RateLimitMiddleware counts requests per client IP in fixed windows.
// Storefront webhooks are exempt; WooCommerce retries a rejected delivery for hours.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	if strings.HasPrefix(c.Request.URL.Path, "/webhooks/") || strings.HasPrefix(c.Request.URL.Path, "/pubsub/") {
		c.Next()
		return
	}
	key := "RateLimit:" + c.ClientIP()
	ctx := c.Request.Context()

	count, err := rl.client.Incr(ctx, key).Result()
	if err != nil {
		// fail open
		config.LogError(config.GetLogger(), "main", "RateLimitMiddleware", "incr", key, err)
		c.Next()
		return
	}
	if count == 1 {
		if err := rl.client.Expire(ctx, key, rl.window).Err(); err != nil {
			config.LogError(config.GetLogger(), "main", "RateLimitMiddleware", "expire", key, err)
		}
	}

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}
