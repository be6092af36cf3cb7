// woo-sync-service runs queued WooCommerce sync runs. As a service it hosts the
// Pub/Sub push endpoint; with --once it syncs every active site inline and
// exits, for a scheduled job.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tourdesk/backoffice/config"
	"github.com/tourdesk/backoffice/events"
	"github.com/tourdesk/backoffice/middlewares"
	"github.com/tourdesk/backoffice/models"
	"github.com/tourdesk/backoffice/notify"
	"github.com/tourdesk/backoffice/woosync"
)

const defaultPort = "8080"

// newRouter answers 503 on the push endpoint until a syncer is stored.
func newRouter(logger *logrus.Logger, syncer *atomic.Pointer[woosync.Syncer]) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.CorrelationId())
	r.Use(middlewares.RequestLogger(logger))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.POST("/pubsub/woo-sync", func(c *gin.Context) {
		s := syncer.Load()
		if s == nil {
			// Pub/Sub redelivers on 5xx.
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		woosync.PubSubPushHandler(s)(c)
	})
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	return r
}

func newSyncer(logger *logrus.Logger) *woosync.Syncer {
	publisher, err := events.NewPublisherFromEnv()
	if err != nil {
		logger.WithField("field", "events").Warn(err.Error() + "; order events disabled")
		publisher = events.Noop{}
	}
	s := woosync.NewSyncer(publisher, notify.NewSlackNotifierFromEnv())
	// this process is the worker; never hand runs back to the topic
	s.Publish = nil
	return s
}

func connect(logger *logrus.Logger) {
	config.ConnectDatabaseWithRetry()
	if os.Getenv("REDIS_ADDRESS") != "" {
		config.ConnectRedisWithRetry()
	} else {
		logger.WithField("field", "redis").Warn("REDIS_ADDRESS not set; sites are synced without a lock")
	}
	if !config.SkipMigrations() {
		models.MigrateTable()
	}
}

func runOnce(logger *logrus.Logger) int {
	connect(logger)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run, err := newSyncer(logger).RunScheduled(ctx)
	if err != nil {
		config.LogError(logger, "woo-sync-service", "runOnce", "scheduled sync", run.ID, err)
		return 1
	}
	logger.WithFields(logrus.Fields{
		"run_id":         run.ID,
		"status":         run.Status,
		"records_synced": run.RecordsSynced,
		"error_count":    run.ErrorCount,
	}).Info("scheduled woo sync finished")
	if run.Status == models.SyncRunStatusFailed {
		return 1
	}
	return 0
}

func main() {
	once := flag.Bool("once", false, "sync every active site once and exit")
	flag.Parse()

	logger := config.GetLogger()
	if config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	if *once {
		os.Exit(runOnce(logger))
	}

	port := os.Getenv("WOO_SYNC_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	var syncer atomic.Pointer[woosync.Syncer]
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: newRouter(logger, &syncer),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	connect(logger)
	syncer.Store(newSyncer(logger))
	logger.WithField("info", "Connection Established").Info(fmt.Sprintf("woo-sync-service listening on :%s", port))

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "server"}).Error(err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if sqlDB, err := config.GetDB().DB(); err == nil {
		_ = sqlDB.Close()
	}
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
	_ = config.CloseRabbitMQ()
	_ = config.ClosePubSub()
}
