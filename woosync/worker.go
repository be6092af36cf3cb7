package woosync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
	"github.com/tourdesk/backoffice/config"
	"github.com/tourdesk/backoffice/events"
	"github.com/tourdesk/backoffice/models"
	"github.com/tourdesk/backoffice/notify"
	"github.com/tourdesk/backoffice/reconcile"
	"github.com/tourdesk/backoffice/utils"
	"github.com/tourdesk/backoffice/woocommerce"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// RateLimitHint is the operator-facing message for a site aborted by WooCommerce throttling.
const RateLimitHint = "rate limited by WooCommerce; run the sync again later"

var tracer = otel.Tracer("github.com/tourdesk/backoffice/woosync")

// ClientFactory builds the storefront client for one site.
type ClientFactory func(site models.WooCommerceCredential, settings config.SyncSettings) (woocommerce.OrderFetcher, error)

func NewWooClient(site models.WooCommerceCredential, settings config.SyncSettings) (woocommerce.OrderFetcher, error) {
	client, err := woocommerce.NewClient(site.ApiUrl, site.ConsumerKey, site.ConsumerSecret,
		woocommerce.WithTimeout(settings.HTTPTimeout),
		woocommerce.WithRequestDelay(settings.RequestDelay),
	)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Syncer pulls WooCommerce orders into the orders table.
type Syncer struct {
	DB        *gorm.DB
	Logger    *logrus.Logger
	Settings  config.SyncSettings
	NewClient ClientFactory
	Events    events.Publisher
	Notifier  notify.Notifier
	// Locker is optional; without it sites are synced unlocked.
	Locker *redislock.Client
	// Publish hands a queued run to the Pub/Sub worker. Nil processes runs in-process.
	Publish func(ctx context.Context, runID uint) error

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewSyncer wires a Syncer to the process-wide database, redis and logger.
func NewSyncer(publisher events.Publisher, notifier notify.Notifier) *Syncer {
	return &Syncer{
		DB:        config.GetDB(),
		Logger:    config.GetLogger(),
		Settings:  config.LoadSyncSettings(),
		NewClient: NewWooClient,
		Events:    publisher,
		Notifier:  notifier,
		Locker:    config.GetRedisLock(),
		Publish:   PublishSyncRun,
	}
}

func (s *Syncer) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func (s *Syncer) wait(ctx context.Context, d time.Duration) error {
	if s.sleep != nil {
		return s.sleep(ctx, d)
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Syncer) logger() *logrus.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return config.GetLogger()
}

// Enqueue hands the run to the worker topic. When publishing fails the run is processed in the background.
func (s *Syncer) Enqueue(ctx context.Context, runID uint) {
	if s.Publish != nil {
		err := s.Publish(ctx, runID)
		if err == nil {
			return
		}
		config.LogError(s.logger(), "woosync", "Enqueue", "publish sync run", runID, err)
	}
	bg := context.WithoutCancel(ctx)
	go func() {
		if err := s.ProcessSyncRun(bg, runID); err != nil {
			config.LogError(s.logger(), "woosync", "Enqueue", "process inline", runID, err)
		}
	}()
}

// ProcessSyncRun executes a queued run. Finished runs are left alone so redelivered messages are harmless.
func (s *Syncer) ProcessSyncRun(ctx context.Context, runID uint) error {
	ctx, span := tracer.Start(ctx, "woosync.ProcessSyncRun",
		trace.WithAttributes(attribute.Int64("sync.run_id", int64(runID))))
	defer span.End()

	db := s.DB.WithContext(ctx)
	var run models.SyncRun
	if err := db.Take(&run, runID).Error; err != nil {
		return err
	}
	if run.IsFinished() {
		return nil
	}

	startedAt := s.clock()
	if err := db.Model(&run).Updates(map[string]interface{}{
		"status":     models.SyncRunStatusRunning,
		"started_at": startedAt,
	}).Error; err != nil {
		return err
	}

	log := s.logger().WithFields(logrus.Fields{
		"run_id":       run.ID,
		"site_name":    run.SiteName,
		"triggered_by": run.TriggeredBy,
	})
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		log = log.WithField("correlation_id", cid)
	}
	log.Info("woo sync run started")

	sites, err := s.loadSites(ctx, run)
	if err != nil {
		if !errors.Is(err, utils.ErrorRecordNotFound) {
			return err
		}
		s.recordError(ctx, run.ID, run.SiteName, "site", run.SiteName, models.SyncErrorSiteNotFound, err.Error(), nil, false)
	}
	margins, err := reconcile.LoadMarginTable(ctx, s.DB)
	if err != nil {
		return err
	}

	stats := make(RunStats, len(sites))
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.Settings.SiteConcurrency)
	for _, site := range sites {
		site := site
		g.Go(func() error {
			st, syncedThrough := s.syncSite(ctx, run, site, margins, startedAt)
			mu.Lock()
			stats[site.SiteName] = &st
			mu.Unlock()
			if syncedThrough != nil {
				if err := models.MarkCredentialSynced(s.DB.WithContext(ctx), site.SiteName, *syncedThrough); err != nil {
					config.LogError(s.logger(), "woosync", "ProcessSyncRun", "mark site synced", site.SiteName, err)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	return s.finishRun(ctx, &run, startedAt, stats, log)
}

func (s *Syncer) loadSites(ctx context.Context, run models.SyncRun) ([]models.WooCommerceCredential, error) {
	db := s.DB.WithContext(ctx)
	if run.SiteName == "" {
		var sites []models.WooCommerceCredential
		err := db.Where("is_active = ?", true).Order("site_name").Find(&sites).Error
		return sites, err
	}
	var site models.WooCommerceCredential
	if err := db.Where("site_name = ?", run.SiteName).First(&site).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("site %q: %w", run.SiteName, utils.ErrorRecordNotFound)
		}
		return nil, err
	}
	if !site.Active() {
		return nil, fmt.Errorf("site %q is inactive: %w", run.SiteName, utils.ErrorRecordNotFound)
	}
	return []models.WooCommerceCredential{site}, nil
}

func (s *Syncer) finishRun(ctx context.Context, run *models.SyncRun, startedAt time.Time, stats RunStats, log *logrus.Entry) error {
	db := s.DB.WithContext(ctx)

	var errorCount int64
	if err := db.Model(&models.SyncError{}).Where("sync_run_id = ?", run.ID).Count(&errorCount).Error; err != nil {
		return err
	}
	synced := 0
	for _, st := range stats {
		synced += st.Synced()
	}
	status := models.SyncRunStatusSuccess
	if errorCount > 0 && synced == 0 {
		status = models.SyncRunStatusFailed
	} else if errorCount > 0 {
		status = models.SyncRunStatusPartial
	}

	finishedAt := s.clock()
	statsJSON, _ := json.Marshal(stats)
	run.Status = status
	run.StartedAt = &startedAt
	run.FinishedAt = &finishedAt
	run.DurationMs = finishedAt.Sub(startedAt).Milliseconds()
	run.RecordsSynced = synced
	run.ErrorCount = int(errorCount)
	run.StatsJSON = statsJSON
	if err := db.Model(&models.SyncRun{}).Where("id = ?", run.ID).Updates(map[string]interface{}{
		"status":         run.Status,
		"finished_at":    finishedAt,
		"duration_ms":    run.DurationMs,
		"records_synced": run.RecordsSynced,
		"error_count":    run.ErrorCount,
		"stats_json":     run.StatsJSON,
	}).Error; err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"status":         status,
		"records_synced": synced,
		"error_count":    errorCount,
		"duration_ms":    run.DurationMs,
	}).Info("woo sync run finished")

	if s.Notifier != nil {
		if err := s.Notifier.SyncRunFinished(ctx, *run); err != nil {
			config.LogError(s.logger(), "woosync", "finishRun", "notify", run.ID, err)
		}
	}
	return nil
}

// syncSite pages through one storefront. syncedThrough is the new watermark, nil when the site was aborted.
func (s *Syncer) syncSite(ctx context.Context, run models.SyncRun, site models.WooCommerceCredential, margins reconcile.MarginTable, startedAt time.Time) (st SiteStats, syncedThrough *time.Time) {
	ctx = utils.SetSiteNameInContext(ctx, site.SiteName)
	ctx, span := tracer.Start(ctx, "woosync.syncSite", trace.WithAttributes(attribute.String("woo.site", site.SiteName)))
	defer span.End()

	abort := func(code, message string, retryable bool) {
		st.Aborted = true
		st.AbortReason = message
		s.recordError(ctx, run.ID, site.SiteName, "site", site.SiteName, code, message, nil, retryable)
	}

	if s.Locker != nil {
		lock, err := s.Locker.Obtain(ctx, "lock:woo-sync:"+site.SiteName, s.Settings.LockTTL, nil)
		switch {
		case errors.Is(err, redislock.ErrNotObtained):
			abort(models.SyncErrorSiteBusy, "another sync is already running for this site", true)
			return st, nil
		case err != nil:
			config.LogError(s.logger(), "woosync", "syncSite", "obtain lock", site.SiteName, err)
		default:
			defer func() { _ = lock.Release(context.WithoutCancel(ctx)) }()
		}
	}

	client, err := s.NewClient(site, s.Settings)
	if err != nil {
		abort(models.SyncErrorFetchFailed, err.Error(), false)
		return st, nil
	}

	after := s.syncAfter(run, site)
	var watermark, hold *time.Time
	capped := false

pages:
	for page := 1; page <= s.Settings.MaxPages; page++ {
		params := woocommerce.ListOrdersParams{
			Page:    page,
			PerPage: s.Settings.PerPage,
			After:   after.UTC().Format(time.RFC3339),
		}
		var (
			orders []woocommerce.Order
			info   woocommerce.PageInfo
		)
		err := s.retryRateLimited(ctx, site.SiteName, func() error {
			var err error
			orders, info, err = client.ListOrders(ctx, params)
			return err
		})
		if err != nil {
			if woocommerce.IsRateLimited(err) {
				abort(models.SyncErrorRateLimited, RateLimitHint, true)
			} else {
				abort(models.SyncErrorFetchFailed, fmt.Sprintf("page %d: %v", page, err), true)
			}
			return st, nil
		}

		for _, wo := range orders {
			if st.Fetched >= s.Settings.MaxOrders {
				capped = true
				break pages
			}
			st.Fetched++
			at, failed := s.applyOrder(ctx, run.ID, site, wo, margins, &st)
			switch {
			case failed:
				h := after
				if at != nil {
					h = at.Add(-time.Second)
				}
				if hold == nil || h.Before(*hold) {
					hold = &h
				}
			case at != nil:
				if watermark == nil || at.After(*watermark) {
					watermark = at
				}
			}
		}

		if len(orders) < params.PerPage || (info.TotalPages > 0 && page >= info.TotalPages) {
			break
		}
		if page == s.Settings.MaxPages {
			capped = true
		}
	}

	syncedThrough = &startedAt
	if capped {
		// More orders remain upstream; resume after the newest one stored.
		syncedThrough = watermark
	}
	// A retryable upsert failure keeps the watermark before that order so the next run fetches it again.
	if hold != nil && syncedThrough != nil && syncedThrough.After(*hold) {
		syncedThrough = hold
	}
	return st, syncedThrough
}

func (s *Syncer) syncAfter(run models.SyncRun, site models.WooCommerceCredential) time.Time {
	if run.Since != nil {
		return *run.Since
	}
	if site.LastSyncedAt != nil {
		return *site.LastSyncedAt
	}
	return s.clock().Add(-s.Settings.Lookback)
}

// applyOrder builds and upserts one order, recording the failure on the run. It returns the order's purchase time,
// and failed is set when the upsert failed and the order must be fetched again.
func (s *Syncer) applyOrder(ctx context.Context, runID uint, site models.WooCommerceCredential, wo woocommerce.Order, margins reconcile.MarginTable, st *SiteStats) (purchasedAt *time.Time, failed bool) {
	order, err := reconcile.BuildOrder(site, wo, margins)
	if err != nil {
		st.Skipped++
		raw, _ := json.Marshal(wo)
		s.recordError(ctx, runID, site.SiteName, "order", wo.ExternalID(), models.SyncErrorInvalidOrder, err.Error(), raw, false)
		return nil, false
	}
	res, err := reconcile.UpsertOrder(ctx, s.DB, order)
	if err != nil {
		st.Failed++
		s.recordError(ctx, runID, site.SiteName, "order", wo.ExternalID(), models.SyncErrorUpsertFailed, err.Error(), nil, true)
		return order.PurchasedAt, true
	}
	st.count(res.Outcome)
	s.publishOutcome(ctx, res)
	return order.PurchasedAt, false
}

// retryRateLimited runs fn, and once more after the backoff if WooCommerce throttled it.
func (s *Syncer) retryRateLimited(ctx context.Context, siteName string, fn func() error) error {
	err := fn()
	if !woocommerce.IsRateLimited(err) {
		return err
	}
	s.logger().WithFields(logrus.Fields{
		"site_name": siteName,
		"backoff":   s.Settings.RateLimitBackoff.String(),
	}).Warn("rate limited by WooCommerce, backing off")
	if werr := s.wait(ctx, s.Settings.RateLimitBackoff); werr != nil {
		return werr
	}
	return fn()
}

func (s *Syncer) publishOutcome(ctx context.Context, res reconcile.UpsertResult) {
	if s.Events == nil {
		return
	}
	var eventType string
	switch res.Outcome {
	case reconcile.OutcomeCreated:
		eventType = events.TypeOrderCreated
	case reconcile.OutcomeUpdated:
		eventType = events.TypeOrderUpdated
	default:
		return
	}
	if err := s.Events.Publish(ctx, events.NewOrderEvent(eventType, res.Order)); err != nil {
		config.LogError(s.logger(), "woosync", "publishOutcome", eventType, res.Order.OrderId, err)
	}
}

func (s *Syncer) recordError(ctx context.Context, runID uint, siteName, entityType, externalID, code, message string, payload []byte, retryable bool) {
	rec := models.SyncError{
		SyncRunId:   runID,
		SiteName:    siteName,
		EntityType:  entityType,
		ExternalId:  externalID,
		ErrorCode:   code,
		Message:     message,
		PayloadJSON: payload,
		Retryable:   retryable,
	}
	if err := s.DB.WithContext(ctx).Create(&rec).Error; err != nil {
		config.LogError(s.logger(), "woosync", "recordError", code, rec, err)
	}
}
