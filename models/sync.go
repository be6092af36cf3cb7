package models

import (
	"context"
	"errors"
	"time"

	"github.com/tourdesk/backoffice/config"
	"github.com/tourdesk/backoffice/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	SyncRunStatusQueued  = "queued"
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusPartial = "partial"
)

const (
	SyncTriggeredManual = "manual"
	SyncTriggeredRetry  = "retry"
	SyncTriggeredSystem = "system"
)

const (
	SyncErrorInvalidOrder = "invalid_order"
	SyncErrorUpsertFailed = "upsert_failed"
	SyncErrorFetchFailed  = "fetch_failed"
	SyncErrorRateLimited  = "rate_limited"
	SyncErrorSiteNotFound = "site_not_found"
	SyncErrorSiteBusy     = "site_busy"
)

// SyncRun is one execution of the WooCommerce order sync. An empty SiteName covers every active site.
type SyncRun struct {
	ID            uint           `gorm:"primary_key" json:"id"`
	SiteName      string         `gorm:"size:100;index" json:"site_name"`
	Status        string         `gorm:"size:20;not null;index" json:"status"`
	TriggeredBy   string         `gorm:"size:20" json:"triggered_by"`
	Since         *time.Time     `json:"since"`
	StatsJSON     datatypes.JSON `json:"stats"`
	RecordsSynced int            `json:"records_synced"`
	ErrorCount    int            `json:"error_count"`
	ParentRunId   *uint          `gorm:"index" json:"parent_run_id"`
	StartedAt     *time.Time     `json:"started_at"`
	FinishedAt    *time.Time     `json:"finished_at"`
	DurationMs    int64          `json:"duration_ms"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

type SyncError struct {
	ID          uint           `gorm:"primary_key" json:"id"`
	SyncRunId   uint           `gorm:"index;not null" json:"sync_run_id"`
	SiteName    string         `gorm:"size:100;index" json:"site_name"`
	EntityType  string         `gorm:"size:50" json:"entity_type"`
	ExternalId  string         `gorm:"size:128" json:"external_id"`
	ErrorCode   string         `gorm:"size:64" json:"error_code"`
	Message     string         `gorm:"type:text" json:"message"`
	PayloadJSON datatypes.JSON `json:"payload"`
	Retryable   bool           `gorm:"default:false" json:"retryable"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

func (r SyncRun) IsFinished() bool {
	switch r.Status {
	case SyncRunStatusSuccess, SyncRunStatusFailed, SyncRunStatusPartial:
		return true
	}
	return false
}

func CreateSyncRun(ctx context.Context, run *SyncRun) error {
	if run.Status == "" {
		run.Status = SyncRunStatusQueued
	}
	if run.TriggeredBy == "" {
		run.TriggeredBy = SyncTriggeredManual
	}
	return config.GetDB().WithContext(ctx).Create(run).Error
}

func GetSyncRun(ctx context.Context, id uint) (*SyncRun, error) {
	var run SyncRun
	if err := config.GetDB().WithContext(ctx).First(&run, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &run, nil
}

func ListSyncRuns(ctx context.Context, siteName string, limit int) ([]SyncRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	db := config.GetDB().WithContext(ctx)
	if siteName != "" {
		db = db.Where("site_name = ?", siteName)
	}
	var runs []SyncRun
	err := db.Order("created_at desc").Order("id desc").Limit(limit).Find(&runs).Error
	return runs, err
}

func ListSyncErrors(ctx context.Context, runID uint) ([]SyncError, error) {
	var errs []SyncError
	err := config.GetDB().WithContext(ctx).
		Where("sync_run_id = ?", runID).
		Order("id").
		Find(&errs).Error
	return errs, err
}

// LatestSyncRunsBySite returns the newest run per site name among the given sites.
func LatestSyncRunsBySite(ctx context.Context, siteNames []string) (map[string]SyncRun, error) {
	out := make(map[string]SyncRun, len(siteNames))
	if len(siteNames) == 0 {
		return out, nil
	}
	var runs []SyncRun
	err := config.GetDB().WithContext(ctx).
		Where("site_name IN ?", siteNames).
		Order("created_at desc").Order("id desc").
		Find(&runs).Error
	if err != nil {
		return nil, err
	}
	for _, r := range runs {
		if _, seen := out[r.SiteName]; !seen {
			out[r.SiteName] = r
		}
	}
	return out, nil
}
