package woosync

import (
	"encoding/json"

	"github.com/tourdesk/backoffice/reconcile"
)

// SiteStats is the per-site block of a run's stats JSON.
type SiteStats struct {
	Fetched     int    `json:"fetched"`
	Created     int    `json:"created"`
	Updated     int    `json:"updated"`
	Unchanged   int    `json:"unchanged"`
	Skipped     int    `json:"skipped"`
	Failed      int    `json:"failed"`
	Aborted     bool   `json:"aborted"`
	AbortReason string `json:"abort_reason,omitempty"`
}

func (s *SiteStats) count(outcome reconcile.UpsertOutcome) {
	switch outcome {
	case reconcile.OutcomeCreated:
		s.Created++
	case reconcile.OutcomeUpdated:
		s.Updated++
	default:
		s.Unchanged++
	}
}

// Synced is the number of orders that made it into the table, changed or not.
func (s SiteStats) Synced() int {
	return s.Created + s.Updated + s.Unchanged
}

type RunStats map[string]*SiteStats

func DecodeRunStats(raw []byte) RunStats {
	stats := RunStats{}
	if len(raw) == 0 {
		return stats
	}
	if err := json.Unmarshal(raw, &stats); err != nil {
		return RunStats{}
	}
	return stats
}

type TriggerSyncRequest struct {
	SiteName string `json:"site_name"`
	Since    string `json:"since" validate:"omitempty,isodate"`
}

type ImportRequest struct {
	SiteName string  `json:"site_name" validate:"required"`
	Ids      []int64 `json:"ids" validate:"required,min=1,max=200,dive,gt=0"`
}

type SiteStatusResponse struct {
	SiteName     string           `json:"site_name"`
	TourName     string           `json:"tour_name"`
	WebsiteUrl   string           `json:"website_url"`
	IsActive     bool             `json:"is_active"`
	LastSyncedAt *string          `json:"last_synced_at"`
	LastRun      *SyncRunResponse `json:"last_run"`
}

type SitesResponse struct {
	Items []SiteStatusResponse `json:"items"`
}

type SyncHistoryResponse struct {
	Items []SyncRunResponse `json:"items"`
}

type SyncRunResponse struct {
	ID            uint     `json:"id"`
	SiteName      string   `json:"site_name"`
	Status        string   `json:"status"`
	Since         *string  `json:"since"`
	StartedAt     *string  `json:"started_at"`
	FinishedAt    *string  `json:"finished_at"`
	DurationMs    int64    `json:"duration_ms"`
	RecordsSynced int      `json:"records_synced"`
	ErrorCount    int      `json:"error_count"`
	TriggeredBy   string   `json:"triggered_by"`
	ParentRunId   *uint    `json:"parent_run_id"`
	Stats         RunStats `json:"stats"`
}

type SyncRunDetailResponse struct {
	SyncRunResponse
	Errors []SyncErrorResponse `json:"errors"`
}

type SyncErrorResponse struct {
	ID         uint   `json:"id"`
	SiteName   string `json:"site_name"`
	EntityType string `json:"entity_type"`
	ExternalId string `json:"external_id"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type SyncPubSubPayload struct {
	RunId uint `json:"run_id"`
}
