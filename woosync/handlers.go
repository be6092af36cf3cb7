package woosync

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tourdesk/backoffice/models"
	"github.com/tourdesk/backoffice/utils"
)

func SitesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		creds, err := models.ListCredentials(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		names := make([]string, 0, len(creds))
		for _, cred := range creds {
			names = append(names, cred.SiteName)
		}
		latest, err := models.LatestSyncRunsBySite(ctx, names)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		items := make([]SiteStatusResponse, 0, len(creds))
		for _, cred := range creds {
			item := SiteStatusResponse{
				SiteName:     cred.SiteName,
				TourName:     cred.TourName,
				WebsiteUrl:   cred.WebsiteUrl,
				IsActive:     cred.Active(),
				LastSyncedAt: formatTime(cred.LastSyncedAt),
			}
			if run, ok := latest[cred.SiteName]; ok {
				resp := mapRunToResponse(run)
				item.LastRun = &resp
			}
			items = append(items, item)
		}
		c.JSON(http.StatusOK, SitesResponse{Items: items})
	}
}

func TriggerSyncHandler(s *Syncer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TriggerSyncRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
		}
		if err := utils.ValidateStruct(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := c.Request.Context()
		siteName := strings.TrimSpace(req.SiteName)
		if siteName != "" {
			cred, err := models.GetCredentialBySite(ctx, siteName)
			if err != nil {
				if errors.Is(err, utils.ErrorRecordNotFound) {
					c.JSON(http.StatusNotFound, gin.H{"error": "site not found"})
					return
				}
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			if !cred.Active() {
				c.JSON(http.StatusConflict, gin.H{"error": "site is inactive"})
				return
			}
		}

		run := models.SyncRun{
			SiteName:    siteName,
			Status:      models.SyncRunStatusQueued,
			TriggeredBy: models.SyncTriggeredManual,
		}
		if req.Since != "" {
			since, _ := utils.ParseISODate(req.Since)
			run.Since = &since
		}
		if err := models.CreateSyncRun(ctx, &run); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		s.Enqueue(ctx, run.ID)
		c.JSON(http.StatusAccepted, gin.H{"id": run.ID})
	}
}

func SyncHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}

		runs, err := models.ListSyncRuns(c.Request.Context(), strings.TrimSpace(c.Query("site")), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		items := make([]SyncRunResponse, 0, len(runs))
		for _, run := range runs {
			items = append(items, mapRunToResponse(run))
		}
		c.JSON(http.StatusOK, SyncHistoryResponse{Items: items})
	}
}

func SyncRunDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		ctx := c.Request.Context()
		run, err := models.GetSyncRun(ctx, uint(id))
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		errs, err := models.ListSyncErrors(ctx, run.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, SyncRunDetailResponse{
			SyncRunResponse: mapRunToResponse(*run),
			Errors:          mapErrors(errs),
		})
	}
}

// RetrySyncRunHandler queues a child run with the same scope as a finished one.
func RetrySyncRunHandler(s *Syncer) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		ctx := c.Request.Context()
		run, err := models.GetSyncRun(ctx, uint(id))
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !run.IsFinished() {
			c.JSON(http.StatusConflict, gin.H{"error": "run is still in progress"})
			return
		}

		newRun := models.SyncRun{
			SiteName:    run.SiteName,
			Status:      models.SyncRunStatusQueued,
			TriggeredBy: models.SyncTriggeredRetry,
			Since:       run.Since,
			ParentRunId: &run.ID,
		}
		if err := models.CreateSyncRun(ctx, &newRun); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		s.Enqueue(ctx, newRun.ID)
		c.JSON(http.StatusAccepted, gin.H{"id": newRun.ID})
	}
}

func ImportOrdersHandler(s *Syncer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ImportRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := utils.ValidateStruct(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := c.Request.Context()
		cred, err := models.GetCredentialBySite(ctx, req.SiteName)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "site not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		report, err := s.ImportOrders(ctx, *cred, req.Ids)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func mapRunToResponse(run models.SyncRun) SyncRunResponse {
	return SyncRunResponse{
		ID:            run.ID,
		SiteName:      run.SiteName,
		Status:        run.Status,
		Since:         formatTime(run.Since),
		StartedAt:     formatTime(run.StartedAt),
		FinishedAt:    formatTime(run.FinishedAt),
		DurationMs:    run.DurationMs,
		RecordsSynced: run.RecordsSynced,
		ErrorCount:    run.ErrorCount,
		TriggeredBy:   run.TriggeredBy,
		ParentRunId:   run.ParentRunId,
		Stats:         DecodeRunStats(run.StatsJSON),
	}
}

func mapErrors(errs []models.SyncError) []SyncErrorResponse {
	out := make([]SyncErrorResponse, 0, len(errs))
	for _, e := range errs {
		out = append(out, SyncErrorResponse{
			ID:         e.ID,
			SiteName:   e.SiteName,
			EntityType: e.EntityType,
			ExternalId: e.ExternalId,
			ErrorCode:  e.ErrorCode,
			Message:    e.Message,
			Retryable:  e.Retryable,
		})
	}
	return out
}
