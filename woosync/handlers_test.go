package woosync

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tourdesk/backoffice/models"
	"github.com/tourdesk/backoffice/woocommerce"
)

func newSyncRouter(f *syncFixture, published *[]uint) *gin.Engine {
	gin.SetMode(gin.TestMode)
	f.syncer.Publish = func(_ context.Context, runID uint) error {
		*published = append(*published, runID)
		return nil
	}
	r := gin.New()
	r.GET("/api/sync/sites", SitesHandler())
	r.POST("/api/sync", TriggerSyncHandler(f.syncer))
	r.POST("/api/sync/import", ImportOrdersHandler(f.syncer))
	r.GET("/api/sync/runs", SyncHistoryHandler())
	r.GET("/api/sync/runs/:id", SyncRunDetailHandler())
	r.POST("/api/sync/runs/:id/retry", RetrySyncRunHandler(f.syncer))
	r.POST("/pubsub/woo-sync", PubSubPushHandler(f.syncer))
	return r
}

func doJSON(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTriggerSyncHandler(t *testing.T) {
	f := newSyncFixture(t)
	f.seedSite(t, "verona-arena")
	var published []uint
	r := newSyncRouter(f, &published)

	w := doJSON(r, http.MethodPost, "/api/sync", gin.H{"site_name": "verona-arena", "since": "2024-05-01"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp struct {
		ID uint `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []uint{resp.ID}, published)

	run := f.reloadRun(t, resp.ID)
	assert.Equal(t, models.SyncRunStatusQueued, run.Status)
	assert.Equal(t, models.SyncTriggeredManual, run.TriggeredBy)
	require.NotNil(t, run.Since)
	assert.Equal(t, "2024-05-01", run.Since.UTC().Format("2006-01-02"))

	w = doJSON(r, http.MethodPost, "/api/sync", gin.H{"site_name": "nope"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(r, http.MethodPost, "/api/sync", gin.H{"since": "yesterday"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/api/sync", nil)
	assert.Equal(t, http.StatusAccepted, w.Code, "an empty body syncs every site")
	assert.Len(t, published, 2)
}

func TestRetrySyncRunHandler(t *testing.T) {
	f := newSyncFixture(t)
	var published []uint
	r := newSyncRouter(f, &published)

	running := models.SyncRun{SiteName: "verona-arena", Status: models.SyncRunStatusRunning}
	require.NoError(t, f.db.Create(&running).Error)
	w := doJSON(r, http.MethodPost, "/api/sync/runs/"+strconv.Itoa(int(running.ID))+"/retry", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	failed := models.SyncRun{SiteName: "verona-arena", Status: models.SyncRunStatusFailed}
	require.NoError(t, f.db.Create(&failed).Error)
	w = doJSON(r, http.MethodPost, "/api/sync/runs/"+strconv.Itoa(int(failed.ID))+"/retry", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	require.Len(t, published, 1)
	child := f.reloadRun(t, published[0])
	assert.Equal(t, models.SyncTriggeredRetry, child.TriggeredBy)
	require.NotNil(t, child.ParentRunId)
	assert.Equal(t, failed.ID, *child.ParentRunId)
	assert.Equal(t, "verona-arena", child.SiteName)

	w = doJSON(r, http.MethodPost, "/api/sync/runs/999/retry", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSyncRunDetailAndHistory(t *testing.T) {
	f := newSyncFixture(t)
	var published []uint
	r := newSyncRouter(f, &published)

	run := models.SyncRun{SiteName: "verona-arena", Status: models.SyncRunStatusPartial, StatsJSON: []byte(`{"verona-arena":{"fetched":3,"created":2,"skipped":1}}`)}
	require.NoError(t, f.db.Create(&run).Error)
	require.NoError(t, f.db.Create(&models.SyncError{
		SyncRunId: run.ID, SiteName: "verona-arena", EntityType: "order", ExternalId: "7",
		ErrorCode: models.SyncErrorInvalidOrder, Message: "invalid order",
	}).Error)

	w := doJSON(r, http.MethodGet, "/api/sync/runs/"+strconv.Itoa(int(run.ID)), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail SyncRunDetailResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, models.SyncRunStatusPartial, detail.Status)
	assert.Equal(t, 2, detail.Stats["verona-arena"].Created)
	require.Len(t, detail.Errors, 1)
	assert.Equal(t, "7", detail.Errors[0].ExternalId)

	w = doJSON(r, http.MethodGet, "/api/sync/runs/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doJSON(r, http.MethodGet, "/api/sync/runs/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(r, http.MethodGet, "/api/sync/runs?limit=5&site=verona-arena", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history SyncHistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history.Items, 1)
	assert.Equal(t, run.ID, history.Items[0].ID)
}

func TestSitesHandler(t *testing.T) {
	f := newSyncFixture(t)
	f.seedSite(t, "verona-arena")
	f.seedSite(t, "roma-colosseo")
	var published []uint
	r := newSyncRouter(f, &published)
	run := models.SyncRun{SiteName: "verona-arena", Status: models.SyncRunStatusSuccess}
	require.NoError(t, f.db.Create(&run).Error)

	w := doJSON(r, http.MethodGet, "/api/sync/sites", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp SitesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "roma-colosseo", resp.Items[0].SiteName)
	assert.Nil(t, resp.Items[0].LastRun)
	require.NotNil(t, resp.Items[1].LastRun)
	assert.Equal(t, run.ID, resp.Items[1].LastRun.ID)
	assert.NotContains(t, w.Body.String(), "cs_test")
}

func TestImportOrdersHandler(t *testing.T) {
	f := newSyncFixture(t)
	f.seedSite(t, "verona-arena")
	var published []uint
	r := newSyncRouter(f, &published)

	f.fetcher.EXPECT().GetOrder(gomock.Any(), int64(101)).Return(wooOrder(101, "100.00", "2024-05-30T10:00:00"), nil)
	f.fetcher.EXPECT().GetOrder(gomock.Any(), int64(404)).Return(woocommerce.Order{}, &woocommerce.APIError{StatusCode: 404, Message: "Invalid ID."})
	f.fetcher.EXPECT().GetOrder(gomock.Any(), int64(102)).
		Return(woocommerce.Order{}, &woocommerce.APIError{StatusCode: 429, Message: "slow down"}).Times(2)

	w := doJSON(r, http.MethodPost, "/api/sync/import", gin.H{"site_name": "verona-arena", "ids": []int64{101, 101, 404, 102, 103}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var report ImportReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 4, report.Requested)
	assert.Equal(t, 1, report.Imported)
	assert.Equal(t, 3, report.Failed)
	assert.True(t, report.Aborted)
	require.Len(t, report.Results, 4)
	assert.Equal(t, ImportResult{Id: 101, OrderId: "verona-arena-101", Outcome: "created"}, report.Results[0])
	assert.Equal(t, "order not found on verona-arena", report.Results[1].Error)
	assert.Equal(t, importRateLimitHint, report.Results[2].Error)
	assert.Equal(t, int64(103), report.Results[3].Id)
	assert.Len(t, f.sleeps, 1)

	w = doJSON(r, http.MethodPost, "/api/sync/import", gin.H{"site_name": "verona-arena", "ids": []int64{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doJSON(r, http.MethodPost, "/api/sync/import", gin.H{"site_name": "nope", "ids": []int64{1}})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPubSubPushHandler(t *testing.T) {
	f := newSyncFixture(t)
	f.seedSite(t, "verona-arena")
	var published []uint
	r := newSyncRouter(f, &published)

	for _, body := range []string{"not json", `{"message":{"data":"bm9wZQ=="}}`, `{"message":{"data":"e30="}}`} {
		req := httptest.NewRequest(http.MethodPost, "/pubsub/woo-sync", bytes.NewBufferString(body))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNoContent, w.Code, body)
	}

	run := f.queueRun(t, "verona-arena")
	f.fetcher.EXPECT().ListOrders(gomock.Any(), gomock.Any()).Return(nil, woocommerce.PageInfo{}, nil)

	data := base64.StdEncoding.EncodeToString([]byte(`{"run_id":` + strconv.Itoa(int(run.ID)) + `}`))
	req := httptest.NewRequest(http.MethodPost, "/pubsub/woo-sync", bytes.NewBufferString(`{"message":{"data":"`+data+`","messageId":"m-1"}}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, models.SyncRunStatusSuccess, f.reloadRun(t, run.ID).Status)
}
