package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/tourdesk/backoffice/testutil"
	"github.com/tourdesk/backoffice/woosync"
)

func TestRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	var syncer atomic.Pointer[woosync.Syncer]
	r := newRouter(logger, &syncer)

	do := func(method, path, body string) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(method, path, bytes.NewBufferString(body)))
		return w.Code
	}

	assert.Equal(t, http.StatusNoContent, do(http.MethodGet, "/healthz", ""))
	assert.Equal(t, http.StatusServiceUnavailable, do(http.MethodPost, "/pubsub/woo-sync", `{}`))
	assert.Equal(t, http.StatusNotFound, do(http.MethodGet, "/api/orders", ""))

	db := testutil.NewSQLiteDB(t)
	syncer.Store(&woosync.Syncer{DB: db, Logger: logger})
	assert.Equal(t, http.StatusNoContent, do(http.MethodPost, "/pubsub/woo-sync", "not json"))
}
