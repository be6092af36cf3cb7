package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/tourdesk/backoffice/testutil"
)

func TestRouterGuards(t *testing.T) {
	gin.SetMode(gin.TestMode)
	testutil.NewSQLiteDB(t)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	r := newRouter(logger, services{})

	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/healthz", http.StatusNoContent},
		{http.MethodGet, "/api/orders", http.StatusUnauthorized},
		{http.MethodGet, "/api/orders/export.xlsx", http.StatusUnauthorized},
		{http.MethodPut, "/api/credentials/verona-arena", http.StatusUnauthorized},
		{http.MethodGet, "/api/sync/runs", http.StatusUnauthorized},
		{http.MethodPost, "/api/bookings", http.StatusServiceUnavailable},
		{http.MethodPost, "/webhooks/ad-spend", http.StatusUnauthorized},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestBootRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := bootRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/orders", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
