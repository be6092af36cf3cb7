package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tourdesk/backoffice/middlewares"
	"github.com/tourdesk/backoffice/models"
	"github.com/tourdesk/backoffice/testutil"
)

func newAdminRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middlewares.SessionMiddleware())
	r.POST("/auth/login", LoginHandler())
	r.POST("/auth/logout", middlewares.RequireAuth(), LogoutHandler())
	r.GET("/auth/me", middlewares.RequireAuth(), MeHandler())
	r.GET("/api/credentials", middlewares.RequireAdmin(), ListCredentialsHandler())
	r.PUT("/api/credentials/:site", middlewares.RequireAdmin(), UpsertCredentialHandler())
	return r
}

func do(r http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("token", token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func login(t *testing.T, r http.Handler, username string) string {
	t.Helper()
	w := do(r, http.MethodPost, "/auth/login", "", gin.H{"username": username, "password": "correct-horse"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var info models.LoginInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	require.NotEmpty(t, info.Token)
	return info.Token
}

func seedUsers(t *testing.T) {
	t.Helper()
	for _, u := range []models.NewUser{
		{Username: "giulia", Name: "Giulia", Password: "correct-horse", Role: models.UserRoleAdmin},
		{Username: "marco", Name: "Marco", Password: "correct-horse", Role: models.UserRoleStaff},
	} {
		u := u
		_, err := models.CreateUser(context.Background(), &u)
		require.NoError(t, err)
	}
}

func TestLoginAndMe(t *testing.T) {
	testutil.NewSQLiteDB(t)
	seedUsers(t)
	r := newAdminRouter()

	w := do(r, http.MethodPost, "/auth/login", "", gin.H{"username": "giulia", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = do(r, http.MethodPost, "/auth/login", "", gin.H{"username": "giulia"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	token := login(t, r, "giulia")
	w = do(r, http.MethodGet, "/auth/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var me models.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &me))
	assert.Equal(t, "giulia", me.Username)
	assert.Empty(t, me.Password)

	assert.Equal(t, http.StatusNoContent, do(r, http.MethodPost, "/auth/logout", token, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, "/auth/logout", "", nil).Code)
}

func TestCredentialsHandlers(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	seedUsers(t)
	r := newAdminRouter()
	admin := login(t, r, "giulia")
	staff := login(t, r, "marco")

	body := gin.H{
		"tour_name":       "Arena di Verona",
		"api_url":         "https://arena.example.com/",
		"website_url":     "https://arena.example.com",
		"consumer_key":    "ck_1234567890",
		"consumer_secret": "cs_abcdefghij",
		"profit_margin":   "30",
	}
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPut, "/api/credentials/verona-arena", "", body).Code)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodPut, "/api/credentials/verona-arena", staff, body).Code)

	w := do(r, http.MethodPut, "/api/credentials/verona-arena", admin, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "cs_abcdefghij")

	// sending the masked values back keeps the stored secrets
	w = do(r, http.MethodGet, "/api/credentials", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Items []models.WooCommerceCredential `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
	masked := list.Items[0]
	assert.Equal(t, "****ghij", masked.ConsumerSecret)

	w = do(r, http.MethodPut, "/api/credentials/verona-arena", admin, gin.H{
		"consumer_secret": masked.ConsumerSecret,
		"tour_name":       "Arena",
		"is_active":       false,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var stored models.WooCommerceCredential
	require.NoError(t, db.Where("site_name = ?", "verona-arena").First(&stored).Error)
	assert.Equal(t, "cs_abcdefghij", stored.ConsumerSecret)
	assert.Equal(t, "ck_1234567890", stored.ConsumerKey)
	assert.Equal(t, "Arena", stored.TourName)
	assert.Equal(t, "https://arena.example.com", stored.ApiUrl)
	assert.False(t, stored.Active())
	require.NotNil(t, stored.ProfitMargin)
	assert.Equal(t, "30", stored.ProfitMargin.String())

	w = do(r, http.MethodPut, "/api/credentials/new-site", admin, gin.H{"tour_name": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(r, http.MethodPut, "/api/credentials/verona-arena", admin, gin.H{"profit_margin": "150"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
