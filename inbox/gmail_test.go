package inbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	svc, err := gmail.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return NewClient(svc)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func header(name, value string) map[string]string {
	return map[string]string{"name": name, "value": value}
}

func TestSearchCustomerMessages(t *testing.T) {
	var query, maxResults string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/gmail/v1/users/me/messages":
			query = r.URL.Query().Get("q")
			maxResults = r.URL.Query().Get("maxResults")
			writeJSON(w, map[string]interface{}{"messages": []map[string]string{
				{"id": "m1", "threadId": "t1"},
				{"id": "m2", "threadId": "t2"},
				{"id": "m3", "threadId": "t3"},
			}})
		case "/gmail/v1/users/me/messages/m1":
			writeJSON(w, map[string]interface{}{
				"id": "m1", "threadId": "t1", "snippet": "Can we change the date?",
				"payload": map[string]interface{}{"headers": []map[string]string{
					header("From", "Anna Rossi <Anna@example.com>"),
					header("To", "bookings@tourdesk.example"),
					header("Subject", "Change of date"),
					header("Date", "Mon, 03 Jun 2024 10:00:00 +0200"),
				}},
			})
		case "/gmail/v1/users/me/messages/m2":
			writeJSON(w, map[string]interface{}{
				"id": "m2", "threadId": "t1", "internalDate": "1717491600000",
				"payload": map[string]interface{}{"headers": []map[string]string{
					header("From", "bookings@tourdesk.example"),
					header("To", "anna@example.com"),
					header("Subject", "Re: Change of date"),
				}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
			writeJSON(w, map[string]interface{}{"error": map[string]interface{}{"code": 404, "message": "Not Found"}})
		}
	})

	got, err := c.SearchCustomerMessages(context.Background(), " anna@example.com ", 0)
	require.NoError(t, err)
	assert.Equal(t, "from:anna@example.com OR to:anna@example.com", query)
	assert.Equal(t, "25", maxResults)

	require.Len(t, got, 3)
	assert.Equal(t, "m2", got[0].Id, "newest first")
	assert.Equal(t, "outbound", got[0].Direction)
	require.NotNil(t, got[0].Date)
	assert.Equal(t, "2024-06-04T09:00:00Z", got[0].Date.Format("2006-01-02T15:04:05Z07:00"))

	assert.Equal(t, "m1", got[1].Id)
	assert.Equal(t, "inbound", got[1].Direction)
	assert.Equal(t, "Change of date", got[1].Subject)
	assert.Equal(t, "2024-06-03T08:00:00Z", got[1].Date.Format("2006-01-02T15:04:05Z07:00"))

	assert.Equal(t, "m3", got[2].Id)
	assert.Equal(t, "t3", got[2].ThreadId)
	assert.NotEmpty(t, got[2].Error)
}

func TestSearchCustomerMessages_RejectsQueryInjection(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { called = true })
	for _, email := range []string{"", "not-an-email", "a@b.com OR from:(*)"} {
		_, err := c.SearchCustomerMessages(context.Background(), email, 10)
		assert.ErrorIs(t, err, ErrInvalidEmail, email)
	}
	assert.False(t, called)
}

func TestSearchCustomerMessages_ListFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		writeJSON(w, map[string]interface{}{"error": map[string]interface{}{"code": 403, "message": "Delegation denied"}})
	})
	_, err := c.SearchCustomerMessages(context.Background(), "anna@example.com", 500)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "gmail list"))
}
