package alertmanager

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldtriage/fieldtriage/internal/types"
)

func TestClient_GetAlerts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v2/alerts", r.URL.Path)

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "ops", user)
		assert.Equal(t, "secret", pass)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"labels": {"alertname": "a", "device_id": "D1"}, "status": {"state": "active", "silencedBy": []}},
			{"labels": {"alertname": "b"}, "status": {"state": "suppressed", "silencedBy": ["s1"]}}
		]`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/", Credentials: "ops:secret"}, zerolog.Nop())
	alerts, err := c.GetAlerts(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, "a", alerts[0].Name())
	assert.Equal(t, []string{"s1"}, alerts[1].Status.SilencedBy)
}

func TestClient_GetAlertsErrors(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
	}{
		{
			name: "non 2xx",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "bad json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{not json`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := NewClient(Config{BaseURL: srv.URL}, zerolog.Nop())
			_, err := c.GetAlerts(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrTransport)

			var terr *types.TransportError
			require.ErrorAs(t, err, &terr)
			assert.Equal(t, tt.wantStatus, terr.StatusCode)
		})
	}
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(Config{BaseURL: url, Timeout: time.Second}, zerolog.Nop())
	_, err := c.GetAlerts(context.Background())
	assert.ErrorIs(t, err, types.ErrTransport)
}

func TestClient_PostSilence(t *testing.T) {
	var got PostableSilence
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v2/silences", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"silenceID": "sil-1"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Token: "tok"}, zerolog.Nop())
	start := time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC)
	id, err := c.PostSilence(context.Background(), PostableSilence{
		Matchers:  []Matcher{{Name: "site_name", Value: "north", IsEqual: true}},
		StartsAt:  start,
		EndsAt:    start.Add(time.Hour),
		CreatedBy: "ops",
		Comment:   "maintenance",
	})
	require.NoError(t, err)
	assert.Equal(t, "sil-1", id)
	assert.Equal(t, "ops", got.CreatedBy)
	require.Len(t, got.Matchers, 1)
	assert.False(t, got.Matchers[0].IsRegex)
}

func TestClient_PostSilenceRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad matchers", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, zerolog.Nop())
	_, err := c.PostSilence(context.Background(), PostableSilence{})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrTransport)
	assert.Contains(t, err.Error(), "bad matchers")
}
