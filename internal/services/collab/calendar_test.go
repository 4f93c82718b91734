package collab

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AgeeKey/mirai-agent-sub000/internal/domain/models"
)

const calendarBody = `{"events":[{
	"id":"fomc-2026-09",
	"name":"FOMC Rate Decision",
	"category":"monetary_policy",
	"severity":"critical",
	"scheduled_time":"2026-09-17T18:00:00Z",
	"impact_currencies":["USD"],
	"volatility_factor":2.4,
	"duration_seconds":3600
}]}`

func TestCalendarUpcoming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events/upcoming", r.URL.Path)
		assert.Equal(t, "86400", r.URL.Query().Get("horizon_seconds"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(calendarBody))
	}))
	defer srv.Close()

	c := NewCalendarClient(srv.URL, time.Second, time.Hour, nil)
	events, err := c.Upcoming(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "fomc-2026-09", events[0].ID)
	assert.Equal(t, models.SeverityCritical, events[0].Severity)
	assert.Equal(t, time.Hour, events[0].Duration)
	assert.False(t, c.Stale())
}

func TestCalendarServesCacheWhenDown(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(calendarBody))
	}))
	defer srv.Close()

	c := NewCalendarClient(srv.URL, time.Second, time.Hour, nil)
	_, err := c.Upcoming(context.Background(), 24*time.Hour)
	require.NoError(t, err)

	fail.Store(true)
	events, err := c.Upcoming(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, c.Stale())

	fail.Store(false)
	_, err = c.Upcoming(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.False(t, c.Stale())
}

func TestCalendarColdCacheFails(t *testing.T) {
	c := NewCalendarClient("http://127.0.0.1:1", 100*time.Millisecond, time.Hour, nil)
	_, err := c.Upcoming(context.Background(), 24*time.Hour)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrCalendarUnavailable)
	assert.True(t, c.Stale())
}

func TestCalendarSkipsMalformedEvents(t *testing.T) {
	body := `{"events":[
		{"id":"bad","name":"x","severity":"critical","scheduled_time":"not-a-time"},
		{"id":"ok","name":"CPI Release","category":"inflation","severity":"high",
		 "scheduled_time":"2026-09-10T12:30:00Z","volatility_factor":1.8,"duration_seconds":1800}
	]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	c := NewCalendarClient(srv.URL, time.Second, time.Hour, nil)
	events, err := c.Upcoming(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ok", events[0].ID)
}
