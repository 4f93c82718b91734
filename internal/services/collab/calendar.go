package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/AgeeKey/mirai-agent-sub000/internal/domain/models"
	domrepo "github.com/AgeeKey/mirai-agent-sub000/internal/domain/repository"
	icache "github.com/AgeeKey/mirai-agent-sub000/internal/service/cache"
	applogger "github.com/AgeeKey/mirai-agent-sub000/pkg/logger"
)

const calendarCacheKey = "calendar:upcoming"

// CalendarClient fetches the economic-event feed from the calendar
// collaborator. When the collaborator is unreachable it keeps serving the
// last refreshed events and reports staleness via Stale.
type CalendarClient struct {
	base     *HTTPServiceBase
	cache    *icache.TTLCache
	durable  icache.BytesCache
	cacheTTL time.Duration
	l        *applogger.Logger

	mu        sync.RWMutex
	stale     bool
	refreshed time.Time
}

type calendarEventDTO struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Category         string   `json:"category"`
	Severity         string   `json:"severity"`
	ScheduledTime    string   `json:"scheduled_time"`
	ImpactCurrencies []string `json:"impact_currencies"`
	VolatilityFactor float64  `json:"volatility_factor"`
	DurationSeconds  int64    `json:"duration_seconds"`
}

type calendarResponse struct {
	Events []calendarEventDTO `json:"events"`
}

func NewCalendarClient(baseURL string, timeout, cacheTTL time.Duration, l *applogger.Logger) *CalendarClient {
	if cacheTTL <= 0 {
		cacheTTL = 24 * time.Hour
	}
	return &CalendarClient{
		base:     NewHTTPServiceBase(baseURL, timeout),
		cache:    icache.NewTTLCache(),
		cacheTTL: cacheTTL,
		l:        l,
	}
}

// SetDurableCache attaches a byte cache that survives restarts; the last
// good event list is mirrored there so a cold process can still fall back.
func (c *CalendarClient) SetDurableCache(bc icache.BytesCache) { c.durable = bc }

// Upcoming returns events scheduled within the horizon. A failed refresh
// falls back to the last good fetch; only a cold cache surfaces
// models.ErrCalendarUnavailable.
func (c *CalendarClient) Upcoming(ctx context.Context, horizon time.Duration) ([]models.EconomicEvent, error) {
	var resp calendarResponse
	params := map[string][]string{
		"horizon_seconds": {strconv.FormatInt(int64(horizon.Seconds()), 10)},
	}
	err := c.base.GetJSONWithRetry(ctx, "/events/upcoming", params, &resp, 3)
	if err == nil {
		events := make([]models.EconomicEvent, 0, len(resp.Events))
		for _, dto := range resp.Events {
			ev, convErr := dto.toModel()
			if convErr != nil {
				if c.l != nil {
					c.l.Warn("calendar event skipped",
						applogger.String("id", dto.ID),
						applogger.Error(convErr),
					)
				}
				continue
			}
			events = append(events, ev)
		}
		c.cache.Set(calendarCacheKey, events, c.cacheTTL)
		if c.durable != nil {
			if b, mErr := json.Marshal(events); mErr == nil {
				_ = c.durable.SetBytes(calendarCacheKey, b, c.cacheTTL)
			}
		}
		c.mu.Lock()
		c.stale = false
		c.refreshed = time.Now()
		c.mu.Unlock()
		return events, nil
	}

	if v, ok := c.cache.Get(calendarCacheKey); ok {
		c.mu.Lock()
		c.stale = true
		c.mu.Unlock()
		if c.l != nil {
			c.l.Warn("calendar refresh failed, serving cached events", applogger.Error(err))
		}
		return v.([]models.EconomicEvent), nil
	}

	if c.durable != nil {
		if b, ok, dErr := c.durable.GetBytes(calendarCacheKey); dErr == nil && ok {
			var events []models.EconomicEvent
			if uErr := json.Unmarshal(b, &events); uErr == nil {
				c.mu.Lock()
				c.stale = true
				c.mu.Unlock()
				if c.l != nil {
					c.l.Warn("calendar refresh failed, serving durable cache", applogger.Error(err))
				}
				return events, nil
			}
		}
	}

	c.mu.Lock()
	c.stale = true
	c.mu.Unlock()
	return nil, fmt.Errorf("calendar upcoming: %w: %v", models.ErrCalendarUnavailable, err)
}

// Stale reports whether the last Upcoming call served cached data.
func (c *CalendarClient) Stale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stale
}

// LastRefreshed returns the time of the last successful fetch.
func (c *CalendarClient) LastRefreshed() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshed
}

func (dto calendarEventDTO) toModel() (models.EconomicEvent, error) {
	ts, err := time.Parse(time.RFC3339, dto.ScheduledTime)
	if err != nil {
		return models.EconomicEvent{}, fmt.Errorf("parse scheduled_time: %w", err)
	}
	sev := models.EventSeverity(strings.ToLower(dto.Severity))
	if sev.Rank() == 0 {
		return models.EconomicEvent{}, fmt.Errorf("unknown severity '%s'", dto.Severity)
	}
	return models.EconomicEvent{
		ID:               dto.ID,
		Name:             dto.Name,
		Category:         dto.Category,
		Severity:         sev,
		ScheduledTime:    ts,
		ImpactCurrencies: dto.ImpactCurrencies,
		VolatilityFactor: dto.VolatilityFactor,
		Duration:         time.Duration(dto.DurationSeconds) * time.Second,
	}, nil
}

var _ domrepo.Calendar = (*CalendarClient)(nil)
