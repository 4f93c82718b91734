package featurestream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/AgeeKey/mirai-agent-sub000/internal/domain/models"
	drepo "github.com/AgeeKey/mirai-agent-sub000/internal/domain/repository"

	"github.com/gorilla/websocket"
)

// Client implements a FeatureStream backed by the market-data WebSocket feed.
type Client struct {
	apiKey         string
	websocketURL   string
	symbols        []string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	bufferSize     int

	conn      *websocket.Conn
	connected bool
}

// New creates a new WebSocket FeatureStream.
func New(apiKey, websocketURL string, symbols []string, reconnectDelay, pingInterval time.Duration, bufferSize int) drepo.FeatureStream {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &Client{
		apiKey:         apiKey,
		websocketURL:   websocketURL,
		symbols:        symbols,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		bufferSize:     bufferSize,
	}
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	u := fmt.Sprintf("%s?token=%s", c.websocketURL, c.apiKey)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("featurestream connect: %w", err)
	}
	c.conn = conn
	c.connected = true
	log.Printf("featurestream: connected")
	return nil
}

// Subscribe subscribes to configured symbols.
func (c *Client) Subscribe(ctx context.Context) error {
	if c.conn == nil || !c.connected {
		return fmt.Errorf("featurestream not connected")
	}
	for _, s := range c.symbols {
		msg := map[string]string{"type": "subscribe", "symbol": s}
		if err := c.conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
		log.Printf("featurestream: subscribed %s", s)
	}
	return nil
}

type featureFrame struct {
	Symbol           string  `json:"symbol"`
	Timestamp        int64   `json:"t"` // ms
	TrendStrength    float64 `json:"trend_strength"`
	RealizedVol      float64 `json:"realized_vol"`
	RangeCompression float64 `json:"range_compression"`
	Momentum         float64 `json:"momentum"`
}

type streamMessage struct {
	Type string         `json:"type"`
	Data []featureFrame `json:"data"`
}

// Read streams FeatureSample events and errors.
func (c *Client) Read(ctx context.Context) (<-chan *models.FeatureSample, <-chan error) {
	samples := make(chan *models.FeatureSample, c.bufferSize)
	errs := make(chan error, 1)

	// ping loop
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if c.conn != nil {
					_ = c.conn.WriteMessage(websocket.PingMessage, nil)
				}
			}
		}
	}()

	// read loop
	go func() {
		defer close(samples)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if c.conn == nil {
					errs <- fmt.Errorf("featurestream conn nil")
					return
				}
				_, b, err := c.conn.ReadMessage()
				if err != nil {
					errs <- fmt.Errorf("featurestream read: %w", err)
					return
				}
				var m streamMessage
				if err := json.Unmarshal(b, &m); err != nil {
					// ignore non-feature frames
					continue
				}
				if m.Type != "features" {
					continue
				}
				for _, d := range m.Data {
					sample := &models.FeatureSample{
						Symbol:    d.Symbol,
						Timestamp: time.UnixMilli(d.Timestamp),
						Features: models.FeatureVector{
							TrendStrength:    d.TrendStrength,
							RealizedVol:      d.RealizedVol,
							RangeCompression: d.RangeCompression,
							Momentum:         d.Momentum,
						},
					}
					select {
					case samples <- sample:
					default:
						// drop on backpressure
					}
				}
			}
		}
	}()

	return samples, errs
}

// Reconnect closes and reconnects.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	time.Sleep(c.reconnectDelay)
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the WS connection.
func (c *Client) Close() error {
	c.connected = false
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool { return c.connected }
