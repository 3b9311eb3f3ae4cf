package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"CascadeAdvisor/internal/domain/models"
	drepo "CascadeAdvisor/internal/domain/repository"
	"CascadeAdvisor/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const source = "finnhub"

// Client is a MarketStream over the Finnhub trades websocket.
type Client struct {
	apiKey         string
	websocketURL   string
	symbols        []string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *logger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected atomic.Bool
}

var _ drepo.MarketStream = (*Client)(nil)

func New(apiKey, websocketURL string, symbols []string, reconnectDelay, pingInterval time.Duration, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{
		apiKey:         apiKey,
		websocketURL:   websocketURL,
		symbols:        symbols,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		log:            log,
	}
}

func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.websocketURL)
	if err != nil {
		return fmt.Errorf("finnhub url: %w", err)
	}
	q := u.Query()
	q.Set("token", c.apiKey)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("finnhub connect: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)
	c.log.Info("finnhub.connected", logger.Int("symbols", len(c.symbols)))
	return nil
}

func (c *Client) Subscribe(ctx context.Context) error {
	conn := c.current()
	if conn == nil || !c.connected.Load() {
		return fmt.Errorf("finnhub not connected")
	}
	for _, s := range c.symbols {
		if err := conn.WriteJSON(map[string]string{"type": "subscribe", "symbol": s}); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
	}
	c.log.Debug("finnhub.subscribed", logger.Strings("symbols", c.symbols))
	return nil
}

type fhTrade struct {
	S string      `json:"s"`
	P json.Number `json:"p"`
	V float64     `json:"v"`
	T int64       `json:"t"`
}

type fhMessage struct {
	Type string    `json:"type"`
	Data []fhTrade `json:"data"`
}

// decodeTrades returns the ticks of a trade frame. Pings and other frame
// types yield nothing.
func decodeTrades(b []byte) ([]*models.PriceTick, error) {
	var m fhMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	if m.Type != "trade" {
		return nil, nil
	}
	out := make([]*models.PriceTick, 0, len(m.Data))
	for _, d := range m.Data {
		p, err := decimal.NewFromString(d.P.String())
		if err != nil || d.S == "" {
			continue
		}
		out = append(out, &models.PriceTick{
			Symbol:    d.S,
			Price:     p,
			Volume:    d.V,
			Timestamp: time.UnixMilli(d.T).UTC(),
			Source:    source,
		})
	}
	return out, nil
}

// Read streams ticks until the connection fails or ctx ends. A failure is
// delivered on the error channel, after which both channels close.
func (c *Client) Read(ctx context.Context) (<-chan *models.PriceTick, <-chan error) {
	ticks := make(chan *models.PriceTick, 1024)
	errs := make(chan error, 1)
	conn := c.current()
	done := make(chan struct{})

	go func() {
		t := time.NewTicker(c.pingInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-t.C:
				if conn != nil {
					_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
				}
			}
		}
	}()

	go func() {
		defer close(ticks)
		defer close(errs)
		defer close(done)
		if conn == nil {
			errs <- fmt.Errorf("finnhub not connected")
			return
		}
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.connected.Store(false)
				errs <- fmt.Errorf("finnhub read: %w", err)
				return
			}
			batch, err := decodeTrades(b)
			if err != nil {
				continue
			}
			for _, tk := range batch {
				select {
				case ticks <- tk:
				case <-ctx.Done():
					return
				default:
					c.log.Debug("finnhub.tick dropped", logger.String("symbol", tk.Symbol))
				}
			}
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			if conn != nil {
				_ = conn.Close()
			}
		case <-done:
		}
	}()

	return ticks, errs
}

// Reconnect waits the reconnect delay, then dials and subscribes again.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.reconnectDelay):
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

func (c *Client) Close() error {
	c.connected.Store(false)
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) IsConnected() bool { return c.connected.Load() }

func (c *Client) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}
