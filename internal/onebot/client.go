package onebot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chatsum/internal/domain"
	"chatsum/internal/metrics"
)

// Config configures the websocket client.
type Config struct {
	URL            string // ws://host:port of the OneBot forward websocket
	AccessToken    string
	ActionTimeout  time.Duration // per action; default 30s
	ReconnectDelay time.Duration // default 5s
	Bus            domain.MessageBus
	Logger         *slog.Logger
}

// Client keeps one websocket to the host runtime. Actions are correlated
// with their responses through the echo field.
type Client struct {
	url            string
	token          string
	actionTimeout  time.Duration
	reconnectDelay time.Duration
	bus            domain.MessageBus
	logger         *slog.Logger

	writeMu sync.Mutex
	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan actionResponse
}

func New(cfg Config) *Client {
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 30 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	return &Client{
		url:            cfg.URL,
		token:          cfg.AccessToken,
		actionTimeout:  cfg.ActionTimeout,
		reconnectDelay: cfg.ReconnectDelay,
		bus:            cfg.Bus,
		logger:         cfg.Logger,
		pending:        make(map[string]chan actionResponse),
	}
}

// Run connects and serves until ctx is done, reconnecting after every
// dropped connection.
func (c *Client) Run(ctx context.Context) error {
	if strings.TrimSpace(c.url) == "" {
		return errors.New("onebot: url is required")
	}
	for {
		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("onebot connection lost, reconnecting", "err", err, "delay", c.reconnectDelay)

		t := time.NewTimer(c.reconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// Connected reports whether a connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func dial(ctx context.Context, url, token string) (*websocket.Conn, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}

// Probe opens and closes one connection to check reachability and the
// access token.
func Probe(ctx context.Context, url, token string) error {
	conn, err := dial(ctx, url, token)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (c *Client) runOnce(ctx context.Context) error {
	conn, err := dial(ctx, c.url, c.token)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	metrics.HostConnected.Set(1)
	c.logger.Info("onebot connected", "url", c.url)

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
				time.Now().Add(2*time.Second))
			c.writeMu.Unlock()
			_ = conn.Close()
		case <-stop:
		}
	}()

	defer func() {
		close(stop)
		c.mu.Lock()
		c.conn = nil
		pending := c.pending
		c.pending = make(map[string]chan actionResponse)
		c.mu.Unlock()
		for _, ch := range pending {
			close(ch)
		}
		_ = conn.Close()
		metrics.HostConnected.Set(0)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		c.handleFrame(data)
	}
}

func (c *Client) handleFrame(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.logger.Warn("invalid onebot frame", "err", err)
		return
	}

	if f.Echo != "" && f.PostType == "" {
		var resp actionResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			c.logger.Warn("invalid action response", "err", err)
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.Echo]
		delete(c.pending, resp.Echo)
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
		return
	}

	switch f.PostType {
	case "message":
		var ev messageEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Warn("invalid message event", "err", err)
			return
		}
		if c.bus != nil {
			c.bus.Publish(ev.toDomain())
		}
	case "meta_event":
		// heartbeat and lifecycle
	default:
		c.logger.Debug("ignoring onebot event", "post_type", f.PostType)
	}
}

// Call issues an action and decodes its data into out (when non-nil).
func (c *Client) Call(ctx context.Context, action string, params any, out any) error {
	echo := uuid.NewString()
	ch := make(chan actionResponse, 1)

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.pending[echo] = ch
	c.mu.Unlock()

	cleanup := func() {
		c.mu.Lock()
		delete(c.pending, echo)
		c.mu.Unlock()
	}

	payload, err := json.Marshal(actionRequest{Action: action, Params: params, Echo: echo})
	if err != nil {
		cleanup()
		return fmt.Errorf("marshal %s: %w", action, err)
	}

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	err = conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		cleanup()
		return fmt.Errorf("send %s: %w", action, err)
	}

	timer := time.NewTimer(c.actionTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		cleanup()
		return ctx.Err()
	case <-timer.C:
		cleanup()
		return fmt.Errorf("onebot %s: timed out after %s", action, c.actionTimeout)
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("onebot %s: %w", action, ErrNotConnected)
		}
		if err := resp.err(action); err != nil {
			return err
		}
		if out == nil || isEmptyJSON(resp.Data) {
			return nil
		}
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("decode %s: %w", action, err)
		}
		return nil
	}
}
