package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

type ClientConfig struct {
	// Base URL of the push server (http/https scheme).
	URL string
	// Attempt budget applied on the initial dial and again after every
	// drop. Once a budget is exhausted the client stays disconnected.
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	ReadTimeout       time.Duration
}

// Client owns the single connection to the push server for the life of
// the process. It negotiates the streaming transport first and degrades
// to long-polling when the socket endpoint is unreachable outright.
type Client struct {
	logger *slog.Logger
	config ClientConfig

	onMessage MessageHandler
	onConnect func()

	state atomic.Int32

	mu      sync.Mutex
	conn    *Conn
	polling bool

	httpc *http.Client
}

func NewClient(logger *slog.Logger, config ClientConfig, onMessage MessageHandler, onConnect func()) *Client {
	if config.ReconnectAttempts <= 0 {
		config.ReconnectAttempts = 5
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = time.Second
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 60 * time.Second
	}
	return &Client{
		logger:    logger.With(slog.String("component", "transport")),
		config:    config,
		onMessage: onMessage,
		onConnect: onConnect,
		httpc:     &http.Client{Timeout: 90 * time.Second},
	}
}

func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

// Run drives the connection until ctx is cancelled. It returns after
// the reconnect budget is exhausted following an established session;
// that degraded state is deliberate and silent.
func (c *Client) Run(ctx context.Context) {
	conn, err := c.dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// The streaming transport never came up. Fall back to polling.
		c.logger.Warn("websocket negotiation failed, degrading to long-poll", slog.Any("error", err))
		c.pollLoop(ctx)
		return
	}

	for {
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		conn.Run()
		c.setState(StateConnected)
		if c.onConnect != nil {
			c.onConnect()
		}

		<-conn.Done()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}

		conn, err = c.dial(ctx)
		if err != nil {
			c.logger.Warn("reconnect budget exhausted, staying disconnected", slog.Any("error", err))
			return
		}
	}
}

// dial attempts the websocket endpoint up to the configured budget with
// a fixed inter-attempt delay.
func (c *Client) dial(ctx context.Context) (*Conn, error) {
	var lastErr error
	c.setState(StateConnecting)
	for attempt := 0; attempt < c.config.ReconnectAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.config.ReconnectDelay):
			case <-ctx.Done():
				c.setState(StateDisconnected)
				return nil, ctx.Err()
			}
		}
		wsConn, _, err := websocket.Dial(ctx, wsEndpoint(c.config.URL), nil)
		if err != nil {
			lastErr = err
			c.logger.Debug("dial attempt failed", slog.Int("attempt", attempt+1), slog.Any("error", err))
			continue
		}
		return NewConn(ctx, wsConn, ConnConfig{ReadTimeout: c.config.ReadTimeout}, c.onMessage, nil, c.logger), nil
	}
	c.setState(StateDisconnected)
	return nil, lastErr
}

// Send queues an outbound frame on whichever transport mode is live.
// Frames sent while disconnected are dropped with a warning; callers
// re-send state-bearing messages on the next connect instead.
func (c *Client) Send(message []byte) {
	c.mu.Lock()
	conn := c.conn
	polling := c.polling
	c.mu.Unlock()

	switch {
	case conn != nil:
		conn.Send(message)
	case polling:
		go c.pollSend(message)
	default:
		c.logger.Warn("dropping frame, transport disconnected")
	}
}

// pollLoop is the degraded transport: it repeatedly long-polls the
// server for queued envelopes and replays them through onMessage.
func (c *Client) pollLoop(ctx context.Context) {
	c.mu.Lock()
	c.polling = true
	c.mu.Unlock()
	c.setState(StateConnected)
	if c.onConnect != nil {
		c.onConnect()
	}

	var since int64
	for {
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}
		frames, next, err := c.pollOnce(ctx, since)
		if err != nil {
			c.logger.Debug("poll request failed", slog.Any("error", err))
			select {
			case <-time.After(c.config.ReconnectDelay):
			case <-ctx.Done():
			}
			continue
		}
		since = next
		for _, frame := range frames {
			c.onMessage(ctx, frame)
		}
	}
}

type pollResponse struct {
	Since  int64             `json:"since"`
	Frames []json.RawMessage `json:"frames"`
}

func (c *Client) pollOnce(ctx context.Context, since int64) ([][]byte, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollEndpoint(c.config.URL, since), nil)
	if err != nil {
		return nil, since, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, since, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, since, err
	}
	var decoded pollResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, since, err
	}
	frames := make([][]byte, len(decoded.Frames))
	for i, f := range decoded.Frames {
		frames[i] = []byte(f)
	}
	return frames, decoded.Since, nil
}

func (c *Client) pollSend(message []byte) {
	resp, err := c.httpc.Post(emitEndpoint(c.config.URL), "application/json", bytes.NewReader(message))
	if err != nil {
		c.logger.Warn("poll-mode send failed", slog.Any("error", err))
		return
	}
	resp.Body.Close()
}

func wsEndpoint(base string) string {
	u := strings.TrimSuffix(base, "/")
	u = strings.Replace(u, "http", "ws", 1)
	return u + "/ws"
}

func pollEndpoint(base string, since int64) string {
	return strings.TrimSuffix(base, "/") + "/poll?since=" + strconv.FormatInt(since, 10)
}

func emitEndpoint(base string) string {
	return strings.TrimSuffix(base, "/") + "/emit"
}
