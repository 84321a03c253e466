package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const defaultReconnectDelay = 5 * time.Second

// WebSocketNotifier receives server-pushed change events of the form
// {"key": "academyCourses"} and dispatches them to subscribers.
type WebSocketNotifier struct {
	url            string
	header         http.Header
	reconnectDelay time.Duration
	subs           subscribers
}

// WebSocketOption configures a WebSocketNotifier.
type WebSocketOption func(*WebSocketNotifier)

// WithHeader sets headers sent on the websocket handshake.
func WithHeader(h http.Header) WebSocketOption {
	return func(n *WebSocketNotifier) {
		n.header = h
	}
}

// WithReconnectDelay sets the pause between reconnect attempts.
func WithReconnectDelay(d time.Duration) WebSocketOption {
	return func(n *WebSocketNotifier) {
		n.reconnectDelay = d
	}
}

// NewWebSocketNotifier creates a notifier for the change feed at url.
func NewWebSocketNotifier(url string, opts ...WebSocketOption) (*WebSocketNotifier, error) {
	if url == "" {
		return nil, fmt.Errorf("change feed URL is empty")
	}
	n := &WebSocketNotifier{url: url, reconnectDelay: defaultReconnectDelay}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

func (n *WebSocketNotifier) OnExternalChange(prefix string, fn func(string)) func() {
	return n.subs.add(prefix, fn)
}

// Run consumes the feed until ctx is done, reconnecting after failures.
func (n *WebSocketNotifier) Run(ctx context.Context) error {
	for {
		err := n.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("change feed disconnected", "url", n.url, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(n.reconnectDelay):
		}
	}
}

type changeEvent struct {
	Key string `json:"key"`
}

func (n *WebSocketNotifier) consume(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, n.url, &websocket.DialOptions{HTTPHeader: n.header})
	if err != nil {
		return fmt.Errorf("dial change feed: %w", err)
	}
	defer conn.CloseNow()

	slog.Info("change feed connected", "url", n.url)
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read change feed: %w", err)
		}
		if typ != websocket.MessageText {
			continue
		}
		var ev changeEvent
		if err := json.Unmarshal(data, &ev); err != nil || ev.Key == "" {
			slog.Warn("ignoring malformed change event", "error", err)
			continue
		}
		n.subs.notify(ev.Key)
	}
}
