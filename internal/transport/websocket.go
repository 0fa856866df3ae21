package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	maxFrameSize        = 64 * 1024
	defaultReadWindow   = 60 * time.Second
	defaultWriteWindow  = 10 * time.Second
	handshakeTimeout    = 10 * time.Second
	presenceScopeSuffix = "presence"
)

var errNotConnected = errors.New("websocket is not connected")

// WebSocketTransport maintains one socket addressed by scope. Connecting
// while already connected closes the stale socket first so two sockets never
// race for the same scope.
type WebSocketTransport struct {
	baseURL string
	token   func() (string, error)
	dialer  *websocket.Dialer

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	scope   string
}

func NewWebSocketTransport(baseURL string, token func() (string, error)) *WebSocketTransport {
	return &WebSocketTransport{
		baseURL: baseURL,
		token:   token,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

func (t *WebSocketTransport) Name() string {
	return "websocket"
}

func (t *WebSocketTransport) Scope() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.scope
}

func (t *WebSocketTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.conn != nil
}

func (t *WebSocketTransport) Connect(ctx context.Context, scope string) error {
	target, err := t.scopeURL(scope)
	if err != nil {
		return err
	}
	logger := transportLogger("websocket", "scope", scopeLabel(scope))

	t.mu.Lock()
	if t.conn != nil {
		logger.Debug("closing stale connection before dial")
		_ = t.conn.Close()
		t.conn = nil
	}
	t.mu.Unlock()

	logger.Info("connecting")
	conn, resp, err := t.dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		logger.Warn("connect failed", "error", err)

		return fmt.Errorf("dial websocket: %w", err)
	}

	conn.SetReadLimit(maxFrameSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(defaultReadWindow))
	})

	t.mu.Lock()
	t.conn = conn
	t.scope = scope
	t.mu.Unlock()
	logger.Info("connected")

	return nil
}

func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.scope = ""
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))

	return conn.Close()
}

func (t *WebSocketTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	conn := t.current()
	if conn == nil {
		return nil, errNotConnected
	}

	deadline := time.Now().Add(defaultReadWindow)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}

	_, payload, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read websocket frame: %w", err)
	}

	return payload, nil
}

func (t *WebSocketTransport) WriteFrame(ctx context.Context, payload []byte) error {
	conn := t.current()
	if conn == nil {
		return errNotConnected
	}

	deadline := time.Now().Add(defaultWriteWindow)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write websocket frame: %w", err)
	}

	return nil
}

func (t *WebSocketTransport) Ping(ctx context.Context) error {
	conn := t.current()
	if conn == nil {
		return errNotConnected
	}

	deadline := time.Now().Add(defaultWriteWindow)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	return conn.WriteControl(websocket.PingMessage, nil, deadline)
}

func (t *WebSocketTransport) current() *websocket.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.conn
}

func (t *WebSocketTransport) scopeURL(scope string) (string, error) {
	u, err := url.Parse(t.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse websocket url: %w", err)
	}
	if scope == "" {
		u = u.JoinPath(presenceScopeSuffix)
	} else {
		u = u.JoinPath("conversations", scope)
	}

	if t.token != nil {
		token, err := t.token()
		if err != nil {
			return "", fmt.Errorf("resolve access token: %w", err)
		}
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

func scopeLabel(scope string) string {
	if scope == "" {
		return presenceScopeSuffix
	}

	return scope
}
