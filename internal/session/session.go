// Package session owns the live socket for the current scope: it dials,
// reconnects with bounded exponential backoff, fans decoded frames out on the
// bus, and drains the outbox after every successful reconnect.
package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"chatsync/internal/bus"
	"chatsync/internal/domain"
	"chatsync/internal/events"
	"chatsync/internal/protocol"
	"chatsync/internal/transport"
)

// Config tunes the reconnect loop. Zero values fall back to sane defaults.
type Config struct {
	BackoffFloor time.Duration
	BackoffCap   time.Duration
	MaxAttempts  int
	Keepalive    time.Duration
	WriteTimeout time.Duration
}

func (c *Config) fillDefaults() {
	if c.BackoffFloor <= 0 {
		c.BackoffFloor = time.Second
	}
	if c.BackoffCap < c.BackoffFloor {
		c.BackoffCap = 15 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.Keepalive <= 0 {
		c.Keepalive = 25 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 8 * time.Second
	}
}

// Session maintains at most one live socket. Switching scope tears the
// previous connector down completely before the new one dials, so events are
// never delivered twice for a stale scope.
type Session struct {
	logger    *slog.Logger
	transport transport.Transport
	bus       bus.MessageBus
	outbox    *Outbox
	cfg       Config

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	scope  string

	connected atomic.Bool
}

func New(logger *slog.Logger, b bus.MessageBus, tr transport.Transport, outbox *Outbox, cfg Config) *Session {
	if logger == nil {
		logger = slog.Default().With("component", "session")
	}
	cfg.fillDefaults()
	return &Session{
		logger:    logger,
		transport: tr,
		bus:       b,
		outbox:    outbox,
		cfg:       cfg,
	}
}

// Connect starts the connector loop for the given scope. Any previous loop is
// fully torn down first; the reconnect attempt budget starts fresh.
func (s *Session) Connect(ctx context.Context, scope string) {
	s.teardown()

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.scope = scope
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.runConnector(loopCtx, scope)
	}()
}

// Disconnect stops the connector loop and closes the socket. Safe to call
// when already disconnected.
func (s *Session) Disconnect() {
	stopped := s.teardown()
	if stopped {
		s.publishStatus(events.ConnectionStateDisconnected, "", nil, 0, false)
	}
}

func (s *Session) teardown() bool {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.scope = ""
	s.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	if done != nil {
		<-done
	}
	return true
}

// Scope returns the scope the session is currently addressing.
func (s *Session) Scope() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scope
}

func (s *Session) Connected() bool {
	return s.connected.Load()
}

// Send attempts synchronous transmission. It returns false when the socket is
// down or the write fails; the frame is not retained here, queueing is the
// caller's job.
func (s *Session) Send(payload []byte) bool {
	if !s.connected.Load() {
		return false
	}
	writeCtx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()
	if err := s.transport.WriteFrame(writeCtx, payload); err != nil {
		s.logger.Warn("send failed", "error", err)
		return false
	}
	return true
}

func (s *Session) runConnector(ctx context.Context, scope string) {
	backoff := s.cfg.BackoffFloor
	attempt := 0

	defer func() {
		s.connected.Store(false)
		_ = s.transport.Close()
	}()

	for {
		if err := ctx.Err(); err != nil {
			return
		}

		s.publishStatus(events.ConnectionStateConnecting, scope, nil, attempt, false)
		if err := s.transport.Connect(ctx, scope); err != nil {
			attempt++
			s.logger.Error("transport connect failed", "scope", scope, "attempt", attempt, "error", err)
			if attempt >= s.cfg.MaxAttempts {
				s.publishStatus(events.ConnectionStateDisconnected, scope, err, attempt, true)
				return
			}
			s.publishStatus(events.ConnectionStateReconnecting, scope, err, attempt, false)
			if !sleepWithContext(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, s.cfg.BackoffCap)
			continue
		}

		backoff = s.cfg.BackoffFloor
		attempt = 0
		s.connected.Store(true)
		s.publishStatus(events.ConnectionStateConnected, scope, nil, 0, false)
		s.drainOutbox()

		connCtx, cancelConn := context.WithCancel(ctx)
		go s.runKeepAlive(connCtx)

		// A blocked ReadFrame only returns once the socket closes, so teardown
		// must close the conn instead of waiting out the read deadline.
		unblocked := make(chan struct{})
		go func() {
			defer close(unblocked)
			<-connCtx.Done()
			_ = s.transport.Close()
		}()

		err := s.runReader(connCtx)
		cancelConn()
		<-unblocked
		s.connected.Store(false)
		_ = s.transport.Close()

		if ctx.Err() != nil {
			return
		}

		attempt++
		if attempt >= s.cfg.MaxAttempts {
			s.publishStatus(events.ConnectionStateDisconnected, scope, err, attempt, true)
			return
		}
		s.publishStatus(events.ConnectionStateReconnecting, scope, err, attempt, false)
		if !sleepWithContext(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, s.cfg.BackoffCap)
	}
}

// runReader dispatches frames in arrival order. A frame that fails to decode
// is dropped; the next frame on the same socket is processed normally.
func (s *Session) runReader(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		payload, err := s.transport.ReadFrame(ctx)
		if err != nil {
			return err
		}

		event, err := protocol.Decode(payload)
		if err != nil {
			s.logger.Warn("decode frame failed", "error", err)
			continue
		}
		s.bus.Publish(event.Topic, event.Payload)
	}
}

func (s *Session) runKeepAlive(ctx context.Context) {
	pinger, ok := s.transport.(transport.Pinger)
	if !ok {
		return
	}

	ticker := time.NewTicker(s.cfg.Keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
			err := pinger.Ping(pingCtx)
			cancel()
			if err != nil {
				s.logger.Debug("keepalive ping failed", "error", err)
			}
		}
	}
}

// drainOutbox retries queued frames once each, in FIFO order. Leftovers are
// surfaced as failed deliveries requiring an explicit user retry.
func (s *Session) drainOutbox() {
	if s.outbox == nil || s.outbox.Len() == 0 {
		return
	}

	failed := s.outbox.DrainAndRetry(func(frame PendingFrame) bool {
		return s.Send(frame.Payload)
	})
	for _, frame := range failed {
		s.logger.Warn("queued frame failed on retry", "correlation_id", frame.CorrelationID)
		s.bus.Publish(events.TopicMessageStatus, domain.MessageStatusUpdate{
			CorrelationID: frame.CorrelationID,
			MessageID:     frame.MessageID,
			Status:        domain.MessageStatusFailed,
			Reason:        "retry after reconnect failed",
		})
	}
}

func (s *Session) publishStatus(state events.ConnectionState, scope string, err error, attempt int, terminal bool) {
	status := events.ConnectionStatus{
		State:     state,
		Scope:     scope,
		Attempt:   attempt,
		Terminal:  terminal,
		Timestamp: time.Now(),
	}
	if err != nil {
		status.Err = err.Error()
	}
	s.bus.Publish(events.TopicConnStatus, status)
}

func nextBackoff(current, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit {
		return limit
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
