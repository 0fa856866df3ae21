package transport

import "context"

// Transport carries framed traffic for one scope at a time. A scope is either
// a conversation id or the empty string for the global presence channel.
type Transport interface {
	Name() string
	Connect(ctx context.Context, scope string) error
	Close() error
	Scope() string
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, payload []byte) error
}

// Pinger is implemented by transports with a protocol-level keepalive.
type Pinger interface {
	Ping(ctx context.Context) error
}
