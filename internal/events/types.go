package events

import "time"

// ConnectionState describes the session lifecycle state shown to consumers.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateReconnecting ConnectionState = "reconnecting"
)

// ConnectionStatus is a bus event snapshot of current session status.
// Terminal is set when the reconnect budget is exhausted; only an explicit
// Connect call can bring the session back after that.
type ConnectionStatus struct {
	State     ConnectionState
	Err       string
	Scope     string
	Attempt   int
	Terminal  bool
	Timestamp time.Time
}

// PresenceUpdate reports a participant going online or offline.
type PresenceUpdate struct {
	UserID string
	Online bool
	At     time.Time
}

// ReadReceipt reports a message having been read by a participant.
type ReadReceipt struct {
	ConversationID string
	MessageID      string
	UserID         string
	At             time.Time
}

// ReactionUpdate reports a reaction added to or removed from a message.
type ReactionUpdate struct {
	ConversationID string
	MessageID      string
	UserID         string
	Emoji          string
	Removed        bool
}
