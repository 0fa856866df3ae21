package session

import "sync"

// PendingFrame is an outbound frame held while the socket is down, together
// with the identifiers needed to surface a failed-delivery status if the
// retry fails too.
type PendingFrame struct {
	CorrelationID string
	MessageID     string
	Payload       []byte
}

// Outbox is the FIFO holding area for frames that could not be transmitted.
// Order is preserved so queueing cannot scramble message order within a
// conversation.
type Outbox struct {
	mu    sync.Mutex
	items []PendingFrame
}

func NewOutbox() *Outbox {
	return &Outbox{}
}

func (o *Outbox) Enqueue(frame PendingFrame) {
	o.mu.Lock()
	o.items = append(o.items, frame)
	o.mu.Unlock()
}

// Remove drops queued frames belonging to one message, matched by correlation
// id or message id. It reports whether anything was removed.
func (o *Outbox) Remove(correlationID, messageID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	kept := o.items[:0]
	for _, frame := range o.items {
		match := (correlationID != "" && frame.CorrelationID == correlationID) ||
			(messageID != "" && frame.MessageID == messageID)
		if !match {
			kept = append(kept, frame)
		}
	}
	removed := len(kept) < len(o.items)
	o.items = kept
	return removed
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}

// DrainAndRetry pops head-first and calls send once per frame. Frames that
// fail again are returned, not re-enqueued, so a dead link cannot trap the
// client in a retry loop; the caller surfaces them as failed deliveries.
func (o *Outbox) DrainAndRetry(send func(PendingFrame) bool) []PendingFrame {
	o.mu.Lock()
	pending := o.items
	o.items = nil
	o.mu.Unlock()

	var failed []PendingFrame
	for _, frame := range pending {
		if !send(frame) {
			failed = append(failed, frame)
		}
	}
	return failed
}
