package notifications

// Payload carries what a notification shows the user, typically a sender name
// as the title and a message preview as the content.
type Payload struct {
	Title   string
	Content string
}

// Sender delivers a notification through a platform backend. Implementations
// must not block on user interaction.
type Sender interface {
	Send(payload Payload)
}
