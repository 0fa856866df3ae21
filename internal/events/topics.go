package events

const (
	TopicConnStatus     = "conn.status"
	TopicMessageCreated = "message.created"
	TopicMessageStatus  = "message.status"
	TopicTyping         = "typing"
	TopicReadReceipt    = "read.receipt"
	TopicReaction       = "reaction"
	TopicPresence       = "presence"
)
