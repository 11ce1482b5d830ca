package domain

// Profile holds the display fields of a user as resolved from the directory.
type Profile struct {
	ID        string
	Username  string
	Role      string
	AvatarURL string
}

// ConversationSummary is one inbox row: the latest message exchanged with a
// counterparty and how many of their messages the viewer has not read.
// It is derived on every request and never persisted.
type ConversationSummary struct {
	CounterpartyID string
	Counterparty   Profile
	LastMessage    Message
	UnreadCount    int
}
