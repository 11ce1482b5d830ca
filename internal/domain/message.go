package domain

import (
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a requested record does not exist
// or is not visible to the caller.
var ErrNotFound = errors.New("not found")

// Message is a direct message between two users.
type Message struct {
	ID         string
	SenderID   string
	ReceiverID string
	Content    string
	CreatedAt  time.Time
	IsRead     bool
	ReadAt     *time.Time
	IsDeleted  bool
	DeletedAt  *time.Time
}

// Counterparty returns the participant of m that is not viewerID. It reports
// false when m does not involve the viewer, is addressed to the sender, or is
// missing a participant.
func (m Message) Counterparty(viewerID string) (string, bool) {
	if viewerID == "" || m.SenderID == "" || m.ReceiverID == "" || m.SenderID == m.ReceiverID {
		return "", false
	}
	switch viewerID {
	case m.ReceiverID:
		return m.SenderID, true
	case m.SenderID:
		return m.ReceiverID, true
	}
	return "", false
}

// UnreadBy reports whether m counts as unread for viewerID.
func (m Message) UnreadBy(viewerID string) bool {
	return !m.IsDeleted && !m.IsRead && m.ReceiverID == viewerID
}
