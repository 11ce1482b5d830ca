package usecase

import (
	"context"
	"strings"

	"shikkha-messages/internal/domain"
	"shikkha-messages/internal/inbox"
)

type InboxOutput struct {
	Conversations []domain.ConversationSummary
	// Unresolved lists counterparties shown with a placeholder profile.
	Unresolved []string
}

// Inbox returns one summary per counterparty of viewerID, most recently
// active first. It has no side effects.
func (s *MessageService) Inbox(ctx context.Context, viewerID string) (InboxOutput, error) {
	viewerID, err := requireViewer(viewerID)
	if err != nil {
		return InboxOutput{}, err
	}

	msgs, err := s.store.FindMessagesInvolving(ctx, viewerID)
	if err != nil {
		return InboxOutput{}, newError(ErrorStoreUnavailable, "message_store_read_error", err)
	}

	summaries := inbox.Aggregate(viewerID, msgs)
	if len(summaries) == 0 {
		return InboxOutput{Conversations: summaries}, nil
	}

	profiles, err := s.directory.ResolveProfiles(ctx, inbox.CounterpartyIDs(summaries))
	if err != nil {
		return InboxOutput{}, newError(ErrorStoreUnavailable, "user_directory_read_error", err)
	}
	unresolved := inbox.AttachProfiles(summaries, profiles)

	return InboxOutput{Conversations: summaries, Unresolved: unresolved}, nil
}

// MarkRead marks every unread message from counterpartyID to viewerID as read
// and returns how many changed. A second call in a row returns 0.
func (s *MessageService) MarkRead(ctx context.Context, viewerID, counterpartyID string) (int, error) {
	viewerID, err := requireViewer(viewerID)
	if err != nil {
		return 0, err
	}
	counterpartyID = strings.TrimSpace(counterpartyID)
	if counterpartyID == "" {
		return 0, newError(ErrorInvalidInput, "missing_conversation_user", nil)
	}

	n, err := s.store.BulkMarkRead(ctx, viewerID, counterpartyID, now())
	if err != nil {
		return 0, newError(ErrorStoreUnavailable, "message_store_write_error", err)
	}
	return n, nil
}

// UnreadTotal is the number of unread messages addressed to viewerID across
// all conversations.
func (s *MessageService) UnreadTotal(ctx context.Context, viewerID string) (int, error) {
	viewerID, err := requireViewer(viewerID)
	if err != nil {
		return 0, err
	}
	msgs, err := s.store.FindMessagesInvolving(ctx, viewerID)
	if err != nil {
		return 0, newError(ErrorStoreUnavailable, "message_store_read_error", err)
	}
	return inbox.UnreadTotal(inbox.Aggregate(viewerID, msgs)), nil
}
