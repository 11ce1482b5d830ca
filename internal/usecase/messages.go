package usecase

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"shikkha-messages/internal/domain"
)

type SendInput struct {
	SenderID   string
	ReceiverID string
	Content    string
}

// Send stores a new unread message from in.SenderID to in.ReceiverID.
func (s *MessageService) Send(ctx context.Context, in SendInput) (domain.Message, error) {
	senderID, err := requireViewer(in.SenderID)
	if err != nil {
		return domain.Message{}, err
	}
	receiverID := strings.TrimSpace(in.ReceiverID)
	if receiverID == "" {
		return domain.Message{}, newError(ErrorInvalidInput, "missing_receiver", nil)
	}
	if receiverID == senderID {
		return domain.Message{}, newError(ErrorInvalidInput, "self_message", nil)
	}
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return domain.Message{}, newError(ErrorInvalidInput, "empty_content", nil)
	}
	if utf8.RuneCountInString(content) > s.maxContentLen {
		return domain.Message{}, newError(ErrorInvalidInput, "content_too_long", nil)
	}

	profiles, err := s.directory.ResolveProfiles(ctx, []string{receiverID})
	if err != nil {
		return domain.Message{}, newError(ErrorStoreUnavailable, "user_directory_read_error", err)
	}
	if _, ok := profiles[receiverID]; !ok {
		return domain.Message{}, newError(ErrorNotFound, "receiver_not_found", nil)
	}

	msg := domain.Message{
		ID:         newMessageID(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  now(),
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return domain.Message{}, newError(ErrorStoreUnavailable, "message_store_write_error", err)
	}
	return msg, nil
}

// Conversation returns the messages between viewerID and counterpartyID in
// chronological order. It does not mark anything read.
func (s *MessageService) Conversation(ctx context.Context, viewerID, counterpartyID string) ([]domain.Message, error) {
	viewerID, err := requireViewer(viewerID)
	if err != nil {
		return nil, err
	}
	counterpartyID = strings.TrimSpace(counterpartyID)
	if counterpartyID == "" {
		return nil, newError(ErrorInvalidInput, "missing_conversation_user", nil)
	}

	msgs, err := s.store.FindConversation(ctx, viewerID, counterpartyID)
	if err != nil {
		return nil, newError(ErrorStoreUnavailable, "message_store_read_error", err)
	}
	out := make([]domain.Message, 0, len(msgs))
	for _, m := range msgs {
		if !m.IsDeleted {
			out = append(out, m)
		}
	}
	return out, nil
}

// Delete soft-deletes a message. Only its sender may delete it; deleting an
// already deleted message succeeds without another write.
func (s *MessageService) Delete(ctx context.Context, viewerID, messageID string) error {
	viewerID, err := requireViewer(viewerID)
	if err != nil {
		return err
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return newError(ErrorInvalidInput, "missing_message_id", nil)
	}

	msg, err := s.store.GetMessage(ctx, viewerID, messageID)
	if errors.Is(err, domain.ErrNotFound) {
		return newError(ErrorNotFound, "message_not_found", err)
	}
	if err != nil {
		return newError(ErrorStoreUnavailable, "message_store_read_error", err)
	}
	if msg.SenderID != viewerID {
		return newError(ErrorForbidden, "not_message_sender", nil)
	}
	if msg.IsDeleted {
		return nil
	}

	if err := s.store.MarkDeleted(ctx, msg, now()); err != nil {
		return newError(ErrorStoreUnavailable, "message_store_write_error", err)
	}
	return nil
}
