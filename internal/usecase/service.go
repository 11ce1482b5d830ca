package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"shikkha-messages/internal/domain"
)

const defaultMaxContentLen = 2000

// MessageStore is the persistence the service needs. Implementations must
// return FindMessagesInvolving results newest first and exclude deleted
// messages from every read.
type MessageStore interface {
	FindMessagesInvolving(ctx context.Context, userID string) ([]domain.Message, error)
	FindConversation(ctx context.Context, userID, counterpartyID string) ([]domain.Message, error)
	GetMessage(ctx context.Context, ownerID, messageID string) (domain.Message, error)
	CreateMessage(ctx context.Context, msg domain.Message) error
	BulkMarkRead(ctx context.Context, receiverID, senderID string, readAt time.Time) (int, error)
	MarkDeleted(ctx context.Context, msg domain.Message, deletedAt time.Time) error
}

// UserDirectory resolves display profiles. Unknown ids are simply absent from
// the returned map.
type UserDirectory interface {
	ResolveProfiles(ctx context.Context, ids []string) (map[string]domain.Profile, error)
}

type MessageService struct {
	store         MessageStore
	directory     UserDirectory
	maxContentLen int
}

func NewMessageService(store MessageStore, directory UserDirectory, maxContentLen int) (*MessageService, error) {
	if store == nil {
		return nil, errors.New("usecase: message store must not be nil")
	}
	if directory == nil {
		return nil, errors.New("usecase: user directory must not be nil")
	}
	if maxContentLen <= 0 {
		maxContentLen = defaultMaxContentLen
	}
	return &MessageService{
		store:         store,
		directory:     directory,
		maxContentLen: maxContentLen,
	}, nil
}

func requireViewer(viewerID string) (string, error) {
	viewerID = strings.TrimSpace(viewerID)
	if viewerID == "" {
		return "", newError(ErrorNotAuthenticated, "missing_viewer", nil)
	}
	return viewerID, nil
}

var newMessageID = func() string {
	return uuid.Must(uuid.NewV7()).String()
}

var now = func() time.Time {
	return time.Now().UTC()
}
