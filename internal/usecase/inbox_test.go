package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"shikkha-messages/internal/domain"
	"shikkha-messages/internal/inbox"
)

func TestInbox_NoMessages(t *testing.T) {
	dir := defaultDirectory()
	svc := newTestService(t, &memStore{}, dir)

	out, err := svc.Inbox(context.Background(), "v")
	require.NoError(t, err)
	require.NotNil(t, out.Conversations)
	require.Empty(t, out.Conversations)
	require.Empty(t, dir.calls, "no directory lookup without counterparties")
}

func TestInbox_MissingViewer(t *testing.T) {
	store := &memStore{}
	svc := newTestService(t, store, defaultDirectory())
	_, err := svc.Inbox(context.Background(), "  ")
	expectError(t, err, ErrorNotAuthenticated, "missing_viewer")
	require.Zero(t, store.findCalls)
}

func TestInbox_SingleConversation(t *testing.T) {
	store := &memStore{msgs: []domain.Message{
		message("a", "x", "v", 1, true),
		message("b", "x", "v", 2, false),
	}}
	svc := newTestService(t, store, defaultDirectory())

	out, err := svc.Inbox(context.Background(), "v")
	require.NoError(t, err)
	require.Len(t, out.Conversations, 1)
	got := out.Conversations[0]
	require.Equal(t, "b", got.LastMessage.ID)
	require.Equal(t, 1, got.UnreadCount)
	require.Equal(t, "rahim", got.Counterparty.Username)
	require.Equal(t, "teacher", got.Counterparty.Role)
	require.Empty(t, out.Unresolved)
}

func TestInbox_SentMessageNotUnread(t *testing.T) {
	store := &memStore{msgs: []domain.Message{message("a", "v", "x", 1, false)}}
	svc := newTestService(t, store, defaultDirectory())

	out, err := svc.Inbox(context.Background(), "v")
	require.NoError(t, err)
	require.Len(t, out.Conversations, 1)
	require.Zero(t, out.Conversations[0].UnreadCount)
}

func TestInbox_SoftDeletedExcluded(t *testing.T) {
	deleted := message("c", "x", "v", 30, false)
	deleted.IsDeleted = true
	store := &memStore{msgs: []domain.Message{
		message("a", "x", "v", 10, true),
		message("b", "v", "x", 20, false),
		deleted,
	}}
	svc := newTestService(t, store, defaultDirectory())

	out, err := svc.Inbox(context.Background(), "v")
	require.NoError(t, err)
	require.Equal(t, "b", out.Conversations[0].LastMessage.ID)
	require.Zero(t, out.Conversations[0].UnreadCount)
}

func TestInbox_OrdersByLatestMessage(t *testing.T) {
	store := &memStore{msgs: []domain.Message{
		message("x1", "x", "v", 10, false),
		message("y1", "y", "v", 20, false),
	}}
	svc := newTestService(t, store, defaultDirectory())

	out, err := svc.Inbox(context.Background(), "v")
	require.NoError(t, err)
	require.Equal(t, []string{"y", "x"}, inbox.CounterpartyIDs(out.Conversations))
}

func TestInbox_ResolvesProfilesInOneCall(t *testing.T) {
	store := &memStore{msgs: []domain.Message{
		message("x1", "x", "v", 1, false),
		message("x2", "x", "v", 2, false),
		message("y1", "y", "v", 3, false),
		message("y2", "v", "y", 4, false),
	}}
	dir := defaultDirectory()
	svc := newTestService(t, store, dir)

	_, err := svc.Inbox(context.Background(), "v")
	require.NoError(t, err)
	require.Len(t, dir.calls, 1)
	require.ElementsMatch(t, []string{"x", "y"}, dir.calls[0])
}

func TestInbox_UnresolvedCounterpartyGetsPlaceholder(t *testing.T) {
	store := &memStore{msgs: []domain.Message{
		message("a", "x", "v", 1, false),
		message("b", "deleted-user", "v", 2, false),
	}}
	svc := newTestService(t, store, defaultDirectory())

	out, err := svc.Inbox(context.Background(), "v")
	require.NoError(t, err)
	require.Len(t, out.Conversations, 2)
	require.Equal(t, inbox.UnknownUsername, out.Conversations[0].Counterparty.Username)
	require.Equal(t, "deleted-user", out.Conversations[0].Counterparty.ID)
	require.Equal(t, []string{"deleted-user"}, out.Unresolved)
}

func TestInbox_StoreErrors(t *testing.T) {
	cause := errors.New("dynamodb down")
	svc := newTestService(t, &memStore{findErr: cause}, defaultDirectory())
	_, err := svc.Inbox(context.Background(), "v")
	expectError(t, err, ErrorStoreUnavailable, "message_store_read_error")
	require.ErrorIs(t, err, cause)

	store := &memStore{msgs: []domain.Message{message("a", "x", "v", 1, false)}}
	svc = newTestService(t, store, &mockDirectory{err: cause})
	_, err = svc.Inbox(context.Background(), "v")
	expectError(t, err, ErrorStoreUnavailable, "user_directory_read_error")
}

func TestInbox_IsReadOnly(t *testing.T) {
	store := &memStore{msgs: []domain.Message{message("a", "x", "v", 1, false)}}
	svc := newTestService(t, store, defaultDirectory())

	first, err := svc.Inbox(context.Background(), "v")
	require.NoError(t, err)
	second, err := svc.Inbox(context.Background(), "v")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.False(t, store.msgs[0].IsRead)
}

func TestMarkRead_Idempotent(t *testing.T) {
	fixClock(t, t0.Add(time.Hour))
	store := &memStore{msgs: []domain.Message{
		message("a", "x", "v", 1, false),
		message("b", "x", "v", 2, false),
		message("c", "v", "x", 3, false),
		message("d", "y", "v", 4, false),
	}}
	svc := newTestService(t, store, defaultDirectory())

	n, err := svc.MarkRead(context.Background(), "v", "x")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, t0.Add(time.Hour), *store.msgs[0].ReadAt)

	n, err = svc.MarkRead(context.Background(), "v", "x")
	require.NoError(t, err)
	require.Zero(t, n)

	out, err := svc.Inbox(context.Background(), "v")
	require.NoError(t, err)
	for _, c := range out.Conversations {
		if c.CounterpartyID == "x" {
			require.Zero(t, c.UnreadCount)
		} else {
			require.Equal(t, 1, c.UnreadCount)
		}
	}
	require.False(t, store.msgs[2].IsRead, "viewer's own sent message is untouched")
}

func TestMarkRead_Validation(t *testing.T) {
	svc := newTestService(t, &memStore{}, defaultDirectory())
	_, err := svc.MarkRead(context.Background(), "", "x")
	expectError(t, err, ErrorNotAuthenticated, "missing_viewer")

	_, err = svc.MarkRead(context.Background(), "v", " ")
	expectError(t, err, ErrorInvalidInput, "missing_conversation_user")
}

func TestMarkRead_StoreError(t *testing.T) {
	svc := newTestService(t, &memStore{markErr: errors.New("throttled")}, defaultDirectory())
	_, err := svc.MarkRead(context.Background(), "v", "x")
	expectError(t, err, ErrorStoreUnavailable, "message_store_write_error")
}

func TestUnreadTotal_MatchesUnreadMessages(t *testing.T) {
	deleted := message("e", "x", "v", 5, false)
	deleted.IsDeleted = true
	store := &memStore{msgs: []domain.Message{
		message("a", "x", "v", 1, false),
		message("b", "x", "v", 2, true),
		message("c", "y", "v", 3, false),
		message("d", "v", "y", 4, false),
		deleted,
	}}
	svc := newTestService(t, store, defaultDirectory())

	total, err := svc.UnreadTotal(context.Background(), "v")
	require.NoError(t, err)
	require.Equal(t, 2, total)

	out, err := svc.Inbox(context.Background(), "v")
	require.NoError(t, err)
	require.Equal(t, total, inbox.UnreadTotal(out.Conversations))
}

func TestUnreadTotal_Errors(t *testing.T) {
	svc := newTestService(t, &memStore{findErr: errors.New("down")}, defaultDirectory())
	_, err := svc.UnreadTotal(context.Background(), "v")
	expectError(t, err, ErrorStoreUnavailable, "message_store_read_error")

	_, err = svc.UnreadTotal(context.Background(), "")
	expectError(t, err, ErrorNotAuthenticated, "missing_viewer")
}
