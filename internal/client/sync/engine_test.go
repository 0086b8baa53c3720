package sync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"crm-messaging/internal/models"
)

type transportStub struct {
	mu        sync.Mutex
	connected bool
	emitted   []models.Frame
	emitErr   error
}

func (t *transportStub) Emit(event string, payload any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.emitErr != nil {
		return t.emitErr
	}
	t.emitted = append(t.emitted, models.NewFrame(event, payload))
	return nil
}

func (t *transportStub) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *transportStub) events() []models.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.Frame, len(t.emitted))
	copy(out, t.emitted)
	return out
}

type storeMock struct {
	mock.Mock
}

func (m *storeMock) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, msg)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *storeMock) ListConversations(ctx context.Context, userID int) ([]ConversationView, error) {
	args := m.Called(ctx, userID)
	var out []ConversationView
	if val := args.Get(0); val != nil {
		out = val.([]ConversationView)
	}
	return out, args.Error(1)
}

func (m *storeMock) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	args := m.Called(ctx, conversationID)
	var out []models.Message
	if val := args.Get(0); val != nil {
		out = val.([]models.Message)
	}
	return out, args.Error(1)
}

func (m *storeMock) ToggleReaction(ctx context.Context, messageID string, userID int, emoji string) ([]models.Reaction, error) {
	args := m.Called(ctx, messageID, userID, emoji)
	var out []models.Reaction
	if val := args.Get(0); val != nil {
		out = val.([]models.Reaction)
	}
	return out, args.Error(1)
}

func (m *storeMock) InsertReceipts(ctx context.Context, receipts []models.ReadReceipt) error {
	args := m.Called(ctx, receipts)
	return args.Error(0)
}

func (m *storeMock) ListReceipts(ctx context.Context, messageIDs []string) ([]models.ReadReceipt, error) {
	args := m.Called(ctx, messageIDs)
	var out []models.ReadReceipt
	if val := args.Get(0); val != nil {
		out = val.([]models.ReadReceipt)
	}
	return out, args.Error(1)
}

type notifierMock struct {
	mock.Mock
}

func (m *notifierMock) NotifyOffline(ctx context.Context, n OfflineNotification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

var _ Store = (*storeMock)(nil)
var _ Notifier = (*notifierMock)(nil)

func newTestEngine(connected bool) (*Engine, *transportStub, *storeMock, *notifierMock) {
	tr := &transportStub{connected: connected}
	store := new(storeMock)
	notifier := new(notifierMock)
	engine := NewEngine(tr, store, notifier, 1, nil)
	engine.upsertConversation(models.Conversation{ID: "c1", Kind: models.KindDirect}, models.RoleMember)
	return engine, tr, store, notifier
}

func TestSendOfflineUsesFallbackPath(t *testing.T) {
	engine, _, store, notifier := newTestEngine(false)

	store.On("CreateMessage", mock.Anything, mock.Anything).Return(models.Message{}, nil).Once()
	notifier.On("NotifyOffline", mock.Anything, mock.MatchedBy(func(n OfflineNotification) bool {
		return n.Content == "hello" && n.ConversationID == "c1" && n.SenderID == 1
	})).Return(nil).Once()

	msg, err := engine.Send(context.Background(), Draft{ConversationID: "c1", Content: "hello"})
	require.NoError(t, err)

	// The local copy renders immediately, without confirmation.
	msgs := engine.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)

	state, ok := engine.State(msg.ID)
	require.True(t, ok)
	assert.Equal(t, StateQueuedFallback, state)

	store.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestSendConnectedDefersToServerEcho(t *testing.T) {
	engine, tr, store, notifier := newTestEngine(true)

	store.On("CreateMessage", mock.Anything, mock.Anything).Return(models.Message{}, nil).Once()

	msg, err := engine.Send(context.Background(), Draft{ConversationID: "c1", Content: "hi there"})
	require.NoError(t, err)

	assert.Empty(t, engine.Messages("c1"), "no optimistic insert while connected")
	require.Len(t, tr.events(), 1)
	assert.Equal(t, models.EventSendMessage, tr.events()[0].Event)

	// Server echo arrives under a different id within the dedup window.
	echo := models.Message{
		ID:             "server-id-1",
		ConversationID: "c1",
		SenderID:       1,
		Content:        "hi there",
		SentAt:         msg.SentAt.Add(300 * time.Millisecond),
	}
	engine.Accept(echo)
	engine.Accept(echo)

	msgs := engine.Messages("c1")
	require.Len(t, msgs, 1, "echo and optimistic copy collapse to one message")
	assert.Equal(t, "server-id-1", msgs[0].ID)

	notifier.AssertNotCalled(t, "NotifyOffline", mock.Anything, mock.Anything)
	store.AssertExpectations(t)
}

func TestAcceptDeduplicatesOptimisticCopy(t *testing.T) {
	engine, _, store, notifier := newTestEngine(false)

	store.On("CreateMessage", mock.Anything, mock.Anything).Return(models.Message{}, nil).Once()
	notifier.On("NotifyOffline", mock.Anything, mock.Anything).Return(nil).Once()

	sent, err := engine.Send(context.Background(), Draft{ConversationID: "c1", Content: "dup"})
	require.NoError(t, err)

	engine.Accept(models.Message{
		ID:             "srv-9",
		ConversationID: "c1",
		SenderID:       1,
		Content:        "dup",
		SentAt:         sent.SentAt.Add(700 * time.Millisecond),
	})

	msgs := engine.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "srv-9", msgs[0].ID)

	state, ok := engine.State("srv-9")
	require.True(t, ok)
	assert.Equal(t, StateConfirmed, state)
}

func TestAcceptKeepsDistinctMessages(t *testing.T) {
	engine, _, _, _ := newTestEngine(true)
	base := time.Now()

	engine.Accept(models.Message{ID: "a", ConversationID: "c1", SenderID: 2, Content: "same", SentAt: base})
	// Same content but outside the one second window: not a duplicate.
	engine.Accept(models.Message{ID: "b", ConversationID: "c1", SenderID: 2, Content: "same", SentAt: base.Add(5 * time.Second)})

	assert.Len(t, engine.Messages("c1"), 2)
}

func TestMessagesOrderedBySentAt(t *testing.T) {
	engine, _, _, _ := newTestEngine(true)
	base := time.Now()

	engine.Accept(models.Message{ID: "m3", ConversationID: "c1", SenderID: 2, Content: "three", SentAt: base.Add(30 * time.Second)})
	engine.Accept(models.Message{ID: "m1", ConversationID: "c1", SenderID: 2, Content: "one", SentAt: base})
	engine.Accept(models.Message{ID: "m2", ConversationID: "c1", SenderID: 3, Content: "two", SentAt: base.Add(10 * time.Second)})

	msgs := engine.Messages("c1")
	require.Len(t, msgs, 3)
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].SentAt.Before(msgs[i-1].SentAt))
	}
	assert.Equal(t, []string{"m1", "m2", "m3"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}

func TestConversationListResortsOnAnyMessage(t *testing.T) {
	engine, _, _, _ := newTestEngine(true)
	engine.upsertConversation(models.Conversation{ID: "c2", Kind: models.KindGroup}, models.RoleMember)
	engine.SetActiveConversation("c1")

	base := time.Now()
	engine.Accept(models.Message{ID: "m1", ConversationID: "c1", SenderID: 2, Content: "x", SentAt: base})
	// A message in the non-active conversation still re-sorts the list.
	engine.Accept(models.Message{ID: "m2", ConversationID: "c2", SenderID: 3, Content: "y", SentAt: base.Add(time.Minute)})

	convs := engine.Conversations()
	require.Len(t, convs, 2)
	assert.Equal(t, "c2", convs[0].ID)
	assert.Equal(t, "y", convs[0].PreviewText)
}

func TestSendLockedConversationRejectedBeforeNetwork(t *testing.T) {
	engine, tr, store, notifier := newTestEngine(true)
	engine.upsertConversation(models.Conversation{ID: "locked", Kind: models.KindGroup, Locked: true}, models.RoleMember)

	_, err := engine.Send(context.Background(), Draft{ConversationID: "locked", Content: "nope"})
	assert.ErrorIs(t, err, ErrConversationLocked)
	assert.Empty(t, tr.events())
	store.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
	notifier.AssertNotCalled(t, "NotifyOffline", mock.Anything, mock.Anything)
}

func TestSendLockedConversationAllowedForModerator(t *testing.T) {
	engine, _, store, _ := newTestEngine(true)
	engine.upsertConversation(models.Conversation{ID: "locked", Kind: models.KindGroup, Locked: true}, models.RoleModerator)

	store.On("CreateMessage", mock.Anything, mock.Anything).Return(models.Message{}, nil).Once()

	_, err := engine.Send(context.Background(), Draft{ConversationID: "locked", Content: "pinned"})
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestSendReplyToDeletedTargetRejected(t *testing.T) {
	engine, _, store, _ := newTestEngine(true)

	engine.Accept(models.Message{ID: "gone", ConversationID: "c1", SenderID: 2, Content: "bye", SentAt: time.Now(), Deleted: true})

	target := "gone"
	_, err := engine.Send(context.Background(), Draft{ConversationID: "c1", Content: "re", ReplyToID: &target})
	assert.ErrorIs(t, err, ErrReplyTargetMissing)
	store.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestSendReplyToUnloadedTargetDefersToStore(t *testing.T) {
	engine, _, store, _ := newTestEngine(true)

	// Not in the arena, but possibly real: the durable write decides.
	target := "older-history"
	store.On("CreateMessage", mock.Anything, mock.MatchedBy(func(m models.Message) bool {
		return m.ReplyToID != nil && *m.ReplyToID == target
	})).Return(models.Message{}, nil).Once()

	_, err := engine.Send(context.Background(), Draft{ConversationID: "c1", Content: "re", ReplyToID: &target})
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestFetchMessagesConfirmsFallbackSend(t *testing.T) {
	engine, _, store, notifier := newTestEngine(false)

	store.On("CreateMessage", mock.Anything, mock.Anything).Return(models.Message{}, nil).Once()
	notifier.On("NotifyOffline", mock.Anything, mock.Anything).Return(nil).Once()

	msg, err := engine.Send(context.Background(), Draft{ConversationID: "c1", Content: "catch up"})
	require.NoError(t, err)

	state, ok := engine.State(msg.ID)
	require.True(t, ok)
	require.Equal(t, StateQueuedFallback, state)

	// A refetch returning the row settles the pending fallback copy.
	store.On("ListMessages", mock.Anything, "c1").Return([]models.Message{
		{ID: msg.ID, ConversationID: "c1", SenderID: 1, Content: "catch up", SentAt: msg.SentAt},
	}, nil).Once()
	require.NoError(t, engine.FetchMessages(context.Background(), "c1"))

	state, ok = engine.State(msg.ID)
	require.True(t, ok)
	assert.Equal(t, StateConfirmed, state)
	assert.Len(t, engine.Messages("c1"), 1)
}

func TestSendDurableWriteFailureMarksMessageFailed(t *testing.T) {
	engine, _, store, notifier := newTestEngine(false)

	store.On("CreateMessage", mock.Anything, mock.Anything).Return(models.Message{}, assert.AnError).Once()

	msg, err := engine.Send(context.Background(), Draft{ConversationID: "c1", Content: "doomed"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to send message")

	// The message stays rendered, flagged failed instead of silently "sent".
	require.Len(t, engine.Messages("c1"), 1)
	state, ok := engine.State(msg.ID)
	require.True(t, ok)
	assert.Equal(t, StateFailed, state)

	notifier.AssertNotCalled(t, "NotifyOffline", mock.Anything, mock.Anything)
}

func TestMarkVisibleBatchesOnce(t *testing.T) {
	engine, tr, store, _ := newTestEngine(true)
	base := time.Now()

	engine.Accept(models.Message{ID: "theirs1", ConversationID: "c1", SenderID: 2, Content: "a", SentAt: base})
	engine.Accept(models.Message{ID: "theirs2", ConversationID: "c1", SenderID: 2, Content: "b", SentAt: base.Add(time.Second * 2)})
	engine.Accept(models.Message{ID: "mine", ConversationID: "c1", SenderID: 1, Content: "c", SentAt: base.Add(time.Second * 4)})

	store.On("InsertReceipts", mock.Anything, mock.MatchedBy(func(batch []models.ReadReceipt) bool {
		return len(batch) == 2
	})).Return(nil).Once()

	require.NoError(t, engine.MarkVisible(context.Background(), "c1", []string{"theirs1", "theirs2", "mine"}))

	// Second pass over the same messages inserts nothing.
	require.NoError(t, engine.MarkVisible(context.Background(), "c1", []string{"theirs1", "theirs2"}))

	store.AssertExpectations(t)

	events := tr.events()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventMarkAsRead, events[0].Event)
}

func TestMarkVisibleRetriesAfterStoreFailure(t *testing.T) {
	engine, _, store, _ := newTestEngine(true)

	engine.Accept(models.Message{ID: "theirs", ConversationID: "c1", SenderID: 2, Content: "a", SentAt: time.Now()})

	store.On("InsertReceipts", mock.Anything, mock.Anything).Return(assert.AnError).Once()
	require.Error(t, engine.MarkVisible(context.Background(), "c1", []string{"theirs"}))

	// The failed batch is not burned; the next pass retries it.
	store.On("InsertReceipts", mock.Anything, mock.MatchedBy(func(batch []models.ReadReceipt) bool {
		return len(batch) == 1 && batch[0].MessageID == "theirs"
	})).Return(nil).Once()
	require.NoError(t, engine.MarkVisible(context.Background(), "c1", []string{"theirs"}))
	store.AssertExpectations(t)
}

func TestReceiptRefreshUpdatesOwnMessages(t *testing.T) {
	engine, _, store, _ := newTestEngine(true)
	engine.refreshInterval = 20 * time.Millisecond
	engine.SetActiveConversation("c1")

	engine.Accept(models.Message{ID: "mine", ConversationID: "c1", SenderID: 1, Content: "sent", SentAt: time.Now()})

	store.On("ListReceipts", mock.Anything, []string{"mine"}).
		Return([]models.ReadReceipt{{MessageID: "mine", UserID: 2, ReadAt: time.Now()}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine.StartReceiptRefresh(ctx)
	defer engine.StopReceiptRefresh()

	require.Eventually(t, func() bool {
		msgs := engine.Messages("c1")
		return len(msgs) == 1 && len(msgs[0].Receipts) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestToggleReactionTwiceRestoresOriginalSet(t *testing.T) {
	engine, _, store, _ := newTestEngine(true)
	engine.Accept(models.Message{ID: "m1", ConversationID: "c1", SenderID: 2, Content: "react me", SentAt: time.Now()})

	added := []models.Reaction{{MessageID: "m1", UserID: 1, Emoji: "😀"}}
	store.On("ToggleReaction", mock.Anything, "m1", 1, "😀").Return(added, nil).Once()
	store.On("ToggleReaction", mock.Anything, "m1", 1, "😀").Return([]models.Reaction{}, nil).Once()

	first, err := engine.ToggleReaction(context.Background(), "m1", "😀")
	require.NoError(t, err)
	assert.Len(t, first, 1)

	second, err := engine.ToggleReaction(context.Background(), "m1", "😀")
	require.NoError(t, err)
	assert.Empty(t, second)

	msgs := engine.Messages("c1")
	assert.Empty(t, msgs[0].Reactions, "authoritative set replaces local set wholesale")
	store.AssertExpectations(t)
}

type blockingStore struct {
	storeMock
	release chan struct{}
	calls   chan struct{}
}

func (s *blockingStore) ListConversations(ctx context.Context, userID int) ([]ConversationView, error) {
	s.calls <- struct{}{}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.release:
		return []ConversationView{}, nil
	}
}

func TestFetchConversationsSuperseded(t *testing.T) {
	tr := &transportStub{connected: true}
	store := &blockingStore{release: make(chan struct{}), calls: make(chan struct{}, 2)}
	engine := NewEngine(tr, store, new(notifierMock), 1, nil)

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- engine.FetchConversations(context.Background())
	}()
	<-store.calls

	// The newer call cancels the in-flight one.
	go func() {
		<-store.calls
		close(store.release)
	}()
	require.NoError(t, engine.FetchConversations(context.Background()))

	err := <-firstDone
	assert.ErrorIs(t, err, context.Canceled)
}
