package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-messaging/internal/models"
)

type fakeEmitter struct {
	mu        sync.Mutex
	connected bool
	events    []models.Frame
}

func (f *fakeEmitter) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, models.NewFrame(event, payload))
	return nil
}

func (f *fakeEmitter) IsConnected() bool { return f.connected }

func (f *fakeEmitter) emitted() []models.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Frame, len(f.events))
	copy(out, f.events)
	return out
}

func newTestTracker(connected bool) (*Tracker, *fakeEmitter) {
	emitter := &fakeEmitter{connected: connected}
	return NewTracker(emitter, 1, "alice", nil), emitter
}

func TestMarkOfflineRecordsLastSeen(t *testing.T) {
	tracker, _ := newTestTracker(true)
	stamp := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return stamp }

	tracker.MarkOnline(7)
	assert.True(t, tracker.IsOnline(7))

	tracker.MarkOffline(7)
	snap := tracker.Snapshot()
	require.Contains(t, snap, 7)
	assert.False(t, snap[7].Online)
	assert.Equal(t, stamp, snap[7].LastSeen)
}

func TestRequestPresenceSkippedWhenDisconnected(t *testing.T) {
	tracker, emitter := newTestTracker(false)

	tracker.RequestPresence([]int{2, 3})
	assert.Empty(t, emitter.emitted())

	emitter.connected = true
	tracker.RequestPresence([]int{2, 3})
	events := emitter.emitted()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventRequestOnlineStatus, events[0].Event)
}

func TestHandleOnlineStatusMarksUsers(t *testing.T) {
	tracker, _ := newTestTracker(true)

	tracker.HandleOnlineStatus(models.OnlineStatusResponse{OnlineUsers: []int{4, 5}})
	assert.True(t, tracker.IsOnline(4))
	assert.True(t, tracker.IsOnline(5))
	assert.False(t, tracker.IsOnline(6))
}

func TestInputActivityDebounce(t *testing.T) {
	tracker, emitter := newTestTracker(true)
	tracker.debounce = 20 * time.Millisecond

	tracker.InputActivity("c1")
	tracker.InputActivity("c1")
	tracker.InputActivity("c1")

	events := emitter.emitted()
	require.Len(t, events, 1, "repeated keystrokes emit typing{true} once")
	assert.Equal(t, models.EventTyping, events[0].Event)

	require.Eventually(t, func() bool {
		return len(emitter.emitted()) == 2
	}, time.Second, 5*time.Millisecond, "trailing typing{false} after debounce")
}

func TestStopTypingCancelsDebounce(t *testing.T) {
	tracker, emitter := newTestTracker(true)
	tracker.debounce = time.Hour

	tracker.InputActivity("c1")
	tracker.StopTyping("c1")

	require.Len(t, emitter.emitted(), 2)

	// A second stop with no active timer emits nothing.
	tracker.StopTyping("c1")
	assert.Len(t, emitter.emitted(), 2)
}

func TestHandleTypingExpiry(t *testing.T) {
	tracker, _ := newTestTracker(true)
	base := time.Now()
	current := base
	tracker.now = func() time.Time { return current }
	tracker.ttl = 3 * time.Second

	tracker.HandleTyping(models.TypingPayload{ConversationID: "c1", UserID: 2, UserName: "bob", IsTyping: true})

	state, ok := tracker.TypingIn("c1")
	require.True(t, ok)
	assert.Equal(t, "bob", state.UserName)

	current = base.Add(3100 * time.Millisecond)
	_, ok = tracker.TypingIn("c1")
	assert.False(t, ok, "entry expires three seconds after last refresh")
}

func TestHandleTypingStaleClearIgnored(t *testing.T) {
	tracker, _ := newTestTracker(true)

	tracker.HandleTyping(models.TypingPayload{ConversationID: "c1", UserID: 2, UserName: "bob", IsTyping: true})
	// A clear from a different sender must not wipe bob's entry.
	tracker.HandleTyping(models.TypingPayload{ConversationID: "c1", UserID: 9, IsTyping: false})

	_, ok := tracker.TypingIn("c1")
	assert.True(t, ok)

	tracker.HandleTyping(models.TypingPayload{ConversationID: "c1", UserID: 2, IsTyping: false})
	_, ok = tracker.TypingIn("c1")
	assert.False(t, ok)
}

func TestStopCancelsTimers(t *testing.T) {
	tracker, emitter := newTestTracker(true)
	tracker.debounce = 100 * time.Millisecond

	tracker.InputActivity("c1")
	tracker.Stop()

	time.Sleep(250 * time.Millisecond)
	assert.Len(t, emitter.emitted(), 1, "no trailing emit after Stop")
}
