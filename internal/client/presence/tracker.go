package presence

import (
	"log"
	"sync"
	"time"

	"crm-messaging/internal/models"
)

const (
	typingDebounce = 2 * time.Second
	typingTTL      = 3 * time.Second
)

// Emitter is the slice of the transport session the tracker needs.
type Emitter interface {
	Emit(event string, payload any) error
	IsConnected() bool
}

// Tracker owns the client's presence map and ephemeral typing state.
// Presence is best effort: emit failures are logged, never surfaced.
type Tracker struct {
	emitter  Emitter
	localID  int
	name     string
	onUpdate func()

	now      func() time.Time
	debounce time.Duration
	ttl      time.Duration

	mu       sync.Mutex
	presence map[int]models.PresenceState
	typing   map[string]models.TypingState
	stoppers map[string]*time.Timer
	expirers map[string]*time.Timer
}

// NewTracker builds a Tracker for the local identity. onUpdate, when not
// nil, is invoked after every presence or typing mutation so the UI can
// refresh.
func NewTracker(emitter Emitter, localID int, localName string, onUpdate func()) *Tracker {
	return &Tracker{
		emitter:  emitter,
		localID:  localID,
		name:     localName,
		onUpdate: onUpdate,
		now:      time.Now,
		debounce: typingDebounce,
		ttl:      typingTTL,
		presence: make(map[int]models.PresenceState),
		typing:   make(map[string]models.TypingState),
		stoppers: make(map[string]*time.Timer),
		expirers: make(map[string]*time.Timer),
	}
}

// MarkOnline records a user as connected.
func (t *Tracker) MarkOnline(userID int) {
	t.mu.Lock()
	t.presence[userID] = models.PresenceState{UserID: userID, Online: true}
	t.mu.Unlock()
	t.notify()
}

// MarkOffline records a user as gone, stamping last seen.
func (t *Tracker) MarkOffline(userID int) {
	t.mu.Lock()
	t.presence[userID] = models.PresenceState{UserID: userID, Online: false, LastSeen: t.now()}
	t.mu.Unlock()
	t.notify()
}

// IsOnline reports the last known connectivity of a user.
func (t *Tracker) IsOnline(userID int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.presence[userID].Online
}

// Snapshot returns a copy of the presence map.
func (t *Tracker) Snapshot() map[int]models.PresenceState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[int]models.PresenceState, len(t.presence))
	for id, st := range t.presence {
		out[id] = st
	}
	return out
}

// RequestPresence emits a bulk presence query. Callers tolerate no
// response; when the session is down the query is dropped with a log
// line only.
func (t *Tracker) RequestPresence(userIDs []int) {
	if !t.emitter.IsConnected() {
		log.Printf("presence: query for %d users skipped, session not connected", len(userIDs))
		return
	}
	if err := t.emitter.Emit(models.EventRequestOnlineStatus, models.OnlineStatusRequest{UserIDs: userIDs}); err != nil {
		log.Printf("presence: query failed: %v", err)
	}
}

// HandleOnlineStatus applies a bulk presence answer.
func (t *Tracker) HandleOnlineStatus(resp models.OnlineStatusResponse) {
	t.mu.Lock()
	for _, id := range resp.OnlineUsers {
		t.presence[id] = models.PresenceState{UserID: id, Online: true}
	}
	t.mu.Unlock()
	t.notify()
}

// InputActivity is called on every local keystroke. The first call for
// an idle conversation emits typing{true}; a trailing typing{false} is
// debounced two seconds past the last call.
func (t *Tracker) InputActivity(conversationID string) {
	t.mu.Lock()
	timer, active := t.stoppers[conversationID]
	if active {
		timer.Reset(t.debounce)
		t.mu.Unlock()
		return
	}
	t.stoppers[conversationID] = time.AfterFunc(t.debounce, func() {
		t.StopTyping(conversationID)
	})
	t.mu.Unlock()

	t.emitTyping(conversationID, true)
}

// StopTyping emits a typing{false} immediately and cancels the debounce
// timer. Called on send and on conversation switch.
func (t *Tracker) StopTyping(conversationID string) {
	t.mu.Lock()
	timer, active := t.stoppers[conversationID]
	if active {
		timer.Stop()
		delete(t.stoppers, conversationID)
	}
	t.mu.Unlock()
	if active {
		t.emitTyping(conversationID, false)
	}
}

func (t *Tracker) emitTyping(conversationID string, isTyping bool) {
	err := t.emitter.Emit(models.EventTyping, models.TypingPayload{
		ConversationID: conversationID,
		UserID:         t.localID,
		UserName:       t.name,
		IsTyping:       isTyping,
	})
	if err != nil {
		log.Printf("presence: typing emit failed: %v", err)
	}
}

// HandleTyping ingests a peer's typing event. A true entry replaces the
// conversation's current one and is force-expired after three seconds;
// a false entry clears only when it comes from the same sender, so a
// stale clear cannot wipe a newer peer's entry.
func (t *Tracker) HandleTyping(p models.TypingPayload) {
	t.mu.Lock()
	if p.IsTyping {
		deadline := t.now().Add(t.ttl)
		t.typing[p.ConversationID] = models.TypingState{
			ConversationID: p.ConversationID,
			UserID:         p.UserID,
			UserName:       p.UserName,
			ExpiresAt:      deadline,
		}
		if timer, ok := t.expirers[p.ConversationID]; ok {
			timer.Stop()
		}
		convID := p.ConversationID
		t.expirers[convID] = time.AfterFunc(t.ttl, func() {
			t.expire(convID)
		})
	} else if cur, ok := t.typing[p.ConversationID]; ok && cur.UserID == p.UserID {
		delete(t.typing, p.ConversationID)
		if timer, ok := t.expirers[p.ConversationID]; ok {
			timer.Stop()
			delete(t.expirers, p.ConversationID)
		}
	}
	t.mu.Unlock()
	t.notify()
}

func (t *Tracker) expire(conversationID string) {
	t.mu.Lock()
	cur, ok := t.typing[conversationID]
	if ok && !t.now().Before(cur.ExpiresAt) {
		delete(t.typing, conversationID)
		delete(t.expirers, conversationID)
	}
	t.mu.Unlock()
	if ok {
		t.notify()
	}
}

// TypingIn returns the live typing entry for a conversation, pruning an
// expired one on read.
func (t *Tracker) TypingIn(conversationID string) (models.TypingState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.typing[conversationID]
	if !ok {
		return models.TypingState{}, false
	}
	if !t.now().Before(cur.ExpiresAt) {
		delete(t.typing, conversationID)
		return models.TypingState{}, false
	}
	return cur, true
}

// Stop cancels every pending timer. Must run on teardown so stale
// callbacks cannot mutate state for a conversation no longer in view.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timer := range t.stoppers {
		timer.Stop()
		delete(t.stoppers, id)
	}
	for id, timer := range t.expirers {
		timer.Stop()
		delete(t.expirers, id)
	}
}

func (t *Tracker) notify() {
	if t.onUpdate != nil {
		t.onUpdate()
	}
}
