package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"crm-messaging/internal/client/transport"
	"crm-messaging/internal/models"
)

var (
	ErrConversationLocked  = errors.New("conversation is locked")
	ErrReplyTargetMissing  = errors.New("reply target does not exist")
	ErrUnknownConversation = errors.New("unknown conversation")
)

// MessageState tracks an outgoing message through its lifecycle.
type MessageState int

const (
	StateComposed MessageState = iota
	StateTransmitted
	StateQueuedFallback
	StateConfirmed
	StateFailed
)

const (
	dedupWindow     = time.Second
	receiptInterval = 3 * time.Second
)

// Transport is the slice of the session the engine drives.
type Transport interface {
	Emit(event string, payload any) error
	IsConnected() bool
}

// ConversationView is a conversation plus the viewer's role in it.
type ConversationView struct {
	models.Conversation
	Role models.ParticipantRole `json:"role"`
}

// Store is the durable-write collaborator.
type Store interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	ListConversations(ctx context.Context, userID int) ([]ConversationView, error)
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	ToggleReaction(ctx context.Context, messageID string, userID int, emoji string) ([]models.Reaction, error)
	InsertReceipts(ctx context.Context, receipts []models.ReadReceipt) error
	ListReceipts(ctx context.Context, messageIDs []string) ([]models.ReadReceipt, error)
}

// OfflineNotification is the fallback delivery payload for recipients
// unreachable over the live transport.
type OfflineNotification struct {
	ConversationID string `json:"conversationId"`
	SenderID       int    `json:"senderId"`
	Content        string `json:"content"`
	MessageType    string `json:"messageType"`
	AttachmentName string `json:"attachmentName,omitempty"`
}

// Notifier issues the out-of-band delivery call.
type Notifier interface {
	NotifyOffline(ctx context.Context, n OfflineNotification) error
}

// Draft is an outgoing message before the engine stamps it.
type Draft struct {
	ConversationID string
	Content        string
	Type           models.MessageType
	ReplyToID      *string
	AttachmentURL  string
	AttachmentName string
	AttachmentMime string
	AttachmentSize int64
}

type localMessage struct {
	models.Message
	State MessageState
}

// Engine reconciles locally-originated and server-confirmed writes for
// one viewer. All maps are guarded by mu; event handlers and timers are
// the only mutators.
type Engine struct {
	transport Transport
	store     Store
	notifier  Notifier
	viewer    int
	onUpdate  func()

	now             func() time.Time
	refreshInterval time.Duration

	mu            sync.Mutex
	conversations map[string]*models.Conversation
	roles         map[string]models.ParticipantRole
	arena         map[string]*localMessage
	order         map[string][]string
	receipted     map[string]bool
	active        string
	fetchCancel   context.CancelFunc
	refreshStop   chan struct{}
}

// NewEngine builds an Engine for the viewing user. onUpdate, when not
// nil, fires after every accepted mutation.
func NewEngine(t Transport, store Store, notifier Notifier, viewer int, onUpdate func()) *Engine {
	return &Engine{
		transport:       t,
		store:           store,
		notifier:        notifier,
		viewer:          viewer,
		onUpdate:        onUpdate,
		now:             time.Now,
		refreshInterval: receiptInterval,
		conversations:   make(map[string]*models.Conversation),
		roles:           make(map[string]models.ParticipantRole),
		arena:           make(map[string]*localMessage),
		order:           make(map[string][]string),
		receipted:       make(map[string]bool),
	}
}

// Send pushes a composed draft out. Connected: emit over the session and
// persist, leaving the rendered copy to the server echo. Disconnected:
// persist, render the optimistic copy immediately and fire the fallback
// notification. A failed durable write marks the message failed instead
// of silently keeping it "sent".
func (e *Engine) Send(ctx context.Context, draft Draft) (models.Message, error) {
	e.mu.Lock()
	conv, ok := e.conversations[draft.ConversationID]
	if !ok {
		e.mu.Unlock()
		return models.Message{}, ErrUnknownConversation
	}
	// Permission errors are rejected before any network call.
	if conv.Locked && !e.roles[draft.ConversationID].Privileged() {
		e.mu.Unlock()
		return models.Message{}, ErrConversationLocked
	}
	if draft.ReplyToID != nil {
		// The arena can only prove presence: a target it does not hold
		// may just not be loaded yet, so existence of unknown ids is
		// left to the durable write's server-side check.
		if target, ok := e.arena[*draft.ReplyToID]; ok && target.Deleted {
			e.mu.Unlock()
			return models.Message{}, ErrReplyTargetMissing
		}
	}
	e.mu.Unlock()

	msgType := draft.Type
	if msgType == "" {
		msgType = models.TypeText
	}
	msg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: draft.ConversationID,
		SenderID:       e.viewer,
		Content:        draft.Content,
		Type:           msgType,
		SentAt:         e.now(),
		ReplyToID:      draft.ReplyToID,
		AttachmentURL:  draft.AttachmentURL,
		AttachmentName: draft.AttachmentName,
		AttachmentMime: draft.AttachmentMime,
		AttachmentSize: draft.AttachmentSize,
	}

	if e.transport.IsConnected() {
		return e.sendLive(ctx, msg)
	}
	return e.sendFallback(ctx, msg)
}

func (e *Engine) sendLive(ctx context.Context, msg models.Message) (models.Message, error) {
	payload := models.SendMessagePayload{
		ClientID:       msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		MessageType:    msg.Type,
		SentAt:         msg.SentAt.UTC().Format(time.RFC3339Nano),
		AttachmentURL:  msg.AttachmentURL,
		AttachmentName: msg.AttachmentName,
		AttachmentMime: msg.AttachmentMime,
		AttachmentSize: msg.AttachmentSize,
		ReplyToID:      msg.ReplyToID,
	}
	if err := e.transport.Emit(models.EventSendMessage, payload); err != nil {
		log.Printf("sync: live emit failed, falling back: %v", err)
		return e.sendFallback(ctx, msg)
	}

	// No optimistic insert here: the server echo carries the canonical
	// copy, inserting both would double-render.
	e.touchPreview(msg)

	if _, err := e.store.CreateMessage(ctx, msg); err != nil {
		e.insertLocal(msg, StateFailed)
		return msg, fmt.Errorf("failed to send message: %w", err)
	}
	return msg, nil
}

func (e *Engine) sendFallback(ctx context.Context, msg models.Message) (models.Message, error) {
	e.insertLocal(msg, StateQueuedFallback)
	e.touchPreview(msg)

	if _, err := e.store.CreateMessage(ctx, msg); err != nil {
		e.markState(msg.ID, StateFailed)
		return msg, fmt.Errorf("failed to send message: %w", err)
	}

	// Best effort: offline recipients still learn of the message.
	notification := OfflineNotification{
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		MessageType:    string(msg.Type),
		AttachmentName: msg.AttachmentName,
	}
	if err := e.notifier.NotifyOffline(ctx, notification); err != nil {
		log.Printf("sync: offline notification failed: %v", err)
	}
	return msg, nil
}

// HandleEvent feeds one transport event through the engine. It is the
// single dispatch loop's entry point.
func (e *Engine) HandleEvent(ev transport.Event) {
	switch event := ev.(type) {
	case transport.NewMessage:
		e.Accept(event.Message)
	case transport.MessageSent:
		e.Accept(event.Message)
	case transport.MessageUpdated:
		e.applyUpdate(event.Message)
	case transport.MessageDeleted:
		e.applyDelete(event.Payload.MessageID)
	case transport.ConversationUpdated:
		e.upsertConversation(event.Conversation, "")
	}
}

// Accept ingests an authoritative incoming message, collapsing it with
// an optimistic local copy when they describe the same send: matching
// ids, or matching (conversation, sender, content) within one second.
func (e *Engine) Accept(msg models.Message) {
	e.mu.Lock()
	if local, ok := e.arena[msg.ID]; ok {
		local.Message = msg
		local.State = StateConfirmed
		e.bumpConversationLocked(msg)
		e.mu.Unlock()
		e.notify()
		return
	}

	if dupID := e.findDuplicateLocked(msg); dupID != "" {
		e.replaceLocked(dupID, msg)
		e.bumpConversationLocked(msg)
		e.mu.Unlock()
		e.notify()
		return
	}

	e.insertLocked(msg, StateConfirmed)
	e.bumpConversationLocked(msg)
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) findDuplicateLocked(msg models.Message) string {
	for _, id := range e.order[msg.ConversationID] {
		local := e.arena[id]
		if local.SenderID != msg.SenderID || local.Content != msg.Content {
			continue
		}
		delta := local.SentAt.Sub(msg.SentAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= dedupWindow {
			return id
		}
	}
	return ""
}

func (e *Engine) replaceLocked(oldID string, msg models.Message) {
	delete(e.arena, oldID)
	ids := e.order[msg.ConversationID]
	for i, id := range ids {
		if id == oldID {
			e.order[msg.ConversationID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	e.insertLocked(msg, StateConfirmed)
}

func (e *Engine) insertLocal(msg models.Message, state MessageState) {
	e.mu.Lock()
	e.insertLocked(msg, state)
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) insertLocked(msg models.Message, state MessageState) {
	e.arena[msg.ID] = &localMessage{Message: msg, State: state}
	ids := e.order[msg.ConversationID]
	// Keep ascending sent_at order on insert.
	pos := sort.Search(len(ids), func(i int) bool {
		return e.arena[ids[i]].SentAt.After(msg.SentAt)
	})
	ids = append(ids, "")
	copy(ids[pos+1:], ids[pos:])
	ids[pos] = msg.ID
	e.order[msg.ConversationID] = ids
}

func (e *Engine) markState(id string, state MessageState) {
	e.mu.Lock()
	if local, ok := e.arena[id]; ok {
		local.State = state
	}
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) applyUpdate(msg models.Message) {
	e.mu.Lock()
	if local, ok := e.arena[msg.ID]; ok {
		local.Content = msg.Content
		local.EditedAt = msg.EditedAt
		local.Reactions = msg.Reactions
	}
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) applyDelete(messageID string) {
	e.mu.Lock()
	if local, ok := e.arena[messageID]; ok {
		local.Deleted = true
	}
	e.mu.Unlock()
	e.notify()
}

// touchPreview applies the optimistic preview update on send; the
// authoritative incoming event repeats it.
func (e *Engine) touchPreview(msg models.Message) {
	e.mu.Lock()
	e.bumpConversationLocked(msg)
	e.mu.Unlock()
	e.notify()
}

// bumpConversationLocked refreshes preview text and last activity for
// every accepted message, active conversation or not. last_activity_at
// never moves backwards.
func (e *Engine) bumpConversationLocked(msg models.Message) {
	conv, ok := e.conversations[msg.ConversationID]
	if !ok {
		conv = &models.Conversation{ID: msg.ConversationID, Kind: models.KindDirect}
		e.conversations[msg.ConversationID] = conv
	}
	conv.PreviewText = msg.PreviewLabel()
	if msg.SentAt.After(conv.LastActivityAt) {
		conv.LastActivityAt = msg.SentAt
	}
}

func (e *Engine) upsertConversation(conv models.Conversation, role models.ParticipantRole) {
	e.mu.Lock()
	existing, ok := e.conversations[conv.ID]
	if ok && conv.LastActivityAt.Before(existing.LastActivityAt) {
		conv.LastActivityAt = existing.LastActivityAt
	}
	e.conversations[conv.ID] = &conv
	if role != "" {
		e.roles[conv.ID] = role
	}
	e.mu.Unlock()
	e.notify()
}

// FetchConversations loads the viewer's conversation list. A newer call
// supersedes an older in-flight one by cancelling its context.
func (e *Engine) FetchConversations(ctx context.Context) error {
	e.mu.Lock()
	if e.fetchCancel != nil {
		e.fetchCancel()
	}
	fetchCtx, cancel := context.WithCancel(ctx)
	e.fetchCancel = cancel
	e.mu.Unlock()

	views, err := e.store.ListConversations(fetchCtx, e.viewer)
	if err != nil {
		return err
	}
	if fetchCtx.Err() != nil {
		// Superseded by a newer fetch; drop this result.
		return fetchCtx.Err()
	}
	for _, view := range views {
		e.upsertConversation(view.Conversation, view.Role)
	}
	return nil
}

// FetchMessages loads a conversation's history into the arena.
func (e *Engine) FetchMessages(ctx context.Context, conversationID string) error {
	msgs, err := e.store.ListMessages(ctx, conversationID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	for _, msg := range msgs {
		if local, ok := e.arena[msg.ID]; ok {
			// The store re-delivering the id is the confirmation an
			// outstanding fallback send is waiting for.
			local.Message = msg
			local.State = StateConfirmed
			continue
		}
		e.insertLocked(msg, StateConfirmed)
	}
	e.mu.Unlock()
	e.notify()
	return nil
}

// SetActiveConversation switches the open conversation.
func (e *Engine) SetActiveConversation(conversationID string) {
	e.mu.Lock()
	e.active = conversationID
	e.mu.Unlock()
}

// Conversations returns the list ordered by descending last activity.
func (e *Engine) Conversations() []models.Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Conversation, 0, len(e.conversations))
	for _, conv := range e.conversations {
		out = append(out, *conv)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out
}

// Messages returns a conversation's messages ascending by sent_at.
func (e *Engine) Messages(conversationID string) []models.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := e.order[conversationID]
	out := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.arena[id].Message)
	}
	return out
}

// State reports the lifecycle state of a locally known message.
func (e *Engine) State(messageID string) (MessageState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	local, ok := e.arena[messageID]
	if !ok {
		return 0, false
	}
	return local.State, true
}

// MarkVisible records read receipts for messages that became visible in
// the open conversation. Viewer-authored and already-receipted messages
// are skipped; the batch is check-then-insert so duplicates never reach
// the store.
func (e *Engine) MarkVisible(ctx context.Context, conversationID string, messageIDs []string) error {
	now := e.now()
	e.mu.Lock()
	batch := make([]models.ReadReceipt, 0, len(messageIDs))
	for _, id := range messageIDs {
		local, ok := e.arena[id]
		if !ok || local.SenderID == e.viewer || e.receipted[id] {
			continue
		}
		e.receipted[id] = true
		batch = append(batch, models.ReadReceipt{MessageID: id, UserID: e.viewer, ReadAt: now})
	}
	e.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := e.store.InsertReceipts(ctx, batch); err != nil {
		// Release the claimed ids so the next viewing retries them.
		e.mu.Lock()
		for _, r := range batch {
			delete(e.receipted, r.MessageID)
		}
		e.mu.Unlock()
		return fmt.Errorf("insert receipts: %w", err)
	}
	if e.transport.IsConnected() {
		payload := models.MarkAsReadPayload{ConversationID: conversationID, UserID: e.viewer}
		if err := e.transport.Emit(models.EventMarkAsRead, payload); err != nil {
			log.Printf("sync: mark_as_read emit failed: %v", err)
		}
	}
	return nil
}

// StartReceiptRefresh periodically re-fetches receipts for the viewer's
// own sent messages to keep delivery indicators current.
func (e *Engine) StartReceiptRefresh(ctx context.Context) {
	e.mu.Lock()
	if e.refreshStop != nil {
		e.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	e.refreshStop = stop
	e.mu.Unlock()

	go func() {
		ticker := time.NewTicker(e.refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.refreshOwnReceipts(ctx)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// StopReceiptRefresh halts the periodic refresh. Part of teardown.
func (e *Engine) StopReceiptRefresh() {
	e.mu.Lock()
	if e.refreshStop != nil {
		close(e.refreshStop)
		e.refreshStop = nil
	}
	e.mu.Unlock()
}

func (e *Engine) refreshOwnReceipts(ctx context.Context) {
	e.mu.Lock()
	var ownIDs []string
	for _, id := range e.order[e.active] {
		if e.arena[id].SenderID == e.viewer {
			ownIDs = append(ownIDs, id)
		}
	}
	e.mu.Unlock()
	if len(ownIDs) == 0 {
		return
	}

	receipts, err := e.store.ListReceipts(ctx, ownIDs)
	if err != nil {
		log.Printf("sync: receipt refresh failed: %v", err)
		return
	}

	byMessage := make(map[string][]models.ReadReceipt)
	for _, r := range receipts {
		byMessage[r.MessageID] = append(byMessage[r.MessageID], r)
	}

	e.mu.Lock()
	for id, rs := range byMessage {
		if local, ok := e.arena[id]; ok {
			local.Receipts = rs
		}
	}
	e.mu.Unlock()
	e.notify()
}

// ToggleReaction flips the viewer's emoji on a message. The server's
// returned set is authoritative and replaces the local set wholesale.
func (e *Engine) ToggleReaction(ctx context.Context, messageID, emoji string) ([]models.Reaction, error) {
	reactions, err := e.store.ToggleReaction(ctx, messageID, e.viewer, emoji)
	if err != nil {
		return nil, fmt.Errorf("toggle reaction: %w", err)
	}
	e.mu.Lock()
	if local, ok := e.arena[messageID]; ok {
		local.Reactions = reactions
	}
	e.mu.Unlock()
	e.notify()
	return reactions, nil
}

func (e *Engine) notify() {
	if e.onUpdate != nil {
		e.onUpdate()
	}
}
