package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"crm-messaging/internal/models"
	"crm-messaging/internal/repositories"
)

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) CreateOrGetDirect(ctx context.Context, userID, peerID int) (models.Conversation, error) {
	args := m.Called(ctx, userID, peerID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) CreateGroup(ctx context.Context, ownerID int, kind models.ConversationKind, title string, memberIDs []int) (models.Conversation, error) {
	args := m.Called(ctx, ownerID, kind, title, memberIDs)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) Get(ctx context.Context, id string) (models.Conversation, error) {
	args := m.Called(ctx, id)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) ListForUser(ctx context.Context, userID int) ([]repositories.ConversationView, error) {
	args := m.Called(ctx, userID)
	var list []repositories.ConversationView
	if val := args.Get(0); val != nil {
		list = val.([]repositories.ConversationView)
	}
	return list, args.Error(1)
}

func (m *ConversationRepositoryMock) Role(ctx context.Context, conversationID string, userID int) (models.ParticipantRole, error) {
	args := m.Called(ctx, conversationID, userID)
	var role models.ParticipantRole
	if val := args.Get(0); val != nil {
		role = val.(models.ParticipantRole)
	}
	return role, args.Error(1)
}

func (m *ConversationRepositoryMock) ParticipantIDs(ctx context.Context, conversationID string) ([]int, error) {
	args := m.Called(ctx, conversationID)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

func (m *ConversationRepositoryMock) AddParticipant(ctx context.Context, conversationID string, userID int, role models.ParticipantRole) error {
	args := m.Called(ctx, conversationID, userID, role)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) DeactivateParticipant(ctx context.Context, conversationID string, userID int) error {
	args := m.Called(ctx, conversationID, userID)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) SetLocked(ctx context.Context, conversationID string, locked bool) error {
	args := m.Called(ctx, conversationID, locked)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) Bump(ctx context.Context, conversationID, preview string, at time.Time) error {
	args := m.Called(ctx, conversationID, preview, at)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) TouchLastRead(ctx context.Context, conversationID string, userID int, at time.Time) error {
	args := m.Called(ctx, conversationID, userID, at)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Create(ctx context.Context, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, msg)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) Get(ctx context.Context, id string) (models.Message, error) {
	args := m.Called(ctx, id)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListByConversation(ctx context.Context, conversationID string) ([]models.Message, error) {
	args := m.Called(ctx, conversationID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) Edit(ctx context.Context, id string, senderID int, content string) (models.Message, error) {
	args := m.Called(ctx, id, senderID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) SoftDelete(ctx context.Context, id string, senderID int) error {
	args := m.Called(ctx, id, senderID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) ToggleReaction(ctx context.Context, messageID string, userID int, emoji string) ([]models.Reaction, error) {
	args := m.Called(ctx, messageID, userID, emoji)
	var reactions []models.Reaction
	if val := args.Get(0); val != nil {
		reactions = val.([]models.Reaction)
	}
	return reactions, args.Error(1)
}

func (m *MessageRepositoryMock) InsertReceipts(ctx context.Context, receipts []models.ReadReceipt) error {
	args := m.Called(ctx, receipts)
	return args.Error(0)
}

func (m *MessageRepositoryMock) ListReceipts(ctx context.Context, messageIDs []string) ([]models.ReadReceipt, error) {
	args := m.Called(ctx, messageIDs)
	var receipts []models.ReadReceipt
	if val := args.Get(0); val != nil {
		receipts = val.([]models.ReadReceipt)
	}
	return receipts, args.Error(1)
}

type VoiceRepositoryMock struct {
	mock.Mock
}

func (m *VoiceRepositoryMock) CreateSession(ctx context.Context, conversationID string, senderID int) (models.VoiceSession, error) {
	args := m.Called(ctx, conversationID, senderID)
	var session models.VoiceSession
	if val := args.Get(0); val != nil {
		session = val.(models.VoiceSession)
	}
	return session, args.Error(1)
}

func (m *VoiceRepositoryMock) GetSession(ctx context.Context, token string) (models.VoiceSession, error) {
	args := m.Called(ctx, token)
	var session models.VoiceSession
	if val := args.Get(0); val != nil {
		session = val.(models.VoiceSession)
	}
	return session, args.Error(1)
}

func (m *VoiceRepositoryMock) AddChunk(ctx context.Context, token string, chunk models.VoiceChunk) error {
	args := m.Called(ctx, token, chunk)
	return args.Error(0)
}

func (m *VoiceRepositoryMock) BindMessage(ctx context.Context, token, messageID string, duration time.Duration, waveformJSON string) error {
	args := m.Called(ctx, token, messageID, duration, waveformJSON)
	return args.Error(0)
}

func (m *VoiceRepositoryMock) Cancel(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *VoiceRepositoryMock) ChunksByMessage(ctx context.Context, messageID string) ([]models.VoiceChunk, error) {
	args := m.Called(ctx, messageID)
	var chunks []models.VoiceChunk
	if val := args.Get(0); val != nil {
		chunks = val.([]models.VoiceChunk)
	}
	return chunks, args.Error(1)
}

var _ repositories.ConversationRepository = (*ConversationRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.VoiceRepository = (*VoiceRepositoryMock)(nil)
