package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"crm-messaging/internal/mocks"
	"crm-messaging/internal/models"
	"crm-messaging/internal/repositories"
	"crm-messaging/internal/ws"
)

func setupMessageRouter(handler *MessageHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	})
	r.GET("/conversations/:conversation_id/messages", handler.List)
	r.POST("/conversations/:conversation_id/messages", handler.Create)
	r.PUT("/conversations/:conversation_id/messages/:message_id", handler.Edit)
	r.DELETE("/conversations/:conversation_id/messages/:message_id", handler.Delete)
	r.POST("/messages/:message_id/reactions", handler.ToggleReaction)
	r.POST("/receipts", handler.PostReceipts)
	r.GET("/receipts", handler.GetReceipts)
	return r
}

func TestListMessagesAttachesReceipts(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, messageRepo, ws.NewHub(), nil)
	router := setupMessageRouter(handler)

	convRepo.On("Role", mock.Anything, "c1", 1).Return(models.RoleMember, nil).Once()
	messageRepo.On("ListByConversation", mock.Anything, "c1").Return([]models.Message{
		{ID: "m1", ConversationID: "c1", SenderID: 1, Content: "hi"},
	}, nil).Once()
	messageRepo.On("ListReceipts", mock.Anything, []string{"m1"}).Return([]models.ReadReceipt{
		{MessageID: "m1", UserID: 2},
	}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/c1/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 1)
	require.Len(t, resp.Messages[0].Receipts, 1)
	assert.Equal(t, 2, resp.Messages[0].Receipts[0].UserID)
	messageRepo.AssertExpectations(t)
}

func TestCreateMessageLockedConversation(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, messageRepo, ws.NewHub(), nil)
	router := setupMessageRouter(handler)

	convRepo.On("Get", mock.Anything, "c1").Return(models.Conversation{ID: "c1", Locked: true}, nil).Once()
	convRepo.On("Role", mock.Anything, "c1", 1).Return(models.RoleMember, nil).Once()

	body := bytes.NewBufferString(`{"content":"hello"}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/c1/messages", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	messageRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCreateMessageLockedConversationModerator(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, messageRepo, ws.NewHub(), nil)
	router := setupMessageRouter(handler)

	sentAt := time.Now().UTC()
	convRepo.On("Get", mock.Anything, "c1").Return(models.Conversation{ID: "c1", Locked: true}, nil).Once()
	convRepo.On("Role", mock.Anything, "c1", 1).Return(models.RoleModerator, nil).Once()
	messageRepo.On("Create", mock.Anything, mock.Anything).
		Return(models.Message{ID: "m1", ConversationID: "c1", SenderID: 1, Content: "hello", Type: models.TypeText, SentAt: sentAt}, nil).Once()
	convRepo.On("Bump", mock.Anything, "c1", "hello", sentAt).Return(nil).Once()
	convRepo.On("Get", mock.Anything, "c1").Return(models.Conversation{ID: "c1", Locked: true, PreviewText: "hello"}, nil).Once()
	convRepo.On("ParticipantIDs", mock.Anything, "c1").Return([]int{1, 2}, nil).Once()

	body := bytes.NewBufferString(`{"content":"hello"}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/c1/messages", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	messageRepo.AssertExpectations(t)
	convRepo.AssertExpectations(t)
}

func TestCreateMessageHonorsClientID(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, messageRepo, ws.NewHub(), nil)
	router := setupMessageRouter(handler)

	convRepo.On("Get", mock.Anything, "c1").Return(models.Conversation{ID: "c1"}, nil).Once()
	convRepo.On("Role", mock.Anything, "c1", 1).Return(models.RoleMember, nil).Once()
	messageRepo.On("Create", mock.Anything, mock.MatchedBy(func(m models.Message) bool {
		return m.ID == "client-id-1" && m.SenderID == 1
	})).Return(models.Message{ID: "client-id-1", ConversationID: "c1", SenderID: 1, Content: "hi"}, nil).Once()
	convRepo.On("Bump", mock.Anything, "c1", "hi", mock.Anything).Return(assert.AnError).Once()

	body := bytes.NewBufferString(`{"id":"client-id-1","content":"hi"}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/c1/messages", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	messageRepo.AssertExpectations(t)
}

func TestCreateMessageReplyTargetGone(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, messageRepo, ws.NewHub(), nil)
	router := setupMessageRouter(handler)

	convRepo.On("Get", mock.Anything, "c1").Return(models.Conversation{ID: "c1"}, nil).Once()
	convRepo.On("Role", mock.Anything, "c1", 1).Return(models.RoleMember, nil).Once()
	messageRepo.On("Create", mock.Anything, mock.Anything).
		Return(models.Message{}, repositories.ErrReplyTargetGone).Once()

	body := bytes.NewBufferString(`{"content":"hi","reply_to_message_id":"gone"}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/c1/messages", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestEditMessageForbiddenForNonSender(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, messageRepo, ws.NewHub(), nil)
	router := setupMessageRouter(handler)

	convRepo.On("Role", mock.Anything, "c1", 1).Return(models.RoleMember, nil).Once()
	messageRepo.On("Edit", mock.Anything, "m1", 1, "edited").
		Return(models.Message{}, repositories.ErrNotSender).Once()

	body := bytes.NewBufferString(`{"content":"edited"}`)
	req := httptest.NewRequest(http.MethodPut, "/conversations/c1/messages/m1", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDeleteMessageSoft(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, messageRepo, ws.NewHub(), nil)
	router := setupMessageRouter(handler)

	convRepo.On("Role", mock.Anything, "c1", 1).Return(models.RoleMember, nil).Once()
	messageRepo.On("SoftDelete", mock.Anything, "m1", 1).Return(nil).Once()
	convRepo.On("ParticipantIDs", mock.Anything, "c1").Return([]int{1, 2}, nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/conversations/c1/messages/m1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	messageRepo.AssertExpectations(t)
}

func TestToggleReactionReturnsFullSet(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, messageRepo, ws.NewHub(), nil)
	router := setupMessageRouter(handler)

	messageRepo.On("Get", mock.Anything, "m1").
		Return(models.Message{ID: "m1", ConversationID: "c1", SenderID: 2}, nil).Once()
	convRepo.On("Role", mock.Anything, "c1", 1).Return(models.RoleMember, nil).Once()
	messageRepo.On("ToggleReaction", mock.Anything, "m1", 1, "😀").Return([]models.Reaction{
		{MessageID: "m1", UserID: 1, Emoji: "😀"},
		{MessageID: "m1", UserID: 2, Emoji: "🔥"},
	}, nil).Once()
	convRepo.On("ParticipantIDs", mock.Anything, "c1").Return([]int{1, 2}, nil).Once()

	body := bytes.NewBufferString(`{"emoji":"😀"}`)
	req := httptest.NewRequest(http.MethodPost, "/messages/m1/reactions", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Reactions []models.Reaction `json:"reactions"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Reactions, 2)
	messageRepo.AssertExpectations(t)
}

func TestPostReceiptsBatch(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, messageRepo, ws.NewHub(), nil)
	router := setupMessageRouter(handler)

	messageRepo.On("Get", mock.Anything, "m1").
		Return(models.Message{ID: "m1", ConversationID: "c1", SenderID: 2}, nil).Once()
	convRepo.On("Role", mock.Anything, "c1", 1).Return(models.RoleMember, nil).Once()
	messageRepo.On("InsertReceipts", mock.Anything, mock.MatchedBy(func(receipts []models.ReadReceipt) bool {
		return len(receipts) == 2 && receipts[0].UserID == 1 && receipts[1].MessageID == "m2"
	})).Return(nil).Once()
	convRepo.On("TouchLastRead", mock.Anything, "c1", 1, mock.Anything).Return(nil).Once()
	convRepo.On("ParticipantIDs", mock.Anything, "c1").Return([]int{1, 2}, nil).Once()

	body := bytes.NewBufferString(`{"message_ids":["m1","m2"]}`)
	req := httptest.NewRequest(http.MethodPost, "/receipts", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	messageRepo.AssertExpectations(t)
}

func TestPostReceiptsEmpty(t *testing.T) {
	handler := NewMessageHandler(new(mocks.ConversationRepositoryMock), new(mocks.MessageRepositoryMock), ws.NewHub(), nil)
	router := setupMessageRouter(handler)

	body := bytes.NewBufferString(`{"message_ids":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/receipts", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
