package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"crm-messaging/internal/mocks"
	"crm-messaging/internal/models"
	"crm-messaging/internal/repositories"
	"crm-messaging/internal/ws"
)

func setupConversationRouter(handler *ConversationHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	})
	r.GET("/conversations", handler.List)
	r.POST("/conversations/direct", handler.StartDirect)
	r.POST("/conversations/group", handler.CreateGroup)
	r.PUT("/conversations/:conversation_id/lock", handler.SetLocked)
	r.POST("/conversations/:conversation_id/participants", handler.AddParticipant)
	r.DELETE("/conversations/:conversation_id/participants/:user_id", handler.RemoveParticipant)
	return r
}

func TestListConversationsSuccess(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(convRepo, ws.NewHub(), nil)
	router := setupConversationRouter(handler)

	convRepo.On("ListForUser", mock.Anything, 1).Return([]repositories.ConversationView{
		{Conversation: models.Conversation{ID: "c1", Kind: models.KindDirect}, Role: models.RoleMember},
	}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Conversations []repositories.ConversationView `json:"conversations"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, "c1", resp.Conversations[0].ID)
	assert.Equal(t, models.RoleMember, resp.Conversations[0].Role)
	convRepo.AssertExpectations(t)
}

func TestStartDirectRejectsSelf(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(convRepo, ws.NewHub(), nil)
	router := setupConversationRouter(handler)

	req := httptest.NewRequest(http.MethodPost, "/conversations/direct", bytes.NewBufferString(`{"peer_id":1}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	convRepo.AssertNotCalled(t, "CreateOrGetDirect", mock.Anything, mock.Anything, mock.Anything)
}

func TestStartDirectSuccess(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(convRepo, ws.NewHub(), nil)
	router := setupConversationRouter(handler)

	convRepo.On("CreateOrGetDirect", mock.Anything, 1, 2).
		Return(models.Conversation{ID: "c-direct", Kind: models.KindDirect}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations/direct", bytes.NewBufferString(`{"peer_id":2}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	convRepo.AssertExpectations(t)
}

func TestCreateGroupDefaultsKind(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(convRepo, ws.NewHub(), nil)
	router := setupConversationRouter(handler)

	convRepo.On("CreateGroup", mock.Anything, 1, models.KindGroup, "support", []int{2, 3}).
		Return(models.Conversation{ID: "c-group", Kind: models.KindGroup, Title: "support"}, nil).Once()

	body := bytes.NewBufferString(`{"title":"support","member_ids":[2,3]}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/group", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	convRepo.AssertExpectations(t)
}

func TestCreateGroupRejectsBadKind(t *testing.T) {
	handler := NewConversationHandler(new(mocks.ConversationRepositoryMock), ws.NewHub(), nil)
	router := setupConversationRouter(handler)

	body := bytes.NewBufferString(`{"title":"x","kind":"direct"}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/group", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetLockedRequiresPrivilegedRole(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(convRepo, ws.NewHub(), nil)
	router := setupConversationRouter(handler)

	convRepo.On("Role", mock.Anything, "c1", 1).Return(models.RoleMember, nil).Once()

	req := httptest.NewRequest(http.MethodPut, "/conversations/c1/lock", bytes.NewBufferString(`{"locked":true}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	convRepo.AssertNotCalled(t, "SetLocked", mock.Anything, mock.Anything, mock.Anything)
}

func TestSetLockedAsModerator(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(convRepo, ws.NewHub(), nil)
	router := setupConversationRouter(handler)

	convRepo.On("Role", mock.Anything, "c1", 1).Return(models.RoleModerator, nil).Once()
	convRepo.On("SetLocked", mock.Anything, "c1", true).Return(nil).Once()
	convRepo.On("Get", mock.Anything, "c1").Return(models.Conversation{ID: "c1", Locked: true}, nil).Once()
	convRepo.On("ParticipantIDs", mock.Anything, "c1").Return([]int{1, 2}, nil).Once()

	req := httptest.NewRequest(http.MethodPut, "/conversations/c1/lock", bytes.NewBufferString(`{"locked":true}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	convRepo.AssertExpectations(t)
}

func TestRemoveParticipantSelfLeave(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(convRepo, ws.NewHub(), nil)
	router := setupConversationRouter(handler)

	convRepo.On("Role", mock.Anything, "c1", 1).Return(models.RoleMember, nil).Once()
	convRepo.On("DeactivateParticipant", mock.Anything, "c1", 1).Return(nil).Once()
	convRepo.On("Get", mock.Anything, "c1").Return(models.Conversation{ID: "c1"}, nil).Once()
	convRepo.On("ParticipantIDs", mock.Anything, "c1").Return([]int{2}, nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/conversations/c1/participants/1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	convRepo.AssertExpectations(t)
}

func TestRemoveParticipantOtherRequiresPrivilege(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(convRepo, ws.NewHub(), nil)
	router := setupConversationRouter(handler)

	convRepo.On("Role", mock.Anything, "c1", 1).Return(models.RoleMember, nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/conversations/c1/participants/2", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	convRepo.AssertNotCalled(t, "DeactivateParticipant", mock.Anything, mock.Anything, mock.Anything)
}

func TestListConversationsRepoError(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(convRepo, ws.NewHub(), nil)
	router := setupConversationRouter(handler)

	convRepo.On("ListForUser", mock.Anything, 1).Return(([]repositories.ConversationView)(nil), assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
