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

	"messenger-service/internal/ledger"
	"messenger-service/internal/mocks"
	"messenger-service/internal/models"
	"messenger-service/internal/moderation"
	"messenger-service/internal/presence"
	"messenger-service/internal/repositories"
	msgrouter "messenger-service/internal/router"
	"messenger-service/internal/ws"
)

type messageFixture struct {
	users    *mocks.UserRepositoryMock
	messages *mocks.MessageRepositoryMock
	groups   *mocks.GroupRepositoryMock
	ledger   *ledger.Ledger
	router   *gin.Engine
}

func newMessageFixture() *messageFixture {
	gin.SetMode(gin.TestMode)

	users := new(mocks.UserRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	groups := new(mocks.GroupRepositoryMock)

	rooms := presence.NewRoomIndex()
	registry := presence.NewRegistry(rooms)
	led := ledger.New()
	delivery := msgrouter.New(registry, rooms, led, groups, messages, ws.NewHub())

	handler := NewMessageHandler(users, messages, led, delivery, moderation.NewRegexGate(), nil)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", int64(1))
		c.Next()
	})
	r.GET("/api/messages/users", handler.ListUsers)
	r.GET("/api/messages/:id", handler.GetConversation)
	r.POST("/api/messages/send/:id", handler.SendMessage)
	r.PUT("/api/messages/mark/:id", handler.MarkMessageSeen)
	r.PUT("/api/messages/edit/:id", handler.EditMessage)
	r.DELETE("/api/messages/delete/:id", handler.DeleteChat)
	r.DELETE("/api/messages/clear/:id", handler.ClearChat)

	return &messageFixture{users: users, messages: messages, groups: groups, ledger: led, router: r}
}

func (f *messageFixture) do(method, path string, body string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body == "" {
		reader = bytes.NewBuffer(nil)
	} else {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestListUsersWithUnseenCounts(t *testing.T) {
	f := newMessageFixture()

	f.users.On("ListOthers", mock.Anything, int64(1)).
		Return([]models.User{{ID: 2, FullName: "Bob"}}, nil).Once()
	f.messages.On("CountUnseenByPeer", mock.Anything, int64(1)).
		Return(map[int64]int{2: 3}, nil).Once()

	rec := f.do(http.MethodGet, "/api/messages/users", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Users          []models.User  `json:"users"`
		UnseenMessages map[string]int `json:"unseen_messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Users, 1)
	assert.Equal(t, 3, resp.UnseenMessages["2"])

	f.users.AssertExpectations(t)
	f.messages.AssertExpectations(t)
}

func TestListUsersRepoError(t *testing.T) {
	f := newMessageFixture()

	f.users.On("ListOthers", mock.Anything, int64(1)).
		Return(([]models.User)(nil), assert.AnError).Once()

	rec := f.do(http.MethodGet, "/api/messages/users", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetConversationMarksSeen(t *testing.T) {
	f := newMessageFixture()

	f.ledger.RecordIncoming(models.PeerKey(2), 1)

	f.messages.On("PeerConversation", mock.Anything, int64(1), int64(2)).
		Return([]models.Message{{ID: 5, SenderID: 2}}, nil).Once()
	f.messages.On("MarkPeerConversationSeen", mock.Anything, int64(1), int64(2)).
		Return([]int64{5}, nil).Once()

	rec := f.do(http.MethodGet, "/api/messages/2", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 1)
	assert.True(t, resp.Messages[0].Seen)

	// The fetch acknowledges the unseen count for that peer.
	assert.Empty(t, f.ledger.UnseenSnapshot(1))
	f.messages.AssertExpectations(t)
}

func TestSendMessagePersistsAndReturnsCreated(t *testing.T) {
	f := newMessageFixture()

	receiverID := int64(2)
	stored := models.Message{ID: 9, SenderID: 1, ReceiverID: &receiverID, Text: "hello"}
	f.messages.On("CreatePeerMessage", mock.Anything, int64(1), int64(2), mock.Anything).
		Return(stored, nil).Once()

	rec := f.do(http.MethodPost, "/api/messages/send/2", `{"text":"hello"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp models.Message
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, int64(9), resp.ID)

	// The offline receiver gained an unseen count through delivery.
	assert.Equal(t, map[models.ConversationKey]int{models.PeerKey(1): 1}, f.ledger.UnseenSnapshot(2))
	f.messages.AssertExpectations(t)
}

func TestSendMessageToSelfRejected(t *testing.T) {
	f := newMessageFixture()

	rec := f.do(http.MethodPost, "/api/messages/send/1", `{"text":"hi me"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendEmptyMessageRejected(t *testing.T) {
	f := newMessageFixture()

	rec := f.do(http.MethodPost, "/api/messages/send/2", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessageBlockedByModeration(t *testing.T) {
	f := newMessageFixture()

	rec := f.do(http.MethodPost, "/api/messages/send/2", `{"text":"reach me at 9876543210"}`)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	// Nothing was persisted.
	f.messages.AssertNotCalled(t, "CreatePeerMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMarkMessageSeen(t *testing.T) {
	f := newMessageFixture()

	f.messages.On("GetMessage", mock.Anything, int64(5)).
		Return(models.Message{ID: 5, SenderID: 2}, nil).Once()
	f.messages.On("MarkSeen", mock.Anything, int64(5)).Return(nil).Once()

	rec := f.do(http.MethodPut, "/api/messages/mark/5", "")

	require.Equal(t, http.StatusNoContent, rec.Code)
	f.messages.AssertExpectations(t)
}

func TestMarkMessageSeenNotFound(t *testing.T) {
	f := newMessageFixture()

	f.messages.On("GetMessage", mock.Anything, int64(5)).
		Return(models.Message{}, repositories.ErrMessageNotFound).Once()

	rec := f.do(http.MethodPut, "/api/messages/mark/5", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEditMessageSuccess(t *testing.T) {
	f := newMessageFixture()

	receiverID := int64(2)
	edited := models.Message{ID: 5, SenderID: 1, ReceiverID: &receiverID, Text: "fixed", Edited: true}
	f.messages.On("EditMessage", mock.Anything, int64(5), int64(1), "fixed").
		Return(edited, nil).Once()

	rec := f.do(http.MethodPut, "/api/messages/edit/5", `{"text":"fixed"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.Message
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Edited)
	f.messages.AssertExpectations(t)
}

func TestEditMessageNotSender(t *testing.T) {
	f := newMessageFixture()

	f.messages.On("EditMessage", mock.Anything, int64(5), int64(1), "fixed").
		Return(models.Message{}, repositories.ErrNotSender).Once()

	rec := f.do(http.MethodPut, "/api/messages/edit/5", `{"text":"fixed"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestEditMessageBlockedByModeration(t *testing.T) {
	f := newMessageFixture()

	rec := f.do(http.MethodPut, "/api/messages/edit/5", `{"text":"mail me at a@b.com"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestDeleteChatForCaller(t *testing.T) {
	f := newMessageFixture()

	f.ledger.RecordIncoming(models.PeerKey(2), 1)
	f.messages.On("DeletePeerConversationFor", mock.Anything, int64(1), int64(2)).Return(nil).Once()

	rec := f.do(http.MethodDelete, "/api/messages/delete/2", "")

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, f.ledger.UnseenSnapshot(1))
	f.messages.AssertExpectations(t)
}

func TestClearChatForCaller(t *testing.T) {
	f := newMessageFixture()

	f.messages.On("ClearConversationFor", mock.Anything, int64(1), models.PeerKey(2)).Return(nil).Once()

	rec := f.do(http.MethodDelete, "/api/messages/clear/2", "")

	require.Equal(t, http.StatusNoContent, rec.Code)
	f.messages.AssertExpectations(t)
}

func TestInvalidIDParamRejected(t *testing.T) {
	f := newMessageFixture()

	rec := f.do(http.MethodGet, "/api/messages/abc", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
