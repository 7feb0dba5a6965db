package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"message-service/internal/middleware"
	"message-service/internal/mocks"
	"message-service/internal/models"
	"message-service/internal/presence"
	"message-service/internal/service"
)

var (
	_ ConversationService       = (*mocks.MessageServiceMock)(nil)
	_ middleware.TokenValidator = (*mocks.TokenValidatorMock)(nil)
)

type wsFixture struct {
	svc      *mocks.MessageServiceMock
	tokens   *mocks.TokenValidatorMock
	presence *presence.LocalStore
	hub      *Hub
	server   *httptest.Server
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &wsFixture{
		svc:      new(mocks.MessageServiceMock),
		tokens:   new(mocks.TokenValidatorMock),
		presence: presence.NewLocalStore(),
		hub:      NewHub(zap.NewNop().Sugar()),
	}
	handler := NewConversationWebSocketHandler(f.hub, f.svc, f.tokens, f.presence, zap.NewNop().Sugar())
	r := gin.New()
	r.GET("/ws/conversations/:conversation_id", handler.Handle)
	f.server = httptest.NewServer(r)
	t.Cleanup(f.server.Close)
	return f
}

func (f *wsFixture) dial(t *testing.T, conversationID, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/conversations/" + conversationID + "?token=" + token
	return websocket.DefaultDialer.Dial(url, nil)
}

func readEvent(t *testing.T, conn *websocket.Conn) models.ConversationEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var event models.ConversationEvent
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func TestHandshakeRejectsInvalidToken(t *testing.T) {
	f := newWSFixture(t)
	f.tokens.On("ValidateToken", "bad").Return("", middleware.ErrInvalidToken).Once()

	_, resp, err := f.dial(t, "c1", "bad")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandshakeRejectsNonMember(t *testing.T) {
	f := newWSFixture(t)
	f.tokens.On("ValidateToken", "tok").Return("u3", nil).Once()
	f.svc.On("IsMember", mock.Anything, "c1", "u3").Return(false, nil).Once()

	_, resp, err := f.dial(t, "c1", "tok")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSendMessageFrameIsDispatchedAndBroadcast(t *testing.T) {
	f := newWSFixture(t)
	f.tokens.On("ValidateToken", "tok").Return("u1", nil)
	f.svc.On("IsMember", mock.Anything, "c1", "u1").Return(true, nil)
	inside := true
	f.svc.On("DispatchRealtime", mock.Anything, service.RealtimeMessage{
		ConversationID: "c1",
		SenderID:       "u1",
		ReceiverID:     "u2",
		Text:           "hello",
		ReceiverInside: &inside,
	}).Return(models.Message{ID: "m1", ConversationID: "c1", SenderID: "u1", Text: "hello"}, nil).Once()

	conn, _, err := f.dial(t, "c1", "tok")
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		ok, _ := f.presence.IsInside(context.Background(), "c1", "u1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "send_message",
		"payload": map[string]any{"text": "hello", "receiverId": "u2", "isReceiverInsideChatRoom": true},
	}))

	event := readEvent(t, conn)
	assert.Equal(t, EventMessage, event.Type)
	require.NotNil(t, event.Message)
	assert.Equal(t, "m1", event.Message.ID)
	f.svc.AssertExpectations(t)
}

func TestBotPromptFailureSendsErrorFrame(t *testing.T) {
	f := newWSFixture(t)
	f.tokens.On("ValidateToken", "tok").Return("u1", nil)
	f.svc.On("IsMember", mock.Anything, "c1", "u1").Return(true, nil)
	f.svc.On("GenerateBotReply", mock.Anything, service.BotPrompt{ConversationID: "c1", SenderID: "u1", Prompt: "hi"}).
		Return(nil, service.ErrUpstreamUnavailable).Once()

	conn, _, err := f.dial(t, "c1", "tok")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "bot_prompt", "payload": map[string]any{"prompt": "hi"}}))

	event := readEvent(t, conn)
	assert.Equal(t, EventError, event.Type)
	assert.Equal(t, "AI is busy right now, please try again.", event.Error)
}

func TestBotPromptBroadcastsPromptThenReply(t *testing.T) {
	f := newWSFixture(t)
	f.tokens.On("ValidateToken", "tok").Return("u1", nil)
	f.svc.On("IsMember", mock.Anything, "c1", "u1").Return(true, nil)
	f.svc.On("GenerateBotReply", mock.Anything, service.BotPrompt{ConversationID: "c1", SenderID: "u1", Prompt: "hi"}).
		Return(service.BotExchange{
			Prompt: models.Message{ID: "m1", ConversationID: "c1", SenderID: "u1", Text: "hi"},
			Reply:  models.Message{ID: "m2", ConversationID: "c1", SenderID: "bot", Text: "hello"},
		}, nil).Once()

	conn, _, err := f.dial(t, "c1", "tok")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "bot_prompt", "payload": map[string]any{"prompt": "hi"}}))

	first := readEvent(t, conn)
	assert.Equal(t, EventMessage, first.Type)
	require.NotNil(t, first.Message)
	assert.Equal(t, "m1", first.Message.ID)

	second := readEvent(t, conn)
	assert.Equal(t, EventBotReply, second.Type)
	require.NotNil(t, second.Message)
	assert.Equal(t, "m2", second.Message.ID)
	f.svc.AssertExpectations(t)
}

func TestUnknownFrameType(t *testing.T) {
	f := newWSFixture(t)
	f.tokens.On("ValidateToken", "tok").Return("u1", nil)
	f.svc.On("IsMember", mock.Anything, "c1", "u1").Return(true, nil)

	conn, _, err := f.dial(t, "c1", "tok")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"typing"}`)))
	event := readEvent(t, conn)
	assert.Equal(t, EventError, event.Type)
	assert.Equal(t, "unknown frame type", event.Error)
}
