package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"playmate-chat/apperrors"
	"playmate-chat/config"
	"playmate-chat/models"
	"playmate-chat/services"
	"playmate-chat/utils"
	"playmate-chat/ws"
)

const (
	testSecret     = "test-secret"
	testServiceKey = "svc-key"
)

type testServer struct {
	t      *testing.T
	engine *gin.Engine
	chat   *services.ChatService
	tokens *services.TokenVerifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := zaptest.NewLogger(t)
	db, err := config.InitDB(config.Database{Driver: "sqlite", DSN: "file:" + uuid.NewString() + "?mode=memory&cache=shared"}, log)
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))

	cfg := &config.Config{
		Auth:      config.Auth{JWTSecret: testSecret, ServiceKey: testServiceKey},
		RateLimit: config.RateLimit{RPS: 1000, Burst: 1000},
		CORS:      config.CORS{AllowOrigins: []string{"*"}},
	}
	hub := ws.NewHub(nil, cfg.Realtime, log)
	chat := services.NewChatService(db, hub, nil, log)
	hub.SetBackend(chat)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	tokens := services.NewTokenVerifier(testSecret)
	engine := RegisterRoutes(Deps{Config: cfg, Chat: chat, Hub: hub, Tokens: tokens, Log: log})
	return &testServer{t: t, engine: engine, chat: chat, tokens: tokens}
}

func (s *testServer) token(userID string) string {
	tok, err := s.tokens.GenerateToken(userID, time.Hour)
	require.NoError(s.t, err)
	return tok
}

func (s *testServer) do(method, path, userID string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(userID))
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) apperrors.Code {
	t.Helper()
	body := decode[utils.ErrorBody](t, w)
	require.NotNil(t, body.Error)
	return body.Error.Code
}

func TestCreateConversationGetOrCreate(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/chat/conversations", "alice", gin.H{"user_id": "bob"})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[models.Conversation](t, w)

	w = s.do(http.MethodPost, "/chat/conversations", "bob", gin.H{"user_id": "alice"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created.ID, decode[models.Conversation](t, w).ID)

	w = s.do(http.MethodPost, "/chat/conversations", "alice", gin.H{"user_id": "alice"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperrors.CodeValidation, errorCode(t, w))
}

func TestMessagesEndpoints(t *testing.T) {
	s := newTestServer(t)
	conv, _, err := s.chat.StartConversation(context.Background(), "alice", "bob")
	require.NoError(t, err)
	base := "/chat/conversations/" + conv.ID

	w := s.do(http.MethodPost, base+"/messages", "alice", gin.H{"content": "hi"})
	require.Equal(t, http.StatusCreated, w.Code)
	sent := decode[models.Message](t, w)
	assert.Equal(t, models.MessageTypeText, sent.MessageType)

	for i := 0; i < 2; i++ {
		w = s.do(http.MethodPost, base+"/messages", "alice", gin.H{"content": "more", "message_type": "image"})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w = s.do(http.MethodGet, base+"/messages?limit=2", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[models.Page](t, w)
	require.Len(t, page.Messages, 2)
	assert.True(t, page.HasMore)

	w = s.do(http.MethodGet, base+"/messages?limit=2&before="+page.Messages[0].ID, "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	older := decode[models.Page](t, w)
	require.Len(t, older.Messages, 1)
	assert.Equal(t, sent.ID, older.Messages[0].ID)
	assert.False(t, older.HasMore)

	w = s.do(http.MethodGet, base+"/messages?limit=zero", "bob", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, base+"/read", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"conversation_id":"`+conv.ID+`","updated":3}`, w.Body.String())

	w = s.do(http.MethodPost, base+"/read", "bob", nil)
	assert.JSONEq(t, `{"conversation_id":"`+conv.ID+`","updated":0}`, w.Body.String())
}

func TestSendMessageClientKeyRetry(t *testing.T) {
	s := newTestServer(t)
	conv, _, err := s.chat.StartConversation(context.Background(), "alice", "bob")
	require.NoError(t, err)
	path := "/chat/conversations/" + conv.ID + "/messages"

	w := s.do(http.MethodPost, path, "alice", gin.H{"content": "hi", "client_key": "k-7"})
	require.Equal(t, http.StatusCreated, w.Code)
	first := decode[models.Message](t, w)

	w = s.do(http.MethodPost, path, "alice", gin.H{"content": "hi", "client_key": "k-7"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, first.ID, decode[models.Message](t, w).ID)

	w = s.do(http.MethodGet, path, "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[models.Page](t, w).Messages, 1)
}

func TestMessagesEndpointErrors(t *testing.T) {
	s := newTestServer(t)
	conv, _, err := s.chat.StartConversation(context.Background(), "alice", "bob")
	require.NoError(t, err)
	base := "/chat/conversations/" + conv.ID

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   any
		status int
		code   apperrors.Code
	}{
		{"no token", http.MethodGet, base + "/messages", "", nil, http.StatusUnauthorized, apperrors.CodeUnauthenticated},
		{"outsider history", http.MethodGet, base + "/messages", "mallory", nil, http.StatusNotFound, apperrors.CodeNotFound},
		{"outsider send", http.MethodPost, base + "/messages", "mallory", gin.H{"content": "x"}, http.StatusNotFound, apperrors.CodeNotFound},
		{"empty content", http.MethodPost, base + "/messages", "alice", gin.H{"content": ""}, http.StatusBadRequest, apperrors.CodeValidation},
		{"system type", http.MethodPost, base + "/messages", "alice", gin.H{"content": "x", "message_type": "system"}, http.StatusBadRequest, apperrors.CodeValidation},
		{"unknown cursor", http.MethodGet, base + "/messages?before=nope", "alice", nil, http.StatusNotFound, apperrors.CodeNotFound},
		{"missing conversation", http.MethodPost, "/chat/conversations/nope/read", "alice", nil, http.StatusNotFound, apperrors.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(tt.method, tt.path, tt.user, tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, errorCode(t, w))
		})
	}
}

func TestConversationListAndProfile(t *testing.T) {
	s := newTestServer(t)
	conv, _, err := s.chat.StartConversation(context.Background(), "alice", "bob")
	require.NoError(t, err)
	_, err = s.chat.SendMessage(context.Background(), "bob", conv.ID, "hey", models.MessageTypeText)
	require.NoError(t, err)

	w := s.do(http.MethodGet, "/chat/conversations", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[struct {
		Conversations []models.ConversationListEntry `json:"conversations"`
	}](t, w)
	require.Len(t, body.Conversations, 1)
	assert.EqualValues(t, 1, body.Conversations[0].UnreadCount)
	assert.Equal(t, "bob", body.Conversations[0].OtherParticipant.ID)

	w = s.do(http.MethodGet, "/chat/me", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", decode[models.Profile](t, w).ID)
}

func TestInternalMatchAPI(t *testing.T) {
	s := newTestServer(t)

	post := func(path, key string, body any) *httptest.ResponseRecorder {
		raw, _ := json.Marshal(body)
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		if key != "" {
			req.Header.Set("X-Service-Key", key)
		}
		w := httptest.NewRecorder()
		s.engine.ServeHTTP(w, req)
		return w
	}

	w := post("/internal/chat/conversations", "wrong", gin.H{"user_a": "alice", "user_b": "bob"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = post("/internal/chat/conversations", testServiceKey, gin.H{"user_a": "alice", "user_b": "bob", "notice": "It's a match!"})
	require.Equal(t, http.StatusOK, w.Code)
	opened := decode[struct {
		Conversation models.Conversation `json:"conversation"`
		Notice       *models.Message     `json:"notice"`
	}](t, w)
	require.NotNil(t, opened.Notice)
	assert.Equal(t, models.MessageTypeSystem, opened.Notice.MessageType)

	w = post("/internal/chat/conversations/"+opened.Conversation.ID+"/end", testServiceKey, gin.H{"notice": "Match ended"})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodPost, "/chat/conversations/"+opened.Conversation.ID+"/messages", "alice", gin.H{"content": "hello?"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebsocketRequiresToken(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.engine)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url+"?token=bogus", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?token="+s.token("alice"), nil)
	require.NoError(t, err)
	defer conn.Close()
	var hello ws.Frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, models.EventConnected, hello.Event)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	s.do(http.MethodGet, "/chat/me", "alice", nil)
	w = s.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "chat_http_request_duration_seconds")
}
