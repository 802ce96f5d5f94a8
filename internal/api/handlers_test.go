package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashish23d/GreatX/internal/auth"
	"github.com/ashish23d/GreatX/internal/config"
	"github.com/ashish23d/GreatX/internal/models"
	"github.com/ashish23d/GreatX/internal/service/ai"
	"github.com/ashish23d/GreatX/internal/service/assistant"
	"github.com/ashish23d/GreatX/internal/storage"
	"github.com/ashish23d/GreatX/internal/worker"
)

type stubChat struct{ err error }

func (s *stubChat) Complete(_ context.Context, history []ai.Turn, utterance, _ string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return fmt.Sprintf("reply to %q after %d turns", utterance, len(history)), nil
}

type stubImages struct{ empty bool }

func (s *stubImages) Generate(context.Context, string, string) (*ai.Image, error) {
	if s.empty {
		return nil, nil
	}
	return &ai.Image{Data: []byte("generated"), MIMEType: "image/png"}, nil
}

func (s *stubImages) Edit(_ context.Context, img ai.Image, _ string) (*ai.Image, error) {
	return &ai.Image{Data: append([]byte("edited:"), img.Data...), MIMEType: img.MIMEType}, nil
}

type testServer struct {
	router  *gin.Engine
	db      *sql.DB
	chat    *stubChat
	images  *stubImages
	manager *worker.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}},
	}
	db, err := storage.Open("sqlite3", cfg)
	require.NoError(t, err, "open db")
	require.NoError(t, storage.Migrate(db, "sqlite3"), "migrate db")
	t.Cleanup(func() { db.Close() })

	chat := &stubChat{}
	images := &stubImages{}
	asst := assistant.NewService(db, nil)
	authSvc := auth.NewService(db, nil, time.Hour, nil)
	responder := ai.NewDispatcher(ai.DispatcherConfig{Chat: chat, Generator: images, Editor: images})
	manager := worker.NewManager(asst, responder, worker.DispatcherConfig{MinWorkers: 1, MaxWorkers: 2, QueueSize: 8})
	t.Cleanup(manager.Close)

	router := NewRouter(NewHandler(asst, authSvc, manager, nil), nil)
	return &testServer{router: router, db: db, chat: chat, images: images, manager: manager}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) registerAndLogin(t *testing.T) (int64, map[string]string) {
	t.Helper()
	username := fmt.Sprintf("tester_%d", time.Now().UnixNano())
	creds := map[string]string{"username": username, "password": "pass123"}

	reg := s.do(t, http.MethodPost, "/api/users/register", creds, nil)
	require.Equal(t, http.StatusCreated, reg.Code, reg.Body.String())
	var regBody struct {
		ID int64 `json:"id"`
	}
	decodeJSON(t, reg, &regBody)

	login := s.do(t, http.MethodPost, "/api/users/login", creds, nil)
	require.Equal(t, http.StatusOK, login.Code, login.Body.String())
	var loginBody struct {
		AuthToken string `json:"auth_token"`
	}
	decodeJSON(t, login, &loginBody)
	require.NotEmpty(t, loginBody.AuthToken)
	return regBody.ID, map[string]string{"Authorization": "Bearer " + loginBody.AuthToken}
}

type turnResponse struct {
	Conversation models.Conversation `json:"conversation"`
	Messages     []models.Message    `json:"messages"`
	Intent       string              `json:"intent"`
	Error        string              `json:"error"`
	Phase        string              `json:"phase"`
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func countMessages(t *testing.T, db *sql.DB, conversationID string) int {
	t.Helper()
	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&count))
	return count
}

func TestHandlersEndToEndFlow(t *testing.T) {
	s := newTestServer(t)
	_, authHeader := s.registerAndLogin(t)

	rec := s.do(t, http.MethodPost, "/api/turns", map[string]string{"message": "What's the capital of France?"}, authHeader)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var first turnResponse
	decodeJSON(t, rec, &first)
	assert.Equal(t, "chat_reply", first.Intent)
	assert.Equal(t, "What's the capital of France?", first.Conversation.Title)
	require.Len(t, first.Messages, 2)
	assert.Equal(t, models.RoleAssistant, first.Messages[1].Role)
	assert.Equal(t, 2, countMessages(t, s.db, first.Conversation.ID))

	rec = s.do(t, http.MethodPost, "/api/turns", map[string]string{
		"conversation_id": first.Conversation.ID,
		"message":         "Generate a picture of a futuristic city",
	}, authHeader)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var second turnResponse
	decodeJSON(t, rec, &second)
	assert.Equal(t, "image_generation", second.Intent)
	require.Len(t, second.Messages, 4)
	assert.Equal(t, models.KindImage, second.Messages[3].Kind)
	assert.True(t, strings.HasPrefix(second.Messages[3].Content, "data:image/png;base64,"))

	rec = s.do(t, http.MethodPost, "/api/turns", map[string]string{
		"conversation_id": first.Conversation.ID,
		"message":         "Remove the background",
		"image":           "data:image/jpeg;base64,aGVsbG8=",
	}, authHeader)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var third turnResponse
	decodeJSON(t, rec, &third)
	assert.Equal(t, "image_edit", third.Intent)
	require.Len(t, third.Messages, 6)
	assert.Equal(t, models.KindImage, third.Messages[4].Kind)
	assert.Equal(t, ai.DataURI(ai.Image{Data: []byte("edited:hello"), MIMEType: "image/jpeg"}), third.Messages[5].Content)

	rec = s.do(t, http.MethodGet, "/api/conversations", nil, authHeader)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	decodeJSON(t, rec, &list)
	require.Len(t, list.Conversations, 1)

	rec = s.do(t, http.MethodGet, "/api/conversations/"+first.Conversation.ID+"/messages", nil, authHeader)
	require.Equal(t, http.StatusOK, rec.Code)
	var transcript turnResponse
	decodeJSON(t, rec, &transcript)
	assert.Len(t, transcript.Messages, 6)

	rec = s.do(t, http.MethodDelete, "/api/conversations/"+first.Conversation.ID, nil, authHeader)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	assert.Zero(t, countMessages(t, s.db, first.Conversation.ID))

	rec = s.do(t, http.MethodGet, "/api/conversations/"+first.Conversation.ID+"/messages", nil, authHeader)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateConversationExplicitly(t *testing.T) {
	s := newTestServer(t)
	_, authHeader := s.registerAndLogin(t)

	rec := s.do(t, http.MethodPost, "/api/conversations", nil, authHeader)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var body struct {
		Conversation models.Conversation `json:"conversation"`
	}
	decodeJSON(t, rec, &body)
	assert.Equal(t, "New Conversation", body.Conversation.Title)

	rec = s.do(t, http.MethodPost, "/api/turns", map[string]string{
		"conversation_id": body.Conversation.ID,
		"message":         "hello",
	}, authHeader)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, countMessages(t, s.db, body.Conversation.ID))
}

func TestGuestTurnsStayInMemory(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/turns", map[string]string{"message": "hi there"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res turnResponse
	decodeJSON(t, rec, &res)
	require.NotEmpty(t, res.Conversation.ID)
	assert.Len(t, res.Messages, 2)
	assert.Zero(t, countMessages(t, s.db, res.Conversation.ID))

	rec = s.do(t, http.MethodGet, "/api/conversations/"+res.Conversation.ID+"/messages", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, authHeader := s.registerAndLogin(t)
	rec = s.do(t, http.MethodGet, "/api/conversations/"+res.Conversation.ID+"/messages", nil, authHeader)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/conversations", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTurnDispatchFailureReturnsPartialTranscript(t *testing.T) {
	s := newTestServer(t)
	_, authHeader := s.registerAndLogin(t)
	s.chat.err = errors.New("model unavailable")

	rec := s.do(t, http.MethodPost, "/api/turns", map[string]string{"message": "hello?"}, authHeader)
	require.Equal(t, http.StatusBadGateway, rec.Code, rec.Body.String())
	var res turnResponse
	decodeJSON(t, rec, &res)
	assert.Equal(t, "dispatch", res.Phase)
	assert.Contains(t, res.Error, "model unavailable")
	require.Len(t, res.Messages, 1)
	assert.Equal(t, models.RoleUser, res.Messages[0].Role)
	assert.Equal(t, 1, countMessages(t, s.db, res.Conversation.ID))
}

func TestTurnWithoutReturnedImageIsUnprocessable(t *testing.T) {
	s := newTestServer(t)
	_, authHeader := s.registerAndLogin(t)
	s.images.empty = true

	rec := s.do(t, http.MethodPost, "/api/turns", map[string]string{"message": "Draw a picture of a lighthouse"}, authHeader)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	var res turnResponse
	decodeJSON(t, rec, &res)
	assert.Equal(t, "dispatch", res.Phase)
	assert.Equal(t, "image_generation", res.Intent)
	require.Len(t, res.Messages, 1)
}

func TestTurnValidationErrors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/turns", map[string]string{"message": "   "}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/turns", map[string]string{"conversation_id": "nope", "message": "hi"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/turns", map[string]string{"message": "edit this", "image": "not a data uri"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var res turnResponse
	decodeJSON(t, rec, &res)
	assert.Equal(t, "dispatch", res.Phase)

	rec = s.do(t, http.MethodPost, "/api/turns", map[string]string{"message": "hi"}, map[string]string{"Authorization": "Bearer bogus"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutAndDeleteUser(t *testing.T) {
	s := newTestServer(t)
	userID, authHeader := s.registerAndLogin(t)

	rec := s.do(t, http.MethodPost, "/api/turns", map[string]string{"message": "keep me"}, authHeader)
	require.Equal(t, http.StatusOK, rec.Code)
	var res turnResponse
	decodeJSON(t, rec, &res)

	rec = s.do(t, http.MethodPost, "/api/users/logout", nil, authHeader)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/conversations", nil, authHeader)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	_, authHeader = s.loginAgain(t, userID)
	rec = s.do(t, http.MethodDelete, "/api/users/me", nil, authHeader)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	assert.Zero(t, countMessages(t, s.db, res.Conversation.ID))

	rec = s.do(t, http.MethodGet, "/api/conversations", nil, authHeader)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func (s *testServer) loginAgain(t *testing.T, userID int64) (int64, map[string]string) {
	t.Helper()
	var username string
	require.NoError(t, s.db.QueryRow(`SELECT username FROM users WHERE id = ?`, userID).Scan(&username))
	rec := s.do(t, http.MethodPost, "/api/users/login", map[string]string{"username": username, "password": "pass123"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		AuthToken string `json:"auth_token"`
	}
	decodeJSON(t, rec, &body)
	return userID, map[string]string{"Authorization": "Bearer " + body.AuthToken}
}

func TestCookieSessionsRequireCSRF(t *testing.T) {
	s := newTestServer(t)
	username := fmt.Sprintf("cookie_%d", time.Now().UnixNano())
	creds := map[string]string{"username": username, "password": "pass123"}
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/users/register", creds, nil).Code)
	login := s.do(t, http.MethodPost, "/api/users/login", creds, nil)
	require.Equal(t, http.StatusOK, login.Code)

	var authCookie, csrfCookie *http.Cookie
	for _, ck := range login.Result().Cookies() {
		switch ck.Name {
		case "auth_token":
			authCookie = ck
		case "csrf_token":
			csrfCookie = ck
		}
	}
	require.NotNil(t, authCookie)
	require.NotNil(t, csrfCookie)

	send := func(withHeader bool) int {
		req := httptest.NewRequest(http.MethodPost, "/api/conversations", nil)
		req.AddCookie(authCookie)
		req.AddCookie(csrfCookie)
		if withHeader {
			req.Header.Set("X-CSRF-Token", csrfCookie.Value)
		}
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusForbidden, send(false))
	assert.Equal(t, http.StatusCreated, send(true))
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
