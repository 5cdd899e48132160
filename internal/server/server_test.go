package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bull/ultirules/internal/chat"
	"github.com/bull/ultirules/internal/store"
)

type fakeResponder struct {
	reply *chat.Reply
	err   error
}

func (f *fakeResponder) Respond(ctx context.Context, conversationID, message string) (*chat.Reply, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

type fakeHistory struct {
	conversations map[string][]store.Message
}

func (f *fakeHistory) CreateConversation(ctx context.Context) (string, error) {
	id := fmt.Sprintf("conv-%d", len(f.conversations)+1)
	f.conversations[id] = nil
	return id, nil
}

func (f *fakeHistory) ConversationExists(ctx context.Context, id string) (bool, error) {
	_, ok := f.conversations[id]
	return ok, nil
}

func (f *fakeHistory) History(ctx context.Context, conversationID string, limit int) ([]store.Message, error) {
	return f.conversations[conversationID], nil
}

type fakeHealth struct{ err error }

func (f *fakeHealth) Health(ctx context.Context) error { return f.err }

func newTestServer(responder Responder, history HistoryStore, health HealthChecker) *Server {
	return New(responder, history, health, nil, zap.NewNop())
}

func TestHandleChat(t *testing.T) {
	s := newTestServer(
		&fakeResponder{reply: &chat.Reply{
			ConversationID: "conv-1",
			Answer:         "A Callahan is an immediate goal.",
			RetrievedRules: []string{"14.B"},
		}},
		&fakeHistory{conversations: map[string][]store.Message{}},
		&fakeHealth{},
	)

	req := httptest.NewRequest(http.MethodPost, "/chat",
		strings.NewReader(`{"message": "what is a callahan?"}`))
	req.Header.Set(echoContentType, "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "conv-1", resp.ConversationID)
	assert.Equal(t, []string{"14.B"}, resp.CitedRules)
}

const echoContentType = "Content-Type"

func TestHandleChatValidation(t *testing.T) {
	s := newTestServer(&fakeResponder{}, &fakeHistory{conversations: map[string][]store.Message{}}, &fakeHealth{})

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message": ""}`))
	req.Header.Set(echoContentType, "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleChatUnknownConversation(t *testing.T) {
	s := newTestServer(
		&fakeResponder{err: fmt.Errorf("conversation x: %w", store.ErrNotFound)},
		&fakeHistory{conversations: map[string][]store.Message{}},
		&fakeHealth{},
	)

	req := httptest.NewRequest(http.MethodPost, "/chat",
		strings.NewReader(`{"conversation_id": "x", "message": "hi"}`))
	req.Header.Set(echoContentType, "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleCreateConversationAndHistory(t *testing.T) {
	history := &fakeHistory{conversations: map[string][]store.Message{
		"conv-9": {
			{Role: "user", Content: "what is a pick?"},
			{Role: "assistant", Content: "A pick is called when a defender is obstructed."},
		},
	}}
	s := newTestServer(&fakeResponder{}, history, &fakeHealth{})

	req := httptest.NewRequest(http.MethodPost, "/conversations", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/conversations/conv-9/history", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "what is a pick?")

	req = httptest.NewRequest(http.MethodGet, "/conversations/ghost/history", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(&fakeResponder{}, &fakeHistory{conversations: map[string][]store.Message{}}, &fakeHealth{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	s = newTestServer(&fakeResponder{}, &fakeHistory{conversations: map[string][]store.Message{}},
		&fakeHealth{err: errors.New("qdrant down")})
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
