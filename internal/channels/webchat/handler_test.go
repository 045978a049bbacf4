package webchat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/clinic-booking-assistant/internal/conversation"
	"github.com/wolfman30/clinic-booking-assistant/internal/session"
)

type echoEngine struct {
	mu    sync.Mutex
	turns []conversation.Turn
	err   error
}

func (e *echoEngine) Handle(_ context.Context, turn conversation.Turn) (conversation.Reply, error) {
	e.mu.Lock()
	e.turns = append(e.turns, turn)
	e.mu.Unlock()
	if e.err != nil {
		return conversation.Reply{}, e.err
	}
	return conversation.Reply{
		Prompts: []conversation.Prompt{{Kind: conversation.PromptText, Text: "echo: " + turn.Text}},
		Step:    session.StepMainMenu,
	}, nil
}

func newServer(t *testing.T, engine turnHandler) (*httptest.Server, *Handler) {
	t.Helper()
	h := NewHandler(engine, "", nil)
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, h
}

func TestGenerateSessionID(t *testing.T) {
	s1 := generateSessionID()
	s2 := generateSessionID()
	assert.NotEqual(t, s1, s2)
	assert.Len(t, s1, 32)
}

func TestAddress(t *testing.T) {
	assert.Equal(t, "webchat:clinic-1:abc", Address("clinic-1", "abc"))
}

func TestWebSocket_RunsTurns(t *testing.T) {
	engine := &echoEngine{}
	srv, _ := newServer(t, engine)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/webchat?clinic_id=clinic-1&session=s1"
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	require.NoError(t, err)
	defer conn.Close()

	var hello OutboundMessage
	require.NoError(t, websocket.JSON.Receive(conn, &hello))
	assert.Equal(t, "session", hello.Type)
	assert.Equal(t, "s1", hello.SessionID)

	require.NoError(t, websocket.JSON.Send(conn, InboundMessage{Type: "ping"}))
	var pong OutboundMessage
	require.NoError(t, websocket.JSON.Receive(conn, &pong))
	assert.Equal(t, "pong", pong.Type)

	require.NoError(t, websocket.JSON.Send(conn, InboundMessage{Type: "message", Text: "hi"}))
	var reply OutboundMessage
	require.NoError(t, websocket.JSON.Receive(conn, &reply))
	assert.Equal(t, "reply", reply.Type)
	assert.Equal(t, "main_menu", reply.Step)
	require.Len(t, reply.Prompts, 1)
	assert.Equal(t, "echo: hi", reply.Prompts[0].Text)

	engine.mu.Lock()
	defer engine.mu.Unlock()
	require.Len(t, engine.turns, 1)
	assert.Equal(t, session.ChannelWebChat, engine.turns[0].Channel)
	assert.Equal(t, "webchat:clinic-1:s1", engine.turns[0].Address)
}

func TestWebSocket_MissingClinic(t *testing.T) {
	srv, _ := newServer(t, &echoEngine{})

	conn, err := websocket.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/webchat", "", srv.URL)
	require.NoError(t, err)
	defer conn.Close()

	var msg OutboundMessage
	require.NoError(t, websocket.JSON.Receive(conn, &msg))
	assert.Equal(t, "error", msg.Type)
}

func TestHandleMessage_HTTP(t *testing.T) {
	engine := &echoEngine{}
	srv, _ := newServer(t, engine)

	resp, err := http.Post(srv.URL+"/webchat/message", "application/json",
		strings.NewReader(`{"clinic_id":"clinic-1","session_id":"s2","text":"book"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out OutboundMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "s2", out.SessionID)
	assert.Equal(t, "echo: book", out.Prompts[0].Text)
}

func TestHandleMessage_Validation(t *testing.T) {
	h := NewHandler(&echoEngine{}, "", nil)

	w := httptest.NewRecorder()
	h.HandleMessage(w, httptest.NewRequest(http.MethodPost, "/webchat/message", strings.NewReader(`{"text":"hi"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	h.HandleMessage(w, httptest.NewRequest(http.MethodPost, "/webchat/message", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleMessage_EngineFailure(t *testing.T) {
	h := NewHandler(&echoEngine{err: errors.New("boom")}, "clinic-default", nil)

	w := httptest.NewRecorder()
	h.HandleMessage(w, httptest.NewRequest(http.MethodPost, "/webchat/message", strings.NewReader(`{"text":"hi"}`)))
	require.Equal(t, http.StatusOK, w.Code)

	var out OutboundMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "error", out.Type)
	assert.Equal(t, apologyText, out.Text)
	assert.Zero(t, h.Connected())
}
