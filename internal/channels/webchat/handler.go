// Package webchat is a browser console for the booking conversation. Each
// websocket session is one conversation driven synchronously through the engine.
package webchat

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/clinic-booking-assistant/internal/conversation"
	"github.com/wolfman30/clinic-booking-assistant/internal/session"
	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

const apologyText = "Sorry, something went wrong. Please try again."

type turnHandler interface {
	Handle(ctx context.Context, turn conversation.Turn) (conversation.Reply, error)
}

// InboundMessage is what the console sends.
type InboundMessage struct {
	Type     string `json:"type"` // "message", "ping"
	Text     string `json:"text,omitempty"`
	ChoiceID string `json:"choice_id,omitempty"`
	Name     string `json:"name,omitempty"`
}

// OutboundMessage is what we send to the console.
type OutboundMessage struct {
	Type      string                `json:"type"` // "session", "reply", "pong", "error"
	SessionID string                `json:"session_id,omitempty"`
	Text      string                `json:"text,omitempty"`
	Step      string                `json:"step,omitempty"`
	Prompts   []conversation.Prompt `json:"prompts,omitempty"`
}

// Handler manages web chat connections.
type Handler struct {
	engine        turnHandler
	defaultClinic string
	logger        *logging.Logger

	mu    sync.RWMutex
	conns map[string]*websocket.Conn // address -> active connection
}

func NewHandler(engine turnHandler, defaultClinic string, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		engine:        engine,
		defaultClinic: defaultClinic,
		logger:        logger,
		conns:         make(map[string]*websocket.Conn),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/webchat", h.HandleWebSocket)
	r.Post("/webchat/message", h.HandleMessage)
}

// Address builds the session address for a console session.
func Address(clinicID, sessionID string) string {
	return fmt.Sprintf("webchat:%s:%s", clinicID, sessionID)
}

func generateSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return uuid.New().String()
	}
	return hex.EncodeToString(b)
}

// HandleWebSocket upgrades the connection and runs one turn per message.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, r)
	}).ServeHTTP(w, r)
}

func (h *Handler) serveWS(conn *websocket.Conn, r *http.Request) {
	clinicID := h.clinicID(r.URL.Query().Get("clinic_id"))
	if clinicID == "" {
		_ = websocket.JSON.Send(conn, OutboundMessage{Type: "error", Text: "missing clinic_id parameter"})
		return
	}
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = generateSessionID()
	}
	address := Address(clinicID, sessionID)

	_ = websocket.JSON.Send(conn, OutboundMessage{Type: "session", SessionID: sessionID})

	h.mu.Lock()
	h.conns[address] = conn
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		if h.conns[address] == conn {
			delete(h.conns, address)
		}
		h.mu.Unlock()
	}()

	h.logger.Info("webchat: connection opened", "clinic_id", clinicID, "session_id", sessionID)

	for {
		var msg InboundMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			h.logger.Debug("webchat: connection closed", "clinic_id", clinicID, "error", err)
			return
		}
		if msg.Type == "ping" {
			_ = websocket.JSON.Send(conn, OutboundMessage{Type: "pong"})
			continue
		}
		if msg.Type != "message" || (strings.TrimSpace(msg.Text) == "" && msg.ChoiceID == "") {
			continue
		}

		out := h.turn(r.Context(), clinicID, address, msg)
		out.SessionID = sessionID
		if err := websocket.JSON.Send(conn, out); err != nil {
			h.logger.Debug("webchat: send failed", "session_id", sessionID, "error", err)
			return
		}
	}
}

func (h *Handler) turn(ctx context.Context, clinicID, address string, msg InboundMessage) OutboundMessage {
	reply, err := h.engine.Handle(ctx, conversation.Turn{
		Channel:     session.ChannelWebChat,
		Address:     address,
		ClinicID:    clinicID,
		Text:        msg.Text,
		ChoiceID:    msg.ChoiceID,
		DisplayName: msg.Name,
	})
	if err != nil {
		h.logger.Error("webchat: turn failed", "address", address, "error", err)
	}
	if len(reply.Prompts) == 0 {
		return OutboundMessage{Type: "error", Text: apologyText}
	}
	return OutboundMessage{Type: "reply", Step: reply.Step.String(), Prompts: reply.Prompts}
}

// HandleMessage is the HTTP fallback: one turn per request.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClinicID  string `json:"clinic_id"`
		SessionID string `json:"session_id"`
		Text      string `json:"text"`
		ChoiceID  string `json:"choice_id"`
		Name      string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	clinicID := h.clinicID(req.ClinicID)
	if clinicID == "" || (req.Text == "" && req.ChoiceID == "") {
		http.Error(w, "clinic_id and text are required", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		req.SessionID = generateSessionID()
	}

	out := h.turn(r.Context(), clinicID, Address(clinicID, req.SessionID),
		InboundMessage{Type: "message", Text: req.Text, ChoiceID: req.ChoiceID, Name: req.Name})
	out.SessionID = req.SessionID

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (h *Handler) clinicID(requested string) string {
	if id := strings.TrimSpace(requested); id != "" {
		return id
	}
	return h.defaultClinic
}

// Connected reports how many console sessions are open.
func (h *Handler) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
