// Package fanout pushes conversation and session events to dashboard
// clients over WebSocket, and carries their session control commands back.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"digitext/internal/domain"
	"digitext/internal/metrics"

	"github.com/gorilla/websocket"
)

// SessionController is the command surface the hub exposes to clients.
// Implemented by the session manager.
type SessionController interface {
	RequestCode(ctx context.Context, operatorID string) (domain.SessionStatus, error)
	CheckStatus(ctx context.Context, operatorID string) domain.SessionStatus
	Disconnect(ctx context.Context, operatorID string) domain.SessionStatus
	Send(ctx context.Context, operatorID, to, body string) domain.SendResult
}

// ConversationController handles conversation-level commands.
// Implemented by the resolver.
type ConversationController interface {
	MarkRead(ctx context.Context, contactID string) error
}

// command is one inbound control frame. Every command with an id gets an ack.
type command struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	To        string `json:"to,omitempty"`
	Body      string `json:"body,omitempty"`
	ContactID string `json:"contactId,omitempty"`
}

// ack is the reply frame for a command.
type ack struct {
	Type    string                `json:"type"` // always "ack"
	ID      string                `json:"id,omitempty"`
	Success bool                  `json:"success"`
	Error   string                `json:"error,omitempty"`
	Status  *domain.SessionStatus `json:"status,omitempty"`
	Result  *domain.SendResult    `json:"result,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins (configure CORS for production)
	},
}

// Hub fans events out to every client of an operator and routes their
// commands to the session controller. It implements domain.EventSink.
type Hub struct {
	controller    SessionController
	conversations ConversationController
	logger        *slog.Logger

	mu      sync.RWMutex
	clients map[string]*client
}

// client tracks one connected dashboard client.
type client struct {
	conn       *websocket.Conn
	operatorID string
	mu         sync.Mutex
}

func NewHub(controller SessionController, logger *slog.Logger) *Hub {
	return &Hub{
		controller: controller,
		logger:     logger,
		clients:    make(map[string]*client),
	}
}

// SetController binds the session controller. The hub is created before the
// session manager (the manager emits through the hub), so the controller
// arrives late. Must be called before the server starts accepting clients.
func (h *Hub) SetController(c SessionController) {
	h.controller = c
}

// SetConversations binds the conversation command handler.
func (h *Hub) SetConversations(c ConversationController) {
	h.conversations = c
}

// Handler returns the WebSocket upgrade handler. Clients identify their
// operator with the operator_id query parameter.
func (h *Hub) Handler() http.HandlerFunc {
	return h.handleUpgrade
}

func (h *Hub) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	operatorID := r.URL.Query().Get("operator_id")
	if operatorID == "" {
		http.Error(w, "operator_id is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	c := &client{conn: conn, operatorID: operatorID}
	clientID := fmt.Sprintf("%s-%p", operatorID, conn)

	h.mu.Lock()
	h.clients[clientID] = c
	h.mu.Unlock()
	metrics.WSConnections.Inc()

	h.logger.Info("client connected", "client_id", clientID, "operator", operatorID)

	defer func() {
		h.mu.Lock()
		delete(h.clients, clientID)
		h.mu.Unlock()
		metrics.WSConnections.Dec()
		conn.Close()
		h.logger.Info("client disconnected", "client_id", clientID)
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Error("websocket read error", "err", err)
			}
			return
		}

		var cmd command
		if err := json.Unmarshal(message, &cmd); err != nil {
			h.logger.Warn("invalid command frame", "operator", operatorID, "err", err)
			continue
		}

		// Commands can block on the browser client; never stall the read loop.
		go h.dispatch(c, cmd)
	}
}

// dispatch runs one command and always replies with an ack, so a client
// callback never hangs waiting on a session that does not exist.
func (h *Hub) dispatch(c *client, cmd command) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	reply := ack{Type: "ack", ID: cmd.ID}

	switch cmd.Type {
	case domain.CmdRequestCode:
		status, err := h.controller.RequestCode(ctx, c.operatorID)
		reply.Success = err == nil
		reply.Status = &status
		if err != nil {
			reply.Error = err.Error()
		}

	case domain.CmdCheckStatus:
		status := h.controller.CheckStatus(ctx, c.operatorID)
		reply.Success = true
		reply.Status = &status

	case domain.CmdDisconnect:
		status := h.controller.Disconnect(ctx, c.operatorID)
		reply.Success = true
		reply.Status = &status

	case domain.CmdSend:
		if cmd.To == "" || cmd.Body == "" {
			reply.Error = "to and body are required"
			break
		}
		result := h.controller.Send(ctx, c.operatorID, cmd.To, cmd.Body)
		reply.Success = result.Success
		reply.Result = &result
		reply.Error = result.Error

	case domain.CmdMarkRead:
		if cmd.ContactID == "" {
			reply.Error = "contactId is required"
			break
		}
		if h.conversations == nil {
			reply.Error = "conversation commands unavailable"
			break
		}
		if err := h.conversations.MarkRead(ctx, cmd.ContactID); err != nil {
			reply.Error = err.Error()
			break
		}
		reply.Success = true

	default:
		reply.Error = fmt.Sprintf("unknown command type %q", cmd.Type)
	}

	if err := c.send(reply); err != nil {
		h.logger.Debug("ack write failed", "operator", c.operatorID, "err", err)
	}
}

// Emit delivers an event to every client bound to the operator. Slow or
// broken clients only lose their own events.
func (h *Hub) Emit(operatorID string, event domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("cannot marshal event", "type", event.Type, "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		if c.operatorID != operatorID {
			continue
		}
		c.mu.Lock()
		err := c.conn.WriteMessage(websocket.TextMessage, data)
		c.mu.Unlock()
		if err != nil {
			h.logger.Debug("event write failed", "operator", operatorID, "err", err)
		}
	}
}

// CloseAll drops every client connection. Used at shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.conn.Close()
		delete(h.clients, id)
	}
}

func (c *client) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
