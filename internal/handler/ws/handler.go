package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	chatHandler "github.com/zhouzirui/mathbot/backend/internal/handler/chat"
	chatService "github.com/zhouzirui/mathbot/backend/internal/service/chat"
)

const (
	writeWait       = 10 * time.Second
	defaultPongWait = 60 * time.Second
	maxMessageSize  = 64 << 10
	maxPending      = 8
)

// Handler relays chat messages over a WebSocket, one reply per inbound frame.
type Handler struct {
	chatSvc    *chatService.Service
	upgrader   websocket.Upgrader
	pongWait   time.Duration
	pingPeriod time.Duration
}

// New creates the WebSocket chat handler.
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		pongWait:   defaultPongWait,
		pingPeriod: (defaultPongWait * 9) / 10,
	}
}

// RegisterRoutes mounts GET /ws/chat.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/chat", h.handleWebSocket)
}

type inboundMessage struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Response  string `json:"response,omitempty"`
	Status    int    `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// The default session id lets clients omit it from every frame.
	defaultSessionID := r.URL.Query().Get("session_id")

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Model calls run off the read loop so control frames keep being read.
	pending := make(chan inboundMessage, maxPending)
	replies := make(chan outgoingMessage, maxPending)
	go h.writeLoop(ctx, cancel, conn, replies)
	go h.relayLoop(ctx, pending, replies)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] read error: %v", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if !send(ctx, replies, errorMessage("", http.StatusBadRequest, "invalid message payload")) {
				return
			}
			continue
		}
		if msg.SessionID == "" {
			msg.SessionID = defaultSessionID
		}

		select {
		case pending <- msg:
		default:
			if !send(ctx, replies, errorMessage(msg.SessionID, http.StatusTooManyRequests, "too many pending messages")) {
				return
			}
		}
	}
}

// relayLoop answers pending messages one at a time, in arrival order.
func (h *Handler) relayLoop(ctx context.Context, pending <-chan inboundMessage, replies chan<- outgoingMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-pending:
			if !send(ctx, replies, h.relay(ctx, msg)) {
				return
			}
		}
	}
}

func (h *Handler) relay(ctx context.Context, msg inboundMessage) outgoingMessage {
	reply, err := h.chatSvc.Chat(ctx, msg.SessionID, msg.Message)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return errorMessage(msg.SessionID, http.StatusRequestTimeout, "request cancelled")
		}
		status, message := chatHandler.StatusFor(err)
		return errorMessage(msg.SessionID, status, message)
	}

	return outgoingMessage{
		Type:      "response",
		SessionID: msg.SessionID,
		Response:  reply,
		Timestamp: time.Now().UnixMilli(),
	}
}

func send(ctx context.Context, replies chan<- outgoingMessage, msg outgoingMessage) bool {
	select {
	case replies <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// writeLoop is the connection's only writer. On a write failure it cancels
// ctx and closes the connection so the read loop unblocks.
func (h *Handler) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, replies <-chan outgoingMessage) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()

	fail := func() {
		cancel()
		conn.Close()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-replies:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("[ws] write error: %v", err)
				fail()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				fail()
				return
			}
		}
	}
}

func errorMessage(sessionID string, status int, message string) outgoingMessage {
	return outgoingMessage{
		Type:      "error",
		SessionID: sessionID,
		Status:    status,
		Error:     message,
		Timestamp: time.Now().UnixMilli(),
	}
}
