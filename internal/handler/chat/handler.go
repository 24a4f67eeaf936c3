package chat

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	chatService "github.com/zhouzirui/mathbot/backend/internal/service/chat"
	"github.com/zhouzirui/mathbot/backend/pkg/utils"
)

const maxBodyBytes = 1 << 20

// Handler serves email registration and the chat relay.
type Handler struct {
	chatSvc *chatService.Service
}

// New creates a chat handler.
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes mounts the endpoints with and without the trailing slash.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/set_email/", h.handleSetEmail)
	r.Post("/set_email", h.handleSetEmail)
	r.Post("/chat/", h.handleChat)
	r.Post("/chat", h.handleChat)
}

// ChatRequest is the body of POST /chat/.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// ChatResponse is the body of a successful chat call.
type ChatResponse struct {
	Response string `json:"response"`
}

func (h *Handler) handleSetEmail(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email string `json:"email"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reg, err := h.chatSvc.RegisterEmail(r.Context(), payload.Email)
	if err != nil {
		status, message := StatusFor(err)
		utils.RespondError(w, status, message)
		return
	}

	utils.RespondJSON(w, http.StatusOK, reg)
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload ChatRequest

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reply, err := h.chatSvc.Chat(r.Context(), payload.SessionID, payload.Message)
	if err != nil {
		status, message := StatusFor(err)
		utils.RespondError(w, status, message)
		return
	}

	utils.RespondJSON(w, http.StatusOK, ChatResponse{Response: reply})
}

// StatusFor maps service errors to an HTTP status and client-facing message.
func StatusFor(err error) (int, string) {
	var providerErr *chatService.ProviderError
	switch {
	case errors.Is(err, chatService.ErrInvalidEmail),
		errors.Is(err, chatService.ErrMessageRequired),
		errors.Is(err, chatService.ErrSessionIDRequired),
		errors.Is(err, chatService.ErrModelUnavailable):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, chatService.ErrSessionNotFound),
		errors.Is(err, chatService.ErrSessionIncomplete):
		return http.StatusNotFound, err.Error()
	case errors.As(err, &providerErr):
		return http.StatusBadGateway, providerErr.Error()
	default:
		log.Printf("[chat] internal error: %v", err)
		return http.StatusInternalServerError, "internal server error"
	}
}
