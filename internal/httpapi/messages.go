package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/taskboard/taskchat/internal/chat"
	"github.com/taskboard/taskchat/internal/domain"
)

const requestTimeout = 5 * time.Second

type ChatService interface {
	ListMessages(ctx context.Context, chatID domain.ChatID) ([]domain.Message, error)
	SendMessage(ctx context.Context, cmd chat.SendMessageCommand) (domain.Message, error)
}

type MessageHandler struct {
	svc ChatService
}

func NewMessageHandler(svc ChatService) *MessageHandler {
	return &MessageHandler{svc: svc}
}

// List GET /chat/{chatId}/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	chatID := domain.ChatID(chi.URLParam(r, "chatId"))

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	msgs, err := h.svc.ListMessages(ctx, chatID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, msgs)
}

// Send POST /chat/{chatId}/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	chatID := domain.ChatID(chi.URLParam(r, "chatId"))

	var req domain.Draft
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	m, err := h.svc.SendMessage(ctx, chat.SendMessageCommand{
		ChatID:      chatID,
		ClientID:    req.ClientID,
		AuthorID:    req.AuthorID,
		Text:        req.Text,
		Attachments: req.Attachments,
		Ingress:     "rest",
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, m)
}
