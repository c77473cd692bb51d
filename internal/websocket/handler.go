package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/taskboard/taskchat/internal/chat"
	"github.com/taskboard/taskchat/internal/domain"
	"github.com/taskboard/taskchat/internal/observability"
	"github.com/taskboard/taskchat/internal/wire"
)

const requestTimeout = 5 * time.Second

// ChatService is the part of chat.Service the socket needs.
type ChatService interface {
	ListMessages(ctx context.Context, chatID domain.ChatID) ([]domain.Message, error)
	SendMessage(ctx context.Context, cmd chat.SendMessageCommand) (domain.Message, error)
}

type Handler struct {
	rooms     *Rooms
	svc       ChatService
	sendRate  rate.Limit
	sendBurst int
	upgrader  websocket.Upgrader
}

func NewHandler(rooms *Rooms, svc ChatService, sendRate float64, sendBurst int) *Handler {
	limit := rate.Inf
	if sendRate > 0 {
		limit = rate.Limit(sendRate)
	}
	return &Handler{
		rooms:     rooms,
		svc:       svc,
		sendRate:  limit,
		sendBurst: sendBurst,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := observability.GetLogger(r.Context())
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("upgrade error", zap.Error(err))
		return
	}

	session := NewSession(uuid.NewString(), conn, rate.NewLimiter(h.sendRate, h.sendBurst))
	session.Start()
	log.Info("connected", zap.String("session_id", session.ID))
	observability.WebSocketConnectionsActive.WithLabelValues("taskchat").Inc()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go h.readLoop(session)
}

func (h *Handler) readLoop(s *Session) {
	defer func() {
		h.rooms.Remove(s)
		s.Close()
		logger().Info("disconnected", zap.String("session_id", s.ID))
		observability.WebSocketConnectionsActive.WithLabelValues("taskchat").Dec()
	}()

	for {
		_, data, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger().Error("read loop error", zap.String("session_id", s.ID), zap.Error(err))
			}
			return
		}
		env, err := wire.Decode(data)
		if err != nil {
			s.TrySend(wire.EncodeError("", "", "malformed frame"))
			continue
		}
		h.dispatch(s, env)
	}
}

func (h *Handler) dispatch(s *Session, env wire.Envelope) {
	switch env.Event {
	case wire.EventJoin:
		h.join(s, env.ChatID)
	case wire.EventLeave:
		h.rooms.Leave(env.ChatID, s)
	case wire.EventSendMessage:
		h.send(s, env)
	default:
		s.TrySend(wire.EncodeError(env.ChatID, env.AckID, "unknown event "+env.Event))
	}
}

// join subscribes s to the chat and answers with the current history.
func (h *Handler) join(s *Session, chatID domain.ChatID) {
	if err := chatID.Validate(); err != nil || chatID.IsDraft() {
		s.TrySend(wire.EncodeError(chatID, "", "invalid chat id"))
		return
	}
	h.rooms.Join(chatID, s)

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	msgs, err := h.svc.ListMessages(ctx, chatID)
	if err != nil {
		logger().Error("join: list failed", zap.String("chat_id", chatID.String()), zap.Error(err))
		s.TrySend(wire.EncodeError(chatID, "", errorMessage(err)))
		return
	}
	frame, err := wire.Encode(wire.EventMessages, chatID, "", msgs)
	if err != nil {
		return
	}
	s.TrySend(frame)
}

func (h *Handler) send(s *Session, env wire.Envelope) {
	if !s.AllowSend() {
		s.TrySend(wire.EncodeError(env.ChatID, env.AckID, "rate limited"))
		return
	}
	var d domain.Draft
	if err := json.Unmarshal(env.Data, &d); err != nil {
		s.TrySend(wire.EncodeError(env.ChatID, env.AckID, "malformed message"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	m, err := h.svc.SendMessage(ctx, chat.SendMessageCommand{
		ChatID:      env.ChatID,
		ClientID:    d.ClientID,
		AuthorID:    d.AuthorID,
		Text:        d.Text,
		Attachments: d.Attachments,
		Ingress:     "socket",
	})
	if err != nil {
		s.TrySend(wire.EncodeError(env.ChatID, env.AckID, errorMessage(err)))
		return
	}
	frame, err := wire.Encode(wire.EventAck, env.ChatID, env.AckID, m)
	if err != nil {
		return
	}
	s.TrySend(frame)
}

// errorMessage exposes validation errors to the client and hides the rest.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidChatID),
		errors.Is(err, domain.ErrDraftChat),
		errors.Is(err, domain.ErrEmptyMessage),
		errors.Is(err, domain.ErrMessageTooLarge),
		errors.Is(err, domain.ErrInvalidAttachment),
		errors.Is(err, domain.ErrNoIdentity):
		return err.Error()
	default:
		return "internal error"
	}
}
