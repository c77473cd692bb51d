// Package chat is the message store's application layer: it validates
// sends, assigns server ids and timestamps, persists, and fans out.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskboard/taskchat/internal/domain"
	"github.com/taskboard/taskchat/internal/events"
	"github.com/taskboard/taskchat/internal/observability"
	"github.com/taskboard/taskchat/internal/repository"
)

type HistoryCache interface {
	Get(ctx context.Context, chatID domain.ChatID) ([]domain.Message, bool, error)
	Set(ctx context.Context, chatID domain.ChatID, msgs []domain.Message) error
	Invalidate(ctx context.Context, chatID domain.ChatID) error
}

// Broadcaster pushes a stored message to the sockets joined to its chat on
// this instance.
type Broadcaster interface {
	Broadcast(chatID domain.ChatID, m domain.Message)
}

// PeerPublisher forwards a stored message to the other instances.
type PeerPublisher interface {
	Publish(ctx context.Context, chatID domain.ChatID, m domain.Message) error
}

type Deps struct {
	Cache  HistoryCache
	Rooms  Broadcaster
	Peers  PeerPublisher
	Events events.Publisher
	Log    *zap.Logger
	Now    func() time.Time
}

type Service struct {
	repo   repository.Repository
	cache  HistoryCache
	rooms  Broadcaster
	peers  PeerPublisher
	events events.Publisher
	log    *zap.Logger
	now    func() time.Time
}

func New(repo repository.Repository, deps Deps) *Service {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	return &Service{
		repo:   repo,
		cache:  deps.Cache,
		rooms:  deps.Rooms,
		peers:  deps.Peers,
		events: deps.Events,
		log:    deps.Log,
		now:    deps.Now,
	}
}

func validateChatID(chatID domain.ChatID) error {
	if err := chatID.Validate(); err != nil {
		return err
	}
	if chatID.IsDraft() {
		return domain.ErrDraftChat
	}
	return nil
}

// ListMessages returns a chat's full history, oldest first.
func (s *Service) ListMessages(ctx context.Context, chatID domain.ChatID) ([]domain.Message, error) {
	if err := validateChatID(chatID); err != nil {
		return nil, err
	}

	if s.cache != nil {
		msgs, found, err := s.cache.Get(ctx, chatID)
		if err != nil {
			observability.GetLogger(ctx).Warn("history cache read failed", zap.String("chat_id", chatID.String()), zap.Error(err))
		} else if found {
			return msgs, nil
		}
	}

	msgs, err := s.repo.ListMessages(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, chatID, msgs); err != nil {
			observability.GetLogger(ctx).Warn("history cache write failed", zap.String("chat_id", chatID.String()), zap.Error(err))
		}
	}
	return msgs, nil
}

type SendMessageCommand struct {
	ChatID      domain.ChatID
	ClientID    string
	AuthorID    string
	Text        string
	Attachments []domain.Attachment
	// Ingress labels metrics: "rest" or "socket".
	Ingress string
}

// SendMessage stores a message and fans it out. Re-sending a client id
// that is already stored returns the stored message and fans out nothing.
func (s *Service) SendMessage(ctx context.Context, cmd SendMessageCommand) (domain.Message, error) {
	log := observability.GetLogger(ctx)

	if err := validateChatID(cmd.ChatID); err != nil {
		return domain.Message{}, err
	}
	draft := domain.Draft{
		ChatID:      cmd.ChatID,
		ClientID:    cmd.ClientID,
		AuthorID:    strings.TrimSpace(cmd.AuthorID),
		Text:        strings.TrimSpace(cmd.Text),
		Attachments: cmd.Attachments,
	}
	if err := draft.Validate(); err != nil {
		return domain.Message{}, err
	}
	for _, a := range draft.Attachments {
		if a.URL() == "" {
			return domain.Message{}, domain.ErrInvalidAttachment
		}
	}

	msg := domain.Message{
		ID:          uuid.NewString(),
		ClientID:    draft.ClientID,
		AuthorID:    draft.AuthorID,
		Body:        draft.Text,
		CreatedAt:   s.now().UnixMilli(),
		Attachments: draft.Attachments,
	}

	stored, created, err := s.repo.InsertMessage(ctx, cmd.ChatID, msg)
	if err != nil {
		return domain.Message{}, fmt.Errorf("failed to save message: %w", err)
	}
	if !created {
		log.Info("duplicate send, returning stored message",
			zap.String("chat_id", cmd.ChatID.String()),
			zap.String("client_id", cmd.ClientID),
			zap.String("message_id", stored.ID),
		)
		return stored, nil
	}

	ingress := cmd.Ingress
	if ingress == "" {
		ingress = "rest"
	}
	observability.MessagesStoredTotal.WithLabelValues(ingress).Inc()
	log.Info("message stored",
		zap.String("chat_id", cmd.ChatID.String()),
		zap.String("message_id", stored.ID),
		zap.String("ingress", ingress),
	)

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, cmd.ChatID); err != nil {
			log.Warn("history cache invalidate failed", zap.String("chat_id", cmd.ChatID.String()), zap.Error(err))
		}
	}
	if s.rooms != nil {
		s.rooms.Broadcast(cmd.ChatID, stored)
	}
	if s.peers != nil {
		if err := s.peers.Publish(ctx, cmd.ChatID, stored); err != nil {
			log.Warn("peer fan-out failed", zap.String("chat_id", cmd.ChatID.String()), zap.Error(err))
		}
	}
	if err := s.events.MessageCreated(ctx, cmd.ChatID, stored); err != nil {
		log.Warn("event publish failed", zap.String("chat_id", cmd.ChatID.String()), zap.Error(err))
	}
	return stored, nil
}

// DeliverRemote hands a message stored by another instance to local
// sockets.
func (s *Service) DeliverRemote(chatID domain.ChatID, m domain.Message) {
	if s.rooms != nil {
		s.rooms.Broadcast(chatID, m)
	}
}
