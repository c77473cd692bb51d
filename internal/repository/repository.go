package repository

import (
	"context"

	"github.com/taskboard/taskchat/internal/domain"
)

// Repository is the durable message store.
type Repository interface {
	// ListMessages returns a chat's history in store order. A chat with no
	// messages yields an empty slice.
	ListMessages(ctx context.Context, chatID domain.ChatID) ([]domain.Message, error)

	// InsertMessage stores msg unless a message with the same client id
	// already exists in the chat, in which case the existing one is
	// returned and created is false.
	InsertMessage(ctx context.Context, chatID domain.ChatID, msg domain.Message) (stored domain.Message, created bool, err error)

	Ping(ctx context.Context) error
}
