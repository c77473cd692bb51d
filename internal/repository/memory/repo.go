// Package memory is an in-process Repository for tests and single-node
// development runs.
package memory

import (
	"context"
	"sync"

	"github.com/taskboard/taskchat/internal/domain"
)

type Repository struct {
	mu       sync.RWMutex
	messages map[domain.ChatID][]domain.Message
	byClient map[domain.ChatID]map[string]int
}

func New() *Repository {
	return &Repository{
		messages: make(map[domain.ChatID][]domain.Message),
		byClient: make(map[domain.ChatID]map[string]int),
	}
}

func (r *Repository) ListMessages(ctx context.Context, chatID domain.ChatID) ([]domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Message, 0, len(r.messages[chatID]))
	for _, m := range r.messages[chatID] {
		out = append(out, m.Clone())
	}
	return out, nil
}

func (r *Repository) InsertMessage(ctx context.Context, chatID domain.ChatID, msg domain.Message) (domain.Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ClientID != "" {
		if i, ok := r.byClient[chatID][msg.ClientID]; ok {
			return r.messages[chatID][i].Clone(), false, nil
		}
	}

	r.messages[chatID] = append(r.messages[chatID], msg.Clone())
	if msg.ClientID != "" {
		if r.byClient[chatID] == nil {
			r.byClient[chatID] = make(map[string]int)
		}
		r.byClient[chatID][msg.ClientID] = len(r.messages[chatID]) - 1
	}
	return msg.Clone(), true, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return nil
}
