package transport

import (
	"context"
	"time"

	"github.com/taskboard/taskchat/internal/domain"
)

// LocalChannel backs draft chats. It never touches the network: population
// always reports ErrDraftChat and sends are confirmed in place.
type LocalChannel struct {
	chatID domain.ChatID
	now    func() time.Time
}

func NewLocalChannel(chatID domain.ChatID) *LocalChannel {
	return &LocalChannel{chatID: chatID, now: time.Now}
}

func (c *LocalChannel) FetchInitial(ctx context.Context) ([]domain.Message, error) {
	return nil, domain.ErrDraftChat
}

func (c *LocalChannel) Subscribe(l Listener) error {
	return nil
}

func (c *LocalChannel) SendMessage(ctx context.Context, d domain.Draft) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ID:          d.ClientID,
		ClientID:    d.ClientID,
		AuthorID:    d.AuthorID,
		Body:        d.Text,
		CreatedAt:   c.now().UnixMilli(),
		Attachments: d.Attachments,
	}, nil
}

func (c *LocalChannel) Teardown() {}
