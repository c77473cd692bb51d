// Package transport moves messages between a chat session and the message
// store. Every strategy satisfies Channel; the session controller never
// knows which one it holds.
package transport

import (
	"context"
	"errors"

	"github.com/taskboard/taskchat/internal/domain"
)

var (
	ErrStatus       = errors.New("unexpected response status")
	ErrTornDown     = errors.New("channel torn down")
	ErrDisconnected = errors.New("connection lost before acknowledgement")
	ErrNotConnected = errors.New("not connected")
	ErrAckTimeout   = errors.New("acknowledgement timed out")
)

// LinkStatus is what a channel reports about its path to the store.
type LinkStatus int

const (
	// LinkUp means live updates are flowing.
	LinkUp LinkStatus = iota
	// LinkReconnecting means a persistent connection dropped and is being
	// re-established.
	LinkReconnecting
	// LinkUnreachable means the store could not be reached at all.
	LinkUnreachable
)

func (s LinkStatus) String() string {
	switch s {
	case LinkUp:
		return "up"
	case LinkReconnecting:
		return "reconnecting"
	case LinkUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// Listener receives inbound traffic for one chat.
type Listener interface {
	Deliver(m domain.Message)
	LinkChanged(s LinkStatus)
}

// Channel is bound to exactly one chat.
type Channel interface {
	// FetchInitial returns the current history of the chat.
	FetchInitial(ctx context.Context) ([]domain.Message, error)
	// Subscribe starts live delivery to l. It is called at most once.
	Subscribe(l Listener) error
	// SendMessage returns the store-confirmed message for d.
	SendMessage(ctx context.Context, d domain.Draft) (domain.Message, error)
	// Teardown releases every resource held by the channel. No callbacks
	// are made after it returns.
	Teardown()
}

// Factory builds the channel for a chat.
type Factory func(chatID domain.ChatID) Channel

// NewFactory routes draft chats to a LocalChannel and everything else to
// persisted, which is the strategy picked at configuration time.
func NewFactory(persisted Factory) Factory {
	return func(chatID domain.ChatID) Channel {
		if chatID.IsDraft() || persisted == nil {
			return NewLocalChannel(chatID)
		}
		return persisted(chatID)
	}
}
