package domain

import (
	"strings"

	"github.com/google/uuid"
)

// DraftPrefix marks a conversation whose owning task has not been persisted
// yet. Draft chats live only in the local store.
const DraftPrefix = "draft:"

// ChatID scopes one conversation to one task or item.
type ChatID string

func NewDraftChatID() ChatID {
	return ChatID(DraftPrefix + uuid.NewString())
}

func (id ChatID) String() string {
	return string(id)
}

func (id ChatID) IsDraft() bool {
	return strings.HasPrefix(string(id), DraftPrefix)
}

func (id ChatID) Validate() error {
	s := strings.TrimSpace(string(id))
	if s == "" || s == DraftPrefix {
		return ErrInvalidChatID
	}
	return nil
}

// Participant is anyone who may author messages in a chat.
type Participant struct {
	ID    string `json:"_id" yaml:"id"`
	Name  string `json:"name,omitempty" yaml:"name"`
	Email string `json:"email,omitempty" yaml:"email"`
	Role  string `json:"role,omitempty" yaml:"role"`
}

// UnknownAuthor is rendered when an author id resolves to nobody.
const UnknownAuthor = "Unknown"

func (p Participant) DisplayName() string {
	switch {
	case p.Name != "":
		return p.Name
	case p.Email != "":
		return p.Email
	default:
		return UnknownAuthor
	}
}
