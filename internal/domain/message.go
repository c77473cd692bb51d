package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const MaxMessageSize = 5000

// DeliveryState tracks the outcome of a locally originated send. Messages
// received from others are implicitly Sent, which is the zero value.
type DeliveryState uint8

const (
	Sent DeliveryState = iota
	Sending
	Failed
)

func (s DeliveryState) String() string {
	switch s {
	case Sent:
		return "sent"
	case Sending:
		return "sending"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("DeliveryState(%d)", uint8(s))
	}
}

func (s DeliveryState) MarshalText() ([]byte, error) {
	switch s {
	case Sent, Sending, Failed:
		return []byte(s.String()), nil
	default:
		return nil, fmt.Errorf("unknown delivery state %d", uint8(s))
	}
}

func (s *DeliveryState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "", "sent":
		*s = Sent
	case "sending":
		*s = Sending
	case "failed":
		*s = Failed
	default:
		return fmt.Errorf("unknown delivery state %q", string(b))
	}
	return nil
}

// Message Invariants:
// 1. Body may be empty only when at least one attachment is present.
// 2. ID is unique within a chat. ClientID is the id the author generated and
//    survives server confirmation, so echoes can be matched to it.
// 3. CreatedAt is epoch milliseconds and is not authoritative until Sent.
type Message struct {
	ID          string        `json:"_id"`
	ClientID    string        `json:"clientId,omitempty"`
	AuthorID    string        `json:"userId"`
	Body        string        `json:"text"`
	CreatedAt   int64         `json:"createdAt"`
	Attachments []Attachment  `json:"attachments,omitempty"`
	State       DeliveryState `json:"status,omitempty"`
}

// NewMessage builds an optimistic message authored locally.
func NewMessage(authorID, body string, attachments []Attachment, now time.Time) (Message, error) {
	if authorID == "" {
		return Message{}, ErrNoIdentity
	}
	body = strings.TrimSpace(body)
	if err := validateContent(body, attachments); err != nil {
		return Message{}, err
	}
	id := uuid.NewString()
	return Message{
		ID:          id,
		ClientID:    id,
		AuthorID:    authorID,
		Body:        body,
		CreatedAt:   now.UnixMilli(),
		Attachments: cloneAttachments(attachments),
		State:       Sending,
	}, nil
}

func validateContent(body string, attachments []Attachment) error {
	if strings.TrimSpace(body) == "" && len(attachments) == 0 {
		return ErrEmptyMessage
	}
	if len(body) > MaxMessageSize {
		return ErrMessageTooLarge
	}
	for _, a := range attachments {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	m.Attachments = cloneAttachments(m.Attachments)
	return m
}

// Draft returns the outbound payload for m.
func (m Message) Draft(chatID ChatID) Draft {
	return Draft{
		ChatID:      chatID,
		ClientID:    m.ClientID,
		AuthorID:    m.AuthorID,
		Text:        m.Body,
		Attachments: cloneAttachments(m.Attachments),
	}
}

// Draft is the payload handed to a transport: {authorId, text, attachments?}.
type Draft struct {
	ChatID      ChatID       `json:"-"`
	ClientID    string       `json:"clientId,omitempty"`
	AuthorID    string       `json:"authorId"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

func (d Draft) Validate() error {
	if err := d.ChatID.Validate(); err != nil {
		return err
	}
	if d.AuthorID == "" {
		return ErrNoIdentity
	}
	return validateContent(d.Text, d.Attachments)
}
