package domain

import "errors"

var (
	ErrInvalidChatID     = errors.New("invalid chat id")
	ErrDraftChat         = errors.New("draft chat is local only")
	ErrEmptyMessage      = errors.New("message has no text and no attachments")
	ErrMessageTooLarge   = errors.New("message too large")
	ErrInvalidAttachment = errors.New("invalid attachment")
	ErrNoIdentity        = errors.New("no local identity")
	ErrNotOpen           = errors.New("chat session not open")
	ErrMessageNotFound   = errors.New("message not found")
	ErrNotRetryable      = errors.New("message is not in failed state")
)
