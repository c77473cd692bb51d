package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/taskboard/taskchat/internal/domain"
	"github.com/taskboard/taskchat/internal/observability"
)

func WriteJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		observability.GetLogger(context.Background()).Error("failed to encode response", zap.Error(err))
	}
}

func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}

// writeServiceError maps chat service errors onto HTTP responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	log := observability.GetLogger(r.Context())
	switch {
	case errors.Is(err, domain.ErrInvalidChatID):
		WriteError(w, http.StatusBadRequest, "invalid_chat_id", err.Error())
	case errors.Is(err, domain.ErrDraftChat):
		WriteError(w, http.StatusBadRequest, "draft_chat", err.Error())
	case errors.Is(err, domain.ErrEmptyMessage),
		errors.Is(err, domain.ErrMessageTooLarge),
		errors.Is(err, domain.ErrInvalidAttachment):
		WriteError(w, http.StatusBadRequest, "invalid_argument", err.Error())
	case errors.Is(err, domain.ErrNoIdentity):
		WriteError(w, http.StatusBadRequest, "missing_author", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("request timed out", zap.Error(err))
		WriteError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		log.Error("internal_error", zap.String("request_id", RequestIDFromContext(r.Context())), zap.Error(err))
		WriteError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
	}
}
