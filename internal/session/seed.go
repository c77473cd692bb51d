package session

import (
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/taskboard/taskchat/internal/domain"
	"github.com/taskboard/taskchat/internal/roster"
)

var (
	developerRole = regexp.MustCompile(`(?i)dev`)
	testerRole    = regexp.MustCompile(`(?i)test`)
)

// seedConversation returns a placeholder exchange between the first
// developer and the first tester on the roster. ok is false unless both
// exist.
func seedConversation(p roster.Provider, now time.Time) ([]domain.Message, bool) {
	if p == nil {
		return nil, false
	}
	dev, ok := roster.FirstWithRole(p, developerRole)
	if !ok {
		return nil, false
	}
	tester, ok := roster.FirstWithRole(p, testerRole)
	if !ok {
		return nil, false
	}
	return []domain.Message{
		{
			ID:        uuid.NewString(),
			AuthorID:  tester.ID,
			Body:      "Found an issue on login form when submitting empty password. Please confirm.",
			CreatedAt: now.Add(-4 * time.Minute).UnixMilli(),
		},
		{
			ID:        uuid.NewString(),
			AuthorID:  dev.ID,
			Body:      "Acknowledged. Reproducing now. Will push a fix shortly.",
			CreatedAt: now.Add(-3 * time.Minute).UnixMilli(),
		},
	}, true
}
