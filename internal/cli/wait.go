package cli

import (
	"context"
	"time"

	"github.com/taskboard/taskchat/internal/domain"
	"github.com/taskboard/taskchat/internal/session"
)

type watchable interface {
	Changes() <-chan struct{}
	Snapshot() []domain.Message
}

// waitSettled blocks until no message is Sending or ctx ends.
func waitSettled(ctx context.Context, c watchable) error {
	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()
	for {
		if !pending(c.Snapshot()) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.Changes():
		case <-tick.C:
		}
	}
}

func pending(msgs []domain.Message) bool {
	for _, m := range msgs {
		if m.State == domain.Sending {
			return true
		}
	}
	return false
}

func failed(msgs []domain.Message) int {
	n := 0
	for _, m := range msgs {
		if m.State == domain.Failed {
			n++
		}
	}
	return n
}

var _ watchable = (*session.Controller)(nil)
