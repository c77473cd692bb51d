package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taskboard/taskchat/internal/domain"
)

func TestTimeline_ConfirmKeepsAnchor(t *testing.T) {
	var tl timeline
	tl.insert(domain.Message{ID: "c1", ClientID: "c1", Body: "mine", CreatedAt: 1000, State: domain.Sending})
	tl.insert(domain.Message{ID: "x", Body: "theirs", CreatedAt: 1500})

	assert.True(t, tl.confirm("c1", domain.Message{ID: "s1", Body: "mine", CreatedAt: 2000}))

	msgs := tl.messages()
	assert.Equal(t, "s1", msgs[0].ID)
	assert.Equal(t, "c1", msgs[0].ClientID)
	assert.Equal(t, int64(2000), msgs[0].CreatedAt)
	assert.Equal(t, domain.Sent, msgs[0].State)
	assert.Equal(t, "x", msgs[1].ID)
}

func TestTimeline_ConfirmDropsEarlierEcho(t *testing.T) {
	var tl timeline
	tl.insert(domain.Message{ID: "c1", ClientID: "c1", Body: "mine", CreatedAt: 1000, State: domain.Sending})
	// An echo without a client id cannot be matched until the ack names it.
	tl.merge(domain.Message{ID: "s1", Body: "mine", CreatedAt: 1001})
	assert.Equal(t, 2, tl.len())

	tl.confirm("c1", domain.Message{ID: "s1", ClientID: "c1", Body: "mine", CreatedAt: 1001})
	assert.Equal(t, 1, tl.len())
}

func TestTimeline_FailDoesNotDowngradeSent(t *testing.T) {
	var tl timeline
	tl.insert(domain.Message{ID: "c1", ClientID: "c1", Body: "mine", CreatedAt: 1000, State: domain.Sending})
	tl.merge(domain.Message{ID: "s1", ClientID: "c1", Body: "mine", CreatedAt: 1001})

	assert.False(t, tl.fail("c1"))
	assert.Equal(t, domain.Sent, tl.messages()[0].State)
}

func TestTimeline_MergeUnchanged(t *testing.T) {
	var tl timeline
	m := domain.Message{ID: "1", Body: "hi", CreatedAt: 10}
	assert.True(t, tl.merge(m))
	assert.False(t, tl.merge(m))
}

func TestTimeline_MergeReslotsRedatedMessage(t *testing.T) {
	var tl timeline
	tl.merge(domain.Message{ID: "a", Body: "first", CreatedAt: 1000})
	tl.merge(domain.Message{ID: "b", Body: "second", CreatedAt: 2000})
	tl.insert(domain.Message{ID: "c1", ClientID: "c1", Body: "mine", CreatedAt: 2500, State: domain.Sending})

	assert.True(t, tl.merge(domain.Message{ID: "a", Body: "first", CreatedAt: 3000}))
	assert.Equal(t, []string{"b", "c1", "a"}, ids(tl.messages()))

	// A confirmed local message keeps its slot whatever the stored time.
	tl.confirm("c1", domain.Message{ID: "s1", Body: "mine", CreatedAt: 500})
	tl.merge(domain.Message{ID: "s1", ClientID: "c1", Body: "mine", CreatedAt: 600})
	assert.Equal(t, []string{"b", "s1", "a"}, ids(tl.messages()))
}

func TestTimeline_Unsent(t *testing.T) {
	var tl timeline
	tl.merge(domain.Message{ID: "a", CreatedAt: 1})
	tl.insert(domain.Message{ID: "c1", ClientID: "c1", CreatedAt: 2, State: domain.Sending})
	tl.insert(domain.Message{ID: "c2", ClientID: "c2", CreatedAt: 3, State: domain.Failed})

	assert.Equal(t, []string{"c1", "c2"}, ids(tl.unsent()))
}

func ids(msgs []domain.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}
