package roster

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taskboard/taskchat/internal/domain"
)

func TestResolver_Order(t *testing.T) {
	me := domain.Participant{ID: "u1", Name: "Me", Role: "developer"}
	r := NewResolver(NewStaticIdentity(me), NewStatic([]domain.Participant{
		{ID: "u1", Name: "Roster copy of me"},
		{ID: "u2", Email: "tess@example.com", Role: "tester"},
	}))

	a := r.Resolve("u1")
	assert.Equal(t, "Me", a.Name)
	assert.True(t, a.Mine)

	a = r.Resolve("u2")
	assert.Equal(t, "tess@example.com", a.Name)
	assert.Equal(t, "tester", a.Role)
	assert.False(t, a.Mine)
	assert.True(t, a.Known)

	a = r.Resolve("ghost")
	assert.Equal(t, domain.UnknownAuthor, a.Name)
	assert.False(t, a.Known)
}

func TestResolver_NilProviders(t *testing.T) {
	r := NewResolver(nil, nil)
	assert.Equal(t, domain.UnknownAuthor, r.Resolve("x").Name)
	assert.Equal(t, domain.UnknownAuthor, r.Resolve("").Name)
}

func TestStatic_SetAndRole(t *testing.T) {
	s := NewStatic([]domain.Participant{
		{ID: "a", Role: "admin"},
		{ID: ""},
		{ID: "b", Role: "Senior Developer"},
		{ID: "a", Role: "tester"},
	})
	ps := s.Participants()
	assert.Len(t, ps, 2)
	assert.Equal(t, "tester", ps[0].Role, "later duplicates win")

	dev, ok := FirstWithRole(s, regexp.MustCompile(`(?i)dev`))
	assert.True(t, ok)
	assert.Equal(t, "b", dev.ID)

	_, ok = NewStaticIdentity(domain.Participant{}).Current()
	assert.False(t, ok)
}
