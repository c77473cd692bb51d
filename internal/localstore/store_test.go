package localstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskboard/taskchat/internal/domain"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_SaveLoad(t *testing.T) {
	s := newStore(t)

	_, found, err := s.Load("T1")
	require.NoError(t, err)
	assert.False(t, found)

	msgs := []domain.Message{
		{ID: "1", AuthorID: "u1", Body: "hi", CreatedAt: 1000},
		{ID: "2", AuthorID: "u1", Body: "", CreatedAt: 2000, State: domain.Sending, Attachments: []domain.Attachment{
			{ID: "a1", Kind: domain.MediaImage, Name: "p.png", Locator: domain.LocalPreview{Path: "/tmp/p.png"}},
		}},
	}
	require.NoError(t, s.Save("T1", msgs))

	got, found, err := s.Load("T1")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, got, 2)
	assert.Equal(t, "hi", got[0].Body)
	assert.Equal(t, domain.Sent, got[0].State)
	assert.Equal(t, domain.Failed, got[1].State, "in-flight sends resolve to failed on reload")
	assert.Nil(t, got[1].Attachments[0].Locator, "local previews are not persisted")
}

func TestStore_EmptyChatIsFound(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Save("T2", nil))
	got, found, err := s.Load("T2")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, got)
}
