package composer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/taskboard/taskchat/internal/domain"
)

type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(body string, attachments ...domain.Attachment) (domain.Message, error) {
	args := m.Called(body, attachments)
	return args.Get(0).(domain.Message), args.Error(1)
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o600))
	return p
}

var (
	pngHeader = []byte("\x89PNG\r\n\x1a\n0000")
	mp4Header = []byte("\x00\x00\x00\x18ftypmp42\x00\x00\x00\x00mp42isom")
)

func TestFromFile(t *testing.T) {
	img := writeFile(t, "shot.png", pngHeader)
	a, ok, err := FromFile(img)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.MediaImage, a.Kind)
	assert.Equal(t, "shot.png", a.Name)
	assert.True(t, a.IsLocal())

	sniffed := writeFile(t, "noext", pngHeader)
	a, ok, err = FromFile(sniffed)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.MediaImage, a.Kind)

	txt := writeFile(t, "notes.txt", []byte("hello"))
	_, ok, err = FromFile(txt)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = FromFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestSubmit_ClearsOnSuccess(t *testing.T) {
	s := new(MockSender)
	s.On("Send", "hello", []domain.Attachment(nil)).Return(domain.Message{ID: "1", Body: "hello"}, nil)

	c := New(s, nil)
	c.SetText("hello")
	m, err := c.Submit()
	require.NoError(t, err)
	assert.Equal(t, "1", m.ID)
	assert.Empty(t, c.Text())
	s.AssertExpectations(t)
}

func TestSubmit_KeepsBufferOnRejection(t *testing.T) {
	s := new(MockSender)
	s.On("Send", "   ", []domain.Attachment(nil)).Return(domain.Message{}, domain.ErrEmptyMessage)

	c := New(s, nil)
	c.SetText("   ")
	_, err := c.Submit()
	assert.ErrorIs(t, err, domain.ErrEmptyMessage)
	assert.Equal(t, "   ", c.Text())
}

func TestSendFiles_SkipsUnsupported(t *testing.T) {
	s := new(MockSender)
	s.On("Send", "", mock.MatchedBy(func(atts []domain.Attachment) bool {
		return len(atts) == 1 && atts[0].Kind == domain.MediaVideo
	})).Return(domain.Message{ID: "1"}, nil)

	c := New(s, nil)
	_, err := c.SendFiles(writeFile(t, "clip.mp4", mp4Header), writeFile(t, "doc.pdf", []byte("%PDF-1.4")))
	require.NoError(t, err)
	assert.Empty(t, c.Pending())
	s.AssertExpectations(t)

	_, err = c.SendFiles(writeFile(t, "doc.pdf", []byte("%PDF-1.4")))
	assert.ErrorIs(t, err, ErrNoMedia)
}
