// Package composer holds the message being written and turns picked files
// into attachments.
package composer

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskboard/taskchat/internal/domain"
)

var ErrNoMedia = errors.New("no image or video among the picked files")

// Sender is the controller side of a submit.
type Sender interface {
	Send(body string, attachments ...domain.Attachment) (domain.Message, error)
}

type Composer struct {
	sender Sender
	log    *zap.Logger

	mu      sync.Mutex
	text    string
	pending []domain.Attachment
}

func New(sender Sender, log *zap.Logger) *Composer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Composer{sender: sender, log: log}
}

func (c *Composer) SetText(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = s
}

func (c *Composer) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

func (c *Composer) Pending() []domain.Attachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Attachment(nil), c.pending...)
}

// Attach adds the image and video files among paths to the pending
// attachments. Other files are skipped. It returns how many were added.
func (c *Composer) Attach(paths ...string) (int, error) {
	var added []domain.Attachment
	for _, p := range paths {
		a, ok, err := FromFile(p)
		if err != nil {
			return 0, err
		}
		if !ok {
			c.log.Debug("skipping unsupported file", zap.String("path", p))
			continue
		}
		added = append(added, a)
	}

	c.mu.Lock()
	c.pending = append(c.pending, added...)
	c.mu.Unlock()
	return len(added), nil
}

// Submit sends the current text and pending attachments. The buffer is
// cleared only when the controller accepts the message.
func (c *Composer) Submit() (domain.Message, error) {
	c.mu.Lock()
	text, atts := c.text, append([]domain.Attachment(nil), c.pending...)
	c.mu.Unlock()

	m, err := c.sender.Send(text, atts...)
	if err != nil {
		return domain.Message{}, err
	}

	c.mu.Lock()
	c.text = ""
	c.pending = nil
	c.mu.Unlock()
	return m, nil
}

// SendFiles attaches paths and submits right away, together with whatever
// text is in the buffer.
func (c *Composer) SendFiles(paths ...string) (domain.Message, error) {
	n, err := c.Attach(paths...)
	if err != nil {
		return domain.Message{}, err
	}
	if n == 0 {
		return domain.Message{}, ErrNoMedia
	}
	return c.Submit()
}

// FromFile builds a local-preview attachment for path. ok is false for
// files that are neither images nor videos.
func FromFile(path string) (domain.Attachment, bool, error) {
	contentType, err := detect(path)
	if err != nil {
		return domain.Attachment{}, false, err
	}
	kind, ok := domain.KindFromMIME(contentType)
	if !ok {
		return domain.Attachment{}, false, nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return domain.Attachment{
		ID:      uuid.NewString(),
		Kind:    kind,
		Name:    filepath.Base(path),
		Locator: domain.LocalPreview{Path: abs},
	}, true, nil
}

// detect sniffs the content and falls back to the extension when the
// bytes are not recognised as media.
func detect(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	sniffed := http.DetectContentType(head[:n])
	if _, ok := domain.KindFromMIME(sniffed); ok {
		return sniffed, nil
	}
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); t != "" {
		return t, nil
	}
	return sniffed, nil
}
