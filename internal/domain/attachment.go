package domain

import (
	"encoding/json"
	"strings"
)

type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// KindFromMIME maps a content type onto a supported media kind. Anything
// other than image/* and video/* is rejected.
func KindFromMIME(contentType string) (MediaKind, bool) {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return MediaImage, true
	case strings.HasPrefix(contentType, "video/"):
		return MediaVideo, true
	default:
		return "", false
	}
}

// Locator says where an attachment's bytes live. It is either a LocalPreview
// (valid for the current process only) or a Remote (durable). A nil Locator
// means a preview that did not survive a restart.
type Locator interface {
	locator()
}

// LocalPreview points at a file picked in this session that has not been
// uploaded. It is never serialized.
type LocalPreview struct {
	Path string
}

// Remote is a durable, uploaded attachment.
type Remote struct {
	URL string
}

func (LocalPreview) locator() {}
func (Remote) locator()       {}

type Attachment struct {
	ID      string
	Kind    MediaKind
	Name    string
	Locator Locator
}

func (a Attachment) Validate() error {
	if a.ID == "" || (a.Kind != MediaImage && a.Kind != MediaVideo) {
		return ErrInvalidAttachment
	}
	return nil
}

// IsLocal reports whether the attachment still needs an upload.
func (a Attachment) IsLocal() bool {
	_, ok := a.Locator.(LocalPreview)
	return ok
}

// URL returns the durable locator, or "" for local and expired previews.
func (a Attachment) URL() string {
	if r, ok := a.Locator.(Remote); ok {
		return r.URL
	}
	return ""
}

type attachmentJSON struct {
	ID   string    `json:"id"`
	Type MediaKind `json:"type"`
	URL  string    `json:"url,omitempty"`
	Name string    `json:"name"`
}

func (a Attachment) MarshalJSON() ([]byte, error) {
	return json.Marshal(attachmentJSON{ID: a.ID, Type: a.Kind, URL: a.URL(), Name: a.Name})
}

func (a *Attachment) UnmarshalJSON(b []byte) error {
	var raw attachmentJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*a = Attachment{ID: raw.ID, Kind: raw.Type, Name: raw.Name}
	if raw.URL != "" {
		a.Locator = Remote{URL: raw.URL}
	}
	return nil
}

func cloneAttachments(in []Attachment) []Attachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]Attachment, len(in))
	copy(out, in)
	return out
}
