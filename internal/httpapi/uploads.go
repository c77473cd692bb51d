package httpapi

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskboard/taskchat/internal/domain"
	"github.com/taskboard/taskchat/internal/observability"
)

const maxUploadBytes = 64 << 20

// UploadHandler stores image and video uploads on local disk and serves them
// back under /files/.
type UploadHandler struct {
	dir       string
	publicURL string
}

func NewUploadHandler(dir, publicURL string) (*UploadHandler, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &UploadHandler{dir: dir, publicURL: strings.TrimRight(publicURL, "/")}, nil
}

// Upload POST /uploads
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	log := observability.GetLogger(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, "too_large",
				"upload exceeds "+humanize.IBytes(maxUploadBytes))
			return
		}
		WriteError(w, http.StatusBadRequest, "invalid_body", "missing file field")
		return
	}
	defer file.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		WriteError(w, http.StatusBadRequest, "invalid_body", "unreadable file")
		return
	}
	head = head[:n]

	contentType := http.DetectContentType(head)
	kind, ok := domain.KindFromMIME(contentType)
	if !ok {
		if byExt := mime.TypeByExtension(filepath.Ext(header.Filename)); byExt != "" {
			contentType = byExt
			kind, ok = domain.KindFromMIME(byExt)
		}
	}
	if !ok {
		WriteError(w, http.StatusUnsupportedMediaType, "unsupported_media", "only images and videos are accepted")
		return
	}
	if declared := domain.MediaKind(r.FormValue("type")); declared != "" && declared != kind {
		WriteError(w, http.StatusBadRequest, "invalid_argument", "declared type does not match content")
		return
	}

	name := uuid.NewString() + extensionFor(contentType, header.Filename)
	dst, err := os.Create(filepath.Join(h.dir, name))
	if err != nil {
		log.Error("upload create failed", zap.Error(err))
		WriteError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
		return
	}
	defer dst.Close()

	written, err := io.Copy(dst, io.MultiReader(bytes.NewReader(head), file))
	if err != nil {
		_ = os.Remove(dst.Name())
		log.Error("upload write failed", zap.Error(err))
		WriteError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
		return
	}

	log.Info("upload stored",
		zap.String("name", name),
		zap.String("kind", string(kind)),
		zap.String("size", humanize.IBytes(uint64(written))),
	)
	WriteJSON(w, http.StatusCreated, map[string]string{
		"url":  h.publicURL + "/files/" + name,
		"type": string(kind),
	})
}

// File GET /files/{name}
func (h *UploadHandler) File(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		WriteError(w, http.StatusNotFound, "not_found", "file not found")
		return
	}
	path := filepath.Join(h.dir, name)
	if _, err := os.Stat(path); err != nil {
		WriteError(w, http.StatusNotFound, "not_found", "file not found")
		return
	}
	http.ServeFile(w, r, path)
}

func extensionFor(contentType, filename string) string {
	if ext := filepath.Ext(filename); ext != "" && len(ext) <= 6 {
		return strings.ToLower(ext)
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}
