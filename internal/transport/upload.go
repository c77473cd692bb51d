package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/taskboard/taskchat/internal/domain"
)

// Uploader turns a LocalPreview attachment into a Remote one.
type Uploader interface {
	Upload(ctx context.Context, a domain.Attachment) (domain.Attachment, error)
}

// HTTPUploader posts the file as multipart/form-data to {base}/uploads and
// expects {"url": "..."} back.
type HTTPUploader struct {
	BaseURL string
	Timeout time.Duration
	Client  *fasthttp.Client
}

func NewHTTPUploader(baseURL string, timeout time.Duration, client *fasthttp.Client) *HTTPUploader {
	if client == nil {
		client = NewHTTPClient()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPUploader{BaseURL: baseURL, Timeout: timeout, Client: client}
}

type uploadResponse struct {
	URL string `json:"url"`
}

func (u *HTTPUploader) Upload(ctx context.Context, a domain.Attachment) (domain.Attachment, error) {
	local, ok := a.Locator.(domain.LocalPreview)
	if !ok {
		if a.URL() == "" {
			return a, domain.ErrInvalidAttachment
		}
		return a, nil
	}
	if err := ctx.Err(); err != nil {
		return a, err
	}

	f, err := os.Open(local.Path)
	if err != nil {
		return a, fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()

	name := a.Name
	if name == "" {
		name = filepath.Base(local.Path)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("type", string(a.Kind))
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return a, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return a, fmt.Errorf("read attachment: %w", err)
	}
	if err := mw.Close(); err != nil {
		return a, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(strings.TrimRight(u.BaseURL, "/") + "/uploads")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType(mw.FormDataContentType())
	req.SetBody(body.Bytes())

	timeout := u.Timeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	if err := u.Client.DoTimeout(req, resp, timeout); err != nil {
		return a, fmt.Errorf("upload %s: %w", name, err)
	}
	if code := resp.StatusCode(); code != fasthttp.StatusCreated && code != fasthttp.StatusOK {
		return a, fmt.Errorf("%w: upload returned %d", ErrStatus, code)
	}

	var out uploadResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return a, fmt.Errorf("decode upload response: %w", err)
	}
	if out.URL == "" {
		return a, fmt.Errorf("%w: upload response has no url", ErrStatus)
	}

	a.Name = name
	a.Locator = domain.Remote{URL: out.URL}
	return a, nil
}
