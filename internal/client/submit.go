package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"

	apperrors "go-symmetry-console/internal/errors"
	"go-symmetry-console/pkg/models"
)

// FileField is the multipart field the service reads the upload from
const FileField = "file"

// Submit uploads file for analysis and waits for the result. onProgress may be nil;
// when set it is called from a single goroutine, in order, and never after Submit returns.
func (h *HTTPClient) Submit(ctx context.Context, file models.ImageFile, onProgress ProgressFunc) (*models.AnalysisResult, error) {
	body, contentType, err := buildMultipart(file)
	if err != nil {
		return nil, apperrors.NewValidationError(apperrors.CodeInvalidArgument, "could not read the selected file", err)
	}

	progress := newProgressReader(bytes.NewReader(body), int64(len(body)), onProgress)
	defer progress.stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.apiURL+"/analyze/", progress)
	if err != nil {
		return nil, apperrors.NewNetworkError("could not build request", err)
	}
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	h.log.WithField("file_name", file.Name).WithField("size", file.Size).Info("Submitting image for analysis")
	progress.start()

	var result models.AnalysisResult
	if err := h.do(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func buildMultipart(file models.ImageFile) ([]byte, string, error) {
	content, err := file.Open()
	if err != nil {
		return nil, "", err
	}
	defer content.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="%s"; filename="%s"`, FileField, escapeQuotes(file.Name)))
	mimeType := file.MIMEType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	header.Set("Content-Type", mimeType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// progressReader reports the share of the body handed to the transport.
// The percentage is emitted only when it grows.
type progressReader struct {
	r     io.Reader
	total int64

	mu      sync.Mutex
	sent    int64
	last    int
	stopped bool
	fn      ProgressFunc
}

func newProgressReader(r io.Reader, total int64, fn ProgressFunc) *progressReader {
	return &progressReader{r: r, total: total, last: -1, fn: fn}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.mu.Lock()
		p.sent += int64(n)
		p.report()
		p.mu.Unlock()
	}
	return n, err
}

// start emits the initial 0%
func (p *progressReader) start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.report()
}

func (p *progressReader) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
}

// report must be called with mu held
func (p *progressReader) report() {
	if p.fn == nil || p.stopped {
		return
	}
	percent := 100
	if p.total > 0 {
		percent = int(math.Round(float64(p.sent) * 100 / float64(p.total)))
	}
	if percent > 100 {
		percent = 100
	}
	if percent > p.last {
		p.last = percent
		p.fn(percent)
	}
}
