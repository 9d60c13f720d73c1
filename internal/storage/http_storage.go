package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"

	apperrors "go-symmetry-console/internal/errors"
)

// MaxImageBytes caps how much of a result image is read into memory
const MaxImageBytes = 32 * 1024 * 1024

// Image is a downloaded result image
type Image struct {
	Data        []byte
	ContentType string
}

// ImageFetcher downloads the bytes behind an image URL of an analysis result
type ImageFetcher interface {
	FetchImage(ctx context.Context, imageURL string) (*Image, error)
}

// HTTPImageFetcher fetches images over plain HTTP(S). It makes exactly one attempt.
type HTTPImageFetcher struct {
	client *http.Client
}

// NewHTTPImageFetcher creates an HTTP image fetcher bounded by timeout
func NewHTTPImageFetcher(timeout time.Duration) *HTTPImageFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		MaxResponseHeaderBytes: 4096,
	}

	return &HTTPImageFetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("too many redirects (limit: 3)")
				}
				return nil
			},
		},
	}
}

// FetchImage downloads imageURL
func (h *HTTPImageFetcher) FetchImage(ctx context.Context, imageURL string) (*Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, apperrors.NewValidationError(apperrors.CodeInvalidArgument, "invalid image URL", err)
	}
	req.Header.Set("Accept", "image/jpeg, image/png, image/bmp, */*")
	req.Header.Set("User-Agent", "Go-Symmetry-Console/1.0")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, apperrors.NewRemoteError(resp.StatusCode, fmt.Sprintf("image request returned status code %d", resp.StatusCode))
	}

	return readImage(resp.Body, resp.Header.Get("Content-Type"))
}

func readImage(r io.Reader, contentType string) (*Image, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxImageBytes+1))
	if err != nil {
		return nil, classify(err)
	}
	if len(data) > MaxImageBytes {
		return nil, apperrors.NewMalformedError(fmt.Sprintf("image exceeds %d bytes", MaxImageBytes), nil)
	}
	// Servers and blob containers often label everything application/octet-stream
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mimetype.Detect(data).String()
	}
	return &Image{Data: data, ContentType: contentType}, nil
}
