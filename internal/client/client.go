package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	apperrors "go-symmetry-console/internal/errors"
	"go-symmetry-console/internal/logger"
	"go-symmetry-console/pkg/models"
)

const (
	// DefaultTimeout bounds every call made by the client
	DefaultTimeout = 60 * time.Second

	// MaxPageSize is the largest gallery page the service will return
	MaxPageSize = 100

	maxErrorBodyBytes = 64 * 1024
	userAgent         = "Go-Symmetry-Console/1.0"
)

// ProgressFunc receives upload progress as a whole percentage in [0,100].
// Successive values for one submission never decrease.
type ProgressFunc func(percent int)

// AnalysisClient is the full remote contract of the analysis service
type AnalysisClient interface {
	Submit(ctx context.Context, file models.ImageFile, onProgress ProgressFunc) (*models.AnalysisResult, error)
	FetchByID(ctx context.Context, id string) (*models.AnalysisResult, error)
	ListGallery(ctx context.Context, limit, offset int, sortBy models.SortKey) (*models.GalleryPage, error)
	Remove(ctx context.Context, id string) error
	Stats(ctx context.Context) (*models.GalleryStats, error)
	Summary(ctx context.Context, id string) (*models.AnalysisSummary, error)
	Health(ctx context.Context) (*models.HealthStatus, error)
	ImageURL(ref string) string
}

// HTTPClient talks to the analysis service over HTTP/JSON. Calls are single-shot.
type HTTPClient struct {
	baseURL  *url.URL
	apiURL   string
	client   *http.Client
	validate *validator.Validate
	log      *logrus.Entry
}

// Option customises an HTTPClient
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client, e.g. with one from httptest
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) {
		h.client = c
	}
}

// New creates a client for the service at baseURL. apiPrefix is joined to the base
// for API calls; image references are resolved against the bare base.
func New(baseURL, apiPrefix string, timeout time.Duration, opts ...Option) (*HTTPClient, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil || base.Host == "" || (base.Scheme != "http" && base.Scheme != "https") {
		return nil, fmt.Errorf("invalid service base URL %q", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	h := &HTTPClient{
		baseURL:  base,
		apiURL:   strings.TrimRight(baseURL, "/") + "/" + strings.Trim(apiPrefix, "/"),
		client:   newHTTPClient(timeout),
		validate: validator.New(),
		log:      logger.Component("client"),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.client.Timeout <= 0 {
		h.client.Timeout = timeout
	}
	return h, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     30 * time.Second,

		TLSHandshakeTimeout: 10 * time.Second,
		// The service answers an upload only after analysing it
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return fmt.Errorf("too many redirects (limit: 3)")
			}
			return nil
		},
	}
}

// FetchByID retrieves one stored analysis
func (h *HTTPClient) FetchByID(ctx context.Context, id string) (*models.AnalysisResult, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperrors.NewValidationError(apperrors.CodeInvalidArgument, "analysis id cannot be empty", nil)
	}
	var result models.AnalysisResult
	if err := h.doJSON(ctx, http.MethodGet, "/analyze/"+url.PathEscape(id), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListGallery fetches one page of the gallery, newest or highest-scoring first
func (h *HTTPClient) ListGallery(ctx context.Context, limit, offset int, sortBy models.SortKey) (*models.GalleryPage, error) {
	if limit < 1 || limit > MaxPageSize {
		return nil, apperrors.NewValidationError(apperrors.CodeInvalidArgument,
			fmt.Sprintf("limit must be between 1 and %d", MaxPageSize), nil)
	}
	if offset < 0 {
		return nil, apperrors.NewValidationError(apperrors.CodeInvalidArgument, "offset cannot be negative", nil)
	}
	key, err := models.ParseSortKey(string(sortBy))
	if err != nil {
		return nil, apperrors.NewValidationError(apperrors.CodeInvalidArgument, err.Error(), nil)
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))
	query.Set("sort_by", string(key))

	var page models.GalleryPage
	if err := h.doJSON(ctx, http.MethodGet, "/gallery/?"+query.Encode(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Remove deletes an analysis; removing an unknown id yields a not_found RemoteError
func (h *HTTPClient) Remove(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return apperrors.NewValidationError(apperrors.CodeInvalidArgument, "analysis id cannot be empty", nil)
	}
	return h.doJSON(ctx, http.MethodDelete, "/gallery/"+url.PathEscape(id), nil, nil)
}

// Stats returns aggregate figures for the whole gallery
func (h *HTTPClient) Stats(ctx context.Context) (*models.GalleryStats, error) {
	var stats models.GalleryStats
	if err := h.doJSON(ctx, http.MethodGet, "/gallery/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Summary returns the service's textual digest of an analysis
func (h *HTTPClient) Summary(ctx context.Context, id string) (*models.AnalysisSummary, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperrors.NewValidationError(apperrors.CodeInvalidArgument, "analysis id cannot be empty", nil)
	}
	var summary models.AnalysisSummary
	if err := h.doJSON(ctx, http.MethodGet, "/analyze/summary/"+url.PathEscape(id), nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// Health checks the upload subsystem of the service
func (h *HTTPClient) Health(ctx context.Context) (*models.HealthStatus, error) {
	var status models.HealthStatus
	if err := h.doJSON(ctx, http.MethodGet, "/upload/health", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ImageURL resolves an image reference from a result against the service base address.
// Absolute URLs are returned unchanged.
func (h *HTTPClient) ImageURL(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if u.IsAbs() {
		return ref
	}
	return h.baseURL.ResolveReference(u).String()
}

func (h *HTTPClient) doJSON(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, h.apiURL+path, body)
	if err != nil {
		return apperrors.NewNetworkError("could not build request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	return h.do(req, out)
}

// do sends req once and decodes a 2xx body into out (when non-nil)
func (h *HTTPClient) do(req *http.Request, out interface{}) error {
	start := time.Now()
	fields := logrus.Fields{"method": req.Method, "url": req.URL.Redacted()}

	resp, err := h.client.Do(req)
	if err != nil {
		appErr := classifySendError(req.Context(), err)
		h.log.WithFields(fields).WithError(err).WithField("code", appErr.Code).Warn("Analysis service call failed")
		return appErr
	}
	defer resp.Body.Close()

	fields["status"] = resp.StatusCode
	fields["duration_ms"] = time.Since(start).Milliseconds()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		appErr := apperrors.NewRemoteError(resp.StatusCode, remoteMessage(data))
		h.log.WithFields(fields).WithField("code", appErr.Code).Warn("Analysis service returned failure")
		return appErr
	}
	h.log.WithFields(fields).Debug("Analysis service call completed")

	if out == nil {
		// Drain so the connection can be reused
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return classifySendError(req.Context(), ctxErr)
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return apperrors.NewTimeoutError("timed out reading response", err)
		}
		return apperrors.NewMalformedError("could not decode service response", err)
	}
	if err := h.validate.Struct(out); err != nil {
		return apperrors.NewMalformedError("service response failed validation", err)
	}
	return nil
}

func classifySendError(ctx context.Context, err error) *apperrors.AppError {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return apperrors.NewTimeoutError("request timed out", err)
	case errors.Is(err, context.Canceled):
		return apperrors.NewCanceledError("request canceled", err)
	case ctx.Err() != nil:
		return classifySendError(context.Background(), ctx.Err())
	default:
		return apperrors.NewNetworkError("analysis service unreachable", err)
	}
}

// remoteMessage extracts the service's message from a failure body, or returns "".
// Request validation failures carry detail as a list of {msg} objects.
func remoteMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var resp models.ErrorResponse
	if err := json.Unmarshal(body, &resp); err == nil {
		return resp.Message()
	}

	var listResp struct {
		Detail []struct {
			Msg string `json:"msg"`
		} `json:"detail"`
	}
	if err := json.Unmarshal(body, &listResp); err == nil {
		msgs := make([]string, 0, len(listResp.Detail))
		for _, d := range listResp.Detail {
			if d.Msg != "" {
				msgs = append(msgs, d.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}
