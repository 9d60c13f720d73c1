package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "go-symmetry-console/internal/errors"
	"go-symmetry-console/pkg/models"
)

const resultJSON = `{
	"analysis_id": "a1",
	"original_image_url": "/files/a1.jpg",
	"processed_image_url": "/files/a1_processed.jpg",
	"symmetry_score": 91.4,
	"detected_axes": [{"type": "vertical", "angle": 90, "confidence": 0.93, "coordinates": {"x1": 5, "y1": 0, "x2": 5, "y2": 10}}],
	"detected_regions": [],
	"has_vertical_symmetry": true,
	"has_horizontal_symmetry": false,
	"has_radial_symmetry": false,
	"processing_time": 0.42,
	"timestamp": "2025-10-18T10:30:00"
}`

func newTestClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) (*HTTPClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := New(server.URL, "/api/v1", timeout)
	if err != nil {
		t.Fatalf("Expected client to be created, got %v", err)
	}
	return c, server
}

func TestNew_InvalidBaseURL(t *testing.T) {
	for _, base := range []string{"", "localhost:8000", "ftp://example.com"} {
		if _, err := New(base, "/api/v1", time.Second); err == nil {
			t.Errorf("Expected error for base %q", base)
		}
	}
}

func TestSubmit_Success(t *testing.T) {
	payload := strings.Repeat("x", 256*1024)

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/analyze/" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		f, header, err := r.FormFile(FileField)
		if err != nil {
			t.Errorf("Expected multipart field %q, got %v", FileField, err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if string(data) != payload {
			t.Errorf("Expected %d bytes uploaded, got %d", len(payload), len(data))
		}
		if header.Filename != "photo.jpg" {
			t.Errorf("Expected filename photo.jpg, got %s", header.Filename)
		}
		if ct := header.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("Expected part content type image/jpeg, got %s", ct)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, resultJSON)
	}, 5*time.Second)

	var mu sync.Mutex
	var progress []int
	file := models.NewImageFile("photo.jpg", "image/jpeg", []byte(payload))

	result, err := c.Submit(context.Background(), file, func(p int) {
		mu.Lock()
		progress = append(progress, p)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if result.AnalysisID != "a1" || result.SymmetryScore != 91.4 {
		t.Errorf("Unexpected result: %+v", result)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(progress) == 0 || progress[0] != 0 {
		t.Fatalf("Expected progress to start at 0, got %v", progress)
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] <= progress[i-1] {
			t.Errorf("Expected strictly increasing progress, got %v", progress)
		}
		if progress[i] > 100 {
			t.Errorf("Expected progress within 0..100, got %v", progress)
		}
	}
}

func TestSubmit_NilProgress(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, resultJSON)
	}, 5*time.Second)

	file := models.NewImageFile("photo.png", "image/png", []byte("png"))
	if _, err := c.Submit(context.Background(), file, nil); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

func TestSubmit_UnreadableFile(t *testing.T) {
	var hits int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}, time.Second)

	_, err := c.Submit(context.Background(), models.ImageFile{Name: "ghost.png", MIMEType: "image/png"}, nil)
	if !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Error("Expected no request for an unreadable file")
	}
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		kind        apperrors.ErrorKind
		code        apperrors.ErrorCode
		wantMessage string
	}{
		{"not found with detail", 404, `{"detail": "Analysis with ID 'a1' not found"}`, apperrors.KindRemote, apperrors.CodeNotFound, "Analysis with ID 'a1' not found"},
		{"server error with error field", 500, `{"error": "Analysis failed"}`, apperrors.KindRemote, apperrors.CodeServer, "Analysis failed"},
		{"server error without body", 503, ``, apperrors.KindRemote, apperrors.CodeServer, "analysis service returned 503 Service Unavailable"},
		{"request validation list", 422, `{"detail": [{"msg": "field required"}, {"msg": "value too large"}]}`, apperrors.KindRemote, apperrors.CodeUnprocessable, "field required; value too large"},
		{"html error page", 502, `<html>bad gateway</html>`, apperrors.KindRemote, apperrors.CodeServer, "analysis service returned 502 Bad Gateway"},
		{"not json", 200, `not json`, apperrors.KindTransport, apperrors.CodeMalformed, ""},
		{"score out of range", 200, strings.Replace(resultJSON, "91.4", "150", 1), apperrors.KindTransport, apperrors.CodeMalformed, ""},
		{"missing id", 200, `{"symmetry_score": 50}`, apperrors.KindTransport, apperrors.CodeMalformed, ""},
		{"unknown axis type", 200, strings.Replace(resultJSON, `"vertical"`, `"sideways"`, 1), apperrors.KindTransport, apperrors.CodeMalformed, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}, time.Second)

			_, err := c.FetchByID(context.Background(), "a1")
			appErr, ok := apperrors.As(err)
			if !ok {
				t.Fatalf("Expected AppError, got %v", err)
			}
			if appErr.Kind != tt.kind || appErr.Code != tt.code {
				t.Errorf("Expected %s/%s, got %s/%s", tt.kind, tt.code, appErr.Kind, appErr.Code)
			}
			if tt.wantMessage != "" && appErr.Message != tt.wantMessage {
				t.Errorf("Expected message %q, got %q", tt.wantMessage, appErr.Message)
			}
		})
	}
}

func TestClient_Timeout(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, 50*time.Millisecond)

	file := models.NewImageFile("photo.jpg", "image/jpeg", []byte("jpeg"))
	_, err := c.Submit(context.Background(), file, nil)
	if !apperrors.IsCode(err, apperrors.CodeTimeout) {
		t.Errorf("Expected timeout, got %v", err)
	}
	if !apperrors.IsKind(err, apperrors.KindTransport) {
		t.Errorf("Expected transport kind, got %v", err)
	}
}

func TestClient_ContextDeadline(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Stats(ctx)
	if !apperrors.IsCode(err, apperrors.CodeTimeout) {
		t.Errorf("Expected timeout, got %v", err)
	}
}

func TestClient_Canceled(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, resultJSON)
	}, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.FetchByID(ctx, "a1")
	if !apperrors.IsCode(err, apperrors.CodeCanceled) {
		t.Errorf("Expected canceled, got %v", err)
	}
}

func TestClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	base := server.URL
	server.Close()

	c, err := New(base, "/api/v1", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Health(context.Background())
	if !apperrors.IsCode(err, apperrors.CodeNetwork) {
		t.Errorf("Expected network error, got %v", err)
	}
}

func TestListGallery_Query(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/gallery/" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("limit") != "50" || q.Get("offset") != "0" || q.Get("sort_by") != "score" {
			t.Errorf("Unexpected query %s", r.URL.RawQuery)
		}
		io.WriteString(w, `{"total": 2, "items": [
			{"analysis_id": "b", "thumbnail_url": "/files/b.jpg", "symmetry_score": 80, "timestamp": "2025-10-18T10:30:00"},
			{"analysis_id": "a", "thumbnail_url": "/files/a.jpg", "symmetry_score": 20, "timestamp": "2025-10-17T10:30:00"}]}`)
	}, time.Second)

	page, err := c.ListGallery(context.Background(), 50, 0, models.SortByScore)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if page.Total != 2 || len(page.Items) != 2 || page.Items[0].AnalysisID != "b" {
		t.Errorf("Unexpected page: %+v", page)
	}
}

func TestListGallery_RejectsBadArgumentsLocally(t *testing.T) {
	var hits int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}, time.Second)

	tests := []struct {
		limit, offset int
		sortBy        models.SortKey
	}{
		{0, 0, models.SortByTimestamp},
		{101, 0, models.SortByTimestamp},
		{10, -1, models.SortByTimestamp},
		{10, 0, models.SortKey("name")},
	}
	for _, tt := range tests {
		_, err := c.ListGallery(context.Background(), tt.limit, tt.offset, tt.sortBy)
		if !apperrors.IsCode(err, apperrors.CodeInvalidArgument) {
			t.Errorf("Expected invalid argument for %+v, got %v", tt, err)
		}
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Errorf("Expected no requests, got %d", hits)
	}
}

func TestRemove(t *testing.T) {
	var deleted sync.Map
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("Expected DELETE, got %s", r.Method)
		}
		id := strings.TrimPrefix(r.URL.Path, "/api/v1/gallery/")
		if _, loaded := deleted.LoadOrStore(id, true); loaded {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintf(w, `{"detail": "Analysis with ID '%s' not found"}`, id)
			return
		}
		json.NewEncoder(w).Encode(models.DeleteResponse{Message: "Analysis deleted successfully", FileID: id, DeletedFiles: 2})
	}, time.Second)

	if err := c.Remove(context.Background(), "a1"); err != nil {
		t.Fatalf("Expected first delete to succeed, got %v", err)
	}
	err := c.Remove(context.Background(), "a1")
	if !apperrors.IsCode(err, apperrors.CodeNotFound) {
		t.Errorf("Expected not_found on second delete, got %v", err)
	}
	if err := c.Remove(context.Background(), " "); !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Errorf("Expected validation error for blank id, got %v", err)
	}
}

func TestImageURL(t *testing.T) {
	c, err := New("http://svc.test:8000", "/api/v1", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	tests := map[string]string{
		"/files/a.jpg":           "http://svc.test:8000/files/a.jpg",
		"files/a.jpg":            "http://svc.test:8000/files/a.jpg",
		"https://cdn.test/a.jpg": "https://cdn.test/a.jpg",
		"":                       "",
	}
	for ref, want := range tests {
		if got := c.ImageURL(ref); got != want {
			t.Errorf("ImageURL(%q): expected %s, got %s", ref, want, got)
		}
	}
}

func TestProgressReader_Monotonic(t *testing.T) {
	var got []int
	p := newProgressReader(strings.NewReader(strings.Repeat("a", 1000)), 1000, func(v int) {
		got = append(got, v)
	})
	p.start()
	buf := make([]byte, 7)
	for {
		if _, err := p.Read(buf); err == io.EOF {
			break
		}
	}
	if got[0] != 0 || got[len(got)-1] != 100 {
		t.Errorf("Expected 0..100, got %v", got)
	}
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Fatalf("Expected increasing values, got %v", got)
		}
	}

	p.stop()
	before := len(got)
	p.report()
	if len(got) != before {
		t.Error("Expected no callbacks after stop")
	}
}
