package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "go-symmetry-console/internal/errors"
	"go-symmetry-console/internal/gallery"
	"go-symmetry-console/internal/presentation"
	"go-symmetry-console/internal/upload"
	"go-symmetry-console/pkg/models"
)

// ErrNoResult is returned when the workspace has no finished analysis to show
var ErrNoResult = errors.New("no analysis result to show")

// Event types delivered to an EventSink
const (
	EventUpload  = "upload"
	EventGallery = "gallery"
	EventResult  = "result"
)

// Event is one state change of a workspace, pushed to connected browsers
type Event struct {
	Type        string      `json:"type"`
	WorkspaceID string      `json:"workspace_id"`
	Payload     interface{} `json:"payload"`
}

// EventSink receives workspace events. Publish must not block.
type EventSink interface {
	Publish(event Event)
}

type noopSink struct{}

func (noopSink) Publish(Event) {}

// Workspace is one browser's upload workflow, gallery and result display
type Workspace struct {
	ID        string    `json:"workspace_id"`
	CreatedAt time.Time `json:"created_at"`

	upload  *upload.Orchestrator
	gallery *gallery.Synchronizer
	sink    EventSink
	log     *logrus.Entry
	ctx     context.Context
	cancel  context.CancelFunc
	resolve presentation.URLResolver
	unsubs  []func()

	mu          sync.Mutex
	display     *presentation.State
	lastSession string
	lastSeen    time.Time
	viewers     int
}

// UploadSnapshot returns the upload workflow state
func (w *Workspace) UploadSnapshot() upload.Snapshot {
	return w.upload.Snapshot()
}

// Select validates and selects file
func (w *Workspace) Select(file models.ImageFile) (upload.Snapshot, error) {
	return w.upload.Select(file)
}

// Confirm starts the upload. It runs for as long as the workspace lives, not
// for as long as the request that started it.
func (w *Workspace) Confirm() (upload.Snapshot, bool) {
	started := w.upload.Confirm(w.ctx)
	return w.upload.Snapshot(), started
}

// Retry resubmits the file of a failed upload
func (w *Workspace) Retry() (upload.Snapshot, bool) {
	started := w.upload.Retry(w.ctx)
	return w.upload.Snapshot(), started
}

// Reset returns the upload workflow to idle and clears the shown result
func (w *Workspace) Reset() upload.Snapshot {
	snap := w.upload.Reset()
	w.mu.Lock()
	w.display = nil
	w.mu.Unlock()
	return snap
}

// WaitUpload blocks until the running upload, if any, has finished
func (w *Workspace) WaitUpload(ctx context.Context) (upload.Snapshot, error) {
	return w.upload.Wait(ctx)
}

// Gallery reloads the gallery under sortBy; an empty key keeps the current one.
// A load overtaken by a newer one reports the newer view instead of an error.
func (w *Workspace) Gallery(ctx context.Context, sortBy models.SortKey) (gallery.View, error) {
	if sortBy == "" {
		sortBy = w.gallery.SortBy()
	}
	view, err := w.gallery.Load(ctx, sortBy)
	if errors.Is(err, gallery.ErrSuperseded) {
		return w.gallery.View(), nil
	}
	return view, err
}

// GalleryView returns the gallery as last loaded, without a fetch
func (w *Workspace) GalleryView() gallery.View {
	return w.gallery.View()
}

// DeleteItem deletes an analysis remotely, then locally. A deleted result that
// is on display stops being shown.
func (w *Workspace) DeleteItem(ctx context.Context, id string) (gallery.View, error) {
	view, err := w.gallery.Delete(ctx, id)
	if err != nil {
		return view, err
	}
	w.mu.Lock()
	if w.display != nil {
		if shown := w.display.Result(); shown != nil && shown.AnalysisID == id {
			w.display = nil
		}
	}
	w.mu.Unlock()
	return view, nil
}

// GalleryStats passes the service statistics through
func (w *Workspace) GalleryStats(ctx context.Context) (*models.GalleryStats, error) {
	return w.gallery.Stats(ctx)
}

// ResultView derives the display of the last successful upload
func (w *Workspace) ResultView(now time.Time) (presentation.ResultView, error) {
	w.mu.Lock()
	display := w.display
	w.mu.Unlock()
	if display == nil {
		return presentation.ResultView{}, ErrNoResult
	}
	return display.View(now), nil
}

// DisplayChange is a partial update of the result display; nil fields are left alone
type DisplayChange struct {
	Mode        *presentation.ViewMode
	ToggleView  bool
	ShowAxes    *bool
	ToggleAxes  bool
	ResetToBase bool
}

// UpdateDisplay applies change to the shown result and returns the new view
func (w *Workspace) UpdateDisplay(change DisplayChange, now time.Time) (presentation.ResultView, error) {
	w.mu.Lock()
	display := w.display
	w.mu.Unlock()
	if display == nil {
		return presentation.ResultView{}, ErrNoResult
	}

	if change.ResetToBase {
		display.Reset()
	}
	if change.Mode != nil {
		if err := display.SetView(*change.Mode); err != nil {
			return presentation.ResultView{}, apperrors.NewValidationError(apperrors.CodeInvalidArgument, err.Error(), nil)
		}
	}
	if change.ToggleView {
		display.ToggleView()
	}
	if change.ShowAxes != nil {
		display.SetAxes(*change.ShowAxes)
	}
	if change.ToggleAxes {
		display.ToggleAxes()
	}

	view := display.View(now)
	w.sink.Publish(Event{Type: EventResult, WorkspaceID: w.ID, Payload: view})
	return view, nil
}

func (w *Workspace) watch() {
	w.unsubs = append(w.unsubs,
		w.upload.Subscribe(w.onUpload),
		w.gallery.Subscribe(func(v gallery.View) {
			w.sink.Publish(Event{Type: EventGallery, WorkspaceID: w.ID, Payload: v})
		}),
	)
}

// onUpload runs under the orchestrator's listener lock and must not call back
// into the orchestrator
func (w *Workspace) onUpload(snap upload.Snapshot) {
	w.sink.Publish(Event{Type: EventUpload, WorkspaceID: w.ID, Payload: snap})

	if snap.Phase != upload.PhaseSucceeded || snap.Result == nil {
		return
	}
	w.mu.Lock()
	if snap.SessionID == w.lastSession {
		w.mu.Unlock()
		return
	}
	w.lastSession = snap.SessionID
	w.display = presentation.NewState(snap.Result, w.resolve)
	w.mu.Unlock()

	w.log.WithFields(logrus.Fields{
		"session_id":  snap.SessionID,
		"analysis_id": snap.Result.AnalysisID,
	}).Debug("Showing new result, refreshing gallery")

	// the new analysis belongs in the gallery
	go func() {
		if _, err := w.gallery.Load(w.ctx, w.gallery.SortBy()); err != nil && !errors.Is(err, gallery.ErrSuperseded) {
			w.log.WithError(err).Warn("Gallery refresh after upload failed")
		}
	}()
}

// Attach records a connected viewer and returns the function that detaches it.
// A workspace with viewers is never idle.
func (w *Workspace) Attach() func() {
	w.mu.Lock()
	w.viewers++
	w.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			w.viewers--
			w.lastSeen = time.Now()
			w.mu.Unlock()
		})
	}
}

func (w *Workspace) touch(now time.Time) {
	w.mu.Lock()
	if now.After(w.lastSeen) {
		w.lastSeen = now
	}
	w.mu.Unlock()
}

// idleFor reports how long nobody has used the workspace. It is false while a
// viewer is attached or an upload is running.
func (w *Workspace) idleFor(now time.Time) (time.Duration, bool) {
	if w.upload.Snapshot().Phase == upload.PhaseUploading {
		return 0, false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.viewers > 0 {
		return 0, false
	}
	return now.Sub(w.lastSeen), true
}

func (w *Workspace) close() {
	w.cancel()
	for _, unsub := range w.unsubs {
		unsub()
	}
	w.upload.Reset()
}
