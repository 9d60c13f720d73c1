package gallery

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	apperrors "go-symmetry-console/internal/errors"
	"go-symmetry-console/internal/logger"
	"go-symmetry-console/internal/observer"
	"go-symmetry-console/pkg/models"
)

// DefaultPageSize is how many items one load asks for
const DefaultPageSize = 50

var (
	// ErrSuperseded is returned by a load whose result arrived after a newer load started
	ErrSuperseded = errors.New("gallery load superseded by a newer load")
	// ErrDeleteInProgress is returned when the same item is already being deleted
	ErrDeleteInProgress = errors.New("delete already in progress for this item")
)

// Status is the single state the gallery view is in
type Status string

const (
	StatusLoading Status = "loading"
	StatusError   Status = "error"
	StatusEmpty   Status = "empty"
	StatusReady   Status = "ready"
)

// Client is the part of the analysis service the gallery needs
type Client interface {
	ListGallery(ctx context.Context, limit, offset int, sortBy models.SortKey) (*models.GalleryPage, error)
	Remove(ctx context.Context, id string) error
	Stats(ctx context.Context) (*models.GalleryStats, error)
}

// View is a copy of what the gallery currently shows
type View struct {
	Status   Status               `json:"status"`
	SortBy   models.SortKey       `json:"sort_by"`
	Items    []models.GalleryItem `json:"items"`
	Total    int                  `json:"total"`
	Error    *apperrors.AppError  `json:"error,omitempty"`
	Deleting []string             `json:"deleting,omitempty"`
}

// Listener receives every view change in order. It must not call back into the Synchronizer's
// mutating methods.
type Listener func(View)

// Synchronizer keeps a local view of the remote gallery. Every load replaces the
// whole view; when loads overlap the most recently started one wins. Items are
// removed locally only after the service confirms the delete.
type Synchronizer struct {
	client   Client
	pageSize int
	events   observer.Notifier
	log      *logrus.Entry

	mu         sync.Mutex
	sortBy     models.SortKey
	items      []models.GalleryItem
	total      int
	status     Status
	err        *apperrors.AppError
	generation uint64
	// ids confirmed deleted since the newest load started
	removed  map[string]struct{}
	deleting map[string]struct{}

	emitMu    sync.Mutex
	listeners map[int]Listener
	nextID    int
}

// NewSynchronizer creates an empty gallery. pageSize outside 1..100 falls back to
// DefaultPageSize; events may be nil.
func NewSynchronizer(client Client, pageSize int, events observer.Notifier) *Synchronizer {
	if pageSize < 1 || pageSize > 100 {
		pageSize = DefaultPageSize
	}
	if events == nil {
		events = observer.Noop{}
	}
	return &Synchronizer{
		client:    client,
		pageSize:  pageSize,
		events:    events,
		log:       logger.Component("gallery"),
		sortBy:    models.SortByTimestamp,
		status:    StatusEmpty,
		removed:   make(map[string]struct{}),
		deleting:  make(map[string]struct{}),
		listeners: make(map[int]Listener),
	}
}

// Subscribe registers l and returns a function that removes it
func (s *Synchronizer) Subscribe(l Listener) func() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	return func() {
		s.emitMu.Lock()
		defer s.emitMu.Unlock()
		delete(s.listeners, id)
	}
}

// View returns the current view
func (s *Synchronizer) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// SortBy returns the key of the most recent load
func (s *Synchronizer) SortBy() models.SortKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortBy
}

// Load fetches the first page under sortBy and replaces the view with it. On
// failure the view is cleared and carries the error.
func (s *Synchronizer) Load(ctx context.Context, sortBy models.SortKey) (View, error) {
	key, err := models.ParseSortKey(string(sortBy))
	if err != nil {
		return s.View(), apperrors.NewValidationError(apperrors.CodeInvalidArgument, err.Error(), nil)
	}

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.sortBy = key
	s.status = StatusLoading
	s.err = nil
	s.removed = make(map[string]struct{})
	s.emitLocked()

	page, err := s.client.ListGallery(ctx, s.pageSize, 0, key)

	s.mu.Lock()
	if gen != s.generation {
		view := s.viewLocked()
		s.mu.Unlock()
		s.log.WithField("generation", gen).Debug("Dropping superseded gallery load")
		return view, ErrSuperseded
	}

	if err != nil {
		appErr, ok := apperrors.As(err)
		if !ok {
			appErr = apperrors.NewNetworkError("gallery load failed", err)
		}
		s.items = nil
		s.total = 0
		s.status = StatusError
		s.err = appErr
		view := s.viewLocked()
		s.emitLocked()

		s.publish(observer.WorkflowEvent{
			EventType:    observer.GalleryLoadFailed,
			ErrorMessage: appErr.Message,
			Metadata:     map[string]interface{}{"sort_by": key, "code": appErr.Code},
		})
		return view, appErr
	}

	items := make([]models.GalleryItem, 0, len(page.Items))
	dropped := 0
	for _, item := range page.Items {
		if _, gone := s.removed[item.AnalysisID]; gone {
			dropped++
			continue
		}
		items = append(items, item)
	}
	sortItems(items, key)

	s.items = items
	s.total = page.Total - dropped
	if s.total < len(items) {
		s.total = len(items)
	}
	s.status = statusFor(items)
	view := s.viewLocked()
	s.emitLocked()

	s.publish(observer.WorkflowEvent{
		EventType: observer.GalleryLoaded,
		Success:   true,
		Metadata:  map[string]interface{}{"sort_by": key, "items": len(items), "total": view.Total},
	})
	return view, nil
}

// ChangeSort reloads under a new key. Existing items are never re-sorted locally.
func (s *Synchronizer) ChangeSort(ctx context.Context, sortBy models.SortKey) (View, error) {
	return s.Load(ctx, sortBy)
}

// Retry reloads under the current key
func (s *Synchronizer) Retry(ctx context.Context) (View, error) {
	return s.Load(ctx, s.SortBy())
}

// Delete asks the service to remove id and, once it confirms, drops the item from
// the view. A failed delete leaves the view exactly as it was.
func (s *Synchronizer) Delete(ctx context.Context, id string) (View, error) {
	s.mu.Lock()
	if _, busy := s.deleting[id]; busy {
		view := s.viewLocked()
		s.mu.Unlock()
		return view, ErrDeleteInProgress
	}
	s.deleting[id] = struct{}{}
	s.emitLocked()

	err := s.client.Remove(ctx, id)

	s.mu.Lock()
	delete(s.deleting, id)
	if err != nil {
		view := s.viewLocked()
		s.emitLocked()

		appErr, ok := apperrors.As(err)
		if !ok {
			appErr = apperrors.NewNetworkError("delete failed", err)
		}
		s.publish(observer.WorkflowEvent{
			EventType:    observer.GalleryDeleteFailed,
			AnalysisID:   id,
			ErrorMessage: appErr.Message,
		})
		return view, appErr
	}

	s.removed[id] = struct{}{}
	for i, item := range s.items {
		if item.AnalysisID == id {
			s.items = append(s.items[:i:i], s.items[i+1:]...)
			if s.total > 0 {
				s.total--
			}
			break
		}
	}
	if s.status == StatusReady {
		s.status = statusFor(s.items)
	}
	view := s.viewLocked()
	s.emitLocked()

	s.publish(observer.WorkflowEvent{EventType: observer.GalleryItemDeleted, AnalysisID: id, Success: true})
	return view, nil
}

// Stats passes through to the service
func (s *Synchronizer) Stats(ctx context.Context) (*models.GalleryStats, error) {
	return s.client.Stats(ctx)
}

func statusFor(items []models.GalleryItem) Status {
	if len(items) == 0 {
		return StatusEmpty
	}
	return StatusReady
}

// sortItems orders items in place, highest score or most recent first. Ties keep
// the service's order.
func sortItems(items []models.GalleryItem, key models.SortKey) {
	switch key {
	case models.SortByScore:
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].SymmetryScore > items[j].SymmetryScore
		})
	default:
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].Timestamp.After(items[j].Timestamp.Time)
		})
	}
}

func (s *Synchronizer) viewLocked() View {
	view := View{
		Status: s.status,
		SortBy: s.sortBy,
		Items:  append([]models.GalleryItem{}, s.items...),
		Total:  s.total,
		Error:  s.err,
	}
	for id := range s.deleting {
		view.Deleting = append(view.Deleting, id)
	}
	sort.Strings(view.Deleting)
	return view
}

// emitLocked is entered with mu held and releases it
func (s *Synchronizer) emitLocked() {
	view := s.viewLocked()
	s.emitMu.Lock()
	s.mu.Unlock()
	defer s.emitMu.Unlock()

	for _, l := range s.listeners {
		l(view)
	}
}

func (s *Synchronizer) publish(event observer.WorkflowEvent) {
	s.events.NotifyObservers(context.Background(), event)
}
