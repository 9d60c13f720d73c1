package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"go-symmetry-console/internal/client"
	apperrors "go-symmetry-console/internal/errors"
	"go-symmetry-console/internal/gallery"
	"go-symmetry-console/internal/logger"
	"go-symmetry-console/internal/observer"
	"go-symmetry-console/internal/presentation"
	"go-symmetry-console/internal/repository"
	"go-symmetry-console/internal/storage"
	"go-symmetry-console/internal/upload"
	"go-symmetry-console/pkg/validation"
)

const (
	// DefaultMaxWorkspaces bounds how many workspaces may be open at once
	DefaultMaxWorkspaces = 64
	// DefaultIdleTimeout is how long a workspace may go unused before it is closed
	DefaultIdleTimeout = 30 * time.Minute
)

var (
	// ErrWorkspaceNotFound is returned for an unknown or closed workspace id
	ErrWorkspaceNotFound = errors.New("workspace not found")
	// ErrTooManyWorkspaces is returned when the workspace limit is reached
	ErrTooManyWorkspaces = errors.New("too many open workspaces")
)

// WorkspaceService manages console workspaces and result lookups
type WorkspaceService interface {
	Create() (*Workspace, error)
	Get(id string) (*Workspace, error)
	Close(id string) error
	CloseAll()
	Count() int
	// EvictIdle closes workspaces unused for longer than the idle timeout and
	// reports how many it closed
	EvictIdle(now time.Time) int
	// RunJanitor calls EvictIdle every interval until ctx is done
	RunJanitor(ctx context.Context, interval time.Duration)

	// ResultView presents any stored analysis, independent of a workspace
	ResultView(ctx context.Context, id string, mode presentation.ViewMode, showAxes bool, now time.Time) (presentation.ResultView, error)
	// ResultImage downloads the image of a stored analysis for mode
	ResultImage(ctx context.Context, id string, mode presentation.ViewMode) (*storage.Image, string, error)
}

// Options tunes a WorkspaceService
type Options struct {
	GalleryPageSize int
	MaxWorkspaces   int
	IdleTimeout     time.Duration
	Sink            EventSink
	Events          observer.Notifier
}

type workspaceService struct {
	client    client.AnalysisClient
	validator *validation.FileValidator
	repo      repository.ResultRepository
	opts      Options
	log       *logrus.Entry

	mu         sync.Mutex
	workspaces map[string]*Workspace
}

// NewWorkspaceService creates the service. Zero options fall back to defaults.
func NewWorkspaceService(
	analysisClient client.AnalysisClient,
	validator *validation.FileValidator,
	repo repository.ResultRepository,
	opts Options,
) WorkspaceService {
	if opts.GalleryPageSize <= 0 {
		opts.GalleryPageSize = gallery.DefaultPageSize
	}
	if opts.MaxWorkspaces <= 0 {
		opts.MaxWorkspaces = DefaultMaxWorkspaces
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.Sink == nil {
		opts.Sink = noopSink{}
	}
	if opts.Events == nil {
		opts.Events = observer.Noop{}
	}
	if validator == nil {
		validator = validation.NewFileValidator()
	}
	return &workspaceService{
		client:     analysisClient,
		validator:  validator,
		repo:       repo,
		opts:       opts,
		log:        logger.Component("workspaces"),
		workspaces: make(map[string]*Workspace),
	}
}

func (s *workspaceService) Create() (*Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if len(s.workspaces) >= s.opts.MaxWorkspaces {
		s.evictLocked(now)
	}
	if len(s.workspaces) >= s.opts.MaxWorkspaces {
		return nil, ErrTooManyWorkspaces
	}

	ctx, cancel := context.WithCancel(context.Background())
	ws := &Workspace{
		ID:        uuid.NewString(),
		CreatedAt: now.UTC(),
		upload:    upload.NewOrchestrator(s.client, s.validator, s.opts.Events),
		gallery:   gallery.NewSynchronizer(s.client, s.opts.GalleryPageSize, s.opts.Events),
		lastSeen:  now,
		sink:      s.opts.Sink,
		ctx:       ctx,
		cancel:    cancel,
		resolve:   s.client,
	}
	ws.log = s.log.WithField("workspace_id", ws.ID)
	ws.watch()
	s.workspaces[ws.ID] = ws

	ws.log.WithField("open", len(s.workspaces)).Info("Workspace created")
	return ws, nil
}

func (s *workspaceService) Get(id string) (*Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.workspaces[id]
	if !ok {
		return nil, ErrWorkspaceNotFound
	}
	ws.touch(time.Now())
	return ws, nil
}

func (s *workspaceService) Close(id string) error {
	s.mu.Lock()
	ws, ok := s.workspaces[id]
	delete(s.workspaces, id)
	s.mu.Unlock()
	if !ok {
		return ErrWorkspaceNotFound
	}
	ws.close()
	ws.log.Info("Workspace closed")
	return nil
}

func (s *workspaceService) CloseAll() {
	s.mu.Lock()
	open := s.workspaces
	s.workspaces = make(map[string]*Workspace)
	s.mu.Unlock()
	for _, ws := range open {
		ws.close()
	}
}

func (s *workspaceService) EvictIdle(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictLocked(now)
}

// evictLocked must be called with mu held
func (s *workspaceService) evictLocked(now time.Time) int {
	evicted := 0
	for id, ws := range s.workspaces {
		idle, ok := ws.idleFor(now)
		if !ok || idle < s.opts.IdleTimeout {
			continue
		}
		delete(s.workspaces, id)
		ws.close()
		ws.log.WithField("idle", idle.Round(time.Second).String()).Info("Idle workspace closed")
		evicted++
	}
	return evicted
}

func (s *workspaceService) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.EvictIdle(now); n > 0 {
				s.log.WithField("evicted", n).Debug("Janitor pass complete")
			}
		}
	}
}

func (s *workspaceService) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workspaces)
}

func (s *workspaceService) ResultView(ctx context.Context, id string, mode presentation.ViewMode, showAxes bool, now time.Time) (presentation.ResultView, error) {
	display, err := s.display(ctx, id, mode)
	if err != nil {
		return presentation.ResultView{}, err
	}
	display.SetAxes(showAxes)
	return display.View(now), nil
}

func (s *workspaceService) ResultImage(ctx context.Context, id string, mode presentation.ViewMode) (*storage.Image, string, error) {
	display, err := s.display(ctx, id, mode)
	if err != nil {
		return nil, "", err
	}
	img, err := s.repo.FetchImage(ctx, display.ImageURL())
	if err != nil {
		return nil, "", err
	}
	return img, display.DownloadName(), nil
}

func (s *workspaceService) display(ctx context.Context, id string, mode presentation.ViewMode) (*presentation.State, error) {
	result, err := s.repo.GetResult(ctx, id)
	if err != nil {
		return nil, err
	}
	display := presentation.NewState(result, s.client)
	if err := display.SetView(mode); err != nil {
		return nil, apperrors.NewValidationError(apperrors.CodeInvalidArgument, err.Error(), nil)
	}
	return display, nil
}
