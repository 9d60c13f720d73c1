package upload

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"go-symmetry-console/internal/client"
	apperrors "go-symmetry-console/internal/errors"
	"go-symmetry-console/internal/logger"
	"go-symmetry-console/internal/observer"
	"go-symmetry-console/pkg/models"
	"go-symmetry-console/pkg/validation"
)

// Phase is the coarse state of the upload workflow
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseSelected  Phase = "selected"
	PhaseUploading Phase = "uploading"
	PhaseSucceeded Phase = "succeeded"
	PhaseFailed    Phase = "failed"
)

// ErrUploadInProgress is returned when the selection is changed mid-upload
var ErrUploadInProgress = errors.New("an upload is already in progress")

// Submitter sends a file for analysis
type Submitter interface {
	Submit(ctx context.Context, file models.ImageFile, onProgress client.ProgressFunc) (*models.AnalysisResult, error)
}

// Snapshot is a consistent, copy-on-read view of the workflow
type Snapshot struct {
	SessionID string                 `json:"session_id,omitempty"`
	Phase     Phase                  `json:"phase"`
	File      *models.ImageFile      `json:"file,omitempty"`
	Progress  int                    `json:"progress"`
	Result    *models.AnalysisResult `json:"result,omitempty"`
	Error     *apperrors.AppError    `json:"error,omitempty"`
	// Notice is the last validation rejection; it never changes Phase
	Notice     *apperrors.AppError `json:"notice,omitempty"`
	CanConfirm bool                `json:"can_confirm"`
	CanRetry   bool                `json:"can_retry"`
}

// Listener receives every state change in order. It runs synchronously and must
// not call mutating Orchestrator methods.
type Listener func(Snapshot)

// Orchestrator drives Idle → Selected → Uploading → Succeeded|Failed for one
// workflow. Only one session exists at a time; responses for a session that has
// since been reset or replaced are dropped.
type Orchestrator struct {
	submitter Submitter
	validator *validation.FileValidator
	events    observer.Notifier
	log       *logrus.Entry

	mu        sync.Mutex
	sessionID string
	phase     Phase
	file      models.ImageFile
	progress  int
	result    *models.AnalysisResult
	err       *apperrors.AppError
	notice    *apperrors.AppError
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time

	emitMu    sync.Mutex
	listeners map[int]Listener
	nextID    int
}

// NewOrchestrator creates an idle orchestrator. events may be nil.
func NewOrchestrator(submitter Submitter, validator *validation.FileValidator, events observer.Notifier) *Orchestrator {
	if validator == nil {
		validator = validation.NewFileValidator()
	}
	if events == nil {
		events = observer.Noop{}
	}
	return &Orchestrator{
		submitter: submitter,
		validator: validator,
		events:    events,
		log:       logger.Component("upload"),
		phase:     PhaseIdle,
		listeners: make(map[int]Listener),
	}
}

// Subscribe registers l and returns a function that removes it
func (o *Orchestrator) Subscribe(l Listener) func() {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()
	id := o.nextID
	o.nextID++
	o.listeners[id] = l
	return func() {
		o.emitMu.Lock()
		defer o.emitMu.Unlock()
		delete(o.listeners, id)
	}
}

// Snapshot returns the current state
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Select makes file the current selection. An invalid file leaves the state as it
// was and is reported through the returned error and Snapshot.Notice.
func (o *Orchestrator) Select(file models.ImageFile) (Snapshot, error) {
	o.mu.Lock()
	if o.phase == PhaseUploading {
		snap := o.snapshotLocked()
		o.mu.Unlock()
		return snap, ErrUploadInProgress
	}

	verdict := o.validator.Validate(file)
	if !verdict.Valid {
		o.notice = apperrors.NewValidationError(verdict.Code, verdict.Reason, nil)
		notice := o.notice
		o.emitLocked()
		o.publish(observer.WorkflowEvent{
			EventType:    observer.UploadRejected,
			FileName:     file.Name,
			ErrorMessage: verdict.Reason,
		})
		return o.Snapshot(), notice
	}

	o.beginSessionLocked(file)
	session := o.sessionID
	o.emitLocked()

	o.log.WithFields(logrus.Fields{"session_id": session, "file_name": file.Name, "size": file.Size}).Debug("File selected")
	o.publish(observer.WorkflowEvent{EventType: observer.UploadSelected, SessionID: session, FileName: file.Name, Success: true})
	return o.Snapshot(), nil
}

// Confirm starts submitting the selected file. It reports false and changes
// nothing unless the workflow is in the Selected phase. The upload runs under ctx.
func (o *Orchestrator) Confirm(ctx context.Context) bool {
	o.mu.Lock()
	if o.phase != PhaseSelected {
		o.mu.Unlock()
		return false
	}
	o.startLocked(ctx)
	return true
}

// Retry re-selects the file of a failed session under a fresh session and
// confirms it. It reports false unless the workflow is in the Failed phase.
func (o *Orchestrator) Retry(ctx context.Context) bool {
	o.mu.Lock()
	if o.phase != PhaseFailed {
		o.mu.Unlock()
		return false
	}
	o.beginSessionLocked(o.file)
	o.emitLocked()

	o.mu.Lock()
	if o.phase != PhaseSelected {
		o.mu.Unlock()
		return false
	}
	o.startLocked(ctx)
	return true
}

// Reset abandons whatever is happening and returns to Idle. An in-flight request
// is canceled and any late response for it is ignored.
func (o *Orchestrator) Reset() Snapshot {
	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	previous := o.sessionID
	o.sessionID = ""
	o.phase = PhaseIdle
	o.file = models.ImageFile{}
	o.progress = 0
	o.result = nil
	o.err = nil
	o.notice = nil
	o.emitLocked()

	o.publish(observer.WorkflowEvent{EventType: observer.UploadReset, SessionID: previous, Success: true})
	return o.Snapshot()
}

// Wait blocks until the current upload, if any, has finished
func (o *Orchestrator) Wait(ctx context.Context) (Snapshot, error) {
	o.mu.Lock()
	if o.phase != PhaseUploading {
		snap := o.snapshotLocked()
		o.mu.Unlock()
		return snap, nil
	}
	done := o.done
	o.mu.Unlock()

	select {
	case <-done:
		return o.Snapshot(), nil
	case <-ctx.Done():
		return o.Snapshot(), ctx.Err()
	}
}

// beginSessionLocked must be called with mu held
func (o *Orchestrator) beginSessionLocked(file models.ImageFile) {
	o.sessionID = uuid.NewString()
	o.phase = PhaseSelected
	o.file = file
	o.progress = 0
	o.result = nil
	o.err = nil
	o.notice = nil
}

// startLocked is entered with mu held and releases it
func (o *Orchestrator) startLocked(ctx context.Context) {
	reqCtx, cancel := context.WithCancel(ctx)
	session := o.sessionID
	file := o.file
	done := make(chan struct{})

	o.phase = PhaseUploading
	o.progress = 0
	o.cancel = cancel
	o.done = done
	o.startedAt = time.Now()
	o.emitLocked()

	o.publish(observer.WorkflowEvent{EventType: observer.UploadStarted, SessionID: session, FileName: file.Name, Success: true})

	go func() {
		defer close(done)
		result, err := o.submitter.Submit(reqCtx, file, func(percent int) {
			o.onProgress(session, percent)
		})
		o.finish(session, result, err)
	}()
}

func (o *Orchestrator) onProgress(session string, percent int) {
	o.mu.Lock()
	if o.sessionID != session || o.phase != PhaseUploading || percent <= o.progress {
		o.mu.Unlock()
		return
	}
	if percent > 100 {
		percent = 100
	}
	o.progress = percent
	o.emitLocked()
}

func (o *Orchestrator) finish(session string, result *models.AnalysisResult, err error) {
	o.mu.Lock()
	if o.sessionID != session || o.phase != PhaseUploading {
		o.mu.Unlock()
		o.log.WithField("session_id", session).Debug("Discarding response for superseded session")
		return
	}
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	elapsed := time.Since(o.startedAt)
	fileName := o.file.Name

	if err == nil && result == nil {
		err = apperrors.NewMalformedError("service returned no result", nil)
	}
	if err != nil {
		appErr, ok := apperrors.As(err)
		if !ok {
			appErr = apperrors.NewNetworkError("upload failed", err)
		}
		o.phase = PhaseFailed
		o.err = appErr
		o.emitLocked()

		o.publish(observer.WorkflowEvent{
			EventType:    observer.UploadFailed,
			SessionID:    session,
			FileName:     fileName,
			Duration:     elapsed,
			ErrorMessage: appErr.Message,
			Metadata:     map[string]interface{}{"kind": appErr.Kind, "code": appErr.Code},
		})
		return
	}

	o.phase = PhaseSucceeded
	o.result = result.Clone()
	o.emitLocked()

	o.publish(observer.WorkflowEvent{
		EventType:  observer.UploadSucceeded,
		SessionID:  session,
		AnalysisID: result.AnalysisID,
		FileName:   fileName,
		Duration:   elapsed,
		Success:    true,
		Metadata:   map[string]interface{}{"symmetry_score": result.SymmetryScore},
	})
}

// emitLocked is entered with mu held and releases it. Listeners see changes in
// the order they were made.
func (o *Orchestrator) emitLocked() {
	snap := o.snapshotLocked()
	o.emitMu.Lock()
	o.mu.Unlock()
	defer o.emitMu.Unlock()

	for _, l := range o.listeners {
		l(snap)
	}
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	snap := Snapshot{
		SessionID:  o.sessionID,
		Phase:      o.phase,
		Progress:   o.progress,
		Result:     o.result.Clone(),
		Error:      o.err,
		Notice:     o.notice,
		CanConfirm: o.phase == PhaseSelected,
		CanRetry:   o.phase == PhaseFailed,
	}
	if o.phase != PhaseIdle {
		file := o.file
		snap.File = &file
	}
	return snap
}

func (o *Orchestrator) publish(event observer.WorkflowEvent) {
	o.events.NotifyObservers(context.Background(), event)
}
