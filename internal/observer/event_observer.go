package observer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// WorkflowEvent is a notable step of the upload or gallery workflow
type WorkflowEvent struct {
	EventType    EventType              `json:"event_type"`
	Timestamp    time.Time              `json:"timestamp"`
	SessionID    string                 `json:"session_id,omitempty"`
	AnalysisID   string                 `json:"analysis_id,omitempty"`
	FileName     string                 `json:"file_name,omitempty"`
	Duration     time.Duration          `json:"duration,omitempty"`
	Success      bool                   `json:"success"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// EventType represents the type of workflow event
type EventType string

const (
	// UploadSelected when a valid file becomes the current selection
	UploadSelected EventType = "upload_selected"
	// UploadRejected when a selected file fails validation
	UploadRejected EventType = "upload_rejected"
	// UploadStarted when a submission is sent
	UploadStarted EventType = "upload_started"
	// UploadSucceeded when the service returns a result
	UploadSucceeded EventType = "upload_succeeded"
	// UploadFailed when the submission fails
	UploadFailed EventType = "upload_failed"
	// UploadReset when the workflow returns to idle
	UploadReset EventType = "upload_reset"
	// GalleryLoaded when a gallery reload completes
	GalleryLoaded EventType = "gallery_loaded"
	// GalleryLoadFailed when a gallery reload fails
	GalleryLoadFailed EventType = "gallery_load_failed"
	// GalleryItemDeleted when the service confirms a delete
	GalleryItemDeleted EventType = "gallery_item_deleted"
	// GalleryDeleteFailed when a delete is refused or fails
	GalleryDeleteFailed EventType = "gallery_delete_failed"
)

// Observer defines the interface for event observers
type Observer interface {
	OnEvent(ctx context.Context, event WorkflowEvent)
	GetObserverName() string
}

// Subject defines the interface for event publishers
type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	NotifyObservers(ctx context.Context, event WorkflowEvent)
}

// LoggingObserver logs workflow events
type LoggingObserver struct {
	logger *logrus.Logger
}

// NewLoggingObserver creates a new logging observer
func NewLoggingObserver(logger *logrus.Logger) Observer {
	return &LoggingObserver{logger: logger}
}

// OnEvent logs the event at a level matching its outcome
func (o *LoggingObserver) OnEvent(ctx context.Context, event WorkflowEvent) {
	fields := logrus.Fields{
		"event_type": event.EventType,
		"success":    event.Success,
	}
	if event.SessionID != "" {
		fields["session_id"] = event.SessionID
	}
	if event.AnalysisID != "" {
		fields["analysis_id"] = event.AnalysisID
	}
	if event.FileName != "" {
		fields["file_name"] = event.FileName
	}
	if event.Duration > 0 {
		fields["duration_ms"] = event.Duration.Milliseconds()
	}
	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	entry := o.logger.WithFields(fields)
	switch event.EventType {
	case UploadStarted:
		entry.Info("Upload started")
	case UploadSucceeded:
		entry.Info("Upload analysed")
	case UploadFailed:
		entry.Error("Upload failed")
	case UploadRejected:
		entry.Warn("Selected file rejected")
	case GalleryLoadFailed:
		entry.Error("Gallery load failed")
	case GalleryDeleteFailed:
		entry.Error("Gallery delete failed")
	case GalleryItemDeleted:
		entry.Info("Gallery item deleted")
	default:
		entry.Debug("Workflow event")
	}
}

// GetObserverName returns the observer name
func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// MetricsObserver counts workflow outcomes
type MetricsObserver struct {
	mu                sync.RWMutex
	uploadsStarted    int64
	uploadsSucceeded  int64
	uploadsFailed     int64
	uploadsRejected   int64
	totalUploadTime   time.Duration
	galleryLoads      int64
	galleryLoadErrors int64
	deletes           int64
	deleteErrors      int64
}

// NewMetricsObserver creates a new metrics observer
func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{}
}

// OnEvent updates counters
func (o *MetricsObserver) OnEvent(ctx context.Context, event WorkflowEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch event.EventType {
	case UploadStarted:
		o.uploadsStarted++
	case UploadSucceeded:
		o.uploadsSucceeded++
		o.totalUploadTime += event.Duration
	case UploadFailed:
		o.uploadsFailed++
	case UploadRejected:
		o.uploadsRejected++
	case GalleryLoaded:
		o.galleryLoads++
	case GalleryLoadFailed:
		o.galleryLoadErrors++
	case GalleryItemDeleted:
		o.deletes++
	case GalleryDeleteFailed:
		o.deleteErrors++
	}
}

// GetObserverName returns the observer name
func (o *MetricsObserver) GetObserverName() string {
	return "metrics_observer"
}

// GetMetrics returns current metrics
func (o *MetricsObserver) GetMetrics() map[string]interface{} {
	o.mu.RLock()
	defer o.mu.RUnlock()

	avgUploadTime := time.Duration(0)
	if o.uploadsSucceeded > 0 {
		avgUploadTime = o.totalUploadTime / time.Duration(o.uploadsSucceeded)
	}

	return map[string]interface{}{
		"uploads_started":     o.uploadsStarted,
		"uploads_succeeded":   o.uploadsSucceeded,
		"uploads_failed":      o.uploadsFailed,
		"uploads_rejected":    o.uploadsRejected,
		"avg_upload_time_ms":  avgUploadTime.Milliseconds(),
		"gallery_loads":       o.galleryLoads,
		"gallery_load_errors": o.galleryLoadErrors,
		"deletes":             o.deletes,
		"delete_errors":       o.deleteErrors,
	}
}

// EventPublisher implements the Subject interface
type EventPublisher struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{observers: make([]Observer, 0)}
}

// Subscribe adds an observer
func (p *EventPublisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

// Unsubscribe removes an observer by name
func (p *EventPublisher) Unsubscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, obs := range p.observers {
		if obs.GetObserverName() == observer.GetObserverName() {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

// NotifyObservers delivers the event to every observer on its own goroutine.
// Delivery is unordered; observers must not rely on sequence.
func (p *EventPublisher) NotifyObservers(ctx context.Context, event WorkflowEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	for _, observer := range observers {
		go func(obs Observer) {
			defer func() {
				if r := recover(); r != nil {
					logrus.WithField("observer", obs.GetObserverName()).
						WithField("panic", r).
						Error("Observer panicked while handling event")
				}
			}()
			obs.OnEvent(ctx, event)
		}(observer)
	}
}

// Noop discards events; used when a component is built without a publisher
type Noop struct{}

// NotifyObservers implements Notifier
func (Noop) NotifyObservers(context.Context, WorkflowEvent) {}

// Notifier is the publishing half of Subject
type Notifier interface {
	NotifyObservers(ctx context.Context, event WorkflowEvent)
}
