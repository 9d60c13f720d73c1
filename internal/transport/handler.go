package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	apperrors "go-symmetry-console/internal/errors"
	"go-symmetry-console/internal/gallery"
	"go-symmetry-console/internal/logger"
	"go-symmetry-console/internal/presentation"
	"go-symmetry-console/internal/service"
	"go-symmetry-console/internal/upload"
	"go-symmetry-console/pkg/models"
)

// multipartOverhead is allowed on top of the file ceiling so that an oversized
// file still reaches the validator and gets its proper rejection
const multipartOverhead = 1 << 20

// HealthChecker reports on the remote analysis service
type HealthChecker interface {
	Health(ctx context.Context) (*models.HealthStatus, error)
}

// MetricsSource exposes workflow counters
type MetricsSource interface {
	GetMetrics() map[string]interface{}
}

// Options configures the console HTTP surface
type Options struct {
	Metrics        MetricsSource
	AllowedOrigins []string
	RateLimitRPS   float64
	MaxUploadSize  int64
	RequestTimeout time.Duration
}

type ErrorResponse struct {
	Error   string              `json:"error"`
	Message string              `json:"message,omitempty"`
	Kind    apperrors.ErrorKind `json:"kind,omitempty"`
	Code    apperrors.ErrorCode `json:"code,omitempty"`
}

// DisplayRequest changes how the current result is shown
type DisplayRequest struct {
	View       *string `json:"view" binding:"omitempty,oneof=processed original"`
	ShowAxes   *bool   `json:"show_axes"`
	ToggleView bool    `json:"toggle_view"`
	ToggleAxes bool    `json:"toggle_axes"`
	Reset      bool    `json:"reset"`
}

type actionResponse struct {
	Started bool            `json:"started"`
	Upload  upload.Snapshot `json:"upload"`
}

type workspaceResponse struct {
	*service.Workspace
	Upload  upload.Snapshot `json:"upload"`
	Gallery gallery.View    `json:"gallery"`
}

type handler struct {
	workspaces service.WorkspaceService
	hub        *Hub
	health     HealthChecker
	opts       Options
	log        *logrus.Entry
}

// NewHandler builds the console router
func NewHandler(workspaces service.WorkspaceService, hub *Hub, health HealthChecker, opts Options) http.Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = 10 * 1024 * 1024
	}
	if opts.RateLimitRPS <= 0 {
		opts.RateLimitRPS = 20
	}
	h := &handler{
		workspaces: workspaces,
		hub:        hub,
		health:     health,
		opts:       opts,
		log:        logger.Component("console"),
	}

	r := gin.New()
	r.Use(
		gin.Recovery(),
		requestLogger(),
		corsMiddleware(opts.AllowedOrigins),
		rateLimiter(newIPRateLimiter(opts.RateLimitRPS, int(opts.RateLimitRPS*2))),
		errorHandler(),
	)

	r.GET("/health", h.healthCheck)
	if opts.Metrics != nil {
		r.GET("/metrics", func(c *gin.Context) {
			c.JSON(http.StatusOK, opts.Metrics.GetMetrics())
		})
	}

	api := r.Group("/api")
	{
		api.POST("/workspaces", h.createWorkspace)
		api.DELETE("/workspaces/:wid", h.closeWorkspace)

		ws := api.Group("/workspaces/:wid")
		ws.GET("", h.getWorkspace)
		ws.GET("/upload", h.uploadSnapshot)
		ws.POST("/upload/select", requestSizeLimiter(opts.MaxUploadSize+multipartOverhead), h.selectFile)
		ws.POST("/upload/confirm", h.confirmUpload)
		ws.POST("/upload/retry", h.retryUpload)
		ws.POST("/upload/reset", h.resetUpload)
		ws.GET("/events", h.events)
		ws.GET("/gallery", h.loadGallery)
		ws.GET("/gallery/stats", h.galleryStats)
		ws.DELETE("/gallery/:id", h.deleteGalleryItem)
		ws.GET("/result", h.currentResult)
		ws.PATCH("/result", h.updateResult)

		api.GET("/results/:id", h.resultView)
		api.GET("/results/:id/image", h.resultImage)
	}

	return r
}

func (h *handler) healthCheck(c *gin.Context) {
	body := gin.H{
		"status":     "available",
		"version":    "1.0.0",
		"time":       time.Now().UTC().Format(time.RFC3339),
		"workspaces": h.workspaces.Count(),
	}
	if h.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if status, err := h.health.Health(ctx); err != nil {
			body["upstream"] = "unreachable"
		} else {
			body["upstream"] = status.Status
		}
	}
	c.JSON(http.StatusOK, body)
}

func (h *handler) createWorkspace(c *gin.Context) {
	ws, err := h.workspaces.Create()
	if err != nil {
		respondError(c, determineStatusCode(err), "failed to create workspace", err)
		return
	}
	c.JSON(http.StatusCreated, workspaceResponse{Workspace: ws, Upload: ws.UploadSnapshot(), Gallery: ws.GalleryView()})
}

func (h *handler) closeWorkspace(c *gin.Context) {
	if err := h.workspaces.Close(c.Param("wid")); err != nil {
		respondError(c, determineStatusCode(err), "failed to close workspace", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// workspace resolves :wid or writes a 404
func (h *handler) workspace(c *gin.Context) (*service.Workspace, bool) {
	ws, err := h.workspaces.Get(c.Param("wid"))
	if err != nil {
		respondError(c, determineStatusCode(err), "unknown workspace", err)
		return nil, false
	}
	return ws, true
}

func (h *handler) getWorkspace(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, workspaceResponse{Workspace: ws, Upload: ws.UploadSnapshot(), Gallery: ws.GalleryView()})
}

func (h *handler) uploadSnapshot(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ws.UploadSnapshot())
}

func (h *handler) selectFile(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			tooLarge := apperrors.NewValidationError(apperrors.CodeTooLarge,
				fmt.Sprintf("File too large. Maximum size is %d MB.", h.opts.MaxUploadSize/(1024*1024)), err)
			respondError(c, http.StatusRequestEntityTooLarge, "invalid upload", tooLarge)
			return
		}
		respondError(c, http.StatusBadRequest, "invalid upload", apperrors.NewValidationError(apperrors.CodeInvalidArgument, "multipart field \"file\" is required", err))
		return
	}

	file, err := readUpload(fileHeader)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid upload", apperrors.NewValidationError(apperrors.CodeInvalidArgument, "could not read the uploaded file", err))
		return
	}

	snap, err := ws.Select(file)
	if err != nil {
		respondError(c, determineStatusCode(err), "file rejected", err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func readUpload(fileHeader *multipart.FileHeader) (models.ImageFile, error) {
	f, err := fileHeader.Open()
	if err != nil {
		return models.ImageFile{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return models.ImageFile{}, err
	}
	return models.NewImageFile(fileHeader.Filename, fileHeader.Header.Get("Content-Type"), data), nil
}

func (h *handler) confirmUpload(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	snap, started := ws.Confirm()
	respondAction(c, snap, started)
}

func (h *handler) retryUpload(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	snap, started := ws.Retry()
	respondAction(c, snap, started)
}

// respondAction reports 202 when work was started and 200 for a no-op
func respondAction(c *gin.Context, snap upload.Snapshot, started bool) {
	status := http.StatusOK
	if started {
		status = http.StatusAccepted
	}
	c.JSON(status, actionResponse{Started: started, Upload: snap})
}

func (h *handler) resetUpload(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ws.Reset())
}

func (h *handler) events(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	snapshot := func() []service.Event {
		events := []service.Event{
			{Type: service.EventUpload, WorkspaceID: ws.ID, Payload: ws.UploadSnapshot()},
			{Type: service.EventGallery, WorkspaceID: ws.ID, Payload: ws.GalleryView()},
		}
		if view, err := ws.ResultView(time.Now()); err == nil {
			events = append(events, service.Event{Type: service.EventResult, WorkspaceID: ws.ID, Payload: view})
		}
		return events
	}
	h.hub.Serve(c.Writer, c.Request, ws.ID, snapshot, ws.Attach())
}

func (h *handler) loadGallery(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.opts.RequestTimeout)
	defer cancel()

	view, err := ws.Gallery(ctx, models.SortKey(c.Query("sort_by")))
	if err != nil {
		respondError(c, determineStatusCode(err), "failed to load gallery", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handler) galleryStats(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.opts.RequestTimeout)
	defer cancel()

	stats, err := ws.GalleryStats(ctx)
	if err != nil {
		respondError(c, determineStatusCode(err), "failed to load statistics", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *handler) deleteGalleryItem(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.opts.RequestTimeout)
	defer cancel()

	id := c.Param("id")
	view, err := ws.DeleteItem(ctx, id)
	if err != nil {
		respondError(c, determineStatusCode(err), "failed to delete analysis", err)
		return
	}
	h.log.WithFields(logrus.Fields{"workspace_id": ws.ID, "analysis_id": id}).Info("Analysis deleted")
	c.JSON(http.StatusOK, view)
}

func (h *handler) currentResult(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	view, err := ws.ResultView(time.Now())
	if err != nil {
		respondError(c, determineStatusCode(err), "no result", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handler) updateResult(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	var req DisplayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request format", err)
		return
	}

	change := service.DisplayChange{
		ShowAxes:    req.ShowAxes,
		ToggleView:  req.ToggleView,
		ToggleAxes:  req.ToggleAxes,
		ResetToBase: req.Reset,
	}
	if req.View != nil {
		mode := presentation.ViewMode(*req.View)
		change.Mode = &mode
	}

	view, err := ws.UpdateDisplay(change, time.Now())
	if err != nil {
		respondError(c, determineStatusCode(err), "failed to update display", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handler) resultView(c *gin.Context) {
	mode, err := presentation.ParseViewMode(c.Query("view"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid view", err)
		return
	}
	showAxes := true
	if raw := c.Query("axes"); raw != "" {
		if showAxes, err = strconv.ParseBool(raw); err != nil {
			respondError(c, http.StatusBadRequest, "invalid axes flag", err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.opts.RequestTimeout)
	defer cancel()

	view, err := h.workspaces.ResultView(ctx, c.Param("id"), mode, showAxes, time.Now())
	if err != nil {
		respondError(c, determineStatusCode(err), "failed to load result", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handler) resultImage(c *gin.Context) {
	mode, err := presentation.ParseViewMode(c.Query("view"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid view", err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.opts.RequestTimeout)
	defer cancel()

	img, name, err := h.workspaces.ResultImage(ctx, c.Param("id"), mode)
	if err != nil {
		respondError(c, determineStatusCode(err), "failed to fetch image", err)
		return
	}
	if c.Query("download") == "1" {
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	}
	c.Data(http.StatusOK, img.ContentType, img.Data)
}

// Middleware and helper functions
func errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			err := c.Errors.Last().Err
			respondError(c, determineStatusCode(err), "request processing failed", err)
		}
	}
}

func determineStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrWorkspaceNotFound), errors.Is(err, service.ErrNoResult):
		return http.StatusNotFound
	case errors.Is(err, service.ErrTooManyWorkspaces):
		return http.StatusTooManyRequests
	case errors.Is(err, upload.ErrUploadInProgress), errors.Is(err, gallery.ErrDeleteInProgress):
		return http.StatusConflict
	}

	if appErr, ok := apperrors.As(err); ok {
		// the service failing is our upstream failing
		if appErr.Kind == apperrors.KindRemote && appErr.StatusCode >= http.StatusInternalServerError {
			return http.StatusBadGateway
		}
		if appErr.Code == apperrors.CodeTooLarge {
			return http.StatusRequestEntityTooLarge
		}
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, code int, message string, err error) {
	fields := logrus.Fields{
		"status_code": code,
		"message":     message,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	}
	if code >= http.StatusInternalServerError {
		logger.WithError(err).WithFields(fields).Error("Request failed")
	} else {
		logger.WithError(err).WithFields(fields).Warn("Request rejected")
	}

	body := ErrorResponse{
		Error:   http.StatusText(code),
		Message: fmt.Sprintf("%s: %v", message, err),
	}
	if appErr, ok := apperrors.As(err); ok {
		body.Message = appErr.Message
		body.Kind = appErr.Kind
		body.Code = appErr.Code
	}
	c.AbortWithStatusJSON(code, body)
}
