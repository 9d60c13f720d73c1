package stubservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	apperrors "go-symmetry-console/internal/errors"
	"go-symmetry-console/internal/logger"
	"go-symmetry-console/internal/presentation"
	"go-symmetry-console/pkg/models"
	"go-symmetry-console/pkg/validation"
)

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/bmp":  ".bmp",
}

// Handler serves a local imitation of the analysis service API
type Handler struct {
	store     *Store
	validator *validation.FileValidator
	pool      *WorkerPool
	log       *logrus.Entry
}

// NewHandler creates a handler over store; maxUploadSize <= 0 uses the default ceiling
func NewHandler(store *Store, maxUploadSize int64, pool *WorkerPool) *Handler {
	if maxUploadSize <= 0 {
		maxUploadSize = validation.MaxFileSize
	}
	return &Handler{
		store:     store,
		validator: validation.NewFileValidatorWithOptions(validation.DefaultAllowedTypes, maxUploadSize),
		pool:      pool,
		log:       logger.Component("stub"),
	}
}

// RegisterRoutes mounts the API under apiPrefix and stored images under /files
func (h *Handler) RegisterRoutes(router *gin.Engine, apiPrefix string) {
	api := router.Group("/" + strings.Trim(apiPrefix, "/"))
	{
		api.POST("/analyze/", h.analyze)
		api.GET("/analyze/:id", h.getAnalysis)
		api.GET("/analyze/summary/:id", h.getSummary)
		api.GET("/gallery/", h.listGallery)
		api.GET("/gallery/stats", h.stats)
		api.DELETE("/gallery/:id", h.deleteAnalysis)
		api.GET("/upload/health", h.health)
	}
	router.GET("/files/:name", h.serveFile)
}

func detail(c *gin.Context, status int, message string) {
	c.JSON(status, models.ErrorResponse{Detail: message})
}

func (h *Handler) analyze(c *gin.Context) {
	start := time.Now()

	fileHeader, err := c.FormFile("file")
	if err != nil {
		detail(c, http.StatusUnprocessableEntity, "No image file provided")
		return
	}

	contentType := strings.ToLower(fileHeader.Header.Get("Content-Type"))
	candidate := models.ImageFile{Name: fileHeader.Filename, Size: fileHeader.Size, MIMEType: contentType}
	if verdict := h.validator.Validate(candidate); !verdict.Valid {
		status := http.StatusBadRequest
		if verdict.Code == apperrors.CodeTooLarge {
			status = http.StatusRequestEntityTooLarge
		}
		detail(c, status, verdict.Reason)
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		detail(c, http.StatusInternalServerError, "Failed to read upload")
		return
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		detail(c, http.StatusInternalServerError, "Failed to read upload")
		return
	}

	analysis, err := h.runAnalysis(c, data)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		h.log.WithField("file_name", fileHeader.Filename).Debug("Client went away before analysis")
		return
	}
	if errors.Is(err, ErrPoolClosed) {
		detail(c, http.StatusServiceUnavailable, "Service is shutting down")
		return
	}
	if err != nil {
		h.log.WithError(err).WithField("file_name", fileHeader.Filename).Warn("Analysis failed")
		detail(c, http.StatusInternalServerError, fmt.Sprintf("Analysis failed: %v", err))
		return
	}

	rec := &AnalysisRecord{
		ID:             uuid.NewString(),
		FileName:       fileHeader.Filename,
		ContentType:    contentType,
		Extension:      extensions[contentType],
		Original:       data,
		Processed:      analysis.Processed,
		Score:          analysis.Score,
		Axes:           analysis.Axes,
		Regions:        analysis.Regions,
		HasVertical:    analysis.HasVertical,
		HasHorizontal:  analysis.HasHorizontal,
		HasRadial:      analysis.HasRadial,
		ProcessingTime: math.Round(time.Since(start).Seconds()*1000) / 1000,
		CreatedAt:      time.Now().UTC(),
	}
	if err := h.store.Create(rec); err != nil {
		h.log.WithError(err).Error("Failed to save analysis")
		detail(c, http.StatusInternalServerError, "Failed to save analysis")
		return
	}

	h.log.WithFields(logrus.Fields{
		"analysis_id": rec.ID,
		"score":       rec.Score,
		"axes":        len(rec.Axes),
	}).Info("Image analysed")
	c.JSON(http.StatusOK, toResult(rec))
}

func (h *Handler) runAnalysis(c *gin.Context, data []byte) (*Analysis, error) {
	if h.pool == nil {
		return Analyze(data)
	}
	var analysis *Analysis
	var analyzeErr error
	if err := h.pool.Do(c.Request.Context(), func() {
		analysis, analyzeErr = Analyze(data)
	}); err != nil {
		return nil, err
	}
	return analysis, analyzeErr
}

func (h *Handler) getAnalysis(c *gin.Context) {
	rec, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toResult(rec))
}

func (h *Handler) getSummary(c *gin.Context) {
	rec, ok := h.lookup(c)
	if !ok {
		return
	}
	result := toResult(rec)

	var summary models.AnalysisSummary
	summary.FileID = rec.ID
	summary.Summary.OverallAssessment = sentenceCase(presentation.Assessment(rec.Score))
	summary.Summary.DominantSymmetry = dominantSymmetry(rec.Axes)
	summary.Summary.SymmetryCount = len(rec.Axes)
	summary.Summary.ConfidenceLevel = confidenceLevel(rec.Axes)
	summary.Details = *result
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) lookup(c *gin.Context) (*AnalysisRecord, bool) {
	id := c.Param("id")
	rec, err := h.store.Get(id)
	if errors.Is(err, ErrNotFound) {
		detail(c, http.StatusNotFound, fmt.Sprintf("Analysis with ID '%s' not found", id))
		return nil, false
	}
	if err != nil {
		detail(c, http.StatusInternalServerError, "Failed to load analysis")
		return nil, false
	}
	return rec, true
}

func (h *Handler) listGallery(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 || limit > 100 {
		detail(c, http.StatusUnprocessableEntity, "limit must be between 1 and 100")
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		detail(c, http.StatusUnprocessableEntity, "offset must be greater than or equal to 0")
		return
	}
	sortBy, err := models.ParseSortKey(c.DefaultQuery("sort_by", "timestamp"))
	if err != nil {
		detail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}

	records, total, err := h.store.List(limit, offset, sortBy)
	if err != nil {
		detail(c, http.StatusInternalServerError, fmt.Sprintf("Failed to load gallery: %v", err))
		return
	}

	page := models.GalleryPage{Total: int(total), Items: make([]models.GalleryItem, 0, len(records))}
	for i := range records {
		rec := &records[i]
		page.Items = append(page.Items, models.GalleryItem{
			AnalysisID:            rec.ID,
			ThumbnailURL:          processedPath(rec.ID),
			SymmetryScore:         rec.Score,
			Timestamp:             models.NewTimestamp(rec.CreatedAt),
			HasVerticalSymmetry:   rec.HasVertical,
			HasHorizontalSymmetry: rec.HasHorizontal,
		})
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) stats(c *gin.Context) {
	stats, err := h.store.Stats()
	if err != nil {
		detail(c, http.StatusInternalServerError, "Failed to compute statistics")
		return
	}
	c.JSON(http.StatusOK, models.GalleryStats{
		TotalAnalyses: int(stats.Total),
		AverageScore:  math.Round(stats.Average*10) / 10,
		HighestScore:  stats.Highest,
		LowestScore:   stats.Lowest,
		StorageUsedMB: float64(stats.ImageSize) / (1024 * 1024),
	})
}

func (h *Handler) deleteAnalysis(c *gin.Context) {
	id := c.Param("id")
	err := h.store.Delete(id)
	if errors.Is(err, ErrNotFound) {
		detail(c, http.StatusNotFound, fmt.Sprintf("No files found for analysis ID: %s", id))
		return
	}
	if err != nil {
		detail(c, http.StatusInternalServerError, "Error deleting analysis")
		return
	}
	h.log.WithField("analysis_id", id).Info("Analysis deleted")
	c.JSON(http.StatusOK, models.DeleteResponse{Message: "Analysis deleted successfully", FileID: id, DeletedFiles: 2})
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, models.HealthStatus{Status: "healthy", Service: "upload", Message: "Upload service is running"})
}

// serveFile serves "{id}{ext}" (original) and "{id}_processed.jpg"
func (h *Handler) serveFile(c *gin.Context) {
	name := path.Base(c.Param("name"))
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)

	processed := strings.HasSuffix(base, "_processed")
	id := strings.TrimSuffix(base, "_processed")

	rec, err := h.store.Get(id)
	if err != nil {
		detail(c, http.StatusNotFound, "Image not found")
		return
	}
	if processed {
		c.Data(http.StatusOK, "image/jpeg", rec.Processed)
		return
	}
	contentType := rec.ContentType
	if contentType == "image/jpg" {
		contentType = "image/jpeg"
	}
	c.Data(http.StatusOK, contentType, rec.Original)
}

func originalPath(rec *AnalysisRecord) string {
	return "/files/" + rec.ID + rec.Extension
}

func processedPath(id string) string {
	return "/files/" + id + "_processed.jpg"
}

func toResult(rec *AnalysisRecord) *models.AnalysisResult {
	axes := rec.Axes
	if axes == nil {
		axes = []models.SymmetryAxis{}
	}
	regions := rec.Regions
	if regions == nil {
		regions = []models.SymmetryRegion{}
	}
	return &models.AnalysisResult{
		AnalysisID:            rec.ID,
		OriginalImageURL:      originalPath(rec),
		ProcessedImageURL:     processedPath(rec.ID),
		SymmetryScore:         rec.Score,
		DetectedAxes:          axes,
		DetectedRegions:       regions,
		HasVerticalSymmetry:   rec.HasVertical,
		HasHorizontalSymmetry: rec.HasHorizontal,
		HasRadialSymmetry:     rec.HasRadial,
		ProcessingTime:        rec.ProcessingTime,
		Timestamp:             models.NewTimestamp(rec.CreatedAt),
	}
}

func dominantSymmetry(axes []models.SymmetryAxis) string {
	if len(axes) == 0 {
		return "None"
	}
	best := axes[0]
	for _, a := range axes[1:] {
		if a.Confidence > best.Confidence {
			best = a
		}
	}
	return string(best.Type)
}

func confidenceLevel(axes []models.SymmetryAxis) string {
	if len(axes) == 0 {
		return "None"
	}
	var sum float64
	for _, a := range axes {
		sum += a.Confidence
	}
	avg := sum / float64(len(axes))
	switch {
	case avg >= 0.9:
		return "Very High"
	case avg >= 0.75:
		return "High"
	case avg >= 0.6:
		return "Moderate"
	default:
		return "Low"
	}
}

// sentenceCase turns "Highly Symmetric" into "Highly symmetric"
func sentenceCase(label string) string {
	if label == "" {
		return label
	}
	return label[:1] + strings.ToLower(label[1:])
}
