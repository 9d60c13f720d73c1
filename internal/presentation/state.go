package presentation

import (
	"fmt"
	"sync"
	"time"

	"go-symmetry-console/pkg/models"
)

// ViewMode selects which image of a result is shown
type ViewMode string

const (
	ViewProcessed ViewMode = "processed"
	ViewOriginal  ViewMode = "original"
)

// ParseViewMode accepts "processed", "original" or "" (processed)
func ParseViewMode(value string) (ViewMode, error) {
	switch ViewMode(value) {
	case "", ViewProcessed:
		return ViewProcessed, nil
	case ViewOriginal:
		return ViewOriginal, nil
	default:
		return "", fmt.Errorf("unsupported view mode %q (want processed or original)", value)
	}
}

// URLResolver turns image references from a result into absolute URLs
type URLResolver interface {
	ImageURL(ref string) string
}

// State is the display state of one result: which image is shown and whether
// the axes overlay is on. The result itself is never modified.
type State struct {
	result   *models.AnalysisResult
	resolver URLResolver

	mu       sync.RWMutex
	mode     ViewMode
	showAxes bool
}

// NewState starts in processed mode with axes shown. resolver may be nil, in
// which case image references are returned as-is.
func NewState(result *models.AnalysisResult, resolver URLResolver) *State {
	if result == nil {
		result = &models.AnalysisResult{}
	}
	return &State{
		result:   result.Clone(),
		resolver: resolver,
		mode:     ViewProcessed,
		showAxes: true,
	}
}

// Result returns a copy of the underlying result
func (s *State) Result() *models.AnalysisResult {
	return s.result.Clone()
}

// Mode returns the current view mode
func (s *State) Mode() ViewMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// SetView switches to mode
func (s *State) SetView(mode ViewMode) error {
	if mode != ViewProcessed && mode != ViewOriginal {
		return fmt.Errorf("unsupported view mode %q", mode)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	return nil
}

// ToggleView flips between processed and original
func (s *State) ToggleView() ViewMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == ViewProcessed {
		s.mode = ViewOriginal
	} else {
		s.mode = ViewProcessed
	}
	return s.mode
}

// ToggleAxes flips the overlay preference. The preference survives a switch to
// original mode, where the overlay is hidden regardless.
func (s *State) ToggleAxes() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.showAxes = !s.showAxes
	return s.showAxes
}

// SetAxes sets the overlay preference
func (s *State) SetAxes(show bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.showAxes = show
}

// AxesVisible reports whether the overlay is actually drawn
func (s *State) AxesVisible() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.showAxes && s.mode == ViewProcessed
}

// Reset returns to the initial display
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = ViewProcessed
	s.showAxes = true
}

// ImageURL is the resolved URL of the image for the current mode
func (s *State) ImageURL() string {
	return s.ImageURLFor(s.Mode())
}

// ImageURLFor is the resolved URL of the image for mode
func (s *State) ImageURLFor(mode ViewMode) string {
	ref := s.result.ProcessedImageURL
	if mode == ViewOriginal {
		ref = s.result.OriginalImageURL
	}
	if s.resolver == nil {
		return ref
	}
	return s.resolver.ImageURL(ref)
}

// DownloadName is the suggested file name when saving the shown image
func (s *State) DownloadName() string {
	return DownloadName(s.result.AnalysisID)
}

// DownloadName is the suggested file name for a result's image
func DownloadName(analysisID string) string {
	return fmt.Sprintf("symmetry_analysis_%s.jpg", analysisID)
}

// AxisView is one axis as displayed
type AxisView struct {
	Type        models.AxisType        `json:"type"`
	Label       string                 `json:"label"`
	Color       string                 `json:"color"`
	Angle       float64                `json:"angle"`
	Confidence  string                 `json:"confidence"`
	Coordinates models.AxisCoordinates `json:"coordinates"`
}

// RegionView is one region as displayed
type RegionView struct {
	RegionID     int               `json:"region_id"`
	SymmetryType models.RegionType `json:"symmetry_type"`
	CenterX      float64           `json:"center_x"`
	CenterY      float64           `json:"center_y"`
	Confidence   string            `json:"confidence"`
}

// ResultView is everything needed to render a result
type ResultView struct {
	AnalysisID          string       `json:"analysis_id"`
	Mode                ViewMode     `json:"mode"`
	ImageURL            string       `json:"image_url"`
	DownloadName        string       `json:"download_name"`
	AxesToggleAvailable bool         `json:"axes_toggle_available"`
	AxesVisible         bool         `json:"axes_visible"`
	Score               string       `json:"score"`
	ScoreColor          string       `json:"score_color"`
	Badge               Badge        `json:"badge"`
	ProcessingTime      string       `json:"processing_time"`
	AnalyzedAt          string       `json:"analyzed_at"`
	Axes                []AxisView   `json:"axes"`
	Regions             []RegionView `json:"regions"`
	HasVertical         bool         `json:"has_vertical_symmetry"`
	HasHorizontal       bool         `json:"has_horizontal_symmetry"`
	HasRadial           bool         `json:"has_radial_symmetry"`
}

// View derives the full display model at now
func (s *State) View(now time.Time) ResultView {
	mode := s.Mode()
	r := s.result

	view := ResultView{
		AnalysisID:          r.AnalysisID,
		Mode:                mode,
		ImageURL:            s.ImageURLFor(mode),
		DownloadName:        s.DownloadName(),
		AxesToggleAvailable: mode == ViewProcessed,
		AxesVisible:         s.AxesVisible(),
		Score:               FormatScore(r.SymmetryScore),
		ScoreColor:          ScoreColor(r.SymmetryScore),
		Badge:               BadgeFor(r.SymmetryScore),
		ProcessingTime:      FormatProcessingTime(r.ProcessingTime),
		AnalyzedAt:          FormatRelativeTime(r.Timestamp.Time, now),
		Axes:                make([]AxisView, 0, len(r.DetectedAxes)),
		Regions:             make([]RegionView, 0, len(r.DetectedRegions)),
		HasVertical:         r.HasVerticalSymmetry,
		HasHorizontal:       r.HasHorizontalSymmetry,
		HasRadial:           r.HasRadialSymmetry,
	}
	for _, a := range r.DetectedAxes {
		view.Axes = append(view.Axes, AxisView{
			Type:        a.Type,
			Label:       AxisLabel(string(a.Type)),
			Color:       AxisColor(a.Type),
			Angle:       a.Angle,
			Confidence:  FormatConfidence(a.Confidence),
			Coordinates: a.Coordinates,
		})
	}
	for _, reg := range r.DetectedRegions {
		view.Regions = append(view.Regions, RegionView{
			RegionID:     reg.RegionID,
			SymmetryType: reg.SymmetryType,
			CenterX:      reg.CenterX,
			CenterY:      reg.CenterY,
			Confidence:   FormatConfidence(reg.Confidence),
		})
	}
	return view
}
