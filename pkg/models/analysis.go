package models

import (
	"strings"
	"time"
)

// AxisType enumerates the symmetry axes the service can report
type AxisType string

const (
	AxisVertical     AxisType = "vertical"
	AxisHorizontal   AxisType = "horizontal"
	AxisMainDiagonal AxisType = "main_diagonal"
	AxisAntiDiagonal AxisType = "anti_diagonal"
)

// RegionType enumerates the kinds of local symmetry regions
type RegionType string

const (
	RegionRadial     RegionType = "radial"
	RegionReflective RegionType = "reflective"
	RegionRotational RegionType = "rotational"
)

// AxisCoordinates are the two endpoints of an axis line segment, in image pixels
type AxisCoordinates struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// SymmetryAxis is a detected line of reflective symmetry.
// Angle and confidence are produced by the service and only displayed here.
type SymmetryAxis struct {
	Type        AxisType        `json:"type" validate:"oneof=vertical horizontal main_diagonal anti_diagonal"`
	Angle       float64         `json:"angle"`
	Confidence  float64         `json:"confidence" validate:"gte=0,lte=1"`
	Coordinates AxisCoordinates `json:"coordinates"`
}

// SymmetryRegion is a local area of symmetry; RegionID is unique within one result only
type SymmetryRegion struct {
	RegionID     int        `json:"region_id"`
	SymmetryType RegionType `json:"symmetry_type" validate:"oneof=radial reflective rotational"`
	CenterX      float64    `json:"center_x"`
	CenterY      float64    `json:"center_y"`
	Confidence   float64    `json:"confidence" validate:"gte=0,lte=1"`
}

// AnalysisResult is the complete outcome of one analysis, immutable once received
type AnalysisResult struct {
	AnalysisID        string           `json:"analysis_id" validate:"required"`
	OriginalImageURL  string           `json:"original_image_url"`
	ProcessedImageURL string           `json:"processed_image_url"`
	SymmetryScore     float64          `json:"symmetry_score" validate:"gte=0,lte=100"`
	DetectedAxes      []SymmetryAxis   `json:"detected_axes" validate:"dive"`
	DetectedRegions   []SymmetryRegion `json:"detected_regions" validate:"dive"`

	HasVerticalSymmetry   bool `json:"has_vertical_symmetry"`
	HasHorizontalSymmetry bool `json:"has_horizontal_symmetry"`
	HasRadialSymmetry     bool `json:"has_radial_symmetry"`

	ProcessingTime float64   `json:"processing_time" validate:"gte=0"`
	Timestamp      Timestamp `json:"timestamp"`
}

// Clone returns a deep copy so holders never share axis or region backing arrays
func (r *AnalysisResult) Clone() *AnalysisResult {
	if r == nil {
		return nil
	}
	out := *r
	out.DetectedAxes = append([]SymmetryAxis(nil), r.DetectedAxes...)
	out.DetectedRegions = append([]SymmetryRegion(nil), r.DetectedRegions...)
	return &out
}

// Timestamp accepts RFC3339 as well as the zone-less ISO-8601 form the service emits
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// NewTimestamp wraps t
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

// ParseTimestamp parses any accepted layout; zone-less values are taken as UTC
func ParseTimestamp(value string) (Timestamp, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.ParseInLocation(layout, value, time.UTC)
		if err == nil {
			return Timestamp{Time: t}, nil
		}
		lastErr = err
	}
	return Timestamp{}, lastErr
}

// UnmarshalJSON implements json.Unmarshaler
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	value := strings.Trim(string(data), `"`)
	if value == "" || value == "null" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := ParseTimestamp(value)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalJSON implements json.Marshaler
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.UTC().Format(time.RFC3339Nano) + `"`), nil
}
