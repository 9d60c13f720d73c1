package models

import "fmt"

// SortKey selects the gallery ordering; both keys are descending
type SortKey string

const (
	SortByTimestamp SortKey = "timestamp"
	SortByScore     SortKey = "score"
)

// ParseSortKey maps a query value onto a SortKey, defaulting to recency
func ParseSortKey(value string) (SortKey, error) {
	switch SortKey(value) {
	case "", SortByTimestamp:
		return SortByTimestamp, nil
	case SortByScore:
		return SortByScore, nil
	default:
		return "", fmt.Errorf("unsupported sort key %q (want timestamp or score)", value)
	}
}

// GalleryItem is the list projection of an AnalysisResult (no axes or regions)
type GalleryItem struct {
	AnalysisID            string    `json:"analysis_id" validate:"required"`
	ThumbnailURL          string    `json:"thumbnail_url"`
	SymmetryScore         float64   `json:"symmetry_score" validate:"gte=0,lte=100"`
	Timestamp             Timestamp `json:"timestamp"`
	HasVerticalSymmetry   bool      `json:"has_vertical_symmetry"`
	HasHorizontalSymmetry bool      `json:"has_horizontal_symmetry"`
}

// GalleryPage is one page of the remote collection
type GalleryPage struct {
	Total int           `json:"total" validate:"gte=0"`
	Items []GalleryItem `json:"items" validate:"dive"`
}

// GalleryStats summarises the remote collection
type GalleryStats struct {
	TotalAnalyses int     `json:"total_analyses" validate:"gte=0"`
	AverageScore  float64 `json:"average_score"`
	HighestScore  float64 `json:"highest_score"`
	LowestScore   float64 `json:"lowest_score"`
	StorageUsedMB float64 `json:"storage_used_mb"`
}

// AnalysisSummary is the service's human-readable digest of one result
type AnalysisSummary struct {
	FileID  string `json:"file_id" validate:"required"`
	Summary struct {
		OverallAssessment string `json:"overall_assessment"`
		DominantSymmetry  string `json:"dominant_symmetry"`
		SymmetryCount     int    `json:"symmetry_count"`
		ConfidenceLevel   string `json:"confidence_level"`
	} `json:"summary"`
	Details AnalysisResult `json:"details"`
}
