package repository

import (
	"context"

	"go-symmetry-console/internal/storage"
	"go-symmetry-console/pkg/models"
)

// ResultSource is the remote side of the repository
type ResultSource interface {
	FetchByID(ctx context.Context, id string) (*models.AnalysisResult, error)
	ImageURL(ref string) string
}

// ResultRepository defines access to analysis results and their images.
// Nothing is kept between calls; the service is the only source of truth.
type ResultRepository interface {
	// GetResult fetches the result for id from the service
	GetResult(ctx context.Context, id string) (*models.AnalysisResult, error)
	// FetchImage downloads an image reference of a result; relative refs are
	// resolved against the service address
	FetchImage(ctx context.Context, ref string) (*storage.Image, error)
}
