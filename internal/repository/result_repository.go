package repository

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	apperrors "go-symmetry-console/internal/errors"
	"go-symmetry-console/internal/logger"
	"go-symmetry-console/internal/storage"
	"go-symmetry-console/pkg/models"
)

type resultRepository struct {
	source  ResultSource
	fetcher storage.ImageFetcher
	log     *logrus.Entry
}

// NewResultRepository creates a repository over source and fetcher
func NewResultRepository(source ResultSource, fetcher storage.ImageFetcher) ResultRepository {
	return &resultRepository{
		source:  source,
		fetcher: fetcher,
		log:     logger.Component("repository"),
	}
}

func (r *resultRepository) GetResult(ctx context.Context, id string) (*models.AnalysisResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.NewValidationError(apperrors.CodeInvalidArgument, ErrEmptyAnalysisID.Error(), ErrEmptyAnalysisID)
	}

	result, err := r.source.FetchByID(ctx, id)
	if err != nil {
		r.log.WithError(err).WithField("analysis_id", id).Debug("Result lookup failed")
		return nil, err
	}
	return result, nil
}

func (r *resultRepository) FetchImage(ctx context.Context, ref string) (*storage.Image, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, apperrors.NewValidationError(apperrors.CodeInvalidArgument, ErrNoImage.Error(), ErrNoImage)
	}
	imageURL := r.source.ImageURL(ref)
	r.log.WithField("url", imageURL).Debug("Fetching result image")
	return r.fetcher.FetchImage(ctx, imageURL)
}
