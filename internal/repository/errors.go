package repository

import "errors"

var (
	// ErrEmptyAnalysisID indicates a lookup without an id
	ErrEmptyAnalysisID = errors.New("analysis id cannot be empty")

	// ErrNoImage indicates the result carries no URL for the requested variant
	ErrNoImage = errors.New("result has no image for this view")
)
