package validation

import (
	"fmt"
	"strings"

	apperrors "go-symmetry-console/internal/errors"
	"go-symmetry-console/pkg/models"
)

const (
	// MaxFileSize is the default upload ceiling; a file of exactly this size passes
	MaxFileSize int64 = 10 * 1024 * 1024

	invalidTypeReason = "Invalid file type. Please upload a JPG, PNG, or BMP image."
)

// DefaultAllowedTypes are the MIME types the analysis service accepts
var DefaultAllowedTypes = []string{"image/jpeg", "image/jpg", "image/png", "image/bmp"}

// Verdict is the outcome of validating a file; Reason is empty when Valid
type Verdict struct {
	Valid  bool                `json:"valid"`
	Code   apperrors.ErrorCode `json:"code,omitempty"`
	Reason string              `json:"reason,omitempty"`
}

// FileValidator decides whether a local file may be submitted for analysis
type FileValidator struct {
	allowedTypes map[string]struct{}
	maxSize      int64
}

// NewFileValidator creates a validator with the default allow-list and ceiling
func NewFileValidator() *FileValidator {
	return NewFileValidatorWithOptions(DefaultAllowedTypes, MaxFileSize)
}

// NewFileValidatorWithOptions creates a validator with a custom allow-list and ceiling
func NewFileValidatorWithOptions(types []string, maxSize int64) *FileValidator {
	allowed := make(map[string]struct{}, len(types))
	for _, t := range types {
		allowed[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	return &FileValidator{allowedTypes: allowed, maxSize: maxSize}
}

// MaxSize returns the configured ceiling in bytes
func (v *FileValidator) MaxSize() int64 {
	return v.maxSize
}

// Validate checks MIME type then size. It never touches file content.
func (v *FileValidator) Validate(file models.ImageFile) Verdict {
	if _, ok := v.allowedTypes[strings.ToLower(strings.TrimSpace(file.MIMEType))]; !ok {
		return Verdict{Code: apperrors.CodeInvalidType, Reason: invalidTypeReason}
	}
	if file.Size < 0 {
		return Verdict{Code: apperrors.CodeInvalidArgument, Reason: "File size is unknown."}
	}
	if file.Size > v.maxSize {
		return Verdict{
			Code:   apperrors.CodeTooLarge,
			Reason: fmt.Sprintf("File too large. Maximum size is %d MB.", v.maxSize/(1024*1024)),
		}
	}
	return Verdict{Valid: true}
}

// ValidateError is Validate expressed as an error; nil means the file is acceptable
func (v *FileValidator) ValidateError(file models.ImageFile) error {
	verdict := v.Validate(file)
	if verdict.Valid {
		return nil
	}
	return apperrors.NewValidationError(verdict.Code, verdict.Reason, nil)
}
