package models

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ImageFile is a user-selected local file. Content can be opened any number of
// times so a failed submission can be retried with the same bytes.
type ImageFile struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MIMEType string `json:"mime_type"`

	open func() (io.ReadCloser, error)
}

// NewImageFile wraps in-memory content. An empty mimeType is sniffed from the bytes.
func NewImageFile(name, mimeType string, data []byte) ImageFile {
	if strings.TrimSpace(mimeType) == "" {
		mimeType = mimetype.Detect(data).String()
	}
	return ImageFile{
		Name:     name,
		Size:     int64(len(data)),
		MIMEType: baseMediaType(mimeType),
		open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// OpenImageFile describes a file on disk, sniffing its MIME type from content
func OpenImageFile(path string) (ImageFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return ImageFile{}, err
	}
	if info.IsDir() {
		return ImageFile{}, fmt.Errorf("%s is a directory", path)
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return ImageFile{}, fmt.Errorf("detect mime type of %s: %w", path, err)
	}
	return ImageFile{
		Name:     filepath.Base(path),
		Size:     info.Size(),
		MIMEType: baseMediaType(mt.String()),
		open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

// Open returns a fresh reader over the file content
func (f ImageFile) Open() (io.ReadCloser, error) {
	if f.open == nil {
		return nil, fmt.Errorf("image file %q has no content source", f.Name)
	}
	return f.open()
}

// baseMediaType drops parameters such as "; charset=utf-8"
func baseMediaType(value string) string {
	if i := strings.IndexByte(value, ';'); i >= 0 {
		value = value[:i]
	}
	return strings.ToLower(strings.TrimSpace(value))
}
