package scanning

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Image is a photo (or PDF) handed to the extraction pipeline
type Image struct {
	Name        string
	Data        []byte
	ContentType string
}

// NewImage builds an Image, detecting the content type when it is not given
func NewImage(name string, data []byte, contentType string) *Image {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = DetectContentType(name, data)
	}
	return &Image{
		Name:        name,
		Data:        data,
		ContentType: contentType,
	}
}

// LoadImage reads an image from disk
func LoadImage(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	return NewImage(filepath.Base(path), data, ""), nil
}

// DetectContentType guesses a MIME type from the file extension, then from the content
func DetectContentType(name string, data []byte) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}

	// HEIC isn't sniffed by net/http
	if isHEICFormat(data) {
		return "image/heic"
	}
	return http.DetectContentType(data)
}
