// Package media prepares page screenshots for vision models: MIME
// detection from magic bytes, downscaling and JPEG recompression.
package media

import (
	"encoding/base64"

	"github.com/gabriel-vasile/mimetype"
)

// Limits bounds a prepared image. The defaults fit every supported
// provider's vision input.
type Limits struct {
	MaxDimension int // longest side in pixels
	MaxBytes     int
	MaxQuality   int // first JPEG quality tried
	MinQuality   int // last JPEG quality tried
}

// DefaultLimits is used when a zero Limits is passed.
var DefaultLimits = Limits{
	MaxDimension: 1600,
	MaxBytes:     4 * 1024 * 1024,
	MaxQuality:   85,
	MinQuality:   35,
}

func (l Limits) orDefault() Limits {
	if l.MaxDimension <= 0 {
		l.MaxDimension = DefaultLimits.MaxDimension
	}
	if l.MaxBytes <= 0 {
		l.MaxBytes = DefaultLimits.MaxBytes
	}
	if l.MaxQuality <= 0 {
		l.MaxQuality = DefaultLimits.MaxQuality
	}
	if l.MinQuality <= 0 || l.MinQuality > l.MaxQuality {
		l.MinQuality = min(DefaultLimits.MinQuality, l.MaxQuality)
	}
	return l
}

var supportedMIMETypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

// ImageData is an encoded image ready to attach to a chat message.
type ImageData struct {
	Data     []byte
	MimeType string
	Width    int
	Height   int
}

// Base64 returns the image bytes base64-encoded.
func (img *ImageData) Base64() string {
	return base64.StdEncoding.EncodeToString(img.Data)
}

// Within reports whether the image satisfies l.
func (img *ImageData) Within(l Limits) bool {
	l = l.orDefault()
	return img.Width <= l.MaxDimension && img.Height <= l.MaxDimension && len(img.Data) <= l.MaxBytes
}

// DetectMIME returns the MIME type from magic bytes.
func DetectMIME(data []byte) string {
	return mimetype.Detect(data).String()
}

// IsSupported reports whether mimeType can be optimized.
func IsSupported(mimeType string) bool {
	return supportedMIMETypes[mimeType]
}
