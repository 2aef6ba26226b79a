package media

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"

	. "github.com/asukul/thatbrowser/internal/logging"
)

const qualityStep = 10

// longest side targets tried after the configured maximum
var dimensionSteps = []int{1400, 1200, 1000, 800}

// Optimize fits a screenshot within l. Images already inside the limits
// are returned untouched; anything else is downscaled and re-encoded as
// JPEG, trying progressively lower quality and then smaller sizes.
func Optimize(data []byte, l Limits) (*ImageData, error) {
	l = l.orDefault()

	mimeType := DetectMIME(data)
	if !IsSupported(mimeType) {
		return nil, fmt.Errorf("media: unsupported image type %s", mimeType)
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("media: decode: %w", err)
	}
	width, height := img.Bounds().Dx(), img.Bounds().Dy()

	orig := &ImageData{Data: data, MimeType: mimeType, Width: width, Height: height}
	if orig.Within(l) {
		return orig, nil
	}

	dims := []int{l.MaxDimension}
	for _, d := range dimensionSteps {
		if d < l.MaxDimension {
			dims = append(dims, d)
		}
	}

	var smallest *ImageData
	for _, dim := range dims {
		resized := img
		if width > dim || height > dim {
			resized = imaging.Fit(img, dim, dim, imaging.Lanczos)
		}
		rw, rh := resized.Bounds().Dx(), resized.Bounds().Dy()

		for q := l.MaxQuality; q >= l.MinQuality; q -= qualityStep {
			var buf bytes.Buffer
			if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(q)); err != nil {
				return nil, fmt.Errorf("media: encode: %w", err)
			}
			cand := &ImageData{Data: buf.Bytes(), MimeType: "image/jpeg", Width: rw, Height: rh}
			if smallest == nil || len(cand.Data) < len(smallest.Data) {
				smallest = cand
			}
			if len(cand.Data) <= l.MaxBytes {
				L_debug("media: image optimized",
					"from", fmt.Sprintf("%dx%d/%d", width, height, len(data)),
					"to", fmt.Sprintf("%dx%d/%d", rw, rh, len(cand.Data)),
					"quality", q)
				return cand, nil
			}
		}
	}

	return nil, fmt.Errorf("media: image could not be reduced below %d bytes (smallest %d)", l.MaxBytes, len(smallest.Data))
}
