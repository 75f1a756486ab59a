package wizard

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"
)

// DecodeSignature parses a base64 image data URL and returns the raw bytes
// and the media type. A canvas with no strokes is reported as
// ErrSignatureRequired.
func DecodeSignature(dataURL string) ([]byte, string, error) {
	dataURL = strings.TrimSpace(dataURL)
	if dataURL == "" {
		return nil, "", ErrSignatureRequired
	}

	header, payload, ok := strings.Cut(dataURL, ",")
	if !ok || !strings.HasPrefix(header, "data:image/") || !strings.HasSuffix(header, ";base64") {
		return nil, "", fmt.Errorf("signature is not a base64 image data url: %w", ErrSignatureRequired)
	}
	mediaType := strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil || len(raw) == 0 {
		return nil, "", fmt.Errorf("decode signature: %w", ErrSignatureRequired)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("decode signature image: %w", ErrSignatureRequired)
	}
	if isBlank(img) {
		return nil, "", ErrSignatureRequired
	}
	return raw, mediaType, nil
}

// isBlank reports whether every pixel has the same colour, which is what an
// untouched canvas (transparent or filled background) exports.
func isBlank(img image.Image) bool {
	b := img.Bounds()
	if b.Empty() {
		return true
	}
	r0, g0, b0, a0 := img.At(b.Min.X, b.Min.Y).RGBA()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			if r != r0 || g != g0 || bl != b0 || a != a0 {
				return false
			}
		}
	}
	return true
}
