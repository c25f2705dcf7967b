package detector

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// EncodeFrame downsizes img to width (keeping aspect, 0 or larger than the
// image keeps the original size) and encodes it as JPEG.
func EncodeFrame(img image.Image, width, quality int) (data []byte, w, h int, err error) {
	if img == nil {
		return nil, 0, 0, fmt.Errorf("nil image")
	}
	if width > 0 && width < img.Bounds().Dx() {
		img = imaging.Resize(img, width, 0, imaging.Linear)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, 0, 0, fmt.Errorf("jpeg encode: %w", err)
	}
	b := img.Bounds()
	return buf.Bytes(), b.Dx(), b.Dy(), nil
}
