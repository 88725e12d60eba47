package ocr

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

// Enhancer prepares photographed or scanned invoices for OCR: grayscale,
// stronger contrast, sharpening and a gamma lift. Large images are scaled
// down to MaxDimension on their longest side.
type Enhancer struct {
	Contrast     float64
	Sharpen      float64
	Brightness   float64
	Gamma        float64
	MaxDimension int
}

// DefaultEnhancer returns the settings used for receipts and phone photos.
func DefaultEnhancer() *Enhancer {
	return &Enhancer{
		Contrast:     30,
		Sharpen:      1.5,
		Brightness:   10,
		Gamma:        1.2,
		MaxDimension: 4200,
	}
}

// Enhance decodes a PNG or JPEG, applies the adjustments and re-encodes it as PNG.
func (e *Enhancer) Enhance(data []byte) ([]byte, error) {
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	img := imaging.Grayscale(src)
	img = imaging.AdjustContrast(img, e.Contrast)
	img = imaging.Sharpen(img, e.Sharpen)
	img = imaging.AdjustBrightness(img, e.Brightness)
	img = imaging.AdjustGamma(img, e.Gamma)

	if b := img.Bounds(); e.MaxDimension > 0 && (b.Dx() > e.MaxDimension || b.Dy() > e.MaxDimension) {
		img = imaging.Fit(img, e.MaxDimension, e.MaxDimension, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
