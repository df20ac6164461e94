// Package image implements the resize-to-fit and lossless re-encode
// step of the StaticImage conversion pipeline (§4.3 step 4).
package image

import (
	"fmt"
	"image"
	"os"

	"github.com/disintegration/imaging"
)

// MaxDimension bounds both sides of the resized output (§4.3:
// "1024x1024, preserving aspect, never upscaling").
const MaxDimension = 1024

// ResizeToFitAndEncodePNG decodes srcPath, resizes it to fit within
// MaxDimension x MaxDimension (preserving aspect ratio, never
// upscaling), and writes the result to dstPath as a lossless PNG.
func ResizeToFitAndEncodePNG(srcPath, dstPath string) error {
	src, err := imaging.Open(srcPath, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}

	resized := fitWithinBounds(src, MaxDimension, MaxDimension)

	f, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	if err := imaging.Encode(f, resized, imaging.PNG); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// fitWithinBounds resizes img to fit within maxW x maxH, preserving
// aspect ratio, without ever upscaling an image already smaller than
// the bounds.
func fitWithinBounds(img image.Image, maxW, maxH int) *image.NRGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxW && h <= maxH {
		return imaging.Clone(img)
	}
	return imaging.Fit(img, maxW, maxH, imaging.Lanczos)
}
