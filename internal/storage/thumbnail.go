package storage

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"

	"github.com/chai2010/webp"
	"golang.org/x/image/draw"
)

// DefaultThumbnailMaxDimension is the maximum dimension (width or height)
// for library thumbnails.
const DefaultThumbnailMaxDimension = 512

// Thumbnail resizes an illustration for the library grid and encodes it as
// WebP. Line art compresses extremely well at quality 80.
func Thumbnail(data []byte, maxDimension int) ([]byte, string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= maxDimension && height <= maxDimension {
		// Already small enough, keep as PNG to preserve crisp outlines.
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, "", fmt.Errorf("encode png: %w", err)
		}
		return buf.Bytes(), "image/png", nil
	}

	newWidth, newHeight := width, height
	if width > height {
		newWidth = maxDimension
		newHeight = height * maxDimension / width
	} else {
		newHeight = maxDimension
		newWidth = width * maxDimension / height
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := webp.Encode(&buf, resized, &webp.Options{Quality: 80}); err != nil {
		return nil, "", fmt.Errorf("encode webp: %w", err)
	}
	return buf.Bytes(), "image/webp", nil
}
