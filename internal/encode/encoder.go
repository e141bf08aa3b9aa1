// Package encode converts between images and raster tile payloads.
package encode

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/gen2brain/webp"
)

// DefaultQuality applies to lossy encoders configured with quality <= 0.
const DefaultQuality = 85

// Encoder encodes an image into tile bytes.
type Encoder interface {
	Encode(img image.Image) ([]byte, error)
	// Format returns the format name ("png", "jpeg", "webp").
	Format() string
	ContentType() string
	Extension() string
}

// NewEncoder creates an encoder for format. quality is ignored for png.
func NewEncoder(format string, quality int) (Encoder, error) {
	if quality <= 0 {
		quality = DefaultQuality
	}
	switch format {
	case "png":
		return &PNGEncoder{}, nil
	case "jpeg", "jpg":
		return &JPEGEncoder{Quality: quality}, nil
	case "webp":
		return &WebPEncoder{Quality: quality}, nil
	default:
		return nil, fmt.Errorf("unsupported tile format: %q (supported: png, jpeg, webp)", format)
	}
}

// PNGEncoder encodes tiles as PNG.
type PNGEncoder struct{}

func (e *PNGEncoder) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := &png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *PNGEncoder) Format() string      { return "png" }
func (e *PNGEncoder) ContentType() string { return "image/png" }
func (e *PNGEncoder) Extension() string   { return ".png" }

// JPEGEncoder encodes tiles as JPEG. Alpha is dropped.
type JPEGEncoder struct {
	Quality int
}

func (e *JPEGEncoder) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.Quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *JPEGEncoder) Format() string      { return "jpeg" }
func (e *JPEGEncoder) ContentType() string { return "image/jpeg" }
func (e *JPEGEncoder) Extension() string   { return ".jpg" }

// WebPEncoder encodes lossy WebP through gen2brain/webp, which uses a system
// libwebp via purego when present and a WASM build otherwise.
type WebPEncoder struct {
	Quality int
}

func (e *WebPEncoder) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, webp.Options{Quality: e.Quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *WebPEncoder) Format() string      { return "webp" }
func (e *WebPEncoder) ContentType() string { return "image/webp" }
func (e *WebPEncoder) Extension() string   { return ".webp" }

// ContentType returns the MIME type of a format name, or
// application/octet-stream when unknown.
func ContentType(format string) string {
	switch format {
	case "png":
		return "image/png"
	case "jpeg", "jpg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	case "pbf", "mvt":
		return "application/x-protobuf"
	}
	return "application/octet-stream"
}
