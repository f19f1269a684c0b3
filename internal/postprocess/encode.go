package postprocess

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Default encoding parameters.
const (
	DefaultQuality            = 85
	DefaultThumbnailQuality   = 70
	DefaultThumbnailMaxWidth  = 400
	DefaultThumbnailMaxHeight = 400
)

// EncoderConfig controls JPEG re-encoding and thumbnail size.
type EncoderConfig struct {
	Quality            int
	ThumbnailQuality   int
	ThumbnailMaxWidth  int
	ThumbnailMaxHeight int
}

// DefaultEncoderConfig returns quality 85 and a 400x400 quality-70 thumbnail.
func DefaultEncoderConfig() EncoderConfig {
	return EncoderConfig{
		Quality:            DefaultQuality,
		ThumbnailQuality:   DefaultThumbnailQuality,
		ThumbnailMaxWidth:  DefaultThumbnailMaxWidth,
		ThumbnailMaxHeight: DefaultThumbnailMaxHeight,
	}
}

// Encoder compresses images and renders thumbnails.
type Encoder struct {
	cfg EncoderConfig
}

// NewEncoder creates an Encoder. Zero fields take their defaults.
func NewEncoder(cfg EncoderConfig) *Encoder {
	def := DefaultEncoderConfig()
	if cfg.Quality <= 0 {
		cfg.Quality = def.Quality
	}
	if cfg.ThumbnailQuality <= 0 {
		cfg.ThumbnailQuality = def.ThumbnailQuality
	}
	if cfg.ThumbnailMaxWidth <= 0 {
		cfg.ThumbnailMaxWidth = def.ThumbnailMaxWidth
	}
	if cfg.ThumbnailMaxHeight <= 0 {
		cfg.ThumbnailMaxHeight = def.ThumbnailMaxHeight
	}
	return &Encoder{cfg: cfg}
}

// Open decodes the image file at path, applying any EXIF orientation.
func (e *Encoder) Open(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// Compress re-encodes img as JPEG at the configured quality.
func (e *Encoder) Compress(img image.Image) ([]byte, error) {
	return encodeJPEG(img, e.cfg.Quality)
}

// Thumbnail scales img down to fit the configured box, keeping its aspect
// ratio, and encodes it as JPEG. Images already inside the box are not
// enlarged.
func (e *Encoder) Thumbnail(img image.Image) ([]byte, error) {
	b := img.Bounds()
	thumb := img
	if b.Dx() > e.cfg.ThumbnailMaxWidth || b.Dy() > e.cfg.ThumbnailMaxHeight {
		thumb = imaging.Fit(img, e.cfg.ThumbnailMaxWidth, e.cfg.ThumbnailMaxHeight, imaging.Lanczos)
	}
	return encodeJPEG(thumb, e.cfg.ThumbnailQuality)
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
