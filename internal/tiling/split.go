package tiling

import (
	"bytes"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// Crop returns the region of img covered by t. Tile coordinates are
// relative to the image origin.
func Crop(img image.Image, t Tile) *image.NRGBA {
	r := t.Bounds().Add(img.Bounds().Min)
	return imaging.Crop(img, r)
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode tile: %w", err)
	}
	return buf.Bytes(), nil
}

// FileName returns the file name Split uses for the tile at index.
func FileName(index int) string {
	return fmt.Sprintf("tile_%02d.png", index)
}

// Split plans the selected tiles of img and writes each one as a PNG file
// in outDir, creating it if needed. The returned tiles carry their paths.
func Split(img image.Image, opts Options, indices []int, outDir string) ([]Tile, error) {
	b := img.Bounds()
	tiles, err := Plan(b.Dx(), b.Dy(), opts, indices)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	for i := range tiles {
		p := filepath.Join(outDir, FileName(tiles[i].Index))
		if err := imaging.Save(Crop(img, tiles[i]), p); err != nil {
			return nil, fmt.Errorf("failed to write tile %d: %w", tiles[i].Index, err)
		}
		tiles[i].Path = p
	}
	return tiles, nil
}

// SplitFile decodes the image at path and splits it into outDir.
func SplitFile(path string, opts Options, indices []int, outDir string) ([]Tile, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	return Split(img, opts, indices, outDir)
}
