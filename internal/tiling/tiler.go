// Package tiling partitions an image into a grid of tiles so that selected
// regions can be regenerated independently.
//
// In exact mode every tile is width/cols by height/rows pixels at its grid
// position. In inset mode each edge that borders another tile is pulled in
// by a percentage of the tile size, and the result is then trimmed back to
// the exact tile's aspect ratio, so a regenerated tile is never distorted.
package tiling

import (
	"errors"
	"fmt"
	"image"
	"math"
)

// Mode selects how tile rectangles are computed.
type Mode string

// Tiling modes
const (
	ModeExact Mode = "exact"
	ModeInset Mode = "inset"
)

// DefaultInsetPercent is the inset callers use when none is configured.
const DefaultInsetPercent = 2.0

// aspectEpsilon is the aspect ratio difference below which no correction
// is applied.
const aspectEpsilon = 1e-3

// roundingSlack absorbs float error before truncating to whole pixels.
const roundingSlack = 1e-9

// Common errors returned by the tiling package
var (
	ErrInvalidGrid    = errors.New("invalid tiling grid")
	ErrInvalidMode    = errors.New("invalid tiling mode")
	ErrInvalidInset   = errors.New("inset percent must be in [0, 50)")
	ErrInvalidIndex   = errors.New("tile index out of range")
	ErrDuplicateIndex = errors.New("duplicate tile index")
)

// Options configures a tiling run.
type Options struct {
	Rows int
	Cols int
	// Mode defaults to ModeInset.
	Mode Mode
	// InsetPercent is the share of the tile dimension removed from each
	// interior edge in inset mode. Zero leaves the edges where they are.
	InsetPercent float64
}

// Tile is one planned region of the source image.
type Tile struct {
	// Index is the row-major position in the grid.
	Index  int
	Row    int
	Col    int
	X      int
	Y      int
	Width  int
	Height int
	// Path is set by Split once the tile has been written.
	Path string
}

// Bounds returns the tile rectangle relative to the image origin.
func (t Tile) Bounds() image.Rectangle {
	return image.Rect(t.X, t.Y, t.X+t.Width, t.Y+t.Height)
}

// Count returns the number of tiles in the grid.
func (o Options) Count() int {
	return o.Rows * o.Cols
}

func (o Options) normalize() (Options, error) {
	if o.Rows < 1 || o.Cols < 1 {
		return o, fmt.Errorf("%w: %dx%d", ErrInvalidGrid, o.Rows, o.Cols)
	}
	switch o.Mode {
	case "":
		o.Mode = ModeInset
	case ModeExact, ModeInset:
	default:
		return o, fmt.Errorf("%w: %q", ErrInvalidMode, o.Mode)
	}
	if o.InsetPercent < 0 || o.InsetPercent >= 50 {
		return o, fmt.Errorf("%w: %v", ErrInvalidInset, o.InsetPercent)
	}
	return o, nil
}

// Plan computes the tiles for the selected row-major indices of a
// width x height image, in the order given. No indices selects every tile.
func Plan(width, height int, opts Options, indices []int) ([]Tile, error) {
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}
	if width < opts.Cols || height < opts.Rows {
		return nil, fmt.Errorf("%w: %dx%d image cannot hold %d rows and %d cols",
			ErrInvalidGrid, width, height, opts.Rows, opts.Cols)
	}

	selected, err := selectIndices(indices, opts.Count())
	if err != nil {
		return nil, err
	}

	tiles := make([]Tile, 0, len(selected))
	for _, idx := range selected {
		row, col := idx/opts.Cols, idx%opts.Cols
		var t Tile
		if opts.Mode == ModeExact {
			t = exactTile(width, height, opts, row, col)
		} else {
			t = insetTile(width, height, opts, row, col)
		}
		t.Index, t.Row, t.Col = idx, row, col
		tiles = append(tiles, t)
	}
	return tiles, nil
}

func selectIndices(indices []int, count int) ([]int, error) {
	if len(indices) == 0 {
		all := make([]int, count)
		for i := range all {
			all[i] = i
		}
		return all, nil
	}

	seen := make(map[int]bool, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= count {
			return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidIndex, idx, count)
		}
		if seen[idx] {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateIndex, idx)
		}
		seen[idx] = true
	}
	return append([]int(nil), indices...), nil
}

// exactTile truncates the tile size, so when the image does not divide
// evenly the trailing remainder belongs to no tile.
func exactTile(width, height int, opts Options, row, col int) Tile {
	w := width / opts.Cols
	h := height / opts.Rows
	return Tile{X: col * w, Y: row * h, Width: w, Height: h}
}

// span is one axis of a tile: the interval [lo, hi) and which of its ends
// border a neighbouring tile.
type span struct {
	lo, hi  float64
	insetLo bool
	insetHi bool
}

func (s span) size() float64 {
	return s.hi - s.lo
}

// shrink removes extra from the interior-facing ends of s: split evenly
// when both ends are interior, all on the one that is, centred otherwise.
func (s span) shrink(extra float64) span {
	switch {
	case s.insetLo && s.insetHi:
		s.lo += extra / 2
		s.hi -= extra / 2
	case s.insetLo:
		s.lo += extra
	case s.insetHi:
		s.hi -= extra
	default:
		s.lo += extra / 2
		s.hi -= extra / 2
	}
	return s
}

func axis(index, count int, tileSize, inset float64) span {
	s := span{
		lo:      float64(index) * tileSize,
		hi:      float64(index+1) * tileSize,
		insetLo: index > 0,
		insetHi: index < count-1,
	}
	if s.insetLo {
		s.lo += inset
	}
	if s.insetHi {
		s.hi -= inset
	}
	return s
}

func insetTile(width, height int, opts Options, row, col int) Tile {
	tileW := float64(width) / float64(opts.Cols)
	tileH := float64(height) / float64(opts.Rows)

	x := axis(col, opts.Cols, tileW, tileW*opts.InsetPercent/100)
	y := axis(row, opts.Rows, tileH, tileH*opts.InsetPercent/100)

	target := tileW / tileH
	if actual := x.size() / y.size(); math.Abs(actual-target) > aspectEpsilon {
		if actual > target {
			x = x.shrink(x.size() - y.size()*target)
		} else {
			y = y.shrink(y.size() - x.size()/target)
		}
	}

	x0, x1 := floor(x.lo), floor(x.hi)
	y0, y1 := floor(y.lo), floor(y.hi)
	return Tile{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

func floor(v float64) int {
	return int(math.Floor(v + roundingSlack))
}
