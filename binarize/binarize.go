// Package binarize converts grayscale pixel grids into black/white bitmaps
// suitable for a thermal print head.
package binarize

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedAlgorithm is returned for an unknown binarization algorithm.
	ErrUnsupportedAlgorithm = errors.New("binarize: unsupported algorithm")

	// ErrInvalidGrid is returned when a pixel grid has non-positive dimensions
	// or a pixel count that does not match them.
	ErrInvalidGrid = errors.New("binarize: invalid pixel grid")
)

// Algorithm selects a binarization method.
type Algorithm string

const (
	FloydSteinberg Algorithm = "floyd-steinberg"
	MeanThreshold  Algorithm = "mean-threshold"
)

// Algorithms lists the supported algorithm names.
var Algorithms = []Algorithm{FloydSteinberg, MeanThreshold}

// ParseAlgorithm resolves an algorithm by name.
func ParseAlgorithm(name string) (Algorithm, error) {
	for _, a := range Algorithms {
		if string(a) == name {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, name)
}

// PixelGrid is a row-major grid of 8-bit grayscale intensities.
type PixelGrid struct {
	width, height int
	pix           []uint8
}

// NewPixelGrid wraps pix as a width x height grid. pix is not copied.
func NewPixelGrid(width, height int, pix []uint8) (PixelGrid, error) {
	if width <= 0 || height <= 0 {
		return PixelGrid{}, fmt.Errorf("%w: dimensions %dx%d", ErrInvalidGrid, width, height)
	}
	if len(pix) != width*height {
		return PixelGrid{}, fmt.Errorf("%w: have %d pixels, want %d", ErrInvalidGrid, len(pix), width*height)
	}
	return PixelGrid{width: width, height: height, pix: pix}, nil
}

// GridFromRows builds a grid from equally sized rows.
func GridFromRows(rows [][]uint8) (PixelGrid, error) {
	if len(rows) == 0 {
		return PixelGrid{}, fmt.Errorf("%w: no rows", ErrInvalidGrid)
	}
	width := len(rows[0])
	pix := make([]uint8, 0, width*len(rows))
	for y, row := range rows {
		if len(row) != width {
			return PixelGrid{}, fmt.Errorf("%w: row %d has %d pixels, want %d", ErrInvalidGrid, y, len(row), width)
		}
		pix = append(pix, row...)
	}
	return NewPixelGrid(width, len(rows), pix)
}

// Width returns the grid width.
func (g PixelGrid) Width() int { return g.width }

// Height returns the grid height.
func (g PixelGrid) Height() int { return g.height }

// At returns the intensity at (x, y).
func (g PixelGrid) At(x, y int) uint8 { return g.pix[y*g.width+x] }

func (g PixelGrid) valid() bool {
	return g.width > 0 && g.height > 0 && len(g.pix) == g.width*g.height
}

// Bitmap is an immutable grid of ink marks; true means the dot is printed.
type Bitmap struct {
	width, height int
	ink           []bool
}

// NewBitmap builds a bitmap from rows of ink marks. The rows are copied.
func NewBitmap(rows [][]bool) (*Bitmap, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("%w: empty bitmap", ErrInvalidGrid)
	}
	width := len(rows[0])
	ink := make([]bool, 0, width*len(rows))
	for y, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("%w: row %d has %d pixels, want %d", ErrInvalidGrid, y, len(row), width)
		}
		ink = append(ink, row...)
	}
	return &Bitmap{width: width, height: len(rows), ink: ink}, nil
}

// Width returns the bitmap width.
func (b *Bitmap) Width() int { return b.width }

// Height returns the bitmap height.
func (b *Bitmap) Height() int { return b.height }

// Ink reports whether (x, y) is marked.
func (b *Bitmap) Ink(x, y int) bool { return b.ink[y*b.width+x] }

// Row returns a copy of row y.
func (b *Bitmap) Row(y int) []bool {
	row := make([]bool, b.width)
	copy(row, b.ink[y*b.width:(y+1)*b.width])
	return row
}

// InkCount returns the number of marked dots.
func (b *Bitmap) InkCount() int {
	n := 0
	for _, v := range b.ink {
		if v {
			n++
		}
	}
	return n
}

// Binarize converts grid to a bitmap of identical dimensions using algo.
func Binarize(grid PixelGrid, algo Algorithm) (*Bitmap, error) {
	if !grid.valid() {
		return nil, fmt.Errorf("%w: dimensions %dx%d", ErrInvalidGrid, grid.width, grid.height)
	}

	var ink []bool
	switch algo {
	case FloydSteinberg:
		ink, _ = floydSteinberg(grid)
	case MeanThreshold:
		ink = meanThreshold(grid)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, string(algo))
	}

	return &Bitmap{width: grid.width, height: grid.height, ink: ink}, nil
}

// meanThreshold marks every pixel at or below the grid's mean intensity.
// A uniform grid has no contrast to split on and is thresholded at the
// midpoint instead, so a blank page stays blank.
func meanThreshold(grid PixelGrid) []bool {
	var sum int
	uniform := true
	for _, p := range grid.pix {
		sum += int(p)
		if p != grid.pix[0] {
			uniform = false
		}
	}
	mean := float64(sum) / float64(len(grid.pix))
	if uniform {
		mean = midpoint
	}

	ink := make([]bool, len(grid.pix))
	for i, p := range grid.pix {
		ink[i] = float64(p) <= mean
	}
	return ink
}
