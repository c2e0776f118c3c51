package imaging

import (
	"errors"
	"fmt"
	"image"
)

// ErrInvalidGeometry is returned when a tile grid cannot be laid over an image,
// typically because the patch size exceeds one of the image dimensions.
var ErrInvalidGeometry = errors.New("invalid tile geometry")

// Tile is a square window of the source image, in source pixel coordinates.
//
// Tiles produced by GenerateTiles always lie fully inside the image:
// X+Width <= image width and Y+Height <= image height.
type Tile struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect returns the tile as an image.Rectangle (Min inclusive, Max exclusive).
func (t Tile) Rect() image.Rectangle {
	return image.Rect(t.X, t.Y, t.X+t.Width, t.Y+t.Height)
}

// Area returns the number of pixels covered by the tile.
func (t Tile) Area() int {
	return t.Width * t.Height
}

func (t Tile) String() string {
	return fmt.Sprintf("[x=%d y=%d w=%d h=%d]", t.X, t.Y, t.Width, t.Height)
}

// GenerateTiles lays a grid of patchSize x patchSize tiles over a width x height
// image, stepping the tile origin by stride in both directions.
//
// Tiles are returned in raster-scan order (row by row, left to right). That order
// is the dispatch order used by the scene inferencer, so callers must not reorder it.
//
// # Edge Clamping
//
// When a step would push a tile past the right or bottom edge, the tile origin is
// pulled back to width-patchSize (or height-patchSize) instead of shrinking the
// tile. Every tile therefore has the full patch size, the last tile of every row
// ends exactly at the right edge and the last row ends exactly at the bottom edge.
// Clamping can produce the same rectangle more than once; duplicates are kept.
//
// # Errors
//
//   - ErrInvalidGeometry if patchSize or stride is not positive
//   - ErrInvalidGeometry if patchSize is larger than width or height
func GenerateTiles(width, height, patchSize, stride int) ([]Tile, error) {
	if patchSize <= 0 || stride <= 0 {
		return nil, fmt.Errorf("%w: patch size %d and stride %d must be positive",
			ErrInvalidGeometry, patchSize, stride)
	}
	if width < patchSize || height < patchSize {
		return nil, fmt.Errorf("%w: patch size %d exceeds image dimensions %dx%d",
			ErrInvalidGeometry, patchSize, width, height)
	}

	cols := (width + stride - 1) / stride
	rows := (height + stride - 1) / stride
	tiles := make([]Tile, 0, rows*cols)

	for y := 0; y < height; y += stride {
		for x := 0; x < width; x += stride {
			tiles = append(tiles, Tile{
				X:      min(x, width-patchSize),
				Y:      min(y, height-patchSize),
				Width:  patchSize,
				Height: patchSize,
			})
		}
	}

	return tiles, nil
}
