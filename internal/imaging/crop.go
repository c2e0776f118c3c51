package imaging

import (
	"fmt"
	"image"

	"github.com/anthonynsimon/bild/clone"
)

// Channels is the number of interleaved channels in a Patch.
const Channels = 3

// Patch holds the pixels of one tile as 8-bit interleaved RGB, row-major.
//
// len(Pix) == Channels * Tile.Width * Tile.Height. A patch is owned by the task
// that read it and is dropped once inference and write-back for its tile finish.
type Patch struct {
	Tile Tile
	Pix  []byte
}

// Empty reports whether the patch carries no pixels.
func (p *Patch) Empty() bool {
	return p == nil || len(p.Pix) == 0 || p.Tile.Width <= 0 || p.Tile.Height <= 0
}

// Image returns the patch as an RGBA image with opaque alpha, mainly for debugging
// and tests.
func (p *Patch) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, p.Tile.Width, p.Tile.Height))
	for i, j := 0, 0; i+2 < len(p.Pix); i, j = i+Channels, j+4 {
		img.Pix[j] = p.Pix[i]
		img.Pix[j+1] = p.Pix[i+1]
		img.Pix[j+2] = p.Pix[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// cropPatch extracts tile from img and packs it as interleaved RGB.
func cropPatch(img image.Image, tile Tile) (*Patch, error) {
	bounds := img.Bounds()
	rect := tile.Rect().Add(bounds.Min)

	if tile.Width <= 0 || tile.Height <= 0 {
		return nil, fmt.Errorf("invalid tile size %dx%d", tile.Width, tile.Height)
	}
	if !rect.In(bounds) {
		return nil, fmt.Errorf("tile %v outside image bounds (%d,%d)-(%d,%d)",
			tile, bounds.Min.X, bounds.Min.Y, bounds.Max.X, bounds.Max.Y)
	}

	src := img
	if sub, ok := img.(interface {
		SubImage(r image.Rectangle) image.Image
	}); ok {
		src = sub.SubImage(rect)
	}

	// Normalize whatever the decoder produced (gray, paletted, 16-bit, YCbCr...) to
	// 8-bit RGBA. For *image.RGBA sources this is a shallow view, not a copy.
	rgba := clone.AsShallowRGBA(src)
	shift := rgba.Bounds().Min.Sub(src.Bounds().Min)

	pix := make([]byte, 0, Channels*tile.Width*tile.Height)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		off := rgba.PixOffset(rect.Min.X+shift.X, y+shift.Y)
		row := rgba.Pix[off : off+4*tile.Width]
		for x := 0; x < len(row); x += 4 {
			pix = append(pix, row[x], row[x+1], row[x+2])
		}
	}

	return &Patch{Tile: tile, Pix: pix}, nil
}
