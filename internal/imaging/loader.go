package imaging

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"os"
	"sync"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"  // Register BMP format decoder
	_ "golang.org/x/image/tiff" // Register TIFF format decoder
)

// ErrSourceUnavailable is returned when a source raster cannot be opened or decoded.
var ErrSourceUnavailable = errors.New("source raster unavailable")

// Reader gives rectangle-level access to one decoded source raster.
//
// A Reader is owned by a single worker of a scene job. It is safe for concurrent
// use, but the scene inferencer never shares one between workers: the first worker
// opens the source and the others get a Reader from Share over the same pixels.
//
// # Example Usage
//
//	r, err := imaging.OpenReader("/data/scene.tif")
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
//	w, h := r.Dimensions()
//	patch, err := r.ReadPatch(imaging.Tile{X: 0, Y: 0, Width: 512, Height: 512})
type Reader struct {
	path string

	mu  sync.RWMutex
	img image.Image
}

// OpenReader opens and decodes the raster at path.
//
// Supported formats are PNG, JPEG, GIF, TIFF and BMP. Decoding happens once, up
// front, so later ReadPatch calls never touch the file again.
//
// # Errors
//
//   - ErrSourceUnavailable if the file does not exist or cannot be read
//   - ErrSourceUnavailable if the file is not a decodable raster
func OpenReader(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: image path does not exist: %s", ErrSourceUnavailable, path)
	}

	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode %s: %v", ErrSourceUnavailable, path, err)
	}

	return &Reader{path: path, img: img}, nil
}

// NewReader wraps an already decoded image. The path is used only in messages.
func NewReader(path string, img image.Image) *Reader {
	return &Reader{path: path, img: img}
}

// Share returns a new Reader over the same decoded pixels, without decoding again.
// The two readers are closed independently; neither ever writes the pixels.
func (r *Reader) Share() *Reader {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &Reader{path: r.path, img: r.img}
}

// Path returns the path the reader was opened from.
func (r *Reader) Path() string {
	return r.path
}

// Dimensions returns the raster width and height in pixels.
func (r *Reader) Dimensions() (width, height int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.img == nil {
		return 0, 0
	}
	b := r.img.Bounds()
	return b.Dx(), b.Dy()
}

// Tiles generates the tile grid for this raster. See GenerateTiles.
func (r *Reader) Tiles(patchSize, stride int) ([]Tile, error) {
	w, h := r.Dimensions()
	return GenerateTiles(w, h, patchSize, stride)
}

// ReadPatch reads the pixels under tile as an interleaved RGB patch.
//
// Tile coordinates are relative to the image origin, regardless of where the
// decoded image's bounds start.
func (r *Reader) ReadPatch(tile Tile) (*Patch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.img == nil {
		return nil, fmt.Errorf("%w: reader for %s is closed", ErrSourceUnavailable, r.path)
	}

	patch, err := cropPatch(r.img, tile)
	if err != nil {
		return nil, fmt.Errorf("error reading patch %v from %s: %w", tile, r.path, err)
	}
	return patch, nil
}

// Close releases the decoded raster. Further reads fail.
func (r *Reader) Close() error {
	r.mu.Lock()
	r.img = nil
	r.mu.Unlock()
	return nil
}
