package aggregate

import (
	"errors"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/ironsheep/scene-dispatcher/internal/imaging"
	"github.com/ironsheep/scene-dispatcher/internal/inference"
	"github.com/ironsheep/scene-dispatcher/internal/logging"
)

// ErrNotInitialized is returned by SavePatch before Init has succeeded.
var ErrNotInitialized = errors.New("writer is not initialized")

// VoteMode selects how overlapping tiles are reconciled.
type VoteMode string

const (
	// VoteAccumulate adds each tile's votes to the counts already stored for its
	// rectangle and labels every pixel with the class holding the most votes
	// across all tiles seen so far.
	VoteAccumulate VoteMode = "accumulate"

	// VoteTile labels every pixel from the tile's own votes and overwrites the
	// rectangle, so across overlapping tiles the last write wins.
	VoteTile VoteMode = "tile"
)

// ParseVoteMode validates a vote mode name. An empty name means VoteAccumulate.
func ParseVoteMode(s string) (VoteMode, error) {
	switch VoteMode(s) {
	case "", VoteAccumulate:
		return VoteAccumulate, nil
	case VoteTile:
		return VoteTile, nil
	default:
		return "", fmt.Errorf("unknown vote mode %q (want %q or %q)", s, VoteAccumulate, VoteTile)
	}
}

// Option configures a Writer.
type Option func(*Writer)

// WithVoteMode sets the overlap resolution mode.
func WithVoteMode(mode VoteMode) Option {
	return func(w *Writer) { w.mode = mode }
}

// WithScratchDir places the vote count raster in dir instead of os.TempDir().
func WithScratchDir(dir string) Option {
	return func(w *Writer) { w.scratchDir = dir }
}

// Writer merges per-tile class masks into one label raster.
//
// Every tile contributes one vote per pixel for the class it predicted. Votes are
// kept in a scratch count raster (one int32 band per class) and each pixel is
// labelled with the class holding the most votes; ties go to the lowest class
// index. Predictions >= the number of classes are ignored.
//
// All raster mutation happens under one mutex, so SavePatch may be called from
// any number of workers. Writes are atomic per tile but not ordered by tile.
type Writer struct {
	outputPath string
	numClasses int
	mode       VoteMode
	scratchDir string

	mu          sync.Mutex
	initialized bool
	width       int
	height      int
	labels      *imaging.LabelRaster
	counts      *imaging.CountRaster
}

// NewWriter creates a writer for outputPath. Nothing is created on disk until Init.
func NewWriter(outputPath string, numClasses int, opts ...Option) *Writer {
	w := &Writer{
		outputPath: outputPath,
		numClasses: numClasses,
		mode:       VoteAccumulate,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Init creates the label raster at the output path and the scratch count raster.
//
// Init is idempotent: once it has succeeded, later calls return nil without
// touching anything, so racing first callers collapse onto one initializer.
func (w *Writer) Init(width, height int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.initialized {
		return nil
	}

	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid image dimensions %dx%d for writer", width, height)
	}
	if w.numClasses < 1 || w.numClasses > 256 {
		return fmt.Errorf("invalid number of classes %d (want 1..256)", w.numClasses)
	}

	labels, err := imaging.CreateLabelRaster(w.outputPath, width, height, w.numClasses)
	if err != nil {
		return err
	}
	counts, err := imaging.CreateCountRaster(w.scratchDir, width, height, w.numClasses)
	if err != nil {
		return err
	}

	w.width, w.height = width, height
	w.labels, w.counts = labels, counts
	w.initialized = true
	logging.Debugf("Writer initialized: %s (%dx%d, %d classes, scratch %s)",
		w.outputPath, width, height, w.numClasses, counts.Path())
	return nil
}

// SavePatch records the votes of mask for tile and rewrites the tile's labels.
func (w *Writer) SavePatch(tile imaging.Tile, mask *inference.Mask) error {
	w.mu.Lock()
	initialized := w.initialized
	w.mu.Unlock()
	if !initialized {
		return ErrNotInitialized
	}

	if mask == nil || mask.Width != tile.Width || mask.Height != tile.Height || len(mask.Pix) != tile.Area() {
		return fmt.Errorf("mask does not match tile %v", tile)
	}

	tally := newTally(tile.Area(), w.numClasses)
	tally.add(mask.Pix)

	if w.mode == VoteTile {
		// Only persistence is serialized in this mode.
		labels := tally.resolve()
		bands := tally.bands()

		w.mu.Lock()
		defer w.mu.Unlock()
		return w.persist(tile, labels, bands)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.counts == nil {
		return ErrNotInitialized
	}

	rect := tile.Rect()
	prior := make([]int32, tile.Area())
	for c := 0; c < w.numClasses; c++ {
		if err := w.counts.ReadRect(c, rect, prior); err != nil {
			return err
		}
		tally.addBand(c, prior)
	}
	return w.persist(tile, tally.resolve(), tally.bands())
}

// persist writes counts and labels for tile. Callers hold w.mu.
func (w *Writer) persist(tile imaging.Tile, labels []byte, bands [][]int32) error {
	if w.counts == nil || w.labels == nil {
		return ErrNotInitialized
	}
	rect := tile.Rect()
	for c, band := range bands {
		if err := w.counts.WriteRect(c, rect, band); err != nil {
			return err
		}
	}
	return w.labels.SetRect(rect, labels)
}

// LabelAt returns the current label of pixel (x, y). Intended for inspection
// and tests.
func (w *Writer) LabelAt(x, y int) (uint8, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.initialized || w.labels == nil {
		return 0, ErrNotInitialized
	}
	return w.labels.LabelAt(x, y), nil
}

// CountsAt returns the stored vote counts of pixel (x, y), one per class.
func (w *Writer) CountsAt(x, y int) ([]int32, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.initialized || w.counts == nil {
		return nil, ErrNotInitialized
	}
	counts := make([]int32, w.numClasses)
	for c := range counts {
		cell := make([]int32, 1)
		if err := w.counts.ReadRect(c, imaging.Tile{X: x, Y: y, Width: 1, Height: 1}.Rect(), cell); err != nil {
			return nil, err
		}
		counts[c] = cell[0]
	}
	return counts, nil
}

// ScratchPath returns the vote count raster's file, or "" before Init.
func (w *Writer) ScratchPath() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.counts == nil {
		return ""
	}
	return w.counts.Path()
}

// Close encodes the label raster to the output path and removes the scratch
// count raster. It is safe to call more than once and on a writer whose Init
// failed or never ran.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error
	if w.labels != nil {
		if err := w.labels.Save(); err != nil {
			errs = append(errs, err)
		}
		w.labels = nil
	}
	if w.counts != nil {
		if err := w.counts.Remove(); err != nil {
			errs = append(errs, err)
		}
		w.counts = nil
	}
	w.initialized = false
	return errors.Join(errs...)
}

// tally holds per-pixel vote counts for one tile, pixel-major: the counts of
// pixel i are votes[i*classes : (i+1)*classes].
type tally struct {
	pixels  int
	classes int
	votes   []float64
}

func newTally(pixels, classes int) *tally {
	return &tally{pixels: pixels, classes: classes, votes: make([]float64, pixels*classes)}
}

// add counts one vote per pixel for its predicted class. Labels outside
// [0, classes) are ignored.
func (t *tally) add(labels []byte) {
	for i, label := range labels {
		if int(label) < t.classes {
			t.votes[i*t.classes+int(label)]++
		}
	}
}

// addBand adds stored counts of one class, row-major per pixel.
func (t *tally) addBand(class int, counts []int32) {
	for i, n := range counts {
		t.votes[i*t.classes+class] += float64(n)
	}
}

// resolve labels each pixel with its arg-max class. floats.MaxIdx returns the
// first maximum, so ties resolve to the lowest class index, and a pixel without
// any valid vote resolves to class 0.
func (t *tally) resolve() []byte {
	labels := make([]byte, t.pixels)
	for i := range labels {
		labels[i] = byte(floats.MaxIdx(t.votes[i*t.classes : (i+1)*t.classes]))
	}
	return labels
}

// bands splits the tally into one row-major count band per class.
func (t *tally) bands() [][]int32 {
	bands := make([][]int32, t.classes)
	for c := range bands {
		band := make([]int32, t.pixels)
		for i := range band {
			band[i] = int32(t.votes[i*t.classes+c])
		}
		bands[c] = band
	}
	return bands
}
