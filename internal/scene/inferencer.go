package scene

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ironsheep/scene-dispatcher/internal/aggregate"
	"github.com/ironsheep/scene-dispatcher/internal/imaging"
	"github.com/ironsheep/scene-dispatcher/internal/inference"
	"github.com/ironsheep/scene-dispatcher/internal/logging"
	"github.com/ironsheep/scene-dispatcher/internal/pool"
)

// TileReader gives one worker access to the source raster.
type TileReader interface {
	Dimensions() (width, height int)
	Tiles(patchSize, stride int) ([]imaging.Tile, error)
	ReadPatch(tile imaging.Tile) (*imaging.Patch, error)
	Close() error
}

// Segmenter turns one patch into a class mask.
type Segmenter interface {
	Infer(ctx context.Context, patch *imaging.Patch) (*inference.Mask, error)
	Close() error
}

// ReaderFactory opens a TileReader on the image at path.
type ReaderFactory func(path string) (TileReader, error)

// SegmenterFactory creates a Segmenter bound to cfg.
type SegmenterFactory func(cfg inference.Config) (Segmenter, error)

// Config holds the tiling and model parameters of a scene job.
type Config struct {
	PatchSize     int
	Stride        int
	ScalingFactor int
	NumClasses    int
	VoteMode      aggregate.VoteMode
	// ScratchDir holds the vote count raster; empty means os.TempDir().
	ScratchDir string
	Inference  inference.Config
}

// Stats summarizes one completed or failed run.
type Stats struct {
	Width    int
	Height   int
	Tiles    int
	Workers  int
	Duration time.Duration
}

// Option configures an Inferencer.
type Option func(*Inferencer)

// WithReaderFactory replaces imaging.OpenReader as the source of tile readers.
func WithReaderFactory(f ReaderFactory) Option {
	return func(inf *Inferencer) { inf.openReader = f }
}

// WithSegmenterFactory replaces inference.NewClient as the source of segmenters.
func WithSegmenterFactory(f SegmenterFactory) Option {
	return func(inf *Inferencer) { inf.newSegmenter = f }
}

// WithHardwareThreads caps the worker count at n instead of runtime.NumCPU().
func WithHardwareThreads(n int) Option {
	return func(inf *Inferencer) { inf.hardwareThreads = n }
}

// Inferencer runs segmentation over whole scenes.
//
// Each Run cuts the source into overlapping tiles, spreads them round-robin over a
// set of workers and merges the masks into one label raster. Every worker gets its
// own reader and segmenter. The source is decoded once and the readers share its
// pixels; the output writer is shared too. An Inferencer holds no per-job state, so
// concurrent Runs are independent.
type Inferencer struct {
	cfg             Config
	openReader      ReaderFactory
	newSegmenter    SegmenterFactory
	hardwareThreads int
}

// NewInferencer creates an inferencer for cfg.
func NewInferencer(cfg Config, opts ...Option) *Inferencer {
	inf := &Inferencer{
		cfg:             cfg,
		openReader:      openImageReader,
		newSegmenter:    newInferenceClient,
		hardwareThreads: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(inf)
	}
	return inf
}

// SharedReader is a TileReader that can hand out further readers over the pixels
// it already holds. Workers after the first get their reader from Share instead
// of opening the source again.
type SharedReader interface {
	TileReader
	Share() TileReader
}

// imageReader adapts *imaging.Reader to SharedReader.
type imageReader struct {
	*imaging.Reader
}

func (r imageReader) Share() TileReader {
	return imageReader{r.Reader.Share()}
}

func openImageReader(path string) (TileReader, error) {
	r, err := imaging.OpenReader(path)
	if err != nil {
		return nil, err
	}
	return imageReader{r}, nil
}

func newInferenceClient(cfg inference.Config) (Segmenter, error) {
	c, err := inference.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// WorkerCount returns the number of workers used for a job of the given tile count:
// floor(sqrt(tiles) / scalingFactor), capped at hardwareThreads and never below 1.
func WorkerCount(tiles, scalingFactor, hardwareThreads int) int {
	if scalingFactor < 1 {
		scalingFactor = 1
	}
	n := int(math.Sqrt(float64(tiles)) / float64(scalingFactor))
	if hardwareThreads > 0 && n > hardwareThreads {
		n = hardwareThreads
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Run segments the image at imagePath and writes the label raster to outputPath.
func (inf *Inferencer) Run(ctx context.Context, imagePath, outputPath string) error {
	_, err := inf.RunWithStats(ctx, imagePath, outputPath)
	return err
}

// RunWithStats is Run, additionally reporting what the job did.
//
// Every tile task is submitted before any is awaited, and every future is awaited
// even after a failure; in-flight tiles are never cancelled. The first failing tile
// in submission order determines the returned error. Workers, readers, segmenters
// and the scratch count raster are released on every path.
func (inf *Inferencer) RunWithStats(ctx context.Context, imagePath, outputPath string) (stats Stats, err error) {
	start := time.Now()

	writer := aggregate.NewWriter(outputPath, inf.cfg.NumClasses,
		aggregate.WithVoteMode(inf.cfg.VoteMode),
		aggregate.WithScratchDir(inf.cfg.ScratchDir))

	res := &resources{}
	defer func() {
		res.release()
		if cerr := writer.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		stats.Duration = time.Since(start)
		if err == nil {
			logging.Infof("Scene %s done: %s tiles, %s pixels, %d workers in %s",
				imagePath, humanize.Comma(int64(stats.Tiles)),
				humanize.Comma(int64(stats.Width)*int64(stats.Height)), stats.Workers,
				stats.Duration.Round(time.Millisecond))
		}
	}()

	if err := inf.addResources(res, imagePath); err != nil {
		return stats, err
	}

	stats.Width, stats.Height = res.readers[0].Dimensions()
	tiles, err := res.readers[0].Tiles(inf.cfg.PatchSize, inf.cfg.Stride)
	if err != nil {
		return stats, err
	}
	stats.Tiles = len(tiles)

	if err := writer.Init(stats.Width, stats.Height); err != nil {
		return stats, err
	}

	n := WorkerCount(len(tiles), inf.cfg.ScalingFactor, inf.hardwareThreads)
	logging.Debugf("Total number of patches: %d", len(tiles))
	logging.Debugf("Image dimensions: %d x %d", stats.Width, stats.Height)
	logging.Debugf("Number of workers: %d", n)

	for len(res.workers) < n {
		if err := inf.addResources(res, imagePath); err != nil {
			return stats, err
		}
	}
	stats.Workers = n

	futures := make([]*pool.Future, len(tiles))
	var firstErr error
	for i, tile := range tiles {
		id := i % n
		reader, seg := res.readers[id], res.segmenters[id]

		f, serr := res.workers[id].Submit(func() error {
			logging.Debugf("Worker %d processing patch at %v", id, tile)
			patch, err := reader.ReadPatch(tile)
			if err != nil {
				return err
			}
			mask, err := seg.Infer(ctx, patch)
			if err != nil {
				return err
			}
			return writer.SavePatch(tile, mask)
		})
		if serr != nil {
			firstErr = fmt.Errorf("tile %d %v: %w", i, tile, serr)
			break
		}
		futures[i] = f
	}

	for i, f := range futures {
		if f == nil {
			continue
		}
		ferr := f.Wait()
		if ferr == nil {
			continue
		}
		if firstErr == nil {
			firstErr = fmt.Errorf("tile %d %v: %w", i, tiles[i], ferr)
			continue
		}
		logging.Warningf("Tile %d %v also failed: %v", i, tiles[i], ferr)
	}

	return stats, firstErr
}

// addResources adds one more reader/segmenter/worker triple. The first reader
// opens the source; later ones share its pixels when it is a SharedReader.
func (inf *Inferencer) addResources(res *resources, imagePath string) error {
	var reader TileReader
	if len(res.readers) > 0 {
		if shared, ok := res.readers[0].(SharedReader); ok {
			reader = shared.Share()
		}
	}
	if reader == nil {
		r, err := inf.openReader(imagePath)
		if err != nil {
			if !errors.Is(err, imaging.ErrSourceUnavailable) {
				err = fmt.Errorf("%w: %v", imaging.ErrSourceUnavailable, err)
			}
			return err
		}
		reader = r
	}

	seg, err := inf.newSegmenter(inf.cfg.Inference)
	if err != nil {
		reader.Close()
		return fmt.Errorf("failed to create inference client: %w", err)
	}

	res.readers = append(res.readers, reader)
	res.segmenters = append(res.segmenters, seg)
	res.workers = append(res.workers, pool.NewWorker())
	return nil
}

// resources holds the per-worker triples of one job. Index i of every slice
// belongs to worker i.
type resources struct {
	workers    []*pool.Worker
	readers    []TileReader
	segmenters []Segmenter
}

func (r *resources) release() {
	for _, w := range r.workers {
		w.Close()
	}
	for i, reader := range r.readers {
		if err := reader.Close(); err != nil {
			logging.Warningf("Failed to close reader %d: %v", i, err)
		}
	}
	for i, seg := range r.segmenters {
		if err := seg.Close(); err != nil {
			logging.Warningf("Failed to close inference client %d: %v", i, err)
		}
	}
}
