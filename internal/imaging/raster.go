package imaging

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

// CountFilePrefix prefixes the file name of every scratch count raster.
const CountFilePrefix = ".countmap_"

// LabelRaster is a single-band class label raster with a gray display palette.
//
// The raster is kept in memory as an *image.Paletted and encoded to its path by
// Save. The file format follows the path extension: ".png", ".tif" or ".tiff".
// LabelRaster does no locking; the aggregate writer serializes access.
type LabelRaster struct {
	path string
	img  *image.Paletted
}

// CreateLabelRaster creates a width x height label raster for numClasses classes
// and writes it to path once so that an unwritable destination fails immediately.
func CreateLabelRaster(path string, width, height, numClasses int) (*LabelRaster, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid label raster dimensions %dx%d", width, height)
	}
	format, err := imaging.FormatFromFilename(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create label raster %s: %w", path, err)
	}
	if format != imaging.PNG && format != imaging.TIFF {
		return nil, fmt.Errorf("failed to create label raster %s: format %s cannot hold a paletted label band", path, format)
	}

	l := &LabelRaster{
		path: path,
		img:  image.NewPaletted(image.Rect(0, 0, width, height), GrayPalette(numClasses)),
	}
	if err := l.Save(); err != nil {
		return nil, err
	}
	return l, nil
}

// Path returns the destination file of the raster.
func (l *LabelRaster) Path() string {
	return l.path
}

// Bounds returns the raster bounds, always anchored at (0,0).
func (l *LabelRaster) Bounds() image.Rectangle {
	return l.img.Bounds()
}

// SetRect overwrites the labels under rect. labels is row-major with
// rect.Dx()*rect.Dy() entries.
func (l *LabelRaster) SetRect(rect image.Rectangle, labels []byte) error {
	if !rect.In(l.img.Bounds()) {
		return fmt.Errorf("label rect %v outside raster bounds %v", rect, l.img.Bounds())
	}
	w := rect.Dx()
	if len(labels) != w*rect.Dy() {
		return fmt.Errorf("label buffer has %d entries, want %d", len(labels), w*rect.Dy())
	}
	for row := 0; row < rect.Dy(); row++ {
		off := l.img.PixOffset(rect.Min.X, rect.Min.Y+row)
		copy(l.img.Pix[off:off+w], labels[row*w:(row+1)*w])
	}
	return nil
}

// LabelAt returns the class label stored at (x, y).
func (l *LabelRaster) LabelAt(x, y int) uint8 {
	return l.img.ColorIndexAt(x, y)
}

// Save encodes the raster to its path, replacing any previous content.
func (l *LabelRaster) Save() error {
	if err := imaging.Save(l.img, l.path); err != nil {
		return fmt.Errorf("failed to write label raster %s: %w", l.path, err)
	}
	return nil
}

// CountRaster is a scratch multi-band raster of int32 vote counts, one band per
// class, backed by a temporary file.
//
// The file is band-sequential, little-endian: cell (band, x, y) lives at byte
// offset 4*((band*height+y)*width+x). A new raster reads as all zeros.
// CountRaster does no locking; the aggregate writer serializes access.
type CountRaster struct {
	path   string
	f      *os.File
	width  int
	height int
	bands  int
}

// CreateCountRaster creates a zeroed count raster under dir with a unique name.
// An empty dir means os.TempDir().
func CreateCountRaster(dir string, width, height, bands int) (*CountRaster, error) {
	if width <= 0 || height <= 0 || bands <= 0 {
		return nil, fmt.Errorf("invalid count raster shape %dx%dx%d", width, height, bands)
	}
	if dir == "" {
		dir = os.TempDir()
	}

	path := filepath.Join(dir, CountFilePrefix+uuid.NewString()+".bin")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create count raster: %w", err)
	}
	if err := f.Truncate(int64(width) * int64(height) * int64(bands) * 4); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to size count raster %s: %w", path, err)
	}

	return &CountRaster{path: path, f: f, width: width, height: height, bands: bands}, nil
}

// Path returns the scratch file path.
func (c *CountRaster) Path() string {
	return c.path
}

// Bands returns the number of class bands.
func (c *CountRaster) Bands() int {
	return c.bands
}

func (c *CountRaster) check(band int, rect image.Rectangle, n int) error {
	if c.f == nil {
		return errors.New("count raster is closed")
	}
	if band < 0 || band >= c.bands {
		return fmt.Errorf("band %d out of range [0,%d)", band, c.bands)
	}
	if !rect.In(image.Rect(0, 0, c.width, c.height)) {
		return fmt.Errorf("count rect %v outside raster %dx%d", rect, c.width, c.height)
	}
	if n != rect.Dx()*rect.Dy() {
		return fmt.Errorf("count buffer has %d entries, want %d", n, rect.Dx()*rect.Dy())
	}
	return nil
}

func (c *CountRaster) offset(band, x, y int) int64 {
	return 4 * ((int64(band)*int64(c.height)+int64(y))*int64(c.width) + int64(x))
}

// ReadRect reads the counts of band under rect into dst (row-major).
func (c *CountRaster) ReadRect(band int, rect image.Rectangle, dst []int32) error {
	if err := c.check(band, rect, len(dst)); err != nil {
		return err
	}
	w := rect.Dx()
	buf := make([]byte, 4*w)
	for row := 0; row < rect.Dy(); row++ {
		if _, err := c.f.ReadAt(buf, c.offset(band, rect.Min.X, rect.Min.Y+row)); err != nil {
			return fmt.Errorf("failed to read count band %d: %w", band, err)
		}
		for i := range w {
			dst[row*w+i] = int32(binary.LittleEndian.Uint32(buf[4*i:]))
		}
	}
	return nil
}

// WriteRect writes src (row-major) into band under rect.
func (c *CountRaster) WriteRect(band int, rect image.Rectangle, src []int32) error {
	if err := c.check(band, rect, len(src)); err != nil {
		return err
	}
	w := rect.Dx()
	buf := make([]byte, 4*w)
	for row := 0; row < rect.Dy(); row++ {
		for i := range w {
			binary.LittleEndian.PutUint32(buf[4*i:], uint32(src[row*w+i]))
		}
		if _, err := c.f.WriteAt(buf, c.offset(band, rect.Min.X, rect.Min.Y+row)); err != nil {
			return fmt.Errorf("failed to write count band %d: %w", band, err)
		}
	}
	return nil
}

// Remove closes and deletes the scratch file. It is safe to call more than once.
func (c *CountRaster) Remove() error {
	if c.f == nil {
		return nil
	}
	closeErr := c.f.Close()
	c.f = nil
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove count raster %s: %w", c.path, err)
	}
	return closeErr
}
