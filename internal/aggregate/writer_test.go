package aggregate

import (
	"errors"
	"image"
	_ "image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ironsheep/scene-dispatcher/internal/imaging"
	"github.com/ironsheep/scene-dispatcher/internal/inference"
)

// newTestWriter returns an initialized writer whose output and scratch files live
// in a per-test directory.
func newTestWriter(t *testing.T, width, height, classes int, opts ...Option) (*Writer, string) {
	t.Helper()
	dir := t.TempDir()
	out := filepath.Join(dir, "labels.png")
	opts = append([]Option{WithScratchDir(dir)}, opts...)
	w := NewWriter(out, classes, opts...)
	if err := w.Init(width, height); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w, out
}

func uniformMask(tile imaging.Tile, class byte) *inference.Mask {
	pix := make([]byte, tile.Area())
	for i := range pix {
		pix[i] = class
	}
	return &inference.Mask{Width: tile.Width, Height: tile.Height, Pix: pix}
}

func assertLabel(t *testing.T, w *Writer, x, y int, want uint8) {
	t.Helper()
	got, err := w.LabelAt(x, y)
	if err != nil {
		t.Fatalf("LabelAt(%d,%d) failed: %v", x, y, err)
	}
	if got != want {
		t.Errorf("label at (%d,%d): got %d, want %d", x, y, got, want)
	}
}

func assertCounts(t *testing.T, w *Writer, x, y int, want ...int32) {
	t.Helper()
	got, err := w.CountsAt(x, y)
	if err != nil {
		t.Fatalf("CountsAt(%d,%d) failed: %v", x, y, err)
	}
	for c := range want {
		if got[c] != want[c] {
			t.Errorf("counts at (%d,%d): got %v, want %v", x, y, got, want)
			return
		}
	}
}

func TestSavePatch_UniformClass(t *testing.T) {
	w, _ := newTestWriter(t, 8, 8, 3)
	tile := imaging.Tile{X: 2, Y: 2, Width: 4, Height: 4}

	if err := w.SavePatch(tile, uniformMask(tile, 2)); err != nil {
		t.Fatalf("SavePatch failed: %v", err)
	}

	for y := 2; y < 6; y++ {
		for x := 2; x < 6; x++ {
			assertLabel(t, w, x, y, 2)
		}
	}
	assertCounts(t, w, 3, 3, 0, 0, 1)

	// Outside the tile nothing was voted.
	assertLabel(t, w, 0, 0, 0)
	assertCounts(t, w, 0, 0, 0, 0, 0)
}

func TestSavePatch_TieGoesToLowestClass(t *testing.T) {
	w, _ := newTestWriter(t, 4, 2, 3)
	left := imaging.Tile{X: 0, Y: 0, Width: 3, Height: 2}
	right := imaging.Tile{X: 1, Y: 0, Width: 3, Height: 2}

	if err := w.SavePatch(left, uniformMask(left, 2)); err != nil {
		t.Fatalf("SavePatch(left) failed: %v", err)
	}
	if err := w.SavePatch(right, uniformMask(right, 1)); err != nil {
		t.Fatalf("SavePatch(right) failed: %v", err)
	}

	// Columns 1 and 2 hold one vote for class 1 and one for class 2.
	assertCounts(t, w, 1, 0, 0, 1, 1)
	assertLabel(t, w, 1, 0, 1)
	assertLabel(t, w, 2, 1, 1)
	// Column 0 saw only the left tile, column 3 only the right one.
	assertLabel(t, w, 0, 0, 2)
	assertLabel(t, w, 3, 0, 1)
}

func TestSavePatch_AccumulateMajority(t *testing.T) {
	w, _ := newTestWriter(t, 4, 4, 3)
	tile := imaging.Tile{X: 0, Y: 0, Width: 4, Height: 4}

	for _, class := range []byte{2, 1, 2} {
		if err := w.SavePatch(tile, uniformMask(tile, class)); err != nil {
			t.Fatalf("SavePatch failed: %v", err)
		}
	}

	assertCounts(t, w, 0, 0, 0, 1, 2)
	assertLabel(t, w, 0, 0, 2)
}

func TestSavePatch_TileModeLastWriterWins(t *testing.T) {
	w, _ := newTestWriter(t, 4, 4, 3, WithVoteMode(VoteTile))
	tile := imaging.Tile{X: 0, Y: 0, Width: 4, Height: 4}

	for _, class := range []byte{2, 2, 1} {
		if err := w.SavePatch(tile, uniformMask(tile, class)); err != nil {
			t.Fatalf("SavePatch failed: %v", err)
		}
	}

	assertCounts(t, w, 0, 0, 0, 1, 0)
	assertLabel(t, w, 0, 0, 1)
}

func TestSavePatch_IgnoresOutOfRangeClasses(t *testing.T) {
	w, _ := newTestWriter(t, 2, 2, 3)
	tile := imaging.Tile{X: 0, Y: 0, Width: 2, Height: 2}
	mask := &inference.Mask{Width: 2, Height: 2, Pix: []byte{7, 1, 255, 2}}

	if err := w.SavePatch(tile, mask); err != nil {
		t.Fatalf("SavePatch failed: %v", err)
	}

	assertLabel(t, w, 0, 0, 0)
	assertCounts(t, w, 0, 0, 0, 0, 0)
	assertLabel(t, w, 1, 0, 1)
	assertLabel(t, w, 0, 1, 0)
	assertLabel(t, w, 1, 1, 2)
}

func TestSavePatch_NotInitialized(t *testing.T) {
	w := NewWriter(filepath.Join(t.TempDir(), "out.png"), 3)
	tile := imaging.Tile{Width: 2, Height: 2}

	err := w.SavePatch(tile, uniformMask(tile, 1))
	if !errors.Is(err, ErrNotInitialized) {
		t.Errorf("got %v, want ErrNotInitialized", err)
	}
	if _, err := w.LabelAt(0, 0); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("LabelAt: got %v, want ErrNotInitialized", err)
	}
}

func TestSavePatch_MaskMismatch(t *testing.T) {
	w, _ := newTestWriter(t, 4, 4, 3)
	tile := imaging.Tile{Width: 2, Height: 2}

	tests := []struct {
		name string
		mask *inference.Mask
	}{
		{"nil mask", nil},
		{"wrong width", &inference.Mask{Width: 1, Height: 2, Pix: []byte{0, 0}}},
		{"short pixels", &inference.Mask{Width: 2, Height: 2, Pix: []byte{0}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := w.SavePatch(tile, tt.mask); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSavePatch_Concurrent(t *testing.T) {
	w, _ := newTestWriter(t, 16, 16, 2)
	tiles := []imaging.Tile{
		{X: 0, Y: 0, Width: 10, Height: 10},
		{X: 6, Y: 0, Width: 10, Height: 10},
		{X: 0, Y: 6, Width: 10, Height: 10},
		{X: 6, Y: 6, Width: 10, Height: 10},
	}

	const rounds = 5
	var wg sync.WaitGroup
	for r := 0; r < rounds; r++ {
		for _, tile := range tiles {
			wg.Add(1)
			go func(tile imaging.Tile) {
				defer wg.Done()
				if err := w.SavePatch(tile, uniformMask(tile, 1)); err != nil {
					t.Errorf("SavePatch failed: %v", err)
				}
			}(tile)
		}
	}
	wg.Wait()

	// The centre is covered by all four tiles, every round.
	assertCounts(t, w, 8, 8, 0, 4*rounds)
	// A corner is covered by one tile only.
	assertCounts(t, w, 0, 0, 0, rounds)
}

func TestInit(t *testing.T) {
	t.Run("idempotent", func(t *testing.T) {
		w, _ := newTestWriter(t, 4, 4, 3)
		scratch := w.ScratchPath()
		if err := w.Init(100, 100); err != nil {
			t.Fatalf("second Init failed: %v", err)
		}
		if w.ScratchPath() != scratch {
			t.Error("second Init created a new count raster")
		}
	})

	t.Run("invalid dimensions", func(t *testing.T) {
		w := NewWriter(filepath.Join(t.TempDir(), "out.png"), 3)
		if err := w.Init(0, 10); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("unsupported output format", func(t *testing.T) {
		w := NewWriter(filepath.Join(t.TempDir(), "out.jpg"), 3)
		if err := w.Init(4, 4); err == nil {
			t.Error("expected error for JPEG output")
		}
		if err := w.Close(); err != nil {
			t.Errorf("Close after failed Init: %v", err)
		}
	})

	t.Run("unwritable output", func(t *testing.T) {
		w := NewWriter(filepath.Join(t.TempDir(), "missing", "out.png"), 3)
		if err := w.Init(4, 4); err == nil {
			t.Error("expected error for missing output directory")
		}
	})
}

func TestClose_WritesLabelsAndRemovesScratch(t *testing.T) {
	w, out := newTestWriter(t, 4, 4, 3)
	tile := imaging.Tile{X: 0, Y: 0, Width: 2, Height: 2}
	if err := w.SavePatch(tile, uniformMask(tile, 2)); err != nil {
		t.Fatalf("SavePatch failed: %v", err)
	}
	scratch := w.ScratchPath()

	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	if _, err := os.Stat(scratch); !os.IsNotExist(err) {
		t.Errorf("scratch file still present: %v", err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("failed to open output: %v", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		t.Fatalf("failed to decode output: %v", err)
	}

	gray := func(x, y int) uint8 {
		r, _, _, _ := img.At(x, y).RGBA()
		return uint8(r >> 8)
	}
	if got, want := gray(1, 1), imaging.GrayLevel(2, 3); got != want {
		t.Errorf("gray at labelled pixel: got %d, want %d", got, want)
	}
	if got := gray(3, 3); got != 0 {
		t.Errorf("gray at unlabelled pixel: got %d, want 0", got)
	}
}

func TestParseVoteMode(t *testing.T) {
	tests := []struct {
		in      string
		want    VoteMode
		wantErr bool
	}{
		{"", VoteAccumulate, false},
		{"accumulate", VoteAccumulate, false},
		{"tile", VoteTile, false},
		{"majority", "", true},
	}

	for _, tt := range tests {
		got, err := ParseVoteMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseVoteMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseVoteMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
