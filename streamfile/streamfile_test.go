package streamfile

import (
	"bytes"
	"errors"
	"flag"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/image/math/f64"
	"mpsg.org/depthmap"
	"mpsg.org/internal/golden"
	"mpsg.org/pointscan"
	"mpsg.org/setup"
	"mpsg.org/stream"
)

var (
	update  = flag.Bool("update", false, "update golden files")
	dumpDir = flag.String("dump", "", "dump beam paths to directory")
)

func newSetup(t *testing.T) *setup.Setup {
	t.Helper()
	s, err := setup.New(7.5e-6, 9.4, 0.1, 3500)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func generate(t *testing.T, m depthmap.Map, sc pointscan.Scanner, thickness float64) *Streamfile {
	t.Helper()
	st, err := stream.Generate(newSetup(t), sc, m, stream.Options{LayerThickness: thickness})
	if err != nil {
		t.Fatal(err)
	}
	f, err := New(st)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func beam(records []Record) []image.Point {
	path := make([]image.Point, len(records))
	for i, r := range records {
		path[i] = image.Pt(r.X, r.Y)
	}
	return path
}

func TestGolden(t *testing.T) {
	s := newSetup(t)
	hole, err := depthmap.Circle(0.15, 1, f64.Vec2{})
	if err != nil {
		t.Fatal(err)
	}
	squares, err := pointscan.ConcentricSquares(s, 0.2, 0.2, f64.Vec2{}, true)
	if err != nil {
		t.Fatal(err)
	}
	f := generate(t, hole, squares, 0)
	buf := new(bytes.Buffer)
	if err := f.Encode(buf); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join("testdata", "squares.str")
	if err := golden.Compare(path, *update, *dumpDir, buf.Bytes(), beam(f.Records())); err != nil {
		t.Error(err)
	}
}

func TestCircleSpiral(t *testing.T) {
	s := newSetup(t)
	circle, err := depthmap.Circle(5, 1, f64.Vec2{})
	if err != nil {
		t.Fatal(err)
	}
	spiral, err := pointscan.Spiral(s, circle.Radius(), true)
	if err != nil {
		t.Fatal(err)
	}
	f := generate(t, circle, spiral, 0)
	npoints := 0
	for range spiral.Points() {
		npoints++
	}
	path := filepath.Join(t.TempDir(), "instructions_circle.str")
	if err := f.Write(path); err != nil {
		t.Fatal(err)
	}
	file, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()
	records, err := DecodeFEI(file)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != npoints {
		t.Fatalf("%d records, want %d", len(records), npoints)
	}
	wantTicks := uint32(1418)
	i := 0
	for p := range spiral.Points() {
		x, y, _ := s.FieldAddress(p)
		r := records[i]
		if r.X != x || r.Y != y {
			t.Fatalf("record %d at (%d,%d), want (%d,%d)", i, r.X, r.Y, x, y)
		}
		if r.Dwell != wantTicks {
			t.Fatalf("record %d dwells %d ticks, want %d", i, r.Dwell, wantTicks)
		}
		i++
	}
}

func TestDeterministic(t *testing.T) {
	s := newSetup(t)
	dome, err := depthmap.FullRecessedDome(0.1, 2, 2, 0.5, 1)
	if err != nil {
		t.Fatal(err)
	}
	spiral, err := pointscan.Spiral(s, dome.Radius(), true)
	if err != nil {
		t.Fatal(err)
	}
	for _, format := range []Format{FEI, CBOR} {
		dir := t.TempDir()
		var files [][]byte
		for i := range 2 {
			f := generate(t, dome, spiral, 0.075)
			f.Format = format
			path := filepath.Join(dir, "sil"+format.Ext())
			if i == 1 {
				path = filepath.Join(dir, "sil-2"+format.Ext())
			}
			if err := f.Write(path); err != nil {
				t.Fatal(err)
			}
			b, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			files = append(files, b)
		}
		if !bytes.Equal(files[0], files[1]) {
			t.Errorf("%v: identical streams wrote different files", format)
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 2 {
			t.Errorf("%v: %d files in output directory, want 2", format, len(entries))
		}
	}
}

func TestCBOR(t *testing.T) {
	s := newSetup(t)
	m, err := depthmap.FullRecessedDome(0.1, 1, 0.5, 0.2, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	squares, err := pointscan.ConcentricSquares(s, 4, 4, f64.Vec2{}, false)
	if err != nil {
		t.Fatal(err)
	}
	f := generate(t, m, squares, 0.2)
	f.Format = CBOR
	buf := new(bytes.Buffer)
	if err := f.Encode(buf); err != nil {
		t.Fatal(err)
	}
	h, records, err := DecodeCBOR(buf)
	if err != nil {
		t.Fatal(err)
	}
	if h != f.Header() {
		t.Errorf("decoded header %+v, want %+v", h, f.Header())
	}
	if h.Layers != 3 {
		t.Errorf("%d layers, want 3", h.Layers)
	}
	if h.Machine.BeamCurrent != 9.4 || h.Machine.Zoom != 3500 {
		t.Errorf("machine header %+v", h.Machine)
	}
	want := f.Records()
	if len(records) != len(want) {
		t.Fatalf("%d records, want %d", len(records), len(want))
	}
	for i := range want {
		if records[i] != want[i] {
			t.Fatalf("record %d: %+v, want %+v", i, records[i], want[i])
		}
	}
	layer := 0
	for _, r := range records {
		if r.Layer < layer {
			t.Fatalf("layer %d record after layer %d", r.Layer, layer)
		}
		layer = r.Layer
	}
}

type countingWriter struct {
	bytes.Buffer
	writes int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.writes++
	return w.Buffer.Write(p)
}

func TestWriteMatchesEncode(t *testing.T) {
	s := newSetup(t)
	circle, err := depthmap.Circle(3, 0.4, f64.Vec2{})
	if err != nil {
		t.Fatal(err)
	}
	spiral, err := pointscan.Spiral(s, 3, true)
	if err != nil {
		t.Fatal(err)
	}
	f := generate(t, circle, spiral, 0.1)
	for _, format := range []Format{FEI, CBOR} {
		f.Format = format
		w := new(countingWriter)
		if err := f.Encode(w); err != nil {
			t.Fatal(err)
		}
		// Encoding must not issue a write per record.
		if limit := w.Len()/4096 + 1; w.writes > limit {
			t.Errorf("%v: %d writes for %d bytes, want at most %d", format, w.writes, w.Len(), limit)
		}
		path := filepath.Join(t.TempDir(), "hole"+format.Ext())
		if err := f.Write(path); err != nil {
			t.Fatal(err)
		}
		b, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(b, w.Bytes()) {
			t.Errorf("%v: written file differs from encoding", format)
		}
	}
}

func TestWriteFailure(t *testing.T) {
	s := newSetup(t)
	circle, err := depthmap.Circle(1, 1, f64.Vec2{})
	if err != nil {
		t.Fatal(err)
	}
	spiral, err := pointscan.Spiral(s, 1, true)
	if err != nil {
		t.Fatal(err)
	}
	f := generate(t, circle, spiral, 0)
	dir := t.TempDir()
	path := filepath.Join(dir, "missing", "instructions.str")
	if err := f.Write(path); !errors.Is(err, ErrIO) {
		t.Fatalf("write to missing directory: %v, want %v", err, ErrIO)
	}
	// Renaming onto a directory fails after the data is written.
	target := filepath.Join(dir, "occupied")
	if err := os.Mkdir(target, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(target, "keep"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := f.Write(target); !errors.Is(err, ErrIO) {
		t.Fatalf("write onto directory: %v, want %v", err, ErrIO)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("partial files left behind: %v", entries)
	}
}

func TestSummary(t *testing.T) {
	s := newSetup(t)
	circle, err := depthmap.Circle(2, 0.3, f64.Vec2{})
	if err != nil {
		t.Fatal(err)
	}
	spiral, err := pointscan.Spiral(s, 2, false)
	if err != nil {
		t.Fatal(err)
	}
	f := generate(t, circle, spiral, 0.1)
	sum := f.Summary()
	for _, want := range []string{"Machine setup", "9.4 nA", "layers:        3", "format:        fei"} {
		if !strings.Contains(sum, want) {
			t.Errorf("summary lacks %q:\n%s", want, sum)
		}
	}
}

func TestDecodeFEIErrors(t *testing.T) {
	inputs := []string{
		"",
		"s8\n1\n0\n",
		"s16\n1\nx\n",
		"s16\n1\n2\n10 1 2\n",
		"s16\n1\n1\n10 1\n",
		"s16\n1\n1\n10 1 2\n11 1 2\n",
	}
	for _, in := range inputs {
		if _, err := DecodeFEI(strings.NewReader(in)); err == nil {
			t.Errorf("%q decoded without error", in)
		}
	}
}

func TestParseFormat(t *testing.T) {
	for name, want := range map[string]Format{"": FEI, "fei": FEI, "STR": FEI, "cbor": CBOR} {
		got, err := ParseFormat(name)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %v, %v, want %v", name, got, err, want)
		}
	}
	if _, err := ParseFormat("gcode"); !errors.Is(err, setup.ErrInvalidConfiguration) {
		t.Errorf("unknown format: %v", err)
	}
}
