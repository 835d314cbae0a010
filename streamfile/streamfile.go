// package streamfile serializes dwell instruction streams into
// the files consumed by ion beam pattern generators.
package streamfile

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"mpsg.org/setup"
	"mpsg.org/stream"
)

// ErrIO is returned when a stream file cannot be written.
var ErrIO = errors.New("i/o failure")

const (
	// TicksPerMicrosecond is the dwell time resolution of
	// stream files; one tick is 100 ns.
	TicksPerMicrosecond = 10

	// maxTicks is the longest dwell of a single record.
	maxTicks = math.MaxUint32
)

// Format is a stream file encoding.
type Format int

const (
	// FEI is the text "s16" stream format with 16 bit field
	// addresses.
	FEI Format = iota
	// CBOR is a binary format carrying the complete header.
	CBOR
)

func (f Format) String() string {
	switch f {
	case FEI:
		return "fei"
	case CBOR:
		return "cbor"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// Ext is the conventional file name extension of the format.
func (f Format) Ext() string {
	switch f {
	case CBOR:
		return ".cbor"
	}
	return ".str"
}

// ParseFormat parses the name of a format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "", "fei", "str":
		return FEI, nil
	case "cbor":
		return CBOR, nil
	}
	return 0, fmt.Errorf("streamfile: unknown format %q: %w", name, setup.ErrInvalidConfiguration)
}

// Record is a single quantized dwell.
type Record struct {
	_ struct{} `cbor:",toarray"`
	// X, Y are field addresses.
	X, Y int
	// Dwell in ticks.
	Dwell uint32
	Layer int
}

// Machine is the machine description in a stream file header.
type Machine struct {
	SputterRate float64 `cbor:"1,keyasint"`
	BeamCurrent float64 `cbor:"2,keyasint"`
	StepSize    float64 `cbor:"3,keyasint"`
	Zoom        float64 `cbor:"4,keyasint"`
	FieldWidth  float64 `cbor:"5,keyasint"`
}

// Header describes the records of a stream file.
type Header struct {
	Version int     `cbor:"1,keyasint"`
	Points  int     `cbor:"2,keyasint"`
	Layers  int     `cbor:"3,keyasint"`
	Machine Machine `cbor:"4,keyasint"`
}

const version = 1

// Streamfile is a quantized instruction stream ready for writing.
type Streamfile struct {
	Format Format

	header  Header
	records []Record
	stream  *stream.Stream
}

// New quantizes the instructions of st into records.
func New(st *stream.Stream) (*Streamfile, error) {
	s := st.Setup
	f := &Streamfile{
		header: Header{
			Version: version,
			Points:  len(st.Instructions),
			Layers:  len(st.Layers),
			Machine: Machine{
				SputterRate: s.SputterRate,
				BeamCurrent: s.BeamCurrent,
				StepSize:    s.StepSize,
				Zoom:        s.Zoom,
				FieldWidth:  s.FieldWidth(),
			},
		},
		records: make([]Record, len(st.Instructions)),
		stream:  st,
	}
	for i, in := range st.Instructions {
		x, y, ok := s.FieldAddress(in.Pos)
		if !ok {
			return nil, fmt.Errorf("streamfile: %v outside field: %w", in.Pos, setup.ErrInvalidConfiguration)
		}
		ticks, ok := quantize(in.Dwell)
		if !ok {
			return nil, fmt.Errorf("streamfile: dwell %v µs at %v: %w", in.Dwell, in.Pos, setup.ErrInvalidConfiguration)
		}
		f.records[i] = Record{X: x, Y: y, Dwell: ticks, Layer: in.Layer}
	}
	return f, nil
}

// quantize converts a dwell in µs to ticks. Dwells round to the
// nearest tick, but never below one.
func quantize(dwell float64) (uint32, bool) {
	t := math.Round(dwell * TicksPerMicrosecond)
	if math.IsNaN(t) || t > maxTicks {
		return 0, false
	}
	return uint32(max(t, 1)), true
}

func (f *Streamfile) Header() Header {
	return f.header
}

func (f *Streamfile) Records() []Record {
	return f.records
}

// Encode writes the stream file to w. Output is buffered.
func (f *Streamfile) Encode(w io.Writer) error {
	switch f.Format {
	case FEI:
		return encodeFEI(w, f.header, f.records)
	case CBOR:
		return encodeCBOR(w, f.header, f.records)
	}
	return fmt.Errorf("streamfile: unknown format %v: %w", f.Format, setup.ErrInvalidConfiguration)
}

// Write the stream file to path. The file is written under a temporary
// name and renamed into place, so path is either absent, left as it
// was, or complete.
func (f *Streamfile) Write(path string) (werr error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".*")
	if err != nil {
		return fmt.Errorf("streamfile: %s: %w: %w", path, ErrIO, err)
	}
	defer func() {
		if werr != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	if err := f.Encode(tmp); err != nil {
		return fmt.Errorf("streamfile: %s: %w: %w", path, ErrIO, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("streamfile: %s: %w: %w", path, ErrIO, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("streamfile: %s: %w: %w", path, ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("streamfile: %s: %w: %w", path, ErrIO, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("streamfile: %s: %w: %w", path, ErrIO, err)
	}
	return nil
}

// Summary describes the machine setup, the stream statistics and the
// file contents.
func (f *Streamfile) Summary() string {
	b := new(strings.Builder)
	b.WriteString(f.stream.Setup.Summary())
	b.WriteString("\n")
	b.WriteString(f.stream.Stats().String())
	b.WriteString("\n")
	fmt.Fprintf(b, "Stream file\n")
	fmt.Fprintf(b, "  format:        %s\n", f.Format)
	fmt.Fprintf(b, "  records:       %d\n", f.header.Points)
	fmt.Fprintf(b, "  layers:        %d\n", f.header.Layers)
	fmt.Fprintf(b, "  max depth:     %.4g µm\n", f.stream.MaxDepth)
	if len(f.stream.Layers) > 0 {
		fmt.Fprintf(b, "  layer depth:   %.4g µm\n", f.stream.Layers[0].Thickness())
	}
	var ticks uint64
	for _, r := range f.records {
		ticks += uint64(r.Dwell)
	}
	fmt.Fprintf(b, "  dwell ticks:   %d\n", ticks)
	return b.String()
}
