// package stream combines a depth map, a point scan and the machine
// physics into an ordered list of dwell instructions, optionally split
// into depth layers.
package stream

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"slices"

	"golang.org/x/image/math/f64"
	"golang.org/x/sync/errgroup"
	"mpsg.org/depthmap"
	"mpsg.org/pointscan"
	"mpsg.org/setup"
)

// ErrEmptyPattern is returned when the depth map is zero over every
// scanned point.
var ErrEmptyPattern = errors.New("empty pattern")

// Options control the generation of a [Stream].
type Options struct {
	// LayerThickness is the maximum depth milled per pass in µm.
	// Zero or negative mills everything in a single pass.
	LayerThickness float64
	// Workers bounds the number of goroutines evaluating the depth map.
	// Zero means runtime.GOMAXPROCS.
	Workers int
}

// Instruction is a single beam dwell.
type Instruction struct {
	// Pos is the position in µm.
	Pos f64.Vec2
	// Point is the index of the position in the scan.
	Point int
	// Layer is the index of the depth layer.
	Layer int
	// Dwell is the dwell time in µs.
	Dwell float64
}

// Layer is the depth band [Top, Bottom[ milled in one pass, in µm below
// the surface.
type Layer struct {
	Index       int
	Top, Bottom float64
}

// Thickness of the layer.
func (l Layer) Thickness() float64 {
	return l.Bottom - l.Top
}

// Stream is the result of a generation. It must be treated as
// read-only.
type Stream struct {
	Setup *setup.Setup
	// Points is the scan, in emission order.
	Points []f64.Vec2
	// Depths is the target depth at every scan point.
	Depths []float64
	// MaxDepth is the deepest target depth.
	MaxDepth     float64
	Layers       []Layer
	Instructions []Instruction

	// layerStart indexes the first instruction of every layer, with
	// a final entry of len(Instructions).
	layerStart []int
}

const (
	// minChunk is the smallest number of points evaluated by a worker.
	minChunk = 1024
	// sliceSlack is the relative depth below which band boundaries
	// and contributions are considered rounding errors.
	sliceSlack = 1e-9
)

// sizer is implemented by scans that know their length up front.
type sizer interface {
	Len() int
}

// Generate evaluates m over the points of sc and computes the dwell
// instructions for every layer. Instructions are ordered by layer, and
// by scan order within a layer, regardless of the number of workers.
func Generate(s *setup.Setup, sc pointscan.Scanner, m depthmap.Map, opts Options) (*Stream, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if math.IsNaN(opts.LayerThickness) || math.IsInf(opts.LayerThickness, 0) {
		return nil, fmt.Errorf("stream: layer thickness %v: %w", opts.LayerThickness, setup.ErrInvalidConfiguration)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	var points []f64.Vec2
	if sz, ok := sc.(sizer); ok {
		points = make([]f64.Vec2, 0, sz.Len())
	}
	st := &Stream{
		Setup:  s,
		Points: slices.AppendSeq(points, sc.Points()),
	}
	depths, err := evaluate(m, st.Points, workers)
	if err != nil {
		return nil, err
	}
	st.Depths = depths
	for _, d := range depths {
		st.MaxDepth = max(st.MaxDepth, d)
	}
	if st.MaxDepth == 0 {
		return nil, fmt.Errorf("stream: %d points scanned: %w", len(st.Points), ErrEmptyPattern)
	}
	for i, p := range st.Points {
		if depths[i] == 0 {
			continue
		}
		if _, _, ok := s.FieldAddress(p); !ok {
			return nil, fmt.Errorf("stream: point %v outside the %g µm field: %w", p, s.FieldWidth(), setup.ErrInvalidConfiguration)
		}
	}
	st.Layers = Slice(st.MaxDepth, opts.LayerThickness)
	layers := make([][]Instruction, len(st.Layers))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, l := range st.Layers {
		g.Go(func() error {
			layers[i] = st.layer(l)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, l := range layers {
		st.layerStart = append(st.layerStart, len(st.Instructions))
		st.Instructions = append(st.Instructions, l...)
	}
	st.layerStart = append(st.layerStart, len(st.Instructions))
	return st, nil
}

// evaluate the depth of every point, in parallel chunks.
func evaluate(m depthmap.Map, points []f64.Vec2, workers int) ([]float64, error) {
	depths := make([]float64, len(points))
	chunk := max(minChunk, (len(points)+workers-1)/workers)
	var g errgroup.Group
	g.SetLimit(workers)
	for start := 0; start < len(points); start += chunk {
		end := min(start+chunk, len(points))
		g.Go(func() error {
			for i := start; i < end; i++ {
				d := m.Depth(points[i])
				if d < 0 || math.IsNaN(d) || math.IsInf(d, 0) {
					return fmt.Errorf("stream: depth %v at %v: %w", d, points[i], setup.ErrInvalidGeometry)
				}
				depths[i] = d
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return depths, nil
}

// layer computes the instructions of a single layer in scan order.
func (st *Stream) layer(l Layer) []Instruction {
	var instrs []Instruction
	for i, d := range st.Depths {
		c := min(l.Bottom, d) - l.Top
		// Depths on a band boundary end in the band above.
		if c <= sliceSlack*l.Thickness() {
			continue
		}
		instrs = append(instrs, Instruction{
			Pos:   st.Points[i],
			Point: i,
			Layer: l.Index,
			Dwell: st.Setup.DwellTime(c),
		})
	}
	return instrs
}

// Slice divides [0, maxDepth[ into bands of equal thickness no larger
// than thickness, ordered from the surface down. A thickness of zero or
// less results in a single band.
func Slice(maxDepth, thickness float64) []Layer {
	if thickness <= 0 {
		return []Layer{{Index: 0, Top: 0, Bottom: maxDepth}}
	}
	// Don't add a layer for a rounding error.
	n := max(1, int(math.Ceil(maxDepth/thickness-sliceSlack)))
	t := maxDepth / float64(n)
	layers := make([]Layer, n)
	for k := range layers {
		layers[k] = Layer{
			Index:  k,
			Top:    float64(k) * t,
			Bottom: float64(k+1) * t,
		}
	}
	layers[n-1].Bottom = maxDepth
	return layers
}

// Layer returns the instructions of layer i.
func (st *Stream) Layer(i int) []Instruction {
	return st.Instructions[st.layerStart[i]:st.layerStart[i+1]]
}

// PointDwell returns the total dwell time of every scan point, summed
// over all layers.
func (st *Stream) PointDwell() []float64 {
	dwell := make([]float64, len(st.Points))
	for _, in := range st.Instructions {
		dwell[in.Point] += in.Dwell
	}
	return dwell
}
