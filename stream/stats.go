package stream

import (
	"fmt"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats summarizes the dwell times of a stream.
type Stats struct {
	Instructions int
	// Points is the number of scan points with a dwell in any layer.
	Points int
	Layers int
	// Dwell times in µs.
	MinDwell, MaxDwell, MeanDwell, TotalDwell float64
}

// Stats computes the dwell statistics of the stream.
func (st *Stream) Stats() Stats {
	s := Stats{
		Instructions: len(st.Instructions),
		Layers:       len(st.Layers),
	}
	if len(st.Instructions) == 0 {
		return s
	}
	dwell := make([]float64, len(st.Instructions))
	for i, in := range st.Instructions {
		dwell[i] = in.Dwell
	}
	s.MinDwell = floats.Min(dwell)
	s.MaxDwell = floats.Max(dwell)
	s.MeanDwell = stat.Mean(dwell, nil)
	s.TotalDwell = floats.Sum(dwell)
	for _, d := range st.PointDwell() {
		if d > 0 {
			s.Points++
		}
	}
	return s
}

// Duration is the total beam time of the stream, excluding beam
// movement.
func (s Stats) Duration() time.Duration {
	return time.Duration(s.TotalDwell * float64(time.Microsecond))
}

func (s Stats) String() string {
	b := new(strings.Builder)
	fmt.Fprintf(b, "Stream\n")
	fmt.Fprintf(b, "  instructions:  %d\n", s.Instructions)
	fmt.Fprintf(b, "  points:        %d\n", s.Points)
	fmt.Fprintf(b, "  layers:        %d\n", s.Layers)
	fmt.Fprintf(b, "  min dwell:     %.4g µs\n", s.MinDwell)
	fmt.Fprintf(b, "  max dwell:     %.4g µs\n", s.MaxDwell)
	fmt.Fprintf(b, "  mean dwell:    %.4g µs\n", s.MeanDwell)
	fmt.Fprintf(b, "  run time:      %v\n", s.Duration().Round(time.Millisecond))
	return b.String()
}
