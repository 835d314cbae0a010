// package pointscan generates the ordered beam trajectories that
// cover a milling region.
package pointscan

import (
	"fmt"
	"iter"
	"math"
	"slices"

	"golang.org/x/image/math/f64"
	"mpsg.org/setup"
)

// Scan is an ordered sequence of points in µm.
type Scan = iter.Seq[f64.Vec2]

// Scanner produces a scan. Points must return a fresh, identical
// sequence every time it is called.
type Scanner interface {
	Points() Scan
}

// SpiralScan follows an Archimedean spiral with one step between
// consecutive turns and between consecutive points.
type SpiralScan struct {
	// Center of the spiral.
	Center f64.Vec2

	radius    float64
	step      float64
	insideOut bool
}

// Spiral returns a scan along a spiral from the center out to radius,
// or from radius in to the center if insideOut is false.
func Spiral(s *setup.Setup, radius float64, insideOut bool) (*SpiralScan, error) {
	if !setup.Positive(radius) {
		return nil, fmt.Errorf("pointscan: spiral radius %v: %w", radius, setup.ErrInvalidConfiguration)
	}
	return &SpiralScan{
		radius:    radius,
		step:      s.StepSize,
		insideOut: insideOut,
	}, nil
}

func (s *SpiralScan) Points() Scan {
	return func(yield func(f64.Vec2) bool) {
		if s.insideOut {
			for _, p := range s.polar() {
				if !yield(s.point(p)) {
					return
				}
			}
			return
		}
		points := s.polar()
		for _, p := range slices.Backward(points) {
			if !yield(s.point(p)) {
				return
			}
		}
	}
}

// polar returns the (radius, angle) pairs of the spiral from the center.
func (s *SpiralScan) polar() [][2]float64 {
	// r = b·θ advances one step per turn.
	b := s.step / (2 * math.Pi)
	var points [][2]float64
	theta := 0.0
	for {
		r := b * theta
		if r > s.radius {
			break
		}
		points = append(points, [2]float64{r, theta})
		// The arc length element is sqrt(r²+b²)·dθ.
		theta += s.step / math.Hypot(r, b)
	}
	return points
}

func (s *SpiralScan) point(p [2]float64) f64.Vec2 {
	sin, cos := math.Sincos(p[1])
	return f64.Vec2{
		s.Center[0] + p[0]*cos,
		s.Center[1] + p[0]*sin,
	}
}

// grid is a rectangular lattice of points with one step spacing,
// centered on a point.
type grid struct {
	center f64.Vec2
	step   float64
	nx, ny int
}

func newGrid(s *setup.Setup, kind string, width, height float64, center f64.Vec2) (grid, error) {
	if !setup.Positive(width) || !setup.Positive(height) {
		return grid{}, fmt.Errorf("pointscan: %s size %vx%v: %w", kind, width, height, setup.ErrInvalidConfiguration)
	}
	// Tolerate sizes that are a rounding error short of a whole step.
	const slack = 1e-9
	return grid{
		center: center,
		step:   s.StepSize,
		nx:     int(math.Floor(width/s.StepSize+slack)) + 1,
		ny:     int(math.Floor(height/s.StepSize+slack)) + 1,
	}, nil
}

func (g grid) point(i, j int) f64.Vec2 {
	return f64.Vec2{
		g.center[0] + (float64(i)-float64(g.nx-1)/2)*g.step,
		g.center[1] + (float64(j)-float64(g.ny-1)/2)*g.step,
	}
}

// ConcentricSquaresScan traverses rectangular rings of a grid.
type ConcentricSquaresScan struct {
	g         grid
	insideOut bool
}

// ConcentricSquares returns a scan covering a width by height field
// centered on center, ring by ring. The innermost ring is visited first
// if insideOut is set. Every grid point is visited exactly once.
func ConcentricSquares(s *setup.Setup, width, height float64, center f64.Vec2, insideOut bool) (*ConcentricSquaresScan, error) {
	g, err := newGrid(s, "concentric squares", width, height, center)
	if err != nil {
		return nil, err
	}
	return &ConcentricSquaresScan{g: g, insideOut: insideOut}, nil
}

// Len returns the number of points in the scan.
func (c *ConcentricSquaresScan) Len() int {
	return c.g.nx * c.g.ny
}

func (c *ConcentricSquaresScan) Points() Scan {
	return func(yield func(f64.Vec2) bool) {
		rings := (min(c.g.nx, c.g.ny) + 1) / 2
		for k := range rings {
			if c.insideOut {
				k = rings - 1 - k
			}
			for i, j := range c.ring(k) {
				if !yield(c.g.point(i, j)) {
					return
				}
			}
		}
	}
}

// ring enumerates the grid indices of ring k, counted from the outside,
// clockwise from its first corner.
func (c *ConcentricSquaresScan) ring(k int) iter.Seq2[int, int] {
	x0, y0 := k, k
	x1, y1 := c.g.nx-1-k, c.g.ny-1-k
	return func(yield func(int, int) bool) {
		// Degenerate rings are a single row or column.
		if x0 == x1 {
			for j := y0; j <= y1; j++ {
				if !yield(x0, j) {
					return
				}
			}
			return
		}
		if y0 == y1 {
			for i := x0; i <= x1; i++ {
				if !yield(i, y0) {
					return
				}
			}
			return
		}
		for i := x0; i < x1; i++ {
			if !yield(i, y0) {
				return
			}
		}
		for j := y0; j < y1; j++ {
			if !yield(x1, j) {
				return
			}
		}
		for i := x1; i > x0; i-- {
			if !yield(i, y1) {
				return
			}
		}
		for j := y1; j > y0; j-- {
			if !yield(x0, j) {
				return
			}
		}
	}
}

// SerpentineScan is a raster scan where every other row is reversed.
type SerpentineScan struct {
	g grid
}

// Serpentine returns a row by row scan of a width by height field
// centered on center, starting in the corner of lowest coordinates.
func Serpentine(s *setup.Setup, width, height float64, center f64.Vec2) (*SerpentineScan, error) {
	g, err := newGrid(s, "serpentine", width, height, center)
	if err != nil {
		return nil, err
	}
	return &SerpentineScan{g: g}, nil
}

// Len returns the number of points in the scan.
func (r *SerpentineScan) Len() int {
	return r.g.nx * r.g.ny
}

func (r *SerpentineScan) Points() Scan {
	return func(yield func(f64.Vec2) bool) {
		for j := range r.g.ny {
			for n := range r.g.nx {
				i := n
				// Swap direction every other row.
				if j%2 != 0 {
					i = r.g.nx - 1 - n
				}
				if !yield(r.g.point(i, j)) {
					return
				}
			}
		}
	}
}
