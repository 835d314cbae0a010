// package depthmap describes target milling depths as functions of
// the position on the substrate.
package depthmap

import (
	"fmt"
	"math"
	"slices"

	"golang.org/x/image/math/f64"
	"mpsg.org/affine"
	"mpsg.org/setup"
)

// Map is a target depth field. Depth must be a pure function of the
// point, non-negative, and zero outside the support of the map.
type Map interface {
	// Depth returns the depth in µm to remove at p.
	Depth(p f64.Vec2) float64
	// Radius is the distance from the origin that bounds
	// the support of the map.
	Radius() float64
}

// CircleMap is a flat bottomed circular hole.
type CircleMap struct {
	radius float64
	depth  float64
	center f64.Vec2
}

// Circle returns a map of depth inside the closed disc with the
// given radius and center. Points exactly on the rim are inside.
func Circle(radius, depth float64, center f64.Vec2) (*CircleMap, error) {
	if !setup.Positive(radius) {
		return nil, fmt.Errorf("depthmap: circle radius %v: %w", radius, setup.ErrInvalidGeometry)
	}
	if !setup.Positive(depth) {
		return nil, fmt.Errorf("depthmap: circle depth %v: %w", depth, setup.ErrInvalidGeometry)
	}
	return &CircleMap{radius: radius, depth: depth, center: center}, nil
}

func (c *CircleMap) Depth(p f64.Vec2) float64 {
	d := affine.Sub(p, c.center)
	if d[0]*d[0]+d[1]*d[1] <= c.radius*c.radius {
		return c.depth
	}
	return 0
}

func (c *CircleMap) Radius() float64 {
	return affine.Length(c.center) + c.radius
}

// RectangleMap is a flat bottomed, axis aligned rectangular pocket.
type RectangleMap struct {
	min, max f64.Vec2
	depth    float64
}

// Rectangle returns a map of depth inside the closed rectangle of the
// given size centered on center.
func Rectangle(width, height, depth float64, center f64.Vec2) (*RectangleMap, error) {
	if !setup.Positive(width) || !setup.Positive(height) {
		return nil, fmt.Errorf("depthmap: rectangle size %vx%v: %w", width, height, setup.ErrInvalidGeometry)
	}
	if !setup.Positive(depth) {
		return nil, fmt.Errorf("depthmap: rectangle depth %v: %w", depth, setup.ErrInvalidGeometry)
	}
	half := affine.Scale(f64.Vec2{width, height}, 0.5)
	return &RectangleMap{
		min:   affine.Sub(center, half),
		max:   affine.Add(center, half),
		depth: depth,
	}, nil
}

func (r *RectangleMap) Depth(p f64.Vec2) float64 {
	if r.min[0] <= p[0] && p[0] <= r.max[0] && r.min[1] <= p[1] && p[1] <= r.max[1] {
		return r.depth
	}
	return 0
}

func (r *RectangleMap) Radius() float64 {
	var rad float64
	for _, x := range []float64{r.min[0], r.max[0]} {
		for _, y := range []float64{r.min[1], r.max[1]} {
			rad = max(rad, math.Hypot(x, y))
		}
	}
	return rad
}

// Transformed is a map placed on the substrate through an affine
// transform.
type Transformed struct {
	m   Map
	t   f64.Aff3
	inv f64.Aff3
}

// Transform returns m transformed by t. The transform must be rigid
// (a rotation, reflection and offset) so the radius bound stays valid.
func Transform(m Map, t f64.Aff3) (*Transformed, error) {
	inv, ok := affine.Invert(t)
	if !ok {
		return nil, fmt.Errorf("depthmap: singular transform %v: %w", t, setup.ErrInvalidGeometry)
	}
	const tol = 1e-9
	c0 := t[0]*t[0] + t[3]*t[3]
	c1 := t[1]*t[1] + t[4]*t[4]
	cross := t[0]*t[1] + t[3]*t[4]
	if math.Abs(c0-1) > tol || math.Abs(c1-1) > tol || math.Abs(cross) > tol {
		return nil, fmt.Errorf("depthmap: non-rigid transform %v: %w", t, setup.ErrInvalidGeometry)
	}
	return &Transformed{m: m, t: t, inv: inv}, nil
}

// Translate places m at offset.
func Translate(m Map, offset f64.Vec2) *Transformed {
	tm, err := Transform(m, affine.Offsetting(offset))
	if err != nil {
		panic(err)
	}
	return tm
}

func (t *Transformed) Depth(p f64.Vec2) float64 {
	return t.m.Depth(affine.Transform(t.inv, p))
}

func (t *Transformed) Radius() float64 {
	off := f64.Vec2{t.t[2], t.t[5]}
	return affine.Length(off) + t.m.Radius()
}

// Combiner aggregates the depths of a set of child maps.
type Combiner struct {
	children []Map
	sum      bool
}

// SummingCombiner returns the map whose depth is the sum of the
// children's depths. The sum does not depend on the order of children.
func SummingCombiner(children ...Map) *Combiner {
	return &Combiner{children: slices.Clone(children), sum: true}
}

// MaxCombiner returns the map whose depth is the deepest of the
// children's depths.
func MaxCombiner(children ...Map) *Combiner {
	return &Combiner{children: slices.Clone(children)}
}

func (c *Combiner) Depth(p f64.Vec2) float64 {
	if !c.sum {
		var d float64
		for _, m := range c.children {
			d = max(d, m.Depth(p))
		}
		return d
	}
	var buf [16]float64
	depths := buf[:0]
	for _, m := range c.children {
		if d := m.Depth(p); d != 0 {
			depths = append(depths, d)
		}
	}
	// Floating point addition is not associative; sum in a canonical
	// order.
	slices.Sort(depths)
	var d float64
	for _, v := range depths {
		d += v
	}
	return d
}

func (c *Combiner) Radius() float64 {
	var r float64
	for _, m := range c.children {
		r = max(r, m.Radius())
	}
	return r
}
