package depthmap

import (
	"fmt"
	"math"

	"golang.org/x/image/math/f64"
	"mpsg.org/affine"
	"mpsg.org/setup"
)

// DomeMap is a spherical dome left standing in a recessed trench, such as
// a solid immersion lens. Measured from the center outwards, the profile
// is
//
//   - the dome surface, a spherical cap with its apex premill deep,
//     descending to premill+sag at the dome radius;
//   - the trench floor, flat at premill+sag out to the dome radius plus
//     the recess clearance;
//   - a linear slope rising from the trench floor to the surface over
//     the slope length.
//
// The profile is continuous across every zone boundary.
type DomeMap struct {
	premill   float64
	radius    float64
	sag       float64
	clearance float64
	slope     float64

	// sphere is the radius of the sphere containing the cap.
	sphere float64
}

// FullRecessedDome returns a dome map centered on the origin. Use
// [Translate] to place it elsewhere.
func FullRecessedDome(premillDepth, domeRadius, domeSag, recessClearance, slopeLength float64) (*DomeMap, error) {
	switch {
	case premillDepth < 0 || math.IsInf(premillDepth, 0) || math.IsNaN(premillDepth):
		return nil, fmt.Errorf("depthmap: dome premill depth %v: %w", premillDepth, setup.ErrInvalidGeometry)
	case !setup.Positive(domeRadius):
		return nil, fmt.Errorf("depthmap: dome radius %v: %w", domeRadius, setup.ErrInvalidGeometry)
	case !setup.Positive(domeSag) || domeSag > domeRadius:
		return nil, fmt.Errorf("depthmap: dome sag %v not in ]0;%v]: %w", domeSag, domeRadius, setup.ErrInvalidGeometry)
	case recessClearance < 0 || math.IsInf(recessClearance, 0) || math.IsNaN(recessClearance):
		return nil, fmt.Errorf("depthmap: dome recess clearance %v: %w", recessClearance, setup.ErrInvalidGeometry)
	case !setup.Positive(slopeLength):
		return nil, fmt.Errorf("depthmap: dome slope length %v: %w", slopeLength, setup.ErrInvalidGeometry)
	}
	return &DomeMap{
		premill:   premillDepth,
		radius:    domeRadius,
		sag:       domeSag,
		clearance: recessClearance,
		slope:     slopeLength,
		sphere:    (domeRadius*domeRadius + domeSag*domeSag) / (2 * domeSag),
	}, nil
}

func (d *DomeMap) Depth(p f64.Vec2) float64 {
	r := affine.Length(p)
	floor := d.Floor()
	trench := d.radius + d.clearance
	switch {
	case r <= d.radius:
		h := d.sphere - math.Sqrt(max(d.sphere*d.sphere-r*r, 0))
		return d.premill + min(h, d.sag)
	case r <= trench:
		return floor
	case r < trench+d.slope:
		return floor * (1 - (r-trench)/d.slope)
	}
	return 0
}

func (d *DomeMap) Radius() float64 {
	return d.radius + d.clearance + d.slope
}

// Floor is the depth of the trench around the dome.
func (d *DomeMap) Floor() float64 {
	return d.premill + d.sag
}
