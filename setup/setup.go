// package setup describes the calibrated physical constants of a
// focused ion beam machine and the conversions derived from them.
package setup

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/image/math/f64"
)

var (
	// ErrInvalidConfiguration is returned for machine, scanner or
	// layer parameters that cannot be used.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrInvalidGeometry is returned for shape parameters that
	// describe no shape.
	ErrInvalidGeometry = errors.New("invalid geometry")
)

const (
	// FieldUnits is the number of addressable units along each
	// axis of the beam field.
	FieldUnits = 1 << 16

	// DefaultReferenceFieldWidth is the field width in micrometers
	// at zoom 1.
	DefaultReferenceFieldWidth = 256000
)

// Setup holds the machine and substrate constants of a milling run.
// Lengths are in micrometers, currents in nanoampere and times in
// microseconds. A Setup is immutable once constructed.
type Setup struct {
	// SputterRate is the removed volume per charge, in µm³/(nA·µs).
	SputterRate float64
	// BeamCurrent in nA.
	BeamCurrent float64
	// StepSize is the distance between neighbouring scan points in µm.
	StepSize float64
	// Zoom is the magnification of the beam field.
	Zoom float64
	// ReferenceFieldWidth is the width of the field at zoom 1, in µm.
	ReferenceFieldWidth float64
}

// New returns a validated Setup with the default reference field width.
func New(sputterRate, beamCurrent, stepSize, zoom float64) (*Setup, error) {
	return NewWithFieldWidth(sputterRate, beamCurrent, stepSize, zoom, DefaultReferenceFieldWidth)
}

// NewWithFieldWidth is like New for a machine whose field is
// referenceFieldWidth micrometers wide at zoom 1.
func NewWithFieldWidth(sputterRate, beamCurrent, stepSize, zoom, referenceFieldWidth float64) (*Setup, error) {
	s := &Setup{
		SputterRate:         sputterRate,
		BeamCurrent:         beamCurrent,
		StepSize:            stepSize,
		Zoom:                zoom,
		ReferenceFieldWidth: referenceFieldWidth,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks that every constant is a positive, finite number.
func (s *Setup) Validate() error {
	params := []struct {
		name string
		v    float64
	}{
		{"sputter rate", s.SputterRate},
		{"beam current", s.BeamCurrent},
		{"step size", s.StepSize},
		{"zoom", s.Zoom},
		{"reference field width", s.ReferenceFieldWidth},
	}
	for _, p := range params {
		if !Positive(p.v) {
			return fmt.Errorf("setup: %s must be positive, got %v: %w", p.name, p.v, ErrInvalidConfiguration)
		}
	}
	return nil
}

// Positive reports whether v is a finite number larger than zero.
func Positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

// StepArea is the area covered by a single scan point, in µm².
func (s *Setup) StepArea() float64 {
	return s.StepSize * s.StepSize
}

// DwellTime returns the time in µs to remove depth micrometers of
// material over the area of one scan point.
func (s *Setup) DwellTime(depth float64) float64 {
	return depth * s.StepArea() / (s.SputterRate * s.BeamCurrent)
}

// FieldWidth is the width of the addressable field in µm.
func (s *Setup) FieldWidth() float64 {
	return s.ReferenceFieldWidth / s.Zoom
}

// FieldAddress converts a position in µm, relative to the field center,
// to field units. It reports false if the position is outside the field.
func (s *Setup) FieldAddress(p f64.Vec2) (x, y int, ok bool) {
	fw := s.FieldWidth()
	ux := math.Round(p[0]/fw*FieldUnits + FieldUnits/2)
	uy := math.Round(p[1]/fw*FieldUnits + FieldUnits/2)
	inside := func(u float64) bool {
		return 0 <= u && u < FieldUnits
	}
	if !inside(ux) || !inside(uy) {
		return 0, 0, false
	}
	return int(ux), int(uy), true
}

// Summary returns the canonical textual description of the setup.
func (s *Setup) Summary() string {
	b := new(strings.Builder)
	fmt.Fprintf(b, "Machine setup\n")
	fmt.Fprintf(b, "  sputter rate:  %g µm³/(nA·µs)\n", s.SputterRate)
	fmt.Fprintf(b, "  beam current:  %g nA\n", s.BeamCurrent)
	fmt.Fprintf(b, "  step size:     %g µm\n", s.StepSize)
	fmt.Fprintf(b, "  zoom:          %gx\n", s.Zoom)
	fmt.Fprintf(b, "  field width:   %g µm\n", s.FieldWidth())
	fmt.Fprintf(b, "  dwell per µm:  %g µs\n", s.DwellTime(1))
	return b.String()
}
