// package affine implements mathematical operations on the
// golang.org/x/image/math/f64 data types.
package affine

import (
	"math"

	"golang.org/x/image/math/f64"
)

func mul(A, B f64.Aff3) (r f64.Aff3) {
	r[0] = A[0]*B[0] + A[1]*B[3]
	r[1] = A[0]*B[1] + A[1]*B[4]
	r[2] = A[0]*B[2] + A[1]*B[5] + A[2]
	r[3] = A[3]*B[0] + A[4]*B[3]
	r[4] = A[3]*B[1] + A[4]*B[4]
	r[5] = A[3]*B[2] + A[4]*B[5] + A[5]
	return r
}

func Scale(p f64.Vec2, s float64) f64.Vec2 {
	return f64.Vec2{p[0] * s, p[1] * s}
}

func Add(p ...f64.Vec2) f64.Vec2 {
	r := p[0]
	for i := 1; i < len(p); i++ {
		r = f64.Vec2{r[0] + p[i][0], r[1] + p[i][1]}
	}
	return r
}

func Sub(p ...f64.Vec2) f64.Vec2 {
	r := p[0]
	for i := 1; i < len(p); i++ {
		r = f64.Vec2{r[0] - p[i][0], r[1] - p[i][1]}
	}
	return r
}

func Length(p f64.Vec2) float64 {
	return math.Hypot(p[0], p[1])
}

// Dist returns the euclidean distance between two points.
func Dist(p0, p1 f64.Vec2) float64 {
	return Length(Sub(p1, p0))
}

func Mul(M ...f64.Aff3) (r f64.Aff3) {
	r = M[0]
	for i := 1; i < len(M); i++ {
		r = mul(r, M[i])
	}
	return r
}

// Invert returns the inverse of m. It returns false if m
// is singular.
func Invert(m f64.Aff3) (f64.Aff3, bool) {
	det := m[0]*m[4] - m[1]*m[3]
	if det == 0 || math.IsNaN(det) {
		return f64.Aff3{}, false
	}
	a, b := m[4]/det, -m[1]/det
	d, e := -m[3]/det, m[0]/det
	c := -(a*m[2] + b*m[5])
	f := -(d*m[2] + e*m[5])
	return f64.Aff3{
		a, b, c,
		d, e, f,
	}, true
}

func Offsetting(p f64.Vec2) f64.Aff3 {
	return f64.Aff3{
		1, 0, p[0],
		0, 1, p[1],
	}
}

func Rotating(radians float64) f64.Aff3 {
	s, c := math.Sincos(radians)
	return f64.Aff3{
		c, -s, 0,
		s, c, 0,
	}
}

func Transform(m f64.Aff3, p f64.Vec2) f64.Vec2 {
	return f64.Vec2{
		p[0]*m[0] + p[1]*m[1] + m[2],
		p[0]*m[3] + p[1]*m[4] + m[5],
	}
}
