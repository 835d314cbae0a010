package stream

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/image/math/f64"
	"mpsg.org/depthmap"
	"mpsg.org/pointscan"
	"mpsg.org/setup"
)

func newSetup(t *testing.T) *setup.Setup {
	t.Helper()
	s, err := setup.New(7.5e-6, 9.4, 0.1, 3500)
	require.NoError(t, err)
	return s
}

func TestSingleLayerCircle(t *testing.T) {
	s := newSetup(t)
	circle, err := depthmap.Circle(5, 1, f64.Vec2{})
	require.NoError(t, err)
	spiral, err := pointscan.Spiral(s, circle.Radius(), true)
	require.NoError(t, err)

	st, err := Generate(s, spiral, circle, Options{})
	require.NoError(t, err)

	require.Len(t, st.Layers, 1)
	require.Len(t, st.Instructions, len(st.Points))
	want := 1.0 * (0.1 * 0.1) / (7.5e-6 * 9.4)
	for i, in := range st.Instructions {
		require.Equal(t, i, in.Point, "instructions follow the scan order")
		require.Equal(t, st.Points[i], in.Pos)
		require.Zero(t, in.Layer)
		require.InDelta(t, want, in.Dwell, 1e-9)
		require.Equal(t, 1.0, st.Depths[i])
	}
	stats := st.Stats()
	require.Equal(t, len(st.Points), stats.Instructions)
	require.Equal(t, len(st.Points), stats.Points)
	require.InDelta(t, want, stats.MinDwell, 1e-9)
	require.InDelta(t, want, stats.MaxDwell, 1e-9)
	require.InDelta(t, want, stats.MeanDwell, 1e-9)
	require.InEpsilon(t, want*float64(len(st.Points)), stats.TotalDwell, 1e-9)
}

func testMap(t *testing.T) depthmap.Map {
	t.Helper()
	dome, err := depthmap.FullRecessedDome(0.1, 2, 1.5, 0.5, 1)
	require.NoError(t, err)
	hole, err := depthmap.Circle(0.7, 0.3, f64.Vec2{2.5, 0})
	require.NoError(t, err)
	pocket, err := depthmap.Rectangle(1, 0.5, 0.25, f64.Vec2{-1, -2.5})
	require.NoError(t, err)
	return depthmap.SummingCombiner(dome, hole, pocket)
}

func TestLayerConservation(t *testing.T) {
	s := newSetup(t)
	m := testMap(t)
	scanners := []pointscan.Scanner{}
	spiral, err := pointscan.Spiral(s, m.Radius(), false)
	require.NoError(t, err)
	squares, err := pointscan.ConcentricSquares(s, 2*m.Radius(), 2*m.Radius(), f64.Vec2{}, true)
	require.NoError(t, err)
	scanners = append(scanners, spiral, squares)

	for _, sc := range scanners {
		single, err := Generate(s, sc, m, Options{})
		require.NoError(t, err)
		for _, thickness := range []float64{0.075, 0.1, 0.33, 5} {
			layered, err := Generate(s, sc, m, Options{LayerThickness: thickness})
			require.NoError(t, err)
			require.Len(t, layered.Layers, int(math.Ceil(layered.MaxDepth/thickness-1e-9)))
			want, got := single.PointDwell(), layered.PointDwell()
			require.Len(t, got, len(want))
			for i := range want {
				require.InDelta(t, want[i], got[i], 1e-9*max(1, want[i]), "point %d", i)
			}
			require.InEpsilon(t, single.Stats().TotalDwell, layered.Stats().TotalDwell, 1e-9)
		}
	}
}

func TestLayerOrder(t *testing.T) {
	s := newSetup(t)
	m := testMap(t)
	sc, err := pointscan.Spiral(s, m.Radius(), true)
	require.NoError(t, err)
	st, err := Generate(s, sc, m, Options{LayerThickness: 0.1})
	require.NoError(t, err)

	require.Greater(t, len(st.Layers), 1)
	prevLayer, prevPoint := 0, -1
	n := 0
	for _, in := range st.Instructions {
		require.GreaterOrEqual(t, in.Layer, prevLayer)
		if in.Layer != prevLayer {
			prevPoint = -1
		}
		require.Greater(t, in.Point, prevPoint, "scan order within layer %d", in.Layer)
		require.Greater(t, in.Dwell, 0.0)
		prevLayer, prevPoint = in.Layer, in.Point
	}
	for i, l := range st.Layers {
		require.LessOrEqual(t, l.Thickness(), 0.1+1e-12)
		layer := st.Layer(i)
		for _, in := range layer {
			require.Equal(t, i, in.Layer)
		}
		n += len(layer)
	}
	require.Equal(t, len(st.Instructions), n)
	// Every point with a target depth dwells in the first layer.
	require.Len(t, st.Layer(0), st.Stats().Points)
}

func TestLayerBoundaryDepth(t *testing.T) {
	s := newSetup(t)
	floor, err := depthmap.Rectangle(4, 4, 0.2, f64.Vec2{})
	require.NoError(t, err)
	hole, err := depthmap.Circle(0.5, 0.3, f64.Vec2{})
	require.NoError(t, err)
	m := depthmap.MaxCombiner(floor, hole)
	sc, err := pointscan.ConcentricSquares(s, 4, 4, f64.Vec2{}, false)
	require.NoError(t, err)
	st, err := Generate(s, sc, m, Options{LayerThickness: 0.1})
	require.NoError(t, err)
	require.Len(t, st.Layers, 3)

	holePoints := 0
	for _, d := range st.Depths {
		if d == 0.3 {
			holePoints++
		}
	}
	require.Len(t, st.Layer(2), holePoints)
	for _, in := range st.Layer(2) {
		require.Equal(t, 0.3, st.Depths[in.Point], "point %d at %v", in.Point, in.Pos)
		require.InEpsilon(t, s.DwellTime(0.1), in.Dwell, 1e-9)
	}
	single, err := Generate(s, sc, m, Options{})
	require.NoError(t, err)
	want, got := single.PointDwell(), st.PointDwell()
	for i := range want {
		require.InDelta(t, want[i], got[i], 1e-9*max(1, want[i]), "point %d", i)
	}
}

func TestScanLength(t *testing.T) {
	s := newSetup(t)
	m := testMap(t)
	sc, err := pointscan.Serpentine(s, 3, 2, f64.Vec2{})
	require.NoError(t, err)
	st, err := Generate(s, sc, m, Options{})
	require.NoError(t, err)
	require.Len(t, st.Points, sc.Len())
	require.Equal(t, sc.Len(), cap(st.Points))
}

func TestWorkersDeterministic(t *testing.T) {
	s := newSetup(t)
	m := testMap(t)
	sc, err := pointscan.ConcentricSquares(s, 8, 8, f64.Vec2{}, false)
	require.NoError(t, err)
	ref, err := Generate(s, sc, m, Options{LayerThickness: 0.075, Workers: 1})
	require.NoError(t, err)
	for _, workers := range []int{2, 3, 16} {
		st, err := Generate(s, sc, m, Options{LayerThickness: 0.075, Workers: workers})
		require.NoError(t, err)
		require.Equal(t, ref.Instructions, st.Instructions, "%d workers", workers)
	}
}

func TestEmptyPattern(t *testing.T) {
	s := newSetup(t)
	far, err := depthmap.Circle(1, 1, f64.Vec2{30, 30})
	require.NoError(t, err)
	sc, err := pointscan.Spiral(s, 5, true)
	require.NoError(t, err)
	_, err = Generate(s, sc, far, Options{})
	require.ErrorIs(t, err, ErrEmptyPattern)
}

func TestOutsideField(t *testing.T) {
	s := newSetup(t)
	s.Zoom = 1e6
	circle, err := depthmap.Circle(1, 1, f64.Vec2{})
	require.NoError(t, err)
	sc, err := pointscan.Spiral(s, 1, true)
	require.NoError(t, err)
	_, err = Generate(s, sc, circle, Options{})
	require.ErrorIs(t, err, setup.ErrInvalidConfiguration)
}

type negativeMap struct{}

func (negativeMap) Depth(p f64.Vec2) float64 { return -1 }
func (negativeMap) Radius() float64          { return 1 }

func TestNegativeDepth(t *testing.T) {
	s := newSetup(t)
	sc, err := pointscan.Spiral(s, 1, true)
	require.NoError(t, err)
	_, err = Generate(s, sc, negativeMap{}, Options{})
	require.ErrorIs(t, err, setup.ErrInvalidGeometry)
}

func TestSlice(t *testing.T) {
	tests := []struct {
		depth, thickness float64
		layers           int
	}{
		{1, 0.075, 14},
		{0.3, 0.1, 3},
		{0.3, 0.075, 4},
		{0.05, 0.075, 1},
		{1, 0, 1},
		{1, -1, 1},
	}
	for _, test := range tests {
		layers := Slice(test.depth, test.thickness)
		require.Len(t, layers, test.layers, "%+v", test)
		require.Zero(t, layers[0].Top)
		require.Equal(t, test.depth, layers[len(layers)-1].Bottom)
		for i, l := range layers {
			require.Equal(t, i, l.Index)
			if i > 0 {
				require.Equal(t, layers[i-1].Bottom, l.Top)
			}
			if test.thickness > 0 {
				require.LessOrEqual(t, l.Thickness(), test.thickness*(1+1e-9))
			}
		}
	}
}
