// package config loads milling jobs from HCL or YAML files.
package config

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"golang.org/x/image/math/f64"
	"gopkg.in/yaml.v3"
	"mpsg.org/affine"
	"mpsg.org/depthmap"
	"mpsg.org/pointscan"
	"mpsg.org/setup"
	"mpsg.org/stream"
	"mpsg.org/streamfile"
)

// Job describes a single milling run: the machine, the shapes to mill,
// the scan path and the output.
type Job struct {
	Machine        Machine     `hcl:"machine,block" yaml:"machine"`
	LayerThickness float64     `hcl:"layer_thickness,optional" yaml:"layer_thickness"`
	Workers        int         `hcl:"workers,optional" yaml:"workers"`
	Combine        string      `hcl:"combine,optional" yaml:"combine"`
	Circles        []Circle    `hcl:"circle,block" yaml:"circles"`
	Domes          []Dome      `hcl:"dome,block" yaml:"domes"`
	Rectangles     []Rectangle `hcl:"rectangle,block" yaml:"rectangles"`
	Scan           Scan        `hcl:"scan,block" yaml:"scan"`
	Output         string      `hcl:"output,optional" yaml:"output"`
	Format         string      `hcl:"format,optional" yaml:"format"`
}

type Machine struct {
	SputterRate float64 `hcl:"sputter_rate" yaml:"sputter_rate"`
	BeamCurrent float64 `hcl:"beam_current" yaml:"beam_current"`
	StepSize    float64 `hcl:"step_size" yaml:"step_size"`
	Zoom        float64 `hcl:"zoom" yaml:"zoom"`
	// ReferenceFieldWidth overrides the field width at zoom 1.
	ReferenceFieldWidth float64 `hcl:"reference_field_width,optional" yaml:"reference_field_width"`
}

type Circle struct {
	Radius float64   `hcl:"radius" yaml:"radius"`
	Depth  float64   `hcl:"depth" yaml:"depth"`
	Center []float64 `hcl:"center,optional" yaml:"center"`
}

type Dome struct {
	PremillDepth    float64   `hcl:"premill_depth" yaml:"premill_depth"`
	Radius          float64   `hcl:"radius" yaml:"radius"`
	Sag             float64   `hcl:"sag" yaml:"sag"`
	RecessClearance float64   `hcl:"recess_clearance" yaml:"recess_clearance"`
	SlopeLength     float64   `hcl:"slope_length" yaml:"slope_length"`
	Center          []float64 `hcl:"center,optional" yaml:"center"`
}

type Rectangle struct {
	Width  float64   `hcl:"width" yaml:"width"`
	Height float64   `hcl:"height" yaml:"height"`
	Depth  float64   `hcl:"depth" yaml:"depth"`
	Center []float64 `hcl:"center,optional" yaml:"center"`
	// Rotation around the center in degrees, counterclockwise.
	Rotation float64 `hcl:"rotation,optional" yaml:"rotation"`
}

// Scan selects the scan path. Type is one of "spiral",
// "concentric_squares" and "serpentine".
type Scan struct {
	Type string `hcl:"type,label" yaml:"type"`
	// Radius of a spiral. It defaults to the extent of the shapes.
	Radius    float64   `hcl:"radius,optional" yaml:"radius"`
	Width     float64   `hcl:"width,optional" yaml:"width"`
	Height    float64   `hcl:"height,optional" yaml:"height"`
	InsideOut bool      `hcl:"inside_out,optional" yaml:"inside_out"`
	Center    []float64 `hcl:"center,optional" yaml:"center"`
}

// Load reads a job file. The file format is chosen by extension:
// .hcl and .json files are HCL, .yaml and .yml files are YAML.
func Load(path string) (*Job, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".hcl", ".json":
		return loadHCL(path, ext == ".json")
	case ".yaml", ".yml":
		return loadYAML(path)
	default:
		return nil, fmt.Errorf("config: %s: unknown job file extension %q: %w", path, ext, setup.ErrInvalidConfiguration)
	}
}

func loadHCL(path string, json bool) (*Job, error) {
	parser := hclparse.NewParser()
	var (
		file  *hcl.File
		diags hcl.Diagnostics
	)
	if json {
		file, diags = parser.ParseJSONFile(path)
	} else {
		file, diags = parser.ParseHCLFile(path)
	}
	if diags.HasErrors() {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, diags)
	}
	job := new(Job)
	if diags := gohcl.DecodeBody(file.Body, nil, job); diags.HasErrors() {
		return nil, fmt.Errorf("config: failed to decode %s: %w", path, diags)
	}
	return job, nil
}

func loadYAML(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return ParseYAML(data)
}

// ParseYAML decodes a YAML job. Unknown fields are errors.
func ParseYAML(data []byte) (*Job, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	job := new(Job)
	if err := dec.Decode(job); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return job, nil
}

// Run is a job resolved into the values that drive generation.
type Run struct {
	Setup   *setup.Setup
	Map     depthmap.Map
	Scanner pointscan.Scanner
	Options stream.Options
	Format  streamfile.Format
	// Output is the stream file path, or empty if the job
	// names none.
	Output string
}

// Build validates the job and constructs its components.
func (j *Job) Build() (*Run, error) {
	m := j.Machine
	fieldWidth := m.ReferenceFieldWidth
	if fieldWidth == 0 {
		fieldWidth = setup.DefaultReferenceFieldWidth
	}
	s, err := setup.NewWithFieldWidth(m.SputterRate, m.BeamCurrent, m.StepSize, m.Zoom, fieldWidth)
	if err != nil {
		return nil, fmt.Errorf("config: machine: %w", err)
	}
	dm, err := j.depthMap()
	if err != nil {
		return nil, err
	}
	sc, err := j.Scan.build(s, dm)
	if err != nil {
		return nil, err
	}
	if j.Workers < 0 {
		return nil, fmt.Errorf("config: workers %d: %w", j.Workers, setup.ErrInvalidConfiguration)
	}
	format, err := streamfile.ParseFormat(j.Format)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &Run{
		Setup:   s,
		Map:     dm,
		Scanner: sc,
		Options: stream.Options{
			LayerThickness: j.LayerThickness,
			Workers:        j.Workers,
		},
		Format: format,
		Output: j.Output,
	}, nil
}

func (j *Job) depthMap() (depthmap.Map, error) {
	var maps []depthmap.Map
	for i, c := range j.Circles {
		center, err := vec("circle", c.Center)
		if err != nil {
			return nil, err
		}
		m, err := depthmap.Circle(c.Radius, c.Depth, center)
		if err != nil {
			return nil, fmt.Errorf("config: circle %d: %w", i, err)
		}
		maps = append(maps, m)
	}
	for i, d := range j.Domes {
		center, err := vec("dome", d.Center)
		if err != nil {
			return nil, err
		}
		m, err := depthmap.FullRecessedDome(d.PremillDepth, d.Radius, d.Sag, d.RecessClearance, d.SlopeLength)
		if err != nil {
			return nil, fmt.Errorf("config: dome %d: %w", i, err)
		}
		if center == (f64.Vec2{}) {
			maps = append(maps, m)
		} else {
			maps = append(maps, depthmap.Translate(m, center))
		}
	}
	for i, r := range j.Rectangles {
		center, err := vec("rectangle", r.Center)
		if err != nil {
			return nil, err
		}
		if r.Rotation == 0 {
			m, err := depthmap.Rectangle(r.Width, r.Height, r.Depth, center)
			if err != nil {
				return nil, fmt.Errorf("config: rectangle %d: %w", i, err)
			}
			maps = append(maps, m)
			continue
		}
		m, err := depthmap.Rectangle(r.Width, r.Height, r.Depth, f64.Vec2{})
		if err != nil {
			return nil, fmt.Errorf("config: rectangle %d: %w", i, err)
		}
		rot := affine.Mul(affine.Offsetting(center), affine.Rotating(r.Rotation*math.Pi/180))
		tm, err := depthmap.Transform(m, rot)
		if err != nil {
			return nil, fmt.Errorf("config: rectangle %d: %w", i, err)
		}
		maps = append(maps, tm)
	}
	if len(maps) == 0 {
		return nil, fmt.Errorf("config: no shapes to mill: %w", setup.ErrInvalidGeometry)
	}
	switch j.Combine {
	case "", "sum":
		if len(maps) == 1 {
			return maps[0], nil
		}
		return depthmap.SummingCombiner(maps...), nil
	case "max":
		return depthmap.MaxCombiner(maps...), nil
	default:
		return nil, fmt.Errorf("config: unknown combiner %q: %w", j.Combine, setup.ErrInvalidConfiguration)
	}
}

func (sc Scan) build(s *setup.Setup, m depthmap.Map) (pointscan.Scanner, error) {
	center, err := vec("scan", sc.Center)
	if err != nil {
		return nil, err
	}
	// Rectangular scans default to the square around the shapes.
	width, height := sc.Width, sc.Height
	if width == 0 && height == 0 {
		width = 2 * m.Radius()
		height = width
	}
	switch sc.Type {
	case "spiral":
		r := sc.Radius
		if r == 0 {
			r = m.Radius()
		}
		sp, err := pointscan.Spiral(s, r, sc.InsideOut)
		if err != nil {
			return nil, fmt.Errorf("config: spiral scan: %w", err)
		}
		sp.Center = center
		return sp, nil
	case "concentric_squares":
		cs, err := pointscan.ConcentricSquares(s, width, height, center, sc.InsideOut)
		if err != nil {
			return nil, fmt.Errorf("config: concentric squares scan: %w", err)
		}
		return cs, nil
	case "serpentine":
		sp, err := pointscan.Serpentine(s, width, height, center)
		if err != nil {
			return nil, fmt.Errorf("config: serpentine scan: %w", err)
		}
		return sp, nil
	}
	return nil, fmt.Errorf("config: unknown scan type %q: %w", sc.Type, setup.ErrInvalidConfiguration)
}

func vec(kind string, v []float64) (f64.Vec2, error) {
	switch len(v) {
	case 0:
		return f64.Vec2{}, nil
	case 2:
		return f64.Vec2{v[0], v[1]}, nil
	}
	return f64.Vec2{}, fmt.Errorf("config: %s center %v is not a point: %w", kind, v, setup.ErrInvalidConfiguration)
}
