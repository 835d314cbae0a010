// package golden compares generated streams with golden files.
package golden

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Compare got with the golden file at path, or replace the golden file
// if update is set. Golden files with a .gz extension are compressed.
// If dumpDir is set, the beam path is dumped as an SVG file there.
func Compare(path string, update bool, dumpDir string, got []byte, beam []image.Point) error {
	bpath := filepath.Base(path)
	if dumpDir != "" {
		fpath := filepath.Join(dumpDir, bpath+".svg")
		if err := dumpSVG(fpath, beam); err != nil {
			return err
		}
	}
	compressed := strings.HasSuffix(path, ".gz")
	if update {
		if !compressed {
			return os.WriteFile(path, got, 0o640)
		}
		buf := new(bytes.Buffer)
		w, err := gzip.NewWriterLevel(buf, gzip.BestCompression)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		w.Write(got)
		if err := w.Close(); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		return os.WriteFile(path, buf.Bytes(), 0o640)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var r io.Reader = f
	if compressed {
		gr, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		r = gr
	}
	want, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if bytes.Equal(got, want) {
		return nil
	}
	gotLines, wantLines := bytes.Split(got, []byte("\n")), bytes.Split(want, []byte("\n"))
	mismatches := 0
	first := -1
	for i := range min(len(gotLines), len(wantLines)) {
		if !bytes.Equal(gotLines[i], wantLines[i]) {
			mismatches++
			if first == -1 {
				first = i
			}
		}
	}
	if first == -1 {
		first = min(len(gotLines), len(wantLines))
	}
	return fmt.Errorf("%s: line counts %d, %d, with %d/%d line mismatches, first at line %d",
		path, len(gotLines), len(wantLines), mismatches, len(wantLines), first+1)
}

// Vectorize writes an SVG drawing of a beam path.
func Vectorize(f io.Writer, path []image.Point) error {
	const (
		margin      = 20
		strokeWidth = 4
	)
	out := bufio.NewWriter(f)

	var bounds image.Rectangle
	for i, p := range path {
		r := image.Rectangle{Min: p, Max: p.Add(image.Pt(1, 1))}
		if i == 0 {
			bounds = r
		} else {
			bounds = bounds.Union(r)
		}
	}
	w, h := bounds.Dx()+2*margin, bounds.Dy()+2*margin
	fmt.Fprintf(out, "<svg xmlns=\"http://www.w3.org/2000/svg\" viewBox=\"%d %d %d %d\" width=\"%d\" height=\"%d\">\n",
		bounds.Min.X-margin, bounds.Min.Y-margin, w, h, 600*w/h, 600)

	fmt.Fprintf(out, `<defs><style>
		.path { fill: none; stroke: #000; stroke-width: %d; stroke-linejoin: round; stroke-linecap: round; }
	</style></defs>`, strokeWidth)
	fmt.Fprint(out, `<path class="path" d="`)
	for i, p := range path {
		op := "L"
		if i == 0 {
			op = "M"
		}
		fmt.Fprintf(out, " %s %d %d", op, p.X, p.Y)
	}
	fmt.Fprintln(out, `" />`)
	fmt.Fprintln(out, "</svg>")
	return out.Flush()
}

func dumpSVG(f string, path []image.Point) error {
	buf := new(bytes.Buffer)
	Vectorize(buf, path)
	return os.WriteFile(f, buf.Bytes(), 0o640)
}
