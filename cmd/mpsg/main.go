// command mpsg generates ion beam milling stream files from job files.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"mpsg.org/config"
	"mpsg.org/stream"
	"mpsg.org/streamfile"
)

var (
	output  = flag.String("o", "", "output stream file (default from job, or job name with format extension)")
	format  = flag.String("format", "", "stream file format, fei or cbor (default from job)")
	summary = flag.String("summary", "", "write the run summary to file instead of stdout")
	workers = flag.Int("workers", -1, "parallel workers, 0 for one per CPU (default from job)")
	verbose = flag.Bool("v", false, "verbose logging")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] job.hcl\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(os.Stdout, flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "mpsg: %v\n", err)
		os.Exit(1)
	}
}

func run(stdout io.Writer, jobPath string) error {
	job, err := config.Load(jobPath)
	if err != nil {
		return err
	}
	if *format != "" {
		job.Format = *format
	}
	if *workers >= 0 {
		job.Workers = *workers
	}
	r, err := job.Build()
	if err != nil {
		return err
	}
	slog.Debug("job loaded", "path", jobPath, "format", r.Format, "layer_thickness", r.Options.LayerThickness)

	start := time.Now()
	st, err := stream.Generate(r.Setup, r.Scanner, r.Map, r.Options)
	if err != nil {
		return err
	}
	slog.Info("stream generated",
		"points", len(st.Points),
		"instructions", len(st.Instructions),
		"layers", len(st.Layers),
		"max_depth", st.MaxDepth,
		"elapsed", time.Since(start))

	f, err := streamfile.New(st)
	if err != nil {
		return err
	}
	f.Format = r.Format
	path := outputPath(jobPath, r.Output, r.Format)
	if err := f.Write(path); err != nil {
		return err
	}
	slog.Info("stream file written", "path", path, "format", f.Format)

	sum := f.Summary()
	if *summary == "" {
		_, err := io.WriteString(stdout, sum)
		return err
	}
	if err := os.WriteFile(*summary, []byte(sum), 0o644); err != nil {
		return errors.Join(streamfile.ErrIO, err)
	}
	return nil
}

// outputPath chooses the -o flag, then the job's output, then the job
// file name with the extension of the format.
func outputPath(jobPath, jobOutput string, f streamfile.Format) string {
	switch {
	case *output != "":
		return *output
	case jobOutput != "":
		return jobOutput
	}
	base := jobPath
	if i := strings.LastIndexByte(base, '.'); i > strings.LastIndexByte(base, os.PathSeparator) {
		base = base[:i]
	}
	return base + f.Ext()
}
