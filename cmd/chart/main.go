package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot/vg"

	"github.com/giganbyte/overlay-server/internal/chart"
	"github.com/giganbyte/overlay-server/internal/logger"
	"github.com/giganbyte/overlay-server/internal/recorder"
)

func main() {
	opts := chart.DefaultOptions()

	var out string
	var widthIn, heightIn float64
	var logLevel string
	var logColor bool

	flag.StringVar(&out, "out", "", "Output file (default: input with the format's extension)")
	flag.StringVar(&opts.Model, "model", opts.Model, "Model name shown in the chart title")
	flag.StringVar(&opts.Format, "format", opts.Format, "Output format (png, svg, pdf, jpg)")
	flag.Float64Var(&widthIn, "width", 12.5, "Chart width in inches")
	flag.Float64Var(&heightIn, "height", 9.375, "Chart height in inches")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error, silent)")
	flag.BoolVar(&logColor, "log-color", true, "Enable colored log output")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] session.json...\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, logColor)

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if out != "" && flag.NArg() > 1 {
		log.Fatalf("-out needs exactly one input file")
	}
	opts.Width = vg.Length(widthIn) * vg.Inch
	opts.Height = vg.Length(heightIn) * vg.Inch

	failed := 0
	for _, in := range flag.Args() {
		dst := out
		if dst == "" {
			dst = strings.TrimSuffix(in, filepath.Ext(in)) + "." + opts.Format
		}
		if err := render(in, dst, opts); err != nil {
			logger.Error("Chart", "%s: %v", in, err)
			failed++
			continue
		}
		logger.Info("Chart", "Wrote %s", dst)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func render(in, out string, opts chart.Options) error {
	sum, err := recorder.LoadSummary(in)
	if err != nil {
		return err
	}
	if err := chart.Save(out, sum, opts); err != nil {
		return fmt.Errorf("failed to save chart: %w", err)
	}
	return nil
}
