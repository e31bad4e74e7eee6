// Command dewarptest runs the dewarping pipeline on an image or a synthetic
// page and prints its diagnostics.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"page-dewarp/internal/dewarp"
	"page-dewarp/internal/imageio"
	"page-dewarp/internal/imgbuf"
	"page-dewarp/internal/synth"
	"page-dewarp/internal/vision"
	"page-dewarp/internal/vision/cvops"
	"page-dewarp/internal/vision/goops"
)

func main() {
	imagePath := flag.String("image", "", "Path to page image (TIFF, PNG, or JPEG); empty renders a synthetic page")
	bow := flag.Float64("bow", 0, "Synthetic page: vertical bow of each line in pixels")
	words := flag.Int("words", 0, "Synthetic page: word width in pixels (0 draws solid lines)")
	backend := flag.String("backend", "go", "Vision backend: go or cv")
	surface := flag.String("surface", "cubic", "Page surface model: cubic or bicubic")
	optimizer := flag.String("optimizer", "powell", "Optimizer: powell or nelder-mead")
	iterations := flag.Int("iterations", 100, "Optimizer iteration cap")
	output := flag.String("o", "", "Write the flattened page here")
	flag.Parse()

	var ops vision.Ops = goops.New()
	if *backend == "cv" {
		ops = cvops.New()
	}

	var img *imgbuf.Image
	if *imagePath != "" {
		src, err := imageio.Load(*imagePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load image: %v\n", err)
			os.Exit(1)
		}
		img = src.Image
		fmt.Printf("Loaded %s image: %dx%d pixels\n", src.Format, img.W, img.H)
		if src.DPI > 0 {
			fmt.Printf("DPI: %.0f\n", src.DPI)
		}
	} else {
		page := synth.DefaultPage()
		page.Bow = *bow
		if *words > 0 {
			page.WordWidth, page.Gap = *words, 12
		}
		img = page.Render()
		fmt.Printf("Synthetic page: %dx%d pixels, %d lines, bow %.1f px\n",
			page.Width, page.Height, page.Lines, page.Bow)
	}

	cfg := dewarp.DefaultConfig().WithModel(*surface, *optimizer)
	cfg.OptimizerMaxIterations = *iterations
	fmt.Printf("\nModel: surface=%s optimizer=%s iterations<=%d backend=%s\n",
		cfg.Surface, cfg.Optimizer, cfg.OptimizerMaxIterations, ops.Name())

	fmt.Printf("\nDewarping...\n")
	res, err := dewarp.NewEngine(ops).Dewarp(img, cfg, dewarp.Options{
		Progress: func(phase string, percent int, message string) {
			fmt.Printf("  [%3d%%] %-9s %s\n", percent, phase, message)
		},
	})
	if res == nil {
		fmt.Fprintf(os.Stderr, "Dewarp failed: %v\n", err)
		os.Exit(1)
	}
	if err != nil {
		fmt.Printf("Warning: %v\n", err)
	}

	d := res.Diagnostics
	fmt.Printf("\nStatus: %s (run %s)\n", res.Status, d.RunID)
	fmt.Printf("  Detection: mode=%s scale=%d contours=%d spans=%d dropped=%d\n",
		d.Mode, d.DetectionScale, d.Contours, d.Spans, d.DroppedSpans)
	fmt.Printf("  Model: %d keypoints, %d parameters\n", d.Keypoints, d.Parameters)
	fmt.Printf("  Optimizer: %d iterations, %d evaluations, converged=%v\n",
		d.OptimizerIterations, d.OptimizerEvaluations, d.OptimizerConverged)
	fmt.Printf("  Error: initial %.6g final %.6g\n", res.InitialError, res.FinalError)
	fmt.Printf("  Page: rough %.4fx%.4f fitted %.4fx%.4f (%d dims iterations)\n",
		res.RoughDims.Width, res.RoughDims.Height, res.PageDims.Width, res.PageDims.Height, d.DimsIterations)
	if res.Params != nil {
		fmt.Printf("  Shape: %v\n", res.Params.Shape())
	}
	fmt.Printf("  Output: %dx%d (grid %.0fx%.0f, %d clamped)\n",
		res.Image.W, res.Image.H, d.RemapGrid.Width, d.RemapGrid.Height, d.ClampedSamples)

	fmt.Printf("\n%-10s %12s\n", "Phase", "Time")
	fmt.Println(strings.Repeat("-", 23))
	for _, pt := range d.Timings {
		fmt.Printf("%-10s %12s\n", pt.Phase, pt.Duration)
	}

	if *output != "" {
		if err := imageio.Save(*output, res.Image); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to save: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\nWrote %s\n", *output)
	}
}
