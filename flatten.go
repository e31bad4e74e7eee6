package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"page-dewarp/internal/dewarp"
	"page-dewarp/internal/imageio"
	"page-dewarp/internal/ocr"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// flattenCmd represents the flatten command.
var flattenCmd = &cobra.Command{
	Use:   "flatten <image>...",
	Short: "Flatten page photographs",
	Long: `Flatten one or more page photographs. Each output is written next to
its input as <name>_thresh.png unless -o is given (single input only).

Pages without detectable text lines are written unchanged and reported with
status structure_not_found.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFlatten,
}

func init() {
	rootCmd.AddCommand(flattenCmd)

	flattenCmd.Flags().StringP("output", "o", "", "output file (png, jpg or tif)")
	flattenCmd.Flags().Float64("zoom", 0, "output zoom factor (overrides config)")
	flattenCmd.Flags().Bool("no-binary", false, "keep continuous-tone output instead of thresholding")
	flattenCmd.Flags().Bool("ocr", false, "run Tesseract on the flattened page and print its text (with --json, also word boxes)")
	flattenCmd.Flags().StringSlice("ocr-lang", []string{"eng"}, "Tesseract language codes")
	flattenCmd.Flags().String("debug-dir", "", "directory to write intermediate images and diagnostics")
	flattenCmd.Flags().Bool("json", false, "print per-file diagnostics as JSON")
}

func runFlatten(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	if output != "" && len(args) > 1 {
		return errors.New("-o can only be used with a single input")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("zoom") {
		zoom, _ := cmd.Flags().GetFloat64("zoom")
		cfg = cfg.WithZoom(zoom)
	}
	if noBinary, _ := cmd.Flags().GetBool("no-binary"); noBinary {
		cfg = cfg.WithBinary(false)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	engine, err := newEngine(cmd)
	if err != nil {
		return err
	}

	var reader *ocr.Engine
	if withOCR, _ := cmd.Flags().GetBool("ocr"); withOCR {
		langs, _ := cmd.Flags().GetStringSlice("ocr-lang")
		if reader, err = ocr.NewEngine(langs...); err != nil {
			return err
		}
		defer reader.Close()
	}

	debugDir, _ := cmd.Flags().GetString("debug-dir")
	if debugDir != "" {
		if err := os.MkdirAll(debugDir, 0755); err != nil {
			return fmt.Errorf("failed to create debug dir: %w", err)
		}
	}
	asJSON, _ := cmd.Flags().GetBool("json")

	failed := 0
	for _, in := range args {
		out := output
		if out == "" {
			out = defaultOutputPath(in)
		}
		if err := flattenOne(engine, cfg, in, out, debugDir, reader, asJSON); err != nil {
			log.Error().Str("component", "CLI").Str("input", in).Err(err).Msg("flatten failed")
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d inputs failed", failed, len(args))
	}
	return nil
}

func flattenOne(engine *dewarp.Engine, cfg dewarp.Config, in, out, debugDir string, reader *ocr.Engine, asJSON bool) error {
	src, err := imageio.Load(in)
	if err != nil {
		return err
	}
	logger := log.With().Str("component", "CLI").Str("input", in).Logger()
	logger.Info().Str("format", src.Format).Int("width", src.Image.W).Int("height", src.Image.H).
		Msg("loaded image")

	opts := dewarp.Options{
		Debug: debugDir != "",
		Progress: func(phase string, percent int, message string) {
			logger.Debug().Str("phase", phase).Int("percent", percent).Msg(message)
		},
	}
	res, runErr := engine.Dewarp(src.Image, cfg, opts)
	if res == nil {
		return runErr
	}
	if runErr != nil {
		logger.Warn().Err(runErr).Msg("writing original image")
	}

	if err := imageio.Save(out, res.Image); err != nil {
		return err
	}
	logger.Info().Str("output", out).Str("status", res.Status.String()).
		Int("width", res.Image.W).Int("height", res.Image.H).Msg("wrote page")

	if res.Debug != nil {
		if err := writeDebugBundle(debugDir, in, res); err != nil {
			logger.Warn().Err(err).Msg("debug output incomplete")
		}
	}
	report := newFlattenReport(in, out, res)
	if reader != nil {
		if report.Text, err = reader.RecognizePage(res.Image); err != nil {
			return fmt.Errorf("ocr: %w", err)
		}
		if asJSON {
			if report.Words, err = reader.RecognizeWords(res.Image); err != nil {
				return fmt.Errorf("ocr: %w", err)
			}
		}
	}
	if asJSON {
		js, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(js))
	} else if reader != nil {
		fmt.Printf("==> %s <==\n%s\n", out, report.Text)
	}
	return nil
}

// flattenReport is the per-input JSON record printed by flatten --json.
// Text and Words are filled only with --ocr.
type flattenReport struct {
	Input       string             `json:"input"`
	Output      string             `json:"output"`
	Status      string             `json:"status"`
	Diagnostics dewarp.Diagnostics `json:"diagnostics"`
	Text        string             `json:"text,omitempty"`
	Words       []ocr.Result       `json:"words,omitempty"`
}

func newFlattenReport(in, out string, res *dewarp.Result) flattenReport {
	return flattenReport{
		Input:       in,
		Output:      out,
		Status:      res.Status.String(),
		Diagnostics: res.Diagnostics,
	}
}

// defaultOutputPath maps scan.jpg to scan_thresh.png.
func defaultOutputPath(in string) string {
	ext := filepath.Ext(in)
	return strings.TrimSuffix(in, ext) + "_thresh.png"
}

// writeDebugBundle saves every intermediate image as
// <input>_<name>.png plus the diagnostics as JSON.
func writeDebugBundle(dir, in string, res *dewarp.Result) error {
	base := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
	for _, di := range res.Debug.Images {
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.png", base, di.Name))
		if err := imageio.Save(path, di.Image); err != nil {
			return err
		}
	}
	js, err := json.MarshalIndent(res.Diagnostics, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, base+"_diagnostics.json"), js, 0644)
}
