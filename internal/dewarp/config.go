package dewarp

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"page-dewarp/internal/model"
	"page-dewarp/internal/optimize"
)

// Config holds every tunable of a dewarp run. Pixel quantities refer to the
// detection image (after the optional screen downscale); page quantities are
// in normalized units where the longer image side spans 2.
type Config struct {
	XMargin int `json:"xMargin"` // Page inset ignored by detection, px
	YMargin int `json:"yMargin"`

	OutputZoom            float64 `json:"outputZoom"`            // Output scale relative to 0.5 × page height × source height
	NoBinary              bool    `json:"noBinary"`              // Skip the final adaptive threshold
	RemapDecimationFactor int     `json:"remapDecimationFactor"` // Remap grid stride, px
	OutputThresholdC      float64 `json:"outputThresholdC"`

	AdaptiveThresholdBlockSize int     `json:"adaptiveThresholdBlockSize"`
	TextThresholdC             float64 `json:"textThresholdC"`
	LineThresholdC             float64 `json:"lineThresholdC"`
	MinSpansForText            int     `json:"minSpansForText"` // Fewer spans retries in line mode
	ScreenMaxWidth             int     `json:"screenMaxWidth"`  // Detection downscale bound; 0 disables
	ScreenMaxHeight            int     `json:"screenMaxHeight"`

	TextMinWidth     int     `json:"textMinWidth"`
	TextMinHeight    int     `json:"textMinHeight"`
	TextMinAspect    float64 `json:"textMinAspect"`
	TextMaxThickness int     `json:"textMaxThickness"`

	EdgeMaxLength  float64 `json:"edgeMaxLength"`  // px
	EdgeMaxOverlap float64 `json:"edgeMaxOverlap"` // px
	EdgeMaxAngle   float64 `json:"edgeMaxAngle"`   // degrees
	EdgeAngleCost  float64 `json:"edgeAngleCost"`

	SpanMinWidth  float64 `json:"spanMinWidth"`  // px
	SpanPxPerStep int     `json:"spanPxPerStep"` // Keypoint sampling stride, px

	FocalLength            float64 `json:"focalLength"`
	OptimizerMaxIterations int     `json:"optimizerMaxIterations"`
	OptimizerTolerance     float64 `json:"optimizerTolerance"`
	DimsMaxIterations      int     `json:"dimsMaxIterations"`
	Optimizer              string  `json:"optimizer"`
	Surface                string  `json:"surface"`
}

// DefaultConfig returns the reference parameters.
func DefaultConfig() Config {
	return Config{
		XMargin: 50,
		YMargin: 20,

		OutputZoom:            1.0,
		NoBinary:              false,
		RemapDecimationFactor: 16,
		OutputThresholdC:      25,

		AdaptiveThresholdBlockSize: 55,
		TextThresholdC:             25,
		LineThresholdC:             7,
		MinSpansForText:            3,
		ScreenMaxWidth:             1280,
		ScreenMaxHeight:            700,

		TextMinWidth:     15,
		TextMinHeight:    2,
		TextMinAspect:    1.5,
		TextMaxThickness: 10,

		EdgeMaxLength:  100.0,
		EdgeMaxOverlap: 1.0,
		EdgeMaxAngle:   7.5,
		EdgeAngleCost:  10.0,

		SpanMinWidth:  30,
		SpanPxPerStep: 20,

		FocalLength:            1.2,
		OptimizerMaxIterations: 100,
		OptimizerTolerance:     1e-8,
		DimsMaxIterations:      100,
		Optimizer:              "powell",
		Surface:                "cubic",
	}
}

// WithMargins returns a copy with the page inset changed.
func (c Config) WithMargins(x, y int) Config {
	c.XMargin, c.YMargin = x, y
	return c
}

// WithZoom returns a copy with a different output scale.
func (c Config) WithZoom(zoom float64) Config {
	c.OutputZoom = zoom
	return c
}

// WithBinary returns a copy that applies (or skips) the bilevel output step.
func (c Config) WithBinary(binary bool) Config {
	c.NoBinary = !binary
	return c
}

// WithScreenMax returns a copy with a different detection downscale bound.
// Zero for both disables downscaling.
func (c Config) WithScreenMax(w, h int) Config {
	c.ScreenMaxWidth, c.ScreenMaxHeight = w, h
	return c
}

// WithModel returns a copy using the named surface and optimizer.
func (c Config) WithModel(surface, optimizer string) Config {
	c.Surface, c.Optimizer = surface, optimizer
	return c
}

// Validate rejects malformed configurations. Values are never clamped.
func (c Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.XMargin >= 0, "xMargin %d must not be negative", c.XMargin)
	check(c.YMargin >= 0, "yMargin %d must not be negative", c.YMargin)
	check(c.OutputZoom > 0, "outputZoom %v must be positive", c.OutputZoom)
	check(c.RemapDecimationFactor > 0, "remapDecimationFactor %d must be positive", c.RemapDecimationFactor)
	check(c.AdaptiveThresholdBlockSize >= 3 && c.AdaptiveThresholdBlockSize%2 == 1,
		"adaptiveThresholdBlockSize %d must be odd and at least 3", c.AdaptiveThresholdBlockSize)
	check(c.MinSpansForText >= 0, "minSpansForText %d must not be negative", c.MinSpansForText)
	check(c.ScreenMaxWidth >= 0 && c.ScreenMaxHeight >= 0,
		"screen bounds %dx%d must not be negative", c.ScreenMaxWidth, c.ScreenMaxHeight)
	check(c.TextMinWidth > 0, "textMinWidth %d must be positive", c.TextMinWidth)
	check(c.TextMinHeight > 0, "textMinHeight %d must be positive", c.TextMinHeight)
	check(c.TextMinAspect > 0, "textMinAspect %v must be positive", c.TextMinAspect)
	check(c.TextMaxThickness > 0, "textMaxThickness %d must be positive", c.TextMaxThickness)
	check(c.EdgeMaxLength > 0, "edgeMaxLength %v must be positive", c.EdgeMaxLength)
	check(c.EdgeMaxOverlap >= 0, "edgeMaxOverlap %v must not be negative", c.EdgeMaxOverlap)
	check(c.EdgeMaxAngle > 0, "edgeMaxAngle %v must be positive", c.EdgeMaxAngle)
	check(c.EdgeAngleCost >= 0, "edgeAngleCost %v must not be negative", c.EdgeAngleCost)
	check(c.SpanMinWidth > 0, "spanMinWidth %v must be positive", c.SpanMinWidth)
	check(c.SpanPxPerStep > 0, "spanPxPerStep %d must be positive", c.SpanPxPerStep)
	check(c.FocalLength > 0, "focalLength %v must be positive", c.FocalLength)
	check(c.OptimizerMaxIterations > 0, "optimizerMaxIterations %d must be positive", c.OptimizerMaxIterations)
	check(c.OptimizerTolerance > 0, "optimizerTolerance %v must be positive", c.OptimizerTolerance)
	check(c.DimsMaxIterations > 0, "dimsMaxIterations %d must be positive", c.DimsMaxIterations)

	if _, err := model.NewSurface(c.Surface); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := optimize.New(c.Optimizer, 1, 1); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return &Error{Kind: ConfigValidationError, Op: "validate", Err: errors.New(strings.Join(problems, "; "))}
	}
	return nil
}

// SaveToFile writes the configuration as indented JSON.
func (c Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadConfig reads a JSON configuration over the defaults and validates it.
// Fields missing from the file keep their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, &Error{Kind: ConfigValidationError, Op: "load config", Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}
