package dewarp

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"negative x margin": func(c *Config) { c.XMargin = -5 },
		"negative y margin": func(c *Config) { c.YMargin = -1 },
		"zero focal":        func(c *Config) { c.FocalLength = 0 },
		"zero zoom":         func(c *Config) { c.OutputZoom = 0 },
		"even block":        func(c *Config) { c.AdaptiveThresholdBlockSize = 54 },
		"zero decimation":   func(c *Config) { c.RemapDecimationFactor = 0 },
		"zero iterations":   func(c *Config) { c.OptimizerMaxIterations = 0 },
		"zero tolerance":    func(c *Config) { c.OptimizerTolerance = 0 },
		"unknown surface":   func(c *Config) { c.Surface = "spline" },
		"unknown optimizer": func(c *Config) { c.Optimizer = "bfgs" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfigValidation))
			assert.Equal(t, ConfigValidationError, KindOf(err))
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig().WithMargins(-1, -2)
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xMargin -1")
	assert.Contains(t, err.Error(), "yMargin -2")
}

func TestWithModifiersCopy(t *testing.T) {
	base := DefaultConfig()
	mod := base.WithZoom(2).WithBinary(false).WithModel("bicubic", "nelder-mead")
	assert.Equal(t, 1.0, base.OutputZoom)
	assert.Equal(t, 2.0, mod.OutputZoom)
	assert.True(t, mod.NoBinary)
	assert.Equal(t, "bicubic", mod.Surface)
	assert.Equal(t, "nelder-mead", mod.Optimizer)
	require.NoError(t, mod.Validate())
}

func TestLoadConfigOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"xMargin": 10, "noBinary": true}`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.XMargin)
	assert.True(t, cfg.NoBinary)
	assert.Equal(t, DefaultConfig().YMargin, cfg.YMargin)
	assert.Equal(t, DefaultConfig().FocalLength, cfg.FocalLength)
}

func TestLoadConfigRejects(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"xMargin": `), 0644))
	_, err := LoadConfig(bad)
	assert.ErrorIs(t, err, ErrConfigValidation)

	invalid := filepath.Join(dir, "invalid.json")
	require.NoError(t, os.WriteFile(invalid, []byte(`{"focalLength": -1}`), 0644))
	_, err = LoadConfig(invalid)
	assert.ErrorIs(t, err, ErrConfigValidation)

	_, err = LoadConfig(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	want := DefaultConfig().WithMargins(30, 10).WithZoom(1.5)
	require.NoError(t, want.SaveToFile(path))

	got, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestErrorKinds(t *testing.T) {
	err := Exhausted("serve", errors.New("deadline"))
	assert.ErrorIs(t, err, ErrResourceExhausted)
	assert.NotErrorIs(t, err, ErrStructureNotFound)
	assert.Equal(t, ResourceExhausted, KindOf(err))
	assert.Equal(t, "resource_exhausted", ResourceExhausted.String())
	assert.Equal(t, OK, KindOf(nil))
	assert.Equal(t, Kind(-1), KindOf(errors.New("plain")))
	assert.Contains(t, err.Error(), "deadline")
}
