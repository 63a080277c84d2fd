package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"srlite/internal/models"
)

// TestDefaultConfig verifies the defaults match the documented run settings
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if len(cfg.Bands.Pairs) != 4 {
		t.Fatalf("Expected 4 default band pairs, got %d", len(cfg.Bands.Pairs))
	}
	if cfg.Bands.Pairs[0].Candidate != "BAND-B" {
		t.Errorf("Expected first candidate band BAND-B, got %s", cfg.Bands.Pairs[0].Candidate)
	}
	if !reflect.DeepEqual(cfg.Masks.QualityBadCodes, []int{0, 3, 4}) {
		t.Errorf("Expected default bad codes [0 3 4], got %v", cfg.Masks.QualityBadCodes)
	}
	if cfg.Output.NoData != -9999 {
		t.Errorf("Expected default no-data -9999, got %f", cfg.Output.NoData)
	}
	model, err := cfg.RegressionModel()
	if err != nil {
		t.Fatalf("Default regression model does not parse: %v", err)
	}
	if model != models.Huber {
		t.Errorf("Expected default model huber, got %s", model)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate, got %v", err)
	}
}

// TestLoadConfigMissingFile verifies that a missing file yields the defaults
func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Errorf("Expected default config for a missing file")
	}
}

// TestSaveAndLoadConfig verifies overrides survive a save/load cycle
func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "srlite.yaml")

	cfg := DefaultConfig()
	cfg.Regression.Model = "rma"
	cfg.Masks.Threshold = true
	cfg.Masks.ThresholdMin = 10
	cfg.Bands.Pairs = []BandNamePair{{Reference: "red", Candidate: "R"}}

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Regression.Model != "rma" {
		t.Errorf("Expected model rma, got %s", loaded.Regression.Model)
	}
	if len(loaded.Bands.Pairs) != 1 || loaded.Bands.Pairs[0].Candidate != "R" {
		t.Errorf("Expected a single pair [red, R], got %v", loaded.Bands.Pairs)
	}
	if loaded.WarningThreshold() != 10 {
		t.Errorf("Expected warning threshold to follow thresholdMin, got %f", loaded.WarningThreshold())
	}
}

// TestLoadConfigPartialOverride verifies unset keys keep their defaults
func TestLoadConfigPartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	content := "regression:\n  model: simple\nmasks:\n  quality: true\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	model, err := cfg.RegressionModel()
	if err != nil || model != models.OLS {
		t.Errorf("Expected legacy name simple to parse as ols, got %v (%v)", model, err)
	}
	if !cfg.Masks.Quality {
		t.Errorf("Expected quality mask enabled")
	}
	if cfg.Bands.QualityBand != 8 {
		t.Errorf("Expected default quality band 8, got %d", cfg.Bands.QualityBand)
	}
}

// TestValidate covers the rejected configurations
func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no pairs", func(c *Config) { c.Bands.Pairs = nil }},
		{"empty band name", func(c *Config) { c.Bands.Pairs = []BandNamePair{{Reference: "blue"}} }},
		{"unknown model", func(c *Config) { c.Regression.Model = "lasso" }},
		{"min samples", func(c *Config) { c.Regression.MinSamples = 1 }},
		{"threshold range", func(c *Config) {
			c.Masks.Threshold = true
			c.Masks.ThresholdMin = 5
			c.Masks.ThresholdMax = 1
		}},
		{"resampling", func(c *Config) { c.Processing.Resampling = "cubic" }},
		{"workers", func(c *Config) { c.Processing.NumWorkers = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Expected validation error")
			}
		})
	}

	cfg := DefaultConfig()
	cfg.Bands.Pairs = nil
	var cfgErr *models.ConfigurationError
	if !errors.As(cfg.Validate(), &cfgErr) {
		t.Errorf("Expected a ConfigurationError for missing pairs")
	}
}

// TestScenePaths verifies the per-scene naming convention
func TestScenePaths(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Input.TOADir = dir
	cfg.Input.TargetDir = "/target"
	cfg.Input.CloudMaskDir = "/clouds"
	cfg.Output.Dir = "/out"

	paths := cfg.ScenePaths("WV02_20200101")
	if paths.Target != "/target/WV02_20200101-target.yaml" {
		t.Errorf("Unexpected target path %s", paths.Target)
	}
	if paths.CloudMask != "/clouds/WV02_20200101-toa.clouds.yaml" {
		t.Errorf("Unexpected cloud mask path %s", paths.CloudMask)
	}
	if paths.Output != "/out/WV02_20200101-sr-02m.yaml" {
		t.Errorf("Unexpected output path %s", paths.Output)
	}

	for _, name := range []string{"b-toa.yaml", "a-toa.yaml", "a-toa.clouds.yaml", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatalf("Failed to create %s: %v", name, err)
		}
	}
	prefixes, err := cfg.ScenePrefixes()
	if err != nil {
		t.Fatalf("ScenePrefixes failed: %v", err)
	}
	if !reflect.DeepEqual(prefixes, []string{"a", "b"}) {
		t.Errorf("Expected prefixes [a b], got %v", prefixes)
	}
}
