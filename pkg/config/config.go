// Package config provides configuration loading and management for srlite.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"srlite/internal/models"
)

// File name suffixes used to derive per-scene paths from a TOA prefix
const (
	TOASuffix       = "-toa.yaml"
	TargetSuffix    = "-target.yaml"
	CloudMaskSuffix = "-toa.clouds.yaml"
)

// BandNamePair names a reference band and the candidate band paired with it
type BandNamePair struct {
	Reference string `yaml:"reference"`
	Candidate string `yaml:"candidate"`
}

func (p BandNamePair) String() string {
	return fmt.Sprintf("[%s, %s]", p.Reference, p.Candidate)
}

// Config represents the application configuration loaded from YAML.
// A Config is built once per run and must not be modified by the components it is passed to.
type Config struct {
	// Input rasters
	Input struct {
		// TargetPath is the reference (surface reflectance) raster
		TargetPath string `yaml:"targetPath"`

		// TOAPath is the full-resolution candidate (top-of-atmosphere) raster
		TOAPath string `yaml:"toaPath"`

		// CloudMaskPath is the cloud-mask raster paired with the TOA raster
		CloudMaskPath string `yaml:"cloudMaskPath"`

		// TOADir, TargetDir and CloudMaskDir are used in batch mode, where
		// scene paths are derived from each "<prefix>-toa.yaml" in TOADir
		TOADir       string `yaml:"toaDir"`
		TargetDir    string `yaml:"targetDir"`
		CloudMaskDir string `yaml:"cloudMaskDir"`
	} `yaml:"input"`

	// Band selection
	Bands struct {
		// Pairs lists the band pairs to correct, in output order
		Pairs []BandNamePair `yaml:"pairs"`

		// QualityBand is the band of the target raster carrying quality flags
		QualityBand int `yaml:"qualityBand"`

		// CloudBand is the band of the cloud-mask raster to read
		CloudBand int `yaml:"cloudBand"`
	} `yaml:"bands"`

	// Regression parameters
	Regression struct {
		// Model is one of ols, huber or rma
		Model string `yaml:"model"`

		// MinSamples is the smallest number of valid pixel pairs a fit accepts
		MinSamples int `yaml:"minSamples"`

		// HuberEpsilon is the scaled residual beyond which the Huber loss turns linear
		HuberEpsilon float64 `yaml:"huberEpsilon"`

		// MaxIterations bounds the iterative Huber fit
		MaxIterations int `yaml:"maxIterations"`
	} `yaml:"regression"`

	// Auxiliary masks
	Masks struct {
		Cloud bool `yaml:"cloud"`

		Quality         bool  `yaml:"quality"`
		QualityBadCodes []int `yaml:"qualityBadCodes"`

		Threshold    bool    `yaml:"threshold"`
		ThresholdMin float64 `yaml:"thresholdMin"`
		ThresholdMax float64 `yaml:"thresholdMax"`

		// WarnBelow triggers a diagnostic when valid samples fall below it.
		// ThresholdMin takes its place while the threshold mask is enabled.
		WarnBelow float64 `yaml:"warnBelow"`
	} `yaml:"masks"`

	// Processing parameters
	Processing struct {
		// Resampling is the kernel used to align rasters: average or nearest
		Resampling string `yaml:"resampling"`

		// NumWorkers is how many band pairs are processed concurrently
		NumWorkers int `yaml:"numWorkers"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// Dir receives the corrected stack
		Dir string `yaml:"dir"`

		// Suffix is appended to the scene prefix to name the corrected stack
		Suffix string `yaml:"suffix"`

		// NoData is written to every no-data cell of the output
		NoData float64 `yaml:"noData"`

		// Clean removes an existing output before writing
		Clean bool `yaml:"clean"`

		// DiagnosticsDir receives quicklook images when Quicklooks is set
		DiagnosticsDir string `yaml:"diagnosticsDir"`
		Quicklooks     bool   `yaml:"quicklooks"`

		// LogFile, when set, receives a copy of the log
		LogFile string `yaml:"logFile"`

		// DebugLevel: 0 none, 1 trace, 2 trace and quicklooks
		DebugLevel int `yaml:"debugLevel"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Bands.Pairs = []BandNamePair{
		{Reference: "blue_target", Candidate: "BAND-B"},
		{Reference: "green_target", Candidate: "BAND-G"},
		{Reference: "red_target", Candidate: "BAND-R"},
		{Reference: "nir_target", Candidate: "BAND-N"},
	}
	cfg.Bands.QualityBand = 8
	cfg.Bands.CloudBand = 1

	cfg.Regression.Model = "huber"
	cfg.Regression.MinSamples = 2
	cfg.Regression.HuberEpsilon = 1.35
	cfg.Regression.MaxIterations = 100

	cfg.Masks.QualityBadCodes = []int{0, 3, 4}
	cfg.Masks.ThresholdMin = -100
	cfg.Masks.ThresholdMax = 2000

	cfg.Processing.Resampling = "average"
	cfg.Processing.NumWorkers = 1

	cfg.Output.Dir = "."
	cfg.Output.Suffix = "-sr-02m.yaml"
	cfg.Output.NoData = -9999
	cfg.Output.DiagnosticsDir = "diagnostics"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}

// RegressionModel returns the parsed regression model.
func (c *Config) RegressionModel() (models.RegressionModel, error) {
	return models.ParseRegressionModel(c.Regression.Model)
}

// WarningThreshold returns the value below which samples trigger a diagnostic.
func (c *Config) WarningThreshold() float64 {
	if c.Masks.Threshold {
		return c.Masks.ThresholdMin
	}
	return c.Masks.WarnBelow
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	if len(c.Bands.Pairs) == 0 {
		return &models.ConfigurationError{Pair: "[]", Reason: "no band pairs configured"}
	}
	for _, p := range c.Bands.Pairs {
		if strings.TrimSpace(p.Reference) == "" || strings.TrimSpace(p.Candidate) == "" {
			return &models.ConfigurationError{Pair: p.String(), Reason: "empty band name"}
		}
	}
	if _, err := c.RegressionModel(); err != nil {
		return err
	}
	if c.Regression.MinSamples < 2 {
		return fmt.Errorf("regression.minSamples must be at least 2, got %d", c.Regression.MinSamples)
	}
	if c.Regression.HuberEpsilon <= 1 {
		return fmt.Errorf("regression.huberEpsilon must be greater than 1, got %g", c.Regression.HuberEpsilon)
	}
	if c.Masks.Threshold && c.Masks.ThresholdMin > c.Masks.ThresholdMax {
		return fmt.Errorf("masks.thresholdMin %g is greater than masks.thresholdMax %g",
			c.Masks.ThresholdMin, c.Masks.ThresholdMax)
	}
	if c.Masks.Quality && len(c.Masks.QualityBadCodes) == 0 {
		return fmt.Errorf("masks.quality enabled with an empty qualityBadCodes list")
	}
	switch c.Processing.Resampling {
	case "average", "nearest":
	default:
		return fmt.Errorf("unknown resampling method %q (must be average or nearest)", c.Processing.Resampling)
	}
	if c.Processing.NumWorkers < 1 {
		return fmt.Errorf("processing.numWorkers must be at least 1, got %d", c.Processing.NumWorkers)
	}
	return nil
}

// ScenePaths holds the per-scene file names derived from a TOA prefix
type ScenePaths struct {
	Prefix    string
	TOA       string
	Target    string
	CloudMask string
	Output    string
}

// ScenePaths derives the input and output paths of the scene named prefix.
func (c *Config) ScenePaths(prefix string) ScenePaths {
	return ScenePaths{
		Prefix:    prefix,
		TOA:       filepath.Join(c.Input.TOADir, prefix+TOASuffix),
		Target:    filepath.Join(c.Input.TargetDir, prefix+TargetSuffix),
		CloudMask: filepath.Join(c.Input.CloudMaskDir, prefix+CloudMaskSuffix),
		Output:    filepath.Join(c.Output.Dir, prefix+c.Output.Suffix),
	}
}

// ScenePrefixes lists the scene prefixes of every TOA raster in the TOA directory.
func (c *Config) ScenePrefixes() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(c.Input.TOADir, "*"+TOASuffix))
	if err != nil {
		return nil, fmt.Errorf("error listing TOA directory: %w", err)
	}
	prefixes := make([]string, 0, len(matches))
	for _, m := range matches {
		prefixes = append(prefixes, strings.TrimSuffix(filepath.Base(m), TOASuffix))
	}
	return prefixes, nil
}
