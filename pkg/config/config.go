// Package config provides configuration loading and management for voxelcore.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"voxelcore/pkg/data"
	"voxelcore/pkg/numeric"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	Logging struct {
		// Level is one of debug, info, warn and error
		Level string `yaml:"level"`

		// Development switches to the console encoder and enables stack traces on warnings
		Development bool `yaml:"development"`
	} `yaml:"logging"`

	Chunk struct {
		// Needed lists the properties every chunk must carry
		Needed []string `yaml:"needed"`

		// SecondarySort orders chunks sharing one origin
		SecondarySort []string `yaml:"secondarySort"`
	} `yaml:"chunk"`

	Image struct {
		// Needed lists the properties an indexed image must carry
		Needed []string `yaml:"needed"`

		// EqualProps must not differ between chunks of one image
		EqualProps []string `yaml:"equalProps"`
	} `yaml:"image"`

	Scaling struct {
		// Policy is the default range mapping policy (autoscale, noupscale, upscale, noscale)
		Policy string `yaml:"policy"`
	} `yaml:"scaling"`

	// Ingest parameters for slice directories
	Ingest struct {
		// SliceThickness is the physical thickness of one slice in mm
		SliceThickness float64 `yaml:"sliceThickness"`

		// SliceGap represents the physical distance between consecutive slices in mm
		SliceGap float64 `yaml:"sliceGap"`

		// PixelSpacing is the in-plane voxel size in mm
		PixelSpacing float64 `yaml:"pixelSpacing"`

		// NumCores specifies how many slices are decoded in parallel
		NumCores int `yaml:"numCores"`
	} `yaml:"ingest"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}
	opts := data.DefaultOptions()

	cfg.Logging.Level = "info"

	cfg.Chunk.Needed = opts.ChunkNeeded
	cfg.Chunk.SecondarySort = opts.SecondarySort
	cfg.Image.Needed = opts.ImageNeeded
	cfg.Image.EqualProps = opts.EqualProps

	cfg.Scaling.Policy = numeric.Autoscale.String()

	cfg.Ingest.SliceThickness = 1.0
	cfg.Ingest.SliceGap = 1.5
	cfg.Ingest.PixelSpacing = 1.0
	cfg.Ingest.NumCores = runtime.NumCPU() // Use all available cores by default

	return cfg
}

// Options returns the assembly options described by the chunk and image sections.
func (c *Config) Options() data.Options {
	return data.Options{
		ChunkNeeded:   c.Chunk.Needed,
		ImageNeeded:   c.Image.Needed,
		EqualProps:    c.Image.EqualProps,
		SecondarySort: c.Chunk.SecondarySort,
	}
}

// Policy parses the configured scaling policy.
func (c *Config) Policy() (numeric.Policy, error) {
	return numeric.ParsePolicy(c.Scaling.Policy)
}

// BuildLogger constructs the logger handed to every component.
func (c *Config) BuildLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, errors.Wrap(err, "invalid logging level")
	}
	zc := zap.NewProductionConfig()
	if c.Logging.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Sampling = nil
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "error reading config file")
	}

	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, errors.Wrap(err, "error parsing config file")
	}
	if _, err := cfg.Policy(); err != nil {
		return nil, errors.Wrapf(err, "config %s", configPath)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "error creating config directory")
	}

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "error marshaling config")
	}

	if err := os.WriteFile(configPath, raw, 0644); err != nil {
		return errors.Wrap(err, "error writing config file")
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
