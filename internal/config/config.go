// Package config provides the configuration structure for the hntm-service.
package config

import (
	"errors"
	"fmt"

	"github.com/book-expert/configurator"
	"github.com/book-expert/hntm-service/internal/hntm"
	"github.com/book-expert/logger"
)

var (
	// ErrMissingNATSURL indicates that no NATS server URL is configured.
	ErrMissingNATSURL = errors.New("nats.url must be set")
	// ErrMissingSubject indicates that a request subject is not configured.
	ErrMissingSubject = errors.New("nats subject must be set")
	// ErrMissingBucket indicates that an object store bucket is not configured.
	ErrMissingBucket = errors.New("nats object store bucket must be set")
	// ErrInvalidLPCOrder indicates an LPC order that is not a positive even number.
	ErrInvalidLPCOrder = errors.New("analysis.lpc_order must be a positive even number")
	// ErrInvalidSampleRate indicates a non-positive sample rate.
	ErrInvalidSampleRate = errors.New("analysis.sample_rate must be positive")
	// ErrInvalidComponents indicates a non-positive mixture size.
	ErrInvalidComponents = errors.New("gmm.components must be positive")
	// ErrInvalidVarianceFloor indicates a negative variance floor.
	ErrInvalidVarianceFloor = errors.New("gmm.variance_floor must not be negative")
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL            string `toml:"url"`
	ScoringSubject string `toml:"scoring_subject"`
	FramesSubject  string `toml:"frames_subject"`
	ModelBucket    string `toml:"model_bucket"`
	FramesBucket   string `toml:"frames_bucket"`
}

// AnalysisConfig describes how frame sequences were produced.
type AnalysisConfig struct {
	NoiseModel string `toml:"noise_model"`
	LPCOrder   int    `toml:"lpc_order"`
	SampleRate int    `toml:"sample_rate"`
}

// GMMConfig holds mixture training parameters.
type GMMConfig struct {
	Components    int     `toml:"components"`
	Diagonal      bool    `toml:"diagonal"`
	MaxIterations int     `toml:"max_iterations"`
	VarianceFloor float64 `toml:"variance_floor"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	ModelsDir   string `toml:"models_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS     NATSConfig     `toml:"nats"`
	Analysis AnalysisConfig `toml:"analysis"`
	GMM      GMMConfig      `toml:"gmm"`
	Paths    PathsConfig    `toml:"paths"`
}

// Load loads the configuration for the hntm-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// NoiseModel parses the configured noise representation.
func (c *Config) NoiseModel() (hntm.NoiseModel, error) {
	model, err := hntm.ParseNoiseModel(c.Analysis.NoiseModel)
	if err != nil {
		return 0, fmt.Errorf("analysis.noise_model: %w", err)
	}

	return model, nil
}

// Validate checks that every section is usable.
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return ErrMissingNATSURL
	}

	if c.NATS.ScoringSubject == "" || c.NATS.FramesSubject == "" {
		return ErrMissingSubject
	}

	if c.NATS.ModelBucket == "" || c.NATS.FramesBucket == "" {
		return ErrMissingBucket
	}

	_, err := c.NoiseModel()
	if err != nil {
		return err
	}

	if c.Analysis.LPCOrder <= 0 || c.Analysis.LPCOrder%2 != 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidLPCOrder, c.Analysis.LPCOrder)
	}

	if c.Analysis.SampleRate <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidSampleRate, c.Analysis.SampleRate)
	}

	if c.GMM.Components <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidComponents, c.GMM.Components)
	}

	if c.GMM.VarianceFloor < 0 {
		return fmt.Errorf("%w: got %g", ErrInvalidVarianceFloor, c.GMM.VarianceFloor)
	}

	return nil
}
