// Package config loads search settings from a YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/thalesfsp/hpsearch"
)

// Config is the full configuration file. Every section is optional; absent
// keys keep the value from Default.
type Config struct {
	Trainer      Trainer               `yaml:"trainer"`
	Architecture hpsearch.Architecture `yaml:"architecture"`
	Artifacts    Artifacts             `yaml:"artifacts"`
	Binary       Binary                `yaml:"binary"`
	Halving      Halving               `yaml:"halving"`
	Hyperband    Hyperband             `yaml:"hyperband"`

	// Report is the path the YAML search report is written to. Empty
	// disables it.
	Report string `yaml:"report"`

	// ShutdownOnComplete powers the host off after a search finishes.
	ShutdownOnComplete bool `yaml:"shutdown_on_complete"`
}

// Trainer locates the training binary and its output.
type Trainer struct {
	Binary  string `yaml:"binary"`
	WorkDir string `yaml:"work_dir"`
	LogFile string `yaml:"log_file"`

	// IterationsPerUnit converts Hyperband resource units to iterations.
	IterationsPerUnit float64 `yaml:"iterations_per_unit"`
}

// Artifacts configures log uploads. Uploads are off while Bucket is empty.
type Artifacts struct {
	Bucket      string `yaml:"bucket"`
	Group       string `yaml:"group"`
	Interpreter string `yaml:"interpreter"`
	Script      string `yaml:"script"`
}

// Binary holds the binary search settings.
type Binary struct {
	Low               float64 `yaml:"low"`
	High              float64 `yaml:"high"`
	Eps               float64 `yaml:"eps"`
	LossIncreaseRatio float64 `yaml:"loss_increase_ratio"`
	Iterations        int     `yaml:"iterations"`
}

// Halving holds the successive halving settings.
type Halving struct {
	Low        float64 `yaml:"low"`
	High       float64 `yaml:"high"`
	Eps        float64 `yaml:"eps"`
	FanOut     int     `yaml:"fan_out"`
	Iterations int     `yaml:"iterations"`
}

// Hyperband holds the Hyperband settings.
type Hyperband struct {
	MaxResource  float64                          `yaml:"max_resource"`
	Eta          int                              `yaml:"eta"`
	LearningRate hpsearch.ParameterRange[float64] `yaml:"learning_rate"`

	// Seed of the learning rate sampler. Zero picks a time-based seed.
	Seed int64 `yaml:"seed"`
}

// Default returns the built-in configuration.
func Default() Config {
	binary := hpsearch.DefaultBinarySearchConfig()
	halving := hpsearch.DefaultHalvingConfig()
	hyperband := hpsearch.DefaultHyperbandConfig()

	return Config{
		Trainer: Trainer{
			Binary:            "./train_gpt2cu",
			LogFile:           "main.log",
			IterationsPerUnit: 1,
		},
		Architecture: hpsearch.DefaultArchitecture(),
		Artifacts: Artifacts{
			Interpreter: "python",
			Script:      "upload_to_s3.py",
		},
		Binary: Binary{
			Low:               binary.Low,
			High:              binary.High,
			Eps:               binary.Eps,
			LossIncreaseRatio: binary.LossIncreaseRatio,
			Iterations:        int(binary.Resource),
		},
		Halving: Halving{
			Low:        halving.Low,
			High:       halving.High,
			Eps:        halving.Eps,
			FanOut:     halving.FanOut,
			Iterations: int(halving.Resource),
		},
		Hyperband: Hyperband{
			MaxResource:  hyperband.R,
			Eta:          hyperband.Eta,
			LearningRate: hyperband.LearningRate,
		},
	}
}

// Load reads path over Default. Unknown keys are an error so that typos do
// not silently fall back to defaults. An empty path returns Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}
