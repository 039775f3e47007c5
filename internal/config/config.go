// Package config loads the run configuration from YAML. Absent fields keep
// their zero value here; the owning packages apply their own defaults, so a
// config file only has to name what it changes.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/danshapiro/wayfinder/internal/route"
)

type Config struct {
	Verifier VerifierConfig `yaml:"verifier"`
	Router   RouterConfig   `yaml:"router"`
	Executor ExecutorConfig `yaml:"executor"`
	Repair   RepairConfig   `yaml:"repair"`
	Oracle   OracleConfig   `yaml:"oracle"`
}

type VerifierConfig struct {
	HardWeight        *float64 `yaml:"hard_weight"`
	SoftWeight        *float64 `yaml:"soft_weight"`
	ConsistencyWeight *float64 `yaml:"consistency_weight"`
	Threshold         *float64 `yaml:"threshold"`
	TextExcerptLen    *int     `yaml:"text_excerpt_len"`
}

type RouterConfig struct {
	SmallModel          string                   `yaml:"small_model"`
	LargeModel          string                   `yaml:"large_model"`
	EscalateAfter       *int                     `yaml:"upgrade_after_failures"`
	ComplexityThreshold *float64                 `yaml:"use_llm_threshold"`
	Prices              map[string]route.Pricing `yaml:"model_prices"`
}

type ExecutorConfig struct {
	MaxSteps           *int `yaml:"max_steps"`
	StabilityRepeats   *int `yaml:"stability_repeats"`
	StabilityTimeoutMS *int `yaml:"wait_timeout_ms"`
	CheckpointCapacity *int `yaml:"max_checkpoints"`
	NoProgressWindow   *int `yaml:"no_progress_window"`
}

type RepairConfig struct {
	MaxAttempts *int  `yaml:"max_repair_per_node"`
	Enabled     *bool `yaml:"enabled"`
}

type OracleConfig struct {
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
}

// Load reads and decodes a YAML config file. Unknown keys are rejected so a
// typoed field fails loudly instead of silently keeping a default.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// RepairEnabled defaults to true when the field is absent.
func (c *Config) RepairEnabled() bool {
	if c.Repair.Enabled == nil {
		return true
	}
	return *c.Repair.Enabled
}
