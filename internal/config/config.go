// Package config loads the operator-editable intake settings: legal area synonyms, the
// internal notification number, the lawyer list and an optional flow definition.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BTreeMap/IntakePipe/internal/flow"
	"github.com/BTreeMap/IntakePipe/internal/models"
	"gopkg.in/yaml.v3"
)

// IntakeConfig is the YAML document read from INTAKE_CONFIG.
type IntakeConfig struct {
	NotifyNumber string                 `yaml:"notify_number"`
	Areas        []flow.AreaSynonyms    `yaml:"areas"`
	Lawyers      []flow.Lawyer          `yaml:"lawyers"`
	Flow         *models.FlowDefinition `yaml:"flow"`
}

// Default returns the built-in configuration.
func Default() *IntakeConfig {
	return &IntakeConfig{Areas: flow.DefaultAreaSynonyms}
}

// Load reads path. An empty path yields Default.
func Load(path string) (*IntakeConfig, error) {
	if path == "" {
		slog.Debug("config.Load: no intake config file, using defaults")
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read intake config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("intake config %s: %w", path, err)
	}
	slog.Info("config.Load: intake config loaded", "path", path, "areas", len(cfg.Areas), "lawyers", len(cfg.Lawyers), "flow", cfg.Flow != nil)
	return cfg, nil
}

// Parse decodes and validates a YAML intake configuration.
func Parse(data []byte) (*IntakeConfig, error) {
	var cfg IntakeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}
	if len(cfg.Areas) == 0 {
		cfg.Areas = flow.DefaultAreaSynonyms
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the lawyers, areas and flow.
func (c *IntakeConfig) Validate() error {
	var errs []error
	for i, a := range c.Areas {
		if strings.TrimSpace(a.Canonical) == "" {
			errs = append(errs, fmt.Errorf("areas[%d]: canonical name is empty", i))
		}
	}
	for i, l := range c.Lawyers {
		if strings.TrimSpace(l.Phone) == "" {
			errs = append(errs, fmt.Errorf("lawyers[%d] (%s): phone is empty", i, l.Name))
		}
	}
	if c.Flow != nil {
		if c.Flow.Key == "" {
			c.Flow.Key = models.DefaultFlowKey
		}
		if err := c.Flow.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("flow: %w", err))
		}
	}
	return errors.Join(errs...)
}

// AreaTable builds the synonym table for the answer validator.
func (c *IntakeConfig) AreaTable() *flow.AreaTable {
	return flow.NewAreaTable(c.Areas)
}
