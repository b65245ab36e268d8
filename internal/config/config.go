package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models relay.yml.
type Config struct {
	Workspace struct {
		ID string `yaml:"id"`
	} `yaml:"workspace"`
	Workflow struct {
		// BlockerThreshold is the redelegation count above which a role is
		// flagged as a blocker in the status projection.
		BlockerThreshold int `yaml:"blocker_threshold"`
		// BottleneckMultiplier scales the global average hold time into the
		// bottleneck flagging threshold.
		BottleneckMultiplier float64 `yaml:"bottleneck_multiplier"`
		TopPaths             int     `yaml:"top_paths"`
		TopBottlenecks       int     `yaml:"top_bottlenecks"`
		// NeedsResearchDefault routes intake handoffs through research when
		// no explicit flag is given.
		NeedsResearchDefault bool `yaml:"needs_research_default"`
	} `yaml:"workflow"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Workspace.ID == "" {
		return fmt.Errorf("config.workspace.id is required")
	}
	if c.Workflow.BlockerThreshold < 1 {
		return fmt.Errorf("config.workflow.blocker_threshold must be at least 1")
	}
	if c.Workflow.BottleneckMultiplier < 1 {
		return fmt.Errorf("config.workflow.bottleneck_multiplier must be at least 1")
	}
	if c.Workflow.TopPaths < 1 {
		return fmt.Errorf("config.workflow.top_paths must be at least 1")
	}
	if c.Workflow.TopBottlenecks < 1 {
		return fmt.Errorf("config.workflow.top_bottlenecks must be at least 1")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "relay.yml")
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a workspace.
func Default(workspaceID string) *Config {
	var cfg Config
	cfg.Workspace.ID = workspaceID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, workspaceID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// WriteDefault writes the default config template to path.
func WriteDefault(path, workspaceID string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf(defaultTemplate, workspaceID)), 0o644)
}

const defaultTemplate = `workspace:
  id: %s

workflow:
  blocker_threshold: 2
  bottleneck_multiplier: 1.5
  top_paths: 10
  top_bottlenecks: 5
  needs_research_default: false
`
