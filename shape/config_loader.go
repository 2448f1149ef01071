package shape

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the full configuration file
type Config struct {
	Alignment       AlignerConfig   `yaml:"alignment" json:"alignment"`
	StartGeneration StartGenConfig  `yaml:"startGeneration" json:"startGeneration"`
	Screening       ScreeningConfig `yaml:"screening" json:"screening"`
	MQTT            MQTTConfig      `yaml:"mqtt" json:"mqtt"`
	Database        DatabaseConfig  `yaml:"database" json:"database"`
	Render          RenderConfig    `yaml:"render" json:"render"`
	References      []string        `yaml:"references,omitempty" json:"references,omitempty"` // reference shape files
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// DatabaseConfig holds hit database settings; an empty path disables storage
type DatabaseConfig struct {
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// RenderConfig holds preview image settings
type RenderConfig struct {
	Width   int     `yaml:"width" json:"width"`
	Height  int     `yaml:"height" json:"height"`
	Padding float64 `yaml:"padding" json:"padding"` // in shape units around the drawn elements
}

// Default MQTT topic prefix and client id
const (
	DefaultPublishPrefix = "shapealign"
	DefaultClientID      = "shapealign"
)

// DefaultConfig returns the configuration used when no file overrides it
func DefaultConfig() *Config {
	return &Config{
		Alignment:       DefaultAlignerConfig(),
		StartGeneration: DefaultStartGenConfig(),
		Screening:       DefaultScreeningConfig(),
		MQTT: MQTTConfig{
			PublishPrefix: DefaultPublishPrefix,
			ClientID:      DefaultClientID,
		},
		Render: RenderConfig{
			Width:   800,
			Height:  800,
			Padding: 2.0,
		},
	}
}

// LoadConfig loads the configuration from a YAML file. Keys missing from the
// file keep their DefaultConfig values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks numeric settings for values the aligner cannot use
func (c *Config) Validate() error {
	if c.Alignment.MaxIterations < 0 {
		return fmt.Errorf("alignment.maxIterations must not be negative, got %d", c.Alignment.MaxIterations)
	}
	if c.Alignment.StopGradientNorm < 0 {
		return fmt.Errorf("alignment.stopGradientNorm must not be negative, got %g", c.Alignment.StopGradientNorm)
	}
	if t := c.Alignment.LineSearchTolerance; t <= 0 || t >= 1 {
		return fmt.Errorf("alignment.lineSearchTolerance must be in (0, 1), got %g", t)
	}
	if c.Alignment.Workers < 0 {
		return fmt.Errorf("alignment.workers must not be negative, got %d", c.Alignment.Workers)
	}
	if c.StartGeneration.SymmetryThreshold < 0 {
		return fmt.Errorf("startGeneration.symmetryThreshold must not be negative, got %g", c.StartGeneration.SymmetryThreshold)
	}
	if c.StartGeneration.MaxRandomStarts < 0 {
		return fmt.Errorf("startGeneration.maxRandomStarts must not be negative, got %d", c.StartGeneration.MaxRandomStarts)
	}
	if c.Render.Width <= 0 || c.Render.Height <= 0 {
		return fmt.Errorf("render size must be positive, got %dx%d", c.Render.Width, c.Render.Height)
	}
	for i, ref := range c.References {
		if ref == "" {
			return fmt.Errorf("references[%d] is empty", i)
		}
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
