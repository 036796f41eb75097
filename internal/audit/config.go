package audit

import "fmt"

// Config holds audit logging configuration.
type Config struct {
	// Enabled turns audit logging on or off.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Format is the output format: json or text.
	Format string `yaml:"format" json:"format"`

	// Output is the destination: stdout, stderr, or a file path.
	Output string `yaml:"output" json:"output"`

	// RedactFields lists metadata field names (substring match, case
	// insensitive) whose values are replaced before writing.
	RedactFields []string `yaml:"redactFields" json:"redactFields"`
}

// DefaultConfig returns an audit configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Enabled: true,
		Format:  formatJSON,
		Output:  "stdout",
		RedactFields: []string{
			"key",
			"secret",
			"token",
			"hash",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.GetEffectiveFormat() {
	case formatJSON, formatText:
	default:
		return fmt.Errorf("invalid audit format: %s", c.Format)
	}
	return nil
}

// GetEffectiveFormat returns the configured format or the default.
func (c *Config) GetEffectiveFormat() string {
	if c.Format == "" {
		return formatJSON
	}
	return c.Format
}

// GetEffectiveOutput returns the configured output or the default.
func (c *Config) GetEffectiveOutput() string {
	if c.Output == "" {
		return "stdout"
	}
	return c.Output
}
