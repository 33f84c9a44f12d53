// Package config loads the service configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Provider   ProviderConfig   `yaml:"provider"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Workflow   WorkflowConfig   `yaml:"workflow"`
	Sessions   SessionsConfig   `yaml:"sessions"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	APIKeys     []string `yaml:"api_keys"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DatabaseConfig configures persistence. An empty DSN selects the in-memory
// store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// ProviderConfig selects and configures the extraction job provider.
type ProviderConfig struct {
	Name    string `yaml:"name"` // openai or anthropic
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// ExtractionConfig bounds the extraction job polling loop.
type ExtractionConfig struct {
	Deadline     Duration `yaml:"deadline"`
	PollInterval Duration `yaml:"poll_interval"`
}

// WorkflowConfig bounds post-completion processing.
type WorkflowConfig struct {
	Timeout Duration `yaml:"timeout"`
}

// SessionsConfig configures the idle session sweeper.
type SessionsConfig struct {
	IdleAfter Duration `yaml:"idle_after"`
	SweepSpec string   `yaml:"sweep_spec"` // cron expression
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Provider: ProviderConfig{
			Name: "openai",
		},
		Extraction: ExtractionConfig{
			Deadline:     Duration(60 * time.Second),
			PollInterval: Duration(500 * time.Millisecond),
		},
		Workflow: WorkflowConfig{
			Timeout: Duration(2 * time.Minute),
		},
		Sessions: SessionsConfig{
			IdleAfter: Duration(24 * time.Hour),
			SweepSpec: "@hourly",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the file at path over the defaults, then applies environment
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv layers ORDERDESK_* variables over the file. Secrets usually
// arrive this way rather than on disk.
func (c *Config) applyEnv() {
	if v := os.Getenv("ORDERDESK_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("ORDERDESK_API_KEYS"); v != "" {
		c.Server.APIKeys = splitList(v)
	}
	if v := os.Getenv("ORDERDESK_CORS_ORIGINS"); v != "" {
		c.Server.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("ORDERDESK_DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("ORDERDESK_PROVIDER"); v != "" {
		c.Provider.Name = v
	}
	if v := os.Getenv("ORDERDESK_PROVIDER_MODEL"); v != "" {
		c.Provider.Model = v
	}
	if v := os.Getenv("ORDERDESK_PROVIDER_BASE_URL"); v != "" {
		c.Provider.BaseURL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.Provider.Name == "openai" && c.Provider.APIKey == "" {
		c.Provider.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && c.Provider.Name == "anthropic" && c.Provider.APIKey == "" {
		c.Provider.APIKey = v
	}
	if v := os.Getenv("ORDERDESK_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Provider.Name {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("config: unknown provider %q", c.Provider.Name)
	}
	if c.Extraction.Deadline <= 0 {
		return fmt.Errorf("config: extraction deadline must be positive")
	}
	if c.Extraction.PollInterval <= 0 {
		return fmt.Errorf("config: extraction poll interval must be positive")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Logging.Level)
	}
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
