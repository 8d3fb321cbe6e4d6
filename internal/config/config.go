package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration. It is built once
// at startup and passed explicitly to every component; nothing mutates it
// after Load returns.
type Config struct {
	Web      WebConfig      `yaml:"web" envconfig:"WEB"`
	SAP      SAPConfig      `yaml:"sap" envconfig:"SAP"`
	Paths    PathsConfig    `yaml:"paths" envconfig:"PATHS"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
	Pipeline PipelineConfig `yaml:"pipeline" envconfig:"PIPELINE"`
	Report   ReportConfig   `yaml:"report" envconfig:"REPORT"`
}

// WebConfig contains PDBS portal access configuration.
type WebConfig struct {
	PortalURL string `yaml:"portal_url" envconfig:"PORTAL_URL" validate:"required,url"`
	Username  string `yaml:"username" envconfig:"USERNAME" validate:"required"`
	Password  string `yaml:"password" envconfig:"PASSWORD" validate:"required"`
	Headless  bool   `yaml:"headless" envconfig:"HEADLESS" default:"true"`
}

// SAPConfig contains SAP GUI scripting configuration.
type SAPConfig struct {
	LogonPath       string `yaml:"logon_path" envconfig:"LOGON_PATH" validate:"required"`
	ShortcutPath    string `yaml:"shortcut_path" envconfig:"SHORTCUT_PATH" validate:"required"`
	System          string `yaml:"system" envconfig:"SYSTEM" validate:"required"`
	Client          string `yaml:"client" envconfig:"CLIENT" validate:"required"`
	Language        string `yaml:"language" envconfig:"LANGUAGE" default:"EN"`
	Username        string `yaml:"username" envconfig:"USERNAME" validate:"required"`
	Password        string `yaml:"password" envconfig:"PASSWORD" validate:"required"`
	VariantUsername string `yaml:"variant_username" envconfig:"VARIANT_USERNAME" validate:"required"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format   string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/amscli.log"`
}

// PipelineConfig contains orchestration behavior: retry budgets, timeouts and
// the polling cadence for download completion.
type PipelineConfig struct {
	MaxRetries    int           `yaml:"max_retries" envconfig:"MAX_RETRIES" default:"3" validate:"min=1"`
	InitialDelay  time.Duration `yaml:"initial_delay" envconfig:"INITIAL_DELAY" default:"2s"`
	MaxDelay      time.Duration `yaml:"max_delay" envconfig:"MAX_DELAY" default:"30s"`
	Multiplier    float64       `yaml:"multiplier" envconfig:"MULTIPLIER" default:"2.0" validate:"gte=1"`
	PhaseTimeout  time.Duration `yaml:"phase_timeout" envconfig:"PHASE_TIMEOUT" default:"10m"`
	GlobalTimeout time.Duration `yaml:"global_timeout" envconfig:"GLOBAL_TIMEOUT" default:"45m"`
	PollInterval  time.Duration `yaml:"poll_interval" envconfig:"POLL_INTERVAL" default:"1s"`
}

// ReportConfig contains engine workbook settings for the report phase.
type ReportConfig struct {
	EnginePattern string `yaml:"engine_pattern" envconfig:"ENGINE_PATTERN" default:"*AO MO SO CHECKER*.xlsx"`
	UtilitySheet  string `yaml:"utility_sheet" envconfig:"UTILITY_SHEET" default:"UTILITY"`
}

// Load loads configuration from an optional YAML file and environment
// variables. Environment variables (prefix AMS) take precedence over the
// file, which takes precedence over defaults.
func Load() (*Config, error) {
	cfg := Default()

	if path := findConfigFile(); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process("AMS", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration against its struct tags plus the
// constraints the tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Pipeline.PhaseTimeout <= 0 {
		return fmt.Errorf("phase timeout must be positive")
	}
	if c.Pipeline.GlobalTimeout < c.Pipeline.PhaseTimeout {
		return fmt.Errorf("global timeout %s shorter than phase timeout %s",
			c.Pipeline.GlobalTimeout, c.Pipeline.PhaseTimeout)
	}
	if c.Pipeline.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	return nil
}

// resolvePaths fills in the directory layout relative to the working
// directory and makes sure every directory exists.
func (c *Config) resolvePaths() error {
	paths, err := c.Paths.Resolve()
	if err != nil {
		return err
	}
	c.Paths = *paths
	return c.Paths.EnsureDirectories()
}

// findConfigFile returns the first config file found in the conventional
// locations, or "" when only env vars and defaults apply.
func findConfigFile() string {
	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

// Default returns the default configuration. Credentials are intentionally
// empty; they must come from the config file or environment.
func Default() *Config {
	return &Config{
		Web: WebConfig{
			Headless: true,
		},
		SAP: SAPConfig{
			Language: "EN",
		},
		Paths: DefaultPaths(),
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "both",
			FilePath: "logs/amscli.log",
		},
		Pipeline: PipelineConfig{
			MaxRetries:    3,
			InitialDelay:  2 * time.Second,
			MaxDelay:      30 * time.Second,
			Multiplier:    2.0,
			PhaseTimeout:  10 * time.Minute,
			GlobalTimeout: 45 * time.Minute,
			PollInterval:  time.Second,
		},
		Report: ReportConfig{
			EnginePattern: "*AO MO SO CHECKER*.xlsx",
			UtilitySheet:  "UTILITY",
		},
	}
}
