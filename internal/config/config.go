// Package config handles configuration loading and management for crew.
// It supports XDG config paths, project-level overrides, a .env file and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ProjectConfigName is the per-project config file searched for from the
// current directory upwards.
const ProjectConfigName = ".crew.yaml"

// Config holds all configuration for crew.
type Config struct {
	Anthropic    AnthropicConfig    `mapstructure:"anthropic"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Skills       SkillsConfig       `mapstructure:"skills"`
	Roster       RosterConfig       `mapstructure:"roster"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	MaxTokens  int    `mapstructure:"max_tokens"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// OrchestratorConfig holds session scheduling settings.
type OrchestratorConfig struct {
	// MaxConcurrency bounds the agents running at once.
	MaxConcurrency int `mapstructure:"max_concurrency"`
	// StrictDependencies rejects cyclic or dangling plans instead of flattening them.
	StrictDependencies bool `mapstructure:"strict_dependencies"`
	// AutoApprove grants agents write access to the project.
	AutoApprove bool `mapstructure:"auto_approve"`
	// EventBuffer is the capacity of the event stream.
	EventBuffer int `mapstructure:"event_buffer"`
}

// SkillsConfig holds skill registry settings.
type SkillsConfig struct {
	// Dir holds skill manifests, relative to the project directory unless absolute.
	Dir string `mapstructure:"dir"`
	// CacheSize bounds the compiled Lua chunk cache.
	CacheSize int `mapstructure:"cache_size"`
}

// RosterConfig holds the employee roster location.
type RosterConfig struct {
	Path string `mapstructure:"path"`
	// Project selects a project inside a company.json roster.
	Project string `mapstructure:"project"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// DebugLog is the debug log file, relative to the project directory unless absolute.
	// Empty disables it.
	DebugLog string `mapstructure:"debug_log"`
	Color    bool   `mapstructure:"color"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	// ListenAddr serves /metrics when set, e.g. ":9090".
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, CREW_*), including a .env file in the current directory
// 2. Project config (.crew.yaml in current directory or parent)
// 3. User config (~/.config/crew/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	// Existing environment variables win over .env entries.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}

	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return decode(v)
}

// LoadFromPath loads configuration from a specific path. Environment
// overrides still apply.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return decode(v)
}

// Save writes cfg to the user config file.
func Save(cfg *Config) error {
	return SaveTo(cfg, GetUserConfigPath())
}

// SaveTo writes cfg to path, creating its directory.
func SaveTo(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("anthropic.max_tokens", cfg.Anthropic.MaxTokens)
	v.Set("anthropic.use_bedrock", cfg.Anthropic.UseBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)
	v.Set("orchestrator.max_concurrency", cfg.Orchestrator.MaxConcurrency)
	v.Set("orchestrator.strict_dependencies", cfg.Orchestrator.StrictDependencies)
	v.Set("orchestrator.auto_approve", cfg.Orchestrator.AutoApprove)
	v.Set("orchestrator.event_buffer", cfg.Orchestrator.EventBuffer)
	v.Set("skills.dir", cfg.Skills.Dir)
	v.Set("skills.cache_size", cfg.Skills.CacheSize)
	v.Set("roster.path", cfg.Roster.Path)
	v.Set("roster.project", cfg.Roster.Project)
	v.Set("logging.debug_log", cfg.Logging.DebugLog)
	v.Set("logging.color", cfg.Logging.Color)
	v.Set("metrics.listen_addr", cfg.Metrics.ListenAddr)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// Resolve returns p joined to base unless p is empty or absolute.
func Resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// newViper returns a viper with defaults and environment bindings applied.
// Every key is reachable as CREW_<SECTION>_<KEY>.
func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CREW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("anthropic.api_key", "CREW_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	if cfg.Orchestrator.MaxConcurrency < 1 {
		return nil, fmt.Errorf("orchestrator.max_concurrency must be at least 1, got %d", cfg.Orchestrator.MaxConcurrency)
	}
	return cfg, nil
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("anthropic.api_key", d.Anthropic.APIKey)
	v.SetDefault("anthropic.model", d.Anthropic.Model)
	v.SetDefault("anthropic.max_tokens", d.Anthropic.MaxTokens)
	v.SetDefault("anthropic.use_bedrock", d.Anthropic.UseBedrock)
	v.SetDefault("anthropic.aws_region", d.Anthropic.AWSRegion)
	v.SetDefault("anthropic.aws_profile", d.Anthropic.AWSProfile)

	v.SetDefault("orchestrator.max_concurrency", d.Orchestrator.MaxConcurrency)
	v.SetDefault("orchestrator.strict_dependencies", d.Orchestrator.StrictDependencies)
	v.SetDefault("orchestrator.auto_approve", d.Orchestrator.AutoApprove)
	v.SetDefault("orchestrator.event_buffer", d.Orchestrator.EventBuffer)

	v.SetDefault("skills.dir", d.Skills.Dir)
	v.SetDefault("skills.cache_size", d.Skills.CacheSize)

	v.SetDefault("roster.path", d.Roster.Path)
	v.SetDefault("roster.project", d.Roster.Project)

	v.SetDefault("logging.debug_log", d.Logging.DebugLog)
	v.SetDefault("logging.color", d.Logging.Color)

	v.SetDefault("metrics.listen_addr", d.Metrics.ListenAddr)
}

// getUserConfigDir returns the XDG config directory for crew.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "crew")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "crew")
	}
	return filepath.Join(home, ".config", "crew")
}

// findProjectConfig searches for .crew.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			Model:     "claude-sonnet-4-5-20250929",
			MaxTokens: 8192,
			AWSRegion: "us-east-1",
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrency: 4,
			EventBuffer:    256,
		},
		Skills: SkillsConfig{
			Dir:       filepath.Join(".crew", "skills"),
			CacheSize: 64,
		},
		Roster: RosterConfig{
			Path: filepath.Join(".crew", "roster.yaml"),
		},
		Logging: LoggingConfig{
			DebugLog: filepath.Join(".crew", "logs", "orchestrator-debug.log"),
			Color:    true,
		},
	}
}
