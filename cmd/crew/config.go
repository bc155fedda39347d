package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/crew/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify crew configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the value in the user config.

Configuration is stored at ~/.config/crew/config.yaml
Project-specific overrides can be placed in .crew.yaml
Every key can also be set as CREW_<SECTION>_<KEY>, e.g. CREW_ORCHESTRATOR_MAX_CONCURRENCY.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		out := cmd.OutOrStdout()
		switch len(args) {
		case 0:
			displayAllConfig(out, cfg)
		case 1:
			value, err := getConfigValue(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(out, value)
		default:
			if err := setConfigValue(cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := config.Save(cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Fprintf(out, "Set %s = %s\n", args[0], args[1])
		}
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file locations",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "user:    %s\n", config.GetUserConfigPath())
		project := config.GetProjectConfigPath()
		if project == "" {
			project = "(none)"
		}
		fmt.Fprintf(out, "project: %s\n", project)
	},
}

func init() {
	configCmd.AddCommand(configPathCmd)
}

// configKeys lists the keys shown by `crew config`, in display order.
var configKeys = []string{
	"anthropic.api_key",
	"anthropic.model",
	"anthropic.max_tokens",
	"anthropic.use_bedrock",
	"anthropic.aws_region",
	"anthropic.aws_profile",
	"orchestrator.max_concurrency",
	"orchestrator.strict_dependencies",
	"orchestrator.auto_approve",
	"orchestrator.event_buffer",
	"skills.dir",
	"skills.cache_size",
	"roster.path",
	"roster.project",
	"logging.debug_log",
	"logging.color",
	"metrics.listen_addr",
}

// displayAllConfig prints all configuration values.
func displayAllConfig(out io.Writer, cfg *config.Config) {
	for _, key := range configKeys {
		value, _ := getConfigValue(cfg, key)
		fmt.Fprintf(out, "%s: %s\n", key, value)
	}
	fmt.Fprintf(out, "# credentials: %s\n", config.GetAPIKeySource(cfg))
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		k, _ := config.GetAPIKey(cfg)
		return config.MaskAPIKey(k), nil
	case "anthropic.model":
		return cfg.Anthropic.Model, nil
	case "anthropic.max_tokens":
		return strconv.Itoa(cfg.Anthropic.MaxTokens), nil
	case "anthropic.use_bedrock":
		return strconv.FormatBool(cfg.Anthropic.UseBedrock), nil
	case "anthropic.aws_region":
		return cfg.Anthropic.AWSRegion, nil
	case "anthropic.aws_profile":
		return cfg.Anthropic.AWSProfile, nil
	case "orchestrator.max_concurrency":
		return strconv.Itoa(cfg.Orchestrator.MaxConcurrency), nil
	case "orchestrator.strict_dependencies":
		return strconv.FormatBool(cfg.Orchestrator.StrictDependencies), nil
	case "orchestrator.auto_approve":
		return strconv.FormatBool(cfg.Orchestrator.AutoApprove), nil
	case "orchestrator.event_buffer":
		return strconv.Itoa(cfg.Orchestrator.EventBuffer), nil
	case "skills.dir":
		return cfg.Skills.Dir, nil
	case "skills.cache_size":
		return strconv.Itoa(cfg.Skills.CacheSize), nil
	case "roster.path":
		return cfg.Roster.Path, nil
	case "roster.project":
		return cfg.Roster.Project, nil
	case "logging.debug_log":
		return cfg.Logging.DebugLog, nil
	case "logging.color":
		return strconv.FormatBool(cfg.Logging.Color), nil
	case "metrics.listen_addr":
		return cfg.Metrics.ListenAddr, nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		cfg.Anthropic.APIKey = value
	case "anthropic.model":
		cfg.Anthropic.Model = value
	case "anthropic.max_tokens":
		return setInt(&cfg.Anthropic.MaxTokens, key, value, 1)
	case "anthropic.use_bedrock":
		return setBool(&cfg.Anthropic.UseBedrock, key, value)
	case "anthropic.aws_region":
		cfg.Anthropic.AWSRegion = value
	case "anthropic.aws_profile":
		cfg.Anthropic.AWSProfile = value
	case "orchestrator.max_concurrency":
		return setInt(&cfg.Orchestrator.MaxConcurrency, key, value, 1)
	case "orchestrator.strict_dependencies":
		return setBool(&cfg.Orchestrator.StrictDependencies, key, value)
	case "orchestrator.auto_approve":
		return setBool(&cfg.Orchestrator.AutoApprove, key, value)
	case "orchestrator.event_buffer":
		return setInt(&cfg.Orchestrator.EventBuffer, key, value, 1)
	case "skills.dir":
		cfg.Skills.Dir = value
	case "skills.cache_size":
		return setInt(&cfg.Skills.CacheSize, key, value, 1)
	case "roster.path":
		cfg.Roster.Path = value
	case "roster.project":
		cfg.Roster.Project = value
	case "logging.debug_log":
		cfg.Logging.DebugLog = value
	case "logging.color":
		return setBool(&cfg.Logging.Color, key, value)
	case "metrics.listen_addr":
		cfg.Metrics.ListenAddr = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}

func setInt(dst *int, key, value string, least int) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if n < least {
		return fmt.Errorf("invalid value for %s: must be at least %d", key, least)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key, value string) error {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid boolean for %s: %w", key, err)
	}
	*dst = b
	return nil
}
