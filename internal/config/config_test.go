package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Orchestrator.MaxConcurrency != 4 {
		t.Errorf("expected default max_concurrency 4, got %d", cfg.Orchestrator.MaxConcurrency)
	}
	if cfg.Orchestrator.EventBuffer != 256 {
		t.Errorf("expected default event_buffer 256, got %d", cfg.Orchestrator.EventBuffer)
	}
	if cfg.Orchestrator.StrictDependencies || cfg.Orchestrator.AutoApprove {
		t.Error("expected strict and auto-approve off by default")
	}
	if cfg.Skills.Dir != filepath.Join(".crew", "skills") {
		t.Errorf("unexpected skills dir %q", cfg.Skills.Dir)
	}
	if cfg.Skills.CacheSize != 64 {
		t.Errorf("expected cache size 64, got %d", cfg.Skills.CacheSize)
	}
	if cfg.Anthropic.MaxTokens != 8192 {
		t.Errorf("expected max tokens 8192, got %d", cfg.Anthropic.MaxTokens)
	}
	if !cfg.Logging.Color {
		t.Error("expected color on by default")
	}
	if cfg.Metrics.ListenAddr != "" {
		t.Errorf("expected metrics disabled by default, got %q", cfg.Metrics.ListenAddr)
	}
}

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadFromPath(t *testing.T) {
	clearKeyEnv(t)
	path := writeConfig(t, t.TempDir(), "config.yaml", `
anthropic:
  api_key: test-key
  model: claude-haiku-4-5
orchestrator:
  max_concurrency: 2
  strict_dependencies: true
skills:
  dir: /opt/skills
metrics:
  listen_addr: ":9090"
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Anthropic.APIKey != "test-key" {
		t.Errorf("expected api_key 'test-key', got %q", cfg.Anthropic.APIKey)
	}
	if cfg.Anthropic.Model != "claude-haiku-4-5" {
		t.Errorf("expected model override, got %q", cfg.Anthropic.Model)
	}
	if cfg.Anthropic.MaxTokens != 8192 {
		t.Errorf("expected default max tokens to survive, got %d", cfg.Anthropic.MaxTokens)
	}
	if cfg.Orchestrator.MaxConcurrency != 2 {
		t.Errorf("expected max_concurrency 2, got %d", cfg.Orchestrator.MaxConcurrency)
	}
	if !cfg.Orchestrator.StrictDependencies {
		t.Error("expected strict_dependencies true")
	}
	if cfg.Skills.Dir != "/opt/skills" {
		t.Errorf("expected skills dir /opt/skills, got %q", cfg.Skills.Dir)
	}
	if cfg.Metrics.ListenAddr != ":9090" {
		t.Errorf("expected listen addr :9090, got %q", cfg.Metrics.ListenAddr)
	}
}

func TestLoadFromPath_EnvOverride(t *testing.T) {
	clearKeyEnv(t)
	t.Setenv("CREW_ORCHESTRATOR_MAX_CONCURRENCY", "7")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-from-env")
	path := writeConfig(t, t.TempDir(), "config.yaml", "orchestrator:\n  max_concurrency: 2\n")

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Orchestrator.MaxConcurrency != 7 {
		t.Errorf("expected env override 7, got %d", cfg.Orchestrator.MaxConcurrency)
	}
	if cfg.Anthropic.APIKey != "sk-ant-from-env" {
		t.Errorf("expected api key from ANTHROPIC_API_KEY, got %q", cfg.Anthropic.APIKey)
	}
}

func TestLoadFromPath_InvalidConcurrency(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", "orchestrator:\n  max_concurrency: 0\n")

	_, err := LoadFromPath(path)
	if err == nil || !strings.Contains(err.Error(), "max_concurrency") {
		t.Errorf("expected max_concurrency error, got %v", err)
	}
}

func TestLoadFromPath_Missing(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_ProjectAndDotEnv(t *testing.T) {
	clearKeyEnv(t)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("CREW_TEST_DOTENV", "")
	os.Unsetenv("CREW_TEST_DOTENV")

	project := t.TempDir()
	writeConfig(t, project, ProjectConfigName, `
anthropic:
  api_key: ${CREW_TEST_DOTENV}
orchestrator:
  auto_approve: true
roster:
  path: team.yaml
`)
	writeConfig(t, project, ".env", "CREW_TEST_DOTENV=sk-ant-dotenv-value\n")

	nested := filepath.Join(project, "src", "pkg")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	t.Chdir(project)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.Orchestrator.AutoApprove {
		t.Error("expected project config to enable auto_approve")
	}
	if cfg.Roster.Path != "team.yaml" {
		t.Errorf("expected roster path from project config, got %q", cfg.Roster.Path)
	}
	if cfg.Anthropic.APIKey != "sk-ant-dotenv-value" {
		t.Errorf("expected api key expanded from .env, got %q", cfg.Anthropic.APIKey)
	}

	t.Chdir(nested)
	if got := GetProjectConfigPath(); got != filepath.Join(project, ProjectConfigName) {
		t.Errorf("expected project config found from nested dir, got %q", got)
	}
}

func TestSaveTo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Orchestrator.MaxConcurrency = 3
	cfg.Metrics.ListenAddr = ":2112"

	if err := SaveTo(cfg, path); err != nil {
		t.Fatalf("SaveTo failed: %v", err)
	}
	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if loaded.Orchestrator.MaxConcurrency != 3 || loaded.Metrics.ListenAddr != ":2112" {
		t.Errorf("saved values not loaded back: %+v", loaded.Orchestrator)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "expanded-value")

	if result := expandEnv("${TEST_VAR}"); result != "expanded-value" {
		t.Errorf("expected 'expanded-value', got %q", result)
	}
	if result := expandEnv("prefix-${TEST_VAR}-suffix"); result != "prefix-expanded-value-suffix" {
		t.Errorf("expected 'prefix-expanded-value-suffix', got %q", result)
	}
}

func TestGetUserConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")

	if dir := getUserConfigDir(); dir != "/custom/config/crew" {
		t.Errorf("expected %q, got %q", "/custom/config/crew", dir)
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		base, p, want string
	}{
		{"/proj", "", ""},
		{"/proj", "/abs/skills", "/abs/skills"},
		{"/proj", ".crew/skills", "/proj/.crew/skills"},
	}
	for _, tt := range tests {
		if got := Resolve(tt.base, tt.p); got != tt.want {
			t.Errorf("Resolve(%q, %q) = %q, want %q", tt.base, tt.p, got, tt.want)
		}
	}
}
