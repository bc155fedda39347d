// Package skills runs named, pre-defined procedures for sub-agents.
//
// A skill is described by a YAML manifest. Lua skills run in a sandboxed
// interpreter; prompt skills render a template, call the prompt executor and
// decode the JSON object in the reply.
package skills

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.yaml.in/yaml/v3"
)

// Kind selects how a skill is executed.
type Kind string

const (
	KindLua    Kind = "lua"
	KindPrompt Kind = "prompt"
)

var (
	// ErrUnknownSkill is returned for a skill ID that is not registered.
	ErrUnknownSkill = errors.New("unknown skill")
	// ErrApprovalRequired is returned when a skill needs auto-approval to run.
	ErrApprovalRequired = errors.New("skill requires approval")
	// ErrInvalidManifest is returned for manifests that cannot be registered.
	ErrInvalidManifest = errors.New("invalid skill manifest")
	// ErrDuplicateSkill is returned when a skill ID is registered twice.
	ErrDuplicateSkill = errors.New("duplicate skill")
)

// Manifest describes one skill.
//
//	id: changelog
//	name: Changelog entry
//	kind: lua
//	requires_approval: false
//	script: |
//	  function run(input, ctx)
//	    return { text = "## " .. input.title }
//	  end
type Manifest struct {
	ID               string `yaml:"id" json:"id"`
	Name             string `yaml:"name" json:"name"`
	Description      string `yaml:"description" json:"description,omitempty"`
	Kind             Kind   `yaml:"kind" json:"kind"`
	Script           string `yaml:"script" json:"-"`
	ScriptFile       string `yaml:"script_file" json:"script_file,omitempty"`
	PromptTemplate   string `yaml:"prompt_template" json:"-"`
	RequiresApproval bool   `yaml:"requires_approval" json:"requires_approval"`
}

// Validate checks that the manifest can be executed.
func (m *Manifest) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidManifest)
	}
	switch m.Kind {
	case KindLua:
		if strings.TrimSpace(m.Script) == "" {
			return fmt.Errorf("%w: lua skill %s has no script", ErrInvalidManifest, m.ID)
		}
	case KindPrompt:
		if strings.TrimSpace(m.PromptTemplate) == "" {
			return fmt.Errorf("%w: prompt skill %s has no prompt_template", ErrInvalidManifest, m.ID)
		}
	default:
		return fmt.Errorf("%w: skill %s has unknown kind %q", ErrInvalidManifest, m.ID, m.Kind)
	}
	return nil
}

// ParseManifest decodes a manifest. A relative script_file is resolved
// against baseDir and its contents become the script.
func ParseManifest(data []byte, baseDir string) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	m.Kind = Kind(strings.ToLower(strings.TrimSpace(string(m.Kind))))
	if m.Kind == "" {
		switch {
		case m.Script != "" || m.ScriptFile != "":
			m.Kind = KindLua
		case m.PromptTemplate != "":
			m.Kind = KindPrompt
		}
	}
	if m.Name == "" {
		m.Name = m.ID
	}

	if m.Script == "" && m.ScriptFile != "" {
		path := m.ScriptFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		script, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read script for skill %s: %w", m.ID, err)
		}
		m.Script = string(script)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadManifests reads every *.yaml and *.yml file in dir, in name order.
// A missing directory yields no manifests.
func LoadManifests(dir string) ([]*Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read skills dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	manifests := make([]*Manifest, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		m, err := ParseManifest(data, dir)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}
