package skills

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"text/template"

	"github.com/ShayCichocki/crew/internal/agent"
)

// Compile-time verification that Registry implements agent.SkillExecutor.
var _ agent.SkillExecutor = (*Registry)(nil)

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Prompts backs prompt skills and the Lua prompt() function. Optional.
	Prompts agent.PromptExecutor
	// CacheSize bounds the compiled Lua chunk cache. Zero uses the default.
	CacheSize int
}

type entry struct {
	manifest *Manifest
	tmpl     *template.Template
}

// Registry holds the registered skills and executes them.
type Registry struct {
	mu      sync.RWMutex
	skills  map[string]*entry
	prompts agent.PromptExecutor
	lua     *luaRunner
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	runner, err := newLuaRunner(cfg.CacheSize, cfg.Prompts)
	if err != nil {
		return nil, err
	}
	return &Registry{
		skills:  make(map[string]*entry),
		prompts: cfg.Prompts,
		lua:     runner,
	}, nil
}

// Register adds a skill.
func (r *Registry) Register(m *Manifest) error {
	if err := m.Validate(); err != nil {
		return err
	}
	e := &entry{manifest: m}
	if m.Kind == KindPrompt {
		tmpl, err := parseTemplate(m)
		if err != nil {
			return err
		}
		e.tmpl = tmpl
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.skills[m.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSkill, m.ID)
	}
	r.skills[m.ID] = e
	return nil
}

// LoadDir registers every manifest in dir and returns how many were added.
func (r *Registry) LoadDir(dir string) (int, error) {
	manifests, err := LoadManifests(dir)
	if err != nil {
		return 0, err
	}
	for i, m := range manifests {
		if err := r.Register(m); err != nil {
			return i, err
		}
	}
	return len(manifests), nil
}

// Get returns a skill manifest by ID.
func (r *Registry) Get(id string) (*Manifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.skills[id]
	if !ok {
		return nil, false
	}
	return e.manifest, true
}

// List returns all manifests sorted by ID.
func (r *Registry) List() []*Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Manifest, 0, len(r.skills))
	for _, e := range r.skills {
		out = append(out, e.manifest)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns all skill IDs sorted.
func (r *Registry) IDs() []string {
	list := r.List()
	ids := make([]string, len(list))
	for i, m := range list {
		ids[i] = m.ID
	}
	return ids
}

// Execute runs one skill. A non-nil response returned with an error carries
// the usage incurred before the failure.
func (r *Registry) Execute(ctx context.Context, skillID string, input map[string]any, sc agent.SkillContext, opts agent.SkillOptions) (*agent.SkillResponse, error) {
	r.mu.RLock()
	e, ok := r.skills[skillID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSkill, skillID)
	}
	if e.manifest.RequiresApproval && !opts.AutoApprove {
		return nil, fmt.Errorf("%w: %s", ErrApprovalRequired, skillID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch e.manifest.Kind {
	case KindLua:
		return r.lua.run(ctx, e.manifest, input, sc, opts)
	case KindPrompt:
		return runPrompt(ctx, r.prompts, e.manifest, e.tmpl, input, sc, opts)
	default:
		return nil, fmt.Errorf("%w: skill %s has unknown kind %q", ErrInvalidManifest, skillID, e.manifest.Kind)
	}
}
