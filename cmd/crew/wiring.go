package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/crew/internal/agent"
	"github.com/ShayCichocki/crew/internal/api"
	"github.com/ShayCichocki/crew/internal/config"
	"github.com/ShayCichocki/crew/internal/decompose"
	"github.com/ShayCichocki/crew/internal/roster"
	"github.com/ShayCichocki/crew/internal/skills"
	"github.com/ShayCichocki/crew/pkg/models"
)

// runtime holds the capabilities a session is built from.
type runtime struct {
	client     *api.Client
	prompts    *api.PromptExecutor
	skills     *skills.Registry
	executor   *agent.Executor
	decomposer *decompose.Decomposer
	validator  *decompose.Validator
}

// newAPIClient creates the Anthropic client from configuration.
func newAPIClient(cfg *config.Config) (*api.Client, error) {
	key := ""
	if !cfg.Anthropic.UseBedrock {
		k, err := config.GetAPIKey(cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY or enable anthropic.use_bedrock", err)
		}
		key = k
	}
	client, err := api.NewClient(api.ClientConfig{
		Model:         anthropic.Model(cfg.Anthropic.Model),
		MaxTokens:     int64(cfg.Anthropic.MaxTokens),
		APIKey:        key,
		UseAWSBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return nil, fmt.Errorf("create API client: %w", err)
	}
	return client, nil
}

// newSkillRegistry creates a registry and loads the project's skills.
// prompts may be nil when no session will run.
func newSkillRegistry(cfg *config.Config, dir string, prompts agent.PromptExecutor) (*skills.Registry, int, error) {
	reg, err := skills.NewRegistry(skills.RegistryConfig{
		Prompts:   prompts,
		CacheSize: cfg.Skills.CacheSize,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("create skill registry: %w", err)
	}
	n, err := reg.LoadDir(config.Resolve(dir, cfg.Skills.Dir))
	if err != nil {
		return nil, n, fmt.Errorf("load skills: %w", err)
	}
	return reg, n, nil
}

// newRuntime wires the prompt executor, skills, agent executor and decomposer.
func newRuntime(cfg *config.Config, dir string, onTool func(api.ToolEvent)) (*runtime, error) {
	client, err := newAPIClient(cfg)
	if err != nil {
		return nil, err
	}
	prompts := api.NewPromptExecutor(api.PromptExecutorConfig{
		Client: client,
		OnTool: onTool,
	})

	reg, _, err := newSkillRegistry(cfg, dir, prompts)
	if err != nil {
		return nil, err
	}
	ids := reg.IDs()

	dec := decompose.New(prompts)
	dec.SetSkills(ids)

	return &runtime{
		client:     client,
		prompts:    prompts,
		skills:     reg,
		executor:   agent.NewExecutor(agent.ExecutorConfig{Prompts: prompts, Skills: reg}),
		decomposer: dec,
		validator:  decompose.NewValidator(ids),
	}, nil
}

// loadEmployees reads the roster. A missing default roster is not an error;
// an explicitly requested one is.
func loadEmployees(cfg *config.Config, dir string, explicit bool) ([]models.Employee, error) {
	path := config.Resolve(dir, cfg.Roster.Path)
	if path == "" {
		return nil, nil
	}
	r, err := roster.LoadProject(path, cfg.Roster.Project)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return r.Employees, nil
}
