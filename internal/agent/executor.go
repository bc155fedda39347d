package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/crew/pkg/models"
)

// ErrNoPromptExecutor is returned when a task needs the prompt executor but none is configured.
var ErrNoPromptExecutor = errors.New("no prompt executor configured")

// ErrNoSkillExecutor is returned when a task lists skills but no skill executor is configured.
var ErrNoSkillExecutor = errors.New("no skill executor configured")

// ProjectContext is the ambient project information passed through to capabilities.
type ProjectContext struct {
	Info              models.ProjectInfo
	ProjectPath       string
	AdditionalContext string
}

// ExecuteOptions controls a single agent execution.
type ExecuteOptions struct {
	// AutoApprove grants the capability unattended side effects.
	AutoApprove bool
	// Project is passed through to the capability untouched.
	Project ProjectContext
}

// ExecutionResult is the outcome of one agent execution.
// Usage is populated on success and, when the capability reported it, on failure.
type ExecutionResult struct {
	Result   *models.SubAgentResult
	Err      error
	Usage    models.Usage
	Duration time.Duration
}

// Success reports whether the execution produced a result.
func (r *ExecutionResult) Success() bool {
	return r.Err == nil && r.Result != nil
}

// TaskExecutor runs one sub-agent.
type TaskExecutor interface {
	Execute(ctx context.Context, a *models.SubAgent, opts ExecuteOptions) *ExecutionResult
}

// Compile-time verification that Executor implements TaskExecutor.
var _ TaskExecutor = (*Executor)(nil)

// ExecutorConfig contains the capabilities an Executor dispatches to.
type ExecutorConfig struct {
	// Prompts runs tasks without skills. Optional if every task uses skills.
	Prompts PromptExecutor
	// Skills runs tasks with skill IDs. Optional if no task uses skills.
	Skills SkillExecutor
}

// Executor runs exactly one sub-agent to completion or failure.
// It never panics on capability errors and never mutates the agent it is given.
type Executor struct {
	prompts PromptExecutor
	skills  SkillExecutor
}

// NewExecutor creates a new Executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	return &Executor{prompts: cfg.Prompts, skills: cfg.Skills}
}

// Execute runs the agent's task. Failures are reported in the result, not returned.
func (e *Executor) Execute(ctx context.Context, a *models.SubAgent, opts ExecuteOptions) (res *ExecutionResult) {
	start := time.Now()
	res = &ExecutionResult{}
	defer func() {
		if r := recover(); r != nil {
			res.Result = nil
			res.Err = fmt.Errorf("agent %s panicked: %v", a.ID, r)
		}
		res.Duration = time.Since(start)
	}()

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	if a.Task.UsesSkills() {
		res.Result, res.Usage, res.Err = e.runSkills(ctx, a, opts)
	} else {
		res.Result, res.Usage, res.Err = e.runPrompt(ctx, a, opts)
	}
	if res.Err != nil {
		res.Result = nil
	}
	return res
}

// runPrompt invokes the prompt executor once.
func (e *Executor) runPrompt(ctx context.Context, a *models.SubAgent, opts ExecuteOptions) (*models.SubAgentResult, models.Usage, error) {
	if e.prompts == nil {
		return nil, models.Usage{}, ErrNoPromptExecutor
	}

	capability := CapabilityFor(opts.AutoApprove)
	workDir := opts.Project.Info.WorkingDirectory
	if workDir == "" {
		workDir = opts.Project.ProjectPath
	}

	resp, err := e.prompts.Execute(ctx, PromptRequest{
		Prompt:           BuildPrompt(a, opts.Project.Info),
		SystemPrompt:     BuildSystemPrompt(a, capability),
		Capability:       capability,
		WorkingDirectory: workDir,
	})
	var usage models.Usage
	if resp != nil {
		usage = resp.Usage
	}
	if err != nil {
		return nil, usage, fmt.Errorf("prompt executor: %w", err)
	}
	if resp == nil {
		return nil, usage, fmt.Errorf("prompt executor: empty response")
	}

	created, modified := ParseFileReport(resp.Text)
	return &models.SubAgentResult{
		Output:        resp.Text,
		CreatedFiles:  created,
		ModifiedFiles: modified,
		Summary:       summarize(a.Task.Title, resp.Text),
	}, usage, nil
}

// runSkills invokes the skill executor once per skill, in declared order.
// The first failure stops the chain; usage from earlier skills is kept.
func (e *Executor) runSkills(ctx context.Context, a *models.SubAgent, opts ExecuteOptions) (*models.SubAgentResult, models.Usage, error) {
	var usage models.Usage
	if e.skills == nil {
		return nil, usage, ErrNoSkillExecutor
	}

	sc := SkillContext{
		ProjectPath:       opts.Project.ProjectPath,
		ProjectInfo:       opts.Project.Info,
		AdditionalContext: opts.Project.AdditionalContext,
	}
	result := &models.SubAgentResult{}
	var out strings.Builder
	var previous map[string]any

	for i, skillID := range a.Task.SkillIDs {
		if err := ctx.Err(); err != nil {
			return nil, usage, err
		}

		resp, err := e.skills.Execute(ctx, skillID, skillInput(a.Task, previous), sc, SkillOptions{AutoApprove: opts.AutoApprove})
		if resp != nil {
			usage = usage.Add(resp.Usage)
		}
		if err != nil {
			return nil, usage, fmt.Errorf("skill %s: %w", skillID, err)
		}
		if resp == nil {
			return nil, usage, fmt.Errorf("skill %s: empty response", skillID)
		}

		if i > 0 {
			out.WriteString("\n")
		}
		fmt.Fprintf(&out, "### %s\n%s\n", skillID, renderOutput(resp.Output))
		result.Artifacts = append(result.Artifacts, resp.Artifacts...)
		previous = resp.Output
	}

	result.Output = out.String()
	artifactCreated, artifactModified := filesFromArtifacts(result.Artifacts)
	textCreated, textModified := ParseFileReport(result.Output)
	result.CreatedFiles = mergeUnique(artifactCreated, textCreated)
	result.ModifiedFiles = mergeUnique(artifactModified, textModified)
	result.Summary = fmt.Sprintf("%s: ran %d skill(s), %d artifact(s)", a.Task.Title, len(a.Task.SkillIDs), len(result.Artifacts))
	return result, usage, nil
}

// skillInput builds the structured input for a skill from the task.
func skillInput(t models.SubAgentTask, previous map[string]any) map[string]any {
	in := map[string]any{
		"title":       t.Title,
		"description": t.Description,
		"type":        string(t.Type),
		"priority":    string(t.Priority),
	}
	if t.Context != "" {
		in["context"] = t.Context
	}
	if previous != nil {
		in["previous"] = previous
	}
	return in
}

// renderOutput formats a skill's structured output as indented JSON.
func renderOutput(output map[string]any) string {
	if len(output) == 0 {
		return "(no output)"
	}
	if text, ok := output["text"].(string); ok && len(output) == 1 {
		return text
	}
	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", output)
	}
	return string(data)
}

// summarize returns the first non-empty line of output, truncated.
func summarize(title, output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "#*- "))
		if line == "" {
			continue
		}
		if r := []rune(line); len(r) > 120 {
			line = string(r[:117]) + "..."
		}
		return line
	}
	return title
}
