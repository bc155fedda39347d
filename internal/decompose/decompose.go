// Package decompose turns a natural-language requirement into sub-agent tasks.
package decompose

import (
	"context"
	"errors"
	"fmt"

	"github.com/ShayCichocki/crew/internal/agent"
	"github.com/ShayCichocki/crew/pkg/models"
)

// ErrNoExecutor is returned when the decomposer has no prompt executor.
var ErrNoExecutor = errors.New("decompose: no prompt executor configured")

// Result is the outcome of one decomposition call.
type Result struct {
	ParseResult
	// Raw is the unparsed model response.
	Raw string
	// Usage reported by the prompt executor, also on failure.
	Usage models.Usage
}

// Decomposer asks the prompt executor for a plan and parses it.
type Decomposer struct {
	executor agent.PromptExecutor
	skillIDs []string
}

// New creates a new Decomposer backed by the given prompt executor.
func New(executor agent.PromptExecutor) *Decomposer {
	return &Decomposer{executor: executor}
}

// SetSkills advertises the available skill IDs in the planner prompt.
func (d *Decomposer) SetSkills(ids []string) {
	d.skillIDs = append([]string(nil), ids...)
}

// Decompose calls the executor read-only with the planner system prompt.
// Executor failures are returned; an unparseable reply is zero tasks, not an error.
func (d *Decomposer) Decompose(ctx context.Context, requirement string, project models.ProjectInfo) (*Result, error) {
	if d.executor == nil {
		return nil, ErrNoExecutor
	}

	resp, err := d.executor.Execute(ctx, agent.PromptRequest{
		Prompt:           BuildPrompt(requirement, project, d.skillIDs),
		SystemPrompt:     plannerSystemPrompt,
		Capability:       agent.CapabilityReadOnly,
		WorkingDirectory: project.WorkingDirectory,
	})
	result := &Result{}
	if resp != nil {
		result.Usage = resp.Usage
	}
	if err != nil {
		return result, fmt.Errorf("decomposition call: %w", err)
	}
	if resp == nil {
		return result, fmt.Errorf("decomposition call: empty response")
	}

	result.Raw = resp.Text
	result.ParseResult = ParseResponse(resp.Text)
	return result, nil
}
