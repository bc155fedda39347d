package agent

import (
	"context"

	"github.com/ShayCichocki/crew/pkg/models"
)

// CapabilityLevel controls whether an external call may perform unattended
// side effects.
type CapabilityLevel string

const (
	// CapabilityReadOnly restricts the capability to read operations.
	CapabilityReadOnly CapabilityLevel = "read_only"
	// CapabilityElevated allows writes and commands.
	CapabilityElevated CapabilityLevel = "elevated"
)

// CapabilityFor maps the auto-approval flag to a capability level.
func CapabilityFor(autoApprove bool) CapabilityLevel {
	if autoApprove {
		return CapabilityElevated
	}
	return CapabilityReadOnly
}

// PromptRequest is the input of a prompt executor call.
type PromptRequest struct {
	Prompt           string
	SystemPrompt     string
	Capability       CapabilityLevel
	WorkingDirectory string
}

// PromptResponse is the output of a prompt executor call.
type PromptResponse struct {
	Text  string
	Usage models.Usage
}

// PromptExecutor turns a prompt into text plus usage counters.
//
// Implementations should honor ctx cancellation. On failure they may return a
// non-nil response together with the error to report partial usage.
type PromptExecutor interface {
	Execute(ctx context.Context, req PromptRequest) (*PromptResponse, error)
}

// PromptExecutorFunc adapts a function to PromptExecutor.
type PromptExecutorFunc func(ctx context.Context, req PromptRequest) (*PromptResponse, error)

// Execute calls f.
func (f PromptExecutorFunc) Execute(ctx context.Context, req PromptRequest) (*PromptResponse, error) {
	return f(ctx, req)
}

// SkillContext is ambient information passed to every skill invocation.
type SkillContext struct {
	ProjectPath       string
	ProjectInfo       models.ProjectInfo
	AdditionalContext string
}

// SkillOptions controls a skill invocation.
type SkillOptions struct {
	AutoApprove bool
}

// SkillResponse is the output of a skill invocation.
type SkillResponse struct {
	Output    map[string]any
	Artifacts []models.Artifact
	Usage     models.Usage
}

// SkillExecutor runs a named pre-defined procedure.
//
// As with PromptExecutor, a non-nil response returned with an error carries
// partial usage.
type SkillExecutor interface {
	Execute(ctx context.Context, skillID string, input map[string]any, sc SkillContext, opts SkillOptions) (*SkillResponse, error)
}
