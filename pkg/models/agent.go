package models

import (
	"fmt"
	"time"
)

// AgentStatus represents the current state of a sub-agent.
type AgentStatus string

const (
	// AgentStatusPending indicates the agent has not been dispatched.
	AgentStatusPending AgentStatus = "pending"
	// AgentStatusRunning indicates the agent has been dispatched to the executor.
	AgentStatusRunning AgentStatus = "running"
	// AgentStatusPaused indicates the user paused the agent.
	AgentStatusPaused AgentStatus = "paused"
	// AgentStatusCompleted indicates the agent finished successfully.
	AgentStatusCompleted AgentStatus = "completed"
	// AgentStatusFailed indicates the agent encountered an error.
	AgentStatusFailed AgentStatus = "failed"
	// AgentStatusCancelled indicates the session was cancelled while the agent was active.
	AgentStatusCancelled AgentStatus = "cancelled"
)

// transitions lists the allowed next states for each state.
var transitions = map[AgentStatus][]AgentStatus{
	AgentStatusPending: {AgentStatusRunning},
	AgentStatusRunning: {AgentStatusCompleted, AgentStatusFailed, AgentStatusCancelled, AgentStatusPaused},
	AgentStatusPaused:  {AgentStatusRunning, AgentStatusCancelled},
}

// Valid returns true if the status is a known value.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusPending, AgentStatusRunning, AgentStatusPaused,
		AgentStatusCompleted, AgentStatusFailed, AgentStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for completed, failed and cancelled.
func (s AgentStatus) IsTerminal() bool {
	switch s {
	case AgentStatusCompleted, AgentStatusFailed, AgentStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s AgentStatus) CanTransitionTo(next AgentStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// SubAgentResult is the output of a successful sub-agent.
type SubAgentResult struct {
	// Output is the raw text produced by the capability.
	Output string `json:"output"`
	// Artifacts are structured outputs from skill invocations.
	Artifacts []Artifact `json:"artifacts,omitempty"`
	// CreatedFiles are paths parsed from the output (best-effort).
	CreatedFiles []string `json:"created_files,omitempty"`
	// ModifiedFiles are paths parsed from the output (best-effort).
	ModifiedFiles []string `json:"modified_files,omitempty"`
	// Summary is a one-line description of the result.
	Summary string `json:"summary,omitempty"`
}

// Artifact is a structured output produced by a skill.
type Artifact struct {
	Name    string `json:"name" yaml:"name"`
	Kind    string `json:"kind,omitempty" yaml:"kind"`
	Path    string `json:"path,omitempty" yaml:"path"`
	Action  string `json:"action,omitempty" yaml:"action"` // "created" or "modified" for file artifacts
	Content string `json:"content,omitempty" yaml:"content"`
}

// SubAgent is the mutable execution record of one task.
// It is owned by the orchestrator; everything else works on copies.
type SubAgent struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// Name is the human label shown in logs.
	Name string `json:"name"`
	// Task is the work this agent performs.
	Task SubAgentTask `json:"task"`
	// AssignedEmployeeID is advisory: it affects prompt framing only.
	AssignedEmployeeID string `json:"assigned_employee_id,omitempty"`
	// AssignedEmployeeName is advisory: it affects prompt framing only.
	AssignedEmployeeName string `json:"assigned_employee_name,omitempty"`
	// Dependencies mirrors Task.Dependencies for the scheduler.
	Dependencies []string `json:"dependencies,omitempty"`
	// Status is the current state.
	Status AgentStatus `json:"status"`
	// Progress is in [0, 1].
	Progress float64 `json:"progress"`
	// Result is set on success.
	Result *SubAgentResult `json:"result,omitempty"`
	// Error is set on failure.
	Error string `json:"error,omitempty"`
	// StartedAt is when the agent was first dispatched.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the agent reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Attempt counts dispatches; a resume starts a new attempt.
	Attempt int `json:"attempt"`
	// Usage is the token/cost usage attributed to this agent.
	Usage Usage `json:"usage"`
}

// NewSubAgent wraps a task in a pending agent.
func NewSubAgent(id, name string, task SubAgentTask) *SubAgent {
	task = NewSubAgentTask(task)
	return &SubAgent{
		ID:           id,
		Name:         name,
		Task:         task,
		Dependencies: cloneStrings(task.Dependencies),
		Status:       AgentStatusPending,
	}
}

// Transition moves the agent to next, stamping timestamps.
func (a *SubAgent) Transition(next AgentStatus, now time.Time) error {
	if !a.Status.CanTransitionTo(next) {
		return fmt.Errorf("agent %s: invalid transition %s -> %s", a.ID, a.Status, next)
	}
	a.Status = next
	switch {
	case next == AgentStatusRunning && a.StartedAt == nil:
		t := now
		a.StartedAt = &t
	case next.IsTerminal():
		t := now
		a.CompletedAt = &t
		if next == AgentStatusCompleted {
			a.Progress = 1.0
		}
	}
	return nil
}

// Clone returns a deep copy safe to hand to other goroutines.
func (a *SubAgent) Clone() *SubAgent {
	if a == nil {
		return nil
	}
	c := *a
	c.Task = NewSubAgentTask(a.Task)
	c.Dependencies = cloneStrings(a.Dependencies)
	if a.Result != nil {
		r := *a.Result
		r.Artifacts = append([]Artifact(nil), a.Result.Artifacts...)
		r.CreatedFiles = cloneStrings(a.Result.CreatedFiles)
		r.ModifiedFiles = cloneStrings(a.Result.ModifiedFiles)
		c.Result = &r
	}
	if a.StartedAt != nil {
		t := *a.StartedAt
		c.StartedAt = &t
	}
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
