package models

import "strings"

// TaskType classifies the kind of work a sub-agent performs.
type TaskType string

const (
	// TaskTypeCodeGeneration writes new code.
	TaskTypeCodeGeneration TaskType = "code-generation"
	// TaskTypeCodeAnalysis reads and explains existing code.
	TaskTypeCodeAnalysis TaskType = "code-analysis"
	// TaskTypeTesting writes or runs tests.
	TaskTypeTesting TaskType = "testing"
	// TaskTypeDocumentation writes documentation.
	TaskTypeDocumentation TaskType = "documentation"
	// TaskTypeRefactoring restructures code without behavior change.
	TaskTypeRefactoring TaskType = "refactoring"
	// TaskTypeDesign produces UI/UX or architecture designs.
	TaskTypeDesign TaskType = "design"
	// TaskTypeReview reviews existing work.
	TaskTypeReview TaskType = "review"
	// TaskTypeResearch gathers information.
	TaskTypeResearch TaskType = "research"
	// TaskTypeCustom is anything else.
	TaskTypeCustom TaskType = "custom"
)

// AllTaskTypes lists every known task type in declaration order.
var AllTaskTypes = []TaskType{
	TaskTypeCodeGeneration,
	TaskTypeCodeAnalysis,
	TaskTypeTesting,
	TaskTypeDocumentation,
	TaskTypeRefactoring,
	TaskTypeDesign,
	TaskTypeReview,
	TaskTypeResearch,
	TaskTypeCustom,
}

// Valid returns true if the type is a known value.
func (t TaskType) Valid() bool {
	for _, known := range AllTaskTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseTaskType normalizes free-form spellings such as "codeGeneration",
// "code_generation" or "Code Generation". Unknown values map to TaskTypeCustom.
func ParseTaskType(s string) TaskType {
	key := normalizeKey(s)
	for _, known := range AllTaskTypes {
		if normalizeKey(string(known)) == key {
			return known
		}
	}
	switch key {
	case "code", "implementation", "feature":
		return TaskTypeCodeGeneration
	case "analysis":
		return TaskTypeCodeAnalysis
	case "test", "tests", "qa":
		return TaskTypeTesting
	case "docs", "doc":
		return TaskTypeDocumentation
	case "refactor":
		return TaskTypeRefactoring
	}
	return TaskTypeCustom
}

// Priority is the relative importance of a task.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Valid returns true if the priority is a known value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// ParsePriority parses a priority, defaulting to PriorityMedium.
func ParsePriority(s string) Priority {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if p.Valid() {
		return p
	}
	return PriorityMedium
}

// SubAgentTask is the immutable description of one unit of work produced by
// decomposition. Use NewSubAgentTask to get defensive copies of the slices.
type SubAgentTask struct {
	// ID identifies the task within its decomposition.
	ID string `json:"id"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty"`
	// Type classifies the work.
	Type TaskType `json:"type"`
	// Priority is the relative importance.
	Priority Priority `json:"priority"`
	// SkillIDs are pre-defined procedures to invoke in order.
	// Empty means the general-purpose prompt executor is used.
	SkillIDs []string `json:"skill_ids,omitempty"`
	// Dependencies lists task IDs that must complete first.
	Dependencies []string `json:"dependencies,omitempty"`
	// Context is optional free-form context.
	Context string `json:"context,omitempty"`
}

// NewSubAgentTask returns a task that owns copies of the given slices.
func NewSubAgentTask(t SubAgentTask) SubAgentTask {
	t.SkillIDs = cloneStrings(t.SkillIDs)
	t.Dependencies = cloneStrings(t.Dependencies)
	if !t.Type.Valid() {
		t.Type = ParseTaskType(string(t.Type))
	}
	if !t.Priority.Valid() {
		t.Priority = PriorityMedium
	}
	return t
}

// UsesSkills reports whether the task runs through the skill executor.
func (t SubAgentTask) UsesSkills() bool {
	return len(t.SkillIDs) > 0
}

func normalizeKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r == '-' || r == '_' || r == ' ' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
