// Package agent executes a single sub-agent against an external capability.
package agent

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/crew/pkg/models"
)

// ScopeGuidancePrompt is appended to every task prompt to keep agents on task.
const ScopeGuidancePrompt = `## Scope Guidance

Stay focused on this task. Other sub-agents are working on sibling tasks in
parallel; do not duplicate their work.

When you finish, list every file you touched on its own line using exactly:
  Created: <path>
  Modified: <path>
`

// readOnlyGuidance tells the model that side effects are unavailable.
const readOnlyGuidance = `You are running in read-only mode. Do not attempt to write files or run
commands; describe the changes you would make instead.`

// roleFor returns the role framing for a task type.
func roleFor(t models.TaskType) string {
	switch t {
	case models.TaskTypeCodeGeneration:
		return "a senior software engineer who writes clean, working code"
	case models.TaskTypeCodeAnalysis:
		return "a software engineer who analyzes existing code and explains its structure and risks"
	case models.TaskTypeTesting:
		return "a QA engineer who writes thorough, deterministic tests"
	case models.TaskTypeDocumentation:
		return "a technical writer who produces clear, accurate documentation"
	case models.TaskTypeRefactoring:
		return "a software engineer who refactors code without changing its behavior"
	case models.TaskTypeDesign:
		return "a product designer who produces concrete UI/UX and architecture designs"
	case models.TaskTypeReview:
		return "a meticulous reviewer who finds defects and suggests fixes"
	case models.TaskTypeResearch:
		return "a researcher who gathers facts and summarizes them concisely"
	default:
		return "a capable generalist"
	}
}

// BuildSystemPrompt returns the role-framing system message for an agent.
func BuildSystemPrompt(a *models.SubAgent, capability CapabilityLevel) string {
	var sb strings.Builder
	if a.AssignedEmployeeName != "" {
		fmt.Fprintf(&sb, "You are %s, %s.", a.AssignedEmployeeName, roleFor(a.Task.Type))
	} else {
		fmt.Fprintf(&sb, "You are %s.", roleFor(a.Task.Type))
	}
	sb.WriteString(" You are one sub-agent in a team working on a larger requirement.")
	if capability == CapabilityReadOnly {
		sb.WriteString("\n\n")
		sb.WriteString(readOnlyGuidance)
	}
	return sb.String()
}

// BuildPrompt synthesizes the task prompt.
func BuildPrompt(a *models.SubAgent, project models.ProjectInfo) string {
	var sb strings.Builder

	sb.WriteString("You are working on a task.\n\n")
	sb.WriteString("Title: ")
	sb.WriteString(a.Task.Title)
	sb.WriteString("\nType: ")
	sb.WriteString(string(a.Task.Type))
	sb.WriteString("\nPriority: ")
	sb.WriteString(string(a.Task.Priority))
	sb.WriteString("\n")

	if a.Task.Description != "" {
		sb.WriteString("\nDescription:\n")
		sb.WriteString(a.Task.Description)
		sb.WriteString("\n")
	}
	if a.Task.Context != "" {
		sb.WriteString("\nContext:\n")
		sb.WriteString(a.Task.Context)
		sb.WriteString("\n")
	}

	if info := projectLines(project); info != "" {
		sb.WriteString("\n## Project\n\n")
		sb.WriteString(info)
	}

	sb.WriteString("\n")
	sb.WriteString(ScopeGuidancePrompt)
	return sb.String()
}

func projectLines(p models.ProjectInfo) string {
	var sb strings.Builder
	write := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&sb, "- %s: %s\n", label, value)
		}
	}
	write("Name", p.Name)
	write("Language", p.Language)
	write("Framework", p.Framework)
	write("Working directory", p.WorkingDirectory)
	write("Description", p.Description)
	return sb.String()
}
