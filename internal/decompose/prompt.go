package decompose

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/crew/pkg/models"
)

// Block markers of the response grammar.
const (
	BeginMarker = "<<<TASK>>>"
	EndMarker   = "<<<END_TASK>>>"
)

// plannerSystemPrompt frames the model as a project-decomposition planner.
const plannerSystemPrompt = `You are the project planner of a small software company. You break a
requirement into tasks that individual team members can complete on their own.
You never perform the work yourself; you only plan it.`

// decompositionPrompt is the prompt template for task decomposition.
const decompositionPrompt = `Break this requirement into tasks. Each task should be sized for a single
team member to complete in one session.

Requirement:
%s
%s
Return ONLY task blocks in this exact format, one block per task, no other text:

<<<TASK>>>
title: Short task title
description: What to do and what "done" means. May continue on following lines.
type: code-generation|code-analysis|testing|documentation|refactoring|design|review|research|custom
priority: high|medium|low
skills: comma-separated skill IDs, or none
dependencies: comma-separated numbers of earlier tasks (1 = first block), or none
context: optional extra context
<<<END_TASK>>>

Guidelines:
- Tasks should be as independent as possible so they can run in parallel
- Only add dependencies when a task truly needs another task's output
- A task must never depend on itself or on a later task
- Leave skills as none unless one of the available skills fits exactly
%s`

// BuildPrompt renders the decomposition prompt for a requirement.
func BuildPrompt(requirement string, project models.ProjectInfo, skillIDs []string) string {
	var projectSection strings.Builder
	write := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&projectSection, "- %s: %s\n", label, value)
		}
	}
	write("Project", project.Name)
	write("Language", project.Language)
	write("Framework", project.Framework)
	write("Description", project.Description)

	projectBlock := ""
	if projectSection.Len() > 0 {
		projectBlock = "\nProject:\n" + projectSection.String()
	}

	skills := ""
	if len(skillIDs) > 0 {
		skills = "\nAvailable skills: " + strings.Join(skillIDs, ", ") + "\n"
	}

	return fmt.Sprintf(decompositionPrompt, strings.TrimSpace(requirement), projectBlock, skills)
}
