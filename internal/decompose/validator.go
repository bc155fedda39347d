package decompose

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/crew/pkg/models"
)

// ValidationResult contains the results of validating a decomposition.
// Errors are only fatal when strict dependency checking is enabled; the
// orchestrator logs them as warnings otherwise.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// Validator checks a parsed decomposition for dependency and skill problems.
type Validator struct {
	knownSkills map[string]bool
}

// NewValidator creates a validator. A nil or empty skill list disables the
// skill checks.
func NewValidator(skillIDs []string) *Validator {
	known := make(map[string]bool, len(skillIDs))
	for _, id := range skillIDs {
		known[id] = true
	}
	return &Validator{knownSkills: known}
}

// Validate performs all checks on the tasks.
func (v *Validator) Validate(tasks []models.SubAgentTask) ValidationResult {
	result := ValidationResult{
		Valid:    true,
		Errors:   []string{},
		Warnings: []string{},
	}

	v.validateReferences(tasks, &result)
	v.validateSkills(tasks, &result)
	v.validateTaskStructure(tasks, &result)
	v.checkAntiPatterns(tasks, &result)

	return result
}

// validateReferences flags self-dependencies and references to missing tasks.
func (v *Validator) validateReferences(tasks []models.SubAgentTask, result *ValidationResult) {
	taskIDs := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		taskIDs[task.ID] = true
	}

	for _, task := range tasks {
		for _, depID := range task.Dependencies {
			switch {
			case depID == task.ID:
				result.Valid = false
				result.Errors = append(result.Errors,
					fmt.Sprintf("Task '%s': depends on itself", task.Title))
			case !taskIDs[depID]:
				result.Valid = false
				result.Errors = append(result.Errors,
					fmt.Sprintf("Task '%s': references non-existent dependency '%s'", task.Title, depID))
			}
		}
	}
}

// validateSkills warns about skill IDs that are not registered.
func (v *Validator) validateSkills(tasks []models.SubAgentTask, result *ValidationResult) {
	if len(v.knownSkills) == 0 {
		return
	}
	for _, task := range tasks {
		for _, id := range task.SkillIDs {
			if v.knownSkills[id] {
				continue
			}
			if suggested := v.findSimilarSkill(id); suggested != "" {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("Task '%s': unknown skill '%s'. Did you mean '%s'?", task.Title, id, suggested))
			} else {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("Task '%s': unknown skill '%s'", task.Title, id))
			}
		}
	}
}

// validateTaskStructure checks that tasks have the fields agents rely on.
func (v *Validator) validateTaskStructure(tasks []models.SubAgentTask, result *ValidationResult) {
	for _, task := range tasks {
		if task.Description == "" {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("Task '%s': missing description", task.Title))
		}
	}
}

// checkAntiPatterns looks for common problematic patterns in decompositions.
func (v *Validator) checkAntiPatterns(tasks []models.SubAgentTask, result *ValidationResult) {
	// All tasks in one dependency chain leave nothing to parallelize.
	if len(tasks) > 3 {
		parallelizable := 0
		for _, task := range tasks {
			if len(task.Dependencies) == 0 {
				parallelizable++
			}
		}
		if parallelizable <= 1 {
			result.Warnings = append(result.Warnings,
				"Decomposition has minimal parallelism - most tasks form a dependency chain")
		}
	}

	for _, task := range tasks {
		if len(task.Title) > 100 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("Task '%s...': title is very long (%d chars)", task.Title[:50], len(task.Title)))
		}
	}
}

// findSimilarSkill returns the closest registered skill ID for a typo.
func (v *Validator) findSimilarSkill(id string) string {
	bestMatch := ""
	bestScore := 0
	for known := range v.knownSkills {
		score := similarityScore(id, known)
		if score > bestScore && score > 50 || score == bestScore && score > 50 && known < bestMatch {
			bestScore = score
			bestMatch = known
		}
	}
	return bestMatch
}

// similarityScore calculates a simple similarity score between two strings (0-100).
func similarityScore(s1, s2 string) int {
	s1 = strings.ToLower(s1)
	s2 = strings.ToLower(s2)

	if s1 == s2 {
		return 100
	}
	if strings.Contains(s2, s1) || strings.Contains(s1, s2) {
		return 80
	}

	minLen := min(len(s1), len(s2))
	if minLen == 0 {
		return 0
	}
	commonPrefix := 0
	for i := 0; i < minLen; i++ {
		if s1[i] != s2[i] {
			break
		}
		commonPrefix++
	}
	return (commonPrefix * 100) / minLen
}
