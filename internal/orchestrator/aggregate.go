package orchestrator

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/crew/pkg/models"
)

// aggregate runs phase 4 over the agents in creation order. Only completed
// agents contribute output, artifacts and files; every agent is counted.
func (r *sessionRun) aggregate() {
	o := r.o

	o.mu.RLock()
	result := Aggregate(r.session.SubAgents)
	result.Usage = o.usage
	o.mu.RUnlock()

	o.mu.Lock()
	r.session.Result = result
	o.mu.Unlock()
}

// Aggregate builds a session result from agents, preserving their order.
func Aggregate(agents []*models.SubAgent) *models.SessionResult {
	res := &models.SessionResult{}
	var sb strings.Builder
	seenCreated := make(map[string]bool)
	seenModified := make(map[string]bool)

	for _, a := range agents {
		switch a.Status {
		case models.AgentStatusCompleted:
			res.SuccessCount++
		case models.AgentStatusFailed:
			res.FailureCount++
			continue
		case models.AgentStatusCancelled:
			res.CancelledCount++
			continue
		default:
			continue
		}
		if a.Result == nil {
			continue
		}

		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "## %s — %s\n\n%s", a.Name, a.Task.Title, strings.TrimSpace(a.Result.Output))

		res.Artifacts = append(res.Artifacts, a.Result.Artifacts...)
		res.CreatedFiles = appendUnique(res.CreatedFiles, seenCreated, a.Result.CreatedFiles)
		res.ModifiedFiles = appendUnique(res.ModifiedFiles, seenModified, a.Result.ModifiedFiles)
	}
	res.Summary = sb.String()
	return res
}

func appendUnique(dst []string, seen map[string]bool, src []string) []string {
	for _, s := range src {
		if !seen[s] {
			seen[s] = true
			dst = append(dst, s)
		}
	}
	return dst
}
