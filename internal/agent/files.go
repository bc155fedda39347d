package agent

import (
	"regexp"
	"strings"

	"github.com/ShayCichocki/crew/pkg/models"
)

// fileLinePattern matches report lines such as "Created: src/app.go",
// "- Modified file `ui/theme.css`" or "* wrote: docs/README.md".
var fileLinePattern = regexp.MustCompile(
	"(?i)^\\s*(?:[-*+]\\s+)?(created|wrote|added|modified|updated|edited|changed)(?:\\s+files?)?\\s*:?\\s+`?([^`\\s]+)`?\\s*$",
)

// ParseFileReport extracts created and modified paths from free-form output.
// Parsing is best-effort: lines that do not match are ignored. Paths keep
// their first-seen order and are de-duplicated per list.
func ParseFileReport(output string) (created, modified []string) {
	seenCreated := make(map[string]bool)
	seenModified := make(map[string]bool)

	for _, line := range strings.Split(output, "\n") {
		m := fileLinePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		path := strings.Trim(m[2], "\"'.,;")
		if path == "" || !looksLikePath(path) {
			continue
		}
		switch strings.ToLower(m[1]) {
		case "created", "wrote", "added":
			if !seenCreated[path] {
				seenCreated[path] = true
				created = append(created, path)
			}
		default:
			if !seenModified[path] {
				seenModified[path] = true
				modified = append(modified, path)
			}
		}
	}
	return created, modified
}

// filesFromArtifacts splits file artifacts into created and modified paths.
func filesFromArtifacts(artifacts []models.Artifact) (created, modified []string) {
	for _, a := range artifacts {
		if a.Path == "" {
			continue
		}
		switch strings.ToLower(a.Action) {
		case "modified", "updated", "edited":
			modified = append(modified, a.Path)
		case "created", "":
			if a.Kind == "file" || a.Action != "" {
				created = append(created, a.Path)
			}
		}
	}
	return created, modified
}

// looksLikePath rejects prose such as "Created: the" that slipped through.
func looksLikePath(s string) bool {
	return strings.ContainsAny(s, "./\\")
}

// mergeUnique appends the items of extra not already present in base.
func mergeUnique(base, extra []string) []string {
	seen := make(map[string]bool, len(base))
	for _, s := range base {
		seen[s] = true
	}
	for _, s := range extra {
		if !seen[s] {
			seen[s] = true
			base = append(base, s)
		}
	}
	return base
}
