package decompose

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ShayCichocki/crew/pkg/models"
)

// Response grammar
//
//	response   = { noise | block }
//	block      = BeginMarker NL { field | continuation } [ EndMarker ]
//	field      = key ":" value NL
//	key        = "title" | "description" | "type" | "priority" | "skills"
//	           | "dependencies" | "context"   (case-insensitive, aliases below)
//
// A block ends at EndMarker, at the next BeginMarker or at end of input.
// Lines outside blocks are ignored. A line inside a block that does not start
// with a known key continues the previous field; lines before the first field
// are ignored. A repeated key replaces the earlier value.
//
// Blocks are numbered from 1 in the order they appear. The task parsed from
// block n gets ID "task-n", so IDs stay stable when other blocks are dropped.
// A block without a title is dropped. Missing type defaults to custom,
// missing priority to medium.
//
// Dependencies are a comma-separated list. Each item is either a block number
// (optionally written "#2", "task 2" or "task-2") or a task title, matched
// case-insensitively against the parsed blocks. "none" or an empty value means
// no dependencies. References that resolve to nothing are kept verbatim so the
// graph can report or flatten them.

// fieldAliases maps accepted keys to their canonical field.
var fieldAliases = map[string]string{
	"title":        "title",
	"name":         "title",
	"description":  "description",
	"desc":         "description",
	"type":         "type",
	"task_type":    "type",
	"priority":     "priority",
	"skills":       "skills",
	"skill_ids":    "skills",
	"dependencies": "dependencies",
	"depends_on":   "dependencies",
	"deps":         "dependencies",
	"context":      "context",
}

// multiline fields keep line breaks on continuation; others join with a space.
var multiline = map[string]bool{
	"description": true,
	"context":     true,
}

// ParseResult is the outcome of parsing a decomposition response.
type ParseResult struct {
	// Tasks in block order.
	Tasks []models.SubAgentTask
	// Dropped lists the 1-based positions of blocks that had no title.
	Dropped []int
}

// rawBlock holds the fields of one block before dependency resolution.
type rawBlock struct {
	position int
	fields   map[string]string
}

// ParseResponse parses the delimiter-block response into tasks.
// It never fails: malformed blocks are dropped and an empty result is valid.
// Parsing the same input twice yields identical results.
func ParseResponse(response string) ParseResult {
	blocks := splitBlocks(response)

	var result ParseResult
	kept := make([]rawBlock, 0, len(blocks))
	titleToID := make(map[string]string)
	for _, b := range blocks {
		title := strings.TrimSpace(b.fields["title"])
		if title == "" {
			result.Dropped = append(result.Dropped, b.position)
			continue
		}
		key := strings.ToLower(title)
		if _, exists := titleToID[key]; !exists {
			titleToID[key] = taskID(b.position)
		}
		kept = append(kept, b)
	}

	for _, b := range kept {
		result.Tasks = append(result.Tasks, models.NewSubAgentTask(models.SubAgentTask{
			ID:           taskID(b.position),
			Title:        strings.TrimSpace(b.fields["title"]),
			Description:  strings.TrimSpace(b.fields["description"]),
			Type:         parseType(b.fields["type"]),
			Priority:     models.ParsePriority(b.fields["priority"]),
			SkillIDs:     splitList(b.fields["skills"]),
			Dependencies: resolveDependencies(b.fields["dependencies"], titleToID),
			Context:      strings.TrimSpace(b.fields["context"]),
		}))
	}
	return result
}

// splitBlocks scans the response line by line and returns every block.
func splitBlocks(response string) []rawBlock {
	response = strings.ReplaceAll(response, "\r\n", "\n")

	var (
		blocks  []rawBlock
		current *rawBlock
		lastKey string
	)
	flush := func() {
		if current != nil {
			blocks = append(blocks, *current)
			current = nil
		}
	}

	for _, line := range strings.Split(response, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == BeginMarker:
			flush()
			current = &rawBlock{position: len(blocks) + 1, fields: make(map[string]string)}
			lastKey = ""
			continue
		case trimmed == EndMarker:
			flush()
			continue
		case current == nil:
			continue
		}

		if key, value, ok := splitField(trimmed); ok {
			current.fields[key] = value
			lastKey = key
			continue
		}
		if lastKey == "" || trimmed == "" && !multiline[lastKey] {
			continue
		}
		current.fields[lastKey] = appendContinuation(current.fields[lastKey], trimmed, multiline[lastKey])
	}
	flush()
	return blocks
}

// splitField recognizes "key: value" lines with a known key.
func splitField(line string) (key, value string, ok bool) {
	idx := strings.Index(line, ":")
	if idx <= 0 {
		return "", "", false
	}
	raw := strings.ToLower(strings.TrimSpace(line[:idx]))
	raw = strings.TrimLeft(raw, "-* ")
	raw = strings.ReplaceAll(raw, " ", "_")
	canonical, known := fieldAliases[raw]
	if !known {
		return "", "", false
	}
	return canonical, strings.TrimSpace(line[idx+1:]), true
}

func appendContinuation(existing, line string, keepBreaks bool) string {
	if existing == "" {
		return line
	}
	if keepBreaks {
		return existing + "\n" + line
	}
	if line == "" {
		return existing
	}
	return existing + " " + line
}

// parseType leaves an empty type as custom rather than guessing.
func parseType(s string) models.TaskType {
	if strings.TrimSpace(s) == "" {
		return models.TaskTypeCustom
	}
	return models.ParseTaskType(s)
}

// splitList splits a comma-separated value, treating "none" as empty.
func splitList(s string) []string {
	s = strings.TrimSpace(s)
	if isNone(s) {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	for _, item := range strings.Split(s, ",") {
		item = strings.Trim(strings.TrimSpace(item), "`\"'[]")
		if item == "" || isNone(item) || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}

func resolveDependencies(s string, titleToID map[string]string) []string {
	var deps []string
	seen := make(map[string]bool)
	for _, item := range splitList(s) {
		id := resolveReference(item, titleToID)
		if !seen[id] {
			seen[id] = true
			deps = append(deps, id)
		}
	}
	return deps
}

// resolveReference maps a block number or title to a task ID.
func resolveReference(ref string, titleToID map[string]string) string {
	if n, ok := blockNumber(ref); ok {
		return taskID(n)
	}
	if id, ok := titleToID[strings.ToLower(ref)]; ok {
		return id
	}
	return ref
}

// blockNumber accepts "2", "#2", "task 2" and "task-2".
func blockNumber(ref string) (int, bool) {
	s := strings.ToLower(strings.TrimSpace(ref))
	s = strings.TrimPrefix(s, "#")
	if rest, ok := strings.CutPrefix(s, "task"); ok {
		s = strings.TrimLeft(rest, " -_#")
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func taskID(position int) string {
	return fmt.Sprintf("task-%d", position)
}

func isNone(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "n/a", "-", "[]":
		return true
	}
	return false
}
