package skills

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"text/template"

	"github.com/kaptinlin/jsonrepair"

	"github.com/ShayCichocki/crew/internal/agent"
	"github.com/ShayCichocki/crew/pkg/models"
)

const promptSkillSystem = `You run a single, well-defined procedure for a software team.
Reply with exactly one JSON object and nothing else. Put file outputs in an
"artifacts" array of {"name", "kind", "path", "action", "content"} objects.`

// templateData is what a prompt template can reference.
type templateData struct {
	Input             map[string]any
	Project           models.ProjectInfo
	ProjectPath       string
	AdditionalContext string
}

var templateFuncs = template.FuncMap{
	"json": func(v any) (string, error) {
		data, err := json.MarshalIndent(v, "", "  ")
		return string(data), err
	},
}

// parseTemplate compiles a prompt skill's template.
func parseTemplate(m *Manifest) (*template.Template, error) {
	tmpl, err := template.New(m.ID).Funcs(templateFuncs).Option("missingkey=zero").Parse(m.PromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("%w: skill %s: %v", ErrInvalidManifest, m.ID, err)
	}
	return tmpl, nil
}

// runPrompt renders the template, calls the prompt executor and decodes the reply.
func runPrompt(ctx context.Context, prompts agent.PromptExecutor, m *Manifest, tmpl *template.Template, input map[string]any, sc agent.SkillContext, opts agent.SkillOptions) (*agent.SkillResponse, error) {
	if prompts == nil {
		return nil, agent.ErrNoPromptExecutor
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, templateData{
		Input:             input,
		Project:           sc.ProjectInfo,
		ProjectPath:       sc.ProjectPath,
		AdditionalContext: sc.AdditionalContext,
	}); err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	workDir := sc.ProjectInfo.WorkingDirectory
	if workDir == "" {
		workDir = sc.ProjectPath
	}
	resp, err := prompts.Execute(ctx, agent.PromptRequest{
		Prompt:           buf.String(),
		SystemPrompt:     promptSkillSystem,
		Capability:       agent.CapabilityFor(opts.AutoApprove),
		WorkingDirectory: workDir,
	})
	out := &agent.SkillResponse{Output: map[string]any{}}
	if resp != nil {
		out.Usage = resp.Usage
	}
	if err != nil {
		return out, err
	}
	if resp == nil {
		return out, fmt.Errorf("empty response")
	}

	out.Output = decodeReply(m.ID, resp.Text)
	out.Artifacts = extractArtifacts(out.Output)
	return out, nil
}

// decodeReply extracts the JSON object from a model reply, repairing it if
// needed. Replies without a usable object are returned as {"text": reply}.
func decodeReply(skillID, reply string) map[string]any {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start == -1 {
		return map[string]any{"text": strings.TrimSpace(reply)}
	}
	candidate := reply[start:]
	if end > start {
		candidate = reply[start : end+1]
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(candidate), &out); err == nil {
		return out
	}

	fixed, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		log.Printf("[skills] %s: JSON repair failed: %v", skillID, err)
		return map[string]any{"text": strings.TrimSpace(reply)}
	}
	if err := json.Unmarshal([]byte(fixed), &out); err != nil || out == nil {
		log.Printf("[skills] %s: repaired reply is not an object", skillID)
		return map[string]any{"text": strings.TrimSpace(reply)}
	}
	return out
}

// extractArtifacts moves an "artifacts" array out of the output.
func extractArtifacts(output map[string]any) []models.Artifact {
	raw, ok := output["artifacts"]
	if !ok {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var artifacts []models.Artifact
	if err := json.Unmarshal(data, &artifacts); err != nil {
		return nil
	}
	delete(output, "artifacts")

	kept := artifacts[:0]
	for _, a := range artifacts {
		if a.Name == "" {
			a.Name = a.Path
		}
		if a.Name != "" {
			kept = append(kept, a)
		}
	}
	return kept
}
