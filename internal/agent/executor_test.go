package agent

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/ShayCichocki/crew/pkg/models"
)

type fakePrompts struct {
	calls []PromptRequest
	resp  *PromptResponse
	err   error
}

func (f *fakePrompts) Execute(ctx context.Context, req PromptRequest) (*PromptResponse, error) {
	f.calls = append(f.calls, req)
	return f.resp, f.err
}

type skillCall struct {
	id    string
	input map[string]any
	opts  SkillOptions
}

type fakeSkills struct {
	calls   []skillCall
	outputs map[string]*SkillResponse
	errs    map[string]error
}

func (f *fakeSkills) Execute(ctx context.Context, skillID string, input map[string]any, sc SkillContext, opts SkillOptions) (*SkillResponse, error) {
	f.calls = append(f.calls, skillCall{id: skillID, input: input, opts: opts})
	return f.outputs[skillID], f.errs[skillID]
}

func newAgent(task models.SubAgentTask) *models.SubAgent {
	return models.NewSubAgent("agent-1", "Agent 1", task)
}

func TestExecutePromptBranch(t *testing.T) {
	prompts := &fakePrompts{resp: &PromptResponse{
		Text:  "Implemented the toggle.\nCreated: ui/toggle.go\nModified: ui/theme.go\n",
		Usage: models.Usage{InputTokens: 100, OutputTokens: 50, CostUSD: 0.01},
	}}
	exec := NewExecutor(ExecutorConfig{Prompts: prompts})

	a := newAgent(models.SubAgentTask{
		ID:          "task-1",
		Title:       "Add toggle",
		Description: "Add a dark mode toggle",
		Type:        models.TaskTypeCodeGeneration,
		Priority:    models.PriorityHigh,
	})
	a.AssignedEmployeeName = "Mina"

	res := exec.Execute(context.Background(), a, ExecuteOptions{
		AutoApprove: true,
		Project:     ProjectContext{Info: models.ProjectInfo{Language: "Go", WorkingDirectory: "/repo"}},
	})

	if !res.Success() {
		t.Fatalf("expected success, got error %v", res.Err)
	}
	if len(prompts.calls) != 1 {
		t.Fatalf("expected 1 prompt call, got %d", len(prompts.calls))
	}
	call := prompts.calls[0]
	if call.Capability != CapabilityElevated {
		t.Errorf("expected elevated capability, got %s", call.Capability)
	}
	if call.WorkingDirectory != "/repo" {
		t.Errorf("expected working directory /repo, got %q", call.WorkingDirectory)
	}
	if !strings.Contains(call.SystemPrompt, "Mina") {
		t.Errorf("system prompt should frame the assigned employee: %q", call.SystemPrompt)
	}
	for _, want := range []string{"Add toggle", "code-generation", "high", "Go"} {
		if !strings.Contains(call.Prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if !reflect.DeepEqual(res.Result.CreatedFiles, []string{"ui/toggle.go"}) {
		t.Errorf("unexpected created files: %v", res.Result.CreatedFiles)
	}
	if !reflect.DeepEqual(res.Result.ModifiedFiles, []string{"ui/theme.go"}) {
		t.Errorf("unexpected modified files: %v", res.Result.ModifiedFiles)
	}
	if res.Usage.InputTokens != 100 || res.Usage.OutputTokens != 50 {
		t.Errorf("unexpected usage: %+v", res.Usage)
	}
}

func TestExecuteReadOnlyWithoutAutoApprove(t *testing.T) {
	prompts := &fakePrompts{resp: &PromptResponse{Text: "ok"}}
	exec := NewExecutor(ExecutorConfig{Prompts: prompts})

	res := exec.Execute(context.Background(), newAgent(models.SubAgentTask{Title: "Review", Type: models.TaskTypeReview}), ExecuteOptions{})
	if !res.Success() {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if prompts.calls[0].Capability != CapabilityReadOnly {
		t.Errorf("expected read-only capability, got %s", prompts.calls[0].Capability)
	}
	if !strings.Contains(prompts.calls[0].SystemPrompt, "read-only") {
		t.Errorf("system prompt should mention read-only mode")
	}
}

func TestExecutePromptFailureKeepsPartialUsage(t *testing.T) {
	prompts := &fakePrompts{
		resp: &PromptResponse{Usage: models.Usage{InputTokens: 40, CostUSD: 0.002}},
		err:  errors.New("connection reset"),
	}
	exec := NewExecutor(ExecutorConfig{Prompts: prompts})

	res := exec.Execute(context.Background(), newAgent(models.SubAgentTask{Title: "X"}), ExecuteOptions{})
	if res.Success() {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Err.Error(), "connection reset") {
		t.Errorf("error should carry capability message, got %v", res.Err)
	}
	if res.Usage.InputTokens != 40 {
		t.Errorf("expected partial usage to be kept, got %+v", res.Usage)
	}
	if res.Result != nil {
		t.Errorf("expected nil result on failure")
	}
}

func TestExecuteSkillsInOrder(t *testing.T) {
	skills := &fakeSkills{
		outputs: map[string]*SkillResponse{
			"lint": {
				Output: map[string]any{"issues": 2.0},
				Usage:  models.Usage{InputTokens: 10, OutputTokens: 5},
			},
			"fix": {
				Output:    map[string]any{"text": "fixed"},
				Artifacts: []models.Artifact{{Name: "patch", Kind: "file", Path: "main.go", Action: "modified"}},
				Usage:     models.Usage{InputTokens: 20, OutputTokens: 15},
			},
		},
	}
	prompts := &fakePrompts{}
	exec := NewExecutor(ExecutorConfig{Prompts: prompts, Skills: skills})

	a := newAgent(models.SubAgentTask{
		Title:       "Clean up",
		Description: "Fix lint issues",
		SkillIDs:    []string{"lint", "fix"},
	})
	res := exec.Execute(context.Background(), a, ExecuteOptions{AutoApprove: true})

	if !res.Success() {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if len(prompts.calls) != 0 {
		t.Errorf("prompt executor must not run for skill tasks")
	}
	if len(skills.calls) != 2 || skills.calls[0].id != "lint" || skills.calls[1].id != "fix" {
		t.Fatalf("unexpected skill calls: %+v", skills.calls)
	}
	if skills.calls[0].input["description"] != "Fix lint issues" {
		t.Errorf("skill input should carry the task description: %v", skills.calls[0].input)
	}
	if _, ok := skills.calls[1].input["previous"]; !ok {
		t.Errorf("second skill should receive previous output")
	}
	if !skills.calls[1].opts.AutoApprove {
		t.Errorf("auto-approve not forwarded")
	}
	if res.Usage.InputTokens != 30 || res.Usage.OutputTokens != 20 {
		t.Errorf("expected accumulated usage, got %+v", res.Usage)
	}
	if len(res.Result.Artifacts) != 1 {
		t.Errorf("expected 1 artifact, got %d", len(res.Result.Artifacts))
	}
	if !reflect.DeepEqual(res.Result.ModifiedFiles, []string{"main.go"}) {
		t.Errorf("unexpected modified files: %v", res.Result.ModifiedFiles)
	}
	if !strings.Contains(res.Result.Output, "### lint") || !strings.Contains(res.Result.Output, "fixed") {
		t.Errorf("unexpected output: %q", res.Result.Output)
	}
}

func TestExecuteSkillFailureStopsChain(t *testing.T) {
	skills := &fakeSkills{
		outputs: map[string]*SkillResponse{
			"a": {Output: map[string]any{"ok": true}, Usage: models.Usage{OutputTokens: 7}},
		},
		errs: map[string]error{"b": errors.New("boom")},
	}
	exec := NewExecutor(ExecutorConfig{Skills: skills})

	res := exec.Execute(context.Background(), newAgent(models.SubAgentTask{Title: "T", SkillIDs: []string{"a", "b", "c"}}), ExecuteOptions{})
	if res.Success() {
		t.Fatal("expected failure")
	}
	if len(skills.calls) != 2 {
		t.Errorf("expected chain to stop after failing skill, got %d calls", len(skills.calls))
	}
	if res.Usage.OutputTokens != 7 {
		t.Errorf("usage from completed skills should be kept, got %+v", res.Usage)
	}
}

func TestExecuteMissingCapabilities(t *testing.T) {
	exec := NewExecutor(ExecutorConfig{})

	res := exec.Execute(context.Background(), newAgent(models.SubAgentTask{Title: "T"}), ExecuteOptions{})
	if !errors.Is(res.Err, ErrNoPromptExecutor) {
		t.Errorf("expected ErrNoPromptExecutor, got %v", res.Err)
	}

	res = exec.Execute(context.Background(), newAgent(models.SubAgentTask{Title: "T", SkillIDs: []string{"x"}}), ExecuteOptions{})
	if !errors.Is(res.Err, ErrNoSkillExecutor) {
		t.Errorf("expected ErrNoSkillExecutor, got %v", res.Err)
	}
}

func TestExecuteCancelledContext(t *testing.T) {
	prompts := &fakePrompts{resp: &PromptResponse{Text: "ok"}}
	exec := NewExecutor(ExecutorConfig{Prompts: prompts})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := exec.Execute(ctx, newAgent(models.SubAgentTask{Title: "T"}), ExecuteOptions{})
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", res.Err)
	}
	if len(prompts.calls) != 0 {
		t.Errorf("no capability call expected after cancellation")
	}
}

func TestExecuteRecoversFromPanic(t *testing.T) {
	exec := NewExecutor(ExecutorConfig{Prompts: PromptExecutorFunc(func(ctx context.Context, req PromptRequest) (*PromptResponse, error) {
		panic("bad capability")
	})})

	res := exec.Execute(context.Background(), newAgent(models.SubAgentTask{Title: "T"}), ExecuteOptions{})
	if res.Err == nil || !strings.Contains(res.Err.Error(), "panicked") {
		t.Errorf("expected panic to be converted into an error, got %v", res.Err)
	}
}

func TestParseFileReport(t *testing.T) {
	out := strings.Join([]string{
		"Summary of work",
		"Created: src/app.go",
		"- Modified file `ui/theme.css`",
		"* wrote: docs/README.md",
		"Created: src/app.go",
		"Updated: the header",
		"Edited: config.yaml",
	}, "\n")

	created, modified := ParseFileReport(out)
	if want := []string{"src/app.go", "docs/README.md"}; !reflect.DeepEqual(created, want) {
		t.Errorf("created: expected %v, got %v", want, created)
	}
	if want := []string{"ui/theme.css", "config.yaml"}; !reflect.DeepEqual(modified, want) {
		t.Errorf("modified: expected %v, got %v", want, modified)
	}
}

func TestSummarize(t *testing.T) {
	long := "x" + strings.Repeat("다크모드", 40)

	tests := []struct {
		name   string
		output string
		want   string
	}{
		{"first non-empty line", "\n## Result\nmore", "Result"},
		{"empty output", "  \n", "title"},
		{"multi-byte cut", long, string([]rune(long)[:117]) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := summarize("title", tt.output)
			if !utf8.ValidString(got) {
				t.Fatalf("summary is not valid UTF-8: %q", got)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
