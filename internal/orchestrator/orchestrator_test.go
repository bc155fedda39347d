package orchestrator

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ShayCichocki/crew/internal/agent"
	"github.com/ShayCichocki/crew/internal/decompose"
	"github.com/ShayCichocki/crew/pkg/models"
)

const waitTimeout = 2 * time.Second

var (
	planUsage  = models.Usage{InputTokens: 10, OutputTokens: 5, CostUSD: 0.001}
	agentUsage = models.Usage{InputTokens: 100, OutputTokens: 20, CostUSD: 0.01}
)

type fakeDecomposer struct {
	result  *decompose.Result
	err     error
	block   bool
	started chan struct{}
	once    sync.Once
}

func (f *fakeDecomposer) Decompose(ctx context.Context, requirement string, project models.ProjectInfo) (*decompose.Result, error) {
	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.block {
		<-ctx.Done()
		return &decompose.Result{Usage: planUsage}, ctx.Err()
	}
	return f.result, f.err
}

// fakeExecutor completes every task immediately unless a gate is registered
// for its title, in which case it waits for the gate or its context.
type fakeExecutor struct {
	mu      sync.Mutex
	trace   []string
	gates   map[string]chan struct{}
	fail    map[string]error
	opts    []agent.ExecuteOptions
	started chan string
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		gates:   make(map[string]chan struct{}),
		fail:    make(map[string]error),
		started: make(chan string, 64),
	}
}

func (f *fakeExecutor) gate(title string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[title] = ch
	return ch
}

func (f *fakeExecutor) Execute(ctx context.Context, a *models.SubAgent, opts agent.ExecuteOptions) *agent.ExecutionResult {
	title := a.Task.Title
	f.mu.Lock()
	f.trace = append(f.trace, "start:"+title)
	f.opts = append(f.opts, opts)
	gate := f.gates[title]
	failure := f.fail[title]
	f.mu.Unlock()
	f.started <- title

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			f.record("abort:" + title)
			return &agent.ExecutionResult{Err: ctx.Err(), Usage: agentUsage}
		}
	}
	f.record("end:" + title)

	if failure != nil {
		return &agent.ExecutionResult{Err: failure, Usage: agentUsage}
	}
	return &agent.ExecutionResult{
		Result: &models.SubAgentResult{
			Output:       "output of " + title,
			Summary:      title + " done",
			CreatedFiles: []string{"shared.go", strings.ReplaceAll(strings.ToLower(title), " ", "_") + ".go"},
		},
		Usage:    agentUsage,
		Duration: time.Millisecond,
	}
}

func (f *fakeExecutor) record(entry string) {
	f.mu.Lock()
	f.trace = append(f.trace, entry)
	f.mu.Unlock()
}

func (f *fakeExecutor) Trace() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.trace...)
}

// eventRecorder drains the orchestrator's event stream until it is closed.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
	done   chan struct{}
}

func (r *eventRecorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func newTestOrchestrator(t *testing.T, dec TaskDecomposer, exec agent.TaskExecutor, opts ...Option) (*Orchestrator, *Metrics, *eventRecorder) {
	t.Helper()
	m := MustNewMetrics(prometheus.NewRegistry())
	o := New(RequiredConfig{Decomposer: dec, Executor: exec}, append([]Option{WithMetrics(m)}, opts...)...)

	rec := &eventRecorder{done: make(chan struct{})}
	go func() {
		defer close(rec.done)
		for ev := range o.Events() {
			rec.mu.Lock()
			rec.events = append(rec.events, ev)
			rec.mu.Unlock()
		}
	}()
	t.Cleanup(o.Close)
	return o, m, rec
}

type runResult struct {
	session *models.OrchestratorSession
	err     error
}

func orchestrateAsync(o *Orchestrator, requirement string, project models.ProjectInfo, employees []models.Employee) <-chan runResult {
	ch := make(chan runResult, 1)
	go func() {
		s, err := o.Orchestrate(context.Background(), requirement, project, employees, false)
		ch <- runResult{session: s, err: err}
	}()
	return ch
}

func waitResult(t *testing.T, ch <-chan runResult) runResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for Orchestrate to return")
		return runResult{}
	}
}

func waitStarted(t *testing.T, f *fakeExecutor) string {
	t.Helper()
	select {
	case title := <-f.started:
		return title
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for an agent to start")
		return ""
	}
}

func agentByTitle(t *testing.T, o *Orchestrator, title string) *models.SubAgent {
	t.Helper()
	for _, a := range o.Session().SubAgents {
		if a.Task.Title == title {
			return a
		}
	}
	t.Fatalf("no agent for task %q", title)
	return nil
}

func plan(tasks ...models.SubAgentTask) *decompose.Result {
	return &decompose.Result{ParseResult: decompose.ParseResult{Tasks: tasks}, Usage: planUsage}
}

func task(id, title string, deps ...string) models.SubAgentTask {
	return models.SubAgentTask{ID: id, Title: title, Type: models.TaskTypeCodeGeneration, Dependencies: deps}
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

const darkModePlan = `
<<<TASK>>>
title: Design dark mode palette
type: design
priority: high
dependencies: none
<<<END_TASK>>>

<<<TASK>>>
title: Implement dark mode toggle
type: code-generation
dependencies: 1
<<<END_TASK>>>
`

func TestOrchestrate_DarkMode(t *testing.T) {
	parsed := decompose.ParseResponse(darkModePlan)
	dec := &fakeDecomposer{result: &decompose.Result{ParseResult: parsed, Usage: planUsage}}
	exec := newFakeExecutor()
	o, _, _ := newTestOrchestrator(t, dec, exec)

	project := models.ProjectInfo{Name: "web", WorkingDirectory: "/tmp/web"}
	session, err := o.Orchestrate(context.Background(), "Add dark mode", project, nil, true)
	if err != nil {
		t.Fatalf("Orchestrate() error = %v", err)
	}

	if session.Status != models.SessionCompleted {
		t.Fatalf("expected status completed, got %s", session.Status)
	}
	if len(session.SubAgents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(session.SubAgents))
	}

	want := []string{
		"start:Design dark mode palette",
		"end:Design dark mode palette",
		"start:Implement dark mode toggle",
		"end:Implement dark mode toggle",
	}
	got := exec.Trace()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("expected trace %v, got %v", want, got)
	}

	res := session.Result
	if res == nil {
		t.Fatal("expected a session result")
	}
	if res.SuccessCount != 2 || res.FailureCount != 0 || res.CancelledCount != 0 {
		t.Errorf("expected 2/0/0, got %d/%d/%d", res.SuccessCount, res.FailureCount, res.CancelledCount)
	}
	if !strings.Contains(res.Summary, "## agent-1 — Design dark mode palette") {
		t.Errorf("summary missing first heading:\n%s", res.Summary)
	}
	if strings.Index(res.Summary, "agent-1") > strings.Index(res.Summary, "agent-2") {
		t.Error("expected summary sections in agent order")
	}
	if len(res.CreatedFiles) != 3 || res.CreatedFiles[0] != "shared.go" {
		t.Errorf("expected de-duplicated created files, got %v", res.CreatedFiles)
	}

	if o.Progress() != progressDone {
		t.Errorf("expected progress 1.0, got %v", o.Progress())
	}
	if session.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}

	for _, opts := range exec.opts {
		if !opts.AutoApprove {
			t.Error("expected AutoApprove to be passed through")
		}
		if opts.Project.ProjectPath != "/tmp/web" || opts.Project.Info.Name != "web" {
			t.Errorf("expected project context to be passed through, got %+v", opts.Project)
		}
	}
}

func TestOrchestrate_StableOrdering(t *testing.T) {
	dec := &fakeDecomposer{result: plan(
		task("task-1", "First"),
		task("task-2", "Second"),
		task("task-3", "Third"),
	)}
	exec := newFakeExecutor()
	first := exec.gate("First")
	o, _, _ := newTestOrchestrator(t, dec, exec)

	ch := orchestrateAsync(o, "three things", models.ProjectInfo{}, nil)

	// Let Second and Third finish before First.
	ended := 0
	deadline := time.After(waitTimeout)
	for ended < 2 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for agents to finish")
		default:
		}
		ended = 0
		for _, a := range o.Session().SubAgents {
			if a.Status == models.AgentStatusCompleted {
				ended++
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(first)

	res := waitResult(t, ch)
	if res.err != nil {
		t.Fatalf("Orchestrate() error = %v", res.err)
	}
	for i, a := range res.session.SubAgents {
		wantID := []string{"task-1", "task-2", "task-3"}[i]
		if a.Task.ID != wantID {
			t.Errorf("agent %d: expected task %s, got %s", i, wantID, a.Task.ID)
		}
	}
	summary := res.session.Result.Summary
	if strings.Index(summary, "First") > strings.Index(summary, "Second") {
		t.Errorf("expected summary in creation order, got:\n%s", summary)
	}
}

func TestOrchestrate_ConcurrencyBound(t *testing.T) {
	dec := &fakeDecomposer{result: plan(
		task("task-1", "A"),
		task("task-2", "B"),
		task("task-3", "C"),
	)}
	exec := newFakeExecutor()
	gates := map[string]chan struct{}{"A": exec.gate("A"), "B": exec.gate("B"), "C": exec.gate("C")}
	o, m, _ := newTestOrchestrator(t, dec, exec, WithMaxConcurrency(2))

	ch := orchestrateAsync(o, "bounded", models.ProjectInfo{}, nil)

	firstStarted := waitStarted(t, exec)
	waitStarted(t, exec)
	select {
	case title := <-exec.started:
		t.Fatalf("expected at most 2 running agents, %s started early", title)
	case <-time.After(50 * time.Millisecond):
	}
	if got := testutil.ToFloat64(m.agentsRunning); got != 2 {
		t.Errorf("expected running gauge 2, got %v", got)
	}

	close(gates[firstStarted])
	third := waitStarted(t, exec)
	if third != "C" {
		t.Errorf("expected C to start third, got %s", third)
	}
	for title, g := range gates {
		if title != firstStarted {
			close(g)
		}
	}

	res := waitResult(t, ch)
	if res.session.Result.SuccessCount != 3 {
		t.Errorf("expected 3 successes, got %d", res.session.Result.SuccessCount)
	}
	if got := testutil.ToFloat64(m.agentsRunning); got != 0 {
		t.Errorf("expected running gauge 0, got %v", got)
	}
}

func TestOrchestrate_FailedDependencyStillRunsNextLevel(t *testing.T) {
	dec := &fakeDecomposer{result: plan(
		task("task-1", "Schema"),
		task("task-2", "Handlers", "task-1"),
	)}
	exec := newFakeExecutor()
	exec.fail["Schema"] = errors.New("model refused")
	o, _, _ := newTestOrchestrator(t, dec, exec)

	session, err := o.Orchestrate(context.Background(), "api", models.ProjectInfo{}, nil, false)
	if err != nil {
		t.Fatalf("agent failures must not be returned, got %v", err)
	}
	if session.Status != models.SessionCompleted {
		t.Errorf("expected completed session, got %s", session.Status)
	}
	if session.SubAgents[0].Status != models.AgentStatusFailed {
		t.Errorf("expected first agent failed, got %s", session.SubAgents[0].Status)
	}
	if session.SubAgents[0].Error != "model refused" {
		t.Errorf("expected error text, got %q", session.SubAgents[0].Error)
	}
	if session.SubAgents[1].Status != models.AgentStatusCompleted {
		t.Errorf("expected dependent agent to run, got %s", session.SubAgents[1].Status)
	}
	if r := session.Result; r.SuccessCount != 1 || r.FailureCount != 1 {
		t.Errorf("expected 1 success and 1 failure, got %d/%d", r.SuccessCount, r.FailureCount)
	}
	if strings.Contains(session.Result.Summary, "Schema") {
		t.Error("failed agents must not contribute to the summary")
	}
}

func TestOrchestrate_DecompositionError(t *testing.T) {
	dec := &fakeDecomposer{
		result: &decompose.Result{Usage: planUsage},
		err:    errors.New("connection refused"),
	}
	exec := newFakeExecutor()
	o, m, _ := newTestOrchestrator(t, dec, exec)

	session, err := o.Orchestrate(context.Background(), "anything", models.ProjectInfo{}, nil, false)
	if !errors.Is(err, ErrDecomposition) {
		t.Fatalf("expected ErrDecomposition, got %v", err)
	}
	if session == nil {
		t.Fatal("expected a session snapshot alongside the error")
	}
	if session.Status != models.SessionFailed {
		t.Errorf("expected failed session, got %s", session.Status)
	}
	if !strings.Contains(session.Error, "connection refused") {
		t.Errorf("expected session error to carry the cause, got %q", session.Error)
	}
	if len(session.SubAgents) != 0 {
		t.Errorf("expected no agents, got %d", len(session.SubAgents))
	}
	if len(exec.Trace()) != 0 {
		t.Error("expected no executions")
	}
	if o.Usage() != planUsage {
		t.Errorf("expected decomposition usage %+v, got %+v", planUsage, o.Usage())
	}
	if o.Progress() >= progressDone {
		t.Errorf("failed session must not report full progress, got %v", o.Progress())
	}
	if got := testutil.ToFloat64(m.sessions.WithLabelValues(string(models.SessionFailed))); got != 1 {
		t.Errorf("expected 1 failed session metric, got %v", got)
	}
	if o.IsRunning() {
		t.Error("expected IsRunning false after return")
	}
}

func TestOrchestrate_ZeroTasks(t *testing.T) {
	dec := &fakeDecomposer{result: plan()}
	o, _, _ := newTestOrchestrator(t, dec, newFakeExecutor())

	session, err := o.Orchestrate(context.Background(), "nothing to do", models.ProjectInfo{}, nil, false)
	if err != nil {
		t.Fatalf("Orchestrate() error = %v", err)
	}
	if session.Status != models.SessionCompleted {
		t.Errorf("expected completed, got %s", session.Status)
	}
	if session.Result == nil || session.Result.SuccessCount != 0 || session.Result.Summary != "" {
		t.Errorf("expected empty result, got %+v", session.Result)
	}
	if o.Progress() != progressDone {
		t.Errorf("expected progress 1.0, got %v", o.Progress())
	}
}

func TestOrchestrate_SelfDependency(t *testing.T) {
	dec := &fakeDecomposer{result: plan(task("task-1", "Loop", "task-1"))}
	o, _, _ := newTestOrchestrator(t, dec, newFakeExecutor())

	session, err := o.Orchestrate(context.Background(), "self", models.ProjectInfo{}, nil, false)
	if err != nil {
		t.Fatalf("Orchestrate() error = %v", err)
	}
	if session.SubAgents[0].Status != models.AgentStatusCompleted {
		t.Errorf("expected self-dependent task to run, got %s", session.SubAgents[0].Status)
	}
}

func TestOrchestrate_CycleFallsBackOrRejects(t *testing.T) {
	cyclic := func() *fakeDecomposer {
		return &fakeDecomposer{result: plan(
			task("task-1", "A", "task-2"),
			task("task-2", "B", "task-1"),
		)}
	}

	t.Run("flatten", func(t *testing.T) {
		o, _, _ := newTestOrchestrator(t, cyclic(), newFakeExecutor())
		session, err := o.Orchestrate(context.Background(), "cycle", models.ProjectInfo{}, nil, false)
		if err != nil {
			t.Fatalf("Orchestrate() error = %v", err)
		}
		if session.Result.SuccessCount != 2 {
			t.Errorf("expected both tasks to run, got %d", session.Result.SuccessCount)
		}
		warned := false
		for _, l := range o.Logs() {
			if l.Level == LevelWarning && strings.Contains(l.Message, "Dependency problem") {
				warned = true
			}
		}
		if !warned {
			t.Error("expected a dependency warning in the session log")
		}
	})

	t.Run("strict", func(t *testing.T) {
		exec := newFakeExecutor()
		o, _, _ := newTestOrchestrator(t, cyclic(), exec, WithStrictDependencies(true))
		session, err := o.Orchestrate(context.Background(), "cycle", models.ProjectInfo{}, nil, false)
		if !errors.Is(err, ErrDecomposition) {
			t.Fatalf("expected ErrDecomposition, got %v", err)
		}
		if session.Status != models.SessionFailed {
			t.Errorf("expected failed session, got %s", session.Status)
		}
		if len(exec.Trace()) != 0 {
			t.Error("expected no executions in strict mode")
		}
	})
}

func TestOrchestrate_EmployeeAssignment(t *testing.T) {
	dec := &fakeDecomposer{result: plan(
		models.SubAgentTask{ID: "task-1", Title: "Mockups", Type: models.TaskTypeDesign},
		models.SubAgentTask{ID: "task-2", Title: "Notes", Type: models.TaskTypeResearch},
	)}
	employees := []models.Employee{
		{ID: "e1", Name: "Dana", Department: models.DepartmentDevelopment},
		{ID: "e2", Name: "Mika", Department: models.DepartmentDesign},
	}
	o, _, _ := newTestOrchestrator(t, dec, newFakeExecutor())

	session, err := o.Orchestrate(context.Background(), "ui", models.ProjectInfo{}, employees, false)
	if err != nil {
		t.Fatalf("Orchestrate() error = %v", err)
	}
	design := session.SubAgents[0]
	if design.AssignedEmployeeID != "e2" || design.Name != "Mika" {
		t.Errorf("expected design task assigned to Mika, got %s (%s)", design.AssignedEmployeeID, design.Name)
	}
	if len(design.ID) != 8 {
		t.Errorf("expected 8 character agent ID, got %q", design.ID)
	}
}

func TestOrchestrate_AlreadyRunning(t *testing.T) {
	dec := &fakeDecomposer{block: true, started: make(chan struct{})}
	o, _, _ := newTestOrchestrator(t, dec, newFakeExecutor())

	ch := orchestrateAsync(o, "first", models.ProjectInfo{}, nil)
	<-dec.started

	if !o.IsRunning() {
		t.Error("expected IsRunning true during a session")
	}
	before := o.Session().ID
	if _, err := o.Orchestrate(context.Background(), "second", models.ProjectInfo{}, nil, false); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
	if o.Session().ID != before || o.Session().Requirement != "first" {
		t.Error("rejected call must not touch the active session")
	}

	o.Cancel()
	res := waitResult(t, ch)
	if res.err != nil {
		t.Errorf("cancel during decomposition must not return an error, got %v", res.err)
	}
	if res.session.Status != models.SessionCancelled {
		t.Errorf("expected cancelled session, got %s", res.session.Status)
	}
}

func TestOrchestrate_Cancel(t *testing.T) {
	dec := &fakeDecomposer{result: plan(
		task("task-1", "A"),
		task("task-2", "B"),
		task("task-3", "C", "task-1"),
	)}
	exec := newFakeExecutor()
	exec.gate("A")
	o, m, _ := newTestOrchestrator(t, dec, exec, WithMaxConcurrency(1))

	ch := orchestrateAsync(o, "cancel me", models.ProjectInfo{}, nil)
	if title := waitStarted(t, exec); title != "A" {
		t.Fatalf("expected A to start first, got %s", title)
	}

	o.Cancel()
	o.Cancel()
	res := waitResult(t, ch)
	if res.err != nil {
		t.Fatalf("expected nil error on cancel, got %v", res.err)
	}

	s := res.session
	if s.Status != models.SessionCancelled {
		t.Errorf("expected cancelled session, got %s", s.Status)
	}
	want := []models.AgentStatus{models.AgentStatusCancelled, models.AgentStatusPending, models.AgentStatusPending}
	for i, a := range s.SubAgents {
		if a.Status != want[i] {
			t.Errorf("agent %s: expected %s, got %s", a.Task.Title, want[i], a.Status)
		}
	}
	if s.Result == nil || s.Result.CancelledCount != 1 {
		t.Errorf("expected 1 cancelled agent in the result, got %+v", s.Result)
	}
	if got := testutil.ToFloat64(m.sessions.WithLabelValues(string(models.SessionCancelled))); got != 1 {
		t.Errorf("expected 1 cancelled session metric, got %v", got)
	}

	// Control calls after the session are no-ops.
	if err := o.PauseAgent(s.SubAgents[1].ID); err != nil {
		t.Errorf("PauseAgent() after session = %v", err)
	}
}

// cancellingExecutor cancels the session from inside the first call and
// records every call that begins after Cancel has returned.
type cancellingExecutor struct {
	o        *Orchestrator
	once     sync.Once
	returned atomic.Bool

	mu   sync.Mutex
	late []string
}

func (e *cancellingExecutor) Execute(ctx context.Context, a *models.SubAgent, opts agent.ExecuteOptions) *agent.ExecutionResult {
	if e.returned.Load() {
		e.mu.Lock()
		e.late = append(e.late, a.Task.Title)
		e.mu.Unlock()
	}
	e.once.Do(func() {
		e.o.Cancel()
		e.returned.Store(true)
	})
	return &agent.ExecutionResult{Err: ctx.Err(), Usage: agentUsage}
}

func TestOrchestrate_CancelMidLevel(t *testing.T) {
	for i := 0; i < 20; i++ {
		dec := &fakeDecomposer{result: plan(
			task("task-1", "A"),
			task("task-2", "B"),
			task("task-3", "C"),
			task("task-4", "D"),
			task("task-5", "E"),
			task("task-6", "F", "task-1"),
		)}
		exec := &cancellingExecutor{}
		o, _, _ := newTestOrchestrator(t, dec, exec, WithMaxConcurrency(10), WithEventBuffer(1))
		exec.o = o

		res := waitResult(t, orchestrateAsync(o, "cancel mid level", models.ProjectInfo{}, nil))
		if res.err != nil {
			t.Fatalf("expected nil error on cancel, got %v", res.err)
		}
		if res.session.Status != models.SessionCancelled {
			t.Fatalf("expected cancelled session, got %s", res.session.Status)
		}

		exec.mu.Lock()
		late := append([]string(nil), exec.late...)
		exec.mu.Unlock()
		if len(late) > 0 {
			t.Fatalf("agents started after Cancel returned: %v", late)
		}

		for _, a := range res.session.SubAgents {
			if a.Status != models.AgentStatusCancelled && a.Status != models.AgentStatusPending {
				t.Errorf("agent %s: expected cancelled or pending, got %s", a.Task.Title, a.Status)
			}
		}
		if last := res.session.SubAgents[5]; last.Status != models.AgentStatusPending {
			t.Errorf("expected the next level to stay pending, got %s", last.Status)
		}
	}
}

func TestOrchestrate_GraphTracesUseOwnLogger(t *testing.T) {
	dir := t.TempDir()
	newLogger := func(name string) *DebugLogger {
		l, err := NewDebugLogger(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("NewDebugLogger() error = %v", err)
		}
		return l
	}
	first, second := newLogger("first.log"), newLogger("second.log")

	dec := &fakeDecomposer{result: plan(task("task-1", "A"))}
	o1, _, _ := newTestOrchestrator(t, dec, newFakeExecutor(), WithLogger(first))
	newTestOrchestrator(t, dec, newFakeExecutor(), WithLogger(second))

	if _, err := o1.Orchestrate(context.Background(), "trace", models.ProjectInfo{}, nil, false); err != nil {
		t.Fatalf("Orchestrate() error = %v", err)
	}
	first.Close()
	second.Close()

	read := func(name string) string {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatal(err)
		}
		return string(data)
	}
	if !strings.Contains(read("first.log"), "[graph.Build]") {
		t.Error("expected graph traces in the session's own log")
	}
	if strings.Contains(read("second.log"), "[graph.Build]") {
		t.Error("graph traces leaked into another orchestrator's log")
	}
}

func TestOrchestrate_CancelViaContext(t *testing.T) {
	dec := &fakeDecomposer{result: plan(task("task-1", "A"), task("task-2", "B", "task-1"))}
	exec := newFakeExecutor()
	exec.gate("A")
	o, _, _ := newTestOrchestrator(t, dec, exec)

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan runResult, 1)
	go func() {
		s, err := o.Orchestrate(ctx, "ctx", models.ProjectInfo{}, nil, false)
		ch <- runResult{s, err}
	}()
	waitStarted(t, exec)
	cancel()

	res := waitResult(t, ch)
	if res.err != nil {
		t.Fatalf("expected nil error, got %v", res.err)
	}
	if res.session.Status != models.SessionCancelled {
		t.Errorf("expected cancelled, got %s", res.session.Status)
	}
	if res.session.SubAgents[1].Status != models.AgentStatusPending {
		t.Errorf("expected later level to stay pending, got %s", res.session.SubAgents[1].Status)
	}
}

func TestOrchestrate_PauseResume(t *testing.T) {
	dec := &fakeDecomposer{result: plan(task("task-1", "A"), task("task-2", "B", "task-1"))}
	exec := newFakeExecutor()
	gateA := exec.gate("A")
	o, _, _ := newTestOrchestrator(t, dec, exec)

	ch := orchestrateAsync(o, "pause", models.ProjectInfo{}, nil)
	waitStarted(t, exec)
	a := agentByTitle(t, o, "A")

	if err := o.PauseAgent(a.ID); err != nil {
		t.Fatalf("PauseAgent() error = %v", err)
	}
	if got := agentByTitle(t, o, "A").Status; got != models.AgentStatusPaused {
		t.Fatalf("expected paused, got %s", got)
	}
	// Pausing twice is a no-op.
	if err := o.PauseAgent(a.ID); err != nil {
		t.Errorf("second PauseAgent() error = %v", err)
	}

	// The next level must not start while A is paused.
	select {
	case title := <-exec.started:
		t.Fatalf("expected nothing to start while paused, %s started", title)
	case <-time.After(50 * time.Millisecond):
	}

	if err := o.ResumeAgent(a.ID); err != nil {
		t.Fatalf("ResumeAgent() error = %v", err)
	}
	if title := waitStarted(t, exec); title != "A" {
		t.Fatalf("expected A to restart, got %s", title)
	}
	close(gateA)

	res := waitResult(t, ch)
	if res.err != nil {
		t.Fatalf("Orchestrate() error = %v", res.err)
	}
	got := res.session.SubAgents[0]
	if got.Status != models.AgentStatusCompleted {
		t.Errorf("expected A completed, got %s", got.Status)
	}
	if got.Attempt != 2 {
		t.Errorf("expected attempt 2, got %d", got.Attempt)
	}
	if got.Usage != agentUsage {
		t.Errorf("expected agent usage from the final attempt only, got %+v", got.Usage)
	}

	// Session totals include the abandoned attempt.
	want := planUsage.Add(agentUsage).Add(agentUsage).Add(agentUsage)
	total := o.Usage()
	if total.InputTokens != want.InputTokens || total.OutputTokens != want.OutputTokens || !approxEqual(total.CostUSD, want.CostUSD) {
		t.Errorf("expected session usage %+v, got %+v", want, total)
	}
}

func TestOrchestrate_UnknownAgent(t *testing.T) {
	dec := &fakeDecomposer{result: plan(task("task-1", "A"))}
	exec := newFakeExecutor()
	gate := exec.gate("A")
	o, _, _ := newTestOrchestrator(t, dec, exec)

	ch := orchestrateAsync(o, "unknown", models.ProjectInfo{}, nil)
	waitStarted(t, exec)

	if err := o.PauseAgent("nope"); !errors.Is(err, ErrUnknownAgent) {
		t.Errorf("PauseAgent() expected ErrUnknownAgent, got %v", err)
	}
	if err := o.ResumeAgent("nope"); !errors.Is(err, ErrUnknownAgent) {
		t.Errorf("ResumeAgent() expected ErrUnknownAgent, got %v", err)
	}
	// Resume of a running agent is a no-op.
	if err := o.ResumeAgent(agentByTitle(t, o, "A").ID); err != nil {
		t.Errorf("ResumeAgent() on running agent = %v", err)
	}

	close(gate)
	waitResult(t, ch)
}

func TestControlsWithoutSession(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, &fakeDecomposer{}, newFakeExecutor())

	o.Cancel()
	if err := o.PauseAgent("x"); err != nil {
		t.Errorf("PauseAgent() = %v", err)
	}
	if err := o.ResumeAgent("x"); err != nil {
		t.Errorf("ResumeAgent() = %v", err)
	}
	if o.Session() != nil {
		t.Error("expected nil session before the first run")
	}
	if o.Progress() != 0 {
		t.Errorf("expected zero progress, got %v", o.Progress())
	}
}

func TestOrchestrate_UsageAndMetrics(t *testing.T) {
	dec := &fakeDecomposer{result: plan(task("task-1", "A"), task("task-2", "B"))}
	o, m, _ := newTestOrchestrator(t, dec, newFakeExecutor())

	session, err := o.Orchestrate(context.Background(), "metrics", models.ProjectInfo{}, nil, false)
	if err != nil {
		t.Fatalf("Orchestrate() error = %v", err)
	}

	want := planUsage.Add(agentUsage).Add(agentUsage)
	got := session.Result.Usage
	if got.InputTokens != want.InputTokens || got.OutputTokens != want.OutputTokens || !approxEqual(got.CostUSD, want.CostUSD) {
		t.Errorf("expected result usage %+v, got %+v", want, got)
	}

	if v := testutil.ToFloat64(m.tokens.WithLabelValues("input")); v != float64(want.InputTokens) {
		t.Errorf("expected %d input tokens, got %v", want.InputTokens, v)
	}
	if v := testutil.ToFloat64(m.tokens.WithLabelValues("output")); v != float64(want.OutputTokens) {
		t.Errorf("expected %d output tokens, got %v", want.OutputTokens, v)
	}
	if v := testutil.ToFloat64(m.cost); !approxEqual(v, want.CostUSD) {
		t.Errorf("expected cost %v, got %v", want.CostUSD, v)
	}
	if v := testutil.ToFloat64(m.agents.WithLabelValues(string(models.AgentStatusCompleted))); v != 2 {
		t.Errorf("expected 2 completed agents, got %v", v)
	}
	if v := testutil.ToFloat64(m.sessions.WithLabelValues(string(models.SessionCompleted))); v != 1 {
		t.Errorf("expected 1 completed session, got %v", v)
	}
}

func TestOrchestrate_Events(t *testing.T) {
	dec := &fakeDecomposer{result: plan(task("task-1", "A"), task("task-2", "B", "task-1"))}
	o, _, rec := newTestOrchestrator(t, dec, newFakeExecutor())

	session, err := o.Orchestrate(context.Background(), "events", models.ProjectInfo{}, nil, false)
	if err != nil {
		t.Fatalf("Orchestrate() error = %v", err)
	}
	o.Close()
	<-rec.done

	events := rec.Events()
	if len(events) == 0 {
		t.Fatal("expected events")
	}
	last := events[len(events)-1]
	if last.Type != EventSessionDone || last.Status != models.SessionCompleted {
		t.Errorf("expected session_done last, got %s (%s)", last.Type, last.Status)
	}

	progress := 0.0
	statuses := map[string][]models.AgentStatus{}
	for _, ev := range events {
		if ev.SessionID != session.ID {
			t.Errorf("event for session %q, expected %q", ev.SessionID, session.ID)
		}
		if ev.Progress < progress {
			t.Errorf("progress went backwards: %v -> %v", progress, ev.Progress)
		}
		progress = ev.Progress
		if ev.Type == EventAgentUpdate {
			statuses[ev.Agent.ID] = append(statuses[ev.Agent.ID], ev.Agent.Status)
		}
		if ev.Type == EventLog && ev.Log == nil {
			t.Error("log event without entry")
		}
	}
	for id, seq := range statuses {
		if len(seq) != 2 || seq[0] != models.AgentStatusRunning || seq[1] != models.AgentStatusCompleted {
			t.Errorf("agent %s: expected running then completed, got %v", id, seq)
		}
	}
	if len(statuses) != 2 {
		t.Errorf("expected updates for 2 agents, got %d", len(statuses))
	}
	if o.DroppedEvents() != 0 {
		t.Errorf("expected no dropped events, got %d", o.DroppedEvents())
	}
}

func TestOrchestrate_NoExecutor(t *testing.T) {
	dec := &fakeDecomposer{result: plan(task("task-1", "A"))}
	o, _, _ := newTestOrchestrator(t, dec, nil)

	session, err := o.Orchestrate(context.Background(), "no exec", models.ProjectInfo{}, nil, false)
	if err != nil {
		t.Fatalf("Orchestrate() error = %v", err)
	}
	if a := session.SubAgents[0]; a.Status != models.AgentStatusFailed || !strings.Contains(a.Error, "no task executor") {
		t.Errorf("expected failed agent, got %s (%q)", a.Status, a.Error)
	}
}

func TestAggregate(t *testing.T) {
	mk := func(name, title string, status models.AgentStatus, res *models.SubAgentResult) *models.SubAgent {
		a := models.NewSubAgent(name, name, models.SubAgentTask{ID: name, Title: title})
		a.Status = status
		a.Result = res
		return a
	}
	agents := []*models.SubAgent{
		mk("a1", "Build", models.AgentStatusCompleted, &models.SubAgentResult{
			Output:       "  built  ",
			Artifacts:    []models.Artifact{{Name: "report"}},
			CreatedFiles: []string{"a.go", "b.go"},
		}),
		mk("a2", "Break", models.AgentStatusFailed, nil),
		mk("a3", "Stop", models.AgentStatusCancelled, nil),
		mk("a4", "Wait", models.AgentStatusPending, nil),
		mk("a5", "Test", models.AgentStatusCompleted, &models.SubAgentResult{
			Output:        "tested",
			CreatedFiles:  []string{"b.go", "c_test.go"},
			ModifiedFiles: []string{"a.go"},
		}),
	}

	res := Aggregate(agents)

	if res.SuccessCount != 2 || res.FailureCount != 1 || res.CancelledCount != 1 {
		t.Errorf("expected 2/1/1, got %d/%d/%d", res.SuccessCount, res.FailureCount, res.CancelledCount)
	}
	wantSummary := "## a1 — Build\n\nbuilt\n\n## a5 — Test\n\ntested"
	if res.Summary != wantSummary {
		t.Errorf("expected summary %q, got %q", wantSummary, res.Summary)
	}
	if strings.Join(res.CreatedFiles, ",") != "a.go,b.go,c_test.go" {
		t.Errorf("unexpected created files %v", res.CreatedFiles)
	}
	if strings.Join(res.ModifiedFiles, ",") != "a.go" {
		t.Errorf("unexpected modified files %v", res.ModifiedFiles)
	}
	if len(res.Artifacts) != 1 {
		t.Errorf("expected 1 artifact, got %d", len(res.Artifacts))
	}
}

func TestEventEmitter(t *testing.T) {
	t.Run("delivers in order", func(t *testing.T) {
		e := NewEventEmitter(4)
		e.Emit(Event{Type: EventLog})
		e.Emit(Event{Type: EventProgress})
		if got := (<-e.Events()).Type; got != EventLog {
			t.Errorf("expected log first, got %s", got)
		}
		if got := (<-e.Events()).Type; got != EventProgress {
			t.Errorf("expected progress second, got %s", got)
		}
	})

	t.Run("drops when full", func(t *testing.T) {
		e := NewEventEmitter(1)
		e.Emit(Event{Type: EventLog})
		e.Emit(Event{Type: EventLog})
		if e.DroppedCount() != 1 {
			t.Errorf("expected 1 dropped event, got %d", e.DroppedCount())
		}
	})

	t.Run("close is idempotent", func(t *testing.T) {
		e := NewEventEmitter(1)
		e.Close()
		e.Close()
		e.Emit(Event{Type: EventLog})
		if _, ok := <-e.Events(); ok {
			t.Error("expected closed channel")
		}
	})
}
