package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/crew/internal/agent"
	"github.com/ShayCichocki/crew/internal/decompose"
	"github.com/ShayCichocki/crew/internal/graph"
	"github.com/ShayCichocki/crew/internal/roster"
	"github.com/ShayCichocki/crew/pkg/models"
)

var (
	// ErrAlreadyRunning is returned by Orchestrate while another session runs.
	ErrAlreadyRunning = errors.New("orchestration already running")
	// ErrDecomposition wraps every session-fatal decomposition failure.
	ErrDecomposition = errors.New("decomposition failed")
	// ErrUnknownAgent is returned by PauseAgent/ResumeAgent for IDs not in the active session.
	ErrUnknownAgent = errors.New("unknown agent")
)

// Progress bands.
const (
	progressStarted    = 0.1
	progressDecomposed = 0.3
	progressExecuted   = 0.9
	progressDone       = 1.0
)

// Orchestrator coordinates one session at a time from requirement to result.
//
// Orchestrate runs the coordinator on the caller's goroutine. Every other
// method is safe to call concurrently from any goroutine.
type Orchestrator struct {
	decomposer        TaskDecomposer
	executor          agent.TaskExecutor
	validator         *decompose.Validator
	maxConcurrency    int
	strict            bool
	additionalContext string
	logger            *DebugLogger
	metrics           *Metrics
	emitter           *EventEmitter

	running atomic.Bool

	// mu guards the snapshot state below. Only the coordinator writes it.
	mu       sync.RWMutex
	session  *models.OrchestratorSession
	progress float64
	logs     []LogEntry
	usage    models.Usage
	run      *sessionRun
}

// New creates a new Orchestrator.
func New(req RequiredConfig, opts ...Option) *Orchestrator {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = NopLogger()
	}
	if o.metrics == nil {
		o.metrics = defaultMetrics()
	}

	return &Orchestrator{
		decomposer:        req.Decomposer,
		executor:          req.Executor,
		validator:         o.validator,
		maxConcurrency:    o.maxConcurrency,
		strict:            o.strict,
		additionalContext: o.additionalContext,
		logger:            o.logger,
		metrics:           o.metrics,
		emitter:           NewEventEmitter(o.eventBuffer),
	}
}

// Orchestrate runs a full session and returns a snapshot of it. A
// decomposition failure returns the failed session together with an error
// wrapping ErrDecomposition. Agent failures are recorded on the agents and
// never returned.
func (o *Orchestrator) Orchestrate(ctx context.Context, requirement string, project models.ProjectInfo, employees []models.Employee, autoApprove bool) (*models.OrchestratorSession, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer o.running.Store(false)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	session := &models.OrchestratorSession{
		ID:          uuid.New().String()[:8],
		ProjectID:   project.ID,
		Requirement: requirement,
		Status:      models.SessionRunning,
		StartedAt:   time.Now(),
	}
	r := newSessionRun(o, runCtx, cancel, session, project, autoApprove)

	o.mu.Lock()
	o.session = session
	o.progress = 0
	o.logs = nil
	o.usage = models.Usage{}
	o.run = r
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.run = nil
		o.mu.Unlock()
		close(r.done)
	}()

	o.logger.Log("[orchestrator] session %s started: %q", session.ID, requirement)
	r.setProgress(progressStarted)
	r.logf(LevelInfo, "", "Analyzing requirement: %s", requirement)

	// Phase 1: decompose.
	tasks, levels, err := r.decompose(requirement)
	if err != nil {
		if r.cancelled() {
			r.logf(LevelWarning, "", "Cancelled during decomposition")
			r.finish(models.SessionCancelled, "")
			return o.Session(), nil
		}
		r.logf(LevelError, "", "Decomposition failed: %v", err)
		r.finish(models.SessionFailed, err.Error())
		return o.Session(), fmt.Errorf("%w: %w", ErrDecomposition, err)
	}
	r.setProgress(progressDecomposed)

	// Phase 2: instantiate.
	r.instantiate(tasks, employees)

	// Phase 3: execute.
	r.execute(levels)

	// Phase 4: aggregate. A cancelled session still reports what finished.
	if r.cancelled() {
		r.aggregate()
		r.finish(models.SessionCancelled, "")
		return o.Session(), nil
	}
	r.setProgress(progressExecuted)
	r.aggregate()
	r.finish(models.SessionCompleted, "")
	return o.Session(), nil
}

// Cancel requests cancellation of the active session. Agents not yet started
// stay pending, paused agents become cancelled, and running agents are
// cancelled through their context. It is idempotent and a no-op without an
// active session.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	r := o.run
	if r == nil {
		o.mu.Unlock()
		return
	}
	first := r.cancelFlag.CompareAndSwap(false, true)
	if first {
		r.cancel()
	}
	o.mu.Unlock()

	if first {
		o.logger.Log("[orchestrator] cancel requested for session %s", r.session.ID)
	}
}

// PauseAgent pauses a running agent. The in-flight call is abandoned and its
// eventual result discarded; ResumeAgent starts a fresh attempt. It is a
// no-op for agents in any other state or without an active session.
func (o *Orchestrator) PauseAgent(id string) error {
	return o.control(controlPause, id)
}

// ResumeAgent resumes a paused agent from scratch. It is a no-op for agents
// in any other state or without an active session.
func (o *Orchestrator) ResumeAgent(id string) error {
	return o.control(controlResume, id)
}

func (o *Orchestrator) control(kind controlKind, id string) error {
	o.mu.RLock()
	r := o.run
	var status models.AgentStatus
	var known bool
	if r != nil {
		if a := r.session.Agent(id); a != nil {
			status, known = a.Status, true
		}
	}
	o.mu.RUnlock()

	if r == nil {
		return nil
	}
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	if (kind == controlPause && status != models.AgentStatusRunning) ||
		(kind == controlResume && status != models.AgentStatusPaused) {
		return nil
	}

	req := controlRequest{kind: kind, agentID: id, reply: make(chan error, 1)}
	select {
	case r.controls <- req:
	case <-r.done:
		return nil
	}
	select {
	case err := <-req.reply:
		return err
	case <-r.done:
		return nil
	}
}

// Progress returns the overall progress of the current or last session in [0, 1].
func (o *Orchestrator) Progress() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.progress
}

// Logs returns a copy of the current or last session's log.
func (o *Orchestrator) Logs() []LogEntry {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]LogEntry, len(o.logs))
	copy(out, o.logs)
	return out
}

// Usage returns the running token and cost totals of the current or last session.
func (o *Orchestrator) Usage() models.Usage {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.usage
}

// Session returns a deep snapshot of the current or last session, or nil.
func (o *Orchestrator) Session() *models.OrchestratorSession {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.session.Clone()
}

// IsRunning reports whether a session is active.
func (o *Orchestrator) IsRunning() bool {
	return o.running.Load()
}

// Events returns the event stream. The channel is shared by all sessions of
// this orchestrator and closed by Close.
func (o *Orchestrator) Events() <-chan Event {
	return o.emitter.Events()
}

// DroppedEvents returns how many events were dropped because nobody read them.
func (o *Orchestrator) DroppedEvents() uint64 {
	return o.emitter.DroppedCount()
}

// Close cancels any active session and closes the event stream.
func (o *Orchestrator) Close() {
	o.Cancel()
	o.emitter.Close()
}

// decompose runs phase 1 and levels the resulting graph.
func (r *sessionRun) decompose(requirement string) ([]models.SubAgentTask, [][]string, error) {
	o := r.o
	if o.decomposer == nil {
		return nil, nil, decompose.ErrNoExecutor
	}

	res, err := o.decomposer.Decompose(r.ctx, requirement, r.project)
	if res != nil {
		r.addUsage(res.Usage)
	}
	if err != nil {
		return nil, nil, err
	}

	if len(res.Dropped) > 0 {
		r.logf(LevelWarning, "", "Dropped %d task block(s) without a title: %v", len(res.Dropped), res.Dropped)
	}
	tasks := res.Tasks
	if o.validator != nil {
		vr := o.validator.Validate(tasks)
		for _, e := range vr.Errors {
			r.logf(LevelWarning, "", "Plan: %s", e)
		}
		for _, w := range vr.Warnings {
			r.logf(LevelDebug, "", "Plan: %s", w)
		}
	}

	g := graph.New()
	g.SetDebugLog(o.logger.Log)
	if err := g.Build(graph.NodesFromTasks(tasks)); err != nil {
		return nil, nil, err
	}
	if o.strict {
		if err := g.Validate(); err != nil {
			return nil, nil, err
		}
	} else if err := g.Validate(); err != nil {
		r.logf(LevelWarning, "", "Dependency problem (%v); affected tasks are flattened into one level", err)
	}

	levels := g.Levels()
	r.logf(LevelInfo, "", "Decomposed into %d task(s) across %d level(s)", len(tasks), len(levels))
	return tasks, levels, nil
}

// instantiate runs phase 2: one agent per task, in task order.
func (r *sessionRun) instantiate(tasks []models.SubAgentTask, employees []models.Employee) {
	agents := make([]*models.SubAgent, len(tasks))
	for i, t := range tasks {
		a := models.NewSubAgent(uuid.New().String()[:8], fmt.Sprintf("agent-%d", i+1), t)
		if e, ok := roster.Assign(t.Type, employees); ok {
			a.AssignedEmployeeID = e.ID
			a.AssignedEmployeeName = e.Name
			a.Name = e.Name
		}
		agents[i] = a
		r.byTask[t.ID] = a
	}

	r.o.mu.Lock()
	r.session.SubAgents = agents
	r.o.mu.Unlock()

	for _, a := range agents {
		if a.AssignedEmployeeName != "" {
			r.logf(LevelDebug, a.ID, "%s: %s (assigned to %s)", a.ID, a.Task.Title, a.AssignedEmployeeName)
		} else {
			r.logf(LevelDebug, a.ID, "%s: %s", a.ID, a.Task.Title)
		}
	}
}

// finish moves the session to a terminal state and emits session_done.
func (r *sessionRun) finish(status models.SessionStatus, errMsg string) {
	o := r.o
	now := time.Now()

	o.mu.Lock()
	r.session.Status = status
	r.session.CompletedAt = &now
	r.session.Error = errMsg
	if status == models.SessionCompleted {
		o.progress = progressDone
	}
	progress, usage := o.progress, o.usage
	o.mu.Unlock()

	o.metrics.ObserveSession(status)
	switch status {
	case models.SessionCompleted:
		res := r.session.Result
		r.logf(LevelSuccess, "", "Session completed: %d succeeded, %d failed, %d cancelled (%d tokens, $%.4f)",
			res.SuccessCount, res.FailureCount, res.CancelledCount, usage.TotalTokens(), usage.CostUSD)
	case models.SessionCancelled:
		if res := r.session.Result; res != nil {
			r.logf(LevelWarning, "", "Session cancelled: %d succeeded, %d failed, %d cancelled",
				res.SuccessCount, res.FailureCount, res.CancelledCount)
		} else {
			r.logf(LevelWarning, "", "Session cancelled")
		}
	}
	o.logger.Log("[orchestrator] session %s finished: %s", r.session.ID, status)
	if status == models.SessionFailed {
		log.Printf("[orchestrator] session %s failed: %s", r.session.ID, errMsg)
	}

	o.emitter.Emit(Event{
		Type:      EventSessionDone,
		SessionID: r.session.ID,
		Timestamp: now,
		Progress:  progress,
		Status:    status,
		Usage:     usage,
	})
}
