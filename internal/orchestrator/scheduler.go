package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/crew/internal/agent"
	"github.com/ShayCichocki/crew/pkg/models"
)

type controlKind int

const (
	controlPause controlKind = iota
	controlResume
)

// controlRequest asks the coordinator to pause or resume an agent.
type controlRequest struct {
	kind    controlKind
	agentID string
	reply   chan error
}

// agentOutcome is what a worker sends back for one attempt.
type agentOutcome struct {
	agentID string
	attempt int
	result  *agent.ExecutionResult
}

// attempt is the coordinator's record of one in-flight dispatch.
type attempt struct {
	number int
	cancel context.CancelFunc
}

// sessionRun is the coordinator state of one session. Everything except the
// channels, cancelFlag and done is touched only by the coordinator goroutine.
type sessionRun struct {
	o           *Orchestrator
	ctx         context.Context
	cancel      context.CancelFunc
	cancelFlag  atomic.Bool
	session     *models.OrchestratorSession
	project     models.ProjectInfo
	autoApprove bool

	byTask   map[string]*models.SubAgent
	inflight map[string]attempt
	group    errgroup.Group

	// outstanding counts workers whose outcome has not been received,
	// including abandoned attempts.
	outstanding int
	// running counts agents in the running state; it is bounded by maxConcurrency.
	running  int
	terminal int

	outcomes chan agentOutcome
	controls chan controlRequest
	done     chan struct{}
}

func newSessionRun(o *Orchestrator, ctx context.Context, cancel context.CancelFunc, session *models.OrchestratorSession, project models.ProjectInfo, autoApprove bool) *sessionRun {
	return &sessionRun{
		o:           o,
		ctx:         ctx,
		cancel:      cancel,
		session:     session,
		project:     project,
		autoApprove: autoApprove,
		byTask:      make(map[string]*models.SubAgent),
		inflight:    make(map[string]attempt),
		outcomes:    make(chan agentOutcome),
		controls:    make(chan controlRequest),
		done:        make(chan struct{}),
	}
}

// cancelled reports whether Cancel was called or the caller's context ended.
func (r *sessionRun) cancelled() bool {
	if r.cancelFlag.Load() {
		return true
	}
	if r.ctx.Err() != nil {
		r.cancelFlag.Store(true)
		return true
	}
	return false
}

// execute runs the levels in order. Each level is a barrier: the next one
// starts only when every agent of the current level is terminal. Later levels
// run even when an agent they depend on failed.
func (r *sessionRun) execute(levels [][]string) {
	for i, level := range levels {
		if r.cancelled() {
			break
		}
		r.o.logger.Log("[scheduler] level %d/%d: %v", i+1, len(levels), level)
		r.logf(LevelInfo, "", "Starting level %d/%d (%d agent(s))", i+1, len(levels), len(level))
		r.runLevel(level)
	}

	// Abandoned attempts may still be running. Their results are discarded
	// but their usage was incurred, so it is collected before returning.
	for r.outstanding > 0 {
		r.handleOutcome(<-r.outcomes)
	}
	if err := r.group.Wait(); err != nil {
		r.o.logger.Log("[scheduler] worker group: %v", err)
	}
}

// runLevel dispatches the level's agents up to the concurrency bound and
// services outcomes, controls and cancellation until the level settles.
func (r *sessionRun) runLevel(level []string) {
	queue := make([]*models.SubAgent, 0, len(level))
	members := make([]*models.SubAgent, 0, len(level))
	for _, taskID := range level {
		if a, ok := r.byTask[taskID]; ok {
			queue = append(queue, a)
			members = append(members, a)
		}
	}

	cancelSeen := false
	ctxDone := r.ctx.Done()
	for {
		if r.cancelled() && !cancelSeen {
			cancelSeen = true
			ctxDone = nil
			r.onCancel(members, len(queue))
		}

		for !cancelSeen && !r.cancelled() && len(queue) > 0 && r.running < r.o.maxConcurrency {
			if !r.dispatch(queue[0]) && r.cancelled() {
				break
			}
			queue = queue[1:]
		}
		if !cancelSeen && r.cancelled() {
			continue
		}

		if r.settled(members, len(queue), cancelSeen) {
			return
		}

		select {
		case out := <-r.outcomes:
			r.handleOutcome(out)
		case req := <-r.controls:
			r.handleControl(req, &queue)
		case <-ctxDone:
			// Loop around; the cancellation branch runs at the top.
			ctxDone = nil
		}
	}
}

// settled reports whether the level is finished: nothing running or paused,
// and either nothing queued or no more starts allowed.
func (r *sessionRun) settled(members []*models.SubAgent, queued int, cancelSeen bool) bool {
	for _, a := range members {
		if a.Status == models.AgentStatusRunning || a.Status == models.AgentStatusPaused {
			return false
		}
	}
	return queued == 0 || cancelSeen
}

// onCancel marks paused agents cancelled. Running agents are interrupted
// through the session context and settle when their outcome arrives.
func (r *sessionRun) onCancel(members []*models.SubAgent, queued int) {
	r.logf(LevelWarning, "", "Cancellation requested; %d queued agent(s) will not start", queued)
	for _, a := range members {
		if a.Status == models.AgentStatusPaused {
			r.transition(a, models.AgentStatusCancelled, func(a *models.SubAgent) {
				a.Error = "cancelled while paused"
			})
			r.logf(LevelWarning, a.ID, "%s cancelled while paused", a.Name)
		}
	}
}

// dispatch moves an agent to running and starts a worker for a new attempt.
// It reports false, leaving the agent untouched, when the agent cannot start.
func (r *sessionRun) dispatch(a *models.SubAgent) bool {
	number := a.Attempt + 1
	started := r.transition(a, models.AgentStatusRunning, func(a *models.SubAgent) {
		a.Attempt = number
		a.Progress = 0
		a.Error = ""
	})
	if !started {
		return false
	}
	r.running++
	r.o.metrics.IncRunning()

	ctx, cancel := context.WithCancel(r.ctx)
	r.inflight[a.ID] = attempt{number: number, cancel: cancel}
	r.outstanding++

	if number > 1 {
		r.logf(LevelInfo, a.ID, "Restarting %s: %s (attempt %d)", a.Name, a.Task.Title, number)
	} else {
		r.logf(LevelInfo, a.ID, "Starting %s [%s]: %s", a.Name, a.ID, a.Task.Title)
	}

	snapshot := a.Clone()
	opts := agent.ExecuteOptions{
		AutoApprove: r.autoApprove,
		Project: agent.ProjectContext{
			Info:              r.project,
			ProjectPath:       r.project.WorkingDirectory,
			AdditionalContext: r.o.additionalContext,
		},
	}
	executor := r.o.executor
	r.group.Go(func() error {
		defer cancel()
		var res *agent.ExecutionResult
		switch {
		case ctx.Err() != nil:
			res = &agent.ExecutionResult{Err: ctx.Err()}
		case executor == nil:
			res = &agent.ExecutionResult{Err: errors.New("no task executor configured")}
		default:
			res = executor.Execute(ctx, snapshot, opts)
		}
		if res == nil {
			res = &agent.ExecutionResult{Err: errors.New("executor returned no result")}
		}
		r.outcomes <- agentOutcome{agentID: snapshot.ID, attempt: number, result: res}
		return nil
	})
	return true
}

// handleOutcome merges the usage of every attempt and applies the result of
// the current one. Results of abandoned attempts are discarded.
func (r *sessionRun) handleOutcome(out agentOutcome) {
	r.outstanding--
	res := out.result
	r.addUsage(res.Usage)

	a := r.session.Agent(out.agentID)
	current, ok := r.inflight[out.agentID]
	if a == nil || !ok || current.number != out.attempt || a.Status != models.AgentStatusRunning {
		r.o.logger.Log("[scheduler] discarding result of %s attempt %d", out.agentID, out.attempt)
		if a != nil {
			r.logf(LevelDebug, a.ID, "Discarded result of abandoned attempt %d for %s", out.attempt, a.Name)
		}
		return
	}
	delete(r.inflight, out.agentID)
	r.running--
	r.o.metrics.DecRunning()

	switch {
	case res.Success():
		r.o.metrics.ObserveDuration("success", res.Duration)
		r.transition(a, models.AgentStatusCompleted, func(a *models.SubAgent) {
			a.Result = res.Result
			a.Usage = a.Usage.Add(res.Usage)
		})
		r.logf(LevelSuccess, a.ID, "%s completed: %s", a.Name, a.Result.Summary)
	case r.cancelled():
		r.o.metrics.ObserveDuration("cancelled", res.Duration)
		r.transition(a, models.AgentStatusCancelled, func(a *models.SubAgent) {
			a.Error = errorText(res.Err, "cancelled")
			a.Usage = a.Usage.Add(res.Usage)
		})
		r.logf(LevelWarning, a.ID, "%s cancelled", a.Name)
	default:
		r.o.metrics.ObserveDuration("failure", res.Duration)
		r.transition(a, models.AgentStatusFailed, func(a *models.SubAgent) {
			a.Error = errorText(res.Err, "agent produced no result")
			a.Usage = a.Usage.Add(res.Usage)
		})
		r.logf(LevelError, a.ID, "%s failed: %s", a.Name, a.Error)
	}
}

// handleControl applies a pause or resume request.
func (r *sessionRun) handleControl(req controlRequest, queue *[]*models.SubAgent) {
	a := r.session.Agent(req.agentID)
	if a == nil {
		req.reply <- fmt.Errorf("%w: %s", ErrUnknownAgent, req.agentID)
		return
	}

	switch req.kind {
	case controlPause:
		// After cancellation running agents settle through their outcome.
		if a.Status != models.AgentStatusRunning || r.cancelled() {
			break
		}
		if cur, ok := r.inflight[a.ID]; ok {
			cur.cancel()
		}
		r.running--
		r.o.metrics.DecRunning()
		r.transition(a, models.AgentStatusPaused, nil)
		r.logf(LevelInfo, a.ID, "%s paused", a.Name)

	case controlResume:
		if a.Status != models.AgentStatusPaused || r.cancelled() {
			break
		}
		if r.queued(*queue, a) {
			break
		}
		// Resumed agents go ahead of agents that never started.
		*queue = append([]*models.SubAgent{a}, *queue...)
		r.logf(LevelInfo, a.ID, "%s resumed", a.Name)
	}
	req.reply <- nil
}

func (r *sessionRun) queued(queue []*models.SubAgent, a *models.SubAgent) bool {
	for _, q := range queue {
		if q == a {
			return true
		}
	}
	return false
}

// transition changes an agent's state under the snapshot lock, applies mutate,
// updates progress when the agent becomes terminal and emits an agent update.
// Moving to running is refused once the session is cancelled; Cancel sets its
// flag under the same lock.
func (r *sessionRun) transition(a *models.SubAgent, next models.AgentStatus, mutate func(*models.SubAgent)) bool {
	o := r.o
	now := time.Now()

	o.mu.Lock()
	if next == models.AgentStatusRunning && (r.cancelFlag.Load() || r.ctx.Err() != nil) {
		o.mu.Unlock()
		return false
	}
	prev := a.Status
	if err := a.Transition(next, now); err != nil {
		o.mu.Unlock()
		o.logger.Log("[scheduler] %v", err)
		return false
	}
	if mutate != nil {
		mutate(a)
	}
	if next.IsTerminal() {
		r.terminal++
		if total := len(r.session.SubAgents); total > 0 {
			o.progress = progressDecomposed + (progressExecuted-progressDecomposed)*float64(r.terminal)/float64(total)
		}
	}
	snapshot := a.Clone()
	progress, usage := o.progress, o.usage
	o.mu.Unlock()

	o.logger.Log("[scheduler] %s: %s -> %s", a.ID, prev, next)
	if next.IsTerminal() {
		o.metrics.ObserveAgent(next)
	}
	o.emitter.Emit(Event{
		Type:      EventAgentUpdate,
		SessionID: r.session.ID,
		Timestamp: now,
		Agent:     snapshot,
		Progress:  progress,
		Usage:     usage,
	})
	if next.IsTerminal() {
		o.emitter.Emit(Event{
			Type:      EventProgress,
			SessionID: r.session.ID,
			Timestamp: now,
			Progress:  progress,
			Usage:     usage,
		})
	}
	return true
}

// addUsage merges usage into the session accumulator.
func (r *sessionRun) addUsage(u models.Usage) {
	if u.IsZero() {
		return
	}
	r.o.mu.Lock()
	r.o.usage = r.o.usage.Add(u)
	r.o.mu.Unlock()
	r.o.metrics.AddUsage(u)
}

// setProgress moves overall progress forward and emits a progress event.
func (r *sessionRun) setProgress(p float64) {
	o := r.o
	o.mu.Lock()
	if p > o.progress {
		o.progress = p
	}
	progress, usage := o.progress, o.usage
	o.mu.Unlock()

	o.emitter.Emit(Event{
		Type:      EventProgress,
		SessionID: r.session.ID,
		Timestamp: time.Now(),
		Progress:  progress,
		Usage:     usage,
	})
}

// logf appends a session log entry and emits it.
func (r *sessionRun) logf(level LogLevel, agentID, format string, args ...any) {
	o := r.o
	entry := LogEntry{
		Timestamp: time.Now(),
		Message:   fmt.Sprintf(format, args...),
		Level:     level,
		AgentID:   agentID,
	}

	o.mu.Lock()
	o.logs = append(o.logs, entry)
	progress, usage := o.progress, o.usage
	o.mu.Unlock()

	o.logger.Log("[%s] %s", level, entry.Message)
	o.emitter.Emit(Event{
		Type:      EventLog,
		SessionID: r.session.ID,
		Timestamp: entry.Timestamp,
		Log:       &entry,
		Progress:  progress,
		Usage:     usage,
	})
}

func errorText(err error, fallback string) string {
	if err == nil {
		return fallback
	}
	return err.Error()
}
