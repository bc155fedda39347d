package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/ShayCichocki/crew/internal/api"
	"github.com/ShayCichocki/crew/internal/orchestrator"
	"github.com/ShayCichocki/crew/pkg/models"
)

var (
	debugColor   = color.New(color.FgHiBlack)
	infoColor    = color.New(color.FgCyan)
	successColor = color.New(color.FgGreen)
	warningColor = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
)

// renderer prints the event stream. In headless mode every event is written
// as one JSON object per line.
type renderer struct {
	mu       sync.Mutex
	out      io.Writer
	headless bool
	verbose  bool
	enc      *json.Encoder
}

func newRenderer(out io.Writer, headless, verbose bool) *renderer {
	return &renderer{out: out, headless: headless, verbose: verbose, enc: json.NewEncoder(out)}
}

// consume renders events until the channel is closed, then closes done.
func (r *renderer) consume(events <-chan orchestrator.Event, done chan<- struct{}) {
	defer close(done)
	for ev := range events {
		r.render(ev)
	}
}

func (r *renderer) render(ev orchestrator.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.headless {
		_ = r.enc.Encode(ev)
		return
	}

	switch ev.Type {
	case orchestrator.EventLog:
		if ev.Log == nil || (ev.Log.Level == orchestrator.LevelDebug && !r.verbose) {
			return
		}
		fmt.Fprintln(r.out, formatLog(*ev.Log, ev.Progress))
	case orchestrator.EventAgentUpdate:
		if r.verbose && ev.Agent != nil {
			fmt.Fprintf(r.out, "%s %s %s -> %s\n", debugColor.Sprint("·"), ev.Agent.ID, ev.Agent.Name, ev.Agent.Status)
		}
	}
}

// tool renders one tool call made by an agent.
func (r *renderer) tool(ev api.ToolEvent) {
	if !r.verbose {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.headless {
		_ = r.enc.Encode(struct {
			Type    string `json:"type"`
			Tool    string `json:"tool"`
			Action  string `json:"action"`
			IsError bool   `json:"is_error"`
		}{"tool", ev.Tool, ev.Action, ev.IsError})
		return
	}
	marker := debugColor.Sprint("  ↳")
	if ev.IsError {
		marker = warningColor.Sprint("  ↳")
	}
	fmt.Fprintf(r.out, "%s %s\n", marker, ev.Action)
}

// formatLog renders a log entry as "[ 42%] ✓ message".
func formatLog(e orchestrator.LogEntry, progress float64) string {
	var symbol string
	var c *color.Color
	switch e.Level {
	case orchestrator.LevelDebug:
		symbol, c = "·", debugColor
	case orchestrator.LevelSuccess:
		symbol, c = "✓", successColor
	case orchestrator.LevelWarning:
		symbol, c = "⚠", warningColor
	case orchestrator.LevelError:
		symbol, c = "✗", errorColor
	default:
		symbol, c = "•", infoColor
	}
	return fmt.Sprintf("[%3.0f%%] %s %s", progress*100, c.Sprint(symbol), e.Message)
}

// printSummary prints the final report of a session.
func printSummary(out io.Writer, s *models.OrchestratorSession) {
	if s == nil {
		return
	}
	fmt.Fprintln(out)
	if s.Result != nil && s.Result.Summary != "" {
		fmt.Fprintln(out, s.Result.Summary)
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, strings.Repeat("─", 60))
	switch s.Status {
	case models.SessionCompleted:
		fmt.Fprintf(out, "%s Session %s completed\n", successColor.Sprint("✓"), s.ID)
	case models.SessionCancelled:
		fmt.Fprintf(out, "%s Session %s cancelled\n", warningColor.Sprint("⚠"), s.ID)
	case models.SessionFailed:
		fmt.Fprintf(out, "%s Session %s failed: %s\n", errorColor.Sprint("✗"), s.ID, s.Error)
	}

	if res := s.Result; res != nil {
		fmt.Fprintf(out, "  Agents:   %d succeeded, %d failed, %d cancelled\n", res.SuccessCount, res.FailureCount, res.CancelledCount)
		if len(res.CreatedFiles) > 0 {
			fmt.Fprintf(out, "  Created:  %s\n", strings.Join(res.CreatedFiles, ", "))
		}
		if len(res.ModifiedFiles) > 0 {
			fmt.Fprintf(out, "  Modified: %s\n", strings.Join(res.ModifiedFiles, ", "))
		}
		fmt.Fprintf(out, "  Usage:    %d in / %d out tokens, $%.4f\n", res.Usage.InputTokens, res.Usage.OutputTokens, res.Usage.CostUSD)
	}
	for _, a := range s.SubAgents {
		if a.Status == models.AgentStatusFailed {
			fmt.Fprintf(out, "  %s %s (%s): %s\n", errorColor.Sprint("✗"), a.Name, a.Task.Title, a.Error)
		}
	}
}
