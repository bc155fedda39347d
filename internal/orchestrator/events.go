package orchestrator

import (
	"time"

	"github.com/ShayCichocki/crew/pkg/models"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventLog carries a new log entry.
	EventLog EventType = "log"
	// EventProgress reports a change of overall progress.
	EventProgress EventType = "progress"
	// EventAgentUpdate carries a snapshot of an agent after a state change.
	EventAgentUpdate EventType = "agent_update"
	// EventSessionDone indicates the session reached a terminal state.
	EventSessionDone EventType = "session_done"
)

// LogLevel is the severity of a log entry.
type LogLevel string

const (
	LevelDebug   LogLevel = "debug"
	LevelInfo    LogLevel = "info"
	LevelSuccess LogLevel = "success"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
)

// LogEntry is one line of the session log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Level     LogLevel  `json:"level"`
	// AgentID is set when the entry concerns a single agent.
	AgentID string `json:"agent_id,omitempty"`
}

// Event is emitted by the orchestrator as a session runs.
type Event struct {
	// Type is the kind of event.
	Type EventType `json:"type"`
	// SessionID identifies the session the event belongs to.
	SessionID string `json:"session_id"`
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`
	// Log is set for EventLog.
	Log *LogEntry `json:"log,omitempty"`
	// Progress is the overall progress at the time of the event.
	Progress float64 `json:"progress"`
	// Agent is a snapshot, set for EventAgentUpdate.
	Agent *models.SubAgent `json:"agent,omitempty"`
	// Status is the session status, set for EventSessionDone.
	Status models.SessionStatus `json:"status,omitempty"`
	// Usage is the running session total.
	Usage models.Usage `json:"usage"`
}
