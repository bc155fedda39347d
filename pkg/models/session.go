package models

import "time"

// SessionStatus represents the state of an orchestration session.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
)

// IsTerminal returns true once the session will not change again.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionCancelled
}

// Usage holds token and cost counters reported by external capabilities.
type Usage struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Add returns the sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		CostUSD:      u.CostUSD + other.CostUSD,
	}
}

// IsZero reports whether no usage was recorded.
func (u Usage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0 && u.CostUSD == 0
}

// TotalTokens returns input plus output tokens.
func (u Usage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

// SessionResult is the aggregated outcome of a session.
type SessionResult struct {
	// Summary concatenates every completed agent's output under a heading.
	Summary string `json:"summary"`
	// Artifacts from all completed agents, in agent order.
	Artifacts []Artifact `json:"artifacts,omitempty"`
	// CreatedFiles from all completed agents, de-duplicated.
	CreatedFiles []string `json:"created_files,omitempty"`
	// ModifiedFiles from all completed agents, de-duplicated.
	ModifiedFiles []string `json:"modified_files,omitempty"`
	SuccessCount   int     `json:"success_count"`
	FailureCount   int     `json:"failure_count"`
	CancelledCount int     `json:"cancelled_count"`
	// Usage is the session-wide total.
	Usage Usage `json:"usage"`
}

// OrchestratorSession is one end-to-end orchestration run.
type OrchestratorSession struct {
	// ID is the unique identifier for this session.
	ID string `json:"id"`
	// ProjectID identifies the project the requirement belongs to.
	ProjectID string `json:"project_id,omitempty"`
	// Requirement is the natural-language input.
	Requirement string `json:"requirement"`
	// SubAgents are in creation order, which is stable for display.
	SubAgents []*SubAgent `json:"sub_agents"`
	// Status is the current state of the session.
	Status SessionStatus `json:"status"`
	// StartedAt is when the session began.
	StartedAt time.Time `json:"started_at"`
	// CompletedAt is when the session reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Error is set when the session failed.
	Error string `json:"error,omitempty"`
	// Result is set once aggregation ran.
	Result *SessionResult `json:"result,omitempty"`
}

// Agent returns the sub-agent with the given ID, or nil.
func (s *OrchestratorSession) Agent(id string) *SubAgent {
	for _, a := range s.SubAgents {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// Clone returns a deep copy of the session.
func (s *OrchestratorSession) Clone() *OrchestratorSession {
	if s == nil {
		return nil
	}
	c := *s
	c.SubAgents = make([]*SubAgent, len(s.SubAgents))
	for i, a := range s.SubAgents {
		c.SubAgents[i] = a.Clone()
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	if s.Result != nil {
		r := *s.Result
		r.Artifacts = append([]Artifact(nil), s.Result.Artifacts...)
		r.CreatedFiles = cloneStrings(s.Result.CreatedFiles)
		r.ModifiedFiles = cloneStrings(s.Result.ModifiedFiles)
		c.Result = &r
	}
	return &c
}
