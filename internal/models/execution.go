package models

import "time"

// ExitStatus classifies the outcome of one execution attempt.
type ExitStatus string

const (
	ExitSuccess     ExitStatus = "success"
	ExitFailure     ExitStatus = "failure"
	ExitTimedOut    ExitStatus = "timed_out"
	ExitUnreachable ExitStatus = "unreachable"
	ExitBlocked     ExitStatus = "blocked_by_kill_switch"
	ExitUnsafe      ExitStatus = "blocked_by_safety_screen"
)

// Transient reports whether a status is worth retrying. Only timeouts and
// unreachable targets qualify; everything else is terminal.
func (s ExitStatus) Transient() bool {
	return s == ExitTimedOut || s == ExitUnreachable
}

// RollbackOutcome captures the best-effort rollback attempted after a failed
// execution. Its own failure never masks the primary failure status.
type RollbackOutcome struct {
	Command  string     `json:"command"`
	Status   ExitStatus `json:"status"`
	Output   string     `json:"output,omitempty"`
	Error    string     `json:"error,omitempty"`
	Finished time.Time  `json:"finished"`
}

// Target identifies the host an action runs against.
type Target struct {
	Host string `json:"host"`
	Port int    `json:"port,omitempty"`
}

// ExecutionRecord is the append-only outcome of running one action.
type ExecutionRecord struct {
	ID         string           `json:"id"`
	ActionID   string           `json:"action_id"`
	DecisionID string           `json:"decision_id"`
	AlertID    string           `json:"alert_id"`
	Host       string           `json:"host"`
	Command    string           `json:"command"`
	DryRun     bool             `json:"dry_run"`
	Attempt    int              `json:"attempt"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Status     ExitStatus       `json:"status"`
	ExitCode   int              `json:"exit_code"`
	Output     string           `json:"output,omitempty"`
	Error      string           `json:"error,omitempty"`
	Rollback   *RollbackOutcome `json:"rollback,omitempty"`
}
