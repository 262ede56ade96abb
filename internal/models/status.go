package models

import "time"

// AlertState tracks an alert through the remediation state machine.
type AlertState string

const (
	StateDetected        AlertState = "detected"
	StateDiagnosed       AlertState = "diagnosed"
	StateDecided         AlertState = "decided"
	StateAutoExecuting   AlertState = "auto_executing"
	StatePendingApproval AlertState = "pending_approval"
	StateExecuting       AlertState = "executing"
	StateRejected        AlertState = "rejected"
	StateSucceeded       AlertState = "succeeded"
	StateFailed          AlertState = "failed"
	StateRolledBack      AlertState = "rolled_back"
)

// Terminal reports whether no further transitions are possible.
func (s AlertState) Terminal() bool {
	switch s {
	case StateRejected, StateSucceeded, StateFailed, StateRolledBack:
		return true
	}
	return false
}

// Case is the durable per-alert progress record. Every transition is written
// before the next step begins so a restart can resume from the last state.
type Case struct {
	AlertID           string     `json:"alert_id"`
	State             AlertState `json:"state"`
	DiagnosisID       string     `json:"diagnosis_id,omitempty"`
	ActionID          string     `json:"action_id,omitempty"`
	DecisionID        string     `json:"decision_id,omitempty"`
	ApprovalRequestID string     `json:"approval_request_id,omitempty"`
	ExecutionID       string     `json:"execution_id,omitempty"`
	Reason            string     `json:"reason,omitempty"`
	Attempts          int        `json:"attempts"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// AlertStatus is the read model returned by GetStatus. Always well formed,
// even for failed alerts.
type AlertStatus struct {
	AlertID         string            `json:"alert_id"`
	State           AlertState        `json:"state"`
	Reason          string            `json:"reason,omitempty"`
	Alert           *Alert            `json:"alert,omitempty"`
	Diagnosis       *Diagnosis        `json:"diagnosis,omitempty"`
	Decisions       []Decision        `json:"decisions,omitempty"`
	ApprovalRequest *ApprovalRequest  `json:"approval_request,omitempty"`
	Executions      []ExecutionRecord `json:"executions,omitempty"`
}

// AuditKind enumerates audit trail entry types.
type AuditKind string

const (
	AuditAlertReceived    AuditKind = "alert_received"
	AuditDiagnosis        AuditKind = "diagnosis"
	AuditDecision         AuditKind = "decision"
	AuditApprovalRequest  AuditKind = "approval_requested"
	AuditApprovalResolved AuditKind = "approval_resolved"
	AuditExecution        AuditKind = "execution"
	AuditRollback         AuditKind = "rollback"
	AuditStateChange      AuditKind = "state_change"
	AuditKillSwitch       AuditKind = "kill_switch"
)

// AuditEvent is one append-only entry in the decision/execution trail.
type AuditEvent struct {
	ID       string    `json:"id"`
	AlertID  string    `json:"alert_id,omitempty"`
	Kind     AuditKind `json:"kind"`
	Category Category  `json:"category,omitempty"`
	Summary  string    `json:"summary"`
	RefID    string    `json:"ref_id,omitempty"`
	At       time.Time `json:"at"`
}

// AuditFilter narrows ListAuditTrail results.
type AuditFilter struct {
	AlertID string    `json:"alert_id,omitempty"`
	Kind    AuditKind `json:"kind,omitempty"`
	Limit   int       `json:"limit,omitempty"`
	Offset  int       `json:"offset,omitempty"`
}

// AuditPage is one page of trail records.
type AuditPage struct {
	Events []AuditEvent `json:"events"`
	Total  int          `json:"total"`
}

// Statistics aggregates controller outcomes from the audit trail.
type Statistics struct {
	TotalAlerts          int64            `json:"total_alerts"`
	ByCategory           map[string]int64 `json:"by_category"`
	ByOutcome            map[string]int64 `json:"by_outcome"`
	AutoApproved         int64            `json:"auto_approved"`
	PendingApprovals     int64            `json:"pending_approvals"`
	Succeeded            int64            `json:"succeeded"`
	Failed               int64            `json:"failed"`
	RolledBack           int64            `json:"rolled_back"`
	SuccessRate          float64          `json:"success_rate"`
	AvgResolutionSeconds float64          `json:"avg_resolution_seconds"`
}
