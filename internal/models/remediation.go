package models

import "time"

// Category enumerates the closed set of diagnosis use cases. Rule priority is
// fixed: security keywords beat service keywords beat resource keywords, and
// CategoryGeneric is the fallback when nothing matches.
type Category string

const (
	CategorySecurityIncident   Category = "security_incident"
	CategoryCertificateExpiry  Category = "certificate_expiry"
	CategoryServiceDown        Category = "service_down"
	CategoryDatabaseContention Category = "database_contention"
	CategoryBackupFailure      Category = "backup_failure"
	CategoryHighCPU            Category = "high_cpu"
	CategoryHighMemory         Category = "high_memory"
	CategoryDiskFull           Category = "disk_full"
	CategoryGeneric            Category = "generic"
)

// RiskTier classifies a remediation action's potential impact.
type RiskTier string

const (
	RiskLow    RiskTier = "low"
	RiskMedium RiskTier = "medium"
	RiskHigh   RiskTier = "high"
)

// Valid reports whether the tier is one of the closed set. An action carrying
// an unknown tier is a policy error and fails its decision.
func (r RiskTier) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// RemediationAction is one candidate corrective step. Owned by exactly one
// diagnosis, never shared. RequiresApproval is a default signal the decision
// engine may tighten but never loosen.
type RemediationAction struct {
	ID               string    `json:"id"`
	DiagnosisID      string    `json:"diagnosis_id"`
	AlertID          string    `json:"alert_id"`
	Description      string    `json:"description"`
	Command          string    `json:"command"`
	Risk             RiskTier  `json:"risk"`
	Impact           string    `json:"impact"`
	RollbackCommand  string    `json:"rollback_command,omitempty"`
	RequiresApproval bool      `json:"requires_approval"`
	CreatedAt        time.Time `json:"created_at"`
}

// Diagnosis interprets one alert. Created once and never mutated; a
// re-diagnosis appends a new record linked to the same alert.
type Diagnosis struct {
	ID                 string              `json:"id"`
	AlertID            string              `json:"alert_id"`
	Category           Category            `json:"category"`
	RootCause          string              `json:"root_cause"`
	Confidence         int                 `json:"confidence"`
	AffectedComponents []string            `json:"affected_components,omitempty"`
	Actions            []RemediationAction `json:"actions"`
	CreatedAt          time.Time           `json:"created_at"`
}

// OperatingMode controls how much auto-execution policy permits.
type OperatingMode string

const (
	ModeManual        OperatingMode = "manual"
	ModeSemiAutomatic OperatingMode = "semi_automatic"
	ModeFullAutomatic OperatingMode = "full_automatic"
)

// Valid reports whether the mode is a known policy setting.
func (m OperatingMode) Valid() bool {
	switch m {
	case ModeManual, ModeSemiAutomatic, ModeFullAutomatic:
		return true
	}
	return false
}

// Verdict is the decision engine's ruling for one action.
type Verdict string

const (
	VerdictAutoApprove     Verdict = "auto_approve"
	VerdictPendingApproval Verdict = "pending_approval"
	VerdictReject          Verdict = "reject"
)

// Decision records the policy verdict for one remediation action. Verdicts
// are never retro-edited; corrections happen via new records.
type Decision struct {
	ID         string        `json:"id"`
	ActionID   string        `json:"action_id"`
	AlertID    string        `json:"alert_id"`
	Verdict    Verdict       `json:"verdict"`
	Reason     string        `json:"reason"`
	Mode       OperatingMode `json:"mode"`
	Confidence int           `json:"confidence"`
	CreatedAt  time.Time     `json:"created_at"`
}
