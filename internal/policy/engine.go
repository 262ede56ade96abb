// Package policy turns a diagnosed remediation action into a decision. The
// precedence order is fixed: kill switch, risk tier, operating mode, the
// action's own approval flag, then diagnostic confidence. Only an action that
// clears every gate is auto-approved.
package policy

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/remedystack/remedy-engine/internal/models"
)

// KillSwitchReader exposes the global execution halt flag.
type KillSwitchReader interface {
	Engaged() bool
}

// Engine evaluates remediation actions against the active risk policy.
// Mode and threshold are mutable at runtime; everything else is fixed.
type Engine struct {
	logger     *slog.Logger
	killSwitch KillSwitchReader

	mu        sync.RWMutex
	mode      models.OperatingMode
	threshold int
}

// NewEngine builds an Engine. The threshold is the minimum diagnostic
// confidence (0-100) that an action needs for auto-approval.
func NewEngine(logger *slog.Logger, killSwitch KillSwitchReader, mode models.OperatingMode, threshold int) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		logger:     logger,
		killSwitch: killSwitch,
		mode:       mode,
		threshold:  threshold,
	}
}

// Mode returns the current operating mode.
func (e *Engine) Mode() models.OperatingMode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

// SetMode switches the operating mode. Returns false for unknown modes.
func (e *Engine) SetMode(mode models.OperatingMode) bool {
	if !mode.Valid() {
		return false
	}
	e.mu.Lock()
	e.mode = mode
	e.mu.Unlock()
	e.logger.Info("operating mode changed", slog.String("mode", string(mode)))
	return true
}

// Threshold returns the current confidence threshold.
func (e *Engine) Threshold() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.threshold
}

// Decide rules on one action. The verdict depends only on the action, the
// diagnosis confidence, and the policy state at call time; identical inputs
// under identical state always produce the same verdict.
func (e *Engine) Decide(diagnosis models.Diagnosis, action models.RemediationAction) models.Decision {
	e.mu.RLock()
	mode := e.mode
	threshold := e.threshold
	e.mu.RUnlock()

	verdict, reason := e.rule(mode, threshold, diagnosis, action)

	decision := models.Decision{
		ID:         uuid.NewString(),
		ActionID:   action.ID,
		AlertID:    action.AlertID,
		Verdict:    verdict,
		Reason:     reason,
		Mode:       mode,
		Confidence: diagnosis.Confidence,
		CreatedAt:  time.Now().UTC(),
	}

	e.logger.Info("decision made",
		slog.String("alert_id", action.AlertID),
		slog.String("action_id", action.ID),
		slog.String("verdict", string(verdict)),
		slog.String("reason", reason),
	)

	return decision
}

func (e *Engine) rule(mode models.OperatingMode, threshold int, diagnosis models.Diagnosis, action models.RemediationAction) (models.Verdict, string) {
	if e.killSwitch != nil && e.killSwitch.Engaged() {
		return models.VerdictReject, "kill switch engaged"
	}
	if !action.Risk.Valid() {
		return models.VerdictReject, "unknown risk tier: " + string(action.Risk)
	}
	if action.Risk == models.RiskHigh {
		return models.VerdictPendingApproval, "high risk action always requires approval"
	}
	if mode == models.ModeManual {
		return models.VerdictPendingApproval, "manual mode requires approval for every action"
	}
	if action.RequiresApproval {
		return models.VerdictPendingApproval, "action is flagged as requiring approval"
	}
	if diagnosis.Confidence < threshold {
		return models.VerdictPendingApproval, "diagnostic confidence below auto-approval threshold"
	}
	if mode == models.ModeSemiAutomatic && action.Risk == models.RiskMedium {
		return models.VerdictPendingApproval, "semi-automatic mode limits auto-approval to low risk"
	}
	return models.VerdictAutoApprove, "policy gates cleared"
}
