// Package service exposes the controller's operations behind one facade:
// alert intake with dedupe, status reads, approval votes, kill switch and
// mode control, the audit trail, and aggregate statistics.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/remedystack/remedy-engine/internal/audit"
	"github.com/remedystack/remedy-engine/internal/cache"
	"github.com/remedystack/remedy-engine/internal/executor"
	"github.com/remedystack/remedy-engine/internal/metrics"
	"github.com/remedystack/remedy-engine/internal/models"
	"github.com/remedystack/remedy-engine/internal/orchestrator"
	"github.com/remedystack/remedy-engine/internal/policy"
	"github.com/remedystack/remedy-engine/internal/store"
	"github.com/remedystack/remedy-engine/internal/utils"
)

// ErrInvalidAlert rejects malformed intake payloads.
var ErrInvalidAlert = errors.New("invalid alert")

// ErrUnknownAlert signals a status query for an alert never submitted.
var ErrUnknownAlert = errors.New("unknown alert")

// SubmitResult reports intake outcome. Duplicate submissions return the
// original alert id instead of opening a second case.
type SubmitResult struct {
	AlertID   string `json:"alert_id"`
	Duplicate bool   `json:"duplicate"`
}

// Controller is the remediation service facade.
type Controller struct {
	logger     *slog.Logger
	store      store.Store
	orch       *orchestrator.Orchestrator
	policy     *policy.Engine
	killSwitch *executor.KillSwitch
	recorder   *audit.Recorder
	deduper    *cache.Deduper
	latency    *utils.LatencyTracker
}

// NewController wires the facade. The deduper may be nil when dedupe is
// disabled.
func NewController(logger *slog.Logger, st store.Store, orch *orchestrator.Orchestrator, pol *policy.Engine, ks *executor.KillSwitch, rec *audit.Recorder, deduper *cache.Deduper) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		logger:     logger,
		store:      st,
		orch:       orch,
		policy:     pol,
		killSwitch: ks,
		recorder:   rec,
		deduper:    deduper,
		latency:    utils.NewLatencyTracker(512),
	}
	orch.TerminalHook = c.onTerminal
	return c
}

func (c *Controller) onTerminal(ctx context.Context, done models.Case) {
	c.latency.Observe(done.UpdatedAt.Sub(done.CreatedAt))
	if c.deduper == nil {
		return
	}
	alert, err := c.store.GetAlert(ctx, done.AlertID)
	if err != nil {
		return
	}
	c.deduper.Release(ctx, alert.ContentHash())
}

// SubmitAlert validates and accepts one alert. Identical alerts inside the
// dedupe window collapse onto the first one's case.
func (c *Controller) SubmitAlert(ctx context.Context, alert models.Alert) (SubmitResult, error) {
	if strings.TrimSpace(alert.Host) == "" {
		return SubmitResult{}, fmt.Errorf("%w: host is required", ErrInvalidAlert)
	}
	if alert.Source == "" {
		alert.Source = models.SourceManual
	}
	if alert.Severity == "" {
		alert.Severity = models.SeverityMedium
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}

	if c.deduper != nil {
		if original, dup := c.deduper.Claim(ctx, alert.ContentHash(), alert.ID); dup {
			c.logger.Info("duplicate alert suppressed",
				slog.String("alert_id", alert.ID),
				slog.String("original", original),
			)
			return SubmitResult{AlertID: original, Duplicate: true}, nil
		}
	}

	if err := c.orch.Submit(ctx, alert); err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{AlertID: alert.ID}, nil
}

// GetStatus assembles the full read model for one alert.
func (c *Controller) GetStatus(ctx context.Context, alertID string) (models.AlertStatus, error) {
	kase, err := c.store.GetCase(ctx, alertID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.AlertStatus{}, ErrUnknownAlert
		}
		return models.AlertStatus{}, err
	}

	status := models.AlertStatus{
		AlertID: alertID,
		State:   kase.State,
		Reason:  kase.Reason,
	}

	if alert, err := c.store.GetAlert(ctx, alertID); err == nil {
		status.Alert = &alert
	}
	if kase.DiagnosisID != "" {
		if diag, err := c.store.GetDiagnosis(ctx, kase.DiagnosisID); err == nil {
			status.Diagnosis = &diag
		}
	}
	if decisions, err := c.store.ListDecisionsByAlert(ctx, alertID); err == nil {
		status.Decisions = decisions
	}
	if kase.ApprovalRequestID != "" {
		if req, err := c.store.GetApproval(ctx, kase.ApprovalRequestID); err == nil {
			status.ApprovalRequest = &req
		}
	}
	if execs, err := c.store.ListExecutionsByAlert(ctx, alertID); err == nil {
		status.Executions = execs
	}

	return status, nil
}

// RespondApproval records a vote on a pending approval request.
func (c *Controller) RespondApproval(ctx context.Context, requestID, approver string, vote models.Vote) (models.ApprovalRequest, error) {
	return c.orch.HandleApprovalResponse(ctx, requestID, approver, vote)
}

// CancelApproval withdraws a pending approval request on operator request;
// the case is rejected.
func (c *Controller) CancelApproval(ctx context.Context, requestID, operator string) (models.ApprovalRequest, error) {
	return c.orch.CancelApproval(ctx, requestID, operator)
}

// PendingApprovals lists unresolved requests, oldest first.
func (c *Controller) PendingApprovals(ctx context.Context) ([]models.ApprovalRequest, error) {
	return c.store.ListPendingApprovals(ctx)
}

// EngageKillSwitch halts all execution and records the flip in the trail.
func (c *Controller) EngageKillSwitch(ctx context.Context, operator string) error {
	c.killSwitch.Engage(operator)
	metrics.SetKillSwitch(true)
	return c.recorder.Record(ctx, "", models.AuditKillSwitch, "",
		fmt.Sprintf("kill switch engaged by %s", operator), "")
}

// DisengageKillSwitch resumes execution.
func (c *Controller) DisengageKillSwitch(ctx context.Context, operator string) error {
	c.killSwitch.Disengage(operator)
	metrics.SetKillSwitch(false)
	return c.recorder.Record(ctx, "", models.AuditKillSwitch, "",
		fmt.Sprintf("kill switch disengaged by %s", operator), "")
}

// KillSwitchEngaged reports the current flag state.
func (c *Controller) KillSwitchEngaged() bool {
	return c.killSwitch.Engaged()
}

// OperatingMode returns the active policy mode.
func (c *Controller) OperatingMode() models.OperatingMode {
	return c.policy.Mode()
}

// SetOperatingMode switches the policy mode at runtime.
func (c *Controller) SetOperatingMode(mode models.OperatingMode) error {
	if !c.policy.SetMode(mode) {
		return fmt.Errorf("unknown operating mode %q", mode)
	}
	return nil
}

// ListAuditTrail pages through the decision and execution trail.
func (c *Controller) ListAuditTrail(ctx context.Context, filter models.AuditFilter) (models.AuditPage, error) {
	return c.recorder.Trail(ctx, filter)
}

// GetStatistics aggregates controller outcomes.
func (c *Controller) GetStatistics(ctx context.Context) (models.Statistics, error) {
	return audit.Statistics(ctx, c.store)
}

// LatencyPercentile reports recent pipeline latency.
func (c *Controller) LatencyPercentile(p float64) time.Duration {
	return c.latency.Percentile(p)
}
