// Package executor runs approved remediation commands against target hosts.
// Every attempt re-checks the global kill switch and the command safety
// screen before anything touches a target; failures trigger a best-effort
// rollback that never masks the primary outcome.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/remedystack/remedy-engine/internal/models"
)

// Request describes one execution attempt.
type Request struct {
	Action     models.RemediationAction
	DecisionID string
	Target     models.Target
	DryRun     bool
	Attempt    int
}

// Executor runs commands through a TargetRunner under a bounded timeout.
type Executor struct {
	logger     *slog.Logger
	runner     TargetRunner
	killSwitch *KillSwitch
	safety     *SafetyScreen
	timeout    time.Duration
}

// NewExecutor wires the runner behind the kill switch and safety screen.
func NewExecutor(logger *slog.Logger, runner TargetRunner, killSwitch *KillSwitch, timeout time.Duration) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{
		logger:     logger,
		runner:     runner,
		killSwitch: killSwitch,
		safety:     NewSafetyScreen(),
		timeout:    timeout,
	}
}

// Execute runs one attempt and returns its record. The record always carries
// a terminal status; errors inside the attempt are folded into the record
// rather than returned, so callers persist exactly what happened.
func (e *Executor) Execute(ctx context.Context, req Request) models.ExecutionRecord {
	rec := models.ExecutionRecord{
		ID:         uuid.NewString(),
		ActionID:   req.Action.ID,
		DecisionID: req.DecisionID,
		AlertID:    req.Action.AlertID,
		Host:       req.Target.Host,
		Command:    req.Action.Command,
		DryRun:     req.DryRun,
		Attempt:    req.Attempt,
		StartedAt:  time.Now().UTC(),
	}

	if e.killSwitch != nil && e.killSwitch.Engaged() {
		rec.Status = models.ExitBlocked
		rec.Error = "kill switch engaged, execution blocked"
		rec.FinishedAt = time.Now().UTC()
		e.logger.Warn("execution blocked by kill switch",
			slog.String("alert_id", rec.AlertID),
			slog.String("command", rec.Command),
		)
		return rec
	}

	if pattern, ok := e.safety.Check(req.Action.Command); !ok {
		rec.Status = models.ExitUnsafe
		rec.Error = "command matched dangerous pattern: " + pattern
		rec.FinishedAt = time.Now().UTC()
		e.logger.Warn("execution blocked by safety screen",
			slog.String("alert_id", rec.AlertID),
			slog.String("pattern", pattern),
		)
		return rec
	}

	if req.DryRun {
		rec.Status = models.ExitSuccess
		rec.Output = "dry run: command not executed"
		rec.FinishedAt = time.Now().UTC()
		return rec
	}

	status, exitCode, output, errMsg := e.run(ctx, req.Target, req.Action.Command)
	rec.Status = status
	rec.ExitCode = exitCode
	rec.Output = output
	rec.Error = errMsg
	rec.FinishedAt = time.Now().UTC()

	if e.shouldRollback(rec.Status, req.Action) {
		rec.Rollback = e.rollback(ctx, req.Target, req.Action)
	}

	e.logger.Info("execution finished",
		slog.String("alert_id", rec.AlertID),
		slog.String("command", rec.Command),
		slog.String("status", string(rec.Status)),
		slog.Int("attempt", rec.Attempt),
		slog.Duration("took", rec.FinishedAt.Sub(rec.StartedAt)),
	)

	return rec
}

func (e *Executor) run(ctx context.Context, target models.Target, command string) (models.ExitStatus, int, string, string) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result, err := e.runner.Run(attemptCtx, target, command)
	switch {
	case err == nil && result.ExitCode == 0:
		return models.ExitSuccess, 0, result.Output, ""
	case err == nil:
		return models.ExitFailure, result.ExitCode, result.Output, "command exited non-zero"
	case errors.Is(err, context.DeadlineExceeded):
		return models.ExitTimedOut, 0, result.Output, "command timed out"
	case errors.Is(err, ErrUnreachable):
		return models.ExitUnreachable, 0, result.Output, err.Error()
	default:
		return models.ExitFailure, 0, result.Output, err.Error()
	}
}

// shouldRollback limits rollback to outcomes where the command may have run
// and changed state. Blocked and unreachable attempts never touched the host.
func (e *Executor) shouldRollback(status models.ExitStatus, action models.RemediationAction) bool {
	if action.RollbackCommand == "" {
		return false
	}
	return status == models.ExitFailure || status == models.ExitTimedOut
}

func (e *Executor) rollback(ctx context.Context, target models.Target, action models.RemediationAction) *models.RollbackOutcome {
	e.logger.Warn("attempting rollback",
		slog.String("alert_id", action.AlertID),
		slog.String("command", action.RollbackCommand),
	)

	// The parent context may already be cancelled; rollback gets its own
	// deadline so a timed-out primary command does not starve it.
	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	outcome := &models.RollbackOutcome{Command: action.RollbackCommand}

	result, err := e.runner.Run(rbCtx, target, action.RollbackCommand)
	outcome.Output = result.Output
	outcome.Finished = time.Now().UTC()

	switch {
	case err == nil && result.ExitCode == 0:
		outcome.Status = models.ExitSuccess
	case err == nil:
		outcome.Status = models.ExitFailure
		outcome.Error = "rollback exited non-zero"
	case errors.Is(err, context.DeadlineExceeded):
		outcome.Status = models.ExitTimedOut
		outcome.Error = "rollback timed out"
	default:
		outcome.Status = models.ExitFailure
		outcome.Error = err.Error()
	}

	return outcome
}
