// Package orchestrator drives an alert through the remediation state machine:
// Detected -> Diagnosed -> Decided -> {AutoExecuting | PendingApproval} ->
// {Executing | Rejected} -> {Succeeded | Failed | RolledBack}. Every
// transition is persisted before the next step starts, so a crashed
// controller resumes from the last recorded state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/remedystack/remedy-engine/internal/approval"
	"github.com/remedystack/remedy-engine/internal/audit"
	"github.com/remedystack/remedy-engine/internal/diagnose"
	"github.com/remedystack/remedy-engine/internal/executor"
	"github.com/remedystack/remedy-engine/internal/metrics"
	"github.com/remedystack/remedy-engine/internal/models"
	"github.com/remedystack/remedy-engine/internal/notify"
	"github.com/remedystack/remedy-engine/internal/policy"
	"github.com/remedystack/remedy-engine/internal/store"
	"github.com/remedystack/remedy-engine/internal/utils"
)

// ReasonKillSwitch is the terminal reason recorded when the kill switch
// blocks a case.
const ReasonKillSwitch = "blocked-by-kill-switch"

// Config tunes pipeline behaviour.
type Config struct {
	Approvers        []string
	RequiredCount    int
	ApprovalDeadline time.Duration
	MaxRetries       int
	RetryBackoff     time.Duration
	MaxConcurrent    int64
	DryRun           bool
}

// Orchestrator owns the per-alert remediation pipeline.
type Orchestrator struct {
	logger   *slog.Logger
	store    store.Store
	router   *diagnose.Router
	policy   *policy.Engine
	gateway  *approval.Gateway
	executor *executor.Executor
	recorder *audit.Recorder
	notifier notify.Notifier
	cfg      Config

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	lockMu    sync.Mutex
	hostLocks map[string]*sync.Mutex

	// TerminalHook runs after a case reaches a terminal state. Optional.
	TerminalHook func(ctx context.Context, c models.Case)
}

// New wires the pipeline components together.
func New(logger *slog.Logger, st store.Store, router *diagnose.Router, pol *policy.Engine, gw *approval.Gateway, exec *executor.Executor, rec *audit.Recorder, notifier notify.Notifier, cfg Config) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.ApprovalDeadline <= 0 {
		cfg.ApprovalDeadline = time.Hour
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 5 * time.Second
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	return &Orchestrator{
		logger:    logger,
		store:     st,
		router:    router,
		policy:    pol,
		gateway:   gw,
		executor:  exec,
		recorder:  rec,
		notifier:  notifier,
		cfg:       cfg,
		sem:       semaphore.NewWeighted(cfg.MaxConcurrent),
		hostLocks: make(map[string]*sync.Mutex),
	}
}

// Submit persists the alert and opens its case, then continues the pipeline
// asynchronously. Returns once the alert is durably accepted.
func (o *Orchestrator) Submit(ctx context.Context, alert models.Alert) error {
	if err := o.store.PutAlert(ctx, alert); err != nil {
		return utils.NewAppError("orchestrator.submit", "persist alert", err)
	}

	now := time.Now().UTC()
	c := models.Case{
		AlertID:   alert.ID,
		State:     models.StateDetected,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.PutCase(ctx, c); err != nil {
		return utils.NewAppError("orchestrator.submit", "persist case", err)
	}
	if err := o.recorder.Record(ctx, alert.ID, models.AuditAlertReceived, "", fmt.Sprintf("alert received from %s: %s", alert.Source, alert.Message), ""); err != nil {
		return err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		bg := context.WithoutCancel(ctx)
		if err := o.sem.Acquire(bg, 1); err != nil {
			return
		}
		defer o.sem.Release(1)
		o.process(bg, alert, c)
	}()

	return nil
}

// Wait blocks until every in-flight pipeline finishes. Used during shutdown
// and by tests.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// process runs the pipeline from the Detected state.
func (o *Orchestrator) process(ctx context.Context, alert models.Alert, c models.Case) {
	diagnosis := o.router.Diagnose(alert)
	if err := o.store.PutDiagnosis(ctx, diagnosis); err != nil {
		o.fail(ctx, &c, "persist diagnosis: "+err.Error())
		return
	}
	metrics.ObserveAlert(diagnosis.Category)

	c.DiagnosisID = diagnosis.ID
	if err := o.transition(ctx, &c, models.StateDiagnosed, ""); err != nil {
		return
	}
	_ = o.recorder.Record(ctx, alert.ID, models.AuditDiagnosis, diagnosis.Category,
		fmt.Sprintf("diagnosed %s (confidence %d): %s", diagnosis.Category, diagnosis.Confidence, diagnosis.RootCause), diagnosis.ID)

	o.decide(ctx, alert, c, diagnosis)
}

// decide rules on candidate actions in order. The first auto-approved action
// executes; failing that, the first pending-approval action opens a request;
// an all-reject outcome terminates the case.
func (o *Orchestrator) decide(ctx context.Context, alert models.Alert, c models.Case, diagnosis models.Diagnosis) {
	var pendingAction *models.RemediationAction
	var pendingDecision models.Decision
	killSwitchReject := false

	for i := range diagnosis.Actions {
		action := diagnosis.Actions[i]
		decision := o.policy.Decide(diagnosis, action)
		if err := o.store.PutDecision(ctx, decision); err != nil {
			o.fail(ctx, &c, "persist decision: "+err.Error())
			return
		}
		metrics.ObserveDecision(decision.Verdict)
		_ = o.recorder.Record(ctx, alert.ID, models.AuditDecision, diagnosis.Category,
			fmt.Sprintf("%s: %s (%s)", decision.Verdict, action.Description, decision.Reason), decision.ID)

		switch decision.Verdict {
		case models.VerdictAutoApprove:
			c.ActionID = action.ID
			c.DecisionID = decision.ID
			if err := o.transition(ctx, &c, models.StateDecided, ""); err != nil {
				return
			}
			o.execute(ctx, alert, c, action, decision, models.StateAutoExecuting)
			return
		case models.VerdictPendingApproval:
			if pendingAction == nil {
				pendingAction = &diagnosis.Actions[i]
				pendingDecision = decision
			}
		case models.VerdictReject:
			if decision.Reason == "kill switch engaged" {
				killSwitchReject = true
			}
		}
	}

	if pendingAction != nil {
		c.ActionID = pendingAction.ID
		c.DecisionID = pendingDecision.ID
		if err := o.transition(ctx, &c, models.StateDecided, ""); err != nil {
			return
		}
		o.requestApproval(ctx, alert, c, *pendingAction, pendingDecision)
		return
	}

	reason := "all candidate actions rejected"
	if killSwitchReject {
		reason = ReasonKillSwitch
	}
	o.fail(ctx, &c, reason)
}

func (o *Orchestrator) requestApproval(ctx context.Context, alert models.Alert, c models.Case, action models.RemediationAction, decision models.Decision) {
	deadline := time.Now().Add(o.cfg.ApprovalDeadline)
	req, err := o.gateway.RequestApproval(ctx, decision, o.cfg.Approvers, o.cfg.RequiredCount, deadline)
	if err != nil {
		o.fail(ctx, &c, "open approval request: "+err.Error())
		return
	}

	c.ApprovalRequestID = req.ID
	if err := o.transition(ctx, &c, models.StatePendingApproval, decision.Reason); err != nil {
		return
	}
	_ = o.recorder.Record(ctx, alert.ID, models.AuditApprovalRequest, "",
		fmt.Sprintf("approval requested for %q: %s", action.Description, decision.Reason), req.ID)
	_ = o.notifier.Notify(ctx, notify.Event{
		Kind:    notify.KindApprovalRequested,
		AlertID: alert.ID,
		Summary: fmt.Sprintf("approval needed: %s", action.Description),
		Detail:  decision.Reason,
		At:      time.Now().UTC(),
	})
}

// HandleApprovalResponse records a vote and resumes the case when the
// request resolves. A vote landing after the deadline resolves the request
// to rejected on its way out; the case is settled before the late-vote
// error surfaces, so it never stays in pending_approval.
func (o *Orchestrator) HandleApprovalResponse(ctx context.Context, requestID, approver string, vote models.Vote) (models.ApprovalRequest, error) {
	req, err := o.gateway.Respond(ctx, requestID, approver, vote)
	if err != nil {
		if errors.Is(err, approval.ErrResolved) && req.Resolved() {
			o.settleApproval(ctx, req)
		}
		return req, err
	}
	if !req.Resolved() {
		return req, nil
	}
	o.settleApproval(ctx, req)
	return req, nil
}

// CancelApproval withdraws a pending request on operator request. The case
// moves to rejected.
func (o *Orchestrator) CancelApproval(ctx context.Context, requestID, operator string) (models.ApprovalRequest, error) {
	req, err := o.gateway.Cancel(ctx, requestID, fmt.Sprintf("cancelled by %s", operator))
	if err != nil {
		return req, err
	}
	o.settleApproval(ctx, req)
	return req, nil
}

// settleApproval moves a case out of pending_approval once its request has
// resolved. Idempotent: a case that already moved on is left untouched.
func (o *Orchestrator) settleApproval(ctx context.Context, req models.ApprovalRequest) {
	c, err := o.store.GetCase(ctx, req.AlertID)
	if err != nil {
		return
	}
	if c.State != models.StatePendingApproval || c.ApprovalRequestID != req.ID {
		return
	}

	_ = o.recorder.Record(ctx, req.AlertID, models.AuditApprovalResolved, "",
		fmt.Sprintf("approval %s: %s", req.State, req.Reason), req.ID)

	if req.State == models.ApprovalRejected {
		_ = o.transition(ctx, &c, models.StateRejected, req.Reason)
		return
	}

	alert, err := o.store.GetAlert(ctx, req.AlertID)
	if err != nil {
		o.fail(ctx, &c, "resume: alert record missing")
		return
	}
	action, decision, err := o.caseAction(ctx, c)
	if err != nil {
		o.fail(ctx, &c, "load approved action: "+err.Error())
		return
	}
	o.spawn(ctx, func(bg context.Context) { o.execute(bg, alert, c, action, decision, models.StateExecuting) })
}

// execute runs the approved action with bounded retries. entryState is
// AutoExecuting for policy approvals and Executing for human approvals.
func (o *Orchestrator) execute(ctx context.Context, alert models.Alert, c models.Case, action models.RemediationAction, decision models.Decision, entryState models.AlertState) {
	if err := o.transition(ctx, &c, entryState, ""); err != nil {
		return
	}

	lock := o.hostLock(alert.Host)
	lock.Lock()
	defer lock.Unlock()

	target := models.Target{Host: alert.Host}

	for {
		c.Attempts++
		rec := o.executor.Execute(ctx, executor.Request{
			Action:     action,
			DecisionID: decision.ID,
			Target:     target,
			DryRun:     o.cfg.DryRun,
			Attempt:    c.Attempts,
		})
		if err := o.store.PutExecution(ctx, rec); err != nil {
			o.fail(ctx, &c, "persist execution: "+err.Error())
			return
		}
		metrics.ObserveExecution(rec.Status)
		c.ExecutionID = rec.ID
		_ = o.recorder.Record(ctx, alert.ID, models.AuditExecution, "",
			fmt.Sprintf("attempt %d: %s -> %s", rec.Attempt, rec.Command, rec.Status), rec.ID)
		if rec.Rollback != nil {
			_ = o.recorder.Record(ctx, alert.ID, models.AuditRollback, "",
				fmt.Sprintf("rollback %s -> %s", rec.Rollback.Command, rec.Rollback.Status), rec.ID)
		}

		switch {
		case rec.Status == models.ExitSuccess:
			o.finish(ctx, &c, models.StateSucceeded, "")
			return
		case rec.Status == models.ExitBlocked:
			o.fail(ctx, &c, ReasonKillSwitch)
			return
		case rec.Status == models.ExitUnsafe:
			o.fail(ctx, &c, rec.Error)
			return
		case rec.Status.Transient() && c.Attempts <= o.cfg.MaxRetries:
			if err := o.store.PutCase(ctx, withTouch(&c)); err != nil {
				return
			}
			o.logger.Warn("retrying transient failure",
				slog.String("alert_id", alert.ID),
				slog.Int("attempt", c.Attempts),
				slog.String("status", string(rec.Status)),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(o.cfg.RetryBackoff):
			}
		case rec.Rollback != nil && rec.Rollback.Status == models.ExitSuccess:
			_ = o.notifier.Notify(ctx, notify.Event{
				Kind: notify.KindRolledBack, AlertID: alert.ID,
				Summary: "remediation failed, rollback succeeded", Detail: rec.Error, At: time.Now().UTC(),
			})
			o.finish(ctx, &c, models.StateRolledBack, rec.Error)
			return
		default:
			_ = o.notifier.Notify(ctx, notify.Event{
				Kind: notify.KindExecutionFailed, AlertID: alert.ID,
				Summary: "remediation failed", Detail: rec.Error, At: time.Now().UTC(),
			})
			o.fail(ctx, &c, rec.Error)
			return
		}
	}
}

// SweepApprovals expires overdue requests and rejects their cases. Run
// periodically by RunSweeper.
func (o *Orchestrator) SweepApprovals(ctx context.Context) error {
	expired, err := o.gateway.ExpireOverdue(ctx)
	if err != nil {
		return err
	}
	for _, req := range expired {
		_ = o.recorder.Record(ctx, req.AlertID, models.AuditApprovalResolved, "",
			"approval request expired unresolved", req.ID)
		_ = o.notifier.Notify(ctx, notify.Event{
			Kind: notify.KindApprovalExpired, AlertID: req.AlertID,
			Summary: "approval request expired", At: time.Now().UTC(),
		})

		c, err := o.store.GetCase(ctx, req.AlertID)
		if err != nil {
			continue
		}
		if c.State == models.StatePendingApproval && c.ApprovalRequestID == req.ID {
			_ = o.transition(ctx, &c, models.StateRejected, "approval deadline passed")
		}
	}

	pending, err := o.store.ListPendingApprovals(ctx)
	if err == nil {
		metrics.SetPendingApprovals(len(pending))
	}
	return nil
}

// RunSweeper loops SweepApprovals until the context ends.
func (o *Orchestrator) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.SweepApprovals(ctx); err != nil {
				o.logger.Error("approval sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Resume picks up non-terminal cases after a restart. Cases interrupted
// before a decision re-run the pipeline from their last persisted record;
// cases interrupted mid-execution re-execute unless a successful record for
// their decision already exists.
func (o *Orchestrator) Resume(ctx context.Context) error {
	cases, err := o.store.ListCases(ctx)
	if err != nil {
		return utils.NewAppError("orchestrator.resume", "list cases", err)
	}

	resumed := 0
	for _, c := range cases {
		if c.State.Terminal() {
			continue
		}
		resumed++
		o.resumeCase(ctx, c)
	}
	if resumed > 0 {
		o.logger.Info("resumed interrupted cases", slog.Int("count", resumed))
	}
	return nil
}

func (o *Orchestrator) resumeCase(ctx context.Context, c models.Case) {
	alert, err := o.store.GetAlert(ctx, c.AlertID)
	if err != nil {
		o.fail(ctx, &c, "resume: alert record missing")
		return
	}

	switch c.State {
	case models.StateDetected:
		o.spawn(ctx, func(bg context.Context) { o.process(bg, alert, c) })

	case models.StateDiagnosed:
		diagnosis, err := o.store.GetDiagnosis(ctx, c.DiagnosisID)
		if err != nil {
			o.fail(ctx, &c, "resume: diagnosis record missing")
			return
		}
		o.spawn(ctx, func(bg context.Context) { o.decide(bg, alert, c, diagnosis) })

	case models.StateDecided, models.StateAutoExecuting, models.StateExecuting:
		rec, found, err := o.store.ExecutionForDecision(ctx, c.DecisionID)
		if err == nil && found && rec.Status == models.ExitSuccess {
			c.ExecutionID = rec.ID
			o.finish(ctx, &c, models.StateSucceeded, "")
			return
		}
		action, decision, err := o.caseAction(ctx, c)
		if err != nil {
			o.fail(ctx, &c, "resume: action records missing")
			return
		}
		entry := c.State
		if entry == models.StateDecided {
			entry = models.StateAutoExecuting
		}
		o.spawn(ctx, func(bg context.Context) { o.execute(bg, alert, c, action, decision, entry) })

	case models.StatePendingApproval:
		req, err := o.store.GetApproval(ctx, c.ApprovalRequestID)
		if err != nil {
			o.fail(ctx, &c, "resume: approval record missing")
			return
		}
		switch req.State {
		case models.ApprovalRejected:
			_ = o.transition(ctx, &c, models.StateRejected, req.Reason)
		case models.ApprovalApproved:
			action, decision, err := o.caseAction(ctx, c)
			if err != nil {
				o.fail(ctx, &c, "resume: action records missing")
				return
			}
			o.spawn(ctx, func(bg context.Context) { o.execute(bg, alert, c, action, decision, models.StateExecuting) })
		}
		// Still pending: the sweeper owns the deadline.
	}
}

func (o *Orchestrator) spawn(ctx context.Context, fn func(context.Context)) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		bg := context.WithoutCancel(ctx)
		if err := o.sem.Acquire(bg, 1); err != nil {
			return
		}
		defer o.sem.Release(1)
		fn(bg)
	}()
}

func (o *Orchestrator) caseAction(ctx context.Context, c models.Case) (models.RemediationAction, models.Decision, error) {
	decision, err := o.store.GetDecision(ctx, c.DecisionID)
	if err != nil {
		return models.RemediationAction{}, models.Decision{}, err
	}
	diagnosis, err := o.store.GetDiagnosis(ctx, c.DiagnosisID)
	if err != nil {
		return models.RemediationAction{}, models.Decision{}, err
	}
	for _, action := range diagnosis.Actions {
		if action.ID == c.ActionID {
			return action, decision, nil
		}
	}
	return models.RemediationAction{}, models.Decision{}, store.ErrNotFound
}

func (o *Orchestrator) hostLock(host string) *sync.Mutex {
	o.lockMu.Lock()
	defer o.lockMu.Unlock()
	lock, ok := o.hostLocks[host]
	if !ok {
		lock = &sync.Mutex{}
		o.hostLocks[host] = lock
	}
	return lock
}

// transition persists a state change and its audit entry. The write happens
// before anything else observes the new state.
func (o *Orchestrator) transition(ctx context.Context, c *models.Case, state models.AlertState, reason string) error {
	from := c.State
	c.State = state
	c.Reason = reason
	c.UpdatedAt = time.Now().UTC()

	if err := o.store.PutCase(ctx, *c); err != nil {
		o.logger.Error("case transition write failed",
			slog.String("alert_id", c.AlertID),
			slog.String("state", string(state)),
			slog.String("error", err.Error()),
		)
		return err
	}

	summary := fmt.Sprintf("%s -> %s", from, state)
	if reason != "" {
		summary += ": " + reason
	}
	_ = o.recorder.Record(ctx, c.AlertID, models.AuditStateChange, "", summary, "")

	if state.Terminal() {
		metrics.ObserveResolution(c.UpdatedAt.Sub(c.CreatedAt))
		if o.TerminalHook != nil {
			o.TerminalHook(ctx, *c)
		}
	}
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, c *models.Case, state models.AlertState, reason string) {
	_ = o.transition(ctx, c, state, reason)
}

func (o *Orchestrator) fail(ctx context.Context, c *models.Case, reason string) {
	_ = o.transition(ctx, c, models.StateFailed, reason)
}

func withTouch(c *models.Case) models.Case {
	c.UpdatedAt = time.Now().UTC()
	return *c
}
