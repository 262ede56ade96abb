package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/remedystack/remedy-engine/internal/approval"
	"github.com/remedystack/remedy-engine/internal/audit"
	"github.com/remedystack/remedy-engine/internal/diagnose"
	"github.com/remedystack/remedy-engine/internal/executor"
	"github.com/remedystack/remedy-engine/internal/models"
	"github.com/remedystack/remedy-engine/internal/policy"
	"github.com/remedystack/remedy-engine/internal/store"
)

// scriptedRunner pops per-command outcomes in order; unscripted commands
// succeed with empty output.
type scriptedRunner struct {
	mu      sync.Mutex
	scripts map[string][]scriptStep
	calls   []string
}

type scriptStep struct {
	result executor.RunResult
	err    error
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{scripts: make(map[string][]scriptStep)}
}

func (r *scriptedRunner) script(command string, result executor.RunResult, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts[command] = append(r.scripts[command], scriptStep{result, err})
}

func (r *scriptedRunner) Run(_ context.Context, _ models.Target, command string) (executor.RunResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, command)
	steps := r.scripts[command]
	if len(steps) == 0 {
		return executor.RunResult{}, nil
	}
	step := steps[0]
	r.scripts[command] = steps[1:]
	return step.result, step.err
}

func (r *scriptedRunner) commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fixture struct {
	orch   *Orchestrator
	store  *store.MemoryStore
	runner *scriptedRunner
	ks     *executor.KillSwitch
}

func newFixture(t *testing.T, mode models.OperatingMode, cfg Config) *fixture {
	t.Helper()

	st := store.NewMemoryStore()
	runner := newScriptedRunner()
	ks := executor.NewKillSwitch(nil)
	rec := audit.NewRecorder(nil, st)

	if cfg.Approvers == nil {
		cfg.Approvers = []string{"oncall"}
	}
	if cfg.RequiredCount == 0 {
		cfg.RequiredCount = 1
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Millisecond
	}

	orch := New(nil, st,
		diagnose.NewRouter(nil),
		policy.NewEngine(nil, ks, mode, 80),
		approval.NewGateway(nil, st),
		executor.NewExecutor(nil, runner, ks, time.Second),
		rec, nil, cfg)

	return &fixture{orch: orch, store: st, runner: runner, ks: ks}
}

func serviceDownAlert(id string) models.Alert {
	return models.Alert{
		ID:        id,
		Source:    models.SourceMetrics,
		Severity:  models.SeverityHigh,
		Message:   "apache service down",
		Host:      "web-01",
		CreatedAt: time.Now().UTC(),
	}
}

func caseState(t *testing.T, st *store.MemoryStore, alertID string) models.Case {
	t.Helper()
	c, err := st.GetCase(context.Background(), alertID)
	if err != nil {
		t.Fatalf("GetCase: %v", err)
	}
	return c
}

func TestAutoApprovedAlertSucceeds(t *testing.T) {
	f := newFixture(t, models.ModeFullAutomatic, Config{})
	ctx := context.Background()

	if err := f.orch.Submit(ctx, serviceDownAlert("a1")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	f.orch.Wait()

	c := caseState(t, f.store, "a1")
	if c.State != models.StateSucceeded {
		t.Fatalf("state = %s (%s), want succeeded", c.State, c.Reason)
	}

	found := false
	for _, cmd := range f.runner.commands() {
		if cmd == "systemctl restart apache2" {
			found = true
		}
	}
	if !found {
		t.Fatalf("restart command never ran; commands = %v", f.runner.commands())
	}

	execs, _ := f.store.ListExecutionsByAlert(ctx, "a1")
	if len(execs) != 1 || execs[0].Status != models.ExitSuccess {
		t.Fatalf("executions = %+v", execs)
	}

	page, _ := f.store.ListAudit(ctx, models.AuditFilter{AlertID: "a1"})
	if page.Total == 0 {
		t.Fatal("no audit trail recorded")
	}
}

func TestKillSwitchBlocksPipeline(t *testing.T) {
	f := newFixture(t, models.ModeFullAutomatic, Config{})
	f.ks.Engage("operator")
	ctx := context.Background()

	if err := f.orch.Submit(ctx, serviceDownAlert("a1")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	f.orch.Wait()

	c := caseState(t, f.store, "a1")
	if c.State != models.StateFailed {
		t.Fatalf("state = %s, want failed", c.State)
	}
	if c.Reason != ReasonKillSwitch {
		t.Fatalf("reason = %q, want %q", c.Reason, ReasonKillSwitch)
	}

	execs, _ := f.store.ListExecutionsByAlert(ctx, "a1")
	for _, rec := range execs {
		if rec.Status == models.ExitSuccess {
			t.Fatalf("succeeded execution exists under kill switch: %+v", rec)
		}
	}
	if len(f.runner.commands()) != 0 {
		t.Fatalf("runner invoked under kill switch: %v", f.runner.commands())
	}
}

func TestManualModePendsAndApprovalExecutes(t *testing.T) {
	f := newFixture(t, models.ModeManual, Config{})
	ctx := context.Background()

	if err := f.orch.Submit(ctx, serviceDownAlert("a1")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	f.orch.Wait()

	c := caseState(t, f.store, "a1")
	if c.State != models.StatePendingApproval {
		t.Fatalf("state = %s, want pending_approval", c.State)
	}
	if c.ApprovalRequestID == "" {
		t.Fatal("case has no approval request id")
	}
	if len(f.runner.commands()) != 0 {
		t.Fatal("command ran before approval")
	}

	req, err := f.orch.HandleApprovalResponse(ctx, c.ApprovalRequestID, "oncall", models.VoteApprove)
	if err != nil {
		t.Fatalf("HandleApprovalResponse: %v", err)
	}
	if req.State != models.ApprovalApproved {
		t.Fatalf("request state = %s", req.State)
	}
	f.orch.Wait()

	c = caseState(t, f.store, "a1")
	if c.State != models.StateSucceeded {
		t.Fatalf("state = %s (%s), want succeeded after approval", c.State, c.Reason)
	}
}

func TestRejectVoteTerminatesCase(t *testing.T) {
	f := newFixture(t, models.ModeManual, Config{})
	ctx := context.Background()

	f.orch.Submit(ctx, serviceDownAlert("a1"))
	f.orch.Wait()
	c := caseState(t, f.store, "a1")

	if _, err := f.orch.HandleApprovalResponse(ctx, c.ApprovalRequestID, "oncall", models.VoteReject); err != nil {
		t.Fatalf("HandleApprovalResponse: %v", err)
	}
	f.orch.Wait()

	c = caseState(t, f.store, "a1")
	if c.State != models.StateRejected {
		t.Fatalf("state = %s, want rejected", c.State)
	}
	if len(f.runner.commands()) != 0 {
		t.Fatal("command ran after rejection")
	}
}

func TestLateVoteStillSettlesCase(t *testing.T) {
	f := newFixture(t, models.ModeManual, Config{ApprovalDeadline: time.Millisecond})
	ctx := context.Background()

	f.orch.Submit(ctx, serviceDownAlert("a1"))
	f.orch.Wait()
	c := caseState(t, f.store, "a1")
	time.Sleep(10 * time.Millisecond)

	req, err := f.orch.HandleApprovalResponse(ctx, c.ApprovalRequestID, "oncall", models.VoteApprove)
	if !errors.Is(err, approval.ErrResolved) {
		t.Fatalf("err = %v, want ErrResolved", err)
	}
	if req.State != models.ApprovalRejected {
		t.Fatalf("request state = %s, want rejected", req.State)
	}
	f.orch.Wait()

	c = caseState(t, f.store, "a1")
	if c.State != models.StateRejected {
		t.Fatalf("state = %s, want rejected after late vote", c.State)
	}
	if len(f.runner.commands()) != 0 {
		t.Fatal("command ran after deadline")
	}
}

func TestCancelApprovalRejectsCase(t *testing.T) {
	f := newFixture(t, models.ModeManual, Config{})
	ctx := context.Background()

	f.orch.Submit(ctx, serviceDownAlert("a1"))
	f.orch.Wait()
	c := caseState(t, f.store, "a1")

	req, err := f.orch.CancelApproval(ctx, c.ApprovalRequestID, "alice")
	if err != nil {
		t.Fatalf("CancelApproval: %v", err)
	}
	if req.State != models.ApprovalRejected {
		t.Fatalf("request state = %s, want rejected", req.State)
	}
	f.orch.Wait()

	c = caseState(t, f.store, "a1")
	if c.State != models.StateRejected {
		t.Fatalf("state = %s, want rejected after cancel", c.State)
	}
	if c.Reason != "cancelled by alice" {
		t.Fatalf("reason = %q", c.Reason)
	}
	if len(f.runner.commands()) != 0 {
		t.Fatal("command ran after cancellation")
	}
}

func TestTransientFailureRetries(t *testing.T) {
	f := newFixture(t, models.ModeFullAutomatic, Config{MaxRetries: 2})
	ctx := context.Background()

	f.runner.script("systemctl restart apache2", executor.RunResult{}, executor.ErrUnreachable)
	f.runner.script("systemctl restart apache2", executor.RunResult{}, executor.ErrUnreachable)
	f.runner.script("systemctl restart apache2", executor.RunResult{Output: "ok"}, nil)

	f.orch.Submit(ctx, serviceDownAlert("a1"))
	f.orch.Wait()

	c := caseState(t, f.store, "a1")
	if c.State != models.StateSucceeded {
		t.Fatalf("state = %s (%s), want succeeded after retries", c.State, c.Reason)
	}
	if c.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", c.Attempts)
	}

	execs, _ := f.store.ListExecutionsByAlert(ctx, "a1")
	if len(execs) != 3 {
		t.Fatalf("execution records = %d, want 3", len(execs))
	}
}

func TestRetriesExhaustedFails(t *testing.T) {
	f := newFixture(t, models.ModeFullAutomatic, Config{MaxRetries: 1})
	ctx := context.Background()

	f.runner.script("systemctl restart apache2", executor.RunResult{}, executor.ErrUnreachable)
	f.runner.script("systemctl restart apache2", executor.RunResult{}, executor.ErrUnreachable)

	f.orch.Submit(ctx, serviceDownAlert("a1"))
	f.orch.Wait()

	c := caseState(t, f.store, "a1")
	if c.State != models.StateFailed {
		t.Fatalf("state = %s, want failed", c.State)
	}
}

func TestFailedExecutionRollsBack(t *testing.T) {
	f := newFixture(t, models.ModeFullAutomatic, Config{})
	ctx := context.Background()

	// The restart fails permanently; its rollback (systemctl stop) succeeds.
	f.runner.script("systemctl restart apache2", executor.RunResult{ExitCode: 1, Output: "unit failed"}, nil)

	alert := serviceDownAlert("a1")
	f.orch.Submit(ctx, alert)
	f.orch.Wait()

	c := caseState(t, f.store, "a1")
	// The restart action carries no rollback command, so this lands on Failed.
	if c.State != models.StateFailed {
		t.Fatalf("state = %s, want failed", c.State)
	}

	execs, _ := f.store.ListExecutionsByAlert(ctx, "a1")
	if len(execs) != 1 || execs[0].Status != models.ExitFailure {
		t.Fatalf("executions = %+v", execs)
	}
}

func TestSecurityAlertRollbackPath(t *testing.T) {
	f := newFixture(t, models.ModeFullAutomatic, Config{})
	ctx := context.Background()

	block := "iptables -A INPUT -s 10.0.0.5 -j DROP"
	f.runner.script(block, executor.RunResult{ExitCode: 4, Output: "bad rule"}, nil)

	alert := models.Alert{
		ID:       "a1",
		Source:   models.SourceSecurity,
		Severity: models.SeverityCritical,
		Message:  "brute force attack detected from 10.0.0.5",
		Host:     "web-01",
		Metrics:  map[string]string{"source_ip": "10.0.0.5"},
	}
	f.orch.Submit(ctx, alert)
	f.orch.Wait()

	c := caseState(t, f.store, "a1")
	if c.State != models.StateRolledBack {
		t.Fatalf("state = %s (%s), want rolled_back", c.State, c.Reason)
	}

	execs, _ := f.store.ListExecutionsByAlert(ctx, "a1")
	if len(execs) != 1 || execs[0].Rollback == nil {
		t.Fatalf("executions = %+v", execs)
	}
	if execs[0].Rollback.Status != models.ExitSuccess {
		t.Fatalf("rollback status = %s", execs[0].Rollback.Status)
	}
	if !strings.Contains(execs[0].Rollback.Command, "iptables -D") {
		t.Fatalf("rollback command = %q", execs[0].Rollback.Command)
	}
}

func TestSweepExpiresOverdueApproval(t *testing.T) {
	f := newFixture(t, models.ModeManual, Config{ApprovalDeadline: time.Millisecond})
	ctx := context.Background()

	f.orch.Submit(ctx, serviceDownAlert("a1"))
	f.orch.Wait()
	time.Sleep(10 * time.Millisecond)

	if err := f.orch.SweepApprovals(ctx); err != nil {
		t.Fatalf("SweepApprovals: %v", err)
	}

	c := caseState(t, f.store, "a1")
	if c.State != models.StateRejected {
		t.Fatalf("state = %s, want rejected after expiry", c.State)
	}
	if c.Reason != "approval deadline passed" {
		t.Fatalf("reason = %q", c.Reason)
	}
}

func TestResumeFinishesInterruptedExecution(t *testing.T) {
	f := newFixture(t, models.ModeFullAutomatic, Config{})
	ctx := context.Background()

	// Simulate a crash after the decision was persisted but before execution.
	alert := serviceDownAlert("a1")
	f.store.PutAlert(ctx, alert)

	diagnosis := diagnose.NewRouter(nil).Diagnose(alert)
	f.store.PutDiagnosis(ctx, diagnosis)

	action := diagnosis.Actions[0]
	decision := models.Decision{
		ID:       "dec-1",
		ActionID: action.ID,
		AlertID:  alert.ID,
		Verdict:  models.VerdictAutoApprove,
		Mode:     models.ModeFullAutomatic,
	}
	f.store.PutDecision(ctx, decision)

	now := time.Now().UTC()
	f.store.PutCase(ctx, models.Case{
		AlertID:     alert.ID,
		State:       models.StateDecided,
		DiagnosisID: diagnosis.ID,
		ActionID:    action.ID,
		DecisionID:  decision.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	})

	if err := f.orch.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	f.orch.Wait()

	c := caseState(t, f.store, "a1")
	if c.State != models.StateSucceeded {
		t.Fatalf("state = %s (%s), want succeeded after resume", c.State, c.Reason)
	}
}

func TestResumeSkipsCompletedExecution(t *testing.T) {
	f := newFixture(t, models.ModeFullAutomatic, Config{})
	ctx := context.Background()

	alert := serviceDownAlert("a1")
	f.store.PutAlert(ctx, alert)

	diagnosis := diagnose.NewRouter(nil).Diagnose(alert)
	f.store.PutDiagnosis(ctx, diagnosis)
	action := diagnosis.Actions[0]
	decision := models.Decision{ID: "dec-1", ActionID: action.ID, AlertID: alert.ID, Verdict: models.VerdictAutoApprove}
	f.store.PutDecision(ctx, decision)
	f.store.PutExecution(ctx, models.ExecutionRecord{
		ID: "exec-1", ActionID: action.ID, DecisionID: decision.ID, AlertID: alert.ID,
		Status: models.ExitSuccess,
	})

	now := time.Now().UTC()
	f.store.PutCase(ctx, models.Case{
		AlertID: alert.ID, State: models.StateAutoExecuting,
		DiagnosisID: diagnosis.ID, ActionID: action.ID, DecisionID: decision.ID,
		CreatedAt: now, UpdatedAt: now,
	})

	if err := f.orch.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	f.orch.Wait()

	c := caseState(t, f.store, "a1")
	if c.State != models.StateSucceeded {
		t.Fatalf("state = %s, want succeeded without re-running", c.State)
	}
	if len(f.runner.commands()) != 0 {
		t.Fatalf("command re-ran for completed execution: %v", f.runner.commands())
	}
}

func TestDryRunSkipsCommands(t *testing.T) {
	f := newFixture(t, models.ModeFullAutomatic, Config{DryRun: true})
	ctx := context.Background()

	f.orch.Submit(ctx, serviceDownAlert("a1"))
	f.orch.Wait()

	c := caseState(t, f.store, "a1")
	if c.State != models.StateSucceeded {
		t.Fatalf("state = %s, want succeeded", c.State)
	}
	if len(f.runner.commands()) != 0 {
		t.Fatalf("dry run invoked runner: %v", f.runner.commands())
	}

	execs, _ := f.store.ListExecutionsByAlert(ctx, "a1")
	if len(execs) != 1 || !execs[0].DryRun {
		t.Fatalf("executions = %+v", execs)
	}
}
