package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/remedystack/remedy-engine/internal/approval"
	"github.com/remedystack/remedy-engine/internal/audit"
	"github.com/remedystack/remedy-engine/internal/cache"
	"github.com/remedystack/remedy-engine/internal/diagnose"
	"github.com/remedystack/remedy-engine/internal/executor"
	"github.com/remedystack/remedy-engine/internal/models"
	"github.com/remedystack/remedy-engine/internal/orchestrator"
	"github.com/remedystack/remedy-engine/internal/policy"
	"github.com/remedystack/remedy-engine/internal/store"
)

type okRunner struct{}

func (okRunner) Run(context.Context, models.Target, string) (executor.RunResult, error) {
	return executor.RunResult{Output: "ok"}, nil
}

func newTestController(t *testing.T, mode models.OperatingMode, deduper *cache.Deduper) (*Controller, *orchestrator.Orchestrator) {
	t.Helper()

	st := store.NewMemoryStore()
	ks := executor.NewKillSwitch(nil)
	pol := policy.NewEngine(nil, ks, mode, 80)
	rec := audit.NewRecorder(nil, st)

	orch := orchestrator.New(nil, st,
		diagnose.NewRouter(nil), pol,
		approval.NewGateway(nil, st),
		executor.NewExecutor(nil, okRunner{}, ks, time.Second),
		rec, nil,
		orchestrator.Config{Approvers: []string{"oncall"}, RequiredCount: 1})

	return NewController(nil, st, orch, pol, ks, rec, deduper), orch
}

func alertPayload(message string) models.Alert {
	return models.Alert{
		Source:   models.SourceMetrics,
		Severity: models.SeverityHigh,
		Message:  message,
		Host:     "web-01",
	}
}

func TestSubmitAlertFillsDefaults(t *testing.T) {
	c, orch := newTestController(t, models.ModeFullAutomatic, nil)

	res, err := c.SubmitAlert(context.Background(), alertPayload("apache service down"))
	if err != nil {
		t.Fatalf("SubmitAlert: %v", err)
	}
	if res.AlertID == "" || res.Duplicate {
		t.Fatalf("result = %+v", res)
	}
	orch.Wait()

	status, err := c.GetStatus(context.Background(), res.AlertID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.State != models.StateSucceeded {
		t.Fatalf("state = %s (%s)", status.State, status.Reason)
	}
	if status.Alert == nil || status.Diagnosis == nil || len(status.Decisions) == 0 || len(status.Executions) == 0 {
		t.Fatalf("status read model incomplete: %+v", status)
	}
}

func TestSubmitAlertRequiresHost(t *testing.T) {
	c, _ := newTestController(t, models.ModeFullAutomatic, nil)

	_, err := c.SubmitAlert(context.Background(), models.Alert{Message: "something"})
	if !errors.Is(err, ErrInvalidAlert) {
		t.Fatalf("err = %v, want ErrInvalidAlert", err)
	}
}

func TestGetStatusUnknownAlert(t *testing.T) {
	c, _ := newTestController(t, models.ModeFullAutomatic, nil)

	_, err := c.GetStatus(context.Background(), "missing")
	if !errors.Is(err, ErrUnknownAlert) {
		t.Fatalf("err = %v, want ErrUnknownAlert", err)
	}
}

type mapProvider struct{ data map[string][]byte }

func (m *mapProvider) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.data[key]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return v, nil
}
func (m *mapProvider) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.data[key] = value
	return nil
}
func (m *mapProvider) SetNX(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value
	return true, nil
}
func (m *mapProvider) Del(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}
func (m *mapProvider) Close() error { return nil }

func TestSubmitAlertDedupe(t *testing.T) {
	deduper := cache.NewDeduper(nil, &mapProvider{data: make(map[string][]byte)}, time.Minute)
	c, orch := newTestController(t, models.ModeManual, deduper)
	ctx := context.Background()

	first, err := c.SubmitAlert(ctx, alertPayload("apache service down"))
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	orch.Wait()

	second, err := c.SubmitAlert(ctx, alertPayload("apache service down"))
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if !second.Duplicate {
		t.Fatal("identical alert not reported as duplicate")
	}
	if second.AlertID != first.AlertID {
		t.Fatalf("duplicate points at %s, want %s", second.AlertID, first.AlertID)
	}

	// A different payload is not a duplicate.
	third, err := c.SubmitAlert(ctx, alertPayload("nginx service down"))
	if err != nil {
		t.Fatalf("third submit: %v", err)
	}
	if third.Duplicate {
		t.Fatal("distinct alert reported as duplicate")
	}
	orch.Wait()
}

func TestKillSwitchControls(t *testing.T) {
	c, _ := newTestController(t, models.ModeFullAutomatic, nil)
	ctx := context.Background()

	if c.KillSwitchEngaged() {
		t.Fatal("kill switch engaged at startup")
	}
	if err := c.EngageKillSwitch(ctx, "alice"); err != nil {
		t.Fatalf("EngageKillSwitch: %v", err)
	}
	if !c.KillSwitchEngaged() {
		t.Fatal("kill switch not engaged")
	}
	if err := c.DisengageKillSwitch(ctx, "alice"); err != nil {
		t.Fatalf("DisengageKillSwitch: %v", err)
	}
	if c.KillSwitchEngaged() {
		t.Fatal("kill switch still engaged")
	}

	page, err := c.ListAuditTrail(ctx, models.AuditFilter{Kind: models.AuditKillSwitch})
	if err != nil {
		t.Fatalf("ListAuditTrail: %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("kill switch audit entries = %d, want 2", page.Total)
	}
}

func TestOperatingModeControls(t *testing.T) {
	c, _ := newTestController(t, models.ModeSemiAutomatic, nil)

	if c.OperatingMode() != models.ModeSemiAutomatic {
		t.Fatalf("mode = %s", c.OperatingMode())
	}
	if err := c.SetOperatingMode(models.ModeManual); err != nil {
		t.Fatalf("SetOperatingMode: %v", err)
	}
	if c.OperatingMode() != models.ModeManual {
		t.Fatalf("mode = %s after switch", c.OperatingMode())
	}
	if err := c.SetOperatingMode(models.OperatingMode("turbo")); err == nil {
		t.Fatal("unknown mode accepted")
	}
}

func TestApprovalFlowThroughFacade(t *testing.T) {
	c, orch := newTestController(t, models.ModeManual, nil)
	ctx := context.Background()

	res, err := c.SubmitAlert(ctx, alertPayload("apache service down"))
	if err != nil {
		t.Fatalf("SubmitAlert: %v", err)
	}
	orch.Wait()

	pending, err := c.PendingApprovals(ctx)
	if err != nil {
		t.Fatalf("PendingApprovals: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}

	req, err := c.RespondApproval(ctx, pending[0].ID, "oncall", models.VoteApprove)
	if err != nil {
		t.Fatalf("RespondApproval: %v", err)
	}
	if req.State != models.ApprovalApproved {
		t.Fatalf("request state = %s", req.State)
	}
	orch.Wait()

	status, _ := c.GetStatus(ctx, res.AlertID)
	if status.State != models.StateSucceeded {
		t.Fatalf("state = %s (%s)", status.State, status.Reason)
	}
}

func TestStatisticsThroughFacade(t *testing.T) {
	c, orch := newTestController(t, models.ModeFullAutomatic, nil)
	ctx := context.Background()

	c.SubmitAlert(ctx, alertPayload("apache service down"))
	orch.Wait()

	stats, err := c.GetStatistics(ctx)
	if err != nil {
		t.Fatalf("GetStatistics: %v", err)
	}
	if stats.TotalAlerts != 1 || stats.Succeeded != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if c.LatencyPercentile(50) < 0 {
		t.Fatal("latency percentile negative")
	}
}
