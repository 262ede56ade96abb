package audit

import (
	"context"
	"testing"
	"time"

	"github.com/remedystack/remedy-engine/internal/models"
	"github.com/remedystack/remedy-engine/internal/store"
)

func seedCase(t *testing.T, st *store.MemoryStore, alertID string, state models.AlertState, category models.Category, verdict models.Verdict, took time.Duration) {
	t.Helper()
	ctx := context.Background()

	diagID := alertID + "-diag"
	decID := alertID + "-dec"

	if err := st.PutDiagnosis(ctx, models.Diagnosis{ID: diagID, AlertID: alertID, Category: category}); err != nil {
		t.Fatal(err)
	}
	if err := st.PutDecision(ctx, models.Decision{ID: decID, AlertID: alertID, Verdict: verdict}); err != nil {
		t.Fatal(err)
	}

	created := time.Now().Add(-took).UTC()
	if err := st.PutCase(ctx, models.Case{
		AlertID:     alertID,
		State:       state,
		DiagnosisID: diagID,
		DecisionID:  decID,
		CreatedAt:   created,
		UpdatedAt:   created.Add(took),
	}); err != nil {
		t.Fatal(err)
	}
}

func TestStatistics(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	seedCase(t, st, "a1", models.StateSucceeded, models.CategoryServiceDown, models.VerdictAutoApprove, 10*time.Second)
	seedCase(t, st, "a2", models.StateSucceeded, models.CategoryServiceDown, models.VerdictAutoApprove, 20*time.Second)
	seedCase(t, st, "a3", models.StateFailed, models.CategorySecurityIncident, models.VerdictAutoApprove, 30*time.Second)
	seedCase(t, st, "a4", models.StateRolledBack, models.CategoryDiskFull, models.VerdictAutoApprove, 40*time.Second)
	seedCase(t, st, "a5", models.StatePendingApproval, models.CategoryDatabaseContention, models.VerdictPendingApproval, 0)

	st.PutApproval(ctx, models.ApprovalRequest{ID: "r1", AlertID: "a5", State: models.ApprovalPending})

	stats, err := Statistics(ctx, st)
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}

	if stats.TotalAlerts != 5 {
		t.Errorf("total = %d, want 5", stats.TotalAlerts)
	}
	if stats.Succeeded != 2 || stats.Failed != 1 || stats.RolledBack != 1 {
		t.Errorf("outcomes = %d/%d/%d", stats.Succeeded, stats.Failed, stats.RolledBack)
	}
	if stats.ByCategory["service_down"] != 2 {
		t.Errorf("service_down count = %d", stats.ByCategory["service_down"])
	}
	if stats.AutoApproved != 4 {
		t.Errorf("auto approved = %d, want 4", stats.AutoApproved)
	}
	if stats.PendingApprovals != 1 {
		t.Errorf("pending approvals = %d, want 1", stats.PendingApprovals)
	}

	// 4 resolved cases, 2 succeeded.
	if stats.SuccessRate != 0.5 {
		t.Errorf("success rate = %v, want 0.5", stats.SuccessRate)
	}
	if stats.AvgResolutionSeconds != 25 {
		t.Errorf("avg resolution = %v, want 25", stats.AvgResolutionSeconds)
	}
}

func TestStatisticsEmptyStore(t *testing.T) {
	stats, err := Statistics(context.Background(), store.NewMemoryStore())
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if stats.TotalAlerts != 0 || stats.SuccessRate != 0 {
		t.Errorf("stats = %+v, want zero values", stats)
	}
}

func TestRecorderAppendsTrail(t *testing.T) {
	st := store.NewMemoryStore()
	r := NewRecorder(nil, st)
	ctx := context.Background()

	if err := r.Record(ctx, "a1", models.AuditAlertReceived, "", "alert received", ""); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := r.Record(ctx, "a1", models.AuditDiagnosis, models.CategoryServiceDown, "diagnosed service_down", "diag-1"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	page, err := r.Trail(ctx, models.AuditFilter{AlertID: "a1"})
	if err != nil {
		t.Fatalf("Trail: %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("total = %d, want 2", page.Total)
	}

	page, err = r.Trail(ctx, models.AuditFilter{AlertID: "a1", Kind: models.AuditDiagnosis})
	if err != nil {
		t.Fatalf("Trail: %v", err)
	}
	if page.Total != 1 || page.Events[0].RefID != "diag-1" {
		t.Fatalf("filtered page = %+v", page)
	}
}
