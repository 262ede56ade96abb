package diagnose

import (
	"strings"
	"testing"
	"time"

	"github.com/remedystack/remedy-engine/internal/models"
)

func testAlert(source models.AlertSource, message string, metrics map[string]string) models.Alert {
	return models.Alert{
		ID:        "alert-1",
		Source:    source,
		Severity:  models.SeverityHigh,
		Message:   message,
		Host:      "web-01",
		Metrics:   metrics,
		CreatedAt: time.Now().UTC(),
	}
}

func TestDiagnoseServiceDown(t *testing.T) {
	r := NewRouter(nil)

	d := r.Diagnose(testAlert(models.SourceMetrics, "apache service down on web-01", nil))

	if d.Category != models.CategoryServiceDown {
		t.Fatalf("category = %s, want %s", d.Category, models.CategoryServiceDown)
	}
	if d.Confidence < 90 {
		t.Errorf("confidence = %d, want >= 90", d.Confidence)
	}
	if !strings.Contains(d.RootCause, "apache2") {
		t.Errorf("root cause %q does not name the apache2 unit", d.RootCause)
	}
	if len(d.Actions) == 0 {
		t.Fatal("no actions produced")
	}

	first := d.Actions[0]
	if first.Command != "systemctl restart apache2" {
		t.Errorf("first action command = %q, want restart", first.Command)
	}
	if first.Risk != models.RiskLow {
		t.Errorf("restart risk = %s, want low", first.Risk)
	}
	if first.RequiresApproval {
		t.Error("restart should not require approval")
	}
}

func TestDiagnoseServiceDownFromMetric(t *testing.T) {
	r := NewRouter(nil)

	d := r.Diagnose(testAlert(models.SourceMetrics, "health check failing", map[string]string{"service": "nginx"}))

	if d.Category != models.CategoryServiceDown {
		t.Fatalf("category = %s, want %s", d.Category, models.CategoryServiceDown)
	}
	if d.Actions[0].Command != "systemctl restart nginx" {
		t.Errorf("first action command = %q", d.Actions[0].Command)
	}
}

func TestDiagnoseBruteForce(t *testing.T) {
	r := NewRouter(nil)

	d := r.Diagnose(testAlert(models.SourceSecurity, "brute force attack detected", map[string]string{
		"source_ip":     "10.0.0.5",
		"failure_count": "142",
	}))

	if d.Category != models.CategorySecurityIncident {
		t.Fatalf("category = %s, want %s", d.Category, models.CategorySecurityIncident)
	}
	if !strings.Contains(d.RootCause, "10.0.0.5") {
		t.Errorf("root cause %q does not name the source address", d.RootCause)
	}
	if d.Confidence != 95 {
		t.Errorf("confidence = %d, want 95", d.Confidence)
	}

	block := d.Actions[0]
	if !strings.Contains(block.Command, "iptables") || !strings.Contains(block.Command, "10.0.0.5") {
		t.Errorf("block command = %q", block.Command)
	}
	if block.Risk != models.RiskMedium {
		t.Errorf("block risk = %s, want medium", block.Risk)
	}
	if block.RollbackCommand == "" {
		t.Error("block action has no rollback command")
	}
}

func TestSecurityOutranksService(t *testing.T) {
	r := NewRouter(nil)

	// Message mentions a service, but the security keyword wins.
	d := r.Diagnose(testAlert(models.SourceLog, "unauthorized access to ssh service", nil))

	if d.Category != models.CategorySecurityIncident {
		t.Fatalf("category = %s, want %s", d.Category, models.CategorySecurityIncident)
	}
}

func TestDiagnoseGenericFallback(t *testing.T) {
	r := NewRouter(nil)

	for _, message := range []string{"", "something odd happened"} {
		d := r.Diagnose(testAlert(models.SourceManual, message, nil))

		if d.Category != models.CategoryGeneric {
			t.Fatalf("message %q: category = %s, want generic", message, d.Category)
		}
		if d.Confidence > 50 {
			t.Errorf("message %q: confidence = %d, want <= 50", message, d.Confidence)
		}
		for _, a := range d.Actions {
			if a.Risk != models.RiskLow {
				t.Errorf("generic action %q has risk %s", a.Command, a.Risk)
			}
			if a.RollbackCommand != "" {
				t.Errorf("generic action %q has a rollback, expected read-only", a.Command)
			}
		}
	}
}

func TestDiagnoseResourceCategories(t *testing.T) {
	r := NewRouter(nil)

	tests := []struct {
		name     string
		message  string
		metrics  map[string]string
		category models.Category
	}{
		{"cpu keyword", "cpu usage critical on web-01", nil, models.CategoryHighCPU},
		{"cpu metric", "threshold breached", map[string]string{"cpu_usage": "97.5"}, models.CategoryHighCPU},
		{"memory keyword", "memory pressure rising", nil, models.CategoryHighMemory},
		{"disk metric", "threshold breached", map[string]string{"disk_usage": "96"}, models.CategoryDiskFull},
		{"certificate", "ssl certificate expires in 3 days", nil, models.CategoryCertificateExpiry},
		{"backup", "nightly backup failed", nil, models.CategoryBackupFailure},
		{"deadlock", "innodb deadlock detected", nil, models.CategoryDatabaseContention},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := r.Diagnose(testAlert(models.SourceMetrics, tt.message, tt.metrics))
			if d.Category != tt.category {
				t.Fatalf("category = %s, want %s", d.Category, tt.category)
			}
			if len(d.Actions) == 0 {
				t.Fatal("no actions produced")
			}
		})
	}
}

func TestDiagnoseDeterministic(t *testing.T) {
	r := NewRouter(nil)
	alert := testAlert(models.SourceMetrics, "apache service down", map[string]string{"service": "apache2"})

	a := r.Diagnose(alert)
	b := r.Diagnose(alert)

	if a.Category != b.Category || a.RootCause != b.RootCause || a.Confidence != b.Confidence {
		t.Fatal("diagnosis varies between runs for identical input")
	}
	if len(a.Actions) != len(b.Actions) {
		t.Fatalf("action count varies: %d vs %d", len(a.Actions), len(b.Actions))
	}
	for i := range a.Actions {
		if a.Actions[i].Command != b.Actions[i].Command {
			t.Errorf("action %d command varies: %q vs %q", i, a.Actions[i].Command, b.Actions[i].Command)
		}
	}
}

func TestCriticalCPUAddsKillAction(t *testing.T) {
	r := NewRouter(nil)

	d := r.Diagnose(testAlert(models.SourceMetrics, "cpu usage critical", map[string]string{"cpu_usage": "98"}))

	found := false
	for _, a := range d.Actions {
		if strings.Contains(a.Command, "pkill") {
			found = true
		}
	}
	if !found {
		t.Error("critical cpu diagnosis missing process kill action")
	}
}
