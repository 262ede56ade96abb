// Package diagnose classifies alerts into a closed set of use cases and
// produces diagnoses with candidate remediation actions. Classification is a
// pure function of the alert content plus static rule tables.
package diagnose

import (
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/remedystack/remedy-engine/internal/models"
)

// classifier builds the category-specific portion of a diagnosis.
type classifier func(alert models.Alert) finding

// finding is a classifier result before record ids are assigned.
type finding struct {
	rootCause  string
	confidence int
	components []string
	actions    []actionSpec
}

type actionSpec struct {
	description      string
	command          string
	risk             models.RiskTier
	impact           string
	rollback         string
	requiresApproval bool
}

// rule matches an alert to a category. Rules are evaluated in declaration
// order; the first match wins. Security keywords outrank service keywords,
// which outrank resource-metric keywords.
type rule struct {
	category models.Category
	match    func(message string, alert models.Alert) bool
}

// Router routes alerts through the rule table to a use-case classifier.
type Router struct {
	logger      *slog.Logger
	rules       []rule
	classifiers map[models.Category]classifier
}

// NewRouter constructs a Router with the fixed rule priority order.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Router{logger: logger}

	r.rules = []rule{
		{models.CategorySecurityIncident, matchSecurity},
		{models.CategoryCertificateExpiry, matchKeywords("certificate", "ssl", "tls expir", "cert expir")},
		{models.CategoryBackupFailure, matchKeywords("backup")},
		{models.CategoryDatabaseContention, matchKeywords("deadlock", "lock wait", "innodb", "database")},
		{models.CategoryServiceDown, matchServiceDown},
		{models.CategoryHighCPU, matchResource("cpu", "cpu_usage", "load average")},
		{models.CategoryHighMemory, matchResource("memory", "memory_usage", "oom")},
		{models.CategoryDiskFull, matchResource("disk", "disk_usage", "filesystem")},
	}

	r.classifiers = map[models.Category]classifier{
		models.CategorySecurityIncident:   classifySecurity,
		models.CategoryCertificateExpiry:  classifyCertificate,
		models.CategoryBackupFailure:      classifyBackup,
		models.CategoryDatabaseContention: classifyDatabase,
		models.CategoryServiceDown:        classifyServiceDown,
		models.CategoryHighCPU:            classifyHighCPU,
		models.CategoryHighMemory:         classifyHighMemory,
		models.CategoryDiskFull:           classifyDiskFull,
		models.CategoryGeneric:            classifyGeneric,
	}

	return r
}

// Diagnose interprets one alert. Total for well-formed input; a malformed
// alert (empty message) degrades to the generic low-confidence diagnosis.
func (r *Router) Diagnose(alert models.Alert) models.Diagnosis {
	category := r.classify(alert)
	f := r.classifiers[category](alert)

	now := time.Now().UTC()
	diagnosis := models.Diagnosis{
		ID:                 uuid.NewString(),
		AlertID:            alert.ID,
		Category:           category,
		RootCause:          f.rootCause,
		Confidence:         f.confidence,
		AffectedComponents: f.components,
		CreatedAt:          now,
	}

	for _, spec := range f.actions {
		diagnosis.Actions = append(diagnosis.Actions, models.RemediationAction{
			ID:               uuid.NewString(),
			DiagnosisID:      diagnosis.ID,
			AlertID:          alert.ID,
			Description:      spec.description,
			Command:          spec.command,
			Risk:             spec.risk,
			Impact:           spec.impact,
			RollbackCommand:  spec.rollback,
			RequiresApproval: spec.requiresApproval,
			CreatedAt:        now,
		})
	}

	r.logger.Debug("alert diagnosed",
		slog.String("alert_id", alert.ID),
		slog.String("category", string(category)),
		slog.Int("confidence", diagnosis.Confidence),
		slog.Int("actions", len(diagnosis.Actions)),
	)

	return diagnosis
}

func (r *Router) classify(alert models.Alert) models.Category {
	message := strings.ToLower(alert.Message)
	if message == "" && len(alert.Metrics) == 0 {
		return models.CategoryGeneric
	}
	for _, rule := range r.rules {
		if rule.match(message, alert) {
			return rule.category
		}
	}
	return models.CategoryGeneric
}

func matchKeywords(keywords ...string) func(string, models.Alert) bool {
	return func(message string, _ models.Alert) bool {
		for _, kw := range keywords {
			if strings.Contains(message, kw) {
				return true
			}
		}
		return false
	}
}

func matchSecurity(message string, alert models.Alert) bool {
	if alert.Source == models.SourceSecurity {
		return true
	}
	for _, kw := range []string{"brute force", "attack", "intrusion", "rootkit", "malware", "unauthorized", "failed login"} {
		if strings.Contains(message, kw) {
			return true
		}
	}
	return false
}

func matchServiceDown(message string, alert models.Alert) bool {
	if _, ok := alert.Metrics["service"]; ok {
		return true
	}
	for _, kw := range []string{"service down", "service", "daemon", "unresponsive", "not responding", "crashed", "process died"} {
		if strings.Contains(message, kw) {
			return true
		}
	}
	return false
}

func matchResource(keyword, metricName, extra string) func(string, models.Alert) bool {
	return func(message string, alert models.Alert) bool {
		if strings.Contains(message, keyword) || strings.Contains(message, extra) {
			return true
		}
		_, ok := alert.Metrics[metricName]
		return ok
	}
}
