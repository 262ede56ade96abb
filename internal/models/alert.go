package models

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"
)

// AlertSource enumerates monitoring backends that produce alerts.
type AlertSource string

const (
	SourceMetrics  AlertSource = "metrics"
	SourceSecurity AlertSource = "security"
	SourceLog      AlertSource = "log"
	SourceManual   AlertSource = "manual"
)

// Severity captures impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert is a normalized observation of an abnormal condition. Immutable once
// created; the controller never edits an alert after intake.
type Alert struct {
	ID        string            `json:"id"`
	Source    AlertSource       `json:"source"`
	Severity  Severity          `json:"severity"`
	Message   string            `json:"message"`
	Host      string            `json:"host"`
	Metrics   map[string]string `json:"metrics,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// MetricFloat parses a metric value as a float. Returns false when the metric
// is absent or not numeric.
func (a Alert) MetricFloat(name string) (float64, bool) {
	raw, ok := a.Metrics[name]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Metric returns the raw metric value, or the fallback when absent.
func (a Alert) Metric(name, fallback string) string {
	if v, ok := a.Metrics[name]; ok && v != "" {
		return v
	}
	return fallback
}

// ContentHash fingerprints the alert payload for dedupe. Identical message,
// host, source, and metric set collapse to the same hash regardless of alert
// id or timestamps.
func (a Alert) ContentHash() string {
	keys := make([]string, 0, len(a.Metrics))
	for k := range a.Metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(string(a.Source))
	b.WriteByte('|')
	b.WriteString(a.Host)
	b.WriteByte('|')
	b.WriteString(a.Message)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(a.Metrics[k])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
