package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/remedystack/remedy-engine/internal/models"
)

var (
	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remedy_engine",
			Name:      "alerts_total",
			Help:      "Alerts handled, partitioned by diagnosis category.",
		},
		[]string{"category"},
	)

	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remedy_engine",
			Name:      "decisions_total",
			Help:      "Policy decisions, partitioned by verdict.",
		},
		[]string{"verdict"},
	)

	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remedy_engine",
			Name:      "executions_total",
			Help:      "Command executions, partitioned by exit status.",
		},
		[]string{"status"},
	)

	remediationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "remedy_engine",
			Name:      "remediation_seconds",
			Help:      "Alert-to-terminal-state latency in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	pendingApprovals = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "remedy_engine",
			Name:      "pending_approvals",
			Help:      "Approval requests currently awaiting votes.",
		},
	)

	killSwitchEngaged = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "remedy_engine",
			Name:      "kill_switch_engaged",
			Help:      "1 while the global kill switch is engaged.",
		},
	)
)

// Register attaches remedy-engine collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		alertsTotal,
		decisionsTotal,
		executionsTotal,
		remediationDurationSeconds,
		pendingApprovals,
		killSwitchEngaged,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveAlert counts one diagnosed alert.
func ObserveAlert(category models.Category) {
	alertsTotal.WithLabelValues(string(category)).Inc()
}

// ObserveDecision counts one policy verdict.
func ObserveDecision(verdict models.Verdict) {
	decisionsTotal.WithLabelValues(string(verdict)).Inc()
}

// ObserveExecution counts one execution attempt.
func ObserveExecution(status models.ExitStatus) {
	executionsTotal.WithLabelValues(string(status)).Inc()
}

// ObserveResolution records alert-to-terminal latency.
func ObserveResolution(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	remediationDurationSeconds.Observe(duration.Seconds())
}

// SetPendingApprovals updates the pending approval gauge.
func SetPendingApprovals(n int) {
	pendingApprovals.Set(float64(n))
}

// SetKillSwitch reflects the kill switch state.
func SetKillSwitch(engaged bool) {
	if engaged {
		killSwitchEngaged.Set(1)
		return
	}
	killSwitchEngaged.Set(0)
}
