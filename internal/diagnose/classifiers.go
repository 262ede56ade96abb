package diagnose

import (
	"fmt"
	"strings"

	"github.com/remedystack/remedy-engine/internal/models"
)

// knownServices maps message keywords to systemd unit names for alerts that
// carry no explicit service metric.
var knownServices = map[string]string{
	"apache":        "apache2",
	"nginx":         "nginx",
	"mysql":         "mysql",
	"postgres":      "postgresql",
	"redis":         "redis-server",
	"docker":        "docker",
	"ssh":           "sshd",
	"cron":          "cron",
	"haproxy":       "haproxy",
	"memcached":     "memcached",
	"rabbitmq":      "rabbitmq-server",
	"elasticsearch": "elasticsearch",
}

func guessService(alert models.Alert) string {
	if svc := alert.Metric("service", ""); svc != "" {
		return svc
	}
	message := strings.ToLower(alert.Message)
	for kw, unit := range knownServices {
		if strings.Contains(message, kw) {
			return unit
		}
	}
	return ""
}

func classifyServiceDown(alert models.Alert) finding {
	service := guessService(alert)
	if service == "" {
		service = "unknown"
	}

	f := finding{
		rootCause:  fmt.Sprintf("Service %s is down or unresponsive", service),
		confidence: 90,
		components: []string{service, alert.Host},
	}

	if service == "unknown" {
		f.confidence = 70
	}

	f.actions = []actionSpec{
		{
			description:      fmt.Sprintf("Restart %s service", service),
			command:          fmt.Sprintf("systemctl restart %s", service),
			risk:             models.RiskLow,
			impact:           "Service briefly interrupted during restart",
			requiresApproval: false,
		},
		{
			description:      fmt.Sprintf("Check status of %s", service),
			command:          fmt.Sprintf("systemctl status %s", service),
			risk:             models.RiskLow,
			impact:           "Read-only status check",
			requiresApproval: false,
		},
		{
			description:      fmt.Sprintf("Inspect recent logs for %s", service),
			command:          fmt.Sprintf("journalctl -u %s -n 50 --no-pager", service),
			risk:             models.RiskLow,
			impact:           "Read-only log inspection",
			requiresApproval: false,
		},
	}

	return f
}

func classifySecurity(alert models.Alert) finding {
	message := strings.ToLower(alert.Message)
	sourceIP := alert.Metric("source_ip", "")
	failures, _ := alert.MetricFloat("failure_count")

	switch {
	case strings.Contains(message, "rootkit"):
		return finding{
			rootCause:  "Rootkit detected - system compromise suspected",
			confidence: 90,
			components: []string{alert.Host, "security"},
			actions: []actionSpec{
				{
					description:      "Isolate host to rescue mode",
					command:          "systemctl isolate rescue.target",
					risk:             models.RiskHigh,
					impact:           "Host leaves production until manually recovered",
					requiresApproval: true,
				},
				{
					description:      "Capture recent login history",
					command:          "last -n 20",
					risk:             models.RiskLow,
					impact:           "Read-only forensic capture",
					requiresApproval: false,
				},
			},
		}
	case sourceIP != "":
		rootCause := fmt.Sprintf("Brute force attack from %s", sourceIP)
		if failures > 0 {
			rootCause = fmt.Sprintf("%s (%.0f failed attempts)", rootCause, failures)
		}
		return finding{
			rootCause:  rootCause,
			confidence: 95,
			components: []string{alert.Host, "network", "auth"},
			actions: []actionSpec{
				{
					description:      fmt.Sprintf("Block address %s", sourceIP),
					command:          fmt.Sprintf("iptables -A INPUT -s %s -j DROP", sourceIP),
					risk:             models.RiskMedium,
					impact:           "All traffic from the address is dropped",
					rollback:         fmt.Sprintf("iptables -D INPUT -s %s -j DROP", sourceIP),
					requiresApproval: false,
				},
				{
					description:      fmt.Sprintf("Ban %s in fail2ban", sourceIP),
					command:          fmt.Sprintf("fail2ban-client set sshd banip %s", sourceIP),
					risk:             models.RiskMedium,
					impact:           "Address banned from SSH",
					rollback:         fmt.Sprintf("fail2ban-client set sshd unbanip %s", sourceIP),
					requiresApproval: false,
				},
			},
		}
	default:
		return finding{
			rootCause:  "Security event detected - investigation required",
			confidence: 60,
			components: []string{alert.Host, "security"},
			actions: []actionSpec{
				{
					description:      "Check recent login history",
					command:          "last -n 20",
					risk:             models.RiskLow,
					impact:           "Read-only login audit",
					requiresApproval: false,
				},
				{
					description:      "Review authentication failures",
					command:          "grep 'Failed password' /var/log/auth.log | tail -50",
					risk:             models.RiskLow,
					impact:           "Read-only log inspection",
					requiresApproval: false,
				},
			},
		}
	}
}

func classifyCertificate(alert models.Alert) finding {
	domain := alert.Metric("domain", alert.Host)
	return finding{
		rootCause:  fmt.Sprintf("SSL certificate expired or expiring soon for %s", domain),
		confidence: 100,
		components: []string{domain, "tls"},
		actions: []actionSpec{
			{
				description:      fmt.Sprintf("Renew certificate for %s", domain),
				command:          fmt.Sprintf("certbot renew --cert-name %s", domain),
				risk:             models.RiskLow,
				impact:           "Certificate renewed in place",
				requiresApproval: false,
			},
			{
				description:      "Reload web server",
				command:          "systemctl reload nginx || systemctl reload apache2",
				risk:             models.RiskLow,
				impact:           "Web server reloads configuration",
				requiresApproval: false,
			},
			{
				description:      fmt.Sprintf("Verify certificate dates for %s", domain),
				command:          fmt.Sprintf("echo | openssl s_client -connect %s:443 2>/dev/null | openssl x509 -noout -dates", domain),
				risk:             models.RiskLow,
				impact:           "Read-only certificate check",
				requiresApproval: false,
			},
		},
	}
}

func classifyDatabase(alert models.Alert) finding {
	return finding{
		rootCause:  "Database deadlock or lock contention detected",
		confidence: 90,
		components: []string{alert.Host, "database"},
		actions: []actionSpec{
			{
				description:      "Show active database sessions",
				command:          `mysql -e "SHOW FULL PROCESSLIST;"`,
				risk:             models.RiskLow,
				impact:           "Read-only session listing",
				requiresApproval: false,
			},
			{
				description:      "Inspect InnoDB lock state",
				command:          `mysql -e "SELECT * FROM performance_schema.data_locks;"`,
				risk:             models.RiskLow,
				impact:           "Read-only lock inspection",
				requiresApproval: false,
			},
			{
				description:      "Restart database service",
				command:          "systemctl restart mysql",
				risk:             models.RiskHigh,
				impact:           "All database connections dropped during restart",
				rollback:         "systemctl start mysql",
				requiresApproval: true,
			},
		},
	}
}

func classifyBackup(alert models.Alert) finding {
	script := alert.Metric("backup_script", "/usr/local/bin/backup.sh")
	return finding{
		rootCause:  "Backup job failed",
		confidence: 85,
		components: []string{alert.Host, "backup", "storage"},
		actions: []actionSpec{
			{
				description:      "Check backup logs",
				command:          "tail -100 /var/log/backup.log",
				risk:             models.RiskLow,
				impact:           "Read-only log inspection",
				requiresApproval: false,
			},
			{
				description:      "Check backup destination space",
				command:          "df -h /backup",
				risk:             models.RiskLow,
				impact:           "Read-only disk check",
				requiresApproval: false,
			},
			{
				description:      "Retry backup job",
				command:          script,
				risk:             models.RiskLow,
				impact:           "Backup job re-runs; extra I/O load",
				requiresApproval: false,
			},
			{
				description:      "Prune backups older than 30 days",
				command:          `find /backup -name "*.tar.gz" -mtime +30 -delete`,
				risk:             models.RiskMedium,
				impact:           "Old backup archives permanently deleted",
				requiresApproval: true,
			},
		},
	}
}

func classifyHighCPU(alert models.Alert) finding {
	usage, hasUsage := alert.MetricFloat("cpu_usage")

	f := finding{
		rootCause:  "High CPU usage detected",
		confidence: 75,
		components: []string{alert.Host, "cpu"},
	}
	if hasUsage {
		f.rootCause = fmt.Sprintf("High CPU usage detected: %.1f%%", usage)
		f.confidence = 90
	}

	f.actions = []actionSpec{
		{
			description:      "Identify top CPU processes",
			command:          "ps aux --sort=-%cpu | head -10",
			risk:             models.RiskLow,
			impact:           "Read-only process listing",
			requiresApproval: false,
		},
	}

	if hasUsage && usage >= 90 {
		f.rootCause = fmt.Sprintf("Critical CPU usage (%.1f%%) - likely runaway process", usage)
		f.actions = append(f.actions, actionSpec{
			description:      "Kill stuck backup script",
			command:          `pkill -f "backup.sh"`,
			risk:             models.RiskLow,
			impact:           "Runaway backup script terminated",
			requiresApproval: false,
		})
	}

	return f
}

func classifyHighMemory(alert models.Alert) finding {
	usage, hasUsage := alert.MetricFloat("memory_usage")

	f := finding{
		rootCause:  "High memory usage detected",
		confidence: 70,
		components: []string{alert.Host, "memory"},
	}
	if hasUsage {
		f.rootCause = fmt.Sprintf("High memory usage detected: %.1f%%", usage)
		f.confidence = 85
	}

	f.actions = []actionSpec{
		{
			description:      "Identify memory-hungry processes",
			command:          "ps aux --sort=-%mem | head -10",
			risk:             models.RiskLow,
			impact:           "Read-only process listing",
			requiresApproval: false,
		},
		{
			description:      "Clear page cache",
			command:          "sync && echo 1 > /proc/sys/vm/drop_caches",
			risk:             models.RiskLow,
			impact:           "Page cache dropped; short I/O slowdown",
			requiresApproval: false,
		},
		{
			description:      "Restart memory-intensive service",
			command:          "systemctl restart application",
			risk:             models.RiskMedium,
			impact:           "Application restarted",
			rollback:         "systemctl start application",
			requiresApproval: true,
		},
	}

	return f
}

func classifyDiskFull(alert models.Alert) finding {
	usage, hasUsage := alert.MetricFloat("disk_usage")
	mountpoint := alert.Metric("mountpoint", "/")

	f := finding{
		rootCause:  fmt.Sprintf("Disk space critical on %s", mountpoint),
		confidence: 80,
		components: []string{alert.Host, "disk", "storage"},
	}
	if hasUsage {
		f.rootCause = fmt.Sprintf("Disk space critical on %s: %.1f%%", mountpoint, usage)
		f.confidence = 95
	}

	f.actions = []actionSpec{
		{
			description:      fmt.Sprintf("Find largest directories on %s", mountpoint),
			command:          fmt.Sprintf("du -sh %s/* 2>/dev/null | sort -rh | head -10", strings.TrimRight(mountpoint, "/")),
			risk:             models.RiskLow,
			impact:           "Read-only usage scan",
			requiresApproval: false,
		},
		{
			description:      "Clean logs older than 30 days",
			command:          `find /var/log -name "*.log" -mtime +30 -delete`,
			risk:             models.RiskLow,
			impact:           "Old log files deleted",
			requiresApproval: false,
		},
		{
			description:      "Vacuum systemd journal",
			command:          "journalctl --vacuum-time=7d",
			risk:             models.RiskLow,
			impact:           "Journal entries older than 7 days removed",
			requiresApproval: false,
		},
		{
			description:      "Clean old temp files",
			command:          "find /tmp -type f -mtime +7 -delete",
			risk:             models.RiskLow,
			impact:           "Stale temp files removed",
			requiresApproval: false,
		},
	}

	return f
}

// classifyGeneric handles alerts no rule matched. Confidence stays at or
// below 50 and every action is read-only so nothing mutating can ride a
// low-confidence auto-approval.
func classifyGeneric(alert models.Alert) finding {
	return finding{
		rootCause:  "Unknown issue - requires manual investigation",
		confidence: 30,
		components: []string{alert.Host},
		actions: []actionSpec{
			{
				description:      "Capture system overview",
				command:          "uptime && df -h && free -h",
				risk:             models.RiskLow,
				impact:           "Read-only system snapshot",
				requiresApproval: false,
			},
			{
				description:      "Capture top processes",
				command:          "top -b -n 1 | head -20",
				risk:             models.RiskLow,
				impact:           "Read-only process snapshot",
				requiresApproval: false,
			},
		},
	}
}
