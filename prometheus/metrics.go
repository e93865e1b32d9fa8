package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var ReviewerOperationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "payroll_reviewer_operations_total",
		Help: "Total number of reviewer operations by outcome",
	},
	[]string{"operation", "result"},
)

var AccessDecisionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "payroll_access_decisions_total",
		Help: "Total number of access checks by decision and reason",
	},
	[]string{"decision", "reason"},
)

var AuditWritesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "payroll_audit_writes_total",
		Help: "Total number of audit log writes by outcome",
	},
	[]string{"result"},
)

var IdentityLookupsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "payroll_identity_lookups_total",
		Help: "Total number of identity profile lookups by outcome",
	},
	[]string{"result"},
)

var LockWaitSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "payroll_company_lock_wait_seconds",
		Help:    "Time spent waiting for the per-company reviewer lock",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
	},
	[]string{"backend"},
)

func init() {
	prometheus.MustRegister(ReviewerOperationsTotal)
	prometheus.MustRegister(AccessDecisionsTotal)
	prometheus.MustRegister(AuditWritesTotal)
	prometheus.MustRegister(IdentityLookupsTotal)
	prometheus.MustRegister(LockWaitSeconds)
}

// RecordReviewerOperation counts a reviewer operation; err == nil is a success
func RecordReviewerOperation(operation string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	ReviewerOperationsTotal.WithLabelValues(operation, result).Inc()
}

// RecordAccessDecision counts an access check
func RecordAccessDecision(allowed bool, reason string) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	AccessDecisionsTotal.WithLabelValues(decision, reason).Inc()
}

// RecordAuditWrite counts an audit write outcome: written, failed or dropped
func RecordAuditWrite(result string) {
	AuditWritesTotal.WithLabelValues(result).Inc()
}

// RecordIdentityLookup counts an identity lookup outcome: hit, miss or error
func RecordIdentityLookup(result string) {
	IdentityLookupsTotal.WithLabelValues(result).Inc()
}

// TrackLockWait returns a function that observes the wait duration since start.
// Usage: defer prometheus.TrackLockWait("local")(time.Now())
func TrackLockWait(backend string) func(time.Time) {
	return func(start time.Time) {
		LockWaitSeconds.WithLabelValues(backend).Observe(time.Since(start).Seconds())
	}
}
