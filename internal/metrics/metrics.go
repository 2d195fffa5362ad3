package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AdmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "log_gateway_admissions_total",
		Help: "The total number of submissions by outcome",
	}, []string{"area", "outcome"})

	SuppressedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "log_gateway_suppressed_total",
		Help: "The total number of duplicate submissions suppressed",
	}, []string{"area"})

	QuotaDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "log_gateway_quota_denials_total",
		Help: "The total number of submissions denied by the quota ledger",
	}, []string{"area", "reason"})

	BudgetWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "log_gateway_budget_warnings_total",
		Help: "The total number of admissions made in the budget warning band",
	})

	StorageWriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "log_gateway_storage_write_duration_seconds",
		Help:    "The duration of the dual write on the ingestion path",
		Buckets: prometheus.DefBuckets,
	})

	StorageWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "log_gateway_storage_write_errors_total",
		Help: "The total number of failed dual writes",
	})

	CleanupDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "log_gateway_cleanup_deleted_total",
		Help: "The total number of durable records deleted by cleanup",
	})

	ExpiredSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "log_gateway_expired_swept_total",
		Help: "The total number of short-lived records removed by the expiry sweep",
	})

	HttpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "log_gateway_http_requests_total",
		Help: "Total number of HTTP requests processed",
	}, []string{"status", "method"})
)
