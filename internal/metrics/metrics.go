// Package metrics exposes the process's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DepositsApplied counts deposits credited to the ledger.
	DepositsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voidd_deposits_applied_total",
		Help: "Deposits credited to the ledger.",
	})

	// DepositsQueued counts deposits parked for unenrolled wallets.
	DepositsQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voidd_deposits_queued_total",
		Help: "Deposits queued while awaiting secret enrollment.",
	})

	// TransfersApplied counts completed off-chain transfers.
	TransfersApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voidd_transfers_applied_total",
		Help: "Off-chain transfers applied to the ledger.",
	})

	// WithdrawalsSubmitted counts withdrawals confirmed on-chain and debited.
	WithdrawalsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voidd_withdrawals_submitted_total",
		Help: "Withdrawals confirmed on-chain and debited from the ledger.",
	})

	// CommitsSubmitted counts state-root commitments accepted on-chain.
	CommitsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voidd_state_commits_total",
		Help: "State-root commitments submitted on-chain.",
	})

	// CommitFailures counts commitment attempts that failed.
	CommitFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voidd_state_commit_failures_total",
		Help: "State-root commitment attempts that failed.",
	})

	// WebhookRejections counts webhook requests with a bad HMAC.
	WebhookRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voidd_webhook_rejections_total",
		Help: "Webhook deliveries rejected for an invalid signature.",
	})

	// HTTPRequests counts requests by route and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voidd_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "status"})

	// HTTPDuration observes request latency by route.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voidd_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)
