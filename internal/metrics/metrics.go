package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Database
	// ============================================
	DBConnectionOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "verify_db_connections_open",
		Help: "Number of open database connections",
	})

	DBConnectionInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "verify_db_connections_in_use",
		Help: "Number of database connections in use",
	})

	DBConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "verify_db_connection_status",
		Help: "Database connection status (1=healthy, 0=unhealthy)",
	})

	// ============================================
	// HTTP
	// ============================================
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verify_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "verify_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verify_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
		[]string{"scope"},
	)

	// ============================================
	// Pack generation
	// ============================================
	CodesGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "verify_codes_generated_total",
		Help: "Total number of codes generated",
	})

	PacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verify_packs_total",
			Help: "Pack status transitions",
		},
		[]string{"status"},
	)

	PackDownloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "verify_pack_downloads_total",
		Help: "Total number of plaintext pack exports",
	})

	IntegrityFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "verify_integrity_failures_total",
		Help: "Stored ciphertexts that failed to decrypt",
	})

	// ============================================
	// Verification
	// ============================================
	QuotesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verify_quotes_total",
			Help: "Quote outcomes by reason",
		},
		[]string{"outcome"},
	)

	ConfirmsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verify_confirms_total",
			Help: "Confirm outcomes by reason",
		},
		[]string{"outcome"},
	)

	ConfirmDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "verify_confirm_duration_seconds",
		Help:    "Confirm duration in seconds, payout included",
		Buckets: prometheus.DefBuckets,
	})

	RewardsPaid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "verify_rewards_paid_total",
		Help: "Sum of paid rewards in the chain's smallest unit",
	})

	UnrecordedPayouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "verify_unrecorded_payouts_total",
		Help: "Payouts sent whose verification failed to commit",
	})

	PayoutReconciliations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verify_payout_reconciliations_total",
			Help: "Reconciliation attempts of unrecorded payouts by result",
		},
		[]string{"result"},
	)

	// ============================================
	// Ledger and events
	// ============================================
	LedgerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verify_ledger_requests_total",
			Help: "Ledger calls by operation and result",
		},
		[]string{"operation", "result"},
	)

	SponsorBalance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "verify_sponsor_balance_wei",
			Help: "Balance of the payout sponsor account",
		},
		[]string{"chain", "address"},
	)

	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "verify_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verify_events_published_total",
			Help: "Domain events published by sink and type",
		},
		[]string{"sink", "event_type"},
	)

	FeedSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "verify_feed_subscribers",
		Help: "Connected websocket feed subscribers",
	})
)
