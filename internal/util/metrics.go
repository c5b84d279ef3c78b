package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HoldsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "booking_holds_created_total",
		Help: "Total number of holds placed on units",
	})

	HoldsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_holds_rejected_total",
		Help: "Total number of rejected hold requests",
	}, []string{"reason"})

	BookingTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_transitions_total",
		Help: "Total number of booking state transitions by target status",
	}, []string{"status"})

	PaymentAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_attempts_total",
		Help: "Total number of payment attempts",
	}, []string{"provider"})

	PaymentSuccessTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_success_total",
		Help: "Total number of successful payments",
	}, []string{"provider"})

	PaymentFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_failed_total",
		Help: "Total number of payments that did not settle",
	}, []string{"provider", "reason"})

	LateSettlementsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_late_settlements_total",
		Help: "Payments that succeeded after their booking stopped being reservable",
	})

	ProviderRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_provider_request_latency_seconds",
		Help:    "Latency of payment provider calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "operation"})

	VerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_verifications_total",
		Help: "Total number of payment verifications by outcome",
	}, []string{"provider", "outcome"})

	ReaperSweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reaper_sweeps_total",
		Help: "Total number of reaper sweeps",
	})

	ReaperProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reaper_processed_total",
		Help: "Records processed by the reaper",
	}, []string{"action"})

	ReaperSweepLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reaper_sweep_latency_seconds",
		Help:    "Duration of a reaper sweep",
		Buckets: prometheus.DefBuckets,
	})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_notifications_total",
		Help: "Provider notifications received by source and outcome",
	}, []string{"source", "outcome"})

	ConsumerRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_consumer_retries_total",
		Help: "Failed message handler attempts that were retried",
	}, []string{"topic"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
