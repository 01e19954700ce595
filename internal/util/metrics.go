package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PaymentsInitiatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_initiated_total",
		Help: "Total number of payments initiated",
	}, []string{"provider"})

	PaymentsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_completed_total",
		Help: "Total number of payments completed",
	}, []string{"provider", "cause"})

	PaymentsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_failed_total",
		Help: "Total number of failed payments",
	}, []string{"provider", "cause"})

	PaymentsRefundedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_refunded_total",
		Help: "Total number of refunded payments",
	}, []string{"provider"})

	PaymentsInProgressRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_in_progress_rejected_total",
		Help: "Initiations rejected because a payment was already in progress",
	})

	ProviderRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_provider_request_duration_seconds",
		Help:    "Latency of outbound payment provider calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "operation", "outcome"})

	WebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_deliveries_total",
		Help: "Total number of webhook deliveries by outcome",
	}, []string{"provider", "outcome"})

	ProofUploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_proof_uploads_total",
		Help: "Total number of proof of payment uploads",
	}, []string{"result"})

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_events_published_total",
		Help: "Total number of domain events published",
	}, []string{"type"})

	EventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_events_dropped_total",
		Help: "Total number of domain events dropped before publication",
	}, []string{"type", "reason"})

	NotificationsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_notifications_sent_total",
		Help: "Total number of notifications dispatched by the worker",
	}, []string{"type", "result"})

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
