// Relayarr - Plex Watchlist Automation for Sonarr and Radarr
// Copyright 2026 Relayarr contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayarr/relayarr

// Package metrics exposes Prometheus instrumentation for ingestion, routing,
// approvals, the reconciler, the scheduler, notifications, label sync, and
// the outbound HTTP layer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion
	IngestRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayarr_ingest_runs_total",
			Help: "Watchlist ingest runs by source and outcome",
		},
		[]string{"source", "outcome"}, // source: self, friends, rss
	)

	IngestItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayarr_ingest_items_total",
			Help: "Watchlist items processed by classification",
		},
		[]string{"classification"}, // new, linked, removed, unchanged
	)

	IngestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relayarr_ingest_duration_seconds",
			Help:    "Duration of one ingest cycle",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// Routing
	RoutingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayarr_routing_decisions_total",
			Help: "Routing engine decisions by action",
		},
		[]string{"action"}, // skip, route, require_approval
	)

	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayarr_submissions_total",
			Help: "Downstream add submissions by instance type and outcome",
		},
		[]string{"instance_type", "outcome"},
	)

	// Approvals and quotas
	ApprovalTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayarr_approval_transitions_total",
			Help: "Approval request transitions by target status",
		},
		[]string{"status"},
	)

	QuotaChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayarr_quota_checks_total",
			Help: "Quota evaluations by result",
		},
		[]string{"result"}, // within, exceeded, bypass
	)

	// Reconciler
	ReconcileUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayarr_reconcile_updates_total",
			Help: "Watchlist updates emitted by the reconciler",
		},
		[]string{"field"},
	)

	ReconcileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relayarr_reconcile_duration_seconds",
			Help:    "Duration of one reconcile pass per instance",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"instance_type"},
	)

	// Scheduler
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayarr_job_runs_total",
			Help: "Scheduled job executions by job and outcome",
		},
		[]string{"job", "outcome"}, // completed, failed, skipped_overlap
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relayarr_job_duration_seconds",
			Help:    "Duration of scheduled job executions",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"job"},
	)

	// Notifications
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayarr_notifications_total",
			Help: "Notification dispatch outcomes per channel",
		},
		[]string{"channel", "outcome"}, // sent, failed, suppressed
	)

	// Label sync
	LabelMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayarr_label_mutations_total",
			Help: "Library label mutations by operation",
		},
		[]string{"operation"}, // add, remove
	)

	// Outbound HTTP
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayarr_upstream_requests_total",
			Help: "Outbound requests by endpoint family and status class",
		},
		[]string{"family", "class"},
	)

	UpstreamRateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayarr_upstream_rate_limited_total",
			Help: "429 responses observed per endpoint family",
		},
		[]string{"family"},
	)

	// Progress bus
	ProgressDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relayarr_progress_events_dropped_total",
			Help: "Progress events dropped due to slow subscribers",
		},
	)
)

// ObserveDuration records elapsed seconds since start on a histogram with
// one label value.
func ObserveDuration(h *prometheus.HistogramVec, start time.Time, label string) {
	h.WithLabelValues(label).Observe(time.Since(start).Seconds())
}
