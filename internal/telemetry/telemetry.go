// Package telemetry exposes prometheus metrics for the discovery engine.
// Registered on the default registry and served by the ops endpoint's
// /metrics handler.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RelationsFound counts relations accepted by the kernel, per job.
	RelationsFound = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quarry_relations_found_total",
		Help: "Relations accepted by the kernel, before dedup across sub-jobs.",
	}, []string{"job"})

	// RelationsCommitted counts relations durably persisted after dedup.
	RelationsCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quarry_relations_committed_total",
		Help: "Relations persisted to the store.",
	}, []string{"job"})

	// KernelInvocations counts calls into the numeric kernel.
	KernelInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quarry_kernel_invocations_total",
		Help: "Invocations of the integer-relation kernel.",
	}, []string{"job"})

	// KernelDuration observes kernel call latency; the kernel dominates run
	// cost, so this is the histogram worth watching.
	KernelDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quarry_kernel_duration_seconds",
		Help:    "Wall time of kernel invocations.",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{"job"})

	// CommitRetries counts retried relation commits.
	CommitRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quarry_commit_retries_total",
		Help: "Relation batch commits that had to be retried.",
	}, []string{"job"})

	// SubJobFailures counts workers that returned a failure result.
	SubJobFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quarry_subjob_failures_total",
		Help: "Sub-jobs that failed and were reported as absent results.",
	}, []string{"job"})

	// NoveltySkips counts candidate tuples skipped because a known relation
	// already covers them.
	NoveltySkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quarry_novelty_skips_total",
		Help: "Candidate tuples skipped by the novelty check.",
	}, []string{"job"})
)
