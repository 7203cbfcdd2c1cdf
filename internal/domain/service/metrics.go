// Package service defines the domain contracts and the token signer.
package service

import (
	"time"
)

// Metrics defines the interface for collecting business metrics.
// This abstraction allows the application layer to remain independent of the specific monitoring implementation (e.g., Prometheus).
type Metrics interface {
	// RecordIssuance records the outcome of one issuance request. result is "ok"
	// or the rejection reason.
	RecordIssuance(purpose, result string, duration time.Duration)

	// RecordRateLimitHit records an event when a rate limit is triggered.
	RecordRateLimitHit(dimension string)

	// RecordRotation records a key rotation. trigger is manual, auto, sweep or revoke.
	RecordRotation(purpose, trigger string)

	// RecordSweep records the counts of one sweep.
	RecordSweep(rotated, skipped, failed int, duration time.Duration)

	// RecordBatchJob records a terminal batch job transition.
	RecordBatchJob(status string, gyms int, duration time.Duration)

	// RecordCacheAccess records a cache hit or miss.
	RecordCacheAccess(cacheType string, hit bool)
}

// NoopMetrics discards every observation.
type NoopMetrics struct{}

func (NoopMetrics) RecordIssuance(string, string, time.Duration) {}
func (NoopMetrics) RecordRateLimitHit(string) {}
func (NoopMetrics) RecordRotation(string, string) {}
func (NoopMetrics) RecordSweep(int, int, int, time.Duration) {}
func (NoopMetrics) RecordBatchJob(string, int, time.Duration) {}
func (NoopMetrics) RecordCacheAccess(string, bool) {}
