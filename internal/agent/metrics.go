package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// executionsTotal counts executions by agent and result
	executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tabsense_agent_executions_total",
		Help: "Total agent executions by agent type and result",
	}, []string{"agent", "result"})

	// executionDuration tracks end-to-end execution latency
	executionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tabsense_agent_execution_duration_seconds",
		Help:    "Agent execution duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16), // 0.5ms to ~16s
	}, []string{"agent"})

	// retryAttempts counts attempts made through RetryExecution
	retryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tabsense_agent_retry_attempts_total",
		Help: "Total attempts made by RetryExecution by outcome",
	}, []string{"outcome"})
)

// Result labels.
const (
	resultSuccess    = "success"
	resultInvalid    = "invalid"
	resultTimeout    = "timeout"
	resultError      = "error"
	resultDisposed   = "disposed"
	resultCanceled   = "canceled"
	outcomeSucceeded = "succeeded"
	outcomeFailed    = "failed"
)
