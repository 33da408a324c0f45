// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation names used as metric labels and span names.
const (
	OpRegister     = "register"
	OpLogin        = "login"
	OpLogout       = "logout"
	OpMe           = "me"
	OpRequestReset = "request_password_reset"
	OpConsumeReset = "consume_reset"
)

// Outcome label values.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeFailure  = "failure"
)

// OperationsTotal counts use case invocations by outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var OperationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gatekeep_auth_operations_total",
		Help: "Total number of authentication operations by outcome",
	},
	[]string{"operation", "outcome"},
)

// OperationDuration observes use case latency.
var OperationDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "gatekeep_auth_operation_duration_seconds",
		Help:    "Authentication operation duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"operation"},
)

// RegisterMetrics registers auth package metrics with the given registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(OperationsTotal)
	reg.MustRegister(OperationDuration)
}

func recordOperation(op, outcome string, elapsed time.Duration) {
	OperationsTotal.WithLabelValues(op, outcome).Inc()
	OperationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func responseOutcome(resp *UserResponse, err error) string {
	switch {
	case err != nil:
		return OutcomeFailure
	case resp == nil || len(resp.Errors) > 0:
		return OutcomeRejected
	default:
		return OutcomeSuccess
	}
}

func boolOutcome(ok bool) string {
	if ok {
		return OutcomeSuccess
	}
	return OutcomeFailure
}
