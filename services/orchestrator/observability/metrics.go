// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the turn loop.
//
// Metrics are exposed via the /metrics endpoint. All operations are
// thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "wayfinder"

const conversationSubsystem = "conversation"

// Outcome labels the structural result of a turn for metrics.
type Outcome string

const (
	// OutcomeText means the turn produced only freeform reply text.
	OutcomeText Outcome = "text"

	// OutcomeTransition means an option advanced the active node.
	OutcomeTransition Outcome = "transition"

	// OutcomeGraphStart means a graph was started or resumed.
	OutcomeGraphStart Outcome = "graph_start"

	// OutcomeClarification means nothing actionable was decided.
	OutcomeClarification Outcome = "clarification"

	// OutcomeCorrective means the oracle proposed a value outside the
	// whitelist and was overridden.
	OutcomeCorrective Outcome = "corrective"

	// OutcomeApology means the decision oracle call itself failed.
	OutcomeApology Outcome = "apology"
)

// TurnMetrics holds all Prometheus metrics for conversation turns.
// Initialize once at startup via InitMetrics().
type TurnMetrics struct {
	// TurnsTotal counts completed turns by structural outcome.
	// Labels: outcome (text, transition, graph_start, clarification,
	// corrective, apology)
	TurnsTotal *prometheus.CounterVec

	// TurnDurationSeconds measures the slow phase of a turn, from
	// retrieval start to final bot message.
	// Labels: outcome
	TurnDurationSeconds *prometheus.HistogramVec

	// UndosTotal counts undo requests by result.
	// Labels: result (undone, noop)
	UndosTotal *prometheus.CounterVec

	// RetrievalSnippetsIncluded measures how many snippets survived the
	// relevance filter per turn.
	RetrievalSnippetsIncluded prometheus.Histogram

	// OracleToolCallsTotal counts tool calls the oracle requested.
	// Labels: tool
	OracleToolCallsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of TurnMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *TurnMetrics

// InitMetrics creates and registers all Prometheus metrics. Call once at
// application startup; a second call panics on duplicate registration.
func InitMetrics() *TurnMetrics {
	DefaultMetrics = &TurnMetrics{
		TurnsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: conversationSubsystem,
				Name:      "turns_total",
				Help:      "Total completed turns by structural outcome",
			},
			[]string{"outcome"},
		),

		TurnDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: conversationSubsystem,
				Name:      "turn_duration_seconds",
				Help:      "Duration of the slow turn phase in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"outcome"},
		),

		UndosTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: conversationSubsystem,
				Name:      "undos_total",
				Help:      "Total undo requests by result",
			},
			[]string{"result"},
		),

		RetrievalSnippetsIncluded: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: conversationSubsystem,
				Name:      "retrieval_snippets_included",
				Help:      "Snippets surviving the relevance filter per turn",
				Buckets:   []float64{0, 1, 2, 3, 4, 5},
			},
		),

		OracleToolCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: conversationSubsystem,
				Name:      "oracle_tool_calls_total",
				Help:      "Tool calls requested by the decision oracle",
			},
			[]string{"tool"},
		),
	}

	return DefaultMetrics
}

// RecordTurn records a completed turn.
func (m *TurnMetrics) RecordTurn(outcome Outcome, seconds float64) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(string(outcome)).Inc()
	m.TurnDurationSeconds.WithLabelValues(string(outcome)).Observe(seconds)
}

// RecordUndo records an undo request.
func (m *TurnMetrics) RecordUndo(undone bool) {
	if m == nil {
		return
	}
	result := "undone"
	if !undone {
		result = "noop"
	}
	m.UndosTotal.WithLabelValues(result).Inc()
}

// RecordRetrieval records the included-snippet count for a turn.
func (m *TurnMetrics) RecordRetrieval(included int) {
	if m == nil {
		return
	}
	m.RetrievalSnippetsIncluded.Observe(float64(included))
}

// RecordToolCall records one oracle-requested tool call.
func (m *TurnMetrics) RecordToolCall(tool string) {
	if m == nil {
		return
	}
	m.OracleToolCallsTotal.WithLabelValues(tool).Inc()
}
