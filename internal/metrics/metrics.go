// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package metrics exposes logger health counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	samplesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "accel_samples_written_total",
		Help: "Sample records appended to recording files.",
	})
	droppedReads = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "accel_dropped_reads_total",
		Help: "Sensor reads that failed during recording and were skipped.",
	})
	maxBacklog = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "accel_max_backlog_ticks",
		Help: "Largest tick backlog seen by the current or last recording.",
	})
	sessions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accel_sessions_total",
		Help: "Finished exclusive sessions by kind and result.",
	}, []string{"kind", "result"})
	liveUnavailable = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "accel_live_preview_unavailable_total",
		Help: "Live preview requests answered as unavailable.",
	})
)

func init() {
	prometheus.MustRegister(samplesWritten, droppedReads, maxBacklog, sessions, liveUnavailable)
}

// SamplesWritten adds n appended records.
func SamplesWritten(n int) { samplesWritten.Add(float64(n)) }

// DroppedRead counts one skipped tick.
func DroppedRead() { droppedReads.Inc() }

// ObserveBacklog records a new session maximum.
func ObserveBacklog(n uint32) { maxBacklog.Set(float64(n)) }

// ResetBacklog clears the gauge at the start of a recording.
func ResetBacklog() { maxBacklog.Set(0) }

// SessionFinished counts one finished session.
func SessionFinished(kind, result string) { sessions.WithLabelValues(kind, result).Inc() }

// LiveUnavailable counts one preview that could not get the bus.
func LiveUnavailable() { liveUnavailable.Inc() }

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }
