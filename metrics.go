// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsworker

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics are registered on the executor's registerer; with none they are
// still recorded but not exported.
type metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration prometheus.Histogram
	threads         prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jsworker_requests_total",
				Help: "Total number of requests executed by the worker pool",
			},
			[]string{"status"},
		),
		requestDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "jsworker_request_duration_seconds",
				Help:    "Request execution duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		threads: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "jsworker_threads",
				Help: "Number of live worker threads",
			},
		),
	}
}

func (m *metrics) observe(start time.Time, err error) {
	m.requestDuration.Observe(time.Since(start).Seconds())
	m.requestsTotal.WithLabelValues(requestStatus(err)).Inc()
}

func requestStatus(err error) string {
	var evalErr *EvalError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoResponse):
		return "no_response"
	case errors.Is(err, errExecuteTimeout):
		return "timeout"
	case errors.As(err, &evalErr):
		return "script_error"
	default:
		return "error"
	}
}
