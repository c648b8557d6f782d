package cache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/oneconcern/datacache/pkg/errors"
)

const metricsNamespace = "datacache"

// metrics about cache usage
type metrics struct {
	downloads       prometheus.Counter
	downloadedBytes prometheus.Counter
	commits         prometheus.Counter
	committedBytes  prometheus.Counter
	rollbacks       prometheus.Counter
	failures        *prometheus.CounterVec
	available       prometheus.Gauge
}

// newMetrics builds the cache metrics. With a nil registerer, metrics are collected but not exposed.
//
// Caches sharing a registerer share their collectors.
func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		downloads: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "downloads_total",
			Help:      "Number of remote objects downloaded to the staging area.",
		})),
		downloadedBytes: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "downloaded_bytes_total",
			Help:      "Bytes downloaded to the staging area.",
		})),
		commits: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "commits_total",
			Help:      "Number of staged files uploaded to remote storage.",
		})),
		committedBytes: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "committed_bytes_total",
			Help:      "Bytes uploaded to remote storage.",
		})),
		rollbacks: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rollback_deletions_total",
			Help:      "Number of committed objects deleted by a rollback.",
		})),
		failures: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "failures_total",
			Help:      "Number of failed cache operations, by operation.",
		}, []string{"op"})),
		available: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "staging_available_bytes",
			Help:      "Remaining budget of the staging area, in bytes.",
		})),
	}
}

// register c, or return the equivalent collector already registered
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		// same as prometheus.MustRegister: descriptors conflicting with other metrics are a programming error
		panic(err)
	}
	return c
}
