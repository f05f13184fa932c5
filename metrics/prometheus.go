// Package metrics exports bundle cache activity as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "patchcdn"

// Metrics holds the Prometheus collectors for a loader and its index.
type Metrics struct {
	BundlesServed    *prometheus.CounterVec
	BytesServed      *prometheus.CounterVec
	FetchFailures    prometheus.Counter
	DownloadedBytes  prometheus.Counter
	DownloadDuration prometheus.Histogram
	PatchChanges     prometheus.Counter
	PatchInfo        *prometheus.GaugeVec
	IndexFiles       prometheus.Gauge
	IndexDirs        prometheus.Gauge
	IndexLoadSeconds prometheus.Histogram
}

// New creates the collectors and registers them with reg.
// A nil reg registers with prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		BundlesServed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bundles_served_total",
				Help:      "Bundles returned by FetchFile, by the tier that served them.",
			},
			[]string{"source"},
		),
		BytesServed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bundle_bytes_served_total",
				Help:      "Bundle bytes returned by FetchFile, by the tier that served them.",
			},
			[]string{"source"},
		),
		FetchFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Bundle fetches that failed at the network tier.",
		}),
		DownloadedBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloaded_bytes_total",
			Help:      "Bytes downloaded from the CDN.",
		}),
		DownloadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_duration_seconds",
			Help:      "Duration of bundle downloads.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		PatchChanges: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "patch_changes_total",
			Help:      "Patch version switches that invalidated cached bundles.",
		}),
		PatchInfo: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "patch_info",
				Help:      "Current patch version, as a label on a constant 1.",
			},
			[]string{"version"},
		),
		IndexFiles: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_files",
			Help:      "File records in the loaded index.",
		}),
		IndexDirs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_dirs",
			Help:      "Directory records in the loaded index.",
		}),
		IndexLoadSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "index_load_duration_seconds",
			Help:      "Duration of index loads, including the index bundle fetch.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// BundleServed records a bundle returned from source (memory, store or network).
func (m *Metrics) BundleServed(source string, size int) {
	m.BundlesServed.WithLabelValues(source).Inc()
	m.BytesServed.WithLabelValues(source).Add(float64(size))
}

// FetchFailed records a failed network fetch.
func (m *Metrics) FetchFailed() {
	m.FetchFailures.Inc()
}

// Downloaded records a completed download.
func (m *Metrics) Downloaded(bytes int64, d time.Duration) {
	m.DownloadedBytes.Add(float64(bytes))
	m.DownloadDuration.Observe(d.Seconds())
}

// PatchChanged records a switch to version.
func (m *Metrics) PatchChanged(version string) {
	m.PatchChanges.Inc()
	m.PatchInfo.Reset()
	m.PatchInfo.WithLabelValues(version).Set(1)
}

// IndexLoaded records a successful index load.
func (m *Metrics) IndexLoaded(files, dirs int, d time.Duration) {
	m.IndexFiles.Set(float64(files))
	m.IndexDirs.Set(float64(dirs))
	m.IndexLoadSeconds.Observe(d.Seconds())
}
