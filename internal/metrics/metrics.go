// Package metrics exposes Prometheus collectors for matching, resolution,
// downloads and uploads. Each Metrics value owns its registry so several
// engines can live in one process.
package metrics

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// Metrics holds the collectors. A nil *Metrics ignores every observation.
type Metrics struct {
	reg *prometheus.Registry

	MatchCount      *prometheus.CounterVec
	MatchScore      *prometheus.HistogramVec
	ResolveCount    *prometheus.CounterVec
	DownloadCount   *prometheus.CounterVec
	DownloadRetries prometheus.Counter
	DownloadLatency *prometheus.HistogramVec
	UploadCount     *prometheus.CounterVec
	AnswerLatency   prometheus.Histogram
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		MatchCount: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tds_match_total",
				Help: "Total number of match requests by winning strategy",
			},
			[]string{"strategy"},
		),
		MatchScore: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tds_match_score",
				Help:    "Winning match score by strategy",
				Buckets: []float64{0.3, 0.4, 0.5, 0.75, 1, 2, 4, 8},
			},
			[]string{"strategy"},
		),
		ResolveCount: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tds_resolve_total",
				Help: "Total number of file resolutions by source",
			},
			[]string{"source", "exists", "cached"},
		),
		DownloadCount: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tds_download_total",
				Help: "Total number of remote downloads by vendor and outcome",
			},
			[]string{"vendor", "status"},
		),
		DownloadRetries: f.NewCounter(
			prometheus.CounterOpts{
				Name: "tds_download_retries_total",
				Help: "Total number of download attempts beyond the first",
			},
		),
		DownloadLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "tds_download_duration_seconds",
				Help: "Download duration in seconds, retries included",
			},
			[]string{"vendor"},
		),
		UploadCount: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tds_uploads_registered_total",
				Help: "Total number of registered uploads by category",
			},
			[]string{"category"},
		),
		AnswerLatency: f.NewHistogram(
			prometheus.HistogramOpts{
				Name: "tds_answer_duration_seconds",
				Help: "Answer latency in seconds",
			},
		),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// ObserveMatch records a match outcome.
func (m *Metrics) ObserveMatch(strategy string, score float64) {
	if m == nil {
		return
	}
	m.MatchCount.WithLabelValues(strategy).Inc()
	m.MatchScore.WithLabelValues(strategy).Observe(score)
}

// ObserveResolve records a resolution. It satisfies resolver.Observer.
func (m *Metrics) ObserveResolve(source string, exists, cached bool) {
	if m == nil {
		return
	}
	m.ResolveCount.WithLabelValues(source, strconv.FormatBool(exists), strconv.FormatBool(cached)).Inc()
}

// ObserveDownload records a download. It satisfies download.Observer.
func (m *Metrics) ObserveDownload(vendor string, ok bool, attempts int, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.DownloadCount.WithLabelValues(vendor, status).Inc()
	if attempts > 1 {
		m.DownloadRetries.Add(float64(attempts - 1))
	}
	m.DownloadLatency.WithLabelValues(vendor).Observe(elapsed.Seconds())
}

// ObserveUpload records a new upload registration.
func (m *Metrics) ObserveUpload(category string) {
	if m == nil {
		return
	}
	m.UploadCount.WithLabelValues(category).Inc()
}

// ObserveAnswer records the latency of one Answer call.
func (m *Metrics) ObserveAnswer(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.AnswerLatency.Observe(elapsed.Seconds())
}

// Write renders every collector in the Prometheus text format.
func (m *Metrics) Write(w io.Writer) error {
	if m == nil {
		return nil
	}
	families, err := m.reg.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}
