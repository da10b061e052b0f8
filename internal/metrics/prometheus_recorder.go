package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once            sync.Once
	updateDuration  *prom.HistogramVec
	fetchDuration   *prom.HistogramVec
	updateOutcome   *prom.CounterVec
	branchesTracked *prom.GaugeVec
	scanDuration    *prom.HistogramVec
	filesScanned    *prom.CounterVec
	scanOutcome     *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.updateDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "repomirror",
			Name:      "update_duration_seconds",
			Help:      "Duration of full mirror update cycles",
			Buckets:   prom.DefBuckets,
		}, []string{"repo", "result"})
		pr.fetchDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "repomirror",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of the network fetch within an update cycle",
			Buckets:   prom.DefBuckets,
		}, []string{"repo"})
		pr.updateOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "repomirror",
			Name:      "update_outcomes_total",
			Help:      "Update cycle outcomes by final status",
		}, []string{"outcome"})
		pr.branchesTracked = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "repomirror",
			Name:      "branches_tracked",
			Help:      "Size of the effective fetch set observed by the last update",
		}, []string{"repo"})
		pr.scanDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "repomirror",
			Name:      "scan_duration_seconds",
			Help:      "Duration of per-branch config scans",
			Buckets:   prom.DefBuckets,
		}, []string{"repo", "branch"})
		pr.filesScanned = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "repomirror",
			Name:      "files_scanned_total",
			Help:      "Number of changed files handed to scanner plugins",
		}, []string{"repo"})
		pr.scanOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "repomirror",
			Name:      "scan_outcomes_total",
			Help:      "Scan cycle outcomes by final status",
		}, []string{"outcome"})
		reg.MustRegister(pr.updateDuration, pr.fetchDuration, pr.updateOutcome,
			pr.branchesTracked, pr.scanDuration, pr.filesScanned, pr.scanOutcome)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveUpdateDuration(repo string, d time.Duration, success bool) {
	if p == nil || p.updateDuration == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.updateDuration.WithLabelValues(repo, res).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveFetchDuration(repo string, d time.Duration) {
	if p == nil || p.fetchDuration == nil {
		return
	}
	p.fetchDuration.WithLabelValues(repo).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncUpdateOutcome(outcome string) {
	if p == nil || p.updateOutcome == nil {
		return
	}
	p.updateOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) SetBranchesTracked(repo string, n int) {
	if p == nil || p.branchesTracked == nil {
		return
	}
	p.branchesTracked.WithLabelValues(repo).Set(float64(n))
}

func (p *PrometheusRecorder) ObserveScanDuration(repo, branch string, d time.Duration) {
	if p == nil || p.scanDuration == nil {
		return
	}
	p.scanDuration.WithLabelValues(repo, branch).Observe(d.Seconds())
}

func (p *PrometheusRecorder) AddFilesScanned(repo string, n int) {
	if p == nil || p.filesScanned == nil {
		return
	}
	p.filesScanned.WithLabelValues(repo).Add(float64(n))
}

func (p *PrometheusRecorder) IncScanOutcome(outcome string) {
	if p == nil || p.scanOutcome == nil {
		return
	}
	p.scanOutcome.WithLabelValues(outcome).Inc()
}
