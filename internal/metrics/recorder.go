package metrics

import "time"

// Recorder defines observability hooks for mirror updates and scans.
// Implementations may forward to Prometheus, OpenTelemetry, etc. The
// NoopRecorder makes metrics optional without nil checks at call sites.
type Recorder interface {
	ObserveUpdateDuration(repo string, d time.Duration, success bool)
	ObserveFetchDuration(repo string, d time.Duration)
	IncUpdateOutcome(outcome string) // outcome: success|failed
	SetBranchesTracked(repo string, n int)
	ObserveScanDuration(repo, branch string, d time.Duration)
	AddFilesScanned(repo string, n int)
	IncScanOutcome(outcome string) // outcome: success|failed
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveUpdateDuration(string, time.Duration, bool) {}
func (NoopRecorder) ObserveFetchDuration(string, time.Duration)        {}
func (NoopRecorder) IncUpdateOutcome(string)                           {}
func (NoopRecorder) SetBranchesTracked(string, int)                    {}
func (NoopRecorder) ObserveScanDuration(string, string, time.Duration) {}
func (NoopRecorder) AddFilesScanned(string, int)                       {}
func (NoopRecorder) IncScanOutcome(string)                             {}
