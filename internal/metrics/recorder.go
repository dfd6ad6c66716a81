// Package metrics records step timings and sync counts for a workflow run.
// Runs without a configured textfile use NoopRecorder.
package metrics

import "time"

// ResultLabel enumerates step result categories for counters.
type ResultLabel string

const (
	ResultSuccess ResultLabel = "success"
	ResultWarning ResultLabel = "warning"
	ResultFailed  ResultLabel = "failed"
	ResultSkipped ResultLabel = "skipped"
)

// Recorder defines the observability hooks used by the pipeline.
type Recorder interface {
	ObserveStepDuration(step string, d time.Duration)
	IncStepResult(step string, result ResultLabel)
	AddSyncedFiles(action string, n int)
	IncSyncItemFailure(item string)
	SetLastRun(t time.Time)
	// Flush persists collected metrics, if the implementation has somewhere to put them.
	Flush() error
}

// NoopRecorder is a Recorder that does nothing.
type NoopRecorder struct{}

func (NoopRecorder) ObserveStepDuration(string, time.Duration) {}
func (NoopRecorder) IncStepResult(string, ResultLabel)         {}
func (NoopRecorder) AddSyncedFiles(string, int)                {}
func (NoopRecorder) IncSyncItemFailure(string)                 {}
func (NoopRecorder) SetLastRun(time.Time)                      {}
func (NoopRecorder) Flush() error                              { return nil }
