package domain

import "time"

// RunKind is the closed set of pipeline stages that produce a
// RunRecord.
type RunKind string

const (
	RunIngest       RunKind = "ingest"
	RunEventMerge   RunKind = "event_merge"
	RunGlobalMerge  RunKind = "global_merge"
	RunMergeComplete RunKind = "merge_completed"
)

// RunStatus is the closed set of terminal/non-terminal states a run
// can be in.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// RunRecord is the audit row written for every scheduled or manually
// triggered pipeline stage invocation.
type RunRecord struct {
	ID           string
	Kind         RunKind
	Period       string
	Status       RunStatus
	StartedAt    time.Time
	EndedAt      *time.Time
	InputCount   int
	OutputCount  int
	SuccessCount int
	FailedCount  int
	DroppedCount int
	ErrorSummary string
}

// DurationMS returns the run's duration once it has ended, or zero
// while still running.
func (r RunRecord) DurationMS() int64 {
	if r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt).Milliseconds()
}
