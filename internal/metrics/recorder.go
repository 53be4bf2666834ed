package metrics

import "time"

// Outcome enumerates the final status of a generation run.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "error"
	OutcomeContended Outcome = "lock_held"
)

// CacheOp enumerates cache maintenance operations.
type CacheOp string

const (
	CacheUpsert CacheOp = "upsert"
	CacheDelete CacheOp = "delete"
	CacheSkip   CacheOp = "skip"
	CacheError  CacheOp = "error"
)

// Recorder defines observability hooks for generation runs and cache updates.
// Implementations must tolerate nil receivers where they are pointer types.
type Recorder interface {
	ObserveRunDuration(d time.Duration)
	IncRunOutcome(outcome Outcome)
	ObserveSectionDuration(file, section string, d time.Duration)
	AddItemsWritten(pass string, n int)
	SetBatchSize(n int)
	SetMemoryPeak(bytes uint64)
	IncCacheOp(op CacheOp)
	IncTrigger(source string)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveRunDuration(time.Duration)                     {}
func (NoopRecorder) IncRunOutcome(Outcome)                                {}
func (NoopRecorder) ObserveSectionDuration(string, string, time.Duration) {}
func (NoopRecorder) AddItemsWritten(string, int)                          {}
func (NoopRecorder) SetBatchSize(int)                                     {}
func (NoopRecorder) SetMemoryPeak(uint64)                                 {}
func (NoopRecorder) IncCacheOp(CacheOp)                                   {}
func (NoopRecorder) IncTrigger(string)                                    {}
