package app

import (
	"sync/atomic"
	"time"

	"lmmpower/domain/core"
)

// Progress stages reported while a run executes
const (
	StageStarted    = "started"
	StageBaseline   = "baseline"
	StageReplicates = "replicates"
	StageFinished   = "finished"
	StageFailed     = "failed"
	StageCached     = "cached"
)

// ProgressEvent reports how far a run has come
type ProgressEvent struct {
	RunID     core.RunID
	Stage     string
	Completed int
	Total     int
	Message   string
	Time      time.Time
}

// Fraction returns the completed share of replicates
func (e ProgressEvent) Fraction() float64 {
	if e.Total <= 0 {
		return 0
	}
	return float64(e.Completed) / float64(e.Total)
}

// ProgressFunc receives progress events. It is called from worker goroutines
// and must not block.
type ProgressFunc func(ProgressEvent)

// WithProgress reports run progress to fn
func WithProgress(fn ProgressFunc) PowerServiceOption {
	return func(s *PowerService) { s.progress = fn }
}

// replicateCounter emits a replicates event roughly every percent of the run
type replicateCounter struct {
	done  atomic.Int64
	total int
	every int
	emit  func(completed int)
}

func newReplicateCounter(total int, emit func(completed int)) *replicateCounter {
	every := total / 100
	if every < 1 {
		every = 1
	}
	return &replicateCounter{total: total, every: every, emit: emit}
}

func (c *replicateCounter) add() {
	n := int(c.done.Add(1))
	if n%c.every == 0 || n == c.total {
		c.emit(n)
	}
}
