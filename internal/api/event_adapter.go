package api

import (
	"lmmpower/app"
)

// SSEEventBroadcaster adapts the SSEHub to app.ProgressFunc
type SSEEventBroadcaster struct {
	sseHub *SSEHub
}

// NewSSEEventBroadcaster creates a new SSE event broadcaster
func NewSSEEventBroadcaster(sseHub *SSEHub) *SSEEventBroadcaster {
	return &SSEEventBroadcaster{sseHub: sseHub}
}

// Publish forwards a run progress event to subscribers
func (seb *SSEEventBroadcaster) Publish(event app.ProgressEvent) {
	seb.sseHub.Broadcast(RunEvent{
		RunID:     event.RunID.String(),
		Stage:     event.Stage,
		Completed: event.Completed,
		Total:     event.Total,
		Progress:  event.Fraction(),
		Message:   event.Message,
		Timestamp: event.Time,
	})
}

func terminal(stage string) bool {
	switch stage {
	case app.StageFinished, app.StageFailed, app.StageCached:
		return true
	}
	return false
}
