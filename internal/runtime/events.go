package runtime

import "time"

// Action is what the runtime is doing to a resource.
type Action string

const (
	ActionStart Action = "start"
	ActionStop  Action = "stop"
)

// Event reports progress on a single resource.
type Event struct {
	Resource string
	Type     string
	Action   Action
	Status   string // "started", "completed", "failed", "skipped"
	Duration time.Duration
	Error    error
}

// Callback receives progress events. It may be called from several goroutines.
type Callback func(Event)
