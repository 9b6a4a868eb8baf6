package resource

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// State is the lifecycle state of a resource.
type State string

const (
	StateNotStarted    State = "NotStarted"
	StateWaiting       State = "Waiting"
	StateStarting      State = "Starting"
	StateRunning       State = "Running"
	StateFailedToStart State = "FailedToStart"
	StateExited        State = "Exited"
	StateFinished      State = "Finished"
)

// Terminal reports whether no further transition is expected.
func (s State) Terminal() bool {
	return s == StateFailedToStart || s == StateExited || s == StateFinished
}

// Snapshot is the published status of one resource.
type Snapshot struct {
	Resource   string            `json:"resource"`
	Type       string            `json:"type,omitempty"`
	State      State             `json:"state"`
	Error      string            `json:"error,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// Notifier holds the latest Snapshot of every resource and wakes waiters on change.
type Notifier struct {
	mu      sync.Mutex
	snaps   map[string]Snapshot
	changed chan struct{}
	subs    []func(Snapshot)
	now     func() time.Time
}

func NewNotifier() *Notifier {
	return &Notifier{snaps: map[string]Snapshot{}, changed: make(chan struct{}), now: time.Now}
}

// Publish applies update to the snapshot of name and notifies subscribers.
func (n *Notifier) Publish(name string, update func(Snapshot) Snapshot) {
	n.mu.Lock()
	key := strings.ToLower(name)
	prev, ok := n.snaps[key]
	if !ok {
		prev = Snapshot{Resource: name, State: StateNotStarted}
	}
	next := update(prev)
	next.Resource = prev.Resource
	next.UpdatedAt = n.now()
	n.snaps[key] = next

	close(n.changed)
	n.changed = make(chan struct{})
	subs := append([]func(Snapshot){}, n.subs...)
	n.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
}

// PublishState sets the state of name, clearing any previous error.
func (n *Notifier) PublishState(name string, state State) {
	n.Publish(name, func(s Snapshot) Snapshot {
		s.State = state
		s.Error = ""
		return s
	})
}

// PublishFailure marks name FailedToStart with err.
func (n *Notifier) PublishFailure(name string, err error) {
	n.Publish(name, func(s Snapshot) Snapshot {
		s.State = StateFailedToStart
		if err != nil {
			s.Error = err.Error()
		}
		return s
	})
}

// Subscribe registers fn for every published snapshot. fn must not call Publish.
func (n *Notifier) Subscribe(fn func(Snapshot)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = append(n.subs, fn)
}

func (n *Notifier) Get(name string) (Snapshot, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, ok := n.snaps[strings.ToLower(name)]
	return s, ok
}

// All returns every snapshot ordered by resource name.
func (n *Notifier) All() []Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Snapshot, 0, len(n.snaps))
	for _, s := range n.snaps {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Resource < out[j].Resource })
	return out
}

// WaitFor blocks until the snapshot of name satisfies pred or ctx is done.
func (n *Notifier) WaitFor(ctx context.Context, name string, pred func(Snapshot) bool) (Snapshot, error) {
	for {
		n.mu.Lock()
		s, ok := n.snaps[strings.ToLower(name)]
		changed := n.changed
		n.mu.Unlock()

		if ok && pred(s) {
			return s, nil
		}
		select {
		case <-ctx.Done():
			return s, ctx.Err()
		case <-changed:
		}
	}
}

// WaitForState blocks until name reaches one of states.
func (n *Notifier) WaitForState(ctx context.Context, name string, states ...State) (Snapshot, error) {
	return n.WaitFor(ctx, name, func(s Snapshot) bool {
		for _, st := range states {
			if s.State == st {
				return true
			}
		}
		return false
	})
}
