package resource

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// ReadyHandler runs when a resource becomes ready.
type ReadyHandler func(ctx context.Context, r Resource) error

// Events delivers resource-ready events to subscribers.
type Events struct {
	mu    sync.Mutex
	ready map[string][]ReadyHandler
}

func NewEvents() *Events {
	return &Events{ready: map[string][]ReadyHandler{}}
}

// OnReady subscribes h to the ready event of r.
func (e *Events) OnReady(r Resource, h ReadyHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := strings.ToLower(r.Name())
	e.ready[key] = append(e.ready[key], h)
}

// PublishReady runs the handlers of r in subscription order and stops at the first error.
func (e *Events) PublishReady(ctx context.Context, r Resource) error {
	e.mu.Lock()
	handlers := append([]ReadyHandler(nil), e.ready[strings.ToLower(r.Name())]...)
	e.mu.Unlock()

	for _, h := range handlers {
		if err := h(ctx, r); err != nil {
			return fmt.Errorf("ready handler for %s: %w", r.Name(), err)
		}
	}
	return nil
}
