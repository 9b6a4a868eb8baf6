// Package resource is the declarative resource model: containers, endpoints, parameters,
// data stores and the identity-provider service with its projects.
//
// Resources are plain values built at declaration time. Values that only exist once the
// stack runs (allocated ports, generated passwords, provisioned ids) are reached through
// ValueProvider so they can be resolved lazily, or rendered as placeholders when the stack
// is published instead of run.
package resource

import (
	"context"
	"fmt"
)

// Resource is anything that can be declared in a stack.
type Resource interface {
	Name() string
}

// ResourceWithParent is a resource nested under another one, like a database on a server.
type ResourceWithParent interface {
	Resource
	Parent() Resource
}

// ContainerResource is a resource backed by a container.
type ContainerResource interface {
	Resource
	AsContainer() *Container
}

// ConnectionStringResource exposes a connection string built from value parts.
type ConnectionStringResource interface {
	Resource
	ConnectionStringExpression() *ReferenceExpression
}

// Waiter is a resource that must not start before others are ready.
type Waiter interface {
	Waits() []Resource
}

// Mode is how a stack is being processed.
type Mode int

const (
	// ModeRun starts the stack locally.
	ModeRun Mode = iota
	// ModePublish renders a manifest without starting anything.
	ModePublish
)

func (m Mode) String() string {
	switch m {
	case ModeRun:
		return "run"
	case ModePublish:
		return "publish"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ExecutionContext tells declarations and callbacks how the stack is being processed.
type ExecutionContext struct {
	Mode Mode
}

func (e ExecutionContext) IsRunMode() bool     { return e.Mode == ModeRun }
func (e ExecutionContext) IsPublishMode() bool { return e.Mode == ModePublish }

// Render resolves v for the given execution context. In publish mode providers that
// carry a manifest expression are rendered as that expression instead of being evaluated.
func Render(ctx context.Context, ec ExecutionContext, v ValueProvider) (string, error) {
	if v == nil {
		return "", nil
	}
	if ec.IsPublishMode() {
		if m, ok := v.(ManifestExpression); ok {
			return m.ManifestExpression(), nil
		}
	}
	return v.Value(ctx)
}
