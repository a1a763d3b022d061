// Package middleware assembles a total request-handling pipeline from
// independently authored handlers declaring capability dependencies, and
// supports replacing the active pipeline atomically at runtime.
package middleware

import (
	"context"

	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/ports"
)

// Handler services request messages, sending any responses over the
// request's transport. Handlers are invoked only for ops they declared in
// their descriptor; ops they do not own are delegated by the composite.
type Handler interface {
	Handle(ctx context.Context, msg domain.Message, t ports.Transport) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg domain.Message, t ports.Transport) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg domain.Message, t ports.Transport) error {
	return f(ctx, msg, t)
}

// Descriptor declares a handler's capabilities for composition. Descriptors
// are used only at composition time and are immutable once built into a
// pipeline.
type Descriptor struct {
	// Name is the capability name, conventionally the handler's primary op.
	Name string

	// Handles maps each op name the handler owns to its documentation.
	Handles map[string]string

	// Requires lists capability names that must be ordered strictly before
	// this handler in the final pipeline.
	Requires []string

	// Expects lists capability names that must exist somewhere in the final
	// set, without imposing an ordering edge.
	Expects []string

	// Handler services the ops in Handles.
	Handler Handler
}

// provides returns the capability names this descriptor contributes:
// its Name plus every op it handles.
func (d Descriptor) provides() []string {
	caps := make([]string, 0, len(d.Handles)+1)
	if d.Name != "" {
		caps = append(caps, d.Name)
	}
	for op := range d.Handles {
		if op != d.Name {
			caps = append(caps, op)
		}
	}
	return caps
}
