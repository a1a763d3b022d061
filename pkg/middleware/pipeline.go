package middleware

import (
	"context"
	"sync/atomic"

	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/ports"
)

// pipelineState pairs a composite handler with the descriptors it was built
// from, so a swap publishes both as one value.
type pipelineState struct {
	handler     Handler
	descriptors []Descriptor
}

// Pipeline holds the active composite handler in a single atomically
// replaceable slot. In-flight dispatches run to completion against the
// snapshot they started with; no dispatch ever observes a partially swapped
// pipeline.
type Pipeline struct {
	state atomic.Pointer[pipelineState]
}

// NewPipeline composes the descriptors and installs the result.
func NewPipeline(descriptors ...Descriptor) (*Pipeline, error) {
	p := &Pipeline{}
	if err := p.Swap(descriptors...); err != nil {
		return nil, err
	}
	return p, nil
}

// Swap composes a new pipeline from the descriptors and installs it as one
// atomic update. On composition error the active pipeline is left untouched.
func (p *Pipeline) Swap(descriptors ...Descriptor) error {
	handler, err := Compose(descriptors)
	if err != nil {
		return err
	}
	ds := make([]Descriptor, len(descriptors))
	copy(ds, descriptors)
	p.state.Store(&pipelineState{handler: handler, descriptors: ds})
	return nil
}

// Dispatch routes the message through the pipeline active at call time.
func (p *Pipeline) Dispatch(ctx context.Context, msg domain.Message, t ports.Transport) error {
	return p.state.Load().handler.Handle(ctx, msg, t)
}

// Handler returns the current composite handler snapshot.
func (p *Pipeline) Handler() Handler {
	return p.state.Load().handler
}

// Descriptors returns the descriptors of the active pipeline.
func (p *Pipeline) Descriptors() []Descriptor {
	return p.state.Load().descriptors
}
