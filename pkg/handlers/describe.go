package handlers

import (
	"context"
	"runtime"

	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/middleware"
	"github.com/aretw0/arbor/pkg/ports"
)

// Describe services the "describe" op: it aggregates the op documentation of
// every descriptor in the active pipeline. It expects the eval capability to
// exist in the set but imposes no ordering on it.
type Describe struct {
	descriptors func() []middleware.Descriptor
	versions    map[string]string
}

// NewDescribe creates the describe handler. descriptors supplies the active
// pipeline's descriptor snapshot; versions is merged into the response.
func NewDescribe(descriptors func() []middleware.Descriptor, versions map[string]string) *Describe {
	return &Describe{descriptors: descriptors, versions: versions}
}

// Descriptor declares the describe capability.
func (h *Describe) Descriptor() middleware.Descriptor {
	return middleware.Descriptor{
		Name: "describe",
		Handles: map[string]string{
			"describe": "Describe the ops and versions of the running server.",
		},
		Expects: []string{"eval"},
		Handler: h,
	}
}

// Handle aggregates op docs from the pipeline active at call time.
func (h *Describe) Handle(ctx context.Context, msg domain.Message, t ports.Transport) error {
	ops := make(map[string]map[string]string)
	for _, d := range h.descriptors() {
		for op, doc := range d.Handles {
			ops[op] = map[string]string{"doc": doc}
		}
	}

	versions := map[string]string{"go": runtime.Version()}
	for k, v := range h.versions {
		versions[k] = v
	}

	return t.Send(msg.Reply(domain.Message{
		domain.FieldOps:      ops,
		domain.FieldVersions: versions,
		domain.FieldStatus:   domain.DoneStatus(),
	}))
}
