package middleware

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/ports"
)

// CompositionError reports why a set of descriptors cannot be composed.
// Composition errors are configuration errors: fatal at startup or hot-swap,
// never silently dropped.
type CompositionError struct {
	// Missing lists required or expected capabilities no descriptor provides.
	Missing []string
	// Duplicated lists capabilities provided by more than one descriptor.
	Duplicated []string
	// Cycle lists descriptor names participating in a Requires cycle.
	Cycle []string
}

func (e *CompositionError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing capabilities: %s", strings.Join(e.Missing, ", ")))
	}
	if len(e.Duplicated) > 0 {
		parts = append(parts, fmt.Sprintf("capabilities provided more than once: %s", strings.Join(e.Duplicated, ", ")))
	}
	if len(e.Cycle) > 0 {
		parts = append(parts, fmt.Sprintf("requires cycle between: %s", strings.Join(e.Cycle, ", ")))
	}
	return "middleware composition failed: " + strings.Join(parts, "; ")
}

// Compose validates the descriptor set, orders it topologically (stable:
// ties broken by submission order), and folds it right-to-left into one
// composite handler. Control passes to the first handler owning the
// message's op; if no handler owns it, a terminal "unknown-op" response is
// produced.
func Compose(descriptors []Descriptor) (Handler, error) {
	order, err := sortDescriptors(descriptors)
	if err != nil {
		return nil, err
	}
	return fold(order), nil
}

// sortDescriptors resolves capabilities and returns the descriptors in a
// stable topological order of the Requires relation.
func sortDescriptors(descriptors []Descriptor) ([]Descriptor, error) {
	cerr := &CompositionError{}

	// Resolve each capability to the single descriptor providing it.
	providers := make(map[string]int, len(descriptors))
	for i, d := range descriptors {
		for _, cap := range d.provides() {
			if prev, dup := providers[cap]; dup && prev != i {
				cerr.Duplicated = append(cerr.Duplicated, cap)
				continue
			}
			providers[cap] = i
		}
	}

	missing := map[string]bool{}
	for _, d := range descriptors {
		for _, cap := range append(append([]string{}, d.Requires...), d.Expects...) {
			if _, ok := providers[cap]; !ok {
				missing[cap] = true
			}
		}
	}
	for cap := range missing {
		cerr.Missing = append(cerr.Missing, cap)
	}
	sort.Strings(cerr.Missing)
	if len(cerr.Missing) > 0 || len(cerr.Duplicated) > 0 {
		return nil, cerr
	}

	// Kahn's algorithm; the provider of a required capability must come
	// strictly before the requirer. Ties resolve to the earliest submitted
	// descriptor, so composition is deterministic.
	indegree := make([]int, len(descriptors))
	edges := make([][]int, len(descriptors))
	for i, d := range descriptors {
		for _, cap := range d.Requires {
			from := providers[cap]
			if from == i {
				continue
			}
			edges[from] = append(edges[from], i)
			indegree[i]++
		}
	}

	order := make([]Descriptor, 0, len(descriptors))
	done := make([]bool, len(descriptors))
	for len(order) < len(descriptors) {
		next := -1
		for i := range descriptors {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next == -1 {
			for i, d := range descriptors {
				if !done[i] {
					cerr.Cycle = append(cerr.Cycle, d.Name)
				}
			}
			return nil, cerr
		}
		done[next] = true
		order = append(order, descriptors[next])
		for _, to := range edges[next] {
			indegree[to]--
		}
	}
	return order, nil
}

// fold chains the ordered descriptors so each handler sees only ops it owns
// and delegates the rest down the chain.
func fold(order []Descriptor) Handler {
	next := Handler(HandlerFunc(unknownOp))
	for i := len(order) - 1; i >= 0; i-- {
		d := order[i]
		inner := next
		next = HandlerFunc(func(ctx context.Context, msg domain.Message, t ports.Transport) error {
			if _, ok := d.Handles[msg.Op()]; ok {
				return d.Handler.Handle(ctx, msg, t)
			}
			return inner.Handle(ctx, msg, t)
		})
	}
	return next
}

// unknownOp is the terminal handler for ops nothing in the pipeline owns.
func unknownOp(ctx context.Context, msg domain.Message, t ports.Transport) error {
	return t.Send(msg.Reply(domain.Message{
		domain.FieldStatus: domain.DoneStatus(domain.StatusError, domain.StatusUnknownOp),
	}))
}
