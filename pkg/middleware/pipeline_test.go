package middleware

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/ports"
)

func TestPipelineDispatch(t *testing.T) {
	var hits []string
	p, err := NewPipeline(desc("a", []string{"op-a"}, nil, nil, namedHandler("a", &hits)))
	require.NoError(t, err)

	tr := &recordingTransport{}
	require.NoError(t, p.Dispatch(context.Background(), domain.Message{domain.FieldOp: "op-a"}, tr))
	assert.Equal(t, []string{"a"}, hits)
}

func TestPipelineSwapReplacesHandlerSet(t *testing.T) {
	var hits []string
	p, err := NewPipeline(desc("a", []string{"op-a"}, nil, nil, namedHandler("a", &hits)))
	require.NoError(t, err)

	require.NoError(t, p.Swap(
		desc("a", []string{"op-a"}, nil, nil, namedHandler("a2", &hits)),
		desc("b", []string{"op-b"}, nil, nil, namedHandler("b", &hits)),
	))

	tr := &recordingTransport{}
	require.NoError(t, p.Dispatch(context.Background(), domain.Message{domain.FieldOp: "op-a"}, tr))
	require.NoError(t, p.Dispatch(context.Background(), domain.Message{domain.FieldOp: "op-b"}, tr))
	assert.Equal(t, []string{"a2", "b"}, hits)
	assert.Len(t, p.Descriptors(), 2)
}

func TestPipelineFailedSwapKeepsActiveSet(t *testing.T) {
	var hits []string
	p, err := NewPipeline(desc("a", []string{"op-a"}, nil, nil, namedHandler("a", &hits)))
	require.NoError(t, err)

	err = p.Swap(desc("b", []string{"op-b"}, []string{"ghost"}, nil, nil))
	require.Error(t, err)

	tr := &recordingTransport{}
	require.NoError(t, p.Dispatch(context.Background(), domain.Message{domain.FieldOp: "op-a"}, tr))
	assert.Equal(t, []string{"a"}, hits, "failed swap must leave the old pipeline serving")
}

// TestPipelineSwapIsAtomicUnderDispatch hammers Dispatch while swapping
// between two self-consistent sets. Every dispatch must land in exactly one
// of them; none may observe a torn pipeline (routing an op neither set owns).
func TestPipelineSwapIsAtomicUnderDispatch(t *testing.T) {
	var hitsA, hitsB atomic.Int64

	handlerA := desc("h", []string{"op"}, nil, nil, countingHandler(&hitsA))
	handlerB := desc("h", []string{"op"}, nil, nil, countingHandler(&hitsB))

	p, err := NewPipeline(handlerA)
	require.NoError(t, err)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if i%2 == 0 {
				_ = p.Swap(handlerB)
			} else {
				_ = p.Swap(handlerA)
			}
		}
	}()

	tr := &recordingTransport{}
	const n = 5000
	for i := 0; i < n; i++ {
		require.NoError(t, p.Dispatch(context.Background(), domain.Message{domain.FieldOp: "op"}, tr))
	}
	close(stop)
	wg.Wait()

	assert.Empty(t, tr.sent, "no dispatch may fall through to unknown-op during swaps")
	assert.Equal(t, int64(n), hitsA.Load()+hitsB.Load())
}

func countingHandler(hits *atomic.Int64) Handler {
	return HandlerFunc(func(context.Context, domain.Message, ports.Transport) error {
		hits.Add(1)
		return nil
	})
}
