package workers

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	p := New(2)

	var inFlight, maxSeen atomic.Int32
	for i := 0; i < 20; i++ {
		p.Submit(func() {
			cur := inFlight.Add(1)
			for {
				prev := maxSeen.Load()
				if cur <= prev || maxSeen.CompareAndSwap(prev, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
		})
	}
	p.Wait()

	assert.LessOrEqual(t, maxSeen.Load(), int32(2))
	assert.Equal(t, int32(0), inFlight.Load())
}

func TestPoolSubmitDoesNotBlock(t *testing.T) {
	p := New(1)

	release := make(chan struct{})
	p.Submit(func() { <-release })

	done := make(chan struct{})
	go func() {
		// With one busy slot, submission must still return immediately.
		p.Submit(func() {})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a saturated pool")
	}
	close(release)
	p.Wait()
}

func TestPoolRecoversPanics(t *testing.T) {
	p := New(1)

	var ran atomic.Bool
	p.Submit(func() { panic("worker exploded") })
	p.Submit(func() { ran.Store(true) })
	p.Wait()

	assert.True(t, ran.Load(), "a panicking thunk must not take the pool down")
}

func TestPoolZeroSizeClampsToOne(t *testing.T) {
	p := New(0)
	var ran atomic.Bool
	p.Submit(func() { ran.Store(true) })
	p.Wait()
	assert.True(t, ran.Load())
}
