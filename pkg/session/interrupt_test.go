package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterruptIdleSession(t *testing.T) {
	s := New("s1", nil, goPool{})

	id, outcome := s.Interrupt("")
	assert.Equal(t, Idle, outcome)
	assert.Empty(t, id)
}

func TestInterruptIDMismatch(t *testing.T) {
	s := New("s1", nil, goPool{})

	_, end := s.Begin("running-task")
	defer end()

	id, outcome := s.Interrupt("some-other-task")
	assert.Equal(t, NoMatch, outcome)
	assert.Equal(t, "running-task", id)
}

func TestInterruptMatchingTask(t *testing.T) {
	s := New("s1", nil, goPool{})

	ctx, end := s.Begin("task-1")
	defer end()

	id, outcome := s.Interrupt("task-1")
	require.Equal(t, Interrupted, outcome)
	assert.Equal(t, "task-1", id)
	assert.Error(t, ctx.Err(), "matched interrupt must cancel the task context")
}

func TestInterruptEmptyIDMatchesAnyTask(t *testing.T) {
	s := New("s1", nil, goPool{})

	ctx, end := s.Begin("whatever")
	defer end()

	id, outcome := s.Interrupt("")
	require.Equal(t, Interrupted, outcome)
	assert.Equal(t, "whatever", id)
	assert.Error(t, ctx.Err())
}

func TestEndClearsSlot(t *testing.T) {
	s := New("s1", nil, goPool{})

	ctx, end := s.Begin("task-1")
	assert.Equal(t, "task-1", s.ActiveTask())

	end()
	assert.Empty(t, s.ActiveTask())
	assert.Error(t, ctx.Err(), "end releases the task context")

	_, outcome := s.Interrupt("task-1")
	assert.Equal(t, Idle, outcome, "completed task must not be interruptible")
}

// TestInterruptNeverReportsStaleID races interrupts against task completion:
// whenever Interrupt claims success, the reported id must be a task that was
// genuinely active, never one that had already ended.
func TestInterruptNeverReportsStaleID(t *testing.T) {
	s := New("s1", nil, goPool{})

	const rounds = 500
	for i := 0; i < rounds; i++ {
		taskID := fmt.Sprintf("task-%d", i)
		_, end := s.Begin(taskID)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			end()
		}()
		go func() {
			defer wg.Done()
			if id, outcome := s.Interrupt(taskID); outcome == Interrupted {
				assert.Equal(t, taskID, id)
			}
		}()
		wg.Wait()

		// Whatever the race decided, the slot must be empty afterwards.
		_, outcome := s.Interrupt("")
		require.Equal(t, Idle, outcome)
	}
}
