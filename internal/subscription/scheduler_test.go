package subscription

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchedulerRunsOnlyQueuedTasks(t *testing.T) {
	s := NewScheduler()
	var order []int

	s.Defer(func() {
		order = append(order, 1)
		s.Defer(func() { order = append(order, 3) })
	})
	s.Defer(func() { order = append(order, 2) })

	assert.Equal(t, 2, s.RunDeferred())
	assert.Equal(t, []int{1, 2}, order)
	assert.Equal(t, 1, s.Len())

	assert.Equal(t, 1, s.RunDeferred())
	assert.Equal(t, []int{1, 2, 3}, order)
	assert.Equal(t, 0, s.RunDeferred())
}

func TestSchedulerCancel(t *testing.T) {
	s := NewScheduler()
	ran := false

	task := s.Defer(func() { ran = true })
	assert.True(t, task.Pending())

	task.Cancel()
	assert.False(t, task.Pending())
	assert.Equal(t, 0, s.RunDeferred())
	if ran {
		t.Fatal("cancelled task ran")
	}
}
