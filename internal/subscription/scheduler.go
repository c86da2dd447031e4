package subscription

// Task is a deferred callback.
type Task struct {
	fn        func()
	cancelled bool
	done      bool
}

// Cancel prevents a task that has not run yet from running.
func (t *Task) Cancel() {
	t.cancelled = true
}

// Pending reports whether the task will still run.
func (t *Task) Pending() bool {
	return !t.cancelled && !t.done
}

// Scheduler queues callbacks for the next engine tick.
type Scheduler struct {
	tasks []*Task
}

func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Defer queues fn for the next RunDeferred.
func (s *Scheduler) Defer(fn func()) *Task {
	t := &Task{fn: fn}
	s.tasks = append(s.tasks, t)
	return t
}

// RunDeferred runs the tasks queued before the call, in queue order. Tasks deferred
// while running wait for the next call. It returns the number of tasks run.
func (s *Scheduler) RunDeferred() int {
	if len(s.tasks) == 0 {
		return 0
	}

	tasks := s.tasks
	s.tasks = nil

	ran := 0
	for _, t := range tasks {
		if t.cancelled {
			continue
		}
		t.done = true
		t.fn()
		ran++
	}

	return ran
}

// Len returns the number of queued tasks, cancelled ones included.
func (s *Scheduler) Len() int {
	return len(s.tasks)
}
