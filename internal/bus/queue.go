package bus

import (
	"errors"
	"sync/atomic"

	"marketsub/internal/model"
)

var (
	ErrQueueFull   = errors.New("message queue full")
	ErrQueueClosed = errors.New("message queue closed")
)

// Queue is a bounded, non-blocking data message queue. Transport goroutines
// publish into it and the engine goroutine drains it once per tick.
type Queue struct {
	ch     chan model.DataMessage
	closed uint32
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan model.DataMessage, capacity)}
}

// TryPublish enqueues a message without blocking.
func (q *Queue) TryPublish(msg model.DataMessage) (err error) {
	if atomic.LoadUint32(&q.closed) != 0 {
		return ErrQueueClosed
	}
	defer func() {
		// a concurrent Close may win between the check above and the send
		if recover() != nil {
			err = ErrQueueClosed
		}
	}()
	select {
	case q.ch <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Drain appends every buffered message to dst without blocking.
// It returns nil when nothing was buffered and dst was nil.
func (q *Queue) Drain(dst []model.DataMessage) []model.DataMessage {
	for {
		select {
		case msg, ok := <-q.ch:
			if !ok {
				return dst
			}
			dst = append(dst, msg)
		default:
			return dst
		}
	}
}

// Len returns the number of buffered messages.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops the queue from accepting new messages. Buffered messages can still
// be drained.
func (q *Queue) Close() {
	if atomic.CompareAndSwapUint32(&q.closed, 0, 1) {
		close(q.ch)
	}
}
