package subscription

import (
	"context"
	"sync/atomic"

	"github.com/yanun0323/errors"

	"marketsub/internal/event"
	"marketsub/internal/model"
	"marketsub/pkg/exception"
)

// IncubationState of an Incubation.
type IncubationState uint32

const (
	IncubationWaiting IncubationState = iota
	IncubationReady
	IncubationCancelled
)

func (s IncubationState) String() string {
	switch s {
	case IncubationWaiting:
		return "waiting"
	case IncubationReady:
		return "ready"
	case IncubationCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Incubator waits for items to become usable. At most one incubation is
// outstanding; a new one cancels the previous.
type Incubator struct {
	manager *Manager
	current *Incubation
}

func NewIncubator(manager *Manager) *Incubator {
	return &Incubator{manager: manager}
}

// Incubate subscribes def and resolves once the item is online. The subscription
// belongs to the caller after the incubation is ready; a cancelled incubation
// releases it.
func (inc *Incubator) Incubate(def model.Definition) (*Incubation, error) {
	if inc.current != nil {
		inc.current.Cancel()
		inc.current = nil
	}

	item, err := inc.manager.Subscribe(def)
	if err != nil {
		return nil, err
	}

	in := &Incubation{
		manager: inc.manager,
		item:    item,
		done:    make(chan struct{}),
	}
	in.observer = item.Base().Observe(in.onEvent)
	if item.Base().Online() {
		inc.manager.scheduler.Defer(in.resolve)
	}
	inc.current = in

	return in, nil
}

// Current returns the outstanding incubation, or nil.
func (inc *Incubator) Current() *Incubation {
	return inc.current
}

// Incubation is a cancellable wait for one item. Done, State and Wait may be
// used from any goroutine; Cancel must run on the engine goroutine.
type Incubation struct {
	manager  *Manager
	item     DataItem
	observer event.ID
	state    atomic.Uint32
	done     chan struct{}
}

func (in *Incubation) onEvent(e Event) {
	switch e.Kind {
	case EventBadnessChange:
		if e.New.IsUsable() {
			in.resolve()
		}
	case EventDestroyed:
		// torn down underneath us, possibly before it ever started
		if in.state.CompareAndSwap(uint32(IncubationWaiting), uint32(IncubationCancelled)) {
			e.Item.Unobserve(in.observer)
			close(in.done)
		}
	}
}

func (in *Incubation) resolve() {
	if !in.state.CompareAndSwap(uint32(IncubationWaiting), uint32(IncubationReady)) {
		return
	}
	in.item.Base().Unobserve(in.observer)
	close(in.done)
}

// Cancel abandons a waiting incubation and releases its subscription.
func (in *Incubation) Cancel() {
	if !in.state.CompareAndSwap(uint32(IncubationWaiting), uint32(IncubationCancelled)) {
		return
	}
	base := in.item.Base()
	base.Unobserve(in.observer)
	close(in.done)
	in.manager.Unsubscribe(in.item)
}

// Done is closed once the incubation is ready or cancelled.
func (in *Incubation) Done() <-chan struct{} {
	return in.done
}

func (in *Incubation) State() IncubationState {
	return IncubationState(in.state.Load())
}

// Item returns the incubated item.
func (in *Incubation) Item() DataItem {
	return in.item
}

// Wait blocks until the incubation resolves or ctx ends.
func (in *Incubation) Wait(ctx context.Context) (DataItem, error) {
	select {
	case <-in.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if in.State() != IncubationReady {
		return nil, errors.Wrap(exception.ErrIncubationCancelled, "wait").With("item", in.item.Base().String())
	}
	return in.item, nil
}
