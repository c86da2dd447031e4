package subscription

import (
	"strconv"
	"time"

	ierrors "marketsub/internal/errors"
	"marketsub/internal/event"
	"marketsub/internal/logger"
	"marketsub/internal/model"
	"marketsub/internal/model/enum"
	"marketsub/internal/publisher"
)

// DataItem is the concrete, channel specific part of a subscription. Implementations
// embed the *Item handed to their factory (directly or through *PublisherItem).
type DataItem interface {
	Base() *Item
	OnStart()
	OnStop()
	ProcessMessage(msg model.DataMessage)
	CalculateUsabilityBadness() model.Badness
}

// DataItemFactory builds the concrete item around a base created by the manager.
type DataItemFactory interface {
	CreateDataItem(base *Item) (DataItem, error)
}

// lifecycle is implemented by the owner of every item.
type lifecycle interface {
	wantActivation(item *Item)
	cancelWantActivation(item *Item)
	keepActivation(item *Item)
	availableForDeactivation(item *Item)
	requirePublisher(typeID enum.PublisherType) (publisher.Publisher, error)
	requireDestruction(item *Item)
	requireDataItem(def model.Definition) (DataItem, error)
	releaseDataItem(item DataItem)
}

// State of an item.
type State uint8

const (
	StateInactive State = iota
	StateActivationPending
	StateStarting
	StateStarted
	StateDeactivationDelayed
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateActivationPending:
		return "activation_pending"
	case StateStarting:
		return "starting"
	case StateStarted:
		return "started"
	case StateDeactivationDelayed:
		return "deactivation_delayed"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// EventKind of an item event.
type EventKind uint8

const (
	EventBeginChanges EventKind = iota + 1
	EventEndChanges
	EventBadnessChange
	// EventDestroyed fires once when the item is torn down, whatever state it was in.
	EventDestroyed
)

// Event is delivered to item observers. Old and New are set for EventBadnessChange.
type Event struct {
	Kind EventKind
	Item *Item
	Old  model.Badness
	New  model.Badness
}

// Item is the subscription state machine shared by every data item.
type Item struct {
	id         model.DataItemID
	definition model.Definition
	owner      lifecycle
	scheduler  *Scheduler
	sink       logger.Sink
	self       DataItem

	subscribeCount  int
	activeRequestNr model.RequestNr

	active              bool
	started             bool
	deactivationDelayed bool
	pending             bool
	destroyed           bool
	delayedUntil        time.Time
	startTask           *Task

	badness model.Badness
	online  bool

	updateDepth int
	changed     bool
	events      event.Multi[Event]

	nested []DataItem
}

func newItem(id model.DataItemID, def model.Definition, owner lifecycle, scheduler *Scheduler, sink logger.Sink) *Item {
	return &Item{
		id:         id,
		definition: def,
		owner:      owner,
		scheduler:  scheduler,
		sink:       logger.Or(sink),
		badness:    model.NewBadness(enum.BadnessReasonInactive, ""),
	}
}

func (it *Item) Base() *Item {
	return it
}

func (it *Item) ID() model.DataItemID {
	return it.id
}

func (it *Item) Definition() model.Definition {
	return it.definition
}

func (it *Item) Channel() enum.Channel {
	return it.definition.Channel()
}

func (it *Item) SubscribeCount() int {
	return it.subscribeCount
}

// ActiveRequestNr is bumped on every start and resubscribe. Messages carrying an
// older number are stale.
func (it *Item) ActiveRequestNr() model.RequestNr {
	return it.activeRequestNr
}

func (it *Item) Active() bool {
	return it.active
}

func (it *Item) Started() bool {
	return it.started
}

func (it *Item) DeactivationDelayed() bool {
	return it.deactivationDelayed
}

func (it *Item) Destroyed() bool {
	return it.destroyed
}

func (it *Item) Badness() model.Badness {
	return it.badness
}

// Sink is the diagnostics sink of the owning manager.
func (it *Item) Sink() logger.Sink {
	return it.sink
}

// Online reports whether the item currently holds usable data.
func (it *Item) Online() bool {
	return it.online
}

func (it *Item) State() State {
	switch {
	case it.destroyed:
		return StateDestroyed
	case it.deactivationDelayed:
		return StateDeactivationDelayed
	case it.started:
		return StateStarted
	case it.active:
		return StateStarting
	case it.pending:
		return StateActivationPending
	default:
		return StateInactive
	}
}

func (it *Item) String() string {
	return it.definition.String() + "#" + strconv.FormatUint(uint64(it.id), 10)
}

// Observe registers an observer of change and badness events.
func (it *Item) Observe(fn func(Event)) event.ID {
	return it.events.Subscribe(fn)
}

func (it *Item) Unobserve(id event.ID) {
	it.events.Unsubscribe(id)
}

// BeginUpdate opens an update batch. Batches nest.
func (it *Item) BeginUpdate() {
	it.updateDepth++
}

// EndUpdate closes an update batch. The outermost EndUpdate fires one
// begin/end changes pair when anything changed inside the batch.
func (it *Item) EndUpdate() {
	ierrors.Assert(it.updateDepth > 0, "DI-UPD-01", it.String())
	it.updateDepth--
	if it.updateDepth > 0 || !it.changed {
		return
	}

	it.changed = false
	it.events.Notify(Event{Kind: EventBeginChanges, Item: it})
	it.events.Notify(Event{Kind: EventEndChanges, Item: it})
}

// NotifyUpdateChange marks the current update batch as changed. Outside a batch it
// does nothing.
func (it *Item) NotifyUpdateChange() {
	if it.updateDepth > 0 {
		it.changed = true
	}
}

// UpdateBadness recalculates the usability of the item and notifies observers of a
// transition. An item that is not started is always inactive.
func (it *Item) UpdateBadness() {
	next := model.NewBadness(enum.BadnessReasonInactive, "")
	if it.started && it.self != nil {
		next = it.self.CalculateUsabilityBadness()
	}
	if next == it.badness {
		return
	}

	prev := it.badness
	it.badness = next
	it.online = next.IsUsable()
	it.NotifyUpdateChange()
	it.events.Notify(Event{Kind: EventBadnessChange, Item: it, Old: prev, New: next})
}

// RequirePublisher returns the publisher serving the item's publisher type.
func (it *Item) RequirePublisher() (publisher.Publisher, error) {
	return it.owner.requirePublisher(it.definition.PublisherType())
}

// RequireDataItem subscribes a nested item. Nested items still held when the item
// is deactivated are released with it.
func (it *Item) RequireDataItem(def model.Definition) (DataItem, error) {
	nested, err := it.owner.requireDataItem(def)
	if err != nil {
		return nil, err
	}
	it.nested = append(it.nested, nested)
	return nested, nil
}

// ReleaseDataItem unsubscribes a nested item obtained from RequireDataItem.
func (it *Item) ReleaseDataItem(nested DataItem) {
	for i, n := range it.nested {
		if n == nested {
			it.nested = append(it.nested[:i], it.nested[i+1:]...)
			it.owner.releaseDataItem(nested)
			return
		}
	}
	ierrors.Fail("DI-NST-01", it.String())
}

func (it *Item) incSubscribeCount() {
	ierrors.Assert(!it.destroyed, "DI-INC-01", it.String())
	it.subscribeCount++
	if it.subscribeCount != 1 {
		return
	}

	switch {
	case !it.definition.Referencable():
		it.activate()
	case it.deactivationDelayed:
		it.owner.keepActivation(it)
	default:
		it.owner.wantActivation(it)
	}
}

func (it *Item) decSubscribeCount() {
	ierrors.Assert(it.subscribeCount > 0, "DI-DEC-01", it.String())
	it.subscribeCount--
	if it.subscribeCount > 0 {
		return
	}

	switch {
	case !it.definition.Referencable():
		it.deactivate()
	case it.pending:
		it.owner.cancelWantActivation(it)
		it.deactivate()
	default:
		it.owner.availableForDeactivation(it)
	}
}

// activate defers start by one scheduler tick so the owner can finish binding to
// the item's events before any traffic reaches it.
func (it *Item) activate() {
	ierrors.Assert(!it.destroyed, "DI-ACT-01", it.String())
	if it.active {
		return
	}

	it.active = true
	it.pending = false
	it.startTask = it.scheduler.Defer(it.start)
}

func (it *Item) start() {
	it.startTask = nil
	if !it.active || it.started || it.destroyed {
		return
	}

	it.started = true
	it.nextRequestNr()

	it.BeginUpdate()
	it.self.OnStart()
	it.UpdateBadness()
	it.EndUpdate()
}

func (it *Item) stop() {
	it.self.OnStop()
	it.started = false
}

// deactivate is terminal. The owner drops the item on requireDestruction.
func (it *Item) deactivate() {
	ierrors.Assert(!it.destroyed, "DI-DEA-01", it.String())

	if it.started {
		it.stop()
	} else if it.startTask != nil {
		it.startTask.Cancel()
		it.startTask = nil
	}

	it.active = false
	it.pending = false
	it.deactivationDelayed = false
	it.delayedUntil = time.Time{}
	it.UpdateBadness()

	nested := it.nested
	it.nested = nil
	for _, n := range nested {
		it.owner.releaseDataItem(n)
	}

	it.destroyed = true
	it.events.Notify(Event{Kind: EventDestroyed, Item: it})
	it.owner.requireDestruction(it)
}

func (it *Item) notifyDeactivationDelayed(until time.Time) {
	it.deactivationDelayed = true
	it.delayedUntil = until
}

func (it *Item) hasDeactivationDelayExpired(now time.Time) bool {
	return it.deactivationDelayed && !now.Before(it.delayedUntil)
}

func (it *Item) notifyKeepActivation() {
	it.deactivationDelayed = false
	it.delayedUntil = time.Time{}
}

// processMessage hands a routed message to the concrete item inside one update batch.
func (it *Item) processMessage(msg model.DataMessage) {
	it.BeginUpdate()
	defer it.EndUpdate()
	it.self.ProcessMessage(msg)
}

// nextRequestNr supersedes the active request. The broadcast number is skipped on
// wrap around.
func (it *Item) nextRequestNr() model.RequestNr {
	it.activeRequestNr++
	if it.activeRequestNr.IsBroadcast() {
		it.activeRequestNr++
	}
	return it.activeRequestNr
}
