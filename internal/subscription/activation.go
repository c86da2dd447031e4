package subscription

import (
	"time"

	ierrors "marketsub/internal/errors"
	"marketsub/internal/model/enum"
	"marketsub/internal/obs"
)

// ActivationConfig is the activation policy of one channel.
type ActivationConfig struct {
	// ActiveSubscriptionsLimit caps the active items of the channel. Zero or less is
	// unlimited.
	ActiveSubscriptionsLimit int
	// DeactivationDelay is the grace period of an item nobody subscribes to anymore.
	DeactivationDelay time.Duration
	// CacheDataSubscriptions keeps expired items active until their capacity is
	// needed.
	CacheDataSubscriptions bool
}

// activationOwner brackets bursts of activation changes.
type activationOwner interface {
	beginMultipleActivationChanges()
	endMultipleActivationChanges()
}

// ActivationManager admits and evicts the referencable items of one channel.
//
// Admission is FIFO in want order. Eviction is FIFO in the order items became
// available for deactivation. Available items still count as active.
type ActivationManager struct {
	channel enum.Channel
	cfg     ActivationConfig
	owner   activationOwner
	now     func() time.Time
	metrics *obs.Metrics

	active    map[*Item]struct{}
	wanting   []*Item
	available []*Item

	rebalancing bool
}

func NewActivationManager(channel enum.Channel, cfg ActivationConfig, owner activationOwner, now func() time.Time, metrics *obs.Metrics) *ActivationManager {
	if now == nil {
		now = time.Now
	}
	return &ActivationManager{
		channel: channel,
		cfg:     cfg,
		owner:   owner,
		now:     now,
		metrics: metrics,
		active:  make(map[*Item]struct{}),
	}
}

func (a *ActivationManager) Channel() enum.Channel {
	return a.channel
}

func (a *ActivationManager) Config() ActivationConfig {
	return a.cfg
}

func (a *ActivationManager) ActiveCount() int {
	return len(a.active)
}

func (a *ActivationManager) WantingCount() int {
	return len(a.wanting)
}

func (a *ActivationManager) AvailableCount() int {
	return len(a.available)
}

func (a *ActivationManager) unlimited() bool {
	return a.cfg.ActiveSubscriptionsLimit <= 0
}

func (a *ActivationManager) hasCapacity() bool {
	return a.unlimited() || len(a.active) < a.cfg.ActiveSubscriptionsLimit
}

// WantActivation admits item when there is capacity, otherwise queues it.
func (a *ActivationManager) WantActivation(item *Item) {
	if _, ok := a.active[item]; ok {
		return
	}
	if indexOf(a.wanting, item) >= 0 {
		return
	}

	item.pending = true
	a.wanting = append(a.wanting, item)
	a.rebalance()
}

// CancelWantActivation removes a queued item before admission.
func (a *ActivationManager) CancelWantActivation(item *Item) {
	if i := indexOf(a.wanting, item); i >= 0 {
		a.wanting = removeAt(a.wanting, i)
	}
	item.pending = false
}

// KeepActivation cancels the pending deactivation of an item that is wanted again.
func (a *ActivationManager) KeepActivation(item *Item) {
	if i := indexOf(a.available, item); i >= 0 {
		a.available = removeAt(a.available, i)
	}
	item.notifyKeepActivation()
}

// AvailableForDeactivation starts the grace period of an active item. The item is
// evicted at once when the channel has no grace period or when queued items need
// its capacity.
func (a *ActivationManager) AvailableForDeactivation(item *Item) {
	_, ok := a.active[item]
	ierrors.Assert(ok, "AM-AVL-01", item.String())
	if indexOf(a.available, item) >= 0 {
		return
	}

	if (a.cfg.DeactivationDelay <= 0 && !a.cfg.CacheDataSubscriptions) || len(a.wanting) > 0 {
		a.evict(item)
		a.rebalance()
		return
	}

	item.notifyDeactivationDelayed(a.now().Add(a.cfg.DeactivationDelay))
	a.available = append(a.available, item)
}

// DeactivateAvailable evicts an item waiting out its grace period.
func (a *ActivationManager) DeactivateAvailable(item *Item) {
	if indexOf(a.available, item) < 0 {
		return
	}

	a.evict(item)
	a.rebalance()
}

// CheckForDeactivations evicts every available item whose grace period expired.
// With CacheDataSubscriptions expired items stay until their capacity is needed.
func (a *ActivationManager) CheckForDeactivations(now time.Time) int {
	if a.cfg.CacheDataSubscriptions || len(a.available) == 0 {
		return 0
	}

	var expired []*Item
	for _, item := range a.available {
		if item.hasDeactivationDelayExpired(now) {
			expired = append(expired, item)
		}
	}
	if len(expired) == 0 {
		return 0
	}

	if len(expired) > 1 {
		a.owner.beginMultipleActivationChanges()
		defer a.owner.endMultipleActivationChanges()
	}
	for _, item := range expired {
		if item.destroyed {
			continue
		}
		a.evict(item)
	}

	return len(expired)
}

// SetActiveSubscriptionsLimit changes the capacity at runtime. Raising it admits
// queued items. Lowering it evicts available items down to the new limit; wanted
// items stay active until they become available.
func (a *ActivationManager) SetActiveSubscriptionsLimit(limit int) {
	a.cfg.ActiveSubscriptionsLimit = limit

	if !a.unlimited() && len(a.active) > limit && len(a.available) > 0 {
		a.owner.beginMultipleActivationChanges()
		for len(a.active) > limit && len(a.available) > 0 {
			a.evict(a.available[0])
		}
		a.owner.endMultipleActivationChanges()
	}

	a.rebalance()
}

// ForceDeactivate tears item down regardless of its subscribers.
func (a *ActivationManager) ForceDeactivate(item *Item) {
	a.forget(item)
	if !item.destroyed {
		item.deactivate()
	}
}

// rebalance admits queued items while there is capacity, evicting available items
// to make room.
func (a *ActivationManager) rebalance() {
	if a.rebalancing || len(a.wanting) == 0 {
		return
	}
	if a.hasCapacity() && len(a.wanting) == 1 {
		a.admit(a.popWanting())
		return
	}
	if !a.hasCapacity() && len(a.available) == 0 {
		return
	}

	a.rebalancing = true
	a.owner.beginMultipleActivationChanges()
	defer func() {
		a.owner.endMultipleActivationChanges()
		a.rebalancing = false
	}()

	for len(a.wanting) > 0 {
		if a.hasCapacity() {
			a.admit(a.popWanting())
			continue
		}
		if len(a.available) == 0 {
			break
		}
		a.evict(a.available[0])
	}
}

func (a *ActivationManager) popWanting() *Item {
	item := a.wanting[0]
	a.wanting = removeAt(a.wanting, 0)
	return item
}

func (a *ActivationManager) admit(item *Item) {
	a.active[item] = struct{}{}
	a.metrics.Inc(obs.CounterActivation)
	item.activate()
}

func (a *ActivationManager) evict(item *Item) {
	a.forget(item)
	a.metrics.Inc(obs.CounterEviction)
	item.deactivate()
}

// forget drops every reference to item.
func (a *ActivationManager) forget(item *Item) {
	delete(a.active, item)
	if i := indexOf(a.wanting, item); i >= 0 {
		a.wanting = removeAt(a.wanting, i)
	}
	if i := indexOf(a.available, item); i >= 0 {
		a.available = removeAt(a.available, i)
	}
}

func indexOf(items []*Item, item *Item) int {
	for i, it := range items {
		if it == item {
			return i
		}
	}
	return -1
}

func removeAt(items []*Item, i int) []*Item {
	copy(items[i:], items[i+1:])
	items[len(items)-1] = nil
	return items[:len(items)-1]
}
