package subscription

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketsub/internal/model/enum"
)

func TestItemStartIsDeferredOneTick(t *testing.T) {
	h := newHarness(t, ActivationConfig{}, nil)

	item := h.subscribe(t, refDef(enum.ChannelHoldings, "acc1"))
	assert.Equal(t, StateStarting, item.State())
	assert.Equal(t, 0, item.starts)
	assert.Equal(t, 0, h.creates)

	var kinds []EventKind
	item.Observe(func(e Event) { kinds = append(kinds, e.Kind) })

	h.tick()
	require.Equal(t, StateStarted, item.State())
	assert.Equal(t, 1, item.starts)
	assert.Equal(t, 1, h.creates)
	assert.Equal(t, []EventKind{EventBadnessChange, EventBeginChanges, EventEndChanges}, kinds)

	req := h.pub.lastRequest(t, item.ID())
	assert.EqualValues(t, 1, req.RequestNr)
	assert.Equal(t, item.ActiveRequestNr(), req.RequestNr)
	assert.Equal(t, enum.BadnessReasonSubscribing, item.Badness().Reason)
	assert.False(t, item.Online())

	h.sync(item)
	assert.True(t, item.Badness().IsGood())
	assert.True(t, item.Online())
}

func TestItemCancelledBeforeStart(t *testing.T) {
	h := newHarness(t, ActivationConfig{}, nil)

	item := h.subscribe(t, plainDef(enum.ChannelOrders, "o"))
	h.manager.Unsubscribe(item)
	h.tick()

	assert.Equal(t, StateDestroyed, item.State())
	assert.Equal(t, 0, item.starts)
	assert.Equal(t, 0, item.stops)
	assert.Equal(t, 0, h.creates)
	assert.Equal(t, 0, h.manager.ItemCount())
}

func TestItemCancelWhileQueued(t *testing.T) {
	h := newHarness(t, ActivationConfig{}, map[enum.Channel]ActivationConfig{
		enum.ChannelHoldings: {ActiveSubscriptionsLimit: 1},
	})

	a := h.subscribe(t, refDef(enum.ChannelHoldings, "a"))
	b := h.subscribe(t, refDef(enum.ChannelHoldings, "b"))
	require.Equal(t, StateActivationPending, b.State())

	h.manager.Unsubscribe(b)
	h.tick()

	am := h.manager.Activation(enum.ChannelHoldings)
	assert.Equal(t, 0, am.WantingCount())
	assert.Equal(t, 1, am.ActiveCount())
	assert.True(t, b.Destroyed())
	assert.Equal(t, 0, b.starts)
	assert.Equal(t, StateStarted, a.State())
}

func TestItemDestroyedEventFiresInEveryState(t *testing.T) {
	h := newHarness(t, ActivationConfig{}, map[enum.Channel]ActivationConfig{
		enum.ChannelHoldings: {ActiveSubscriptionsLimit: 1},
	})

	a := h.subscribe(t, refDef(enum.ChannelHoldings, "a"))
	b := h.subscribe(t, refDef(enum.ChannelHoldings, "b"))
	o := h.subscribe(t, plainDef(enum.ChannelOrders, "o"))
	require.Equal(t, StateActivationPending, b.State())
	require.Equal(t, StateStarting, o.State())

	destroyed := map[*Item]int{}
	for _, item := range []*testItem{a, b, o} {
		item.Observe(func(e Event) {
			if e.Kind == EventDestroyed {
				destroyed[e.Item]++
			}
		})
	}

	h.manager.Unsubscribe(o)
	h.manager.Unsubscribe(b)
	assert.Equal(t, 1, destroyed[o.Base()])
	assert.Equal(t, 1, destroyed[b.Base()])
	assert.Equal(t, 0, destroyed[a.Base()])

	h.tick()
	h.manager.Finalise()
	assert.Equal(t, 1, destroyed[a.Base()])
}

func TestItemNegativeSubscribeCount(t *testing.T) {
	base := newItem(1, plainDef(enum.ChannelHoldings, "x"), nil, NewScheduler(), nil)
	expectInvariant(t, "DI-DEC-01", base.decSubscribeCount)
}

func TestItemUpdateBatching(t *testing.T) {
	base := newItem(1, plainDef(enum.ChannelHoldings, "x"), nil, NewScheduler(), nil)

	var kinds []EventKind
	base.Observe(func(e Event) { kinds = append(kinds, e.Kind) })

	base.NotifyUpdateChange()
	base.BeginUpdate()
	base.BeginUpdate()
	base.NotifyUpdateChange()
	base.NotifyUpdateChange()
	base.EndUpdate()
	assert.Empty(t, kinds)

	base.EndUpdate()
	assert.Equal(t, []EventKind{EventBeginChanges, EventEndChanges}, kinds)

	base.BeginUpdate()
	base.EndUpdate()
	assert.Len(t, kinds, 2)

	expectInvariant(t, "DI-UPD-01", base.EndUpdate)
}

func TestItemUnobserve(t *testing.T) {
	h := newHarness(t, ActivationConfig{}, nil)
	item := h.subscribe(t, refDef(enum.ChannelHoldings, "a"))

	calls := 0
	id := item.Observe(func(Event) { calls++ })
	item.Unobserve(id)
	h.tick()

	assert.Equal(t, 0, calls)
}
