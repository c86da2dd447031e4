package subscription

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketsub/internal/logger"
	"marketsub/internal/model"
	"marketsub/internal/model/enum"
	"marketsub/internal/obs"
	"marketsub/internal/publisher"
	"marketsub/pkg/exception"
)

func TestManagerSharesReferencableItems(t *testing.T) {
	h := newHarness(t, ActivationConfig{DeactivationDelay: time.Minute}, nil)

	a := h.subscribe(t, refDef(enum.ChannelHoldings, "acc1"))
	b := h.subscribe(t, refDef(enum.ChannelHoldings, "acc1"))
	require.Same(t, a, b)
	assert.Equal(t, 2, a.SubscribeCount())
	assert.Len(t, h.factory.created, 1)
	assert.Equal(t, 1, h.manager.ItemCount())

	h.tick()
	h.manager.Unsubscribe(a)
	assert.Equal(t, StateStarted, a.State())

	h.manager.Unsubscribe(b)
	assert.Equal(t, StateDeactivationDelayed, a.State())
	assert.False(t, a.Destroyed())
}

func TestManagerZeroDelayDestroysImmediately(t *testing.T) {
	h := newHarness(t, ActivationConfig{}, nil)

	a := h.subscribe(t, refDef(enum.ChannelHoldings, "acc1"))
	h.subscribe(t, refDef(enum.ChannelHoldings, "acc1"))
	h.tick()

	h.manager.Unsubscribe(a)
	assert.False(t, a.Destroyed())
	h.manager.Unsubscribe(a)
	assert.True(t, a.Destroyed())
	assert.Equal(t, 1, a.stops)
	assert.Equal(t, 0, h.manager.ItemCount())

	_, ok := h.manager.Item(a.ID())
	assert.False(t, ok)

	// a new subscription creates a new item
	c := h.subscribe(t, refDef(enum.ChannelHoldings, "acc1"))
	assert.NotSame(t, a, c)
	assert.Greater(t, c.ID(), a.ID())
}

func TestManagerNonReferencableAlwaysFresh(t *testing.T) {
	h := newHarness(t, ActivationConfig{}, nil)

	a := h.subscribe(t, plainDef(enum.ChannelHoldings, "acc1"))
	b := h.subscribe(t, plainDef(enum.ChannelHoldings, "acc1"))

	assert.NotSame(t, a, b)
	assert.Equal(t, 1, a.SubscribeCount())
	assert.Equal(t, 1, b.SubscribeCount())
	assert.Equal(t, 0, h.manager.Activation(enum.ChannelHoldings).ActiveCount())
}

func TestManagerKeepActivationWithinDelay(t *testing.T) {
	h := newHarness(t, ActivationConfig{DeactivationDelay: time.Minute}, nil)
	def := refDef(enum.ChannelHoldings, "acc1")

	item := h.subscribe(t, def)
	h.tick()
	h.manager.Unsubscribe(item)
	require.Equal(t, StateDeactivationDelayed, item.State())

	h.clock.Advance(30 * time.Second)
	again := h.subscribe(t, def)
	require.Same(t, item, again)
	assert.Equal(t, StateStarted, item.State())

	h.clock.Advance(2 * time.Minute)
	h.tick()
	assert.False(t, item.Destroyed())
	assert.Equal(t, 0, item.stops)
	assert.Equal(t, 1, item.starts)

	h.manager.Unsubscribe(item)
	h.clock.Advance(61 * time.Second)
	h.tick()
	assert.True(t, item.Destroyed())
	assert.Equal(t, 1, item.stops)

	h.clock.Advance(10 * time.Minute)
	h.tick()
	assert.Equal(t, 1, item.stops)
	assert.EqualValues(t, 1, h.metrics.Snapshot().Get(obs.CounterDeactivation))
}

func TestManagerSweepWaitsForInterval(t *testing.T) {
	h := newHarness(t, ActivationConfig{DeactivationDelay: 10 * time.Second}, nil)

	item := h.subscribe(t, refDef(enum.ChannelHoldings, "acc1"))
	h.tick()
	h.manager.Unsubscribe(item)

	h.clock.Advance(20 * time.Second)
	h.tick()
	assert.Equal(t, StateDeactivationDelayed, item.State())

	h.clock.Advance(40 * time.Second)
	h.tick()
	assert.True(t, item.Destroyed())
}

func TestManagerPermanentSubscription(t *testing.T) {
	h := newHarness(t, ActivationConfig{}, nil)
	def := refDef(enum.ChannelBrokerageAccounts, "")

	acc := h.subscribe(t, def)
	h.subscribe(t, def)
	require.Equal(t, 2, acc.SubscribeCount())

	for i := 0; i < 3; i++ {
		h.manager.Unsubscribe(acc)
	}
	h.tick()

	assert.Equal(t, 2, acc.SubscribeCount())
	assert.Equal(t, StateStarted, acc.State())
	assert.True(t, IsPermanentChannel(enum.ChannelFeeds))
	assert.False(t, IsPermanentChannel(enum.ChannelHoldings))
}

func TestManagerDuplicateReferencableIsFatal(t *testing.T) {
	h := newHarness(t, ActivationConfig{}, nil)
	def := refDef(enum.ChannelHoldings, "acc1")

	reentered := false
	h.factory.hook = func(base *Item) {
		if reentered {
			return
		}
		reentered = true
		_, err := h.manager.Subscribe(base.Definition())
		require.NoError(t, err)
	}

	expectInvariant(t, "DM-REF-01", func() {
		_, _ = h.manager.Subscribe(def)
	})
}

type factoryFunc func(base *Item) (DataItem, error)

func (f factoryFunc) CreateDataItem(base *Item) (DataItem, error) {
	return f(base)
}

func TestManagerConfigErrors(t *testing.T) {
	_, err := NewManager(Config{})
	assert.ErrorIs(t, err, exception.ErrNilDataItemFactory)

	_, err = NewManager(Config{DataItemFactory: &testFactory{}})
	assert.ErrorIs(t, err, exception.ErrNilPublisherFactory)
}

func TestManagerSubscribeErrors(t *testing.T) {
	boom := errors.New("boom")
	var foreign *Item
	m, err := NewManager(Config{
		DataItemFactory: factoryFunc(func(base *Item) (DataItem, error) {
			switch base.Channel() {
			case enum.ChannelOrders:
				return nil, boom
			case enum.ChannelBalances:
				foreign = newItem(99, base.Definition(), nil, NewScheduler(), nil)
				return NewPublisherItem(foreign, nil), nil
			}
			return NewPublisherItem(base, nil), nil
		}),
		PublisherFactory: publisher.NewRegistry(),
		Sink:             &logger.Recorder{},
	})
	require.NoError(t, err)

	_, err = m.Subscribe(refDef(enum.ChannelOrders, "o"))
	assert.ErrorIs(t, err, boom)

	_, err = m.Subscribe(refDef(enum.ChannelBalances, "b"))
	assert.ErrorIs(t, err, exception.ErrDataItemMismatch)

	_, err = m.Subscribe(model.NewDefinition(enum.Channel(200), nil, true))
	assert.ErrorIs(t, err, exception.ErrUnsupportedChannel)
	assert.Equal(t, 0, m.ItemCount())

	m.Finalise()
	_, err = m.Subscribe(refDef(enum.ChannelHoldings, "h"))
	assert.ErrorIs(t, err, exception.ErrManagerFinalised)
}

func TestManagerBatchRegion(t *testing.T) {
	h := newHarness(t, ActivationConfig{}, nil)
	h.subscribe(t, refDef(enum.ChannelHoldings, "acc1"))
	h.tick()

	boom := errors.New("boom")
	err := h.manager.WithMultipleSubscriptionChanges(func() error {
		h.manager.BeginMultipleSubscriptionChanges()
		h.manager.EndMultipleSubscriptionChanges()
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []bool{true, false}, h.pub.batch)

	expectInvariant(t, "DM-BAT-01", h.manager.EndMultipleSubscriptionChanges)
}

func TestManagerPublisherCreatedInsideBatchRegion(t *testing.T) {
	h := newHarness(t, ActivationConfig{}, nil)

	h.manager.BeginMultipleSubscriptionChanges()
	h.subscribe(t, refDef(enum.ChannelHoldings, "a"))
	h.subscribe(t, refDef(enum.ChannelHoldings, "b"))
	h.tick()
	h.manager.EndMultipleSubscriptionChanges()

	assert.Equal(t, 1, h.creates)
	assert.Equal(t, []bool{true, false}, h.pub.batch)
	assert.Len(t, h.pub.subscribed, 2)
}

func TestManagerFinaliseSweepsOrphans(t *testing.T) {
	h := newHarness(t, ActivationConfig{}, nil)

	acc := h.subscribe(t, refDef(enum.ChannelBrokerageAccounts, ""))
	feeds := h.subscribe(t, refDef(enum.ChannelFeeds, ""))
	conn := h.subscribe(t, refDef(enum.ChannelConnection, ""))
	hold := h.subscribe(t, refDef(enum.ChannelHoldings, "a"))
	mkt := h.subscribe(t, plainDef(enum.ChannelMarkets, "m"))
	ord := h.subscribe(t, refDef(enum.ChannelOrders, "o"))
	h.tick()

	h.manager.Finalise()

	var contexts []string
	for _, e := range h.sink.Entries() {
		if e.Code == CodeOrphan {
			contexts = append(contexts, e.Context)
		}
	}
	assert.Equal(t, []string{hold.String(), ord.String(), mkt.String()}, contexts)
	assert.EqualValues(t, 3, h.metrics.Snapshot().Get(obs.CounterOrphan))

	for _, item := range []*testItem{acc, feeds, conn, hold, mkt, ord} {
		assert.True(t, item.Destroyed(), item.String())
		assert.Equal(t, 1, item.stops, item.String())
	}
	assert.Equal(t, 0, h.manager.ItemCount())
	assert.True(t, h.pub.finalised)

	h.manager.Finalise()
	assert.EqualValues(t, 3, h.metrics.Snapshot().Get(obs.CounterOrphan))
}

func TestManagerDependencyOfPermanentIsNotOrphan(t *testing.T) {
	h := newHarness(t, ActivationConfig{}, nil)

	h.subscribe(t, refDef(enum.ChannelBrokerageAccounts, ""))
	// only the first feeds item is permanent, both are dependencies of accounts
	h.subscribe(t, refDef(enum.ChannelFeeds, "other"))
	h.subscribe(t, refDef(enum.ChannelFeeds, ""))
	h.tick()

	h.manager.Finalise()
	assert.Empty(t, h.sink.Codes())
}
