package holding_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketsub/internal/account"
	"marketsub/internal/catalog"
	"marketsub/internal/holding"
	"marketsub/internal/logger"
	"marketsub/internal/model"
	"marketsub/internal/model/enum"
	"marketsub/internal/publisher"
	"marketsub/internal/publisher/simfeed"
	"marketsub/internal/reconcile"
	"marketsub/internal/subscription"
)

var (
	bhp = holding.Key{Exchange: "XASX", Code: "BHP", AccountID: "ACC1"}
	cba = holding.Key{Exchange: "XASX", Code: "CBA", AccountID: "ACC1"}
)

type engine struct {
	manager *subscription.Manager
	feed    *simfeed.Publisher
	sink    *logger.Recorder
	now     time.Time
}

func newEngine(t *testing.T) *engine {
	t.Helper()

	e := &engine{sink: &logger.Recorder{}, now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	e.feed = simfeed.New(simfeed.Config{
		Accounts: []simfeed.AccountConfig{{
			ID:       "ACC1",
			Name:     "Main",
			Currency: "AUD",
			Holdings: []simfeed.HoldingConfig{
				{Exchange: "XASX", Code: "BHP", Quantity: 100, Cost: "4525.5", AveragePrice: "45.255"},
				{Exchange: "XASX", Code: "CBA", Quantity: 10, Cost: "1012.25", AveragePrice: "101.225"},
			},
		}},
		Decoders: catalog.Decoders(),
		Sink:     e.sink,
	})

	registry := publisher.NewRegistry().Register(enum.PublisherTypeSimulated, func() (publisher.Publisher, error) {
		return e.feed, nil
	})
	m, err := subscription.NewManager(subscription.Config{
		DataItemFactory:  catalog.Factory{},
		PublisherFactory: registry,
		Clock:            func() time.Time { return e.now },
		Sink:             e.sink,
	})
	require.NoError(t, err)
	e.manager = m

	return e
}

func (e *engine) tick() {
	e.manager.Process(e.now)
}

func (e *engine) holdings(t *testing.T, accountID string) *holding.Item {
	t.Helper()
	item, err := e.manager.Subscribe(holding.NewDefinition(accountID, model.WithPublisherType(enum.PublisherTypeSimulated)))
	require.NoError(t, err)
	return item.(*holding.Item)
}

func TestHoldingsWaitForAccounts(t *testing.T) {
	e := newEngine(t)
	item := e.holdings(t, "ACC1")

	e.tick()
	require.Equal(t, 2, item.List().Len())
	assert.Equal(t, subscription.PublisherStateSynchronised, item.PublisherState())
	assert.Equal(t, enum.BadnessReasonDependencyNotOnline, item.Badness().Reason)
	assert.False(t, item.Online())

	e.tick()
	assert.True(t, item.Online())
	assert.True(t, item.Badness().IsGood())

	h, ok := item.Get(bhp)
	require.True(t, ok)
	assert.Equal(t, "4525.5", h.Data().Cost.String())
	assert.Equal(t, "45.255", h.Data().AveragePrice.String())
	assert.EqualValues(t, 100, h.Data().TotalQuantity)
	assert.Equal(t, "AUD", h.Data().Currency)
	assert.Equal(t, enum.CorrectnessGood, h.Correctness())
	assert.Equal(t, []holding.Key{bhp, cba}, []holding.Key{item.List().At(0).Key(), item.List().At(1).Key()})
	assert.Equal(t, "ACC1", item.AccountID())

	accounts, err := e.manager.Subscribe(account.NewDefinition(model.WithPublisherType(enum.PublisherTypeSimulated)))
	require.NoError(t, err)
	acc, ok := accounts.(*account.Item).Get("ACC1")
	require.True(t, ok)
	assert.Equal(t, "Main", acc.Data().Name)
	assert.Equal(t, enum.CorrectnessGood, acc.Correctness())
}

func TestHoldingsApplyRoutedChanges(t *testing.T) {
	e := newEngine(t)
	item := e.holdings(t, "ACC1")
	e.tick()
	e.tick()

	h, _ := item.Get(bhp)
	c, _ := item.Get(cba)

	var fields []holding.Field
	h.OnFieldChange(func(fc holding.FieldChange) { fields = append(fields, fc.Fields) })

	var kinds []subscription.EventKind
	item.Observe(func(ev subscription.Event) { kinds = append(kinds, ev.Kind) })

	var list []reconcile.ListChange
	item.List().SubscribeChanges(func(lc reconcile.ListChange) { list = append(list, lc) })

	data := h.Data()
	data.TotalQuantity = 50
	e.manager.Route(model.DataMessage{
		DataItemID: item.ID(),
		RequestNr:  item.ActiveRequestNr(),
		TypeID:     enum.MessageTypeHoldings,
		Payload: []reconcile.Change[holding.Key, holding.Data]{
			reconcile.Update(bhp, data),
			reconcile.Remove[holding.Key, holding.Data](cba),
		},
	})

	assert.Equal(t, []holding.Field{holding.FieldTotalQuantity}, fields)
	assert.Equal(t, []reconcile.ListChange{{Type: reconcile.ListChangeRemove, Index: 1, Count: 1}}, list)
	assert.Equal(t, []subscription.EventKind{subscription.EventBeginChanges, subscription.EventEndChanges}, kinds)
	assert.EqualValues(t, 50, h.Data().TotalQuantity)
	assert.True(t, c.Destroyed())
	assert.Equal(t, 1, item.List().Len())
}

func TestHoldingsRejectUnexpectedPayload(t *testing.T) {
	e := newEngine(t)
	item := e.holdings(t, "ACC1")
	e.tick()

	e.manager.Route(model.DataMessage{
		DataItemID: item.ID(),
		RequestNr:  item.ActiveRequestNr(),
		TypeID:     enum.MessageTypeHoldings,
		Payload:    "junk",
	})

	assert.Contains(t, e.sink.Codes(), holding.CodeUnexpectedPayload)
	assert.Equal(t, 2, item.List().Len())
}

func TestHoldingsStopClearsRecords(t *testing.T) {
	e := newEngine(t)
	item := e.holdings(t, "ACC1")
	e.tick()
	h, _ := item.Get(bhp)

	e.manager.Unsubscribe(item)
	assert.True(t, item.Destroyed())
	assert.True(t, h.Destroyed())
	assert.Equal(t, 0, item.List().Len())
}

func TestDecodeChanges(t *testing.T) {
	raw := []byte(`[
		{"op":"C"},
		{"op":"A","key":{"exchange":"XASX","code":"BHP","account_id":"ACC1"},"data":{"cost":"12.5","average_price":"1.25","total_quantity":10,"total_available_quantity":8,"currency":"AUD"}},
		{"op":"Z","key":{"exchange":"XASX","code":"BHP","account_id":"ACC1"}}
	]`)

	payload, err := holding.DecodeChanges(raw)
	require.NoError(t, err)
	changes, ok := payload.([]reconcile.Change[holding.Key, holding.Data])
	require.True(t, ok)
	require.Len(t, changes, 3)

	assert.Equal(t, reconcile.KindClear, changes[0].Kind)
	assert.Equal(t, reconcile.KindAdd, changes[1].Kind)
	assert.Equal(t, bhp, changes[1].Key)
	assert.Equal(t, "12.5", changes[1].Payload.Cost.String())
	assert.EqualValues(t, 8, changes[1].Payload.TotalAvailableQuantity)
	assert.Equal(t, reconcile.KindUnknown, changes[2].Kind)
}
