package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marketsub/internal/logger"
	"marketsub/internal/model"
	"marketsub/internal/model/enum"
	"marketsub/internal/obs"
	"marketsub/internal/publisher"
)

type testKey string

func (k testKey) Key() string { return string(k) }

func refDef(ch enum.Channel, k string) model.Definition {
	return model.NewDefinition(ch, testKey(k), true)
}

func plainDef(ch enum.Channel, k string) model.Definition {
	return model.NewDefinition(ch, testKey(k), false)
}

type clock struct {
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	return c.now
}

func (c *clock) Advance(d time.Duration) time.Time {
	c.now = c.now.Add(d)
	return c.now
}

type fakePublisher struct {
	typeID       enum.PublisherType
	offline      bool
	subscribed   []publisher.Request
	unsubscribed []publisher.Request
	requested    []publisher.Request
	batch        []bool
	inbox        []model.DataMessage
	finalised    bool
}

func (p *fakePublisher) TypeID() enum.PublisherType {
	return p.typeID
}

func (p *fakePublisher) Subscribe(req publisher.Request) bool {
	p.subscribed = append(p.subscribed, req)
	return !p.offline
}

func (p *fakePublisher) Unsubscribe(req publisher.Request) {
	p.unsubscribed = append(p.unsubscribed, req)
}

func (p *fakePublisher) Request(req publisher.Request) bool {
	p.requested = append(p.requested, req)
	return !p.offline
}

func (p *fakePublisher) Messages(time.Time) []model.DataMessage {
	msgs := p.inbox
	p.inbox = nil
	return msgs
}

func (p *fakePublisher) SetBatchSubscriptionChanges(batch bool) {
	p.batch = append(p.batch, batch)
}

func (p *fakePublisher) Finalise() {
	p.finalised = true
}

func (p *fakePublisher) push(msgs ...model.DataMessage) {
	p.inbox = append(p.inbox, msgs...)
}

// lastRequest returns the most recent subscribe for item.
func (p *fakePublisher) lastRequest(t *testing.T, id model.DataItemID) publisher.Request {
	t.Helper()
	for i := len(p.subscribed) - 1; i >= 0; i-- {
		if p.subscribed[i].ItemID == id {
			return p.subscribed[i]
		}
	}
	t.Fatalf("item %d was never subscribed", id)
	return publisher.Request{}
}

type testItem struct {
	*PublisherItem
	starts   int
	stops    int
	received []model.DataMessage
}

func (it *testItem) OnStart() {
	it.starts++
	it.PublisherItem.OnStart()
}

func (it *testItem) OnStop() {
	it.stops++
	it.PublisherItem.OnStop()
}

type testFactory struct {
	created []*testItem
	hook    func(base *Item)
}

func (f *testFactory) CreateDataItem(base *Item) (DataItem, error) {
	if f.hook != nil {
		f.hook(base)
	}
	it := &testItem{}
	it.PublisherItem = NewPublisherItem(base, func(msg model.DataMessage) {
		it.received = append(it.received, msg)
	})
	f.created = append(f.created, it)
	return it, nil
}

type harness struct {
	manager  *Manager
	factory  *testFactory
	pub      *fakePublisher
	clock    *clock
	sink     *logger.Recorder
	metrics  *obs.Metrics
	creates  int
	registry *publisher.Registry
}

func newHarness(t *testing.T, defaults ActivationConfig, perChannel map[enum.Channel]ActivationConfig) *harness {
	t.Helper()

	h := &harness{
		factory: &testFactory{},
		pub:     &fakePublisher{typeID: enum.PublisherTypeStream},
		clock:   newClock(),
		sink:    &logger.Recorder{},
		metrics: obs.NewMetrics(),
	}
	h.registry = publisher.NewRegistry().Register(enum.PublisherTypeStream, func() (publisher.Publisher, error) {
		h.creates++
		return h.pub, nil
	})

	m, err := NewManager(Config{
		DataItemFactory:   h.factory,
		PublisherFactory:  h.registry,
		SweepInterval:     time.Minute,
		DefaultActivation: defaults,
		Activation:        perChannel,
		Clock:             h.clock.Now,
		Sink:              h.sink,
		Metrics:           h.metrics,
	})
	require.NoError(t, err)
	h.manager = m

	return h
}

func (h *harness) subscribe(t *testing.T, def model.Definition) *testItem {
	t.Helper()
	item, err := h.manager.Subscribe(def)
	require.NoError(t, err)
	return item.(*testItem)
}

// tick runs one Process without moving the clock.
func (h *harness) tick() {
	h.manager.Process(h.clock.Now())
}

// sync makes item Good by delivering Synchronised for its active request.
func (h *harness) sync(item *testItem) {
	h.pub.push(model.DataMessage{
		DataItemID: item.ID(),
		RequestNr:  item.ActiveRequestNr(),
		TypeID:     enum.MessageTypeSynchronised,
	})
	h.tick()
}

func expectInvariant(t *testing.T, tag string, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		v := recover()
		if v == nil {
			t.Fatalf("expected invariant %s, got no panic", tag)
		}
		err, ok := v.(interface{ Error() string })
		require.True(t, ok, "unexpected panic %v", v)
		require.Contains(t, err.Error(), "["+tag+"]")
	}()
	fn()
}
