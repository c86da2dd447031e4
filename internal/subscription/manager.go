package subscription

import (
	"sort"
	"time"

	"github.com/yanun0323/errors"

	ierrors "marketsub/internal/errors"
	"marketsub/internal/logger"
	"marketsub/internal/model"
	"marketsub/internal/model/enum"
	"marketsub/internal/obs"
	"marketsub/internal/publisher"
	"marketsub/pkg/exception"
)

const (
	CodeOrphan          = "DMOR30001"
	CodePublisherCreate = "DMPC30002"

	DefaultSweepInterval = 5 * time.Minute
)

// Config wires a Manager.
type Config struct {
	DataItemFactory  DataItemFactory
	PublisherFactory publisher.Factory

	// SweepInterval is the minimum time between deactivation sweeps.
	SweepInterval time.Duration

	// DefaultActivation applies to every channel without an entry in Activation.
	DefaultActivation ActivationConfig
	Activation        map[enum.Channel]ActivationConfig

	Clock   func() time.Time
	Sink    logger.Sink
	Metrics *obs.Metrics
}

// Manager owns every data item, the activation managers and the publishers.
type Manager struct {
	itemFactory      DataItemFactory
	publisherFactory publisher.Factory
	sweepInterval    time.Duration
	clock            func() time.Time
	sink             logger.Sink
	metrics          *obs.Metrics
	scheduler        *Scheduler

	nextID       model.DataItemID
	items        map[model.DataItemID]DataItem
	referencable map[string]DataItem

	permanent          map[enum.Channel]DataItem
	permanentDependsOn map[enum.Channel]struct{}

	activation map[enum.Channel]*ActivationManager
	publishers map[enum.PublisherType]publisher.Publisher

	batchDepth int
	lastSweep  time.Time
	finalised  bool
}

// NewManager validates cfg and builds a manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.DataItemFactory == nil {
		return nil, errors.Wrap(exception.ErrNilDataItemFactory, "new manager")
	}
	if cfg.PublisherFactory == nil {
		return nil, errors.Wrap(exception.ErrNilPublisherFactory, "new manager")
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = obs.NewMetrics()
	}

	m := &Manager{
		itemFactory:        cfg.DataItemFactory,
		publisherFactory:   cfg.PublisherFactory,
		sweepInterval:      cfg.SweepInterval,
		clock:              cfg.Clock,
		sink:               logger.Or(cfg.Sink),
		metrics:            cfg.Metrics,
		scheduler:          NewScheduler(),
		items:              make(map[model.DataItemID]DataItem),
		referencable:       make(map[string]DataItem),
		permanent:          make(map[enum.Channel]DataItem),
		permanentDependsOn: make(map[enum.Channel]struct{}),
		activation:         make(map[enum.Channel]*ActivationManager),
		publishers:         make(map[enum.PublisherType]publisher.Publisher),
	}

	for _, ch := range enum.Channels() {
		ac, ok := cfg.Activation[ch]
		if !ok {
			ac = cfg.DefaultActivation
		}
		m.activation[ch] = NewActivationManager(ch, ac, m, m.clock, m.metrics)
	}
	m.lastSweep = m.clock()

	return m, nil
}

// IsPermanentChannel reports whether the first referencable subscription of the
// channel is kept for the lifetime of the manager.
func IsPermanentChannel(ch enum.Channel) bool {
	switch ch {
	case enum.ChannelFeeds, enum.ChannelMarkets, enum.ChannelBrokerageAccounts, enum.ChannelAllOrders:
		return true
	default:
		return false
	}
}

// Subscribe returns the item serving def, creating it when no referencable item
// matches. Every call must be balanced by Unsubscribe.
func (m *Manager) Subscribe(def model.Definition) (DataItem, error) {
	if m.finalised {
		return nil, errors.Wrap(exception.ErrManagerFinalised, "subscribe").With("definition", def.String())
	}
	if !def.Channel().IsAvailable() {
		return nil, errors.Wrap(exception.ErrUnsupportedChannel, "subscribe").With("definition", def.String())
	}

	if def.Referencable() {
		if item, ok := m.findReferencable(def); ok {
			item.Base().incSubscribeCount()
			return item, nil
		}
	}

	m.nextID++
	base := newItem(m.nextID, def, m, m.scheduler, m.sink)
	item, err := m.itemFactory.CreateDataItem(base)
	if err != nil {
		return nil, errors.Wrap(err, "create data item").With("definition", def.String())
	}
	if item == nil || item.Base() != base {
		return nil, errors.Wrap(exception.ErrDataItemMismatch, "create data item").With("definition", def.String())
	}
	base.self = item

	if def.Referencable() {
		key := def.ReferencableKey()
		_, dup := m.referencable[key]
		ierrors.Assert(!dup, "DM-REF-01", key)
		m.referencable[key] = item
	}
	m.items[base.id] = item

	if def.Referencable() && IsPermanentChannel(def.Channel()) {
		if _, ok := m.permanent[def.Channel()]; !ok {
			m.permanent[def.Channel()] = item
			for _, dep := range def.DependsOn() {
				m.permanentDependsOn[dep] = struct{}{}
			}
		}
	}

	base.incSubscribeCount()
	return item, nil
}

func (m *Manager) findReferencable(def model.Definition) (DataItem, bool) {
	key := def.ReferencableKey()
	if item, ok := m.permanent[def.Channel()]; ok && item.Base().definition.ReferencableKey() == key {
		return item, true
	}
	item, ok := m.referencable[key]
	return item, ok
}

// Unsubscribe releases one subscription of item. Permanent items are kept and
// items already torn down are ignored.
func (m *Manager) Unsubscribe(item DataItem) {
	if item == nil {
		return
	}
	base := item.Base()
	if base.destroyed || m.isPermanent(item) {
		return
	}
	base.decSubscribeCount()
}

func (m *Manager) isPermanent(item DataItem) bool {
	p, ok := m.permanent[item.Base().Channel()]
	return ok && p == item
}

// Item returns a live item by id.
func (m *Manager) Item(id model.DataItemID) (DataItem, bool) {
	item, ok := m.items[id]
	return item, ok
}

func (m *Manager) ItemCount() int {
	return len(m.items)
}

// Activation returns the activation manager of a channel.
func (m *Manager) Activation(ch enum.Channel) *ActivationManager {
	return m.activation[ch]
}

func (m *Manager) Metrics() *obs.Metrics {
	return m.metrics
}

// Process runs deferred starts, routes every buffered publisher message and sweeps
// expired deactivations once the sweep interval has elapsed.
func (m *Manager) Process(now time.Time) {
	begin := time.Now()
	defer func() {
		m.metrics.ObserveProcess(time.Since(begin))
	}()

	m.scheduler.RunDeferred()

	for _, typeID := range m.publisherTypes() {
		pub, ok := m.publishers[typeID]
		if !ok {
			continue
		}
		for _, msg := range pub.Messages(now) {
			m.route(msg)
		}
	}

	if now.Sub(m.lastSweep) < m.sweepInterval {
		return
	}
	m.lastSweep = now
	for _, ch := range enum.Channels() {
		m.activation[ch].CheckForDeactivations(now)
	}
}

func (m *Manager) publisherTypes() []enum.PublisherType {
	types := make([]enum.PublisherType, 0, len(m.publishers))
	for t := range m.publishers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// BeginMultipleSubscriptionChanges opens a nestable region in which publishers
// coalesce subscription traffic.
func (m *Manager) BeginMultipleSubscriptionChanges() {
	m.batchDepth++
	if m.batchDepth == 1 {
		m.setBatch(true)
	}
}

func (m *Manager) EndMultipleSubscriptionChanges() {
	ierrors.Assert(m.batchDepth > 0, "DM-BAT-01", "unbalanced end of subscription changes")
	m.batchDepth--
	if m.batchDepth == 0 {
		m.setBatch(false)
	}
}

// WithMultipleSubscriptionChanges runs fn inside a batch region that is closed on
// every exit path.
func (m *Manager) WithMultipleSubscriptionChanges(fn func() error) error {
	m.BeginMultipleSubscriptionChanges()
	defer m.EndMultipleSubscriptionChanges()
	return fn()
}

func (m *Manager) setBatch(batch bool) {
	for _, typeID := range m.publisherTypes() {
		m.publishers[typeID].SetBatchSubscriptionChanges(batch)
	}
}

func (m *Manager) beginMultipleActivationChanges() {
	m.BeginMultipleSubscriptionChanges()
}

func (m *Manager) endMultipleActivationChanges() {
	m.EndMultipleSubscriptionChanges()
}

func (m *Manager) wantActivation(item *Item) {
	m.activation[item.Channel()].WantActivation(item)
}

func (m *Manager) cancelWantActivation(item *Item) {
	m.activation[item.Channel()].CancelWantActivation(item)
}

func (m *Manager) keepActivation(item *Item) {
	m.activation[item.Channel()].KeepActivation(item)
}

func (m *Manager) availableForDeactivation(item *Item) {
	m.activation[item.Channel()].AvailableForDeactivation(item)
}

func (m *Manager) requirePublisher(typeID enum.PublisherType) (publisher.Publisher, error) {
	if pub, ok := m.publishers[typeID]; ok {
		return pub, nil
	}

	pub, err := m.publisherFactory.CreatePublisher(typeID)
	if err != nil {
		return nil, err
	}
	if m.batchDepth > 0 {
		pub.SetBatchSubscriptionChanges(true)
	}
	m.publishers[typeID] = pub

	return pub, nil
}

func (m *Manager) requireDestruction(item *Item) {
	di, ok := m.items[item.id]
	ierrors.Assert(ok, "DM-DES-01", item.String())

	delete(m.items, item.id)
	if item.definition.Referencable() {
		key := item.definition.ReferencableKey()
		if m.referencable[key] == di {
			delete(m.referencable, key)
		}
	}
	if p, ok := m.permanent[item.Channel()]; ok && p == di {
		delete(m.permanent, item.Channel())
	}
	m.activation[item.Channel()].forget(item)
	m.metrics.Inc(obs.CounterDeactivation)
}

func (m *Manager) requireDataItem(def model.Definition) (DataItem, error) {
	return m.Subscribe(def)
}

func (m *Manager) releaseDataItem(item DataItem) {
	m.Unsubscribe(item)
}

// Finalise tears down every item and publisher. Items that are neither permanent
// nor a dependency of a permanent item are reported as orphans first.
func (m *Manager) Finalise() {
	if m.finalised {
		return
	}
	m.finalised = true

	var orphans, rest []DataItem
	for _, item := range m.items {
		if m.isOrphan(item) {
			orphans = append(orphans, item)
		} else {
			rest = append(rest, item)
		}
	}

	sortForTeardown(orphans)
	for _, item := range orphans {
		base := item.Base()
		if base.destroyed {
			continue
		}
		m.sink.Warning(CodeOrphan, base.String())
		m.metrics.Inc(obs.CounterOrphan)
		m.forceDeactivate(base)
	}

	sortForTeardown(rest)
	for _, item := range rest {
		if !item.Base().destroyed {
			m.forceDeactivate(item.Base())
		}
	}

	for _, typeID := range m.publisherTypes() {
		m.publishers[typeID].Finalise()
	}
	clear(m.publishers)
	clear(m.permanent)
	clear(m.permanentDependsOn)
}

func (m *Manager) isOrphan(item DataItem) bool {
	ch := item.Base().Channel()
	if m.isPermanent(item) || ch == enum.ChannelConnection {
		return false
	}
	_, dep := m.permanentDependsOn[ch]
	return !dep
}

func (m *Manager) forceDeactivate(item *Item) {
	m.activation[item.Channel()].ForceDeactivate(item)
}

// sortForTeardown orders dependent channels before the channels they depend on.
func sortForTeardown(items []DataItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].Base(), items[j].Base()
		da, db := a.Channel().DependencyDepth(), b.Channel().DependencyDepth()
		if da != db {
			return da > db
		}
		return a.id < b.id
	})
}
