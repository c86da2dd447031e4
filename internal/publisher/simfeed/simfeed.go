// Package simfeed is an in-memory publisher serving simulated accounts and holdings.
package simfeed

import (
	"math/rand"
	"sort"
	"time"

	"marketsub/internal/account"
	"marketsub/internal/holding"
	"marketsub/internal/logger"
	"marketsub/internal/model"
	"marketsub/internal/model/enum"
	"marketsub/internal/publisher"
	"marketsub/internal/reconcile"
)

const CodeDecode = "SFDE50001"

type HoldingConfig struct {
	Exchange     string `yaml:"exchange"`
	Code         string `yaml:"code"`
	Quantity     int64  `yaml:"quantity"`
	Cost         string `yaml:"cost"`
	AveragePrice string `yaml:"average_price"`
}

type AccountConfig struct {
	ID       string          `yaml:"id"`
	Name     string          `yaml:"name"`
	Currency string          `yaml:"currency"`
	Holdings []HoldingConfig `yaml:"holdings"`
}

// Config of the simulated feed.
type Config struct {
	Accounts       []AccountConfig `yaml:"accounts"`
	UpdateInterval time.Duration   `yaml:"update_interval"`
	Seed           int64           `yaml:"seed"`

	Decoders publisher.Decoders `yaml:"-"`
	Sink     logger.Sink        `yaml:"-"`
}

type wireHolding struct {
	Cost                   string `json:"cost"`
	AveragePrice           string `json:"average_price"`
	TotalQuantity          int64  `json:"total_quantity"`
	TotalAvailableQuantity int64  `json:"total_available_quantity"`
	Currency               string `json:"currency"`
}

type position struct {
	key  holding.Key
	wire wireHolding
}

// Publisher serves every request from memory on the engine goroutine.
type Publisher struct {
	cfg  Config
	sink logger.Sink
	rng  *rand.Rand

	subs     map[model.DataItemID]publisher.Request
	deferred []publisher.Request
	outbox   []model.DataMessage

	batch      bool
	online     bool
	finalised  bool
	lastUpdate time.Time
}

func New(cfg Config) *Publisher {
	if cfg.Seed == 0 {
		cfg.Seed = 1
	}
	accounts := make([]AccountConfig, len(cfg.Accounts))
	for i, a := range cfg.Accounts {
		a.Holdings = append([]HoldingConfig(nil), a.Holdings...)
		accounts[i] = a
	}
	cfg.Accounts = accounts
	return &Publisher{
		cfg:    cfg,
		sink:   logger.Or(cfg.Sink),
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		subs:   make(map[model.DataItemID]publisher.Request),
		online: true,
	}
}

func (p *Publisher) TypeID() enum.PublisherType {
	return enum.PublisherTypeSimulated
}

func (p *Publisher) Subscribe(req publisher.Request) bool {
	if p.finalised {
		return false
	}
	p.subs[req.ItemID] = req
	if !p.online {
		return false
	}
	p.serve(req)
	return true
}

func (p *Publisher) Unsubscribe(req publisher.Request) {
	if cur, ok := p.subs[req.ItemID]; ok && cur.RequestNr == req.RequestNr {
		delete(p.subs, req.ItemID)
	}
}

func (p *Publisher) Request(req publisher.Request) bool {
	if p.finalised || !p.online {
		return false
	}
	p.serve(req)
	return true
}

// SetBatchSubscriptionChanges holds snapshots back until the batch ends.
func (p *Publisher) SetBatchSubscriptionChanges(batch bool) {
	p.batch = batch
	if batch {
		return
	}
	deferred := p.deferred
	p.deferred = nil
	for _, req := range deferred {
		p.snapshot(req)
	}
}

// SetOnline simulates a transport drop and recovery.
func (p *Publisher) SetOnline(online bool) {
	if p.online == online {
		return
	}
	p.online = online

	typeID := enum.MessageTypeOffline
	if online {
		typeID = enum.MessageTypeOnline
	}
	for _, id := range p.subscribedIDs() {
		p.outbox = append(p.outbox, model.NewBroadcast(id, typeID))
	}
}

func (p *Publisher) Messages(now time.Time) []model.DataMessage {
	if p.online && p.cfg.UpdateInterval > 0 && now.Sub(p.lastUpdate) >= p.cfg.UpdateInterval {
		p.lastUpdate = now
		p.tick()
	}

	msgs := p.outbox
	p.outbox = nil
	return msgs
}

func (p *Publisher) Finalise() {
	p.finalised = true
	clear(p.subs)
	p.deferred = nil
	p.outbox = nil
}

func (p *Publisher) serve(req publisher.Request) {
	if p.batch {
		p.deferred = append(p.deferred, req)
		return
	}
	p.snapshot(req)
}

func (p *Publisher) snapshot(req publisher.Request) {
	switch req.Definition.Channel() {
	case enum.ChannelBrokerageAccounts:
		changes := []reconcile.Change[string, account.Data]{reconcile.Clear[string, account.Data]()}
		for _, a := range p.cfg.Accounts {
			changes = append(changes, reconcile.Add(a.ID, account.Data{Name: a.Name, Currency: a.Currency, Environment: "simulated"}))
		}
		p.emit(req, enum.MessageTypeAccounts, changes)
	case enum.ChannelHoldings:
		changes := []reconcile.Change[holding.Key, wireHolding]{reconcile.Clear[holding.Key, wireHolding]()}
		for _, pos := range p.positions(req.Definition.Params().Key()) {
			changes = append(changes, reconcile.Add(pos.key, pos.wire))
		}
		p.emit(req, enum.MessageTypeHoldings, changes)
	}

	p.outbox = append(p.outbox, model.DataMessage{
		DataItemID: req.ItemID,
		RequestNr:  req.RequestNr,
		TypeID:     enum.MessageTypeSynchronised,
	})
}

// tick moves the quantity of one random position of every holdings subscriber.
func (p *Publisher) tick() {
	for _, id := range p.subscribedIDs() {
		req := p.subs[id]
		if req.Definition.Channel() != enum.ChannelHoldings {
			continue
		}

		accountID := req.Definition.Params().Key()
		positions := p.positions(accountID)
		if len(positions) == 0 {
			continue
		}

		pos := positions[p.rng.Intn(len(positions))]
		pos.wire.TotalQuantity += int64(p.rng.Intn(21) - 10)
		if pos.wire.TotalQuantity < 0 {
			pos.wire.TotalQuantity = 0
		}
		pos.wire.TotalAvailableQuantity = pos.wire.TotalQuantity
		p.store(accountID, pos)

		p.emit(req, enum.MessageTypeHoldings, []reconcile.Change[holding.Key, wireHolding]{reconcile.Update(pos.key, pos.wire)})
	}
}

func (p *Publisher) emit(req publisher.Request, typeID enum.MessageType, changes any) {
	var (
		raw []byte
		err error
	)
	switch c := changes.(type) {
	case []reconcile.Change[string, account.Data]:
		raw, err = reconcile.EncodeChanges(c)
	case []reconcile.Change[holding.Key, wireHolding]:
		raw, err = reconcile.EncodeChanges(c)
	}
	if err != nil {
		p.sink.Error(CodeDecode, err.Error())
		return
	}

	payload, err := p.cfg.Decoders.Decode(typeID, raw)
	if err != nil {
		p.sink.Error(CodeDecode, err.Error())
		return
	}

	p.outbox = append(p.outbox, model.DataMessage{
		DataItemID: req.ItemID,
		RequestNr:  req.RequestNr,
		TypeID:     typeID,
		Payload:    payload,
	})
}

func (p *Publisher) subscribedIDs() []model.DataItemID {
	ids := make([]model.DataItemID, 0, len(p.subs))
	for id := range p.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (p *Publisher) positions(accountID string) []position {
	for _, a := range p.cfg.Accounts {
		if a.ID != accountID {
			continue
		}
		result := make([]position, 0, len(a.Holdings))
		for _, h := range a.Holdings {
			result = append(result, position{
				key: holding.Key{Exchange: h.Exchange, Code: h.Code, AccountID: a.ID},
				wire: wireHolding{
					Cost:                   orZero(h.Cost),
					AveragePrice:           orZero(h.AveragePrice),
					TotalQuantity:          h.Quantity,
					TotalAvailableQuantity: h.Quantity,
					Currency:               a.Currency,
				},
			})
		}
		return result
	}
	return nil
}

func (p *Publisher) store(accountID string, pos position) {
	for i := range p.cfg.Accounts {
		a := &p.cfg.Accounts[i]
		if a.ID != accountID {
			continue
		}
		for j := range a.Holdings {
			h := &a.Holdings[j]
			if h.Exchange == pos.key.Exchange && h.Code == pos.key.Code {
				h.Quantity = pos.wire.TotalQuantity
			}
		}
	}
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

var _ publisher.Publisher = (*Publisher)(nil)
