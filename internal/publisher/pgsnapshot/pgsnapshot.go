// Package pgsnapshot serves accounts and holdings snapshots from PostgreSQL.
//
// Every subscribe or query loads the item's rows once, in its own goroutine, and
// queues a change list that clears the item and adds every row, followed by
// Synchronised. There is no live update stream.
package pgsnapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"marketsub/internal/bus"
	"marketsub/internal/logger"
	"marketsub/internal/model"
	"marketsub/internal/model/enum"
	"marketsub/internal/obs"
	"marketsub/internal/publisher"
	"marketsub/pkg/conn"
	"marketsub/pkg/exception"
)

const (
	CodeLoad            = "PGLD70001"
	CodeQueueFull       = "PGQF70002"
	defaultQueueSize    = 1024
	defaultQueryTimeout = 10 * time.Second
)

// Config of the snapshot publisher.
type Config struct {
	Postgres     conn.Option   `yaml:"postgres"`
	Table        string        `yaml:"table"`
	AutoMigrate  bool          `yaml:"auto_migrate"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
	QueueSize    int           `yaml:"queue_size"`

	Decoders publisher.Decoders `yaml:"-"`
	Sink     logger.Sink        `yaml:"-"`
	Metrics  *obs.Metrics       `yaml:"-"`
}

// Publisher loads snapshots on demand.
type Publisher struct {
	cfg    Config
	sink   logger.Sink
	source Source
	client *conn.Client
	inbox  *bus.Queue

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	subs      map[model.DataItemID]publisher.Request
	batch     bool
	deferred  []publisher.Request
	finalised bool
}

// New connects to PostgreSQL and returns a publisher reading cfg.Table.
func New(ctx context.Context, cfg Config) (*Publisher, error) {
	client, err := conn.New(cfg.Postgres)
	if err != nil {
		return nil, errors.Wrap(err, "new snapshot publisher")
	}
	if err := client.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "new snapshot publisher")
	}
	if cfg.AutoMigrate {
		if err := Migrate(client.DB(), cfg.Table); err != nil {
			_ = client.Close()
			return nil, err
		}
	}

	p := NewWithSource(ctx, cfg, NewGormSource(client.DB(), cfg.Table))
	p.client = client
	logs.Infof("pgsnapshot: connected, table %s", orDefault(cfg.Table))
	return p, nil
}

// NewWithSource builds a publisher over an arbitrary row source.
func NewWithSource(ctx context.Context, cfg Config, source Source) *Publisher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = defaultQueryTimeout
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Publisher{
		cfg:    cfg,
		sink:   logger.Or(cfg.Sink),
		source: source,
		inbox:  bus.NewQueue(cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[model.DataItemID]publisher.Request),
	}
}

func (p *Publisher) TypeID() enum.PublisherType {
	return enum.PublisherTypeSnapshot
}

func (p *Publisher) Subscribe(req publisher.Request) bool {
	if p.finalised {
		return false
	}
	p.subs[req.ItemID] = req
	p.serve(req)
	return true
}

// Unsubscribe forgets the subscription and drops its load when a batch still
// holds it back. A load already running completes; the router discards its
// messages as stale.
func (p *Publisher) Unsubscribe(req publisher.Request) {
	if cur, ok := p.subs[req.ItemID]; ok && cur.RequestNr == req.RequestNr {
		delete(p.subs, req.ItemID)
	}

	kept := p.deferred[:0]
	for _, d := range p.deferred {
		if d.ItemID == req.ItemID && d.RequestNr == req.RequestNr && !d.Definition.Query() {
			continue
		}
		kept = append(kept, d)
	}
	clear(p.deferred[len(kept):])
	p.deferred = kept
}

func (p *Publisher) Request(req publisher.Request) bool {
	if p.finalised {
		return false
	}
	p.serve(req)
	return true
}

// SetBatchSubscriptionChanges holds loads back until the batch ends.
func (p *Publisher) SetBatchSubscriptionChanges(batch bool) {
	p.batch = batch
	if batch {
		return
	}
	deferred := p.deferred
	p.deferred = nil
	for _, req := range deferred {
		p.load(req)
	}
}

func (p *Publisher) Messages(time.Time) []model.DataMessage {
	return p.inbox.Drain(nil)
}

// Finalise cancels pending loads, waits for them and closes the pool.
func (p *Publisher) Finalise() {
	if p.finalised {
		return
	}
	p.finalised = true
	clear(p.subs)
	p.deferred = nil

	p.cancel()
	p.wg.Wait()
	p.inbox.Close()

	if p.client != nil {
		if err := p.client.Close(); err != nil {
			logs.Errorf("pgsnapshot: close, err: %+v", err)
		}
	}
}

func (p *Publisher) serve(req publisher.Request) {
	if p.batch {
		p.deferred = append(p.deferred, req)
		return
	}
	p.load(req)
}

// current reports whether req is still worth loading. Queries always are;
// subscriptions only while they are the item's latest request.
func (p *Publisher) current(req publisher.Request) bool {
	if req.Definition.Query() {
		return true
	}
	cur, ok := p.subs[req.ItemID]
	return ok && cur.RequestNr == req.RequestNr
}

func (p *Publisher) load(req publisher.Request) {
	if !p.current(req) {
		return
	}

	typeID, ok := messageType(req.Definition.Channel())
	if !ok {
		err := errors.Wrap(exception.ErrUnsupportedQuery, "snapshot").With("channel", req.Definition.Channel().String())
		p.push(errorMessage(req, err))
		return
	}

	channel := req.Definition.Channel().String()
	key := req.Definition.Params().Key()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithTimeout(p.ctx, p.cfg.QueryTimeout)
		defer cancel()

		rows, err := p.source.Load(ctx, channel, key)
		if p.ctx.Err() != nil {
			return
		}
		if err != nil {
			p.sink.Error(CodeLoad, fmt.Sprintf("%s: %v", req.Definition, err))
			p.push(errorMessage(req, err))
			return
		}

		raw, err := changeList(rows)
		if err == nil {
			var payload any
			payload, err = p.cfg.Decoders.Decode(typeID, raw)
			if err == nil {
				p.push(model.DataMessage{DataItemID: req.ItemID, RequestNr: req.RequestNr, TypeID: typeID, Payload: payload})
				p.push(model.DataMessage{DataItemID: req.ItemID, RequestNr: req.RequestNr, TypeID: enum.MessageTypeSynchronised})
				return
			}
		}

		if p.cfg.Metrics != nil {
			p.cfg.Metrics.Inc(obs.CounterProtocolError)
		}
		p.sink.Error(CodeLoad, fmt.Sprintf("%s: %v", req.Definition, err))
		p.push(errorMessage(req, err))
	}()
}

func (p *Publisher) push(msg model.DataMessage) {
	if err := p.inbox.TryPublish(msg); err != nil {
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.Inc(obs.CounterQueueDrop)
		}
		p.sink.Warning(CodeQueueFull, fmt.Sprintf("item %d %s: %v", msg.DataItemID, msg.TypeID, err))
	}
}

type rawChange struct {
	Op   string          `json:"op"`
	Key  json.RawMessage `json:"key,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// changeList renders rows as a JSON change list: a clear followed by one add per row.
func changeList(rows []Row) ([]byte, error) {
	changes := make([]rawChange, 0, len(rows)+1)
	changes = append(changes, rawChange{Op: "C"})
	for _, row := range rows {
		if !json.Valid([]byte(row.RecordKey)) || !json.Valid([]byte(row.Data)) {
			return nil, errors.Errorf("row %d holds invalid json", row.ID)
		}
		changes = append(changes, rawChange{Op: "A", Key: json.RawMessage(row.RecordKey), Data: json.RawMessage(row.Data)})
	}

	raw, err := sonic.ConfigFastest.Marshal(changes)
	if err != nil {
		return nil, errors.Wrap(err, "encode snapshot")
	}
	return raw, nil
}

func messageType(ch enum.Channel) (enum.MessageType, bool) {
	switch ch {
	case enum.ChannelBrokerageAccounts:
		return enum.MessageTypeAccounts, true
	case enum.ChannelHoldings:
		return enum.MessageTypeHoldings, true
	default:
		return 0, false
	}
}

func errorMessage(req publisher.Request, err error) model.DataMessage {
	return model.DataMessage{
		DataItemID: req.ItemID,
		RequestNr:  req.RequestNr,
		TypeID:     enum.MessageTypeError,
		Payload:    model.ErrorPayload{Code: CodeLoad, Text: err.Error()},
	}
}

func orDefault(table string) string {
	if table == "" {
		return defaultTable
	}
	return table
}

var _ publisher.Publisher = (*Publisher)(nil)
