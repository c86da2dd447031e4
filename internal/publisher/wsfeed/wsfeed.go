// Package wsfeed is a streaming publisher over a websocket connection.
//
// The connection goroutine owns the socket reads and the reconnect loop. The
// engine goroutine sends control frames and drains decoded messages through
// Messages. A dropped connection is reported to every desired item as an Offline
// broadcast, and a re-established one as an Online broadcast, which makes the
// items resubscribe.
package wsfeed

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"marketsub/internal/bus"
	"marketsub/internal/logger"
	"marketsub/internal/model"
	"marketsub/internal/model/enum"
	"marketsub/internal/obs"
	"marketsub/internal/publisher"
	"marketsub/pkg/exception"
)

const (
	CodeFrame          = "WSFR60001"
	CodeUnknownType    = "WSUT60002"
	CodeQueueFull      = "WSQF60003"
	CodeWriteFailed    = "WSWF60004"
	defaultQueueSize   = 4096
	defaultDialTimeout = 5 * time.Second
	defaultWriteWait   = 2 * time.Second
)

// Config of a websocket publisher.
type Config struct {
	URL              string        `yaml:"url"`
	QueueSize        int           `yaml:"queue_size"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	Backoff          Backoff       `yaml:"backoff"`

	Header   http.Header        `yaml:"-"`
	Decoders publisher.Decoders `yaml:"-"`
	Sink     logger.Sink        `yaml:"-"`
	Metrics  *obs.Metrics       `yaml:"-"`
}

// Publisher speaks the JSON control protocol over one websocket connection.
type Publisher struct {
	cfg    Config
	sink   logger.Sink
	dialer websocket.Dialer
	inbox  *bus.Queue

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	conn      *websocket.Conn
	desired   map[model.DataItemID]publisher.Request
	batch     bool
	pending   []control
	finalised bool
}

// New starts the connection loop. The first connection attempt happens in the
// background, so requests made before it succeeds report the item offline.
func New(ctx context.Context, cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.Wrap(exception.ErrEmptyURL, "new websocket publisher")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultDialTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteWait
	}
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff()
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Publisher{
		cfg:     cfg,
		sink:    logger.Or(cfg.Sink),
		dialer:  websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		inbox:   bus.NewQueue(cfg.QueueSize),
		cancel:  cancel,
		desired: make(map[model.DataItemID]publisher.Request),
	}

	p.wg.Add(1)
	go p.run(ctx)

	return p, nil
}

func (p *Publisher) TypeID() enum.PublisherType {
	return enum.PublisherTypeStream
}

// Connected reports whether a connection is currently established.
func (p *Publisher) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

func (p *Publisher) Subscribe(req publisher.Request) bool {
	return p.track(opSubscribe, req)
}

func (p *Publisher) Request(req publisher.Request) bool {
	return p.track(opRequest, req)
}

func (p *Publisher) Unsubscribe(req publisher.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur, ok := p.desired[req.ItemID]
	if !ok || cur.RequestNr != req.RequestNr {
		return
	}
	delete(p.desired, req.ItemID)
	if p.conn != nil {
		p.sendLocked(newControl(opUnsubscribe, req))
	}
}

// SetBatchSubscriptionChanges coalesces control frames into a single batch frame
// sent when the batch ends, high priority requests first.
func (p *Publisher) SetBatchSubscriptionChanges(batch bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.batch = batch
	if batch || len(p.pending) == 0 {
		return
	}
	ops := p.pending
	p.pending = nil
	byPriority(ops)
	if len(ops) == 1 {
		p.writeLocked(ops[0])
		return
	}
	p.writeLocked(control{Op: opBatch, Ops: ops})
}

func (p *Publisher) Messages(time.Time) []model.DataMessage {
	return p.inbox.Drain(nil)
}

// Finalise stops the connection loop and waits for it to exit.
func (p *Publisher) Finalise() {
	p.mu.Lock()
	if p.finalised {
		p.mu.Unlock()
		return
	}
	p.finalised = true
	clear(p.desired)
	p.pending = nil
	conn := p.conn
	p.mu.Unlock()

	p.cancel()
	if conn != nil {
		_ = conn.Close()
	}
	p.wg.Wait()
	p.inbox.Close()
}

// track remembers the request so it can be replayed after a reconnect. Query
// requests are forgotten once answered.
func (p *Publisher) track(op string, req publisher.Request) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finalised {
		return false
	}
	p.desired[req.ItemID] = req
	if p.conn == nil {
		return false
	}
	p.sendLocked(newControl(op, req))
	return true
}

func (p *Publisher) sendLocked(c control) {
	if p.batch {
		p.pending = append(p.pending, c)
		return
	}
	p.writeLocked(c)
}

// writeLocked writes one frame. A failed write closes the socket and leaves the
// reconnect to the read loop.
func (p *Publisher) writeLocked(c control) {
	if p.conn == nil {
		return
	}
	data, err := sonic.ConfigFastest.Marshal(c)
	if err != nil {
		p.sink.Error(CodeWriteFailed, err.Error())
		return
	}
	_ = p.conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout))
	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		p.sink.Error(CodeWriteFailed, fmt.Sprintf("%s: %v", c.Op, err))
		_ = p.conn.Close()
	}
}

func (p *Publisher) run(ctx context.Context) {
	defer p.wg.Done()

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := p.dialer.DialContext(ctx, p.cfg.URL, p.cfg.Header)
		if err != nil {
			attempt++
			logs.Warnf("wsfeed: dial %s failed (attempt %d): %+v", p.cfg.URL, attempt, err)
			if !p.sleepBackoff(ctx, attempt) {
				return
			}
			continue
		}

		attempt = 0
		if !p.attach(conn) {
			_ = conn.Close()
			return
		}
		logs.Infof("wsfeed: connected to %s", p.cfg.URL)

		err = p.readLoop(ctx, conn)
		p.detach(conn)
		if ctx.Err() != nil {
			return
		}

		attempt++
		logs.Warnf("wsfeed: connection to %s lost: %+v", p.cfg.URL, err)
		if !p.sleepBackoff(ctx, attempt) {
			return
		}
	}
}

// attach installs conn and tells every desired item the feed is online.
func (p *Publisher) attach(conn *websocket.Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finalised {
		return false
	}
	p.conn = conn
	p.broadcastLocked(enum.MessageTypeOnline)
	return true
}

func (p *Publisher) detach(conn *websocket.Conn) {
	_ = conn.Close()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != conn {
		return
	}
	p.conn = nil
	p.pending = nil
	if !p.finalised {
		p.broadcastLocked(enum.MessageTypeOffline)
	}
}

func (p *Publisher) broadcastLocked(typeID enum.MessageType) {
	for id := range p.desired {
		p.push(model.NewBroadcast(id, typeID))
	}
}

func (p *Publisher) readLoop(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if kind != websocket.TextMessage {
			continue
		}
		p.handleFrame(data)
	}
}

func (p *Publisher) handleFrame(data []byte) {
	var env envelope
	if err := sonic.ConfigFastest.Unmarshal(data, &env); err != nil {
		p.protocolError(CodeFrame, errors.Wrap(err, "decode envelope").Error())
		return
	}

	typeID, ok := enum.ParseMessageType(env.Type)
	if !ok {
		p.protocolError(CodeUnknownType, errors.Wrap(exception.ErrUnknownMessageType, "handle frame").With("type", env.Type).Error())
		return
	}

	payload, err := p.cfg.Decoders.Decode(typeID, env.Data)
	if err != nil {
		p.protocolError(CodeFrame, errors.Wrapf(err, "decode %s payload", typeID).Error())
		return
	}

	msg := model.DataMessage{
		DataItemID: model.DataItemID(env.Item),
		RequestNr:  model.RequestNr(env.Req),
		TypeID:     typeID,
		Payload:    payload,
	}
	if typeID == enum.MessageTypeSynchronised || typeID == enum.MessageTypeError {
		p.forgetAnswered(msg)
	}
	p.push(msg)
}

func (p *Publisher) forgetAnswered(msg model.DataMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	req, ok := p.desired[msg.DataItemID]
	if ok && req.Definition.Query() && req.RequestNr == msg.RequestNr {
		delete(p.desired, msg.DataItemID)
	}
}

func (p *Publisher) push(msg model.DataMessage) {
	if err := p.inbox.TryPublish(msg); err != nil {
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.Inc(obs.CounterQueueDrop)
		}
		p.sink.Warning(CodeQueueFull, fmt.Sprintf("item %d %s: %v", msg.DataItemID, msg.TypeID, err))
	}
}

func (p *Publisher) protocolError(code, detail string) {
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.Inc(obs.CounterProtocolError)
	}
	p.sink.Error(code, detail)
}

func (p *Publisher) sleepBackoff(ctx context.Context, attempt int) bool {
	timer := time.NewTimer(p.cfg.Backoff.Next(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

var _ publisher.Publisher = (*Publisher)(nil)
