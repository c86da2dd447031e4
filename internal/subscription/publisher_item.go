package subscription

import (
	"marketsub/internal/model"
	"marketsub/internal/model/enum"
	"marketsub/internal/publisher"
)

const CodePublisherUnavailable = "DIPU20001"

// PublisherState tracks the wire side of a network backed item.
type PublisherState uint8

const (
	PublisherStateNotSubscribed PublisherState = iota
	PublisherStateSubscribing
	PublisherStateSynchronising
	PublisherStateSynchronised
	PublisherStateError
	PublisherStateOffline
)

func (s PublisherState) String() string {
	switch s {
	case PublisherStateNotSubscribed:
		return "not_subscribed"
	case PublisherStateSubscribing:
		return "subscribing"
	case PublisherStateSynchronising:
		return "synchronising"
	case PublisherStateSynchronised:
		return "synchronised"
	case PublisherStateError:
		return "error"
	case PublisherStateOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// PublisherItem is the base of items fed by a publisher. Concrete items embed it and
// receive their data messages through the handler.
type PublisherItem struct {
	*Item

	publisher  publisher.Publisher
	state      PublisherState
	subscribed model.RequestNr
	lastError  model.ErrorPayload
	handler    func(msg model.DataMessage)
}

// NewPublisherItem wraps base. handler receives every message that is not a
// publisher status message and may be nil.
func NewPublisherItem(base *Item, handler func(msg model.DataMessage)) *PublisherItem {
	return &PublisherItem{Item: base, handler: handler}
}

func (p *PublisherItem) PublisherState() PublisherState {
	return p.state
}

// LastError returns the payload of the last Error message.
func (p *PublisherItem) LastError() model.ErrorPayload {
	return p.lastError
}

func (p *PublisherItem) OnStart() {
	pub, err := p.RequirePublisher()
	if err != nil {
		p.sink.Error(CodePublisherUnavailable, p.String()+": "+err.Error())
		p.publisher = nil
		return
	}

	p.publisher = pub
	p.subscribe()
}

func (p *PublisherItem) OnStop() {
	p.unsubscribe()
	p.state = PublisherStateNotSubscribed
	p.publisher = nil
}

// Resubscribe supersedes the active request with a new request number. Responses
// still in flight for the old request become stale.
func (p *PublisherItem) Resubscribe() {
	if !p.started || p.publisher == nil {
		return
	}

	p.unsubscribe()
	p.nextRequestNr()
	p.subscribe()
}

func (p *PublisherItem) request() publisher.Request {
	return publisher.Request{
		ItemID:     p.id,
		RequestNr:  p.activeRequestNr,
		Definition: p.definition,
	}
}

func (p *PublisherItem) subscribe() {
	req := p.request()

	var ok bool
	if p.definition.Query() {
		ok = p.publisher.Request(req)
	} else {
		ok = p.publisher.Subscribe(req)
	}

	p.subscribed = req.RequestNr
	if ok {
		p.state = PublisherStateSubscribing
	} else {
		p.state = PublisherStateOffline
	}
	p.UpdateBadness()
}

func (p *PublisherItem) unsubscribe() {
	if p.publisher == nil || p.definition.Query() {
		return
	}
	if p.state == PublisherStateNotSubscribed || p.state == PublisherStateOffline {
		return
	}

	req := p.request()
	req.RequestNr = p.subscribed
	p.publisher.Unsubscribe(req)
}

// ProcessMessage handles publisher status messages and forwards the rest to the
// handler.
func (p *PublisherItem) ProcessMessage(msg model.DataMessage) {
	switch msg.TypeID {
	case enum.MessageTypeOnline:
		p.Resubscribe()
		return
	case enum.MessageTypeOffline:
		p.state = PublisherStateOffline
	case enum.MessageTypeSynchronised:
		p.state = PublisherStateSynchronised
	case enum.MessageTypeError:
		p.state = PublisherStateError
		if payload, ok := msg.Payload.(model.ErrorPayload); ok {
			p.lastError = payload
		}
	default:
		if p.state == PublisherStateSubscribing {
			p.state = PublisherStateSynchronising
		}
		if p.handler != nil {
			p.handler(msg)
		}
	}
	p.UpdateBadness()
}

func (p *PublisherItem) CalculateUsabilityBadness() model.Badness {
	if p.publisher == nil {
		return model.NewBadness(enum.BadnessReasonPublisherUnavailable, "")
	}

	switch p.state {
	case PublisherStateSubscribing:
		return model.NewBadness(enum.BadnessReasonSubscribing, "")
	case PublisherStateSynchronising:
		return model.NewBadness(enum.BadnessReasonSynchronising, "")
	case PublisherStateSynchronised:
		return model.Good
	case PublisherStateError:
		return model.NewBadness(enum.BadnessReasonError, p.lastError.Text)
	case PublisherStateOffline:
		return model.NewBadness(enum.BadnessReasonOffline, "")
	default:
		return model.NewBadness(enum.BadnessReasonInactive, "")
	}
}
