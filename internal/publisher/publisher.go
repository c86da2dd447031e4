// Package publisher defines the transport collaborator of the subscription engine.
package publisher

import (
	"sort"
	"time"

	"github.com/yanun0323/errors"

	"marketsub/internal/model"
	"marketsub/internal/model/enum"
	"marketsub/pkg/exception"
)

// Request identifies one subscribe, unsubscribe or query operation.
type Request struct {
	ItemID     model.DataItemID
	RequestNr  model.RequestNr
	Definition model.Definition
}

// Publisher owns the wire for one publisher type. Every method is called from the
// engine goroutine; implementations hand inbound traffic over through Messages.
type Publisher interface {
	TypeID() enum.PublisherType
	// Subscribe returns false when the transport is offline. The publisher then
	// broadcasts Online for the item once it can serve it.
	Subscribe(req Request) bool
	Unsubscribe(req Request)
	// Request performs a one-shot query.
	Request(req Request) bool
	// Messages returns the buffered inbound messages, or nil.
	Messages(now time.Time) []model.DataMessage
	SetBatchSubscriptionChanges(batch bool)
	Finalise()
}

// Factory creates publishers by type.
type Factory interface {
	CreatePublisher(typeID enum.PublisherType) (Publisher, error)
}

// Constructor builds one publisher.
type Constructor func() (Publisher, error)

// Registry is a map backed Factory.
type Registry struct {
	constructors map[enum.PublisherType]Constructor
}

func NewRegistry() *Registry {
	return &Registry{constructors: make(map[enum.PublisherType]Constructor)}
}

// Register binds a constructor to a publisher type, replacing any previous one.
func (r *Registry) Register(typeID enum.PublisherType, constructor Constructor) *Registry {
	r.constructors[typeID] = constructor
	return r
}

func (r *Registry) CreatePublisher(typeID enum.PublisherType) (Publisher, error) {
	constructor, ok := r.constructors[typeID]
	if !ok || constructor == nil {
		return nil, errors.Wrap(exception.ErrUnknownPublisherType, "create publisher").With("type", typeID.String())
	}

	p, err := constructor()
	if err != nil {
		return nil, errors.Wrap(err, "create publisher").With("type", typeID.String())
	}

	return p, nil
}

// Types returns the registered publisher types in ascending order.
func (r *Registry) Types() []enum.PublisherType {
	types := make([]enum.PublisherType, 0, len(r.constructors))
	for t := range r.constructors {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

var _ Factory = (*Registry)(nil)
