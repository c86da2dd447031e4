package model

import (
	"sort"
	"strings"

	"marketsub/internal/model/enum"
)

// Params is the channel-specific part of a definition.
// Key must be deterministic: equal params render equal keys.
type Params interface {
	Key() string
}

// NoParams is used by channels that need no arguments.
type NoParams struct{}

func (NoParams) Key() string { return "" }

// Definition describes what data is wanted. It is immutable once built.
type Definition struct {
	channel       enum.Channel
	params        Params
	referencable  bool
	query         bool
	publisherType enum.PublisherType
	priority      enum.SendPriority
}

// DefinitionOption customises a definition at construction.
type DefinitionOption func(*Definition)

// WithPublisherType selects the protocol serving the definition. Default is stream.
func WithPublisherType(p enum.PublisherType) DefinitionOption {
	return func(d *Definition) { d.publisherType = p }
}

// WithSendPriority sets the publisher request send priority.
func WithSendPriority(p enum.SendPriority) DefinitionOption {
	return func(d *Definition) { d.priority = p }
}

// AsQuery makes the definition a one-shot request instead of a subscription.
func AsQuery() DefinitionOption {
	return func(d *Definition) { d.query = true }
}

// NewDefinition builds a definition. Referencable definitions with equal keys share
// one data item.
func NewDefinition(channel enum.Channel, params Params, referencable bool, opts ...DefinitionOption) Definition {
	if params == nil {
		params = NoParams{}
	}
	d := Definition{
		channel:       channel,
		params:        params,
		referencable:  referencable,
		publisherType: enum.PublisherTypeStream,
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

func (d Definition) Channel() enum.Channel {
	return d.channel
}

func (d Definition) Params() Params {
	return d.params
}

func (d Definition) Referencable() bool {
	return d.referencable
}

// Query reports whether the definition is a one-shot request.
func (d Definition) Query() bool {
	return d.query
}

func (d Definition) PublisherType() enum.PublisherType {
	return d.publisherType
}

func (d Definition) PublisherRequestSendPriority() enum.SendPriority {
	return d.priority
}

// ReferencableKey identifies the shared subscription of a referencable definition.
func (d Definition) ReferencableKey() string {
	var b strings.Builder
	b.WriteString(d.channel.String())
	b.WriteByte('/')
	b.WriteString(d.publisherType.String())
	if d.query {
		b.WriteString("/q")
	}
	b.WriteByte('/')
	if d.params != nil {
		b.WriteString(d.params.Key())
	}
	return b.String()
}

func (d Definition) String() string {
	return d.ReferencableKey()
}

// DependsOn returns every channel the definition's channel transitively depends on,
// nearest first.
func (d Definition) DependsOn() []enum.Channel {
	seen := make(map[enum.Channel]struct{})
	var walk func(c enum.Channel)
	walk = func(c enum.Channel) {
		for _, dep := range c.Dependencies() {
			if _, ok := seen[dep]; ok {
				continue
			}
			seen[dep] = struct{}{}
			walk(dep)
		}
	}
	walk(d.channel)

	result := make([]enum.Channel, 0, len(seen))
	for c := range seen {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		di, dj := result[i].DependencyDepth(), result[j].DependencyDepth()
		if di != dj {
			return di > dj
		}
		return result[i] < result[j]
	})
	return result
}
