// Package account is the brokerage accounts channel.
package account

import (
	"fmt"

	"marketsub/internal/event"
	"marketsub/internal/model"
	"marketsub/internal/model/enum"
	"marketsub/internal/reconcile"
	"marketsub/internal/subscription"
)

const CodeUnexpectedPayload = "ACUP40001"

// Data is the payload of one brokerage account.
type Data struct {
	Name        string `json:"name"`
	Currency    string `json:"currency"`
	Environment string `json:"environment"`
}

// Account is one brokerage account record.
type Account struct {
	id        string
	data      Data
	item      *Item
	changed   event.Multi[*Account]
	destroyed bool
}

func (a *Account) ID() string {
	return a.id
}

func (a *Account) Data() Data {
	return a.data
}

// Correctness follows the item holding the record.
func (a *Account) Correctness() enum.Correctness {
	if a.destroyed {
		return enum.CorrectnessError
	}
	return a.item.Badness().Correctness()
}

func (a *Account) Destroyed() bool {
	return a.destroyed
}

// OnChanged registers a handler for in place updates.
func (a *Account) OnChanged(fn func(*Account)) event.ID {
	return a.changed.Subscribe(fn)
}

func (a *Account) Apply(data Data) {
	if data == a.data {
		return
	}
	a.data = data
	a.item.NotifyUpdateChange()
	a.changed.Notify(a)
}

func (a *Account) Destroy() {
	a.destroyed = true
}

// NewDefinition is the permanent accounts subscription.
func NewDefinition(opts ...model.DefinitionOption) model.Definition {
	return model.NewDefinition(enum.ChannelBrokerageAccounts, model.NoParams{}, true, opts...)
}

// Item is the brokerage accounts data item.
type Item struct {
	*subscription.PublisherItem
	list *reconcile.List[string, Data, *Account]
}

func New(base *subscription.Item) *Item {
	it := &Item{}
	it.PublisherItem = subscription.NewPublisherItem(base, it.handle)
	it.list = reconcile.NewList[string, Data, *Account]("accounts", it.newAccount, base.Sink())
	it.list.SubscribeChanges(func(reconcile.ListChange) {
		it.NotifyUpdateChange()
	})
	return it
}

func (it *Item) newAccount(id string, data Data) *Account {
	return &Account{id: id, data: data, item: it}
}

func (it *Item) OnStop() {
	it.PublisherItem.OnStop()
	it.list.Clear()
}

func (it *Item) handle(msg model.DataMessage) {
	changes, ok := msg.Payload.([]reconcile.Change[string, Data])
	if msg.TypeID != enum.MessageTypeAccounts || !ok {
		it.Sink().Error(CodeUnexpectedPayload, fmt.Sprintf("%s: %s %T", it.Base(), msg.TypeID, msg.Payload))
		return
	}
	it.list.Apply(changes)
}

// List exposes the account records.
func (it *Item) List() *reconcile.List[string, Data, *Account] {
	return it.list
}

// Get returns the account with id.
func (it *Item) Get(id string) (*Account, bool) {
	return it.list.Get(id)
}

// DecodeChanges decodes an accounts change list.
func DecodeChanges(raw []byte) (any, error) {
	return reconcile.DecodeChanges[string, Data](raw)
}
