package holding

import (
	"fmt"

	"marketsub/internal/account"
	"marketsub/internal/event"
	"marketsub/internal/model"
	"marketsub/internal/model/enum"
	"marketsub/internal/reconcile"
	"marketsub/internal/subscription"
)

const (
	CodeUnexpectedPayload   = "HDUP40101"
	CodeAccountsUnavailable = "HDAU40102"
)

// Params selects the holdings of one account.
type Params struct {
	AccountID string
}

func (p Params) Key() string {
	return p.AccountID
}

// NewDefinition is the referencable holdings subscription of an account.
func NewDefinition(accountID string, opts ...model.DefinitionOption) model.Definition {
	return model.NewDefinition(enum.ChannelHoldings, Params{AccountID: accountID}, true, opts...)
}

// Item is the holdings data item of one account. It is not online before the
// accounts item is.
type Item struct {
	*subscription.PublisherItem

	list             *reconcile.List[Key, Data, *Holding]
	accounts         subscription.DataItem
	accountsObserver event.ID
}

func New(base *subscription.Item) *Item {
	it := &Item{}
	it.PublisherItem = subscription.NewPublisherItem(base, it.handle)
	it.list = reconcile.NewList[Key, Data, *Holding]("holdings "+base.Definition().Params().Key(), it.newHolding, base.Sink())
	it.list.SubscribeChanges(func(reconcile.ListChange) {
		it.NotifyUpdateChange()
	})
	return it
}

func (it *Item) newHolding(key Key, data Data) *Holding {
	return &Holding{key: key, data: data, item: it}
}

// AccountID returns the account the item serves.
func (it *Item) AccountID() string {
	if p, ok := it.Definition().Params().(Params); ok {
		return p.AccountID
	}
	return ""
}

func (it *Item) OnStart() {
	accounts, err := it.RequireDataItem(account.NewDefinition(model.WithPublisherType(it.Definition().PublisherType())))
	if err != nil {
		it.Sink().Error(CodeAccountsUnavailable, it.Base().String()+": "+err.Error())
	} else {
		it.accounts = accounts
		it.accountsObserver = accounts.Base().Observe(it.onAccountsEvent)
	}

	it.PublisherItem.OnStart()
}

func (it *Item) OnStop() {
	it.PublisherItem.OnStop()
	it.list.Clear()

	if it.accounts != nil {
		it.accounts.Base().Unobserve(it.accountsObserver)
		it.ReleaseDataItem(it.accounts)
		it.accounts = nil
	}
}

func (it *Item) onAccountsEvent(e subscription.Event) {
	if e.Kind != subscription.EventBadnessChange {
		return
	}
	it.BeginUpdate()
	it.UpdateBadness()
	it.EndUpdate()
}

func (it *Item) CalculateUsabilityBadness() model.Badness {
	if it.accounts == nil || !it.accounts.Base().Online() {
		return model.NewBadness(enum.BadnessReasonDependencyNotOnline, enum.ChannelBrokerageAccounts.String())
	}
	return it.PublisherItem.CalculateUsabilityBadness()
}

func (it *Item) handle(msg model.DataMessage) {
	changes, ok := msg.Payload.([]reconcile.Change[Key, Data])
	if msg.TypeID != enum.MessageTypeHoldings || !ok {
		it.Sink().Error(CodeUnexpectedPayload, fmt.Sprintf("%s: %s %T", it.Base(), msg.TypeID, msg.Payload))
		return
	}
	it.list.Apply(changes)
}

// List exposes the holding records in arrival order.
func (it *Item) List() *reconcile.List[Key, Data, *Holding] {
	return it.list
}

// Get returns the holding with key.
func (it *Item) Get(key Key) (*Holding, bool) {
	return it.list.Get(key)
}

// DecodeChanges decodes a holdings change list.
func DecodeChanges(raw []byte) (any, error) {
	return reconcile.DecodeChanges[Key, Data](raw)
}
