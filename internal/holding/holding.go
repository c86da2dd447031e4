// Package holding is the holdings channel: per account positions kept in sync
// from incremental change lists.
package holding

import (
	"github.com/yanun0323/decimal"

	"marketsub/internal/event"
	"marketsub/internal/model/enum"
)

// Key identifies a holding.
type Key struct {
	Exchange  string `json:"exchange"`
	Code      string `json:"code"`
	AccountID string `json:"account_id"`
}

func (k Key) String() string {
	return k.AccountID + ":" + k.Exchange + ":" + k.Code
}

// Data is the payload of one holding.
type Data struct {
	Cost                   decimal.Decimal `json:"cost"`
	AveragePrice           decimal.Decimal `json:"average_price"`
	TotalQuantity          int64           `json:"total_quantity"`
	TotalAvailableQuantity int64           `json:"total_available_quantity"`
	Currency               string          `json:"currency"`
}

// Field names a holding field.
type Field uint8

const (
	FieldCost Field = 1 << iota
	FieldAveragePrice
	FieldTotalQuantity
	FieldTotalAvailableQuantity
	FieldCurrency
)

// Has reports whether every field of f2 is set in f.
func (f Field) Has(f2 Field) bool {
	return f&f2 == f2
}

// diff returns the fields that differ between a and b.
func diff(a, b Data) Field {
	var f Field
	if a.Cost.String() != b.Cost.String() {
		f |= FieldCost
	}
	if a.AveragePrice.String() != b.AveragePrice.String() {
		f |= FieldAveragePrice
	}
	if a.TotalQuantity != b.TotalQuantity {
		f |= FieldTotalQuantity
	}
	if a.TotalAvailableQuantity != b.TotalAvailableQuantity {
		f |= FieldTotalAvailableQuantity
	}
	if a.Currency != b.Currency {
		f |= FieldCurrency
	}
	return f
}

// FieldChange is emitted when an update changes a holding.
type FieldChange struct {
	Holding *Holding
	Fields  Field
}

// Holding is one position record.
type Holding struct {
	key       Key
	data      Data
	item      *Item
	changes   event.Multi[FieldChange]
	destroyed bool
}

func (h *Holding) Key() Key {
	return h.key
}

func (h *Holding) Data() Data {
	return h.data
}

func (h *Holding) Destroyed() bool {
	return h.destroyed
}

// Correctness follows the item holding the record.
func (h *Holding) Correctness() enum.Correctness {
	if h.destroyed {
		return enum.CorrectnessError
	}
	return h.item.Badness().Correctness()
}

// OnFieldChange registers a handler for in place updates.
func (h *Holding) OnFieldChange(fn func(FieldChange)) event.ID {
	return h.changes.Subscribe(fn)
}

func (h *Holding) Apply(data Data) {
	fields := diff(h.data, data)
	if fields == 0 {
		return
	}
	h.data = data
	h.item.NotifyUpdateChange()
	h.changes.Notify(FieldChange{Holding: h, Fields: fields})
}

func (h *Holding) Destroy() {
	h.destroyed = true
}
