package wsfeed

import (
	"encoding/json"
	"slices"

	"marketsub/internal/model/enum"
	"marketsub/internal/publisher"
)

const (
	opSubscribe   = "sub"
	opUnsubscribe = "unsub"
	opRequest     = "req"
	opBatch       = "batch"

	priorityHigh = "high"
)

// control is an outbound frame. A batch frame carries its operations in Ops.
type control struct {
	Op       string    `json:"op"`
	Item     uint64    `json:"item,omitempty"`
	Req      uint32    `json:"req,omitempty"`
	Channel  string    `json:"channel,omitempty"`
	Key      string    `json:"key,omitempty"`
	Priority string    `json:"priority,omitempty"`
	Ops      []control `json:"ops,omitempty"`
}

func newControl(op string, req publisher.Request) control {
	c := control{
		Op:      op,
		Item:    uint64(req.ItemID),
		Req:     uint32(req.RequestNr),
		Channel: req.Definition.Channel().String(),
		Key:     req.Definition.Params().Key(),
	}
	if req.Definition.PublisherRequestSendPriority() == enum.SendPriorityHigh {
		c.Priority = priorityHigh
	}
	return c
}

// byPriority orders high priority frames first and keeps the submission order
// otherwise.
func byPriority(ops []control) {
	slices.SortStableFunc(ops, func(a, b control) int {
		return rank(a) - rank(b)
	})
}

func rank(c control) int {
	if c.Priority == priorityHigh {
		return 0
	}
	return 1
}

// envelope is an inbound frame addressed to one data item request.
type envelope struct {
	Item uint64          `json:"item"`
	Req  uint32          `json:"req"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}
