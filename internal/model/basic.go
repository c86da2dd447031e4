package model

import "strconv"

// DataItemID identifies a data item for the lifetime of the process.
type DataItemID uint64

func (id DataItemID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// RequestNr numbers the activation cycles of a data item. A message carries the
// request number it answers so responses to a superseded request can be discarded.
type RequestNr uint32

// BroadcastRequestNr matches any active request of the target item.
const BroadcastRequestNr RequestNr = 0

func (nr RequestNr) IsBroadcast() bool {
	return nr == BroadcastRequestNr
}
