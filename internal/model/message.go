package model

import "marketsub/internal/model/enum"

// DataMessage is produced by a publisher for one data item.
type DataMessage struct {
	DataItemID DataItemID
	RequestNr  RequestNr
	TypeID     enum.MessageType
	Payload    any
}

// ErrorPayload accompanies MessageTypeError.
type ErrorPayload struct {
	Code string `json:"code"`
	Text string `json:"text"`
}

// NewBroadcast builds an out-of-band message for every active request of an item.
func NewBroadcast(id DataItemID, typeID enum.MessageType) DataMessage {
	return DataMessage{
		DataItemID: id,
		RequestNr:  BroadcastRequestNr,
		TypeID:     typeID,
	}
}
