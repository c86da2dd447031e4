package enum

// MessageType tags the payload carried by a data message.
type MessageType uint8

const (
	_message_type_beg MessageType = iota
	MessageTypeSynchronised
	MessageTypeError
	MessageTypeOnline
	MessageTypeOffline
	MessageTypeAccounts
	MessageTypeHoldings
	_message_type_end
)

var _messageTypeNames = [...]string{
	MessageTypeSynchronised: "synchronised",
	MessageTypeError:        "error",
	MessageTypeOnline:       "online",
	MessageTypeOffline:      "offline",
	MessageTypeAccounts:     "accounts",
	MessageTypeHoldings:     "holdings",
}

func (t MessageType) IsAvailable() bool {
	return t > _message_type_beg && t < _message_type_end
}

func (t MessageType) String() string {
	if !t.IsAvailable() {
		return "unknown"
	}
	return _messageTypeNames[t]
}

// ParseMessageType resolves a message type from its wire name.
func ParseMessageType(name string) (MessageType, bool) {
	for t := _message_type_beg + 1; t < _message_type_end; t++ {
		if _messageTypeNames[t] == name {
			return t, true
		}
	}
	return 0, false
}
