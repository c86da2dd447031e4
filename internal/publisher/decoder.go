package publisher

import (
	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"marketsub/internal/model"
	"marketsub/internal/model/enum"
	"marketsub/pkg/exception"
)

// Decoder turns a raw wire payload into a DataMessage payload.
type Decoder func(raw []byte) (any, error)

// Decoders maps data message types to their payload decoder. Status messages need
// no entry.
type Decoders map[enum.MessageType]Decoder

// Decode decodes raw for a message type.
func (d Decoders) Decode(typeID enum.MessageType, raw []byte) (any, error) {
	switch typeID {
	case enum.MessageTypeSynchronised, enum.MessageTypeOnline, enum.MessageTypeOffline:
		return nil, nil
	case enum.MessageTypeError:
		var payload model.ErrorPayload
		if len(raw) == 0 {
			return payload, nil
		}
		if err := sonic.ConfigFastest.Unmarshal(raw, &payload); err != nil {
			return nil, errors.Wrap(err, "decode error payload")
		}
		return payload, nil
	}

	decode, ok := d[typeID]
	if !ok || decode == nil {
		return nil, errors.Wrap(exception.ErrNoDecoder, "decode").With("type", typeID.String())
	}

	return decode(raw)
}
