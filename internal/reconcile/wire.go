package reconcile

import (
	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
)

// WireChange is the JSON form of a change, {"op":"A","key":...,"data":...}.
type WireChange[K comparable, P any] struct {
	Op   string `json:"op"`
	Key  K      `json:"key"`
	Data P      `json:"data"`
}

// DecodeChanges decodes a JSON change list. Unknown ops decode to KindUnknown and
// are reported when the batch is applied.
func DecodeChanges[K comparable, P any](raw []byte) ([]Change[K, P], error) {
	var wire []WireChange[K, P]
	if err := sonic.ConfigFastest.Unmarshal(raw, &wire); err != nil {
		return nil, errors.Wrap(err, "decode changes")
	}

	changes := make([]Change[K, P], len(wire))
	for i, w := range wire {
		changes[i] = Change[K, P]{Kind: ParseKind(w.Op), Key: w.Key, Payload: w.Data}
	}

	return changes, nil
}

// Tag returns the one-letter wire tag of a kind.
func (k Kind) Tag() string {
	switch k {
	case KindAdd:
		return "A"
	case KindUpdate:
		return "U"
	case KindRemove:
		return "R"
	case KindClear:
		return "C"
	default:
		return ""
	}
}

// EncodeChanges is the inverse of DecodeChanges.
func EncodeChanges[K comparable, P any](changes []Change[K, P]) ([]byte, error) {
	wire := make([]WireChange[K, P], len(changes))
	for i, c := range changes {
		wire[i] = WireChange[K, P]{Op: c.Kind.Tag(), Key: c.Key, Data: c.Payload}
	}

	raw, err := sonic.ConfigFastest.Marshal(wire)
	if err != nil {
		return nil, errors.Wrap(err, "encode changes")
	}

	return raw, nil
}
