// Package reconcile applies streamed Add/Update/Remove/Clear change batches to an
// ordered, keyed record list while keeping change notifications to a minimum.
package reconcile

// Kind of a change record.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindAdd
	KindUpdate
	KindRemove
	KindClear
)

func (k Kind) String() string {
	switch k {
	case KindAdd:
		return "add"
	case KindUpdate:
		return "update"
	case KindRemove:
		return "remove"
	case KindClear:
		return "clear"
	default:
		return "unknown"
	}
}

// ParseKind maps the one-letter wire tag onto a kind. Unrecognised tags map to
// KindUnknown and are rejected when the batch is applied.
func ParseKind(tag string) Kind {
	switch tag {
	case "A":
		return KindAdd
	case "U":
		return KindUpdate
	case "R":
		return KindRemove
	case "C":
		return KindClear
	default:
		return KindUnknown
	}
}

// Change is one entry of a change batch. Clear carries no key or payload.
type Change[K comparable, P any] struct {
	Kind    Kind
	Key     K
	Payload P
}

func Add[K comparable, P any](key K, payload P) Change[K, P] {
	return Change[K, P]{Kind: KindAdd, Key: key, Payload: payload}
}

func Update[K comparable, P any](key K, payload P) Change[K, P] {
	return Change[K, P]{Kind: KindUpdate, Key: key, Payload: payload}
}

func Remove[K comparable, P any](key K) Change[K, P] {
	return Change[K, P]{Kind: KindRemove, Key: key}
}

func Clear[K comparable, P any]() Change[K, P] {
	return Change[K, P]{Kind: KindClear}
}

// ListChangeType describes a list-level notification.
type ListChangeType uint8

const (
	ListChangeInsert ListChangeType = iota + 1
	ListChangeRemove
	ListChangeClear
)

func (t ListChangeType) String() string {
	switch t {
	case ListChangeInsert:
		return "insert"
	case ListChangeRemove:
		return "remove"
	case ListChangeClear:
		return "clear"
	default:
		return "unknown"
	}
}

// ListChange is emitted once per batched list mutation. Insert is emitted after the
// rows exist, Remove and Clear before the rows go away.
type ListChange struct {
	Type  ListChangeType
	Index int
	Count int
}
