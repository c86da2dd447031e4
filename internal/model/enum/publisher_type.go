package enum

// PublisherType identifies the wire protocol a publisher speaks.
type PublisherType uint8

const (
	_publisher_type_beg PublisherType = iota
	PublisherTypeStream
	PublisherTypeSnapshot
	PublisherTypeSimulated
	_publisher_type_end
)

func (p PublisherType) IsAvailable() bool {
	return p > _publisher_type_beg && p < _publisher_type_end
}

func (p PublisherType) String() string {
	switch p {
	case PublisherTypeStream:
		return "stream"
	case PublisherTypeSnapshot:
		return "snapshot"
	case PublisherTypeSimulated:
		return "simulated"
	default:
		return "unknown"
	}
}

// ParsePublisherType resolves a publisher type from its config name.
func ParsePublisherType(name string) (PublisherType, bool) {
	for p := _publisher_type_beg + 1; p < _publisher_type_end; p++ {
		if p.String() == name {
			return p, true
		}
	}
	return 0, false
}
