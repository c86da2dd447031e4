package exception

import "github.com/yanun0323/errors"

// Subscription errors
var (
	ErrNilDataItemFactory  = errors.New("subscription: nil data item factory")
	ErrNilPublisherFactory = errors.New("subscription: nil publisher factory")
	ErrInvalidDefinition   = errors.New("subscription: invalid definition")
	ErrUnsupportedChannel  = errors.New("subscription: unsupported channel")
	ErrDataItemMismatch    = errors.New("subscription: data item factory returned foreign base")
	ErrManagerFinalised    = errors.New("subscription: manager finalised")
	ErrIncubationCancelled = errors.New("subscription: incubation cancelled")
)
