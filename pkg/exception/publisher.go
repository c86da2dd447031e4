package exception

import "github.com/yanun0323/errors"

// Publisher errors
var (
	ErrUnknownPublisherType  = errors.New("publisher: unknown publisher type")
	ErrPublisherClosed       = errors.New("publisher: closed")
	ErrPublisherNotConnected = errors.New("publisher: not connected")
	ErrEmptyURL              = errors.New("publisher: empty url")
	ErrUnknownMessageType    = errors.New("publisher: unknown message type")
	ErrNoDecoder             = errors.New("publisher: no payload decoder")
	ErrUnsupportedQuery      = errors.New("publisher: unsupported query")
)
