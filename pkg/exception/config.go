package exception

import "github.com/yanun0323/errors"

// Config errors
var (
	ErrConfigEmptyPath       = errors.New("config: empty path")
	ErrConfigInvalidInterval = errors.New("config: invalid interval")
	ErrConfigUnknownChannel  = errors.New("config: unknown channel")
	ErrConfigInvalidLimit    = errors.New("config: invalid active subscriptions limit")
	ErrConfigInvalidDelay    = errors.New("config: invalid deactivation delay")
	ErrConfigNoPublisher     = errors.New("config: no publisher configured")
)
