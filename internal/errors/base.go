package errors

import (
	"errors"
)

var (
	_ error = (*InvariantError)(nil)

	// ErrInvariant is matched by every InvariantError through errors.Is.
	ErrInvariant = errors.New("invariant violation")
)

// InvariantError reports a programming error. Each call site uses a unique tag so a
// panic can be traced back without a stack.
type InvariantError struct {
	Tag    string
	Detail string
}

const sep = ", detail: "

func (err *InvariantError) Error() string {
	if err.Detail == "" {
		return ErrInvariant.Error() + " [" + err.Tag + "]"
	}

	return ErrInvariant.Error() + " [" + err.Tag + "]" + sep + err.Detail
}

func (err *InvariantError) Unwrap() error {
	return ErrInvariant
}

// Fail panics with an InvariantError. It never returns.
func Fail(tag string, detail string) {
	panic(&InvariantError{Tag: tag, Detail: detail})
}

// Assert fails with tag when ok is false.
func Assert(ok bool, tag string, detail string) {
	if !ok {
		Fail(tag, detail)
	}
}

// Recover converts a recovered panic value back into an InvariantError.
// Values of any other type are re-panicked.
func Recover(v any) *InvariantError {
	if v == nil {
		return nil
	}
	if err, ok := v.(*InvariantError); ok {
		return err
	}
	panic(v)
}
