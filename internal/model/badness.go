package model

import "marketsub/internal/model/enum"

// Badness is the usability state of a data item with its reason.
type Badness struct {
	Reason enum.BadnessReason
	Extra  string
}

// Good is the badness of a fully usable item.
var Good = Badness{}

func NewBadness(reason enum.BadnessReason, extra string) Badness {
	return Badness{Reason: reason, Extra: extra}
}

func (b Badness) IsGood() bool {
	return b.Reason == enum.BadnessReasonNone
}

// IsUsable reports whether consumers may display the data.
func (b Badness) IsUsable() bool {
	c := b.Correctness()
	return c == enum.CorrectnessGood || c == enum.CorrectnessUsable
}

func (b Badness) Correctness() enum.Correctness {
	return b.Reason.Correctness()
}

func (b Badness) String() string {
	if b.Extra == "" {
		return b.Reason.String()
	}
	return b.Reason.String() + ": " + b.Extra
}
