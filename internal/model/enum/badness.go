package enum

// BadnessReason explains why a data item is not Good.
type BadnessReason uint8

const (
	BadnessReasonNone BadnessReason = iota
	BadnessReasonInactive
	BadnessReasonPublisherUnavailable
	BadnessReasonSubscribing
	BadnessReasonSynchronising
	BadnessReasonOffline
	BadnessReasonError
	BadnessReasonDependencyNotOnline
	BadnessReasonSuperseded
)

func (r BadnessReason) String() string {
	switch r {
	case BadnessReasonNone:
		return "none"
	case BadnessReasonInactive:
		return "inactive"
	case BadnessReasonPublisherUnavailable:
		return "publisher_unavailable"
	case BadnessReasonSubscribing:
		return "subscribing"
	case BadnessReasonSynchronising:
		return "synchronising"
	case BadnessReasonOffline:
		return "offline"
	case BadnessReasonError:
		return "error"
	case BadnessReasonDependencyNotOnline:
		return "dependency_not_online"
	case BadnessReasonSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// Correctness is the coarse usability class of a badness reason.
type Correctness uint8

const (
	CorrectnessGood Correctness = iota
	CorrectnessUsable
	CorrectnessSuspect
	CorrectnessError
)

func (c Correctness) String() string {
	switch c {
	case CorrectnessGood:
		return "good"
	case CorrectnessUsable:
		return "usable"
	case CorrectnessSuspect:
		return "suspect"
	case CorrectnessError:
		return "error"
	default:
		return "unknown"
	}
}

// Correctness maps the reason onto its correctness class.
func (r BadnessReason) Correctness() Correctness {
	switch r {
	case BadnessReasonNone:
		return CorrectnessGood
	case BadnessReasonSynchronising:
		return CorrectnessUsable
	case BadnessReasonError, BadnessReasonPublisherUnavailable:
		return CorrectnessError
	default:
		return CorrectnessSuspect
	}
}

// SendPriority of an outbound publisher request. Publishers that coalesce
// requests send high priority ones first.
type SendPriority uint8

const (
	SendPriorityNormal SendPriority = iota
	SendPriorityHigh
)
