package lifecycle

// Phase is a state of a single orchestrated run.
type Phase int

const (
	PhasePullingImage Phase = iota
	PhaseStartingContainer
	PhaseAwaitingReady
	PhaseRunningBody
	PhaseTearingDown
	PhaseDone
	PhaseSkipped
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhasePullingImage:
		return "pulling_image"
	case PhaseStartingContainer:
		return "starting_container"
	case PhaseAwaitingReady:
		return "awaiting_ready"
	case PhaseRunningBody:
		return "running_body"
	case PhaseTearingDown:
		return "tearing_down"
	case PhaseDone:
		return "done"
	case PhaseSkipped:
		return "skipped"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can follow p.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseSkipped || p == PhaseFailed
}
