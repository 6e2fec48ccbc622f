package pool

// State is the lifecycle position of a pool at a given time.
type State int

const (
	StateUnfunded State = iota
	StateFunded
	StateRunning
	StatePaused
	StateEnded
	StateSwept
)

var stateNames = [...]string{
	StateUnfunded: "unfunded",
	StateFunded:   "funded",
	StateRunning:  "running",
	StatePaused:   "paused",
	StateEnded:    "ended",
	StateSwept:    "swept",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// State derives the lifecycle state as of now. A paused pool stays paused
// past its scheduled end, since resuming pushes the end out.
func (m *Machine) State(now uint64) State {
	p := m.ledger.Pool()
	switch {
	case p.Swept:
		return StateSwept
	case !p.Funded:
		return StateUnfunded
	case !p.Started:
		return StateFunded
	case p.Paused():
		return StatePaused
	case now >= p.EndTime:
		return StateEnded
	default:
		return StateRunning
	}
}
