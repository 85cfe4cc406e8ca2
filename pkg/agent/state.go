package agent

// State is a stage of the per-turn state machine.
type State int

const (
	StateLoading State = iota
	StateClassifying
	StateRetrieving
	StatePromptAssembly
	StateAwaitingCompletion
	StatePersisting
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateLoading:            "loading_state",
	StateClassifying:        "classifying",
	StateRetrieving:         "retrieving_context",
	StatePromptAssembly:     "prompt_assembly",
	StateAwaitingCompletion: "awaiting_completion",
	StatePersisting:         "persisting",
	StateDone:               "done",
	StateFailed:             "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// next is the only forward edge out of each non-terminal state. FAILED is
// reachable from any state and is not listed.
func (s State) next() State {
	if s.Terminal() {
		return s
	}
	return s + 1
}
