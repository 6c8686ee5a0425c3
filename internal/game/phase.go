package game

// Phase represents the current stage of a room's game loop.
type Phase string

const (
	PhaseLobby     Phase = "LOBBY"     // Waiting for players, no deadline
	PhaseCountdown Phase = "COUNTDOWN" // 3-2-1-GO before the first question
	PhaseQuestion  Phase = "QUESTION"  // Question visible, input not yet open
	PhaseAnswering Phase = "ANSWERING" // Input open, deadline armed
	PhaseResults   Phase = "RESULTS"   // Per-question results on display
	PhaseFinished  Phase = "FINISHED"  // Terminal, room accepts no mutation
)

func (p Phase) String() string {
	return string(p)
}

// HasDeadline reports whether the phase auto-advances on a clock deadline.
func (p Phase) HasDeadline() bool {
	switch p {
	case PhaseCountdown, PhaseAnswering, PhaseResults:
		return true
	}
	return false
}

// CanTransitionTo checks if a transition from the current phase to the
// target phase is valid. Results loops back to Question until the question
// set is exhausted.
func (p Phase) CanTransitionTo(target Phase) bool {
	validTransitions := map[Phase][]Phase{
		PhaseLobby:     {PhaseCountdown},
		PhaseCountdown: {PhaseQuestion},
		PhaseQuestion:  {PhaseAnswering},
		PhaseAnswering: {PhaseResults},
		PhaseResults:   {PhaseQuestion, PhaseFinished},
	}

	allowed, ok := validTransitions[p]
	if !ok {
		return false
	}

	for _, phase := range allowed {
		if phase == target {
			return true
		}
	}
	return false
}
