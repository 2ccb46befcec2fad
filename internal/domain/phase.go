package domain

// Phase is one discrete state of a quiz session.
type Phase string

const (
	PhaseSetup        Phase = "SETUP"
	PhaseInRound      Phase = "IN_ROUND"
	PhaseRoundSummary Phase = "ROUND_SUMMARY"
	PhaseScoringEntry Phase = "SCORING_ENTRY"
	PhaseStandings    Phase = "STANDINGS"
	PhaseFinalized    Phase = "FINALIZED"
	PhaseFailed       Phase = "FAILED"
	PhaseAbandoned    Phase = "ABANDONED"
)

func (p Phase) String() string {
	return string(p)
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == PhaseFinalized || p == PhaseFailed || p == PhaseAbandoned
}

// CanTransitionTo checks if moving from p to target is a legal edge.
func (p Phase) CanTransitionTo(target Phase) bool {
	if target == PhaseAbandoned {
		return !p.Terminal()
	}
	validTransitions := map[Phase][]Phase{
		PhaseSetup:        {PhaseInRound, PhaseFailed},
		PhaseInRound:      {PhaseRoundSummary},
		PhaseRoundSummary: {PhaseInRound, PhaseScoringEntry},
		PhaseScoringEntry: {PhaseStandings},
		PhaseStandings:    {PhaseInRound, PhaseFinalized, PhaseFailed},
	}
	for _, phase := range validTransitions[p] {
		if phase == target {
			return true
		}
	}
	return false
}
