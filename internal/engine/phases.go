package engine

// validPhases is the exact phase set from spec.md §4.1's state-machine
// table, used by tests asserting the "phase legality" invariant
// (spec.md §8, property 3).
var validPhases = map[Phase]bool{
	PhaseWaitingForInitialPlay:        true,
	PhaseWaitingForCarCardAfterAction: true,
	PhaseBothCardsOnBoard:             true,
	PhaseMustDiscard:                  true,
	PhaseRoundResolved:                true,
	PhaseTurnEnded:                    true,
}

// ValidPhase reports whether p is one of the six phases defined by the
// spec's state machine.
func ValidPhase(p Phase) bool {
	return validPhases[p]
}
