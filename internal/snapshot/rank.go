package snapshot

import (
	"agencyos/internal/domain"
	"agencyos/internal/scoring"
)

// maxMoves caps the ranked move list carried in a snapshot. Everything
// pending stays in the store and the inbox; the snapshot shows the top
// of the ranking.
const maxMoves = 10

// moveProfile carries the ranking inputs a move type implies. Impact
// and controllability live in [0,1]; ttcHours estimates how long the
// underlying situation can wait before it bites.
type moveProfile struct {
	impact          float64
	controllability float64
	ttcHours        float64
}

var moveProfiles = map[domain.MoveType]moveProfile{
	domain.MoveEscalateBlocker:  {impact: 0.8, controllability: 0.8, ttcHours: 12},
	domain.MoveCollectionCall:   {impact: 0.9, controllability: 0.7, ttcHours: 24},
	domain.MoveFollowUpEmail:    {impact: 0.6, controllability: 0.9, ttcHours: 48},
	domain.MoveReassignOverload: {impact: 0.7, controllability: 0.8, ttcHours: 72},
	domain.MoveScheduleMeeting:  {impact: 0.5, controllability: 0.9, ttcHours: 120},
	domain.MoveResolveLink:      {impact: 0.4, controllability: 1.0, ttcHours: 168},
}

var defaultProfile = moveProfile{impact: 0.5, controllability: 0.8, ttcHours: 168}

// moveConfidence grades a proposal by the trust level of its domain at
// build time. A proposal can outlive a confidence drop, so all three
// grades are reachable here even though the moves engine skips blocked
// domains when proposing.
func moveConfidence(state domain.ConfidenceState) scoring.Confidence {
	switch state {
	case domain.ConfidenceReliable:
		return scoring.ConfidenceHigh
	case domain.ConfidenceDegraded:
		return scoring.ConfidenceMed
	default:
		return scoring.ConfidenceLow
	}
}

// rankMove scores a pending action under the operator's mode and
// assigns the narrowest horizon it is eligible for. An empty horizon
// means the action qualifies for none and stays out of the snapshot.
func rankMove(a *domain.PendingAction, state domain.ConfidenceState, mode domain.Mode) (float64, scoring.Horizon) {
	p, ok := moveProfiles[a.MoveType]
	if !ok {
		p = defaultProfile
	}

	base := scoring.BaseScore(p.impact, scoring.UrgencyFromTTC(p.ttcHours), p.controllability, moveConfidence(state))
	score := scoring.ModeWeightedScore(base, mode, a.Domain)

	in := scoring.HorizonInputs{
		TTCHours:             p.ttcHours,
		Impact:               p.impact,
		Overdue:              a.MoveType == domain.MoveCollectionCall,
		DependencyBreaker:    a.MoveType == domain.MoveEscalateBlocker,
		CapacityBlockerToday: a.MoveType == domain.MoveReassignOverload,
		CriticalPath:         a.MoveType == domain.MoveEscalateBlocker,
		ARSevere:             a.MoveType == domain.MoveCollectionCall,
	}
	for _, h := range []scoring.Horizon{scoring.HorizonNow, scoring.HorizonToday, scoring.HorizonThisWeek} {
		if scoring.Eligible(h, in) {
			return score, h
		}
	}
	return score, ""
}
