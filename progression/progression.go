// Package progression derives which difficulty tiers a user may attempt.
//
// The engine is a pure function of the user's per-tier completion records: a tier
// unlocks only when the previous tier was completed with a perfect score.
package progression

import "github.com/arloliu/quizflow/types"

// PerfectScore is the score that unlocks the next tier.
const PerfectScore = types.MaxScore

// Progression is the state of every tier, in tier order.
type Progression struct {
	Tiers []types.TierState `json:"tiers"`
}

// Compute derives tier states from completion records keyed by difficulty.
// Missing or nil entries mean no quiz exists for that tier.
//
// Rules:
//   - beginner is never locked
//   - a later tier is locked unless the previous tier is completed with score 100
//   - a locked tier reports only "locked", whatever record exists for it
//   - an unlocked tier without a record is "available"; otherwise it echoes the record
func Compute(infos map[types.Difficulty]*types.DashboardQuizInfo) Progression {
	tiers := make([]types.TierState, 0, len(types.Difficulties))
	for _, d := range types.Difficulties {
		tiers = append(tiers, tierState(d, infos))
	}

	return Progression{Tiers: tiers}
}

// Unlocked reports whether d may be attempted given infos. Locks cascade: a tier
// whose gate is itself locked stays locked whatever its gate's record says.
func Unlocked(d types.Difficulty, infos map[types.Difficulty]*types.DashboardQuizInfo) bool {
	prev, gated := d.Previous()
	if !gated {
		return d.Valid()
	}

	return isPerfect(infos[prev]) && Unlocked(prev, infos)
}

// Tier returns the state of d, or a locked state for an unknown difficulty.
func (p Progression) Tier(d types.Difficulty) types.TierState {
	for _, t := range p.Tiers {
		if t.Difficulty == d {
			return t
		}
	}

	return types.TierState{Difficulty: d, Status: types.TierLocked}
}

// NextTier returns the first unlocked tier that is not completed yet.
// It returns false when every unlocked tier is completed.
func (p Progression) NextTier() (types.Difficulty, bool) {
	for _, t := range p.Tiers {
		if t.Status != types.TierLocked && t.Status != types.TierCompleted {
			return t.Difficulty, true
		}
	}

	return "", false
}

func tierState(d types.Difficulty, infos map[types.Difficulty]*types.DashboardQuizInfo) types.TierState {
	if !Unlocked(d, infos) {
		return types.TierState{Difficulty: d, Status: types.TierLocked}
	}

	info := infos[d]
	if info == nil {
		return types.TierState{Difficulty: d, Status: types.TierAvailable}
	}

	state := types.TierState{Difficulty: d, QuizID: info.QuizID}
	switch info.Status {
	case types.QuizProcessing:
		state.Status = types.TierProcessing
	case types.QuizFailed:
		state.Status = types.TierFailed
	case types.QuizCompleted:
		state.Status = types.TierCompleted
		state.Score = info.Score
		state.CompletedAt = info.CompletedAt
	default:
		state.Status = types.TierAvailable
	}

	return state
}

func isPerfect(info *types.DashboardQuizInfo) bool {
	return info != nil &&
		info.Status == types.QuizCompleted &&
		info.Score != nil &&
		*info.Score == PerfectScore
}
