package matcher

import (
	"SDM/configs"
	"SDM/storage"
	"math"
	"time"
)

// Fairness scoring and preference expansion. Scores are recomputed lazily
// when the orchestrator examines an entry and by the guardian refresh; the
// store keeps the last computed value for the priority index.

// FairnessScore evaluates the full formula for one queue entry.
//
//	fairness = base_wait + skip_penalty + narrow_penalty + density_boost + boosts
func FairnessScore(e *storage.QueueEntry, queueSize int, now time.Time) float64 {
	wait := now.Sub(e.JoinedAt).Seconds()
	if wait < 0 {
		wait = 0
	}
	baseWait := math.Min(wait/10, configs.FairnessBaseCap)
	skipPenalty := math.Min(float64(e.SkipCount)*configs.SkipPenaltyPerSkip, configs.SkipPenaltyCap)
	narrowPenalty := (1 - Narrowness(e.Prefs)) * configs.NarrowPenaltyWeight
	densityBoost := math.Max(0, float64(configs.DensityBoostFloor-queueSize)*configs.DensityBoostWeight)
	return baseWait + skipPenalty + narrowPenalty + densityBoost + e.BoostAccum
}

// PriorityScore ranks a candidate for a given seeker. Ties break on
// joined-at ascending, then pid, via the queue index ordering.
func PriorityScore(fairness, waitSeconds, compatibility, distAffinity float64) float64 {
	return fairness*1000 + waitSeconds*10 + compatibility*100 + distAffinity*10
}

// StageForWait maps time waited onto the expansion stage.
func StageForWait(wait time.Duration) int {
	if wait >= configs.ExpandStage3After {
		return 3
	}
	if wait >= configs.ExpandStage2After {
		return 2
	}
	if wait >= configs.ExpandStage1After {
		return 1
	}
	return 0
}

// EffectivePrefs widens the preference snapshot for a stage. Stage 3 drops
// every filter except gender compatibility and block/history constraints,
// which the selector applies regardless.
func EffectivePrefs(p storage.Prefs, stage int) storage.Prefs {
	switch stage {
	case 0:
		return p
	case 1:
		p.AgeMin -= configs.Stage1AgeWiden
		p.AgeMax += configs.Stage1AgeWiden
		p.MaxDist *= configs.Stage1DistFactor
		return p
	case 2:
		p.AgeMin -= configs.Stage2AgeWiden
		p.AgeMax += configs.Stage2AgeWiden
		p.MaxDist *= configs.Stage2DistFactor
		return p
	default:
		p.AgeMin = 0
		p.AgeMax = math.MaxInt32
		p.MaxDist = math.MaxFloat64
		return p
	}
}

// RefreshFairness recomputes one entry's score and stage and pushes both to
// the store. Returns the recomputed fairness.
func RefreshFairness(stmt *Context, pid uint64, now time.Time) (float64, bool) {
	e, ok := stmt.store.QueueGet(pid)
	if !ok {
		return 0, false
	}
	size := stmt.store.QueueLen()
	score := FairnessScore(&e, size, now)
	// fairness is monotone within a tenure: a recomputation never lowers
	// the stored value while waiting only grows.
	if score < e.Fairness {
		score = e.Fairness
	}
	stmt.store.QueueUpdateFairness(pid, score)
	stage := StageForWait(now.Sub(e.JoinedAt))
	if stage > e.Stage {
		stmt.store.QueueExpand(pid, stage)
		stmt.pub.Publish(Event{Type: EvQueueExpanded, Pid: pid, TS: now.UnixNano()})
	}
	return score, true
}
