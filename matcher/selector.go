package matcher

import (
	"SDM/configs"
	"SDM/storage"
	"time"

	set "github.com/deckarep/golang-set"
)

// Selector finds the best counterpart for a seeker under a given tier. It is
// read-only: the only locks it touches are the scan probes the queue iterator
// takes while skipping rows held by other workers.
type Selector struct {
	stmt *Context
}

// tierStage maps a tier onto the preference widening applied to the scan.
// Tier 1 is exact; tier 2 honours the entry's earned expansion stage; tier 3
// drops every filter the guarantee allows dropping.
func tierStage(tier int, entryStage int) int {
	switch tier {
	case 1:
		return 0
	case 2:
		s := entryStage
		if s < 1 {
			s = 1
		}
		if s > 2 {
			s = 2
		}
		return s
	default:
		return 3
	}
}

func livenessBound(tier int) time.Duration {
	if tier >= 2 {
		// later tiers tolerate slightly stale liveness.
		return configs.OfflineThreshold + configs.StaleLivenessGrace
	}
	return configs.OfflineThreshold
}

// ageOverlap measures how much two effective age windows agree, in [0,1].
func ageOverlap(a, b storage.Prefs) float64 {
	lo := a.AgeMin
	if b.AgeMin > lo {
		lo = b.AgeMin
	}
	hi := a.AgeMax
	if b.AgeMax < hi {
		hi = b.AgeMax
	}
	if hi <= lo {
		return 0
	}
	span := a.AgeMax - a.AgeMin
	if b.AgeMax-b.AgeMin > span {
		span = b.AgeMax - b.AgeMin
	}
	if span <= 0 {
		return 1
	}
	overlap := float64(hi-lo) / float64(span)
	if overlap > 1 {
		return 1
	}
	return overlap
}

// BestCandidate scans the priority index and returns the best counterpart
// for pid under tier, or false when none qualifies. exclude carries the
// candidates already attempted this cycle. strict widens the scan bound for
// the guaranteed-match pass.
func (sel *Selector) BestCandidate(pid uint64, tier int, exclude set.Set, strict bool, scanned *int) (uint64, bool) {
	seeker, ok := sel.stmt.dir.Lookup(pid)
	if !ok {
		return 0, false
	}
	entry, ok := sel.stmt.store.QueueGet(pid)
	if !ok {
		return 0, false
	}
	effSeeker := EffectivePrefs(entry.Prefs, tierStage(tier, entry.Stage))
	scanCap := configs.TierScanCap
	if strict {
		scanCap = configs.MaxQueueScanPerIter
	}
	now := time.Now()
	liveBound := livenessBound(tier)

	var bestPid uint64
	var bestScore float64
	var bestJoined time.Time
	found := false
	examined := 0

	sel.stmt.store.QueueIter(func(cand storage.QueueEntry) bool {
		if cand.Pid == pid {
			return true
		}
		if exclude != nil && exclude.Contains(cand.Pid) {
			return true
		}
		examined++
		if scanned != nil {
			*scanned++
		}
		if examined > scanCap {
			return false
		}
		state, live := sel.stmt.store.PartState(cand.Pid)
		if !live || !Matchable(state) {
			return true
		}
		// the guaranteed pass takes anyone still in a matchable state; a
		// lapsed heartbeat only counts once the offline sweep acts on it.
		if !strict {
			row, _ := sel.stmt.store.PartGet(cand.Pid)
			if now.Sub(row.Snapshot().LastActive) > liveBound {
				return true
			}
		}
		prof, ok := sel.stmt.dir.Lookup(cand.Pid)
		if !ok {
			return true
		}
		if !GenderCompatible(seeker, prof) || Blocks(seeker, prof) {
			return true
		}
		// mutual-accept pairs never match again, at any tier.
		if sel.stmt.store.WasMutualAccept(pid, cand.Pid) {
			return true
		}
		if tier < 3 && sel.stmt.store.WithinCooldown(pid, cand.Pid, now) {
			return true
		}
		effCand := EffectivePrefs(cand.Prefs, tierStage(tier, cand.Stage))
		if tier < 3 {
			if prof.Age < effSeeker.AgeMin || prof.Age > effSeeker.AgeMax {
				return true
			}
			if seeker.Age < effCand.AgeMin || seeker.Age > effCand.AgeMax {
				return true
			}
			d := Distance(seeker, prof)
			if d > effSeeker.MaxDist || d > effCand.MaxDist {
				return true
			}
		}
		wait := now.Sub(cand.JoinedAt).Seconds()
		compat := ageOverlap(effSeeker, effCand)
		dist := Distance(seeker, prof)
		score := PriorityScore(cand.Fairness, wait, compat, 1/(1+dist))
		if !found || score > bestScore ||
			(score == bestScore && (cand.JoinedAt.Before(bestJoined) ||
				(cand.JoinedAt.Equal(bestJoined) && cand.Pid < bestPid))) {
			found = true
			bestScore = score
			bestPid = cand.Pid
			bestJoined = cand.JoinedAt
		}
		return true
	})
	return bestPid, found
}
