package matcher

import (
	"SDM/configs"
	"SDM/utils"
	"errors"
	"math/rand"
	"time"
)

// PairCreator is the sole authority that inserts match records. The protocol
// locks both participants in canonical order, revalidates everything under
// lock, commits the match, and moves both sides to paired; any failure on
// the way unwinds completely.
type PairCreator struct {
	stmt *Context
}

// lockPair takes both participant locks in canonical order with capped,
// jittered exponential backoff. Returns false on sustained contention.
func (pc *PairCreator) lockPair(lo, hi uint64, info *utils.Info) bool {
	backoff := configs.PairLockBackoffInit
	for attempt := 0; attempt < configs.PairLockRetries; attempt++ {
		if pc.stmt.store.TryLockParticipant(lo, 0) {
			if pc.stmt.store.TryLockParticipant(hi, 0) {
				return true
			}
			pc.stmt.store.UnlockParticipant(lo)
		}
		if info != nil {
			info.LockRetries++
		}
		jitter := time.Duration(rand.Int63n(int64(backoff)/2 + 1))
		time.Sleep(backoff + jitter)
		backoff *= 2
		if backoff > configs.PairLockBackoffCap {
			backoff = configs.PairLockBackoffCap
		}
	}
	return false
}

func (pc *PairCreator) unlockPair(lo, hi uint64) {
	pc.stmt.store.UnlockParticipant(hi)
	pc.stmt.store.UnlockParticipant(lo)
}

// TryCreate attempts to commit a match between a and b, selected at the
// given tier. Returns the match id on success; (0, nil) signals a transient
// miss the caller may retry with a different candidate.
func (pc *PairCreator) TryCreate(a, b uint64, tier int, info *utils.Info) (uint64, error) {
	if a == b {
		return 0, utils.ErrFatal
	}
	lo, hi := utils.CanonicalPair(a, b)
	if !pc.lockPair(lo, hi, info) {
		return 0, nil
	}
	defer pc.unlockPair(lo, hi)

	// re-read both states under lock.
	stLo, okLo := pc.stmt.store.PartState(lo)
	stHi, okHi := pc.stmt.store.PartState(hi)
	if !okLo || !okHi || !Matchable(stLo) || !Matchable(stHi) {
		return 0, nil
	}

	// revalidate constraints that may have changed since selection.
	pLo, okLo := pc.stmt.dir.Lookup(lo)
	pHi, okHi := pc.stmt.dir.Lookup(hi)
	if !okLo || !okHi {
		return 0, nil
	}
	if !GenderCompatible(pLo, pHi) || Blocks(pLo, pHi) {
		return 0, nil
	}
	if pc.stmt.store.WasMutualAccept(lo, hi) {
		return 0, nil
	}
	if tier < 3 && pc.stmt.store.WithinCooldown(lo, hi, time.Now()) {
		return 0, nil
	}

	matchID, err := pc.stmt.store.MatchCreateIfAbsent(lo, hi)
	if err != nil {
		if errors.Is(err, utils.ErrDuplicatePair) {
			// rewritten to success when the existing pair is still live.
			if rec, ok := pc.stmt.store.MatchGet(matchID); ok && rec.NonTerminal() {
				return matchID, nil
			}
			return 0, nil
		}
		return 0, err
	}

	// both sides move to paired; anything less rolls the insert back.
	updates := 0
	if pc.stmt.SM.TransitionFrom(lo, stLo, configs.StatePaired, "pair_commit") == nil {
		updates++
	}
	if pc.stmt.SM.TransitionFrom(hi, stHi, configs.StatePaired, "pair_commit") == nil {
		updates++
	}
	if updates != 2 {
		pc.stmt.store.MatchDelete(matchID)
		if updates > 0 {
			// whoever made it to paired goes back toward spin_active.
			_ = pc.stmt.SM.TransitionFrom(lo, configs.StatePaired, configs.StateSpinActive, "pair_rollback")
			_ = pc.stmt.SM.TransitionFrom(hi, configs.StatePaired, configs.StateSpinActive, "pair_rollback")
		}
		configs.Warn(false, "pair commit observed partial state update, rolled back")
		return 0, nil
	}

	pc.stmt.store.PartSetMatch(lo, matchID)
	pc.stmt.store.PartSetMatch(hi, matchID)

	// consume accumulated boosts and leave the queue.
	pc.stmt.store.QueueClearBoost(lo)
	pc.stmt.store.QueueClearBoost(hi)
	pc.stmt.store.QueueRemove(lo, "paired")
	pc.stmt.store.QueueRemove(hi, "paired")

	now := time.Now().UnixNano()
	pc.stmt.pub.Publish(Event{Type: EvMatchCreated, Pid: lo, Partner: hi, MatchID: matchID, TS: now})
	pc.stmt.pub.Publish(Event{Type: EvMatchCreated, Pid: hi, Partner: lo, MatchID: matchID, TS: now})
	configs.PPrintf(lo, "paired with %v as match %v", hi, matchID)
	return matchID, nil
}
