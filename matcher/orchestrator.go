package matcher

import (
	"SDM/configs"
	"SDM/storage"
	"SDM/utils"
	"context"
	"strconv"
	"time"

	set "github.com/deckarep/golang-set"
)

// Orchestrator drives the per-participant matching flow, both on spin and on
// the periodic cycle. Concurrent cycles serialise per participant through an
// advisory lock, so two workers never chase candidates for the same seeker.
type Orchestrator struct {
	stmt *Context
}

func orchLockName(pid uint64) string {
	return "orch:" + strconv.FormatUint(pid, 10)
}

func (o *Orchestrator) Loop(ctx context.Context) {
	ticker := time.NewTicker(configs.OrchestratorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			o.Cycle(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Cycle runs one matching pass over every waiting participant.
func (o *Orchestrator) Cycle(ctx context.Context) {
	pids := make([]uint64, 0, 64)
	o.stmt.store.QueueIter(func(e storage.QueueEntry) bool {
		pids = append(pids, e.Pid)
		return true
	})
	for _, pid := range pids {
		if ctx.Err() != nil {
			return
		}
		o.MatchOne(ctx, pid)
	}
}

// MatchOne walks the tiers for one participant. Returns the match id when a
// pair committed.
func (o *Orchestrator) MatchOne(ctx context.Context, pid uint64) (uint64, bool) {
	var matchID uint64
	ran := o.stmt.reg.WithLock(orchLockName(pid), func() {
		matchID = o.matchLocked(ctx, pid)
	})
	if !ran {
		// another cycle owns this participant right now.
		return 0, false
	}
	return matchID, matchID != 0
}

func (o *Orchestrator) matchLocked(ctx context.Context, pid uint64) uint64 {
	begin := time.Now()
	info := utils.NewInfo(pid)
	defer func() {
		info.Latency = time.Since(begin)
		o.stmt.stat.Append(info)
	}()

	row, ok := o.stmt.store.PartGet(pid)
	if !ok || row.Snapshot().Fatal {
		return 0
	}
	if !Matchable(row.StateRead()) {
		return 0
	}
	if _, queued := o.stmt.store.QueueGet(pid); !queued {
		return 0
	}

	// refresh fairness and expansion before scanning.
	RefreshFairness(o.stmt, pid, time.Now())

	attempted := set.NewSet()
	attempts := 0
	for tier := 1; tier <= 3; tier++ {
		info.TierReached = tier
		// cooperative cancellation checkpoint between tier attempts.
		if ctx.Err() != nil || !Matchable(row.StateRead()) {
			return 0
		}
		for k := 0; k < configs.TierCandidateCap; k++ {
			cand, found := o.stmt.Sel.BestCandidate(pid, tier, attempted, false, &info.CandidatesScanned)
			if !found {
				break
			}
			attempted.Add(cand)
			for r := 0; r < configs.PairCreateRetries; r++ {
				attempts++
				if attempts > configs.CycleAttemptCap {
					o.warnUnpaired(pid, info, attempts)
					return 0
				}
				info.PairAttempts++
				id, err := o.stmt.Creator.TryCreate(pid, cand, tier, info)
				if err != nil {
					configs.Warn(false, "pair creation error: "+err.Error())
					break
				}
				if id != 0 {
					info.IsPaired = true
					return id
				}
				// the loser of a lock race moves on to the next candidate; a
				// candidate that is still matchable gets another attempt.
				if !Matchable(row.StateRead()) {
					return 0
				}
				if st, ok := o.stmt.store.PartState(cand); !ok || !Matchable(st) {
					break
				}
			}
		}
		time.Sleep(configs.TierSleep)
	}

	// guaranteed-match pass: tier 3 strict, full scan, nothing excluded.
	if ctx.Err() != nil || !Matchable(row.StateRead()) {
		return 0
	}
	info.TierReached = 3
	if cand, found := o.stmt.Sel.BestCandidate(pid, 3, nil, true, &info.CandidatesScanned); found {
		attempts++
		info.PairAttempts++
		if id, err := o.stmt.Creator.TryCreate(pid, cand, 3, info); err == nil && id != 0 {
			info.IsPaired = true
			return id
		}
	}

	// still spinning without success: settle into queue_waiting and surface
	// the empty pool.
	_ = o.stmt.SM.TransitionFrom(pid, configs.StateSpinActive, configs.StateQueueWaiting, "cycle_no_match")
	o.stmt.store.QueueSkip(pid)
	o.warnUnpaired(pid, info, attempts)
	return 0
}

func (o *Orchestrator) warnUnpaired(pid uint64, info *utils.Info, attempts int) {
	configs.PPrintf(pid, "no match this cycle: tier=%v scanned=%v attempts=%v",
		info.TierReached, info.CandidatesScanned, attempts)
}
