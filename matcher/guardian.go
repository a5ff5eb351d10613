package matcher

import (
	"SDM/configs"
	"SDM/storage"
	"context"
	"time"

	set "github.com/deckarep/golang-set"
)

// Guardian is the fleet of background reconcilers. Every pass is idempotent
// and each reconciler runs under its own advisory named lock, so concurrent
// guardian instances (one per process) never double-repair.
type Guardian struct {
	stmt *Context
}

func (g *Guardian) Loop(ctx context.Context) {
	ticker := time.NewTicker(configs.GuardianInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.RunAll()
		case <-ctx.Done():
			return
		}
	}
}

func (g *Guardian) RunAll() {
	now := time.Now()
	g.stmt.reg.WithLock("guard:ghost_paired", func() { g.resetGhostPaired() })
	g.stmt.reg.WithLock("guard:orphan_match", func() { g.terminateOrphanMatches() })
	g.stmt.reg.WithLock("guard:windows", func() { g.resolveWindows(now) })
	g.stmt.reg.WithLock("guard:queue", func() { g.repairQueue(now) })
	g.stmt.reg.WithLock("guard:cooldown", func() { g.pruneCooldown(now) })
	g.stmt.reg.WithLock("guard:fatal", func() { g.reportFatal() })
}

// resetGhostPaired returns participants stuck in paired/vote_active without
// a live match record to spin_active.
func (g *Guardian) resetGhostPaired() {
	g.stmt.store.PartList(func(row *storage.ParticipantRow) bool {
		snap := row.Snapshot()
		if snap.State != configs.StatePaired && snap.State != configs.StateVoteActive {
			return true
		}
		if snap.MatchID != 0 {
			if rec, ok := g.stmt.store.MatchGet(snap.MatchID); ok && rec.NonTerminal() && rec.Contains(snap.Pid) {
				return true
			}
		}
		if g.stmt.SM.TransitionFrom(snap.Pid, snap.State, configs.StateSpinActive, "ghost_reset") == nil {
			g.stmt.store.PartSetMatch(snap.Pid, 0)
			if prof, ok := g.stmt.dir.Lookup(snap.Pid); ok {
				_ = g.stmt.store.QueueJoin(snap.Pid, prof.Prefs)
			}
			configs.PPrintf(snap.Pid, "ghost paired state repaired")
		}
		return true
	})
}

// terminateOrphanMatches cancels non-terminal matches whose participants
// drifted out of paired/vote_active. A participant in soft_offline does not
// trigger it; the heartbeat manager cancels those matches.
func (g *Guardian) terminateOrphanMatches() {
	g.stmt.store.MatchList(func(rec storage.MatchRecord) bool {
		if !rec.NonTerminal() {
			return true
		}
		for _, pid := range []uint64{rec.Lo, rec.Hi} {
			state, ok := g.stmt.store.PartState(pid)
			if ok && (state == configs.StatePaired || state == configs.StateVoteActive ||
				state == configs.StateSoftOffline) {
				continue
			}
			g.stmt.Votes.Cancel(rec.ID, pid, "orphan_match")
			configs.DPrintf("orphan match %v cancelled", rec.ID)
			break
		}
		return true
	})
}

// resolveWindows closes expired vote windows and fires the reveal-start
// timer for matches whose acks never both arrived.
func (g *Guardian) resolveWindows(now time.Time) {
	g.stmt.store.MatchList(func(rec storage.MatchRecord) bool {
		switch rec.Status {
		case configs.MatchVoteActive:
			if !rec.WindowStart.IsZero() && now.After(rec.WindowExpiry) {
				g.stmt.Votes.ResolveExpired(rec.ID)
			}
		case configs.MatchPaired:
			if rec.WindowStart.IsZero() && now.Sub(rec.CreatedAt) >= configs.RevealStartTimer {
				g.stmt.Votes.StartWindowByTimer(rec.ID)
			}
		}
		return true
	})
}

// repairQueue enforces expansion stages, recomputes fairness for long
// waiters, and drops entries that should not exist. Duplicate detection is
// belt and braces; the store's uniqueness makes duplicates impossible.
func (g *Guardian) repairQueue(now time.Time) {
	seen := set.NewSet()
	stale := make([]uint64, 0)
	g.stmt.store.QueueIter(func(e storage.QueueEntry) bool {
		if seen.Contains(e.Pid) {
			stale = append(stale, e.Pid)
			return true
		}
		seen.Add(e.Pid)
		state, ok := g.stmt.store.PartState(e.Pid)
		if !ok || (!Matchable(state) && state != configs.StateSoftOffline) {
			stale = append(stale, e.Pid)
			return true
		}
		RefreshFairness(g.stmt, e.Pid, now)
		return true
	})
	for _, pid := range stale {
		g.stmt.store.QueueRemove(pid, "guardian_repair")
	}
}

func (g *Guardian) pruneCooldown(now time.Time) {
	n := g.stmt.store.PruneCooldown(now.Add(-configs.CooldownRetention))
	if n > 0 {
		configs.DPrintf("pruned %v cooldown entries", n)
	}
}

// reportFatal surfaces quarantined participants; orchestration skips them
// until an operator clears the flag.
func (g *Guardian) reportFatal() {
	g.stmt.store.PartList(func(row *storage.ParticipantRow) bool {
		if row.Snapshot().Fatal {
			configs.Warn(false, "participant quarantined after invariant violation: "+
				configs.StateName(row.StateRead()))
		}
		return true
	})
}
