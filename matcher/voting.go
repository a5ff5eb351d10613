package matcher

import (
	"SDM/configs"
	"SDM/storage"
	"SDM/utils"
	"strconv"
	"time"
)

// VotingEngine records decisions and resolves outcomes. Everything for one
// match — vote record, resolution, downstream transitions, history writes —
// runs as a single logical transaction under the match advisory lock, so
// replays and racing guardians observe consistent state.
type VotingEngine struct {
	stmt *Context
}

func matchLockName(id uint64) string {
	return "match:" + strconv.FormatUint(id, 10)
}

// withMatch serialises fn on the match advisory lock; false means sustained
// contention and the caller should surface "retry soon".
func (v *VotingEngine) withMatch(id uint64, fn func()) bool {
	if !v.stmt.reg.TryAcquireWithTimeout(matchLockName(id), configs.PairLockBackoffCap) {
		return false
	}
	defer v.stmt.reg.Release(matchLockName(id))
	fn()
	return true
}

// Ack marks one side ready for the reveal. When both sides acknowledged the
// vote window opens.
func (v *VotingEngine) Ack(pid uint64, matchID uint64) error {
	var err error
	ok := v.withMatch(matchID, func() {
		rec, ok := v.stmt.store.MatchGet(matchID)
		if !ok || !rec.Contains(pid) {
			err = utils.ErrNotFound
			return
		}
		if rec.Status == configs.MatchEnded {
			err = utils.ErrInvalidTransition
			return
		}
		v.stmt.store.MatchSetAck(matchID, pid)
		rec, _ = v.stmt.store.MatchGet(matchID)
		if rec.BothAcked() && rec.WindowStart.IsZero() {
			v.startWindow(&rec, "both_acked")
		}
	})
	if !ok {
		return utils.ErrLockContention
	}
	return err
}

// RevealComplete reports the reveal finished for one side; it counts as that
// side's acknowledgement.
func (v *VotingEngine) RevealComplete(pid uint64, matchID uint64) error {
	return v.Ack(pid, matchID)
}

// StartWindowByTimer opens the window when the reveal-start timer fires
// before both acks arrive. Guardians call this.
func (v *VotingEngine) StartWindowByTimer(matchID uint64) {
	v.withMatch(matchID, func() {
		rec, ok := v.stmt.store.MatchGet(matchID)
		if !ok || rec.Status != configs.MatchPaired || !rec.WindowStart.IsZero() {
			return
		}
		v.startWindow(&rec, "reveal_timer")
	})
}

// startWindow runs under the match lock.
func (v *VotingEngine) startWindow(rec *storage.MatchRecord, trigger string) {
	now := time.Now()
	if !v.stmt.store.MatchStartWindow(rec.ID, now, now.Add(configs.VoteWindow)) {
		return
	}
	v.stmt.store.MatchSetStatus(rec.ID, configs.MatchPaired, configs.MatchVoteActive)
	_ = v.stmt.SM.TransitionFrom(rec.Lo, configs.StatePaired, configs.StateVoteActive, trigger)
	_ = v.stmt.SM.TransitionFrom(rec.Hi, configs.StatePaired, configs.StateVoteActive, trigger)
}

// Vote records one side's decision and resolves the outcome once both sides
// are in. Replaying the same vote is a no-op; a second, different decision
// is ignored in favour of the first.
func (v *VotingEngine) Vote(pid uint64, matchID uint64, vote uint8) error {
	if vote != configs.VoteYes && vote != configs.VotePass {
		return utils.ErrNotMatchable
	}
	var err error
	ok := v.withMatch(matchID, func() {
		rec, ok := v.stmt.store.MatchGet(matchID)
		if !ok || !rec.Contains(pid) {
			err = utils.ErrNotFound
			return
		}
		if rec.Status == configs.MatchEnded {
			// replay after resolution keeps the resolved outcome.
			if rec.SideVote(pid) == vote {
				return
			}
			err = utils.ErrWindowExpired
			return
		}
		if rec.Status != configs.MatchVoteActive || rec.WindowStart.IsZero() {
			err = utils.ErrInvalidTransition
			return
		}
		now := time.Now()
		if now.After(rec.WindowExpiry) {
			// deterministic close: the late voter counts as idle.
			v.resolveLocked(&rec)
			err = utils.ErrWindowExpired
			return
		}
		if rec.SideVote(pid) == configs.VoteNone {
			v.stmt.store.MatchRecordVote(matchID, pid, vote)
			v.stmt.pub.Publish(Event{
				Type: EvVoteRecorded, Pid: pid, MatchID: matchID, TS: now.UnixNano(),
			})
		}
		rec, _ = v.stmt.store.MatchGet(matchID)
		if rec.VoteLo != configs.VoteNone && rec.VoteHi != configs.VoteNone {
			v.resolveLocked(&rec)
		}
	})
	if !ok {
		return utils.ErrLockContention
	}
	return err
}

// ResolveExpired closes a window that should have ended; guardians call it.
func (v *VotingEngine) ResolveExpired(matchID uint64) {
	v.withMatch(matchID, func() {
		rec, ok := v.stmt.store.MatchGet(matchID)
		if !ok || rec.Status != configs.MatchVoteActive {
			return
		}
		if rec.WindowStart.IsZero() || time.Now().Before(rec.WindowExpiry) {
			return
		}
		v.resolveLocked(&rec)
	})
}

// outcomeOf applies the resolution table; a missing vote counts as idle.
func outcomeOf(voteLo, voteHi uint8) uint8 {
	yes := func(x uint8) bool { return x == configs.VoteYes }
	pass := func(x uint8) bool { return x == configs.VotePass }
	switch {
	case yes(voteLo) && yes(voteHi):
		return configs.OutcomeBothYes
	case yes(voteLo) && pass(voteHi), pass(voteLo) && yes(voteHi):
		return configs.OutcomeYesPass
	case pass(voteLo) && pass(voteHi):
		return configs.OutcomePassPass
	case yes(voteLo) || yes(voteHi):
		return configs.OutcomeYesIdle
	case pass(voteLo) || pass(voteHi):
		return configs.OutcomePassIdle
	default:
		return configs.OutcomeIdleIdle
	}
}

// resolveLocked finalises the match under the match lock.
func (v *VotingEngine) resolveLocked(rec *storage.MatchRecord) {
	outcome := outcomeOf(rec.VoteLo, rec.VoteHi)
	if !v.stmt.store.MatchSetOutcome(rec.ID, outcome) {
		return
	}
	now := time.Now()
	switch outcome {
	case configs.OutcomeBothYes:
		_ = v.stmt.SM.TransitionFrom(rec.Lo, configs.StateVoteActive, configs.StateVideoDate, "both_yes")
		_ = v.stmt.SM.TransitionFrom(rec.Hi, configs.StateVoteActive, configs.StateVideoDate, "both_yes")
		v.stmt.store.RecordMutualAccept(rec.Lo, rec.Hi)
		v.stmt.pub.Publish(Event{
			Type: EvPairAccept, Pid: rec.Lo, Partner: rec.Hi, MatchID: rec.ID, TS: now.UnixNano(),
		})
	default:
		v.stmt.store.RecordPairing(rec.Lo, rec.Hi, now)
		v.settleSide(rec.Lo, rec.VoteLo, rec.VoteHi)
		v.settleSide(rec.Hi, rec.VoteHi, rec.VoteLo)
	}
	v.stmt.store.PartSetMatch(rec.Lo, 0)
	v.stmt.store.PartSetMatch(rec.Hi, 0)
	v.stmt.pub.Publish(Event{
		Type: EvOutcomeResolved, Pid: rec.Lo, Partner: rec.Hi, MatchID: rec.ID,
		Outcome: configs.OutcomeName(outcome), TS: now.UnixNano(),
	})
	configs.DPrintf("match %v resolved as %v", rec.ID, configs.OutcomeName(outcome))
}

// settleSide routes one participant after a non-accept outcome. A yes voter
// auto-rejoins with the fixed boost. A pass voter's destination depends on
// the partner: passing on a yes sends the passer to idle for a manual
// respin, while pass_pass and pass_idle auto-rejoin without a boost. An idle
// side always goes back to idle.
func (v *VotingEngine) settleSide(pid uint64, vote uint8, partnerVote uint8) {
	switch {
	case vote == configs.VoteYes:
		if v.stmt.SM.TransitionFrom(pid, configs.StateVoteActive, configs.StateSpinActive, "auto_respin") == nil {
			v.rejoinQueue(pid)
			v.stmt.store.QueueBoost(pid)
		}
	case vote == configs.VotePass && partnerVote != configs.VoteYes:
		if v.stmt.SM.TransitionFrom(pid, configs.StateVoteActive, configs.StateSpinActive, "auto_respin") == nil {
			v.rejoinQueue(pid)
		}
	default:
		// soft-offline sides keep their state; the heartbeat manager owns them.
		_ = v.stmt.SM.TransitionFrom(pid, configs.StateVoteActive, configs.StateIdle, "idle_after_vote")
	}
}

func (v *VotingEngine) rejoinQueue(pid uint64) {
	prof, ok := v.stmt.dir.Lookup(pid)
	if !ok {
		return
	}
	if err := v.stmt.store.QueueJoin(pid, prof.Prefs); err != nil {
		configs.Warn(false, "auto respin enqueue failed: "+err.Error())
	}
}

// Cancel ends a still-forming match after a disconnect or leave. The partner
// is compensated and re-queued; the leaving side's state is the caller's
// business.
func (v *VotingEngine) Cancel(matchID uint64, leaver uint64, reason string) {
	v.withMatch(matchID, func() {
		rec, ok := v.stmt.store.MatchGet(matchID)
		if !ok || !rec.NonTerminal() {
			return
		}
		if !v.stmt.store.MatchSetOutcome(matchID, configs.OutcomeCancel) {
			return
		}
		partner := rec.Partner(leaver)
		from := configs.StatePaired
		if rec.Status == configs.MatchVoteActive {
			from = configs.StateVoteActive
		}
		if v.stmt.SM.TransitionFrom(partner, from, configs.StateSpinActive, "partner_"+reason) == nil {
			v.rejoinQueue(partner)
			v.stmt.store.QueueBoost(partner)
		}
		v.stmt.store.PartSetMatch(rec.Lo, 0)
		v.stmt.store.PartSetMatch(rec.Hi, 0)
		now := time.Now().UnixNano()
		v.stmt.pub.Publish(Event{
			Type: EvOutcomeResolved, Pid: partner, Partner: leaver, MatchID: matchID,
			Outcome: configs.OutcomeName(configs.OutcomeCancel), TS: now,
		})
	})
}
