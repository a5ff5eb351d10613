package matcher

import (
	"SDM/configs"
	"SDM/storage"
	"context"
	"time"
)

// HeartbeatManager tracks liveness. A heartbeat gap beyond the soft
// threshold tips a participant into soft_offline; a beat within the grace
// window restores the prior state, and grace expiry finalises to idle.
type HeartbeatManager struct {
	stmt *Context
}

// Beat bumps last-active and restores a soft-offline participant that came
// back within grace.
func (h *HeartbeatManager) Beat(pid uint64) {
	now := time.Now()
	h.stmt.store.PartTouch(pid, now)
	row, ok := h.stmt.store.PartGet(pid)
	if !ok {
		return
	}
	snap := row.Snapshot()
	if snap.State != configs.StateSoftOffline {
		return
	}
	if now.Sub(snap.OfflineAt) > configs.GracePeriod {
		// too late; the sweep finalises.
		return
	}
	prior := snap.PriorState
	if (prior == configs.StatePaired || prior == configs.StateVoteActive) && snap.MatchID == 0 {
		// the match was cancelled while offline; come back spinning.
		prior = configs.StateSpinActive
	}
	if h.stmt.SM.TransitionFrom(pid, configs.StateSoftOffline, prior, "heartbeat_restored") == nil {
		if Matchable(prior) {
			if prof, ok := h.stmt.dir.Lookup(pid); ok {
				_ = h.stmt.store.QueueJoin(pid, prof.Prefs)
			}
		}
	}
}

func (h *HeartbeatManager) Loop(ctx context.Context) {
	ticker := time.NewTicker(configs.OfflineSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.Sweep(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

func offlineEligible(state uint8) bool {
	switch state {
	case configs.StateSpinActive, configs.StateQueueWaiting,
		configs.StatePaired, configs.StateVoteActive:
		return true
	}
	return false
}

// Sweep detects heartbeat gaps and finalises expired grace windows. It is
// idempotent; a second sweep over the same state changes nothing.
func (h *HeartbeatManager) Sweep(now time.Time) {
	h.stmt.store.PartList(func(row *storage.ParticipantRow) bool {
		snap := row.Snapshot()
		switch {
		case offlineEligible(snap.State) && now.Sub(snap.LastActive) > configs.OfflineThreshold:
			h.markOffline(snap, now)
		case snap.State == configs.StateSoftOffline && now.Sub(snap.OfflineAt) > configs.GracePeriod:
			h.finalize(snap)
		}
		return true
	})
}

func (h *HeartbeatManager) markOffline(snap storage.ParticipantRow, now time.Time) {
	pid := snap.Pid
	h.stmt.store.PartSetPrior(pid, snap.State, now)
	if h.stmt.SM.TransitionFrom(pid, snap.State, configs.StateSoftOffline, "heartbeat_gap") != nil {
		return
	}
	h.stmt.pub.Publish(Event{Type: EvOfflineDetected, Pid: pid, TS: now.UnixNano()})
	if snap.MatchID != 0 {
		// the partner is compensated and re-queued by the cancel path.
		h.stmt.Votes.Cancel(snap.MatchID, pid, "offline")
	}
}

func (h *HeartbeatManager) finalize(snap storage.ParticipantRow) {
	pid := snap.Pid
	if h.stmt.SM.TransitionFrom(pid, configs.StateSoftOffline, configs.StateIdle, "grace_expired") != nil {
		return
	}
	h.stmt.store.QueueRemove(pid, "offline_finalized")
	h.stmt.pub.Publish(Event{Type: EvOfflineFinalized, Pid: pid, TS: time.Now().UnixNano()})
}
