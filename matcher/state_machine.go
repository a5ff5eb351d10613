package matcher

import (
	"SDM/configs"
	"SDM/storage"
	"SDM/utils"
	"time"
)

// StateMachine is the single authority for participant state. Every change
// funnels through Transition, which validates against the allowed table,
// applies a guarded CAS write, journals one record, and publishes one
// notification. A rejected transition mutates nothing.
type StateMachine struct {
	stmt *Context
}

var allowedTransitions = map[uint8][]uint8{
	configs.StateIdle: {configs.StateSpinActive},
	configs.StateSpinActive: {
		configs.StateQueueWaiting, configs.StatePaired,
		configs.StateSoftOffline, configs.StateIdle,
	},
	configs.StateQueueWaiting: {
		configs.StatePaired, configs.StateSoftOffline, configs.StateIdle,
	},
	configs.StatePaired: {
		configs.StateVoteActive, configs.StateSpinActive,
		configs.StateSoftOffline, configs.StateIdle,
	},
	configs.StateVoteActive: {
		configs.StateVideoDate, configs.StateSpinActive,
		configs.StateIdle, configs.StateSoftOffline,
	},
	configs.StateVideoDate: {configs.StateEnded},
	configs.StateSoftOffline: {
		// restoration to the prior state, or finalization.
		configs.StateSpinActive, configs.StateQueueWaiting,
		configs.StatePaired, configs.StateVoteActive,
		configs.StateIdle, configs.StateEnded,
	},
	configs.StateEnded: {},
}

func transitionAllowed(from, to uint8) bool {
	for _, t := range allowedTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Matchable reports whether a participant in this state may be paired.
func Matchable(state uint8) bool {
	return state == configs.StateSpinActive || state == configs.StateQueueWaiting
}

// Transition moves pid to the target state. event tags the trigger for the
// journal and the published notification.
func (sm *StateMachine) Transition(pid uint64, to uint8, event string) error {
	row, ok := sm.stmt.store.PartGet(pid)
	if !ok {
		return utils.ErrNotFound
	}
	from := row.StateRead()
	if from == to {
		// replayed trigger; nothing to do.
		return nil
	}
	if !transitionAllowed(from, to) {
		configs.PPrintf(pid, "transition %v -> %v rejected on %v",
			configs.StateName(from), configs.StateName(to), event)
		return utils.ErrInvalidTransition
	}
	if !sm.stmt.store.PartCAS(pid, from, to) {
		// the row moved under us; the caller decides whether to retry.
		return utils.ErrLockContention
	}
	now := time.Now()
	sm.stmt.store.Journal().WriteTransition(&storage.TransitionEntry{
		Seq: configs.GetJournalSeq(), Pid: pid,
		From: from, To: to, Event: event, TS: now.UnixNano(),
	})
	sm.stmt.pub.Publish(Event{
		Type: EvStateChanged, Pid: pid,
		State: configs.StateName(to), TS: now.UnixNano(),
	})
	configs.PPrintf(pid, "%v -> %v on %v",
		configs.StateName(from), configs.StateName(to), event)
	return nil
}

// TransitionFrom only fires when the participant is still in the expected
// state; pair creation and guardians use it to avoid clobbering.
func (sm *StateMachine) TransitionFrom(pid uint64, from, to uint8, event string) error {
	row, ok := sm.stmt.store.PartGet(pid)
	if !ok {
		return utils.ErrNotFound
	}
	cur := row.StateRead()
	if cur != from {
		return utils.ErrInvalidTransition
	}
	if !transitionAllowed(from, to) {
		return utils.ErrInvalidTransition
	}
	if !sm.stmt.store.PartCAS(pid, from, to) {
		return utils.ErrLockContention
	}
	now := time.Now()
	sm.stmt.store.Journal().WriteTransition(&storage.TransitionEntry{
		Seq: configs.GetJournalSeq(), Pid: pid,
		From: from, To: to, Event: event, TS: now.UnixNano(),
	})
	sm.stmt.pub.Publish(Event{
		Type: EvStateChanged, Pid: pid,
		State: configs.StateName(to), TS: now.UnixNano(),
	})
	configs.PPrintf(pid, "%v -> %v on %v",
		configs.StateName(from), configs.StateName(to), event)
	return nil
}
