package matcher

import (
	"SDM/configs"
	"SDM/utils"
	"context"
	"sync"
	"time"
)

// AccessPoint is the transport-agnostic request surface. Every operation is
// a thin validator that delegates to the state machine and the engine
// components; callers only ever see coarse verdicts, never store errors.
type AccessPoint struct {
	stmt     *Context
	lastSpin sync.Map // pid -> time.Time
}

// StatusReply is what pollers reconcile against.
type StatusReply struct {
	Pid          uint64    `json:"pid"`
	State        string    `json:"state"`
	MatchID      uint64    `json:"match_id,omitempty"`
	Partner      uint64    `json:"partner,omitempty"`
	WindowExpiry time.Time `json:"window_expiry,omitempty"`
	Fairness     float64   `json:"fairness,omitempty"`
	Stage        int       `json:"stage,omitempty"`
	QueueSize    int       `json:"queue_size"`
}

const spinMinInterval = 500 * time.Millisecond

// Spin asks to be matched. Re-spinning while already waiting is idempotent.
func (ap *AccessPoint) Spin(pid uint64) (string, error) {
	if v, ok := ap.lastSpin.Load(pid); ok && time.Since(v.(time.Time)) < spinMinInterval {
		return utils.Verdict(utils.ErrRateLimited), utils.ErrRateLimited
	}
	ap.lastSpin.Store(pid, time.Now())

	prof, ok := ap.stmt.dir.Lookup(pid)
	if !ok {
		return utils.Verdict(utils.ErrNotFound), utils.ErrNotFound
	}
	row := ap.stmt.store.PartCreateIfAbsent(pid)
	snap := row.Snapshot()
	if snap.Fatal {
		return utils.Verdict(utils.ErrFatal), utils.ErrFatal
	}
	switch snap.State {
	case configs.StateSpinActive, configs.StateQueueWaiting:
		// already waiting; keep polling.
		return utils.VerdictKeepPoll, nil
	case configs.StateIdle:
		if err := ap.stmt.SM.Transition(pid, configs.StateSpinActive, "spin"); err != nil {
			return utils.Verdict(err), err
		}
	default:
		return utils.Verdict(utils.ErrNotMatchable), utils.ErrNotMatchable
	}
	if err := ap.stmt.store.QueueJoin(pid, prof.Prefs); err != nil {
		return utils.Verdict(err), err
	}
	ap.stmt.store.PartTouch(pid, time.Now())
	// one immediate attempt; the periodic cycle keeps trying afterwards.
	go func() {
		ctx, cancel := context.WithTimeout(ap.stmt.ctx, configs.OrchestratorInterval)
		defer cancel()
		ap.stmt.Orch.MatchOne(ctx, pid)
	}()
	return utils.VerdictKeepPoll, nil
}

func (ap *AccessPoint) Ack(pid uint64, matchID uint64) (string, error) {
	err := ap.stmt.Votes.Ack(pid, matchID)
	return utils.Verdict(err), err
}

func (ap *AccessPoint) Vote(pid uint64, matchID uint64, vote uint8) (string, error) {
	err := ap.stmt.Votes.Vote(pid, matchID, vote)
	return utils.Verdict(err), err
}

func (ap *AccessPoint) RevealComplete(pid uint64, matchID uint64) (string, error) {
	err := ap.stmt.Votes.RevealComplete(pid, matchID)
	return utils.Verdict(err), err
}

func (ap *AccessPoint) Heartbeat(pid uint64) (string, error) {
	ap.stmt.HB.Beat(pid)
	return utils.VerdictOK, nil
}

// Leave tears the participant out of whatever it is doing.
func (ap *AccessPoint) Leave(pid uint64) (string, error) {
	row, ok := ap.stmt.store.PartGet(pid)
	if !ok {
		return utils.VerdictOK, nil
	}
	snap := row.Snapshot()
	if snap.MatchID != 0 {
		if rec, live := ap.stmt.store.MatchGet(snap.MatchID); live && rec.NonTerminal() {
			ap.stmt.Votes.Cancel(snap.MatchID, pid, "leave")
		}
	}
	ap.stmt.store.QueueRemove(pid, "leave")
	switch row.StateRead() {
	case configs.StateSpinActive, configs.StateQueueWaiting,
		configs.StatePaired, configs.StateVoteActive, configs.StateSoftOffline:
		_ = ap.stmt.SM.Transition(pid, configs.StateIdle, "leave")
	}
	return utils.VerdictOK, nil
}

func (ap *AccessPoint) Status(pid uint64) (*StatusReply, error) {
	row, ok := ap.stmt.store.PartGet(pid)
	if !ok {
		return nil, utils.ErrNotFound
	}
	snap := row.Snapshot()
	reply := &StatusReply{
		Pid:       pid,
		State:     configs.StateName(snap.State),
		MatchID:   snap.MatchID,
		QueueSize: ap.stmt.store.QueueLen(),
	}
	if snap.MatchID != 0 {
		if rec, live := ap.stmt.store.MatchGet(snap.MatchID); live {
			reply.Partner = rec.Partner(pid)
			reply.WindowExpiry = rec.WindowExpiry
		}
	}
	if e, queued := ap.stmt.store.QueueGet(pid); queued {
		reply.Fairness = e.Fairness
		reply.Stage = e.Stage
	}
	return reply, nil
}
