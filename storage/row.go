package storage

import (
	"SDM/configs"
	"sync"
	"time"

	lock "github.com/viney-shih/go-lock"
)

type Key uint64

// Prefs is the matching preference snapshot taken when a participant joins
// the queue. The profile directory owns the authoritative copy.
type Prefs struct {
	AgeMin     int     `json:"age_min" bson:"age_min"`
	AgeMax     int     `json:"age_max" bson:"age_max"`
	MaxDist    float64 `json:"max_dist" bson:"max_dist"`
	GenderPref uint8   `json:"gender_pref" bson:"gender_pref"`
}

// ParticipantRow is the authoritative per-participant record. The state field
// is written only through the state machine's CAS; the latch serialises
// everything else. PriorState backs soft-offline restoration.
type ParticipantRow struct {
	Pid        uint64    `json:"pid" bson:"pid"`
	State      uint8     `json:"state" bson:"state"`
	PriorState uint8     `json:"prior_state" bson:"prior_state"`
	MatchID    uint64    `json:"match_id" bson:"match_id"`
	LastActive time.Time `json:"last_active" bson:"last_active"`
	OfflineAt  time.Time `json:"offline_at" bson:"offline_at"`
	Fatal      bool      `json:"fatal" bson:"fatal"`

	latch lock.Mutex
	mu    sync.Mutex
}

func NewParticipantRow(pid uint64) *ParticipantRow {
	return &ParticipantRow{
		Pid:        pid,
		State:      configs.StateIdle,
		LastActive: time.Now(),
		latch:      lock.NewCASMutex(),
	}
}

// TryLatch is the row-level exclusive lock with non-blocking acquisition.
// wait <= 0 degrades to a bare try.
func (r *ParticipantRow) TryLatch(wait time.Duration) bool {
	if wait <= 0 {
		return r.latch.TryLock()
	}
	return r.latch.TryLockWithTimeout(wait)
}

func (r *ParticipantRow) Unlatch() {
	r.latch.Unlock()
}

// CASState is the single write primitive for the state field.
func (r *ParticipantRow) CASState(from, to uint8) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.State != from {
		return false
	}
	r.State = to
	return true
}

func (r *ParticipantRow) StateRead() uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.State
}

func (r *ParticipantRow) Snapshot() ParticipantRow {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ParticipantRow{
		Pid: r.Pid, State: r.State, PriorState: r.PriorState, MatchID: r.MatchID,
		LastActive: r.LastActive, OfflineAt: r.OfflineAt, Fatal: r.Fatal,
	}
}

func (r *ParticipantRow) SetMatch(matchID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.MatchID = matchID
}

func (r *ParticipantRow) Touch(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.LastActive = now
}

func (r *ParticipantRow) SetPrior(prior uint8, offlineAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.PriorState = prior
	r.OfflineAt = offlineAt
}

func (r *ParticipantRow) SetFatal(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Fatal = v
}

// QueueEntry is one waiting participant. indexKey tracks the entry's current
// position in the priority index; scans skip entries whose key moved.
type QueueEntry struct {
	Pid        uint64    `json:"pid" bson:"pid"`
	JoinedAt   time.Time `json:"joined_at" bson:"joined_at"`
	UpdatedAt  time.Time `json:"updated_at" bson:"updated_at"`
	Fairness   float64   `json:"fairness" bson:"fairness"`
	Stage      int       `json:"stage" bson:"stage"`
	SkipCount  int       `json:"skip_count" bson:"skip_count"`
	BoostAccum float64   `json:"boost_accum" bson:"boost_accum"`
	Prefs      Prefs     `json:"prefs" bson:"prefs"`

	joinSeq  uint32
	indexKey Key
	removed  bool
	mu       sync.Mutex
}

// Snapshot copies the mutable entry fields for lock-free readers.
func (e *QueueEntry) Snapshot() QueueEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return QueueEntry{
		Pid: e.Pid, JoinedAt: e.JoinedAt, UpdatedAt: e.UpdatedAt,
		Fairness: e.Fairness, Stage: e.Stage, SkipCount: e.SkipCount,
		BoostAccum: e.BoostAccum, Prefs: e.Prefs, joinSeq: e.joinSeq,
	}
}

// PriorityKey folds (fairness desc, joined-at asc) into one ordered index
// key. Fairness is bucketed at centi-point precision and inverted; the join
// sequence breaks ties and keeps keys unique within a tenure.
func PriorityKey(fairness float64, joinSeq uint32) Key {
	bucket := fairness * 100
	if bucket < 0 {
		bucket = 0
	}
	if bucket > float64(^uint32(0)) {
		bucket = float64(^uint32(0))
	}
	inv := ^uint32(0) - uint32(bucket)
	return Key(uint64(inv)<<32 | uint64(joinSeq))
}

// MatchRecord is a pairing in canonical order (Lo < Hi).
type MatchRecord struct {
	ID           uint64    `json:"id" bson:"id"`
	Lo           uint64    `json:"lo" bson:"lo"`
	Hi           uint64    `json:"hi" bson:"hi"`
	Status       uint8     `json:"status" bson:"status"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
	WindowStart  time.Time `json:"window_start" bson:"window_start"`
	WindowExpiry time.Time `json:"window_expiry" bson:"window_expiry"`
	AckLo        bool      `json:"ack_lo" bson:"ack_lo"`
	AckHi        bool      `json:"ack_hi" bson:"ack_hi"`
	VoteLo       uint8     `json:"vote_lo" bson:"vote_lo"`
	VoteHi       uint8     `json:"vote_hi" bson:"vote_hi"`
	Outcome      uint8     `json:"outcome" bson:"outcome"`
}

func (m *MatchRecord) Contains(pid uint64) bool {
	return m.Lo == pid || m.Hi == pid
}

func (m *MatchRecord) Partner(pid uint64) uint64 {
	if m.Lo == pid {
		return m.Hi
	}
	configs.Assert(m.Hi == pid, "participant not in match")
	return m.Lo
}

// SideVote returns the vote recorded for pid's side.
func (m *MatchRecord) SideVote(pid uint64) uint8 {
	if m.Lo == pid {
		return m.VoteLo
	}
	return m.VoteHi
}

func (m *MatchRecord) BothAcked() bool {
	return m.AckLo && m.AckHi
}

func (m *MatchRecord) NonTerminal() bool {
	return m.Status == configs.MatchPaired || m.Status == configs.MatchVoteActive
}
