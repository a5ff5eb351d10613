package storage

import (
	"SDM/configs"
	"context"
	"time"
)

// Store is the authoritative data store for the matchmaking core. It keeps
// participant rows, the waiting queue with its priority index, match records,
// and pairing history, behind one facade that dispatches per call to the
// configured backend, in the manner of a shard switching between a local
// kv-store, PostgreSQL, and MongoDB.
type Store struct {
	storeID string
	ctx     context.Context

	// In case of the in-process backend.
	mem *memTables

	// In case of MongoDB.
	mdb *MongoDB

	// In case of PostgreSQL.
	db *SQLDB

	journal *Journal
}

func (s *Store) GetID() string {
	return s.storeID
}

func NewStore(storeID string, storeType string) *Store {
	s := &Store{
		storeID: storeID,
		ctx:     context.WithValue(context.Background(), "store", storeType),
		mem:     newMemTables(),
	}
	if storeType == configs.MongoDB {
		s.mdb = &MongoDB{}
		s.mdb.init()
	} else if storeType == configs.PostgreSQL {
		s.db = &SQLDB{}
		s.db.init()
	}
	s.journal = NewJournal(storeID)
	return s
}

// Testkit builds an in-memory store for tests and local runs.
func Testkit(storeID string) *Store {
	return NewStore(storeID, configs.MemoryStorage)
}

func (s *Store) kind() string {
	return s.ctx.Value("store").(string)
}

func (s *Store) Journal() *Journal {
	return s.journal
}

/* Participant rows. */

func (s *Store) PartCreateIfAbsent(pid uint64) *ParticipantRow {
	if s.kind() == configs.PostgreSQL {
		s.db.PartCreateIfAbsent(pid)
	} else if s.kind() == configs.MongoDB {
		s.mdb.PartCreateIfAbsent(pid)
	}
	// the in-process row doubles as the lock carrier for every backend.
	return s.mem.partCreateIfAbsent(pid)
}

func (s *Store) PartGet(pid uint64) (*ParticipantRow, bool) {
	return s.mem.partGet(pid)
}

func (s *Store) PartState(pid uint64) (uint8, bool) {
	row, ok := s.mem.partGet(pid)
	if !ok {
		return 0, false
	}
	return row.StateRead(), true
}

// PartCAS applies a guarded state write; it is the state machine's only
// mutation primitive.
func (s *Store) PartCAS(pid uint64, from, to uint8) bool {
	row, ok := s.mem.partGet(pid)
	if !ok {
		return false
	}
	if !row.CASState(from, to) {
		return false
	}
	if s.kind() == configs.PostgreSQL {
		if !s.db.PartCAS(pid, from, to) {
			row.CASState(to, from)
			return false
		}
	} else if s.kind() == configs.MongoDB {
		if !s.mdb.PartCAS(pid, from, to) {
			row.CASState(to, from)
			return false
		}
	}
	return true
}

func (s *Store) PartSetMatch(pid uint64, matchID uint64) {
	if row, ok := s.mem.partGet(pid); ok {
		row.SetMatch(matchID)
	}
	if s.kind() == configs.PostgreSQL {
		s.db.PartSetMatch(pid, matchID)
	} else if s.kind() == configs.MongoDB {
		s.mdb.PartSetMatch(pid, matchID)
	}
}

func (s *Store) PartTouch(pid uint64, now time.Time) {
	if row, ok := s.mem.partGet(pid); ok {
		row.Touch(now)
	}
	if s.kind() == configs.PostgreSQL {
		s.db.PartTouch(pid, now)
	} else if s.kind() == configs.MongoDB {
		s.mdb.PartTouch(pid, now)
	}
}

func (s *Store) PartSetPrior(pid uint64, prior uint8, offlineAt time.Time) {
	if row, ok := s.mem.partGet(pid); ok {
		row.SetPrior(prior, offlineAt)
	}
	if s.kind() == configs.PostgreSQL {
		s.db.PartSetPrior(pid, prior, offlineAt)
	}
}

func (s *Store) PartSetFatal(pid uint64, v bool) {
	if row, ok := s.mem.partGet(pid); ok {
		row.SetFatal(v)
	}
}

func (s *Store) PartList(visit func(*ParticipantRow) bool) {
	s.mem.partList(visit)
}

// TryLockParticipant takes the row-level exclusive lock without blocking
// beyond wait. On the SQL backend the same pid also takes a pg advisory
// lock so that sibling processes observe it.
func (s *Store) TryLockParticipant(pid uint64, wait time.Duration) bool {
	row := s.mem.partCreateIfAbsent(pid)
	if !row.TryLatch(wait) {
		return false
	}
	if s.kind() == configs.PostgreSQL {
		if !s.db.TryAdvisoryLock(pid) {
			row.Unlatch()
			return false
		}
	}
	return true
}

func (s *Store) UnlockParticipant(pid uint64) {
	if s.kind() == configs.PostgreSQL {
		s.db.AdvisoryUnlock(pid)
	}
	if row, ok := s.mem.partGet(pid); ok {
		row.Unlatch()
	}
}

/* Queue store. */

func (s *Store) QueueJoin(pid uint64, prefs Prefs) error {
	now := time.Now()
	err := s.mem.queueJoin(pid, prefs, now)
	if err != nil {
		return err
	}
	if s.kind() == configs.PostgreSQL {
		s.db.QueueJoin(pid, prefs, now)
	} else if s.kind() == configs.MongoDB {
		s.mdb.QueueJoin(pid, prefs, now)
	}
	return nil
}

// QueueRemove is the only path that deletes queue entries.
func (s *Store) QueueRemove(pid uint64, reason string) bool {
	ok := s.mem.queueRemove(pid, reason)
	if s.kind() == configs.PostgreSQL {
		s.db.QueueRemove(pid)
	} else if s.kind() == configs.MongoDB {
		s.mdb.QueueRemove(pid)
	}
	return ok
}

func (s *Store) QueueGet(pid uint64) (QueueEntry, bool) {
	e, ok := s.mem.queueGet(pid)
	if !ok {
		return QueueEntry{}, false
	}
	return e.Snapshot(), true
}

func (s *Store) QueueBoost(pid uint64) {
	now := time.Now()
	s.mem.queueBoost(pid, now)
	if s.kind() == configs.PostgreSQL {
		s.db.QueueBoost(pid, now)
	} else if s.kind() == configs.MongoDB {
		s.mdb.QueueBoost(pid, now)
	}
}

func (s *Store) QueueExpand(pid uint64, newStage int) {
	now := time.Now()
	s.mem.queueExpand(pid, newStage, now)
	if s.kind() == configs.PostgreSQL {
		s.db.QueueExpand(pid, newStage, now)
	} else if s.kind() == configs.MongoDB {
		s.mdb.QueueExpand(pid, newStage, now)
	}
}

func (s *Store) QueueSkip(pid uint64) {
	s.mem.queueSkip(pid, time.Now())
}

func (s *Store) QueueClearBoost(pid uint64) {
	s.mem.queueClearBoost(pid)
	if s.kind() == configs.PostgreSQL {
		s.db.QueueClearBoost(pid)
	}
}

func (s *Store) QueueUpdateFairness(pid uint64, fairness float64) {
	now := time.Now()
	s.mem.queueReindex(pid, fairness, now)
	if s.kind() == configs.PostgreSQL {
		s.db.QueueUpdateFairness(pid, fairness, now)
	} else if s.kind() == configs.MongoDB {
		s.mdb.QueueUpdateFairness(pid, fairness, now)
	}
}

func (s *Store) QueueLen() int {
	return s.mem.queueCount()
}

// QueueIter yields entries in (fairness desc, joined-at asc) order, skipping
// rows whose participant lock is held by another worker. The SQL backend
// scans its own priority index so sibling processes agree on the order.
func (s *Store) QueueIter(visit func(QueueEntry) bool) {
	if s.kind() == configs.PostgreSQL {
		for _, e := range s.db.QueueScan(configs.MaxQueueScanPerIter) {
			if !visit(e) {
				return
			}
		}
		return
	}
	s.mem.queueIter(visit)
}

/* Match store. */

// MatchCreateIfAbsent inserts a paired record for the canonical pair. Only
// the atomic pair creator may call it.
func (s *Store) MatchCreateIfAbsent(a, b uint64) (uint64, error) {
	now := time.Now()
	id, err := s.mem.matchCreateIfAbsent(a, b, now)
	if err != nil {
		return id, err
	}
	if s.kind() == configs.PostgreSQL {
		s.db.MatchInsert(id, a, b, now)
	} else if s.kind() == configs.MongoDB {
		s.mdb.MatchInsert(id, a, b, now)
	}
	return id, nil
}

func (s *Store) MatchGet(id uint64) (MatchRecord, bool) {
	return s.mem.matchGet(id)
}

func (s *Store) MatchSetStatus(id uint64, from, to uint8) bool {
	ok := s.mem.matchMutate(id, func(rec *MatchRecord) bool {
		if rec.Status != from {
			return false
		}
		rec.Status = to
		return true
	})
	if ok && s.kind() == configs.PostgreSQL {
		s.db.MatchSetStatus(id, from, to)
	} else if ok && s.kind() == configs.MongoDB {
		s.mdb.MatchSetStatus(id, from, to)
	}
	return ok
}

func (s *Store) MatchSetAck(id uint64, pid uint64) bool {
	return s.mem.matchMutate(id, func(rec *MatchRecord) bool {
		if !rec.Contains(pid) {
			return false
		}
		if rec.Lo == pid {
			rec.AckLo = true
		} else {
			rec.AckHi = true
		}
		return true
	})
}

func (s *Store) MatchStartWindow(id uint64, start, expiry time.Time) bool {
	ok := s.mem.matchMutate(id, func(rec *MatchRecord) bool {
		if !rec.WindowStart.IsZero() {
			return false
		}
		rec.WindowStart = start
		rec.WindowExpiry = expiry
		return true
	})
	if ok && s.kind() == configs.PostgreSQL {
		s.db.MatchStartWindow(id, start, expiry)
	}
	return ok
}

// MatchRecordVote upserts one side's vote; repeated identical votes are
// no-ops.
func (s *Store) MatchRecordVote(id uint64, pid uint64, vote uint8) bool {
	ok := s.mem.matchMutate(id, func(rec *MatchRecord) bool {
		if !rec.Contains(pid) {
			return false
		}
		if rec.Lo == pid {
			rec.VoteLo = vote
		} else {
			rec.VoteHi = vote
		}
		return true
	})
	if ok && s.kind() == configs.PostgreSQL {
		s.db.MatchRecordVote(id, pid, vote)
	} else if ok && s.kind() == configs.MongoDB {
		s.mdb.MatchRecordVote(id, pid, vote)
	}
	return ok
}

func (s *Store) MatchSetOutcome(id uint64, outcome uint8) bool {
	ok := s.mem.matchMutate(id, func(rec *MatchRecord) bool {
		if rec.Outcome != configs.OutcomeNone && rec.Outcome != outcome {
			return false
		}
		rec.Outcome = outcome
		rec.Status = configs.MatchEnded
		return true
	})
	if ok && s.kind() == configs.PostgreSQL {
		s.db.MatchSetOutcome(id, outcome)
	} else if ok && s.kind() == configs.MongoDB {
		s.mdb.MatchSetOutcome(id, outcome)
	}
	return ok
}

// MatchDelete only serves the pair creator's rollback path.
func (s *Store) MatchDelete(id uint64) {
	s.mem.matchDelete(id)
	if s.kind() == configs.PostgreSQL {
		s.db.MatchDelete(id)
	} else if s.kind() == configs.MongoDB {
		s.mdb.MatchDelete(id)
	}
}

func (s *Store) MatchFindByPair(a, b uint64) (uint64, bool) {
	return s.mem.matchFindByPair(a, b)
}

func (s *Store) MatchList(visit func(MatchRecord) bool) {
	s.mem.matchList(visit)
}

/* History store. */

func (s *Store) WasMutualAccept(a, b uint64) bool {
	return s.mem.wasMutualAccept(a, b)
}

func (s *Store) WithinCooldown(a, b uint64, now time.Time) bool {
	return s.mem.withinCooldown(a, b, now)
}

func (s *Store) RecordMutualAccept(a, b uint64) {
	s.mem.recordMutualAccept(a, b)
	if s.kind() == configs.PostgreSQL {
		s.db.RecordMutualAccept(a, b)
	} else if s.kind() == configs.MongoDB {
		s.mdb.RecordMutualAccept(a, b)
	}
}

func (s *Store) RecordPairing(a, b uint64, now time.Time) {
	s.mem.recordPairing(a, b, now)
	if s.kind() == configs.PostgreSQL {
		s.db.RecordPairing(a, b, now)
	} else if s.kind() == configs.MongoDB {
		s.mdb.RecordPairing(a, b, now)
	}
}

func (s *Store) PruneCooldown(before time.Time) int {
	n := s.mem.pruneCooldown(before)
	if s.kind() == configs.PostgreSQL {
		s.db.PruneCooldown(before)
	} else if s.kind() == configs.MongoDB {
		s.mdb.PruneCooldown(before)
	}
	return n
}
