package storage

import (
	"SDM/configs"
	"SDM/utils"
	"sync"
	"sync/atomic"
	"time"
)

// memTables is the in-process backend. It is the reference implementation the
// tests run against; the SQL and Mongo backends mirror its semantics.
type memTables struct {
	participants sync.Map // pid -> *ParticipantRow
	queue        sync.Map // pid -> *QueueEntry
	queueIndex   *BTree
	queueLen     int64
	indexMu      sync.Mutex // serialises index inserts/reindexes

	matches   sync.Map // matchID -> *MatchRecord
	pairIndex sync.Map // PairHash -> matchID of the non-terminal match
	matchMu   sync.Mutex

	histAccept sync.Map // PairHash -> true
	histRecent sync.Map // PairHash -> time.Time

	joinSeq uint32
}

func newMemTables() *memTables {
	return &memTables{queueIndex: NewBTree("QUEUE-PriorityIndex")}
}

/* participant rows */

func (m *memTables) partCreateIfAbsent(pid uint64) *ParticipantRow {
	row, _ := m.participants.LoadOrStore(pid, NewParticipantRow(pid))
	return row.(*ParticipantRow)
}

func (m *memTables) partGet(pid uint64) (*ParticipantRow, bool) {
	row, ok := m.participants.Load(pid)
	if !ok {
		return nil, false
	}
	return row.(*ParticipantRow), true
}

func (m *memTables) partList(visit func(*ParticipantRow) bool) {
	m.participants.Range(func(_, v interface{}) bool {
		return visit(v.(*ParticipantRow))
	})
}

/* queue */

func matchableQueueState(state uint8) bool {
	return state == configs.StateSpinActive || state == configs.StateQueueWaiting
}

func (m *memTables) queueJoin(pid uint64, prefs Prefs, now time.Time) error {
	row, ok := m.partGet(pid)
	if !ok {
		return utils.ErrNotFound
	}
	if !matchableQueueState(row.StateRead()) {
		return utils.ErrNotMatchable
	}
	if _, exists := m.queue.Load(pid); exists {
		// idempotent re-join.
		return nil
	}
	e := &QueueEntry{
		Pid:      pid,
		JoinedAt: now, UpdatedAt: now,
		Prefs:   prefs,
		joinSeq: atomic.AddUint32(&m.joinSeq, 1),
	}
	if _, loaded := m.queue.LoadOrStore(pid, e); loaded {
		return nil
	}
	atomic.AddInt64(&m.queueLen, 1)
	m.indexInsert(e, PriorityKey(0, e.joinSeq))
	return nil
}

func (m *memTables) indexInsert(e *QueueEntry, key Key) {
	m.indexMu.Lock()
	defer m.indexMu.Unlock()
	e.mu.Lock()
	e.indexKey = key
	e.mu.Unlock()
	for {
		err := m.queueIndex.IndexInsert(key, e)
		if err == nil {
			return
		}
		configs.Warn(err == ErrIndexAbort, "queue index insert failed: "+err.Error())
	}
}

func (m *memTables) queueRemove(pid uint64, reason string) bool {
	v, ok := m.queue.LoadAndDelete(pid)
	if !ok {
		return false
	}
	e := v.(*QueueEntry)
	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()
	atomic.AddInt64(&m.queueLen, -1)
	configs.PPrintf(pid, "left queue (%v)", reason)
	return true
}

func (m *memTables) queueGet(pid uint64) (*QueueEntry, bool) {
	v, ok := m.queue.Load(pid)
	if !ok {
		return nil, false
	}
	return v.(*QueueEntry), true
}

func (m *memTables) queueBoost(pid uint64, now time.Time) {
	e, ok := m.queueGet(pid)
	if !ok {
		// fail soft on missing entries.
		return
	}
	e.mu.Lock()
	e.BoostAccum += configs.FairnessBoostValue
	e.UpdatedAt = now
	e.mu.Unlock()
}

func (m *memTables) queueExpand(pid uint64, newStage int, now time.Time) {
	e, ok := m.queueGet(pid)
	if !ok {
		return
	}
	e.mu.Lock()
	if newStage > e.Stage {
		e.Stage = newStage
	}
	e.UpdatedAt = now
	e.mu.Unlock()
}

func (m *memTables) queueSkip(pid uint64, now time.Time) {
	e, ok := m.queueGet(pid)
	if !ok {
		return
	}
	e.mu.Lock()
	e.SkipCount++
	e.UpdatedAt = now
	e.mu.Unlock()
}

func (m *memTables) queueClearBoost(pid uint64) {
	e, ok := m.queueGet(pid)
	if !ok {
		return
	}
	e.mu.Lock()
	e.BoostAccum = 0
	e.mu.Unlock()
}

// queueReindex moves the entry to its recomputed priority slot. The old slot
// stays behind as a tombstone that scans skip.
func (m *memTables) queueReindex(pid uint64, fairness float64, now time.Time) {
	e, ok := m.queueGet(pid)
	if !ok {
		return
	}
	e.mu.Lock()
	e.Fairness = fairness
	e.UpdatedAt = now
	seq := e.joinSeq
	old := e.indexKey
	e.mu.Unlock()
	key := PriorityKey(fairness, seq)
	if key == old {
		return
	}
	m.indexInsert(e, key)
}

func (m *memTables) queueCount() int {
	return int(atomic.LoadInt64(&m.queueLen))
}

// queueIter visits live entries in priority order. Entries whose participant
// row is latched by another worker are skipped, mirroring SKIP LOCKED on the
// SQL backend.
func (m *memTables) queueIter(visit func(QueueEntry) bool) {
	m.queueIndex.Scan(func(_ Key, e *QueueEntry) bool {
		if _, stillQueued := m.queue.Load(e.Pid); !stillQueued {
			return true
		}
		row, ok := m.partGet(e.Pid)
		if !ok {
			return true
		}
		if !row.TryLatch(0) {
			return true
		}
		snap := e.Snapshot()
		row.Unlatch()
		return visit(snap)
	})
}

/* match records */

func (m *memTables) matchCreateIfAbsent(a, b uint64, now time.Time) (uint64, error) {
	lo, hi := utils.CanonicalPair(a, b)
	hash := configs.PairHash(lo, hi)
	m.matchMu.Lock()
	defer m.matchMu.Unlock()
	if v, ok := m.pairIndex.Load(hash); ok {
		existing := v.(uint64)
		if rec, live := m.matches.Load(existing); live && rec.(*MatchRecord).NonTerminal() {
			return existing, utils.ErrDuplicatePair
		}
		m.pairIndex.Delete(hash)
	}
	rec := &MatchRecord{
		ID: configs.GetMatchID(), Lo: lo, Hi: hi,
		Status: configs.MatchPaired, CreatedAt: now,
	}
	m.matches.Store(rec.ID, rec)
	m.pairIndex.Store(hash, rec.ID)
	return rec.ID, nil
}

func (m *memTables) matchGet(id uint64) (MatchRecord, bool) {
	v, ok := m.matches.Load(id)
	if !ok {
		return MatchRecord{}, false
	}
	m.matchMu.Lock()
	defer m.matchMu.Unlock()
	return *v.(*MatchRecord), true
}

func (m *memTables) matchMutate(id uint64, fn func(*MatchRecord) bool) bool {
	v, ok := m.matches.Load(id)
	if !ok {
		return false
	}
	m.matchMu.Lock()
	defer m.matchMu.Unlock()
	rec := v.(*MatchRecord)
	ok = fn(rec)
	if rec.Status == configs.MatchEnded {
		m.pairIndex.Delete(configs.PairHash(rec.Lo, rec.Hi))
	}
	return ok
}

func (m *memTables) matchDelete(id uint64) {
	v, ok := m.matches.LoadAndDelete(id)
	if !ok {
		return
	}
	rec := v.(*MatchRecord)
	m.matchMu.Lock()
	defer m.matchMu.Unlock()
	if cur, live := m.pairIndex.Load(configs.PairHash(rec.Lo, rec.Hi)); live && cur.(uint64) == id {
		m.pairIndex.Delete(configs.PairHash(rec.Lo, rec.Hi))
	}
}

func (m *memTables) matchFindByPair(a, b uint64) (uint64, bool) {
	v, ok := m.pairIndex.Load(configs.PairHash(a, b))
	if !ok {
		return 0, false
	}
	id := v.(uint64)
	rec, live := m.matches.Load(id)
	if !live || !rec.(*MatchRecord).NonTerminal() {
		return 0, false
	}
	return id, true
}

func (m *memTables) matchList(visit func(MatchRecord) bool) {
	m.matches.Range(func(_, v interface{}) bool {
		m.matchMu.Lock()
		snap := *v.(*MatchRecord)
		m.matchMu.Unlock()
		return visit(snap)
	})
}

/* history */

func (m *memTables) wasMutualAccept(a, b uint64) bool {
	_, ok := m.histAccept.Load(configs.PairHash(a, b))
	return ok
}

func (m *memTables) withinCooldown(a, b uint64, now time.Time) bool {
	v, ok := m.histRecent.Load(configs.PairHash(a, b))
	if !ok {
		return false
	}
	return now.Sub(v.(time.Time)) < configs.Cooldown
}

func (m *memTables) recordMutualAccept(a, b uint64) {
	m.histAccept.Store(configs.PairHash(a, b), true)
}

func (m *memTables) recordPairing(a, b uint64, now time.Time) {
	m.histRecent.Store(configs.PairHash(a, b), now)
}

func (m *memTables) pruneCooldown(before time.Time) int {
	n := 0
	m.histRecent.Range(func(k, v interface{}) bool {
		if v.(time.Time).Before(before) {
			m.histRecent.Delete(k)
			n++
		}
		return true
	})
	return n
}
