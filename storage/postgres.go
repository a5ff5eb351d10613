package storage

import (
	"SDM/configs"
	"context"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
)

// SQLDB is the PostgreSQL backend. Participant locks map onto session-scoped
// advisory locks so that sibling server processes observe them; queue scans
// use FOR UPDATE SKIP LOCKED, which is the database-native form of the
// "skip rows locked by another worker" policy.
type SQLDB struct {
	ctx  context.Context
	pool *pgxpool.Pool

	// advisory locks must be released on the connection that took them.
	lockConns sync.Map // pid -> *pgxpool.Conn
}

func (c *SQLDB) tryExec(sql string, args ...interface{}) {
	_, _ = c.pool.Exec(c.ctx, sql, args...)
}

func (c *SQLDB) mustExec(sql string, args ...interface{}) {
	_, err := c.pool.Exec(c.ctx, sql, args...)
	if err != nil {
		panic(err)
	}
}

func (c *SQLDB) init() {
	var err error
	c.ctx = context.TODO()
	config, err := pgxpool.ParseConfig(configs.PostgreSQLLink)
	if err != nil {
		log.Fatalf("Unable to parse database config: %v\n", err)
	}
	config.MaxConns = 200
	c.pool, err = pgxpool.ConnectConfig(context.Background(), config)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v\n", err)
	}
	c.tryExec(`CREATE TABLE IF NOT EXISTS participants (
		pid BIGINT PRIMARY KEY,
		state SMALLINT NOT NULL DEFAULT 0,
		prior_state SMALLINT NOT NULL DEFAULT 0,
		match_id BIGINT NOT NULL DEFAULT 0,
		last_active TIMESTAMPTZ NOT NULL DEFAULT now(),
		offline_at TIMESTAMPTZ,
		fatal BOOLEAN NOT NULL DEFAULT FALSE)`)
	c.tryExec(`CREATE TABLE IF NOT EXISTS queue_entries (
		pid BIGINT PRIMARY KEY,
		joined_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		fairness DOUBLE PRECISION NOT NULL DEFAULT 0,
		stage INT NOT NULL DEFAULT 0,
		skip_count INT NOT NULL DEFAULT 0,
		boost_accum DOUBLE PRECISION NOT NULL DEFAULT 0,
		age_min INT, age_max INT, max_dist DOUBLE PRECISION, gender_pref SMALLINT)`)
	c.tryExec(`CREATE INDEX IF NOT EXISTS queue_priority_idx
		ON queue_entries (fairness DESC, joined_at ASC)`)
	c.tryExec(`CREATE TABLE IF NOT EXISTS matches (
		id BIGINT PRIMARY KEY,
		lo BIGINT NOT NULL, hi BIGINT NOT NULL,
		status SMALLINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		window_start TIMESTAMPTZ, window_expiry TIMESTAMPTZ,
		vote_lo SMALLINT NOT NULL DEFAULT 0,
		vote_hi SMALLINT NOT NULL DEFAULT 0,
		outcome SMALLINT NOT NULL DEFAULT 0)`)
	// one non-terminal match per canonical pair.
	c.tryExec(`CREATE UNIQUE INDEX IF NOT EXISTS matches_live_pair_idx
		ON matches (lo, hi) WHERE status < 2`)
	c.tryExec(`CREATE INDEX IF NOT EXISTS matches_status_idx ON matches (status, lo, hi)`)
	c.tryExec(`CREATE TABLE IF NOT EXISTS hist_accept (
		lo BIGINT NOT NULL, hi BIGINT NOT NULL, PRIMARY KEY (lo, hi))`)
	c.tryExec(`CREATE TABLE IF NOT EXISTS hist_recent (
		lo BIGINT NOT NULL, hi BIGINT NOT NULL,
		paired_at TIMESTAMPTZ NOT NULL, PRIMARY KEY (lo, hi))`)
}

/* participant rows */

func (c *SQLDB) PartCreateIfAbsent(pid uint64) {
	c.mustExec(`INSERT INTO participants (pid) VALUES ($1) ON CONFLICT (pid) DO NOTHING`, int64(pid))
}

func (c *SQLDB) PartCAS(pid uint64, from, to uint8) bool {
	tag, err := c.pool.Exec(c.ctx,
		`UPDATE participants SET state = $3 WHERE pid = $1 AND state = $2`,
		int64(pid), int16(from), int16(to))
	if err != nil {
		return false
	}
	return tag.RowsAffected() == 1
}

func (c *SQLDB) PartSetMatch(pid uint64, matchID uint64) {
	c.tryExec(`UPDATE participants SET match_id = $2 WHERE pid = $1`, int64(pid), int64(matchID))
}

func (c *SQLDB) PartTouch(pid uint64, now time.Time) {
	c.tryExec(`UPDATE participants SET last_active = $2 WHERE pid = $1`, int64(pid), now)
}

func (c *SQLDB) PartSetPrior(pid uint64, prior uint8, offlineAt time.Time) {
	c.tryExec(`UPDATE participants SET prior_state = $2, offline_at = $3 WHERE pid = $1`,
		int64(pid), int16(prior), offlineAt)
}

/* advisory participant locks */

func (c *SQLDB) TryAdvisoryLock(pid uint64) bool {
	conn, err := c.pool.Acquire(c.ctx)
	if err != nil {
		return false
	}
	var got bool
	err = conn.QueryRow(c.ctx, `SELECT pg_try_advisory_lock($1)`, int64(pid)).Scan(&got)
	if err != nil || !got {
		conn.Release()
		return false
	}
	c.lockConns.Store(pid, conn)
	return true
}

func (c *SQLDB) AdvisoryUnlock(pid uint64) {
	v, ok := c.lockConns.LoadAndDelete(pid)
	if !ok {
		return
	}
	conn := v.(*pgxpool.Conn)
	_, _ = conn.Exec(c.ctx, `SELECT pg_advisory_unlock($1)`, int64(pid))
	conn.Release()
}

/* queue */

func (c *SQLDB) QueueJoin(pid uint64, prefs Prefs, now time.Time) {
	c.tryExec(`INSERT INTO queue_entries
		(pid, joined_at, updated_at, age_min, age_max, max_dist, gender_pref)
		VALUES ($1, $2, $2, $3, $4, $5, $6) ON CONFLICT (pid) DO NOTHING`,
		int64(pid), now, prefs.AgeMin, prefs.AgeMax, prefs.MaxDist, int16(prefs.GenderPref))
}

func (c *SQLDB) QueueRemove(pid uint64) {
	c.tryExec(`DELETE FROM queue_entries WHERE pid = $1`, int64(pid))
}

func (c *SQLDB) QueueBoost(pid uint64, now time.Time) {
	c.tryExec(`UPDATE queue_entries SET boost_accum = boost_accum + $2, updated_at = $3 WHERE pid = $1`,
		int64(pid), configs.FairnessBoostValue, now)
}

func (c *SQLDB) QueueExpand(pid uint64, newStage int, now time.Time) {
	c.tryExec(`UPDATE queue_entries SET stage = GREATEST(stage, $2), updated_at = $3 WHERE pid = $1`,
		int64(pid), newStage, now)
}

func (c *SQLDB) QueueClearBoost(pid uint64) {
	c.tryExec(`UPDATE queue_entries SET boost_accum = 0 WHERE pid = $1`, int64(pid))
}

func (c *SQLDB) QueueUpdateFairness(pid uint64, fairness float64, now time.Time) {
	c.tryExec(`UPDATE queue_entries SET fairness = $2, updated_at = $3 WHERE pid = $1`,
		int64(pid), fairness, now)
}

// QueueScan reads up to limit entries in priority order, skipping rows other
// workers hold row locks on.
func (c *SQLDB) QueueScan(limit int) []QueueEntry {
	rows, err := c.pool.Query(c.ctx, `SELECT pid, joined_at, updated_at, fairness, stage,
		skip_count, boost_accum, age_min, age_max, max_dist, gender_pref
		FROM queue_entries ORDER BY fairness DESC, joined_at ASC
		LIMIT $1 FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil
	}
	defer rows.Close()
	res := make([]QueueEntry, 0, limit)
	for rows.Next() {
		var e QueueEntry
		var pid int64
		var pref int16
		if err := rows.Scan(&pid, &e.JoinedAt, &e.UpdatedAt, &e.Fairness, &e.Stage,
			&e.SkipCount, &e.BoostAccum, &e.Prefs.AgeMin, &e.Prefs.AgeMax,
			&e.Prefs.MaxDist, &pref); err != nil {
			continue
		}
		e.Pid = uint64(pid)
		e.Prefs.GenderPref = uint8(pref)
		res = append(res, e)
	}
	return res
}

/* matches */

func (c *SQLDB) MatchInsert(id uint64, a, b uint64, now time.Time) bool {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	_, err := c.pool.Exec(c.ctx,
		`INSERT INTO matches (id, lo, hi, status, created_at) VALUES ($1, $2, $3, 0, $4)`,
		int64(id), int64(lo), int64(hi), now)
	return err == nil
}

func (c *SQLDB) MatchSetStatus(id uint64, from, to uint8) bool {
	tag, err := c.pool.Exec(c.ctx,
		`UPDATE matches SET status = $3 WHERE id = $1 AND status = $2`,
		int64(id), int16(from), int16(to))
	return err == nil && tag.RowsAffected() == 1
}

func (c *SQLDB) MatchStartWindow(id uint64, start, expiry time.Time) {
	c.tryExec(`UPDATE matches SET window_start = $2, window_expiry = $3
		WHERE id = $1 AND window_start IS NULL`, int64(id), start, expiry)
}

func (c *SQLDB) MatchRecordVote(id uint64, pid uint64, vote uint8) {
	c.tryExec(`UPDATE matches SET vote_lo = CASE WHEN lo = $2 THEN $3 ELSE vote_lo END,
		vote_hi = CASE WHEN hi = $2 THEN $3 ELSE vote_hi END WHERE id = $1`,
		int64(id), int64(pid), int16(vote))
}

func (c *SQLDB) MatchSetOutcome(id uint64, outcome uint8) {
	c.tryExec(`UPDATE matches SET outcome = $2, status = 2 WHERE id = $1`,
		int64(id), int16(outcome))
}

func (c *SQLDB) MatchDelete(id uint64) {
	c.tryExec(`DELETE FROM matches WHERE id = $1`, int64(id))
}

/* history */

func (c *SQLDB) RecordMutualAccept(a, b uint64) {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	c.tryExec(`INSERT INTO hist_accept (lo, hi) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		int64(lo), int64(hi))
}

func (c *SQLDB) RecordPairing(a, b uint64, now time.Time) {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	c.tryExec(`INSERT INTO hist_recent (lo, hi, paired_at) VALUES ($1, $2, $3)
		ON CONFLICT (lo, hi) DO UPDATE SET paired_at = $3`, int64(lo), int64(hi), now)
}

func (c *SQLDB) PruneCooldown(before time.Time) {
	c.tryExec(`DELETE FROM hist_recent WHERE paired_at < $1`, before)
}
