package matcher

import (
	"SDM/configs"
	"SDM/storage"
	"testing"
	"time"

	"github.com/magiconair/properties/assert"
	tassert "github.com/stretchr/testify/assert"
)

func TestFairnessFormula(t *testing.T) {
	now := time.Now()
	e := &storage.QueueEntry{
		JoinedAt:  now.Add(-100 * time.Second),
		SkipCount: 2,
		Prefs:     storage.Prefs{AgeMin: 20, AgeMax: 60, MaxDist: 100},
	}
	// base_wait 10, skips 100, narrowness 1 -> no penalty, queue of 10 ->
	// no density boost, no boosts accumulated.
	got := FairnessScore(e, 10, now)
	assert.Equal(t, got, 110.0)

	// a thin queue adds density boost.
	got = FairnessScore(e, 4, now)
	assert.Equal(t, got, 170.0)

	// boosts ride on top.
	e.BoostAccum = 20
	got = FairnessScore(e, 10, now)
	assert.Equal(t, got, 130.0)
}

func TestFairnessCaps(t *testing.T) {
	now := time.Now()
	e := &storage.QueueEntry{
		JoinedAt:  now.Add(-3 * time.Hour),
		SkipCount: 100,
		Prefs:     storage.Prefs{AgeMin: 20, AgeMax: 60, MaxDist: 100},
	}
	// base_wait caps at 500, skip penalty at 300.
	got := FairnessScore(e, 10, now)
	assert.Equal(t, got, 800.0)
}

func TestNarrowPreferencePenalty(t *testing.T) {
	now := time.Now()
	e := &storage.QueueEntry{
		JoinedAt: now,
		Prefs:    storage.Prefs{AgeMin: 30, AgeMax: 30, MaxDist: 0},
	}
	// the tightest preferences earn the full penalty.
	got := FairnessScore(e, 10, now)
	assert.Equal(t, got, 100.0)
}

func TestStageForWait(t *testing.T) {
	assert.Equal(t, StageForWait(0), 0)
	assert.Equal(t, StageForWait(configs.ExpandStage1After-time.Millisecond), 0)
	assert.Equal(t, StageForWait(configs.ExpandStage1After), 1)
	assert.Equal(t, StageForWait(configs.ExpandStage2After), 2)
	assert.Equal(t, StageForWait(configs.ExpandStage3After), 3)
}

func TestEffectivePrefsWiden(t *testing.T) {
	p := storage.Prefs{AgeMin: 25, AgeMax: 35, MaxDist: 10}
	s1 := EffectivePrefs(p, 1)
	assert.Equal(t, s1.AgeMin, 23)
	assert.Equal(t, s1.AgeMax, 37)
	assert.Equal(t, s1.MaxDist, 12.0)

	s2 := EffectivePrefs(p, 2)
	assert.Equal(t, s2.AgeMin, 20)
	assert.Equal(t, s2.AgeMax, 40)
	assert.Equal(t, s2.MaxDist, 15.0)

	s3 := EffectivePrefs(p, 3)
	tassert.True(t, s3.AgeMax > 1000)
	tassert.True(t, s3.MaxDist > 1e100)
}

func TestRefreshFairnessMonotone(t *testing.T) {
	stmt, _ := TestKit("fair_test")
	s := stmt.Store()
	s.PartCreateIfAbsent(1)
	tassert.True(t, s.PartCAS(1, configs.StateIdle, configs.StateSpinActive))
	tassert.Nil(t, s.QueueJoin(1, storage.Prefs{AgeMin: 20, AgeMax: 60, MaxDist: 100}))

	prev := -1.0
	for i := 0; i < 5; i++ {
		got, ok := RefreshFairness(stmt, 1, time.Now())
		tassert.True(t, ok)
		tassert.True(t, got >= prev)
		prev = got
	}
	// a shrinking density boost must not lower the stored score.
	for pid := uint64(2); pid <= 12; pid++ {
		s.PartCreateIfAbsent(pid)
		tassert.True(t, s.PartCAS(pid, configs.StateIdle, configs.StateSpinActive))
		tassert.Nil(t, s.QueueJoin(pid, storage.Prefs{AgeMin: 20, AgeMax: 60, MaxDist: 100}))
	}
	got, ok := RefreshFairness(stmt, 1, time.Now())
	tassert.True(t, ok)
	tassert.True(t, got >= prev)
}

func TestRefreshAppliesExpansion(t *testing.T) {
	stmt, _ := TestKit("fair_test")
	s := stmt.Store()
	s.PartCreateIfAbsent(1)
	tassert.True(t, s.PartCAS(1, configs.StateIdle, configs.StateSpinActive))
	tassert.Nil(t, s.QueueJoin(1, storage.Prefs{AgeMin: 20, AgeMax: 30, MaxDist: 10}))

	RefreshFairness(stmt, 1, time.Now().Add(configs.ExpandStage1After))
	e, _ := s.QueueGet(1)
	assert.Equal(t, e.Stage, 1)

	RefreshFairness(stmt, 1, time.Now().Add(configs.ExpandStage3After))
	e, _ = s.QueueGet(1)
	assert.Equal(t, e.Stage, 3)
}
