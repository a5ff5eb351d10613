package matcher

import (
	"SDM/configs"
	"SDM/storage"
	"testing"
	"time"

	"github.com/magiconair/properties/assert"
	tassert "github.com/stretchr/testify/assert"
)

func TestGuardianResetsGhostPaired(t *testing.T) {
	stmt, dir := TestKit("guard_test")
	seedWaiting(t, stmt, dir, woman(1, 28))
	// force the broken shape: paired with no match record behind it.
	tassert.Nil(t, stmt.SM.Transition(1, configs.StatePaired, "test"))
	stmt.Store().QueueRemove(1, "test")

	stmt.Guard.RunAll()
	assert.Equal(t, stateOf(t, stmt, 1), configs.StateSpinActive)
	_, queued := stmt.Store().QueueGet(1)
	tassert.True(t, queued)
}

func TestGuardianTerminatesOrphanMatch(t *testing.T) {
	stmt, dir := TestKit("guard_test")
	seedWaiting(t, stmt, dir, woman(1, 28))
	seedWaiting(t, stmt, dir, man(2, 30))
	id := pairUp(t, stmt, 1, 2)
	// one side drifts out of the pair states behind the engine's back.
	tassert.True(t, stmt.Store().PartCAS(1, configs.StatePaired, configs.StateIdle))

	stmt.Guard.RunAll()
	rec, _ := stmt.Store().MatchGet(id)
	assert.Equal(t, rec.Outcome, configs.OutcomeCancel)
	tassert.False(t, rec.NonTerminal())
}

func TestGuardianResolvesExpiredWindow(t *testing.T) {
	oldWindow := configs.VoteWindow
	configs.VoteWindow = 50 * time.Millisecond
	defer func() { configs.VoteWindow = oldWindow }()

	stmt, dir := TestKit("guard_test")
	seedWaiting(t, stmt, dir, woman(1, 28))
	seedWaiting(t, stmt, dir, man(2, 30))
	id := pairUp(t, stmt, 1, 2)
	openWindow(t, stmt, id, 1, 2)
	tassert.Nil(t, stmt.Votes.Vote(1, id, configs.VotePass))

	time.Sleep(100 * time.Millisecond)
	stmt.Guard.RunAll()
	rec, _ := stmt.Store().MatchGet(id)
	assert.Equal(t, rec.Outcome, configs.OutcomePassIdle)
	// the pass side re-spins without a boost.
	assert.Equal(t, stateOf(t, stmt, 1), configs.StateSpinActive)
	e, _ := stmt.Store().QueueGet(1)
	assert.Equal(t, e.BoostAccum, 0.0)
	assert.Equal(t, stateOf(t, stmt, 2), configs.StateIdle)
}

func TestGuardianFiresRevealTimer(t *testing.T) {
	oldTimer := configs.RevealStartTimer
	configs.RevealStartTimer = 30 * time.Millisecond
	defer func() { configs.RevealStartTimer = oldTimer }()

	stmt, dir := TestKit("guard_test")
	seedWaiting(t, stmt, dir, woman(1, 28))
	seedWaiting(t, stmt, dir, man(2, 30))
	id := pairUp(t, stmt, 1, 2)
	tassert.Nil(t, stmt.Votes.Ack(1, id))

	time.Sleep(60 * time.Millisecond)
	stmt.Guard.RunAll()
	rec, _ := stmt.Store().MatchGet(id)
	assert.Equal(t, rec.Status, configs.MatchVoteActive)
	assert.Equal(t, stateOf(t, stmt, 1), configs.StateVoteActive)
	assert.Equal(t, stateOf(t, stmt, 2), configs.StateVoteActive)
}

func TestGuardianRemovesStaleQueueEntries(t *testing.T) {
	stmt, dir := TestKit("guard_test")
	seedWaiting(t, stmt, dir, woman(1, 28))
	// a leave that somehow skipped queue cleanup.
	tassert.Nil(t, stmt.SM.Transition(1, configs.StateIdle, "test"))

	stmt.Guard.RunAll()
	assert.Equal(t, stmt.Store().QueueLen(), 0)
}

func TestGuardianEnforcesExpansionStage(t *testing.T) {
	stmt, dir := TestKit("guard_test")
	seedWaiting(t, stmt, dir, woman(1, 28))
	// drive the stage through the refresh path the guardian uses, with the
	// clock advanced past the second threshold.
	RefreshFairness(stmt, 1, time.Now().Add(configs.ExpandStage2After))
	entry, _ := stmt.Store().QueueGet(1)
	assert.Equal(t, entry.Stage, 2)

	stmt.Guard.RunAll()
	entry, _ = stmt.Store().QueueGet(1)
	tassert.True(t, entry.Stage >= 2)
}

func TestGuardianIdempotent(t *testing.T) {
	stmt, dir := TestKit("guard_test")
	seedWaiting(t, stmt, dir, woman(1, 28))
	seedWaiting(t, stmt, dir, man(2, 30))
	pairUp(t, stmt, 1, 2)

	stmt.Guard.RunAll()
	stmt.Guard.RunAll()
	// a healthy pair survives repeated reconciliation untouched.
	assert.Equal(t, stateOf(t, stmt, 1), configs.StatePaired)
	assert.Equal(t, stateOf(t, stmt, 2), configs.StatePaired)
	count := 0
	stmt.Store().MatchList(func(rec storage.MatchRecord) bool {
		if rec.NonTerminal() {
			count++
		}
		return true
	})
	assert.Equal(t, count, 1)
}
