package matcher

import (
	"SDM/configs"
	"SDM/utils"
	"testing"
	"time"

	"github.com/magiconair/properties/assert"
	tassert "github.com/stretchr/testify/assert"
)

func TestVoteBothYes(t *testing.T) {
	stmt, dir := TestKit("vote_test")
	seedWaiting(t, stmt, dir, woman(1, 28))
	seedWaiting(t, stmt, dir, man(2, 30))
	id := pairUp(t, stmt, 1, 2)
	openWindow(t, stmt, id, 1, 2)

	tassert.Nil(t, stmt.Votes.Vote(1, id, configs.VoteYes))
	tassert.Nil(t, stmt.Votes.Vote(2, id, configs.VoteYes))

	rec, _ := stmt.Store().MatchGet(id)
	assert.Equal(t, rec.Outcome, configs.OutcomeBothYes)
	assert.Equal(t, stateOf(t, stmt, 1), configs.StateVideoDate)
	assert.Equal(t, stateOf(t, stmt, 2), configs.StateVideoDate)
	tassert.True(t, stmt.Store().WasMutualAccept(1, 2))

	// mutual acceptors can never pair again.
	mid, err := stmt.Creator.TryCreate(1, 2, 3, nil)
	tassert.Nil(t, err)
	assert.Equal(t, mid, uint64(0))
}

func TestVoteYesPass(t *testing.T) {
	stmt, dir := TestKit("vote_test")
	seedWaiting(t, stmt, dir, woman(1, 28))
	seedWaiting(t, stmt, dir, man(2, 30))
	id := pairUp(t, stmt, 1, 2)
	openWindow(t, stmt, id, 1, 2)

	tassert.Nil(t, stmt.Votes.Vote(1, id, configs.VoteYes))
	tassert.Nil(t, stmt.Votes.Vote(2, id, configs.VotePass))

	rec, _ := stmt.Store().MatchGet(id)
	assert.Equal(t, rec.Outcome, configs.OutcomeYesPass)
	// the yes side re-spins with the fixed boost, exactly +10.
	assert.Equal(t, stateOf(t, stmt, 1), configs.StateSpinActive)
	e, queued := stmt.Store().QueueGet(1)
	tassert.True(t, queued)
	assert.Equal(t, e.BoostAccum, 10.0)
	// the pass side needs a manual respin.
	assert.Equal(t, stateOf(t, stmt, 2), configs.StateIdle)
	tassert.True(t, stmt.Store().WithinCooldown(1, 2, time.Now()))
	tassert.False(t, stmt.Store().WasMutualAccept(1, 2))
}

func TestVotePassPass(t *testing.T) {
	stmt, dir := TestKit("vote_test")
	seedWaiting(t, stmt, dir, woman(1, 28))
	seedWaiting(t, stmt, dir, man(2, 30))
	id := pairUp(t, stmt, 1, 2)
	openWindow(t, stmt, id, 1, 2)

	tassert.Nil(t, stmt.Votes.Vote(1, id, configs.VotePass))
	tassert.Nil(t, stmt.Votes.Vote(2, id, configs.VotePass))

	rec, _ := stmt.Store().MatchGet(id)
	assert.Equal(t, rec.Outcome, configs.OutcomePassPass)
	for _, pid := range []uint64{1, 2} {
		assert.Equal(t, stateOf(t, stmt, pid), configs.StateSpinActive)
		e, queued := stmt.Store().QueueGet(pid)
		tassert.True(t, queued)
		assert.Equal(t, e.BoostAccum, 0.0)
	}
}

func TestVoteReplayIdempotent(t *testing.T) {
	stmt, dir := TestKit("vote_test")
	seedWaiting(t, stmt, dir, woman(1, 28))
	seedWaiting(t, stmt, dir, man(2, 30))
	id := pairUp(t, stmt, 1, 2)
	openWindow(t, stmt, id, 1, 2)

	tassert.Nil(t, stmt.Votes.Vote(1, id, configs.VoteYes))
	tassert.Nil(t, stmt.Votes.Vote(1, id, configs.VoteYes))
	tassert.Nil(t, stmt.Votes.Vote(2, id, configs.VotePass))
	rec, _ := stmt.Store().MatchGet(id)
	assert.Equal(t, rec.Outcome, configs.OutcomeYesPass)

	// replaying after resolution keeps the same outcome.
	tassert.Nil(t, stmt.Votes.Vote(1, id, configs.VoteYes))
	rec, _ = stmt.Store().MatchGet(id)
	assert.Equal(t, rec.Outcome, configs.OutcomeYesPass)
	e, _ := stmt.Store().QueueGet(1)
	assert.Equal(t, e.BoostAccum, 10.0)
}

func TestVoteWindowExpiryResolvesIdle(t *testing.T) {
	oldWindow := configs.VoteWindow
	configs.VoteWindow = 50 * time.Millisecond
	defer func() { configs.VoteWindow = oldWindow }()

	stmt, dir := TestKit("vote_test")
	seedWaiting(t, stmt, dir, woman(1, 28))
	seedWaiting(t, stmt, dir, man(2, 30))
	id := pairUp(t, stmt, 1, 2)
	openWindow(t, stmt, id, 1, 2)

	tassert.Nil(t, stmt.Votes.Vote(1, id, configs.VoteYes))
	time.Sleep(100 * time.Millisecond)
	stmt.Votes.ResolveExpired(id)

	rec, _ := stmt.Store().MatchGet(id)
	assert.Equal(t, rec.Outcome, configs.OutcomeYesIdle)
	assert.Equal(t, stateOf(t, stmt, 1), configs.StateSpinActive)
	e, _ := stmt.Store().QueueGet(1)
	assert.Equal(t, e.BoostAccum, 10.0)
	assert.Equal(t, stateOf(t, stmt, 2), configs.StateIdle)
}

func TestVoteAfterExpiryCountsIdle(t *testing.T) {
	oldWindow := configs.VoteWindow
	configs.VoteWindow = 50 * time.Millisecond
	defer func() { configs.VoteWindow = oldWindow }()

	stmt, dir := TestKit("vote_test")
	seedWaiting(t, stmt, dir, woman(1, 28))
	seedWaiting(t, stmt, dir, man(2, 30))
	id := pairUp(t, stmt, 1, 2)
	openWindow(t, stmt, id, 1, 2)

	time.Sleep(100 * time.Millisecond)
	err := stmt.Votes.Vote(1, id, configs.VoteYes)
	assert.Equal(t, err, utils.ErrWindowExpired)
	rec, _ := stmt.Store().MatchGet(id)
	assert.Equal(t, rec.Outcome, configs.OutcomeIdleIdle)
	assert.Equal(t, stateOf(t, stmt, 1), configs.StateIdle)
	assert.Equal(t, stateOf(t, stmt, 2), configs.StateIdle)
}

func TestVoteValidation(t *testing.T) {
	stmt, dir := TestKit("vote_test")
	seedWaiting(t, stmt, dir, woman(1, 28))
	seedWaiting(t, stmt, dir, man(2, 30))
	seedWaiting(t, stmt, dir, man(3, 29))
	id := pairUp(t, stmt, 1, 2)

	// voting before the window opens is rejected.
	err := stmt.Votes.Vote(1, id, configs.VoteYes)
	assert.Equal(t, err, utils.ErrInvalidTransition)
	// outsiders and unknown matches surface NotFound.
	assert.Equal(t, stmt.Votes.Vote(3, id, configs.VoteYes), utils.ErrNotFound)
	assert.Equal(t, stmt.Votes.Vote(1, 424242, configs.VoteYes), utils.ErrNotFound)
}

func TestCancelCompensatesPartner(t *testing.T) {
	stmt, dir := TestKit("vote_test")
	seedWaiting(t, stmt, dir, woman(1, 28))
	seedWaiting(t, stmt, dir, man(2, 30))
	id := pairUp(t, stmt, 1, 2)

	stmt.Votes.Cancel(id, 1, "leave")
	rec, _ := stmt.Store().MatchGet(id)
	assert.Equal(t, rec.Outcome, configs.OutcomeCancel)
	assert.Equal(t, rec.Status, configs.MatchEnded)
	// the partner returns to the queue with the fixed boost.
	assert.Equal(t, stateOf(t, stmt, 2), configs.StateSpinActive)
	e, queued := stmt.Store().QueueGet(2)
	tassert.True(t, queued)
	assert.Equal(t, e.BoostAccum, 10.0)
}
