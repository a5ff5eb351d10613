package matcher

import (
	"SDM/configs"
	"SDM/utils"
	"context"
	"testing"
	"time"

	"github.com/magiconair/properties/assert"
	tassert "github.com/stretchr/testify/assert"
)

func spinOK(t *testing.T, stmt *Context, pid uint64) {
	verdict, err := stmt.API.Spin(pid)
	tassert.Nil(t, err)
	assert.Equal(t, verdict, utils.VerdictKeepPoll)
}

// Two compatible participants spin and end up in one canonical match that
// walks paired -> vote_active.
func TestSpinToVoteActiveFlow(t *testing.T) {
	stmt, dir := TestKit("api_test")
	dir.Put(woman(1, 28))
	dir.Put(man(2, 30))

	spinOK(t, stmt, 1)
	spinOK(t, stmt, 2)
	stmt.Orch.Cycle(context.Background())

	st1, err := stmt.API.Status(1)
	tassert.Nil(t, err)
	st2, err := stmt.API.Status(2)
	tassert.Nil(t, err)
	assert.Equal(t, st1.State, "paired")
	assert.Equal(t, st2.State, "paired")
	assert.Equal(t, st1.MatchID, st2.MatchID)
	assert.Equal(t, st1.Partner, uint64(2))

	rec, ok := stmt.Store().MatchGet(st1.MatchID)
	tassert.True(t, ok)
	assert.Equal(t, rec.Lo, uint64(1))
	assert.Equal(t, rec.Hi, uint64(2))

	_, err = stmt.API.Ack(1, st1.MatchID)
	tassert.Nil(t, err)
	_, err = stmt.API.Ack(2, st1.MatchID)
	tassert.Nil(t, err)
	st1, _ = stmt.API.Status(1)
	assert.Equal(t, st1.State, "vote_active")
	tassert.False(t, st1.WindowExpiry.IsZero())
}

func TestSpinValidation(t *testing.T) {
	stmt, dir := TestKit("api_test")
	// no profile on record.
	_, err := stmt.API.Spin(404)
	assert.Equal(t, err, utils.ErrNotFound)

	dir.Put(woman(1, 28))
	spinOK(t, stmt, 1)
	// immediate re-spin trips the rate limit; a later one is idempotent.
	_, err = stmt.API.Spin(1)
	assert.Equal(t, err, utils.ErrRateLimited)
	time.Sleep(600 * time.Millisecond)
	verdict, err := stmt.API.Spin(1)
	tassert.Nil(t, err)
	assert.Equal(t, verdict, utils.VerdictKeepPoll)
	assert.Equal(t, stmt.Store().QueueLen(), 1)
}

func TestLeaveCleansUp(t *testing.T) {
	stmt, dir := TestKit("api_test")
	dir.Put(woman(1, 28))
	spinOK(t, stmt, 1)
	_, err := stmt.API.Leave(1)
	tassert.Nil(t, err)
	assert.Equal(t, stateOf(t, stmt, 1), configs.StateIdle)
	assert.Equal(t, stmt.Store().QueueLen(), 0)
}

func TestLeaveCancelsMatch(t *testing.T) {
	stmt, dir := TestKit("api_test")
	seedWaiting(t, stmt, dir, woman(1, 28))
	seedWaiting(t, stmt, dir, man(2, 30))
	id := pairUp(t, stmt, 1, 2)

	_, err := stmt.API.Leave(1)
	tassert.Nil(t, err)
	assert.Equal(t, stateOf(t, stmt, 1), configs.StateIdle)
	rec, _ := stmt.Store().MatchGet(id)
	assert.Equal(t, rec.Outcome, configs.OutcomeCancel)
	// partner back in rotation with the fixed compensation.
	assert.Equal(t, stateOf(t, stmt, 2), configs.StateSpinActive)
	e, _ := stmt.Store().QueueGet(2)
	assert.Equal(t, e.BoostAccum, 10.0)
}

func TestStatusReportsQueueFields(t *testing.T) {
	stmt, dir := TestKit("api_test")
	dir.Put(woman(1, 28))
	spinOK(t, stmt, 1)
	stmt.Store().QueueBoost(1)
	RefreshFairness(stmt, 1, time.Now())

	st, err := stmt.API.Status(1)
	tassert.Nil(t, err)
	tassert.True(t, st.Fairness >= 10.0)
	assert.Equal(t, st.QueueSize, 1)

	_, err = stmt.API.Status(404)
	assert.Equal(t, err, utils.ErrNotFound)
}

// Round-trip: spin -> pair -> pass_pass -> both return to a matchable state
// with boost consumption semantics intact.
func TestRoundTripPassPass(t *testing.T) {
	stmt, dir := TestKit("api_test")
	dir.Put(woman(1, 28))
	dir.Put(man(2, 30))
	spinOK(t, stmt, 1)
	spinOK(t, stmt, 2)
	stmt.Orch.Cycle(context.Background())

	st1, _ := stmt.API.Status(1)
	assert.Equal(t, st1.State, "paired")
	id := st1.MatchID
	_, _ = stmt.API.Ack(1, id)
	_, _ = stmt.API.Ack(2, id)
	_, err := stmt.API.Vote(1, id, configs.VotePass)
	tassert.Nil(t, err)
	_, err = stmt.API.Vote(2, id, configs.VotePass)
	tassert.Nil(t, err)

	for _, pid := range []uint64{1, 2} {
		assert.Equal(t, stateOf(t, stmt, pid), configs.StateSpinActive)
		e, queued := stmt.Store().QueueGet(pid)
		tassert.True(t, queued)
		assert.Equal(t, e.BoostAccum, 0.0)
	}
	// the cooldown keeps them apart on the strict tiers.
	_, found := stmt.Sel.BestCandidate(1, 1, nil, false, nil)
	tassert.False(t, found)
}

func TestHeartbeatEndpoint(t *testing.T) {
	stmt, dir := TestKit("api_test")
	dir.Put(woman(1, 28))
	spinOK(t, stmt, 1)
	before := time.Now()
	verdict, err := stmt.API.Heartbeat(1)
	tassert.Nil(t, err)
	assert.Equal(t, verdict, utils.VerdictOK)
	row, _ := stmt.Store().PartGet(1)
	tassert.True(t, !row.Snapshot().LastActive.Before(before.Add(-time.Second)))
}

func TestVoteEndpointMapsVerdicts(t *testing.T) {
	stmt, dir := TestKit("api_test")
	seedWaiting(t, stmt, dir, woman(1, 28))
	seedWaiting(t, stmt, dir, man(2, 30))
	id := pairUp(t, stmt, 1, 2)

	verdict, err := stmt.API.Vote(1, id, configs.VoteYes)
	assert.Equal(t, err, utils.ErrInvalidTransition)
	assert.Equal(t, verdict, utils.VerdictInvalidNow)

	verdict, _ = stmt.API.Vote(1, 999999, configs.VoteYes)
	assert.Equal(t, verdict, utils.VerdictInvalidNow)
}
