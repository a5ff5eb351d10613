package matcher

import (
	"SDM/configs"
	"SDM/storage"
	"testing"

	tassert "github.com/stretchr/testify/assert"
)

// seedWaiting registers a profile and puts the participant into the queue in
// spin_active, the way a spin request would.
func seedWaiting(t *testing.T, stmt *Context, dir *StaticDirectory, p *Profile) {
	if p.Prefs.AgeMax == 0 {
		p.Prefs = storage.Prefs{AgeMin: p.Age - 5, AgeMax: p.Age + 5, MaxDist: 50, GenderPref: configs.PrefEither}
	}
	dir.Put(p)
	stmt.Store().PartCreateIfAbsent(p.Pid)
	tassert.True(t, stmt.Store().PartCAS(p.Pid, configs.StateIdle, configs.StateSpinActive))
	tassert.Nil(t, stmt.Store().QueueJoin(p.Pid, p.Prefs))
}

func woman(pid uint64, age int) *Profile {
	return &Profile{Pid: pid, Gender: configs.GenderFemale, Age: age,
		Prefs: storage.Prefs{AgeMin: age - 5, AgeMax: age + 5, MaxDist: 50, GenderPref: configs.PrefMen}}
}

func man(pid uint64, age int) *Profile {
	return &Profile{Pid: pid, Gender: configs.GenderMale, Age: age,
		Prefs: storage.Prefs{AgeMin: age - 5, AgeMax: age + 5, MaxDist: 50, GenderPref: configs.PrefWomen}}
}

func pairUp(t *testing.T, stmt *Context, a, b uint64) uint64 {
	id, err := stmt.Creator.TryCreate(a, b, 1, nil)
	tassert.Nil(t, err)
	tassert.NotZero(t, id)
	return id
}

// openWindow acks both sides so the vote window starts.
func openWindow(t *testing.T, stmt *Context, id uint64, a, b uint64) {
	tassert.Nil(t, stmt.Votes.Ack(a, id))
	tassert.Nil(t, stmt.Votes.Ack(b, id))
	rec, ok := stmt.Store().MatchGet(id)
	tassert.True(t, ok)
	tassert.Equal(t, configs.MatchVoteActive, rec.Status)
}

func stateOf(t *testing.T, stmt *Context, pid uint64) uint8 {
	state, ok := stmt.Store().PartState(pid)
	tassert.True(t, ok)
	return state
}
