package benchmark

import (
	"SDM/configs"
	"SDM/matcher"
	"SDM/storage"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/pingcap/go-ycsb/pkg/generator"
)

// SpinStmt drives a synthetic speed-dating population against one core:
// clients spin zipf-picked participants, acknowledge matches, and vote with
// a scripted yes-rate.
type SpinStmt struct {
	stmt       *matcher.Context
	dir        *matcher.StaticDirectory
	population int
	yesRate    float64
	stop       int32
}

type SpinClient struct {
	md   int
	from *SpinStmt
	r    *rand.Rand
	zip  *generator.Zipfian
}

func (stmt *SpinStmt) Stopped() bool {
	return atomic.LoadInt32(&stmt.stop) != 0
}

func (stmt *SpinStmt) Stop() {
	atomic.StoreInt32(&stmt.stop, 1)
	stmt.stmt.Stop()
}

// seedPopulation fills the directory with plausible profiles. Participant
// ids start at 1.
func (stmt *SpinStmt) seedPopulation(r *rand.Rand) {
	for i := 1; i <= stmt.population; i++ {
		gender := configs.GenderFemale
		if i%2 == 0 {
			gender = configs.GenderMale
		}
		pref := configs.PrefWomen
		if gender == configs.GenderFemale {
			pref = configs.PrefMen
		}
		if r.Float64() < 0.1 {
			pref = configs.PrefEither
		}
		age := 21 + r.Intn(30)
		stmt.dir.Put(&matcher.Profile{
			Pid:    uint64(i),
			Gender: gender,
			Age:    age,
			LocX:   r.Float64() * 50,
			LocY:   r.Float64() * 50,
			Prefs: storage.Prefs{
				AgeMin:     age - 5,
				AgeMax:     age + 5,
				MaxDist:    20 + r.Float64()*40,
				GenderPref: pref,
			},
		})
	}
}

func (c *SpinClient) step() {
	pid := uint64(c.zip.Next(c.r)) + 1
	ap := c.from.stmt.API
	status, err := ap.Status(pid)
	if err != nil {
		_, _ = ap.Spin(pid)
		return
	}
	_, _ = ap.Heartbeat(pid)
	switch status.State {
	case configs.StateName(configs.StateIdle):
		_, _ = ap.Spin(pid)
	case configs.StateName(configs.StatePaired):
		_, _ = ap.Ack(pid, status.MatchID)
	case configs.StateName(configs.StateVoteActive):
		vote := configs.VotePass
		if c.r.Float64() < c.from.yesRate {
			vote = configs.VoteYes
		}
		_, _ = ap.Vote(pid, status.MatchID, vote)
	}
	time.Sleep(time.Duration(10+c.r.Intn(40)) * time.Millisecond)
}

func (stmt *SpinStmt) startSpinClient(seed int, md int) {
	client := SpinClient{md: md, from: stmt}
	client.r = rand.New(rand.NewSource(int64(seed)*11 + 31))
	client.zip = generator.NewZipfianWithRange(0, int64(stmt.population-1), 0.7)
	for !stmt.Stopped() {
		client.step()
	}
}

// SpinTest runs the load for runFor and prints one aggregated stat line.
func (stmt *SpinStmt) SpinTest(storeType string, population int, runFor time.Duration) {
	stmt.population = population
	stmt.yesRate = 0.4
	dir := matcher.NewStaticDirectory()
	stmt.dir = dir
	stmt.stmt = matcher.NewContext("bench", storeType, dir)
	stmt.seedPopulation(rand.New(rand.NewSource(1234)))
	stmt.stmt.Run()
	for i := 0; i < configs.ClientRoutineNumber; i++ {
		go stmt.startSpinClient(i*11+13, i)
	}
	configs.TPrintf("All clients Started")
	stmt.stmt.Stat().Clear()
	time.Sleep(runFor)
	stmt.stmt.Stat().Log()
	stmt.stmt.Stat().Clear()
}
