package utils

import (
	"SDM/configs"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

type Stat struct {
	mu        *sync.Mutex
	spinInfos []*Info
	beginTS   int
	endTS     int
	beginTime time.Time
	endTime   time.Time
}

func NewStat() *Stat {
	res := &Stat{
		spinInfos: make([]*Info, configs.MaxSpinInfo),
		mu:        &sync.Mutex{},
		beginTS:   0,
		endTS:     0,
		beginTime: time.Now(),
		endTime:   time.Now(),
	}
	return res
}

func (st *Stat) Append(info *Info) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.endTS++
	st.endTime = time.Now()
	st.spinInfos[st.endTS] = info
}

func (st *Stat) Range() {
	st.mu.Lock()
	defer st.mu.Unlock()
	if configs.ProfileStore {
		println(st.beginTS, st.endTS)
		fmt.Printf("Time range [%v  ----  %v]\n", st.beginTime.String(), st.endTime.String())
	}
}

// Log prints one aggregated line over the spins collected since Clear.
func (st *Stat) Log() {
	st.mu.Lock()
	defer st.mu.Unlock()
	spinCnt, paired, tier3, lockRetry, scanned, expired := 0, 0, 0, 0, 0, 0
	latencySum := 0
	latencies := make([]int, 0)
	for i := st.beginTS; i <= st.endTS; i++ {
		if st.spinInfos[i] != nil {
			tmp := st.spinInfos[i]
			spinCnt++
			lockRetry += tmp.LockRetries
			scanned += tmp.CandidatesScanned
			if tmp.IsPaired {
				paired++
				if tmp.TierReached == 3 {
					tier3++
				}
			}
			if tmp.WindowExpired {
				expired++
			}
			if tmp.Latency > 0 {
				latencySum += int(tmp.Latency)
				latencies = append(latencies, int(tmp.Latency))
			}
		}
	}
	msg := "spin_cnt:" + strconv.Itoa(spinCnt) + ";"
	msg += "paired:" + strconv.Itoa(paired) + ";"
	msg += "tier3_paired:" + strconv.Itoa(tier3) + ";"
	msg += "client:" + strconv.Itoa(configs.ClientRoutineNumber) + ";"
	msg += "lock_retry:" + strconv.Itoa(lockRetry) + ";"
	msg += "scanned:" + strconv.Itoa(scanned) + ";"
	msg += "window_expired:" + strconv.Itoa(expired) + ";"
	sort.Ints(latencies)
	if len(latencies) > 0 {
		i := configs.Min((len(latencies)*99+99)/100, len(latencies)-1)
		msg += "p99_latency:" + time.Duration(int64(latencies[i])).String() + ";"
		i = configs.Min((len(latencies)*9+9)/10, len(latencies)-1)
		msg += "p90_latency:" + time.Duration(int64(latencies[i])).String() + ";"
		i = configs.Min((len(latencies)+1)/2, len(latencies)-1)
		msg += "p50_latency:" + time.Duration(int64(latencies[i])).String() + ";"
		msg += "ave_latency:" + time.Duration(int64(float64(latencySum)/float64(len(latencies)))).String() + ";"
	} else {
		msg += "p99_latency:nil;"
		msg += "p90_latency:nil;"
		msg += "p50_latency:nil;"
		msg += "ave_latency:nil;"
	}
	fmt.Println(msg)
}

func (st *Stat) Clear() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.beginTS = st.endTS + 1
	st.beginTime = time.Now()
}

// Info records one spin attempt end to end.
type Info struct {
	Pid               uint64
	IsPaired          bool
	TierReached       int
	CandidatesScanned int
	LockRetries       int
	PairAttempts      int
	WindowExpired     bool
	Latency           time.Duration
}

func NewInfo(pid uint64) *Info {
	res := &Info{
		Pid: pid, IsPaired: false, TierReached: 0,
		CandidatesScanned: 0, LockRetries: 0, PairAttempts: 0, Latency: 0,
	}
	return res
}
