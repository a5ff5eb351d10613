package configs

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/magiconair/properties"
)

// PPrintf logs a participant-scoped debug line.
func PPrintf(pid uint64, format string, a ...interface{}) {
	if ShowDebugInfo {
		if !LogToFile {
			fmt.Printf(time.Now().Format("15:04:05.00")+" <---> "+"PID"+strconv.FormatUint(pid, 10)+":"+format+"\n", a...)
		} else {
			log.Printf(time.Now().Format("15:04:05.00")+" <---> "+"PID"+strconv.FormatUint(pid, 10)+":"+format+"\n", a...)
		}
	}
}

func DPrintf(format string, a ...interface{}) {
	if ShowDebugInfo {
		if !LogToFile {
			fmt.Printf(time.Now().Format("15:04:05.00")+" <---> "+format+"\n", a...)
		} else {
			log.Printf(time.Now().Format("15:04:05.00")+" <---> "+format+"\n", a...)
		}
	}
}

func TPrintf(format string, a ...interface{}) {
	if ShowTestInfo {
		if !LogToFile {
			fmt.Printf(time.Now().Format("15:04:05.00")+" <---> "+format+"\n", a...)
		} else {
			log.Printf(time.Now().Format("15:04:05.00")+" <---> "+format+"\n", a...)
		}
	}
}

func TimeTrack(start time.Time, name string, pid uint64) {
	tim := time.Since(start).String()
	TPrintf("PID" + strconv.FormatUint(pid, 10) + ": Time cost for " + name + " : " + tim)
}

func TimeLoad(start time.Time, name string, pid uint64, latency *time.Duration) {
	if latency == nil {
		return
	}
	if start.IsZero() {
		return
	}
	*latency = time.Since(start)
	TPrintf("PID" + strconv.FormatUint(pid, 10) + ": Time cost for " + name + " : " + (*latency).String())
}

func JToString(v interface{}) string {
	byt, _ := json.Marshal(v)
	return string(byt)
}

func JPrint(v interface{}) {
	byt, _ := json.Marshal(v)
	fmt.Println(string(byt))
}

// PairHash keys a canonical pair for history and advisory lock names.
func PairHash(a, b uint64) string {
	if a > b {
		a, b = b, a
	}
	return strconv.FormatUint(a, 10) + "_" + strconv.FormatUint(b, 10)
}

func Assert(cond bool, msg string) bool {
	if !cond {
		panic("[ERROR] Assert error at " + msg + "\n")
	}
	return cond
}

func Warn(cond bool, msg string) bool {
	if ShowWarnings && !cond {
		if !LogToFile {
			fmt.Printf("[WARNING] :" + msg + "\n")
		} else {
			log.Printf("[WARNING] :" + msg + "\n")
		}
	}
	return cond
}

func CheckError(err error) {
	if err != nil {
		panic(err.Error())
	}
}

// LoadProperties overrides matchmaking parameters from the properties file at
// ConfigFileLocation. Missing file keeps the defaults.
func LoadProperties() {
	p, err := properties.LoadFile(ConfigFileLocation, properties.UTF8)
	if err != nil {
		DPrintf("no properties file at %v, defaults kept", ConfigFileLocation)
		return
	}
	VoteWindow = p.GetParsedDuration("vote_window", VoteWindow)
	OfflineThreshold = p.GetParsedDuration("offline_threshold", OfflineThreshold)
	GracePeriod = p.GetParsedDuration("grace_period", GracePeriod)
	Cooldown = p.GetParsedDuration("cooldown", Cooldown)
	OrchestratorInterval = p.GetParsedDuration("orchestrator_interval", OrchestratorInterval)
	GuardianInterval = p.GetParsedDuration("guardian_interval", GuardianInterval)
	PairLockRetries = p.GetInt("pair_lock_retries", PairLockRetries)
	PairLockBackoffInit = p.GetParsedDuration("pair_lock_backoff_initial", PairLockBackoffInit)
	PairLockBackoffCap = p.GetParsedDuration("pair_lock_backoff_cap", PairLockBackoffCap)
	TierCandidateCap = p.GetInt("tier_candidate_cap", TierCandidateCap)
	TierScanCap = p.GetInt("tier_scan_cap", TierScanCap)
	ExpandStage1After = p.GetParsedDuration("expand_stage1_after", ExpandStage1After)
	ExpandStage2After = p.GetParsedDuration("expand_stage2_after", ExpandStage2After)
	ExpandStage3After = p.GetParsedDuration("expand_stage3_after", ExpandStage3After)
	// The boost magnitude is deliberately not configurable.
}
