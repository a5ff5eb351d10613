package main

import (
	"SDM/benchmark"
	"SDM/configs"
	"SDM/matcher"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"time"
)

var (
	mode       string
	store      string
	population int
	con        int
	runSeconds int
	voteWin    int
	orchMs     int
	guardMs    int
	local      bool
	debug      bool
	useWAL     bool
	cpuProfile string
	memProfile string
)

func usage() {
	flag.PrintDefaults()
}

func init() {
	flag.StringVar(&mode, "mode", "serve", "serve for a matchmaking core, bench for the load generator")
	flag.StringVar(&store, "store", configs.MemoryStorage, "the storage backend (memory, sql, or mongo)")
	flag.IntVar(&population, "pop", 500, "the synthetic population size for bench mode")
	flag.IntVar(&con, "c", 10, "the number of bench clients")
	flag.IntVar(&runSeconds, "sec", 30, "bench run length in seconds")
	flag.IntVar(&voteWin, "vote_window", 0, "vote window override in ms")
	flag.IntVar(&orchMs, "orch", 0, "orchestrator interval override in ms")
	flag.IntVar(&guardMs, "guard", 0, "guardian interval override in ms")
	flag.BoolVar(&local, "local", false, "run local test")
	flag.BoolVar(&debug, "debug", false, "log debug info into debug file")
	flag.BoolVar(&useWAL, "wal", false, "journal transitions to the write-ahead log")
	flag.StringVar(&cpuProfile, "cpu_prof", "", "write cpu profiling")
	flag.StringVar(&memProfile, "mem_prof", "", "write memory profiling")

	flag.Usage = usage
}

func main() {
	flag.Parse()
	if debug {
		f, err := os.OpenFile(fmt.Sprintf("logs/logfiles_%v.log", time.Now().String()), os.O_RDWR|os.O_CREATE, 0666)
		defer f.Close()
		if err != nil {
			log.Fatalf("error opening file: %v", err)
		}
		log.SetOutput(io.Writer(f))
	}
	if cpuProfile != "" {
		f, err := os.Create(cpuProfile)
		if err != nil {
			log.Fatal("could not create CPU profile: ", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	configs.LoadProperties()
	configs.SetStorageType(store)
	configs.SetVoteWindow(voteWin)
	configs.SetIntervals(orchMs, guardMs)
	configs.ClientRoutineNumber = con
	configs.UseWAL = useWAL
	configs.ShowWarnings = debug
	configs.ShowTestInfo = debug
	if local {
		configs.SetLocal()
	}

	if mode == "bench" {
		benchmark.TestSpin(store, population, runSeconds)
	} else if mode == "serve" {
		dir := matcher.NewStaticDirectory()
		core := matcher.NewContext("core", store, dir)
		core.Run()
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt)
		<-c
		core.Stop()
	} else {
		panic("invalid parameter for mode, 'serve' for a core or 'bench' for the load generator")
	}

	if memProfile != "" {
		f, err := os.Create(memProfile)
		if err != nil {
			log.Fatal("could not create memory profile: ", err)
		}
		defer f.Close()
		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatal("could not write memory profile: ", err)
		}
	}
}
