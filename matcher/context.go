package matcher

import (
	"SDM/configs"
	"SDM/locks"
	"SDM/storage"
	"SDM/utils"
	"context"
	"sync"
)

// Context wires the matchmaking core together: the authoritative store, the
// profile directory, the advisory lock registry, the publisher, and every
// engine component. One Context serves one process; correctness across
// processes rests on the store's lock primitives, not on anything in here.
type Context struct {
	coreID string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	store *storage.Store
	dir   Directory
	reg   *locks.Registry
	pub   *Publisher
	stat  *utils.Stat

	SM      *StateMachine
	Sel     *Selector
	Creator *PairCreator
	Orch    *Orchestrator
	Votes   *VotingEngine
	HB      *HeartbeatManager
	Guard   *Guardian
	API     *AccessPoint
}

func NewContext(coreID string, storeType string, dir Directory) *Context {
	ctx, cancel := context.WithCancel(context.Background())
	stmt := &Context{
		coreID: coreID,
		ctx:    ctx,
		cancel: cancel,
		store:  storage.NewStore(coreID, storeType),
		dir:    dir,
		reg:    locks.NewRegistry(),
		stat:   utils.NewStat(),
	}
	stmt.pub = NewPublisher(stmt.store.Journal())
	stmt.SM = &StateMachine{stmt: stmt}
	stmt.Sel = &Selector{stmt: stmt}
	stmt.Creator = &PairCreator{stmt: stmt}
	stmt.Orch = &Orchestrator{stmt: stmt}
	stmt.Votes = &VotingEngine{stmt: stmt}
	stmt.HB = &HeartbeatManager{stmt: stmt}
	stmt.Guard = &Guardian{stmt: stmt}
	stmt.API = &AccessPoint{stmt: stmt}
	return stmt
}

// TestKit builds an in-memory core with a static directory, loops not
// started; tests drive cycles by hand.
func TestKit(coreID string) (*Context, *StaticDirectory) {
	dir := NewStaticDirectory()
	return NewContext(coreID, configs.MemoryStorage, dir), dir
}

func (stmt *Context) Store() *storage.Store {
	return stmt.store
}

func (stmt *Context) Publisher() *Publisher {
	return stmt.pub
}

func (stmt *Context) Stat() *utils.Stat {
	return stmt.stat
}

// Run starts the periodic loops: orchestrator cycles, guardians, and the
// offline sweep.
func (stmt *Context) Run() {
	stmt.wg.Add(3)
	go func() {
		defer stmt.wg.Done()
		stmt.Orch.Loop(stmt.ctx)
	}()
	go func() {
		defer stmt.wg.Done()
		stmt.Guard.Loop(stmt.ctx)
	}()
	go func() {
		defer stmt.wg.Done()
		stmt.HB.Loop(stmt.ctx)
	}()
}

func (stmt *Context) Stop() {
	stmt.cancel()
	stmt.wg.Wait()
}
