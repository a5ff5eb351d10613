package storage

import (
	"SDM/configs"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/tidwall/wal"
)

// Journal is the append-only record of state transitions and notifications.
// Entries are buffered and flushed in batches by a background logger.
type Journal struct {
	latch  sync.Mutex
	lsn    uint64
	logs   *wal.Log
	buffer *wal.Batch
	ctx    context.Context
}

// TransitionEntry journals one state-machine step.
type TransitionEntry struct {
	Seq   uint64 `json:"seq"`
	Pid   uint64 `json:"pid"`
	From  uint8  `json:"from"`
	To    uint8  `json:"to"`
	Event string `json:"event"`
	TS    int64  `json:"ts"`
}

// EventEntry journals one published notification.
type EventEntry struct {
	Seq     uint64 `json:"seq"`
	Type    string `json:"type"`
	Pid     uint64 `json:"pid"`
	Partner uint64 `json:"partner,omitempty"`
	MatchID uint64 `json:"match_id,omitempty"`
	TS      int64  `json:"ts"`
}

func NewJournal(storeID string) *Journal {
	res := &Journal{ctx: context.Background()}
	if !configs.UseWAL {
		return res
	}
	log, err := wal.Open(fmt.Sprintf("./logs/%s", storeID), nil)
	if err != nil {
		panic(err)
	}
	res.logs = log
	res.lsn, err = log.LastIndex()
	res.buffer = &wal.Batch{}
	if err != nil {
		panic(err)
	}
	go res.localBatchSyncLogger(res.ctx, res.lsn)
	return res
}

func (c *Journal) WriteTransition(e *TransitionEntry) {
	if !configs.UseWAL {
		return
	}
	c.latch.Lock()
	defer c.latch.Unlock()
	byt, err := json.Marshal(e)
	if err != nil {
		panic(err)
	}
	c.lsn++
	c.buffer.Write(c.lsn, byt)
}

func (c *Journal) WriteEvent(e *EventEntry) {
	if !configs.UseWAL {
		return
	}
	c.latch.Lock()
	defer c.latch.Unlock()
	byt, err := json.Marshal(e)
	if err != nil {
		panic(err)
	}
	c.lsn++
	c.buffer.Write(c.lsn, byt)
}

func (c *Journal) localBatchSyncLogger(ctx context.Context, initLSN uint64) {
	lastLSN := initLSN
	for {
		select {
		case <-time.After(configs.LogBatchInterval):
			c.latch.Lock()
			if c.lsn == lastLSN || c.buffer == nil {
				c.latch.Unlock()
			} else {
				err := c.logs.WriteBatch(c.buffer)
				if err != nil {
					panic(err)
				}
				c.buffer.Clear()
				lastLSN = c.lsn
				c.latch.Unlock()
			}
		case <-ctx.Done():
			return
		}
	}
}
