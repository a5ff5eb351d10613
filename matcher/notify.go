package matcher

import (
	"SDM/configs"
	"SDM/storage"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
)

// Event types published to the realtime push substrate.
const (
	EvStateChanged     = "participant_state_changed"
	EvMatchCreated     = "match_created"
	EvVoteRecorded     = "vote_recorded"
	EvOutcomeResolved  = "outcome_resolved"
	EvQueueExpanded    = "queue_expanded"
	EvOfflineDetected  = "offline_detected"
	EvOfflineFinalized = "offline_finalized"
	// EvPairAccept feeds the video-date subsystem.
	EvPairAccept = "pair_accept"
)

type Event struct {
	Type    string `json:"type"`
	Pid     uint64 `json:"pid"`
	Partner uint64 `json:"partner,omitempty"`
	MatchID uint64 `json:"match_id,omitempty"`
	State   string `json:"state,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	TS      int64  `json:"ts"`
}

func (e *Event) String() string {
	byt, _ := json.Marshal(e)
	return string(byt)
}

// Publisher fans events out to subscribers, best effort. Publish never
// blocks: a subscriber that cannot keep up loses events and is expected to
// reconcile through the status endpoint.
type Publisher struct {
	mu      sync.Mutex
	subs    []chan Event
	dropped uint64
	journal *storage.Journal
}

func NewPublisher(journal *storage.Journal) *Publisher {
	return &Publisher{journal: journal}
}

func (p *Publisher) Subscribe() <-chan Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan Event, configs.NotifyBufferSize)
	p.subs = append(p.subs, ch)
	return ch
}

func (p *Publisher) Publish(e Event) {
	if e.TS == 0 {
		e.TS = time.Now().UnixNano()
	}
	p.journal.WriteEvent(&storage.EventEntry{
		Seq: configs.GetJournalSeq(), Type: e.Type,
		Pid: e.Pid, Partner: e.Partner, MatchID: e.MatchID, TS: e.TS,
	})
	p.mu.Lock()
	subs := p.subs
	p.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- e:
		default:
			atomic.AddUint64(&p.dropped, 1)
		}
	}
	configs.DPrintf("event %v", e.String())
}

func (p *Publisher) Dropped() uint64 {
	return atomic.LoadUint64(&p.dropped)
}
