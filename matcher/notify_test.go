package matcher

import (
	"SDM/configs"
	"SDM/storage"
	"testing"

	"github.com/magiconair/properties/assert"
	tassert "github.com/stretchr/testify/assert"
)

func TestPublisherFansOut(t *testing.T) {
	p := NewPublisher(storage.NewJournal("notify_test"))
	a := p.Subscribe()
	b := p.Subscribe()
	p.Publish(Event{Type: EvMatchCreated, Pid: 1, Partner: 2, MatchID: 3})
	ea := <-a
	eb := <-b
	assert.Equal(t, ea.Type, EvMatchCreated)
	assert.Equal(t, eb.MatchID, uint64(3))
	tassert.NotZero(t, ea.TS)
}

func TestPublisherNeverBlocks(t *testing.T) {
	p := NewPublisher(storage.NewJournal("notify_test"))
	_ = p.Subscribe() // never drained
	for i := 0; i < configs.NotifyBufferSize+10; i++ {
		p.Publish(Event{Type: EvVoteRecorded, Pid: uint64(i)})
	}
	tassert.True(t, p.Dropped() >= 10)
}
