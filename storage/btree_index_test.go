package storage

import (
	"math/rand"
	"testing"

	"github.com/magiconair/properties/assert"
	"github.com/pingcap/go-ycsb/pkg/generator"
)

const testIndexSize = 1024 * 64
const testInsertThreadNumber = 16
const testReadThreadNumber = 16

func TestBasicIndex(t *testing.T) {
	idx := NewBTree("test index")
	temp := &QueueEntry{Pid: 1}
	err := idx.IndexInsert(1, temp)
	assert.Equal(t, nil, err)
	it, err := idx.IndexRead(1)
	assert.Equal(t, nil, err)
	assert.Equal(t, it, temp)
}

func indexInit(t *testing.T, idx *BTree, l int, r int) {
	keys := make([]Key, r-l+1)
	for i := l; i <= r; i++ {
		keys[i-l] = Key(i)
	}
	rand.Seed(233)
	rand.Shuffle(r-l+1, func(i, j int) {
		keys[i], keys[j] = keys[j], keys[i]
	})
	for i := l; i <= r; i++ {
		k := keys[i-l]
		value := &QueueEntry{Pid: uint64(k), indexKey: k}
		err := idx.IndexInsert(k, value)
		for err == ErrIndexAbort { // retry until succeed.
			err = idx.IndexInsert(k, value)
		}
		assert.Equal(t, err, nil)
	}
}

func indexInitParallel(t *testing.T, idx *BTree, size int, ch chan bool) {
	assert.Equal(t, 0, size%testInsertThreadNumber)
	for i := 0; i < testInsertThreadNumber; i++ {
		go func(i int, ch chan bool) {
			indexInit(t, idx, 1+size/testInsertThreadNumber*i, size/testInsertThreadNumber*(i+1))
			ch <- true
		}(i, ch)
	}
}

func indexAccessRoutine(t *testing.T, idx *BTree, size int, readCnt int, mustRead bool, finish chan bool, seed int64) {
	r := rand.New(rand.NewSource(seed))
	zip := generator.NewZipfianWithRange(1, int64(size), 0.9)
	for i := 0; i < readCnt; i++ {
		key := Key(zip.Next(r))
		it, err := idx.IndexRead(key)
		for err == ErrIndexAbort { // retry until succeed.
			it, err = idx.IndexRead(key)
		}
		if err == nil {
			assert.Equal(t, uint64(key), it.Pid)
		} else if mustRead {
			assert.Equal(t, nil, err)
		} else if err != ErrKeyNotFound {
			assert.Equal(t, nil, err)
		}
	}
	finish <- true
}

func TestIndexInsertAndQuery(t *testing.T) {
	ch := make(chan bool)
	idx := NewBTree("test index")
	indexInit(t, idx, 1, testIndexSize)
	go indexAccessRoutine(t, idx, testIndexSize, 5, true, ch, 123)
	<-ch
}

func TestConcurrentReadIndex(t *testing.T) {
	ch := make(chan bool)
	idx := NewBTree("test index")
	indexInit(t, idx, 1, testIndexSize)
	for i := 0; i < testReadThreadNumber; i++ {
		go indexAccessRoutine(t, idx, testIndexSize, 10000, true, ch, int64(i)*11+13)
	}
	for i := 0; i < testReadThreadNumber; i++ {
		<-ch
	}
}

func TestConcurrentInsertIndex(t *testing.T) {
	idx := NewBTree("test index")
	ch := make(chan bool)
	go indexInitParallel(t, idx, testIndexSize, ch)
	for i := 0; i < testInsertThreadNumber; i++ {
		<-ch
	}
}

func TestScanYieldsPriorityOrder(t *testing.T) {
	idx := NewBTree("test index")
	entries := []struct {
		fairness float64
		seq      uint32
	}{
		{10, 1}, {30, 2}, {20, 3}, {30, 4},
	}
	for _, e := range entries {
		key := PriorityKey(e.fairness, e.seq)
		err := idx.IndexInsert(key, &QueueEntry{Pid: uint64(e.seq), indexKey: key})
		assert.Equal(t, err, nil)
	}
	got := make([]uint64, 0, 4)
	idx.Scan(func(_ Key, e *QueueEntry) bool {
		got = append(got, e.Pid)
		return true
	})
	// fairness desc, join order within equal fairness.
	assert.Equal(t, got, []uint64{2, 4, 3, 1})
}

func TestScanSkipsTombstones(t *testing.T) {
	idx := NewBTree("test index")
	e := &QueueEntry{Pid: 7}
	k1 := PriorityKey(10, 1)
	e.indexKey = k1
	assert.Equal(t, idx.IndexInsert(k1, e), nil)
	// reindex: the entry moves, the old slot turns stale.
	k2 := PriorityKey(20, 1)
	e.indexKey = k2
	assert.Equal(t, idx.IndexInsert(k2, e), nil)
	seen := 0
	idx.Scan(func(_ Key, got *QueueEntry) bool {
		assert.Equal(t, got.Pid, uint64(7))
		seen++
		return true
	})
	assert.Equal(t, seen, 1)
}
