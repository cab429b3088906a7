// Package ratelimit implements fixed-window request limiting backed by an
// in-process, self-expiring counter store.
package ratelimit

import (
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 32

// Entry is one client's usage in its current window.
type Entry struct {
	Count   int
	ResetAt time.Time
}

// Expired reports whether a request at now starts a new window.
func (e Entry) Expired(now time.Time) bool {
	return now.After(e.ResetAt)
}

type shard struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// WindowStore maps client keys to expiring counters. Keys are spread over a
// fixed set of shards, each with its own lock, so requests for different
// clients rarely contend.
type WindowStore struct {
	shards [shardCount]*shard

	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWindowStore creates an empty store. The clock is used by the background
// sweeper; pass nil for time.Now.
func NewWindowStore(now func() time.Time) *WindowStore {
	if now == nil {
		now = time.Now
	}
	s := &WindowStore{now: now, stop: make(chan struct{})}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]Entry)}
	}
	return s
}

func (s *WindowStore) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

// Get returns the entry for key, if one exists.
func (s *WindowStore) Get(key string) (Entry, bool) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[key]
	return e, ok
}

// Put upserts the entry for key.
func (s *WindowStore) Put(key string, e Entry) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	sh.entries[key] = e
	sh.mu.Unlock()
}

// Hit records one request for key at now under a fixed window of the given
// size and ceiling. Reading, resetting and incrementing happen under a single
// shard lock, so concurrent hits never lose increments and only one of them
// can open a new window. The returned entry reflects the state after the hit;
// allowed is false when the ceiling was already reached, in which case the
// entry is left untouched.
func (s *WindowStore) Hit(key string, now time.Time, window time.Duration, max int) (Entry, bool) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok || e.Expired(now) {
		e = Entry{Count: 1, ResetAt: now.Add(window)}
		sh.entries[key] = e
		return e, true
	}
	if e.Count < max {
		e.Count++
		sh.entries[key] = e
		return e, true
	}
	return e, false
}

// Sweep removes every entry whose window ended before now and returns how
// many were removed.
func (s *WindowStore) Sweep(now time.Time) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, e := range sh.entries {
			if e.Expired(now) {
				delete(sh.entries, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked keys.
func (s *WindowStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

// StartSweeper sweeps the store every interval until Close is called.
// onSweep, when non-nil, receives the number of entries removed per pass.
func (s *WindowStore) StartSweeper(interval time.Duration, onSweep func(removed int)) {
	if interval <= 0 {
		interval = time.Minute
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				removed := s.Sweep(s.now())
				if onSweep != nil {
					onSweep(removed)
				}
			}
		}
	}()
}

// Close stops the sweeper and waits for it to exit. Safe to call more than once.
func (s *WindowStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}
