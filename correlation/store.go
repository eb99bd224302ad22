package correlation

import (
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

type (
	// Store maps correlation keys to pending expectations and buffers downstream records that arrive
	// before their expectation was registered. Keys are spread over lock-striped shards; all state
	// belonging to one key lives in exactly one shard and is only mutated under that shard's lock.
	Store[U, D any] struct {
		name       string
		shards     [numShards]*shard[U, D]
		timeout    time.Duration
		grace      time.Duration
		maxOrphans int64
		numOrphans atomic.Int64
		now        Clock
		report     *Report
	}
	StoreConfig struct {
		// Timeout is the per-key deadline, measured from registration.
		Timeout time.Duration
		// Grace is how long a downstream record without expectation is kept around.
		Grace time.Duration
		// MaxOrphans bounds the number of buffered downstream records across all shards. Zero means
		// unbounded.
		MaxOrphans int
		Clock      Clock
	}
	shard[U, D any] struct {
		m          sync.Mutex
		pending    map[Key]*PendingExpectation[U]
		orphans    map[Key][]*PolledRecord[D]
		numOrphans int
		resolved   map[Key]resolution
	}
	resolution struct {
		state State
		at    time.Time
	}
)

const numShards = 32

func NewStore[U, D any](name string, c StoreConfig, r *Report) *Store[U, D] {

	now := c.Clock
	if now == nil {
		now = time.Now
	}

	s := &Store[U, D]{
		name:       name,
		timeout:    c.Timeout,
		grace:      c.Grace,
		maxOrphans: int64(c.MaxOrphans),
		now:        now,
		report:     r,
	}

	for i := 0; i < numShards; i++ {
		s.shards[i] = &shard[U, D]{
			pending:  make(map[Key]*PendingExpectation[U]),
			orphans:  make(map[Key][]*PolledRecord[D]),
			resolved: make(map[Key]resolution),
		}
	}

	return s

}

func (s *Store[U, D]) shardFor(key Key) *shard[U, D] {

	h := fnv.New32a()
	_, _ = h.Write([]byte(key))

	return s.shards[h.Sum32()%numShards]

}

// Register creates the expectation for the given key. If a downstream record for the key is
// already buffered, the expectation is resolved right away and the resulting pair is returned.
func (s *Store[U, D]) Register(key Key, payload U) (*PendingExpectation[U], *MatchedPair[U, D], error) {

	sh := s.shardFor(key)

	sh.m.Lock()
	defer sh.m.Unlock()

	if _, ok := sh.pending[key]; ok {
		s.report.errored.Add(1)
		return nil, nil, DuplicateKeyError{Key: key}
	}

	now := s.now()
	e := &PendingExpectation[U]{
		Key:       key,
		Payload:   payload,
		EmittedAt: now,
		Deadline:  now.Add(s.timeout),
	}
	delete(sh.resolved, key)
	s.report.registered.Add(1)

	if r := s.takeOrphan(sh, key, now); r != nil {
		pair := newMatchedPair(e, r)
		s.resolve(sh, key, Matched, now)
		s.report.matched.Add(1)
		if pair.ClockSkew {
			s.report.clockSkew.Add(1)
		}
		lp.LogCorrelationEvent(fmt.Sprintf("key '%s' matched buffered downstream record upon registration", key), s.name, log.TraceLevel)
		return e, pair, nil
	}

	sh.pending[key] = e

	return e, nil, nil

}

// takeOrphan removes and returns the oldest buffered record for the key that is still within its
// grace period. Caller must hold the shard lock.
func (s *Store[U, D]) takeOrphan(sh *shard[U, D], key Key, now time.Time) *PolledRecord[D] {

	records := sh.orphans[key]
	for len(records) > 0 {
		r := records[0]
		records = records[1:]
		sh.numOrphans--
		s.numOrphans.Add(-1)
		if r.ObservedAt.Add(s.grace).After(now) {
			if len(records) == 0 {
				delete(sh.orphans, key)
			} else {
				sh.orphans[key] = records
			}
			return r
		}
		s.report.orphaned.Add(1)
	}

	delete(sh.orphans, key)

	return nil

}

// Observe resolves the pending expectation for the key, if there is one. Records for keys that
// were resolved already are counted as late and dropped; records for unknown keys are buffered
// for the grace period.
func (s *Store[U, D]) Observe(key Key, payload D, observedAt time.Time) *MatchedPair[U, D] {

	pair, buffered := s.observe(key, payload, observedAt)
	if buffered {
		s.enforceOrphanLimit()
	}

	return pair

}

func (s *Store[U, D]) observe(key Key, payload D, observedAt time.Time) (*MatchedPair[U, D], bool) {

	sh := s.shardFor(key)

	sh.m.Lock()
	defer sh.m.Unlock()

	r := &PolledRecord[D]{Key: key, Payload: payload, ObservedAt: observedAt}

	if e, ok := sh.pending[key]; ok {
		if observedAt.After(e.Deadline) {
			// Expiry sweep has not caught up yet; the expectation is past its deadline regardless.
			s.report.late.Add(1)
			lp.LogCorrelationEvent(fmt.Sprintf("downstream record for key '%s' observed after deadline -- ignoring", key), s.name, log.WarnLevel)
			return nil, false
		}
		delete(sh.pending, key)
		s.resolve(sh, key, Matched, observedAt)
		s.report.matched.Add(1)
		pair := newMatchedPair(e, r)
		if pair.ClockSkew {
			s.report.clockSkew.Add(1)
		}
		return pair, false
	}

	if res, ok := sh.resolved[key]; ok {
		s.report.late.Add(1)
		lp.LogCorrelationEvent(fmt.Sprintf("late downstream record for key '%s' already resolved as %s -- ignoring", key, res.state), s.name, log.WarnLevel)
		return nil, false
	}

	sh.orphans[key] = append(sh.orphans[key], r)
	sh.numOrphans++
	s.numOrphans.Add(1)
	lp.LogCorrelationEvent(fmt.Sprintf("buffered downstream record for key '%s' without expectation", key), s.name, log.TraceLevel)

	return nil, true

}

// enforceOrphanLimit drops the oldest buffered records across all shards until the buffer holds
// no more than maxOrphans records. Shard locks are taken one at a time. Each drop is reserved on
// the store-wide counter first, so concurrent callers never evict more than the overflow.
func (s *Store[U, D]) enforceOrphanLimit() {

	if s.maxOrphans <= 0 {
		return
	}

	for {
		n := s.numOrphans.Load()
		if n <= s.maxOrphans {
			return
		}
		if !s.numOrphans.CompareAndSwap(n, n-1) {
			continue
		}
		if !s.evictOldestOrphan() {
			// Buffer was emptied concurrently; hand the reservation back.
			s.numOrphans.Add(1)
			return
		}
	}

}

func (s *Store[U, D]) evictOldestOrphan() bool {

	var candidate *shard[U, D]
	var candidateAt time.Time
	for _, sh := range s.shards {
		sh.m.Lock()
		if _, r := sh.oldestOrphan(); r != nil && (candidate == nil || r.ObservedAt.Before(candidateAt)) {
			candidate = sh
			candidateAt = r.ObservedAt
		}
		sh.m.Unlock()
	}

	if candidate == nil {
		return false
	}

	candidate.m.Lock()
	defer candidate.m.Unlock()

	key, oldest := candidate.oldestOrphan()
	if oldest == nil {
		return false
	}

	if records := candidate.orphans[key][1:]; len(records) == 0 {
		delete(candidate.orphans, key)
	} else {
		candidate.orphans[key] = records
	}
	candidate.numOrphans--
	s.report.orphaned.Add(1)
	lp.LogCorrelationEvent(fmt.Sprintf("orphan buffer full, dropped downstream record for key '%s'", key), s.name, log.WarnLevel)

	return true

}

// oldestOrphan returns the buffered record observed first. Caller must hold the shard lock.
func (sh *shard[U, D]) oldestOrphan() (Key, *PolledRecord[D]) {

	var oldestKey Key
	var oldest *PolledRecord[D]
	for k, records := range sh.orphans {
		if len(records) > 0 && (oldest == nil || records[0].ObservedAt.Before(oldest.ObservedAt)) {
			oldestKey = k
			oldest = records[0]
		}
	}

	return oldestKey, oldest

}

// Expire removes and returns all expectations whose deadline has passed. Buffered records that
// outlived the grace period are dropped and counted as orphaned. Calling Expire repeatedly with
// the same instant reports each expectation at most once.
func (s *Store[U, D]) Expire(now time.Time) []PendingExpectation[U] {

	var expired []PendingExpectation[U]

	for _, sh := range s.shards {
		sh.m.Lock()
		for k, e := range sh.pending {
			if !e.Deadline.After(now) {
				delete(sh.pending, k)
				s.resolve(sh, k, TimedOut, now)
				s.report.timedOut.Add(1)
				expired = append(expired, *e)
			}
		}
		for k, records := range sh.orphans {
			kept := records[:0]
			for _, r := range records {
				if r.ObservedAt.Add(s.grace).After(now) {
					kept = append(kept, r)
				} else {
					sh.numOrphans--
					s.numOrphans.Add(-1)
					s.report.orphaned.Add(1)
				}
			}
			if len(kept) == 0 {
				delete(sh.orphans, k)
			} else {
				sh.orphans[k] = kept
			}
		}
		for k, res := range sh.resolved {
			if now.Sub(res.at) > s.timeout+s.grace {
				delete(sh.resolved, k)
			}
		}
		sh.m.Unlock()
	}

	return expired

}

// Drain finalizes all pending expectations as cancelled and drops all buffered records.
func (s *Store[U, D]) Drain(now time.Time) []PendingExpectation[U] {

	var cancelled []PendingExpectation[U]

	for _, sh := range s.shards {
		sh.m.Lock()
		for k, e := range sh.pending {
			delete(sh.pending, k)
			s.resolve(sh, k, Cancelled, now)
			s.report.cancelled.Add(1)
			cancelled = append(cancelled, *e)
		}
		s.report.orphaned.Add(int64(sh.numOrphans))
		s.numOrphans.Add(-int64(sh.numOrphans))
		sh.orphans = make(map[Key][]*PolledRecord[D])
		sh.numOrphans = 0
		sh.m.Unlock()
	}

	return cancelled

}

// State returns the current state of the given key. Keys never registered, or whose terminal state
// has been forgotten after the retention window, report false.
func (s *Store[U, D]) State(key Key) (State, bool) {

	sh := s.shardFor(key)

	sh.m.Lock()
	defer sh.m.Unlock()

	if _, ok := sh.pending[key]; ok {
		return Pending, true
	}
	if res, ok := sh.resolved[key]; ok {
		return res.state, true
	}

	return "", false

}

func (s *Store[U, D]) NumPending() int {

	n := 0
	for _, sh := range s.shards {
		sh.m.Lock()
		n += len(sh.pending)
		sh.m.Unlock()
	}

	return n

}

func (s *Store[U, D]) NumOrphans() int {

	n := 0
	for _, sh := range s.shards {
		sh.m.Lock()
		n += sh.numOrphans
		sh.m.Unlock()
	}

	return n

}

func (s *Store[U, D]) resolve(sh *shard[U, D], key Key, state State, at time.Time) {

	sh.resolved[key] = resolution{state: state, at: at}

}
