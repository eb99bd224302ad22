package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hazelcast/hazelcast-go-client/predicate"
	"github.com/hazelcast/hazelcast-go-client/serialization"
	log "github.com/sirupsen/logrus"

	"correlatest/correlation"
	"correlatest/hazelcastwrapper"
	"correlatest/poll"
)

// MapSource stores records as JSON values keyed by their primary key. Save timestamps are taken
// before the write completes, so concurrent writers may commit out of order; queries therefore
// reach back by a lookback window behind the newest save timestamp seen and drop entries returned
// before. The cursor handed to the poller is a local consumption sequence.
type MapSource[T Keyed] struct {
	mapName  string
	m        hazelcastwrapper.Map
	seq      *sequence
	consumed *sequence
	lookback time.Duration
	mu       sync.Mutex
	newest   int64
	returned map[string]int64
}

const defaultMapQueryLookback = 10 * time.Second

func NewMapSource[T Keyed](mapName string, m hazelcastwrapper.Map, lookback time.Duration) *MapSource[T] {

	if lookback <= 0 {
		lookback = defaultMapQueryLookback
	}

	return &MapSource[T]{
		mapName:  mapName,
		m:        m,
		seq:      newSequence(),
		consumed: newSequence(),
		lookback: lookback,
		returned: make(map[string]int64),
	}

}

func (s *MapSource[T]) Save(ctx context.Context, record T) error {

	value, err := json.Marshal(envelope[T]{Record: record, SavedAt: s.seq.next()})
	if err != nil {
		return err
	}

	if err := s.m.Set(ctx, record.PrimaryKey(), serialization.JSON(value)); err != nil {
		lp.LogHzEvent(fmt.Sprintf("unable to save record '%s' in map '%s': %v", record.PrimaryKey(), s.mapName, err), log.WarnLevel)
		return err
	}

	return nil

}

// Query returns all entries saved within the lookback window that have not been returned yet.
// The poller's cursor is not needed to find them and is ignored.
func (s *MapSource[T]) Query(ctx context.Context, _ poll.Cursor) ([]poll.Record[T], error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	lowerBound := s.lowerBound()

	entries, err := s.m.GetEntrySetWithPredicate(ctx, predicate.Greater(savedAtAttribute, lowerBound))
	if err != nil {
		return nil, err
	}

	records := make([]poll.Record[T], 0, len(entries))
	for _, e := range entries {
		var env envelope[T]
		if err := decodeJSONValue(e.Value, &env); err != nil {
			lp.LogHzEvent(fmt.Sprintf("skipping undecodable value for key '%v' in map '%s': %v", e.Key, s.mapName, err), log.WarnLevel)
			continue
		}
		key := env.Record.PrimaryKey()
		if env.SavedAt <= lowerBound {
			continue
		}
		if savedAt, ok := s.returned[key]; ok && savedAt == env.SavedAt {
			continue
		}
		s.returned[key] = env.SavedAt
		if env.SavedAt > s.newest {
			s.newest = env.SavedAt
		}
		records = append(records, poll.Record[T]{
			Cursor:  poll.Cursor(s.consumed.next()),
			Key:     correlation.Key(key),
			Payload: env.Record,
		})
	}

	// Entries at or below the next lower bound are filtered by the query itself.
	next := s.lowerBound()
	for k, savedAt := range s.returned {
		if savedAt <= next {
			delete(s.returned, k)
		}
	}

	return records, nil

}

func (s *MapSource[T]) lowerBound() int64 {

	if s.newest == 0 {
		return 0
	}

	return s.newest - s.lookback.Nanoseconds()

}
