package scenarios

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hazelcast/hazelcast-go-client"
	"github.com/hazelcast/hazelcast-go-client/predicate"
	"github.com/hazelcast/hazelcast-go-client/types"

	"correlatest/correlation"
	"correlatest/hazelcastwrapper"
	"correlatest/loadsupport"
	"correlatest/poll"
	"correlatest/status"
)

type (
	testConfigPropertyAssigner struct {
		dummyConfig map[string]any
	}
	testHzClientHandler struct {
		initInvocations, shutdownInvocations int
		returnErrorUponInit                  bool
	}
	testHzMapStore struct {
		m *testHzMap
	}
	testHzMap struct {
		hazelcastwrapper.Map
		mu                      sync.Mutex
		data                    map[any]any
		evictAllInvocations     int
		returnErrorUponEvictAll bool
	}
	testHzQueueStore struct {
		q *testHzQueue
	}
	testHzQueue struct {
		hazelcastwrapper.Queue
		mu                   sync.Mutex
		elements             []any
		clearInvocations     int
		returnErrorUponClear bool
	}
	// testRecordStore keeps saved records in memory and hands out their position as cursor.
	testRecordStore struct {
		mu      sync.Mutex
		records []poll.Record[loadsupport.BatteryState]
		// alter is applied to each record upon save, imitating a downstream system that modifies data.
		alter func(b *loadsupport.BatteryState)
	}
)

const (
	checkMark = "✓"
	ballotX   = "✗"
)

var (
	errEvictAll = errors.New("unable to evict map")
	errClear    = errors.New("unable to clear queue")
	errInit     = errors.New("unable to initialize hazelcast client")
)

func (a testConfigPropertyAssigner) Assign(keyPath string, validate func(string, any) error, assign func(any)) error {

	if value, ok := a.dummyConfig[keyPath]; ok {
		if err := validate(keyPath, value); err != nil {
			return err
		}
		assign(value)
		return nil
	}

	return errors.New("no such key path: " + keyPath)

}

func (ch *testHzClientHandler) InitHazelcastClient(_ context.Context, _ string, _ string, _ []string) error {
	ch.initInvocations++
	if ch.returnErrorUponInit {
		return errInit
	}
	return nil
}

func (ch *testHzClientHandler) Shutdown(_ context.Context) error {
	ch.shutdownInvocations++
	return nil
}

func (ch *testHzClientHandler) GetClient() *hazelcast.Client {
	return nil
}

func (ms *testHzMapStore) GetMap(_ context.Context, _ string) (hazelcastwrapper.Map, error) {
	return ms.m, nil
}

func newTestHzMap() *testHzMap {
	return &testHzMap{data: map[any]any{}}
}

func (m *testHzMap) Set(_ context.Context, key any, value any) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = value
	return nil

}

// GetEntrySetWithPredicate ignores the predicate and returns all entries.
func (m *testHzMap) GetEntrySetWithPredicate(_ context.Context, _ predicate.Predicate) ([]types.Entry, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]types.Entry, 0, len(m.data))
	for k, v := range m.data {
		entries = append(entries, types.Entry{Key: k, Value: v})
	}

	return entries, nil

}

func (m *testHzMap) EvictAll(_ context.Context) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.evictAllInvocations++
	if m.returnErrorUponEvictAll {
		return errEvictAll
	}
	m.data = map[any]any{}

	return nil

}

func (qs *testHzQueueStore) GetQueue(_ context.Context, _ string) (hazelcastwrapper.Queue, error) {
	return qs.q, nil
}

func (q *testHzQueue) Put(_ context.Context, element any) error {

	q.mu.Lock()
	defer q.mu.Unlock()

	q.elements = append(q.elements, element)
	return nil

}

func (q *testHzQueue) Poll(_ context.Context) (any, error) {

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.elements) == 0 {
		return nil, nil
	}
	e := q.elements[0]
	q.elements = q.elements[1:]

	return e, nil

}

func (q *testHzQueue) Clear(_ context.Context) error {

	q.mu.Lock()
	defer q.mu.Unlock()

	q.clearInvocations++
	if q.returnErrorUponClear {
		return errClear
	}
	q.elements = nil

	return nil

}

func (s *testRecordStore) Save(_ context.Context, b loadsupport.BatteryState) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.alter != nil {
		s.alter(&b)
	}
	s.records = append(s.records, poll.Record[loadsupport.BatteryState]{
		Cursor:  poll.Cursor(len(s.records) + 1),
		Key:     correlation.Key(b.PrimaryKey()),
		Payload: b,
	})

	return nil

}

func (s *testRecordStore) Query(_ context.Context, after poll.Cursor) ([]poll.Record[loadsupport.BatteryState], error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	var result []poll.Record[loadsupport.BatteryState]
	for _, r := range s.records {
		if r.Cursor > after {
			result = append(result, r)
		}
	}

	return result, nil

}

func newListeningGatherer() *status.Gatherer {

	g := status.NewGatherer()
	ready := make(chan struct{})
	go g.Listen(ready)
	<-ready

	return g

}

func testJoinConfig(timeout time.Duration, reportErrors bool) JoinConfig {

	return JoinConfig{
		Timeout:          timeout,
		Grace:            100 * time.Millisecond,
		MaxOrphans:       100,
		SweepInterval:    5 * time.Millisecond,
		PollDelay:        5 * time.Millisecond,
		PollTimeout:      500 * time.Millisecond,
		FailureThreshold: 3,
		ReportErrors:     reportErrors,
	}

}

func runnerTestConfig(keyPath string, enabled bool) map[string]any {

	return map[string]any{
		keyPath + ".enabled":                       enabled,
		keyPath + ".minions.numMinions":            1,
		keyPath + ".minions.minionsPerLaunch":      1,
		keyPath + ".minions.launchPeriodMs":        0,
		keyPath + ".minions.recordsPerMinion":      3,
		keyPath + ".preRunClean.enabled":           true,
		keyPath + ".preRunClean.errorBehavior":     "fail",
		keyPath + ".join.timeoutMs":                2000,
		keyPath + ".join.graceMs":                  100,
		keyPath + ".join.sweepIntervalMs":          5,
		keyPath + ".join.pollDelayMs":              5,
		keyPath + ".join.initialDelayMs":           0,
		keyPath + ".join.pollTimeoutMs":            500,
		keyPath + ".join.maxOrphans":               100,
		keyPath + ".join.failureThreshold":         3,
		keyPath + ".join.reportErrors":             true,
		keyPath + ".structureName":                 "batteryStates",
		keyPath + ".structurePrefix.enabled":       true,
		keyPath + ".structurePrefix.prefix":        "ct_",
		keyPath + ".appendClientIdToStructureName": false,
		keyPath + ".pollBatchSize":                 10,
		keyPath + ".dataSourceName":                "file::memory:",
		keyPath + ".tableName":                     "battery_state",
	}

}

func stateListEquals(actual, expected []runnerState) bool {

	if len(actual) != len(expected) {
		return false
	}
	for i := range actual {
		if actual[i] != expected[i] {
			return false
		}
	}

	return true

}
