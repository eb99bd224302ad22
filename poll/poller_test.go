package poll

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"correlatest/correlation"
)

type (
	testSink struct {
		m        sync.Mutex
		observed []correlation.Key
		pending  map[correlation.Key]struct{}
	}
)

const (
	checkMark = "✓"
	ballotX   = "✗"
)

var errDownstreamUnavailable = errors.New("downstream system unavailable")

func newTestSink(pending ...correlation.Key) *testSink {

	s := &testSink{pending: map[correlation.Key]struct{}{}}
	for _, k := range pending {
		s.pending[k] = struct{}{}
	}

	return s

}

func (s *testSink) Observe(key correlation.Key, _ int, _ time.Time) {

	s.m.Lock()
	defer s.m.Unlock()

	s.observed = append(s.observed, key)
	delete(s.pending, key)

}

func (s *testSink) NumPending() int {

	s.m.Lock()
	defer s.m.Unlock()

	return len(s.pending)

}

func (s *testSink) observedKeys() []correlation.Key {

	s.m.Lock()
	defer s.m.Unlock()

	return append([]correlation.Key{}, s.observed...)

}

func runWithDeadline(t *testing.T, p *Poller[int], ctx context.Context) error {

	done := make(chan error, 1)
	go func() {
		done <- p.Run(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("\t\tpoller did not terminate in time", ballotX)
		return nil
	}

}

func TestPollerRun(t *testing.T) {

	t.Log("given a poller querying a downstream system whose result sets overlap")
	{
		t.Log("\twhen records are returned again on subsequent queries")
		{
			results := [][]Record[int]{
				{{Cursor: 1, Key: "dev-1"}, {Cursor: 2, Key: "dev-2"}, {Cursor: 3, Key: "dev-3"}},
				{{Cursor: 2, Key: "dev-2"}, {Cursor: 3, Key: "dev-3"}, {Cursor: 4, Key: "dev-4"}},
			}
			var cursors []Cursor
			call := 0
			var p *Poller[int]
			q := func(_ context.Context, after Cursor) ([]Record[int], error) {
				cursors = append(cursors, after)
				if call < len(results) {
					r := results[call]
					call++
					return r, nil
				}
				p.Stop()
				return nil, nil
			}
			s := newTestSink()
			p = New[int]("battery-levels", q, s, Config{PollDelay: time.Millisecond})

			err := runWithDeadline(t, p, context.Background())

			msg := "\t\tpoller must terminate without error"
			if err == nil {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, err)
			}

			msg = "\t\teach record must have been forwarded exactly once"
			observed := s.observedKeys()
			if len(observed) == 4 && observed[0] == "dev-1" && observed[3] == "dev-4" && p.NumForwarded() == 4 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, observed)
			}

			msg = "\t\tquery must have been handed highest cursor seen"
			if cursors[0] == 0 && cursors[1] == 3 && cursors[2] == 4 && p.Cursor() == 4 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, cursors)
			}
		}
	}

	t.Log("given a poller whose downstream system is unreachable")
	{
		t.Log("\twhen number of consecutive failures reaches threshold")
		{
			numCalls := 0
			q := func(_ context.Context, _ Cursor) ([]Record[int], error) {
				numCalls++
				return nil, errDownstreamUnavailable
			}
			p := New[int]("battery-levels", q, newTestSink("dev-1"), Config{PollDelay: time.Millisecond, FailureThreshold: 3})

			err := runWithDeadline(t, p, context.Background())

			msg := "\t\tpoller must report itself unhealthy"
			if errors.Is(err, ErrPollerUnhealthy) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, err)
			}

			msg = "\t\treturned error must carry query error and its cause"
			var qe PollQueryError
			if errors.As(err, &qe) && qe.ConsecutiveFailures == 3 && errors.Is(err, errDownstreamUnavailable) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, err)
			}

			msg = "\t\tquery must have been retried up to threshold"
			if numCalls == 3 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, numCalls)
			}
		}
	}

	t.Log("given a poller whose downstream system fails intermittently")
	{
		t.Log("\twhen failures never reach threshold in a row")
		{
			numCalls := 0
			var p *Poller[int]
			q := func(_ context.Context, _ Cursor) ([]Record[int], error) {
				numCalls++
				if numCalls == 10 {
					p.Stop()
				}
				if numCalls%2 == 1 {
					return nil, errDownstreamUnavailable
				}
				return nil, nil
			}
			p = New[int]("battery-levels", q, newTestSink(), Config{PollDelay: time.Millisecond, FailureThreshold: 2})

			err := runWithDeadline(t, p, context.Background())

			msg := "\t\tpoller must keep polling and terminate without error"
			if err == nil && numCalls >= 10 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, err, numCalls)
			}
		}
	}

	t.Log("given a poller whose queries hang")
	{
		t.Log("\twhen poll timeout elapses")
		{
			q := func(ctx context.Context, _ Cursor) ([]Record[int], error) {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			p := New[int]("battery-levels", q, newTestSink("dev-1"), Config{
				PollDelay:        time.Millisecond,
				PollTimeout:      5 * time.Millisecond,
				FailureThreshold: 2,
			})

			err := runWithDeadline(t, p, context.Background())

			msg := "\t\ttimed out queries must count as failures"
			if errors.Is(err, ErrPollerUnhealthy) && errors.Is(err, context.DeadlineExceeded) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, err)
			}
		}
	}

}

func TestPollerTermination(t *testing.T) {

	t.Log("given a stopped poller whose sink still has pending expectations")
	{
		t.Log("\twhen matching record shows up after a few queries")
		{
			numCalls := 0
			q := func(_ context.Context, _ Cursor) ([]Record[int], error) {
				numCalls++
				if numCalls < 5 {
					return nil, nil
				}
				return []Record[int]{{Cursor: 1, Key: "dev-1", Payload: 42}}, nil
			}
			s := newTestSink("dev-1")
			p := New[int]("battery-levels", q, s, Config{PollDelay: time.Millisecond})
			p.Stop()

			err := runWithDeadline(t, p, context.Background())

			msg := "\t\tpoller must keep polling until nothing is pending"
			if err == nil && numCalls == 5 && len(s.observedKeys()) == 1 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, err, numCalls)
			}
		}
	}

	t.Log("given a running poller that is never stopped")
	{
		t.Log("\twhen context is cancelled")
		{
			q := func(_ context.Context, _ Cursor) ([]Record[int], error) {
				return nil, nil
			}
			p := New[int]("battery-levels", q, newTestSink("dev-1"), Config{PollDelay: time.Millisecond})

			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				time.Sleep(20 * time.Millisecond)
				cancel()
			}()

			err := runWithDeadline(t, p, ctx)

			msg := "\t\tpoller must terminate without error"
			if err == nil {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, err)
			}
		}

		t.Log("\twhen context is cancelled during initial delay")
		{
			numCalls := 0
			q := func(_ context.Context, _ Cursor) ([]Record[int], error) {
				numCalls++
				return nil, nil
			}
			p := New[int]("battery-levels", q, newTestSink(), Config{PollDelay: time.Millisecond, InitialDelay: time.Hour})

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			err := runWithDeadline(t, p, ctx)

			msg := "\t\tpoller must terminate without having queried"
			if err == nil && numCalls == 0 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, err, numCalls)
			}
		}
	}

}

func TestPollerFeedsCorrelator(t *testing.T) {

	t.Log("given a poller feeding a correlator")
	{
		t.Log("\twhen downstream system contains records for all emitted keys")
		{
			co := correlation.New[int, int]("battery-levels", correlation.Config{Timeout: time.Minute, Grace: time.Second, MaxOrphans: 100}, nil)
			_ = co.Emit("dev-1", 1)
			_ = co.Emit("dev-2", 2)

			q := func(_ context.Context, after Cursor) ([]Record[int], error) {
				all := []Record[int]{{Cursor: 10, Key: "dev-1", Payload: 1}, {Cursor: 11, Key: "dev-2", Payload: 2}}
				var result []Record[int]
				for _, r := range all {
					if r.Cursor > after {
						result = append(result, r)
					}
				}
				return result, nil
			}
			p := New[int]("battery-levels", q, co, Config{PollDelay: time.Millisecond})
			p.Stop()

			err := runWithDeadline(t, p, context.Background())

			msg := "\t\tall expectations must be matched"
			if r := co.Report(); err == nil && r.Matched == 2 && co.NumPending() == 0 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, err, r)
			}
		}
	}

}
