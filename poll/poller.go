package poll

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"correlatest/correlation"
)

type (
	// Cursor is the tie-breaker value of a downstream record. Records whose cursor is not greater
	// than the highest one seen so far are considered processed already.
	Cursor int64
	Record[D any] struct {
		Cursor  Cursor
		Key     correlation.Key
		Payload D
	}
	// Query fetches downstream records with a cursor greater than the given one. It may return
	// records it was not asked for; the poller filters them.
	Query[D any] func(ctx context.Context, after Cursor) ([]Record[D], error)
	Sink[D any]  interface {
		Observe(key correlation.Key, payload D, observedAt time.Time)
		NumPending() int
	}
	Config struct {
		PollDelay    time.Duration
		InitialDelay time.Duration
		// PollTimeout bounds a single query; zero means the query is only bound by the run context.
		PollTimeout time.Duration
		// FailureThreshold is the number of consecutive failed queries after which the poller gives up.
		// Zero or less means the poller never gives up.
		FailureThreshold int
		Clock            correlation.Clock
	}
	Poller[D any] struct {
		name                string
		query               Query[D]
		sink                Sink[D]
		cfg                 Config
		now                 correlation.Clock
		cursor              Cursor
		consecutiveFailures int
		numForwarded        atomic.Int64
		stopped             atomic.Bool
		stop                chan struct{}
		stopOnce            sync.Once
	}
)

const defaultPollDelay = time.Second

func New[D any](name string, q Query[D], s Sink[D], c Config) *Poller[D] {

	if c.PollDelay <= 0 {
		c.PollDelay = defaultPollDelay
	}
	now := c.Clock
	if now == nil {
		now = time.Now
	}

	return &Poller[D]{
		name:  name,
		query: q,
		sink:  s,
		cfg:   c,
		now:   now,
		stop:  make(chan struct{}),
	}

}

// Stop signals that no further upstream records will be emitted. The poller keeps polling until the
// sink has no pending expectations left.
func (p *Poller[D]) Stop() {

	p.stopOnce.Do(func() {
		p.stopped.Store(true)
		close(p.stop)
	})

}

// Run polls until stopped with nothing pending or until the context is done. Only a poller that
// exceeded its failure threshold returns an error.
func (p *Poller[D]) Run(ctx context.Context) error {

	if p.cfg.InitialDelay > 0 {
		lp.LogPollerEvent(fmt.Sprintf("sleeping for initial delay of %s", p.cfg.InitialDelay), p.name, log.InfoLevel)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.cfg.InitialDelay):
		}
	}

	lp.LogPollerEvent(fmt.Sprintf("starting to poll every %s", p.cfg.PollDelay), p.name, log.InfoLevel)

	if err := p.poll(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(p.cfg.PollDelay)
	defer ticker.Stop()

	stop := p.stop
	for {
		if p.stopped.Load() && p.sink.NumPending() == 0 {
			lp.LogPollerEvent(fmt.Sprintf("stopped with no pending expectations left after forwarding %d record/-s", p.numForwarded.Load()), p.name, log.InfoLevel)
			return nil
		}
		select {
		case <-ctx.Done():
			lp.LogPollerEvent("context done, stopping", p.name, log.InfoLevel)
			return nil
		case <-stop:
			// Re-evaluate termination right away, then never select on the closed channel again.
			stop = nil
		case <-ticker.C:
			if err := p.poll(ctx); err != nil {
				return err
			}
		}
	}

}

func (p *Poller[D]) poll(ctx context.Context) error {

	queryCtx := ctx
	if p.cfg.PollTimeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, p.cfg.PollTimeout)
		defer cancel()
	}

	start := time.Now()
	records, err := p.query(queryCtx, p.cursor)
	lp.LogTimingEvent("poll query", p.name, time.Since(start).Milliseconds(), log.TraceLevel)

	if err != nil {
		if ctx.Err() != nil {
			// Cancellation of the run context is not a failure of the downstream system.
			return nil
		}
		p.consecutiveFailures++
		qe := PollQueryError{Poller: p.name, ConsecutiveFailures: p.consecutiveFailures, Cause: err}
		if p.cfg.FailureThreshold > 0 && p.consecutiveFailures >= p.cfg.FailureThreshold {
			lp.LogPollerEvent(fmt.Sprintf("giving up: %v", qe), p.name, log.ErrorLevel)
			return fmt.Errorf("%w: %w", ErrPollerUnhealthy, qe)
		}
		lp.LogPollerEvent(fmt.Sprintf("%v -- retrying on next tick", qe), p.name, log.WarnLevel)
		return nil
	}
	p.consecutiveFailures = 0

	observedAt := p.now()
	highest := p.cursor
	numNew := 0
	for _, r := range records {
		if r.Cursor <= p.cursor {
			continue
		}
		p.sink.Observe(r.Key, r.Payload, observedAt)
		numNew++
		if r.Cursor > highest {
			highest = r.Cursor
		}
	}
	p.cursor = highest
	p.numForwarded.Add(int64(numNew))

	if numNew > 0 {
		lp.LogPollerEvent(fmt.Sprintf("forwarded %d new record/-s, cursor now at %d", numNew, p.cursor), p.name, log.TraceLevel)
	}

	return nil

}

// Cursor returns the highest tie-breaker value seen. Only safe to call once Run has returned.
func (p *Poller[D]) Cursor() Cursor {

	return p.cursor

}

func (p *Poller[D]) NumForwarded() int64 {

	return p.numForwarded.Load()

}
