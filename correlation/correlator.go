package correlation

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

type (
	// Correlator joins upstream emissions with downstream observations by key. Each key moves from
	// PENDING to exactly one of MATCHED, TIMED_OUT, ERRORED or CANCELLED.
	Correlator[U, D any] struct {
		name          string
		store         *Store[U, D]
		verifier      *Verifier[U, D]
		report        *Report
		sweepInterval time.Duration
		now           Clock
		errs          chan error
		onMatch       func(MatchedPair[U, D], Outcome)
	}
	Config struct {
		Timeout       time.Duration
		Grace         time.Duration
		MaxOrphans    int
		SweepInterval time.Duration
		// ErrorBufferSize is the capacity of the error stream; errors beyond it are logged and dropped.
		ErrorBufferSize int
		Clock           Clock
	}
)

const (
	defaultSweepInterval   = 100 * time.Millisecond
	defaultErrorBufferSize = 1000
)

func New[U, D any](name string, c Config, p Predicate[U, D]) *Correlator[U, D] {

	now := c.Clock
	if now == nil {
		now = time.Now
	}
	sweepInterval := c.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	errorBufferSize := c.ErrorBufferSize
	if errorBufferSize <= 0 {
		errorBufferSize = defaultErrorBufferSize
	}

	r := &Report{}

	return &Correlator[U, D]{
		name: name,
		store: NewStore[U, D](name, StoreConfig{
			Timeout:    c.Timeout,
			Grace:      c.Grace,
			MaxOrphans: c.MaxOrphans,
			Clock:      now,
		}, r),
		verifier:      NewVerifier[U, D](name, p, r),
		report:        r,
		sweepInterval: sweepInterval,
		now:           now,
		errs:          make(chan error, errorBufferSize),
	}

}

func (c *Correlator[U, D]) Name() string {

	return c.name

}

// OnMatch installs a callback invoked after each matched pair has been verified. Must be set before
// the correlator receives records.
func (c *Correlator[U, D]) OnMatch(f func(MatchedPair[U, D], Outcome)) {

	c.onMatch = f

}

// Errors streams per-key failures: duplicate keys, timeouts, cancellations and failed verifications.
func (c *Correlator[U, D]) Errors() <-chan error {

	return c.errs

}

// Emit registers the expectation for an upstream record.
func (c *Correlator[U, D]) Emit(key Key, payload U) error {

	_, pair, err := c.store.Register(key, payload)
	if err != nil {
		lp.LogCorrelationEvent(fmt.Sprintf("unable to register expectation: %v", err), c.name, log.ErrorLevel)
		c.publish(err)
		return err
	}

	if pair != nil {
		c.handlePair(pair)
	}

	return nil

}

// Observe hands a downstream record to the join.
func (c *Correlator[U, D]) Observe(key Key, payload D, observedAt time.Time) {

	if pair := c.store.Observe(key, payload, observedAt); pair != nil {
		c.handlePair(pair)
	}

}

// Deliver hands a batch of downstream records to the join, in order.
func (c *Correlator[U, D]) Deliver(records []PolledRecord[D]) {

	for _, r := range records {
		c.Observe(r.Key, r.Payload, r.ObservedAt)
	}

}

func (c *Correlator[U, D]) handlePair(pair *MatchedPair[U, D]) {

	if pair.ClockSkew {
		lp.LogCorrelationEvent(ClockSkewWarning{Key: pair.Key, Latency: pair.Latency}.Error(), c.name, log.WarnLevel)
	}
	lp.LogTimingEvent("time-to-"+c.name, c.name, pair.Latency.Milliseconds(), log.InfoLevel)

	o := c.verifier.Verify(*pair)
	if !o.Pass {
		c.publish(AssertionFailure{Key: pair.Key, Message: o.Message})
	}

	if c.onMatch != nil {
		c.onMatch(*pair, o)
	}

}

// Sweep times out every expectation past its deadline and returns how many it found.
func (c *Correlator[U, D]) Sweep() int {

	expired := c.store.Expire(c.now())
	for _, e := range expired {
		err := TimeoutError{Key: e.Key, EmittedAt: e.EmittedAt, Deadline: e.Deadline}
		lp.LogCorrelationEvent(err.Error(), c.name, log.WarnLevel)
		c.publish(err)
	}

	return len(expired)

}

// Run sweeps for expired expectations until the context is done. Before returning, expectations
// past their deadline are timed out and all others are cancelled.
func (c *Correlator[U, D]) Run(ctx context.Context) {

	lp.LogCorrelationEvent(fmt.Sprintf("starting expiry sweep every %s", c.sweepInterval), c.name, log.InfoLevel)

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.finalize()
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				lp.LogCorrelationEvent(fmt.Sprintf("%d expectation/-s timed out in sweep", n), c.name, log.InfoLevel)
			}
		}
	}

}

func (c *Correlator[U, D]) finalize() {

	c.Sweep()

	cancelled := c.store.Drain(c.now())
	for _, e := range cancelled {
		c.publish(CancelledError{Key: e.Key})
	}

	if len(cancelled) > 0 {
		lp.LogCorrelationEvent(fmt.Sprintf("cancelled %d pending expectation/-s", len(cancelled)), c.name, log.WarnLevel)
	}

}

func (c *Correlator[U, D]) publish(err error) {

	select {
	case c.errs <- err:
	default:
		lp.LogCorrelationEvent(fmt.Sprintf("error stream full, dropping: %v", err), c.name, log.TraceLevel)
	}

}

func (c *Correlator[U, D]) NumPending() int {

	return c.store.NumPending()

}

func (c *Correlator[U, D]) State(key Key) (State, bool) {

	return c.store.State(key)

}

func (c *Correlator[U, D]) Report() ReportSnapshot {

	return c.report.Snapshot()

}
