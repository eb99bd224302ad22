package scenarios

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"correlatest/correlation"
	"correlatest/poll"
)

type (
	// JoinStep joins upstream records with the downstream records a poller finds for them and
	// verifies each matched pair.
	JoinStep[U, D any] struct {
		Name string
		// Using extracts the correlation key of an upstream record.
		Using func(record U) correlation.Key
		// On fetches downstream records.
		On poll.Query[D]
		// Having overrides the key a downstream record was returned with. Optional.
		Having func(record D) correlation.Key
		Verify correlation.Predicate[U, D]
		Config JoinConfig
	}
	JoinConfig struct {
		Timeout          time.Duration
		Grace            time.Duration
		MaxOrphans       int
		SweepInterval    time.Duration
		PollDelay        time.Duration
		InitialDelay     time.Duration
		PollTimeout      time.Duration
		FailureThreshold int
		ReportErrors     bool
	}
	// RunningJoin is a started JoinStep accepting upstream records until Finish is called.
	RunningJoin[U, D any] struct {
		step           *JoinStep[U, D]
		c              *correlation.Correlator[U, D]
		p              *poll.Poller[D]
		cancel         context.CancelFunc
		correlatorDone chan struct{}
		pollerDone     chan struct{}
		errsDone       chan struct{}
		pollErr        error
		numErrors      atomic.Int64
	}
	StepResult struct {
		Name         string
		Report       correlation.ReportSnapshot
		ReportErrors bool
		NumErrors    int64
		// PollErr is set when the poller gave up before all expectations were resolved.
		PollErr error
	}
)

var (
	ErrStepFailed   = errors.New("join step failed")
	errMissingUsing = errors.New("join step requires a key extractor for upstream records")
	errMissingOn    = errors.New("join step requires a downstream query")
)

func (s *JoinStep[U, D]) validate() error {

	if s.Using == nil {
		return errMissingUsing
	}
	if s.On == nil {
		return errMissingOn
	}

	return nil

}

func (s *JoinStep[U, D]) query() poll.Query[D] {

	if s.Having == nil {
		return s.On
	}

	return func(ctx context.Context, after poll.Cursor) ([]poll.Record[D], error) {
		records, err := s.On(ctx, after)
		for i := range records {
			records[i].Key = s.Having(records[i].Payload)
		}
		return records, err
	}

}

// Start launches the correlator's expiry sweep and the poller. Both stop when the given context is
// done, in which case all unresolved expectations are cancelled.
func (s *JoinStep[U, D]) Start(ctx context.Context) (*RunningJoin[U, D], error) {

	if err := s.validate(); err != nil {
		return nil, err
	}

	stepCtx, cancel := context.WithCancel(ctx)

	c := correlation.New[U, D](s.Name, correlation.Config{
		Timeout:       s.Config.Timeout,
		Grace:         s.Config.Grace,
		MaxOrphans:    s.Config.MaxOrphans,
		SweepInterval: s.Config.SweepInterval,
	}, s.Verify)

	p := poll.New[D](s.Name, s.query(), c, poll.Config{
		PollDelay:        s.Config.PollDelay,
		InitialDelay:     s.Config.InitialDelay,
		PollTimeout:      s.Config.PollTimeout,
		FailureThreshold: s.Config.FailureThreshold,
	})

	rj := &RunningJoin[U, D]{
		step:           s,
		c:              c,
		p:              p,
		cancel:         cancel,
		correlatorDone: make(chan struct{}),
		pollerDone:     make(chan struct{}),
		errsDone:       make(chan struct{}),
	}

	go func() {
		defer close(rj.correlatorDone)
		c.Run(stepCtx)
	}()
	go func() {
		defer close(rj.pollerDone)
		rj.pollErr = p.Run(stepCtx)
	}()
	go rj.consumeErrors()

	lp.LogScenarioEvent(fmt.Sprintf("join step started with timeout %s", s.Config.Timeout), s.Name, log.InfoLevel)

	return rj, nil

}

// Emit registers the expectation for an upstream record. It only fails for records whose key is
// already pending.
func (rj *RunningJoin[U, D]) Emit(record U) error {

	return rj.c.Emit(rj.step.Using(record), record)

}

func (rj *RunningJoin[U, D]) Report() correlation.ReportSnapshot {

	return rj.c.Report()

}

// Finish tells the poller no more upstream records follow and waits until every expectation is
// resolved, the poller gives up or the context passed to Start is done.
func (rj *RunningJoin[U, D]) Finish() StepResult {

	rj.p.Stop()
	<-rj.pollerDone

	rj.cancel()
	<-rj.correlatorDone
	<-rj.errsDone

	if rj.pollErr != nil {
		lp.LogScenarioEvent(fmt.Sprintf("poller gave up: %v", rj.pollErr), rj.step.Name, log.ErrorLevel)
	}

	return StepResult{
		Name:         rj.step.Name,
		Report:       rj.c.Report(),
		ReportErrors: rj.step.Config.ReportErrors,
		NumErrors:    rj.numErrors.Load(),
		PollErr:      rj.pollErr,
	}

}

func (rj *RunningJoin[U, D]) consumeErrors() {

	defer close(rj.errsDone)

	errs := rj.c.Errors()
	for {
		select {
		case err := <-errs:
			rj.recordError(err)
		case <-rj.correlatorDone:
			for {
				select {
				case err := <-errs:
					rj.recordError(err)
				default:
					return
				}
			}
		}
	}

}

func (rj *RunningJoin[U, D]) recordError(err error) {

	rj.numErrors.Add(1)

	level := log.DebugLevel
	if rj.step.Config.ReportErrors {
		level = log.WarnLevel
	}
	lp.LogScenarioEvent(fmt.Sprintf("correlation error: %v", err), rj.step.Name, level)

}

// Failed reports whether the step must fail the scenario it belongs to.
func (r StepResult) Failed() bool {

	return r.PollErr != nil || r.Report.Failed(r.ReportErrors)

}

func (r StepResult) Err() error {

	if !r.Failed() {
		return nil
	}

	if r.PollErr != nil {
		return fmt.Errorf("%w: '%s': %w", ErrStepFailed, r.Name, r.PollErr)
	}

	return fmt.Errorf("%w: '%s': %d of %d correlation/-s failed (timed out: %d, errored: %d, cancelled: %d, failed verifications: %d)",
		ErrStepFailed, r.Name, r.Report.NumFailures(), r.Report.Registered, r.Report.TimedOut, r.Report.Errored, r.Report.Cancelled, r.Report.FailedVerifications)

}
