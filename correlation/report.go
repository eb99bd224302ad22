package correlation

import (
	"sync/atomic"
)

type (
	// Report aggregates the outcome of all correlations of one step over the life of a scenario run.
	// All counters may be increased concurrently.
	Report struct {
		registered atomic.Int64
		matched    atomic.Int64
		timedOut   atomic.Int64
		errored    atomic.Int64
		cancelled  atomic.Int64
		orphaned   atomic.Int64
		late       atomic.Int64
		clockSkew  atomic.Int64
		passed     atomic.Int64
		failed     atomic.Int64
	}
	ReportSnapshot struct {
		Registered          int64 `json:"registered"`
		Matched             int64 `json:"matched"`
		TimedOut            int64 `json:"timedOut"`
		Errored             int64 `json:"errored"`
		Cancelled           int64 `json:"cancelled"`
		Orphaned            int64 `json:"orphaned"`
		Late                int64 `json:"late"`
		ClockSkew           int64 `json:"clockSkew"`
		Passed              int64 `json:"passed"`
		FailedVerifications int64 `json:"failed"`
	}
)

func (r *Report) Snapshot() ReportSnapshot {

	return ReportSnapshot{
		Registered:          r.registered.Load(),
		Matched:             r.matched.Load(),
		TimedOut:            r.timedOut.Load(),
		Errored:             r.errored.Load(),
		Cancelled:           r.cancelled.Load(),
		Orphaned:            r.orphaned.Load(),
		Late:                r.late.Load(),
		ClockSkew:           r.clockSkew.Load(),
		Passed:              r.passed.Load(),
		FailedVerifications: r.failed.Load(),
	}

}

// NumFailures counts the correlations that ended in a terminal failure, plus failed verifications.
func (s ReportSnapshot) NumFailures() int64 {

	return s.TimedOut + s.Errored + s.Cancelled + s.FailedVerifications

}

// Failed reports whether a step with the given report setting must fail the scenario run.
func (s ReportSnapshot) Failed(reportErrors bool) bool {

	return reportErrors && s.NumFailures() > 0

}

// Pending is the number of expectations not yet in a terminal state.
func (s ReportSnapshot) Pending() int64 {

	return s.Registered - s.Matched - s.TimedOut - s.Cancelled

}
