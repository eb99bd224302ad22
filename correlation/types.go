package correlation

import (
	"time"
)

type (
	// Key correlates an upstream emission with its downstream observation, e.g. "<deviceId>:<timestamp>".
	Key   string
	State string
	// PendingExpectation is created when upstream emits and lives until it reaches a terminal state.
	PendingExpectation[U any] struct {
		Key       Key
		Payload   U
		EmittedAt time.Time
		Deadline  time.Time
	}
	PolledRecord[D any] struct {
		Key        Key
		Payload    D
		ObservedAt time.Time
	}
	MatchedPair[U, D any] struct {
		Key        Key
		Upstream   U
		Downstream D
		EmittedAt  time.Time
		ObservedAt time.Time
		Latency    time.Duration
		// ClockSkew is set when the downstream record was observed before the upstream emission
		// was registered, which yields a negative latency.
		ClockSkew bool
	}
	Clock func() time.Time
)

const (
	Pending   State = "PENDING"
	Matched   State = "MATCHED"
	TimedOut  State = "TIMED_OUT"
	Errored   State = "ERRORED"
	Cancelled State = "CANCELLED"
)

func (s State) Terminal() bool {

	return s == Matched || s == TimedOut || s == Errored || s == Cancelled

}

func newMatchedPair[U, D any](e *PendingExpectation[U], r *PolledRecord[D]) *MatchedPair[U, D] {

	latency := r.ObservedAt.Sub(e.EmittedAt)

	return &MatchedPair[U, D]{
		Key:        e.Key,
		Upstream:   e.Payload,
		Downstream: r.Payload,
		EmittedAt:  e.EmittedAt,
		ObservedAt: r.ObservedAt,
		Latency:    latency,
		ClockSkew:  latency < 0,
	}

}
