package correlation

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

type (
	// Predicate asserts on a matched pair. A non-nil error fails the verification; the error text
	// becomes the outcome's message.
	Predicate[U, D any] func(pair MatchedPair[U, D]) error
	Outcome              struct {
		Pass    bool
		Message string
	}
	Verifier[U, D any] struct {
		name      string
		predicate Predicate[U, D]
		report    *Report
	}
)

func NewVerifier[U, D any](name string, p Predicate[U, D], r *Report) *Verifier[U, D] {

	return &Verifier[U, D]{
		name:      name,
		predicate: p,
		report:    r,
	}

}

// Verify applies the predicate to the pair. Errors returned and panics raised by the predicate are
// both reported as failed outcomes; neither escapes this method.
func (v *Verifier[U, D]) Verify(pair MatchedPair[U, D]) (o Outcome) {

	if v.predicate == nil {
		v.report.passed.Add(1)
		return Outcome{Pass: true}
	}

	defer func() {
		if r := recover(); r != nil {
			err := AssertionFailure{Key: pair.Key, Message: fmt.Sprintf("%v", r), Cause: ErrPredicatePanicked}
			v.report.failed.Add(1)
			lp.LogVerifierEvent(err.Error(), v.name, log.WarnLevel)
			o = Outcome{Pass: false, Message: err.Error()}
		}
	}()

	if err := v.predicate(pair); err != nil {
		var af AssertionFailure
		if !errors.As(err, &af) {
			af = AssertionFailure{Key: pair.Key, Message: err.Error()}
		}
		v.report.failed.Add(1)
		lp.LogVerifierEvent(af.Error(), v.name, log.WarnLevel)
		return Outcome{Pass: false, Message: af.Error()}
	}

	v.report.passed.Add(1)
	lp.LogVerifierEvent(fmt.Sprintf("verification of key '%s' passed", pair.Key), v.name, log.TraceLevel)

	return Outcome{Pass: true}

}

// Equal builds a predicate comparing a value extracted from the upstream record with one extracted
// from the downstream record.
func Equal[U, D any, V comparable](upstream func(U) V, downstream func(D) V) Predicate[U, D] {

	return func(pair MatchedPair[U, D]) error {
		expected, actual := upstream(pair.Upstream), downstream(pair.Downstream)
		if expected != actual {
			return fmt.Errorf("%w: expected %v, got %v", ErrAssertion, expected, actual)
		}
		return nil
	}

}
