package poll

import (
	"errors"
	"fmt"
)

type (
	// PollQueryError is a failed query against the downstream system. Transient by itself; the
	// poller only gives up once a number of them occurred in a row.
	PollQueryError struct {
		Poller              string
		ConsecutiveFailures int
		Cause               error
	}
)

var ErrPollerUnhealthy = errors.New("poller exceeded failure threshold")

func (e PollQueryError) Error() string {

	return fmt.Sprintf("query of poller '%s' failed (%d consecutive failure/-s): %v", e.Poller, e.ConsecutiveFailures, e.Cause)

}

func (e PollQueryError) Unwrap() error {

	return e.Cause

}
