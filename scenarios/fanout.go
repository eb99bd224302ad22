package scenarios

import (
	"errors"
)

type (
	Emitter[U any] interface {
		Emit(record U) error
	}
	// Fanout hands each upstream record to several joins, so one producer can verify more than one
	// downstream system independently.
	Fanout[U any] []Emitter[U]
)

// Emit registers the record with every join. A join refusing the record does not keep it from the
// others.
func (f Fanout[U]) Emit(record U) error {

	var errs []error
	for _, e := range f {
		if err := e.Emit(record); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)

}
