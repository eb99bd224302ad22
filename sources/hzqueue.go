package sources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hazelcast/hazelcast-go-client/serialization"
	log "github.com/sirupsen/logrus"

	"correlatest/correlation"
	"correlatest/hazelcastwrapper"
	"correlatest/poll"
)

// QueueSource produces records into a queue and consumes them in batches. Consumption removes
// elements, so each record is seen once; the cursor is a local sequence.
type QueueSource[T Keyed] struct {
	queueName string
	q         hazelcastwrapper.Queue
	batchSize int
	seq       *sequence
}

const defaultQueuePollBatchSize = 100

func NewQueueSource[T Keyed](queueName string, q hazelcastwrapper.Queue, batchSize int) *QueueSource[T] {

	if batchSize <= 0 {
		batchSize = defaultQueuePollBatchSize
	}

	return &QueueSource[T]{
		queueName: queueName,
		q:         q,
		batchSize: batchSize,
		seq:       newSequence(),
	}

}

func (s *QueueSource[T]) Save(ctx context.Context, record T) error {

	value, err := json.Marshal(record)
	if err != nil {
		return err
	}

	if err := s.q.Put(ctx, serialization.JSON(value)); err != nil {
		lp.LogHzEvent(fmt.Sprintf("unable to put record '%s' into queue '%s': %v", record.PrimaryKey(), s.queueName, err), log.WarnLevel)
		return err
	}

	return nil

}

// Query polls up to one batch of elements off the queue. If polling fails after some elements were
// consumed already, those are returned rather than lost, and the error is only logged.
func (s *QueueSource[T]) Query(ctx context.Context, _ poll.Cursor) ([]poll.Record[T], error) {

	var records []poll.Record[T]
	for i := 0; i < s.batchSize; i++ {
		v, err := s.q.Poll(ctx)
		if err != nil {
			if len(records) == 0 {
				return nil, err
			}
			lp.LogHzEvent(fmt.Sprintf("unable to poll queue '%s', returning %d element/-s consumed so far: %v", s.queueName, len(records), err), log.WarnLevel)
			break
		}
		if v == nil {
			break
		}
		var record T
		if err := decodeJSONValue(v, &record); err != nil {
			lp.LogHzEvent(fmt.Sprintf("skipping undecodable element of queue '%s': %v", s.queueName, err), log.WarnLevel)
			continue
		}
		records = append(records, poll.Record[T]{
			Cursor:  poll.Cursor(s.seq.next()),
			Key:     correlation.Key(record.PrimaryKey()),
			Payload: record,
		})
	}

	return records, nil

}
