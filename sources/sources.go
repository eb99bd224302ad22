package sources

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hazelcast/hazelcast-go-client/serialization"

	"correlatest/client"
	"correlatest/logging"
)

type (
	// Keyed records derive the correlation key from their own content, so both sides of a join
	// compute it the same way.
	Keyed interface {
		PrimaryKey() string
	}
	envelope[T any] struct {
		Record  T     `json:"record"`
		SavedAt int64 `json:"savedAt"`
	}
	// sequence hands out strictly increasing values close to the current time in nanoseconds.
	sequence struct {
		last atomic.Int64
		now  func() time.Time
	}
)

const savedAtAttribute = "savedAt"

var ErrUnexpectedValueType = errors.New("unexpected value type")

var lp *logging.LogProvider

func init() {
	lp = logging.GetLogProviderInstance(client.ID())
}

func newSequence() *sequence {

	return &sequence{now: time.Now}

}

func (s *sequence) next() int64 {

	for {
		last := s.last.Load()
		candidate := s.now().UnixNano()
		if candidate <= last {
			candidate = last + 1
		}
		if s.last.CompareAndSwap(last, candidate) {
			return candidate
		}
	}

}

func decodeJSONValue[T any](v any, target *T) error {

	var raw []byte
	switch value := v.(type) {
	case serialization.JSON:
		raw = value
	case []byte:
		raw = value
	case string:
		raw = []byte(value)
	default:
		return fmt.Errorf("%w: %T", ErrUnexpectedValueType, v)
	}

	return json.Unmarshal(raw, target)

}
