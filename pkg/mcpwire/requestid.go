package mcpwire

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
)

// RequestID is a JSON-RPC id, which may be a string or a number. This
// module always issues string ids, but peers may answer with either form,
// so both are preserved through a round trip.
type RequestID struct {
	value any
}

// NewRequestID wraps a string or numeric id. Unsupported types yield a nil id.
func NewRequestID(value any) *RequestID {
	switch value.(type) {
	case string, int, int32, int64, float32, float64:
		return &RequestID{value: value}
	default:
		return &RequestID{}
	}
}

// IsNil reports whether the id is absent.
func (id *RequestID) IsNil() bool {
	return id == nil || id.value == nil
}

// String renders the id for correlation-map keys and logging. Numeric ids of
// equal value render identically regardless of the decoded Go type.
func (id *RequestID) String() string {
	if id.IsNil() {
		return ""
	}
	if s, ok := id.value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", id.value)
}

// MarshalJSON implements json.Marshaler.
func (id *RequestID) MarshalJSON() ([]byte, error) {
	if id.IsNil() {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		id.value = nil
		return nil
	}
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		if num == float64(int64(num)) {
			id.value = int64(num)
		} else {
			id.value = num
		}
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		id.value = str
		return nil
	}
	return errors.Newf("mcpwire: id must be a string or number, got %s", string(data))
}
