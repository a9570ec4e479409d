package event

import "time"

// Event is implemented by payloads that carry a type name and an occurrence
// time. The bus uses Type for metric labels and type filters.
type Event interface {
	Type() string
	Timestamp() time.Time
}
