package stream

import "sync"

// Record is one decoded JSON object from the firehose.
type Record map[string]any

// Handler receives records and lifecycle errors. Exactly one of rec and err is non-nil.
type Handler func(rec Record, err error)

// Serialize wraps h so that calls from the connection goroutine and from the driver
// never overlap.
func Serialize(h Handler) Handler {
	var mu sync.Mutex
	return func(rec Record, err error) {
		mu.Lock()
		defer mu.Unlock()
		h(rec, err)
	}
}
