// Package tally aggregates firehose records by the value of one field.
package tally

import (
	"fmt"
	"maps"
	"sync"

	"github.com/florianilch/firehose/internal/stream"
)

// DefaultField is the record field counted when none is configured.
const DefaultField = "browser"

// Counter counts occurrences of each value of a record field.
type Counter struct {
	field string

	mu     sync.RWMutex
	counts map[string]int
	total  int
}

// New creates a Counter for field.
func New(field string) *Counter {
	if field == "" {
		field = DefaultField
	}
	return &Counter{
		field:  field,
		counts: make(map[string]int),
	}
}

// Field returns the counted field name.
func (c *Counter) Field() string {
	return c.field
}

// Observe counts rec. Records without the field, or with an empty value, are ignored.
// Reports whether the record was counted.
func (c *Counter) Observe(rec stream.Record) bool {
	raw, ok := rec[c.field]
	if !ok || raw == nil {
		return false
	}

	var value string
	switch v := raw.(type) {
	case string:
		value = v
	default:
		value = fmt.Sprint(v)
	}
	if value == "" {
		return false
	}

	c.mu.Lock()
	c.counts[value]++
	c.total++
	c.mu.Unlock()
	return true
}

// Snapshot is a point-in-time copy of the counts.
type Snapshot struct {
	Field  string         `json:"field"`
	Total  int            `json:"total"`
	Counts map[string]int `json:"counts"`
}

// Snapshot returns a copy of the current counts.
func (c *Counter) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Field:  c.field,
		Total:  c.total,
		Counts: maps.Clone(c.counts),
	}
}
