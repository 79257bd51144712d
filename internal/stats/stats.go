// Package stats is the in-process observability sink. Every model
// invocation and tool execution records a snapshot here; handlers read an
// aggregate view. The sink is injected wherever it is needed so nothing
// in the pipeline touches shared globals.
package stats

import (
	"sync"
	"time"

	"github.com/smartcathome/whisker/pkg/models"
)

// DefaultCapacity bounds the in-memory invocation history.
const DefaultCapacity = 200

// Sink collects invocation records and tool usage counters. Safe for
// concurrent use.
type Sink struct {
	mu          sync.RWMutex
	records     []models.InvocationRecord
	capacity    int
	toolCalls   map[string]int64
	toolErrors  map[string]int64
	invocations int64
	degraded    int64
}

// NewSink creates a sink retaining up to capacity recent records.
func NewSink(capacity int) *Sink {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Sink{
		capacity:   capacity,
		toolCalls:  make(map[string]int64),
		toolErrors: make(map[string]int64),
	}
}

// RecordInvocation stores one model invocation snapshot, evicting the
// oldest when the ring is full.
func (s *Sink) RecordInvocation(rec models.InvocationRecord) {
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.invocations++
	if rec.Degraded {
		s.degraded++
	}
	if len(s.records) >= s.capacity {
		s.records = s.records[1:]
	}
	s.records = append(s.records, rec)
}

// RecordToolUse counts one tool execution.
func (s *Sink) RecordToolUse(name string, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.toolCalls[name]++
	if !success {
		s.toolErrors[name]++
	}
}

// Snapshot is the aggregate view served by the stats endpoint.
type Snapshot struct {
	Invocations int64                      `json:"invocations"`
	Degraded    int64                      `json:"degraded"`
	ToolCalls   map[string]int64           `json:"tool_calls"`
	ToolErrors  map[string]int64           `json:"tool_errors"`
	Recent      []models.InvocationRecord  `json:"recent"`
}

// Snapshot returns a copy of the current state.
func (s *Sink) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Invocations: s.invocations,
		Degraded:    s.degraded,
		ToolCalls:   make(map[string]int64, len(s.toolCalls)),
		ToolErrors:  make(map[string]int64, len(s.toolErrors)),
		Recent:      make([]models.InvocationRecord, len(s.records)),
	}
	for name, count := range s.toolCalls {
		snap.ToolCalls[name] = count
	}
	for name, count := range s.toolErrors {
		snap.ToolErrors[name] = count
	}
	copy(snap.Recent, s.records)
	return snap
}

// LastInvocation returns the most recent record, if any.
func (s *Sink) LastInvocation() (models.InvocationRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.records) == 0 {
		return models.InvocationRecord{}, false
	}
	return s.records[len(s.records)-1], true
}
