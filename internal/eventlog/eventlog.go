// Package eventlog provides an append-only, duplicate-suppressing event
// collection for a diagnostic session. The same event can reach the client
// twice, once on the live channel and again in a replay batch, so every
// insertion path goes through an idempotent merge.
package eventlog

import (
	"github.com/incidentiq-ai/diagnosis-platform/internal/model"
)

// Merge appends to existing every event of incoming whose dedup key is not
// already present, preserving the relative order of incoming and never
// reordering previously accepted events. It is pure: when nothing is novel
// the existing slice is returned unchanged, and existing is never mutated in
// place.
func Merge(existing, incoming []model.TaskEvent) []model.TaskEvent {
	if len(incoming) == 0 {
		return existing
	}

	seen := make(map[model.EventKey]struct{}, len(existing))
	for _, e := range existing {
		seen[e.Key()] = struct{}{}
	}

	var novel []model.TaskEvent
	for _, e := range incoming {
		key := e.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		novel = append(novel, e)
	}

	if len(novel) == 0 {
		return existing
	}

	merged := make([]model.TaskEvent, 0, len(existing)+len(novel))
	merged = append(merged, existing...)
	merged = append(merged, novel...)
	return merged
}

// Log accumulates events for the active session. It is a thin stateful
// wrapper over Merge for consumers that want a place to keep the slice; all
// ordering and dedup semantics live in Merge.
type Log struct {
	events []model.TaskEvent
}

// New returns an empty log.
func New() *Log {
	return &Log{}
}

// Append merges a batch into the log and reports how many events were novel.
func (l *Log) Append(incoming ...model.TaskEvent) int {
	before := len(l.events)
	l.events = Merge(l.events, incoming)
	return len(l.events) - before
}

// Events returns the accepted events in first-seen order. The returned slice
// must not be mutated by the caller.
func (l *Log) Events() []model.TaskEvent {
	return l.events
}

// Len returns the number of accepted events.
func (l *Log) Len() int {
	return len(l.events)
}

// Reset discards all accepted events. Called on session switch, never on a
// mere reconnect.
func (l *Log) Reset() {
	l.events = nil
}
