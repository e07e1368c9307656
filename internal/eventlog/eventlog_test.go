package eventlog

import (
	"fmt"
	"testing"
	"time"

	"github.com/incidentiq-ai/diagnosis-platform/internal/model"
)

func makeEvents(n int) []model.TaskEvent {
	base := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	events := make([]model.TaskEvent, n)
	for i := range events {
		events[i] = model.TaskEvent{
			SessionID: "s1",
			AgentName: "log_analyzer",
			EventType: model.EventTypeProgress,
			Message:   fmt.Sprintf("step %d", i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}
	}
	return events
}

func assertSequence(t *testing.T, got, want []model.TaskEvent) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Key() != want[i].Key() {
			t.Fatalf("event %d: got %q, want %q", i, got[i].Message, want[i].Message)
		}
	}
}

func TestMergeAppendsNovel(t *testing.T) {
	events := makeEvents(5)
	merged := Merge(events[:3], events[3:])
	assertSequence(t, merged, events)
}

func TestMergeFullyDuplicateReturnsExisting(t *testing.T) {
	events := makeEvents(4)
	merged := Merge(events, events[1:3])
	if len(merged) != len(events) {
		t.Fatalf("duplicate batch grew the log: %d -> %d", len(events), len(merged))
	}
	assertSequence(t, merged, events)
}

func TestMergeOverlappingBatch(t *testing.T) {
	events := makeEvents(7)
	// Replay overlaps the live prefix; only the suffix is novel.
	merged := Merge(events[:5], events[2:])
	assertSequence(t, merged, events)
}

func TestMergeIdempotentAcrossPartitions(t *testing.T) {
	events := makeEvents(6)

	// Any partitioning into overlapping, duplicated batches yields the same
	// first-seen sequence as applying the whole list once.
	partitions := [][][2]int{
		{{0, 6}},
		{{0, 3}, {3, 6}},
		{{0, 4}, {2, 6}, {0, 6}},
		{{0, 2}, {0, 2}, {1, 5}, {4, 6}, {0, 6}},
	}

	for _, batches := range partitions {
		var merged []model.TaskEvent
		for _, b := range batches {
			merged = Merge(merged, events[b[0]:b[1]])
		}
		assertSequence(t, merged, events)
	}
}

func TestMergeDeduplicatesWithinBatch(t *testing.T) {
	events := makeEvents(3)
	batch := []model.TaskEvent{events[0], events[1], events[0], events[2], events[1]}
	merged := Merge(nil, batch)
	assertSequence(t, merged, events)
}

func TestMergeDoesNotMutateExisting(t *testing.T) {
	events := makeEvents(4)
	existing := make([]model.TaskEvent, 2, 4)
	copy(existing, events[:2])

	merged := Merge(existing, events[2:])
	if len(existing) != 2 {
		t.Fatal("existing slice length changed")
	}
	assertSequence(t, merged, events)

	// Appending through spare capacity of existing must not alias merged.
	existing = append(existing, model.TaskEvent{AgentName: "x", Message: "clobber"})
	if merged[2].AgentName == "x" {
		t.Fatal("merge aliased the existing slice's backing array")
	}
}

func TestLogAppendCountsNovel(t *testing.T) {
	events := makeEvents(5)
	log := New()

	if n := log.Append(events[:3]...); n != 3 {
		t.Errorf("first append: novel = %d, want 3", n)
	}
	if n := log.Append(events[1:]...); n != 2 {
		t.Errorf("overlapping append: novel = %d, want 2", n)
	}
	if log.Len() != 5 {
		t.Errorf("len = %d, want 5", log.Len())
	}
	assertSequence(t, log.Events(), events)
}

func TestLogReset(t *testing.T) {
	log := New()
	log.Append(makeEvents(3)...)
	log.Reset()
	if log.Len() != 0 {
		t.Errorf("len after reset = %d", log.Len())
	}
}
