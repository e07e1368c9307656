package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/incidentiq-ai/diagnosis-platform/internal/model"
)

const (
	// StreamName is the name of the diagnosis event history stream.
	StreamName = "DIAGNOSIS"

	// SubjectPrefix is the prefix for all diagnosis subjects.
	SubjectPrefix = "diag"

	// fetchBatchSize is the page size used when reading a session's history.
	fetchBatchSize = 256
)

// StreamManager handles JetStream operations for session event history. It
// implements the event store consumed by the API layer: Append persists a
// task event; List returns a session's complete, canonically ordered
// history, which is what the replay endpoint serves.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the diagnosis stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	// Check if stream exists
	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}

	// Create stream. Live fan-out subjects (diag.live.*) stay outside the
	// stream on purpose; only the durable event history is captured.
	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.*.event.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024, // 10GB
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		DenyDelete:  true,
		DenyPurge:   true,
		Description: "Diagnostic session task events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// EventSubject returns the history subject for a task event.
func EventSubject(sessionID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.event.%s", SubjectPrefix, sessionID, eventType)
}

// LiveSubject returns the fan-out subject for a session's live frames.
func LiveSubject(sessionID string) string {
	return fmt.Sprintf("%s.live.%s", SubjectPrefix, sessionID)
}

// SessionFilter returns the filter subject for all events of a session.
func SessionFilter(sessionID string) string {
	return fmt.Sprintf("%s.%s.event.>", SubjectPrefix, sessionID)
}

// Append publishes a task event to the session's history.
func (m *StreamManager) Append(ctx context.Context, event model.TaskEvent) error {
	subject := EventSubject(event.SessionID, event.EventType)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := m.client.JetStream().Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// List retrieves the complete event history for a session, in publish order.
func (m *StreamManager) List(ctx context.Context, sessionID string) ([]model.TaskEvent, error) {
	js := m.client.JetStream()

	consumer, err := js.CreateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		FilterSubject: SessionFilter(sessionID),
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	var events []model.TaskEvent
	for {
		batch, err := consumer.Fetch(fetchBatchSize, jetstream.FetchMaxWait(2*time.Second))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch events: %w", err)
		}

		count := 0
		for msg := range batch.Messages() {
			count++
			var event model.TaskEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				// One corrupt record must not make the whole history
				// unreadable.
				continue
			}
			events = append(events, event)
		}

		if batch.Error() != nil && !errors.Is(batch.Error(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("batch error: %w", batch.Error())
		}
		if count < fetchBatchSize {
			return events, nil
		}
	}
}
