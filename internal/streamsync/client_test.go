package streamsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/incidentiq-ai/diagnosis-platform/internal/model"
	"github.com/incidentiq-ai/diagnosis-platform/pkg/logger"
)

const waitTimeout = 2 * time.Second

type recvMsg struct {
	data []byte
	err  error
}

type fakeConn struct {
	recvCh    chan recvMsg
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		recvCh: make(chan recvMsg, 32),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Recv() ([]byte, error) {
	select {
	case m := <-c.recvCh:
		return m.data, m.err
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(data []byte) { c.recvCh <- recvMsg{data: data} }
func (c *fakeConn) fail(err error)   { c.recvCh <- recvMsg{err: err} }

type openedConn struct {
	conn      *fakeConn
	sessionID string
}

type fakeTransport struct {
	mu       sync.Mutex
	failures int // number of Opens to fail; negative means always
	opened   chan openedConn
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{opened: make(chan openedConn, 8)}
}

func (t *fakeTransport) failNext(n int) {
	t.mu.Lock()
	t.failures = n
	t.mu.Unlock()
}

func (t *fakeTransport) Open(_ context.Context, sessionID string) (Conn, error) {
	t.mu.Lock()
	if t.failures != 0 {
		if t.failures > 0 {
			t.failures--
		}
		t.mu.Unlock()
		return nil, errors.New("connection refused")
	}
	t.mu.Unlock()

	conn := newFakeConn()
	t.opened <- openedConn{conn: conn, sessionID: sessionID}
	return conn, nil
}

type fakeReplayer struct {
	mu      sync.Mutex
	history []model.TaskEvent
	err     error
	calls   int
	gate    chan struct{} // when set, Events blocks until it closes
}

func (r *fakeReplayer) set(history []model.TaskEvent, err error) {
	r.mu.Lock()
	r.history = history
	r.err = err
	r.mu.Unlock()
}

func (r *fakeReplayer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *fakeReplayer) Events(_ context.Context, _ string) ([]model.TaskEvent, error) {
	r.mu.Lock()
	r.calls++
	history, err, gate := r.history, r.err, r.gate
	r.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return history, err
}

type call struct {
	kind      string // event, chat, connect, disconnect, error, permanent
	event     model.TaskEvent
	sessionID string
}

type fakeHandler struct {
	calls chan call
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{calls: make(chan call, 128)}
}

func (h *fakeHandler) OnEvent(event model.TaskEvent) {
	h.calls <- call{kind: "event", event: event}
}

func (h *fakeHandler) OnChatMessage(msg model.ChatMessage) {
	h.calls <- call{kind: "chat"}
}

func (h *fakeHandler) OnConnect(sessionID string) {
	h.calls <- call{kind: "connect", sessionID: sessionID}
}

func (h *fakeHandler) OnDisconnect(sessionID string, err error) {
	h.calls <- call{kind: "disconnect", sessionID: sessionID}
}

func (h *fakeHandler) OnError(err error) {
	h.calls <- call{kind: "error"}
}

func (h *fakeHandler) OnPermanentFailure(sessionID string) {
	h.calls <- call{kind: "permanent", sessionID: sessionID}
}

func (h *fakeHandler) next(t *testing.T) call {
	t.Helper()
	select {
	case c := <-h.calls:
		return c
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for callback")
		return call{}
	}
}

func (h *fakeHandler) expect(t *testing.T, kind string) call {
	t.Helper()
	c := h.next(t)
	if c.kind != kind {
		t.Fatalf("got callback %q, want %q", c.kind, kind)
	}
	return c
}

func (h *fakeHandler) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case c := <-h.calls:
		t.Fatalf("unexpected callback %q", c.kind)
	case <-time.After(50 * time.Millisecond):
	}
}

type manualTimer struct {
	mu      sync.Mutex
	stopped bool
}

func (m *manualTimer) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	return true
}

func (m *manualTimer) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

type scheduledRetry struct {
	delay time.Duration
	fire  func()
	timer *manualTimer
}

// captureTimers replaces the client's retry timer with a channel so tests
// drive the backoff clock themselves.
func captureTimers(c *Client) chan scheduledRetry {
	timers := make(chan scheduledRetry, 16)
	c.newTimer = func(d time.Duration, fn func()) timerHandle {
		m := &manualTimer{}
		timers <- scheduledRetry{delay: d, fire: fn, timer: m}
		return m
	}
	return timers
}

func waitRetry(t *testing.T, timers chan scheduledRetry) scheduledRetry {
	t.Helper()
	select {
	case r := <-timers:
		return r
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for retry to be scheduled")
		return scheduledRetry{}
	}
}

func waitConn(t *testing.T, transport *fakeTransport, sessionID string) *fakeConn {
	t.Helper()
	select {
	case o := <-transport.opened:
		if o.sessionID != sessionID {
			t.Fatalf("opened connection for %q, want %q", o.sessionID, sessionID)
		}
		return o.conn
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for connection")
		return nil
	}
}

func taskEvent(i int) model.TaskEvent {
	return model.TaskEvent{
		SessionID: "s1",
		AgentName: "log_analyzer",
		EventType: model.EventTypeProgress,
		Message:   fmt.Sprintf("e%d", i),
		Timestamp: time.Date(2026, 8, 29, 10, 0, i, 0, time.UTC),
	}
}

func eventFrame(e model.TaskEvent) []byte {
	return []byte(fmt.Sprintf(
		`{"type":"task_event","data":{"session_id":%q,"agent_name":%q,"event_type":%q,"message":%q,"timestamp":%q}}`,
		e.SessionID, e.AgentName, e.EventType, e.Message, e.Timestamp.Format(time.RFC3339),
	))
}

func newTestClient(transport Transport, replayer Replayer, handler Handler) *Client {
	return NewClient(transport, replayer, handler, logger.NewNop())
}

func TestLiveEventsForwarded(t *testing.T) {
	transport := newFakeTransport()
	replayer := &fakeReplayer{}
	handler := newFakeHandler()
	client := newTestClient(transport, replayer, handler)
	defer client.Close()

	client.SetSession("s1")
	conn := waitConn(t, transport, "s1")
	handler.expect(t, "connect")

	for i := 1; i <= 3; i++ {
		conn.push(eventFrame(taskEvent(i)))
	}
	for i := 1; i <= 3; i++ {
		c := handler.expect(t, "event")
		if c.event.Message != fmt.Sprintf("e%d", i) {
			t.Errorf("event %d: got %q", i, c.event.Message)
		}
	}
	if w := client.Watermark(); w != 3 {
		t.Errorf("watermark = %d, want 3", w)
	}

	conn.push([]byte(`{"type":"chat_response","data":{"role":"assistant","content":"hi","timestamp":"2026-08-29T10:00:00Z"}}`))
	handler.expect(t, "chat")

	// Undecodable frames are dropped without touching the connection.
	conn.push([]byte(`{garbage`))
	conn.push(eventFrame(taskEvent(4)))
	handler.expect(t, "event")
	if w := client.Watermark(); w != 4 {
		t.Errorf("watermark after dropped frame = %d, want 4", w)
	}

	if s := client.State(); s != model.ConnectionOpen {
		t.Errorf("state = %q, want open", s)
	}
	if n := replayer.callCount(); n != 0 {
		t.Errorf("first connect must not gap-fill, replay calls = %d", n)
	}
}

func TestBackoffScheduleAndPermanentFailure(t *testing.T) {
	transport := newFakeTransport()
	transport.failNext(-1)
	handler := newFakeHandler()
	client := newTestClient(transport, &fakeReplayer{}, handler)
	defer client.Close()

	timers := captureTimers(client)
	client.SetSession("s1")

	wantDelays := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		15 * time.Second, 15 * time.Second, 15 * time.Second,
		15 * time.Second, 15 * time.Second, 15 * time.Second,
	}

	for i, want := range wantDelays {
		handler.expect(t, "error")
		retry := waitRetry(t, timers)
		if retry.delay != want {
			t.Fatalf("attempt %d: delay = %v, want %v", i, retry.delay, want)
		}
		go retry.fire()
	}

	// The 10th consecutive failure escalates exactly once.
	handler.expect(t, "error")
	handler.expect(t, "permanent")
	handler.expectNothing(t)

	select {
	case r := <-timers:
		t.Fatalf("an 11th attempt was scheduled (delay %v)", r.delay)
	case <-time.After(50 * time.Millisecond):
	}

	if s := client.State(); s != model.ConnectionClosed {
		t.Errorf("state = %q, want closed_permanent", s)
	}
}

func TestReconnectGapFill(t *testing.T) {
	transport := newFakeTransport()
	replayer := &fakeReplayer{}
	handler := newFakeHandler()
	client := newTestClient(transport, replayer, handler)
	defer client.Close()

	timers := captureTimers(client)
	client.SetSession("s1")
	conn := waitConn(t, transport, "s1")
	handler.expect(t, "connect")

	events := make([]model.TaskEvent, 8)
	for i := range events {
		events[i] = taskEvent(i + 1)
	}
	for i := 0; i < 5; i++ {
		conn.push(eventFrame(events[i]))
		handler.expect(t, "event")
	}

	// Drop the connection; three backoff cycles elapse before reopening.
	transport.failNext(2)
	replayer.set(events[:7], nil) // e1..e5 plus e6, e7 recorded during the gap
	conn.fail(errors.New("connection reset"))
	handler.expect(t, "disconnect")

	for i, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		retry := waitRetry(t, timers)
		if retry.delay != want {
			t.Fatalf("cycle %d: delay = %v, want %v", i, retry.delay, want)
		}
		go retry.fire()
		if i < 2 {
			handler.expect(t, "error") // failed reopen
		}
	}

	conn = waitConn(t, transport, "s1")

	// Only the unseen suffix arrives, in order, before the open transition.
	for _, want := range []string{"e6", "e7"} {
		c := handler.expect(t, "event")
		if c.event.Message != want {
			t.Errorf("gap-fill event = %q, want %q", c.event.Message, want)
		}
	}
	handler.expect(t, "connect")

	if w := client.Watermark(); w != 7 {
		t.Errorf("watermark after gap-fill = %d, want 7", w)
	}

	// Live traffic resumes normally.
	conn.push(eventFrame(events[7]))
	c := handler.expect(t, "event")
	if c.event.Message != "e8" {
		t.Errorf("live event = %q, want e8", c.event.Message)
	}
	if w := client.Watermark(); w != 8 {
		t.Errorf("watermark = %d, want 8", w)
	}
}

func TestAttemptCounterResetsOnOpen(t *testing.T) {
	transport := newFakeTransport()
	replayer := &fakeReplayer{}
	handler := newFakeHandler()
	client := newTestClient(transport, replayer, handler)
	defer client.Close()

	timers := captureTimers(client)
	client.SetSession("s1")
	conn := waitConn(t, transport, "s1")
	handler.expect(t, "connect")

	// First outage: two failed cycles, then success.
	transport.failNext(2)
	conn.fail(errors.New("connection reset"))
	handler.expect(t, "disconnect")
	for _, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		retry := waitRetry(t, timers)
		if retry.delay != want {
			t.Fatalf("delay = %v, want %v", retry.delay, want)
		}
		go retry.fire()
	}
	handler.expect(t, "error")
	handler.expect(t, "error")
	conn = waitConn(t, transport, "s1")
	handler.expect(t, "connect")

	// Second outage: the backoff starts over at 1s.
	conn.fail(errors.New("connection reset"))
	handler.expect(t, "disconnect")
	retry := waitRetry(t, timers)
	if retry.delay != time.Second {
		t.Errorf("delay after successful open = %v, want 1s", retry.delay)
	}
}

func TestSessionSwitchCancelsPendingRetry(t *testing.T) {
	transport := newFakeTransport()
	handler := newFakeHandler()
	client := newTestClient(transport, &fakeReplayer{}, handler)
	defer client.Close()

	timers := captureTimers(client)
	transport.failNext(1)
	client.SetSession("A")
	handler.expect(t, "error")
	retry := waitRetry(t, timers)

	client.SetSession("B")
	if !retry.timer.isStopped() {
		t.Error("pending retry timer for A was not stopped")
	}

	conn := waitConn(t, transport, "B")
	c := handler.expect(t, "connect")
	if c.sessionID != "B" {
		t.Errorf("connected to %q, want B", c.sessionID)
	}

	// Even if the stale timer fires anyway, session A stays dead.
	retry.fire()
	conn.push(eventFrame(model.TaskEvent{
		SessionID: "B", AgentName: "log_analyzer",
		EventType: model.EventTypeProgress, Message: "b1",
		Timestamp: time.Date(2026, 8, 29, 11, 0, 0, 0, time.UTC),
	}))
	got := handler.expect(t, "event")
	if got.event.SessionID != "B" {
		t.Errorf("event for session %q after switch", got.event.SessionID)
	}
	handler.expectNothing(t)
}

func TestSessionSwitchResetsWatermark(t *testing.T) {
	transport := newFakeTransport()
	handler := newFakeHandler()
	client := newTestClient(transport, &fakeReplayer{}, handler)
	defer client.Close()

	client.SetSession("A")
	conn := waitConn(t, transport, "A")
	handler.expect(t, "connect")
	conn.push(eventFrame(taskEvent(1)))
	handler.expect(t, "event")
	if client.Watermark() != 1 {
		t.Fatalf("watermark = %d", client.Watermark())
	}

	client.SetSession("B")
	waitConn(t, transport, "B")
	handler.expect(t, "connect")
	if client.Watermark() != 0 {
		t.Errorf("watermark after session switch = %d, want 0", client.Watermark())
	}
}

func TestGapFillReplayFailureKeepsWatermark(t *testing.T) {
	transport := newFakeTransport()
	replayer := &fakeReplayer{}
	handler := newFakeHandler()
	client := newTestClient(transport, replayer, handler)
	defer client.Close()

	timers := captureTimers(client)
	client.SetSession("s1")
	conn := waitConn(t, transport, "s1")
	handler.expect(t, "connect")

	for i := 1; i <= 3; i++ {
		conn.push(eventFrame(taskEvent(i)))
		handler.expect(t, "event")
	}

	// First reconnect: replay endpoint is down.
	replayer.set(nil, errors.New("status 503"))
	conn.fail(errors.New("connection reset"))
	handler.expect(t, "disconnect")
	go waitRetry(t, timers).fire()
	conn = waitConn(t, transport, "s1")
	handler.expect(t, "error") // replay failure, transient
	handler.expect(t, "connect")
	if w := client.Watermark(); w != 3 {
		t.Fatalf("watermark after failed gap-fill = %d, want 3", w)
	}

	// Second reconnect retries gap-fill from the same point.
	history := []model.TaskEvent{taskEvent(1), taskEvent(2), taskEvent(3), taskEvent(4)}
	replayer.set(history, nil)
	conn.fail(errors.New("connection reset"))
	handler.expect(t, "disconnect")
	go waitRetry(t, timers).fire()
	waitConn(t, transport, "s1")

	c := handler.expect(t, "event")
	if c.event.Message != "e4" {
		t.Errorf("recovered %q, want e4", c.event.Message)
	}
	handler.expect(t, "connect")
	if w := client.Watermark(); w != 4 {
		t.Errorf("watermark = %d, want 4", w)
	}
}

func TestGapFillTruncatedReplay(t *testing.T) {
	transport := newFakeTransport()
	replayer := &fakeReplayer{}
	handler := newFakeHandler()
	client := newTestClient(transport, replayer, handler)
	defer client.Close()

	timers := captureTimers(client)
	client.SetSession("s1")
	conn := waitConn(t, transport, "s1")
	handler.expect(t, "connect")

	for i := 1; i <= 5; i++ {
		conn.push(eventFrame(taskEvent(i)))
		handler.expect(t, "event")
	}

	// Server-side truncation: replay is shorter than the watermark. Nothing
	// is forwarded and the watermark stays put.
	replayer.set([]model.TaskEvent{taskEvent(1), taskEvent(2)}, nil)
	conn.fail(errors.New("connection reset"))
	handler.expect(t, "disconnect")
	go waitRetry(t, timers).fire()
	waitConn(t, transport, "s1")
	handler.expect(t, "connect")

	if w := client.Watermark(); w != 5 {
		t.Errorf("watermark = %d, want 5", w)
	}
	handler.expectNothing(t)
}

func TestGapFillDiscardedAfterSessionSwitch(t *testing.T) {
	transport := newFakeTransport()
	gate := make(chan struct{})
	replayer := &fakeReplayer{gate: gate}
	handler := newFakeHandler()
	client := newTestClient(transport, replayer, handler)
	defer client.Close()

	timers := captureTimers(client)
	client.SetSession("A")
	conn := waitConn(t, transport, "A")
	handler.expect(t, "connect")
	conn.push(eventFrame(taskEvent(1)))
	handler.expect(t, "event")

	replayer.set([]model.TaskEvent{taskEvent(1), taskEvent(2)}, nil)
	conn.fail(errors.New("connection reset"))
	handler.expect(t, "disconnect")
	go waitRetry(t, timers).fire()
	waitConn(t, transport, "A")

	// Gap-fill for A is in flight; switch to B, then let the fetch finish.
	client.SetSession("B")
	close(gate)
	waitConn(t, transport, "B")
	handler.expect(t, "connect")

	// The stale replay result is discarded: no A events, watermark is B's.
	handler.expectNothing(t)
	if w := client.Watermark(); w != 0 {
		t.Errorf("watermark = %d, want 0", w)
	}
}

func TestCloseSilencesCallbacks(t *testing.T) {
	transport := newFakeTransport()
	handler := newFakeHandler()
	client := newTestClient(transport, &fakeReplayer{}, handler)

	client.SetSession("s1")
	conn := waitConn(t, transport, "s1")
	handler.expect(t, "connect")

	client.Close()
	conn.fail(errors.New("connection reset"))
	handler.expectNothing(t)

	// Supplying a session after Close is a no-op.
	client.SetSession("s2")
	handler.expectNothing(t)
}
