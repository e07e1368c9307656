// Package streamsync keeps a consumer's view of a long-running diagnostic
// session consistent with hub state over an unreliable streaming transport.
//
// The client owns exactly one live connection per session id. Drops are
// recovered with exponential backoff; a successful reconnect pulls the
// replay endpoint and forwards only the suffix beyond the received-event
// watermark, so the live channel can lose frames during the outage window
// without the consumer ever missing an event. The live channel itself is
// best-effort; replay is authoritative for the gap.
package streamsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/incidentiq-ai/diagnosis-platform/internal/model"
	"github.com/incidentiq-ai/diagnosis-platform/pkg/logger"
	"github.com/incidentiq-ai/diagnosis-platform/pkg/metrics"
)

// Handler receives everything the client produces. All methods are invoked
// from the client's connection goroutine, one call at a time.
type Handler interface {
	// OnEvent delivers a task event, live or replayed, in log order.
	OnEvent(event model.TaskEvent)
	// OnChatMessage delivers an assistant chat frame.
	OnChatMessage(msg model.ChatMessage)
	// OnConnect fires when the connection is open and, on reconnects, after
	// gap-fill has completed.
	OnConnect(sessionID string)
	// OnDisconnect fires when an open connection drops. Display only; the
	// client recovers on its own.
	OnDisconnect(sessionID string, err error)
	// OnError reports transient failures (failed connect, failed replay
	// fetch). Display only.
	OnError(err error)
	// OnPermanentFailure fires exactly once when reconnection is exhausted.
	// No further retries happen until a new session id is supplied.
	OnPermanentFailure(sessionID string)
}

// timerHandle abstracts the scheduled retry so tests can drive the backoff
// clock deterministically.
type timerHandle interface {
	Stop() bool
}

// Client is the reconnecting stream client. One instance serves one session
// at a time; switching sessions tears down all state owned by the previous
// one.
type Client struct {
	transport Transport
	replayer  Replayer
	handler   Handler
	logger    *logger.Logger

	// newTimer schedules the backoff retry. Replaced in tests.
	newTimer func(d time.Duration, fn func()) timerHandle

	mu         sync.Mutex
	sessionID  string
	generation uint64
	state      model.ConnectionState
	attempt    int
	watermark  int
	everOpen   bool
	conn       Conn
	ctx        context.Context
	cancel     context.CancelFunc
	retryTimer timerHandle
	backoff    interface{ NextBackOff() time.Duration }
	closed     bool
}

// NewClient constructs an idle client. Supply a session id with SetSession
// to start it.
func NewClient(transport Transport, replayer Replayer, handler Handler, log *logger.Logger) *Client {
	return &Client{
		transport: transport,
		replayer:  replayer,
		handler:   handler,
		logger:    log,
		backoff:   newBackoffPolicy(),
		newTimer: func(d time.Duration, fn func()) timerHandle {
			return time.AfterFunc(d, fn)
		},
	}
}

// SetSession switches the client to a new session id. Any connection,
// pending backoff timer, or in-flight gap-fill belonging to the previous
// session is cancelled unconditionally; a session switch always wins over an
// in-flight backoff. An empty id disables the client.
func (c *Client) SetSession(sessionID string) {
	c.mu.Lock()
	if c.closed || sessionID == c.sessionID {
		c.mu.Unlock()
		return
	}

	c.teardownLocked()

	c.sessionID = sessionID
	c.generation++
	c.attempt = 0
	c.watermark = 0
	c.everOpen = false
	c.backoff = newBackoffPolicy()

	if sessionID == "" {
		c.state = ""
		c.mu.Unlock()
		return
	}

	c.state = model.ConnectionConnecting
	c.ctx, c.cancel = context.WithCancel(context.Background())
	gen := c.generation
	ctx := c.ctx
	c.mu.Unlock()

	go c.connect(ctx, gen)
}

// Close tears the client down. The live transport is closed, all timers are
// cancelled, and no callbacks fire afterward.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.teardownLocked()
	c.generation++
	c.closed = true
	c.state = ""
}

// teardownLocked cancels everything owned by the current session.
func (c *Client) teardownLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// State returns the current connection state ("" when idle or closed).
func (c *Client) State() model.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Watermark returns the count of events forwarded so far for the current
// session.
func (c *Client) Watermark() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watermark
}

// currentLocked reports whether gen still identifies the active session.
// Every transition triggered under a stale generation is a no-op; a retry
// scheduled for a previous session must never resurrect itself.
func (c *Client) currentLocked(gen uint64) bool {
	return !c.closed && gen == c.generation
}

func (c *Client) connect(ctx context.Context, gen uint64) {
	c.mu.Lock()
	if !c.currentLocked(gen) {
		c.mu.Unlock()
		return
	}
	sessionID := c.sessionID
	c.state = model.ConnectionConnecting
	c.retryTimer = nil
	c.mu.Unlock()

	conn, err := c.transport.Open(ctx, sessionID)
	if err != nil {
		if ctx.Err() != nil {
			return // cancelled, not failed
		}
		c.logger.Warn("stream connect failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		c.handler.OnError(fmt.Errorf("connect session %s: %w", sessionID, err))
		c.scheduleRetry(ctx, gen, sessionID)
		return
	}

	c.mu.Lock()
	if !c.currentLocked(gen) {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = model.ConnectionOpen
	reconnected := c.everOpen
	c.everOpen = true
	c.attempt = 0
	c.backoff = newBackoffPolicy()
	c.mu.Unlock()

	// On a reconnect the gap is filled before consumers see the open
	// transition, so everything up to the watermark precedes everything
	// delivered live afterwards.
	if reconnected {
		metrics.RecordStreamReconnect()
		c.gapFill(ctx, gen, sessionID)
	}

	c.mu.Lock()
	stale := !c.currentLocked(gen)
	c.mu.Unlock()
	if stale {
		conn.Close()
		return
	}

	c.handler.OnConnect(sessionID)
	c.readLoop(ctx, gen, conn, sessionID)
}

// gapFill pulls the replay endpoint and forwards the unseen suffix. A failed
// fetch leaves the watermark untouched so the next successful reconnect
// retries from the same point.
func (c *Client) gapFill(ctx context.Context, gen uint64, sessionID string) {
	history, err := c.replayer.Events(ctx, sessionID)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return
		}
		c.logger.Warn("gap-fill replay failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		c.handler.OnError(fmt.Errorf("gap-fill session %s: %w", sessionID, err))
		return
	}

	c.mu.Lock()
	if !c.currentLocked(gen) {
		// Session switched while the fetch was in flight; discard.
		c.mu.Unlock()
		return
	}
	mark := c.watermark
	if len(history) < mark {
		c.mu.Unlock()
		c.logger.Warn("replay shorter than watermark",
			zap.String("session_id", sessionID),
			zap.Int("watermark", mark),
			zap.Int("replay_length", len(history)),
		)
		return
	}
	suffix := history[mark:]
	c.watermark = len(history)
	c.mu.Unlock()

	for _, event := range suffix {
		c.handler.OnEvent(event)
	}
	if len(suffix) > 0 {
		metrics.RecordGapFill(len(suffix))
		c.logger.Info("gap-fill complete",
			zap.String("session_id", sessionID),
			zap.Int("recovered", len(suffix)),
			zap.Int("watermark", len(history)),
		)
	}
}

func (c *Client) readLoop(ctx context.Context, gen uint64, conn Conn, sessionID string) {
	for {
		raw, err := conn.Recv()
		if err != nil {
			conn.Close()
			if ctx.Err() != nil {
				return
			}
			c.mu.Lock()
			if !c.currentLocked(gen) {
				c.mu.Unlock()
				return
			}
			c.conn = nil
			c.mu.Unlock()

			c.handler.OnDisconnect(sessionID, err)
			c.scheduleRetry(ctx, gen, sessionID)
			return
		}
		c.dispatch(gen, raw)
	}
}

// dispatch decodes one live frame and forwards it. Decode failures discard
// the frame only; the connection stays up.
func (c *Client) dispatch(gen uint64, raw []byte) {
	decoded, err := model.DecodeFrame(raw)
	if err != nil {
		metrics.RecordDroppedFrame()
		c.logger.Debug("discarding undecodable frame", zap.Error(err))
		return
	}

	switch {
	case decoded.Event != nil:
		c.mu.Lock()
		if !c.currentLocked(gen) {
			c.mu.Unlock()
			return
		}
		c.watermark++
		c.mu.Unlock()
		c.handler.OnEvent(*decoded.Event)

	case decoded.Chat != nil:
		c.mu.Lock()
		stale := !c.currentLocked(gen)
		c.mu.Unlock()
		if !stale {
			c.handler.OnChatMessage(*decoded.Chat)
		}
	}
}

// scheduleRetry arms the backoff timer, or escalates to permanent failure
// once the attempt limit is exhausted.
func (c *Client) scheduleRetry(ctx context.Context, gen uint64, sessionID string) {
	c.mu.Lock()
	if !c.currentLocked(gen) || c.state == model.ConnectionClosed {
		c.mu.Unlock()
		return
	}

	if c.attempt >= maxReconnectAttempts {
		c.state = model.ConnectionClosed
		c.mu.Unlock()
		c.logger.Error("reconnect attempts exhausted",
			zap.String("session_id", sessionID),
			zap.Int("attempts", maxReconnectAttempts),
		)
		c.handler.OnPermanentFailure(sessionID)
		return
	}

	delay := c.backoff.NextBackOff()
	attempt := c.attempt
	c.attempt++
	c.state = model.ConnectionReconnecting
	c.retryTimer = c.newTimer(delay, func() {
		c.connect(ctx, gen)
	})
	c.mu.Unlock()

	c.logger.Info("reconnect scheduled",
		zap.String("session_id", sessionID),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
	)
}
