package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/bailey0002/viseme-sync/internal/metrics"
	"github.com/bailey0002/viseme-sync/internal/session"
)

// Conn is the subset of a websocket connection the coordinator needs. It is
// satisfied by *websocket.Conn from gorilla/websocket.
type Conn interface {
	WriteJSON(v interface{}) error
	ReadMessage() (messageType int, p []byte, err error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// Stream error reasons used for logging and metrics labels
const (
	ReasonSessionNotFound   = "session_not_found"
	ReasonBackendError      = "backend_error"
	ReasonProtocolViolation = "protocol_violation"
	ReasonStartTimeout      = "start_timeout"
	ReasonTransport         = "transport"
	ReasonCancelled         = "cancelled"
)

// Config contains coordinator timing configuration
type Config struct {
	// SessionWaitTimeout bounds the wait for the session to become ready.
	SessionWaitTimeout time.Duration

	// StartTimeout bounds the wait for the client's start signal.
	StartTimeout time.Duration

	// PollInterval is the session readiness polling period.
	PollInterval time.Duration
}

// DefaultPollInterval is used when Config.PollInterval is zero.
const DefaultPollInterval = 100 * time.Millisecond

// Coordinator drives the per-connection delivery protocol: wait for the
// session to be ready, wait for the client's start signal, then pace frame
// emission against the wall clock so delivery matches audio playback. One
// coordinator call serves one connection; concurrent connections are fully
// independent, including concurrent subscriptions to the same session (frames
// are immutable once ready, so each connection paces its own copy of nothing
// but a slice header).
type Coordinator struct {
	store   *session.Store
	reaper  *session.Reaper
	metrics *metrics.Metrics
	config  Config
	logger  *slog.Logger
}

// NewCoordinator creates a stream coordinator
func NewCoordinator(store *session.Store, reaper *session.Reaper, m *metrics.Metrics,
	config Config, logger *slog.Logger) *Coordinator {

	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}

	return &Coordinator{
		store:   store,
		reaper:  reaper,
		metrics: m,
		config:  config,
		logger:  logger,
	}
}

// Run executes the delivery protocol for one connection. It returns nil when
// the full frame sequence was delivered; any other outcome is reported as an
// error after the client has been notified where the transport allowed it.
// Whatever the outcome, eviction of the session is scheduled on return.
func (c *Coordinator) Run(ctx context.Context, conn Conn, sessionID string) error {
	startedAt := time.Now()

	c.metrics.RecordConnectionOpened()
	defer func() {
		c.metrics.RecordConnectionClosed(time.Since(startedAt).Seconds())
	}()

	// A re-subscription before the retention delay elapses keeps the session
	// alive; the eviction is re-armed when this stream ends.
	c.reaper.CancelEviction(sessionID)
	defer c.reaper.ScheduleEviction(sessionID)

	sess, err := c.awaitSession(ctx, conn, sessionID)
	if err != nil {
		return err
	}

	if sess.Status == session.StatusErrored {
		return c.fail(conn, sessionID, ReasonBackendError, sess.Err)
	}

	if err := c.awaitStart(ctx, conn, sessionID); err != nil {
		return err
	}

	c.logger.Info("Starting frame stream",
		slog.String("session_id", sessionID),
		slog.Int("frame_count", len(sess.Frames)),
	)

	if err := c.streamFrames(ctx, conn, sessionID, sess); err != nil {
		return err
	}

	if err := conn.WriteJSON(CompleteMessage()); err != nil {
		c.metrics.RecordStreamError(ReasonTransport)
		return fmt.Errorf("failed to send completion: %w", err)
	}

	c.metrics.RecordStreamCompleted()

	c.logger.Info("Stream complete",
		slog.String("session_id", sessionID),
		slog.Int("frame_count", len(sess.Frames)),
		slog.Duration("duration", time.Since(startedAt)),
	)

	return nil
}

// awaitSession polls the store until the session reaches a terminal state or
// the wait bound elapses. Polling keeps the store API minimal; the bound makes
// the phase impossible to hang in.
func (c *Coordinator) awaitSession(ctx context.Context, conn Conn, sessionID string) (session.Session, error) {
	deadline := time.NewTimer(c.config.SessionWaitTimeout)
	defer deadline.Stop()

	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		sess, err := c.store.Get(sessionID)
		if err == nil && sess.Status != session.StatusPending {
			return sess, nil
		}
		if err != nil && !errors.Is(err, session.ErrNotFound) {
			return session.Session{}, err
		}

		select {
		case <-ctx.Done():
			c.metrics.RecordStreamError(ReasonCancelled)
			return session.Session{}, ctx.Err()
		case <-deadline.C:
			return session.Session{}, c.fail(conn, sessionID, ReasonSessionNotFound, "Session not found")
		case <-ticker.C:
		}
	}
}

// awaitStart blocks until the client sends {"action":"start"} or the start
// timeout elapses. Any other message is a protocol violation.
func (c *Coordinator) awaitStart(ctx context.Context, conn Conn, sessionID string) error {
	c.logger.Debug("Waiting for start signal", slog.String("session_id", sessionID))

	if err := conn.SetReadDeadline(time.Now().Add(c.config.StartTimeout)); err != nil {
		c.metrics.RecordStreamError(ReasonTransport)
		return fmt.Errorf("failed to set read deadline: %w", err)
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			c.metrics.RecordStreamError(ReasonCancelled)
			return ctx.Err()
		}

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return c.fail(conn, sessionID, ReasonStartTimeout, "Timeout waiting for start")
		}

		c.metrics.RecordStreamError(ReasonTransport)
		return fmt.Errorf("connection lost awaiting start: %w", err)
	}

	if err := ParseStartCommand(data); err != nil {
		c.logger.Warn("Protocol violation during start wait",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return c.fail(conn, sessionID, ReasonProtocolViolation, "Expected start signal")
	}

	// Reads after this point have no deadline; the read pump watches for
	// client disconnect instead.
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		c.metrics.RecordStreamError(ReasonTransport)
		return fmt.Errorf("failed to clear read deadline: %w", err)
	}

	return nil
}

// streamFrames paces frame emission against the wall clock. Each frame's
// target instant is computed from the absolute stream start, so jitter in one
// frame never accumulates into drift for the next.
func (c *Coordinator) streamFrames(ctx context.Context, conn Conn, sessionID string, sess session.Session) error {
	disconnected := make(chan struct{})
	go c.readPump(conn, disconnected)

	streamStart := time.Now()

	for _, frame := range sess.Frames {
		target := streamStart.Add(time.Duration(frame.Timestamp * float64(time.Second)))

		if wait := time.Until(target); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				c.metrics.RecordStreamError(ReasonCancelled)
				return ctx.Err()
			case <-disconnected:
				timer.Stop()
				c.metrics.RecordStreamError(ReasonTransport)
				c.logger.Info("Client disconnected mid-stream",
					slog.String("session_id", sessionID),
					slog.Int("last_frame", frame.Index-1),
				)
				return fmt.Errorf("client disconnected before frame %d", frame.Index)
			}
		}

		if err := conn.WriteJSON(FrameMessage(frame)); err != nil {
			c.metrics.RecordStreamError(ReasonTransport)
			return fmt.Errorf("failed to send frame %d: %w", frame.Index, err)
		}

		c.metrics.RecordFrameStreamed()
	}

	return nil
}

// readPump drains incoming messages during streaming and closes the channel
// when the connection drops. Messages received here are ignored; the protocol
// has nothing for the client to say after start.
func (c *Coordinator) readPump(conn Conn, disconnected chan<- struct{}) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			close(disconnected)
			return
		}
	}
}

// fail notifies the client, records metrics, and returns the stream error
func (c *Coordinator) fail(conn Conn, sessionID, reason, message string) error {
	c.metrics.RecordStreamError(reason)

	if err := conn.WriteJSON(ErrorMessage(message)); err != nil {
		c.logger.Debug("Failed to deliver stream error",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}

	c.logger.Info("Stream terminated",
		slog.String("session_id", sessionID),
		slog.String("reason", reason),
		slog.String("message", message),
	)

	return fmt.Errorf("stream %s: %s", reason, message)
}
