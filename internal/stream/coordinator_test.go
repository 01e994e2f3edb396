package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bailey0002/viseme-sync/internal/blendshape"
	"github.com/bailey0002/viseme-sync/internal/metrics"
	"github.com/bailey0002/viseme-sync/internal/session"
)

// The metrics constructor registers collectors in the default prometheus
// registry, so it can only run once per test binary.
var testMetrics = metrics.NewMetrics()

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// timeoutError mimics the net.Error a websocket read returns past its deadline
type timeoutError struct{}

func (timeoutError) Error() string   { return "read timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

type recordedMessage struct {
	msg ServerMessage
	at  time.Time
}

// fakeConn is an in-memory Conn. Reads honor the deadline the way a real
// websocket does, returning a net.Error with Timeout() true.
type fakeConn struct {
	incoming chan []byte
	closed   chan struct{}

	mu       sync.Mutex
	deadline time.Time
	written  []recordedMessage

	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan []byte, 4),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	msg, ok := v.(ServerMessage)
	if !ok {
		return errors.New("unexpected message type")
	}

	select {
	case <-c.closed:
		return errors.New("write on closed connection")
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, recordedMessage{msg: msg, at: time.Now()})
	return nil
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	deadline := c.deadline
	c.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case data := <-c.incoming:
		return 1, data, nil
	case <-c.closed:
		return 0, nil, errors.New("connection closed")
	case <-timeout:
		return 0, nil, timeoutError{}
	}
}

func (c *fakeConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadline = t
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) send(data string) {
	c.incoming <- []byte(data)
}

func (c *fakeConn) messages() []recordedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]recordedMessage, len(c.written))
	copy(out, c.written)
	return out
}

func testFrames(t *testing.T, n, frameRate int) []blendshape.Frame {
	t.Helper()

	frames := make([]blendshape.Frame, 0, n)
	for i := 0; i < n; i++ {
		frame, err := blendshape.NewFrame(i, float64(i)/float64(frameRate), nil)
		if err != nil {
			t.Fatalf("Failed to build frame: %v", err)
		}
		frames = append(frames, frame)
	}
	return frames
}

func newTestCoordinator(t *testing.T) (*Coordinator, *session.Store, *session.Reaper) {
	t.Helper()

	store := session.NewStore(testLogger())
	reaper := session.NewReaper(store, session.ReaperConfig{
		RetentionDelay: time.Hour,
		MaxSessionAge:  time.Hour,
		SweepInterval:  time.Hour,
	}, testLogger(), nil)

	coord := NewCoordinator(store, reaper, testMetrics, Config{
		SessionWaitTimeout: 200 * time.Millisecond,
		StartTimeout:       200 * time.Millisecond,
		PollInterval:       10 * time.Millisecond,
	}, testLogger())

	return coord, store, reaper
}

func TestCoordinatorUnknownSession(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)
	conn := newFakeConn()

	err := coord.Run(context.Background(), conn, "missing1")
	if err == nil {
		t.Fatal("Expected error for unknown session")
	}

	msgs := conn.messages()
	if len(msgs) != 1 {
		t.Fatalf("Expected exactly 1 message, got %d", len(msgs))
	}

	if msgs[0].msg.Type != MessageTypeError || msgs[0].msg.Message != "Session not found" {
		t.Errorf("Unexpected message: %+v", msgs[0].msg)
	}
}

func TestCoordinatorErroredSession(t *testing.T) {
	coord, store, _ := newTestCoordinator(t)

	id := store.Create()
	if err := store.SetError(id, "inference backend unavailable"); err != nil {
		t.Fatalf("SetError failed: %v", err)
	}

	conn := newFakeConn()
	if err := coord.Run(context.Background(), conn, id); err == nil {
		t.Fatal("Expected error for errored session")
	}

	msgs := conn.messages()
	if len(msgs) != 1 {
		t.Fatalf("Expected exactly 1 message, got %d", len(msgs))
	}

	if msgs[0].msg.Type != MessageTypeError || msgs[0].msg.Message != "inference backend unavailable" {
		t.Errorf("Expected the session error forwarded, got %+v", msgs[0].msg)
	}
}

func TestCoordinatorLateReadySession(t *testing.T) {
	coord, store, _ := newTestCoordinator(t)

	id := store.Create()
	frames := testFrames(t, 2, 30)

	// Session becomes ready while the coordinator is already polling.
	go func() {
		time.Sleep(50 * time.Millisecond)
		store.SetReady(id, frames)
	}()

	conn := newFakeConn()
	conn.send(`{"action":"start"}`)

	if err := coord.Run(context.Background(), conn, id); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
}

func TestCoordinatorProtocolViolation(t *testing.T) {
	coord, store, _ := newTestCoordinator(t)

	id := store.Create()
	if err := store.SetReady(id, testFrames(t, 3, 30)); err != nil {
		t.Fatalf("SetReady failed: %v", err)
	}

	conn := newFakeConn()
	conn.send(`{"action":"pause"}`)

	if err := coord.Run(context.Background(), conn, id); err == nil {
		t.Fatal("Expected error for protocol violation")
	}

	msgs := conn.messages()
	if len(msgs) != 1 {
		t.Fatalf("Expected exactly 1 message, got %d", len(msgs))
	}

	if msgs[0].msg.Type != MessageTypeError || msgs[0].msg.Message != "Expected start signal" {
		t.Errorf("Unexpected message: %+v", msgs[0].msg)
	}
}

func TestCoordinatorStartTimeout(t *testing.T) {
	coord, store, _ := newTestCoordinator(t)

	id := store.Create()
	if err := store.SetReady(id, testFrames(t, 3, 30)); err != nil {
		t.Fatalf("SetReady failed: %v", err)
	}

	conn := newFakeConn()

	if err := coord.Run(context.Background(), conn, id); err == nil {
		t.Fatal("Expected error for start timeout")
	}

	msgs := conn.messages()
	if len(msgs) != 1 {
		t.Fatalf("Expected exactly 1 message, got %d", len(msgs))
	}

	if msgs[0].msg.Type != MessageTypeError || msgs[0].msg.Message != "Timeout waiting for start" {
		t.Errorf("Unexpected message: %+v", msgs[0].msg)
	}
}

func TestCoordinatorStreamsFramesInOrder(t *testing.T) {
	coord, store, _ := newTestCoordinator(t)

	const frameCount = 6
	id := store.Create()
	if err := store.SetReady(id, testFrames(t, frameCount, 30)); err != nil {
		t.Fatalf("SetReady failed: %v", err)
	}

	conn := newFakeConn()
	conn.send(`{"action":"start"}`)

	if err := coord.Run(context.Background(), conn, id); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	msgs := conn.messages()
	if len(msgs) != frameCount+1 {
		t.Fatalf("Expected %d messages, got %d", frameCount+1, len(msgs))
	}

	for i := 0; i < frameCount; i++ {
		if msgs[i].msg.Type != MessageTypeFrame {
			t.Fatalf("Message %d: expected frame, got %s", i, msgs[i].msg.Type)
		}
		if msgs[i].msg.Data == nil || msgs[i].msg.Data.Index != i {
			t.Fatalf("Message %d: frames out of order: %+v", i, msgs[i].msg.Data)
		}
	}

	if msgs[frameCount].msg.Type != MessageTypeComplete {
		t.Errorf("Expected completion after last frame, got %s", msgs[frameCount].msg.Type)
	}
}

func TestCoordinatorPacing(t *testing.T) {
	coord, store, _ := newTestCoordinator(t)

	// 5 frames at 30fps spans ~133ms from first to last
	const frameCount = 5
	id := store.Create()
	if err := store.SetReady(id, testFrames(t, frameCount, 30)); err != nil {
		t.Fatalf("SetReady failed: %v", err)
	}

	conn := newFakeConn()
	conn.send(`{"action":"start"}`)

	if err := coord.Run(context.Background(), conn, id); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	msgs := conn.messages()
	if len(msgs) < frameCount {
		t.Fatalf("Expected at least %d messages, got %d", frameCount, len(msgs))
	}

	elapsed := msgs[frameCount-1].at.Sub(msgs[0].at)
	expected := time.Duration(frameCount-1) * time.Second / 30

	if elapsed < expected {
		t.Errorf("Frames delivered too fast: %v elapsed, expected at least %v", elapsed, expected)
	}

	if elapsed > expected+500*time.Millisecond {
		t.Errorf("Frames delivered too slow: %v elapsed, expected about %v", elapsed, expected)
	}
}

func TestCoordinatorClientDisconnect(t *testing.T) {
	coord, store, _ := newTestCoordinator(t)

	// A full second of frames so the disconnect lands mid-stream.
	id := store.Create()
	if err := store.SetReady(id, testFrames(t, 30, 30)); err != nil {
		t.Fatalf("SetReady failed: %v", err)
	}

	conn := newFakeConn()
	conn.send(`{"action":"start"}`)

	go func() {
		time.Sleep(100 * time.Millisecond)
		conn.Close()
	}()

	if err := coord.Run(context.Background(), conn, id); err == nil {
		t.Fatal("Expected error after client disconnect")
	}

	msgs := conn.messages()
	if len(msgs) >= 30 {
		t.Errorf("Expected stream to stop early, got %d messages", len(msgs))
	}

	for _, m := range msgs {
		if m.msg.Type == MessageTypeComplete {
			t.Error("Completion must not be sent after disconnect")
		}
	}
}

func TestCoordinatorCancellation(t *testing.T) {
	coord, store, _ := newTestCoordinator(t)

	id := store.Create()
	if err := store.SetReady(id, testFrames(t, 30, 30)); err != nil {
		t.Fatalf("SetReady failed: %v", err)
	}

	conn := newFakeConn()
	conn.send(`{"action":"start"}`)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	err := coord.Run(ctx, conn, id)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestCoordinatorSchedulesEviction(t *testing.T) {
	coord, store, reaper := newTestCoordinator(t)

	id := store.Create()
	if err := store.SetReady(id, testFrames(t, 2, 30)); err != nil {
		t.Fatalf("SetReady failed: %v", err)
	}

	conn := newFakeConn()
	conn.send(`{"action":"start"}`)

	if err := coord.Run(context.Background(), conn, id); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if reaper.PendingEvictions() != 1 {
		t.Errorf("Expected 1 pending eviction after stream, got %d", reaper.PendingEvictions())
	}

	// Session survives until the retention delay elapses.
	if _, err := store.Get(id); err != nil {
		t.Errorf("Expected session to remain until eviction, got %v", err)
	}
}
