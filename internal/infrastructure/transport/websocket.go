package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/execution-hub/moldwatch/internal/domain/connection"
	"github.com/execution-hub/moldwatch/internal/protocol"
)

const (
	DefaultReconnectionInterval = 15 * time.Second
	DefaultDialTimeout          = 10 * time.Second
	DefaultReadLimit            = 1 << 20

	backoffFactor = 1.1
	writeWait     = 10 * time.Second
)

var ErrClosed = errors.New("transport closed")

// Config holds transport settings.
type Config struct {
	URL                  string
	ReconnectionInterval time.Duration
	DialTimeout          time.Duration
	ReadLimit            int64
	// TestingMode turns Send and Terminate into no-ops.
	TestingMode bool
}

// Recorder receives transport metrics.
type Recorder interface {
	ReconnectAttempt()
	DialFinished(d time.Duration)
	DocumentDropped(reason string)
	ConnectionState(state connection.State)
}

type nopRecorder struct{}

func (nopRecorder) ReconnectAttempt()                {}
func (nopRecorder) DialFinished(time.Duration)       {}
func (nopRecorder) DocumentDropped(string)           {}
func (nopRecorder) ConnectionState(connection.State) {}

type Option func(*WebSocket)

func WithRecorder(r Recorder) Option {
	return func(w *WebSocket) { w.recorder = r }
}

// WithClock replaces the clock used for the reconnection delay.
func WithClock(now func() time.Time) Option {
	return func(w *WebSocket) { w.now = now }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(w *WebSocket) { w.dialer = d }
}

// WebSocket keeps one connection to the fleet server and reconnects on
// Refresh when it is lost. State changes and decoded messages are delivered
// on the channels returned by States and Messages.
type WebSocket struct {
	cfg      Config
	dialer   *websocket.Dialer
	logger   zerolog.Logger
	recorder Recorder
	now      func() time.Time

	states   chan connection.State
	messages chan protocol.Inbound

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup

	mu          sync.Mutex
	conn        *websocket.Conn
	terminated  *websocket.Conn
	connected   bool
	initialized bool
	attempting  bool
	closed      bool
	interval    time.Duration
	lastAttempt time.Time

	writeMu sync.Mutex
}

var _ connection.Link = (*WebSocket)(nil)

func New(cfg Config, logger zerolog.Logger, opts ...Option) *WebSocket {
	if cfg.ReconnectionInterval <= 0 {
		cfg.ReconnectionInterval = DefaultReconnectionInterval
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = DefaultReadLimit
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &WebSocket{
		cfg:      cfg,
		dialer:   &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
		logger:   logger.With().Str("service", "transport").Logger(),
		recorder: nopRecorder{},
		now:      time.Now,
		states:   make(chan connection.State, 16),
		messages: make(chan protocol.Inbound, 256),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		interval: cfg.ReconnectionInterval,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// States delivers every connection state change in order.
func (w *WebSocket) States() <-chan connection.State { return w.states }

// Messages delivers decoded inbound messages in arrival order.
func (w *WebSocket) Messages() <-chan protocol.Inbound { return w.messages }

// Connect starts a connection attempt in the background, dropping any
// connection that is still open.
func (w *WebSocket) Connect() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.initialized = true
	if w.closed {
		return ErrClosed
	}
	if w.attempting {
		return connection.ErrAttemptInFlight
	}
	prev := w.conn
	w.conn = nil
	w.terminated = nil
	w.connected = false
	w.startAttemptLocked(prev)
	return nil
}

// Refresh reconnects when there is no open connection and the current
// reconnection interval has passed since the last failed attempt.
func (w *WebSocket) Refresh() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.initialized = true
	if w.closed || w.attempting || w.conn != nil {
		return
	}
	if !w.lastAttempt.IsZero() && w.now().Sub(w.lastAttempt) < w.interval {
		return
	}
	w.interval = time.Duration(math.Ceil(float64(w.interval) * backoffFactor))
	w.logger.Info().Dur("next_interval", w.interval).Msg("reconnecting")
	w.startAttemptLocked(nil)
}

// Send writes v as one JSON text frame. Nothing is sent while disconnected.
func (w *WebSocket) Send(v any) error {
	w.mu.Lock()
	if !w.initialized {
		w.mu.Unlock()
		return connection.ErrNotInitialized
	}
	conn := w.conn
	ok := conn != nil && w.connected && !w.cfg.TestingMode
	w.mu.Unlock()
	if !ok {
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Terminate closes the current connection. The read loop reports Offline.
func (w *WebSocket) Terminate() error {
	w.mu.Lock()
	if !w.initialized {
		w.mu.Unlock()
		return connection.ErrNotInitialized
	}
	if w.cfg.TestingMode || w.conn == nil || w.terminated == w.conn {
		w.mu.Unlock()
		return nil
	}
	conn := w.conn
	w.terminated = conn
	w.connected = false
	w.mu.Unlock()

	w.logger.Info().Msg("terminating connection")
	w.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	w.writeMu.Unlock()
	return conn.Close()
}

// Close stops the transport for good and closes both channels.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	conn := w.conn
	w.conn = nil
	w.connected = false
	w.mu.Unlock()

	w.cancel()
	close(w.done)
	if conn != nil {
		_ = conn.Close()
	}
	w.wg.Wait()
	close(w.states)
	close(w.messages)
	return nil
}

func (w *WebSocket) IsConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

// ReconnectionInterval is the delay applied before the next reconnect.
func (w *WebSocket) ReconnectionInterval() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.interval
}

func (w *WebSocket) startAttemptLocked(prev *websocket.Conn) {
	w.attempting = true
	w.wg.Add(1)
	go w.dial(prev)
}

func (w *WebSocket) dial(prev *websocket.Conn) {
	defer w.wg.Done()
	if prev != nil {
		_ = prev.Close()
		w.emit(connection.StateOffline)
	}
	w.emit(connection.StateConnecting)
	w.recorder.ReconnectAttempt()

	start := time.Now()
	conn, _, err := w.dialer.DialContext(w.ctx, w.cfg.URL, nil)
	w.recorder.DialFinished(time.Since(start))

	w.mu.Lock()
	if err != nil {
		w.lastAttempt = w.now()
		w.attempting = false
		w.mu.Unlock()
		w.logger.Warn().Err(err).Str("url", w.cfg.URL).Msg("connection attempt failed")
		w.emit(connection.StateError)
		w.emit(connection.StateOffline)
		return
	}
	if w.closed {
		w.attempting = false
		w.mu.Unlock()
		_ = conn.Close()
		return
	}
	conn.SetReadLimit(w.cfg.ReadLimit)
	w.conn = conn
	w.connected = true
	w.interval = w.cfg.ReconnectionInterval
	w.lastAttempt = time.Time{}
	w.attempting = false
	w.wg.Add(1)
	w.mu.Unlock()

	w.logger.Info().Str("url", w.cfg.URL).Msg("connected")
	w.emit(connection.StateOnline)
	go w.readLoop(conn)
}

func (w *WebSocket) readLoop(conn *websocket.Conn) {
	defer w.wg.Done()
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			w.handleReadError(conn, err)
			return
		}
		if kind != websocket.TextMessage {
			w.recorder.DocumentDropped("binary")
			continue
		}
		for _, doc := range protocol.SplitDocuments(data) {
			msg, err := protocol.Decode(doc)
			if err != nil {
				w.recorder.DocumentDropped(dropReason(err))
				w.logger.Warn().Err(err).Bytes("document", truncate(doc, 256)).Msg("dropping inbound document")
				continue
			}
			select {
			case w.messages <- msg:
			case <-w.done:
				return
			}
		}
	}
}

func (w *WebSocket) handleReadError(conn *websocket.Conn, err error) {
	w.mu.Lock()
	if w.conn != conn {
		w.mu.Unlock()
		return
	}
	requested := w.terminated == conn
	w.conn = nil
	w.terminated = nil
	w.connected = false
	w.mu.Unlock()
	_ = conn.Close()

	if requested || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		w.logger.Info().Msg("connection closed")
		w.emit(connection.StateOffline)
		return
	}
	w.logger.Error().Err(err).Msg("connection lost")
	w.emit(connection.StateError)
	w.emit(connection.StateOffline)
}

func (w *WebSocket) emit(state connection.State) {
	w.recorder.ConnectionState(state)
	select {
	case w.states <- state:
	case <-w.done:
	}
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrUnknownType):
		return "unknown_type"
	case errors.Is(err, protocol.ErrMissingType):
		return "missing_type"
	default:
		return "malformed"
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
