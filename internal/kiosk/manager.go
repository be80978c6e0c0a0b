package kiosk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sscm-labs/sscm-relay/internal/deviceid"
	"github.com/sscm-labs/sscm-relay/internal/metrics"
	"github.com/sscm-labs/sscm-relay/internal/protocol"
)

// State is the connection state of a Manager.
type State string

// Connection states.
const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// Defaults applied by NewManager.
const (
	DefaultBaseDelay   = 3 * time.Second
	DefaultMaxAttempts = 5

	writeTimeout     = 10 * time.Second
	handshakeTimeout = 10 * time.Second
)

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Handler receives every decoded inbound envelope.
type Handler func(protocol.Envelope)

// StateObserver receives connection state changes.
type StateObserver func(State)

// HandlerID identifies a registered handler or observer.
type HandlerID uint64

type handlerEntry struct {
	id HandlerID
	fn Handler
}

type observerEntry struct {
	id HandlerID
	fn StateObserver
}

// stopper is the part of *time.Timer the manager needs.
type stopper interface {
	Stop() bool
}

// Options configures a Manager. URL and DeviceID are required.
type Options struct {
	// URL is the relay endpoint, e.g. ws://relay:8080/api/ws. The deviceId
	// query parameter is added by the manager.
	URL      string
	DeviceID deviceid.ID
	// Token is sent as a bearer token when set.
	Token string

	// BaseDelay is the first reconnect delay. Zero means DefaultBaseDelay.
	BaseDelay time.Duration
	// MaxAttempts bounds consecutive reconnects. Zero means
	// DefaultMaxAttempts; negative disables reconnecting.
	MaxAttempts int

	Dialer *websocket.Dialer
	Logger Logger
}

// Manager owns one reconnecting relay connection.
//
// Thread Safety: all methods are safe for concurrent use. Handlers and
// observers are called without the manager's lock held and may call back
// into the manager.
type Manager struct {
	url         string
	device      deviceid.ID
	header      http.Header
	dialer      *websocket.Dialer
	logger      Logger
	baseDelay   time.Duration
	maxAttempts int
	afterFunc   func(time.Duration, func()) stopper

	mu          sync.Mutex
	ctx         context.Context //nolint:containedctx // bounds reconnect dials
	state       State
	conn        *websocket.Conn
	attempts    int
	intentional bool
	reconnect   stopper
	extra       []deviceid.ID
	paired      *bool
	pairingCode string

	handlers  []handlerEntry
	observers []observerEntry
	nextID    HandlerID

	writeMu sync.Mutex
}

// NewManager validates opts and returns a disconnected manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("kiosk: relay URL is required")
	}
	if opts.DeviceID.IsZero() {
		return nil, fmt.Errorf("kiosk: device id is required")
	}
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("kiosk: parsing relay URL: %w", err)
	}
	q := u.Query()
	q.Set("deviceId", opts.DeviceID.String())
	u.RawQuery = q.Encode()

	m := &Manager{
		url:         u.String(),
		device:      opts.DeviceID,
		header:      http.Header{},
		dialer:      opts.Dialer,
		logger:      opts.Logger,
		baseDelay:   opts.BaseDelay,
		maxAttempts: opts.MaxAttempts,
		state:       StateDisconnected,
		ctx:         context.Background(),
	}
	if opts.Token != "" {
		m.header.Set("Authorization", "Bearer "+opts.Token)
	}
	if m.dialer == nil {
		m.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		}
	}
	if m.logger == nil {
		m.logger = noopLogger{}
	}
	if m.baseDelay <= 0 {
		m.baseDelay = DefaultBaseDelay
	}
	switch {
	case m.maxAttempts == 0:
		m.maxAttempts = DefaultMaxAttempts
	case m.maxAttempts < 0:
		m.maxAttempts = 0
	}
	m.afterFunc = func(d time.Duration, f func()) stopper { return time.AfterFunc(d, f) }
	return m, nil
}

// ReconnectDelay returns the delay before reconnect attempt n (1-based).
func ReconnectDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// Connect dials the relay. ctx bounds this dial and every later reconnect.
// A failed dial is treated like an unintentional close: a reconnect is
// scheduled and ErrDial is returned.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.intentional {
		m.mu.Unlock()
		return ErrClosed
	}
	m.ctx = ctx
	m.mu.Unlock()
	return m.dial()
}

func (m *Manager) dial() error {
	m.mu.Lock()
	if m.intentional || m.state == StateConnecting || m.state == StateReconnecting || m.state == StateConnected {
		m.mu.Unlock()
		m.logger.Debug("already connected or connecting, skipping")
		return nil
	}
	m.reconnect = nil
	next := StateConnecting
	if m.attempts > 0 {
		next = StateReconnecting
	}
	ctx := m.ctx
	observers := m.setStateLocked(next)
	m.mu.Unlock()
	notify(observers, next)

	m.logger.Info("connecting to relay", "url", m.url, "state", next)
	conn, resp, err := m.dialer.DialContext(ctx, m.url, m.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		m.logger.Warn("relay dial failed", "error", err)
		m.handleClose(nil)
		return fmt.Errorf("%w: %w", ErrDial, err)
	}

	m.mu.Lock()
	if m.intentional {
		m.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	m.conn = conn
	m.attempts = 0
	subs := append([]deviceid.ID{m.device}, m.extra...)
	observers = m.setStateLocked(StateConnected)
	m.mu.Unlock()

	m.logger.Info("connected to relay", "device_id", m.device)
	for _, id := range subs {
		m.send(conn, protocol.NewMessage(protocol.KindSubscribe, id))
	}
	go m.readLoop(conn)
	notify(observers, StateConnected)
	return nil
}

// readLoop delivers inbound frames until the connection fails.
func (m *Manager) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.logger.Debug("relay read ended", "error", err)
			m.handleClose(conn)
			return
		}
		m.dispatch(data)
	}
}

func (m *Manager) dispatch(data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		// Server acks may omit the device id; anything else is dropped.
		m.logger.Warn("dropping inbound frame", "error", err)
		return
	}

	switch env.Type {
	case protocol.KindSubscribed:
		m.logger.Debug("subscribed", "device_id", env.DeviceID)
	case protocol.KindDeviceUpdate:
		var u protocol.DeviceUpdate
		if err := env.Payload(&u); err != nil {
			m.logger.Warn("bad device-update", "error", err)
			break
		}
		m.mu.Lock()
		paired := u.Data.Paired
		m.paired = &paired
		m.pairingCode = ""
		if u.Data.PairingCode != nil {
			m.pairingCode = *u.Data.PairingCode
		}
		m.mu.Unlock()
		m.logger.Info("device update", "device_id", env.DeviceID, "paired", paired)
	case protocol.KindDeviceOnline:
		var o protocol.DeviceOnline
		if err := env.Payload(&o); err != nil {
			m.logger.Warn("bad device-online", "error", err)
			break
		}
		m.mu.Lock()
		paired := o.Paired
		m.paired = &paired
		m.mu.Unlock()
		m.logger.Debug("device online", "device_id", env.DeviceID)
	}

	m.mu.Lock()
	handlers := slices.Clone(m.handlers)
	m.mu.Unlock()
	for _, h := range handlers {
		h.fn(env)
	}
}

// handleClose runs when conn (nil for a failed dial) goes away. It
// schedules a reconnect unless the close was intentional or the attempts
// are exhausted.
func (m *Manager) handleClose(conn *websocket.Conn) {
	m.mu.Lock()
	if conn != nil && conn != m.conn {
		m.mu.Unlock()
		return
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	observers := m.setStateLocked(StateDisconnected)

	if m.intentional {
		m.mu.Unlock()
		notify(observers, StateDisconnected)
		m.logger.Info("disconnected (intentional)")
		return
	}
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		notify(observers, StateDisconnected)
		m.logger.Info("disconnected, context done")
		return
	}
	if m.attempts >= m.maxAttempts {
		m.mu.Unlock()
		notify(observers, StateDisconnected)
		m.logger.Warn("max reconnection attempts reached", "attempts", m.maxAttempts)
		return
	}

	m.attempts++
	attempt := m.attempts
	delay := ReconnectDelay(m.baseDelay, attempt)
	m.reconnect = m.afterFunc(delay, func() {
		m.dial() //nolint:errcheck // failures reschedule themselves
	})
	m.mu.Unlock()

	metrics.KioskReconnects.Inc()
	notify(observers, StateDisconnected)
	m.logger.Info("reconnecting", "delay", delay.String(), "attempt", attempt, "max_attempts", m.maxAttempts)
}

// Close stops reconnecting and closes the connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.intentional {
		m.mu.Unlock()
		return nil
	}
	m.intentional = true
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		m.handleClose(nil)
		return nil
	}
	m.writeMu.Lock()
	//nolint:errcheck // Best-effort close frame
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	m.writeMu.Unlock()
	m.handleClose(conn)
	return nil
}

// SendMessage encodes v and sends it. It returns false, logging a warning,
// when not connected; nothing is queued.
func (m *Manager) SendMessage(v any) bool {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || conn == nil {
		m.logger.Warn("cannot send message, not connected")
		return false
	}
	return m.send(conn, v)
}

func (m *Manager) send(conn *websocket.Conn, v any) bool {
	frame, err := protocol.Encode(v)
	if err != nil {
		m.logger.Error("encoding message", "error", err)
		return false
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	//nolint:errcheck // Best-effort deadline; write error caught below
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		m.logger.Warn("write failed", "error", err)
		return false
	}
	return true
}

// Subscribe adds a subscription that is sent now if connected and replayed
// on every reconnect.
func (m *Manager) Subscribe(id deviceid.ID) bool {
	m.mu.Lock()
	if id != m.device && !slices.Contains(m.extra, id) {
		m.extra = append(m.extra, id)
	}
	m.mu.Unlock()
	return m.SendMessage(protocol.NewMessage(protocol.KindSubscribe, id))
}

// OnMessage registers h for every inbound envelope.
func (m *Manager) OnMessage(h Handler) HandlerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.handlers = append(m.handlers, handlerEntry{id: m.nextID, fn: h})
	return m.nextID
}

// OnStateChange registers fn for connection state changes.
func (m *Manager) OnStateChange(fn StateObserver) HandlerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.observers = append(m.observers, observerEntry{id: m.nextID, fn: fn})
	return m.nextID
}

// RemoveHandler removes a handler or observer. Unknown ids are ignored.
func (m *Manager) RemoveHandler(id HandlerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = slices.DeleteFunc(m.handlers, func(e handlerEntry) bool { return e.id == id })
	m.observers = slices.DeleteFunc(m.observers, func(e observerEntry) bool { return e.id == id })
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the connection is open.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// DeviceID returns the main board this manager serves.
func (m *Manager) DeviceID() deviceid.ID { return m.device }

// Paired returns the last known pairing state, or nil if none was seen.
func (m *Manager) Paired() *bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paired == nil {
		return nil
	}
	p := *m.paired
	return &p
}

// PairingCode returns the last pairing code announced by the relay.
func (m *Manager) PairingCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pairingCode
}

// setStateLocked records next and returns the observers to notify, or nil
// when the state did not change. m.mu must be held.
func (m *Manager) setStateLocked(next State) []observerEntry {
	if m.state == next {
		return nil
	}
	m.state = next
	return slices.Clone(m.observers)
}

func notify(observers []observerEntry, s State) {
	for _, o := range observers {
		o.fn(s)
	}
}
