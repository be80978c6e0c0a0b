package kiosk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/sscm-labs/sscm-relay/internal/deviceid"
	"github.com/sscm-labs/sscm-relay/internal/protocol"
)

var (
	mainID = deviceid.MustParse("SSCM-ABC123")
	camID  = deviceid.MustParse("SSCM-CAM-ABC123")
)

// relayStub accepts relay connections and records what clients send.
type relayStub struct {
	srv      *httptest.Server
	conns    chan *websocket.Conn
	received chan map[string]any
	query    chan string
}

func newRelayStub(t *testing.T) *relayStub {
	t.Helper()
	s := &relayStub{
		conns:    make(chan *websocket.Conn, 8),
		received: make(chan map[string]any, 64),
		query:    make(chan string, 8),
	}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.query <- r.URL.Query().Get("deviceId")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg := map[string]any{}
			if json.Unmarshal(data, &msg) == nil {
				s.received <- msg
			}
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *relayStub) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/api/ws"
}

func (s *relayStub) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-s.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func (s *relayStub) nextFrame(t *testing.T) map[string]any {
	t.Helper()
	select {
	case m := <-s.received:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return nil
	}
}

// manualTimers records scheduled reconnects instead of sleeping.
type manualTimers struct {
	mu     sync.Mutex
	delays []time.Duration
	fire   bool
	fired  chan struct{}
}

type fakeTimer struct{ stopped bool }

func (f *fakeTimer) Stop() bool { f.stopped = true; return true }

func (mt *manualTimers) afterFunc(d time.Duration, fn func()) stopper {
	mt.mu.Lock()
	mt.delays = append(mt.delays, d)
	fire := mt.fire
	mt.mu.Unlock()
	if fire {
		go func() {
			fn()
			if mt.fired != nil {
				mt.fired <- struct{}{}
			}
		}()
	}
	return &fakeTimer{}
}

func (mt *manualTimers) all() []time.Duration {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return append([]time.Duration(nil), mt.delays...)
}

func newTestManager(t *testing.T, url string, timers *manualTimers) *Manager {
	t.Helper()
	m, err := NewManager(Options{URL: url, DeviceID: mainID})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if timers != nil {
		m.afterFunc = timers.afterFunc
	}
	t.Cleanup(func() { m.Close() }) //nolint:errcheck // Test cleanup
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReconnectDelay(t *testing.T) {
	want := []time.Duration{3 * time.Second, 6 * time.Second, 12 * time.Second, 24 * time.Second, 48 * time.Second}
	for i, w := range want {
		if got := ReconnectDelay(DefaultBaseDelay, i+1); got != w {
			t.Errorf("ReconnectDelay(3s, %d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestNewManagerValidation(t *testing.T) {
	if _, err := NewManager(Options{DeviceID: mainID}); err == nil {
		t.Error("missing URL should fail")
	}
	if _, err := NewManager(Options{URL: "ws://relay/api/ws"}); err == nil {
		t.Error("missing device id should fail")
	}
}

func TestConnectSubscribesAndReplays(t *testing.T) {
	stub := newRelayStub(t)
	m := newTestManager(t, stub.url(), nil)

	// Requested before connecting: replayed on open.
	if m.Subscribe(camID) {
		t.Error("Subscribe while disconnected should report false")
	}

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if q := <-stub.query; q != mainID.String() {
		t.Errorf("deviceId query = %q, want %s", q, mainID)
	}

	for _, want := range []deviceid.ID{mainID, camID} {
		frame := stub.nextFrame(t)
		if frame["type"] != "subscribe" || frame["deviceId"] != want.String() {
			t.Errorf("frame = %v, want subscribe %s", frame, want)
		}
	}
	if !m.IsConnected() {
		t.Error("IsConnected() = false after Connect")
	}
}

func TestInboundSideEffectsAndHandlerOrder(t *testing.T) {
	stub := newRelayStub(t)
	m := newTestManager(t, stub.url(), nil)

	var mu sync.Mutex
	var order []string
	record := func(name string) Handler {
		return func(env protocol.Envelope) {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name+":"+env.Tag)
		}
	}
	m.OnMessage(record("first"))
	removed := m.OnMessage(record("removed"))
	m.OnMessage(record("second"))
	m.RemoveHandler(removed)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	server := stub.nextConn(t)

	code := "123456"
	if err := server.WriteJSON(protocol.NewDeviceUpdate(mainID, protocol.PairingState{PairingCode: &code})); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, "device-update", func() bool { return m.PairingCode() == code })
	if p := m.Paired(); p == nil || *p {
		t.Errorf("Paired() = %v, want false", p)
	}

	if err := server.WriteJSON(protocol.DeviceOnline{Type: protocol.KindDeviceOnline, DeviceID: mainID, Paired: true}); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, "device-online", func() bool { p := m.Paired(); return p != nil && *p })

	mu.Lock()
	defer mu.Unlock()
	want := []string{"first:device-update", "second:device-update", "first:device-online", "second:device-online"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("handler order = %v, want %v", order, want)
	}
}

func TestSendMessageWhenDisconnected(t *testing.T) {
	m := newTestManager(t, "ws://127.0.0.1:1/api/ws", &manualTimers{})
	if m.SendMessage(protocol.NewMessage(protocol.KindEnableClassification, mainID)) {
		t.Error("SendMessage should fail while disconnected")
	}
}

func TestReconnectScheduleStopsAfterMaxAttempts(t *testing.T) {
	stub := newRelayStub(t)
	url := stub.url()
	stub.srv.Close()

	timers := &manualTimers{fire: true, fired: make(chan struct{}, 16)}
	m := newTestManager(t, url, timers)

	if err := m.Connect(context.Background()); !errors.Is(err, ErrDial) {
		t.Fatalf("Connect error = %v, want ErrDial", err)
	}
	for range DefaultMaxAttempts {
		select {
		case <-timers.fired:
		case <-time.After(2 * time.Second):
			t.Fatalf("reconnects stalled after %v", timers.all())
		}
	}

	want := []time.Duration{3 * time.Second, 6 * time.Second, 12 * time.Second, 24 * time.Second, 48 * time.Second}
	got := timers.all()
	if len(got) != len(want) {
		t.Fatalf("scheduled %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if s := m.State(); s != StateDisconnected {
		t.Errorf("State() = %s, want disconnected", s)
	}
}

func TestReconnectAfterDropResetsAttempts(t *testing.T) {
	stub := newRelayStub(t)
	timers := &manualTimers{fire: true, fired: make(chan struct{}, 16)}
	m := newTestManager(t, stub.url(), timers)

	var mu sync.Mutex
	var states []State
	m.OnStateChange(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	})

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	first := stub.nextConn(t)
	stub.nextFrame(t)

	first.Close()
	stub.nextConn(t)
	if frame := stub.nextFrame(t); frame["type"] != "subscribe" {
		t.Errorf("after reconnect got %v, want subscribe", frame)
	}
	waitFor(t, "reconnected", m.IsConnected)

	m.mu.Lock()
	attempts := m.attempts
	m.mu.Unlock()
	if attempts != 0 {
		t.Errorf("attempts = %d after successful reconnect, want 0", attempts)
	}

	mu.Lock()
	defer mu.Unlock()
	if !containsInOrder(states, StateConnecting, StateConnected, StateDisconnected, StateReconnecting, StateConnected) {
		t.Errorf("states = %v", states)
	}
}

func TestCloseIsIntentional(t *testing.T) {
	stub := newRelayStub(t)
	timers := &manualTimers{}
	m := newTestManager(t, stub.url(), timers)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	stub.nextConn(t)

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if s := m.State(); s != StateDisconnected {
		t.Errorf("State() = %s, want disconnected", s)
	}
	if d := timers.all(); len(d) != 0 {
		t.Errorf("reconnects scheduled after Close: %v", d)
	}
	if err := m.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect after Close = %v, want ErrClosed", err)
	}
}

func containsInOrder(got []State, want ...State) bool {
	i := 0
	for _, s := range got {
		if i < len(want) && s == want[i] {
			i++
		}
	}
	return i == len(want)
}
