package classify

import (
	"sync"
	"time"

	"github.com/sscm-labs/sscm-relay/internal/deviceid"
	"github.com/sscm-labs/sscm-relay/internal/kiosk"
	"github.com/sscm-labs/sscm-relay/internal/metrics"
	"github.com/sscm-labs/sscm-relay/internal/protocol"
)

// State is the workflow state.
type State string

// Workflow states.
const (
	StateConnecting  State = "connecting"
	StateSyncing     State = "syncing"
	StateClassifying State = "classifying"
	StateSuccess     State = "success"
	StateError       State = "error"
)

// DefaultTimeout bounds one classification attempt.
const DefaultTimeout = 15 * time.Second

// Messenger is the part of kiosk.Manager the workflow needs.
type Messenger interface {
	SendMessage(v any) bool
	Subscribe(id deviceid.ID) bool
	IsConnected() bool
	OnMessage(h kiosk.Handler) kiosk.HandlerID
	OnStateChange(fn kiosk.StateObserver) kiosk.HandlerID
	RemoveHandler(id kiosk.HandlerID)
}

// Logger defines the logging interface used by the Workflow.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Result is the camera's verdict.
type Result struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Snapshot is the observable state of a workflow.
type Snapshot struct {
	State     State       `json:"state"`
	MainID    deviceid.ID `json:"mainDeviceId"`
	CamID     deviceid.ID `json:"camDeviceId"`
	CamSynced *bool       `json:"camSynced"`
	Result    *Result     `json:"result,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// Observer receives a snapshot after every transition.
type Observer func(Snapshot)

// Deps holds the collaborators of a Workflow. Messenger and MainID are
// required.
type Deps struct {
	Messenger Messenger
	MainID    deviceid.ID
	// Timeout overrides DefaultTimeout.
	Timeout  time.Duration
	Logger   Logger
	Observer Observer

	afterFunc func(time.Duration, func()) stopper
}

type stopper interface {
	Stop() bool
}

// Workflow is one classification session.
type Workflow struct {
	msgr      Messenger
	main      deviceid.ID
	timeout   time.Duration
	logger    Logger
	observer  Observer
	afterFunc func(time.Duration, func()) stopper

	mu        sync.Mutex
	state     State
	cam       deviceid.ID
	camSynced *bool
	requested bool
	result    *Result
	errMsg    string
	timer     stopper
	gen       uint64
	started   bool
	closed    bool
	handlers  []kiosk.HandlerID
}

// New creates a workflow in the connecting state. Nothing is sent until
// Start.
func New(deps Deps) (*Workflow, error) {
	if deps.Messenger == nil {
		return nil, errorf("messenger is required")
	}
	if !deps.MainID.IsMain() {
		return nil, errorf("main board id is required")
	}
	w := &Workflow{
		msgr:      deps.Messenger,
		main:      deps.MainID,
		cam:       deps.MainID.Camera(),
		timeout:   deps.Timeout,
		logger:    deps.Logger,
		observer:  deps.Observer,
		afterFunc: deps.afterFunc,
		state:     StateConnecting,
	}
	if w.timeout <= 0 {
		w.timeout = DefaultTimeout
	}
	if w.logger == nil {
		w.logger = noopLogger{}
	}
	if w.afterFunc == nil {
		w.afterFunc = func(d time.Duration, f func()) stopper { return time.AfterFunc(d, f) }
	}
	return w, nil
}

// Start registers the workflow's handlers, subscribes to the camera and
// asks the board to enable classification.
func (w *Workflow) Start() error {
	w.mu.Lock()
	switch {
	case w.closed:
		w.mu.Unlock()
		return ErrClosed
	case w.started:
		w.mu.Unlock()
		return ErrAlreadyStarted
	}
	w.started = true
	w.mu.Unlock()

	msgID := w.msgr.OnMessage(w.handleMessage)
	stateID := w.msgr.OnStateChange(w.handleConnState)

	w.mu.Lock()
	w.handlers = append(w.handlers, msgID, stateID)
	cam := w.cam
	w.mu.Unlock()

	w.msgr.Subscribe(cam)
	if w.msgr.IsConnected() {
		w.enable()
	}
	w.emit(w.Snapshot())
	return nil
}

// Retry starts a new attempt from success or error.
func (w *Workflow) Retry() error {
	connected := w.msgr.IsConnected()

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if w.state != StateSuccess && w.state != StateError {
		w.mu.Unlock()
		return ErrNotFinished
	}
	w.requested = false
	w.result = nil
	w.errMsg = ""

	var send *protocol.StartClassification
	switch {
	case w.synced() && connected:
		send = w.enterClassifyingLocked()
	case w.camSynced != nil:
		w.state = StateSyncing
	default:
		w.state = StateConnecting
	}
	snap := w.snapshotLocked()
	w.mu.Unlock()

	w.logger.Info("classification retry", "device_id", w.main)
	if send != nil {
		w.msgr.SendMessage(send)
	}
	w.emit(snap)
	return nil
}

// Close sends disable-classification and releases the handlers and timer.
func (w *Workflow) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.stopTimerLocked()
	handlers := w.handlers
	w.handlers = nil
	w.mu.Unlock()

	for _, id := range handlers {
		w.msgr.RemoveHandler(id)
	}
	w.msgr.SendMessage(protocol.NewMessage(protocol.KindDisableClassification, w.main))
}

// Snapshot returns the current state.
func (w *Workflow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

func (w *Workflow) snapshotLocked() Snapshot {
	s := Snapshot{
		State:  w.state,
		MainID: w.main,
		CamID:  w.cam,
		Error:  w.errMsg,
	}
	if w.camSynced != nil {
		v := *w.camSynced
		s.CamSynced = &v
	}
	if w.result != nil {
		r := *w.result
		s.Result = &r
	}
	return s
}

// handleConnState re-enables classification on every reconnect while the
// workflow is still waiting for the camera.
func (w *Workflow) handleConnState(s kiosk.State) {
	if s != kiosk.StateConnected {
		return
	}
	w.mu.Lock()
	waiting := !w.closed && (w.state == StateConnecting || w.state == StateSyncing)
	w.mu.Unlock()
	if !waiting {
		return
	}
	w.enable()
	w.advance()
}

func (w *Workflow) enable() {
	w.msgr.SendMessage(protocol.NewMessage(protocol.KindEnableClassification, w.main))
}

func (w *Workflow) handleMessage(env protocol.Envelope) {
	w.mu.Lock()
	relevant := !w.closed && (env.DeviceID == w.main || env.DeviceID == w.cam)
	w.mu.Unlock()
	if !relevant {
		return
	}

	switch env.Type {
	case protocol.KindCamSyncStatus:
		var m protocol.CamSyncStatus
		if err := env.Payload(&m); err != nil || m.CamSynced == nil {
			w.logger.Warn("bad cam-sync-status", "error", err)
			return
		}
		w.mu.Lock()
		synced := *m.CamSynced
		w.camSynced = &synced
		var moved deviceid.ID
		if id, err := deviceid.Parse(m.CamDeviceID); err == nil && id.IsCamera() && id != w.cam {
			w.cam = id
			moved = id
		}
		w.mu.Unlock()
		w.logger.Debug("camera sync", "synced", synced)
		// The camera's results fan out to its own id and its serial's
		// board, so a camera under another serial needs its own
		// subscription before the request goes out.
		if !moved.IsZero() {
			w.logger.Info("board reported camera", "device_id", w.main, "cam_device_id", moved)
			w.msgr.Subscribe(moved)
		}
		w.advance()

	case protocol.KindClassificationStarted:
		w.logger.Debug("classification started on camera")

	case protocol.KindClassificationResult:
		var m protocol.ClassificationResult
		if err := env.Payload(&m); err != nil {
			w.logger.Warn("bad classification-result", "error", err)
			return
		}
		w.finish(StateSuccess, &Result{Label: m.Result, Confidence: m.Confidence}, "", "success")

	case protocol.KindClassificationError:
		var m protocol.ClassificationError
		msg := MsgFailed
		if err := env.Payload(&m); err == nil && m.Error != "" {
			msg = m.Error
		}
		w.finish(StateError, nil, msg, "error")

	case protocol.KindClassificationBusy:
		w.finish(StateError, nil, MsgBusy, "busy")
	}
}

// advance moves connecting → syncing → classifying as far as the known
// connection and sync state allow.
func (w *Workflow) advance() {
	connected := w.msgr.IsConnected()

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	before := w.state
	if w.state == StateConnecting && connected && w.camSynced != nil {
		w.state = StateSyncing
	}
	var send *protocol.StartClassification
	if w.state == StateSyncing && connected && w.synced() {
		send = w.enterClassifyingLocked()
	}
	changed := w.state != before
	snap := w.snapshotLocked()
	w.mu.Unlock()

	if send != nil {
		w.msgr.SendMessage(send)
	}
	if changed {
		w.emit(snap)
	}
}

// enterClassifyingLocked switches to classifying and, once per attempt,
// returns the request to send and arms the timeout. w.mu must be held.
func (w *Workflow) enterClassifyingLocked() *protocol.StartClassification {
	w.state = StateClassifying
	if w.requested {
		return nil
	}
	w.requested = true

	w.stopTimerLocked()
	gen := w.gen
	w.timer = w.afterFunc(w.timeout, func() { w.expire(gen) })

	w.logger.Info("classification requested", "device_id", w.main, "cam_device_id", w.cam)
	return &protocol.StartClassification{
		Type:        protocol.KindStartClassification,
		DeviceID:    w.main,
		CamDeviceID: w.cam.String(),
	}
}

func (w *Workflow) expire(gen uint64) {
	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		return
	}
	ok := w.finishLocked(StateError, nil, MsgTimedOut)
	snap := w.snapshotLocked()
	w.mu.Unlock()
	if ok {
		w.finished("timeout", snap)
	}
}

// finish records a terminal outcome of a running attempt.
func (w *Workflow) finish(state State, result *Result, msg, outcome string) {
	w.mu.Lock()
	ok := w.finishLocked(state, result, msg)
	snap := w.snapshotLocked()
	w.mu.Unlock()
	if !ok {
		w.logger.Debug("ignoring outcome outside classifying", "outcome", outcome)
		return
	}
	w.finished(outcome, snap)
}

func (w *Workflow) finishLocked(state State, result *Result, msg string) bool {
	if w.closed || w.state != StateClassifying {
		return false
	}
	w.stopTimerLocked()
	w.state = state
	w.result = result
	w.errMsg = msg
	return true
}

func (w *Workflow) finished(outcome string, snap Snapshot) {
	metrics.ClassificationOutcomes.WithLabelValues(outcome).Inc()
	w.logger.Info("classification finished", "device_id", w.main, "outcome", outcome)
	w.emit(snap)
}

// stopTimerLocked cancels the pending timeout. Bumping gen also defeats a
// timer that already fired and is waiting for the lock.
func (w *Workflow) stopTimerLocked() {
	w.gen++
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Workflow) synced() bool {
	return w.camSynced != nil && *w.camSynced
}

// emit hands the observer a snapshot taken under the lock that made the
// transition.
func (w *Workflow) emit(snap Snapshot) {
	if w.observer == nil {
		return
	}
	w.observer(snap)
}
