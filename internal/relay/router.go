package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/sscm-labs/sscm-relay/internal/device"
	"github.com/sscm-labs/sscm-relay/internal/deviceid"
	"github.com/sscm-labs/sscm-relay/internal/metrics"
	"github.com/sscm-labs/sscm-relay/internal/protocol"
)

// Route groups kinds that share a routing rule.
type Route string

// Routes.
const (
	RouteRelay        Route = "relay"
	RouteWriteThrough Route = "write_through"
	RouteCrossRole    Route = "cross_role"
	RouteDirected     Route = "directed"
	RouteLiveness     Route = "liveness"
	RouteSubscription Route = "subscription"
	RouteServer       Route = "server"
	RouteUnknown      Route = "unknown"
)

var routes = map[protocol.Kind]Route{
	protocol.KindCoinInserted:          RouteRelay,
	protocol.KindBillInserted:          RouteRelay,
	protocol.KindEnablePayment:         RouteRelay,
	protocol.KindDisablePayment:        RouteRelay,
	protocol.KindStartService:          RouteRelay,
	protocol.KindServiceStatus:         RouteRelay,
	protocol.KindServiceComplete:       RouteRelay,
	protocol.KindEnableClassification:  RouteRelay,
	protocol.KindDisableClassification: RouteRelay,
	protocol.KindRestart:               RouteRelay,

	protocol.KindSensorData:    RouteWriteThrough,
	protocol.KindDistanceData:  RouteWriteThrough,
	protocol.KindCamSyncStatus: RouteWriteThrough,
	protocol.KindCamPaired:     RouteWriteThrough,

	protocol.KindCamStatus:             RouteCrossRole,
	protocol.KindClassificationResult:  RouteCrossRole,
	protocol.KindClassificationStarted: RouteCrossRole,
	protocol.KindClassificationError:   RouteCrossRole,
	protocol.KindClassificationBusy:    RouteCrossRole,

	protocol.KindStartClassification:   RouteDirected,
	protocol.KindRequestClassification: RouteDirected,

	protocol.KindStatusUpdate: RouteLiveness,

	protocol.KindSubscribe:   RouteSubscription,
	protocol.KindUnsubscribe: RouteSubscription,

	protocol.KindSubscribed:   RouteServer,
	protocol.KindUnsubscribed: RouteServer,
	protocol.KindStatusAck:    RouteServer,
	protocol.KindDeviceOnline: RouteServer,
	protocol.KindDeviceUpdate: RouteServer,
}

// RouteOf returns the routing rule for a kind.
func RouteOf(k protocol.Kind) Route {
	if r, ok := routes[k]; ok {
		return r
	}
	return RouteUnknown
}

// Directory is the slice of the device directory the router writes to.
type Directory interface {
	Mutate(ctx context.Context, id deviceid.ID, decide func(current *device.Device) (device.Change, error)) (*device.Device, error)
}

// TelemetrySink receives numeric readings from write-through kinds.
type TelemetrySink interface {
	WriteTelemetry(id deviceid.ID, measurement string, fields map[string]float64)
}

// EventMirror is offered every routed envelope. Publish must not block.
type EventMirror interface {
	PublishEvent(env protocol.Envelope)
}

// Logger is the logging interface used by the router.
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

// BreakerSettings configures the directory circuit breaker.
type BreakerSettings struct {
	// Failures is the number of consecutive failures that opens the breaker.
	Failures uint32
	// Timeout is how long the breaker stays open before a trial write.
	Timeout time.Duration
}

// Deps holds router collaborators. Registry and Directory are required.
type Deps struct {
	Registry  *Registry
	Directory Directory
	Telemetry TelemetrySink
	Mirror    EventMirror
	Logger    Logger
	Breaker   BreakerSettings
	Now       func() time.Time
}

// Router dispatches decoded envelopes. It also implements the pairing
// notifier so pairing transitions reach subscribers.
type Router struct {
	registry  *Registry
	dir       Directory
	telemetry TelemetrySink
	mirror    EventMirror
	logger    Logger
	now       func() time.Time
	breaker   *gobreaker.CircuitBreaker[*device.Device]
}

// NewRouter creates a router.
func NewRouter(deps Deps) (*Router, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("relay: registry is required")
	}
	if deps.Directory == nil {
		return nil, fmt.Errorf("relay: directory is required")
	}

	r := &Router{
		registry:  deps.Registry,
		dir:       deps.Directory,
		telemetry: deps.Telemetry,
		mirror:    deps.Mirror,
		logger:    deps.Logger,
		now:       deps.Now,
	}
	if r.logger == nil {
		r.logger = noopLogger{}
	}
	if r.now == nil {
		r.now = time.Now
	}

	failures := deps.Breaker.Failures
	if failures == 0 {
		failures = 5
	}
	timeout := deps.Breaker.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r.breaker = gobreaker.NewCircuitBreaker[*device.Device](gobreaker.Settings{
		Name:        "device-directory",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// An unknown device is a normal answer, not a storage fault.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, device.ErrDeviceNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.DirectoryBreakerState.Set(float64(to))
			r.logger.Warn("circuit breaker state changed",
				"name", name, "from", from.String(), "to", to.String())
		},
	})

	return r, nil
}

// Handle routes one inbound frame from conn. conn is nil for frames that
// arrive without a reply channel. Handle never fails: bad frames are
// logged, counted and dropped.
func (r *Router) Handle(ctx context.Context, conn Conn, raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		metrics.RelayFramesDropped.WithLabelValues("malformed").Inc()
		r.logger.Warn("dropping malformed frame", "conn", connID(conn), "error", err)
		return
	}

	route := RouteOf(env.Type)
	metrics.RelayFrames.WithLabelValues(string(env.Type), string(route)).Inc()

	switch route {
	case RouteRelay:
		r.deliver(env, env.Raw(), env.DeviceID)
	case RouteWriteThrough:
		r.writeThrough(ctx, env)
	case RouteCrossRole:
		r.deliver(env, env.Raw(), env.DeviceID.Camera(), env.DeviceID.Main())
	case RouteDirected:
		r.dispatchClassification(env)
	case RouteLiveness:
		r.liveness(ctx, conn, env)
	case RouteSubscription:
		r.subscription(conn, env)
	case RouteServer:
		metrics.RelayFramesDropped.WithLabelValues("server_kind").Inc()
		r.logger.Warn("dropping frame", "conn", connID(conn), "type", env.Tag, "error", ErrServerKind)
	default:
		metrics.RelayFramesDropped.WithLabelValues("unknown_type").Inc()
		r.logger.Warn("unknown message type", "conn", connID(conn), "type", env.Tag, "device_id", env.DeviceID)
	}
}

// Disconnect removes conn from every subscription set.
func (r *Router) Disconnect(conn Conn) {
	ids := r.registry.Remove(conn)
	r.logger.Debug("connection removed", "conn", conn.ID(), "subscriptions", len(ids))
}

// BroadcastDeviceUpdate sends a device-update to the device's subscribers.
func (r *Router) BroadcastDeviceUpdate(id deviceid.ID, state protocol.PairingState) int {
	frame, err := protocol.Encode(protocol.NewDeviceUpdate(id, state))
	if err != nil {
		r.logger.Error("encoding device-update", "device_id", id, "error", err)
		return 0
	}
	n := r.registry.Broadcast(frame, id)
	metrics.RelayDeliveries.WithLabelValues(string(protocol.KindDeviceUpdate)).Add(float64(n))
	if r.mirror != nil {
		if env, err := protocol.Decode(frame); err == nil {
			r.mirror.PublishEvent(env)
		}
	}
	return n
}

// SendCommand sends a bare command of the given kind to a device's
// subscribers and returns the delivered count.
func (r *Router) SendCommand(id deviceid.ID, kind protocol.Kind) int {
	frame := protocol.MustEncode(protocol.NewMessage(kind, id))
	env, err := protocol.Decode(frame)
	if err != nil {
		return 0
	}
	return r.deliver(env, frame, id)
}

// deliver broadcasts frame to the subscribers of ids and mirrors env.
func (r *Router) deliver(env protocol.Envelope, frame []byte, ids ...deviceid.ID) int {
	n := r.registry.Broadcast(frame, ids...)
	metrics.RelayDeliveries.WithLabelValues(string(env.Type)).Add(float64(n))
	if r.mirror != nil {
		r.mirror.PublishEvent(env)
	}
	return n
}

func (r *Router) writeThrough(ctx context.Context, env protocol.Envelope) {
	now := r.now().UTC()
	fields := device.Fields{LastSeen: &now}

	switch env.Type {
	case protocol.KindSensorData:
		var p protocol.SensorData
		if err := env.Payload(&p); err != nil {
			r.logger.Warn("bad sensor-data payload", "device_id", env.DeviceID, "error", err)
			break
		}
		r.record(env.DeviceID, "climate", map[string]*float64{
			"temperature": p.Temperature,
			"humidity":    p.Humidity,
		})

	case protocol.KindDistanceData:
		var p protocol.DistanceData
		if err := env.Payload(&p); err != nil {
			r.logger.Warn("bad distance-data payload", "device_id", env.DeviceID, "error", err)
			break
		}
		r.record(env.DeviceID, "reservoir", map[string]*float64{
			"atomizer_distance": p.AtomizerDistance,
			"foam_distance":     p.FoamDistance,
		})

	case protocol.KindCamSyncStatus:
		var p protocol.CamSyncStatus
		if err := env.Payload(&p); err != nil {
			r.logger.Warn("bad cam-sync-status payload", "device_id", env.DeviceID, "error", err)
			break
		}
		fields.CamSynced = p.CamSynced
		fields.CamDeviceID = r.camID(env, p.CamDeviceID)

	case protocol.KindCamPaired:
		var p protocol.CamPaired
		if err := env.Payload(&p); err != nil {
			r.logger.Warn("bad cam-paired payload", "device_id", env.DeviceID, "error", err)
			break
		}
		fields.CamDeviceID = r.camID(env, p.CamDeviceID)
	}

	if _, err := r.mutate(ctx, env.DeviceID, fields); err != nil {
		r.logDirectoryError(env, err)
	}

	r.deliver(env, env.Raw(), env.DeviceID)
}

// camID parses a camera id reported by a main board. Anything else is
// ignored.
func (r *Router) camID(env protocol.Envelope, raw string) *deviceid.ID {
	if raw == "" || !env.DeviceID.IsMain() {
		return nil
	}
	id, err := deviceid.Parse(raw)
	if err != nil || !id.IsCamera() {
		r.logger.Warn("ignoring invalid camera id", "device_id", env.DeviceID, "cam_device_id", raw)
		return nil
	}
	return &id
}

func (r *Router) record(id deviceid.ID, measurement string, values map[string]*float64) {
	if r.telemetry == nil {
		return
	}
	fields := make(map[string]float64, len(values))
	for k, v := range values {
		if v != nil {
			fields[k] = *v
		}
	}
	if len(fields) == 0 {
		return
	}
	r.telemetry.WriteTelemetry(id, measurement, fields)
}

// mutate applies fields to an existing device through the breaker.
// Unknown devices are not created.
func (r *Router) mutate(ctx context.Context, id deviceid.ID, fields device.Fields) (*device.Device, error) {
	dev, err := r.breaker.Execute(func() (*device.Device, error) {
		return r.dir.Mutate(ctx, id, func(current *device.Device) (device.Change, error) {
			if current == nil {
				return nil, device.ErrDeviceNotFound
			}
			return fields, nil
		})
	})

	switch {
	case err == nil:
		metrics.DirectoryWrites.WithLabelValues("fields", "ok").Inc()
	case errors.Is(err, device.ErrDeviceNotFound):
		metrics.DirectoryWrites.WithLabelValues("fields", "not_found").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.DirectoryWrites.WithLabelValues("fields", "skipped").Inc()
	default:
		metrics.DirectoryWrites.WithLabelValues("fields", "error").Inc()
	}
	return dev, err
}

func (r *Router) logDirectoryError(env protocol.Envelope, err error) {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		r.logger.Debug("write-through for unregistered device", "device_id", env.DeviceID, "type", env.Tag)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		r.logger.Warn("directory write skipped, breaker open", "device_id", env.DeviceID, "type", env.Tag)
	default:
		r.logger.Error("directory write failed", "device_id", env.DeviceID, "type", env.Tag, "error", err)
	}
}

func (r *Router) dispatchClassification(env protocol.Envelope) {
	var p protocol.StartClassification
	if err := env.Payload(&p); err != nil {
		metrics.RelayFramesDropped.WithLabelValues("malformed").Inc()
		r.logger.Warn("bad classification request", "device_id", env.DeviceID, "error", err)
		return
	}

	target := env.DeviceID.Camera()
	if p.CamDeviceID != "" {
		if cam, err := deviceid.Parse(p.CamDeviceID); err == nil && cam.IsCamera() {
			target = cam
		} else {
			r.logger.Warn("ignoring invalid camDeviceId", "device_id", env.DeviceID, "cam_device_id", p.CamDeviceID)
		}
	}

	out := protocol.StartClassification{
		Type:         protocol.KindStartClassification,
		DeviceID:     target,
		MainDeviceID: target.Main().String(),
	}
	if env.DeviceID.IsMain() {
		out.MainDeviceID = env.DeviceID.String()
	}

	frame := protocol.MustEncode(out)
	fwd, err := protocol.Decode(frame)
	if err != nil {
		return
	}
	n := r.deliver(fwd, frame, target)
	r.logger.Debug("classification dispatched", "from", env.DeviceID, "to", target, "delivered", n)
}

func (r *Router) liveness(ctx context.Context, conn Conn, env protocol.Envelope) {
	if conn == nil {
		metrics.RelayFramesDropped.WithLabelValues("no_connection").Inc()
		r.logger.Warn("dropping frame", "type", env.Tag, "device_id", env.DeviceID, "error", ErrNoConnection)
		return
	}

	now := r.now().UTC()
	dev, err := r.mutate(ctx, env.DeviceID, device.Fields{LastSeen: &now})
	if err != nil {
		ack := protocol.StatusAck{
			Type:     protocol.KindStatusAck,
			DeviceID: env.DeviceID,
			Error:    "status update failed",
		}
		if errors.Is(err, device.ErrDeviceNotFound) {
			ack.Error = "device not registered"
		}
		r.logDirectoryError(env, err)
		r.reply(conn, ack)
		return
	}

	paired := dev.Paired
	r.reply(conn, protocol.StatusAck{
		Type:        protocol.KindStatusAck,
		DeviceID:    env.DeviceID,
		Success:     true,
		Paired:      &paired,
		PairingCode: dev.PairingCode,
	})

	online := protocol.MustEncode(protocol.DeviceOnline{
		Type:     protocol.KindDeviceOnline,
		DeviceID: env.DeviceID,
		Paired:   dev.Paired,
	})
	if onlineEnv, err := protocol.Decode(online); err == nil {
		r.deliver(onlineEnv, online, env.DeviceID)
	}
}

func (r *Router) subscription(conn Conn, env protocol.Envelope) {
	if conn == nil {
		metrics.RelayFramesDropped.WithLabelValues("no_connection").Inc()
		r.logger.Warn("dropping frame", "type", env.Tag, "device_id", env.DeviceID, "error", ErrNoConnection)
		return
	}

	if env.Type == protocol.KindSubscribe {
		if r.registry.Subscribe(env.DeviceID, conn) {
			r.logger.Debug("subscribed", "conn", conn.ID(), "device_id", env.DeviceID)
		}
		r.reply(conn, protocol.NewMessage(protocol.KindSubscribed, env.DeviceID))
		return
	}

	r.registry.Unsubscribe(env.DeviceID, conn)
	r.reply(conn, protocol.NewMessage(protocol.KindUnsubscribed, env.DeviceID))
}

func (r *Router) reply(conn Conn, msg any) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		r.logger.Error("encoding reply", "conn", conn.ID(), "error", err)
		return
	}
	if !conn.Send(frame) {
		r.logger.Debug("reply not delivered", "conn", conn.ID())
	}
}

func connID(c Conn) string {
	if c == nil {
		return "mqtt"
	}
	return c.ID()
}
