package relay

import (
	"context"
	"fmt"
	"path"

	"github.com/sscm-labs/sscm-relay/internal/infrastructure/mqtt"
	"github.com/sscm-labs/sscm-relay/internal/protocol"
)

// Publisher is the part of the MQTT client the mirror needs.
type Publisher interface {
	PublishAsync(topic string, payload []byte) error
}

// MQTTMirror publishes routed envelopes to sscm/events/{deviceId}/{type}.
type MQTTMirror struct {
	pub    Publisher
	logger Logger
}

// NewMQTTMirror creates a mirror. logger may be nil.
func NewMQTTMirror(pub Publisher, logger Logger) *MQTTMirror {
	if logger == nil {
		logger = noopLogger{}
	}
	return &MQTTMirror{pub: pub, logger: logger}
}

// PublishEvent implements EventMirror. Failures are logged at debug: the
// broker being down must not disturb relaying.
func (m *MQTTMirror) PublishEvent(env protocol.Envelope) {
	topic := mqtt.Topics{}.Event(env.DeviceID.String(), env.Tag)
	if err := m.pub.PublishAsync(topic, env.Raw()); err != nil {
		m.logger.Debug("event mirror publish failed", "topic", topic, "error", err)
	}
}

// Handler is the inbound side of the router.
type Handler interface {
	Handle(ctx context.Context, conn Conn, raw []byte)
}

// CommandHandler returns an MQTT handler feeding sscm/command/{deviceId}
// messages into h with no reply connection. The envelope's deviceId must
// match the topic.
func CommandHandler(ctx context.Context, h Handler) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		env, err := protocol.Decode(payload)
		if err != nil {
			return fmt.Errorf("command on %s: %w", topic, err)
		}
		if want := path.Base(topic); env.DeviceID.String() != want {
			return fmt.Errorf("command on %s: deviceId %s does not match topic", topic, env.DeviceID)
		}
		h.Handle(ctx, nil, payload)
		return nil
	}
}
