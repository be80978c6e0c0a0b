package protocol

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/sscm-labs/sscm-relay/internal/deviceid"
)

// Envelope is one decoded frame. Only the tag and the device id are parsed
// up front; the original bytes are kept so relays forward them verbatim and
// handlers decode type-specific fields with Payload.
type Envelope struct {
	Type Kind
	// Tag is the tag as sent. It differs from Type only for KindUnknown.
	Tag      string
	DeviceID deviceid.ID
	raw      []byte
}

type header struct {
	Type     *string `json:"type"`
	DeviceID *string `json:"deviceId"`
}

// Decode parses a frame. Unknown tags decode successfully as KindUnknown;
// frames that are not JSON objects, lack a tag or a device id, or carry an
// invalid device id fail with ErrMalformed.
func Decode(raw []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}

	var h header
	if err := json.Unmarshal(trimmed, &h); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if h.Type == nil || *h.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	env := Envelope{
		Type: ParseKind(*h.Type),
		Tag:  *h.Type,
		raw:  trimmed,
	}

	if h.DeviceID == nil || *h.DeviceID == "" {
		return env, fmt.Errorf("%w: %s without deviceId", ErrMalformed, env.Tag)
	}
	id, err := deviceid.Parse(*h.DeviceID)
	if err != nil {
		return env, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	env.DeviceID = id
	return env, nil
}

// Raw returns the frame as received.
func (e Envelope) Raw() []byte { return e.raw }

// Payload decodes the whole frame into v.
func (e Envelope) Payload(v any) error {
	if err := json.Unmarshal(e.raw, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, e.Tag, err)
	}
	return nil
}

// Encode marshals an outbound message.
func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}
	return b, nil
}

// MustEncode is Encode for message values that cannot fail to marshal.
func MustEncode(v any) []byte {
	b, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return b
}
