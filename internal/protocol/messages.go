package protocol

import (
	"time"

	"github.com/sscm-labs/sscm-relay/internal/deviceid"
)

// Message is a bare command or notification: enable/disable payment and
// classification, subscribe, subscribed.
type Message struct {
	Type     Kind        `json:"type"`
	DeviceID deviceid.ID `json:"deviceId"`
}

// NewMessage returns a bare message of the given kind.
func NewMessage(kind Kind, id deviceid.ID) Message {
	return Message{Type: kind, DeviceID: id}
}

// PairingState is the data block of a device-update.
type PairingState struct {
	Paired      bool       `json:"paired"`
	PairingCode *string    `json:"pairingCode"`
	PairedAt    *time.Time `json:"pairedAt"`
}

// DeviceUpdate announces a pairing transition to a device's subscribers.
type DeviceUpdate struct {
	Type     Kind         `json:"type"`
	DeviceID deviceid.ID  `json:"deviceId"`
	Data     PairingState `json:"data"`
}

// NewDeviceUpdate builds a device-update envelope.
func NewDeviceUpdate(id deviceid.ID, state PairingState) DeviceUpdate {
	return DeviceUpdate{Type: KindDeviceUpdate, DeviceID: id, Data: state}
}

// DeviceOnline is broadcast after a status-update.
type DeviceOnline struct {
	Type     Kind        `json:"type"`
	DeviceID deviceid.ID `json:"deviceId"`
	Paired   bool        `json:"paired"`
}

// StatusAck answers a status-update on the sender's connection.
type StatusAck struct {
	Type        Kind        `json:"type"`
	DeviceID    deviceid.ID `json:"deviceId"`
	Success     bool        `json:"success"`
	Paired      *bool       `json:"paired,omitempty"`
	PairingCode *string     `json:"pairingCode,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// StartClassification asks a camera to classify. The kiosk sends it with
// the main board id; the relay forwards it addressed to the camera with
// MainDeviceID filled in.
type StartClassification struct {
	Type         Kind        `json:"type"`
	DeviceID     deviceid.ID `json:"deviceId"`
	CamDeviceID  string      `json:"camDeviceId,omitempty"`
	MainDeviceID string      `json:"mainDeviceId,omitempty"`
}

// ClassificationResult is the camera's verdict.
type ClassificationResult struct {
	Type       Kind        `json:"type"`
	DeviceID   deviceid.ID `json:"deviceId"`
	Result     string      `json:"result"`
	Confidence float64     `json:"confidence"`
}

// ClassificationError reports a failed classification.
type ClassificationError struct {
	Type     Kind        `json:"type"`
	DeviceID deviceid.ID `json:"deviceId"`
	Error    string      `json:"error,omitempty"`
}

// CamSyncStatus reports whether the main board currently sees its camera.
type CamSyncStatus struct {
	Type        Kind        `json:"type"`
	DeviceID    deviceid.ID `json:"deviceId"`
	CamSynced   *bool       `json:"camSynced"`
	CamDeviceID string      `json:"camDeviceId,omitempty"`
}

// CamPaired reports the camera a main board has bonded with.
type CamPaired struct {
	Type        Kind        `json:"type"`
	DeviceID    deviceid.ID `json:"deviceId"`
	CamDeviceID string      `json:"camDeviceId"`
}

// SensorData carries climate readings from the main board.
type SensorData struct {
	Type        Kind        `json:"type"`
	DeviceID    deviceid.ID `json:"deviceId"`
	Temperature *float64    `json:"temperature,omitempty"`
	Humidity    *float64    `json:"humidity,omitempty"`
}

// DistanceData carries reservoir levels from the main board.
type DistanceData struct {
	Type             Kind        `json:"type"`
	DeviceID         deviceid.ID `json:"deviceId"`
	AtomizerDistance *float64    `json:"atomizerDistance,omitempty"`
	FoamDistance     *float64    `json:"foamDistance,omitempty"`
}

// ServiceStatus reports progress of a running care service.
type ServiceStatus struct {
	Type          Kind        `json:"type"`
	DeviceID      deviceid.ID `json:"deviceId"`
	Active        bool        `json:"active"`
	ServiceType   string      `json:"serviceType,omitempty"`
	Progress      float64     `json:"progress"`
	TimeRemaining float64     `json:"timeRemaining"`
}
