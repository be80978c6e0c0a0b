package device

import (
	"context"
	"time"

	"github.com/sscm-labs/sscm-relay/internal/deviceid"
)

// Device is the directory record of one main board or camera module.
type Device struct {
	DeviceID    deviceid.ID  `json:"deviceId"`
	Paired      bool         `json:"paired"`
	PairingCode *string      `json:"pairingCode"`
	PairedAt    *time.Time   `json:"pairedAt"`
	PairedBy    *string      `json:"pairedBy"`
	CamDeviceID *deviceid.ID `json:"camDeviceId,omitempty"`
	CamSynced   bool         `json:"camSynced"`
	LastSeen    *time.Time   `json:"lastSeen"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// DeepCopy returns a copy that shares no pointers with d.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	c := *d
	c.PairingCode = copyPtr(d.PairingCode)
	c.PairedAt = copyPtr(d.PairedAt)
	c.PairedBy = copyPtr(d.PairedBy)
	c.CamDeviceID = copyPtr(d.CamDeviceID)
	c.LastSeen = copyPtr(d.LastSeen)
	return &c
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Change is a single atomic write against one device record.
// It is either Fields (upsert) or PairedState (pairing transition).
type Change interface {
	apply(ctx context.Context, repo Repository, id deviceid.ID) (*Device, error)
}

// Fields is a partial upsert. Nil fields are left unchanged; on insert
// they take their defaults. PairingCode is ignored for paired devices.
type Fields struct {
	PairingCode *string
	CamDeviceID *deviceid.ID
	CamSynced   *bool
	LastSeen    *time.Time
}

func (f Fields) apply(ctx context.Context, repo Repository, id deviceid.ID) (*Device, error) {
	return repo.Upsert(ctx, id, f)
}

// PairedState replaces all pairing columns of an existing device at once.
type PairedState struct {
	Paired      bool
	PairingCode *string
	PairedAt    *time.Time
	PairedBy    *string
}

// Validate checks the code/paired invariant.
func (s PairedState) Validate() error {
	if s.Paired && s.PairingCode != nil {
		return ErrInvalidPairedState
	}
	return nil
}

func (s PairedState) apply(ctx context.Context, repo Repository, id deviceid.ID) (*Device, error) {
	return repo.UpdatePaired(ctx, id, s)
}
