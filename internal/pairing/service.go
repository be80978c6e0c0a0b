package pairing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sscm-labs/sscm-relay/internal/audit"
	"github.com/sscm-labs/sscm-relay/internal/device"
	"github.com/sscm-labs/sscm-relay/internal/deviceid"
	"github.com/sscm-labs/sscm-relay/internal/protocol"
)

// Directory is the subset of device.Directory the protocol needs.
type Directory interface {
	Mutate(ctx context.Context, id deviceid.ID, decide func(current *device.Device) (device.Change, error)) (*device.Device, error)
	List(ctx context.Context) ([]device.Device, error)
	ListPairedBy(ctx context.Context, adminID string) ([]device.Device, error)
}

// Notifier delivers device-update envelopes to a device's subscribers.
type Notifier interface {
	BroadcastDeviceUpdate(id deviceid.ID, state protocol.PairingState) int
}

// Logger defines the logging interface used by the Service.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopNotifier struct{}

func (noopNotifier) BroadcastDeviceUpdate(deviceid.ID, protocol.PairingState) int { return 0 }

// Deps holds the collaborators of a Service. Directory is required.
type Deps struct {
	Directory Directory
	Notifier  Notifier
	Audit     audit.Repository
	Logger    Logger
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Service runs register, pair and unpair against the device directory.
type Service struct {
	dir      Directory
	notifier Notifier
	audit    audit.Repository
	logger   Logger
	now      func() time.Time
}

// NewService creates a pairing service.
func NewService(deps Deps) (*Service, error) {
	if deps.Directory == nil {
		return nil, errors.New("pairing: directory is required")
	}
	s := &Service{
		dir:      deps.Directory,
		notifier: deps.Notifier,
		audit:    deps.Audit,
		logger:   deps.Logger,
		now:      deps.Now,
	}
	if s.notifier == nil {
		s.notifier = noopNotifier{}
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Register records a main board and its proposed code. A paired device
// keeps its pairing and the code is ignored. lastSeen is refreshed either way.
func (s *Service) Register(ctx context.Context, id deviceid.ID, code string) (*device.Device, error) {
	if !id.IsMain() {
		return nil, ErrNotMainBoard
	}
	if !ValidCode(code) {
		return nil, ErrInvalidCode
	}

	now := s.now().UTC()
	var codeAccepted bool
	d, err := s.dir.Mutate(ctx, id, func(cur *device.Device) (device.Change, error) {
		f := device.Fields{LastSeen: &now}
		if cur == nil || !cur.Paired {
			f.PairingCode = &code
			codeAccepted = true
		}
		return f, nil
	})
	if err != nil {
		return nil, fmt.Errorf("registering %s: %w", id, err)
	}

	s.record(ctx, audit.AuditLog{
		Action:   audit.ActionRegister,
		EntityID: id.String(),
		Source:   audit.SourceDevice,
		Details:  map[string]any{"codeAccepted": codeAccepted, "paired": d.Paired},
	})
	s.logger.Info("device registered", "device_id", id.String(), "paired", d.Paired)
	return d, nil
}

// Pair binds an unpaired device to adminID if code matches the stored one.
func (s *Service) Pair(ctx context.Context, id deviceid.ID, code, adminID string) (*device.Device, error) {
	if !id.IsMain() {
		return nil, ErrNotMainBoard
	}
	if !ValidCode(code) {
		return nil, ErrInvalidCode
	}

	now := s.now().UTC()
	d, err := s.dir.Mutate(ctx, id, func(cur *device.Device) (device.Change, error) {
		switch {
		case cur == nil:
			return nil, ErrDeviceNotFound
		case cur.Paired:
			return nil, ErrAlreadyPaired
		case cur.PairingCode == nil || !codesEqual(*cur.PairingCode, code):
			return nil, ErrCodeMismatch
		}
		return device.PairedState{Paired: true, PairedAt: &now, PairedBy: &adminID}, nil
	})
	if err != nil {
		if errors.Is(err, ErrCodeMismatch) || errors.Is(err, ErrAlreadyPaired) {
			s.record(ctx, audit.AuditLog{
				Action:   audit.ActionPairRejected,
				EntityID: id.String(),
				UserID:   adminID,
				Source:   audit.SourceAdmin,
				Details:  map[string]any{"reason": err.Error()},
			})
		}
		return nil, err
	}

	delivered := s.notifier.BroadcastDeviceUpdate(id, protocol.PairingState{Paired: true, PairedAt: d.PairedAt})
	s.record(ctx, audit.AuditLog{
		Action:   audit.ActionPair,
		EntityID: id.String(),
		UserID:   adminID,
		Source:   audit.SourceAdmin,
	})
	s.logger.Info("device paired", "device_id", id.String(), "admin", adminID, "notified", delivered)
	return d, nil
}

// Unpair clears the pairing of an existing device. It succeeds for
// devices that are already unpaired.
func (s *Service) Unpair(ctx context.Context, id deviceid.ID, adminID string) (*device.Device, error) {
	d, err := s.dir.Mutate(ctx, id, func(cur *device.Device) (device.Change, error) {
		if cur == nil {
			return nil, ErrDeviceNotFound
		}
		return device.PairedState{}, nil
	})
	if err != nil {
		return nil, err
	}

	delivered := s.notifier.BroadcastDeviceUpdate(id, protocol.PairingState{})
	s.record(ctx, audit.AuditLog{
		Action:   audit.ActionUnpair,
		EntityID: id.String(),
		UserID:   adminID,
		Source:   audit.SourceAdmin,
	})
	s.logger.Info("device unpaired", "device_id", id.String(), "admin", adminID, "notified", delivered)
	return d, nil
}

// Status returns the device record and refreshes lastSeen. It never
// creates a device.
func (s *Service) Status(ctx context.Context, id deviceid.ID) (*device.Device, error) {
	now := s.now().UTC()
	return s.dir.Mutate(ctx, id, func(cur *device.Device) (device.Change, error) {
		if cur == nil {
			return nil, ErrDeviceNotFound
		}
		return device.Fields{LastSeen: &now}, nil
	})
}

// Heartbeat refreshes lastSeen of a paired device.
func (s *Service) Heartbeat(ctx context.Context, id deviceid.ID) (*device.Device, error) {
	now := s.now().UTC()
	return s.dir.Mutate(ctx, id, func(cur *device.Device) (device.Change, error) {
		switch {
		case cur == nil:
			return nil, ErrDeviceNotFound
		case !cur.Paired:
			return nil, ErrNotPaired
		}
		return device.Fields{LastSeen: &now}, nil
	})
}

// ListPairedBy returns the devices paired by adminID.
func (s *Service) ListPairedBy(ctx context.Context, adminID string) ([]device.Device, error) {
	devices, err := s.dir.ListPairedBy(ctx, adminID)
	if err != nil {
		return nil, fmt.Errorf("listing devices of %s: %w", adminID, err)
	}
	return devices, nil
}

// Summary counts the directory by pairing state.
type Summary struct {
	Total     int `json:"total"`
	Paired    int `json:"paired"`
	Pending   int `json:"pending"` // registered with a code, not yet paired
	Cameras   int `json:"cameras"`
	SeenSince int `json:"seen_since"`
}

// Summarize counts the known devices. SeenSince counts those whose
// lastSeen is at or after since.
func (s *Service) Summarize(ctx context.Context, since time.Time) (Summary, error) {
	devices, err := s.dir.List(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("listing devices: %w", err)
	}

	var sum Summary
	for _, d := range devices {
		sum.Total++
		switch {
		case d.DeviceID.IsCamera():
			sum.Cameras++
		case d.Paired:
			sum.Paired++
		case d.PairingCode != nil:
			sum.Pending++
		}
		if d.LastSeen != nil && !d.LastSeen.Before(since) {
			sum.SeenSince++
		}
	}
	return sum, nil
}

// AuditTrail returns the recorded pairing actions of one device. The
// entity fields of page are overwritten.
func (s *Service) AuditTrail(ctx context.Context, id deviceid.ID, page audit.Filter) (*audit.ListResult, error) {
	if s.audit == nil {
		return &audit.ListResult{Logs: []audit.AuditLog{}, Limit: page.Limit, Offset: page.Offset}, nil
	}
	page.EntityType = audit.EntityDevice
	page.EntityID = id.String()
	return s.audit.List(ctx, page)
}

// record writes an audit entry. Failures are logged, never returned: the
// pairing transition has already happened.
func (s *Service) record(ctx context.Context, entry audit.AuditLog) {
	if s.audit == nil {
		return
	}
	entry.EntityType = audit.EntityDevice
	if err := s.audit.Create(ctx, &entry); err != nil {
		s.logger.Error("audit write failed", "action", entry.Action, "device_id", entry.EntityID, "error", err)
	}
}
