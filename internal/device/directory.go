package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sscm-labs/sscm-relay/internal/deviceid"
)

// Logger defines the logging interface used by the Directory.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Directory is the shared view of device records. It wraps a Repository
// with a read cache and serializes every write per device id.
//
// All public methods are thread-safe. Returned devices are deep copies.
type Directory struct {
	repo    Repository
	locks   *keyMutex
	cache   map[deviceid.ID]*Device
	cacheMu sync.RWMutex
	logger  Logger
}

// NewDirectory creates a directory over repo.
func NewDirectory(repo Repository) *Directory {
	return &Directory{
		repo:   repo,
		locks:  newKeyMutex(),
		cache:  make(map[deviceid.ID]*Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the directory.
func (d *Directory) SetLogger(logger Logger) {
	d.logger = logger
}

// RefreshCache reloads every device from the repository.
func (d *Directory) RefreshCache(ctx context.Context) error {
	devices, err := d.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	d.cacheMu.Lock()
	d.cache = make(map[deviceid.ID]*Device, len(devices))
	for i := range devices {
		d.cache[devices[i].DeviceID] = devices[i].DeepCopy()
	}
	d.cacheMu.Unlock()

	d.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// Get returns a device, or ErrDeviceNotFound.
func (d *Directory) Get(ctx context.Context, id deviceid.ID) (*Device, error) {
	d.cacheMu.RLock()
	cached, ok := d.cache[id]
	d.cacheMu.RUnlock()
	if ok {
		return cached.DeepCopy(), nil
	}

	dev, err := d.repo.FindByDeviceID(ctx, id)
	if err != nil {
		return nil, err
	}
	d.store(dev)
	return dev, nil
}

// List returns every device.
func (d *Directory) List(ctx context.Context) ([]Device, error) {
	return d.repo.List(ctx)
}

// ListPairedBy returns the devices paired by adminID.
func (d *Directory) ListPairedBy(ctx context.Context, adminID string) ([]Device, error) {
	return d.repo.ListPairedBy(ctx, adminID)
}

// Upsert creates or partially updates a device.
func (d *Directory) Upsert(ctx context.Context, id deviceid.ID, fields Fields) (*Device, error) {
	return d.Mutate(ctx, id, func(*Device) (Change, error) { return fields, nil })
}

// UpdatePaired replaces the pairing columns of an existing device.
func (d *Directory) UpdatePaired(ctx context.Context, id deviceid.ID, state PairedState) (*Device, error) {
	return d.Mutate(ctx, id, func(*Device) (Change, error) { return state, nil })
}

// Mutate runs a read-modify-write for one device while holding that
// device's lock. decide receives a copy of the current record, or nil if
// none exists, and returns the change to apply. A nil change leaves the
// record untouched; an error aborts without writing.
func (d *Directory) Mutate(ctx context.Context, id deviceid.ID, decide func(current *Device) (Change, error)) (*Device, error) {
	if id.IsZero() {
		return nil, fmt.Errorf("%w: zero device id", deviceid.ErrInvalid)
	}

	unlock := d.locks.Lock(id.String())
	defer unlock()

	current, err := d.Get(ctx, id)
	if err != nil && !errors.Is(err, ErrDeviceNotFound) {
		return nil, err
	}

	change, err := decide(current.DeepCopy())
	if err != nil {
		return nil, err
	}
	if change == nil {
		return current, nil
	}

	updated, err := change.apply(ctx, d.repo, id)
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			d.evict(id)
		}
		return nil, err
	}

	d.store(updated)
	d.logger.Debug("device written", "device_id", id.String(), "paired", updated.Paired)
	return updated.DeepCopy(), nil
}

func (d *Directory) store(dev *Device) {
	d.cacheMu.Lock()
	d.cache[dev.DeviceID] = dev.DeepCopy()
	d.cacheMu.Unlock()
}

func (d *Directory) evict(id deviceid.ID) {
	d.cacheMu.Lock()
	delete(d.cache, id)
	d.cacheMu.Unlock()
}
