package device

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sscm-labs/sscm-relay/internal/deviceid"
)

// MockRepository is an in-memory Repository with error injection.
type MockRepository struct {
	mu        sync.Mutex
	devices   map[deviceid.ID]*Device
	upsertErr error
	finds     atomic.Int32
	// inFlight detects overlapping writes to the same device.
	inFlight map[deviceid.ID]bool
	overlap  atomic.Bool
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		devices:  make(map[deviceid.ID]*Device),
		inFlight: make(map[deviceid.ID]bool),
	}
}

func (m *MockRepository) FindByDeviceID(_ context.Context, id deviceid.ID) (*Device, error) {
	m.finds.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.devices[id]; ok {
		return d.DeepCopy(), nil
	}
	return nil, ErrDeviceNotFound
}

func (m *MockRepository) List(_ context.Context) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, *d.DeepCopy())
	}
	return out, nil
}

func (m *MockRepository) ListPairedBy(_ context.Context, adminID string) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Device
	for _, d := range m.devices {
		if d.Paired && d.PairedBy != nil && *d.PairedBy == adminID {
			out = append(out, *d.DeepCopy())
		}
	}
	return out, nil
}

func (m *MockRepository) enter(id deviceid.ID) {
	m.mu.Lock()
	if m.inFlight[id] {
		m.overlap.Store(true)
	}
	m.inFlight[id] = true
	m.mu.Unlock()
	time.Sleep(time.Millisecond)
}

func (m *MockRepository) leave(id deviceid.ID) {
	m.mu.Lock()
	delete(m.inFlight, id)
	m.mu.Unlock()
}

func (m *MockRepository) Upsert(_ context.Context, id deviceid.ID, f Fields) (*Device, error) {
	m.enter(id)
	defer m.leave(id)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return nil, m.upsertErr
	}
	d, ok := m.devices[id]
	if !ok {
		d = &Device{DeviceID: id, CreatedAt: time.Now()}
		m.devices[id] = d
	}
	mergeFields(d, f)
	d.UpdatedAt = time.Now()
	return d.DeepCopy(), nil
}

func (m *MockRepository) UpdatePaired(_ context.Context, id deviceid.ID, s PairedState) (*Device, error) {
	m.enter(id)
	defer m.leave(id)

	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	d.Paired, d.PairingCode, d.PairedAt, d.PairedBy = s.Paired, copyPtr(s.PairingCode), copyPtr(s.PairedAt), copyPtr(s.PairedBy)
	return d.DeepCopy(), nil
}

func TestDirectory_GetUsesCache(t *testing.T) {
	repo := NewMockRepository()
	dir := NewDirectory(repo)
	ctx := context.Background()

	if _, err := dir.Upsert(ctx, mainID, Fields{PairingCode: strPtr("123456")}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	before := repo.finds.Load()
	for range 3 {
		d, err := dir.Get(ctx, mainID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		// Mutating the copy must not leak into the cache.
		*d.PairingCode = "000000"
	}
	if repo.finds.Load() != before {
		t.Errorf("Get() hit the repository %d times", repo.finds.Load()-before)
	}

	d, _ := dir.Get(ctx, mainID)
	if *d.PairingCode != "123456" {
		t.Errorf("cache corrupted: %s", *d.PairingCode)
	}
}

func TestDirectory_GetMissing(t *testing.T) {
	dir := NewDirectory(NewMockRepository())
	if _, err := dir.Get(context.Background(), mainID); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("error = %v", err)
	}
}

func TestDirectory_MutateDecide(t *testing.T) {
	dir := NewDirectory(NewMockRepository())
	ctx := context.Background()
	errStop := errors.New("stop")

	t.Run("nil current for missing device", func(t *testing.T) {
		var sawNil bool
		_, err := dir.Mutate(ctx, camID, func(cur *Device) (Change, error) {
			sawNil = cur == nil
			return nil, errStop
		})
		if !errors.Is(err, errStop) || !sawNil {
			t.Errorf("err = %v, sawNil = %v", err, sawNil)
		}
		if _, err := dir.Get(ctx, camID); !errors.Is(err, ErrDeviceNotFound) {
			t.Error("aborted mutate must not create the device")
		}
	})

	t.Run("nil change returns current", func(t *testing.T) {
		if _, err := dir.Upsert(ctx, mainID, Fields{}); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		d, err := dir.Mutate(ctx, mainID, func(*Device) (Change, error) { return nil, nil })
		if err != nil || d == nil || d.DeviceID != mainID {
			t.Errorf("Mutate() = %v, %v", d, err)
		}
	})

	t.Run("zero id rejected", func(t *testing.T) {
		if _, err := dir.Upsert(ctx, deviceid.ID{}, Fields{}); !errors.Is(err, deviceid.ErrInvalid) {
			t.Errorf("error = %v", err)
		}
	})
}

func TestDirectory_WriteErrorLeavesCache(t *testing.T) {
	repo := NewMockRepository()
	dir := NewDirectory(repo)
	ctx := context.Background()

	if _, err := dir.Upsert(ctx, mainID, Fields{CamSynced: boolPtr(false)}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	repo.upsertErr = errors.New("disk full")
	if _, err := dir.Upsert(ctx, mainID, Fields{CamSynced: boolPtr(true)}); err == nil {
		t.Fatal("expected error")
	}

	d, _ := dir.Get(ctx, mainID)
	if d.CamSynced {
		t.Error("failed write updated the cache")
	}
}

func TestDirectory_SerializesPerDevice(t *testing.T) {
	repo := NewMockRepository()
	dir := NewDirectory(repo)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen := time.Now().Add(time.Duration(i) * time.Second)
			if _, err := dir.Upsert(ctx, mainID, Fields{LastSeen: &seen}); err != nil {
				t.Errorf("Upsert() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if repo.overlap.Load() {
		t.Error("writes to one device overlapped")
	}
	if n := dir.locks.size(); n != 0 {
		t.Errorf("lock table holds %d entries after release", n)
	}
}

func TestDirectory_RefreshCache(t *testing.T) {
	repo := NewMockRepository()
	ctx := context.Background()
	if _, err := repo.Upsert(ctx, mainID, Fields{}); err != nil {
		t.Fatal(err)
	}

	dir := NewDirectory(repo)
	if err := dir.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}

	before := repo.finds.Load()
	if _, err := dir.Get(ctx, mainID); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if repo.finds.Load() != before {
		t.Error("Get() after refresh should be served from cache")
	}
}
