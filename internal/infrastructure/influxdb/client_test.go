package influxdb

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sscm-labs/sscm-relay/internal/deviceid"
	"github.com/sscm-labs/sscm-relay/internal/infrastructure/config"
)

// fakeInflux answers /ping and records line protocol sent to /api/v2/write.
type fakeInflux struct {
	mu     sync.Mutex
	lines  []string
	server *httptest.Server
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(http.StatusNoContent)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			f.lines = append(f.lines, strings.Split(strings.TrimSpace(string(body)), "\n")...)
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeInflux) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "test-token",
		Org:           "sscm",
		Bucket:        "telemetry",
		BatchSize:     10,
		FlushInterval: 1,
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Enabled = false
	if _, err := Connect(context.Background(), cfg); !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	if _, err := Connect(context.Background(), testConfig("http://127.0.0.1:1")); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestWriteTelemetry(t *testing.T) {
	fake := newFakeInflux(t)
	client, err := Connect(context.Background(), testConfig(fake.server.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}

	id := deviceid.MustParse("SSCM-ABC123")
	client.WriteTelemetry(id, "climate", map[string]float64{"temperature": 31.5})
	client.Flush()

	deadline := time.Now().Add(5 * time.Second)
	for len(fake.written()) == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}

	lines := fake.written()
	if len(lines) != 1 {
		t.Fatalf("lines = %v, want 1", lines)
	}
	for _, want := range []string{"climate,", "device_id=SSCM-ABC123", "role=main", "temperature=31.5"} {
		if !strings.Contains(lines[0], want) {
			t.Errorf("line %q missing %q", lines[0], want)
		}
	}
}

func TestWriteTelemetry_AfterClose(t *testing.T) {
	fake := newFakeInflux(t)
	client, err := Connect(context.Background(), testConfig(fake.server.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client.Close()

	client.WriteTelemetry(deviceid.MustParse("SSCM-ABC123"), "climate", map[string]float64{"humidity": 40})
	client.Flush()

	if client.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}
	if got := fake.written(); len(got) != 0 {
		t.Errorf("wrote %v after Close", got)
	}
}

func TestTelemetryPoint(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := telemetryPoint(deviceid.MustParse("SSCM-CAM-ABC123"), "reservoir",
		map[string]float64{"foam_distance": 12}, ts)

	if p.Name() != "reservoir" {
		t.Errorf("Name() = %q", p.Name())
	}
	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	if tags["device_id"] != "SSCM-CAM-ABC123" || tags["role"] != "camera" {
		t.Errorf("tags = %v", tags)
	}
	if len(p.FieldList()) != 1 || p.FieldList()[0].Key != "foam_distance" {
		t.Errorf("fields = %v", p.FieldList())
	}
	if !p.Time().Equal(ts) {
		t.Errorf("Time() = %v", p.Time())
	}
}

func TestConnect_CanceledContext(t *testing.T) {
	fake := newFakeInflux(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Connect(ctx, testConfig(fake.server.URL)); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClientOptions(t *testing.T) {
	opts := clientOptions(config.InfluxDBConfig{})
	if opts.BatchSize() != defaultBatchSize {
		t.Errorf("BatchSize() = %d, want %d", opts.BatchSize(), defaultBatchSize)
	}
	if opts.FlushInterval() != defaultFlushInterval*1000 {
		t.Errorf("FlushInterval() = %d ms", opts.FlushInterval())
	}

	opts = clientOptions(config.InfluxDBConfig{BatchSize: 25, FlushInterval: 2})
	if opts.BatchSize() != 25 || opts.FlushInterval() != 2000 {
		t.Errorf("options = (%d, %d), want (25, 2000)", opts.BatchSize(), opts.FlushInterval())
	}
}

func TestClose_Twice(t *testing.T) {
	fake := newFakeInflux(t)
	client, err := Connect(context.Background(), testConfig(fake.server.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}

func TestClose_Nil(t *testing.T) {
	var c Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
	c.Flush()
}
