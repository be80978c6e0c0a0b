package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/sscm-labs/sscm-relay/internal/classify"
)

func writeKioskConfig(t *testing.T, apiURL, deviceID string) string {
	t.Helper()
	t.Setenv("SSCM_CONFIG", "")
	t.Setenv("SSCM_KIOSK_DEVICE_ID", "")
	t.Setenv("SSCM_KIOSK_API_URL", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := fmt.Sprintf(`
logging:
  level: warn
  format: text
  output: stderr

kiosk:
  relay_url: "ws://127.0.0.1:1/api/ws"
  api_url: %q
  device_id: %q
  reconnect_base_delay: 100
  max_reconnect_attempts: 1
  classification_timeout: 1000
`, apiURL, deviceID)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestRun_Usage(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no args", nil, "usage"},
		{"unknown command", []string{"dance", "-device", "SSCM-ABC123"}, "unknown command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := writeKioskConfig(t, "http://127.0.0.1:1", "SSCM-ABC123")
			args := tt.args
			if len(args) > 0 {
				args = append(args, "-config", cfg)
			}
			err := run(context.Background(), args, &bytes.Buffer{})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("run(%v) error = %v, want containing %q", tt.args, err, tt.want)
			}
		})
	}
}

func TestRun_DeviceValidation(t *testing.T) {
	tests := []struct {
		name   string
		device string
	}{
		{"missing", ""},
		{"malformed", "SSCM-12"},
		{"camera", "SSCM-CAM-ABC123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := writeKioskConfig(t, "http://127.0.0.1:1", tt.device)
			err := run(context.Background(), []string{"register", "-config", cfg}, &bytes.Buffer{})
			if err == nil {
				t.Fatalf("run with device %q succeeded", tt.device)
			}
		})
	}
}

func TestRun_Register(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/device/register" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"success":true,"paired":false,"deviceId":%q}`, got["deviceId"])
	}))
	defer srv.Close()

	cfg := writeKioskConfig(t, srv.URL+"/", "SSCM-ABC123")
	var out bytes.Buffer
	if err := run(context.Background(), []string{"register", "-config", cfg}, &out); err != nil {
		t.Fatalf("register: %v", err)
	}

	if got["deviceId"] != "SSCM-ABC123" {
		t.Errorf("deviceId = %q", got["deviceId"])
	}
	code := got["pairingCode"]
	if len(code) != 6 {
		t.Fatalf("pairingCode = %q, want 6 digits", code)
	}
	if !strings.Contains(out.String(), code) {
		t.Errorf("output %q does not contain code %q", out.String(), code)
	}
}

func TestRun_RegisterDeviceFlagOverrides(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"success":true,"paired":true}`)
	}))
	defer srv.Close()

	cfg := writeKioskConfig(t, srv.URL, "SSCM-ABC123")
	var out bytes.Buffer
	err := run(context.Background(), []string{"register", "-config", cfg, "-device", "SSCM-FFF000"}, &out)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if got["deviceId"] != "SSCM-FFF000" {
		t.Errorf("deviceId = %q, want flag value", got["deviceId"])
	}
	if !strings.Contains(out.String(), "already paired") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRun_RegisterRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"success":false,"message":"invalid device id"}`)
	}))
	defer srv.Close()

	cfg := writeKioskConfig(t, srv.URL, "SSCM-ABC123")
	err := run(context.Background(), []string{"register", "-config", cfg}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "invalid device id") {
		t.Errorf("error = %v, want server message", err)
	}
}

func TestPrintSnapshot(t *testing.T) {
	tests := []struct {
		snap classify.Snapshot
		want string
	}{
		{classify.Snapshot{State: classify.StateSyncing}, "syncing\n"},
		{classify.Snapshot{State: classify.StateError, Error: classify.MsgTimedOut}, "error: " + classify.MsgTimedOut + "\n"},
		{
			classify.Snapshot{State: classify.StateSuccess, Result: &classify.Result{Label: "sneaker", Confidence: 0.925}},
			"success: sneaker (92.5%)\n",
		},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		printSnapshot(&out, tt.snap)
		if out.String() != tt.want {
			t.Errorf("printSnapshot(%+v) = %q, want %q", tt.snap, out.String(), tt.want)
		}
	}
}

func TestClassificationFailedIsDistinct(t *testing.T) {
	if !errors.Is(fmt.Errorf("wrap: %w", errClassificationFailed), errClassificationFailed) {
		t.Error("errClassificationFailed not matchable through wrapping")
	}
}
