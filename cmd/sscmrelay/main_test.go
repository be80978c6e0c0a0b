package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sscm-labs/sscm-relay/internal/auth"
)

const testSecret = "test-secret-at-least-32-characters-long"

// writeConfig writes a minimal relay config into a temp dir.
func writeConfig(t *testing.T, dbPath string, port int, secret string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := fmt.Sprintf(`
database:
  path: %q
  wal_mode: true
  busy_timeout: 5

mqtt:
  enabled: false

influxdb:
  enabled: false

logging:
  level: warn
  format: text
  output: stderr

api:
  host: "127.0.0.1"
  port: %d

security:
  jwt:
    secret: %q
`, dbPath, port, secret)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port //nolint:errcheck,forcetypeassert // tcp listener
}

func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, "/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_MissingSecret(t *testing.T) {
	t.Setenv("SSCM_JWT_SECRET", "")
	path := writeConfig(t, filepath.Join(t.TempDir(), "sscm.db"), 8080, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, path)
	if err == nil || !strings.Contains(err.Error(), "jwt.secret") {
		t.Fatalf("run() = %v, want jwt secret error", err)
	}
}

func TestRun_StartupAndShutdown(t *testing.T) {
	port := freePort(t)
	path := writeConfig(t, filepath.Join(t.TempDir(), "sscm.db"), port, testSecret)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, path) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/health", port)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url) //nolint:noctx // test probe
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("health status = %d, want 200", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("relay never became healthy: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() = %v, want nil on shutdown", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

func TestDispatch_Token(t *testing.T) {
	path := writeConfig(t, filepath.Join(t.TempDir(), "sscm.db"), 8080, testSecret)

	var out bytes.Buffer
	if err := dispatch(context.Background(), []string{"token", "-config", path, "-admin", "admin-7"}, &out); err != nil {
		t.Fatalf("dispatch token: %v", err)
	}

	claims, err := auth.ParseToken(strings.TrimSpace(out.String()), testSecret)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Subject != "admin-7" || claims.Role != auth.RoleAdmin {
		t.Errorf("claims = %s/%s, want admin-7/admin", claims.Subject, claims.Role)
	}
}

func TestDispatch_TokenValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing subject", []string{"token"}},
		{"bad role", []string{"token", "-admin", "a", "-role", "root"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := dispatch(context.Background(), tt.args, &bytes.Buffer{}); err == nil {
				t.Error("dispatch should fail")
			}
		})
	}
}

func TestDispatch_UnknownCommand(t *testing.T) {
	if err := dispatch(context.Background(), []string{"frobnicate"}, &bytes.Buffer{}); err == nil {
		t.Error("unknown command should fail")
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("SSCM_CONFIG", "")
	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}

	t.Setenv("SSCM_CONFIG", "/custom/path/config.yaml")
	if path := getConfigPath(); path != "/custom/path/config.yaml" {
		t.Errorf("getConfigPath() = %q, want override", path)
	}
}
