package deviceid

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input      string
		wantRole   Role
		wantSerial string
		wantErr    bool
	}{
		{"SSCM-ABC123", RoleMain, "ABC123", false},
		{"SSCM-000000", RoleMain, "000000", false},
		{"SSCM-CAM-ABC123", RoleCamera, "ABC123", false},
		{"SSCM-abc123", 0, "", true},
		{"SSCM-ABC12", 0, "", true},
		{"SSCM-ABC1234", 0, "", true},
		{"SSCM-GHIJKL", 0, "", true},
		{"SSCM-CAM-", 0, "", true},
		{"SSCM-CAM-XYZ", 0, "", true},
		{"CAM-ABC123", 0, "", true},
		{"", 0, "", true},
		{"admin-browser", 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			id, err := Parse(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalid) {
					t.Fatalf("Parse(%q) error = %v, want ErrInvalid", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.input, err)
			}
			if id.Role() != tt.wantRole || id.Serial() != tt.wantSerial {
				t.Errorf("Parse(%q) = %v/%s", tt.input, id.Role(), id.Serial())
			}
			if id.String() != tt.input {
				t.Errorf("String() = %q, want %q", id.String(), tt.input)
			}
		})
	}
}

func TestSibling(t *testing.T) {
	main := MustParse("SSCM-ABC123")
	cam := MustParse("SSCM-CAM-ABC123")

	if main.Sibling() != cam {
		t.Errorf("main.Sibling() = %s", main.Sibling())
	}
	if cam.Sibling() != main {
		t.Errorf("cam.Sibling() = %s", cam.Sibling())
	}
	if cam.Main() != main || main.Camera() != cam {
		t.Error("Main()/Camera() mismatch")
	}
	if main.Main() != main || cam.Camera() != cam {
		t.Error("Main()/Camera() should be idempotent")
	}
}

func TestNew(t *testing.T) {
	id, err := New(RoleCamera, "00FF11")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if id.String() != "SSCM-CAM-00FF11" {
		t.Errorf("String() = %q", id.String())
	}

	if _, err := New(Role(9), "00FF11"); !errors.Is(err, ErrInvalid) {
		t.Errorf("New(bad role) error = %v", err)
	}
	if _, err := New(RoleMain, "zz"); !errors.Is(err, ErrInvalid) {
		t.Errorf("New(bad serial) error = %v", err)
	}
}

func TestZeroValue(t *testing.T) {
	var id ID
	if !id.IsZero() || id.String() != "" {
		t.Errorf("zero ID = %q", id.String())
	}
	if _, err := id.MarshalText(); err == nil {
		t.Error("MarshalText on zero ID should fail")
	}
}

func TestJSON(t *testing.T) {
	type payload struct {
		DeviceID ID `json:"deviceId"`
	}

	var p payload
	if err := json.Unmarshal([]byte(`{"deviceId":"SSCM-CAM-ABC123"}`), &p); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if !p.DeviceID.IsCamera() {
		t.Errorf("role = %v", p.DeviceID.Role())
	}

	if err := json.Unmarshal([]byte(`{"deviceId":"nope"}`), &p); err == nil {
		t.Error("Unmarshal accepted invalid id")
	}
}
