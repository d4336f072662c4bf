package project

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"single letter", "a", false},
		{"hyphenated", "my-app", false},
		{"digits", "app2", false},
		{"max length", strings.Repeat("a", 63), false},
		{"empty", "", true},
		{"leading hyphen", "-x", true},
		{"trailing hyphen", "x-", true},
		{"uppercase", "MyApp", true},
		{"too long", strings.Repeat("a", 64), true},
		{"dot", "my.app", true},
		{"underscore", "my_app", true},
		{"space", "my app", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if tt.wantErr && err == nil {
				t.Errorf("ValidateName(%q) = nil, want error", tt.input)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ValidateName(%q) = %v, want nil", tt.input, err)
			}
			if tt.wantErr && err != nil && !errors.Is(err, ErrInvalidName) {
				t.Errorf("ValidateName(%q) error is not ErrInvalidName: %v", tt.input, err)
			}
		})
	}
}

func TestManifestRoundTrip(t *testing.T) {
	p := New("demo", "/tmp/demo")
	if p.ID == "" {
		t.Fatal("New did not assign an id")
	}

	data, err := EncodeManifest(&p.Manifest)
	if err != nil {
		t.Fatalf("EncodeManifest: %v", err)
	}

	path := filepath.Join(t.TempDir(), "project.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := ReadManifest(path)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if got.Name != p.Name || got.ID != p.ID || got.Path != p.Path {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, p.Manifest)
	}
	if !got.CreatedAt.Equal(p.CreatedAt) {
		t.Errorf("created_at mismatch: got %v, want %v", got.CreatedAt, p.CreatedAt)
	}
}

func TestStatusDerivation(t *testing.T) {
	p := &Project{Manifest: Manifest{Name: "demo", Path: "/tmp/demo", CreatedAt: time.Now()}}
	if p.Status() != StatusIdle {
		t.Errorf("fresh project status = %q, want idle", p.Status())
	}
	p.PID = 1234
	if p.Status() != StatusRunning {
		t.Errorf("status with pid = %q, want running", p.Status())
	}
}

func TestMarshalIncludesStatus(t *testing.T) {
	p := New("demo", "/tmp/demo")
	p.PID = 42
	data, err := p.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"status":"running"`) {
		t.Errorf("marshaled project missing status field: %s", data)
	}
}
