package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidName indicates the name violates the hostname label rules.
var ErrInvalidName = errors.New("invalid project name")

// Status of a project's supervised child.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
)

// Manifest is the durable subset of a project record, stored as
// projects/<name>/project.json. Runtime fields never appear here so a
// daemon crash cannot leave stale pids on disk.
type Manifest struct {
	Name      string    `json:"name"`
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// Project is a manifest plus the daemon's in-memory runtime state.
type Project struct {
	Manifest
	PID  int `json:"pid,omitempty"`
	Port int `json:"port,omitempty"`
}

func New(name, path string) *Project {
	return &Project{Manifest: Manifest{
		Name:      name,
		ID:        uuid.New().String(),
		Path:      path,
		CreatedAt: time.Now().UTC(),
	}}
}

func (p *Project) Status() Status {
	if p.PID > 0 {
		return StatusRunning
	}
	return StatusIdle
}

// MarshalJSON adds the derived status field to the wire form.
func (p *Project) MarshalJSON() ([]byte, error) {
	type wire Project
	return json.Marshal(struct {
		*wire
		Status Status `json:"status"`
	}{(*wire)(p), p.Status()})
}

// ValidateName enforces DNS-label rules: 1-63 chars, lowercase letters,
// digits and hyphens, no leading or trailing hyphen.
func ValidateName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if len(name) > 63 {
		return fmt.Errorf("%w: %q exceeds 63 characters", ErrInvalidName, name)
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-':
		default:
			return fmt.Errorf("%w: %q contains %q", ErrInvalidName, name, c)
		}
	}
	if name[0] == '-' || name[len(name)-1] == '-' {
		return fmt.Errorf("%w: %q has leading or trailing hyphen", ErrInvalidName, name)
	}
	return nil
}

// ReadManifest loads a manifest file from disk.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return &m, nil
}

// EncodeManifest renders the durable form written to project.json.
func EncodeManifest(m *Manifest) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}
