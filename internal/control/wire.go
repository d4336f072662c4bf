package control

import (
	"errors"

	"github.com/proj/proj/internal/history"
	"github.com/proj/proj/internal/project"
	"github.com/proj/proj/internal/registry"
	"github.com/proj/proj/internal/supervisor"
)

// Request is one line-delimited JSON control request, tagged by Op.
type Request struct {
	Op   string   `json:"op"`
	Name string   `json:"name,omitempty"`
	Path string   `json:"path,omitempty"`
	Cwd  string   `json:"cwd,omitempty"`
	Argv []string `json:"argv,omitempty"`
}

// Response is the single JSON line answering a Request. OK=false
// carries Kind and Message; the remaining fields are op-specific.
type Response struct {
	OK      bool   `json:"ok"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
	Err     string `json:"err,omitempty"`

	Version      string             `json:"version,omitempty"`
	HTTPPort     int                `json:"http_port,omitempty"`
	Projects     []*project.Project `json:"projects,omitempty"`
	Project      *project.Project   `json:"project,omitempty"`
	Name         string             `json:"name,omitempty"`
	PID          int                `json:"pid,omitempty"`
	Command      string             `json:"command,omitempty"`
	GitBranch    string             `json:"git_branch,omitempty"`
	GitDirty     bool               `json:"git_dirty,omitempty"`
	RecentOutput string             `json:"recent_output,omitempty"`
	Runs         []history.Run      `json:"runs,omitempty"`
}

// Error kinds surfaced on the IPC boundary.
const (
	KindInvalidName    = "InvalidName"
	KindAlreadyExists  = "AlreadyExists"
	KindNotFound       = "NotFound"
	KindNotInProject   = "NotInProject"
	KindAlreadyRunning = "AlreadyRunning"
	KindSpawnFailed    = "SpawnFailed"
	KindIoError        = "IoError"
	KindBadRequest     = "BadRequest"
)

// errorResponse maps component errors onto wire error kinds.
func errorResponse(err error) Response {
	kind := KindIoError
	switch {
	case errors.Is(err, project.ErrInvalidName):
		kind = KindInvalidName
	case errors.Is(err, registry.ErrAlreadyExists):
		kind = KindAlreadyExists
	case errors.Is(err, registry.ErrNotFound):
		kind = KindNotFound
	case errors.Is(err, supervisor.ErrAlreadyRunning):
		kind = KindAlreadyRunning
	case errors.Is(err, supervisor.ErrSpawnFailed):
		kind = KindSpawnFailed
	}
	return Response{OK: false, Kind: kind, Message: err.Error()}
}
