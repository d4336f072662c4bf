package paths

import (
	"os"
	"path/filepath"
)

// Root returns the proj state directory. PROJ_HOME overrides the
// default of ~/.proj.
func Root() string {
	if x := os.Getenv("PROJ_HOME"); x != "" {
		return x
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".proj")
}

func SocketPath() string {
	if x := os.Getenv("PROJ_SOCKET"); x != "" {
		return x
	}
	return filepath.Join(Root(), "daemon.sock")
}

func PIDPath() string { return filepath.Join(Root(), "daemon.pid") }

func ProjectsDir() string { return filepath.Join(Root(), "projects") }

// ProjectDir is the per-project state directory holding project.json
// and the browser profile.
func ProjectDir(name string) string { return filepath.Join(ProjectsDir(), name) }

func ManifestPath(name string) string { return filepath.Join(ProjectDir(name), "project.json") }

// BrowserProfileDir is created lazily on first `proj <name> open`.
func BrowserProfileDir(name string) string { return filepath.Join(ProjectDir(name), "chrome") }

func HistoryPath() string { return filepath.Join(Root(), "history.db") }

// LogPath is where a detached daemon sends its output.
func LogPath() string { return filepath.Join(Root(), "daemon.log") }
