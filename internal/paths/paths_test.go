package paths

import (
	"path/filepath"
	"testing"
)

func TestRootHonorsEnv(t *testing.T) {
	t.Setenv("PROJ_HOME", "/custom/state")
	if got := Root(); got != "/custom/state" {
		t.Errorf("Root() = %q", got)
	}
	if got := SocketPath(); got != "/custom/state/daemon.sock" {
		t.Errorf("SocketPath() = %q", got)
	}
	if got := ManifestPath("demo"); got != "/custom/state/projects/demo/project.json" {
		t.Errorf("ManifestPath() = %q", got)
	}
}

func TestRootDefaultsToHome(t *testing.T) {
	t.Setenv("PROJ_HOME", "")
	root := Root()
	if filepath.Base(root) != ".proj" {
		t.Errorf("default root = %q, want */.proj", root)
	}
}

func TestSocketOverride(t *testing.T) {
	t.Setenv("PROJ_SOCKET", "/run/proj.sock")
	if got := SocketPath(); got != "/run/proj.sock" {
		t.Errorf("SocketPath() = %q", got)
	}
}
