package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/proj/proj/internal/project"
)

func writeManifestFile(t *testing.T, dir, name string) {
	t.Helper()
	p := project.New(name, "/tmp/"+name)
	data, err := project.EncodeManifest(&p.Manifest)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, name), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name, "project.json"), data, 0o600); err != nil {
		t.Fatal(err)
	}
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func startWatch(t *testing.T, r *Registry) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go r.Watch(ctx)
	// Give the watcher a moment to register before mutating the tree.
	time.Sleep(50 * time.Millisecond)
}

func TestWatchAdoptsNewManifest(t *testing.T) {
	r, dir := newTestRegistry(t)
	startWatch(t, r)

	writeManifestFile(t, dir, "adopted")
	eventually(t, 3*time.Second, func() bool {
		_, err := r.Get("adopted")
		return err == nil
	}, "externally written manifest was never adopted")
}

func TestWatchDropsRemovedManifest(t *testing.T) {
	r, dir := newTestRegistry(t)
	if _, err := r.Create("demo", "/tmp/demo"); err != nil {
		t.Fatal(err)
	}
	startWatch(t, r)

	if err := os.Remove(filepath.Join(dir, "demo", "project.json")); err != nil {
		t.Fatal(err)
	}
	eventually(t, 3*time.Second, func() bool {
		_, err := r.Get("demo")
		return err != nil
	}, "removed manifest was never dropped")
}

func TestWatchKeepsRunningProject(t *testing.T) {
	r, dir := newTestRegistry(t)
	if _, err := r.Create("demo", "/tmp/demo"); err != nil {
		t.Fatal(err)
	}
	if err := r.SetRunning("demo", 4242); err != nil {
		t.Fatal(err)
	}
	startWatch(t, r)

	if err := os.Remove(filepath.Join(dir, "demo", "project.json")); err != nil {
		t.Fatal(err)
	}
	// The drop path must see the manifest is gone yet keep the record.
	time.Sleep(300 * time.Millisecond)
	p, err := r.Get("demo")
	if err != nil {
		t.Fatalf("running project dropped after manifest removal: %v", err)
	}
	if p.PID != 4242 {
		t.Errorf("runtime state lost: pid=%d", p.PID)
	}
}

func TestAdoptPreservesRuntimeState(t *testing.T) {
	r, dir := newTestRegistry(t)
	if _, err := r.Create("demo", "/tmp/demo"); err != nil {
		t.Fatal(err)
	}
	if err := r.SetRunning("demo", 7); err != nil {
		t.Fatal(err)
	}

	r.adoptManifest(filepath.Join(dir, "demo", "project.json"))
	p, _ := r.Get("demo")
	if p.PID != 7 {
		t.Errorf("re-adopting an existing manifest cleared pid: %d", p.PID)
	}
}

func TestAdoptRejectsMismatchedDirectory(t *testing.T) {
	r, dir := newTestRegistry(t)

	p := project.New("other", "/tmp/other")
	data, err := project.EncodeManifest(&p.Manifest)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "demo"), 0o700); err != nil {
		t.Fatal(err)
	}
	manifest := filepath.Join(dir, "demo", "project.json")
	if err := os.WriteFile(manifest, data, 0o600); err != nil {
		t.Fatal(err)
	}

	r.adoptManifest(manifest)
	if _, err := r.Get("other"); err == nil {
		t.Error("manifest adopted despite directory mismatch")
	}
}
