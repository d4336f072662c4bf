package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/proj/proj/internal/project"
)

var (
	// ErrNotFound indicates no project with the given name exists.
	ErrNotFound = errors.New("project not found")
	// ErrAlreadyExists indicates the name is taken.
	ErrAlreadyExists = errors.New("project already exists")
)

// Registry is the authoritative map of project name to record. It is
// the only shared mutable state in the daemon: readers take the shared
// lock and copy out what they need, writers publish in a short critical
// section with manifest I/O done outside the lock.
type Registry struct {
	dir string

	mu       sync.RWMutex
	projects map[string]*project.Project

	// Serializes create/remove so manifest writes for the same name
	// cannot interleave while staying outside the read/write lock.
	storeMu sync.Mutex

	log *logrus.Entry
}

// Open scans dir (the projects directory) for <name>/project.json manifests and builds
// the registry. Volatile fields start cleared. Unreadable manifests are
// skipped with a warning.
func Open(dir string, log *logrus.Logger) (*Registry, error) {
	r := &Registry{
		dir:      dir,
		projects: make(map[string]*project.Project),
		log:      log.WithField("component", "registry"),
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create projects dir: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan projects dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		manifest := filepath.Join(dir, e.Name(), "project.json")
		m, err := project.ReadManifest(manifest)
		if err != nil {
			if !os.IsNotExist(err) {
				r.log.WithError(err).WithField("manifest", manifest).Warn("skipping unreadable manifest")
			}
			continue
		}
		if m.Name != e.Name() {
			r.log.WithField("manifest", manifest).Warn("manifest name does not match directory, skipping")
			continue
		}
		r.projects[m.Name] = &project.Project{Manifest: *m}
	}
	r.log.WithField("count", len(r.projects)).Info("loaded projects")
	return r, nil
}

// Create validates the name, persists the manifest atomically and
// publishes the new record. The name must be free, the path absolute.
func (r *Registry) Create(name, path string) (*project.Project, error) {
	if err := project.ValidateName(name); err != nil {
		return nil, err
	}
	if !filepath.IsAbs(path) {
		return nil, fmt.Errorf("project path must be absolute, got %q", path)
	}

	r.storeMu.Lock()
	defer r.storeMu.Unlock()

	r.mu.RLock()
	_, taken := r.projects[name]
	r.mu.RUnlock()
	if taken {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}

	p := project.New(name, path)
	if err := r.writeManifest(&p.Manifest); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.projects[name] = p
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{"project": name, "path": path}).Info("created project")
	return snapshot(p), nil
}

// Remove drops a project record and its manifest file. The project
// directory itself (browser profile included) is left in place.
func (r *Registry) Remove(name string) error {
	r.storeMu.Lock()
	defer r.storeMu.Unlock()

	r.mu.Lock()
	_, ok := r.projects[name]
	if ok {
		delete(r.projects, name)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if err := os.Remove(filepath.Join(r.dir, name, "project.json")); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Get returns a copy of the named project record.
func (r *Registry) Get(name string) (*project.Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return snapshot(p), nil
}

// GetByPath resolves the project whose path is a prefix of dir, on path
// boundaries, longest match winning. This is what lets a client in a
// project subtree omit the project name.
func (r *Registry) GetByPath(dir string) (*project.Project, error) {
	dir = filepath.Clean(dir)
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *project.Project
	for _, p := range r.projects {
		root := filepath.Clean(p.Path)
		if dir != root && !strings.HasPrefix(dir, root+string(filepath.Separator)) {
			continue
		}
		if best == nil || len(root) > len(filepath.Clean(best.Path)) {
			best = p
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: no project contains %s", ErrNotFound, dir)
	}
	return snapshot(best), nil
}

// List returns copies of all records sorted by name.
func (r *Registry) List() []*project.Project {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*project.Project, 0, len(r.projects))
	for _, p := range r.projects {
		out = append(out, snapshot(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SetRunning records the supervised child's pid.
func (r *Registry) SetRunning(name string, pid int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	p.PID = pid
	p.Port = 0
	return nil
}

// SetPort records the discovered listening port. A report that arrives
// after the child exited (no pid) is dropped silently.
func (r *Registry) SetPort(name string, port int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[name]
	if !ok || p.PID == 0 {
		return
	}
	p.Port = port
}

// ClearRuntime resets pid and port together. Safe to call twice.
func (r *Registry) ClearRuntime(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.projects[name]; ok {
		p.PID = 0
		p.Port = 0
	}
}

// PortFor is the proxy's hot-path lookup: name known?, port if any.
func (r *Registry) PortFor(name string) (port int, known bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[name]
	if !ok {
		return 0, false
	}
	return p.Port, true
}

// InvalidatePort clears the port only if it still matches the value the
// caller observed, so a detector report racing an upstream failure is
// not lost.
func (r *Registry) InvalidatePort(name string, port int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.projects[name]; ok && p.Port == port {
		p.Port = 0
	}
}

// writeManifest persists via temp file + rename so a crash never leaves
// a half-written manifest behind.
func (r *Registry) writeManifest(m *project.Manifest) error {
	dir := filepath.Join(r.dir, m.Name)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create project dir: %w", err)
	}

	data, err := project.EncodeManifest(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	f, err := os.CreateTemp(dir, ".project-*.json")
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("fsync manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close manifest: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, "project.json")); err != nil {
		return fmt.Errorf("replace manifest: %w", err)
	}
	return nil
}

func snapshot(p *project.Project) *project.Project {
	c := *p
	return &c
}
