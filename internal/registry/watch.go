package registry

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/proj/proj/internal/project"
)

// Watch keeps the in-memory registry in sync with manifests that appear
// or disappear behind the daemon's back (a second machine syncing
// $PROJ_HOME, a manual rm). It blocks until ctx is done.
func (r *Registry) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(r.dir); err != nil {
		return err
	}
	// Manifests live one level down; fsnotify does not recurse.
	entries, _ := os.ReadDir(r.dir)
	for _, e := range entries {
		if e.IsDir() {
			_ = w.Add(filepath.Join(r.dir, e.Name()))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			r.handleEvent(w, ev)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.log.WithError(err).Warn("manifest watcher error")
		}
	}
}

func (r *Registry) handleEvent(w *fsnotify.Watcher, ev fsnotify.Event) {
	switch {
	case ev.Op.Has(fsnotify.Create):
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() && filepath.Dir(ev.Name) == r.dir {
			_ = w.Add(ev.Name)
			r.adoptManifest(filepath.Join(ev.Name, "project.json"))
			return
		}
		if filepath.Base(ev.Name) == "project.json" {
			r.adoptManifest(ev.Name)
		}
	case ev.Op.Has(fsnotify.Write):
		if filepath.Base(ev.Name) == "project.json" {
			r.adoptManifest(ev.Name)
		}
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		name := ""
		if filepath.Base(ev.Name) == "project.json" {
			name = filepath.Base(filepath.Dir(ev.Name))
		} else if filepath.Dir(ev.Name) == r.dir {
			name = filepath.Base(ev.Name)
		}
		if name != "" {
			r.dropIfIdle(name)
		}
	}
}

// adoptManifest publishes a manifest found on disk. Runtime state of an
// existing record with the same name is preserved; only the durable
// fields are refreshed. Our own Create writes land here too and are
// effectively no-ops.
func (r *Registry) adoptManifest(path string) {
	m, err := project.ReadManifest(path)
	if err != nil {
		if !os.IsNotExist(err) {
			r.log.WithError(err).WithField("manifest", path).Warn("ignoring unreadable manifest")
		}
		return
	}
	if err := project.ValidateName(m.Name); err != nil {
		r.log.WithError(err).WithField("manifest", path).Warn("ignoring manifest with invalid name")
		return
	}
	if m.Name != filepath.Base(filepath.Dir(path)) {
		r.log.WithField("manifest", path).Warn("ignoring manifest that does not match its directory")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.projects[m.Name]; ok {
		p.Manifest = *m
		return
	}
	r.projects[m.Name] = &project.Project{Manifest: *m}
	r.log.WithField("project", m.Name).Info("adopted project from disk")
}

// dropIfIdle unloads a project whose manifest vanished. A running
// project keeps its record so the supervisor's exit path stays intact;
// the record goes away once the child is stopped and a later event or
// restart reconciles it.
func (r *Registry) dropIfIdle(name string) {
	if _, err := os.Stat(filepath.Join(r.dir, name, "project.json")); err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[name]
	if !ok {
		return
	}
	if p.PID != 0 {
		r.log.WithField("project", name).Warn("manifest removed while project is running, keeping record")
		return
	}
	delete(r.projects, name)
	r.log.WithField("project", name).Info("dropped project after manifest removal")
}
