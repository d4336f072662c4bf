//go:build unix

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/proj/proj/internal/portprobe"
	"github.com/proj/proj/internal/project"
	"github.com/proj/proj/internal/registry"
)

const (
	// ringSize bounds the in-memory output capture per project.
	ringSize = 64 << 10
	// gracePeriod is how long a stopped child gets to exit on SIGTERM
	// before the whole process group is killed.
	gracePeriod = 2 * time.Second
)

var (
	// ErrAlreadyRunning indicates the project already has a supervised child.
	ErrAlreadyRunning = errors.New("project already running")
	// ErrSpawnFailed indicates the OS refused to start the child.
	ErrSpawnFailed = errors.New("spawn failed")
)

// Recorder receives run lifecycle records. Calls must not block for
// long; the history store satisfies this with best-effort writes.
type Recorder interface {
	RunStarted(id, project, argv string, pid int, startedAt time.Time)
	RunExited(id string, exitedAt time.Time, exitCode int, port int)
}

// child is one supervised process. The exit goroutine is the only
// writer of post-exit state; Stop and shutdown merely signal and wait
// on done, so cleanup happens exactly once no matter how the child
// goes away.
type child struct {
	runID  string
	pid    int
	argv   string
	out    *ringBuffer
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor spawns and supervises at most one child per project,
// feeding port discoveries and exits back into the registry.
type Supervisor struct {
	reg      *registry.Registry
	detector *portprobe.Detector
	recorder Recorder
	log      *logrus.Entry

	mu       sync.Mutex
	children map[string]*child
}

func New(reg *registry.Registry, det *portprobe.Detector, rec Recorder, log *logrus.Logger) *Supervisor {
	return &Supervisor{
		reg:      reg,
		detector: det,
		recorder: rec,
		log:      log.WithField("component", "supervisor"),
		children: make(map[string]*child),
	}
}

// Run spawns argv in the project's directory and returns the child pid
// without waiting for it to bind a port. The child gets its own process
// group so Stop can terminate the whole tree.
func (s *Supervisor) Run(p *project.Project, argv []string) (int, error) {
	if len(argv) == 0 {
		return 0, fmt.Errorf("%w: empty command", ErrSpawnFailed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.children[p.Name]; ok {
		return 0, fmt.Errorf("%w: %s", ErrAlreadyRunning, p.Name)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = p.Path
	cmd.Env = append(os.Environ(),
		"PROJECT_ID="+p.Name,
		"PROJECT_HOST="+p.Name+".localhost",
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	pid := cmd.Process.Pid

	detectCtx, cancel := context.WithCancel(context.Background())
	c := &child{
		runID:  uuid.New().String(),
		pid:    pid,
		argv:   strings.Join(argv, " "),
		out:    newRingBuffer(ringSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.children[p.Name] = c

	if err := s.reg.SetRunning(p.Name, pid); err != nil {
		// Project vanished between lookup and spawn; abandon the child.
		s.log.WithError(err).WithField("project", p.Name).Warn("project gone after spawn, killing child")
		delete(s.children, p.Name)
		cancel()
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		go func() { _ = cmd.Wait() }()
		return 0, err
	}

	log := s.log.WithFields(logrus.Fields{"project": p.Name, "pid": pid})
	log.WithField("argv", c.argv).Info("spawned child")

	startedAt := time.Now().UTC()
	if s.recorder != nil {
		s.recorder.RunStarted(c.runID, p.Name, c.argv, pid, startedAt)
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go s.drain(&readers, stdout, c.out)
	go s.drain(&readers, stderr, c.out)

	go func() {
		if port, ok := s.detector.Detect(detectCtx, pid); ok {
			s.reg.SetPort(p.Name, port)
			log.WithField("port", port).Info("detected listening port")
		}
	}()

	go s.waitForExit(p.Name, cmd, c, &readers)
	return pid, nil
}

func (s *Supervisor) drain(wg *sync.WaitGroup, r io.Reader, out *ringBuffer) {
	defer wg.Done()
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			_, _ = out.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// waitForExit is the single completion funnel for a child: readers
// drained, process reaped, detector canceled, registry cleared,
// history completed, child unregistered.
func (s *Supervisor) waitForExit(name string, cmd *exec.Cmd, c *child, readers *sync.WaitGroup) {
	readers.Wait()
	err := cmd.Wait()

	exitCode := 0
	if err != nil {
		exitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
	}

	c.cancel()
	port, _ := s.reg.PortFor(name)
	s.reg.ClearRuntime(name)

	s.mu.Lock()
	delete(s.children, name)
	s.mu.Unlock()

	if s.recorder != nil {
		s.recorder.RunExited(c.runID, time.Now().UTC(), exitCode, port)
	}
	s.log.WithFields(logrus.Fields{
		"project": name, "pid": c.pid, "exit_code": exitCode,
	}).Info("child exited")
	close(c.done)
}

// Stop terminates a project's child: SIGTERM to the process group, a
// grace period, then SIGKILL. Stopping an idle project is a no-op.
func (s *Supervisor) Stop(name string) error {
	s.mu.Lock()
	c, ok := s.children[name]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	s.log.WithFields(logrus.Fields{"project": name, "pid": c.pid}).Info("stopping child")
	_ = syscall.Kill(-c.pid, syscall.SIGTERM)

	select {
	case <-c.done:
		return nil
	case <-time.After(gracePeriod):
	}

	s.log.WithFields(logrus.Fields{"project": name, "pid": c.pid}).Warn("grace period elapsed, killing process group")
	_ = syscall.Kill(-c.pid, syscall.SIGKILL)
	<-c.done
	return nil
}

// StopAll terminates every supervised child in parallel. Used on
// daemon shutdown.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	names := make([]string, 0, len(s.children))
	for name := range s.children {
		names = append(names, name)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_ = s.Stop(name)
		}(name)
	}
	wg.Wait()
}

// RecentOutput returns the buffered stdout/stderr of the project's
// current child, or empty when idle.
func (s *Supervisor) RecentOutput(name string) string {
	s.mu.Lock()
	c, ok := s.children[name]
	s.mu.Unlock()
	if !ok {
		return ""
	}
	return string(c.out.Bytes())
}

// Command returns the argv string of the running child, if any.
func (s *Supervisor) Command(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.children[name]; ok {
		return c.argv
	}
	return ""
}

// RunningCount reports how many children are currently supervised.
func (s *Supervisor) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.children)
}
