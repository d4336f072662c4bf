//go:build unix

package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/proj/proj/internal/config"
	"github.com/proj/proj/internal/control"
	"github.com/proj/proj/internal/history"
	"github.com/proj/proj/internal/paths"
	"github.com/proj/proj/internal/portprobe"
	"github.com/proj/proj/internal/proxy"
	"github.com/proj/proj/internal/registry"
	"github.com/proj/proj/internal/supervisor"
)

// Daemon owns the registry, supervisor, proxy and control server for
// one $PROJ_HOME. The pidfile and both listeners make it a singleton;
// a second instance fails fast.
type Daemon struct {
	cfg *config.Config
	log *logrus.Logger

	reg  *registry.Registry
	sup  *supervisor.Supervisor
	hist *history.Store
	ctl  *control.Server

	httpLn     net.Listener
	httpServer *http.Server
}

func New(cfg *config.Config, log *logrus.Logger) *Daemon {
	return &Daemon{cfg: cfg, log: log}
}

// Run boots the daemon and blocks until SIGTERM/SIGINT or a fatal
// listener error. Boot order: pidfile, state, control socket, HTTP
// port; failure of any of these is fatal and leaves nothing behind.
func (d *Daemon) Run(ctx context.Context) error {
	if err := os.MkdirAll(d.cfg.Root, 0o700); err != nil {
		return fmt.Errorf("create state root: %w", err)
	}

	if err := d.acquirePIDFile(); err != nil {
		return err
	}
	defer os.Remove(paths.PIDPath())

	hist, err := history.Open(paths.HistoryPath(), d.log)
	if err != nil {
		d.log.WithError(err).Warn("run history unavailable")
	} else {
		d.hist = hist
		defer hist.Close()
	}

	reg, err := registry.Open(filepath.Join(d.cfg.Root, "projects"), d.log)
	if err != nil {
		return err
	}
	d.reg = reg

	var rec supervisor.Recorder
	if d.hist != nil {
		rec = d.hist
	}
	d.sup = supervisor.New(reg, portprobe.NewDetector(d.log), rec, d.log)

	d.ctl = control.NewServer(reg, d.sup, d.hist, d.cfg.HTTPPort, d.log)
	if err := d.ctl.Listen(d.cfg.Socket); err != nil {
		return err
	}
	defer d.ctl.Close()
	defer os.Remove(d.cfg.Socket)

	httpLn, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", d.cfg.HTTPPort))
	if err != nil {
		return fmt.Errorf("bind http port %d: %w", d.cfg.HTTPPort, err)
	}
	d.httpLn = httpLn
	d.httpServer = &http.Server{Handler: proxy.New(reg, d.log)}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 3)
	go func() { errc <- d.ctl.Serve(ctx) }()
	go func() { errc <- d.httpServer.Serve(httpLn) }()
	go func() { errc <- reg.Watch(ctx) }()

	d.log.WithFields(logrus.Fields{
		"pid":       os.Getpid(),
		"socket":    d.cfg.Socket,
		"http_port": d.cfg.HTTPPort,
	}).Info("daemon started")

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigc)

	select {
	case sig := <-sigc:
		d.log.WithField("signal", sig.String()).Info("shutting down")
	case <-ctx.Done():
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.WithError(err).Error("component failed")
		}
	}

	d.shutdown(cancel)
	return nil
}

func (d *Daemon) shutdown(cancel context.CancelFunc) {
	// Stop accepting new work first, then terminate children.
	_ = d.ctl.Close()
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	_ = d.httpServer.Shutdown(shutdownCtx)

	d.sup.StopAll()
	d.log.Info("daemon stopped")
}

// acquirePIDFile creates daemon.pid with O_EXCL. An existing file
// whose pid is dead is stale and gets replaced; a live pid means
// another instance holds this state root.
func (d *Daemon) acquirePIDFile() error {
	pidPath := paths.PIDPath()
	for {
		f, err := os.OpenFile(pidPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
			if cerr := f.Close(); werr == nil {
				werr = cerr
			}
			return werr
		}
		if !os.IsExist(err) {
			return fmt.Errorf("create pidfile: %w", err)
		}
		if pid, err := ReadPIDFile(pidPath); err == nil && processAlive(pid) {
			return fmt.Errorf("daemon already running (pid %d)", pid)
		}
		if err := os.Remove(pidPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale pidfile: %w", err)
		}
	}
}

// ReadPIDFile parses the ascii pid stored at path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// StopRunning signals the daemon recorded in the pidfile with SIGTERM
// and waits for it to go away.
func StopRunning() error {
	pid, err := ReadPIDFile(paths.PIDPath())
	if err != nil {
		if os.IsNotExist(err) {
			return errors.New("daemon not running")
		}
		return fmt.Errorf("read pidfile: %w", err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("process not found: %w", err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal daemon: %w", err)
	}
	for i := 0; i < 50; i++ {
		if !processAlive(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return errors.New("daemon did not stop within 5s")
}

// Status describes the daemon from the outside, for `proj daemon status`.
type Status struct {
	Running    bool
	PID        int
	SocketPath string
}

// GetStatus inspects the pidfile and pings the socket. A pid without a
// responding socket is reported as not running (stale or wedged).
func GetStatus(socketPath string) Status {
	st := Status{SocketPath: socketPath}

	pid, err := ReadPIDFile(paths.PIDPath())
	if err != nil {
		return st
	}
	st.PID = pid
	if !processAlive(pid) {
		return st
	}

	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return st
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write([]byte(`{"op":"ping"}` + "\n")); err != nil {
		return st
	}
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil || !strings.Contains(string(buf[:n]), `"ok":true`) {
		return st
	}
	st.Running = true
	return st
}
