package portprobe

import (
	"bytes"
	"context"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Prober enumerates the TCP ports a process is listening on. The
// default implementation shells out to lsof; tests substitute a fake.
type Prober interface {
	ListeningPorts(ctx context.Context, pid int) ([]int, error)
}

// LsofProber asks lsof for the sockets held by a pid.
type LsofProber struct{}

func (LsofProber) ListeningPorts(ctx context.Context, pid int) ([]int, error) {
	cmd := exec.CommandContext(ctx, "lsof",
		"-iTCP", "-sTCP:LISTEN", "-P", "-n", "-a", "-p", strconv.Itoa(pid))
	out, err := cmd.Output()
	if err != nil {
		// lsof exits non-zero when the pid holds no matching sockets;
		// that is an empty result, not a failure.
		return nil, nil
	}
	return ParseLsof(out), nil
}

// ParseLsof extracts local port numbers from LISTEN rows. The NAME
// column carries host:port ("*:3002", "127.0.0.1:3002", "[::1]:3002");
// the port is whatever follows the last colon.
func ParseLsof(out []byte) []int {
	var ports []int
	seen := make(map[int]bool)
	for _, line := range strings.Split(string(bytes.TrimSpace(out)), "\n") {
		if !strings.Contains(line, "(LISTEN)") {
			continue
		}
		fields := strings.Fields(line)
		for i := len(fields) - 1; i >= 0; i-- {
			f := fields[i]
			if f == "(LISTEN)" {
				continue
			}
			idx := strings.LastIndex(f, ":")
			if idx < 0 || idx == len(f)-1 {
				break
			}
			port, err := strconv.Atoi(f[idx+1:])
			if err != nil || port <= 0 || port > 65535 {
				break
			}
			if !seen[port] {
				seen[port] = true
				ports = append(ports, port)
			}
			break
		}
	}
	sort.Ints(ports)
	return ports
}

// Detector polls a Prober until the child binds a port, the ceiling is
// reached, or the context is canceled.
type Detector struct {
	Prober   Prober
	Interval time.Duration
	MaxPolls int
	Log      *logrus.Logger
}

func NewDetector(log *logrus.Logger) *Detector {
	return &Detector{
		Prober:   LsofProber{},
		Interval: 250 * time.Millisecond,
		MaxPolls: 120,
		Log:      log,
	}
}

// Detect blocks until a port is found or detection gives up. It reports
// at most once. The lowest port wins when a scan finds several. A scan
// error is treated as "nothing yet"; the poll continues.
func (d *Detector) Detect(ctx context.Context, pid int) (int, bool) {
	t := time.NewTicker(d.Interval)
	defer t.Stop()

	for i := 0; i < d.MaxPolls; i++ {
		select {
		case <-ctx.Done():
			return 0, false
		case <-t.C:
		}

		ports, err := d.Prober.ListeningPorts(ctx, pid)
		if err != nil {
			if d.Log != nil {
				d.Log.WithError(err).WithField("pid", pid).Debug("port scan failed, retrying")
			}
			continue
		}
		if len(ports) > 0 {
			lowest := ports[0]
			for _, p := range ports[1:] {
				if p < lowest {
					lowest = p
				}
			}
			return lowest, true
		}
	}
	if d.Log != nil {
		d.Log.WithField("pid", pid).Debug("no listening port detected, giving up")
	}
	return 0, false
}
