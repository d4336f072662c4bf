//go:build unix

package control

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/proj/proj/internal/gitinfo"
	"github.com/proj/proj/internal/history"
	"github.com/proj/proj/internal/limits"
	"github.com/proj/proj/internal/registry"
	"github.com/proj/proj/internal/supervisor"
)

// Version is reported by the ping op.
const Version = "0.1.0"

// connTimeout bounds one request/response exchange. Stop is the
// slowest op (2 s grace then kill), so this leaves ample headroom.
const connTimeout = 30 * time.Second

// Server answers line-delimited JSON control requests over the unix
// socket. One request per connection, then close.
type Server struct {
	reg      *registry.Registry
	sup      *supervisor.Supervisor
	hist     *history.Store
	httpPort int
	log      *logrus.Entry

	ln net.Listener
}

func NewServer(reg *registry.Registry, sup *supervisor.Supervisor, hist *history.Store, httpPort int, log *logrus.Logger) *Server {
	return &Server{
		reg:      reg,
		sup:      sup,
		hist:     hist,
		httpPort: httpPort,
		log:      log.WithField("component", "control"),
	}
}

// Listen binds the unix socket with owner-only permissions. A stale
// socket left by a crashed daemon is unlinked first; the caller must
// already hold the pidfile so this cannot race a live instance.
func (s *Server) Listen(socketPath string) error {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o700); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	if err := removeSocketIfExists(socketPath); err != nil {
		return err
	}
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("bind control socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("chmod control socket: %w", err)
	}
	s.ln = ln
	return nil
}

// removeSocketIfExists unlinks path only when it is actually a socket.
func removeSocketIfExists(path string) error {
	fi, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("refusing to remove non-socket path %s", path)
	}
	return os.Remove(path)
}

// Serve accepts connections until ctx is done or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 4096), limits.JSON)
	if !sc.Scan() {
		return
	}

	var req Request
	var resp Response
	if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
		resp = Response{OK: false, Kind: KindBadRequest, Message: "invalid request: " + err.Error()}
	} else {
		resp = s.dispatch(&req)
	}

	data, err := json.Marshal(resp)
	if err != nil {
		s.log.WithError(err).Error("failed to encode response")
		return
	}
	_, _ = conn.Write(append(data, '\n'))
}

func (s *Server) dispatch(req *Request) Response {
	switch req.Op {
	case "ping":
		return Response{OK: true, Version: Version}

	case "status":
		return Response{OK: true, Projects: s.reg.List(), HTTPPort: s.httpPort}

	case "create":
		p, err := s.reg.Create(req.Name, req.Path)
		if err != nil {
			return errorResponse(err)
		}
		return Response{OK: true, Project: p, HTTPPort: s.httpPort}

	case "resolve":
		p, err := s.reg.GetByPath(req.Cwd)
		if err != nil {
			return Response{OK: false, Err: KindNotInProject, Kind: KindNotInProject,
				Message: fmt.Sprintf("no project contains %s", req.Cwd)}
		}
		return Response{OK: true, Name: p.Name}

	case "run":
		p, err := s.reg.Get(req.Name)
		if err != nil {
			return errorResponse(err)
		}
		pid, err := s.sup.Run(p, req.Argv)
		if err != nil {
			return errorResponse(err)
		}
		return Response{OK: true, PID: pid, HTTPPort: s.httpPort}

	case "stop":
		if _, err := s.reg.Get(req.Name); err != nil {
			return errorResponse(err)
		}
		if err := s.sup.Stop(req.Name); err != nil {
			return errorResponse(err)
		}
		return Response{OK: true}

	case "info":
		p, err := s.reg.Get(req.Name)
		if err != nil {
			return errorResponse(err)
		}
		resp := Response{
			OK:           true,
			Project:      p,
			HTTPPort:     s.httpPort,
			Command:      s.sup.Command(req.Name),
			RecentOutput: s.sup.RecentOutput(req.Name),
		}
		if gi, err := gitinfo.Lookup(p.Path); err == nil {
			resp.GitBranch = gi.Branch
			resp.GitDirty = gi.Dirty
		}
		return resp

	case "history":
		if _, err := s.reg.Get(req.Name); err != nil {
			return errorResponse(err)
		}
		if s.hist == nil {
			return Response{OK: true}
		}
		runs, err := s.hist.ForProject(req.Name, 20)
		if err != nil {
			return errorResponse(err)
		}
		return Response{OK: true, Runs: runs}

	default:
		return Response{OK: false, Kind: KindBadRequest, Message: "unknown op: " + req.Op}
	}
}
