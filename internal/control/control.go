package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"murmur/internal/domain"
)

const (
	OpToggle     = "toggle"
	OpStatus     = "status"
	OpResetModel = "reset-model"

	ioTimeout = 5 * time.Second
)

type Request struct {
	Op    string `json:"op"`
	Model string `json:"model,omitempty"`
}

type Response struct {
	OK        bool           `json:"ok"`
	Message   string         `json:"message,omitempty"`
	Status    *domain.Status `json:"status,omitempty"`
	UptimeSec float64        `json:"uptime_sec,omitempty"`
}

// Handler is what the socket drives.
type Handler interface {
	HotkeyPressed() error
	Status() domain.Status
	// ResetModel clears a remembered model download failure.
	ResetModel(name string) error
}

// DefaultSocketPath prefers XDG_RUNTIME_DIR and falls back to the temp dir.
func DefaultSocketPath() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "murmur.sock")
}

type Server struct {
	path    string
	handler Handler
	logger  zerolog.Logger
	started time.Time

	wg sync.WaitGroup
}

func NewServer(path string, handler Handler, logger zerolog.Logger) *Server {
	if path == "" {
		path = DefaultSocketPath()
	}
	return &Server{path: path, handler: handler, logger: logger}
}

func (s *Server) Path() string { return s.path }

// Listen binds the socket. A stale socket left by a crashed process is
// replaced; a live one is an error.
func (s *Server) Listen() (net.Listener, error) {
	if conn, err := net.DialTimeout("unix", s.path, 200*time.Millisecond); err == nil {
		_ = conn.Close()
		return nil, fmt.Errorf("another instance is listening on %s", s.path)
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("restrict socket permissions: %w", err)
	}
	return ln, nil
}

// Serve accepts connections until ctx is done, then removes the socket.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.started = time.Now()
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer func() {
		_ = ln.Close()
		_ = os.Remove(s.path)
		s.wg.Wait()
	}()

	s.logger.Info().Str("socket", s.path).Msg("control socket listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept control connection: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(ioTimeout))

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		s.logger.Debug().Err(err).Msg("invalid control request")
		_ = json.NewEncoder(conn).Encode(Response{Message: "invalid request"})
		return
	}

	resp := s.dispatch(req)
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.logger.Debug().Err(err).Str("op", req.Op).Msg("control reply failed")
	}
}

func (s *Server) dispatch(req Request) Response {
	switch req.Op {
	case OpToggle:
		if err := s.handler.HotkeyPressed(); err != nil {
			return Response{Message: err.Error()}
		}
		return Response{OK: true, Message: "toggled"}
	case OpStatus:
		status := s.handler.Status()
		return Response{OK: true, Status: &status, UptimeSec: time.Since(s.started).Seconds()}
	case OpResetModel:
		if req.Model == "" {
			return Response{Message: "model name is required"}
		}
		if err := s.handler.ResetModel(req.Model); err != nil {
			return Response{Message: err.Error()}
		}
		return Response{OK: true, Message: "model " + req.Model + " reset"}
	default:
		return Response{Message: fmt.Sprintf("unknown op %q", req.Op)}
	}
}

// Send issues one request against a running instance.
func Send(ctx context.Context, path string, req Request) (Response, error) {
	if path == "" {
		path = DefaultSocketPath()
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return Response{}, fmt.Errorf("connect to %s (is murmur running?): %w", path, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(ioTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("send %s: %w", req.Op, err)
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("read %s reply: %w", req.Op, err)
	}
	if !resp.OK {
		return resp, fmt.Errorf("%s rejected: %s", req.Op, resp.Message)
	}
	return resp, nil
}
