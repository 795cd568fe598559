// Package supervisor manages the lifecycle of the external overlay renderer
// process: executable discovery, launch with a startup grace period, TCP
// liveness probing, and graceful shutdown.
package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gOOvER/EDMCOverlay/client"
	"github.com/gOOvER/EDMCOverlay/internal/files"
	"github.com/gOOvER/EDMCOverlay/message"
	"github.com/gOOvER/EDMCOverlay/metrics"
	"go.uber.org/zap"
)

const (
	DefaultProgram      = "EDMCOverlay.exe"
	DefaultGracePeriod  = 2 * time.Second
	DefaultStopTimeout  = 5 * time.Second
	DefaultProbeTimeout = 2 * time.Second
)

// Supervisor owns the renderer process handle. The TCP listener coming up is
// the only liveness signal it trusts; there is no process-table inspection.
type Supervisor struct {
	logger       *zap.SugaredLogger
	addr         string
	program      string
	rootDir      string
	searchDirs   []string
	gracePeriod  time.Duration
	stopTimeout  time.Duration
	probeTimeout time.Duration
	hostRunning  func() bool
	collector    metrics.Collector

	// probe performs one connect+send+disconnect round trip.
	probe func(ctx context.Context) error

	state atomic.Int32

	// mu serializes EnsureRunning, Stop, IsAlive and FindExecutable.
	mu      sync.Mutex
	exePath string
	cmd     *exec.Cmd
	stderr  *bytes.Buffer
	exited  chan struct{}
}

type Option func(s *Supervisor)

func WithLogger(l *zap.Logger) Option {
	return func(s *Supervisor) {
		s.logger = l.Named("supervisor").Sugar()
	}
}

// WithProgram sets the executable name searched for (default EDMCOverlay.exe).
func WithProgram(name string) Option {
	return func(s *Supervisor) {
		s.program = name
	}
}

// WithRootDir sets the install directory the default search locations are
// derived from.
func WithRootDir(dir string) Option {
	return func(s *Supervisor) {
		s.rootDir = dir
	}
}

// WithSearchDirs replaces the default search locations with an explicit
// ordered list of directories.
func WithSearchDirs(dirs []string) Option {
	return func(s *Supervisor) {
		s.searchDirs = dirs
	}
}

func WithGracePeriod(d time.Duration) Option {
	return func(s *Supervisor) {
		s.gracePeriod = d
	}
}

func WithStopTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		s.stopTimeout = d
	}
}

func WithProbeTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		s.probeTimeout = d
	}
}

// WithHostCheck sets the host liveness predicate. When it reports false,
// EnsureRunning is a guaranteed no-op: the renderer is not launched or
// probed while its reason to exist is absent.
func WithHostCheck(f func() bool) Option {
	return func(s *Supervisor) {
		s.hostRunning = f
	}
}

func WithMetrics(m metrics.Collector) Option {
	return func(s *Supervisor) {
		s.collector = m
	}
}

// New builds a supervisor probing the renderer at addr.
func New(addr string, opts ...Option) *Supervisor {
	s := &Supervisor{
		logger:       zap.NewNop().Sugar(),
		addr:         addr,
		program:      DefaultProgram,
		rootDir:      ".",
		gracePeriod:  DefaultGracePeriod,
		stopTimeout:  DefaultStopTimeout,
		probeTimeout: DefaultProbeTimeout,
		collector:    metrics.NewNopCollector(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.probe == nil {
		s.probe = s.defaultProbe
	}
	return s
}

func (s *Supervisor) defaultProbe(ctx context.Context) error {
	c := client.New(s.addr,
		client.WithAttempts(1),
		client.WithDialTimeout(s.probeTimeout),
		client.WithWriteTimeout(s.probeTimeout),
		client.WithLogger(s.logger.Desugar()),
	)
	defer c.Disconnect()
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.SendRaw(ctx, message.Probe())
}

// State returns the current process handle state.
func (s *Supervisor) State() ProcessState {
	return ProcessState(s.state.Load())
}

func (s *Supervisor) setState(next ProcessState) {
	prev := ProcessState(s.state.Swap(int32(next)))
	if prev != next {
		s.logger.Debugw("service state changed", "from", prev.String(), "to", next.String())
	}
}

func (s *Supervisor) candidates() []string {
	if len(s.searchDirs) > 0 {
		out := make([]string, len(s.searchDirs))
		for i, dir := range s.searchDirs {
			out[i] = filepath.Join(dir, s.program)
		}
		return out
	}
	return []string{
		filepath.Join(s.rootDir, s.program),
		filepath.Join(s.rootDir, "EDMCOverlay", s.program),
		filepath.Join(s.rootDir, "EDMCOverlay", "EDMCOverlay", "bin", "Release", s.program),
		filepath.Join(s.rootDir, "EDMCOverlay", "EDMCOverlay", "bin", "Debug", s.program),
	}
}

// FindExecutable locates the renderer executable and caches the result
// permanently; the search set is static, so it is never repeated after the
// first hit.
func (s *Supervisor) FindExecutable() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findExecutableLocked()
}

func (s *Supervisor) findExecutableLocked() (string, error) {
	if s.exePath != "" {
		return s.exePath, nil
	}
	candidates := s.candidates()
	path := files.FirstRegular(candidates)
	if path == "" {
		s.collector.RecordError("service_not_found", s.program)
		return "", &NotFoundError{Program: s.program, Searched: candidates}
	}
	s.exePath = path
	s.logger.Infow("found service executable", "path", path)
	return path, nil
}

// IsAlive probes the renderer's listener with a short-lived client. Any
// failure means "not alive".
func (s *Supervisor) IsAlive(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isAliveLocked(ctx)
}

func (s *Supervisor) isAliveLocked(ctx context.Context) bool {
	err := s.probe(ctx)
	if err != nil {
		s.logger.Debugw("liveness probe failed", "addr", s.addr, "err", err)
		if s.cmd != nil {
			select {
			case <-s.exited:
				s.setState(Exited)
			default:
			}
		}
		return false
	}
	if s.cmd != nil {
		s.setState(Running)
	}
	return true
}

// EnsureRunning makes sure a live renderer is accepting connections,
// launching it if needed. It is a no-op while the host predicate reports
// false. A successful return means the launched process survived the grace
// period; whether its socket is up is the next probe's business.
func (s *Supervisor) EnsureRunning(ctx context.Context, extraArgs ...string) error {
	if s.hostRunning != nil && !s.hostRunning() {
		s.logger.Debugw("host not running, not launching service")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isAliveLocked(ctx) {
		return nil
	}

	if s.cmd != nil {
		select {
		case <-s.exited:
			// stale handle, clear it and relaunch
			s.logger.Debugw("previous service process exited",
				"exitCode", s.cmd.ProcessState.ExitCode(),
				"stderr", strings.TrimSpace(s.stderr.String()))
			s.setState(Exited)
			s.cmd = nil
		default:
			// process is up but its listener is not accepting yet
			return nil
		}
	}

	path, err := s.findExecutableLocked()
	if err != nil {
		return err
	}

	cmd := exec.Command(path, extraArgs...)
	cmd.Dir = filepath.Dir(path)
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// don't let children holding the output pipes stall Wait past the exit
	cmd.WaitDelay = s.stopTimeout

	s.logger.Infow("starting service", "path", path, "args", extraArgs)
	if err := cmd.Start(); err != nil {
		s.collector.RecordError("service_launch", err.Error())
		return fmt.Errorf("starting %s: %w", path, err)
	}

	exited := make(chan struct{})
	go func() {
		cmd.Wait()
		close(exited)
	}()

	s.cmd = cmd
	s.stderr = stderr
	s.exited = exited
	s.setState(Starting)

	select {
	case <-ctx.Done():
		return fmt.Errorf("waiting for service startup: %w", ctx.Err())
	case <-exited:
		code := cmd.ProcessState.ExitCode()
		diag := strings.TrimSpace(stderr.String())
		s.cmd = nil
		s.setState(Failed)
		s.collector.RecordError("service_launch", fmt.Sprintf("exit code %d", code))
		return &LaunchError{Path: path, ExitCode: code, Stderr: diag}
	case <-time.After(s.gracePeriod):
	}

	s.setState(Running)
	s.logger.Infow("service started", "pid", cmd.Process.Pid)
	return nil
}

// Stop terminates the renderer if a handle exists: graceful signal first,
// force kill after the stop timeout. The handle is always cleared. The
// returned error is informational; shutdown paths may ignore it.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil {
		return nil
	}
	cmd := s.cmd
	exited := s.exited
	defer func() {
		s.cmd = nil
		s.setState(Stopped)
	}()

	s.logger.Infow("stopping service", "pid", cmd.Process.Pid)
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Debugw("terminate signal failed, killing", "err", err)
		cmd.Process.Kill()
	}

	select {
	case <-exited:
	case <-time.After(s.stopTimeout):
		s.logger.Warnw("service did not exit within timeout, killing", "timeout", s.stopTimeout)
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			s.collector.RecordError("service_stop", err.Error())
			return fmt.Errorf("killing service: %w", err)
		}
		<-exited
	}

	s.logger.Infow("service stopped")
	return nil
}
