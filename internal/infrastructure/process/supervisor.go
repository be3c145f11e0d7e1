package process

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/everettbu/chatsafe/pkg/safego"
)

// State represents the lifecycle state of the supervised child.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	gracefulTimeout = 5 * time.Second
	forcefulTimeout = 2 * time.Second
	// spawnProbe is how long a fresh child must stay alive before the spawn
	// is considered successful.
	spawnProbe      = 100 * time.Millisecond
	portReleaseWait = 200 * time.Millisecond
	portProbeWait   = 250 * time.Millisecond
)

// Supervisor manages the lifecycle of a single external engine subprocess.
// It guarantees at most one tracked child, drains both output pipes into
// structured logs, and escalates from graceful to forceful termination.
type Supervisor struct {
	name   string
	port   int
	logger *zap.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	waitCh chan struct{}
	state  atomic.Int32
}

// NewSupervisor creates a supervisor for the named subprocess. The port is
// used for orphan reclamation and availability probes.
func NewSupervisor(name string, port int, logger *zap.Logger) *Supervisor {
	s := &Supervisor{
		name:   name,
		port:   port,
		logger: logger.With(zap.String("process", name)),
	}
	s.state.Store(int32(StateIdle))
	return s
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State { return State(s.state.Load()) }

// Spawn starts the child process. Any previously tracked child is cleaned up
// first, orphans bound to the target port are reclaimed, and the port must be
// free. Spawn fails if the child exits within the probe window.
func (s *Supervisor) Spawn(ctx context.Context, binary string, args ...string) error {
	if err := s.Cleanup(); err != nil {
		return fmt.Errorf("cleanup before spawn: %w", err)
	}

	s.ReclaimPort()

	if !s.PortFree() {
		s.state.Store(int32(StateFailed))
		return fmt.Errorf("port %d is already in use", s.port)
	}

	s.state.Store(int32(StateStarting))
	s.logger.Info("Spawning process",
		zap.String("binary", binary),
		zap.Strings("args", args),
	)

	cmd := exec.CommandContext(ctx, binary, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.state.Store(int32(StateFailed))
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.state.Store(int32(StateFailed))
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		s.state.Store(int32(StateFailed))
		return fmt.Errorf("start %s: %w", binary, err)
	}

	// Drain both pipes so the child never blocks on a full buffer.
	safego.Go(s.logger, s.name+"-stdout", func() {
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			s.logger.Info("Process stdout", zap.String("line", scanner.Text()))
		}
	})
	safego.Go(s.logger, s.name+"-stderr", func() {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			s.logger.Warn("Process stderr", zap.String("line", scanner.Text()))
		}
	})

	waitCh := make(chan struct{})
	s.mu.Lock()
	s.cmd = cmd
	s.waitCh = waitCh
	s.mu.Unlock()

	safego.Go(s.logger, s.name+"-monitor", func() {
		err := cmd.Wait()
		if err != nil {
			s.logger.Warn("Process exited", zap.Error(err))
		} else {
			s.logger.Info("Process exited cleanly")
		}
		close(waitCh)
		s.state.CompareAndSwap(int32(StateRunning), int32(StateStopped))
	})

	select {
	case <-waitCh:
		s.mu.Lock()
		s.cmd = nil
		s.waitCh = nil
		s.mu.Unlock()
		s.state.Store(int32(StateFailed))
		return fmt.Errorf("%s exited immediately after spawn; check that the binary exists at %s", s.name, binary)
	case <-time.After(spawnProbe):
	}

	s.state.Store(int32(StateRunning))
	return nil
}

// IsRunning is a non-blocking liveness probe. A child that has exited is
// untracked as a side effect.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil {
		return false
	}
	select {
	case <-s.waitCh:
		s.cmd = nil
		s.waitCh = nil
		return false
	default:
		return true
	}
}

// Terminate stops the tracked child: graceful signal with a deadline, then a
// forceful kill with a second deadline. It returns once the child has exited
// or both deadlines have elapsed.
func (s *Supervisor) Terminate() error {
	s.mu.Lock()
	cmd := s.cmd
	waitCh := s.waitCh
	s.cmd = nil
	s.waitCh = nil
	s.mu.Unlock()

	if cmd == nil {
		return nil
	}

	s.state.Store(int32(StateStopping))
	s.logger.Info("Terminating process")

	if cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			s.logger.Warn("SIGTERM failed", zap.Error(err))
		} else {
			select {
			case <-waitCh:
				s.logger.Info("Process exited gracefully")
				s.state.Store(int32(StateStopped))
				return nil
			case <-time.After(gracefulTimeout):
				s.logger.Warn("Process ignored SIGTERM, force killing")
			}
		}

		if err := cmd.Process.Kill(); err != nil {
			s.logger.Warn("Kill failed", zap.Error(err))
		}
	}

	select {
	case <-waitCh:
		s.logger.Info("Process exited after kill")
	case <-time.After(forcefulTimeout):
		s.logger.Error("Timeout waiting for process exit after kill")
	}

	s.state.Store(int32(StateStopped))
	return nil
}

// Cleanup terminates the child if it is running. Idempotent.
func (s *Supervisor) Cleanup() error {
	if s.IsRunning() {
		return s.Terminate()
	}
	s.mu.Lock()
	s.cmd = nil
	s.waitCh = nil
	s.mu.Unlock()
	return nil
}

// ReclaimPort force-kills any process bound to the target port and waits
// briefly for the port to release. This recovers from crashed prior
// instances that the supervisor never tracked.
func (s *Supervisor) ReclaimPort() {
	out, err := exec.Command("lsof", "-ti", fmt.Sprintf(":%d", s.port)).Output()
	if err != nil || len(out) == 0 {
		return
	}

	for _, pid := range strings.Fields(string(out)) {
		s.logger.Warn("Found orphaned process on port, killing it",
			zap.String("pid", pid),
			zap.Int("port", s.port),
		)
		if err := exec.Command("kill", "-9", pid).Run(); err != nil {
			s.logger.Warn("Failed to kill orphaned process",
				zap.String("pid", pid),
				zap.Error(err),
			)
		}
	}

	time.Sleep(portReleaseWait)
}

// PortFree reports whether the target port has no listener.
func (s *Supervisor) PortFree() bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", s.port), portProbeWait)
	if err != nil {
		return true
	}
	conn.Close()
	return false
}
