package process

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	return NewSupervisor("test-engine", 38991, zap.NewNop())
}

// === Lifecycle ===

func TestSpawnAndTerminate(t *testing.T) {
	s := newTestSupervisor(t)
	defer s.Cleanup()

	if err := s.Spawn(context.Background(), "sleep", "10"); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	if !s.IsRunning() {
		t.Fatal("child should be running after Spawn")
	}
	if s.State() != StateRunning {
		t.Errorf("State: got %s, want running", s.State())
	}

	if err := s.Terminate(); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	if s.IsRunning() {
		t.Error("child should not be running after Terminate")
	}
	if s.State() != StateStopped {
		t.Errorf("State: got %s, want stopped", s.State())
	}
}

func TestSpawn_ImmediateExitFails(t *testing.T) {
	s := newTestSupervisor(t)
	defer s.Cleanup()

	err := s.Spawn(context.Background(), "true")
	if err == nil {
		t.Fatal("expected error for a child that exits immediately")
	}
	if !strings.Contains(err.Error(), "true") {
		t.Errorf("error should name the binary: %v", err)
	}
	if s.IsRunning() {
		t.Error("no child should be tracked after a failed spawn")
	}
	if s.State() != StateFailed {
		t.Errorf("State: got %s, want failed", s.State())
	}
}

func TestSpawn_MissingBinaryFails(t *testing.T) {
	s := newTestSupervisor(t)
	defer s.Cleanup()

	err := s.Spawn(context.Background(), "/nonexistent/llama-server")
	if err == nil {
		t.Fatal("expected error for a missing binary")
	}
	if s.IsRunning() {
		t.Error("no child should be tracked after a failed spawn")
	}
}

func TestIsRunning_ClearsExitedChild(t *testing.T) {
	s := newTestSupervisor(t)
	defer s.Cleanup()

	if err := s.Spawn(context.Background(), "sleep", "0.2"); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for s.IsRunning() {
		select {
		case <-deadline:
			t.Fatal("child never exited")
		case <-time.After(50 * time.Millisecond):
		}
	}

	// A second probe after the handle is cleared stays false.
	if s.IsRunning() {
		t.Error("IsRunning should stay false once the child is untracked")
	}
}

func TestSpawn_ReplacesTrackedChild(t *testing.T) {
	s := newTestSupervisor(t)
	defer s.Cleanup()

	if err := s.Spawn(context.Background(), "sleep", "10"); err != nil {
		t.Fatalf("first Spawn failed: %v", err)
	}
	if err := s.Spawn(context.Background(), "sleep", "10"); err != nil {
		t.Fatalf("second Spawn failed: %v", err)
	}
	if !s.IsRunning() {
		t.Fatal("child should be running after respawn")
	}
}

func TestCleanup_Idempotent(t *testing.T) {
	s := newTestSupervisor(t)

	if err := s.Cleanup(); err != nil {
		t.Fatalf("Cleanup with no child failed: %v", err)
	}
	if err := s.Cleanup(); err != nil {
		t.Fatalf("repeated Cleanup failed: %v", err)
	}

	if err := s.Spawn(context.Background(), "sleep", "10"); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	if err := s.Cleanup(); err != nil {
		t.Fatalf("Cleanup with running child failed: %v", err)
	}
	if s.IsRunning() {
		t.Error("child should be gone after Cleanup")
	}
	if err := s.Cleanup(); err != nil {
		t.Fatalf("Cleanup after Cleanup failed: %v", err)
	}
}

func TestTerminate_NoChild(t *testing.T) {
	s := newTestSupervisor(t)
	if err := s.Terminate(); err != nil {
		t.Fatalf("Terminate with no child should be a no-op: %v", err)
	}
}

// === Port probe ===

func TestPortFree(t *testing.T) {
	s := newTestSupervisor(t)
	if !s.PortFree() {
		t.Error("port 38991 should have no listener in the test environment")
	}
}

// === State names ===

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateStarting, "starting"},
		{StateRunning, "running"},
		{StateStopping, "stopping"},
		{StateStopped, "stopped"},
		{StateFailed, "failed"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String(): got %q, want %q", int(tt.state), got, tt.want)
		}
	}
}
