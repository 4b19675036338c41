package encoder

import (
	"context"
	"testing"
	"time"

	"github.com/krsna1729/roomrecorder/internal/logger"
)

func TestSpawnUnavailableBinary(t *testing.T) {
	sup := New(logger.NewLogger(), "/no/such/ffmpeg-binary")
	_, err := sup.Spawn(context.Background(), Spec{Args: []string{"-version"}})
	if err == nil {
		t.Fatal("expected error spawning a nonexistent binary")
	}
}

func TestSpawnStopLifecycle(t *testing.T) {
	sup := New(logger.NewLogger(), "sleep")
	h, err := sup.Spawn(context.Background(), Spec{Args: []string{"5"}})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	if !h.Alive() {
		t.Fatal("expected handle to report alive immediately after spawn")
	}
	if err := sup.Stop(h, 2*time.Second); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if h.Alive() {
		t.Fatal("expected handle to report not alive after Stop")
	}
}

func TestOnExitFiresOnUnrequestedExit(t *testing.T) {
	sup := New(logger.NewLogger(), "true")
	done := make(chan error, 1)
	h, err := sup.Spawn(context.Background(), Spec{
		Args:   nil,
		OnExit: func(exitErr error) { done <- exitErr },
	})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected OnExit to fire for a child that exited before Stop was called")
	}
	if h.Status() != Failed {
		t.Fatalf("expected status Failed after an unrequested exit, got %v", h.Status())
	}
}

func TestOnExitNotCalledAfterStop(t *testing.T) {
	sup := New(logger.NewLogger(), "sleep")
	done := make(chan struct{}, 1)
	h, err := sup.Spawn(context.Background(), Spec{
		Args:   []string{"5"},
		OnExit: func(error) { done <- struct{}{} },
	})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	if err := sup.Stop(h, 2*time.Second); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	select {
	case <-done:
		t.Fatal("expected OnExit not to fire for a caller-initiated stop")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWaitObservesNaturalExit(t *testing.T) {
	sup := New(logger.NewLogger(), "true")
	h, err := sup.Spawn(context.Background(), Spec{Args: nil})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	if err := h.Wait(); err != nil {
		t.Fatalf("expected clean exit, got %v", err)
	}
}

func TestSelectProfile(t *testing.T) {
	cases := []struct {
		gpu  bool
		goos string
		want Profile
	}{
		{true, "linux", ProfileNVENC},
		{true, "darwin", ProfileVideoToolbox},
		{false, "linux", ProfileQuickSync},
		{false, "darwin", ProfileQuickSync},
	}
	for _, c := range cases {
		if got := SelectProfile(c.gpu, c.goos); got != c.want {
			t.Errorf("SelectProfile(%v, %q) = %v, want %v", c.gpu, c.goos, got, c.want)
		}
	}
}
