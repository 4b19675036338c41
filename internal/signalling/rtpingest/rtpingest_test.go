package rtpingest

import (
	"context"
	"testing"
	"time"

	"github.com/krsna1729/roomrecorder/internal/logger"
)

func TestWaitReadyTimesOutWithoutPublisher(t *testing.T) {
	r := New(logger.NewLogger(), Config{Port: 18554})
	if err := r.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer r.Stop()

	r.RegisterPath("rtsp-a")

	err := r.WaitReady(context.Background(), "rtsp-a", 200*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout waiting for a path with no publisher")
	}
}

func TestWaitReadyUnknownPath(t *testing.T) {
	r := New(logger.NewLogger(), Config{Port: 18555})
	if err := r.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer r.Stop()

	err := r.WaitReady(context.Background(), "never-registered", 100*time.Millisecond)
	if err == nil {
		t.Fatal("expected error for unknown path")
	}
}

func TestRegisterPathURL(t *testing.T) {
	r := New(logger.NewLogger(), Config{Port: 18556, Interface: "127.0.0.1"})
	url := r.RegisterPath("rtsp-b")
	want := "rtsp://127.0.0.1:18556/rtsp-b"
	if url != want {
		t.Fatalf("expected %q, got %q", want, url)
	}
}
