package session

import (
	"context"
	"testing"
	"time"

	"github.com/krsna1729/roomrecorder/internal/encoder"
	"github.com/krsna1729/roomrecorder/internal/logger"
	"github.com/krsna1729/roomrecorder/internal/portpool"
	"github.com/krsna1729/roomrecorder/internal/segment"
	"github.com/krsna1729/roomrecorder/internal/signalling"
)

// fakeAdapter is a minimal signalling.Adapter double that records forward
// requests instead of talking to any real backend.
type fakeAdapter struct {
	forwarded int
	stopped   int
}

func (f *fakeAdapter) OpenSession(ctx context.Context) error  { return nil }
func (f *fakeAdapter) AttachPlugin(ctx context.Context) error { return nil }
func (f *fakeAdapter) JoinRoom(ctx context.Context, room, pin, display string) error {
	return nil
}
func (f *fakeAdapter) RequestForward(ctx context.Context, req signalling.ForwardRequest) (signalling.ForwardHandle, error) {
	f.forwarded++
	return signalling.ForwardHandle{AudioStreamID: "a1", VideoStreamID: "v1"}, nil
}
func (f *fakeAdapter) StopForward(ctx context.Context, room, publisher string, handle signalling.ForwardHandle) error {
	f.stopped++
	return nil
}
func (f *fakeAdapter) LeaveRoom(ctx context.Context, room string) error { return nil }
func (f *fakeAdapter) Keepalive(ctx context.Context) error              { return nil }
func (f *fakeAdapter) Close() error                                     { return nil }

func TestStartCameraTransitionsToRecording(t *testing.T) {
	store, err := segment.New(t.TempDir())
	if err != nil {
		t.Fatalf("segment.New failed: %v", err)
	}
	folder, _ := store.EnsureRoomFolder("1001")

	sup := encoder.New(logger.NewLogger(), "true")
	s := New(logger.NewLogger(), sup, "1001", "rtsp://cam-a", folder, encoder.ProfileQuickSync)

	seg, err := s.StartCamera(context.Background(), store, "")
	if err != nil {
		t.Fatalf("StartCamera failed: %v", err)
	}
	if s.State() != Recording {
		t.Fatalf("expected Recording state, got %v", s.State())
	}
	if seg.IsPaired() {
		t.Fatal("camera-only segment should not be paired")
	}

	if err := s.Stop(500*time.Millisecond, seg); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if s.State() != Stopped {
		t.Fatalf("expected Stopped state, got %v", s.State())
	}
}

func TestStartCameraUnavailableEncoder(t *testing.T) {
	store, _ := segment.New(t.TempDir())
	folder, _ := store.EnsureRoomFolder("1001")

	sup := encoder.New(logger.NewLogger(), "/no/such/binary")
	s := New(logger.NewLogger(), sup, "1001", "rtsp://cam-a", folder, encoder.ProfileQuickSync)

	if _, err := s.StartCamera(context.Background(), store, ""); err == nil {
		t.Fatal("expected error when encoder binary is unavailable")
	}
	if s.State() != Default {
		t.Fatalf("expected state to remain Default on spawn failure, got %v", s.State())
	}
}

func TestStopPairedSegmentBothSessionsReachStopped(t *testing.T) {
	store, err := segment.New(t.TempDir())
	if err != nil {
		t.Fatalf("segment.New failed: %v", err)
	}
	folder, _ := store.EnsureRoomFolder("1001")

	sup := encoder.New(logger.NewLogger(), "true")
	camSession := New(logger.NewLogger(), sup, "1001", "rtsp://cam-a", folder, encoder.ProfileQuickSync)
	screenSession := New(logger.NewLogger(), sup, "1001", ScreenPublisher, folder, encoder.ProfileQuickSync)

	seg, err := screenSession.StartPaired(context.Background(), store, camSession, "screen-capture")
	if err != nil {
		t.Fatalf("StartPaired failed: %v", err)
	}

	if err := camSession.Stop(500*time.Millisecond, seg); err != nil {
		t.Fatalf("camSession.Stop failed: %v", err)
	}
	if err := screenSession.Stop(500*time.Millisecond, seg); err != nil {
		t.Fatalf("screenSession.Stop failed: %v", err)
	}

	if camSession.State() != Stopped {
		t.Fatalf("expected camSession Stopped, got %v", camSession.State())
	}
	if screenSession.State() != Stopped {
		t.Fatalf("expected screenSession Stopped, got %v", screenSession.State())
	}
}

func TestStartCameraCrashMarksSessionFailed(t *testing.T) {
	store, err := segment.New(t.TempDir())
	if err != nil {
		t.Fatalf("segment.New failed: %v", err)
	}
	folder, _ := store.EnsureRoomFolder("1001")

	// "false" exits immediately on its own, with nonzero status, before
	// anyone ever calls Stop — the crash case, not a caller-initiated stop.
	sup := encoder.New(logger.NewLogger(), "false")
	s := New(logger.NewLogger(), sup, "1001", "rtsp://cam-a", folder, encoder.ProfileQuickSync)

	if _, err := s.StartCamera(context.Background(), store, ""); err != nil {
		t.Fatalf("StartCamera failed: %v", err)
	}
	if s.State() != Recording {
		t.Fatalf("expected Recording immediately after spawn, got %v", s.State())
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == Failed {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if s.State() != Failed {
		t.Fatalf("expected session to reach Failed after its encoder exited on its own, got %v", s.State())
	}
}

func TestStartCameraRequestsAndReleasesForward(t *testing.T) {
	store, err := segment.New(t.TempDir())
	if err != nil {
		t.Fatalf("segment.New failed: %v", err)
	}
	folder, _ := store.EnsureRoomFolder("1001")

	sup := encoder.New(logger.NewLogger(), "true")
	s := New(logger.NewLogger(), sup, "1001", "rtsp://cam-a", folder, encoder.ProfileQuickSync)
	adapter := &fakeAdapter{}
	pool := portpool.New(20001, 20010)
	s.SetForwarding(adapter, pool)

	seg, err := s.StartCamera(context.Background(), store, "")
	if err != nil {
		t.Fatalf("StartCamera failed: %v", err)
	}
	if adapter.forwarded != 1 {
		t.Fatalf("expected 1 forward request, got %d", adapter.forwarded)
	}
	if inUse := pool.InUse(); inUse != 2 {
		t.Fatalf("expected 2 ports in use while forwarding, got %d", inUse)
	}

	if err := s.Stop(500*time.Millisecond, seg); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if adapter.stopped != 1 {
		t.Fatalf("expected 1 stop-forward call, got %d", adapter.stopped)
	}
	if inUse := pool.InUse(); inUse != 0 {
		t.Fatalf("expected ports released after stop, got %d in use", inUse)
	}
}

func TestStateStringValues(t *testing.T) {
	cases := map[State]string{
		Default:    "Default",
		Started:    "Started",
		Forwarding: "Forwarding",
		Recording:  "Recording",
		Stopped:    "Stopped",
		Failed:     "Failed",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
