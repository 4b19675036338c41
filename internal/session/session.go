// Package session implements the Recording Session: per-publisher recording
// state owning one or two encoder child processes and one segment chain.
//
// Grounded on original_source/httpclient.py's __record_cam/
// __record_screen_cam/__stop_recording_session, restated through
// internal/encoder.Supervisor instead of raw subprocess.Popen. Paired-
// segment merge scheduling follows original_source/recorder.py's
// RecordSegment.merge() @async_func pattern, translated into a detached
// goroutine signalling completion via the segment's merge-finished flag
// (no channel-based callback into the segment, per the cyclic-reference
// redesign note).
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/krsna1729/roomrecorder/internal/encoder"
	"github.com/krsna1729/roomrecorder/internal/logger"
	"github.com/krsna1729/roomrecorder/internal/portpool"
	"github.com/krsna1729/roomrecorder/internal/scene"
	"github.com/krsna1729/roomrecorder/internal/segment"
	"github.com/krsna1729/roomrecorder/internal/signalling"
	"github.com/krsna1729/roomrecorder/internal/signalling/rtpingest"
)

// ScreenPublisher is the reserved symbolic publisher identifier for screen
// capture.
const ScreenPublisher = "screen"

// State is the Recording Session's own lifecycle.
type State int

const (
	Default State = iota
	Started
	Forwarding
	Recording
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Default:
		return "Default"
	case Started:
		return "Started"
	case Forwarding:
		return "Forwarding"
	case Recording:
		return "Recording"
	case Stopped:
		return "Stopped"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Session is a Recording Session keyed by (room, publisher).
type Session struct {
	Room      string
	Publisher string
	Mic       string
	StartedAt time.Time
	Folder    string

	state State

	primary  *encoder.Handle
	paired   *encoder.Handle // set when this session is the screen leg of a paired capture
	mergedOf *segment.Segment

	sup     *encoder.Supervisor
	log     *logger.Logger
	profile encoder.Profile
	layout  scene.Layout

	adapter       signalling.Adapter
	ports         *portpool.Pool
	forwarding    bool
	forwardHandle signalling.ForwardHandle
	audioPort     int
	videoPort     int
}

// SetForwarding attaches the upstream signalling adapter and UDP port pool
// this session should use to request RTP forwarding before spawning its
// encoder. Call before Start{Camera,Paired}. Leaving the adapter nil keeps
// the session a direct pull capture, matching deployments where the
// publisher URL is already reachable without a forward step.
func (s *Session) SetForwarding(adapter signalling.Adapter, ports *portpool.Pool) {
	s.adapter = adapter
	s.ports = ports
}

// requestForward asks the signalling backend to forward this publisher's
// RTP into a pair of locally acquired ports, transitioning through
// Forwarding. A no-op when no adapter is attached.
func (s *Session) requestForward(ctx context.Context) error {
	if s.adapter == nil {
		return nil
	}
	audioPort, videoPort, err := s.ports.AcquirePair()
	if err != nil {
		return fmt.Errorf("session: acquire forward ports: %w", err)
	}
	s.state = Forwarding
	handle, err := s.adapter.RequestForward(ctx, signalling.ForwardRequest{
		Room:      s.Room,
		Publisher: s.Publisher,
		Host:      rtpingest.DefaultInterface,
		AudioPort: audioPort,
		VideoPort: videoPort,
		AudioPT:   111,
		VideoPT:   100,
	})
	if err != nil {
		s.ports.Release(audioPort)
		s.ports.Release(videoPort)
		return err
	}
	s.forwardHandle = handle
	s.audioPort = audioPort
	s.videoPort = videoPort
	s.forwarding = true
	return nil
}

// releaseForward stops a previously requested forward and returns its ports
// to the pool. A no-op if this session never forwarded.
func (s *Session) releaseForward(ctx context.Context) {
	if !s.forwarding {
		return
	}
	if err := s.adapter.StopForward(ctx, s.Room, s.Publisher, s.forwardHandle); err != nil {
		s.log.Error("session: stop-forward failed for %s/%s: %v", s.Room, s.Publisher, err)
	}
	s.ports.Release(s.audioPort)
	s.ports.Release(s.videoPort)
	s.forwarding = false
}

// New constructs a Session in state Default, with the room's capture scene
// defaulted so a session built without an explicit SetLayout call (as in
// tests) still merges with sane PiP geometry.
func New(log *logger.Logger, sup *encoder.Supervisor, room, publisher, folder string, profile encoder.Profile) *Session {
	return &Session{
		Room:      room,
		Publisher: publisher,
		Folder:    folder,
		sup:       sup,
		log:       log,
		profile:   profile,
		layout:    scene.DefaultLayout(),
		state:     Default,
	}
}

// SetLayout attaches the room's capture scene, used to position the camera
// inset when this session's paired segment is later merged.
func (s *Session) SetLayout(layout scene.Layout) {
	s.layout = layout
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// IsScreen reports whether this is the screen publisher.
func (s *Session) IsScreen() bool {
	return s.Publisher == ScreenPublisher
}

// StartCamera spawns a single-encoder camera capture and appends a new
// segment to store.
func (s *Session) StartCamera(ctx context.Context, store *segment.Store, mic string) (*segment.Segment, error) {
	s.Mic = mic
	if err := s.requestForward(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", signalling.ErrForwardRejected, err)
	}

	begin := time.Now()
	seg := store.NewSegment(s.Room, s.Publisher, begin, s.Folder, "")
	outputPath := fmt.Sprintf("%s/%s", s.Folder, seg.ScreenName)

	h, err := s.sup.Spawn(ctx, encoder.Spec{
		Args:   encoder.CaptureArgs(s.Publisher, mic, outputPath),
		OnExit: func(error) { s.MarkFailed() },
	})
	if err != nil {
		s.releaseForward(ctx)
		return nil, fmt.Errorf("%w: %v", encoder.ErrEncoderUnavailable, err)
	}

	s.primary = h
	s.StartedAt = begin
	s.state = Recording
	return seg, nil
}

// StartPaired spawns two encoders (screen and camera) sharing a begin
// timestamp and returns one paired segment. cam is the session representing
// the camera leg; s is the screen leg.
func (s *Session) StartPaired(ctx context.Context, store *segment.Store, cam *Session, monitorDeviceURI string) (*segment.Segment, error) {
	if err := cam.requestForward(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", signalling.ErrForwardRejected, err)
	}
	if err := s.requestForward(ctx); err != nil {
		cam.releaseForward(ctx)
		return nil, fmt.Errorf("%w: %v", signalling.ErrForwardRejected, err)
	}

	begin := time.Now()
	seg := store.NewSegment(s.Room, s.Publisher, begin, s.Folder, cam.Publisher)

	camOutput := fmt.Sprintf("%s/%s", s.Folder, seg.CamName)
	camHandle, err := s.sup.Spawn(ctx, encoder.Spec{
		Args:   encoder.CaptureArgs(cam.Publisher, cam.Mic, camOutput),
		OnExit: func(error) { cam.MarkFailed() },
	})
	if err != nil {
		cam.releaseForward(ctx)
		s.releaseForward(ctx)
		return nil, fmt.Errorf("%w: %v", encoder.ErrEncoderUnavailable, err)
	}

	screenOutput := fmt.Sprintf("%s/%s", s.Folder, seg.ScreenName)
	screenHandle, err := s.sup.Spawn(ctx, encoder.Spec{
		Args:   encoder.ScreenCaptureArgs(monitorDeviceURI, s.profile, screenOutput),
		OnExit: func(error) { s.MarkFailed() },
	})
	if err != nil {
		_ = s.sup.Stop(camHandle, 2*time.Second)
		cam.releaseForward(ctx)
		s.releaseForward(ctx)
		return nil, fmt.Errorf("%w: %v", encoder.ErrEncoderUnavailable, err)
	}

	s.primary = screenHandle
	s.paired = screenHandle
	cam.primary = camHandle
	s.StartedAt = begin
	cam.StartedAt = begin
	s.state = Recording
	cam.state = Recording
	s.mergedOf = seg
	cam.mergedOf = seg
	return seg, nil
}

// Stop signals the encoder(s), finalizes the tail segment, and if the
// segment was a paired capture, kicks off a detached background merge. The
// caller passes the segment this session's Stop should finalize (the tail
// of the room's Recording File). For a paired segment, Stop is called once
// per leg against the same segment; whichever call wins the finalize race
// schedules the merge, and the other observes ErrAlreadyFinalized, which is
// not itself an error condition here. Either way the session always
// transitions to Stopped once its encoder has been signalled.
func (s *Session) Stop(grace time.Duration, seg *segment.Segment) error {
	if s.primary != nil {
		_ = s.sup.Stop(s.primary, grace)
	}
	s.releaseForward(context.Background())

	var err error
	if seg != nil {
		if ferr := seg.Finalize(time.Now()); ferr != nil {
			if !errors.Is(ferr, segment.ErrAlreadyFinalized) {
				err = ferr
			}
		} else if seg.IsPaired() {
			go s.runMerge(seg)
		}
	}

	s.state = Stopped
	return err
}

// runMerge performs the PiP composite in a detached goroutine, matching
// RecordSegment.merge()'s threading pattern. It signals completion through
// the segment's own merge-finished flag rather than a callback, so neither
// the segment nor the Recording File holds a back-pointer to the session or
// room.
func (s *Session) runMerge(seg *segment.Segment) {
	screenPath := fmt.Sprintf("%s/%s", seg.Folder, seg.ScreenName)
	camPath := fmt.Sprintf("%s/%s", seg.Folder, seg.CamName)
	tmpOutput := fmt.Sprintf("%s/merge_%d.ts", seg.Folder, seg.Begin.Unix())

	args := encoder.MergeArgs(screenPath, camPath, s.profile, s.layout, tmpOutput)
	h, err := s.sup.Spawn(context.Background(), encoder.Spec{Args: args})
	if err != nil {
		s.log.Error("session: merge spawn failed for %s/%s: %v", s.Room, s.Publisher, err)
		seg.SetMergeFinished()
		return
	}
	if err := h.Wait(); err != nil {
		s.log.Error("session: merge encoder failed for %s/%s: %v", s.Room, s.Publisher, err)
		seg.SetMergeFinished()
		return
	}
	if err := os.Rename(tmpOutput, screenPath); err != nil {
		s.log.Error("session: merge output rename failed for %s/%s: %v", s.Room, s.Publisher, err)
	}
	seg.SetMergeFinished()
}

// MarkFailed transitions the session to Failed, used by the encoder
// reaper's crash detection.
func (s *Session) MarkFailed() {
	s.state = Failed
}

// Alive reports whether the session's primary (or paired) encoder is
// currently running.
func (s *Session) Alive() bool {
	if s.primary != nil && s.primary.Alive() {
		return true
	}
	return false
}

// PID returns the primary encoder child's process id, or 0 if none has
// been spawned yet.
func (s *Session) PID() int {
	if s.primary == nil {
		return 0
	}
	return s.primary.PID()
}
