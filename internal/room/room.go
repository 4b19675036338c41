// Package room implements the Room Manager: the sole mutator of room
// state, the state machine and command table of spec.md §4.5.
//
// Grounded on original_source/httpclient.py's HTTPClient (configure, reset,
// start_recording, stop_recording, pause_recording, switch_camera,
// start_recording_screen/stop_recording_screen) for exact precondition/
// postcondition semantics, generalized from single-process global dicts to
// per-room state objects whose mutation is serialized by the caller (the
// command dispatcher owns the per-room single-writer executor; see
// internal/dispatcher).
package room

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/krsna1729/roomrecorder/internal/encoder"
	"github.com/krsna1729/roomrecorder/internal/logger"
	"github.com/krsna1729/roomrecorder/internal/portpool"
	"github.com/krsna1729/roomrecorder/internal/scene"
	"github.com/krsna1729/roomrecorder/internal/segment"
	"github.com/krsna1729/roomrecorder/internal/session"
	"github.com/krsna1729/roomrecorder/internal/signalling"
)

// State is the Room's lifecycle per spec.md §4.5.
type State int

const (
	StateDefault State = iota
	StateStarting
	StateRecording
	StatePaused
	StateProcessing
	StateUploading
	StateFinished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDefault:
		return "Default"
	case StateStarting:
		return "Starting"
	case StateRecording:
		return "Recording"
	case StatePaused:
		return "Paused"
	case StateProcessing:
		return "Processing"
	case StateUploading:
		return "Uploading"
	case StateFinished:
		return "Finished"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

var roomIDPattern = regexp.MustCompile(`^[0-9]+$`)

// Probes are the external boolean collaborators the Room Manager consults
// at configure time; device enumeration itself is out of scope (spec.md §1).
type Probes struct {
	GPUAvailable func() bool
	GOOS         string
}

// Room is the in-memory state for one logical recording room.
type Room struct {
	ID           string
	ClassID      string
	CloudClassID string
	UploadServer string
	Profile      encoder.Profile

	Sessions     map[string]*session.Session
	ScreenActive bool
	RecordingCam string

	State State

	RecordingFile *segment.RecordingFile
	PausedFile    *segment.PausedFile

	// Scene is the capture layout pinned at configure time (camera inset
	// scale and margin), consumed when a paired segment is merged.
	Scene scene.Layout

	folder  string
	adapter signalling.Adapter
}

// Manager owns the room registry and implements every command in spec.md
// §4.5. Its methods assume the caller (internal/dispatcher) has already
// serialized access to the named room; Manager itself performs no per-room
// locking beyond the registry map, matching the "sole mutator of room
// state" contract without duplicating the dispatcher's executor.
type Manager struct {
	log        *logger.Logger
	store      *segment.Store
	encoders   *encoder.Supervisor
	signalling func() (signalling.Adapter, error)
	probes     Probes
	stopGrace  time.Duration
	ports      *portpool.Pool

	onRoomProcessing func(r *Room)

	rooms map[string]*Room
}

// New creates a Manager. signallingFactory constructs a fresh
// signalling.Adapter per room (so each room's event-stream session, when
// that variant is configured, is independent). ports is the process-wide
// UDP port pool handed to every Recording Session that needs to request
// RTP forwarding.
func New(log *logger.Logger, store *segment.Store, encoders *encoder.Supervisor, signallingFactory func() (signalling.Adapter, error), probes Probes, stopGrace time.Duration, ports *portpool.Pool) *Manager {
	return &Manager{
		log:        log,
		store:      store,
		encoders:   encoders,
		signalling: signallingFactory,
		probes:     probes,
		stopGrace:  stopGrace,
		ports:      ports,
		rooms:      make(map[string]*Room),
	}
}

// OnRoomProcessing registers a callback invoked synchronously from Stop once
// the room has transitioned to Processing, letting the dispatcher hand the
// Recording File to the Post-Processor on a detached goroutine.
func (m *Manager) OnRoomProcessing(fn func(r *Room)) {
	m.onRoomProcessing = fn
}

func validRoomID(room string) bool {
	return roomIDPattern.MatchString(room)
}

// Configure creates a Room, choosing the encoder profile from the GPU
// probe, pinning its capture scene (PiP layout), and optionally opening the
// signalling session. Idempotent for rooms already configured.
func (m *Manager) Configure(ctx context.Context, roomID, classID, cloudClassID, uploadServer string) error {
	if roomID == "" {
		return newError(CodeMissingRoom, "room identifier is required")
	}
	if !validRoomID(roomID) {
		return newError(CodeBadRoom, "room must be all digits")
	}
	if classID == "" {
		return newError(CodeMissingClassID, "class_id is required")
	}
	if !strings.HasPrefix(uploadServer, "http://") && !strings.HasPrefix(uploadServer, "https://") {
		return newError(CodeBadUploadURL, "upload_server must be an http(s) URL")
	}

	if existing, ok := m.rooms[roomID]; ok && existing.State != StateFinished && existing.State != StateFailed {
		return newError(CodeAlreadyConfigured, "room %s is already configured", roomID)
	}

	folder, err := m.store.EnsureRoomFolder(roomID)
	if err != nil {
		return newError(CodeBackendUnreachable, "failed to prepare room folder: %v", err)
	}

	profile := encoder.SelectProfile(m.probes.GPUAvailable(), m.probes.GOOS)

	r := &Room{
		ID:           roomID,
		ClassID:      classID,
		CloudClassID: cloudClassID,
		UploadServer: uploadServer,
		Profile:      profile,
		Sessions:     make(map[string]*session.Session),
		State:        StateStarting,
		Scene:        scene.DefaultLayout(),
		folder:       folder,
	}

	if m.signalling != nil {
		adapter, err := m.openSignallingWithRetry(ctx, roomID)
		if err != nil {
			return newError(CodeBackendUnreachable, "signalling backend unreachable: %v", err)
		}
		r.adapter = adapter
	}

	m.rooms[roomID] = r
	return nil
}

// openSignallingWithRetry retries the signalling handshake with a fixed
// 3-second backoff, intended for boot-time races, and gives up after a fixed
// 30 seconds; neither value is read from config. On success it attaches the
// recording plugin and joins
// the room, returning the adapter ready for RequestForward calls.
func (m *Manager) openSignallingWithRetry(ctx context.Context, roomID string) (signalling.Adapter, error) {
	adapter, err := m.signalling()
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(30 * time.Second)
	for {
		err := adapter.OpenSession(ctx)
		if err == nil {
			if err := adapter.AttachPlugin(ctx); err != nil {
				return nil, err
			}
			if err := adapter.JoinRoom(ctx, roomID, "", ""); err != nil {
				return nil, err
			}
			return adapter, nil
		}
		if time.Now().After(deadline) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
}

// attachForwarding hands a freshly created session the room's signalling
// adapter and port pool (if the room was configured with one) and the
// room's capture scene, so every session merges with the same PiP geometry.
func (m *Manager) attachForwarding(r *Room, sess *session.Session) {
	sess.SetLayout(r.Scene)
	if r.adapter != nil {
		sess.SetForwarding(r.adapter, m.ports)
	}
}

// teardownSignalling leaves the room and closes its signalling session, if
// one was opened.
func (m *Manager) teardownSignalling(r *Room) {
	if r.adapter == nil {
		return
	}
	ctx := context.Background()
	if err := r.adapter.LeaveRoom(ctx, r.ID); err != nil {
		m.log.Error("room: leave-room failed for %s: %v", r.ID, err)
	}
	if err := r.adapter.Close(); err != nil {
		m.log.Error("room: signalling close failed for %s: %v", r.ID, err)
	}
}

// Reset drops all in-memory room state. Does not delete files.
func (m *Manager) Reset(roomID string) error {
	r, ok := m.rooms[roomID]
	if !ok {
		return newError(CodeNotFound, "room %s not found", roomID)
	}
	m.teardownSignalling(r)
	delete(m.rooms, roomID)
	return nil
}

func (m *Manager) get(roomID string) (*Room, error) {
	r, ok := m.rooms[roomID]
	if !ok {
		return nil, newError(CodeNotFound, "room %s not configured", roomID)
	}
	return r, nil
}

// Start begins a new segment for cam (optionally paired with screen). If
// resuming from Paused, links to the existing Recording File.
func (m *Manager) Start(ctx context.Context, roomID, cam, mic string, screen bool) error {
	r, err := m.get(roomID)
	if err != nil {
		return err
	}
	if r.State == StateRecording {
		return newError(CodeAlreadyRecording, "room %s is already recording", roomID)
	}

	resuming := r.State == StatePaused
	if !resuming {
		r.RecordingFile = m.store.NewRecordingFile(roomID, r.folder, time.Now())
	}

	camSession := session.New(m.log, m.encoders, roomID, cam, r.folder, r.Profile)
	camSession.Mic = mic
	m.attachForwarding(r, camSession)
	r.Sessions[cam] = camSession

	var seg *segment.Segment
	if screen {
		screenSession := session.New(m.log, m.encoders, roomID, session.ScreenPublisher, r.folder, r.Profile)
		m.attachForwarding(r, screenSession)
		r.Sessions[session.ScreenPublisher] = screenSession
		seg, err = screenSession.StartPaired(ctx, m.store, camSession, "screen-capture")
		r.ScreenActive = true
	} else {
		seg, err = camSession.StartCamera(ctx, m.store, mic)
	}
	if err != nil {
		return err
	}

	r.RecordingFile.Append(seg)
	r.RecordingCam = cam
	r.State = StateRecording
	return nil
}

// Stop finalizes the tail segment, transitions to Processing, and invokes
// the registered OnRoomProcessing callback so the caller can kick the
// Post-Processor asynchronously.
func (m *Manager) Stop(roomID string) (*segment.RecordingFile, error) {
	r, err := m.get(roomID)
	if err != nil {
		return nil, err
	}
	if r.State != StateRecording && r.State != StatePaused {
		return nil, newError(CodeNotRecording, "room %s is not recording", roomID)
	}

	for _, sess := range r.Sessions {
		_ = sess.Stop(m.stopGrace, r.RecordingFile.Tail())
	}

	r.State = StateProcessing
	file := r.RecordingFile
	if m.onRoomProcessing != nil {
		m.onRoomProcessing(r)
	}
	return file, nil
}

// Pause finalizes the tail segment, transitions to Paused, and retains the
// Recording File chain so a subsequent Start concatenates onto it.
func (m *Manager) Pause(roomID string) error {
	r, err := m.get(roomID)
	if err != nil {
		return err
	}
	if r.State != StateRecording {
		return newError(CodeNotRecording, "room %s is not recording", roomID)
	}

	for _, sess := range r.Sessions {
		_ = sess.Stop(m.stopGrace, r.RecordingFile.Tail())
	}
	r.State = StatePaused
	return nil
}

// SwitchCamera atomically stops the current camera encoder and starts a
// new one; if screen is active, re-spawns the screen encoder too so the
// paired-segment invariant holds.
func (m *Manager) SwitchCamera(ctx context.Context, roomID, cam, mic string) error {
	r, err := m.get(roomID)
	if err != nil {
		return err
	}
	if r.State != StateRecording {
		return newError(CodeNotRecording, "room %s is not recording", roomID)
	}
	if cam == r.RecordingCam {
		return newError(CodeNoChange, "camera %s is already active", cam)
	}

	old := r.Sessions[r.RecordingCam]
	if old != nil {
		_ = old.Stop(m.stopGrace, r.RecordingFile.Tail())
	}

	newCam := session.New(m.log, m.encoders, roomID, cam, r.folder, r.Profile)
	newCam.Mic = mic
	m.attachForwarding(r, newCam)
	r.Sessions[cam] = newCam

	var seg *segment.Segment
	if r.ScreenActive {
		oldScreen := r.Sessions[session.ScreenPublisher]
		if oldScreen != nil {
			_ = oldScreen.Stop(m.stopGrace, r.RecordingFile.Tail())
		}
		newScreen := session.New(m.log, m.encoders, roomID, session.ScreenPublisher, r.folder, r.Profile)
		m.attachForwarding(r, newScreen)
		r.Sessions[session.ScreenPublisher] = newScreen
		seg, err = newScreen.StartPaired(ctx, m.store, newCam, "screen-capture")
	} else {
		seg, err = newCam.StartCamera(ctx, m.store, mic)
	}
	if err != nil {
		return err
	}

	r.RecordingFile.Append(seg)
	r.RecordingCam = cam
	return nil
}

// Screen toggles screen capture on (cmd=1) or off (cmd=2) for the current
// recording.
func (m *Manager) Screen(ctx context.Context, roomID string, cmd int) error {
	r, err := m.get(roomID)
	if err != nil {
		return err
	}
	if r.State != StateRecording {
		return newError(CodeInvalidState, "room %s is not recording", roomID)
	}
	if cmd != 1 && cmd != 2 {
		return newError(CodeInvalidCmd, "screen cmd must be 1 or 2, got %d", cmd)
	}

	camSession := r.Sessions[r.RecordingCam]
	if camSession == nil {
		return newError(CodeInvalidState, "room %s has no active camera session", roomID)
	}

	switch cmd {
	case 1: // promote to paired
		if r.ScreenActive {
			return nil
		}
		_ = camSession.Stop(m.stopGrace, r.RecordingFile.Tail())
		newCam := session.New(m.log, m.encoders, roomID, camSession.Publisher, r.folder, r.Profile)
		newCam.Mic = camSession.Mic
		m.attachForwarding(r, newCam)
		r.Sessions[newCam.Publisher] = newCam
		screenSession := session.New(m.log, m.encoders, roomID, session.ScreenPublisher, r.folder, r.Profile)
		m.attachForwarding(r, screenSession)
		r.Sessions[session.ScreenPublisher] = screenSession
		seg, err := screenSession.StartPaired(ctx, m.store, newCam, "screen-capture")
		if err != nil {
			return err
		}
		r.RecordingFile.Append(seg)
		r.ScreenActive = true
		return nil
	default: // cmd == 2: demote to camera-only
		if !r.ScreenActive {
			return nil
		}
		screenSession := r.Sessions[session.ScreenPublisher]
		if screenSession != nil {
			_ = screenSession.Stop(m.stopGrace, r.RecordingFile.Tail())
			delete(r.Sessions, session.ScreenPublisher)
		}
		_ = camSession.Stop(m.stopGrace, r.RecordingFile.Tail())
		newCam := session.New(m.log, m.encoders, roomID, camSession.Publisher, r.folder, r.Profile)
		newCam.Mic = camSession.Mic
		m.attachForwarding(r, newCam)
		r.Sessions[newCam.Publisher] = newCam
		seg, err := newCam.StartCamera(ctx, m.store, newCam.Mic)
		if err != nil {
			return err
		}
		r.RecordingFile.Append(seg)
		r.ScreenActive = false
		return nil
	}
}

// Status returns a snapshot of the room's state for the status surface.
func (m *Manager) Status(roomID string) (*Room, error) {
	return m.get(roomID)
}

// MarkFinished removes a room from the manager's table after successful
// upload, per the testable property that a finished room is absent from
// the table.
func (m *Manager) MarkFinished(roomID string) {
	if r, ok := m.rooms[roomID]; ok {
		m.teardownSignalling(r)
	}
	delete(m.rooms, roomID)
}

// MarkFailed transitions a room to Failed, preserving files, used by the
// Post-Processor/Uploader failure paths.
func (m *Manager) MarkFailed(roomID string) {
	if r, ok := m.rooms[roomID]; ok {
		r.State = StateFailed
	}
}
