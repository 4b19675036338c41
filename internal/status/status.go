// Package status builds the JSON status surface exposed over HTTP: one
// room's lifecycle state, its active recording sessions, and each
// encoder child's resource usage.
//
// Grounded on the teacher's internal/status/status.go (ServerStatus,
// EndpointStatus, RelayStatus, FullStatus), fields renamed from
// relay/endpoint to room/session. CPU and memory are rendered as raw numbers
// (for machine consumers); memory is also rendered as a human-readable
// string via go-humanize, as is session uptime. CPU has no human-readable
// form.
package status

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/krsna1729/roomrecorder/internal/process"
	"github.com/krsna1729/roomrecorder/internal/room"
	"github.com/krsna1729/roomrecorder/internal/session"
)

// EncoderStatus is one ffmpeg child's resource footprint.
type EncoderStatus struct {
	PID       int     `json:"pid"`
	CPU       float64 `json:"cpu"`
	Mem       uint64  `json:"mem"`
	MemHuman  string  `json:"mem_human"`
	Alive     bool    `json:"alive"`
}

// SessionStatus is one recording session's state plus its encoder's usage.
type SessionStatus struct {
	Publisher string          `json:"publisher"`
	IsScreen  bool            `json:"is_screen"`
	State     string          `json:"state"`
	StartedAt time.Time       `json:"started_at"`
	Uptime    string          `json:"uptime"`
	Encoder   *EncoderStatus  `json:"encoder,omitempty"`
}

// RoomStatus is the full snapshot for one room.
type RoomStatus struct {
	ID           string          `json:"id"`
	ClassID      string          `json:"class_id"`
	State        string          `json:"state"`
	ScreenActive bool            `json:"screen_active"`
	RecordingCam string          `json:"recording_cam"`
	Sessions     []SessionStatus `json:"sessions"`
}

// ServerStatus is the recorder process's own resource usage, mirroring the
// teacher's top-level server block.
type ServerStatus struct {
	PID      int    `json:"pid"`
	CPU      float64 `json:"cpu"`
	Mem      uint64  `json:"mem"`
	MemHuman string  `json:"mem_human"`
}

// FullStatus is a combined server-plus-rooms document. Builder has no
// method that fills it, and the status endpoint in main returns a
// ServerStatus or a single RoomStatus rather than a FullStatus.
type FullStatus struct {
	Server ServerStatus `json:"server"`
	Rooms  []RoomStatus `json:"rooms"`
}

// Builder assembles status snapshots from the room manager's live state.
type Builder struct {
	manager *room.Manager
}

// New creates a Builder reading from manager.
func New(manager *room.Manager) *Builder {
	return &Builder{manager: manager}
}

// Server returns the recorder process's own usage.
func (b *Builder) Server() ServerStatus {
	usage, err := process.GetSelfUsage()
	if err != nil {
		return ServerStatus{}
	}
	return ServerStatus{
		PID:      usage.PID,
		CPU:      usage.CPU,
		Mem:      usage.Mem,
		MemHuman: humanize.Bytes(usage.Mem),
	}
}

// Room returns one room's snapshot, or an error if the room is unknown.
func (b *Builder) Room(roomID string) (*RoomStatus, error) {
	r, err := b.manager.Status(roomID)
	if err != nil {
		return nil, err
	}
	return b.snapshot(r), nil
}

func (b *Builder) snapshot(r *room.Room) *RoomStatus {
	rs := &RoomStatus{
		ID:           r.ID,
		ClassID:      r.ClassID,
		State:        r.State.String(),
		ScreenActive: r.ScreenActive,
		RecordingCam: r.RecordingCam,
	}
	for _, sess := range r.Sessions {
		rs.Sessions = append(rs.Sessions, b.sessionSnapshot(sess))
	}
	return rs
}

func (b *Builder) sessionSnapshot(sess *session.Session) SessionStatus {
	ss := SessionStatus{
		Publisher: sess.Publisher,
		IsScreen:  sess.IsScreen(),
		State:     sess.State().String(),
		StartedAt: sess.StartedAt,
	}
	if !sess.StartedAt.IsZero() {
		ss.Uptime = humanize.RelTime(sess.StartedAt, time.Now(), "", "")
	}

	if pid := sess.PID(); pid != 0 {
		if usage, err := process.GetProcUsage(pid); err == nil {
			ss.Encoder = &EncoderStatus{
				PID:      usage.PID,
				CPU:      usage.CPU,
				Mem:      usage.Mem,
				MemHuman: humanize.Bytes(usage.Mem),
				Alive:    sess.Alive(),
			}
		}
	}
	return ss
}
