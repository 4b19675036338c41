// Package signalling defines the capability contract the Room Manager and
// Recording Session use to talk to the upstream media server, independent
// of which wire variant (request/response or event-stream) backs it.
package signalling

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable means the backend could not be reached at all.
	ErrUnavailable = errors.New("signalling: backend unavailable")
	// ErrAttachRejected means the plugin attach handshake was refused.
	ErrAttachRejected = errors.New("signalling: attach rejected")
	// ErrForwardRejected means request-forward was refused by the backend.
	ErrForwardRejected = errors.New("signalling: forward rejected")
	// ErrTimeout means a round trip did not complete within its deadline.
	ErrTimeout = errors.New("signalling: timeout")
)

// ForwardRequest describes one RTP-forward request for a publisher.
type ForwardRequest struct {
	Room       string
	Publisher  string
	Host       string
	AudioPort  int
	VideoPort  int
	AudioPT    int
	VideoPT    int
}

// ForwardHandle identifies an active forward so it can later be stopped.
type ForwardHandle struct {
	AudioStreamID string
	VideoStreamID string
}

// Adapter is the capability set both signalling variants implement. The
// Room Manager and Recording Session depend on this interface only, never
// on a concrete variant.
type Adapter interface {
	// OpenSession establishes (or reuses) the logical session with the
	// upstream media server.
	OpenSession(ctx context.Context) error
	// AttachPlugin attaches the recording/forwarding plugin to the open
	// session.
	AttachPlugin(ctx context.Context) error
	// JoinRoom joins the given room, optionally presenting a pin and a
	// display name.
	JoinRoom(ctx context.Context, room, pin, display string) error
	// RequestForward asks the backend to forward a publisher's RTP streams
	// to the given local host/ports.
	RequestForward(ctx context.Context, req ForwardRequest) (ForwardHandle, error)
	// StopForward releases a previously requested forward.
	StopForward(ctx context.Context, room, publisher string, handle ForwardHandle) error
	// LeaveRoom leaves the given room.
	LeaveRoom(ctx context.Context, room string) error
	// Keepalive sends a liveness ping. For the request/response variant
	// this is a no-op (keepalive is implicit in the HTTP connection pool).
	Keepalive(ctx context.Context) error
	// Close tears down any held resources (connections, goroutines).
	Close() error
}
