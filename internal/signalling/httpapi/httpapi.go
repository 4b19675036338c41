// Package httpapi implements the request/response signalling variant: each
// verb is a single HTTP POST, session/handle identifiers travel in the URL
// path, and keepalive is implicit in the HTTP connection pool.
//
// Grounded on original_source/httpclient.py's synchronous HTTPClient, whose
// configure/start/stop/pause/switch-camera/screen methods map 1:1 onto the
// signalling.Adapter capability calls below.
package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"context"

	"github.com/krsna1729/roomrecorder/internal/logger"
	"github.com/krsna1729/roomrecorder/internal/signalling"
)

// Adapter implements signalling.Adapter against a base URL backend.
type Adapter struct {
	log     *logger.Logger
	baseURL string
	client  *http.Client

	sessionID string
	handleID  string
}

// New creates an httpapi Adapter against baseURL.
func New(log *logger.Logger, baseURL string, timeout time.Duration) *Adapter {
	return &Adapter{
		log:     log,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (a *Adapter) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("httpapi: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	u, err := url.JoinPath(a.baseURL, path)
	if err != nil {
		return fmt.Errorf("httpapi: build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, reader)
	if err != nil {
		return fmt.Errorf("httpapi: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", signalling.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return signalling.ErrUnavailable
	}
	if resp.StatusCode == http.StatusForbidden {
		return signalling.ErrAttachRejected
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("httpapi: %s returned status %d", path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// OpenSession creates the backend session, grounded on HTTPClient's
// lazily-created per-room RecordManager entry.
func (a *Adapter) OpenSession(ctx context.Context) error {
	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := a.post(ctx, "/janus", map[string]string{"janus": "create"}, &resp); err != nil {
		return err
	}
	a.sessionID = resp.SessionID
	return nil
}

// AttachPlugin attaches the recording plugin to the open session.
func (a *Adapter) AttachPlugin(ctx context.Context) error {
	var resp struct {
		HandleID string `json:"handle_id"`
	}
	path := fmt.Sprintf("/janus/%s", a.sessionID)
	if err := a.post(ctx, path, map[string]string{"janus": "attach"}, &resp); err != nil {
		return err
	}
	a.handleID = resp.HandleID
	return nil
}

// JoinRoom joins the room using the attached handle.
func (a *Adapter) JoinRoom(ctx context.Context, room, pin, display string) error {
	path := fmt.Sprintf("/janus/%s/%s", a.sessionID, a.handleID)
	body := map[string]string{"janus": "message", "request": "join", "room": room, "pin": pin, "display": display}
	return a.post(ctx, path, body, nil)
}

// RequestForward asks the backend to forward a publisher's RTP streams.
func (a *Adapter) RequestForward(ctx context.Context, req signalling.ForwardRequest) (signalling.ForwardHandle, error) {
	var resp struct {
		AudioStreamID string `json:"audio_stream_id"`
		VideoStreamID string `json:"video_stream_id"`
	}
	path := fmt.Sprintf("/janus/%s/%s", a.sessionID, a.handleID)
	body := map[string]interface{}{
		"janus":      "message",
		"request":    "rtp_forward",
		"room":       req.Room,
		"publisher":  req.Publisher,
		"host":       req.Host,
		"audio_port": req.AudioPort,
		"video_port": req.VideoPort,
		"audio_pt":   req.AudioPT,
		"video_pt":   req.VideoPT,
	}
	if err := a.post(ctx, path, body, &resp); err != nil {
		return signalling.ForwardHandle{}, fmt.Errorf("%w: %v", signalling.ErrForwardRejected, err)
	}
	return signalling.ForwardHandle{AudioStreamID: resp.AudioStreamID, VideoStreamID: resp.VideoStreamID}, nil
}

// StopForward releases a previously requested forward.
func (a *Adapter) StopForward(ctx context.Context, room, publisher string, handle signalling.ForwardHandle) error {
	path := fmt.Sprintf("/janus/%s/%s", a.sessionID, a.handleID)
	body := map[string]interface{}{
		"janus":           "message",
		"request":         "stop_rtp_forward",
		"room":            room,
		"publisher":       publisher,
		"audio_stream_id": handle.AudioStreamID,
		"video_stream_id": handle.VideoStreamID,
	}
	return a.post(ctx, path, body, nil)
}

// LeaveRoom leaves the room.
func (a *Adapter) LeaveRoom(ctx context.Context, room string) error {
	path := fmt.Sprintf("/janus/%s/%s", a.sessionID, a.handleID)
	return a.post(ctx, path, map[string]string{"janus": "message", "request": "leave", "room": room}, nil)
}

// Keepalive is a no-op for the request/response variant: liveness rides on
// the HTTP connection pool, matching spec.md's "implicit keepalive" note.
func (a *Adapter) Keepalive(ctx context.Context) error {
	return nil
}

// Close tears down the session, grounded on HTTPClient's destroy semantics.
func (a *Adapter) Close() error {
	if a.sessionID == "" {
		return nil
	}
	path := fmt.Sprintf("/janus/%s", a.sessionID)
	err := a.post(context.Background(), path, map[string]string{"janus": "destroy"}, nil)
	a.sessionID = ""
	a.handleID = ""
	return err
}
