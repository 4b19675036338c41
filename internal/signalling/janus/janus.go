// Package janus implements the event-stream signalling variant: a
// persistent WebSocket connection, transaction-correlated request/reply,
// and a background keepalive ticker.
//
// Grounded on original_source/janus.py (message/session shapes) and
// original_source/wsclient.py (the connect/attach/sendmessage/keepalive/recv
// loop), translated from asyncio coroutines into a write mutex that orders
// writes from whichever goroutine is calling, and one reader goroutine
// dispatching inbound frames by the "janus" discriminator to per-transaction
// reply channels.
package janus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/krsna1729/roomrecorder/internal/logger"
	"github.com/krsna1729/roomrecorder/internal/signalling"
)

// sessionState is the event-stream signalling session's own lifecycle,
// distinct from the Room/Recording Session state machines.
type sessionState int

const (
	stateInit sessionState = iota
	stateCreated
	stateAttached
	stateJoined
	stateForwarding
	stateLeaving
	stateClosed
)

type pendingReply struct {
	ch chan map[string]interface{}
}

// Adapter implements signalling.Adapter over a persistent Janus-protocol
// WebSocket connection.
type Adapter struct {
	log *logger.Logger
	url string

	conn     *websocket.Conn
	writeMu  sync.Mutex
	sessionID string
	handleID  string

	mu      sync.Mutex
	state   sessionState
	pending map[string]*pendingReply

	keepaliveInterval time.Duration
	stopKeepalive     context.CancelFunc
	forwardCount      int

	onHangup func()
}

// New creates a janus Adapter that will dial wsURL on OpenSession.
func New(log *logger.Logger, wsURL string, keepaliveInterval time.Duration) *Adapter {
	return &Adapter{
		log:               log,
		url:               wsURL,
		pending:           make(map[string]*pendingReply),
		keepaliveInterval: keepaliveInterval,
	}
}

// OnHangup registers a callback invoked when an unexpected hangup closes the
// session, so the Room Manager can fail all owning recording sessions.
func (a *Adapter) OnHangup(fn func()) {
	a.onHangup = fn
}

func newTransaction() string {
	return uuid.NewString()
}

// OpenSession dials the WebSocket and performs the "create" handshake.
func (a *Adapter) OpenSession(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", signalling.ErrUnavailable, err)
	}
	a.conn = conn

	a.mu.Lock()
	a.state = stateInit
	a.mu.Unlock()

	go a.readLoop()

	resp, err := a.request(ctx, map[string]interface{}{"janus": "create"})
	if err != nil {
		return err
	}
	data, _ := resp["data"].(map[string]interface{})
	id, _ := data["id"].(float64)
	a.sessionID = fmt.Sprintf("%.0f", id)

	a.mu.Lock()
	a.state = stateCreated
	a.mu.Unlock()

	kaCtx, cancel := context.WithCancel(context.Background())
	a.stopKeepalive = cancel
	go a.keepaliveLoop(kaCtx)
	return nil
}

// AttachPlugin attaches the videoroom plugin to the session.
func (a *Adapter) AttachPlugin(ctx context.Context) error {
	resp, err := a.request(ctx, map[string]interface{}{
		"janus":      "attach",
		"session_id": a.sessionID,
		"plugin":     "janus.plugin.videoroom",
	})
	if err != nil {
		return fmt.Errorf("%w: %v", signalling.ErrAttachRejected, err)
	}
	data, _ := resp["data"].(map[string]interface{})
	id, _ := data["id"].(float64)
	a.handleID = fmt.Sprintf("%.0f", id)

	a.mu.Lock()
	a.state = stateAttached
	a.mu.Unlock()
	return nil
}

// JoinRoom joins the room as a publisher-side recorder.
func (a *Adapter) JoinRoom(ctx context.Context, room, pin, display string) error {
	_, err := a.request(ctx, map[string]interface{}{
		"janus":      "message",
		"session_id": a.sessionID,
		"handle_id":  a.handleID,
		"body": map[string]interface{}{
			"request": "join",
			"ptype":   "publisher",
			"room":    room,
			"pin":     pin,
			"display": display,
		},
	})
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.state = stateJoined
	a.mu.Unlock()
	return nil
}

// RequestForward asks the backend to forward a publisher's RTP streams.
func (a *Adapter) RequestForward(ctx context.Context, req signalling.ForwardRequest) (signalling.ForwardHandle, error) {
	body := map[string]interface{}{
		"request":      "rtp_forward",
		"room":         req.Room,
		"publisher_id": req.Publisher,
		"host":         req.Host,
		"video_port":   req.VideoPort,
		"video_pt":     req.VideoPT,
	}
	if req.AudioPort > 0 {
		body["audio_port"] = req.AudioPort
		body["audio_pt"] = req.AudioPT
	}
	resp, err := a.request(ctx, map[string]interface{}{
		"janus":      "message",
		"session_id": a.sessionID,
		"handle_id":  a.handleID,
		"body":       body,
	})
	if err != nil {
		return signalling.ForwardHandle{}, fmt.Errorf("%w: %v", signalling.ErrForwardRejected, err)
	}

	plugindata, _ := resp["plugindata"].(map[string]interface{})
	data, _ := plugindata["data"].(map[string]interface{})
	var handle signalling.ForwardHandle
	if v, ok := data["video_stream_id"]; ok {
		handle.VideoStreamID = fmt.Sprintf("%v", v)
	}
	if v, ok := data["audio_stream_id"]; ok {
		handle.AudioStreamID = fmt.Sprintf("%v", v)
	}

	a.mu.Lock()
	a.forwardCount++
	a.state = stateForwarding
	a.mu.Unlock()
	return handle, nil
}

// StopForward releases a previously requested forward.
func (a *Adapter) StopForward(ctx context.Context, room, publisher string, handle signalling.ForwardHandle) error {
	_, err := a.request(ctx, map[string]interface{}{
		"janus":      "message",
		"session_id": a.sessionID,
		"handle_id":  a.handleID,
		"body": map[string]interface{}{
			"request":         "stop_rtp_forward",
			"room":            room,
			"publisher_id":    publisher,
			"video_stream_id": handle.VideoStreamID,
			"audio_stream_id": handle.AudioStreamID,
		},
	})
	if err != nil {
		return err
	}

	a.mu.Lock()
	if a.forwardCount > 0 {
		a.forwardCount--
	}
	if a.forwardCount == 0 {
		a.state = stateJoined
	}
	a.mu.Unlock()
	return nil
}

// LeaveRoom leaves the room.
func (a *Adapter) LeaveRoom(ctx context.Context, room string) error {
	a.mu.Lock()
	a.state = stateLeaving
	a.mu.Unlock()

	_, err := a.request(ctx, map[string]interface{}{
		"janus":      "message",
		"session_id": a.sessionID,
		"handle_id":  a.handleID,
		"body":       map[string]interface{}{"request": "leave", "room": room},
	})
	return err
}

// Keepalive sends an explicit liveness ping outside the periodic keepalive
// ticker (which also calls it on every tick), used by
// callers that want to confirm the channel is alive synchronously.
func (a *Adapter) Keepalive(ctx context.Context) error {
	_, err := a.request(ctx, map[string]interface{}{
		"janus":      "keepalive",
		"session_id": a.sessionID,
		"handle_id":  a.handleID,
	})
	return err
}

// Close tears down the WebSocket connection and background goroutines.
func (a *Adapter) Close() error {
	if a.stopKeepalive != nil {
		a.stopKeepalive()
	}
	a.mu.Lock()
	a.state = stateClosed
	a.mu.Unlock()
	if a.conn == nil {
		return nil
	}
	_, _ = a.request(context.Background(), map[string]interface{}{
		"janus":      "destroy",
		"session_id": a.sessionID,
	})
	return a.conn.Close()
}

func (a *Adapter) keepaliveLoop(ctx context.Context) {
	ticker := time.NewTicker(a.keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Keepalive(context.Background()); err != nil {
				a.log.Warn("janus: keepalive failed: %v", err)
			}
		}
	}
}

// request sends a Janus message with a fresh transaction id and blocks
// until the matching reply (or ack+subsequent event) arrives, or ctx is
// cancelled.
func (a *Adapter) request(ctx context.Context, msg map[string]interface{}) (map[string]interface{}, error) {
	txn := newTransaction()
	msg["transaction"] = txn

	reply := &pendingReply{ch: make(chan map[string]interface{}, 1)}
	a.mu.Lock()
	a.pending[txn] = reply
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.pending, txn)
		a.mu.Unlock()
	}()

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("janus: marshal request: %w", err)
	}

	a.writeMu.Lock()
	err = a.conn.WriteMessage(websocket.TextMessage, data)
	a.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", signalling.ErrUnavailable, err)
	}

	select {
	case <-ctx.Done():
		return nil, signalling.ErrTimeout
	case resp := <-reply.ch:
		if janusType, _ := resp["janus"].(string); janusType == "error" {
			return nil, fmt.Errorf("janus: error response: %v", resp["error"])
		}
		return resp, nil
	}
}

func (a *Adapter) readLoop() {
	for {
		_, data, err := a.conn.ReadMessage()
		if err != nil {
			a.log.Warn("janus: read loop closed: %v", err)
			return
		}
		var frame map[string]interface{}
		if err := json.Unmarshal(data, &frame); err != nil {
			a.log.Warn("janus: malformed frame: %v", err)
			continue
		}

		kind, _ := frame["janus"].(string)
		switch kind {
		case "ack":
			// Acknowledged; the eventual "event"/"success" with the same
			// transaction still carries the real reply, dispatched below.
			continue
		case "hangup":
			a.mu.Lock()
			a.state = stateClosed
			a.mu.Unlock()
			if a.onHangup != nil {
				a.onHangup()
			}
			continue
		case "webrtcup", "media", "slowlink":
			// Informational notifications; no reply correlation needed.
			continue
		}

		txn, _ := frame["transaction"].(string)
		if txn == "" {
			continue
		}
		a.mu.Lock()
		reply, ok := a.pending[txn]
		a.mu.Unlock()
		if ok {
			select {
			case reply.ch <- frame:
			default:
			}
		}
	}
}
