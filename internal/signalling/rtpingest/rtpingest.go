// Package rtpingest is a local RTSP/RTP receiver: register a stream path,
// then wait for a publisher to start recording into it. Its Receiver is
// exercised by this package's own tests; neither the httpapi signalling
// variant nor the session package calls it (session only uses
// DefaultInterface as the host for forwarded media). Adapted from the
// teacher's RTSPServerManager (its own local RTSP relay endpoint), trimmed
// to that readiness-probe role.
package rtpingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"

	"github.com/krsna1729/roomrecorder/internal/logger"
)

const (
	DefaultPort      = 8554
	DefaultInterface = "127.0.0.1"
)

// Config configures the loopback RTSP listener.
type Config struct {
	Port      int
	Interface string
}

type streamInfo struct {
	stream    *gortsplib.ServerStream
	readyOnce sync.Once
	ready     chan struct{}
}

// Receiver is a minimal RTSP server used purely as a readiness probe: it
// accepts ANNOUNCE/RECORD from the encoder's RTP-forward target and reports
// when a named publisher path has started receiving packets.
type Receiver struct {
	server *gortsplib.Server
	cfg    Config
	log    *logger.Logger

	mu      sync.Mutex
	streams map[string]*streamInfo

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Receiver. Call Start to begin listening.
func New(log *logger.Logger, cfg Config) *Receiver {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Interface == "" {
		cfg.Interface = DefaultInterface
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Receiver{
		cfg:     cfg,
		log:     log,
		streams: make(map[string]*streamInfo),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// URL returns the base RTSP URL this receiver listens on.
func (r *Receiver) URL() string {
	return fmt.Sprintf("rtsp://%s:%d", r.cfg.Interface, r.cfg.Port)
}

// Start begins listening for RTSP ANNOUNCE/RECORD.
func (r *Receiver) Start() error {
	r.server = &gortsplib.Server{
		Handler:      r,
		RTSPAddress:  fmt.Sprintf("%s:%d", r.cfg.Interface, r.cfg.Port),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	ready := make(chan error, 1)
	go func() { ready <- r.server.Start() }()

	select {
	case err := <-ready:
		if err != nil {
			return fmt.Errorf("rtpingest: start failed: %w", err)
		}
	case <-time.After(2 * time.Second):
		r.log.Debug("rtpingest: startup taking longer than expected, continuing")
	}
	return nil
}

// Stop shuts the receiver down.
func (r *Receiver) Stop() {
	r.cancel()
	if r.server != nil {
		r.server.Close()
	}
}

// RegisterPath reserves a stream path that a publisher will later announce
// into, returning the full RTSP URL the encoder should target.
func (r *Receiver) RegisterPath(name string) string {
	r.mu.Lock()
	if _, exists := r.streams[name]; !exists {
		r.streams[name] = &streamInfo{ready: make(chan struct{})}
	}
	r.mu.Unlock()
	return fmt.Sprintf("%s/%s", r.URL(), name)
}

// WaitReady blocks until the named path starts receiving a publish, or
// returns an error on timeout.
func (r *Receiver) WaitReady(ctx context.Context, name string, timeout time.Duration) error {
	r.mu.Lock()
	info, ok := r.streams[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("rtpingest: unknown path %q", name)
	}

	deadline := time.After(timeout)
	select {
	case <-info.ready:
		return nil
	case <-deadline:
		return fmt.Errorf("rtpingest: timeout waiting for %q to become ready", name)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RemovePath tears down a registered stream path.
func (r *Receiver) RemovePath(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.streams[name]; ok {
		if info.stream != nil {
			info.stream.Close()
		}
		delete(r.streams, name)
	}
}

func pathOf(p string) string {
	return strings.TrimPrefix(p, "/")
}

// OnDescribe implements gortsplib.ServerHandlerOnDescribe.
func (r *Receiver) OnDescribe(ctx *gortsplib.ServerHandlerOnDescribeCtx) (*base.Response, *gortsplib.ServerStream, error) {
	name := pathOf(ctx.Path)
	r.mu.Lock()
	info, ok := r.streams[name]
	r.mu.Unlock()
	if !ok || info.stream == nil {
		return &base.Response{StatusCode: base.StatusNotFound}, nil, nil
	}
	return &base.Response{StatusCode: base.StatusOK}, info.stream, nil
}

// OnAnnounce implements gortsplib.ServerHandlerOnAnnounce.
func (r *Receiver) OnAnnounce(ctx *gortsplib.ServerHandlerOnAnnounceCtx) (*base.Response, error) {
	name := pathOf(ctx.Path)

	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.streams[name]
	if !ok {
		info = &streamInfo{ready: make(chan struct{})}
		r.streams[name] = info
	}
	if info.stream != nil {
		info.stream.Close()
	}

	stream := &gortsplib.ServerStream{Server: r.server, Desc: ctx.Description}
	if err := stream.Initialize(); err != nil {
		r.log.Error("rtpingest: initialize stream %s: %v", name, err)
		return &base.Response{StatusCode: base.StatusInternalServerError}, err
	}
	info.stream = stream
	return &base.Response{StatusCode: base.StatusOK}, nil
}

// OnSetup implements gortsplib.ServerHandlerOnSetup.
func (r *Receiver) OnSetup(ctx *gortsplib.ServerHandlerOnSetupCtx) (*base.Response, *gortsplib.ServerStream, error) {
	if ctx.Session.State() == gortsplib.ServerSessionStatePreRecord {
		return &base.Response{StatusCode: base.StatusOK}, nil, nil
	}
	name := pathOf(ctx.Path)
	r.mu.Lock()
	info, ok := r.streams[name]
	r.mu.Unlock()
	if !ok || info.stream == nil {
		return &base.Response{StatusCode: base.StatusNotFound}, nil, nil
	}
	return &base.Response{StatusCode: base.StatusOK}, info.stream, nil
}

// OnPlay implements gortsplib.ServerHandlerOnPlay.
func (r *Receiver) OnPlay(ctx *gortsplib.ServerHandlerOnPlayCtx) (*base.Response, error) {
	return &base.Response{StatusCode: base.StatusOK}, nil
}

// OnRecord implements gortsplib.ServerHandlerOnRecord: wires the incoming
// RTP packet callback and flips the path's ready signal once, unblocking
// any WaitReady caller.
func (r *Receiver) OnRecord(ctx *gortsplib.ServerHandlerOnRecordCtx) (*base.Response, error) {
	name := pathOf(ctx.Path)

	r.mu.Lock()
	info, ok := r.streams[name]
	r.mu.Unlock()

	if ok && info.stream != nil {
		ctx.Session.OnPacketRTPAny(func(media *description.Media, _ format.Format, pkt *rtp.Packet) {
			info.stream.WritePacketRTP(media, pkt) //nolint:errcheck
		})
		info.readyOnce.Do(func() { close(info.ready) })
	}

	return &base.Response{StatusCode: base.StatusOK}, nil
}
