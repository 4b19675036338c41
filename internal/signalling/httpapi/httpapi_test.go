package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/krsna1729/roomrecorder/internal/logger"
	"github.com/krsna1729/roomrecorder/internal/signalling"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/janus", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"session_id": "sess-1"})
	})
	mux.HandleFunc("/janus/sess-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"handle_id": "handle-1"})
	})
	mux.HandleFunc("/janus/sess-1/handle-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"audio_stream_id": "a1",
			"video_stream_id": "v1",
		})
	})
	return httptest.NewServer(mux)
}

func TestFullHandshakeAndForward(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	a := New(logger.NewLogger(), srv.URL, 5*time.Second)
	ctx := context.Background()

	if err := a.OpenSession(ctx); err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	if err := a.AttachPlugin(ctx); err != nil {
		t.Fatalf("AttachPlugin failed: %v", err)
	}
	if err := a.JoinRoom(ctx, "1001", "", "recorder"); err != nil {
		t.Fatalf("JoinRoom failed: %v", err)
	}

	handle, err := a.RequestForward(ctx, signalling.ForwardRequest{Room: "1001", Publisher: "rtsp://a"})
	if err != nil {
		t.Fatalf("RequestForward failed: %v", err)
	}
	if handle.VideoStreamID != "v1" {
		t.Fatalf("expected video_stream_id v1, got %s", handle.VideoStreamID)
	}

	if err := a.StopForward(ctx, "1001", "rtsp://a", handle); err != nil {
		t.Fatalf("StopForward failed: %v", err)
	}
	if err := a.LeaveRoom(ctx, "1001"); err != nil {
		t.Fatalf("LeaveRoom failed: %v", err)
	}
	if err := a.Keepalive(ctx); err != nil {
		t.Fatalf("Keepalive should be a no-op, got: %v", err)
	}
}

func TestUnreachableBackend(t *testing.T) {
	a := New(logger.NewLogger(), "http://127.0.0.1:1", 200*time.Millisecond)
	err := a.OpenSession(context.Background())
	if err == nil {
		t.Fatal("expected error opening session against unreachable backend")
	}
}

func TestForbiddenAttachRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/janus", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"session_id": "sess-1"})
	})
	mux.HandleFunc("/janus/sess-1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := New(logger.NewLogger(), srv.URL, 5*time.Second)
	ctx := context.Background()
	if err := a.OpenSession(ctx); err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	if err := a.AttachPlugin(ctx); err == nil {
		t.Fatal("expected AttachPlugin to fail on 403")
	}
}
