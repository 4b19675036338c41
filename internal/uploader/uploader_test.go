package uploader

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/krsna1729/roomrecorder/internal/logger"
	"github.com/krsna1729/roomrecorder/internal/postprocess"
)

func newFixtureServer(t *testing.T, imageHost, videoHost *string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/cloudClass/classVideo/api/getUploadKey", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.FormValue("classId") != "class-1" {
			t.Errorf("expected classId class-1, got %q", r.FormValue("classId"))
		}
		if r.FormValue("cloudClassId") != "cloud-class-1" {
			t.Errorf("expected cloudClassId cloud-class-1, got %q", r.FormValue("cloudClassId"))
		}
		json.NewEncoder(w).Encode(getUploadKeyResponse{
			Prefix: "https://cdn.example/",
			Image: uploadTarget{
				Host: *imageHost, Dir: "img/", Policy: "pol-i", AccessID: "ak-i", Signature: "sig-i",
			},
			Video: uploadTarget{
				Host: *videoHost, Dir: "vid/", Policy: "pol-v", AccessID: "ak-v", Signature: "sig-v",
			},
		})
	})
	mux.HandleFunc("/cloudClass/classVideo/api/insertClassVideo", func(w http.ResponseWriter, r *http.Request) {
		var payload insertClassVideoRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode insert payload: %v", err)
		}
		if payload.CloudClassID != "cloud-class-1" {
			t.Errorf("expected cloudClassId cloud-class-1, got %q", payload.CloudClassID)
		}
		if payload.FileType != ".mp4" {
			t.Errorf("expected fileType .mp4, got %q", payload.FileType)
		}
		if payload.FilePlayPath == "" || payload.FileCoverPath == "" {
			t.Error("expected filePlayPath and fileCoverPath to be set")
		}
		w.WriteHeader(http.StatusOK)
	})

	return httptest.NewServer(mux)
}

func newObjectHost(t *testing.T, field, policy string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("parse multipart form: %v", err)
		}
		if r.FormValue("policy") != policy {
			t.Errorf("expected policy %q, got %q", policy, r.FormValue("policy"))
		}
		if r.FormValue("key") == "" {
			t.Error("expected key field")
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing file part: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	})
	return httptest.NewServer(mux)
}

func writeFixtureFiles(t *testing.T, dir string) (video, thumb string) {
	t.Helper()
	video = filepath.Join(dir, "output.mp4")
	thumb = filepath.Join(dir, "thumbnail.png")
	if err := os.WriteFile(video, []byte("video-bytes"), 0o644); err != nil {
		t.Fatalf("write video fixture: %v", err)
	}
	if err := os.WriteFile(thumb, []byte("thumb-bytes"), 0o644); err != nil {
		t.Fatalf("write thumb fixture: %v", err)
	}
	return video, thumb
}

func TestUploadFullProtocol(t *testing.T) {
	imageSrv := newObjectHost(t, "key", "pol-i")
	defer imageSrv.Close()
	videoSrv := newObjectHost(t, "key", "pol-v")
	defer videoSrv.Close()

	imageHost, videoHost := imageSrv.URL, videoSrv.URL
	srv := newFixtureServer(t, &imageHost, &videoHost)
	defer srv.Close()

	dir := t.TempDir()
	video, thumb := writeFixtureFiles(t, dir)

	u := New(logger.NewLogger(), srv.URL, 5*time.Second)
	result := &postprocess.Result{
		Room:          "1001",
		OutputPath:    video,
		ThumbnailPath: thumb,
		DurationSecs:  12.5,
		SizeBytes:     1024,
	}

	if err := u.Upload(context.Background(), "class-1", "cloud-class-1", result); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
}

func TestUploadFailsWhenKeyEndpointErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/cloudClass/classVideo/api/getUploadKey", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	video, thumb := writeFixtureFiles(t, dir)

	u := New(logger.NewLogger(), srv.URL, 2*time.Second)
	result := &postprocess.Result{OutputPath: video, ThumbnailPath: thumb}

	if err := u.Upload(context.Background(), "class-1", "cloud-class-1", result); err == nil {
		t.Fatal("expected error when upload key endpoint fails")
	}
}

func TestUploadFailsWhenObjectHostRejects(t *testing.T) {
	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer rejecting.Close()
	videoSrv := newObjectHost(t, "key", "pol-v")
	defer videoSrv.Close()

	rejectingURL, videoURL := rejecting.URL, videoSrv.URL
	srv := newFixtureServer(t, &rejectingURL, &videoURL)
	defer srv.Close()

	dir := t.TempDir()
	video, thumb := writeFixtureFiles(t, dir)

	u := New(logger.NewLogger(), srv.URL, 2*time.Second)
	result := &postprocess.Result{OutputPath: video, ThumbnailPath: thumb}

	if err := u.Upload(context.Background(), "class-1", "cloud-class-1", result); err == nil {
		t.Fatal("expected error when the thumbnail host rejects the upload")
	}
}
