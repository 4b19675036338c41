package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/krsna1729/roomrecorder/internal/config"
	"github.com/krsna1729/roomrecorder/internal/dispatcher"
	"github.com/krsna1729/roomrecorder/internal/encoder"
	"github.com/krsna1729/roomrecorder/internal/httputil"
	"github.com/krsna1729/roomrecorder/internal/logger"
	"github.com/krsna1729/roomrecorder/internal/portpool"
	"github.com/krsna1729/roomrecorder/internal/postprocess"
	"github.com/krsna1729/roomrecorder/internal/room"
	"github.com/krsna1729/roomrecorder/internal/segment"
	"github.com/krsna1729/roomrecorder/internal/signalling"
	"github.com/krsna1729/roomrecorder/internal/signalling/httpapi"
	"github.com/krsna1729/roomrecorder/internal/signalling/janus"
	"github.com/krsna1729/roomrecorder/internal/status"
	"github.com/krsna1729/roomrecorder/internal/uploader"
)

// app bundles the process's object graph so HTTP handlers can close over
// one value instead of a long parameter list.
type app struct {
	log        *logger.Logger
	cfg        *config.Config
	manager    *room.Manager
	dispatcher *dispatcher.Dispatcher
	pipeline   *postprocess.Pipeline
	uploadCli  *uploader.Uploader
	statusBldr *status.Builder
	watcher    *segment.Watcher
}

func main() {
	var host, port, configPath string
	flag.StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	flag.StringVar(&port, "port", "9002", "HTTP listen port")
	flag.StringVar(&configPath, "config", "", "Path to a JSON config file (optional)")
	flag.Parse()

	log := logger.NewLogger()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatal("failed to load configuration: %v", err)
	}
	if host != "0.0.0.0" {
		cfg.HTTP.Host = host
	}
	if port != "9002" {
		cfg.HTTP.Port = port
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration: %v", err)
	}

	store, err := segment.New(cfg.Recording.Directory)
	if err != nil {
		log.Fatal("failed to initialize segment store: %v", err)
	}
	log.Info("recordings root: %s", store.Root())

	encoders := encoder.New(log, cfg.Encoder.BinaryPath)

	signallingFactory := func() (signalling.Adapter, error) {
		switch cfg.Signalling.Variant {
		case "janus":
			return janus.New(log, cfg.Signalling.WebSocketURL, cfg.Signalling.KeepaliveInterval), nil
		case "httpapi":
			return httpapi.New(log, cfg.Signalling.BaseURL, cfg.Signalling.HandshakeTimeout), nil
		default:
			return nil, fmt.Errorf("unknown signalling variant %q", cfg.Signalling.Variant)
		}
	}

	probes := room.Probes{
		GPUAvailable: func() bool { return os.Getenv("ROOMRECORDER_GPU") == "1" },
		GOOS:         runtime.GOOS,
	}

	ports := portpool.New(cfg.PortPool.Min, cfg.PortPool.Max)
	manager := room.New(log, store, encoders, signallingFactory, probes, cfg.Encoder.StopGrace, ports)
	disp := dispatcher.New(log)
	pipeline := postprocess.New(log, encoders, cfg.Encoder.ExpectedOutputTimeout)

	watcherCtx, cancelWatcher := context.WithCancel(context.Background())
	defer cancelWatcher()
	watcher, err := segment.NewWatcher(watcherCtx, log, store.Root())
	if err != nil {
		log.Warn("failed to start recordings-directory watcher: %v", err)
	}

	a := &app{
		log:        log,
		cfg:        cfg,
		manager:    manager,
		dispatcher: disp,
		pipeline:   pipeline,
		statusBldr: status.New(manager),
		watcher:    watcher,
	}

	manager.OnRoomProcessing(func(r *room.Room) {
		go a.finishRecording(r)
	})

	configPathForReload := configPath
	var stopWatch func() error
	if configPathForReload != "" {
		stopWatch, err = config.Watch(configPathForReload, func(reloaded *config.Config, watchErr error) {
			if watchErr != nil {
				log.Warn("config watch: %v", watchErr)
				return
			}
			log.Info("config reloaded from %s", configPathForReload)
		})
		if err != nil {
			log.Warn("failed to start config watcher: %v", err)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/record/configure", a.handleConfigure)
	mux.HandleFunc("/record/reset", a.handleReset)
	mux.HandleFunc("/record/start", a.handleStart)
	mux.HandleFunc("/record/stop", a.handleStop)
	mux.HandleFunc("/record/pause", a.handlePause)
	mux.HandleFunc("/record/camera", a.handleSwitchCamera)
	mux.HandleFunc("/record/screen", a.handleScreen)
	mux.HandleFunc("/status", a.handleStatus)
	mux.HandleFunc("/record/orphaned", a.handleOrphaned)

	server := &http.Server{
		Addr:         cfg.HTTP.Host + ":" + cfg.HTTP.Port,
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("roomrecorder listening at http://%s ...", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error: %v", err)
		}
	}()

	<-sigChan
	log.Info("received interrupt signal, initiating graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server shutdown error: %v", err)
	}

	if stopWatch != nil {
		if err := stopWatch(); err != nil {
			log.Warn("config watcher shutdown error: %v", err)
		}
	}

	disp.CloseAll()

	log.Info("shutdown complete")
}

// finishRecording runs the Post-Processor then the Uploader for a room that
// just transitioned to Processing, detached from the HTTP request that
// triggered stop(). The final state transition is routed back through the
// dispatcher so it is serialized against any concurrent command for the
// same room.
func (a *app) finishRecording(r *room.Room) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	result, err := a.pipeline.Run(ctx, r.RecordingFile)
	if err != nil {
		a.log.Error("postprocess failed for room %s: %v", r.ID, err)
		a.dispatcher.Dispatch(ctx, r.ID, func(ctx context.Context) (interface{}, error) {
			a.manager.MarkFailed(r.ID)
			return nil, nil
		})
		return
	}

	up := uploader.New(a.log, r.UploadServer, a.cfg.Upload.RequestTimeout)
	if err := up.Upload(ctx, r.ClassID, r.CloudClassID, result); err != nil {
		a.log.Error("upload failed for room %s: %v", r.ID, err)
		a.dispatcher.Dispatch(ctx, r.ID, func(ctx context.Context) (interface{}, error) {
			a.manager.MarkFailed(r.ID)
			return nil, nil
		})
		return
	}

	a.pipeline.CleanAux(r.RecordingFile)
	a.dispatcher.Dispatch(ctx, r.ID, func(ctx context.Context) (interface{}, error) {
		a.manager.MarkFinished(r.ID)
		return nil, nil
	})
	a.log.Info("room %s finished: %s (%s, %s)", r.ID, result.OutputPath,
		humanize.Bytes(uint64(result.SizeBytes)),
		time.Duration(result.DurationSecs*float64(time.Second)))
}

func writeRoomError(w http.ResponseWriter, err error) {
	var re *room.Error
	if errors.As(err, &re) {
		httputil.WriteFail(w, re.Code, re.Message)
		return
	}
	httputil.WriteFail(w, -1, err.Error())
}

type configureRequest struct {
	Room         string `json:"room"`
	ClassID      string `json:"class_id"`
	CloudClassID string `json:"cloud_class_id"`
	UploadServer string `json:"upload_server"`
}

func (a *app) handleConfigure(w http.ResponseWriter, r *http.Request) {
	var req configureRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteFail(w, -1, "invalid request body")
		return
	}

	_, _, err := a.dispatcher.Dispatch(r.Context(), req.Room, func(ctx context.Context) (interface{}, error) {
		return nil, a.manager.Configure(ctx, req.Room, req.ClassID, req.CloudClassID, req.UploadServer)
	})
	if err != nil {
		writeRoomError(w, err)
		return
	}
	httputil.WriteOK(w, "Room configured.")
}

type roomRequest struct {
	Room string `json:"room"`
}

func (a *app) handleReset(w http.ResponseWriter, r *http.Request) {
	var req roomRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteFail(w, -1, "invalid request body")
		return
	}

	_, _, err := a.dispatcher.Dispatch(r.Context(), req.Room, func(ctx context.Context) (interface{}, error) {
		return nil, a.manager.Reset(req.Room)
	})
	if err != nil {
		writeRoomError(w, err)
		return
	}
	httputil.WriteOK(w, "Room reset.")
}

type startRequest struct {
	Room   string `json:"room"`
	Cam    string `json:"cam"`
	Mic    string `json:"mic"`
	Screen bool   `json:"screen"`
}

func (a *app) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteFail(w, -1, "invalid request body")
		return
	}

	_, _, err := a.dispatcher.Dispatch(r.Context(), req.Room, func(ctx context.Context) (interface{}, error) {
		return nil, a.manager.Start(ctx, req.Room, req.Cam, req.Mic, req.Screen)
	})
	if err != nil {
		writeRoomError(w, err)
		return
	}
	httputil.WriteOK(w, "Recording started.")
}

func (a *app) handleStop(w http.ResponseWriter, r *http.Request) {
	var req roomRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteFail(w, -1, "invalid request body")
		return
	}

	_, _, err := a.dispatcher.Dispatch(r.Context(), req.Room, func(ctx context.Context) (interface{}, error) {
		_, stopErr := a.manager.Stop(req.Room)
		return nil, stopErr
	})
	if err != nil {
		writeRoomError(w, err)
		return
	}
	httputil.WriteOK(w, "Recording stopped; processing started.")
}

func (a *app) handlePause(w http.ResponseWriter, r *http.Request) {
	var req roomRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteFail(w, -1, "invalid request body")
		return
	}

	_, _, err := a.dispatcher.Dispatch(r.Context(), req.Room, func(ctx context.Context) (interface{}, error) {
		return nil, a.manager.Pause(req.Room)
	})
	if err != nil {
		writeRoomError(w, err)
		return
	}
	httputil.WriteOK(w, "Recording paused.")
}

type switchCameraRequest struct {
	Room string `json:"room"`
	Cam  string `json:"cam"`
	Mic  string `json:"mic"`
}

func (a *app) handleSwitchCamera(w http.ResponseWriter, r *http.Request) {
	var req switchCameraRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteFail(w, -1, "invalid request body")
		return
	}

	_, _, err := a.dispatcher.Dispatch(r.Context(), req.Room, func(ctx context.Context) (interface{}, error) {
		return nil, a.manager.SwitchCamera(ctx, req.Room, req.Cam, req.Mic)
	})
	if err != nil {
		writeRoomError(w, err)
		return
	}
	httputil.WriteOK(w, "Camera switched.")
}

type screenRequest struct {
	Room string `json:"room"`
	Cmd  int    `json:"cmd"`
}

func (a *app) handleScreen(w http.ResponseWriter, r *http.Request) {
	var req screenRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteFail(w, -1, "invalid request body")
		return
	}

	_, _, err := a.dispatcher.Dispatch(r.Context(), req.Room, func(ctx context.Context) (interface{}, error) {
		return nil, a.manager.Screen(ctx, req.Room, req.Cmd)
	})
	if err != nil {
		writeRoomError(w, err)
		return
	}
	httputil.WriteOK(w, "Screen capture toggled.")
}

func (a *app) handleStatus(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		rooms := a.statusBldr.Server()
		httputil.WriteData(w, rooms)
		return
	}

	rs, err := a.statusBldr.Room(roomID)
	if err != nil {
		writeRoomError(w, err)
		return
	}
	httputil.WriteData(w, rs)
}

// handleOrphaned reports the names of top-level entries under the recordings
// root that the directory watcher has seen created, modified, deleted or
// renamed since the previous call. Names are not checked against any
// Recording Session. The list drains on each call; nothing is reported twice.
func (a *app) handleOrphaned(w http.ResponseWriter, r *http.Request) {
	if a.watcher == nil {
		httputil.WriteData(w, []string{})
		return
	}
	httputil.WriteData(w, a.watcher.DrainChanged())
}
