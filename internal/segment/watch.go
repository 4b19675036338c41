//go:build linux

package segment

import (
	"context"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/krsna1729/roomrecorder/internal/logger"
)

// Watcher records the names of top-level entries (room directories or
// stray files) under the recordings root that are created, modified,
// deleted or renamed. The watch is not recursive: writes to segment files
// inside a room directory are not seen. Names are not checked against any
// in-memory Room Manager state.
type Watcher struct {
	log *logger.Logger
	dir string

	mu      sync.Mutex
	changed map[string]bool
}

// NewWatcher starts watching dir (the recordings root) for file creation,
// modification, deletion and rename events, adapted from the teacher's
// inotify-based directory watcher.
func NewWatcher(ctx context.Context, log *logger.Logger, dir string) (*Watcher, error) {
	w := &Watcher{log: log, dir: dir, changed: make(map[string]bool)}

	fd, err := unix.InotifyInit()
	if err != nil {
		return nil, err
	}
	wd, err := unix.InotifyAddWatch(fd, dir, unix.IN_CREATE|unix.IN_MODIFY|unix.IN_DELETE|unix.IN_MOVED_FROM|unix.IN_MOVED_TO|unix.IN_CLOSE_WRITE)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	go w.run(ctx, fd, wd)
	return w, nil
}

func (w *Watcher) run(ctx context.Context, fd int, wd int) {
	defer unix.Close(fd)
	defer unix.InotifyRmWatch(fd, uint32(wd))

	eventCh := make(chan []byte, 1)
	errCh := make(chan error, 1)

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := unix.Read(fd, buf)
			if err != nil {
				select {
				case errCh <- err:
				case <-ctx.Done():
				}
				return
			}
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case eventCh <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errCh:
			w.log.Error("segment: watcher read failed: %v", err)
			return
		case data := <-eventCh:
			w.consume(data)
		}
	}
}

func (w *Watcher) consume(data []byte) {
	var offset uint32
	n := len(data)
	for offset <= uint32(n)-unix.SizeofInotifyEvent {
		raw := (*unix.InotifyEvent)(unsafe.Pointer(&data[offset]))
		nameLen := raw.Len
		var name string
		if nameLen > 0 {
			nameBytes := data[offset+unix.SizeofInotifyEvent : offset+unix.SizeofInotifyEvent+nameLen]
			for i, b := range nameBytes {
				if b == 0 {
					name = string(nameBytes[:i])
					break
				}
			}
		}
		if name != "" {
			w.mu.Lock()
			w.changed[name] = true
			w.mu.Unlock()
		}
		offset += unix.SizeofInotifyEvent + nameLen
	}
}

// DrainChanged returns and clears the set of top-level entry names (room
// directories) observed to change since the last call.
func (w *Watcher) DrainChanged() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.changed))
	for name := range w.changed {
		out = append(out, name)
	}
	w.changed = make(map[string]bool)
	return out
}
