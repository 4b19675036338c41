//go:build !linux

package segment

import (
	"context"

	"github.com/krsna1729/roomrecorder/internal/logger"
)

// Watcher is a no-op on non-Linux platforms, matching the teacher's
// inotify-only directory watcher which has no Windows/Darwin branch either.
type Watcher struct{}

// NewWatcher returns a no-op Watcher outside Linux.
func NewWatcher(ctx context.Context, log *logger.Logger, dir string) (*Watcher, error) {
	log.Debug("segment: directory watcher not supported on this platform")
	return &Watcher{}, nil
}

// DrainChanged always returns nil outside Linux.
func (w *Watcher) DrainChanged() []string {
	return nil
}
