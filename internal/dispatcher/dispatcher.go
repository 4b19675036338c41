// Package dispatcher serializes commands against a room's state. Each room
// gets its own goroutine and buffered command channel (an actor), so the
// Room Manager's mutations never race even when HTTP requests for the same
// room arrive concurrently.
//
// Grounded on the teacher's internal/stream/relay_manager.go and
// internal/stream/input_relay_manager.go, which serialize mutation of a
// named relay behind a mutex; generalized here to one goroutine per room
// per spec.md §9's resolution of concurrent stop/pause races (arrival order
// wins, the loser observes the state the winner produced).
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/krsna1729/roomrecorder/internal/logger"
)

// command is one unit of work queued against a room's executor.
type command struct {
	requestID string
	run       func(ctx context.Context) (interface{}, error)
	result    chan result
}

type result struct {
	value interface{}
	err   error
}

// executor is the per-room goroutine draining queued commands in arrival
// order.
type executor struct {
	queue chan command
	done  chan struct{}
}

// Dispatcher owns one executor per room, created lazily on first use and
// torn down explicitly via Close.
type Dispatcher struct {
	log *logger.Logger

	mu        sync.Mutex
	executors map[string]*executor
}

// New creates an empty Dispatcher.
func New(log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		log:       log,
		executors: make(map[string]*executor),
	}
}

func (d *Dispatcher) executorFor(room string) *executor {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ex, ok := d.executors[room]; ok {
		return ex
	}
	ex := &executor{
		queue: make(chan command, 32),
		done:  make(chan struct{}),
	}
	d.executors[room] = ex
	go d.run(room, ex)
	return ex
}

func (d *Dispatcher) run(room string, ex *executor) {
	for {
		select {
		case cmd := <-ex.queue:
			v, err := cmd.run(context.Background())
			cmd.result <- result{value: v, err: err}
		case <-ex.done:
			return
		}
	}
}

// Dispatch enqueues fn against room's executor and blocks until it runs,
// returning fn's result. The returned request id is suitable for log
// correlation across the HTTP handler and the eventual Post-Processor
// callback.
func (d *Dispatcher) Dispatch(ctx context.Context, room string, fn func(ctx context.Context) (interface{}, error)) (string, interface{}, error) {
	ex := d.executorFor(room)
	requestID := uuid.NewString()

	cmd := command{
		requestID: requestID,
		run:       fn,
		result:    make(chan result, 1),
	}

	d.log.Debug("dispatcher: room %s request %s enqueued", room, requestID)

	select {
	case ex.queue <- cmd:
	case <-ctx.Done():
		return requestID, nil, ctx.Err()
	}

	select {
	case r := <-cmd.result:
		if r.err != nil {
			d.log.Debug("dispatcher: room %s request %s failed: %v", room, requestID, r.err)
		} else {
			d.log.Debug("dispatcher: room %s request %s completed", room, requestID)
		}
		return requestID, r.value, r.err
	case <-ctx.Done():
		return requestID, nil, ctx.Err()
	}
}

// Close stops the named room's executor, if any. Queued-but-unrun commands
// are abandoned; callers must not have in-flight Dispatch calls against
// room when calling Close.
func (d *Dispatcher) Close(room string) error {
	d.mu.Lock()
	ex, ok := d.executors[room]
	if ok {
		delete(d.executors, room)
	}
	d.mu.Unlock()

	if !ok {
		return fmt.Errorf("dispatcher: room %s has no active executor", room)
	}
	close(ex.done)
	return nil
}

// CloseAll stops every room's executor, used during process shutdown.
func (d *Dispatcher) CloseAll() {
	d.mu.Lock()
	executors := d.executors
	d.executors = make(map[string]*executor)
	d.mu.Unlock()

	for _, ex := range executors {
		close(ex.done)
	}
}
