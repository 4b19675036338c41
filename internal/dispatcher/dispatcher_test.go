package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/krsna1729/roomrecorder/internal/logger"
)

func TestDispatchRunsSequentiallyPerRoom(t *testing.T) {
	d := New(logger.NewLogger())

	var mu sync.Mutex
	var order []int
	var inFlight, maxInFlight int
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			_, _, err := d.Dispatch(context.Background(), "room-1", func(ctx context.Context) (interface{}, error) {
				mu.Lock()
				inFlight++
				if inFlight > maxInFlight {
					maxInFlight = inFlight
				}
				order = append(order, i)
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				inFlight--
				mu.Unlock()
				return i, nil
			})
			if err != nil {
				t.Errorf("dispatch %d failed: %v", i, err)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 10 {
		t.Fatalf("expected 10 completions, got %d", len(order))
	}
	if maxInFlight != 1 {
		t.Fatalf("expected commands for one room to run one at a time, saw %d at once", maxInFlight)
	}
}

func TestDispatchReturnsValueAndError(t *testing.T) {
	d := New(logger.NewLogger())

	_, v, err := d.Dispatch(context.Background(), "room-2", func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Fatalf("expected (ok, nil), got (%v, %v)", v, err)
	}

	wantErr := context.DeadlineExceeded
	_, _, err = d.Dispatch(context.Background(), "room-2", func(ctx context.Context) (interface{}, error) {
		return nil, wantErr
	})
	if err != wantErr {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
}

func TestDispatchRespectsContextCancellation(t *testing.T) {
	d := New(logger.NewLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := d.Dispatch(ctx, "room-3", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestCloseRejectsUnknownRoom(t *testing.T) {
	d := New(logger.NewLogger())
	if err := d.Close("no-such-room"); err == nil {
		t.Fatal("expected error closing unknown room")
	}
}

func TestCloseAllStopsExecutors(t *testing.T) {
	d := New(logger.NewLogger())
	d.Dispatch(context.Background(), "room-4", func(ctx context.Context) (interface{}, error) { return nil, nil })
	d.CloseAll()

	d.mu.Lock()
	n := len(d.executors)
	d.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected no executors after CloseAll, got %d", n)
	}
}
