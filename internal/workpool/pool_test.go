package workpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoReturnsResult(t *testing.T) {
	p := New(2)
	got, err := Do(context.Background(), p, func(ctx context.Context) (string, error) {
		return "done", nil
	})
	if err != nil || got != "done" {
		t.Errorf("Do() = %q, %v", got, err)
	}
}

func TestDoPropagatesError(t *testing.T) {
	want := errors.New("backend down")
	_, err := Do(context.Background(), New(1), func(ctx context.Context) (int, error) {
		return 0, want
	})
	if !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
}

func TestDoRecoversPanic(t *testing.T) {
	_, err := Do(context.Background(), New(1), func(ctx context.Context) (int, error) {
		panic("boom")
	})
	if err == nil {
		t.Fatal("expected error from panicking job")
	}
}

func TestDoBoundsConcurrency(t *testing.T) {
	p := New(2)
	var running, peak atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Do(context.Background(), p, func(ctx context.Context) (struct{}, error) {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				running.Add(-1)
				return struct{}{}, nil
			})
		}()
	}
	wg.Wait()

	if peak.Load() > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak.Load())
	}
}

func TestDoContextCancelled(t *testing.T) {
	p := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Do(ctx, p, func(ctx context.Context) (int, error) {
		return 1, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestNewClampsSize(t *testing.T) {
	if got := New(0).Size(); got != 1 {
		t.Errorf("Size() = %d, want 1", got)
	}
}
