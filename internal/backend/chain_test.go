package backend

import (
	"context"
	"errors"
	"testing"
)

type fake struct {
	name   string
	err    error
	health error
	calls  int
	closed bool
}

func (f *fake) Health(context.Context) error { return f.health }
func (f *fake) Close() error                 { f.closed = true; return nil }

func (f *fake) speak(string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.name, nil
}

func call(ctx context.Context, c *Chain[*fake]) (string, error) {
	return Call(ctx, c, func(f *fake) (string, error) { return f.speak("hello") })
}

func TestCallFallsThrough(t *testing.T) {
	down := errors.New("503")
	a, b := &fake{name: "a", err: down}, &fake{name: "b"}
	c := NewChain("tts", nil, []*fake{a, b})

	got, err := call(context.Background(), c)
	if err != nil || got != "b" {
		t.Fatalf("Call() = %q, %v; want b", got, err)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Errorf("calls = %d, %d", a.calls, b.calls)
	}
}

func TestCallAllFail(t *testing.T) {
	first, last := errors.New("first"), errors.New("last")
	c := NewChain("inference", nil, []*fake{{err: first}, {err: last}})

	_, err := call(context.Background(), c)
	var chainErr *ChainError
	if !errors.As(err, &chainErr) {
		t.Fatalf("Call() error = %T, want *ChainError", err)
	}
	if chainErr.Service != "inference" || len(chainErr.Errors) != 2 {
		t.Errorf("ChainError = %+v", chainErr)
	}
	if !errors.Is(err, first) || !errors.Is(err, last) {
		t.Error("ChainError should unwrap to every backend error")
	}
	if want := "inference chain: all 2 backends failed, last error: last"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestCallStopOn(t *testing.T) {
	bad := errors.New("empty text")
	a, b := &fake{err: bad}, &fake{name: "b"}
	c := NewChain("tts", nil, []*fake{a, b}).StopOn(func(err error) bool { return errors.Is(err, bad) })

	if _, err := call(context.Background(), c); !errors.Is(err, bad) {
		t.Fatalf("Call() error = %v, want %v", err, bad)
	}
	if b.calls != 0 {
		t.Error("second backend should not be tried")
	}
}

func TestCallCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := &fake{name: "b"}
	c := NewChain("tts", nil, []*fake{{err: errors.New("down")}, b})

	if _, err := call(ctx, c); !errors.Is(err, context.Canceled) {
		t.Fatalf("Call() error = %v", err)
	}
	if b.calls != 0 {
		t.Error("second backend should not be tried after cancel")
	}
}

func TestChainHealthAndClose(t *testing.T) {
	down := errors.New("down")
	a, b := &fake{health: down}, &fake{}
	c := NewChain("tts", nil, []*fake{a, b})

	if err := c.Health(context.Background()); err != nil {
		t.Errorf("Health() = %v", err)
	}
	b.health = down
	if err := c.Health(context.Background()); !errors.Is(err, down) {
		t.Errorf("Health() = %v, want %v", err, down)
	}

	if err := c.Close(); err != nil || !a.closed || !b.closed {
		t.Errorf("Close() = %v, closed = %v %v", err, a.closed, b.closed)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d", c.Len())
	}
}
