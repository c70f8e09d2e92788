package shutdown

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vinayprograms/indexkit/logging"
)

func TestShutdown_SingleHandler(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())

	called := false
	coord.RegisterFunc("poller", func(ctx context.Context) error {
		called = true
		return nil
	}, PhasePollers)

	if err := coord.ShutdownWithTimeout(5 * time.Second); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !called {
		t.Fatal("expected handler to be called")
	}

	select {
	case <-coord.Done():
	default:
		t.Fatal("expected Done channel to be closed")
	}
	if coord.Err() != nil {
		t.Fatalf("expected Err() to be nil, got %v", coord.Err())
	}

	result := coord.Result()
	if result == nil || len(result.Results) != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Results[0].Name != "poller" || result.Results[0].Phase != PhasePollers {
		t.Errorf("unexpected handler result %+v", result.Results[0])
	}
	if result.Failed() {
		t.Error("expected result.Failed() to be false")
	}
}

func TestShutdown_PhaseOrder(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) error {
		return func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}

	coord.RegisterFunc("tasks", record("tasks"), PhaseStorage)
	coord.RegisterFunc("poller", record("poller"), PhasePollers)
	coord.RegisterFunc("index", record("index"), PhaseTransport)

	if err := coord.ShutdownWithTimeout(time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	want := []string{"poller", "index", "tasks"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestShutdown_SamePhaseRunsConcurrently(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())

	var running, peak atomic.Int32
	handler := func(ctx context.Context) error {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		running.Add(-1)
		return nil
	}
	for _, name := range []string{"index", "bus", "watch"} {
		coord.RegisterFunc(name, handler, PhaseTransport)
	}

	if err := coord.ShutdownWithTimeout(5 * time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if peak.Load() < 2 {
		t.Errorf("expected handlers in one phase to overlap, peak=%d", peak.Load())
	}
}

func TestShutdown_TimeoutSkipsLaterPhases(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())

	coord.RegisterFunc("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, PhasePollers)

	var later atomic.Bool
	coord.RegisterFunc("later", func(ctx context.Context) error {
		later.Store(true)
		return nil
	}, PhaseStorage)

	err := coord.ShutdownWithTimeout(50 * time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if later.Load() {
		t.Error("later phase ran after timeout")
	}
}

func TestShutdown_HandlerErrors(t *testing.T) {
	boom := errors.New("flush failed")
	coord := NewCoordinator(DefaultConfig())

	var storageRan atomic.Bool
	coord.RegisterFunc("index", func(ctx context.Context) error { return boom }, PhaseTransport)
	coord.RegisterFunc("tasks", func(ctx context.Context) error {
		storageRan.Store(true)
		return nil
	}, PhaseStorage)

	err := coord.ShutdownWithTimeout(time.Second)
	if !errors.Is(err, ErrHandlerFailed) {
		t.Fatalf("expected ErrHandlerFailed, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("handler error not preserved: %v", err)
	}
	if !strings.Contains(err.Error(), "index") {
		t.Errorf("handler name missing from error: %v", err)
	}
	if !storageRan.Load() {
		t.Error("ContinueOnError should run later phases")
	}

	failed := coord.Result().FailedHandlers()
	if len(failed) != 1 || failed[0] != "index" {
		t.Errorf("FailedHandlers = %v", failed)
	}
}

func TestShutdown_StopOnError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ContinueOnError = false
	coord := NewCoordinator(cfg)

	var storageRan atomic.Bool
	coord.RegisterFunc("poller", func(ctx context.Context) error { return errors.New("stuck") }, PhasePollers)
	coord.RegisterFunc("tasks", func(ctx context.Context) error {
		storageRan.Store(true)
		return nil
	}, PhaseStorage)

	if err := coord.ShutdownWithTimeout(time.Second); !errors.Is(err, ErrHandlerFailed) {
		t.Fatalf("expected ErrHandlerFailed, got %v", err)
	}
	if storageRan.Load() {
		t.Error("later phase ran despite ContinueOnError=false")
	}
}

func TestShutdown_Twice(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())

	var calls atomic.Int32
	coord.RegisterFunc("poller", func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, PhasePollers)

	if err := coord.ShutdownWithTimeout(time.Second); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := coord.ShutdownWithTimeout(time.Second); err != ErrAlreadyShutdown {
		t.Errorf("second Shutdown: expected ErrAlreadyShutdown, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("handler called %d times", calls.Load())
	}
}

func TestShutdown_Closer(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())
	c := &fakeCloser{}
	coord.Register("store", Closer(c))

	if err := coord.ShutdownWithTimeout(time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !c.closed {
		t.Error("closer not closed")
	}
	if coord.Result().Results[0].Phase != PhaseStorage {
		t.Errorf("default phase = %d, want %d", coord.Result().Results[0].Phase, PhaseStorage)
	}
}

type fakeCloser struct{ closed bool }

func (f *fakeCloser) Close() error {
	f.closed = true
	return nil
}

func TestShutdown_SignalCancelsContext(t *testing.T) {
	coord := NewCoordinator(Config{DefaultTimeout: time.Second, ContinueOnError: true})

	var called atomic.Bool
	coord.RegisterFunc("poller", func(ctx context.Context) error {
		called.Store(true)
		return nil
	}, PhasePollers)

	ctx := coord.HandleSignals(context.Background())
	coord.Trigger()

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("signal did not cancel the run context")
	}
	select {
	case <-coord.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete after signal")
	}
	if !called.Load() {
		t.Error("expected handler to be called")
	}
}

func TestShutdown_HandleSignalsReleasedByShutdown(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())
	ctx := coord.HandleSignals(context.Background())

	coord.ShutdownWithTimeout(time.Second)

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled after direct shutdown")
	}
}

func TestShutdown_LogsHandlers(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New()
	logger.SetOutput(&buf)

	cfg := DefaultConfig()
	cfg.Logger = logger
	coord := NewCoordinator(cfg)
	coord.RegisterFunc("index", func(ctx context.Context) error { return errors.New("disk full") }, PhaseTransport)

	coord.ShutdownWithTimeout(time.Second)

	out := buf.String()
	if !strings.Contains(out, "shutdown handler failed") || !strings.Contains(out, "handler=index") {
		t.Errorf("unexpected log output %q", out)
	}
}

func TestShutdown_OnProgress(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	cfg := DefaultConfig()
	cfg.OnProgress = func(hr Outcome) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, hr.Name)
	}
	coord := NewCoordinator(cfg)
	coord.RegisterFunc("a", func(ctx context.Context) error { return nil }, PhasePollers)
	coord.RegisterFunc("b", func(ctx context.Context) error { return nil }, PhaseStorage)

	coord.ShutdownWithTimeout(time.Second)

	if len(seen) != 2 {
		t.Errorf("OnProgress saw %v", seen)
	}
}

func TestShutdown_Empty(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())
	if coord.Result() != nil {
		t.Error("Result before shutdown should be nil")
	}
	if err := coord.ShutdownWithTimeout(time.Second); err != nil {
		t.Errorf("empty shutdown: %v", err)
	}
	if n := len(coord.Result().Results); n != 0 {
		t.Errorf("expected no results, got %d", n)
	}
}

func TestConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.DefaultTimeout != 30*time.Second || cfg.DefaultPhase != PhaseStorage || !cfg.ContinueOnError {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}

	bad := Config{DefaultTimeout: -time.Second}
	if err := bad.Validate(); err != ErrInvalidConfig {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestGroupByPhase(t *testing.T) {
	if groupByPhase(nil) != nil {
		t.Error("expected nil groups for no handlers")
	}

	groups := groupByPhase([]registration{
		{name: "a", phase: 10},
		{name: "b", phase: 10},
		{name: "c", phase: 20},
		{name: "d", phase: 30},
	})
	if len(groups) != 3 || len(groups[0]) != 2 || groups[2][0].name != "d" {
		t.Errorf("unexpected groups %+v", groups)
	}
}

func TestShutdown_HandleSignalsParentCancel(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())
	var called atomic.Bool
	coord.RegisterFunc("poller", func(ctx context.Context) error {
		called.Store(true)
		return nil
	}, PhasePollers)

	parent, cancel := context.WithCancel(context.Background())
	ctx := coord.HandleSignals(parent)
	cancel()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled with parent")
	}
	select {
	case <-coord.Done():
		t.Error("parent cancellation should leave shutdown to the caller")
	case <-time.After(50 * time.Millisecond):
	}
	if called.Load() {
		t.Error("handler ran without a shutdown request")
	}
}
