package shutdown

import (
	"context"
	"fmt"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/vinayprograms/indexkit/errors"
)

// Coordinator stops registered components in phase order. Handlers that
// share a phase stop concurrently.
type Coordinator struct {
	config  Config
	trigger chan struct{}
	done    chan struct{}

	mu       sync.Mutex
	handlers []registration
	started  bool
	report   *Report
}

// NewCoordinator fills zero timeout and phase from DefaultConfig.
func NewCoordinator(config Config) *Coordinator {
	defaults := DefaultConfig()
	if config.DefaultTimeout == 0 {
		config.DefaultTimeout = defaults.DefaultTimeout
	}
	if config.DefaultPhase == 0 {
		config.DefaultPhase = defaults.DefaultPhase
	}
	return &Coordinator{
		config:  config,
		trigger: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Register adds handler to the default phase.
func (c *Coordinator) Register(name string, handler Handler) {
	c.RegisterWithPhase(name, handler, c.config.DefaultPhase)
}

func (c *Coordinator) RegisterWithPhase(name string, handler Handler, phase int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, registration{name: name, handler: handler, phase: phase})
}

func (c *Coordinator) RegisterFunc(name string, fn func(ctx context.Context) error, phase int) {
	c.RegisterWithPhase(name, HandlerFunc(fn), phase)
}

// Shutdown stops every handler once. A second call blocks until the first
// finishes and then returns ErrAlreadyShutdown.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		<-c.done
		return ErrAlreadyShutdown
	}
	c.started = true
	handlers := slices.Clone(c.handlers)
	c.mu.Unlock()

	report := c.run(ctx, handlers)

	c.mu.Lock()
	c.report = report
	c.mu.Unlock()
	close(c.done)
	return report.Err
}

// ShutdownWithTimeout bounds Shutdown by timeout, or by DefaultTimeout when
// timeout is zero.
func (c *Coordinator) ShutdownWithTimeout(timeout time.Duration) error {
	if timeout == 0 {
		timeout = c.config.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// HandleSignals shuts down on SIGINT, SIGTERM or Trigger. The returned
// context ends first so run loops can return before their handlers stop.
// It also ends when parent does or when Shutdown is called directly.
func (c *Coordinator) HandleSignals(parent context.Context) context.Context {
	sigCtx, stopSignals := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := context.WithCancel(sigCtx)

	go func() {
		defer stopSignals()
		defer cancel()

		select {
		case <-sigCtx.Done():
			if parent.Err() != nil {
				return
			}
			c.logSignal("signal")
		case <-c.trigger:
			c.logSignal("trigger")
		case <-c.done:
			return
		}
		cancel()
		_ = c.ShutdownWithTimeout(0)
	}()
	return ctx
}

func (c *Coordinator) logSignal(source string) {
	if c.config.Logger != nil {
		c.config.Logger.Info("shutdown requested", map[string]interface{}{"source": source})
	}
}

// Trigger starts the same shutdown a signal would.
func (c *Coordinator) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Done is closed once shutdown has finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err is the shutdown error, or nil before Done closes.
func (c *Coordinator) Err() error {
	if r := c.Result(); r != nil {
		return r.Err
	}
	return nil
}

// Result is the shutdown report, or nil before Done closes.
func (c *Coordinator) Result() *Report {
	select {
	case <-c.done:
	default:
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.report
}

func (c *Coordinator) run(ctx context.Context, handlers []registration) *Report {
	start := time.Now()
	slices.SortStableFunc(handlers, func(a, b registration) int {
		return a.phase - b.phase
	})

	report := &Report{Results: make([]Outcome, 0, len(handlers))}
	var failures []error
	for _, group := range groupByPhase(handlers) {
		if ctx.Err() != nil {
			report.Err = ErrTimeout
			break
		}
		outcomes := c.stopPhase(ctx, group)
		report.Results = append(report.Results, outcomes...)
		for _, o := range outcomes {
			if o.Err != nil {
				failures = append(failures, fmt.Errorf("%s: %w", o.Name, o.Err))
			}
		}
		if len(failures) > 0 && !c.config.ContinueOnError {
			break
		}
	}

	if report.Err == nil && len(failures) > 0 {
		report.Err = fmt.Errorf("%w: %w", ErrHandlerFailed, errors.Join(failures...))
	}
	report.TotalDuration = time.Since(start)
	return report
}

func (c *Coordinator) stopPhase(ctx context.Context, group []registration) []Outcome {
	outcomes := make([]Outcome, len(group))
	var wg sync.WaitGroup
	for i, reg := range group {
		wg.Add(1)
		go func() {
			defer wg.Done()
			began := time.Now()
			err := reg.handler.Stop(ctx)
			outcomes[i] = Outcome{Name: reg.name, Phase: reg.phase, Duration: time.Since(began), Err: err}
			c.observe(outcomes[i])
		}()
	}
	wg.Wait()
	return outcomes
}

func (c *Coordinator) observe(o Outcome) {
	if c.config.OnProgress != nil {
		c.config.OnProgress(o)
	}
	if c.config.Logger == nil {
		return
	}
	fields := map[string]interface{}{
		"handler":  o.Name,
		"phase":    o.Phase,
		"duration": o.Duration.String(),
	}
	if o.Err != nil {
		fields["error"] = o.Err.Error()
		c.config.Logger.Error("shutdown handler failed", fields)
		return
	}
	c.config.Logger.Debug("shutdown handler finished", fields)
}

// groupByPhase splits phase-sorted handlers into one group per phase.
func groupByPhase(handlers []registration) [][]registration {
	var groups [][]registration
	for i, h := range handlers {
		if i == 0 || h.phase != handlers[i-1].phase {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], h)
	}
	return groups
}
