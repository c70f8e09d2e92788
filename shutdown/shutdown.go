package shutdown

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/vinayprograms/indexkit/logging"
)

var (
	ErrAlreadyShutdown = errors.New("shutdown already initiated")
	ErrTimeout         = errors.New("shutdown timeout exceeded")
	ErrHandlerFailed   = errors.New("one or more handlers failed")
	ErrInvalidConfig   = errors.New("invalid configuration")
)

// Phases used by indexkit processes. Lower phases stop first, so pollers
// finish their batch before the index and stores beneath them close.
const (
	PhasePollers   = 10
	PhaseTransport = 20 // search indexes, subscriptions, buses
	PhaseStorage   = 30 // task repositories, state stores, telemetry
)

// Handler stops one component. ctx expires at the shutdown deadline.
type Handler interface {
	Stop(ctx context.Context) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context) error

func (f HandlerFunc) Stop(ctx context.Context) error {
	return f(ctx)
}

// Closer stops c by closing it. The deadline is not passed on.
func Closer(c io.Closer) Handler {
	return HandlerFunc(func(context.Context) error {
		return c.Close()
	})
}

// Outcome is how one handler's Stop went.
type Outcome struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Report summarizes a finished shutdown. Err is nil only if every handler
// that ran succeeded within the deadline.
type Report struct {
	TotalDuration time.Duration
	Results       []Outcome
	Err           error
}

func (r *Report) Failed() bool {
	return r.Err != nil
}

// FailedHandlers lists the handlers whose Stop returned an error.
func (r *Report) FailedHandlers() []string {
	var names []string
	for _, o := range r.Results {
		if o.Err != nil {
			names = append(names, o.Name)
		}
	}
	return names
}

// Config tunes a Coordinator.
type Config struct {
	// DefaultTimeout applies to ShutdownWithTimeout(0) and to signals.
	DefaultTimeout time.Duration

	// DefaultPhase is used by Register.
	DefaultPhase int

	// ContinueOnError keeps stopping later phases after a failure.
	ContinueOnError bool

	// Logger gets one line per handler. Nil keeps quiet.
	Logger *logging.Logger

	// OnProgress sees every Outcome as it completes.
	OnProgress func(Outcome)
}

func (c *Config) Validate() error {
	if c.DefaultTimeout < 0 || c.DefaultPhase < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultConfig waits 30s, puts unphased handlers with storage, and keeps
// going past failures.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:  30 * time.Second,
		DefaultPhase:    PhaseStorage,
		ContinueOnError: true,
	}
}

type registration struct {
	name    string
	handler Handler
	phase   int
}
