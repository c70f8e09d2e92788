package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/vinayprograms/indexkit/bus"
	"github.com/vinayprograms/indexkit/config"
	"github.com/vinayprograms/indexkit/content"
	"github.com/vinayprograms/indexkit/indexer"
	"github.com/vinayprograms/indexkit/indexing"
	"github.com/vinayprograms/indexkit/logging"
	"github.com/vinayprograms/indexkit/shutdown"
	"github.com/vinayprograms/indexkit/state"
	"github.com/vinayprograms/indexkit/taskstore"
	"github.com/vinayprograms/indexkit/telemetry"
)

// app holds the components one command needs, wired for the configured
// backend. Everything opened is registered with coord for teardown.
type app struct {
	cfg     config.Config
	logger  *logging.Logger
	coord   *shutdown.Coordinator
	store   state.StateStore
	tasks   *indexing.TaskLog
	content *content.Store
	bus     bus.MessageBus // nil for the sqlite backend
	tracer  *telemetry.Tracer
}

func openApp(ctx context.Context, cfg config.Config, logOut io.Writer) (*app, error) {
	logger := logging.New()
	logger.SetOutput(logOut)
	logger.SetLevel(cfg.LogLevel())

	a := &app{
		cfg:    cfg,
		logger: logger,
		coord: shutdown.NewCoordinator(shutdown.Config{
			DefaultTimeout:  10 * time.Second,
			ContinueOnError: true,
			Logger:          logger.WithComponent("shutdown"),
		}),
		tracer: telemetry.NewNoopTracer(),
	}

	if err := a.openTelemetry(ctx); err != nil {
		a.Close()
		return nil, err
	}
	events, err := a.openEvents()
	if err != nil {
		a.Close()
		return nil, err
	}

	repo, err := a.openBackend(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.content = content.NewStore(a.store)

	opts := []indexing.Option{
		indexing.WithLogger(logger),
		indexing.WithTracer(a.tracer),
		indexing.WithEvents(events),
	}
	if a.bus != nil {
		opts = append(opts, indexing.WithNotifier(indexer.NewBusNotifier(a.bus, cfg.NATS.NotifySubject)))
	}
	a.tasks = indexing.New(repo, opts...)

	return a, nil
}

// openBackend opens the state store, message bus and task repository.
func (a *app) openBackend(ctx context.Context) (indexing.Repository, error) {
	switch a.cfg.Backend {
	case config.BackendMemory:
		store := state.NewMemoryStore()
		a.store = store
		a.bus = bus.NewMemoryBus(bus.DefaultConfig())
		a.coord.RegisterWithPhase("bus", shutdown.Closer(a.bus), shutdown.PhaseTransport)
		a.coord.RegisterWithPhase("state", shutdown.Closer(store), shutdown.PhaseStorage)
		return taskstore.NewKVRepository(store), nil

	case config.BackendNATS:
		natsCfg := bus.DefaultNATSConfig()
		natsCfg.URL = a.cfg.NATS.URL
		natsCfg.Name = a.cfg.NATS.Name
		natsCfg.Token = a.cfg.NATS.Token
		natsCfg.Logger = a.logger
		nb, err := bus.NewNATSBus(natsCfg)
		if err != nil {
			return nil, err
		}
		a.bus = nb
		// The bus owns the connection, so it closes after the store.
		a.coord.RegisterWithPhase("bus", shutdown.Closer(nb), shutdown.PhaseStorage+1)

		store, err := state.NewNATSStore(state.NATSStoreConfig{
			Conn:   nb.Conn(),
			Bucket: a.cfg.NATS.Bucket,
		})
		if err != nil {
			return nil, err
		}
		a.store = store
		a.coord.RegisterWithPhase("state", shutdown.Closer(store), shutdown.PhaseStorage)
		return taskstore.NewKVRepository(store), nil

	case config.BackendSQLite:
		repo, err := taskstore.OpenSQLite(a.cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		// The repository owns the database, so it closes after the store.
		a.coord.RegisterWithPhase("tasks", shutdown.Closer(repo), shutdown.PhaseStorage+1)

		store, err := state.NewSQLStore(ctx, repo.DB())
		if err != nil {
			return nil, err
		}
		a.store = store
		a.coord.RegisterWithPhase("state", shutdown.Closer(store), shutdown.PhaseStorage)
		return repo, nil

	default:
		return nil, fmt.Errorf("unknown backend %q", a.cfg.Backend)
	}
}

func (a *app) openTelemetry(ctx context.Context) error {
	tc := a.cfg.Telemetry
	if tc.Endpoint == "" {
		return nil
	}
	provider, err := telemetry.InitProvider(ctx, telemetry.ProviderConfig{
		ServiceName:    tc.ServiceName,
		ServiceVersion: version,
		InstanceID:     a.cfg.Indexer.Name,
		Endpoint:       tc.Endpoint,
		Protocol:       tc.Protocol,
		Insecure:       tc.Insecure,
		SampleRatio:    tc.SampleRatio,
	})
	if err != nil {
		return err
	}
	a.tracer = provider.Tracer()
	a.coord.RegisterFunc("tracing", provider.Shutdown, shutdown.PhaseStorage)
	return nil
}

func (a *app) openEvents() (telemetry.Exporter, error) {
	if a.cfg.Telemetry.EventsFile == "" {
		return telemetry.Discard, nil
	}
	events, err := telemetry.OpenEventLog(a.cfg.Telemetry.EventsFile)
	if err != nil {
		return nil, err
	}
	a.coord.RegisterWithPhase("events", shutdown.Closer(events), shutdown.PhaseStorage)
	return events, nil
}

// openIndex opens the configured search index.
func (a *app) openIndex() (*indexer.BleveIndex, error) {
	idx, err := indexer.NewBleveIndex(a.cfg.Indexer.IndexPath)
	if err != nil {
		return nil, err
	}
	a.coord.RegisterWithPhase("index", shutdown.Closer(idx), shutdown.PhaseTransport)
	return idx, nil
}

// newPoller builds the indexer poller. Wake-ups come from task announcements
// on the bus when there is one.
func (a *app) newPoller(ctx context.Context, idx indexer.Index) (*indexer.Poller, error) {
	ic := a.cfg.Indexer
	opts := []indexer.PollerOption{
		indexer.WithLogger(a.logger.With(map[string]interface{}{"indexer": ic.Name})),
		indexer.WithTracer(a.tracer),
	}

	if a.bus != nil {
		sub, err := a.bus.Subscribe(subjectOrDefault(a.cfg.NATS.NotifySubject))
		if err != nil {
			return nil, err
		}
		opts = append(opts, indexer.WithWake(indexer.WakeOn(ctx, sub)))
	}

	poller := indexer.NewPoller(
		a.tasks,
		idx,
		indexer.NewContentSource(a.content),
		indexer.NewStateCheckpoint(a.store, ic.Name),
		indexer.Config{
			Name:         ic.Name,
			PollInterval: ic.PollInterval.Duration,
			Lookback:     ic.Lookback.Duration,
			Acknowledge:  ic.Acknowledge,
			BatchLimit:   ic.BatchLimit,
		},
		opts...,
	)
	a.coord.RegisterWithPhase("poller", poller, shutdown.PhasePollers)
	return poller, nil
}

// Close runs the shutdown phases for everything the app opened.
func (a *app) Close() error {
	err := a.coord.ShutdownWithTimeout(0)
	if err == shutdown.ErrAlreadyShutdown {
		return nil
	}
	return err
}

func subjectOrDefault(subject string) string {
	if subject == "" {
		return indexer.DefaultSubject
	}
	return subject
}
