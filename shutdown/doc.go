// Package shutdown coordinates graceful shutdown of indexkit processes.
//
// Handlers run in phases, lowest first. Handlers within a phase run
// concurrently. indexkit uses three phases:
//
//   - PhasePollers (10): stop indexer pollers after their current batch
//   - PhaseTransport (20): close search indexes and bus subscriptions
//   - PhaseStorage (30): close task stores, state stores and telemetry
//
// # Usage
//
//	coord := shutdown.NewCoordinator(shutdown.DefaultConfig())
//	ctx = coord.HandleSignals(ctx)
//
//	coord.RegisterWithPhase("poller", poller, shutdown.PhasePollers)
//	coord.RegisterWithPhase("index", shutdown.Closer(index), shutdown.PhaseTransport)
//	coord.RegisterWithPhase("tasks", shutdown.Closer(repo), shutdown.PhaseStorage)
//
//	poller.Run(ctx)
//	<-coord.Done()
package shutdown
