package indexer

import (
	"context"
	"sync"
	"time"

	"github.com/vinayprograms/indexkit/errors"
	"github.com/vinayprograms/indexkit/indexing"
	"github.com/vinayprograms/indexkit/logging"
	"github.com/vinayprograms/indexkit/telemetry"
)

// TaskFeed is the read side of the task log.
type TaskFeed interface {
	GetTasks(ctx context.Context, createdAfter *time.Time) ([]indexing.Task, error)
	Acknowledge(ctx context.Context, task indexing.Task) error
}

// Config holds poller configuration.
type Config struct {
	// Name identifies the indexer and its checkpoint.
	Name string

	// PollInterval is the time between polls when not woken early.
	// Default: 5s
	PollInterval time.Duration

	// Lookback re-reads tasks this far behind the watermark to pick up
	// tasks stamped before the watermark but committed after it.
	Lookback time.Duration

	// Acknowledge removes tasks from the log once applied.
	Acknowledge bool

	// BatchLimit caps tasks applied per poll. Zero means no cap.
	BatchLimit int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Name:         "default",
		PollInterval: 5 * time.Second,
		Lookback:     time.Second,
		Acknowledge:  true,
		BatchLimit:   500,
	}
}

// BatchResult describes one poll.
type BatchResult struct {
	Fetched      int           `json:"fetched"`
	Applied      int           `json:"applied"`
	Acknowledged int           `json:"acknowledged"`
	Watermark    time.Time     `json:"watermark"`
	Duration     time.Duration `json:"duration"`
}

// Poller applies task log batches to an index.
type Poller struct {
	feed       TaskFeed
	index      Index
	source     Source
	checkpoint Checkpoint
	config     Config
	logger     *logging.Logger
	tracer     *telemetry.Tracer
	wake       <-chan struct{}

	mu       sync.Mutex // serializes RunOnce
	stop     chan struct{}
	stopOnce sync.Once
	running  sync.WaitGroup
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) PollerOption {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger.WithComponent("indexer")
		}
	}
}

// WithTracer sets the tracer used for batch spans.
func WithTracer(t *telemetry.Tracer) PollerOption {
	return func(p *Poller) {
		if t != nil {
			p.tracer = t
		}
	}
}

// WithWake sets a channel that triggers an immediate poll.
func WithWake(wake <-chan struct{}) PollerOption {
	return func(p *Poller) {
		p.wake = wake
	}
}

// NewPoller creates a poller.
func NewPoller(feed TaskFeed, index Index, source Source, checkpoint Checkpoint, cfg Config, opts ...PollerOption) *Poller {
	defaults := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = defaults.Name
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.Lookback < 0 {
		cfg.Lookback = 0
	}
	if checkpoint == nil {
		checkpoint = &MemoryCheckpoint{}
	}

	p := &Poller{
		feed:       feed,
		index:      index,
		source:     source,
		checkpoint: checkpoint,
		config:     cfg,
		logger:     logging.Discard(),
		tracer:     telemetry.NewNoopTracer(),
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunOnce polls the task log once and applies what it finds.
// On a failed task it saves the progress made so far and returns the error.
func (p *Poller) RunOnce(ctx context.Context) (BatchResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	ctx, span := p.tracer.StartBatchSpan(ctx, p.config.Name)

	result, err := p.runOnce(ctx)
	result.Duration = time.Since(start)

	p.tracer.EndBatchSpan(span, telemetry.BatchSpanOptions{
		Indexer:   p.config.Name,
		Fetched:   result.Fetched,
		Applied:   result.Applied,
		Watermark: result.Watermark.Format(time.RFC3339Nano),
	}, err)

	if err == nil && result.Fetched > 0 {
		p.logger.BatchApplied(result.Applied, result.Watermark, result.Duration)
	}
	return result, err
}

func (p *Poller) runOnce(ctx context.Context) (BatchResult, error) {
	var result BatchResult

	watermark, hasWatermark, err := p.checkpoint.Load(ctx)
	if err != nil {
		return result, err
	}
	result.Watermark = watermark

	var after *time.Time
	if hasWatermark {
		from := watermark.Add(-p.config.Lookback)
		after = &from
	}

	tasks, err := p.feed.GetTasks(ctx, after)
	if err != nil {
		return result, err
	}
	result.Fetched = len(tasks)

	batch := tasks[:batchEnd(tasks, watermark, hasWatermark, p.config.BatchLimit)]

	// stop is the first task not applied in this poll, if any.
	var (
		stop     *indexing.Task
		applyErr error
	)
	applied := make([]indexing.Task, 0, len(batch))
	for i := range batch {
		task := batch[i]
		if err := p.apply(ctx, task); err != nil {
			p.logger.BatchFailed(task.ContentItemID, task.ID, err)
			stop = &batch[i]
			applyErr = err
			break
		}
		applied = append(applied, task)

		if p.config.Acknowledge {
			if err := p.feed.Acknowledge(ctx, task); err != nil {
				p.logger.Warn("acknowledge failed", map[string]interface{}{
					"content_item_id": task.ContentItemID,
					"task_id":         task.ID,
					"error":           err.Error(),
				})
			} else {
				result.Acknowledged++
			}
		}
	}
	if stop == nil && len(batch) < len(tasks) {
		stop = &tasks[len(batch)]
	}
	result.Applied = len(applied)

	next := advance(watermark, hasWatermark, applied, stop)
	if !next.Equal(watermark) {
		if err := p.checkpoint.Save(ctx, next); err != nil {
			if applyErr != nil {
				return result, errors.Join(applyErr, err)
			}
			return result, err
		}
		result.Watermark = next
	}

	return result, applyErr
}

// batchEnd returns how many of tasks to apply this poll. Lookback tasks at
// or before the watermark were applied already and do not count toward limit.
func batchEnd(tasks []indexing.Task, watermark time.Time, hasWatermark bool, limit int) int {
	if limit <= 0 {
		return len(tasks)
	}
	fresh := 0
	for i, t := range tasks {
		if hasWatermark && !t.CreatedAt.After(watermark) {
			continue
		}
		fresh++
		if fresh > limit {
			return i
		}
	}
	return len(tasks)
}

// advance returns the new watermark: the latest applied timestamp that no
// unapplied task shares or precedes. It never moves backwards.
func advance(watermark time.Time, hasWatermark bool, applied []indexing.Task, stop *indexing.Task) time.Time {
	next := watermark
	for _, t := range applied {
		if stop != nil && !t.CreatedAt.Before(stop.CreatedAt) {
			continue
		}
		if !hasWatermark || t.CreatedAt.After(next) {
			next = t.CreatedAt
			hasWatermark = true
		}
	}
	return next
}

// apply makes the index reflect task.
func (p *Poller) apply(ctx context.Context, task indexing.Task) error {
	switch task.Action {
	case indexing.ActionDelete:
		return p.index.Delete(ctx, task.ContentItemID)

	case indexing.ActionUpdate:
		doc, err := p.source.Load(ctx, task.ContentItemID)
		if errors.Is(err, errors.ErrCodeNotFound) {
			// Content vanished after the update was recorded.
			return p.index.Delete(ctx, task.ContentItemID)
		}
		if err != nil {
			return err
		}
		if doc.ID == "" {
			doc.ID = task.ContentItemID
		}
		if doc.Type == "" {
			doc.Type = task.ContentType
		}
		return p.index.Index(ctx, doc)

	default:
		return errors.InvalidArgument("unknown action: "+task.Action.String(),
			errors.WithTaskID(task.ID),
			errors.WithContentItemID(task.ContentItemID))
	}
}

// Run polls until ctx is done or the poller is shut down. A poll happens
// immediately, then on every interval tick or wake signal.
func (p *Poller) Run(ctx context.Context) error {
	p.running.Add(1)
	defer p.running.Done()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	wake := p.wake

	p.logger.Info("indexer started", map[string]interface{}{
		"name":     p.config.Name,
		"interval": p.config.PollInterval.String(),
	})

	for {
		if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("indexer poll failed", map[string]interface{}{
				"name":  p.config.Name,
				"error": err.Error(),
			})
		}

		select {
		case <-ctx.Done():
			p.logger.Info("indexer stopped", map[string]interface{}{"name": p.config.Name})
			return nil
		case <-p.stop:
			p.logger.Info("indexer stopped", map[string]interface{}{"name": p.config.Name})
			return nil
		case <-ticker.C:
		case _, ok := <-wake:
			if !ok {
				wake = nil
			}
		}
	}
}

// Stop stops Run and waits for the current poll to finish.
func (p *Poller) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.stop) })

	done := make(chan struct{})
	go func() {
		p.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
