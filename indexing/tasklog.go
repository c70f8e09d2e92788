package indexing

import (
	"context"
	"sort"
	"time"

	"github.com/vinayprograms/indexkit/errors"
	"github.com/vinayprograms/indexkit/logging"
	"github.com/vinayprograms/indexkit/telemetry"
)

// Notifier is told about every recorded task after it commits.
// Consumers use it to poll early instead of waiting for their interval.
type Notifier interface {
	Notify(ctx context.Context, task Task) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, task Task) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, task Task) error {
	return f(ctx, task)
}

// TaskLog records content changes and serves them to indexers.
// It holds no locks; atomicity comes from Repository.Transact.
type TaskLog struct {
	repo     Repository
	clock    Clock
	logger   *logging.Logger
	tracer   *telemetry.Tracer
	events   telemetry.Exporter
	notifier Notifier
}

// Option configures a TaskLog.
type Option func(*TaskLog)

// WithClock sets the clock used to stamp new tasks.
func WithClock(c Clock) Option {
	return func(l *TaskLog) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithLogger sets the logger. The default discards output.
func WithLogger(logger *logging.Logger) Option {
	return func(l *TaskLog) {
		if logger != nil {
			l.logger = logger.WithComponent("indexing")
		}
	}
}

// WithTracer sets the tracer used for task log spans.
func WithTracer(t *telemetry.Tracer) Option {
	return func(l *TaskLog) {
		if t != nil {
			l.tracer = t
		}
	}
}

// WithEvents sets the exporter that receives task log events.
func WithEvents(e telemetry.Exporter) Option {
	return func(l *TaskLog) {
		if e != nil {
			l.events = e
		}
	}
}

// WithNotifier sets the notifier called after each recorded task.
func WithNotifier(n Notifier) Option {
	return func(l *TaskLog) {
		l.notifier = n
	}
}

// New creates a task log over repo.
func New(repo Repository, opts ...Option) *TaskLog {
	l := &TaskLog{
		repo:   repo,
		clock:  NewMonotonicClock(SystemClock{}),
		logger: logging.Discard(),
		tracer: telemetry.NewNoopTracer(),
		events: telemetry.Discard,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RecordUpdate replaces every pending task for item with one update task.
func (l *TaskLog) RecordUpdate(ctx context.Context, item ContentItem) (Task, error) {
	return l.record(ctx, item, ActionUpdate, "indexing task created")
}

// RecordDelete replaces every pending task for item with one delete task.
func (l *TaskLog) RecordDelete(ctx context.Context, item ContentItem) (Task, error) {
	return l.record(ctx, item, ActionDelete, "deleting index task created")
}

func (l *TaskLog) record(ctx context.Context, item ContentItem, action Action, msg string) (Task, error) {
	if err := validateItem(item); err != nil {
		return Task{}, err
	}
	id := item.ID()

	ctx, span := l.tracer.StartTaskSpan(ctx, "indexing.record_"+action.String())

	var (
		task    Task
		removed int
	)
	err := l.repo.Transact(ctx, id, func(s Store) error {
		n, err := deleteAll(ctx, s, id)
		if err != nil {
			return err
		}
		removed = n

		task = Task{
			ContentItemID: id,
			ContentType:   item.ContentType(),
			Action:        action,
			CreatedAt:     l.clock.Now().UTC(),
		}
		return s.Create(ctx, &task)
	})

	l.tracer.EndTaskSpan(span, telemetry.TaskSpanOptions{
		Action:        action.String(),
		ContentItemID: id,
		TaskCount:     1,
	}, err)

	if err != nil {
		return Task{}, err
	}

	l.logger.TasksCollapsed(id, removed)
	l.logger.TaskRecorded(msg, task.ContentType, id, task.ID)
	l.events.Emit(telemetry.EventTaskRecorded, telemetry.Fields{
		"task_id":         task.ID,
		"content_item_id": id,
		"content_type":    task.ContentType,
		"action":          task.Action.String(),
		"collapsed":       removed,
	})

	if l.notifier != nil {
		if err := l.notifier.Notify(ctx, task); err != nil {
			l.logger.Warn("task notification failed", map[string]interface{}{
				"content_item_id": id,
				"task_id":         task.ID,
				"error":           err.Error(),
			})
		}
	}

	return task, nil
}

// DeleteTasks removes every pending task for item and returns how many
// were removed. Removing nothing is not an error.
func (l *TaskLog) DeleteTasks(ctx context.Context, item ContentItem) (int, error) {
	if err := validateItem(item); err != nil {
		return 0, err
	}
	id := item.ID()

	ctx, span := l.tracer.StartTaskSpan(ctx, "indexing.delete_tasks")

	var removed int
	err := l.repo.Transact(ctx, id, func(s Store) error {
		n, err := deleteAll(ctx, s, id)
		removed = n
		return err
	})

	l.tracer.EndTaskSpan(span, telemetry.TaskSpanOptions{
		ContentItemID: id,
		TaskCount:     removed,
	}, err)

	if err != nil {
		return 0, err
	}

	l.logger.TasksCollapsed(id, removed)
	if removed > 0 {
		l.events.Emit(telemetry.EventTasksDeleted, telemetry.Fields{
			"content_item_id": id,
			"removed":         removed,
		})
	}
	return removed, nil
}

// deleteAll removes every task for id through s.
func deleteAll(ctx context.Context, s Store, id string) (int, error) {
	existing, err := s.Fetch(ctx, ForContentItem(id))
	if err != nil {
		return 0, err
	}
	for _, t := range existing {
		if err := s.Delete(ctx, t); err != nil {
			return 0, err
		}
	}
	return len(existing), nil
}

// GetTasks returns pending tasks ordered by creation time. A nil createdAfter
// returns every pending task; otherwise only tasks created strictly after it.
// The result is a snapshot owned by the caller.
func (l *TaskLog) GetTasks(ctx context.Context, createdAfter *time.Time) ([]Task, error) {
	q := AllTasks()
	if createdAfter != nil {
		q = CreatedAfter(*createdAfter)
	}

	ctx, span := l.tracer.StartTaskSpan(ctx, "indexing.get_tasks")

	fetched, err := l.repo.Fetch(ctx, q)

	l.tracer.EndTaskSpan(span, telemetry.TaskSpanOptions{
		TaskCount: len(fetched),
	}, err)

	if err != nil {
		return nil, err
	}

	tasks := make([]Task, 0, len(fetched))
	for _, t := range fetched {
		if q.Match(t) {
			tasks = append(tasks, t)
		}
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].Before(tasks[j])
	})
	return tasks, nil
}

// Acknowledge removes task after a consumer applied it. The task is matched
// by id, so if a newer task superseded it in the meantime the newer task is
// kept and Acknowledge does nothing.
func (l *TaskLog) Acknowledge(ctx context.Context, task Task) error {
	if task.ID == "" {
		return errors.InvalidArgument("task id is required")
	}
	if task.ContentItemID == "" {
		return errors.InvalidArgument("task content item id is required", errors.WithTaskID(task.ID))
	}

	ctx, span := l.tracer.StartTaskSpan(ctx, "indexing.acknowledge")

	var acked bool
	err := l.repo.Transact(ctx, task.ContentItemID, func(s Store) error {
		acked = false
		pending, err := s.Fetch(ctx, ForContentItem(task.ContentItemID))
		if err != nil {
			return err
		}
		for _, t := range pending {
			if t.ID != task.ID {
				continue
			}
			if err := s.Delete(ctx, t); err != nil {
				return err
			}
			acked = true
		}
		return nil
	})

	count := 0
	if acked {
		count = 1
	}
	l.tracer.EndTaskSpan(span, telemetry.TaskSpanOptions{
		Action:        task.Action.String(),
		ContentItemID: task.ContentItemID,
		TaskCount:     count,
	}, err)

	if err != nil {
		return err
	}
	if acked {
		l.logger.TaskAcknowledged(task.ContentItemID, task.ID)
		l.events.Emit(telemetry.EventTaskAcknowledged, telemetry.Fields{
			"content_item_id": task.ContentItemID,
			"task_id":         task.ID,
		})
	}
	return nil
}
