package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"
)

// Event names emitted by the task log.
const (
	EventTaskRecorded     = "indexing.task_recorded"
	EventTasksDeleted     = "indexing.tasks_deleted"
	EventTaskAcknowledged = "indexing.task_acknowledged"
)

// Fields carries the attributes of an event.
type Fields map[string]any

// Event is one task log occurrence as it is exported.
type Event struct {
	Name   string    `json:"name"`
	At     time.Time `json:"at"`
	Fields Fields    `json:"fields,omitempty"`
}

// Exporter receives task log events. Emit must not block the caller on I/O
// failures; errors surface from Flush.
type Exporter interface {
	Emit(name string, fields Fields)
	Flush() error
	Close() error
}

// NewExporter builds an exporter by kind: "file" appends JSON lines to
// target, "webhook" posts batches to the target URL, and "" or "none"
// discards events.
func NewExporter(kind, target string) (Exporter, error) {
	switch kind {
	case "file":
		return OpenEventLog(target)
	case "webhook":
		return NewWebhookExporter(target, 0), nil
	case "", "none":
		return Discard, nil
	default:
		return nil, fmt.Errorf("unknown event exporter %q", kind)
	}
}

// Discard drops every event.
var Discard Exporter = discard{}

type discard struct{}

func (discard) Emit(string, Fields) {}
func (discard) Flush() error        { return nil }
func (discard) Close() error        { return nil }

// EventLog writes one JSON object per line.
type EventLog struct {
	mu  sync.Mutex
	w   io.Writer
	enc *json.Encoder
	err error
	now func() time.Time
}

// NewEventLog writes events to w. If w is an io.Closer, Close closes it.
func NewEventLog(w io.Writer) *EventLog {
	return &EventLog{w: w, enc: json.NewEncoder(w), now: time.Now}
}

// OpenEventLog appends events to the file at path, creating it if needed.
func OpenEventLog(path string) (*EventLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return NewEventLog(f), nil
}

// Emit writes the event. The first write error is kept for Flush.
func (l *EventLog) Emit(name string, fields Fields) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enc.Encode(Event{Name: name, At: l.now(), Fields: fields}); err != nil && l.err == nil {
		l.err = err
	}
}

// Flush syncs file-backed logs and reports any earlier write error.
func (l *EventLog) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if f, ok := l.w.(*os.File); ok {
		if err := f.Sync(); err != nil && l.err == nil {
			l.err = err
		}
	}
	err := l.err
	l.err = nil
	return err
}

func (l *EventLog) Close() error {
	flushErr := l.Flush()
	if c, ok := l.w.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return err
		}
	}
	return flushErr
}

// WebhookExporter buffers events and posts them to a URL as a JSON array.
// A failed post keeps the batch for the next attempt.
type WebhookExporter struct {
	url       string
	client    *http.Client
	batchSize int

	mu      sync.Mutex
	pending []Event
}

// NewWebhookExporter posts to url whenever batchSize events are buffered.
// A non-positive batchSize means 100.
func NewWebhookExporter(url string, batchSize int) *WebhookExporter {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &WebhookExporter{
		url:       url,
		client:    &http.Client{Timeout: 10 * time.Second},
		batchSize: batchSize,
	}
}

func (w *WebhookExporter) Emit(name string, fields Fields) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, Event{Name: name, At: time.Now(), Fields: fields})
	if len(w.pending) >= w.batchSize {
		_ = w.post()
	}
}

func (w *WebhookExporter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.post()
}

func (w *WebhookExporter) Close() error {
	return w.Flush()
}

// Pending reports how many events are waiting to be posted.
func (w *WebhookExporter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func (w *WebhookExporter) post() error {
	if len(w.pending) == 0 {
		return nil
	}
	body, err := json.Marshal(w.pending)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post events: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("post events: status %d", resp.StatusCode)
	}
	w.pending = w.pending[:0]
	return nil
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Emit(name string, fields Fields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Name: name, At: time.Now(), Fields: fields})
}

// Events returns a copy of what was recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Named returns the recorded events called name.
func (r *Recorder) Named(name string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) Flush() error { return nil }
func (r *Recorder) Close() error { return nil }
