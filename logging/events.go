package logging

import "time"

// Helpers for the lines the task log and indexer emit, so field names stay
// consistent across packages.

// TaskRecorded logs a committed RecordUpdate or RecordDelete.
func (l *Logger) TaskRecorded(msg, contentType, contentItemID, taskID string) {
	l.Info(msg, map[string]interface{}{
		"content_type":    contentType,
		"content_item_id": contentItemID,
		"task_id":         taskID,
	})
}

// TasksCollapsed logs pending tasks removed for a content item. Zero
// removals are not logged.
func (l *Logger) TasksCollapsed(contentItemID string, removed int) {
	if removed == 0 {
		return
	}
	l.Debug("pending tasks collapsed", map[string]interface{}{
		"content_item_id": contentItemID,
		"removed":         removed,
	})
}

func (l *Logger) TaskAcknowledged(contentItemID, taskID string) {
	l.Debug("indexing task acknowledged", map[string]interface{}{
		"content_item_id": contentItemID,
		"task_id":         taskID,
	})
}

// BatchApplied logs a finished indexer poll.
func (l *Logger) BatchApplied(applied int, watermark time.Time, duration time.Duration) {
	l.Info("indexing batch applied", map[string]interface{}{
		"applied":   applied,
		"watermark": watermark.Format(time.RFC3339Nano),
		"duration":  duration.String(),
	})
}

// BatchFailed logs the task that stopped an indexer poll.
func (l *Logger) BatchFailed(contentItemID, taskID string, err error) {
	l.Error("indexing task failed", map[string]interface{}{
		"content_item_id": contentItemID,
		"task_id":         taskID,
		"error":           err.Error(),
	})
}
