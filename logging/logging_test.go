package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	logger.SetLevel(LevelInfo)

	logger.Debug("debug message")
	if buf.Len() > 0 {
		t.Error("debug message should be filtered at INFO level")
	}

	logger.Info("info message")
	output := buf.String()
	if !strings.Contains(output, "INFO") {
		t.Error("log should contain INFO level")
	}
	if !strings.Contains(output, "info message") {
		t.Error("log should contain the message")
	}
}

func TestLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer
	base := New()
	base.SetOutput(&buf)
	logger := base.WithComponent("tasklog")

	logger.Info("test message")

	if !strings.Contains(buf.String(), "[tasklog]") {
		t.Errorf("expected component in log, got: %s", buf.String())
	}
}

func TestLogger_FieldsSorted(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.Info("fields", map[string]interface{}{
		"zeta":  1,
		"alpha": "a",
	})

	output := buf.String()
	if !strings.Contains(output, "alpha=a zeta=1") {
		t.Errorf("expected sorted fields, got: %s", output)
	}
}

func TestLogger_Discard(t *testing.T) {
	logger := Discard()
	logger.Error("dropped")
}

func TestLogger_NilSafe(t *testing.T) {
	var logger *Logger
	logger.Info("nothing happens")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{" warning ", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", "", true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLogger_TaskRecorded(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.TaskRecorded("indexing task created", "BlogPost", "42", "t-1")

	output := buf.String()
	for _, want := range []string{"indexing task created", "content_type=BlogPost", "content_item_id=42", "task_id=t-1"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in log, got: %s", want, output)
		}
	}
}

func TestLogger_TasksCollapsedSkipsZero(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	logger.SetLevel(LevelDebug)

	logger.TasksCollapsed("42", 0)
	if buf.Len() != 0 {
		t.Errorf("expected no output for zero removals, got: %s", buf.String())
	}

	logger.TasksCollapsed("42", 2)
	if !strings.Contains(buf.String(), "removed=2") {
		t.Errorf("expected removed=2, got: %s", buf.String())
	}
}

func TestLogger_BatchEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.BatchApplied(3, time.Unix(0, 0).UTC(), time.Second)
	logger.BatchFailed("42", "t-9", errors.New("index closed"))

	output := buf.String()
	if !strings.Contains(output, "applied=3") {
		t.Errorf("expected applied=3, got: %s", output)
	}
	if !strings.Contains(output, "ERROR") || !strings.Contains(output, "error=index closed") {
		t.Errorf("expected error line, got: %s", output)
	}
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	base := New()
	base.SetOutput(&buf)
	logger := base.WithComponent("indexer").With(map[string]interface{}{"indexer": "search", "batch": 1})

	logger.Info("poll", map[string]interface{}{"batch": 2})

	output := buf.String()
	if !strings.Contains(output, "[indexer] poll batch=2 indexer=search") {
		t.Errorf("expected bound and call fields merged, got: %s", output)
	}

	buf.Reset()
	base.Info("plain")
	if strings.Contains(buf.String(), "indexer=") {
		t.Errorf("parent should not carry child fields: %s", buf.String())
	}
}

func TestLogger_SetOutputShared(t *testing.T) {
	base := New()
	child := base.WithComponent("tasklog")

	var buf bytes.Buffer
	base.SetOutput(&buf)
	child.Info("after redirect")

	if !strings.Contains(buf.String(), "[tasklog] after redirect") {
		t.Errorf("child should follow the parent's output, got: %q", buf.String())
	}
}
