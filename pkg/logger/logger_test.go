package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func newBufferLogger(t *testing.T) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	log, err := NewLogger(&Config{
		Level:            DebugLevel,
		Format:           JSONFormat,
		Output:           WriterOutput,
		Writer:           &buf,
		DisableTimestamp: true,
	})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	return log, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"default", *DefaultConfig(), false},
		{"debug", *DebugConfig(), false},
		{"bad level", Config{Level: "loud", Format: TextFormat, Output: StderrOutput}, true},
		{"bad format", Config{Level: InfoLevel, Format: "xml", Output: StderrOutput}, true},
		{"file without path", Config{Level: InfoLevel, Format: TextFormat, Output: FileOutput}, true},
		{"writer without writer", Config{Level: InfoLevel, Format: TextFormat, Output: WriterOutput}, true},
		{"bad output", Config{Level: InfoLevel, Format: TextFormat, Output: "syslog"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFieldsAccumulate(t *testing.T) {
	log, buf := newBufferLogger(t)

	log.WithComponent("engine").WithItem("a1").WithField("method", "AI Accepted").Info("item resolved")

	lines := decodeLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	got := lines[0]
	if got["component"] != "engine" || got["item_id"] != "a1" || got["method"] != "AI Accepted" {
		t.Errorf("expected chained fields to survive, got %v", got)
	}
	if got["msg"] != "item resolved" {
		t.Errorf("unexpected msg %v", got["msg"])
	}
}

func TestWithErrorAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(&Config{Level: WarnLevel, Format: JSONFormat, Output: WriterOutput, Writer: &buf})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	log.Info("hidden")
	log.WithError(errors.New("boom")).Warn("visible")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected only the warning, got %d lines", len(lines))
	}
	if lines[0]["error"] != "boom" {
		t.Errorf("expected error field, got %v", lines[0])
	}
}

func TestProgressTracker(t *testing.T) {
	log, buf := newBufferLogger(t)

	clock := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	tracker := NewProgressTracker(ProgressConfig{
		Operation:   "script",
		Total:       3,
		LogInterval: time.Second,
		Logger:      log,
		Now:         now,
	})

	tracker.Step(nil)
	clock = clock.Add(2 * time.Second)
	tracker.Step(errors.New("unbalanced"))
	tracker.Step(nil)

	stats := tracker.Complete()
	if stats.Current != 3 || stats.Failed != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.Duration != 2*time.Second {
		t.Errorf("expected 2s duration, got %v", stats.Duration)
	}

	var sawUpdate, sawWarn bool
	for _, line := range decodeLines(t, buf) {
		switch line["msg"] {
		case "Progress update":
			sawUpdate = true
		case "Operation completed with failed steps":
			sawWarn = true
		}
	}
	if !sawUpdate || !sawWarn {
		t.Errorf("expected progress update and completion warning, got %s", buf.String())
	}
}
