package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogrusDebugPriority(t *testing.T) {
	var b bytes.Buffer
	logger, err := NewLogrus(DEBUG, &b)
	if err != nil {
		t.Fatal("Failed to create new logger:", err)
	}

	tests := []struct {
		name  string
		log   func(...interface{})
		level string
	}{
		{"debug", logger.Debug, "level=debug"},
		{"info", logger.Info, "level=info"},
		{"notice", logger.Notice, "notice=true"},
		{"warning", logger.Warning, "level=warning"},
		{"error", logger.Error, "level=error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b.Reset()
			msg := "This is a " + tt.name + " message."
			tt.log(msg)
			if !strings.Contains(b.String(), tt.level) || !strings.Contains(b.String(), msg) {
				t.Errorf("Expected %q with %q, got: %s", msg, tt.level, b.String())
			}
		})
	}
}

func TestLogrusErrorPriority(t *testing.T) {
	var b bytes.Buffer
	logger, err := NewLogrus(ERROR, &b)
	if err != nil {
		t.Fatal("Failed to create new logger:", err)
	}

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Notice("notice message")
	logger.Warning("warning message")
	if b.Len() != 0 {
		t.Errorf("Expected no output below error priority, got: %s", b.String())
	}
	logger.Error("error message")
	if !strings.Contains(b.String(), "error message") {
		t.Error("Failed to find error message.")
	}
}

func TestGlobalLoggerDisabled(t *testing.T) {
	SetLogger(nil)
	// Must not panic without a registered logger.
	Debug("nothing")
	Error("nothing")

	var b bytes.Buffer
	logger, err := NewLogrus(INFO, &b)
	if err != nil {
		t.Fatal(err)
	}
	SetLogger(logger)
	defer SetLogger(nil)
	Info("registered")
	if !strings.Contains(b.String(), "registered") {
		t.Error("Expected global Info to reach the registered logger")
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{"debug", DEBUG, false},
		{"", INFO, false},
		{"WARN", WARNING, false},
		{"error", ERROR, false},
		{"verbose", INFO, true},
	}
	for _, tt := range tests {
		got, err := ParsePriority(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePriority(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParsePriority(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
