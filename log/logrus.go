package log

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// Priority is the minimum level a logger emits.
type Priority int

const (
	DEBUG Priority = iota
	INFO
	NOTICE
	WARNING
	ERROR
)

// ParsePriority maps a configuration string onto a Priority.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "", "info":
		return INFO, nil
	case "notice":
		return NOTICE, nil
	case "warning", "warn":
		return WARNING, nil
	case "error":
		return ERROR, nil
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

type logrusLogger struct {
	entry    *logrus.Entry
	priority Priority
}

// NewLogrus returns a Logger writing text lines to w.
func NewLogrus(priority Priority, w io.Writer) (Logger, error) {
	if w == nil {
		return nil, fmt.Errorf("log writer must not be nil")
	}
	if priority < DEBUG || priority > ERROR {
		return nil, fmt.Errorf("invalid log priority %d", priority)
	}
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	l.SetLevel(logrus.DebugLevel)
	return &logrusLogger{entry: logrus.NewEntry(l), priority: priority}, nil
}

func (l *logrusLogger) Debug(v ...interface{}) {
	if l.priority > DEBUG {
		return
	}
	l.entry.Debug(v...)
}

func (l *logrusLogger) Info(v ...interface{}) {
	if l.priority > INFO {
		return
	}
	l.entry.Info(v...)
}

func (l *logrusLogger) Notice(v ...interface{}) {
	if l.priority > NOTICE {
		return
	}
	l.entry.WithField("notice", true).Info(v...)
}

func (l *logrusLogger) Warning(v ...interface{}) {
	if l.priority > WARNING {
		return
	}
	l.entry.Warn(v...)
}

func (l *logrusLogger) Error(v ...interface{}) {
	l.entry.Error(v...)
}
