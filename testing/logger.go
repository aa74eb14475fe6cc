// Copyright 2020 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package testing

import (
	"fmt"
	"sync"

	"github.com/juju/loggo/v2"
)

// CheckLog is an interface that can be used to log messages to a
// *testing.T or *check.C.
type CheckLog interface {
	Logf(string, ...any)
}

// CheckLogger is a logger that logs to a *testing.T or *check.C. It also
// records every message so tests can assert on what was logged.
type CheckLogger struct {
	Log CheckLog

	mu      *sync.Mutex
	entries *[]LogEntry
}

// LogEntry is a single message recorded by a CheckLogger.
type LogEntry struct {
	Level   loggo.Level
	Message string
}

// NewCheckLogger returns a CheckLogger that logs to the given CheckLog.
func NewCheckLogger(log CheckLog) CheckLogger {
	return CheckLogger{
		Log:     log,
		mu:      &sync.Mutex{},
		entries: &[]LogEntry{},
	}
}

func (c CheckLogger) Criticalf(msg string, args ...any) { c.Logf(loggo.CRITICAL, msg, args...) }
func (c CheckLogger) Errorf(msg string, args ...any)    { c.Logf(loggo.ERROR, msg, args...) }
func (c CheckLogger) Warningf(msg string, args ...any)  { c.Logf(loggo.WARNING, msg, args...) }
func (c CheckLogger) Infof(msg string, args ...any)     { c.Logf(loggo.INFO, msg, args...) }
func (c CheckLogger) Debugf(msg string, args ...any)    { c.Logf(loggo.DEBUG, msg, args...) }
func (c CheckLogger) Tracef(msg string, args ...any)    { c.Logf(loggo.TRACE, msg, args...) }

// Logf logs the message at the given level.
func (c CheckLogger) Logf(level loggo.Level, msg string, args ...any) {
	formatted := fmt.Sprintf(msg, args...)
	if c.mu != nil {
		c.mu.Lock()
		*c.entries = append(*c.entries, LogEntry{Level: level, Message: formatted})
		c.mu.Unlock()
	}
	c.Log.Logf("%s: %s", level.String(), formatted)
}

// Entries returns a copy of the messages logged so far.
func (c CheckLogger) Entries() []LogEntry {
	if c.mu == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]LogEntry(nil), *c.entries...)
}

// Messages returns the messages logged at the given level.
func (c CheckLogger) Messages(level loggo.Level) []string {
	var messages []string
	for _, entry := range c.Entries() {
		if entry.Level == level {
			messages = append(messages, entry.Message)
		}
	}
	return messages
}

// NoopLogger is a logger that does nothing.
type NoopLogger struct{}

func (NoopLogger) Criticalf(string, ...any) {}
func (NoopLogger) Errorf(string, ...any)    {}
func (NoopLogger) Warningf(string, ...any)  {}
func (NoopLogger) Infof(string, ...any)     {}
func (NoopLogger) Debugf(string, ...any)    {}
func (NoopLogger) Tracef(string, ...any)    {}
