// Package notify delivers user-visible completion and budget alerts.
package notify

import (
	"context"
	"log/slog"
	"os/exec"
	"sync"
)

// Notifier shows short messages to the user. Delivery is best effort:
// Send never reports failure.
type Notifier interface {
	RequestPermission(ctx context.Context) bool
	Send(ctx context.Context, title, body string)
}

// Desktop posts notifications through the platform's notification tool.
// Permission means the tool is installed.
type Desktop struct {
	logger   *slog.Logger
	lookPath func(string) (string, error)
	command  func(name string, args ...string) *exec.Cmd

	once    sync.Once
	path    string
	allowed bool
}

// NewDesktop returns a Desktop notifier using the default logger.
func NewDesktop() *Desktop {
	return &Desktop{
		logger:   slog.Default(),
		lookPath: exec.LookPath,
		command:  exec.Command,
	}
}

// RequestPermission probes for the notification tool once and caches the
// answer.
func (d *Desktop) RequestPermission(_ context.Context) bool {
	d.once.Do(func() {
		p, err := d.lookPath(toolName)
		if err != nil {
			d.logger.Debug("desktop notifications unavailable", "tool", toolName, "error", err)
			return
		}
		d.path = p
		d.allowed = true
	})
	return d.allowed
}

// Send starts the notification tool and returns without waiting for it.
func (d *Desktop) Send(ctx context.Context, title, body string) {
	if !d.RequestPermission(ctx) {
		return
	}
	cmd := d.command(d.path, toolArgs(title, body)...)
	if err := cmd.Start(); err != nil {
		d.logger.Warn("sending desktop notification", "error", err)
		return
	}
	go func() { _ = cmd.Wait() }()
}

// Log writes notifications to a structured logger. It is always permitted.
type Log struct {
	logger *slog.Logger
}

// NewLog returns a Log notifier. A nil logger means slog.Default().
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) RequestPermission(context.Context) bool { return true }

func (l *Log) Send(_ context.Context, title, body string) {
	l.logger.Info("notification", "title", title, "body", body)
}

// Multi fans each call out to several notifiers.
type Multi []Notifier

// RequestPermission asks every notifier and reports whether any granted it.
func (m Multi) RequestPermission(ctx context.Context) bool {
	granted := false
	for _, n := range m {
		if n.RequestPermission(ctx) {
			granted = true
		}
	}
	return granted
}

func (m Multi) Send(ctx context.Context, title, body string) {
	for _, n := range m {
		n.Send(ctx, title, body)
	}
}
