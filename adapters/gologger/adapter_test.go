package gologger

import (
	"context"
	"testing"

	glog "github.com/goliatone/go-logger/glog"
)

func TestResolvePrecedence(t *testing.T) {
	providerLogger := &capturingLogger{id: "provider"}
	provider := &capturingProvider{loggers: map[string]*capturingLogger{"sessionsync": providerLogger}}

	resolved := Resolve(" sessionsync ", provider, &capturingLogger{id: "direct"})
	if got, ok := resolved.Logger.(*capturingLogger); !ok || got.id != "provider" {
		t.Fatalf("expected provider logger precedence, got %#v", resolved.Logger)
	}
	if resolved.Name != "sessionsync" {
		t.Fatalf("expected trimmed name, got %q", resolved.Name)
	}

	resolved = Resolve("sessionsync", nil, &capturingLogger{id: "direct"})
	if got, ok := resolved.Logger.(*capturingLogger); !ok || got.id != "direct" {
		t.Fatalf("expected direct logger when provider is nil, got %#v", resolved.Logger)
	}

	resolved = Resolve("sessionsync", nil, nil)
	if resolved.Logger == nil {
		t.Fatalf("expected nop logger fallback")
	}
	resolved.Logger.Info("no-op")
}

func TestComponentLoggers(t *testing.T) {
	sessionLogger := &capturingLogger{id: "session"}
	provider := &capturingProvider{loggers: map[string]*capturingLogger{
		"sessionsync":         {id: "root"},
		"sessionsync.session": sessionLogger,
	}}
	loggers := Resolve("sessionsync", provider, nil)

	if got := loggers.Component("session"); got != sessionLogger {
		t.Fatalf("expected component logger, got %#v", got)
	}
	if got, ok := loggers.Component("polling").(*capturingLogger); ok && got.id != "root" {
		t.Fatalf("expected provider default for unknown component, got %q", got.id)
	}
	if got, ok := loggers.Component(" ").(*capturingLogger); !ok || got.id != "root" {
		t.Fatalf("expected service logger for blank component, got %#v", got)
	}
}

func TestJobBridge(t *testing.T) {
	providerLogger := &capturingLogger{id: "provider"}
	provider := &capturingProvider{loggers: map[string]*capturingLogger{"sessionsync": providerLogger}}

	jobProvider, jobLogger := Resolve("sessionsync", provider, nil).Job()
	if jobProvider == nil || jobLogger == nil {
		t.Fatalf("expected go-job bridges")
	}
	jobProvider.GetLogger("sessionsync").Info("hello", "k", "v")
	if providerLogger.lastInfo.msg != "hello" {
		t.Fatalf("expected bridged message, got %q", providerLogger.lastInfo.msg)
	}
	if args := providerLogger.lastInfo.args; len(args) != 2 || args[0] != "k" || args[1] != "v" {
		t.Fatalf("expected bridged args, got %#v", args)
	}

	_, fallback := Loggers{}.Job()
	if fallback == nil {
		t.Fatalf("expected usable go-job logger without a provider")
	}
}

var (
	_ glog.Logger         = (*capturingLogger)(nil)
	_ glog.LoggerProvider = (*capturingProvider)(nil)
)

type capturingProvider struct {
	loggers map[string]*capturingLogger
}

// GetLogger falls back to the root logger the way glog providers do.
func (p *capturingProvider) GetLogger(name string) glog.Logger {
	if logger, ok := p.loggers[name]; ok {
		return logger
	}
	if root, ok := p.loggers["sessionsync"]; ok {
		return root
	}
	return glog.Nop()
}

type infoCall struct {
	msg  string
	args []any
}

type capturingLogger struct {
	id       string
	lastInfo infoCall
}

func (l *capturingLogger) Trace(string, ...any) {}
func (l *capturingLogger) Debug(string, ...any) {}
func (l *capturingLogger) Warn(string, ...any)  {}
func (l *capturingLogger) Error(string, ...any) {}
func (l *capturingLogger) Fatal(string, ...any) {}

func (l *capturingLogger) Info(msg string, args ...any) {
	l.lastInfo = infoCall{msg: msg, args: append([]any(nil), args...)}
}

func (l *capturingLogger) WithContext(context.Context) glog.Logger {
	return l
}
