package gologger

import (
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

// Loggers is the resolved logging surface for one service name.
type Loggers struct {
	Name     string
	Provider glog.LoggerProvider
	Logger   glog.Logger
}

// Resolve applies provider > logger > nop precedence and prefers the
// provider's logger registered under name. Logger is never nil.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) Loggers {
	name = strings.TrimSpace(name)
	resolvedProvider, resolvedLogger := glog.Resolve(name, provider, logger)
	out := Loggers{Name: name, Provider: resolvedProvider, Logger: glog.Ensure(resolvedLogger)}
	if provider != nil && resolvedProvider != nil {
		if named := resolvedProvider.GetLogger(name); named != nil {
			out.Logger = named
		}
	}
	return out
}

// Component returns the provider's logger for name.component, falling back
// to the service logger.
func (l Loggers) Component(component string) glog.Logger {
	component = strings.TrimSpace(component)
	if l.Provider == nil || component == "" {
		return glog.Ensure(l.Logger)
	}
	key := component
	if l.Name != "" {
		key = l.Name + "." + component
	}
	if logger := l.Provider.GetLogger(key); logger != nil {
		return logger
	}
	return glog.Ensure(l.Logger)
}

// Job bridges the resolved loggers onto go-job's logger contracts for
// workers draining the acknowledge queue.
func (l Loggers) Job() (job.LoggerProvider, job.Logger) {
	logger := glog.Ensure(l.Logger)
	provider := l.Provider
	if provider == nil {
		provider = glog.ProviderFromLogger(logger)
	}
	return job.GoLoggerProvider(provider), job.GoLogger(logger)
}
