package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type capturedCounter struct {
	name  string
	value int64
	tags  map[string]string
}

type capturedHistogram struct {
	name  string
	value float64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu         sync.Mutex
	counters   []capturedCounter
	histograms []capturedHistogram
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, capturedCounter{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, capturedHistogram{name: name, value: value, tags: cloneTags(tags)})
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu      *sync.Mutex
	records *[]capturedLog
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return l
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := map[string]any{}
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]capturedLog, len(*l.records))
	copy(out, *l.records)
	return out
}

func TestObserver_ObserveOperationSuccess(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	observer := NewObserver("sessionsync", logger, metrics)

	observer.ObserveOperation(context.Background(), time.Now(), "Poll Fetch", nil, map[string]any{"engine": "notifications"})

	if len(metrics.counters) != 1 || metrics.counters[0].name != "sessionsync.poll_fetch.total" {
		t.Fatalf("unexpected counters %+v", metrics.counters)
	}
	tags := metrics.counters[0].tags
	if tags["status"] != "success" || tags["engine"] != "notifications" {
		t.Fatalf("unexpected counter tags %+v", tags)
	}
	if len(metrics.histograms) != 1 || metrics.histograms[0].name != "sessionsync.poll_fetch.duration_ms" {
		t.Fatalf("unexpected histograms %+v", metrics.histograms)
	}
	logs := logger.snapshot()
	if len(logs) != 1 || logs[0].level != "debug" || logs[0].msg != "poll_fetch succeeded" {
		t.Fatalf("unexpected logs %+v", logs)
	}
}

func TestObserver_ObserveOperationFailureCarriesTextCode(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	observer := NewObserver("", logger, metrics)

	observer.ObserveOperation(context.Background(), time.Now(), "poll_fetch", FetchError(errors.New("timeout"), "balance"), nil)

	if metrics.counters[0].name != DefaultServiceName+".poll_fetch.total" || metrics.counters[0].tags["status"] != "failure" {
		t.Fatalf("unexpected counter %+v", metrics.counters[0])
	}
	logs := logger.snapshot()
	if len(logs) != 1 || logs[0].level != "error" {
		t.Fatalf("expected one error log, got %+v", logs)
	}
	if logs[0].fields["text_code"] != ErrorFetchFailed {
		t.Fatalf("expected text code field, got %+v", logs[0].fields)
	}
}

func TestObserver_NilIsSafe(t *testing.T) {
	var observer *Observer
	observer.ObserveOperation(context.Background(), time.Now(), "noop", nil, nil)
	observer.Count(context.Background(), "noop", nil)
	observer.Info(context.Background(), "noop", nil)
}
