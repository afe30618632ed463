package coordinator

import (
	"github.com/goliatone/go-session-sync/core"
)

type Option func(*builder)

type builder struct {
	runtimeConfig   core.Config
	logger          core.Logger
	loggerProvider  core.LoggerProvider
	metrics         core.MetricsRecorder
	configProvider  core.ConfigProvider
	optionsResolver core.OptionsResolver
	markers         core.MarkerStore
	notifier        core.Notifier
	enqueuer        core.JobEnqueuer
	ticker          core.TickerFunc
}

func WithConfig(cfg core.Config) Option {
	return func(b *builder) {
		b.runtimeConfig = cfg
	}
}

func WithLogger(logger core.Logger) Option {
	return func(b *builder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(b *builder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(b *builder) {
		b.metrics = recorder
	}
}

func WithConfigProvider(provider core.ConfigProvider) Option {
	return func(b *builder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver core.OptionsResolver) Option {
	return func(b *builder) {
		b.optionsResolver = resolver
	}
}

func WithMarkerStore(store core.MarkerStore) Option {
	return func(b *builder) {
		b.markers = store
	}
}

func WithNotifier(notifier core.Notifier) Option {
	return func(b *builder) {
		b.notifier = notifier
	}
}

// WithJobEnqueuer defers remote notification acknowledgements to a job queue.
func WithJobEnqueuer(enqueuer core.JobEnqueuer) Option {
	return func(b *builder) {
		b.enqueuer = enqueuer
	}
}

func WithTicker(ticker core.TickerFunc) Option {
	return func(b *builder) {
		b.ticker = ticker
	}
}
