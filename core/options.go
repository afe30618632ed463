package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	opts "github.com/goliatone/go-options"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// ResolveConfig runs the defaults -> loaded -> runtime pipeline shared by the
// composition roots.
func ResolveConfig(ctx context.Context, runtime Config, provider ConfigProvider, resolver OptionsResolver) (Config, error) {
	if provider == nil {
		provider = NewCfgxConfigProvider(nil)
	}
	if resolver == nil {
		resolver = GoOptionsResolver{}
	}
	defaults := DefaultConfig()
	loaded, err := provider.Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return resolver.Resolve(defaults, loaded, runtime)
}

type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	setString := func(target map[string]any, key string, value string) {
		if includeZero || strings.TrimSpace(value) != "" {
			target[key] = strings.TrimSpace(value)
		}
	}

	setString(layer, "service_name", cfg.ServiceName)
	setString(layer, "default_display_name", cfg.DefaultDisplayName)
	setString(layer, "marker_key", cfg.MarkerKey)
	if includeZero || cfg.RequestTimeout > 0 {
		layer["request_timeout"] = cfg.RequestTimeout
	}
	if includeZero || cfg.ConnectTimeout > 0 {
		layer["connect_timeout"] = cfg.ConnectTimeout
	}

	provider := map[string]any{}
	setString(provider, "client_id", cfg.Provider.ClientID)
	setString(provider, "network", cfg.Provider.Network)
	setString(provider, "chain_id", cfg.Provider.ChainID)
	if len(provider) > 0 {
		layer["provider"] = provider
	}

	if includeZero || cfg.Notifications.PollInterval > 0 {
		layer["notifications"] = map[string]any{
			"poll_interval": cfg.Notifications.PollInterval,
		}
	}

	balance := map[string]any{}
	setString(balance, "event", cfg.Balance.Event)
	if includeZero || cfg.Balance.VerifyInterval > 0 {
		balance["verify_interval"] = cfg.Balance.VerifyInterval
	}
	if len(balance) > 0 {
		layer["balance"] = balance
	}
	return layer
}
