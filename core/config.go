package core

import (
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	DefaultServiceName        = "sessionsync"
	DefaultPollInterval       = 30 * time.Second
	DefaultRequestTimeout     = 10 * time.Second
	DefaultDisplayName        = "Anonymous User"
	DefaultMarkerKey          = "lastSessionEmail"
	DefaultBalanceEvent       = "balanceUpdated"
	minimumPollInterval       = 10 * time.Millisecond
	minimumRequestTimeoutSpan = time.Millisecond
)

type ProviderConfig struct {
	ClientID string `koanf:"client_id" mapstructure:"client_id"`
	Network  string `koanf:"network" mapstructure:"network"`
	ChainID  string `koanf:"chain_id" mapstructure:"chain_id"`
}

type NotificationsConfig struct {
	PollInterval time.Duration `koanf:"poll_interval" mapstructure:"poll_interval"`
}

type BalanceConfig struct {
	Event string `koanf:"event" mapstructure:"event"`
	// VerifyInterval enables periodic authoritative re-verification; zero
	// keeps the refetch one-shot per session change.
	VerifyInterval time.Duration `koanf:"verify_interval" mapstructure:"verify_interval"`
}

type Config struct {
	ServiceName        string              `koanf:"service_name" mapstructure:"service_name"`
	RequestTimeout     time.Duration       `koanf:"request_timeout" mapstructure:"request_timeout"`
	ConnectTimeout     time.Duration       `koanf:"connect_timeout" mapstructure:"connect_timeout"`
	DefaultDisplayName string              `koanf:"default_display_name" mapstructure:"default_display_name"`
	MarkerKey          string              `koanf:"marker_key" mapstructure:"marker_key"`
	Provider           ProviderConfig      `koanf:"provider" mapstructure:"provider"`
	Notifications      NotificationsConfig `koanf:"notifications" mapstructure:"notifications"`
	Balance            BalanceConfig       `koanf:"balance" mapstructure:"balance"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:        DefaultServiceName,
		RequestTimeout:     DefaultRequestTimeout,
		DefaultDisplayName: DefaultDisplayName,
		MarkerKey:          DefaultMarkerKey,
		Notifications: NotificationsConfig{
			PollInterval: DefaultPollInterval,
		},
		Balance: BalanceConfig{
			Event: DefaultBalanceEvent,
		},
	}
}

func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.ServiceName, validation.By(requiredTrimmed)),
		validation.Field(&c.MarkerKey, validation.By(requiredTrimmed)),
		validation.Field(&c.RequestTimeout, validation.Required, validation.Min(minimumRequestTimeoutSpan)),
		validation.Field(&c.ConnectTimeout, validation.Min(time.Duration(0))),
	)
	if err != nil {
		return fmt.Errorf("core: invalid config: %w", err)
	}
	if c.Notifications.PollInterval < minimumPollInterval {
		return fmt.Errorf("core: notifications.poll_interval must be at least %s", minimumPollInterval)
	}
	if strings.TrimSpace(c.Balance.Event) == "" {
		return fmt.Errorf("core: balance.event is required")
	}
	if c.Balance.VerifyInterval < 0 {
		return fmt.Errorf("core: balance.verify_interval must not be negative")
	}
	return nil
}

// WithDefaults fills zero values from DefaultConfig.
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()
	if strings.TrimSpace(c.ServiceName) == "" {
		c.ServiceName = defaults.ServiceName
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaults.RequestTimeout
	}
	if strings.TrimSpace(c.DefaultDisplayName) == "" {
		c.DefaultDisplayName = defaults.DefaultDisplayName
	}
	if strings.TrimSpace(c.MarkerKey) == "" {
		c.MarkerKey = defaults.MarkerKey
	}
	if c.Notifications.PollInterval <= 0 {
		c.Notifications.PollInterval = defaults.Notifications.PollInterval
	}
	if strings.TrimSpace(c.Balance.Event) == "" {
		c.Balance.Event = defaults.Balance.Event
	}
	return c
}

func requiredTrimmed(value any) error {
	text, _ := value.(string)
	if strings.TrimSpace(text) == "" {
		return validation.NewError("validation_required", "cannot be blank")
	}
	return nil
}
