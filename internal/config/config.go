package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Backend types.
const (
	BackendMemory    = "memory"
	BackendNATS      = "nats"
	BackendFirestore = "firestore"
)

const defaultTimeout = 10 * time.Second

type Config struct {
	Host       string         `yaml:"host"       mapstructure:"host"`
	Lease      LeaseConfig    `yaml:"lease"      mapstructure:"lease"`
	Backend    BackendConfig  `yaml:"backend"    mapstructure:"backend"`
	Executor   ExecutorConfig `yaml:"executor"   mapstructure:"executor"`
	Partitions []string       `yaml:"partitions" mapstructure:"partitions"`
}

// LeaseConfig holds lease timings in whole seconds.
type LeaseConfig struct {
	Duration      int64 `yaml:"duration"       mapstructure:"duration"`
	RenewInterval int64 `yaml:"renew_interval" mapstructure:"renew_interval"`
}

type BackendConfig struct {
	Type       string        `yaml:"type"       mapstructure:"type"`
	URL        string        `yaml:"url"        mapstructure:"url"`
	Bucket     string        `yaml:"bucket"     mapstructure:"bucket"`
	Project    string        `yaml:"project"    mapstructure:"project"`
	Collection string        `yaml:"collection" mapstructure:"collection"`
	Timeout    time.Duration `yaml:"timeout"    mapstructure:"timeout"`
}

type ExecutorConfig struct {
	MaxInFlight int `yaml:"max_in_flight" mapstructure:"max_in_flight"`
}

func (c *Config) LeaseDuration() time.Duration {
	return time.Duration(c.Lease.Duration) * time.Second
}

func (c *Config) RenewInterval() time.Duration {
	return time.Duration(c.Lease.RenewInterval) * time.Second
}

func (c *Config) LeaseDurationMs() int64 {
	return c.LeaseDuration().Milliseconds()
}

func (c *Config) RenewIntervalMs() int64 {
	return c.RenewInterval().Milliseconds()
}

// SetDefaults registers the values used when the config file leaves a key
// out.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("lease.duration", 30)
	v.SetDefault("lease.renew_interval", 10)
	v.SetDefault("backend.timeout", defaultTimeout.String())
	v.SetDefault("executor.max_in_flight", 0)
}

func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Backend.Timeout <= 0 {
		cfg.Backend.Timeout = defaultTimeout
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Lease.Duration <= 0 {
		return fmt.Errorf("lease.duration must be > 0")
	}
	if cfg.Lease.RenewInterval <= 0 {
		return fmt.Errorf("lease.renew_interval must be > 0")
	}
	if cfg.Lease.RenewInterval >= cfg.Lease.Duration {
		return fmt.Errorf("lease.renew_interval (%ds) must be less than lease.duration (%ds)",
			cfg.Lease.RenewInterval, cfg.Lease.Duration)
	}
	if cfg.Executor.MaxInFlight < 0 {
		return fmt.Errorf("executor.max_in_flight must be >= 0")
	}

	switch cfg.Backend.Type {
	case "":
		return fmt.Errorf("backend.type is required")
	case BackendMemory:
	case BackendNATS:
		if cfg.Backend.URL == "" {
			return fmt.Errorf("backend.url is required for the nats backend")
		}
		if cfg.Backend.Bucket == "" {
			return fmt.Errorf("backend.bucket is required for the nats backend")
		}
	case BackendFirestore:
		if cfg.Backend.Project == "" {
			return fmt.Errorf("backend.project is required for the firestore backend")
		}
		if cfg.Backend.Collection == "" {
			return fmt.Errorf("backend.collection is required for the firestore backend")
		}
	default:
		return fmt.Errorf("unsupported backend type: %s", cfg.Backend.Type)
	}

	seen := make(map[string]bool)
	for i, id := range cfg.Partitions {
		if id == "" {
			return fmt.Errorf("partitions[%d]: id is required", i)
		}
		if seen[id] {
			return fmt.Errorf("duplicate partition id %q", id)
		}
		seen[id] = true
	}
	return nil
}
