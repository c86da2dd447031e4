// Package ops loads the runtime configuration of the mdsub binary.
package ops

import (
	"os"
	"sort"
	"time"

	"github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"

	"marketsub/internal/logger"
	"marketsub/internal/model/enum"
	"marketsub/internal/obs"
	"marketsub/internal/publisher"
	"marketsub/internal/publisher/pgsnapshot"
	"marketsub/internal/publisher/simfeed"
	"marketsub/internal/publisher/wsfeed"
	"marketsub/internal/subscription"
	"marketsub/pkg/exception"
)

const (
	defaultTickInterval  = 50 * time.Millisecond
	defaultStatsInterval = time.Minute
)

// Config mirrors the YAML config layout.
type Config struct {
	Engine     EngineConfig     `yaml:"engine"`
	Activation ActivationConfig `yaml:"activation"`
	Publishers PublishersConfig `yaml:"publishers"`
	Profiling  ProfilingConfig  `yaml:"profiling"`
	Demo       DemoConfig       `yaml:"demo"`
}

// EngineConfig drives the processing loop.
type EngineConfig struct {
	TickInterval  time.Duration `yaml:"tick_interval"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	StatsInterval time.Duration `yaml:"stats_interval"`
}

// ActivationConfig holds the default activation policy and per channel overrides.
type ActivationConfig struct {
	Default  ActivationEntry            `yaml:"default"`
	Channels map[string]ActivationEntry `yaml:"channels"`
}

// ActivationEntry is one activation policy. Unset fields of a channel entry
// inherit the default entry.
type ActivationEntry struct {
	ActiveSubscriptionsLimit *int           `yaml:"active_subscriptions_limit"`
	DeactivationDelay        *time.Duration `yaml:"deactivation_delay"`
	CacheDataSubscriptions   *bool          `yaml:"cache_data_subscriptions"`
}

// PublishersConfig enables publisher types. A nil section is disabled.
type PublishersConfig struct {
	Stream    *wsfeed.Config     `yaml:"stream"`
	Snapshot  *pgsnapshot.Config `yaml:"snapshot"`
	Simulated *simfeed.Config    `yaml:"simulated"`
}

// ProfilingConfig configures continuous profiling.
type ProfilingConfig struct {
	Enabled         bool   `yaml:"enabled"`
	ServerAddress   string `yaml:"server_address"`
	ApplicationName string `yaml:"application_name"`
}

// DemoConfig lists the accounts whose holdings the binary subscribes at startup.
type DemoConfig struct {
	Publisher string   `yaml:"publisher"`
	Accounts  []string `yaml:"accounts"`
}

// Load reads a YAML config file, fills defaults and validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.Wrap(exception.ErrConfigEmptyPath, "load config")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config").With("path", path)
	}
	return Parse(data)
}

// Parse decodes a YAML document, fills defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Engine.TickInterval == 0 {
		c.Engine.TickInterval = defaultTickInterval
	}
	if c.Engine.SweepInterval == 0 {
		c.Engine.SweepInterval = subscription.DefaultSweepInterval
	}
	if c.Engine.StatsInterval == 0 {
		c.Engine.StatsInterval = defaultStatsInterval
	}
	if c.Profiling.ApplicationName == "" {
		c.Profiling.ApplicationName = "mdsub"
	}
	if c.Demo.Publisher == "" {
		c.Demo.Publisher = c.firstPublisher()
	}
}

func (c *Config) firstPublisher() string {
	switch {
	case c.Publishers.Stream != nil:
		return enum.PublisherTypeStream.String()
	case c.Publishers.Snapshot != nil:
		return enum.PublisherTypeSnapshot.String()
	case c.Publishers.Simulated != nil:
		return enum.PublisherTypeSimulated.String()
	default:
		return ""
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Engine.TickInterval < 0 || c.Engine.SweepInterval < 0 || c.Engine.StatsInterval < 0 {
		return errors.Wrap(exception.ErrConfigInvalidInterval, "validate engine")
	}
	if err := c.Activation.Default.validate(); err != nil {
		return errors.Wrap(err, "validate default activation")
	}
	for name, entry := range c.Activation.Channels {
		if _, ok := enum.ParseChannel(name); !ok {
			return errors.Wrap(exception.ErrConfigUnknownChannel, "validate activation").With("channel", name)
		}
		if err := entry.validate(); err != nil {
			return errors.Wrap(err, "validate activation").With("channel", name)
		}
	}
	if c.firstPublisher() == "" {
		return errors.Wrap(exception.ErrConfigNoPublisher, "validate publishers")
	}
	if _, ok := c.DemoPublisherType(); !ok {
		return errors.Wrap(exception.ErrUnknownPublisherType, "validate demo").With("publisher", c.Demo.Publisher)
	}
	if c.Profiling.Enabled && c.Profiling.ServerAddress == "" {
		return errors.New("config: profiling enabled without server address")
	}
	return nil
}

func (e ActivationEntry) validate() error {
	if e.ActiveSubscriptionsLimit != nil && *e.ActiveSubscriptionsLimit < 0 {
		return exception.ErrConfigInvalidLimit
	}
	if e.DeactivationDelay != nil && *e.DeactivationDelay < 0 {
		return exception.ErrConfigInvalidDelay
	}
	return nil
}

// resolve fills the unset fields of e from base.
func (e ActivationEntry) resolve(base subscription.ActivationConfig) subscription.ActivationConfig {
	if e.ActiveSubscriptionsLimit != nil {
		base.ActiveSubscriptionsLimit = *e.ActiveSubscriptionsLimit
	}
	if e.DeactivationDelay != nil {
		base.DeactivationDelay = *e.DeactivationDelay
	}
	if e.CacheDataSubscriptions != nil {
		base.CacheDataSubscriptions = *e.CacheDataSubscriptions
	}
	return base
}

// DemoPublisherType resolves the publisher type the demo subscriptions use.
func (c *Config) DemoPublisherType() (enum.PublisherType, bool) {
	typeID, ok := enum.ParsePublisherType(c.Demo.Publisher)
	if !ok {
		return 0, false
	}
	return typeID, c.enabled(typeID)
}

func (c *Config) enabled(typeID enum.PublisherType) bool {
	switch typeID {
	case enum.PublisherTypeStream:
		return c.Publishers.Stream != nil
	case enum.PublisherTypeSnapshot:
		return c.Publishers.Snapshot != nil
	case enum.PublisherTypeSimulated:
		return c.Publishers.Simulated != nil
	default:
		return false
	}
}

// ActivationPolicies resolves the default policy and the per channel overrides.
func (c *Config) ActivationPolicies() (subscription.ActivationConfig, map[enum.Channel]subscription.ActivationConfig) {
	def := c.Activation.Default.resolve(subscription.ActivationConfig{})

	names := make([]string, 0, len(c.Activation.Channels))
	for name := range c.Activation.Channels {
		names = append(names, name)
	}
	sort.Strings(names)

	channels := make(map[enum.Channel]subscription.ActivationConfig, len(names))
	for _, name := range names {
		ch, ok := enum.ParseChannel(name)
		if !ok {
			continue
		}
		channels[ch] = c.Activation.Channels[name].resolve(def)
	}
	return def, channels
}

// ManagerConfig converts the file layout into a subscription manager config.
func (c *Config) ManagerConfig(items subscription.DataItemFactory, publishers publisher.Factory, sink logger.Sink, metrics *obs.Metrics) subscription.Config {
	def, channels := c.ActivationPolicies()
	return subscription.Config{
		DataItemFactory:   items,
		PublisherFactory:  publishers,
		SweepInterval:     c.Engine.SweepInterval,
		DefaultActivation: def,
		Activation:        channels,
		Sink:              sink,
		Metrics:           metrics,
	}
}
