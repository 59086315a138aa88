// Package config loads and validates the daemon configuration. The
// rest of the pipeline only ever sees the validated, typed form; every
// invariant checked here holds for the whole process lifetime.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/arraybeat/arraybeat/internal/collect"
	"github.com/arraybeat/arraybeat/internal/model"
)

const (
	// MinMetricsInterval is the floor for the fast collection tier;
	// the finest generally available resolution is 30s, so polling
	// faster only re-reads the same samples.
	MinMetricsInterval = 30 * time.Second

	defaultSpaceInterval = 5 * time.Minute
	defaultQueueSize     = 256
	defaultPushTimeout   = 30 * time.Second
	defaultBatchSize     = 5000
	defaultFlushInterval = time.Second
	defaultMaxPending    = 4
	defaultSampleLimit   = 1000
	defaultAPIAddr       = "127.0.0.1:9273"
)

// Config is the full validated daemon configuration.
type Config struct {
	Sink       string                     `mapstructure:"sink"`
	InfluxDB   InfluxDBConfig             `mapstructure:"influxdb"`
	DuckDB     DuckDBConfig               `mapstructure:"duckdb"`
	Arrays     []ArrayConfig              `mapstructure:"array"`
	Collectors map[string]CollectorConfig `mapstructure:"collector"`
	Queue      QueueConfig                `mapstructure:"queue"`
	Writer     WriterConfig               `mapstructure:"writer"`
	API        APIConfig                  `mapstructure:"api"`

	// MeasurementPrefix is prepended to every measurement name before
	// it reaches the sink, whichever sink is configured.
	MeasurementPrefix string `mapstructure:"measurement-prefix"`

	// SampleLimit is the vendor cap on samples per historical query.
	SampleLimit int `mapstructure:"sample-limit"`

	// ConfigPath records which file was loaded; not itself config.
	ConfigPath string `mapstructure:"-"`
}

// InfluxDBConfig describes the InfluxDB 1.x sink.
type InfluxDBConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	SSL             bool   `mapstructure:"ssl"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	Database        string `mapstructure:"database"`
	RetentionPolicy string `mapstructure:"retention-policy"`
}

// DuckDBConfig describes the local DuckDB sink.
type DuckDBConfig struct {
	Path string `mapstructure:"path"`
}

// ArrayConfig describes one storage array to poll. The key material
// is opaque to the pipeline; only the source client reads it.
type ArrayConfig struct {
	Host               string        `mapstructure:"host"`
	Name               string        `mapstructure:"name"`
	User               string        `mapstructure:"user"`
	ClientID           string        `mapstructure:"client-id"`
	KeyID              string        `mapstructure:"key-id"`
	Issuer             string        `mapstructure:"issuer"`
	PrivateKey         string        `mapstructure:"private-key"`
	PrivateKeyFile     string        `mapstructure:"private-key-file"`
	PrivateKeyPassword string        `mapstructure:"private-key-password"`
	Disable            bool          `mapstructure:"disable"`
	MetricsInterval    time.Duration `mapstructure:"metrics-interval"`
	SpaceInterval      time.Duration `mapstructure:"space-interval"`
	Collectors         []string      `mapstructure:"collectors"`
}

// ID returns the stable source identifier: the override name when
// set, the host otherwise. Unique across all configured arrays.
func (a ArrayConfig) ID() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Host
}

// CollectorConfig overrides one family's resolution.
type CollectorConfig struct {
	Resolution time.Duration `mapstructure:"resolution"`
}

// QueueConfig tunes the delivery queue.
type QueueConfig struct {
	Size        int           `mapstructure:"size"`
	PushTimeout time.Duration `mapstructure:"push-timeout"`
}

// WriterConfig tunes the delivery writer.
type WriterConfig struct {
	BatchSize              int           `mapstructure:"batch-size"`
	FlushInterval          time.Duration `mapstructure:"flush-interval"`
	MaxPending             int           `mapstructure:"max-pending"`
	RetryInitial           time.Duration `mapstructure:"retry-initial"`
	RetryMax               time.Duration `mapstructure:"retry-max"`
	MaxRetries             int           `mapstructure:"max-retries"`
	MaxConsecutiveFailures int           `mapstructure:"max-consecutive-failures"`
}

// APIConfig tunes the status HTTP API.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load reads the config file, applies defaults and environment
// overrides, and validates the result.
func Load(path string) (Config, error) {
	var cfg Config

	v := viper.New()
	v.SetEnvPrefix("ARRAYBEAT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	v.SetDefault("sink", "influxdb")
	v.SetDefault("influxdb.port", 8086)
	v.SetDefault("queue.size", defaultQueueSize)
	v.SetDefault("queue.push-timeout", defaultPushTimeout)
	v.SetDefault("writer.batch-size", defaultBatchSize)
	v.SetDefault("writer.flush-interval", defaultFlushInterval)
	v.SetDefault("writer.max-pending", defaultMaxPending)
	v.SetDefault("writer.retry-initial", 500*time.Millisecond)
	v.SetDefault("writer.retry-max", 30*time.Second)
	v.SetDefault("writer.max-retries", 5)
	v.SetDefault("writer.max-consecutive-failures", 5)
	v.SetDefault("sample-limit", defaultSampleLimit)
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.addr", defaultAPIAddr)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("arraybeat")
		v.SetConfigType("toml")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Arrays {
		a := &c.Arrays[i]
		if a.MetricsInterval == 0 {
			a.MetricsInterval = MinMetricsInterval
		}
		if a.SpaceInterval == 0 {
			a.SpaceInterval = defaultSpaceInterval
		}
		if len(a.Collectors) == 0 {
			a.Collectors = collect.FamilyNames()
		}
	}
}

// Validate enforces every pre-flight invariant. A failure here blocks
// startup; nothing in the pipeline re-checks these.
func (c *Config) Validate() error {
	switch c.Sink {
	case "influxdb":
		if c.InfluxDB.Host == "" {
			return model.Configf("influxdb.host", "required for the influxdb sink")
		}
		if c.InfluxDB.Database == "" {
			return model.Configf("influxdb.database", "required for the influxdb sink")
		}
	case "duckdb":
		if c.DuckDB.Path == "" {
			return model.Configf("duckdb.path", "required for the duckdb sink")
		}
	default:
		return model.Configf("sink", "unknown sink %q (want influxdb or duckdb)", c.Sink)
	}

	if len(c.Arrays) == 0 {
		return model.Configf("array", "at least one array must be configured")
	}

	seen := make(map[string]bool)
	for i, a := range c.Arrays {
		field := fmt.Sprintf("array[%d]", i)
		if a.Host == "" {
			return model.Configf(field+".host", "required")
		}
		for _, id := range []string{a.Host, a.Name} {
			if id == "" {
				continue
			}
			if seen[id] {
				return model.Configf(field, "duplicate host and/or name: %s", id)
			}
			seen[id] = true
		}
		if a.MetricsInterval < MinMetricsInterval {
			return model.Configf(field+".metrics-interval", "%s is below the minimum %s", a.MetricsInterval, MinMetricsInterval)
		}
		if (a.PrivateKey != "") == (a.PrivateKeyFile != "") {
			return model.Configf(field, "provide exactly one of private-key and private-key-file")
		}
		for _, name := range a.Collectors {
			if _, ok := collect.Families[name]; !ok {
				return model.Configf(field+".collectors", "unknown collector %q, see -list-collectors", name)
			}
		}
	}

	for name, cc := range c.Collectors {
		family, ok := collect.Families[name]
		if !ok {
			return model.Configf("collector."+name, "unknown collector, see -list-collectors")
		}
		if cc.Resolution == 0 {
			continue
		}
		if family.Snapshot() {
			return model.Configf("collector."+name, "family serves only current values, resolution is not configurable")
		}
		if !family.Catalog.Contains(cc.Resolution) {
			return model.Configf("collector."+name+".resolution", "%s is not in the catalog %v", cc.Resolution, family.Catalog)
		}
	}
	return nil
}

// Resolution returns the configured resolution override for a family,
// or zero when the family default applies.
func (c *Config) Resolution(family string) time.Duration {
	if cc, ok := c.Collectors[family]; ok {
		return cc.Resolution
	}
	return 0
}
