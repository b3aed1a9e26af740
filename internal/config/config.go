package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/h2station/internal/errors"
	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultEnvPrefix  = "H2STATION"
	DefaultConfigName = "h2station"
	DefaultLogLevel   = "info"
)

type Config struct {
	Unit      string `mapstructure:"unit"`
	Device    int    `mapstructure:"device"`
	LogLevel  string `mapstructure:"log_level"`
	PIDDir    string `mapstructure:"pid_dir"`
	Once      bool   `mapstructure:"once"`
	Provision bool   `mapstructure:"provision"`

	Fieldbus FieldbusConfig `mapstructure:"fieldbus"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type FieldbusConfig struct {
	Address string        `mapstructure:"address"`
	SlaveID int           `mapstructure:"slave_id"`
	Timeout time.Duration `mapstructure:"timeout"`
	Start   int           `mapstructure:"start"`
	Count   int           `mapstructure:"count"`
}

type StorageConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Location string `mapstructure:"location"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	DB       int    `mapstructure:"db"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Queue    string `mapstructure:"queue"`
}

type MQTTConfig struct {
	Broker         string        `mapstructure:"broker"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	QoS            int           `mapstructure:"qos"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

type PipelineConfig struct {
	Mode              Mode          `mapstructure:"mode"`
	Interval          time.Duration `mapstructure:"interval"`
	Workers           int           `mapstructure:"workers"`
	FlushThreshold    int           `mapstructure:"flush_threshold"`
	MaxBuffered       int           `mapstructure:"max_buffered"`
	Durable           bool          `mapstructure:"durable"`
	DrainEvery        int           `mapstructure:"drain_every"`
	AnalyzeEvery      int           `mapstructure:"analyze_every"`
	StatsPersistEvery int           `mapstructure:"stats_persist_every"`
	HomeEvery         int           `mapstructure:"home_every"`
}

type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

var defaults = map[string]any{
	"unit":      "1",
	"device":    1,
	"log_level": DefaultLogLevel,
	"pid_dir":   os.TempDir(),
	"once":      false,
	"provision": false,

	"fieldbus.address":  "127.0.0.1:502",
	"fieldbus.slave_id": 1,
	"fieldbus.timeout":  "200ms",
	"fieldbus.start":    0,
	"fieldbus.count":    3023,

	"storage.driver":   "sqlite3",
	"storage.dsn":      "h2station.db",
	"storage.location": "Local",

	"redis.address":  "127.0.0.1:6379",
	"redis.db":       0,
	"redis.username": "",
	"redis.password": "",
	"redis.queue":    "h2:samples",

	"mqtt.broker":          "tcp://127.0.0.1:1883",
	"mqtt.client_id":       "",
	"mqtt.username":        "",
	"mqtt.password":        "",
	"mqtt.qos":             1,
	"mqtt.publish_timeout": "10s",

	"pipeline.mode":                ModeAll,
	"pipeline.interval":            "1s",
	"pipeline.workers":             4,
	"pipeline.flush_threshold":     60,
	"pipeline.max_buffered":        3600,
	"pipeline.durable":             false,
	"pipeline.drain_every":         60,
	"pipeline.analyze_every":       5,
	"pipeline.stats_persist_every": 720,
	"pipeline.home_every":          2,

	"metrics.listen": "",
}

// Load reads configuration from defaults, the config file, the environment
// and the given command line arguments, in increasing order of precedence.
func Load(args []string, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	flags := pflag.NewFlagSet(DefaultConfigName, pflag.ContinueOnError)
	configFlag := flags.String("config", "", "Path to configuration file")
	flags.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	flags.String("mode", string(ModeAll), "Pipeline mode (acquire, analyze, all)")
	flags.Duration("interval", time.Second, "Acquisition tick interval")
	flags.Bool("once", false, "Run a single tick and exit")
	flags.Bool("provision", false, "Create storage schema before starting")

	if err := flags.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	bindings := map[string]string{
		"log_level":         "log-level",
		"pipeline.mode":     "mode",
		"pipeline.interval": "interval",
		"once":              "once",
		"provision":         "provision",
	}
	for key, name := range bindings {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := o.configPath
	if *configFlag != "" {
		path = *configFlag
	}
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}

	if err := readConfigFile(v, path); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "h2station-" + uuid.NewString()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func readConfigFile(v *viper.Viper, path string) error {
	errFactory := errors.New()
	v.SetConfigType("toml")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}

		return nil
	}

	v.SetConfigName(DefaultConfigName)
	v.AddConfigPath("/etc/h2station")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "h2station"))
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	return nil
}

// Validate checks every section and returns the first violation found
func (c *Config) Validate() error {
	errFactory := errors.New()

	if len(c.Unit) != 1 || c.Unit[0] < '1' || c.Unit[0] > '9' {
		return errFactory.WithData(errors.ErrInvalidUnit, c.Unit)
	}

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	if !c.Pipeline.Mode.IsValid() {
		return errFactory.WithData(errors.ErrInvalidMode, c.Pipeline.Mode)
	}

	if c.Pipeline.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Pipeline.Interval)
	}

	if _, err := c.Storage.Loc(); err != nil {
		return errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	checks := []struct {
		ok     bool
		reason string
	}{
		{c.Device >= 0, "device must not be negative"},
		{c.Fieldbus.Address != "", "fieldbus address is required"},
		{c.Fieldbus.SlaveID >= 0 && c.Fieldbus.SlaveID <= 247, "fieldbus slave_id must be in 0..247"},
		{c.Fieldbus.Timeout > 0, "fieldbus timeout must be positive"},
		{c.Fieldbus.Start >= 0 && c.Fieldbus.Count > 0, "fieldbus register window must be positive"},
		{c.Fieldbus.Start+c.Fieldbus.Count <= 65536, "fieldbus register window exceeds the address space"},
		{c.Storage.Driver == "sqlite3" || c.Storage.Driver == "taosRestful", "storage driver must be sqlite3 or taosRestful"},
		{c.Storage.DSN != "", "storage dsn is required"},
		{c.Redis.Address != "", "redis address is required"},
		{c.Redis.Queue != "", "redis queue is required"},
		{c.MQTT.Broker != "", "mqtt broker is required"},
		{c.MQTT.QoS >= 0 && c.MQTT.QoS <= 2, "mqtt qos must be 0, 1 or 2"},
		{c.MQTT.PublishTimeout > 0, "mqtt publish_timeout must be positive"},
		{c.Pipeline.Workers >= 1, "pipeline workers must be at least 1"},
		{c.Pipeline.FlushThreshold >= 1, "pipeline flush_threshold must be at least 1"},
		{c.Pipeline.MaxBuffered >= c.Pipeline.FlushThreshold, "pipeline max_buffered must not be below flush_threshold"},
		{c.Pipeline.DrainEvery >= 1, "pipeline drain_every must be at least 1"},
		{c.Pipeline.AnalyzeEvery >= 1, "pipeline analyze_every must be at least 1"},
		{c.Pipeline.StatsPersistEvery >= 1, "pipeline stats_persist_every must be at least 1"},
		{c.Pipeline.HomeEvery >= 1, "pipeline home_every must be at least 1"},
	}
	for _, check := range checks {
		if !check.ok {
			return errFactory.WithData(errors.ErrInvalidConfig, check.reason)
		}
	}

	return nil
}

// Loc resolves the configured time zone used for day partitioning and
// alarm timestamps
func (s StorageConfig) Loc() (*time.Location, error) {
	if s.Location == "" || s.Location == "Local" {
		return time.Local, nil
	}

	return time.LoadLocation(s.Location)
}
