package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"tickflow/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Source    SourceConfig    `mapstructure:"source"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Forwarder ForwarderConfig `mapstructure:"forwarder"`
	API       APIConfig       `mapstructure:"api"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// SourceConfig encapsulates the Redis pub/sub tick source.
type SourceConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// ChannelExchanges maps a pub/sub channel name to the exchange name
	// recorded on every tick received from it.
	ChannelExchanges map[string]string `mapstructure:"channel_exchanges"`
}

// Channels returns the subscribed channel names.
func (c SourceConfig) Channels() []string {
	channels := make([]string, 0, len(c.ChannelExchanges))
	for channel := range c.ChannelExchanges {
		channels = append(channels, channel)
	}
	return channels
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// PipelineConfig governs batching and flush behaviour.
type PipelineConfig struct {
	MaxBatchSize     int           `mapstructure:"max_batch_size"`
	MaxBatchAge      time.Duration `mapstructure:"max_batch_age"`
	QueueCapacity    int           `mapstructure:"queue_capacity"`
	ForwardQueueSize int           `mapstructure:"forward_queue_size"`
	ShutdownGrace    time.Duration `mapstructure:"shutdown_grace"`
	RetryMaxAttempts int           `mapstructure:"retry_max_attempts"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	RetryMaxBackoff  time.Duration `mapstructure:"retry_max_backoff"`
}

// ForwarderConfig captures Centrifugo connectivity for real-time fan-out.
type ForwarderConfig struct {
	APIURL         string        `mapstructure:"api_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// APIConfig configures the historical query HTTP server.
type APIConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AlertingConfig defines operator alerting for terminal flush failures.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram alert delivery.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// GeneratorConfig tunes the random-walk tick generator.
type GeneratorConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	// MinMove is the minimum absolute price move required before a tick
	// is published.
	MinMove float64 `mapstructure:"min_move"`
	// MaxStep bounds the absolute per-iteration random walk step.
	MaxStep float64 `mapstructure:"max_step"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TICKFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "tickflow")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("source.addr", "localhost:6379")
	v.SetDefault("source.db", 0)
	v.SetDefault("source.channel_exchanges", map[string]string{
		"NASDAQ": "NASDAQ",
		"NYSE":   "NYSE",
	})

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("pipeline.max_batch_size", 100)
	v.SetDefault("pipeline.max_batch_age", "5s")
	v.SetDefault("pipeline.queue_capacity", 1024)
	v.SetDefault("pipeline.forward_queue_size", 256)
	v.SetDefault("pipeline.shutdown_grace", "10s")
	v.SetDefault("pipeline.retry_max_attempts", 3)
	v.SetDefault("pipeline.retry_backoff", "500ms")
	v.SetDefault("pipeline.retry_max_backoff", "5s")

	v.SetDefault("forwarder.api_url", "http://localhost:8000/api")
	v.SetDefault("forwarder.request_timeout", "5s")

	v.SetDefault("api.listen_addr", ":8080")
	v.SetDefault("api.read_timeout", "10s")
	v.SetDefault("api.write_timeout", "10s")
	v.SetDefault("api.shutdown_timeout", "10s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("generator.interval", "100ms")
	v.SetDefault("generator.min_move", 0.10)
	v.SetDefault("generator.max_step", 0.50)

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if len(c.Source.ChannelExchanges) == 0 {
		return fmt.Errorf("source.channel_exchanges must map at least one channel")
	}
	for channel, exchange := range c.Source.ChannelExchanges {
		if channel == "" || exchange == "" {
			return fmt.Errorf("source.channel_exchanges entries must be non-empty")
		}
	}
	if c.Pipeline.MaxBatchSize <= 0 {
		return fmt.Errorf("pipeline.max_batch_size must be greater than zero")
	}
	if c.Pipeline.MaxBatchAge <= 0 {
		return fmt.Errorf("pipeline.max_batch_age must be greater than zero")
	}
	if c.Pipeline.QueueCapacity <= 0 {
		return fmt.Errorf("pipeline.queue_capacity must be greater than zero")
	}
	if c.Pipeline.RetryMaxAttempts <= 0 {
		return fmt.Errorf("pipeline.retry_max_attempts must be greater than zero")
	}
	if c.Generator.MaxStep <= 0 {
		return fmt.Errorf("generator.max_step must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
