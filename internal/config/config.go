package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`
	Cron   CronConfig   `mapstructure:"cron"`

	Worker     WorkerConfig     `mapstructure:"worker"`
	PriceFeed  PriceFeedConfig  `mapstructure:"price_feed"`
	ClobREST   ClobRESTConfig   `mapstructure:"clob_rest"`
	TradeSkill TradeSkillConfig `mapstructure:"trade_skill"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	RawEventRetention time.Duration `mapstructure:"raw_event_retention"`
	PositionStaleness time.Duration `mapstructure:"position_staleness"`
}

type WorkerConfig struct {
	AutoStart        bool          `mapstructure:"auto_start"`
	TickInterval     time.Duration `mapstructure:"tick_interval"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	CircuitCooldown  time.Duration `mapstructure:"circuit_cooldown"`
	StreamEnabled    bool          `mapstructure:"stream_enabled"`
}

type PriceFeedConfig struct {
	URL               string        `mapstructure:"url"`
	KeepAliveInterval time.Duration `mapstructure:"keepalive_interval"`
	PingTimeout       time.Duration `mapstructure:"ping_timeout"`
	InitialDelay      time.Duration `mapstructure:"initial_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	Multiplier        float64       `mapstructure:"multiplier"`
	UpdateBuffer      int           `mapstructure:"update_buffer"`
	RecordRawEvents   bool          `mapstructure:"record_raw_events"`
}

type ClobRESTConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type TradeSkillConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.raw_event_retention", "24h")
	v.SetDefault("cron.position_staleness", "1h")
	v.SetDefault("worker.auto_start", true)
	v.SetDefault("worker.tick_interval", "30s")
	v.SetDefault("worker.failure_threshold", 5)
	v.SetDefault("worker.circuit_cooldown", "2m")
	v.SetDefault("worker.stream_enabled", true)
	v.SetDefault("price_feed.url", "")
	v.SetDefault("price_feed.keepalive_interval", "20s")
	v.SetDefault("price_feed.ping_timeout", "5s")
	v.SetDefault("price_feed.initial_delay", "1s")
	v.SetDefault("price_feed.max_delay", "30s")
	v.SetDefault("price_feed.multiplier", 2.0)
	v.SetDefault("price_feed.update_buffer", 256)
	v.SetDefault("price_feed.record_raw_events", true)
	v.SetDefault("clob_rest.base_url", "https://clob.polymarket.com")
	v.SetDefault("clob_rest.timeout", "15s")
	v.SetDefault("trade_skill.base_url", "http://localhost:9090")
	v.SetDefault("trade_skill.timeout", "30s")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
