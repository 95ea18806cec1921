package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	DB      DBConfig      `mapstructure:"db"`
	Cron    CronConfig    `mapstructure:"cron"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Listing ListingConfig `mapstructure:"listing"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Rank    RankConfig    `mapstructure:"rank"`
	Redis   RedisConfig   `mapstructure:"redis"`
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
	Enabled     bool   `mapstructure:"enabled"`
	RankEnqueue string `mapstructure:"rank_enqueue"`
	ReviewSync  string `mapstructure:"review_sync"`
	JobReaper   string `mapstructure:"job_reaper"`
}

type AuthConfig struct {
	Secret string `mapstructure:"secret"`
}

type ListingConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SyncConfig struct {
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	PageSize       int           `mapstructure:"page_size"`
	MaxPages       int           `mapstructure:"max_pages"`
	FailThreshold  float64       `mapstructure:"fail_threshold"`
	ProgressTTL    time.Duration `mapstructure:"progress_ttl"`
}

type RankConfig struct {
	JobTimeout     time.Duration `mapstructure:"job_timeout"`
	ClaimBatchSize int           `mapstructure:"claim_batch_size"`
	ReapLimit      int           `mapstructure:"reap_limit"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LO")
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
	v.SetDefault("cron.rank_enqueue", "@daily")
	v.SetDefault("cron.review_sync", "@every 1h")
	v.SetDefault("cron.job_reaper", "@every 5m")
	v.SetDefault("listing.base_url", "https://listing-api.example.com")
	v.SetDefault("listing.timeout", "15s")
	v.SetDefault("sync.max_concurrency", 4)
	v.SetDefault("sync.page_size", 50)
	v.SetDefault("sync.max_pages", 20)
	v.SetDefault("sync.fail_threshold", 0.5)
	v.SetDefault("sync.progress_ttl", "2s")
	v.SetDefault("rank.job_timeout", "30m")
	v.SetDefault("rank.claim_batch_size", 5)
	v.SetDefault("rank.reap_limit", 100)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

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
