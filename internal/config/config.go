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
	HTTP   HTTPConfig   `mapstructure:"http"`
	Scrape ScrapeConfig `mapstructure:"scrape"`
	BCBid  BCBidConfig  `mapstructure:"bcbid"`
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
	Enabled   bool   `mapstructure:"enabled"`
	ScrapeAll string `mapstructure:"scrape_all"`
}

// HTTPConfig holds the outbound fetch defaults shared by every adapter.
type HTTPConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	Retries      int           `mapstructure:"retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PageDelay    time.Duration `mapstructure:"page_delay"`
	UserAgent    string        `mapstructure:"user_agent"`
}

// ScrapeConfig tunes batch behavior. MaxPages and PageLimit, when set above
// zero, become fallback adapter params shadowed by persisted settings and
// per-run overrides.
type ScrapeConfig struct {
	ContinueOnError bool `mapstructure:"continue_on_error"`
	MaxPages        int  `mapstructure:"max_pages"`
	PageLimit       int  `mapstructure:"page_limit"`
}

// BCBidConfig carries the snapshot-fallback wiring for the bc-bid source.
// Session credentials themselves live in scraper settings, not here.
type BCBidConfig struct {
	SnapshotCommand string        `mapstructure:"snapshot_command"`
	SnapshotDir     string        `mapstructure:"snapshot_dir"`
	SnapshotTimeout time.Duration `mapstructure:"snapshot_timeout"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TS")
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
	v.SetDefault("cron.scrape_all", "0 0 */6 * * *")
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.retries", 3)
	v.SetDefault("http.retry_backoff", "500ms")
	v.SetDefault("http.page_delay", "300ms")
	v.SetDefault("http.user_agent", "Mozilla/5.0 (compatible; OCN Tenders Bot/1.0)")
	v.SetDefault("scrape.continue_on_error", true)
	// 0 leaves paging to each source's own default.
	v.SetDefault("scrape.max_pages", 0)
	v.SetDefault("scrape.page_limit", 0)
	v.SetDefault("bcbid.snapshot_command", "")
	v.SetDefault("bcbid.snapshot_dir", "snapshots/bcbid")
	v.SetDefault("bcbid.snapshot_timeout", "6m")

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
