package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	DB        DBConfig        `mapstructure:"db"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Cron      CronConfig      `mapstructure:"cron"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`

	Wildberries WildberriesConfig `mapstructure:"wildberries"`
	Ozon        OzonConfig        `mapstructure:"ozon"`
	Notify      NotifyConfig      `mapstructure:"notify"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr  string `mapstructure:"http_addr"`
	AuthToken string `mapstructure:"auth_token"`
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

// RedisConfig is optional. With Enabled=false the collector keeps its rate
// limit and notification dedup state in process memory.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type CronConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Short           string `mapstructure:"short"`
	Medium          string `mapstructure:"medium"`
	Long            string `mapstructure:"long"`
	RetryDrain      string `mapstructure:"retry_drain"`
	RegistryRefresh string `mapstructure:"registry_refresh"`
}

type QueueConfig struct {
	BaseBackoff    time.Duration `mapstructure:"base_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	DequeueTimeout time.Duration `mapstructure:"dequeue_timeout"`
}

type WorkersConfig struct {
	Size        int           `mapstructure:"size"`
	JoinTimeout time.Duration `mapstructure:"join_timeout"`
}

type RateLimitConfig struct {
	Backend     string        `mapstructure:"backend"`
	Wildberries time.Duration `mapstructure:"wildberries"`
	Ozon        time.Duration `mapstructure:"ozon"`
}

type SyncConfig struct {
	NextInterval time.Duration `mapstructure:"next_interval"`
}

type SchedulerConfig struct {
	StartupPass        bool          `mapstructure:"startup_pass"`
	DailyStockHour     int           `mapstructure:"daily_stock_hour"`
	Timezone           string        `mapstructure:"timezone"`
	ManualPollInterval time.Duration `mapstructure:"manual_poll_interval"`
	ManualBatchSize    int           `mapstructure:"manual_batch_size"`
	ManualStaleAfter   time.Duration `mapstructure:"manual_stale_after"`
}

type WildberriesConfig struct {
	StatisticsURL  string        `mapstructure:"statistics_url"`
	ContentURL     string        `mapstructure:"content_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	StatisticsWait time.Duration `mapstructure:"statistics_wait"`
	CardsThrottle  time.Duration `mapstructure:"cards_throttle"`
	CardsRetries   int           `mapstructure:"cards_retries"`
	HistoryStart   string        `mapstructure:"history_start"`
}

type OzonConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	Timeout            time.Duration `mapstructure:"timeout"`
	ReportPollInterval time.Duration `mapstructure:"report_poll_interval"`
	ReportMaxPolls     int           `mapstructure:"report_max_polls"`
	PagePause          time.Duration `mapstructure:"page_pause"`
	OrderWindowDays    int           `mapstructure:"order_window_days"`
	OrderFallbackDays  int           `mapstructure:"order_fallback_days"`
	OrderRescan        time.Duration `mapstructure:"order_rescan"`
	SalesLookbackMonth int           `mapstructure:"sales_lookback_months"`
	FinanceRetries     int           `mapstructure:"finance_retries"`
	FinanceRetryWait   time.Duration `mapstructure:"finance_retry_wait"`
	BundleRetries      int           `mapstructure:"bundle_retries"`
	BundleRetryWait    time.Duration `mapstructure:"bundle_retry_wait"`
}

type NotifyConfig struct {
	DedupTTL time.Duration  `mapstructure:"dedup_ttl"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Email    EmailConfig    `mapstructure:"email"`
	Platform PlatformConfig `mapstructure:"platform"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BaseURL  string `mapstructure:"base_url"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

type EmailConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	SMTPHost  string   `mapstructure:"smtp_host"`
	SMTPPort  int      `mapstructure:"smtp_port"`
	SMTPUser  string   `mapstructure:"smtp_user"`
	SMTPPass  string   `mapstructure:"smtp_pass"`
	FromEmail string   `mapstructure:"from_email"`
	To        []string `mapstructure:"to"`
}

// PlatformConfig points at an external log platform that accepts
// api-key login and structured log entries.
type PlatformConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Agent   string `mapstructure:"agent"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	setDefaults(v)

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

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.auth_token", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "marketplacer:")

	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.short", "0 */10 * * * *")
	v.SetDefault("cron.medium", "0 0 * * * *")
	v.SetDefault("cron.long", "0 30 * * * *")
	v.SetDefault("cron.retry_drain", "@every 60s")
	v.SetDefault("cron.registry_refresh", "@every 5m")

	v.SetDefault("queue.base_backoff", "60s")
	v.SetDefault("queue.max_backoff", "1h")
	v.SetDefault("queue.max_attempts", 5)
	v.SetDefault("queue.dequeue_timeout", "1s")

	v.SetDefault("workers.size", 4)
	v.SetDefault("workers.join_timeout", "5s")

	v.SetDefault("rate_limit.backend", "memory")
	v.SetDefault("rate_limit.wildberries", "60s")
	v.SetDefault("rate_limit.ozon", "1s")

	v.SetDefault("sync.next_interval", "10m")

	v.SetDefault("scheduler.startup_pass", true)
	v.SetDefault("scheduler.daily_stock_hour", 3)
	v.SetDefault("scheduler.timezone", "Europe/Moscow")
	v.SetDefault("scheduler.manual_poll_interval", "10s")
	v.SetDefault("scheduler.manual_batch_size", 50)
	v.SetDefault("scheduler.manual_stale_after", "10m")

	v.SetDefault("wildberries.statistics_url", "https://statistics-api.wildberries.ru")
	v.SetDefault("wildberries.content_url", "https://content-api.wildberries.ru")
	v.SetDefault("wildberries.timeout", "60s")
	v.SetDefault("wildberries.statistics_wait", "60s")
	v.SetDefault("wildberries.cards_throttle", "15s")
	v.SetDefault("wildberries.cards_retries", 5)
	v.SetDefault("wildberries.history_start", "2019-01-01")

	v.SetDefault("ozon.base_url", "https://api-seller.ozon.ru")
	v.SetDefault("ozon.timeout", "30s")
	v.SetDefault("ozon.report_poll_interval", "5s")
	v.SetDefault("ozon.report_max_polls", 30)
	v.SetDefault("ozon.page_pause", "1s")
	v.SetDefault("ozon.order_window_days", 180)
	v.SetDefault("ozon.order_fallback_days", 90)
	v.SetDefault("ozon.order_rescan", "72h")
	v.SetDefault("ozon.sales_lookback_months", 12)
	v.SetDefault("ozon.finance_retries", 5)
	v.SetDefault("ozon.finance_retry_wait", "20s")
	v.SetDefault("ozon.bundle_retries", 10)
	v.SetDefault("ozon.bundle_retry_wait", "10s")

	v.SetDefault("notify.dedup_ttl", "24h")
	v.SetDefault("notify.telegram.enabled", false)
	v.SetDefault("notify.telegram.base_url", "https://api.telegram.org")
	v.SetDefault("notify.email.enabled", false)
	v.SetDefault("notify.email.smtp_port", 587)
	v.SetDefault("notify.platform.enabled", false)
	v.SetDefault("notify.platform.agent", "marketplacer-collector")
}
