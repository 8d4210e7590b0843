package config

import (
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Bullhorn   BullhornConfig   `yaml:"bullhorn" mapstructure:"bullhorn"`
	Mailbox    MailboxConfig    `yaml:"mailbox" mapstructure:"mailbox"`
	StopLists  StopListsConfig  `yaml:"stoplists" mapstructure:"stoplists"`
	Scan       ScanConfig       `yaml:"scan" mapstructure:"scan"`
	Reconcile  ReconcileConfig  `yaml:"reconcile" mapstructure:"reconcile"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the staging store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	XLSXPath    string `yaml:"xlsx_path" mapstructure:"xlsx_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// BullhornConfig holds Bullhorn API credentials and client tuning.
type BullhornConfig struct {
	AuthURL      string      `yaml:"auth_url" mapstructure:"auth_url"`
	LoginURL     string      `yaml:"login_url" mapstructure:"login_url"`
	ClientID     string      `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string      `yaml:"client_secret" mapstructure:"client_secret"`
	Username     string      `yaml:"username" mapstructure:"username"`
	Password     string      `yaml:"password" mapstructure:"password"`
	SearchCount  int         `yaml:"search_count" mapstructure:"search_count"`
	RateLimit    float64     `yaml:"rate_limit" mapstructure:"rate_limit"`
	TimeoutSecs  int         `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	LoginRetry   RetryConfig `yaml:"login_retry" mapstructure:"login_retry"`
}

// RetryConfig configures a bounded retry loop.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// MailboxConfig selects and configures the mailbox backend.
type MailboxConfig struct {
	Provider         string      `yaml:"provider" mapstructure:"provider"`
	FetchConcurrency int         `yaml:"fetch_concurrency" mapstructure:"fetch_concurrency"`
	Gmail            GmailConfig `yaml:"gmail" mapstructure:"gmail"`
	IMAP             IMAPConfig  `yaml:"imap" mapstructure:"imap"`
}

// GmailConfig points at the OAuth client secret and cached token files.
type GmailConfig struct {
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
	TokenFile       string `yaml:"token_file" mapstructure:"token_file"`
}

// IMAPConfig holds IMAP server settings.
type IMAPConfig struct {
	Host     string   `yaml:"host" mapstructure:"host"`
	Port     int      `yaml:"port" mapstructure:"port"`
	Username string   `yaml:"username" mapstructure:"username"`
	Password string   `yaml:"password" mapstructure:"password"`
	TLS      bool     `yaml:"tls" mapstructure:"tls"`
	Folders  []string `yaml:"folders" mapstructure:"folders"`
}

// StopListsConfig lists the operator's own numbers and domains.
type StopListsConfig struct {
	Phones  []string `yaml:"phones" mapstructure:"phones"`
	Domains []string `yaml:"domains" mapstructure:"domains"`
}

// ScanConfig configures the scan job.
type ScanConfig struct {
	InitialLookbackDays int `yaml:"initial_lookback_days" mapstructure:"initial_lookback_days"`
}

// ReconcileConfig configures the reconcile job.
type ReconcileConfig struct {
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size"`
}

// ServerConfig configures the trigger server and its schedules.
type ServerConfig struct {
	Port              int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins    []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	ScanSchedule      string   `yaml:"scan_schedule" mapstructure:"scan_schedule"`
	ReconcileSchedule string   `yaml:"reconcile_schedule" mapstructure:"reconcile_schedule"`
	JobTimeoutMins    int      `yaml:"job_timeout_mins" mapstructure:"job_timeout_mins"`
}

// MonitoringConfig configures run-health alerting in serve mode.
type MonitoringConfig struct {
	Enabled             bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL          string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs   int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	ErrorRateThreshold  float64 `yaml:"error_rate_threshold" mapstructure:"error_rate_threshold"`
	StaleScanHours      int     `yaml:"stale_scan_hours" mapstructure:"stale_scan_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from ./config.yaml and environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from the given YAML file and environment.
// An empty path falls back to an optional config.yaml in the working
// directory; an explicit path must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("ENRICHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "enricher.db")
	v.SetDefault("store.xlsx_path", "contacts.xlsx")
	v.SetDefault("bullhorn.auth_url", "https://auth.bullhornstaffing.com/oauth")
	v.SetDefault("bullhorn.login_url", "https://rest.bullhornstaffing.com/rest-services")
	// Credentials have no default but must be known keys for env lookup.
	for _, key := range []string{
		"bullhorn.client_id", "bullhorn.client_secret", "bullhorn.username", "bullhorn.password",
		"mailbox.imap.host", "mailbox.imap.username", "mailbox.imap.password",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("bullhorn.search_count", 5)
	v.SetDefault("bullhorn.timeout_secs", 30)
	v.SetDefault("bullhorn.login_retry.max_attempts", 5)
	v.SetDefault("bullhorn.login_retry.initial_backoff_ms", 1000)
	v.SetDefault("bullhorn.login_retry.max_backoff_ms", 30000)
	v.SetDefault("bullhorn.login_retry.jitter_fraction", 0.25)
	v.SetDefault("mailbox.provider", "gmail")
	v.SetDefault("mailbox.fetch_concurrency", 4)
	v.SetDefault("mailbox.gmail.credentials_file", "credentials.json")
	v.SetDefault("mailbox.gmail.token_file", "token.json")
	v.SetDefault("mailbox.imap.port", 993)
	v.SetDefault("mailbox.imap.tls", true)
	v.SetDefault("mailbox.imap.folders", []string{"INBOX"})
	v.SetDefault("scan.initial_lookback_days", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.job_timeout_mins", 60)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.error_rate_threshold", 0.2)
	v.SetDefault("monitoring.stale_scan_hours", 48)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings required by a command mode: "scan",
// "reconcile", "serve" or "store".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "xlsx":
		if c.Store.XLSXPath == "" {
			errs = append(errs, "store.xlsx_path is required")
		}
	default:
		errs = append(errs, "store.driver must be sqlite, postgres or xlsx")
	}

	switch mode {
	case "store":
	case "scan":
		errs = append(errs, c.validateScan()...)
	case "reconcile":
		errs = append(errs, c.validateReconcile()...)
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if m := c.Monitoring; m.Enabled && (m.ErrorRateThreshold < 0 || m.ErrorRateThreshold > 1) {
			errs = append(errs, "monitoring.error_rate_threshold must be between 0 and 1")
		}
		errs = append(errs, c.validateScan()...)
		errs = append(errs, c.validateReconcile()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Wrap(errors.New(strings.Join(errs, "; ")), "config: invalid")
	}
	return nil
}

func (c *Config) validateScan() []string {
	var errs []string
	if c.Scan.InitialLookbackDays < 0 {
		errs = append(errs, "scan.initial_lookback_days must be >= 0")
	}
	if c.Mailbox.FetchConcurrency < 0 || c.Mailbox.FetchConcurrency > 32 {
		errs = append(errs, "mailbox.fetch_concurrency must be between 0 and 32")
	}
	switch c.Mailbox.Provider {
	case "gmail":
		if c.Mailbox.Gmail.CredentialsFile == "" {
			errs = append(errs, "mailbox.gmail.credentials_file is required")
		}
		if c.Mailbox.Gmail.TokenFile == "" {
			errs = append(errs, "mailbox.gmail.token_file is required")
		}
	case "imap":
		if c.Mailbox.IMAP.Host == "" {
			errs = append(errs, "mailbox.imap.host is required")
		}
		if c.Mailbox.IMAP.Username == "" {
			errs = append(errs, "mailbox.imap.username is required")
		}
		if c.Mailbox.IMAP.Password == "" {
			errs = append(errs, "mailbox.imap.password is required")
		}
	default:
		errs = append(errs, "mailbox.provider must be gmail or imap")
	}
	return errs
}

func (c *Config) validateReconcile() []string {
	var errs []string
	b := c.Bullhorn
	for _, f := range []struct{ name, value string }{
		{"bullhorn.client_id", b.ClientID},
		{"bullhorn.client_secret", b.ClientSecret},
		{"bullhorn.username", b.Username},
		{"bullhorn.password", b.Password},
	} {
		if f.value == "" {
			errs = append(errs, f.name+" is required")
		}
	}
	if b.LoginRetry.MaxAttempts < 0 || b.LoginRetry.MaxAttempts > 20 {
		errs = append(errs, "bullhorn.login_retry.max_attempts must be between 0 and 20")
	}
	if b.RateLimit < 0 {
		errs = append(errs, "bullhorn.rate_limit must be >= 0")
	}
	if c.Reconcile.BatchSize < 0 {
		errs = append(errs, "reconcile.batch_size must be >= 0")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
