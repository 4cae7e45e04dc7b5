package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

type SourceConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIToken   string        `mapstructure:"api_token"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries uint64        `mapstructure:"max_retries"`
	RetryBase  time.Duration `mapstructure:"retry_base"`
	RetryCap   time.Duration `mapstructure:"retry_cap"`
}

type JobsConfig struct {
	LeaseTTL              time.Duration `mapstructure:"lease_ttl"`
	LookbackDays          int           `mapstructure:"lookback_days"`
	MaxBatch              int           `mapstructure:"max_batch"`
	MaxPagesPerInvocation int           `mapstructure:"max_pages_per_invocation"`
	CalendarBackDays      int           `mapstructure:"calendar_back_days"`
	CalendarForwardDays   int           `mapstructure:"calendar_forward_days"`
	CalendarChunkSize     int           `mapstructure:"calendar_chunk_size"`
	QuoteChunkSize        int           `mapstructure:"quote_chunk_size"`
	InstrumentChunkSize   int           `mapstructure:"instrument_chunk_size"`
	// Schedules maps job name to a cron expression; empty means the job
	// is only triggered over HTTP.
	Schedules map[string]string `mapstructure:"schedules"`
}

type IntegrityConfig struct {
	CalendarWindowDays     int `mapstructure:"calendar_window_days"`
	QuoteStaleBusinessDays int `mapstructure:"quote_stale_business_days"`
	InstrumentStaleDays    int `mapstructure:"instrument_stale_days"`
}

type EmailConfig struct {
	From            string   `mapstructure:"from"`
	SMTPHost        string   `mapstructure:"smtp_host"`
	SMTPPort        int      `mapstructure:"smtp_port"`
	Username        string   `mapstructure:"username"`
	Password        string   `mapstructure:"password"`
	AlertRecipients []string `mapstructure:"alert_recipients"`
}

type Config struct {
	DatabaseURL string          `mapstructure:"database_url"`
	ServerPort  string          `mapstructure:"server_port"`
	JWTSecret   string          `mapstructure:"jwt_secret"`
	Source      SourceConfig    `mapstructure:"source"`
	Jobs        JobsConfig      `mapstructure:"jobs"`
	Integrity   IntegrityConfig `mapstructure:"integrity"`
	Email       EmailConfig     `mapstructure:"email"`
}

// Load reads the configuration from a YAML file and returns a Config instance.
func Load() *Config {
	v := viper.New()

	// Look for config in the current directory and ./config
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.AddConfigPath("./config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		log.Fatalf("Error unmarshalling config: %v", err)
	}

	// Fallback defaults
	if config.ServerPort == "" {
		config.ServerPort = "8080"
	}
	if config.JWTSecret == "" {
		log.Fatal("JWT secret must be set in the config file")
	}
	if config.DatabaseURL == "" {
		log.Fatal("Database URL must be set in the config file")
	}
	if config.Source.BaseURL == "" {
		log.Fatal("Source base URL must be set in the config file")
	}

	if config.Email.SMTPPort == 0 {
		config.Email.SMTPPort = 587
	}

	return &config
}
