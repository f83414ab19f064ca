package config

import (
	"errors"
	"io/fs"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	Cache      CacheConfig
	Redirect   RedirectConfig
	Recorder   RecorderConfig
	Geo        GeoConfig
	Classifier ClassifierConfig
	Link       LinkConfig
	RateLimit  RateLimitConfig
	Log        LogConfig
}

type AppConfig struct {
	Port          string
	Env           string
	DefaultDomain string
}

// IsDevelopment reports whether the service runs with development defaults.
func (c AppConfig) IsDevelopment() bool {
	return c.Env == "development"
}

type DBConfig struct {
	Host          string
	Port          string
	User          string
	Password      string
	Name          string
	AutoMigrate   bool
	LookupTimeout time.Duration
}

// URL returns the connection string shared by pgxpool and the migrator.
func (c DBConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	HealthInterval time.Duration
}

type CacheConfig struct {
	TTL       time.Duration
	OpTimeout time.Duration

	// Second delete after a link mutation; 0 disables it
	InvalidateDelay time.Duration
}

type RedirectConfig struct {
	SelectTimeout time.Duration
	CounterTTL    time.Duration
}

type RecorderConfig struct {
	Workers      int
	BufferSize   int
	DedupTTL     time.Duration
	WriteTimeout time.Duration
}

type GeoConfig struct {
	DBPath              string
	RestrictedCountries []string
}

type ClassifierConfig struct {
	ExtraBotSignatures []string
}

type LinkConfig struct {
	MaxDestinations int
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int

	// Per-owner limit on POST/PUT/DELETE /links
	WriteRequestsPerSecond float64
	WriteBurstSize         int
}

type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("APP_ENV", "production")
	v.SetDefault("APP_DEFAULT_DOMAIN", "localhost:8080")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_AUTO_MIGRATE", true)
	v.SetDefault("DB_LOOKUP_TIMEOUT", 2*time.Second)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_HEALTH_INTERVAL", 30*time.Second)

	v.SetDefault("CACHE_TTL", time.Hour)
	v.SetDefault("CACHE_OP_TIMEOUT", 50*time.Millisecond)
	v.SetDefault("CACHE_INVALIDATE_DELAY", 3*time.Second)

	v.SetDefault("REDIRECT_SELECT_TIMEOUT", 100*time.Millisecond)
	v.SetDefault("REDIRECT_COUNTER_TTL", 30*24*time.Hour)

	v.SetDefault("RECORDER_WORKERS", 3)
	v.SetDefault("RECORDER_BUFFER", 1000)
	v.SetDefault("RECORDER_WRITE_TIMEOUT", 5*time.Second)

	v.SetDefault("GEO_RESTRICTED_COUNTRIES", "CN")

	v.SetDefault("LINK_MAX_DESTINATIONS", 10)

	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("RATE_LIMIT_WRITE_RPS", 2)
	v.SetDefault("RATE_LIMIT_WRITE_BURST", 10)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_MAX_SIZE_MB", 100)
	v.SetDefault("LOG_MAX_BACKUPS", 5)
	v.SetDefault("LOG_MAX_AGE_DAYS", 28)
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	return load(".env")
}

func load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()
	// GEO_RESTRICTED_COUNTRIES= должен снимать ограничение, а не возвращать default
	v.AllowEmptyEnv(true)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// .env is optional, the environment alone is enough
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	cfg.App.Port = v.GetString("APP_PORT")
	cfg.App.Env = v.GetString("APP_ENV")
	cfg.App.DefaultDomain = v.GetString("APP_DEFAULT_DOMAIN")

	cfg.DB.Host = v.GetString("DB_HOST")
	cfg.DB.Port = v.GetString("DB_PORT")
	cfg.DB.User = v.GetString("DB_USER")
	cfg.DB.Password = v.GetString("DB_PASSWORD")
	cfg.DB.Name = v.GetString("DB_NAME")
	cfg.DB.AutoMigrate = v.GetBool("DB_AUTO_MIGRATE")
	cfg.DB.LookupTimeout = v.GetDuration("DB_LOOKUP_TIMEOUT")

	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetString("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.HealthInterval = v.GetDuration("REDIS_HEALTH_INTERVAL")

	cfg.Cache.TTL = v.GetDuration("CACHE_TTL")
	cfg.Cache.OpTimeout = v.GetDuration("CACHE_OP_TIMEOUT")
	cfg.Cache.InvalidateDelay = v.GetDuration("CACHE_INVALIDATE_DELAY")

	cfg.Redirect.SelectTimeout = v.GetDuration("REDIRECT_SELECT_TIMEOUT")
	cfg.Redirect.CounterTTL = v.GetDuration("REDIRECT_COUNTER_TTL")

	cfg.Recorder.Workers = v.GetInt("RECORDER_WORKERS")
	cfg.Recorder.BufferSize = v.GetInt("RECORDER_BUFFER")
	cfg.Recorder.WriteTimeout = v.GetDuration("RECORDER_WRITE_TIMEOUT")
	cfg.Recorder.DedupTTL = v.GetDuration("RECORDER_DEDUP_TTL")
	if cfg.Recorder.DedupTTL == 0 {
		// dev: 30 seconds, prod: 5 minutes
		cfg.Recorder.DedupTTL = 300 * time.Second
		if cfg.App.IsDevelopment() {
			cfg.Recorder.DedupTTL = 30 * time.Second
		}
	}

	cfg.Geo.DBPath = v.GetString("GEO_DB_PATH")
	cfg.Geo.RestrictedCountries = splitList(v.GetString("GEO_RESTRICTED_COUNTRIES"), strings.ToUpper)

	cfg.Classifier.ExtraBotSignatures = splitList(v.GetString("CLASSIFIER_EXTRA_BOT_SIGNATURES"), strings.ToLower)

	cfg.Link.MaxDestinations = v.GetInt("LINK_MAX_DESTINATIONS")

	cfg.RateLimit.RequestsPerSecond = v.GetFloat64("RATE_LIMIT_RPS")
	cfg.RateLimit.BurstSize = v.GetInt("RATE_LIMIT_BURST")
	cfg.RateLimit.WriteRequestsPerSecond = v.GetFloat64("RATE_LIMIT_WRITE_RPS")
	cfg.RateLimit.WriteBurstSize = v.GetInt("RATE_LIMIT_WRITE_BURST")

	cfg.Log.Level = v.GetString("LOG_LEVEL")
	cfg.Log.File = v.GetString("LOG_FILE")
	cfg.Log.MaxSizeMB = v.GetInt("LOG_MAX_SIZE_MB")
	cfg.Log.MaxBackups = v.GetInt("LOG_MAX_BACKUPS")
	cfg.Log.MaxAgeDays = v.GetInt("LOG_MAX_AGE_DAYS")

	return &cfg, nil
}

// splitList parses comma-separated values like "CN,KP", dropping empty items
func splitList(raw string, normalize func(string) string) []string {
	var out []string
	if raw == "" {
		return out
	}

	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, normalize(item))
	}

	return out
}
