// Package config provides application configuration with defaults and
// validation. Values come from environment variables, then an optional YAML
// file (CONFIG_FILE, or config.yaml in ./configs or the working directory),
// then built-in defaults. File keys are the lower-cased variable names
// (e.g. store_backend: etcd).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// StoreConfig selects where requests live. Specialists, dialogue sessions
// and idempotency records always live in SQLite.
type StoreConfig struct {
	Backend         string        // STORE_BACKEND: sqlite|etcd
	EtcdEndpoints   []string      // ETCD_ENDPOINTS (CSV)
	EtcdDialTimeout time.Duration // ETCD_DIAL_TIMEOUT
	EtcdPrefix      string        // ETCD_PREFIX
}

// TelegramConfig configures the bot. An empty token runs without Telegram:
// notifications are logged and no updates are polled.
type TelegramConfig struct {
	BotToken    string        // TELEGRAM_BOT_TOKEN
	PollTimeout time.Duration // TELEGRAM_POLL_TIMEOUT (long-poll wait)
	HTTPTimeout time.Duration // TELEGRAM_HTTP_TIMEOUT
}

// NotifyConfig bounds broadcast fan-out.
type NotifyConfig struct {
	Workers int           // NOTIFY_WORKERS
	Timeout time.Duration // NOTIFY_TIMEOUT per send
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	ShutdownTimeout   time.Duration // graceful drain
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage
	DBPath string // SQLite path
	Store  StoreConfig

	// Dispatch
	Telegram        TelegramConfig
	Notify          NotifyConfig
	BroadcastAsync  bool          // BROADCAST_ASYNC: detach broadcast from the submit request
	DialogueTTL     time.Duration // DIALOGUE_TTL: idle registration dialogue lifetime
	CleanupSchedule string        // CLEANUP_SCHEDULE: cron spec for the janitor
	UploadDir       string        // UPLOAD_DIR
	MaxPhotoBytes   int64         // MAX_PHOTO_BYTES
	AcceptAPIKey    string        // ACCEPT_API_KEY: guards HTTP accept; empty leaves the route unmounted

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration, applies defaults, normalizes values, and
// validates the result.
func Load() (Config, error) {
	v, err := newViper()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		// Server
		Port:              getenv(v, "PORT", "8080"),
		ReadTimeout:       getdur(v, "READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur(v, "READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur(v, "WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur(v, "IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   getdur(v, "SHUTDOWN_TIMEOUT", 15*time.Second),
		MaxHeaderBytes:    getint(v, "MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv(v, "GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv(v, "LOG_LEVEL", "info")),
		LogPretty:      getbool(v, "LOG_PRETTY", false),
		SwaggerEnabled: getbool(v, "SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv(v, "API_BASE_PATH", "/api/v1")),

		// Storage
		DBPath: getenv(v, "DB_PATH", "dispatch.db"),
		Store: StoreConfig{
			Backend:         strings.ToLower(getenv(v, "STORE_BACKEND", "sqlite")),
			EtcdEndpoints:   splitCSV(getenv(v, "ETCD_ENDPOINTS", "localhost:2379")),
			EtcdDialTimeout: getdur(v, "ETCD_DIAL_TIMEOUT", 5*time.Second),
			EtcdPrefix:      getenv(v, "ETCD_PREFIX", "/dispatch/requests"),
		},

		// Dispatch
		Telegram: TelegramConfig{
			BotToken:    getenv(v, "TELEGRAM_BOT_TOKEN", ""),
			PollTimeout: getdur(v, "TELEGRAM_POLL_TIMEOUT", 30*time.Second),
			HTTPTimeout: getdur(v, "TELEGRAM_HTTP_TIMEOUT", 60*time.Second),
		},
		Notify: NotifyConfig{
			Workers: getint(v, "NOTIFY_WORKERS", 8),
			Timeout: getdur(v, "NOTIFY_TIMEOUT", 10*time.Second),
		},
		BroadcastAsync:  getbool(v, "BROADCAST_ASYNC", true),
		DialogueTTL:     getdur(v, "DIALOGUE_TTL", 30*time.Minute),
		CleanupSchedule: getenv(v, "CLEANUP_SCHEDULE", "@every 10m"),
		UploadDir:       getenv(v, "UPLOAD_DIR", "uploads"),
		MaxPhotoBytes:   int64(getint(v, "MAX_PHOTO_BYTES", 10<<20)),
		AcceptAPIKey:    getenv(v, "ACCEPT_API_KEY", ""),

		// Rate limiting
		RateRPS:   getfloat(v, "RATE_RPS", 5.0),
		RateBurst: getint(v, "RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv(v, "CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool(v, "ENABLE_HSTS", false),
			HSTSMaxAge: getdur(v, "HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur(v, "IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool(v, "OTEL_ENABLED", false),
			Endpoint:    getenv(v, "OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool(v, "OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv(v, "OTEL_SERVICE_NAME", "go-dispatch-backend"),
			SampleRatio: getfloat(v, "OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 || cfg.ShutdownTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	switch cfg.Store.Backend {
	case "sqlite":
	case "etcd":
		if len(cfg.Store.EtcdEndpoints) == 0 {
			return cfg, errors.New("ETCD_ENDPOINTS must not be empty when STORE_BACKEND=etcd")
		}
		if cfg.Store.EtcdDialTimeout <= 0 {
			return cfg, errors.New("ETCD_DIAL_TIMEOUT must be > 0")
		}
	default:
		return cfg, errors.New("STORE_BACKEND must be one of: sqlite, etcd")
	}
	if cfg.Telegram.PollTimeout < time.Second || cfg.Telegram.HTTPTimeout <= cfg.Telegram.PollTimeout {
		return cfg, errors.New("TELEGRAM_POLL_TIMEOUT must be >= 1s and below TELEGRAM_HTTP_TIMEOUT")
	}
	if cfg.Notify.Workers < 1 {
		return cfg, errors.New("NOTIFY_WORKERS must be >= 1")
	}
	if cfg.Notify.Timeout <= 0 {
		return cfg, errors.New("NOTIFY_TIMEOUT must be > 0")
	}
	if cfg.DialogueTTL <= 0 {
		return cfg, errors.New("DIALOGUE_TTL must be > 0")
	}
	if _, err := cron.ParseStandard(cfg.CleanupSchedule); err != nil {
		return cfg, fmt.Errorf("CLEANUP_SCHEDULE is not a valid cron spec: %w", err)
	}
	if strings.TrimSpace(cfg.UploadDir) == "" {
		return cfg, errors.New("UPLOAD_DIR must not be empty")
	}
	if cfg.MaxPhotoBytes <= 0 {
		return cfg, errors.New("MAX_PHOTO_BYTES must be > 0")
	}
	if cfg.AcceptAPIKey != "" && len(cfg.AcceptAPIKey) < 16 {
		return cfg, errors.New("ACCEPT_API_KEY must be at least 16 characters")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// newViper builds the value source: env over file over defaults. An
// explicit CONFIG_FILE must exist; the implicit config.yaml is optional.
func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.AutomaticEnv()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		return v, nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return v, nil
}

// ---- helpers: typed reads with the default used on empty or bad input ----

func getenv(v *viper.Viper, k, def string) string {
	if s := v.GetString(strings.ToLower(k)); s != "" {
		return s
	}
	return def
}

func getfloat(v *viper.Viper, k string, def float64) float64 {
	if s := getenv(v, k, ""); s != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f
		}
	}
	return def
}

func getint(v *viper.Viper, k string, def int) int {
	if s := getenv(v, k, ""); s != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i
		}
	}
	return def
}

func getbool(v *viper.Viper, k string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(getenv(v, k, ""))) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	return def
}

func getdur(v *viper.Viper, k string, def time.Duration) time.Duration {
	if s := getenv(v, k, ""); s != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
