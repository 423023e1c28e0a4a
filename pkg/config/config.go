package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Buttondown   ButtondownConfig
	Sync         SyncConfig
	Auth         AuthConfig
	Password     PasswordConfig
	CORS         CORSConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Buttondown.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ENGAGEMENT_APP_ENV" default:"dev"`
	Port         string `envconfig:"ENGAGEMENT_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"ENGAGEMENT_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"ENGAGEMENT_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"ENGAGEMENT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	Driver string `envconfig:"ENGAGEMENT_DB_DRIVER" default:"sqlite"`
	DSN    string `envconfig:"ENGAGEMENT_DB_DSN"`
	Path   string `envconfig:"ENGAGEMENT_DB_PATH" default:"data/engagement.db"`

	BusyTimeout     time.Duration `envconfig:"ENGAGEMENT_DB_BUSY_TIMEOUT" default:"5s"`
	MaxOpenConns    int           `envconfig:"ENGAGEMENT_DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"ENGAGEMENT_DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"ENGAGEMENT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ENGAGEMENT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the configured driver is the embedded SQLite store.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DriverSQLite)
}

func (db DBConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(db.Driver)) {
	case DriverSQLite:
		if db.DSN == "" && db.Path == "" {
			return fmt.Errorf("either %s or %s is required for sqlite", EnvDBDSN, EnvDBPath)
		}
	case DriverPostgres:
		if db.DSN == "" {
			return fmt.Errorf("%s is required for postgres", EnvDBDSN)
		}
	default:
		return fmt.Errorf("unsupported %s %q", EnvDBDriver, db.Driver)
	}
	return nil
}

// RedisConfig is optional. When URL and Address are both empty the services
// fall back to in-process locking and skip the webhook fast-path guard.
type RedisConfig struct {
	URL          string        `envconfig:"ENGAGEMENT_REDIS_URL"`
	Address      string        `envconfig:"ENGAGEMENT_REDIS_ADDR"`
	Password     string        `envconfig:"ENGAGEMENT_REDIS_PASSWORD"`
	DB           int           `envconfig:"ENGAGEMENT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ENGAGEMENT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ENGAGEMENT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ENGAGEMENT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ENGAGEMENT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ENGAGEMENT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type ButtondownConfig struct {
	APIKey        string        `envconfig:"ENGAGEMENT_BUTTONDOWN_API_KEY"`
	BaseURL       string        `envconfig:"ENGAGEMENT_BUTTONDOWN_BASE_URL" default:"https://api.buttondown.com/v1"`
	AuthScheme    string        `envconfig:"ENGAGEMENT_BUTTONDOWN_AUTH_SCHEME" default:"Token"`
	LookbackDays  int           `envconfig:"ENGAGEMENT_BUTTONDOWN_LOOKBACK_DAYS" default:"30"`
	Overlap       time.Duration `envconfig:"ENGAGEMENT_BUTTONDOWN_SYNC_OVERLAP" default:"0s"`
	MaxAttempts   int           `envconfig:"ENGAGEMENT_BUTTONDOWN_MAX_ATTEMPTS" default:"5"`
	RetryBase     time.Duration `envconfig:"ENGAGEMENT_BUTTONDOWN_RETRY_BASE" default:"500ms"`
	RetryMax      time.Duration `envconfig:"ENGAGEMENT_BUTTONDOWN_RETRY_MAX" default:"30s"`
	Timeout       time.Duration `envconfig:"ENGAGEMENT_BUTTONDOWN_TIMEOUT" default:"30s"`
	RatePerSecond float64       `envconfig:"ENGAGEMENT_BUTTONDOWN_RATE_PER_SECOND" default:"4"`
	WebhookSecret string        `envconfig:"ENGAGEMENT_BUTTONDOWN_WEBHOOK_SECRET"`
}

func (b ButtondownConfig) validate() error {
	if b.LookbackDays <= 0 {
		return fmt.Errorf("%s must be positive", EnvButtondownLookback)
	}
	if b.Overlap < 0 {
		return fmt.Errorf("%s must not be negative", EnvButtondownOverlap)
	}
	if b.MaxAttempts <= 0 {
		return fmt.Errorf("%s must be positive", EnvButtondownMaxAttempts)
	}
	return nil
}

type SyncConfig struct {
	Stream   string        `envconfig:"ENGAGEMENT_SYNC_STREAM" default:"buttondown_events"`
	Interval time.Duration `envconfig:"ENGAGEMENT_SYNC_INTERVAL" default:"15m"`
	LockTTL  time.Duration `envconfig:"ENGAGEMENT_SYNC_LOCK_TTL" default:"10m"`
}

type AuthConfig struct {
	JWTSecret         string `envconfig:"ENGAGEMENT_JWT_SECRET"`
	JWTIssuer         string `envconfig:"ENGAGEMENT_JWT_ISSUER" default:"engagement-tracker"`
	ExpirationMinutes int    `envconfig:"ENGAGEMENT_JWT_EXPIRATION_MINUTES" default:"720"`
	DashboardUsername string `envconfig:"ENGAGEMENT_DASHBOARD_USERNAME" default:"admin"`
	DashboardPassword string `envconfig:"ENGAGEMENT_DASHBOARD_PASSWORD_HASH"`

	LoginWindow    time.Duration `envconfig:"ENGAGEMENT_LOGIN_RATE_WINDOW" default:"15m"`
	LoginIPLimit   int           `envconfig:"ENGAGEMENT_LOGIN_RATE_IP_LIMIT" default:"20"`
	LoginUserLimit int           `envconfig:"ENGAGEMENT_LOGIN_RATE_USER_LIMIT" default:"10"`
}

// Enabled reports whether dashboard login and token checks are configured.
func (a AuthConfig) Enabled() bool {
	return a.JWTSecret != "" && a.DashboardPassword != ""
}

func (a AuthConfig) TokenTTL() time.Duration {
	if a.ExpirationMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(a.ExpirationMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"ENGAGEMENT_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"ENGAGEMENT_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"ENGAGEMENT_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"ENGAGEMENT_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"ENGAGEMENT_ARGON_KEY_LEN" default:"32"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"ENGAGEMENT_CORS_ALLOWED_ORIGINS" default:"*"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"ENGAGEMENT_AUTO_MIGRATE" default:"true"`
}
