package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Socket authentication modes.
const (
	SocketAuthRequired = "required"
	SocketAuthOff      = "off"
)

const defaultTokenTTLMinutes = 2 * 24 * 60

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseDriver   string `yaml:"databaseDriver"`
	DatabaseURL      string `yaml:"databaseURL"`
	DatabaseUser     string `yaml:"databaseUser"`
	DatabasePassword string `yaml:"databasePassword"`
	DatabaseHost     string `yaml:"databaseHost"`
	DatabasePort     string `yaml:"databasePort"`
	DatabaseName     string `yaml:"databaseName"`

	SecretKey                string `yaml:"secretKey"`
	AccessTokenExpireMinutes int    `yaml:"accessTokenExpireMinutes"`
	JWTIssuer                string `yaml:"jwtIssuer"`
	JWTAudience              string `yaml:"jwtAudience"`
	JWTLeeway                string `yaml:"jwtLeeway"`
	AuthCookieName           string `yaml:"authCookieName"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	SocketAuth           string   `yaml:"socketAuth"`
	IdleTimeout          string   `yaml:"idleTimeout"`
	PingInterval         string   `yaml:"pingInterval"`
	MaxMessagesPerSecond float64  `yaml:"maxMessagesPerSecond"`
	RateLimitPerMinute   int      `yaml:"rateLimitPerMinute"`
	AllowedOrigins       []string `yaml:"allowedOrigins"`
	TrustedProxyCIDRs    []string `yaml:"trustedProxyCidrs"`

	// Parsed forms of the duration strings above, filled by Load.
	Leeway    time.Duration `yaml:"-"`
	Idle      time.Duration `yaml:"-"`
	PingEvery time.Duration `yaml:"-"`
}

// Load reads config from path (defaults to ConfigPath). A missing file is
// allowed when the environment supplies everything required.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	if err := resolveDurations(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		cfg.DatabaseDriver = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("DATABASE_USER"); v != "" {
		cfg.DatabaseUser = v
	}
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		cfg.DatabasePassword = v
	}
	if v := os.Getenv("DATABASE_HOST"); v != "" {
		cfg.DatabaseHost = v
	}
	if v := os.Getenv("DATABASE_PORT"); v != "" {
		cfg.DatabasePort = v
	}
	if v := os.Getenv("DATABASE_NAME"); v != "" {
		cfg.DatabaseName = v
	}
	if v := os.Getenv("SECRET_KEY"); v != "" {
		cfg.SecretKey = v
	}
	if v := os.Getenv("ACCESS_TOKEN_EXPIRE_MINUTES"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.AccessTokenExpireMinutes = n
		}
	}
	if v := os.Getenv("JWT_ISSUER"); v != "" {
		cfg.JWTIssuer = v
	}
	if v := os.Getenv("JWT_AUDIENCE"); v != "" {
		cfg.JWTAudience = v
	}
	if v := os.Getenv("JWT_LEEWAY"); v != "" {
		cfg.JWTLeeway = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("CHAT_SOCKET_AUTH"); v != "" {
		cfg.SocketAuth = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("CHAT_IDLE_TIMEOUT"); v != "" {
		cfg.IdleTimeout = v
	}
	if v := os.Getenv("CHAT_PING_INTERVAL"); v != "" {
		cfg.PingInterval = v
	}
	if v := os.Getenv("CHAT_MAX_MESSAGES_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			cfg.MaxMessagesPerSecond = f
		}
	}
	if v := os.Getenv("CHAT_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.RateLimitPerMinute = n
		}
	}
	if v := os.Getenv("CHAT_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("CHAT_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.DatabaseDriver == "" {
		cfg.DatabaseDriver = "postgres"
		if cfg.DatabaseURL == "" && cfg.DatabaseHost != "" {
			cfg.DatabaseDriver = "mysql"
		}
	}
	if cfg.DatabaseURL == "" && cfg.DatabaseDriver == "mysql" && cfg.DatabaseHost != "" {
		cfg.DatabaseURL = MySQLDSN(cfg.DatabaseUser, cfg.DatabasePassword, cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseName)
	}
	if cfg.AccessTokenExpireMinutes == 0 {
		cfg.AccessTokenExpireMinutes = defaultTokenTTLMinutes
	}
	if cfg.AuthCookieName == "" {
		cfg.AuthCookieName = "Authorization"
	}
	if cfg.SocketAuth == "" {
		cfg.SocketAuth = SocketAuthRequired
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	switch cfg.DatabaseDriver {
	case "postgres", "mysql":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return errors.New("config: databaseURL is required (set in config.yaml, DATABASE_URL or DATABASE_HOST/USER/PASSWORD/NAME)")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unsupported databaseDriver %q (postgres, mysql or memory)", cfg.DatabaseDriver)
	}
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return errors.New("config: secretKey is required (set in config.yaml or SECRET_KEY)")
	}
	if cfg.AccessTokenExpireMinutes < 0 {
		return errors.New("config: accessTokenExpireMinutes must be >= 0")
	}
	if cfg.SocketAuth != SocketAuthRequired && cfg.SocketAuth != SocketAuthOff {
		return fmt.Errorf("config: socketAuth must be %q or %q", SocketAuthRequired, SocketAuthOff)
	}
	if cfg.MaxMessagesPerSecond < 0 || cfg.RateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	return nil
}

func resolveDurations(cfg *FileConfig) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"jwtLeeway", cfg.JWTLeeway, &cfg.Leeway},
		{"idleTimeout", cfg.IdleTimeout, &cfg.Idle},
		{"pingInterval", cfg.PingInterval, &cfg.PingEvery},
	}
	for _, f := range fields {
		d, err := parseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("config: invalid %s: %w", f.name, err)
		}
		*f.dst = d
	}
	return nil
}

// TokenTTL returns the access-token lifetime.
func (c FileConfig) TokenTTL() time.Duration {
	return time.Duration(c.AccessTokenExpireMinutes) * time.Minute
}

// MySQLDSN composes a go-sql-driver DSN from discrete settings.
func MySQLDSN(user, password, host, port, name string) string {
	if port == "" {
		port = "3306"
	}
	q := url.Values{}
	q.Set("parseTime", "true")
	q.Set("loc", "UTC")
	q.Set("charset", "utf8mb4")
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?%s", user, password, host, port, name, q.Encode())
}

// parseDuration parses an optional duration string; empty means zero.
func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return d, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
