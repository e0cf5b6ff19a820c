package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvProduction = "production"

	EngineMySQL    = "mysql"
	EnginePostgres = "postgres"
	EngineMSSQL    = "mssql"
	EngineOracle   = "oracle"
	EngineSQLite   = "sqlite"

	RateLimitMemory = "memory"
	RateLimitRedis  = "redis"
)

type DatabaseConfig struct {
	Engine   string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	URL      string
	MaxConns int32
	MinConns int32
}

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

func (c SMTPConfig) Enabled() bool {
	return c.Host != ""
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type Config struct {
	AppEnv                  string
	LogLevel                string
	ServerPort              string
	ServerReadHeaderTimeout time.Duration
	ServerWriteTimeout      time.Duration
	ServerIdleTimeout       time.Duration
	RequestTimeout          time.Duration
	Database                DatabaseConfig
	JWTSecret               string
	JWTRefreshSecret        string
	JWTAccessTTL            time.Duration
	JWTRefreshTTL           time.Duration
	BcryptCost              int
	CORSOrigins             []string
	TrustedProxies          []string
	SMTP                    SMTPConfig
	FrontendURL             string
	ResetTokenTTL           time.Duration
	RateLimitRPM            int
	AuthRateLimitRPM        int
	RateLimitBackend        string
	Redis                   RedisConfig
}

// engineDefaults holds host/port/user fallbacks per database engine.
var engineDefaults = map[string]struct {
	port int
	user string
}{
	EngineMySQL:    {port: 3306, user: "root"},
	EnginePostgres: {port: 5432, user: "postgres"},
	EngineMSSQL:    {port: 1433, user: "sa"},
	EngineOracle:   {port: 1521, user: "system"},
	EngineSQLite:   {},
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := strings.TrimSpace(os.Getenv("JWT_SECRET"))

	cfg := &Config{
		AppEnv:                  strings.ToLower(getEnv("APP_ENV", "development")),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		ServerPort:              getEnv("SERVER_PORT", "8080"),
		ServerReadHeaderTimeout: getDuration("SERVER_READ_HEADER_TIMEOUT", 10*time.Second),
		ServerWriteTimeout:      getDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		ServerIdleTimeout:       getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		RequestTimeout:          getDuration("REQUEST_TIMEOUT", 30*time.Second),
		Database:                loadDatabase(),
		JWTSecret:               jwtSecret,
		JWTRefreshSecret:        getEnv("JWT_REFRESH_SECRET", jwtSecret),
		JWTAccessTTL:            getDuration("JWT_ACCESS_TTL", 15*time.Minute),
		JWTRefreshTTL:           getDuration("JWT_REFRESH_TTL", 168*time.Hour),
		BcryptCost:              getInt("BCRYPT_COST", 12),
		CORSOrigins:             splitCSV(getEnv("CORS_ORIGINS", "*")),
		TrustedProxies:          splitCSV(getEnv("TRUSTED_PROXIES", "")),
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getInt("SMTP_PORT", 587),
			User:     getEnv("SMTP_USER", ""),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     getEnv("SMTP_FROM", "no-reply@autoshop.local"),
		},
		FrontendURL:      strings.TrimRight(getEnv("FRONTEND_URL", "http://localhost:4200"), "/"),
		ResetTokenTTL:    getDuration("RESET_TOKEN_TTL", time.Hour),
		RateLimitRPM:     getInt("RATE_LIMIT_RPM", 100),
		AuthRateLimitRPM: getInt("AUTH_RATE_LIMIT_RPM", 10),
		RateLimitBackend: strings.ToLower(getEnv("RATE_LIMIT_BACKEND", RateLimitMemory)),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getInt("REDIS_DB", 0),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadDatabase() DatabaseConfig {
	engine := strings.ToLower(getEnv("DB_ENGINE", EnginePostgres))
	defaults := engineDefaults[engine]

	name := "autoshop"
	host := "localhost"
	if engine == EngineSQLite {
		name = "./autoshop.db"
		host = ""
	}

	return DatabaseConfig{
		Engine:   engine,
		Host:     getEnv("DB_HOST", host),
		Port:     getInt("DB_PORT", defaults.port),
		User:     getEnv("DB_USER", defaults.user),
		Password: os.Getenv("DB_PASSWORD"),
		Name:     getEnv("DB_NAME", name),
		URL:      getEnv("DATABASE_URL", ""),
		MaxConns: int32(getInt("DB_MAX_CONNS", 10)),
		MinConns: int32(getInt("DB_MIN_CONNS", 2)),
	}
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.ServerPort == "" {
		return fmt.Errorf("SERVER_PORT cannot be empty")
	}

	if _, ok := engineDefaults[c.Database.Engine]; !ok {
		return fmt.Errorf("DB_ENGINE %q is not one of mysql, postgres, mssql, oracle, sqlite", c.Database.Engine)
	}

	if strings.TrimSpace(c.Database.Name) == "" {
		return fmt.Errorf("DB_NAME cannot be empty")
	}

	if c.JWTAccessTTL <= 0 || c.JWTRefreshTTL <= 0 {
		return fmt.Errorf("JWT_ACCESS_TTL and JWT_REFRESH_TTL must be positive")
	}

	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	if c.ResetTokenTTL <= 0 {
		return fmt.Errorf("RESET_TOKEN_TTL must be positive")
	}

	if c.RateLimitBackend != RateLimitMemory && c.RateLimitBackend != RateLimitRedis {
		return fmt.Errorf("RATE_LIMIT_BACKEND must be memory or redis")
	}

	for _, proxy := range c.TrustedProxies {
		if !validProxy(proxy) {
			return fmt.Errorf("TRUSTED_PROXIES entry %q is not an IP or CIDR", proxy)
		}
	}

	return nil
}

func getEnv(key string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}

	return v
}

func getInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return v
}

func validProxy(raw string) bool {
	if strings.Contains(raw, "/") {
		_, err := netip.ParsePrefix(raw)
		return err == nil
	}
	_, err := netip.ParseAddr(raw)
	return err == nil
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}

	return out
}
