package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppName string
	Env     string
	Host    string
	Port    int

	// StoreBackend selects the persistence layer: "mongo" or "sqlite".
	StoreBackend  string
	MongoURI      string
	MongoDatabase string
	SQLitePath    string
	StoreTimeout  time.Duration

	JWTSecret          string
	AccessTokenMinutes int
	RememberMeDays     int

	UploadDir   string
	PublicURL   string
	CORSOrigins []string
	Debug       bool

	HistoryPageSize int
	WSEventRate     float64
	WSEventBurst    int
}

func Load() (*Config, error) {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		AppName: getEnv("APP_NAME", "dmserver"),
		Env:     getEnv("APP_ENV", "development"),
		Host:    getEnv("HTTP_HOST", "0.0.0.0"),
		Port:    getEnvAsInt("HTTP_PORT", 8000),

		StoreBackend:  strings.ToLower(getEnv("STORE_BACKEND", "sqlite")),
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGO_DATABASE", "dmserver"),
		SQLitePath:    getEnv("SQLITE_PATH", "dmserver.db"),
		StoreTimeout:  time.Duration(getEnvAsInt("STORE_TIMEOUT_SECONDS", 5)) * time.Second,

		JWTSecret:          os.Getenv("JWT_SECRET"),
		AccessTokenMinutes: getEnvAsInt("ACCESS_TOKEN_EXPIRE_MINUTES", 60*24),
		RememberMeDays:     getEnvAsInt("REMEMBER_ME_TOKEN_EXPIRE_DAYS", 30),

		UploadDir: getEnv("UPLOAD_DIR", "uploads"),
		PublicURL: getEnv("PUBLIC_URL", "http://localhost:8000"),
		Debug:     getEnvAsBool("DEBUG", true),

		HistoryPageSize: getEnvAsInt("HISTORY_PAGE_SIZE", 50),
		WSEventRate:     float64(getEnvAsInt("WS_EVENTS_PER_SECOND", 20)),
		WSEventBurst:    getEnvAsInt("WS_EVENT_BURST", 40),
	}

	cors := getEnv("CORS_ORIGINS", "")
	if cors != "" {
		parts := strings.Split(cors, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		cfg.CORSOrigins = parts
	} else {
		cfg.CORSOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.StoreBackend != "mongo" && cfg.StoreBackend != "sqlite" {
		return nil, fmt.Errorf("STORE_BACKEND must be 'mongo' or 'sqlite', got %q", cfg.StoreBackend)
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}

	return cfg, nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvAsBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
