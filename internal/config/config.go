package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port      string
	GinMode   string
	LogLevel  string
	LogPretty bool

	DBDriver      string
	DBDSN         string
	DBAutoMigrate bool
	JWTSecret     string

	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RateLimitPerMinute int

	CORSOrigins []string

	// AI provider
	OpenRouterBaseURL string
	OpenRouterAPIKeys []string
	OpenRouterModel   string
	OpenRouterSiteURL string
	OpenRouterAppName string
	AIAttemptTimeout  time.Duration

	CatalogCacheTTL time.Duration

	// rabbitMQ
	RabbitURL         string
	RabbitQueue       string
	WorkerConcurrency int
	JobMaxRetries     int
	JobRetryDelay     time.Duration
}

func Load() Config {
	// .env is optional; real env vars win
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("GIN_MODE", "release")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)

	// DSN demo：
	// app:apppass@tcp(127.0.0.1:3306)/pharmacy?charset=utf8mb4&parseTime=true&loc=Local
	v.SetDefault("DB_DRIVER", "mysql")
	v.SetDefault("DB_DSN", "app:apppass@tcp(127.0.0.1:3306)/pharmacy?charset=utf8mb4&parseTime=true&loc=Local")
	v.SetDefault("DB_AUTO_MIGRATE", true)
	v.SetDefault("JWT_SECRET", "dev-secret-change-me")

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 10)

	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	v.SetDefault("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1")
	v.SetDefault("OPENROUTER_MODEL", "deepseek/deepseek-chat-v3.1:free")
	v.SetDefault("AI_ATTEMPT_TIMEOUT", "30s")
	v.SetDefault("CATALOG_CACHE_TTL", "30s")

	v.SetDefault("RABBIT_URL", "")
	v.SetDefault("RABBIT_QUEUE", "diagnosis_jobs")
	v.SetDefault("WORKER_CONCURRENCY", 2)
	v.SetDefault("JOB_MAX_RETRIES", 3)
	v.SetDefault("JOB_RETRY_DELAY", "10s")

	concurrency := v.GetInt("WORKER_CONCURRENCY")
	if concurrency <= 0 {
		concurrency = 2
	}
	if concurrency > 50 {
		concurrency = 50
	}

	return Config{
		Port:      v.GetString("PORT"),
		GinMode:   v.GetString("GIN_MODE"),
		LogLevel:  v.GetString("LOG_LEVEL"),
		LogPretty: v.GetBool("LOG_PRETTY"),

		DBDriver:      strings.ToLower(strings.TrimSpace(v.GetString("DB_DRIVER"))),
		DBDSN:         v.GetString("DB_DSN"),
		DBAutoMigrate: v.GetBool("DB_AUTO_MIGRATE"),
		JWTSecret:     v.GetString("JWT_SECRET"),

		RedisAddr:          v.GetString("REDIS_ADDR"),
		RedisPassword:      v.GetString("REDIS_PASSWORD"),
		RedisDB:            v.GetInt("REDIS_DB"),
		RateLimitPerMinute: v.GetInt("RATE_LIMIT_PER_MINUTE"),

		CORSOrigins: splitList(v.GetString("CORS_ORIGINS"), false),

		OpenRouterBaseURL: v.GetString("OPENROUTER_BASE_URL"),
		OpenRouterAPIKeys: splitList(v.GetString("OPENROUTER_API_KEYS"), true),
		OpenRouterModel:   v.GetString("OPENROUTER_MODEL"),
		OpenRouterSiteURL: v.GetString("OPENROUTER_SITE_URL"),
		OpenRouterAppName: v.GetString("OPENROUTER_APP_NAME"),
		AIAttemptTimeout:  v.GetDuration("AI_ATTEMPT_TIMEOUT"),

		CatalogCacheTTL: v.GetDuration("CATALOG_CACHE_TTL"),

		RabbitURL:         v.GetString("RABBIT_URL"),
		RabbitQueue:       v.GetString("RABBIT_QUEUE"),
		WorkerConcurrency: concurrency,
		JobMaxRetries:     v.GetInt("JOB_MAX_RETRIES"),
		JobRetryDelay:     v.GetDuration("JOB_RETRY_DELAY"),
	}
}

// splitList splits a comma-separated value. With keepEmpty the slot
// positions survive, so "k1,,k3" yields three entries.
func splitList(raw string, keepEmpty bool) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" && !keepEmpty {
			continue
		}
		out = append(out, p)
	}
	return out
}
