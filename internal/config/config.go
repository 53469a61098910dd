// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ストレージバックエンド種別
const (
	StorageBackendLocal    = "local"
	StorageBackendSupabase = "supabase"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// App
	AppEnv     string
	ServerPort string
	LogLevel   string

	// Auth
	AdminSetupCode string
	BcryptCost     int

	// Session
	SessionMaxAge        int // 秒
	SessionSweepSchedule string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS / CSRF
	CORSAllowedOrigins []string
	CSRFEnabled        bool

	// リバースプロキシのX-Forwarded-For/X-Real-IPを信頼するか
	TrustProxyHeaders bool

	// Rate Limit
	RateLimitGeneral int // req/min
	LoginMaxAttempts int
	LoginLockout     time.Duration

	// Redis（空の場合はインメモリのログイン制限）
	RedisURL string

	// AMQP（空の場合はイベントを発行しない）
	AMQPURL      string
	AMQPExchange string

	// Storage
	StorageBackend     string
	StorageBucket      string
	SupabaseURL        string
	SupabaseServiceKey string
	LocalStorageDir    string
	PublicBaseURL      string
	UploadTokenSecret  []byte
	UploadURLTTL       time.Duration
}

// Load は.envファイル（存在する場合）と環境変数からConfigを読み込む。
// .envは既存の環境変数を上書きしない。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv は環境変数のみからConfigを読み込む。
func FromEnv() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.StorageBackend = strings.ToLower(getEnvString("STORAGE_BACKEND", StorageBackendLocal))
	switch cfg.StorageBackend {
	case StorageBackendSupabase:
		cfg.SupabaseURL = strings.TrimRight(os.Getenv("SUPABASE_URL"), "/")
		if cfg.SupabaseURL == "" {
			missing = append(missing, "SUPABASE_URL")
		}
		cfg.SupabaseServiceKey = os.Getenv("SUPABASE_SERVICE_KEY")
		if cfg.SupabaseServiceKey == "" {
			missing = append(missing, "SUPABASE_SERVICE_KEY")
		}
	case StorageBackendLocal:
	default:
		return nil, fmt.Errorf("unsupported STORAGE_BACKEND: %q", cfg.StorageBackend)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.AppEnv = strings.ToLower(getEnvString("APP_ENV", "production"))
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.AdminSetupCode = os.Getenv("ADMIN_SETUP_CODE")
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", 10)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 2592000)
	cfg.SessionSweepSchedule = getEnvString("SESSION_SWEEP_SCHEDULE", "@every 1h")
	cfg.CookieSecure = !cfg.IsDevelopment()
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigins = splitList(getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000"))
	cfg.CSRFEnabled = getEnvBool("CSRF_ENABLED", false)
	cfg.TrustProxyHeaders = getEnvBool("TRUST_PROXY_HEADERS", false)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.LoginMaxAttempts = getEnvInt("LOGIN_MAX_ATTEMPTS", 5)
	cfg.LoginLockout = getEnvDuration("LOGIN_LOCKOUT", 15*time.Minute)
	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.AMQPURL = os.Getenv("AMQP_URL")
	cfg.AMQPExchange = getEnvString("AMQP_EXCHANGE", "postdeck.events")
	cfg.StorageBucket = getEnvString("STORAGE_BUCKET", "post-media")
	cfg.LocalStorageDir = getEnvString("LOCAL_STORAGE_DIR", "./data/media")
	cfg.PublicBaseURL = strings.TrimRight(getEnvString("PUBLIC_BASE_URL", "http://localhost:8080"), "/")
	cfg.UploadURLTTL = getEnvDuration("UPLOAD_URL_TTL", 2*time.Hour)

	if secret := os.Getenv("UPLOAD_TOKEN_SECRET"); secret != "" {
		cfg.UploadTokenSecret = []byte(secret)
	} else {
		// 未設定の場合はプロセスごとの乱数鍵。再起動で発行済みURLは無効になる
		cfg.UploadTokenSecret = make([]byte, 32)
		if _, err := rand.Read(cfg.UploadTokenSecret); err != nil {
			return nil, fmt.Errorf("failed to generate upload token secret: %w", err)
		}
	}

	return cfg, nil
}

// IsDevelopment はローカル開発・テスト環境かどうかを返す。
// 開発環境ではCookieのSecure属性を付与しない。
func (c *Config) IsDevelopment() bool {
	switch c.AppEnv {
	case "development", "local", "test":
		return true
	default:
		return false
	}
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// splitList はカンマ区切りの値を空要素を除いて分割する。
func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
