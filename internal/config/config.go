package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Backend API
	BackendBaseURL string

	// Identity Provider (GoTrue)
	SupabaseProjectRef string
	SupabaseAnonKey    string
	// GoTrueURL はセルフホスト時のエンドポイント上書き。空の場合は
	// SupabaseProjectRefから標準URLを組み立てる。
	GoTrueURL string

	// Database（セッション永続化のみに使用する）
	DatabaseURL string

	// Session
	SessionMaxAge int

	// Listing image probe
	ProbeTimeout time.Duration
	ProbeMaxSize int64

	// Rate Limit
	RateLimitGeneral    int
	RateLimitListingReg int

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.BackendBaseURL = os.Getenv("BACKEND_BASE_URL")
	if cfg.BackendBaseURL == "" {
		missing = append(missing, "BACKEND_BASE_URL")
	}

	cfg.SupabaseAnonKey = os.Getenv("SUPABASE_ANON_KEY")
	if cfg.SupabaseAnonKey == "" {
		missing = append(missing, "SUPABASE_ANON_KEY")
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	// SUPABASE_URLからプロジェクト参照を取り出す。セルフホスト環境では
	// GOTRUE_URLで直接エンドポイントを指定できる。
	supabaseURL := os.Getenv("SUPABASE_URL")
	cfg.GoTrueURL = os.Getenv("GOTRUE_URL")
	cfg.SupabaseProjectRef = projectRefFromURL(supabaseURL)
	if cfg.SupabaseProjectRef == "" && cfg.GoTrueURL == "" {
		missing = append(missing, "SUPABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 604800)
	cfg.ProbeTimeout = getEnvDuration("PROBE_TIMEOUT", 10*time.Second)
	cfg.ProbeMaxSize = getEnvInt64("PROBE_MAX_SIZE", 2097152)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitListingReg = getEnvInt("RATE_LIMIT_LISTING_REG", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:5173")

	return cfg, nil
}

// projectRefFromURL は "https://<ref>.supabase.co" 形式のURLから<ref>を取り出す。
// 形式が一致しない場合は空文字を返す。
func projectRefFromURL(supabaseURL string) string {
	if supabaseURL == "" {
		return ""
	}
	trimmed := strings.TrimPrefix(strings.TrimPrefix(supabaseURL, "https://"), "http://")
	if idx := strings.Index(trimmed, ".supabase.co"); idx != -1 {
		return trimmed[:idx]
	}
	return ""
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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
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
