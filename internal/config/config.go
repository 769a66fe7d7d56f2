package config

import (
	"strings"
	"time"

	"github.com/expensetracker/expensetracker/backend/identity-service/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	MongoDB   MongoDBConfig
	Redis     RedisConfig
	App       AppConfig
	OAuth     OAuthConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// AppConfig describes the browser-facing side of the flow.
type AppConfig struct {
	// ClientURL is the SPA base URL every OAuth outcome redirects to.
	ClientURL string
	// PublicURL is the externally reachable base URL of this service; provider
	// callbacks are registered under it.
	PublicURL string
}

type OAuthConfig struct {
	Microsoft          ProviderConfig
	GitHub             ProviderConfig
	StateTTL           time.Duration
	AllowInsecureToken bool
}

type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	// Tenant is only used by Microsoft (common, organizations, consumers or a tenant id).
	Tenant string
}

// Enabled reports whether the provider has client credentials.
func (p ProviderConfig) Enabled() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

type SessionConfig struct {
	Secret        string
	TTL           time.Duration
	CookieName    string
	SecureCookies bool
}

type RateLimitConfig struct {
	Enabled       bool
	UseRedis      bool
	RPS           float64
	Burst         int
	WindowSeconds int
}

// LoadConfig loads configuration from environment variables and .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env")

	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "5001")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_ENVIRONMENT", "development")
	viper.SetDefault("MONGODB_DATABASE", "expensetracker")
	viper.SetDefault("MONGODB_TIMEOUT", 10)
	viper.SetDefault("REDIS_PORT", "6379")
	viper.SetDefault("APP_CLIENT_URL", "http://localhost:4200")
	viper.SetDefault("APP_PUBLIC_URL", "http://localhost:5001")
	viper.SetDefault("OAUTH_MICROSOFT_TENANT", "common")
	viper.SetDefault("OAUTH_STATE_TTL", 10)
	viper.SetDefault("SESSION_TTL", 10080)
	viper.SetDefault("SESSION_COOKIE_NAME", "et_session")
	viper.SetDefault("RATE_LIMIT_RPS", 5)
	viper.SetDefault("RATE_LIMIT_BURST", 10)
	viper.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 1)

	env := viper.GetString("SERVER_ENVIRONMENT")
	cfg := &Config{
		Server: ServerConfig{
			Port:         viper.GetString("SERVER_PORT"),
			Host:         viper.GetString("SERVER_HOST"),
			Environment:  env,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		MongoDB: MongoDBConfig{
			URI:      viper.GetString("MONGODB_URI"),
			Database: viper.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(viper.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetString("REDIS_PORT"),
			Password: viper.GetString("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
		},
		App: AppConfig{
			ClientURL: strings.TrimRight(viper.GetString("APP_CLIENT_URL"), "/"),
			PublicURL: strings.TrimRight(viper.GetString("APP_PUBLIC_URL"), "/"),
		},
		OAuth: OAuthConfig{
			Microsoft: ProviderConfig{
				ClientID:     viper.GetString("OAUTH_MICROSOFT_CLIENT_ID"),
				ClientSecret: viper.GetString("OAUTH_MICROSOFT_CLIENT_SECRET"),
				Tenant:       viper.GetString("OAUTH_MICROSOFT_TENANT"),
			},
			GitHub: ProviderConfig{
				ClientID:     viper.GetString("OAUTH_GITHUB_CLIENT_ID"),
				ClientSecret: viper.GetString("OAUTH_GITHUB_CLIENT_SECRET"),
			},
			StateTTL:           time.Duration(viper.GetInt("OAUTH_STATE_TTL")) * time.Minute,
			AllowInsecureToken: strings.EqualFold(strings.TrimSpace(viper.GetString("ALLOW_INSECURE_TOKEN")), "true"),
		},
		Session: SessionConfig{
			Secret:        viper.GetString("SESSION_SECRET"),
			TTL:           time.Duration(viper.GetInt("SESSION_TTL")) * time.Minute,
			CookieName:    viper.GetString("SESSION_COOKIE_NAME"),
			SecureCookies: env == "production",
		},
		RateLimit: RateLimitConfig{
			Enabled:       viper.GetBool("RATE_LIMIT_ENABLED"),
			UseRedis:      viper.GetBool("RATE_LIMIT_USE_REDIS"),
			RPS:           viper.GetFloat64("RATE_LIMIT_RPS"),
			Burst:         viper.GetInt("RATE_LIMIT_BURST"),
			WindowSeconds: viper.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
	}

	// Basic validation
	if cfg.Session.Secret == "" {
		logger.Warn("SESSION_SECRET is not set; set a secure value in production")
	}
	if !cfg.OAuth.Microsoft.Enabled() && !cfg.OAuth.GitHub.Enabled() {
		logger.Warn("no OAuth provider credentials configured; login endpoints will return 500")
	}

	return cfg, nil
}
