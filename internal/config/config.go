// Package config loads process configuration from the environment once at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries everything the service reads from the environment.
type Config struct {
	Port        string
	BaseURL     string
	DatabaseURL string
	RedisURL    string

	AuthSecret  string
	TokenIssuer string
	SessionTTL  time.Duration

	EmailCodeTTL  time.Duration
	PhoneCodeTTL  time.Duration
	ResetCodeTTL  time.Duration
	InvitationTTL time.Duration

	RateBurst     int
	RatePerSecond int

	Email  EmailConfig
	Google GoogleConfig
}

// EmailConfig configures the SMTP delivery collaborator.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Secure   bool
}

// Enabled reports whether outbound email is configured.
func (e EmailConfig) Enabled() bool {
	return e.Host != "" && e.Port != 0 && e.From != ""
}

// GoogleConfig configures the external identity provider collaborator.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Enabled reports whether Google sign-in is configured.
func (g GoogleConfig) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != ""
}

// Load reads configuration from the environment and validates required values.
func Load() (Config, error) {
	cfg := Config{
		Port:        getenvDefault("PORT", "8080"),
		BaseURL:     getenvDefault("APP_BASE_URL", "http://localhost:3000"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    getenvDefault("REDIS_URL", "redis://localhost:6379"),

		AuthSecret:  strings.TrimSpace(os.Getenv("CAMPUSID_AUTH_SECRET")),
		TokenIssuer: getenvDefault("CAMPUSID_TOKEN_ISSUER", "campusid"),
		SessionTTL:  getenvDuration("SESSION_TTL", 24*time.Hour),

		EmailCodeTTL:  getenvDuration("EMAIL_CODE_TTL", 10*time.Minute),
		PhoneCodeTTL:  getenvDuration("PHONE_CODE_TTL", 10*time.Minute),
		ResetCodeTTL:  getenvDuration("RESET_CODE_TTL", 30*time.Minute),
		InvitationTTL: getenvDuration("INVITATION_TTL", 7*24*time.Hour),

		RateBurst:     getenvInt("RATE_BURST", 20),
		RatePerSecond: getenvInt("RATE_PER_SECOND", 10),
	}

	cfg.Email = EmailConfig{
		Host:     strings.TrimSpace(os.Getenv("EMAIL_SERVER_HOST")),
		Port:     getenvInt("EMAIL_SERVER_PORT", 587),
		Username: strings.TrimSpace(os.Getenv("EMAIL_SERVER_USER")),
		Password: os.Getenv("EMAIL_SERVER_PASSWORD"),
		From:     strings.TrimSpace(os.Getenv("EMAIL_FROM")),
		Secure:   parseBool(os.Getenv("EMAIL_SERVER_SECURE")),
	}

	cfg.Google = GoogleConfig{
		ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		RedirectURL:  getenvDefault("GOOGLE_REDIRECT_URL", cfg.BaseURL+"/auth/google/callback"),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.AuthSecret == "" {
		return Config{}, fmt.Errorf("CAMPUSID_AUTH_SECRET is required")
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func parseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
