package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the forum server.
type Config struct {
	AppName              string
	AppEnv               string
	AppPort              string
	DatabaseURL          string
	RedisURL             string
	NATSURL              string
	JWTSecret            string
	AllowAnonymousSocket bool
	PostCacheTTL         time.Duration
	PresenceTTL          time.Duration
	P2PSessionTTL        time.Duration
	ChatHistoryLimit     int
	AssistantRateLimit   int
	AssistantRateWindow  time.Duration
	OpenAIAPIKey         string
	OpenAIModel          string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// AssistantEnabled reports whether an AI provider is configured.
func (c Config) AssistantEnabled() bool {
	return strings.TrimSpace(c.OpenAIAPIKey) != ""
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := newViper()
	v.SetDefault("app.name", "GEMA Forum")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("database.url", "file:gema-forum.db?cache=shared")
	v.SetDefault("forum.post_cache_ttl", "2m")
	v.SetDefault("forum.presence_ttl", "10m")
	v.SetDefault("forum.p2p_session_ttl", "24h")
	v.SetDefault("forum.chat_history_limit", 50)
	v.SetDefault("assistant.rate_limit", 10)
	v.SetDefault("assistant.rate_window", "1m")
	v.SetDefault("openai_model", "gpt-4o-mini")

	postTTL, err := parseDuration(v, "forum.post_cache_ttl")
	if err != nil {
		return Config{}, err
	}
	presenceTTL, err := parseDuration(v, "forum.presence_ttl")
	if err != nil {
		return Config{}, err
	}
	sessionTTL, err := parseDuration(v, "forum.p2p_session_ttl")
	if err != nil {
		return Config{}, err
	}
	rateWindow, err := parseDuration(v, "assistant.rate_window")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppName:              v.GetString("app.name"),
		AppEnv:               v.GetString("app.env"),
		AppPort:              v.GetString("app.port"),
		DatabaseURL:          v.GetString("database.url"),
		RedisURL:             v.GetString("redis.url"),
		NATSURL:              v.GetString("nats.url"),
		JWTSecret:            v.GetString("jwt.secret"),
		AllowAnonymousSocket: v.GetBool("forum.allow_anonymous_socket"),
		PostCacheTTL:         postTTL,
		PresenceTTL:          presenceTTL,
		P2PSessionTTL:        sessionTTL,
		ChatHistoryLimit:     v.GetInt("forum.chat_history_limit"),
		AssistantRateLimit:   v.GetInt("assistant.rate_limit"),
		AssistantRateWindow:  rateWindow,
		OpenAIAPIKey:         v.GetString("openai_api_key"),
		OpenAIModel:          v.GetString("openai_model"),
	}

	if cfg.JWTSecret == "" && !cfg.AllowAnonymousSocket {
		return Config{}, fmt.Errorf("jwt secret must be provided unless anonymous sockets are allowed")
	}
	if cfg.ChatHistoryLimit <= 0 {
		cfg.ChatHistoryLimit = 50
	}
	if cfg.AssistantRateLimit <= 0 {
		cfg.AssistantRateLimit = 10
	}

	return cfg, nil
}

// ClientConfig configures forumctl and other forum client processes.
type ClientConfig struct {
	BaseURL    string
	Token      string
	CourseID   string
	UserID     string
	UserName   string
	UserAvatar string
	Debug      bool
}

// RealtimeURL derives the websocket endpoint from the base URL.
func (c ClientConfig) RealtimeURL() string {
	parsed, err := url.Parse(c.BaseURL)
	if err != nil || parsed.Host == "" {
		return ""
	}
	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	default:
		parsed.Scheme = "ws"
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/api/v2/forum/ws"
	if c.Token != "" {
		query := parsed.Query()
		query.Set("token", c.Token)
		parsed.RawQuery = query.Encode()
	}
	return parsed.String()
}

// LoadClient reads client settings. The server is addressed through a single base URL.
func LoadClient() (ClientConfig, error) {
	_ = godotenv.Load()

	v := newViper()
	v.SetDefault("forum.url", "http://localhost:8080")

	cfg := ClientConfig{
		BaseURL:    strings.TrimRight(v.GetString("forum.url"), "/"),
		Token:      v.GetString("forum.token"),
		CourseID:   v.GetString("forum.course_id"),
		UserID:     v.GetString("forum.user_id"),
		UserName:   v.GetString("forum.user_name"),
		UserAvatar: v.GetString("forum.user_avatar"),
		Debug:      v.GetBool("forum.debug"),
	}

	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return ClientConfig{}, fmt.Errorf("invalid forum url: %w", err)
	}

	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	value := v.GetString(key)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", strings.ReplaceAll(key, ".", " "), err)
	}
	return duration, nil
}
