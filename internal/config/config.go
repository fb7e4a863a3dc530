// Package config provides configuration loading for the orb agent.
//
// Values come from environment variables, with an optional TOML file
// (pointed at by ORB_CONFIG) supplying defaults that the environment
// can override.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration values for the orb agent.
type Config struct {
	// Server settings
	Port           int
	Host           string
	AllowedOrigins []string

	// Control plane settings
	ControlPlaneURL string
	JWKSEndpoint    string

	// JWT settings
	JWTAudience string
	JWTIssuer   string

	// Storage settings
	AuditDir     string
	ArchivePath  string
	ProjectsRoot string

	// Screen capture broker
	ScreenBrokerURL string

	// Evaluator settings
	EvaluatorMode    string // "subprocess" or "http"
	EvaluatorCommand string
	EvaluatorArgs    []string
	EvaluatorURL     string
	EvaluatorTimeout time.Duration

	// Conversation and session settings
	HistoryWindow      time.Duration
	AttentionThreshold float64
	SessionTTL         time.Duration
	SweepInterval      time.Duration

	// HTTP server timeouts
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// WebSocket settings
	WSReadBufferSize  int
	WSWriteBufferSize int
}

// duration lets TOML files spell durations as strings like "30s".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

// fileConfig mirrors Config for TOML decoding. Pointer fields
// distinguish "absent" from "zero" so the file only overrides what
// it actually sets.
type fileConfig struct {
	Port           *int     `toml:"port"`
	Host           *string  `toml:"host"`
	AllowedOrigins []string `toml:"allowed_origins"`

	ControlPlaneURL *string `toml:"control_plane_url"`
	JWKSEndpoint    *string `toml:"jwks_endpoint"`
	JWTAudience     *string `toml:"jwt_audience"`
	JWTIssuer       *string `toml:"jwt_issuer"`

	AuditDir     *string `toml:"audit_dir"`
	ArchivePath  *string `toml:"archive_path"`
	ProjectsRoot *string `toml:"projects_root"`

	ScreenBrokerURL *string `toml:"screen_broker_url"`

	EvaluatorMode    *string   `toml:"evaluator_mode"`
	EvaluatorCommand *string   `toml:"evaluator_command"`
	EvaluatorArgs    []string  `toml:"evaluator_args"`
	EvaluatorURL     *string   `toml:"evaluator_url"`
	EvaluatorTimeout *duration `toml:"evaluator_timeout"`

	HistoryWindow      *duration `toml:"history_window"`
	AttentionThreshold *float64  `toml:"attention_threshold"`
	SessionTTL         *duration `toml:"session_ttl"`
	SweepInterval      *duration `toml:"sweep_interval"`

	HTTPReadTimeout  *duration `toml:"http_read_timeout"`
	HTTPWriteTimeout *duration `toml:"http_write_timeout"`
	HTTPIdleTimeout  *duration `toml:"http_idle_timeout"`

	WSReadBufferSize  *int `toml:"ws_read_buffer_size"`
	WSWriteBufferSize *int `toml:"ws_write_buffer_size"`
}

// Load reads configuration from the optional ORB_CONFIG TOML file and
// then the environment. Environment variables win over file values.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("ORB_CONFIG"); path != "" {
		var fc fileConfig
		if _, err := toml.DecodeFile(path, &fc); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		applyFile(cfg, &fc)
	}

	applyEnv(cfg)

	if cfg.EvaluatorMode != "subprocess" && cfg.EvaluatorMode != "http" {
		return nil, fmt.Errorf("ORB_EVALUATOR_MODE must be \"subprocess\" or \"http\", got %q", cfg.EvaluatorMode)
	}
	if cfg.EvaluatorMode == "subprocess" && cfg.EvaluatorCommand == "" {
		return nil, fmt.Errorf("ORB_EVALUATOR_COMMAND is required in subprocess mode")
	}
	if cfg.EvaluatorMode == "http" && cfg.EvaluatorURL == "" {
		return nil, fmt.Errorf("ORB_EVALUATOR_URL is required in http mode")
	}

	// Derive JWKS endpoint and issuer from the control plane URL when unset.
	if cfg.ControlPlaneURL != "" {
		if cfg.JWKSEndpoint == "" {
			cfg.JWKSEndpoint = cfg.ControlPlaneURL + "/.well-known/jwks.json"
		}
		if cfg.JWTIssuer == "" {
			cfg.JWTIssuer = cfg.ControlPlaneURL
		}
		if len(cfg.AllowedOrigins) == 0 {
			cfg.AllowedOrigins = deriveAllowedOrigins(cfg.ControlPlaneURL)
		}
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Port: 8090,
		Host: "0.0.0.0",

		JWTAudience: "orb-agent",

		AuditDir:     "./data/audit",
		ArchivePath:  "./data/archive.db",
		ProjectsRoot: "./data/projects",

		EvaluatorMode:    "subprocess",
		EvaluatorTimeout: 5 * time.Second,

		HistoryWindow:      time.Hour,
		AttentionThreshold: 120,
		SessionTTL:         30 * time.Minute,
		SweepInterval:      time.Minute,

		HTTPReadTimeout:  15 * time.Second,
		HTTPWriteTimeout: 15 * time.Second,
		HTTPIdleTimeout:  60 * time.Second,

		WSReadBufferSize:  1024,
		WSWriteBufferSize: 1024,
	}
}

func applyFile(cfg *Config, fc *fileConfig) {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	setDuration := func(dst *time.Duration, src *duration) {
		if src != nil {
			*dst = time.Duration(*src)
		}
	}

	setInt(&cfg.Port, fc.Port)
	setString(&cfg.Host, fc.Host)
	if len(fc.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = fc.AllowedOrigins
	}

	setString(&cfg.ControlPlaneURL, fc.ControlPlaneURL)
	setString(&cfg.JWKSEndpoint, fc.JWKSEndpoint)
	setString(&cfg.JWTAudience, fc.JWTAudience)
	setString(&cfg.JWTIssuer, fc.JWTIssuer)

	setString(&cfg.AuditDir, fc.AuditDir)
	setString(&cfg.ArchivePath, fc.ArchivePath)
	setString(&cfg.ProjectsRoot, fc.ProjectsRoot)

	setString(&cfg.ScreenBrokerURL, fc.ScreenBrokerURL)

	setString(&cfg.EvaluatorMode, fc.EvaluatorMode)
	setString(&cfg.EvaluatorCommand, fc.EvaluatorCommand)
	if len(fc.EvaluatorArgs) > 0 {
		cfg.EvaluatorArgs = fc.EvaluatorArgs
	}
	setString(&cfg.EvaluatorURL, fc.EvaluatorURL)
	setDuration(&cfg.EvaluatorTimeout, fc.EvaluatorTimeout)

	setDuration(&cfg.HistoryWindow, fc.HistoryWindow)
	if fc.AttentionThreshold != nil {
		cfg.AttentionThreshold = *fc.AttentionThreshold
	}
	setDuration(&cfg.SessionTTL, fc.SessionTTL)
	setDuration(&cfg.SweepInterval, fc.SweepInterval)

	setDuration(&cfg.HTTPReadTimeout, fc.HTTPReadTimeout)
	setDuration(&cfg.HTTPWriteTimeout, fc.HTTPWriteTimeout)
	setDuration(&cfg.HTTPIdleTimeout, fc.HTTPIdleTimeout)

	setInt(&cfg.WSReadBufferSize, fc.WSReadBufferSize)
	setInt(&cfg.WSWriteBufferSize, fc.WSWriteBufferSize)
}

func applyEnv(cfg *Config) {
	cfg.Port = getEnvInt("ORB_PORT", cfg.Port)
	cfg.Host = getEnv("ORB_HOST", cfg.Host)
	cfg.AllowedOrigins = getEnvStringSlice("ORB_ALLOWED_ORIGINS", cfg.AllowedOrigins)

	cfg.ControlPlaneURL = getEnv("ORB_CONTROL_PLANE_URL", cfg.ControlPlaneURL)
	cfg.JWKSEndpoint = getEnv("ORB_JWKS_ENDPOINT", cfg.JWKSEndpoint)
	cfg.JWTAudience = getEnv("ORB_JWT_AUDIENCE", cfg.JWTAudience)
	cfg.JWTIssuer = getEnv("ORB_JWT_ISSUER", cfg.JWTIssuer)

	cfg.AuditDir = getEnv("ORB_AUDIT_DIR", cfg.AuditDir)
	cfg.ArchivePath = getEnv("ORB_ARCHIVE_PATH", cfg.ArchivePath)
	cfg.ProjectsRoot = getEnv("ORB_PROJECTS_ROOT", cfg.ProjectsRoot)

	cfg.ScreenBrokerURL = getEnv("ORB_SCREEN_BROKER_URL", cfg.ScreenBrokerURL)

	cfg.EvaluatorMode = getEnv("ORB_EVALUATOR_MODE", cfg.EvaluatorMode)
	cfg.EvaluatorCommand = getEnv("ORB_EVALUATOR_COMMAND", cfg.EvaluatorCommand)
	cfg.EvaluatorArgs = getEnvStringSlice("ORB_EVALUATOR_ARGS", cfg.EvaluatorArgs)
	cfg.EvaluatorURL = getEnv("ORB_EVALUATOR_URL", cfg.EvaluatorURL)
	cfg.EvaluatorTimeout = getEnvDuration("ORB_EVALUATOR_TIMEOUT", cfg.EvaluatorTimeout)

	cfg.HistoryWindow = getEnvDuration("ORB_HISTORY_WINDOW", cfg.HistoryWindow)
	cfg.AttentionThreshold = getEnvFloat("ORB_ATTENTION_THRESHOLD", cfg.AttentionThreshold)
	cfg.SessionTTL = getEnvDuration("ORB_SESSION_TTL", cfg.SessionTTL)
	cfg.SweepInterval = getEnvDuration("ORB_SWEEP_INTERVAL", cfg.SweepInterval)

	cfg.HTTPReadTimeout = getEnvDuration("ORB_HTTP_READ_TIMEOUT", cfg.HTTPReadTimeout)
	cfg.HTTPWriteTimeout = getEnvDuration("ORB_HTTP_WRITE_TIMEOUT", cfg.HTTPWriteTimeout)
	cfg.HTTPIdleTimeout = getEnvDuration("ORB_HTTP_IDLE_TIMEOUT", cfg.HTTPIdleTimeout)

	cfg.WSReadBufferSize = getEnvInt("ORB_WS_READ_BUFFER_SIZE", cfg.WSReadBufferSize)
	cfg.WSWriteBufferSize = getEnvInt("ORB_WS_WRITE_BUFFER_SIZE", cfg.WSWriteBufferSize)
}

// deriveAllowedOrigins extracts allowed origins from the control plane URL.
// This allows the control plane domain and client subdomains.
func deriveAllowedOrigins(controlPlaneURL string) []string {
	url := controlPlaneURL
	url = strings.TrimPrefix(url, "https://")
	url = strings.TrimPrefix(url, "http://")

	if idx := strings.Index(url, "/"); idx != -1 {
		url = url[:idx]
	}
	if idx := strings.Index(url, ":"); idx != -1 {
		url = url[:idx]
	}

	baseDomain := url
	if strings.HasPrefix(baseDomain, "api.") {
		baseDomain = baseDomain[4:]
	}

	return []string{
		controlPlaneURL,
		"https://*." + baseDomain,
	}
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvStringSlice returns a slice from a comma-separated environment variable.
func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
