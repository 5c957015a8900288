package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is loaded once at startup and handed to the components that need
// it. Nothing mutates it after Load returns.
type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`

	SummaryRateLimitRPS   float64 `mapstructure:"SUMMARY_RATE_LIMIT_RPS"`
	SummaryRateLimitBurst int     `mapstructure:"SUMMARY_RATE_LIMIT_BURST"`

	FileStorageBackend    string `mapstructure:"FILE_STORAGE_BACKEND"`
	LocalStorageBasePath  string `mapstructure:"LOCAL_STORAGE_BASE_PATH"`
	MaxNoteUploadMB       int    `mapstructure:"MAX_NOTE_UPLOAD_MB"`
	NotesAllowedMIMETypes string `mapstructure:"NOTES_ALLOWED_MIME_TYPES"`

	OpenAIAPIKey         string        `mapstructure:"OPENAI_API_KEY"`
	OpenAIModel          string        `mapstructure:"OPENAI_MODEL"`
	OpenAIBaseURL        string        `mapstructure:"OPENAI_BASE_URL"`
	OpenAITimeout        time.Duration `mapstructure:"OPENAI_TIMEOUT"`
	OpenAIMaxPromptChars int           `mapstructure:"OPENAI_MAX_PROMPT_CHARS"`

	PatientMRNAutoGenerate bool   `mapstructure:"PATIENT_MRN_AUTO_GENERATE"`
	PatientMRNPrefix       string `mapstructure:"PATIENT_MRN_PREFIX"`
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"CORS_ORIGINS", "REQUEST_TIMEOUT", "BODY_LIMIT", "SUMMARY_RATE_LIMIT_RPS", "SUMMARY_RATE_LIMIT_BURST",
	"FILE_STORAGE_BACKEND", "LOCAL_STORAGE_BASE_PATH", "MAX_NOTE_UPLOAD_MB", "NOTES_ALLOWED_MIME_TYPES",
	"OPENAI_API_KEY", "OPENAI_MODEL", "OPENAI_BASE_URL", "OPENAI_TIMEOUT", "OPENAI_MAX_PROMPT_CHARS",
	"PATIENT_MRN_AUTO_GENERATE", "PATIENT_MRN_PREFIX",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("SUMMARY_RATE_LIMIT_RPS", 1)
	v.SetDefault("SUMMARY_RATE_LIMIT_BURST", 5)
	v.SetDefault("FILE_STORAGE_BACKEND", "local")
	v.SetDefault("LOCAL_STORAGE_BASE_PATH", "./data/notes")
	v.SetDefault("MAX_NOTE_UPLOAD_MB", 5)
	v.SetDefault("NOTES_ALLOWED_MIME_TYPES", "text/plain,application/pdf,image/png,image/jpeg")
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("OPENAI_BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("OPENAI_TIMEOUT", "30s")
	v.SetDefault("OPENAI_MAX_PROMPT_CHARS", 60000)
	v.SetDefault("PATIENT_MRN_AUTO_GENERATE", true)
	v.SetDefault("PATIENT_MRN_PREFIX", "MRN-")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = splitList(cfg.CORSOrigins[0])
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Driver reports which store backs DATABASE_URL: "sqlite" for sqlite: and
// file: URLs, "postgres" otherwise.
func (c *Config) Driver() string {
	u := strings.ToLower(c.DatabaseURL)
	if strings.HasPrefix(u, "sqlite:") || strings.HasPrefix(u, "file:") {
		return DriverSQLite
	}
	return DriverPostgres
}

// SQLitePath returns the DSN passed to the sqlite driver.
func (c *Config) SQLitePath() string {
	dsn := c.DatabaseURL
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite:") {
		dsn = strings.TrimPrefix(dsn[len("sqlite:"):], "//")
	}
	return dsn
}

func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxNoteUploadMB) * 1024 * 1024
}

// AllowedMIMETypes returns the configured upload types, lower-cased.
func (c *Config) AllowedMIMETypes() []string {
	return splitList(strings.ToLower(c.NotesAllowedMIMETypes))
}

// LLMEnabled reports whether summaries can be generated.
func (c *Config) LLMEnabled() bool {
	return strings.TrimSpace(c.OpenAIAPIKey) != ""
}

// Validate checks that the configuration is usable before the server starts.
func (c *Config) Validate() error {
	if c.FileStorageBackend != "local" {
		return fmt.Errorf("FILE_STORAGE_BACKEND must be \"local\", got %q", c.FileStorageBackend)
	}
	if c.LocalStorageBasePath == "" {
		return fmt.Errorf("LOCAL_STORAGE_BASE_PATH is required")
	}
	if c.MaxNoteUploadMB < 1 {
		return fmt.Errorf("MAX_NOTE_UPLOAD_MB must be at least 1, got %d", c.MaxNoteUploadMB)
	}
	if len(c.AllowedMIMETypes()) == 0 {
		return fmt.Errorf("NOTES_ALLOWED_MIME_TYPES must list at least one type")
	}
	if c.OpenAIMaxPromptChars < 1000 {
		return fmt.Errorf("OPENAI_MAX_PROMPT_CHARS must be at least 1000, got %d", c.OpenAIMaxPromptChars)
	}
	if c.OpenAITimeout <= 0 {
		return fmt.Errorf("OPENAI_TIMEOUT must be positive")
	}
	if c.PatientMRNAutoGenerate && c.PatientMRNPrefix == "" {
		return fmt.Errorf("PATIENT_MRN_PREFIX is required when PATIENT_MRN_AUTO_GENERATE is true")
	}
	if c.SummaryRateLimitRPS <= 0 || c.SummaryRateLimitBurst < 1 {
		return fmt.Errorf("SUMMARY_RATE_LIMIT_RPS and SUMMARY_RATE_LIMIT_BURST must be positive")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
