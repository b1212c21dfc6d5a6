// Package config provides configuration loading and management for the evidence service.
// It handles environment variable parsing and provides default values for all settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// init loads environment variables from .env files during package initialization.
// godotenv.Load() does not override already-set environment variables,
// so the OS environment always wins over .env files.
func init() {
	// Load .env file if it exists (for shared development config)
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
		}
	}

	// Load .env.local if it exists (for local overrides, gitignored)
	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env.local file: %v\n", err)
		}
	}
}

// Config captures environment-driven settings for the evidence service.
type Config struct {
	Env         string // Deployment environment (dev, staging, prod)
	Port        string // HTTP server port
	DatabaseDSN string // Postgres document store; memory store when empty
	NATSURL     string // NATS server URL; events are dropped when empty

	// Blob storage
	S3Endpoint  string // S3-compatible storage endpoint
	S3Region    string // S3 region
	S3Bucket    string // S3 bucket name
	S3AccessKey string // S3 access key
	S3SecretKey string // S3 secret key
	BlobDir     string // Local blob directory used when no bucket is configured

	// Analysis providers
	VertexProjectID   string        // Vertex AI project
	VertexLocation    string        // Vertex AI region
	VertexModel       string        // Generative model name
	VertexAccessToken string        // OAuth bearer for Vertex, Video Intelligence and Vision
	GoogleAPIKey      string        // API key for Generative Language, Vision and Video Intelligence
	ProviderTimeout   time.Duration // Bound on every provider call
	FFmpegPath        string        // ffmpeg binary for key frames; looked up on PATH when empty

	// Uploads and reports
	MaxUploadSize   int64  // Maximum evidence size in bytes
	DefaultLanguage string // Report language when the request does not choose one
	ReportFontPath  string // UTF-8 TrueType font for non-Latin report text

	// Officer authentication, enabled when JWKSURL is set
	JWKSURL     string
	JWTIssuer   string
	JWTAudience string

	// CORS configuration
	CORSAllowedOrigins []string // Allowed origins for CORS (empty means deny all)
}

// Default configuration values used when environment variables are not set
const (
	defaultPort            = "8080"
	defaultS3Region        = "us-east-1"
	defaultEnv             = "dev"
	defaultBlobDir         = "uploads"
	defaultVertexLocation  = "us-central1"
	defaultVertexModel     = "gemini-2.0-flash-exp"
	defaultProviderTimeout = 300 * time.Second
	defaultMaxUploadSize   = 100 * 1024 * 1024
	defaultLanguage        = "en"
)

// Load reads environment variables and produces a Config suitable for wiring the service.
// Returns an error if a value is malformed or a dependent setting is missing.
func Load() (Config, error) {
	cfg := Config{
		Env:               getEnv("EVD_ENV", defaultEnv),
		Port:              getEnv("EVD_PORT", defaultPort),
		DatabaseDSN:       os.Getenv("EVD_DB_DSN"),
		NATSURL:           os.Getenv("EVD_NATS_URL"),
		S3Endpoint:        os.Getenv("EVD_S3_ENDPOINT"),
		S3Region:          getEnv("EVD_S3_REGION", defaultS3Region),
		S3Bucket:          getEnv("EVD_S3_BUCKET", os.Getenv("FIREBASE_STORAGE_BUCKET")),
		S3AccessKey:       os.Getenv("EVD_S3_ACCESS_KEY"),
		S3SecretKey:       os.Getenv("EVD_S3_SECRET_KEY"),
		BlobDir:           getEnv("EVD_BLOB_DIR", defaultBlobDir),
		VertexProjectID:   os.Getenv("VERTEX_AI_PROJECT_ID"),
		VertexLocation:    getEnv("VERTEX_AI_LOCATION", defaultVertexLocation),
		VertexModel:       getEnv("VERTEX_AI_MODEL", defaultVertexModel),
		VertexAccessToken: os.Getenv("VERTEX_AI_ACCESS_TOKEN"),
		GoogleAPIKey:      os.Getenv("GOOGLE_API_KEY"),
		FFmpegPath:        os.Getenv("EVD_FFMPEG_PATH"),
		DefaultLanguage:   getEnv("EVD_DEFAULT_LANGUAGE", defaultLanguage),
		ReportFontPath:    os.Getenv("EVD_REPORT_FONT_PATH"),
		JWKSURL:           os.Getenv("EVD_JWKS_URL"),
		JWTIssuer:         os.Getenv("EVD_JWT_ISSUER"),
		JWTAudience:       os.Getenv("EVD_JWT_AUDIENCE"),
		ProviderTimeout:   defaultProviderTimeout,
		MaxUploadSize:     defaultMaxUploadSize,
	}

	if raw, exists := os.LookupEnv("EVD_PROVIDER_TIMEOUT"); exists && raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return cfg, fmt.Errorf("EVD_PROVIDER_TIMEOUT: %w", err)
		}
		cfg.ProviderTimeout = d
	}
	if cfg.ProviderTimeout <= 0 {
		return cfg, fmt.Errorf("EVD_PROVIDER_TIMEOUT must be positive")
	}

	if raw, exists := os.LookupEnv("EVD_MAX_UPLOAD_SIZE"); exists && raw != "" {
		size, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("EVD_MAX_UPLOAD_SIZE: %w", err)
		}
		cfg.MaxUploadSize = size
	}
	if cfg.MaxUploadSize <= 0 {
		return cfg, fmt.Errorf("EVD_MAX_UPLOAD_SIZE must be positive")
	}

	if corsOrigins, exists := os.LookupEnv("EVD_CORS_ALLOWED_ORIGINS"); exists {
		cfg.CORSAllowedOrigins = splitList(corsOrigins)
	}

	// Officer auth is optional, but a JWKS without issuer/audience would accept any token
	if cfg.JWKSURL != "" {
		if cfg.JWTIssuer == "" {
			return cfg, fmt.Errorf("EVD_JWT_ISSUER is required when EVD_JWKS_URL is set")
		}
		if cfg.JWTAudience == "" {
			return cfg, fmt.Errorf("EVD_JWT_AUDIENCE is required when EVD_JWKS_URL is set")
		}
	}

	return cfg, nil
}

// AuthEnabled reports whether bearer tokens are verified on write routes.
func (c Config) AuthEnabled() bool { return c.JWKSURL != "" }

// getEnv retrieves an environment variable value, returning a fallback if not set or empty
func getEnv(key, fallback string) string {
	if v, exists := os.LookupEnv(key); exists && v != "" {
		return v
	}
	return fallback
}

// splitList splits a comma list, trimming whitespace and dropping empty entries.
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
