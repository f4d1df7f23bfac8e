package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port    string
	Env     string
	Latent  LatentConfig
	Session SessionConfig
	Render  RenderConfig
}

// LatentConfig points at the computation backend that owns datasets and artifacts.
type LatentConfig struct {
	APIRoot  string
	Timeout  time.Duration
	Retries  int
	CacheTTL time.Duration
}

type SessionConfig struct {
	PostgresDSN string
	FilePath    string
}

type RenderConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	CacheTTL  time.Duration

	// DiskDir keeps renders on local disk when S3 is not configured.
	DiskDir      string
	DiskMaxBytes int64
}

// CanUseS3 reports whether every field needed to reach the bucket is set.
func (c RenderConfig) CanUseS3() bool {
	return c.Enabled &&
		strings.TrimSpace(c.Endpoint) != "" &&
		strings.TrimSpace(c.AccessKey) != "" &&
		strings.TrimSpace(c.SecretKey) != "" &&
		strings.TrimSpace(c.Bucket) != ""
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	port := flag.String("port", ":8082", "server port")
	flag.Parse()

	return FromEnv(*port), nil
}

// FromEnv builds the config from the environment, using port unless PORT is set.
func FromEnv(port string) *Config {
	if envPort := strings.TrimSpace(os.Getenv("PORT")); envPort != "" {
		port = envPort
	}
	if !strings.HasPrefix(port, ":") {
		port = ":" + port
	}

	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "local"
	}

	return &Config{
		Port:    port,
		Env:     env,
		Latent:  loadLatentConfig(),
		Session: loadSessionConfig(),
		Render:  loadRenderConfig(env),
	}
}

func loadLatentConfig() LatentConfig {
	return LatentConfig{
		APIRoot:  strings.TrimRight(firstNonEmpty(strings.TrimSpace(os.Getenv("LATENT_API_ROOT")), "http://localhost:5001/api"), "/"),
		Timeout:  envDuration("LATENT_API_TIMEOUT", 30*time.Second),
		Retries:  envInt("LATENT_API_RETRIES", 3),
		CacheTTL: envDuration("LATENT_API_CACHE_TTL", 10*time.Second),
	}
}

func loadSessionConfig() SessionConfig {
	return SessionConfig{
		PostgresDSN: firstNonEmpty(strings.TrimSpace(os.Getenv("SESSION_STORE_PG_DSN")), strings.TrimSpace(os.Getenv("DATABASE_URL"))),
		FilePath:    firstNonEmpty(strings.TrimSpace(os.Getenv("SESSION_STORE_PATH")), "tmp/setup_sessions.json"),
	}
}

func loadRenderConfig(env string) RenderConfig {
	endpoint := resolveRenderEndpoint(env)
	return RenderConfig{
		Enabled:   strings.EqualFold(env, "local") || endpoint != "",
		Endpoint:  endpoint,
		Region:    firstNonEmpty(strings.TrimSpace(os.Getenv("RENDER_S3_REGION")), "us-east-1"),
		AccessKey: firstNonEmpty(strings.TrimSpace(os.Getenv("RENDER_S3_ACCESS_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER"))),
		SecretKey: firstNonEmpty(strings.TrimSpace(os.Getenv("RENDER_S3_SECRET_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD"))),
		Bucket:    firstNonEmpty(strings.TrimSpace(os.Getenv("RENDER_S3_BUCKET")), "latent-renders"),
		UseSSL:    resolveRenderUseSSL(env),
		CacheTTL:  envDuration("RENDER_CACHE_TTL", 5*time.Minute),

		DiskDir:      strings.TrimSpace(os.Getenv("RENDER_DISK_DIR")),
		DiskMaxBytes: int64(envInt("RENDER_DISK_MAX_MB", 256)) << 20,
	}
}

func resolveRenderEndpoint(env string) string {
	if strings.EqualFold(env, "local") {
		return firstNonEmpty(strings.TrimSpace(os.Getenv("RENDER_MINIO_ENDPOINT")), "minio:9000")
	}
	return strings.TrimSpace(os.Getenv("RENDER_S3_ENDPOINT"))
}

func resolveRenderUseSSL(env string) bool {
	if strings.EqualFold(env, "local") {
		return false
	}
	raw := strings.TrimSpace(os.Getenv("RENDER_S3_USE_SSL"))
	if raw == "" {
		return true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func envInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
