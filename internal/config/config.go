package config

import (
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
)

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	PublicBaseURL   string
	// Endpoint overrides the account-derived R2 endpoint (MinIO, S3).
	Endpoint  string
	Namespace string
}

type ProviderConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

type PipelineConfig struct {
	StagingDir        string
	UploadTimeout     time.Duration
	MaxRetries        uint64
	InitialBackoff    time.Duration
	BackoffMultiplier float64
	MaxUploadBytes    int64
}

type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type Config struct {
	DB_URL      string
	DBDriver    string
	Port        string
	JWTSecret   string
	TokenTTL    time.Duration
	BcryptCost  int
	Environment string
	LogLevel    string
	FrontendURL string
	CorsConfig  cors.Options
	R2          R2Config

	Transcription          ProviderConfig
	Generation             ProviderConfig
	GenerationSystemPrompt string
	UseStubProviders       bool

	Pipeline PipelineConfig
	Google   GoogleConfig
}

// Load reads ENV_FILE (default .env) into the process environment and
// builds the configuration from it.
func Load() Config {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Println("No", envFile, "file found")
	}

	frontend := getEnv("FRONTEND_URL", "http://localhost:5173")

	return Config{
		DB_URL:      getEnv("DB_URL", ""),
		DBDriver:    getEnv("DB_DRIVER", "postgres"),
		Port:        getEnv("PORT", "8080"),
		JWTSecret:   getEnv("JWT_SECRET", "not-so-secret-now-is-it?"),
		TokenTTL:    getDuration("TOKEN_TTL", 6*time.Hour),
		BcryptCost:  getInt("BCRYPT_COST", 12),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		FrontendURL: frontend,
		CorsConfig:  CorsConfig(getList("CORS_ALLOWED_ORIGINS", []string{frontend})),
		R2: R2Config{
			AccountID:       getEnv("R2_ACCOUNT_ID", ""),
			AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
			BucketName:      getEnv("R2_BUCKET_NAME", ""),
			Region:          getEnv("R2_REGION", "auto"),
			PublicBaseURL:   getEnv("R2_PUBLIC_BASE_URL", ""),
			Endpoint:        getEnv("R2_ENDPOINT", ""),
			Namespace:       getEnv("BLOB_NAMESPACE", "memoscribe"),
		},
		Transcription: ProviderConfig{
			APIKey:  getEnv("TRANSCRIPTION_API_KEY", ""),
			BaseURL: getEnv("TRANSCRIPTION_BASE_URL", "https://api.openai.com/v1"),
			Model:   getEnv("TRANSCRIPTION_MODEL", "whisper-1"),
			Timeout: getDuration("TRANSCRIPTION_TIMEOUT", 60*time.Second),
		},
		Generation: ProviderConfig{
			APIKey:  getEnv("GENERATION_API_KEY", ""),
			BaseURL: getEnv("GENERATION_BASE_URL", "https://api.openai.com/v1"),
			Model:   getEnv("GENERATION_MODEL", "gpt-4o-mini"),
			Timeout: getDuration("GENERATION_TIMEOUT", 30*time.Second),
		},
		GenerationSystemPrompt: getEnv("GENERATION_SYSTEM_PROMPT",
			"Rewrite the following voice memo transcript as clear, well structured written text."),
		UseStubProviders: getBool("USE_STUB_PROVIDERS", false),
		Pipeline: PipelineConfig{
			StagingDir:        getEnv("STAGING_DIR", os.TempDir()),
			UploadTimeout:     getDuration("UPLOAD_TIMEOUT", 30*time.Second),
			MaxRetries:        uint64(getInt("PIPELINE_MAX_RETRIES", 2)),
			InitialBackoff:    getDuration("PIPELINE_INITIAL_BACKOFF", time.Second),
			BackoffMultiplier: getFloat("PIPELINE_BACKOFF_MULTIPLIER", 4),
			MaxUploadBytes:    int64(getInt("MAX_UPLOAD_BYTES", 25<<20)),
		},
		Google: GoogleConfig{
			ClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
			RedirectURL:  getEnv("GOOGLE_REDIRECT_URL", "http://localhost:8080/api/v1/auth/google/callback"),
		},
	}
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// Gets the env by key or fallbacks
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("Invalid duration for %s: %q, using %s", key, value, fallback)
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		log.Printf("Invalid integer for %s: %q, using %d", key, value, fallback)
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func CorsConfig(origins []string) cors.Options {
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}
}
