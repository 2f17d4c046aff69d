// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the
// HTTP server, logging, persistence, AI providers, prompt templates, context
// assembly, section search, session locking, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-tutor-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// LogFileConfig configures the optional rotating log file sink.
type LogFileConfig struct {
	Path       string // LOG_FILE; empty disables the file sink
	MaxSizeMB  int    // LOG_MAX_SIZE_MB
	MaxBackups int    // LOG_MAX_BACKUPS
	MaxAgeDays int    // LOG_MAX_AGE_DAYS
	Compress   bool   // LOG_COMPRESS
}

// DatabaseConfig selects the SQL driver and its connection settings.
type DatabaseConfig struct {
	Driver string // sqlite|postgres
	Path   string // SQLite file path
	URL    string // Postgres DSN
}

// ProviderConfig holds the credentials and endpoint of one OpenAI-compatible
// LLM backend. An empty APIKey leaves the provider unavailable.
type ProviderConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// AIConfig groups provider credentials and call defaults.
type AIConfig struct {
	OpenAI   ProviderConfig
	DeepSeek ProviderConfig

	Temperature     float64       // AI_TEMPERATURE
	MaxTokens       int           // AI_MAX_TOKENS
	RetryAttempts   int           // AI_RETRY_ATTEMPTS
	RetryBaseDelay  time.Duration // AI_RETRY_BASE_DELAY
	ProviderTimeout time.Duration // PROVIDER_TIMEOUT, per attempt
}

// PromptConfig locates the versioned prompt templates.
type PromptConfig struct {
	Dir      string        // PROMPTS_DIR
	CacheTTL time.Duration // PROMPT_CACHE_TTL; <= 0 disables caching
}

// ContextConfig bounds prompt context assembly.
type ContextConfig struct {
	Budget      int // CONTEXT_BUDGET in characters
	MaxSections int // CONTEXT_MAX_SECTIONS
	HistorySize int // CONTEXT_HISTORY
}

// SearchConfig selects the section search backend.
type SearchConfig struct {
	Backend           string // memory|pinecone
	PineconeAPIKey    string
	PineconeIndex     string
	PineconeNamespace string
	EmbeddingModel    string

	// Keyword index tuning (memory backend).
	Stopwords       []string // SEARCH_STOPWORDS, comma separated
	MinSectionRunes int      // SEARCH_MIN_SECTION_RUNES; shorter sections are skipped
	MaxPerContent   int      // SEARCH_MAX_PER_CONTENT; 0 keeps every section
}

// LockConfig configures per-session mutual exclusion.
type LockConfig struct {
	RedisURL string        // REDIS_URL; empty uses an in-process locker
	TTL      time.Duration // LOCK_TTL
	Wait     time.Duration // LOCK_WAIT
}

// defaultStopwords are dropped from keyword search queries and sections.
const defaultStopwords = "a,an,and,are,as,at,be,by,for,from,in,is,it,of,on,or,that,the,to,was,what,with"

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // must exceed a full AI round trip
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	LogFile        LogFileConfig
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DB              DatabaseConfig
	AI              AIConfig
	Prompts         PromptConfig
	Context         ContextConfig
	Search          SearchConfig
	Lock            LockConfig
	MaxMessageRunes int // MAX_MESSAGE_RUNES for inbound learner text

	// Rate limiting
	RateRPS     float64 // RATE_RPS, per learner (>= 0)
	RateBurst   int     // RATE_BURST (>= 1)
	AIRateRPS   float64 // AI_RATE_RPS, per learner and session on AI-backed routes (>= 0)
	AIRateBurst int     // AI_RATE_BURST (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 180*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),
		LogFile: LogFileConfig{
			Path:       getenv("LOG_FILE", ""),
			MaxSizeMB:  getint("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getint("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getint("LOG_MAX_AGE_DAYS", 28),
			Compress:   getbool("LOG_COMPRESS", true),
		},
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DB: DatabaseConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:   getenv("DB_PATH", "tutor.db"),
			URL:    getenv("DATABASE_URL", ""),
		},
		AI: AIConfig{
			OpenAI: ProviderConfig{
				APIKey:  getenv("OPENAI_API_KEY", ""),
				BaseURL: getenv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
				Model:   getenv("OPENAI_MODEL", "gpt-4o"),
			},
			DeepSeek: ProviderConfig{
				APIKey:  getenv("DEEPSEEK_API_KEY", ""),
				BaseURL: getenv("DEEPSEEK_BASE_URL", "https://api.deepseek.com/v1"),
				Model:   getenv("DEEPSEEK_MODEL", "deepseek-chat"),
			},
			Temperature:     getfloat("AI_TEMPERATURE", 0.7),
			MaxTokens:       getint("AI_MAX_TOKENS", 4096),
			RetryAttempts:   getint("AI_RETRY_ATTEMPTS", 3),
			RetryBaseDelay:  getdur("AI_RETRY_BASE_DELAY", time.Second),
			ProviderTimeout: getdur("PROVIDER_TIMEOUT", 45*time.Second),
		},
		Prompts: PromptConfig{
			Dir:      getenv("PROMPTS_DIR", "prompts"),
			CacheTTL: getdur("PROMPT_CACHE_TTL", 5*time.Minute),
		},
		Context: ContextConfig{
			Budget:      getint("CONTEXT_BUDGET", 16000),
			MaxSections: getint("CONTEXT_MAX_SECTIONS", 5),
			HistorySize: getint("CONTEXT_HISTORY", 5),
		},
		Search: SearchConfig{
			Backend:           strings.ToLower(getenv("SEARCH_BACKEND", "memory")),
			PineconeAPIKey:    getenv("PINECONE_API_KEY", ""),
			PineconeIndex:     getenv("PINECONE_INDEX", "content-sections"),
			PineconeNamespace: getenv("PINECONE_NAMESPACE", "content_sections"),
			EmbeddingModel:    getenv("EMBEDDING_MODEL", "text-embedding-3-small"),
			Stopwords:         splitCSV(getenv("SEARCH_STOPWORDS", defaultStopwords)),
			MinSectionRunes:   getint("SEARCH_MIN_SECTION_RUNES", 0),
			MaxPerContent:     getint("SEARCH_MAX_PER_CONTENT", 0),
		},
		Lock: LockConfig{
			RedisURL: getenv("REDIS_URL", ""),
			TTL:      getdur("LOCK_TTL", 3*time.Minute),
			Wait:     getdur("LOCK_WAIT", 10*time.Second),
		},
		MaxMessageRunes: getint("MAX_MESSAGE_RUNES", 10000),

		// Rate limiting
		RateRPS:     getfloat("RATE_RPS", 5.0),
		RateBurst:   getint("RATE_BURST", 10),
		AIRateRPS:   getfloat("AI_RATE_RPS", 0.5),
		AIRateBurst: getint("AI_RATE_BURST", 5),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-tutor-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DB.Driver == "postgresql" || cfg.DB.Driver == "pg" {
		cfg.DB.Driver = "postgres"
	}
	cfg.AI.OpenAI.BaseURL = strings.TrimRight(cfg.AI.OpenAI.BaseURL, "/")
	cfg.AI.DeepSeek.BaseURL = strings.TrimRight(cfg.AI.DeepSeek.BaseURL, "/")

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.URL) == "" {
			return cfg, errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if cfg.AI.Temperature < 0 || cfg.AI.Temperature > 2 {
		return cfg, errors.New("AI_TEMPERATURE must be between 0 and 2")
	}
	if cfg.AI.MaxTokens <= 0 {
		return cfg, errors.New("AI_MAX_TOKENS must be > 0")
	}
	if cfg.AI.RetryAttempts < 1 {
		return cfg, errors.New("AI_RETRY_ATTEMPTS must be >= 1")
	}
	if cfg.AI.RetryBaseDelay < 0 {
		return cfg, errors.New("AI_RETRY_BASE_DELAY must be >= 0")
	}
	if cfg.AI.ProviderTimeout <= 0 {
		return cfg, errors.New("PROVIDER_TIMEOUT must be > 0")
	}
	if strings.TrimSpace(cfg.Prompts.Dir) == "" {
		return cfg, errors.New("PROMPTS_DIR must not be empty")
	}
	if cfg.Context.Budget < 1000 {
		return cfg, errors.New("CONTEXT_BUDGET must be >= 1000")
	}
	if cfg.Context.MaxSections < 1 || cfg.Context.HistorySize < 0 {
		return cfg, errors.New("CONTEXT_MAX_SECTIONS must be >= 1 and CONTEXT_HISTORY >= 0")
	}
	switch cfg.Search.Backend {
	case "memory":
	case "pinecone":
		if cfg.Search.PineconeAPIKey == "" || cfg.AI.OpenAI.APIKey == "" {
			return cfg, errors.New("SEARCH_BACKEND=pinecone requires PINECONE_API_KEY and OPENAI_API_KEY")
		}
	default:
		return cfg, errors.New("SEARCH_BACKEND must be one of: memory, pinecone")
	}
	if cfg.Lock.TTL <= 0 || cfg.Lock.Wait <= 0 {
		return cfg, errors.New("LOCK_TTL and LOCK_WAIT must be > 0")
	}
	if cfg.MaxMessageRunes <= 0 {
		return cfg, errors.New("MAX_MESSAGE_RUNES must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.AIRateRPS < 0 {
		return cfg, errors.New("AI_RATE_RPS must be >= 0")
	}
	if cfg.AIRateBurst < 1 {
		return cfg, errors.New("AI_RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
