// Package config provides environment configuration for the dispatch service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Workflows and knowledge
	WorkflowFile string
	KnowledgeDir string
	Placeholder  string

	// Sessions
	SessionTTL    time.Duration
	SweepInterval time.Duration
	StoreKind     string
	SQLitePath    string
	HistoryWindow int

	// Actions
	CollaboratorTimeout time.Duration
	FallbackChannels    []string

	// Backends: "keyword" or "llm" / "semantic"
	ClassifierBackend string
	SearchBackend     string
	MinSimilarity     float64

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string
	NATSEnabled  bool
	EventMaxAge  time.Duration

	// AMQP escalation broker
	AMQPURL      string
	AMQPExchange string

	// GitHub ticketing
	GitHubToken string
	GitHubRepo  string

	// Slack
	SlackBotToken      string
	SlackSigningSecret string

	// JWT settings
	JWTSecret     string
	JWTExpiration time.Duration

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultLLM      string
	LLMModel        string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables. Values in a .env
// file in the working directory are used for variables not already set.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 60*time.Second),

		// Workflows and knowledge
		WorkflowFile: getEnv("WORKFLOW_FILE", "config/flow.yaml"),
		KnowledgeDir: getEnv("KNOWLEDGE_DIR", "knowledge"),
		Placeholder:  getEnv("TEMPLATE_PLACEHOLDER", ""),

		// Sessions
		SessionTTL:    getDurationEnv("SESSION_TTL", 24*time.Hour),
		SweepInterval: getDurationEnv("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		StoreKind:     getEnv("SESSION_STORE", "memory"),
		SQLitePath:    getEnv("SQLITE_PATH", "dispatch.db"),
		HistoryWindow: getIntEnv("HISTORY_WINDOW", 10),

		// Actions
		CollaboratorTimeout: getDurationEnv("COLLABORATOR_TIMEOUT", 10*time.Second),
		FallbackChannels:    getListEnv("FALLBACK_ESCALATION_CHANNELS", []string{"#oncall"}),

		// Backends
		ClassifierBackend: getEnv("CLASSIFIER_BACKEND", "keyword"),
		SearchBackend:     getEnv("SEARCH_BACKEND", "keyword"),
		MinSimilarity:     getFloatEnv("SEARCH_MIN_SIMILARITY", 0.3),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),
		NATSEnabled:  getBoolEnv("NATS_ENABLED", false),
		EventMaxAge:  getDurationEnv("EVENT_MAX_AGE", 90*24*time.Hour),

		// AMQP
		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "oncall"),

		// GitHub
		GitHubToken: getEnv("GITHUB_TOKEN", ""),
		GitHubRepo:  getEnv("GITHUB_REPO", ""),

		// Slack
		SlackBotToken:      getEnv("SLACK_BOT_TOKEN", ""),
		SlackSigningSecret: getEnv("SLACK_SIGNING_SECRET", ""),

		// JWT
		JWTSecret:     getEnv("JWT_SECRET", "development-secret-change-in-production"),
		JWTExpiration: getDurationEnv("JWT_EXPIRATION", 15*time.Minute),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:      getEnv("DEFAULT_LLM", "anthropic"),
		LLMModel:        getEnv("LLM_MODEL", ""),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error
	if c.StoreKind != "memory" && c.StoreKind != "sqlite" {
		errs = append(errs, fmt.Errorf("SESSION_STORE must be memory or sqlite, got %q", c.StoreKind))
	}
	if c.ClassifierBackend != "keyword" && c.ClassifierBackend != "llm" {
		errs = append(errs, fmt.Errorf("CLASSIFIER_BACKEND must be keyword or llm, got %q", c.ClassifierBackend))
	}
	if c.SearchBackend != "keyword" && c.SearchBackend != "semantic" {
		errs = append(errs, fmt.Errorf("SEARCH_BACKEND must be keyword or semantic, got %q", c.SearchBackend))
	}
	if c.SearchBackend == "semantic" && c.OpenAIAPIKey == "" {
		errs = append(errs, errors.New("SEARCH_BACKEND=semantic requires OPENAI_API_KEY"))
	}
	if c.ClassifierBackend == "llm" && c.llmKey() == "" {
		errs = append(errs, fmt.Errorf("CLASSIFIER_BACKEND=llm requires an API key for %s", c.DefaultLLM))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.GitHubToken != "" && c.GitHubRepo == "" {
		errs = append(errs, errors.New("GITHUB_TOKEN requires GITHUB_REPO"))
	}
	return errors.Join(errs...)
}

func (c *Config) llmKey() string {
	if c.DefaultLLM == "openai" {
		return c.OpenAIAPIKey
	}
	return c.AnthropicAPIKey
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getListEnv reads a comma-separated list.
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
