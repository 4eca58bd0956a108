package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	OTel          OTelConfig
	Pipeline      PipelineConfig
	Tracker       TrackerConfig
	Docs          DocsConfig
	LLM           LLMConfig
	Engine        EngineConfig
	Env           string
	Port          string
	TargetProject string
	DebugDir      string
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

type PipelineConfig struct {
	RedisURL        string
	RedisStream     string
	RedisGroup      string
	RedisDLQStream  string
	RedisConsumer   string
	TraceHeaderName string
	MaxAttempts     int
}

type TrackerProvider string

const (
	TrackerJira   TrackerProvider = "jira"
	TrackerGitLab TrackerProvider = "gitlab"
)

type TrackerConfig struct {
	Provider TrackerProvider
	BaseURL  string
	Token    string

	// Test case creation
	TestCaseIssueType string
	Fields            FieldIDs

	// GitLab only: issues live in one project and keys are "<KeyPrefix>-<iid>".
	Project         string
	KeyPrefix       string
	EpicLabelPrefix string
	DocLabelPrefix  string

	// Webhook trigger: adding TriggerLabel to an issue enqueues a run.
	WebhookSecret string
	TriggerLabel  string
}

// FieldIDs are the tracker custom field ids used when reading and writing issues.
type FieldIDs struct {
	EpicLink            string
	DocLink             string
	TestScope           string
	ExecutionMode       string
	AutomationCandidate string
}

type DocsConfig struct {
	ConfluenceURL   string
	ConfluenceToken string
	WikiProject     string
}

type LLMConfig struct {
	Provider    string // "openai" or "anthropic"
	APIKey      string
	BaseURL     string // Optional: GitHub Models, Azure or any OpenAI compatible endpoint
	Model       string
	MaxTokens   int
	Temperature float64
	Language    string // language the generated scenarios are written in
}

type ServiceType string

const (
	ServiceTypeCLI    ServiceType = "cli"
	ServiceTypeServer ServiceType = "server"
	ServiceTypeWorker ServiceType = "worker"
)

// Load loads configuration from environment variables.
// In development, it loads from service-specific .env files:
//   - .env.cli for one-shot runs
//   - .env.server for the webhook server
//   - .env.worker for the background worker
//
// Falls back to .env if service-specific file doesn't exist.
func Load(serviceType ServiceType) (Config, error) {
	if getEnv("TESTGEN_ENV", "development") == "development" {
		envFile := fmt.Sprintf(".env.%s", serviceType)
		if err := godotenv.Load(envFile); err != nil {
			_ = godotenv.Load(".env")
		}
	}

	engine, err := loadEngine()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Env:           getEnv("TESTGEN_ENV", "development"),
		Port:          getEnv("PORT", "8080"),
		TargetProject: getEnv("TARGET_PROJECT", ""),
		DebugDir:      getEnv("DEBUG_DIR", ""),
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "testgen"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
		Pipeline: PipelineConfig{
			RedisURL:        getEnv("REDIS_URL", "redis://localhost:6379/0"),
			RedisStream:     getEnv("REDIS_STREAM", "testgen_runs"),
			RedisGroup:      getEnv("REDIS_CONSUMER_GROUP", "testgen_group"),
			RedisDLQStream:  getEnv("REDIS_DLQ_STREAM", "testgen_runs_dlq"),
			RedisConsumer:   getEnv("REDIS_CONSUMER_NAME", "testgen-worker"),
			TraceHeaderName: getEnv("TRACE_HEADER_NAME", "X-Trace-Id"),
			MaxAttempts:     getEnvInt("RUN_MAX_ATTEMPTS", 3),
		},
		Tracker: TrackerConfig{
			Provider:          TrackerProvider(strings.ToLower(getEnv("TRACKER_PROVIDER", string(TrackerJira)))),
			BaseURL:           strings.TrimRight(getEnv("TRACKER_URL", ""), "/"),
			Token:             cleanToken(getEnv("TRACKER_TOKEN", "")),
			TestCaseIssueType: getEnv("TEST_CASE_ISSUE_TYPE", "Test Case"),
			Fields: FieldIDs{
				EpicLink:            getEnv("FIELD_EPIC_LINK", "customfield_11600"),
				DocLink:             getEnv("FIELD_DOC_LINK", "customfield_22398"),
				TestScope:           getEnv("FIELD_TEST_SCOPE", "customfield_10163"),
				ExecutionMode:       getEnv("FIELD_EXECUTION_MODE", "customfield_10150"),
				AutomationCandidate: getEnv("FIELD_AUTOMATION_CANDIDATE", "customfield_10161"),
			},
			Project:         getEnv("GITLAB_PROJECT", ""),
			KeyPrefix:       getEnv("GITLAB_KEY_PREFIX", ""),
			EpicLabelPrefix: getEnv("GITLAB_EPIC_LABEL_PREFIX", "epic::"),
			DocLabelPrefix:  getEnv("GITLAB_DOC_LABEL_PREFIX", "doc::"),
			WebhookSecret:   cleanToken(getEnv("GITLAB_WEBHOOK_SECRET", "")),
			TriggerLabel:    getEnv("TESTGEN_TRIGGER_LABEL", "testgen"),
		},
		Docs: DocsConfig{
			ConfluenceURL:   strings.TrimRight(getEnv("CONFLUENCE_URL", ""), "/"),
			ConfluenceToken: cleanToken(getEnv("CONFLUENCE_TOKEN", "")),
			WikiProject:     getEnv("GITLAB_WIKI_PROJECT", ""),
		},
		LLM: LLMConfig{
			Provider:    getEnv("LLM_PROVIDER", "openai"),
			APIKey:      cleanToken(getEnv("LLM_API_KEY", "")),
			BaseURL:     getEnv("LLM_BASE_URL", ""),
			Model:       getEnv("LLM_MODEL", "gpt-4o"),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 16384),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.2),
			Language:    getEnv("LLM_OUTPUT_LANGUAGE", "English"),
		},
		Engine: engine,
	}

	if serviceType == ServiceTypeServer {
		return cfg, nil
	}

	if !cfg.Tracker.Enabled() {
		return Config{}, fmt.Errorf("TRACKER_URL and TRACKER_TOKEN are required")
	}
	if cfg.Tracker.Provider == TrackerGitLab && (cfg.Tracker.Project == "" || cfg.Tracker.KeyPrefix == "") {
		return Config{}, fmt.Errorf("GITLAB_PROJECT and GITLAB_KEY_PREFIX are required for the gitlab tracker")
	}
	if !cfg.LLM.Enabled() {
		return Config{}, fmt.Errorf("LLM_API_KEY is required and LLM_PROVIDER must be openai or anthropic")
	}

	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func (c TrackerConfig) Enabled() bool {
	return c.BaseURL != "" && c.Token != "" && (c.Provider == TrackerJira || c.Provider == TrackerGitLab)
}

func (c DocsConfig) ConfluenceEnabled() bool {
	return c.ConfluenceURL != "" && c.ConfluenceToken != ""
}

func (c LLMConfig) Enabled() bool {
	return c.APIKey != "" && (c.Provider == "openai" || c.Provider == "anthropic")
}

// cleanToken strips quotes, a leading "Bearer " and non printable characters
// that tend to sneak into tokens pasted into .env files.
func cleanToken(s string) string {
	t := strings.TrimSpace(s)
	t = strings.NewReplacer(`"`, "", "'", "").Replace(t)
	if strings.HasPrefix(strings.ToLower(t), "bearer ") {
		t = strings.TrimSpace(t[7:])
	}
	return strings.Map(func(r rune) rune {
		if r > 32 && r < 127 {
			return r
		}
		return -1
	}, t)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}

// getEnvList reads a "|" separated list, lowercased and trimmed.
func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, "|") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
