package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration loaded from environment
// variables. It is immutable after Load() returns; one construction site
// per process, per the design notes on global mutable state.
type Config struct {
	Port          int
	Environment   string
	LogLevel      string
	DatabaseURL   string
	DBMaxConns    int
	ClientURL     string
	AllowedOrigins []string

	VectorURL              string
	VectorAPIKey           string
	VectorCollectionDefault string

	LLMProvider      string
	LLMModel         string
	LLMBaseURL       string
	Temperature      float64
	MaxOutputTokens  int

	EmbeddingProvider  string
	EmbeddingModel     string
	EmbeddingBatchSize int
	EmbeddingDimensions int

	ChunkSize    int
	ChunkOverlap int
	KDocuments   int

	GCPProject       string
	GCPRegion        string
	VertexAILocation string
	DocAIProcessorID string
	DocAILocation    string
	GCSBucketName    string

	IngestionJobConcurrency int
	EmbeddingBatchGroups    int
	QueryConcurrency        int
	IndexingJobTimeoutSec   int
	QueryTimeoutSec         int

	ExternalAgentDBEnabled  bool
	ExternalAgentDBType     string
	ExternalAgentDBURI      string
	ExternalAgentDBUser     string
	ExternalAgentDBPassword string
	ExternalAgentAPIURL     string
	ExternalAgentAPIKey     string
	ExternalAgentTableName  string
	ExternalAgentFieldMap   map[string]string

	PreferLocalAgents bool
	SkillBasedRouting bool
	QueueTimeoutMS    int

	ExternalBridgeEnabled   bool
	ExternalBridgeProjectID string
	ExternalBridgeTopic     string
	ExternalBridgeSub       string

	RedisAddr string

	JWTSecret string
}

// Load reads configuration from environment variables. DATABASE_URL (or
// DB_URI) is always required. GOOGLE_CLOUD_PROJECT is read but not
// checked here.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = os.Getenv("DB_URI")
	}
	if dbURL == "" {
		return nil, fmt.Errorf("config.Load: DATABASE_URL is required")
	}

	cfg := &Config{
		Port:           envInt("PORT", 8080),
		Environment:    envStr("ENVIRONMENT", "development"),
		LogLevel:       envStr("LOG_LEVEL", "info"),
		DatabaseURL:    dbURL,
		DBMaxConns:     envInt("DATABASE_MAX_CONNS", 25),
		ClientURL:      envStr("CLIENT_URL", "http://localhost:3000"),
		AllowedOrigins: envList("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		VectorURL:               envStr("VECTOR_URL", ""),
		VectorAPIKey:             envStr("VECTOR_API_KEY", ""),
		VectorCollectionDefault:  envStr("VECTOR_COLLECTION_DEFAULT", "tenant_documents"),

		LLMProvider:     envStr("LLM_PROVIDER", "gemini"),
		LLMModel:        envStr("LLM_MODEL", "gemini-3-pro-preview"),
		LLMBaseURL:      envStr("LLM_BASE_URL", ""),
		Temperature:     envFloat("TEMPERATURE", 0.3),
		MaxOutputTokens: envInt("MAX_OUTPUT_TOKENS", 1024),

		EmbeddingProvider:   envStr("EMBEDDING_PROVIDER", "gemini"),
		EmbeddingModel:      envStr("EMBEDDING_MODEL", "text-embedding-004"),
		EmbeddingBatchSize:  envInt("EMBEDDING_BATCH_SIZE", 50),
		EmbeddingDimensions: envInt("EMBEDDING_DIMENSIONS", 768),

		ChunkSize:    envInt("CHUNK_SIZE", 1000),
		ChunkOverlap: envInt("CHUNK_OVERLAP", 100),
		KDocuments:   envInt("K_DOCUMENTS", 3),

		GCPProject:       envStr("GOOGLE_CLOUD_PROJECT", ""),
		GCPRegion:        envStr("GCP_REGION", "us-east4"),
		VertexAILocation: envStr("VERTEX_AI_LOCATION", "global"),
		DocAIProcessorID: envStr("DOCUMENT_AI_PROCESSOR_ID", ""),
		DocAILocation:    envStr("DOCUMENT_AI_LOCATION", "us"),
		GCSBucketName:    envStr("GCS_BUCKET_NAME", ""),

		IngestionJobConcurrency: envInt("INGESTION_JOB_CONCURRENCY", 3),
		EmbeddingBatchGroups:    envInt("EMBEDDING_BATCH_GROUPS", 4),
		QueryConcurrency:        envInt("QUERY_CONCURRENCY", 10),
		IndexingJobTimeoutSec:   envInt("INDEXING_JOB_TIMEOUT_SEC", 300),
		QueryTimeoutSec:         envInt("QUERY_TIMEOUT_SEC", 30),

		ExternalAgentDBEnabled:  envBool("EXTERNAL_AGENT_DB_ENABLED", false),
		ExternalAgentDBType:     envStr("EXTERNAL_AGENT_DB_TYPE", "neo4j"),
		ExternalAgentDBURI:      envStr("EXTERNAL_AGENT_DB_URI", ""),
		ExternalAgentDBUser:     envStr("EXTERNAL_AGENT_DB_USER", "neo4j"),
		ExternalAgentDBPassword: envStr("EXTERNAL_AGENT_DB_PASSWORD", ""),
		ExternalAgentAPIURL:     envStr("EXTERNAL_AGENT_API_URL", ""),
		ExternalAgentAPIKey:    envStr("EXTERNAL_AGENT_API_KEY", ""),
		ExternalAgentTableName: envStr("EXTERNAL_AGENT_TABLE_NAME", "agents"),
		ExternalAgentFieldMap:  envFieldMap("EXTERNAL_AGENT_FIELD_"),

		PreferLocalAgents: envBool("PREFER_LOCAL_AGENTS", true),
		SkillBasedRouting: envBool("SKILL_BASED_ROUTING", true),
		QueueTimeoutMS:    envInt("QUEUE_TIMEOUT_MS", 10*60*1000),

		ExternalBridgeEnabled:   envBool("EXTERNAL_BRIDGE_ENABLED", false),
		ExternalBridgeProjectID: envStr("EXTERNAL_BRIDGE_PROJECT_ID", ""),
		ExternalBridgeTopic:     envStr("EXTERNAL_BRIDGE_TOPIC", "widget-messages"),
		ExternalBridgeSub:       envStr("EXTERNAL_BRIDGE_SUBSCRIPTION", "agent-bridge"),

		RedisAddr: envStr("REDIS_ADDR", "localhost:6379"),

		JWTSecret: envStr("JWT_SECRET", ""),
	}

	if cfg.Environment != "development" && cfg.JWTSecret == "" {
		return nil, fmt.Errorf("config.Load: JWT_SECRET is required in %s environment", cfg.Environment)
	}
	if cfg.ExternalAgentDBEnabled && cfg.ExternalAgentDBURI == "" {
		return nil, fmt.Errorf("config.Load: EXTERNAL_AGENT_DB_URI is required when EXTERNAL_AGENT_DB_ENABLED=true")
	}

	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// envFieldMap collects EXTERNAL_AGENT_FIELD_* overrides into a map keyed by
// the lower-cased suffix, e.g. EXTERNAL_AGENT_FIELD_EMAIL=contact_email
// becomes {"email": "contact_email"}.
func envFieldMap(prefix string) map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || !strings.HasPrefix(parts[0], prefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(parts[0], prefix))
		out[key] = parts[1]
	}
	return out
}
