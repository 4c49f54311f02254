package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Orchestrator backends
const (
	OrchestratorMock       = "mock"
	OrchestratorKubernetes = "kubernetes"
)

type Config struct {
	// Environment
	Environment string

	// Server
	Port           string
	GinMode        string
	AllowedOrigins []string

	// Database
	DatabaseURL   string
	MigrationsDir string

	// Identity provider
	IdPJWTSecret string
	IdPIssuer    string
	IdPAudience  string

	// Users with these emails are promoted to admin when they sign in
	AdminEmails []string

	// Shared token of internal callers (gateway, billing)
	InternalAPIToken string

	// Orchestrator
	Orchestrator        string
	OrchestratorTimeout time.Duration
	MCPProbeEnabled     bool
	K8sNamespace        string

	// Server-type catalog sources; empty means built-in
	TemplateCatalogPath string
	K8sTemplateCatalog  string

	StatusSyncInterval time.Duration

	// Cleanup; a zero interval disables it
	CleanupInterval       time.Duration
	FailedServerRetention time.Duration
	RequestLogRetention   time.Duration
}

func Load() (*Config, error) {
	// Build DATABASE_URL from components
	dbHost := getEnv("DB_HOST", "localhost")
	dbPort := getEnv("DB_PORT", "5432")
	dbUser := getEnv("DB_USER", "mymcp")
	dbPassword := getEnv("DB_PASSWORD", "")
	dbName := getEnv("DB_NAME", "mymcp")
	dbSSLMode := getEnv("DB_SSLMODE", "disable")

	databaseURL := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		dbUser, dbPassword, dbHost, dbPort, dbName, dbSSLMode,
	)

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),

		Port:           getEnv("PORT", "8080"),
		GinMode:        getEnv("GIN_MODE", "debug"),
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		DatabaseURL:   databaseURL,
		MigrationsDir: getEnv("MIGRATIONS_DIR", ""),

		IdPJWTSecret: getEnv("IDP_JWT_SECRET", ""),
		IdPIssuer:    getEnv("IDP_ISSUER", ""),
		IdPAudience:  getEnv("IDP_AUDIENCE", ""),

		AdminEmails: getEnvSlice("ADMIN_EMAILS", nil),

		InternalAPIToken: getEnv("INTERNAL_API_TOKEN", ""),

		Orchestrator:        strings.ToLower(getEnv("ORCHESTRATOR", OrchestratorMock)),
		OrchestratorTimeout: parseDuration(getEnv("ORCHESTRATOR_TIMEOUT", "30s"), 30*time.Second),
		MCPProbeEnabled:     parseBool(getEnv("MCP_PROBE_ENABLED", "false"), false),
		K8sNamespace:        getEnv("K8S_NAMESPACE", "mcp-servers"),

		TemplateCatalogPath: getEnv("TEMPLATE_CATALOG_PATH", ""),
		K8sTemplateCatalog:  getEnv("K8S_TEMPLATE_CATALOG", ""),

		StatusSyncInterval: parseDuration(getEnv("STATUS_SYNC_INTERVAL", "15s"), 15*time.Second),

		CleanupInterval:       parseDuration(getEnv("CLEANUP_INTERVAL", "1h"), time.Hour),
		FailedServerRetention: parseDuration(getEnv("FAILED_SERVER_RETENTION", "1h"), time.Hour),
		RequestLogRetention:   parseDuration(getEnv("REQUEST_LOG_RETENTION", "2160h"), 90*24*time.Hour),
	}

	// Validate required fields
	if dbPassword == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}
	if cfg.IdPJWTSecret == "" {
		return nil, fmt.Errorf("IDP_JWT_SECRET is required")
	}
	switch cfg.Orchestrator {
	case OrchestratorMock, OrchestratorKubernetes:
	default:
		return nil, fmt.Errorf("ORCHESTRATOR must be %q or %q, got %q", OrchestratorMock, OrchestratorKubernetes, cfg.Orchestrator)
	}

	return cfg, nil
}

// IsProduction reports whether the service runs with production defaults
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

func parseDuration(value string, defaultValue time.Duration) time.Duration {
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

func parseBool(value string, defaultValue bool) bool {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}
