package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	Port            string
	DatabaseURL     string
	AMQPURL         string
	AMQPExchange    string
	AuditRoutingKey string
	NotifyRouting   string
	Environment     string
	OTLPEndpoint    string
	DebugRoutes     bool
}

// Load reads configuration from the environment. A local .env file is
// applied first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", "8083"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		AMQPURL:         os.Getenv("AMQP_URL"),
		AMQPExchange:    getEnv("AMQP_EXCHANGE", "crm.events"),
		AuditRoutingKey: getEnv("AUDIT_ROUTING_KEY", "audit.messaging"),
		NotifyRouting:   getEnv("NOTIFY_ROUTING_KEY", "notifications.offline"),
		Environment:     getEnv("ENVIRONMENT", "development"),
		OTLPEndpoint:    os.Getenv("OTLP_ENDPOINT"),
		DebugRoutes:     getEnv("DEBUG_ROUTES", "false") == "true",
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
