package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Addr   string
	DBPath string

	// PropertyIDs are seeded into the property registry at startup so the
	// widget's propertyId resolves. Provisioning proper is external.
	PropertyIDs []string

	// Greeting used when a bootstrap request does not carry its own.
	Greeting string

	LLMBaseURL     string
	LLMAPIKey      string
	LLMModel       string
	ExtractRetries int
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Load reads all env vars and builds the config.
func Load() *Config {
	var properties []string
	for _, id := range strings.Split(getEnv("CHATD_PROPERTY_IDS", ""), ",") {
		if id = strings.TrimSpace(id); id != "" {
			properties = append(properties, id)
		}
	}

	return &Config{
		Addr:   getEnv("CHATD_ADDR", ":8100"),
		DBPath: getEnv("CHATD_DB_PATH", "chatd.db"),

		PropertyIDs: properties,
		Greeting:    getEnv("CHATD_GREETING", "Hi there! How can we help you today?"),

		LLMBaseURL:     getEnv("CHATD_LLM_BASE_URL", "http://localhost:11434/v1/"),
		LLMAPIKey:      getEnv("CHATD_LLM_API_KEY", ""),
		LLMModel:       getEnv("CHATD_LLM_MODEL", "llama3.1:8b"),
		ExtractRetries: getIntEnv("CHATD_EXTRACT_RETRIES", 3),
	}
}
