package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig is everything requiem-server reads from the
// environment. Backends default to the usual local KoboldCpp ports;
// optional integrations (Postgres, MQTT, image and translation
// backends) stay off until their variable is set.
type ServerConfig struct {
	HTTPAddr string

	KoboldURL    string
	IntentURL    string
	ThoughtsURL  string
	SDURL        string
	TranslateURL string

	DBDSN            string
	MemoryFile       string
	GlobalMemoryFile string
	KnowledgeFile    string

	SystemPrompt string

	MaxWorkers      int
	HistoryWindow   int
	MaxAttempts     int
	MemoryKeep      int
	MemoryHardCap   int
	ConfidenceFloor float64
	IntentCacheTTL  time.Duration
	ChunkSize       int

	MQTTBrokerURL   string
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string
	MQTTTopicPrefix string
	AdminUsers      []string
}

func LoadServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr: getenvDefault("REQUIEM_HTTP_ADDR", ":9020"),

		KoboldURL:    strings.TrimRight(getenvDefault("KOBOLD_URL", "http://localhost:5001"), "/"),
		IntentURL:    strings.TrimRight(getenvDefault("INTENT_URL", "http://localhost:5002"), "/"),
		ThoughtsURL:  strings.TrimRight(getenvDefault("THOUGHTS_URL", "http://localhost:5003"), "/"),
		SDURL:        strings.TrimRight(os.Getenv("SD_URL"), "/"),
		TranslateURL: strings.TrimRight(os.Getenv("TRANSLATE_URL"), "/"),

		DBDSN:            os.Getenv("DB_DSN"),
		MemoryFile:       getenvDefault("MEMORY_FILE", "memory.json"),
		GlobalMemoryFile: getenvDefault("GLOBAL_MEMORY_FILE", "memory.md"),
		KnowledgeFile:    getenvDefault("KNOWLEDGE_FILE", "knowledge.json"),

		SystemPrompt: os.Getenv("SYSTEM_PROMPT"),

		MaxWorkers:      getenvIntDefault("MAX_WORKERS", 4),
		HistoryWindow:   getenvIntDefault("HISTORY_WINDOW", 20),
		MaxAttempts:     getenvIntDefault("MAX_ATTEMPTS", 2),
		MemoryKeep:      getenvIntDefault("MEMORY_KEEP", 40),
		MemoryHardCap:   getenvIntDefault("MEMORY_HARD_CAP", 200),
		ConfidenceFloor: getenvFloatDefault("INTENT_CONFIDENCE_FLOOR", 0.55),
		IntentCacheTTL:  time.Duration(getenvIntDefault("INTENT_CACHE_TTL_SECONDS", 60)) * time.Second,
		ChunkSize:       getenvIntDefault("CHUNK_SIZE", 2000),

		MQTTBrokerURL:   os.Getenv("MQTT_BROKER_URL"),
		MQTTClientID:    getenvDefault("MQTT_CLIENT_ID", "requiem-server"),
		MQTTUsername:    os.Getenv("MQTT_USERNAME"),
		MQTTPassword:    os.Getenv("MQTT_PASSWORD"),
		MQTTTopicPrefix: getenvDefault("MQTT_TOPIC_PREFIX", "requiem"),
		AdminUsers:      splitCSV(os.Getenv("ADMIN_USERS")),
	}
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenvDefault(key, val string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return val
}

func getenvIntDefault(key string, val int) int {
	v := os.Getenv(key)
	if v == "" {
		return val
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return val
	}
	return n
}

func getenvFloatDefault(key string, val float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return val
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return val
	}
	return f
}
