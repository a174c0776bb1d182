// Package config handles service configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds settings shared by every service plus the knobs each service
// reads selectively. Unset values fall back to defaults that match a local
// single-node deployment.
type Config struct {
	Env       string
	LogLevel  string
	LogFormat string

	// Bus
	Brokers  string // comma-separated Kafka brokers
	Topic    string
	DLQTopic string

	// Shared stores
	RedisURL     string
	DatabaseURL  string // optional; example store falls back to memory
	DedupBackend string // "redis" (default) or "rocksdb"
	RocksPath    string

	// Adapters
	BTCUSDPrice  float64
	ETHUSDPrice  float64
	SOLUSDPrice  float64
	BTCAPIURLs   string // comma-separated mempool REST endpoints
	ETHRPCURLs   string // comma-separated JSON-RPC endpoints
	SOLRPCURLs   string // comma-separated JSON-RPC endpoints
	SOLWatchList string // comma-separated watched accounts

	// Intel
	SanctionsURL string
	SanctionsKey string
	AuditURL     string
	AuditKey     string
	IncidentURL  string
	IncidentKey  string

	// Trainer
	ConsumerGroup    string
	PendingTTL       time.Duration
	BatchSize        int
	MaxExamples      int
	TrainInterval    time.Duration
	MinTrainExamples int

	// Inference
	InferencePort string
	SentinelAuth  string
	ModelSeedPath string

	// Gateway
	GatewayPort       string
	SentinelURL       string
	SentinelThreshold int
	SentinelFailOpen  bool
	SettlementURL     string
	HSMSecret         string

	// Health/metrics listener for headless services
	HealthPort string
}

// Load reads configuration from the environment, loading .env first when
// present for local development.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Env:       getEnv("ENV", "development"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		Brokers:  getEnv("KAFKA_BROKERS", "127.0.0.1:9092"),
		Topic:    getEnv("TX_EVENTS_TOPIC", "tx-events"),
		DLQTopic: getEnv("TX_EVENTS_DLQ_TOPIC", "tx-events-dlq"),

		RedisURL:     getEnv("REDIS_URL", "redis://127.0.0.1:6379"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		DedupBackend: getEnv("DEDUP_BACKEND", "redis"),
		RocksPath:    getEnv("ROCKS_PATH", "./data/dedup.db"),

		BTCUSDPrice:  getEnvFloat("BTC_USD_PRICE", 30000),
		ETHUSDPrice:  getEnvFloat("ETH_USD_PRICE", 2000),
		SOLUSDPrice:  getEnvFloat("SOL_USD_PRICE", 100),
		BTCAPIURLs:   getEnv("BTC_API_URLS", "https://mempool.space/api"),
		ETHRPCURLs:   getEnv("ETH_RPC_URLS", "https://eth.llamarpc.com"),
		SOLRPCURLs:   getEnv("SOL_RPC_URLS", "https://api.mainnet-beta.solana.com"),
		SOLWatchList: getEnv("SOL_WATCH_ADDRESSES", "11111111111111111111111111111111"),

		SanctionsURL: os.Getenv("SANCTIONS_API_URL"),
		SanctionsKey: os.Getenv("SANCTIONS_API_KEY"),
		AuditURL:     os.Getenv("AUDIT_API_URL"),
		AuditKey:     os.Getenv("AUDIT_API_KEY"),
		IncidentURL:  os.Getenv("INCIDENT_API_URL"),
		IncidentKey:  os.Getenv("INCIDENT_API_KEY"),

		ConsumerGroup:    getEnv("CONSUMER_GROUP", "risk-trainer"),
		PendingTTL:       getEnvDuration("PENDING_TTL", 5*time.Minute),
		BatchSize:        getEnvInt("BATCH_SIZE", 500),
		MaxExamples:      getEnvInt("MAX_EXAMPLES", 50_000),
		TrainInterval:    getEnvDuration("TRAIN_INTERVAL", 10*time.Minute),
		MinTrainExamples: getEnvInt("MIN_TRAIN_EXAMPLES", 100),

		InferencePort: getEnv("INFERENCE_PORT", "3002"),
		SentinelAuth:  os.Getenv("SENTINEL_AUTH_TOKEN"),
		ModelSeedPath: os.Getenv("MODEL_SEED_PATH"),

		GatewayPort:       getEnv("GATEWAY_PORT", "3000"),
		SentinelURL:       getEnv("SENTINEL_URL", "http://127.0.0.1:3002"),
		SentinelThreshold: getEnvInt("SENTINEL_THRESHOLD", 850),
		SentinelFailOpen:  getEnvBool("SENTINEL_FAIL_OPEN", false),
		SettlementURL:     getEnv("BANK_BASE_URL", "http://127.0.0.1:3001"),
		HSMSecret:         os.Getenv("HSM_SHARED_SECRET"),

		HealthPort: getEnv("HEALTH_PORT", "8083"),
	}
}

// BrokerList splits the comma-separated broker string.
func (c Config) BrokerList() []string {
	return SplitList(c.Brokers)
}

// SplitList splits a comma-separated value, dropping empty entries.
func SplitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return strings.EqualFold(v, "true") || v == "1"
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
