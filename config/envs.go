package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the application's configuration values.
type Config struct {
	Port     int    // HTTP/WebSocket listen port
	TestMode bool   // bypasses oracle verification and outbound transfers

	EscrowSecretBase64 string // base64-encoded escrow signing secret
	EscrowAddress      string // public escrow account inbound stakes must credit
	HouseAccount       string // house fee destination account
	RPCEndpoint        string // external chain/payment RPC endpoint

	PostgresDSN string // proof store persistence
	RedisAddr   string // matchmaker accept-race lock, lobby cache
	RedisDB     int

	RabbitMQURL string // settlement event fan-out

	JWTSecret        string
	JWTTTLMinutes    int

	S3Bucket    string // settlement receipt archival
	S3Region    string
	S3Endpoint  string // non-empty for R2-compatible endpoints
	S3AccessKey string
	S3SecretKey string

	LobbyBroadcastIntervalSec int
	RoomTeardownGraceSec      int // grace window after a normal finish
	DisconnectTeardownGraceSec int // shorter grace window after a disconnect loss
	TurnTimerSlackMs          int // network slack added to each game's nominal turn budget
}

// Envs holds the application's configuration loaded from environment variables.
var Envs = initConfig()

// initConfig initializes and returns the application configuration.
// It loads environment variables from a .env file.
func initConfig() Config {
	if err := godotenv.Load(); err != nil {
		log.Printf("[APP] [INFO] .env file not found or could not be loaded: %v", err)
	}

	testMode := getEnvAsBoolOrDefault("TEST_MODE", true)

	cfg := Config{
		Port:     getEnvAsIntOrDefault("PORT", 8080),
		TestMode: testMode,

		EscrowSecretBase64: getEnvOrDefault("ESCROW_SECRET_BASE64", ""),
		EscrowAddress:      getEnvOrDefault("ESCROW_ADDRESS", ""),
		HouseAccount:       getEnvOrDefault("HOUSE_ACCOUNT_ADDRESS", ""),
		RPCEndpoint:        getEnvOrDefault("RPC_ENDPOINT", ""),

		PostgresDSN: getEnvOrDefault("POSTGRES_DSN", ""),
		RedisAddr:   getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisDB:     getEnvAsIntOrDefault("REDIS_DB", 0),

		RabbitMQURL: getEnvOrDefault("RABBITMQ_URL", ""),

		JWTSecret:     getEnvOrDefault("JWT_SECRET", "dev-insecure-secret"),
		JWTTTLMinutes: getEnvAsIntOrDefault("JWT_TTL_MINUTES", 60),

		S3Bucket:    getEnvOrDefault("SETTLEMENT_S3_BUCKET", ""),
		S3Region:    getEnvOrDefault("SETTLEMENT_S3_REGION", "auto"),
		S3Endpoint:  getEnvOrDefault("SETTLEMENT_S3_ENDPOINT", ""),
		S3AccessKey: getEnvOrDefault("SETTLEMENT_S3_ACCESS_KEY", ""),
		S3SecretKey: getEnvOrDefault("SETTLEMENT_S3_SECRET_KEY", ""),

		LobbyBroadcastIntervalSec:  getEnvAsIntOrDefault("LOBBY_BROADCAST_INTERVAL_SEC", 2),
		RoomTeardownGraceSec:       getEnvAsIntOrDefault("ROOM_TEARDOWN_GRACE_SEC", 5),
		DisconnectTeardownGraceSec: getEnvAsIntOrDefault("DISCONNECT_TEARDOWN_GRACE_SEC", 3),
		TurnTimerSlackMs:           getEnvAsIntOrDefault("TURN_TIMER_SLACK_MS", 500),
	}

	if !testMode {
		mustGetEnv("ESCROW_SECRET_BASE64")
		mustGetEnv("ESCROW_ADDRESS")
		mustGetEnv("HOUSE_ACCOUNT_ADDRESS")
		mustGetEnv("RPC_ENDPOINT")
	}

	return cfg
}

// mustGetEnv retrieves the value of an environment variable or logs a fatal error if not set.
func mustGetEnv(key string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		log.Fatalf("[APP] [FATAL] Environment variable %s is not set", key)
	}
	return value
}

// getEnvOrDefault returns the environment variable's value, or def if unset.
func getEnvOrDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

// getEnvAsIntOrDefault returns the environment variable parsed as an int, or def
// if unset or unparsable.
func getEnvAsIntOrDefault(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[APP] [WARN] %s is not an integer, using default %d", key, def)
		return def
	}
	return n
}

// getEnvAsBoolOrDefault returns the environment variable parsed as a bool, or
// def if unset or unparsable.
func getEnvAsBoolOrDefault(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		log.Printf("[APP] [WARN] %s is not a boolean, using default %v", key, def)
		return def
	}
}
