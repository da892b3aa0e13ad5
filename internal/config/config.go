// Package config loads application settings from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	DatabaseURL string

	JWTSecret string
	JWTExpiry time.Duration

	TurnTimeout      time.Duration
	RoomCodeLength   int
	RoomCodeAttempts int
	TargetScore      int

	ScoringAPIURL  string
	ScoringAPIKey  string
	ScoringTimeout time.Duration
	ScoreCacheTTL  time.Duration
	EnableRemote   bool

	RequestsPerMin   int
	SubmitsPerMin    int
	WSMessagesPerMin int

	DefaultElo        int
	KFactor           int
	BanDuration       time.Duration
	JoinFailureLimit  int
	ViolationLimit    int
	FarmWinsThreshold int

	AdminNicknames map[string]bool
}

// Load reads .env (if present) and builds the config from environment
// variables with development defaults.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", "duoeng.db"),

		JWTSecret: getEnv("JWT_SECRET", "change-me-in-production-min-32-bytes-key"),
		JWTExpiry: time.Duration(getEnvInt("JWT_EXP_MINUTES", 720)) * time.Minute,

		TurnTimeout:      time.Duration(getEnvInt("TURN_TIMEOUT_SECONDS", 30)) * time.Second,
		RoomCodeLength:   getEnvInt("ROOM_CODE_LENGTH", 8),
		RoomCodeAttempts: getEnvInt("ROOM_CODE_ATTEMPTS", 12),
		TargetScore:      getEnvInt("TARGET_SCORE_DEFAULT", 10),

		ScoringAPIURL:  getEnv("SCORING_API_URL", ""),
		ScoringAPIKey:  getEnv("SCORING_API_KEY", ""),
		ScoringTimeout: time.Duration(getEnvInt("SCORING_TIMEOUT_MS", 1500)) * time.Millisecond,
		ScoreCacheTTL:  time.Duration(getEnvInt("SCORE_CACHE_TTL_SECONDS", 86400)) * time.Second,
		EnableRemote:   getEnvBool("ENABLE_REMOTE_SCORING", true),

		RequestsPerMin:   getEnvInt("RATE_LIMIT_REQUESTS_PER_MIN", 60),
		SubmitsPerMin:    getEnvInt("RATE_LIMIT_SUBMITS_PER_MIN", 40),
		WSMessagesPerMin: getEnvInt("RATE_LIMIT_WS_MESSAGES_PER_MIN", 120),

		DefaultElo:        getEnvInt("DEFAULT_ELO", 1000),
		KFactor:           getEnvInt("K_FACTOR", 32),
		BanDuration:       time.Duration(getEnvInt("BAN_SECONDS", 300)) * time.Second,
		JoinFailureLimit:  getEnvInt("MAX_JOIN_FAILURES_PER_MIN", 12),
		ViolationLimit:    getEnvInt("SUSPICIOUS_ATTEMPTS_PER_MIN", 8),
		FarmWinsThreshold: getEnvInt("FARM_WINS_PER_MIN_THRESHOLD", 5),

		AdminNicknames: parseSet(getEnv("ADMIN_NICKNAMES", "admin")),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
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

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseSet(csv string) map[string]bool {
	out := make(map[string]bool)
	for _, item := range strings.Split(csv, ",") {
		item = strings.ToLower(strings.TrimSpace(item))
		if item != "" {
			out[item] = true
		}
	}
	return out
}
