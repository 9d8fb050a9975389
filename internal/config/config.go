// Package config loads the core's environment-driven configuration into a
// single immutable snapshot, handed to every component at construction
// time (spec.md §6 "Configuration").
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/veil-scan/warden/internal/model"
)

type PolicyMode string

const (
	PolicySimulate   PolicyMode = "simulate"
	PolicyRename     PolicyMode = "rename"
	PolicyQuarantine PolicyMode = "quarantine"
)

// Config is the full set of options recognized from the environment.
type Config struct {
	PolicyMode        PolicyMode
	PolicyMinSeverity model.Severity

	MaxWorkers int

	RepAPIKey               string
	RepBaseURL              string
	RepMaxRequestsPerMinute int
	RepPollIntervalS        int
	RepAnalysisTimeoutSmallS int
	RepAnalysisTimeoutLargeS int
	RepCacheTTLS            int

	StorageDBPath   string
	QuarantineDir   string
	UploadsDir      string
	SignaturesDir   string
	AnomalyModelPath string
	AnomalyModelURL  string
	AnomalyModelSHA256 string

	CORSAllowedOrigins []string
	AgentToken         string

	WatchDirs      []string
	WatchRecursive bool
	DebounceWindow time.Duration
	QueueCapacity  int
	EventBusCapacity int

	HTTPAddr string
	LogLevel string
}

// Load reads the recognized environment variables, applying conservative
// defaults matching spec.md §6/§4 for anything unset.
func Load() *Config {
	c := &Config{
		PolicyMode:        PolicyMode(getenv("POLICY_MODE", "simulate")),
		PolicyMinSeverity: model.ParseSeverity(getenv("POLICY_MIN_SEVERITY", "high")),

		MaxWorkers: getenvInt("MAX_WORKERS", 6),

		RepAPIKey:                getenv("REP_API_KEY", ""),
		RepBaseURL:               getenv("REP_BASE_URL", ""),
		RepMaxRequestsPerMinute:  getenvInt("REP_MAX_REQUESTS_PER_MINUTE", 4),
		RepPollIntervalS:         getenvInt("REP_POLL_INTERVAL_S", 5),
		RepAnalysisTimeoutSmallS: getenvInt("REP_ANALYSIS_TIMEOUT_SMALL_S", 300),
		RepAnalysisTimeoutLargeS: getenvInt("REP_ANALYSIS_TIMEOUT_LARGE_S", 600),
		RepCacheTTLS:             getenvInt("REP_CACHE_TTL_S", 0),

		StorageDBPath:      getenv("STORAGE_DB_PATH", "data/warden.db"),
		QuarantineDir:      getenv("QUARANTINE_DIR", "data/quarantine"),
		UploadsDir:         getenv("UPLOADS_DIR", "data/uploads"),
		SignaturesDir:      getenv("SIGNATURES_DIR", "data/signatures"),
		AnomalyModelPath:   getenv("ANOMALY_MODEL_PATH", "data/models/anomaly_iforest.json"),
		AnomalyModelURL:    getenv("ANOMALY_MODEL_URL", ""),
		AnomalyModelSHA256: getenv("ANOMALY_MODEL_SHA256", ""),

		AgentToken: getenv("AGENT_TOKEN", ""),

		WatchRecursive:   getenvBool("WATCH_RECURSIVE", true),
		DebounceWindow:   time.Duration(getenvInt("DEBOUNCE_MS", 250)) * time.Millisecond,
		QueueCapacity:    getenvInt("QUEUE_CAPACITY", 1000),
		EventBusCapacity: getenvInt("EVENT_BUS_CAPACITY", 2000),

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),
		LogLevel: getenv("LOG_LEVEL", "info"),
	}

	if dirs := getenv("WATCH_DIRS", ""); dirs != "" {
		c.WatchDirs = splitNonEmpty(dirs, ",")
	}
	if origins := getenv("CORS_ALLOWED_ORIGINS", "*"); origins != "" {
		c.CORSAllowedOrigins = splitNonEmpty(origins, ",")
	}

	return c
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
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

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
