package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ClientConfig captures all tunable parameters for the passenger agent.
// Values are loaded from environment variables with defaults that point at a
// backend on localhost so the agent can run without extra setup.
type ClientConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	APIBaseURL    string
	APITimeout    time.Duration
	RideSocketURL string

	ReconnectMin time.Duration
	ReconnectMax time.Duration

	RoutingProvider string
	MapsAPIKey      string
	OSRMEndpoint    string
	RouteCacheTTL   time.Duration

	FareRatePerKm         float64
	CompletedDisplayDelay time.Duration

	SessionBackend   string
	SessionFile      string
	RedisAddr        string
	RedisPassword    string
	RedisSessionKey  string
	TelegramInitData string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	PGDSN string

	LogLevel string
}

const (
	RoutingGreatCircle = "haversine"
	RoutingOSRM        = "osrm"
	RoutingGoogle      = "google"

	SessionMemory = "memory"
	SessionFile   = "file"
	SessionRedis  = "redis"
)

func defaultClientConfig() ClientConfig {
	sessionFile := "session.json"
	if dir, err := os.UserConfigDir(); err == nil {
		sessionFile = filepath.Join(dir, "ride-passenger", "session.json")
	}
	return ClientConfig{
		HTTPAddr:              "127.0.0.1:8090",
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          10 * time.Second,
		IdleTimeout:           120 * time.Second,
		ShutdownTimeout:       15 * time.Second,
		APIBaseURL:            "http://localhost:5000/api",
		APITimeout:            10 * time.Second,
		RideSocketURL:         "ws://localhost:5000/ride",
		ReconnectMin:          time.Second,
		ReconnectMax:          30 * time.Second,
		RoutingProvider:       RoutingGreatCircle,
		RouteCacheTTL:         5 * time.Minute,
		FareRatePerKm:         2.5,
		CompletedDisplayDelay: 4 * time.Second,
		SessionBackend:        SessionFile,
		SessionFile:           sessionFile,
		RedisSessionKey:       "ride-passenger:session",
		KafkaTopic:            "ride-history",
		KafkaGroup:            "ride-history-consumer",
		LogLevel:              "info",
	}
}

func LoadClientConfig() (ClientConfig, error) {
	cfg := defaultClientConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.APIBaseURL, "API_BASE_URL")
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	setDurationFromEnv(&cfg.APITimeout, "API_TIMEOUT", &errs)
	setStringFromEnv(&cfg.RideSocketURL, "RIDE_SOCKET_URL")
	setDurationFromEnv(&cfg.ReconnectMin, "RIDE_SOCKET_RECONNECT_MIN", &errs)
	setDurationFromEnv(&cfg.ReconnectMax, "RIDE_SOCKET_RECONNECT_MAX", &errs)

	if v := os.Getenv("ROUTING_PROVIDER"); v != "" {
		cfg.RoutingProvider = strings.ToLower(strings.TrimSpace(v))
	}
	cfg.MapsAPIKey = os.Getenv("MAPS_API_KEY")
	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")
	setDurationFromEnv(&cfg.RouteCacheTTL, "ROUTE_CACHE_TTL", &errs)

	setFloatFromEnv(&cfg.FareRatePerKm, "FARE_RATE_PER_KM", &errs)
	setDurationFromEnv(&cfg.CompletedDisplayDelay, "COMPLETED_DISPLAY_DELAY", &errs)

	if v := os.Getenv("SESSION_BACKEND"); v != "" {
		cfg.SessionBackend = strings.ToLower(strings.TrimSpace(v))
	}
	setStringFromEnv(&cfg.SessionFile, "SESSION_FILE")
	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisSessionKey, "REDIS_SESSION_KEY")
	cfg.TelegramInitData = os.Getenv("TELEGRAM_INIT_DATA")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")

	cfg.PGDSN = os.Getenv("PG_DSN")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	errs = append(errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

func (c ClientConfig) validate() []error {
	var errs []error
	if c.FareRatePerKm < 0 {
		errs = append(errs, fmt.Errorf("FARE_RATE_PER_KM must be >= 0"))
	}
	if c.ReconnectMin <= 0 || c.ReconnectMax < c.ReconnectMin {
		errs = append(errs, fmt.Errorf("reconnect backoff bounds are invalid: min=%s max=%s", c.ReconnectMin, c.ReconnectMax))
	}
	switch c.RoutingProvider {
	case RoutingGreatCircle:
	case RoutingOSRM:
		if c.OSRMEndpoint == "" {
			errs = append(errs, fmt.Errorf("OSRM_ENDPOINT is required for ROUTING_PROVIDER=osrm"))
		}
	case RoutingGoogle:
		if c.MapsAPIKey == "" {
			errs = append(errs, fmt.Errorf("MAPS_API_KEY is required for ROUTING_PROVIDER=google"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ROUTING_PROVIDER %q", c.RoutingProvider))
	}
	switch c.SessionBackend {
	case SessionMemory, SessionFile:
	case SessionRedis:
		if c.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("REDIS_ADDR is required for SESSION_BACKEND=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SESSION_BACKEND %q", c.SessionBackend))
	}
	return errs
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
