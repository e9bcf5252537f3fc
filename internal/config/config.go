package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures all tunable parameters for the shuttle-bot processes.
// Values are loaded from environment variables with sane defaults so the
// binaries can run locally without excessive setup.
type Config struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	PGDSN string

	// Ride lifecycle knobs.
	WaitTimerSeconds    int
	BoardedGraceSeconds int
	StopRadiusMeters    float64
	GPSDebounceSeconds  int

	// Bot gateway endpoint for the consumer's HTTP messenger.
	MessengerEndpoint string

	StripeAPIKey string

	LogLevel      string
	RunMigrations bool
}

func defaultConfig() Config {
	return Config{
		HTTPAddr:            ":8080",
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        10 * time.Second,
		IdleTimeout:         120 * time.Second,
		ShutdownTimeout:     15 * time.Second,
		KafkaTopic:          "driver-locations",
		KafkaGroup:          "shuttle-bot-consumer",
		WaitTimerSeconds:    180,
		BoardedGraceSeconds: 30,
		StopRadiusMeters:    50,
		GPSDebounceSeconds:  5,
		LogLevel:            "info",
	}
}

func Load() (Config, error) {
	cfg := defaultConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setIntFromEnv(&cfg.WaitTimerSeconds, "WAIT_TIMER_SECONDS", &errs)
	setIntFromEnv(&cfg.BoardedGraceSeconds, "BOARDED_GRACE_SECONDS", &errs)
	setFloatFromEnv(&cfg.StopRadiusMeters, "STOP_RADIUS_METERS", &errs)
	setIntFromEnv(&cfg.GPSDebounceSeconds, "GPS_DEBOUNCE_SECONDS", &errs)

	setStringFromEnv(&cfg.MessengerEndpoint, "MESSENGER_ENDPOINT")
	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.WaitTimerSeconds <= 0 {
		errs = append(errs, fmt.Errorf("WAIT_TIMER_SECONDS must be > 0"))
	}
	if cfg.BoardedGraceSeconds <= 0 {
		errs = append(errs, fmt.Errorf("BOARDED_GRACE_SECONDS must be > 0"))
	}
	if cfg.StopRadiusMeters <= 0 {
		errs = append(errs, fmt.Errorf("STOP_RADIUS_METERS must be > 0"))
	}
	if cfg.GPSDebounceSeconds < 0 {
		errs = append(errs, fmt.Errorf("GPS_DEBOUNCE_SECONDS must be >= 0"))
	}

	return cfg, errors.Join(errs...)
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

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
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
