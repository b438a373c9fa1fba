package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ServerConfig captures all tunable parameters for the tracking API and the ride
// simulator. Values come from an optional YAML file (CONFIG_FILE) and are then
// overridden by environment variables, so the binary runs locally without setup.
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// BaseURL prefixes public share links.
	BaseURL string `yaml:"base_url" validate:"required,url"`

	GeocoderURL     string        `yaml:"geocoder_url" validate:"required,url"`
	OSRMURL         string        `yaml:"osrm_url" validate:"required,url"`
	CountryFilter   string        `yaml:"country_filter"`
	AcceptLanguage  string        `yaml:"accept_language"`
	UserAgent       string        `yaml:"user_agent"`
	ProviderTimeout time.Duration `yaml:"provider_timeout" validate:"gt=0"`
	RouteCacheTTL   time.Duration `yaml:"route_cache_ttl"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisGeoKey   string `yaml:"redis_geo_key"`

	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`

	PGDSN string `yaml:"pg_dsn"`

	Timing RideTiming `yaml:"timing"`

	DefaultSpeedKmh float64 `yaml:"default_speed_kmh" validate:"gt=0"`
	DiscoveryTopN   int     `yaml:"discovery_top_n"`

	LogLevel      string `yaml:"log_level"`
	RunMigrations bool   `yaml:"run_migrations"`
}

// RideTiming holds the fixed delays of the ride lifecycle.
type RideTiming struct {
	DiscoveryDelay   time.Duration `yaml:"discovery_delay"`
	ConfirmToActive  time.Duration `yaml:"confirm_to_active"`
	AcceptToActive   time.Duration `yaml:"accept_to_active"`
	CompletedRelease time.Duration `yaml:"completed_release"`
	FirstOfferDelay  time.Duration `yaml:"first_offer_delay"`
	NextOfferDelay   time.Duration `yaml:"next_offer_delay"`
	MoveInterval     time.Duration `yaml:"move_interval"`
	MoveStepDeg      float64       `yaml:"move_step_deg"`
}

func DefaultRideTiming() RideTiming {
	return RideTiming{
		DiscoveryDelay:   2 * time.Second,
		ConfirmToActive:  3 * time.Second,
		AcceptToActive:   5 * time.Second,
		CompletedRelease: 5 * time.Second,
		FirstOfferDelay:  10 * time.Second,
		NextOfferDelay:   15 * time.Second,
		MoveInterval:     3 * time.Second,
		MoveStepDeg:      0.00025,
	}
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		BaseURL:         "http://localhost:8080",
		GeocoderURL:     "https://nominatim.openstreetmap.org",
		OSRMURL:         "https://router.project-osrm.org",
		CountryFilter:   "br",
		AcceptLanguage:  "pt-BR,pt;q=0.9",
		UserAgent:       "ride-tracking/1.0",
		ProviderTimeout: 10 * time.Second,
		RouteCacheTTL:   5 * time.Minute,
		RedisGeoKey:     "drivers_geo",
		KafkaTopic:      "ride-positions",
		Timing:          DefaultRideTiming(),
		DefaultSpeedKmh: 30,
		DiscoveryTopN:   3,
		LogLevel:        "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			errs = append(errs, err)
		}
	}

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.BaseURL, "BASE_URL")
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	setStringFromEnv(&cfg.GeocoderURL, "GEOCODER_URL")
	setStringFromEnv(&cfg.OSRMURL, "OSRM_URL")
	setStringFromEnv(&cfg.CountryFilter, "GEOCODER_COUNTRY")
	setStringFromEnv(&cfg.AcceptLanguage, "GEOCODER_LANGUAGE")
	setStringFromEnv(&cfg.UserAgent, "PROVIDER_USER_AGENT")
	setDurationFromEnv(&cfg.ProviderTimeout, "PROVIDER_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.RouteCacheTTL, "ROUTE_CACHE_TTL", &errs)

	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	setStringFromEnv(&cfg.PGDSN, "PG_DSN")

	setDurationFromEnv(&cfg.Timing.DiscoveryDelay, "RIDE_DISCOVERY_DELAY", &errs)
	setDurationFromEnv(&cfg.Timing.ConfirmToActive, "RIDE_CONFIRM_TO_ACTIVE", &errs)
	setDurationFromEnv(&cfg.Timing.AcceptToActive, "RIDE_ACCEPT_TO_ACTIVE", &errs)
	setDurationFromEnv(&cfg.Timing.CompletedRelease, "RIDE_COMPLETED_RELEASE", &errs)
	setDurationFromEnv(&cfg.Timing.FirstOfferDelay, "RIDE_FIRST_OFFER_DELAY", &errs)
	setDurationFromEnv(&cfg.Timing.NextOfferDelay, "RIDE_NEXT_OFFER_DELAY", &errs)
	setDurationFromEnv(&cfg.Timing.MoveInterval, "RIDE_MOVE_INTERVAL", &errs)
	setFloatFromEnv(&cfg.Timing.MoveStepDeg, "RIDE_MOVE_STEP_DEG", &errs)

	setFloatFromEnv(&cfg.DefaultSpeedKmh, "DISCOVERY_SPEED_KMH", &errs)
	setIntFromEnv(&cfg.DiscoveryTopN, "DISCOVERY_TOP_N", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if v := os.Getenv("MIGRATE"); v != "" {
		cfg.RunMigrations = strings.EqualFold(v, "true")
	}

	if cfg.DiscoveryTopN <= 0 {
		errs = append(errs, fmt.Errorf("DISCOVERY_TOP_N must be > 0"))
	}
	if err := validator.New().Struct(cfg); err != nil {
		errs = append(errs, fmt.Errorf("invalid config: %w", err))
	}

	return cfg, errors.Join(errs...)
}

func overlayFile(cfg *ServerConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
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
