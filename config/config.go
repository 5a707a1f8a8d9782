package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ListingAPI ListingAPIConfig
	Sync       SyncConfig
	Scheduler  SchedulerConfig
	Geocode    GeocodeConfig
	Images     ImageConfig
	S3         S3Config
	AMQP       AMQPConfig
	Log        LogConfig
	Feed       FeedConfig

	DatabaseURL string
	DBPath      string
	HTTPAddr    string
	ProxyURL    string
}

type ListingAPIConfig struct {
	BaseURL     string
	Resource    string
	Token       string
	Timeout     time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
	CacheTTL    time.Duration
}

type SyncConfig struct {
	BatchSize             int
	FullLimit             int
	IncrementalMaxBatches int
	PurgeGrace            time.Duration
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

type GeocodeConfig struct {
	GoogleAPIKey string
	PrimaryRPM   int
	NominatimURL string
	NominatimRPM int
	UserAgent    string
	CacheTTL     time.Duration
	BatchSize    int
	Workers      int
	MaxAttempts  int
	Interval     time.Duration
}

type ImageConfig struct {
	Sizes       []string
	PerListing  int
	MaxAttempts int
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

type AMQPConfig struct {
	URL      string
	Exchange string
}

type LogConfig struct {
	Level      string
	File       string
	FluentHost string
	FluentPort int
}

// FeedConfig holds the domain filter sets applied to every listing query.
type FeedConfig struct {
	PropertySubTypes []string `yaml:"property_sub_types"`
	Cities           []string `yaml:"cities"`
	ActiveStatuses   []string `yaml:"active_statuses"`
	ClosedStatuses   []string `yaml:"closed_statuses"`
}

const feedPath = "config/feed.yaml"

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListingAPI: ListingAPIConfig{
			BaseURL:     os.Getenv("LISTING_API_URL"),
			Resource:    getEnv("LISTING_API_RESOURCE", "Property"),
			Token:       os.Getenv("LISTING_API_TOKEN"),
			Timeout:     getEnvDuration("LISTING_API_TIMEOUT", 30*time.Second),
			MaxAttempts: getEnvInt("LISTING_API_MAX_ATTEMPTS", 3),
			RetryDelay:  getEnvDuration("LISTING_API_RETRY_DELAY", 2*time.Second),
			CacheTTL:    getEnvDuration("LISTING_CACHE_TTL", 5*time.Minute),
		},
		Sync: SyncConfig{
			BatchSize:             getEnvInt("SYNC_BATCH_SIZE", 100),
			FullLimit:             getEnvInt("SYNC_FULL_LIMIT", 0),
			IncrementalMaxBatches: getEnvInt("SYNC_INCREMENTAL_MAX_BATCHES", 10),
			PurgeGrace:            getEnvDuration("SYNC_PURGE_GRACE", 48*time.Hour),
		},
		Scheduler: SchedulerConfig{
			Cron:     os.Getenv("SYNC_CRON"),
			Interval: getEnvDuration("SYNC_INTERVAL", 0),
		},
		Geocode: GeocodeConfig{
			GoogleAPIKey: os.Getenv("GOOGLE_GEOCODING_API_KEY"),
			PrimaryRPM:   getEnvInt("GEOCODE_PRIMARY_RPM", 50),
			NominatimURL: getEnv("NOMINATIM_URL", "https://nominatim.openstreetmap.org"),
			NominatimRPM: getEnvInt("NOMINATIM_RPM", 60),
			UserAgent:    getEnv("GEOCODE_USER_AGENT", "mls_ingest/1.0"),
			CacheTTL:     getEnvDuration("GEOCODE_CACHE_TTL", 7*24*time.Hour),
			BatchSize:    getEnvInt("GEOCODE_BATCH", 25),
			Workers:      getEnvInt("GEOCODE_WORKERS", 4),
			MaxAttempts:  getEnvInt("GEOCODE_MAX_ATTEMPTS", 3),
			Interval:     getEnvDuration("GEOCODE_INTERVAL", 5*time.Minute),
		},
		Images: ImageConfig{
			Sizes:       getEnvList("IMAGE_SIZES", []string{"Large", "Medium", "Largest", "Original"}),
			PerListing:  getEnvInt("IMAGE_PER_LISTING", 40),
			MaxAttempts: getEnvInt("IMAGE_MAX_ATTEMPTS", 3),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		AMQP: AMQPConfig{
			URL:      os.Getenv("AMQP_URL"),
			Exchange: getEnv("AMQP_EXCHANGE", "listings"),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			File:       getEnv("LOG_FILE", "ingest.log"),
			FluentHost: os.Getenv("FLUENT_HOST"),
			FluentPort: getEnvInt("FLUENT_PORT", 24224),
		},
		Feed:        DefaultFeed(),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBPath:      getEnv("DB_PATH", "ingest.db"),
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		ProxyURL:    os.Getenv("PROXY_URL"),
	}

	if err := cfg.loadFeed(getEnv("FEED_CONFIG", feedPath)); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultFeed is used when no feed file exists.
func DefaultFeed() FeedConfig {
	return FeedConfig{
		ActiveStatuses: []string{"Active"},
		ClosedStatuses: []string{"Sold", "Leased"},
	}
}

func (c *Config) loadFeed(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	feed := DefaultFeed()
	if err := yaml.Unmarshal(data, &feed); err != nil {
		return err
	}
	c.Feed = feed
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
