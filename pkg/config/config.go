package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries the tunables for the occupancy processor and the lost
// connection detector. Values resolve in three layers: built-in defaults,
// an optional YAML file pointed at by APCFLOW_CONFIG, then individual
// environment variable overrides.
type Config struct {
	KeyPrefix string

	StateTTL           time.Duration
	TripInfoTTL        time.Duration
	LegacyOccupancyTTL time.Duration
	LegacyCountTTL     time.Duration
	DedupTTL           time.Duration

	LostConnectionThreshold   time.Duration
	AllocationRefreshInterval time.Duration
	DetectionScanInterval     time.Duration

	StopSearchRadiusMeters int
	MaxPendingLocks        int

	EventsQueue   string
	EnrichedQueue string
}

func Defaults() Config {
	return Config{
		KeyPrefix: "",

		StateTTL:           3600 * time.Second,
		TripInfoTTL:        172800 * time.Second,
		LegacyOccupancyTTL: 5400 * time.Second,
		LegacyCountTTL:     3600 * time.Second,
		DedupTTL:           604800 * time.Second,

		LostConnectionThreshold:   300 * time.Second,
		AllocationRefreshInterval: 60 * time.Second,
		DetectionScanInterval:     10 * time.Second,

		StopSearchRadiusMeters: 200,
		MaxPendingLocks:        30000,

		EventsQueue:   "dilax-events-queue",
		EnrichedQueue: "apc-enriched-queue",
	}
}

type fileConfig struct {
	KeyPrefix *string `yaml:"keyPrefix"`

	StateTTLSeconds           *int `yaml:"stateTTLSeconds"`
	TripInfoTTLSeconds        *int `yaml:"tripInfoTTLSeconds"`
	LegacyOccupancyTTLSeconds *int `yaml:"legacyOccupancyTTLSeconds"`
	LegacyCountTTLSeconds     *int `yaml:"legacyCountTTLSeconds"`
	DedupTTLSeconds           *int `yaml:"dedupTTLSeconds"`

	LostConnectionThresholdSeconds   *int `yaml:"lostConnectionThresholdSeconds"`
	AllocationRefreshIntervalSeconds *int `yaml:"allocationRefreshIntervalSeconds"`
	DetectionScanIntervalSeconds     *int `yaml:"detectionScanIntervalSeconds"`

	StopSearchRadiusMeters *int `yaml:"stopSearchRadiusMeters"`
	MaxPendingLocks        *int `yaml:"maxPendingLocks"`

	EventsQueue   *string `yaml:"eventsQueue"`
	EnrichedQueue *string `yaml:"enrichedQueue"`
}

// Load resolves the configuration from defaults, the optional YAML file and
// environment variable overrides.
func Load() (Config, error) {
	config := Defaults()

	if path := os.Getenv("APCFLOW_CONFIG"); path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return config, err
		}

		var file fileConfig
		if err := yaml.Unmarshal(contents, &file); err != nil {
			return config, err
		}

		applyFile(&config, file)
	}

	applyEnvironment(&config)

	return config, nil
}

func applyFile(config *Config, file fileConfig) {
	if file.KeyPrefix != nil {
		config.KeyPrefix = *file.KeyPrefix
	}

	applySeconds := func(target *time.Duration, value *int) {
		if value != nil {
			*target = time.Duration(*value) * time.Second
		}
	}

	applySeconds(&config.StateTTL, file.StateTTLSeconds)
	applySeconds(&config.TripInfoTTL, file.TripInfoTTLSeconds)
	applySeconds(&config.LegacyOccupancyTTL, file.LegacyOccupancyTTLSeconds)
	applySeconds(&config.LegacyCountTTL, file.LegacyCountTTLSeconds)
	applySeconds(&config.DedupTTL, file.DedupTTLSeconds)
	applySeconds(&config.LostConnectionThreshold, file.LostConnectionThresholdSeconds)
	applySeconds(&config.AllocationRefreshInterval, file.AllocationRefreshIntervalSeconds)
	applySeconds(&config.DetectionScanInterval, file.DetectionScanIntervalSeconds)

	if file.StopSearchRadiusMeters != nil {
		config.StopSearchRadiusMeters = *file.StopSearchRadiusMeters
	}
	if file.MaxPendingLocks != nil {
		config.MaxPendingLocks = *file.MaxPendingLocks
	}
	if file.EventsQueue != nil {
		config.EventsQueue = *file.EventsQueue
	}
	if file.EnrichedQueue != nil {
		config.EnrichedQueue = *file.EnrichedQueue
	}
}

func applyEnvironment(config *Config) {
	if val := os.Getenv("APCFLOW_KEY_PREFIX"); val != "" {
		config.KeyPrefix = val
	}

	applyDuration := func(target *time.Duration, name string) {
		if val := os.Getenv(name); val != "" {
			if parsed, err := time.ParseDuration(val); err == nil {
				*target = parsed
			}
		}
	}

	applyDuration(&config.StateTTL, "APCFLOW_STATE_TTL")
	applyDuration(&config.TripInfoTTL, "APCFLOW_TRIP_INFO_TTL")
	applyDuration(&config.LostConnectionThreshold, "APCFLOW_LOST_CONNECTION_THRESHOLD")
	applyDuration(&config.AllocationRefreshInterval, "APCFLOW_ALLOCATION_REFRESH_INTERVAL")
	applyDuration(&config.DetectionScanInterval, "APCFLOW_DETECTION_SCAN_INTERVAL")

	if val := os.Getenv("APCFLOW_STOP_SEARCH_RADIUS_METERS"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			config.StopSearchRadiusMeters = parsed
		}
	}

	if val := os.Getenv("APCFLOW_MAX_PENDING_LOCKS"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			config.MaxPendingLocks = parsed
		}
	}
}
