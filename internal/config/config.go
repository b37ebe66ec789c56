package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	StoreFile  = "file"
	StoreMySQL = "mysql"
)

// Config holds all application configuration settings.
type Config struct {
	Environment string `envconfig:"ENV" default:"development"`

	HTTPPort    int           `envconfig:"HTTP_PORT" default:"8080"`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"15s"`

	DownloadWorkers int           `envconfig:"DOWNLOAD_WORKERS" default:"4"`
	MergeWorkers    int           `envconfig:"MERGE_WORKERS" default:"2"`
	InspectWorkers  int           `envconfig:"INSPECT_WORKERS" default:"2"`
	JobQueueSize    int           `envconfig:"JOB_QUEUE_SIZE" default:"100"`
	DownloadRate    float64       `envconfig:"DOWNLOAD_RATE" default:"0"`
	DownloadBurst   int           `envconfig:"DOWNLOAD_BURST" default:"1"`
	DownloadTimeout time.Duration `envconfig:"DOWNLOAD_TIMEOUT" default:"30m"`

	CommandConcurrency int           `envconfig:"COMMAND_CONCURRENCY" default:"4"`
	StopTimeout        time.Duration `envconfig:"STOP_TIMEOUT" default:"10s"`
	QueueSweepInterval time.Duration `envconfig:"QUEUE_SWEEP_INTERVAL" default:"1m"`

	EventBuffer  int `envconfig:"EVENT_BUFFER" default:"256"`
	EventWorkers int `envconfig:"EVENT_WORKERS" default:"2"`

	DownloadDir    string `envconfig:"DOWNLOAD_DIR" default:"./storage/downloads"`
	DestinationDir string `envconfig:"DESTINATION_DIR" default:"./storage/media"`
	StateFile      string `envconfig:"STATE_FILE" default:"./state.json"`

	StoreDriver string `envconfig:"STORE_DRIVER" default:"file"`
	MySQLDSN    string `envconfig:"MYSQL_DSN"`

	AllowPrivateURLs bool `envconfig:"ALLOW_PRIVATE_URLS" default:"true"`

	ProbeAttempts  int           `envconfig:"PROBE_ATTEMPTS" default:"5"`
	ProbeBaseDelay time.Duration `envconfig:"PROBE_BASE_DELAY" default:"1s"`
	ProbeMaxDelay  time.Duration `envconfig:"PROBE_MAX_DELAY" default:"30s"`
	ProbeTimeout   time.Duration `envconfig:"PROBE_TIMEOUT" default:"5s"`
	PlexToken      string        `envconfig:"PLEX_TOKEN"`
	// PlexServers lists known servers as "id=url" pairs separated by commas.
	PlexServers string `envconfig:"PLEX_SERVERS"`

	AMQPURL       string        `envconfig:"AMQP_URL"`
	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	RedisPrefix   string        `envconfig:"REDIS_PREFIX" default:"downloads"`
	RedisProbeTTL time.Duration `envconfig:"REDIS_PROBE_TTL" default:"10m"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// Validate checks the configuration for invalid or missing values.
// Returns an error describing the first invalid setting found.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	if c.DownloadWorkers <= 0 || c.MergeWorkers <= 0 || c.InspectWorkers <= 0 {
		return fmt.Errorf("worker pool sizes must be positive: download=%d merge=%d inspect=%d",
			c.DownloadWorkers, c.MergeWorkers, c.InspectWorkers)
	}

	if c.CommandConcurrency <= 0 {
		return fmt.Errorf("command concurrency must be positive: %d", c.CommandConcurrency)
	}

	if c.ProbeAttempts <= 0 {
		return fmt.Errorf("probe attempts must be positive: %d", c.ProbeAttempts)
	}

	if c.DownloadDir == "" {
		return fmt.Errorf("download directory cannot be empty")
	}
	if c.DestinationDir == "" {
		return fmt.Errorf("destination directory cannot be empty")
	}

	switch c.StoreDriver {
	case StoreFile:
		if c.StateFile == "" {
			return fmt.Errorf("state file cannot be empty")
		}
	case StoreMySQL:
		if c.MySQLDSN == "" {
			return fmt.Errorf("mysql store needs a DSN")
		}
	default:
		return fmt.Errorf("unknown store driver: %q", c.StoreDriver)
	}

	if _, err := c.Servers(); err != nil {
		return err
	}

	return nil
}

// Servers parses PlexServers into a server id to base url map.
func (c *Config) Servers() (map[int]string, error) {
	servers := make(map[int]string)
	if strings.TrimSpace(c.PlexServers) == "" {
		return servers, nil
	}
	for _, pair := range strings.Split(c.PlexServers, ",") {
		idStr, url, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return nil, fmt.Errorf("invalid server entry %q, expected id=url", pair)
		}
		id, err := strconv.Atoi(strings.TrimSpace(idStr))
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid server id in %q", pair)
		}
		servers[id] = strings.TrimSpace(url)
	}
	return servers, nil
}
