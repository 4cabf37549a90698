package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Store     StoreConfig     `json:"store"`
	Slack     SlackConfig     `json:"slack"`
	Redis     RedisConfig     `json:"redis"`
	JobsFile  string          `json:"jobs_file"`
}

type ServerConfig struct {
	Port         string `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
}

type SchedulerConfig struct {
	PollInterval   string `json:"poll_interval"`
	MaxConcurrent  int    `json:"max_concurrent"`
	JobTimeout     string `json:"job_timeout"`
	MaxOutputBytes int    `json:"max_output_bytes"`
	Shell          string `json:"shell"`
	Timezone       string `json:"timezone"`
}

type StoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

type SlackConfig struct {
	WebhookURL string `json:"webhook_url"`
	// NotifyOn is "failure" (default) or "all".
	NotifyOn string `json:"notify_on"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// JobSeed is a job declared in the seed file. Schedule is either a cron
// string or a calendar mapping.
type JobSeed struct {
	Name     string   `yaml:"name"`
	Commands []string `yaml:"commands"`
	Schedule any      `yaml:"schedule"`
	Enabled  *bool    `yaml:"enabled"`
}

type JobSeedFile struct {
	Jobs []JobSeed `yaml:"jobs"`
}

// Load reads the JSON config file. When the file does not exist the config is
// built from environment variables, after loading .env or .env.local.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		loadDotEnv()
		config := FromEnv()
		if err := config.Validate(); err != nil {
			return nil, err
		}
		return config, nil
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Printf("No .env or .env.local file found. Using environment variables.\n")
		}
	}
}

// FromEnv builds a config from environment variables on top of the defaults.
func FromEnv() *Config {
	d := DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", d.Server.Port),
			ReadTimeout:  getEnv("SERVER_READ_TIMEOUT", d.Server.ReadTimeout),
			WriteTimeout: getEnv("SERVER_WRITE_TIMEOUT", d.Server.WriteTimeout),
		},
		Scheduler: SchedulerConfig{
			PollInterval:   getEnv("POLL_INTERVAL", d.Scheduler.PollInterval),
			MaxConcurrent:  getEnvInt("MAX_CONCURRENT_JOBS", d.Scheduler.MaxConcurrent),
			JobTimeout:     getEnv("JOB_TIMEOUT", d.Scheduler.JobTimeout),
			MaxOutputBytes: getEnvInt("MAX_OUTPUT_BYTES", d.Scheduler.MaxOutputBytes),
			Shell:          getEnv("JOB_SHELL", d.Scheduler.Shell),
			Timezone:       getEnv("SCHEDULER_TIMEZONE", d.Scheduler.Timezone),
		},
		Store: StoreConfig{
			Driver: getEnv("STORE_DRIVER", d.Store.Driver),
			DSN:    getEnv("DATABASE_URL", d.Store.DSN),
		},
		Slack: SlackConfig{
			WebhookURL: getEnv("SLACK_WEBHOOK_URL", ""),
			NotifyOn:   getEnv("SLACK_NOTIFY_ON", d.Slack.NotifyOn),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JobsFile: getEnv("JOBS_FILE", d.JobsFile),
	}
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  "10s",
			WriteTimeout: "10s",
		},
		Scheduler: SchedulerConfig{
			PollInterval:   "30s",
			MaxConcurrent:  5,
			MaxOutputBytes: 64 * 1024,
		},
		Store: StoreConfig{
			Driver: "memory",
		},
		Slack: SlackConfig{
			NotifyOn: "failure",
		},
	}
}

func (c *Config) Validate() error {
	interval, err := c.Scheduler.PollIntervalDuration()
	if err != nil {
		return err
	}
	if interval > time.Minute {
		return fmt.Errorf("scheduler.poll_interval must be at most 1m, got %s", interval)
	}
	if c.Scheduler.MaxConcurrent < 0 {
		return fmt.Errorf("scheduler.max_concurrent must not be negative")
	}
	if _, err := c.Scheduler.JobTimeoutDuration(); err != nil {
		return err
	}
	if _, err := c.Scheduler.Location(); err != nil {
		return err
	}
	switch strings.ToLower(c.Store.Driver) {
	case "", "memory":
	case "sqlite", "sqlite3", "postgres", "postgresql":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver: %s", c.Store.Driver)
	}
	switch c.Slack.NotifyOn {
	case "", "failure", "all":
	default:
		return fmt.Errorf("slack.notify_on must be failure or all, got %q", c.Slack.NotifyOn)
	}
	return nil
}

func (s SchedulerConfig) PollIntervalDuration() (time.Duration, error) {
	return parseDuration("scheduler.poll_interval", s.PollInterval, 30*time.Second)
}

// JobTimeoutDuration returns 0 when no timeout is configured.
func (s SchedulerConfig) JobTimeoutDuration() (time.Duration, error) {
	return parseDuration("scheduler.job_timeout", s.JobTimeout, 0)
}

// Location resolves the schedule evaluation time zone; empty means local time.
func (s SchedulerConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler.timezone: %w", err)
	}
	return loc, nil
}

func (s ServerConfig) Timeouts() (read, write time.Duration, err error) {
	if read, err = parseDuration("server.read_timeout", s.ReadTimeout, 10*time.Second); err != nil {
		return 0, 0, err
	}
	if write, err = parseDuration("server.write_timeout", s.WriteTimeout, 10*time.Second); err != nil {
		return 0, 0, err
	}
	return read, write, nil
}

func parseDuration(field, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", field)
	}
	return d, nil
}

// LoadJobSeeds reads the YAML seed file. A missing file yields no seeds.
func LoadJobSeeds(path string) ([]JobSeed, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read jobs file: %w", err)
	}

	var file JobSeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse jobs file: %w", err)
	}
	for i, seed := range file.Jobs {
		if strings.TrimSpace(seed.Name) == "" {
			return nil, fmt.Errorf("jobs file entry %d: name is required", i)
		}
		if seed.Schedule == nil {
			return nil, fmt.Errorf("jobs file entry %q: schedule is required", seed.Name)
		}
	}
	return file.Jobs, nil
}

// ScheduleJSON returns the seed schedule as a raw JSON value.
func (s JobSeed) ScheduleJSON() (json.RawMessage, error) {
	raw, err := json.Marshal(s.Schedule)
	if err != nil {
		return nil, fmt.Errorf("encode schedule of %q: %w", s.Name, err)
	}
	return raw, nil
}

func (s JobSeed) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}
