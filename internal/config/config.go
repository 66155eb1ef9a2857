// Package config loads the YAML configuration file and applies environment
// overrides. The resulting Config is passed explicitly to constructors.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pfrederiksen/municipal-events/internal/collector"
	"github.com/pfrederiksen/municipal-events/internal/logger"
	"github.com/pfrederiksen/municipal-events/internal/schedule"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	DefaultPath = "~/.local/share/municipal-events/config.yaml"
)

type Database struct {
	Driver string `yaml:"driver"`
	// Path is the SQLite database file.
	Path string `yaml:"path"`
	// URL is the Postgres connection string.
	URL string `yaml:"url"`
}

type Scraper struct {
	UserAgent     string        `yaml:"user_agent"`
	RequestDelay  time.Duration `yaml:"request_delay"`
	Timeout       time.Duration `yaml:"timeout"`
	RespectRobots bool          `yaml:"respect_robots"`
}

type Geocoding struct {
	APIKey   string        `yaml:"api_key"`
	DryRun   bool          `yaml:"dry_run"`
	BaseURL  string        `yaml:"base_url"`
	Language string        `yaml:"language"`
	Region   string        `yaml:"region"`
	Timeout  time.Duration `yaml:"timeout"`
}

type Schedule struct {
	Days     string `yaml:"days"`
	Hour     int    `yaml:"hour"`
	Minute   int    `yaml:"minute"`
	Timezone string `yaml:"timezone"`
}

type Metrics struct {
	ListenAddress string `yaml:"listen_address"`
}

type Log struct {
	Level string `yaml:"level"`
}

type Config struct {
	Database   Database                   `yaml:"database"`
	Scraper    Scraper                    `yaml:"scraper"`
	Geocoding  Geocoding                  `yaml:"geocoding"`
	Schedule   Schedule                   `yaml:"schedule"`
	Metrics    Metrics                    `yaml:"metrics"`
	Log        Log                        `yaml:"log"`
	Collectors []collector.SelectorConfig `yaml:"collectors"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Database: Database{
			Driver: DriverSQLite,
			Path:   "~/.local/share/municipal-events/events.db",
		},
		Scraper: Scraper{
			UserAgent:    collector.DefaultUserAgent,
			RequestDelay: collector.DefaultDelay,
			Timeout:      collector.DefaultTimeout,
		},
		Geocoding: Geocoding{
			Language: "de",
			Region:   "de",
			Timeout:  10 * time.Second,
		},
		Schedule: Schedule{
			Days:     "tue,fri",
			Hour:     6,
			Minute:   0,
			Timezone: "Europe/Berlin",
		},
		Metrics: Metrics{ListenAddress: ":9109"},
		Log:     Log{Level: "INFO"},
	}
}

// Load reads path on top of the defaults and applies environment overrides.
// A missing file is not an error. An empty path only applies the
// environment.
func Load(path string) (*Config, error) {
	c := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			logger.Debug("No config file, using defaults", logger.Fields{"path": path})
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(b, c); err != nil {
				return nil, fmt.Errorf("parse yaml: %w", err)
			}
		}
	}

	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	c.fillDefaults()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// fillDefaults restores defaults for keys a file set to zero values.
func (c *Config) fillDefaults() {
	d := Default()
	if c.Database.Driver == "" {
		c.Database.Driver = d.Database.Driver
	}
	if c.Database.Path == "" {
		c.Database.Path = d.Database.Path
	}
	if c.Scraper.UserAgent == "" {
		c.Scraper.UserAgent = d.Scraper.UserAgent
	}
	if c.Scraper.Timeout <= 0 {
		c.Scraper.Timeout = d.Scraper.Timeout
	}
	if c.Geocoding.Language == "" {
		c.Geocoding.Language = d.Geocoding.Language
	}
	if c.Geocoding.Region == "" {
		c.Geocoding.Region = d.Geocoding.Region
	}
	if c.Geocoding.Timeout <= 0 {
		c.Geocoding.Timeout = d.Geocoding.Timeout
	}
	if c.Schedule.Days == "" {
		c.Schedule.Days = d.Schedule.Days
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = d.Schedule.Timezone
	}
	if c.Metrics.ListenAddress == "" {
		c.Metrics.ListenAddress = d.Metrics.ListenAddress
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("DATABASE_DRIVER", &c.Database.Driver)
	str("GOOGLE_API_KEY", &c.Geocoding.APIKey)
	str("USER_AGENT", &c.Scraper.UserAgent)
	str("SCRAPE_DAYS", &c.Schedule.Days)
	str("SCRAPE_TIMEZONE", &c.Schedule.Timezone)
	str("LOG_LEVEL", &c.Log.Level)

	// DATABASE_URL holds either a Postgres URL or an SQLite file path.
	if v, ok := lookup("DATABASE_URL"); ok && v != "" {
		if strings.HasPrefix(v, "postgres://") || strings.HasPrefix(v, "postgresql://") {
			c.Database.URL = v
			if _, set := lookup("DATABASE_DRIVER"); !set {
				c.Database.Driver = DriverPostgres
			}
		} else {
			c.Database.Path = strings.TrimPrefix(v, "sqlite://")
		}
	}

	if v, ok := lookup("GEOCODING_DRY_RUN"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("GEOCODING_DRY_RUN: %w", err)
		}
		c.Geocoding.DryRun = b
	}
	if v, ok := lookup("REQUEST_DELAY"); ok && v != "" {
		d, err := parseDelay(v)
		if err != nil {
			return fmt.Errorf("REQUEST_DELAY: %w", err)
		}
		c.Scraper.RequestDelay = d
	}
	for key, dst := range map[string]*int{
		"SCRAPE_HOUR":   &c.Schedule.Hour,
		"SCRAPE_MINUTE": &c.Schedule.Minute,
	} {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}
	return nil
}

// parseDelay accepts a Go duration ("1500ms") or plain seconds ("1.5").
func parseDelay(v string) (time.Duration, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid delay %q", v)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("invalid database driver: %q (must be sqlite or postgres)", c.Database.Driver)
	}
	if c.Scraper.RequestDelay < 0 {
		return fmt.Errorf("scraper.request_delay must not be negative")
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if _, err := c.Schedule.Cron(); err != nil {
		return err
	}
	for _, sc := range c.Collectors {
		if err := sc.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Cron returns the parsed weekly schedule.
func (s Schedule) Cron() (*schedule.Cron, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule.timezone: %w", err)
	}
	return schedule.Parse(schedule.Weekly(s.Days, s.Hour, s.Minute), loc)
}

// FetcherConfig returns the HTTP settings for collectors.
func (s Scraper) FetcherConfig() collector.FetcherConfig {
	return collector.FetcherConfig{
		UserAgent:     s.UserAgent,
		Delay:         s.RequestDelay,
		Timeout:       s.Timeout,
		RespectRobots: s.RespectRobots,
	}
}
