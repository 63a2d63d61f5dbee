package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Exam struct {
		CacheTTL     string `yaml:"cacheTTL"`
		TickInterval string `yaml:"tickInterval"`
	} `yaml:"exam"`
	Import struct {
		Concurrency int `yaml:"concurrency"`
	} `yaml:"import"`
	Seed struct {
		Students []SeedStudent `yaml:"students"`
	} `yaml:"seed"`
}

// SeedStudent is a roster entry loaded at startup. Subjects lists the report-card rows to create.
type SeedStudent struct {
	ID              string   `yaml:"id"`
	Name            string   `yaml:"name"`
	AdmissionNumber string   `yaml:"admissionNumber"`
	ClassID         string   `yaml:"classId"`
	Subjects        []string `yaml:"subjects"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Duration parses a duration string or returns the fallback if empty or invalid.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	return fallback
}

// ImportConcurrency returns the configured worker bound, defaulting to 4.
func (c Config) ImportConcurrency() int {
	if c.Import.Concurrency > 0 {
		return c.Import.Concurrency
	}
	return 4
}
