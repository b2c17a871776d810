package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mcdev12/primegavel/go/internal/auction/engine"
	"github.com/mcdev12/primegavel/go/internal/auction/notify"
	"github.com/mcdev12/primegavel/go/internal/auction/publisher"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port            string        `yaml:"port"`
		AllowedOrigins  []string      `yaml:"allowed_origins"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	// AuctionDate pins the catalog to one auction day (YYYY-MM-DD); empty means today in UTC
	AuctionDate string `yaml:"auction_date"`

	Engine engine.Config `yaml:"engine"`

	Mailer notify.Config     `yaml:"mailer"`
	SMTP   notify.SMTPConfig `yaml:"smtp"`

	NATS struct {
		Enabled                   bool `yaml:"enabled"`
		publisher.JetStreamConfig `yaml:",inline"`
	} `yaml:"nats"`
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.Server.Port = "5000"
	cfg.Server.AllowedOrigins = []string{"*"}
	cfg.Server.ShutdownTimeout = 10 * time.Second
	cfg.Log.Level = "info"
	cfg.Engine = engine.DefaultConfig()
	cfg.Mailer = notify.DefaultConfig()
	cfg.SMTP.Port = 465
	cfg.NATS.JetStreamConfig = publisher.DefaultJetStreamConfig()
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// loadConfig reads the YAML file at path over the defaults and then applies
// environment overrides. A missing file is not an error.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyEnv(config)
	config.Engine = config.Engine.WithDefaults()
	return config, nil
}

func applyEnv(c *Config) {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.Server.AllowedOrigins = strings.Split(origins, ",")
	}
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.AuctionDate = getEnv("AUCTION_DATE", c.AuctionDate)

	c.Engine.StartThreshold = getEnvAsInt("AUCTION_START_THRESHOLD", c.Engine.StartThreshold)
	c.Engine.CountdownSeconds = getEnvAsInt("AUCTION_COUNTDOWN_SECONDS", c.Engine.CountdownSeconds)
	c.Engine.DefaultFloor = int64(getEnvAsInt("AUCTION_DEFAULT_FLOOR", int(c.Engine.DefaultFloor)))

	c.SMTP.Host = getEnv("SMTP_HOST", c.SMTP.Host)
	c.SMTP.Port = getEnvAsInt("SMTP_PORT", c.SMTP.Port)
	c.SMTP.Username = getEnv("SMTP_USER", c.SMTP.Username)
	c.SMTP.Password = getEnv("SMTP_PASSWORD", c.SMTP.Password)
	c.Mailer.DefaultSender = getEnv("MAIL_FROM", getEnv("SMTP_USER", c.Mailer.DefaultSender))

	if url := os.Getenv("NATS_URL"); url != "" {
		c.NATS.URL = url
		c.NATS.Enabled = true
	}
}

func (c *Config) logLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}
