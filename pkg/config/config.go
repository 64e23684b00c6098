package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Signing modes. "none" must be asked for explicitly; a missing key never
// silently disables authentication.
const (
	SigningHMAC = "hmac"
	SigningNone = "none"
)

type Config struct {
	Environment string `yaml:"environment" validate:"required,oneof=dev staging prod"`
	Node        struct {
		ID string `yaml:"id" validate:"required"`
	} `yaml:"node"`
	Server struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Store struct {
		Capacity    int `yaml:"capacity" default:"4096" validate:"gt=0"`
		ReadRetries int `yaml:"read_retries" default:"64" validate:"gt=0"`
	} `yaml:"store"`
	Gossip struct {
		Interval time.Duration `yaml:"interval" default:"500ms"`
		Signing  struct {
			Mode string `yaml:"mode" validate:"required,oneof=hmac none"`
			Key  string `yaml:"key"`
		} `yaml:"signing"`
	} `yaml:"gossip"`
	Transport struct {
		Type  string `yaml:"type" validate:"required,oneof=kafka redis"`
		Kafka struct {
			Brokers      []string      `yaml:"brokers"`
			Topic        string        `yaml:"topic" default:"pricemesh.gossip"`
			Compression  string        `yaml:"compression" default:"snappy"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		} `yaml:"kafka"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Channel  string `yaml:"channel" default:"pricemesh:gossip"`
		} `yaml:"redis"`
	} `yaml:"transport"`
	Log struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file, fills defaults and
// validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment
// variables.
func LoadWithEnv(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PRICEMESH_NODE_ID"); v != "" {
		c.Node.ID = v
	}
	if v := os.Getenv("PRICEMESH_SIGNING_KEY"); v != "" {
		c.Gossip.Signing.Key = v
	}
	if v := os.Getenv("PRICEMESH_TRANSPORT"); v != "" {
		c.Transport.Type = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Transport.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Transport.Kafka.Topic = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Transport.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Transport.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Transport.Redis.DB = db
		}
	}
}

// Validate checks if the configuration is valid. Signing misconfiguration
// fails here, at startup, rather than degrading to unsigned gossip.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Gossip.Signing.Mode == SigningHMAC && c.Gossip.Signing.Key == "" {
		return fmt.Errorf("gossip.signing.key is required when gossip.signing.mode is %q", SigningHMAC)
	}
	if c.Gossip.Interval <= 0 {
		return fmt.Errorf("gossip.interval must be positive, got %s", c.Gossip.Interval)
	}
	switch c.Transport.Type {
	case "kafka":
		if len(c.Transport.Kafka.Brokers) == 0 {
			return fmt.Errorf("transport.kafka.brokers cannot be empty")
		}
	case "redis":
		if c.Transport.Redis.Addr == "" {
			return fmt.Errorf("transport.redis.addr is required")
		}
	}
	return nil
}
